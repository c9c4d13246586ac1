// Package config loads and validates the gateway's YAML configuration,
// following the teacher's internal/config package: spf13/viper for
// loading and environment overrides, go-playground/validator/v10 for
// struct-tag and cross-field validation. The configuration is loaded once
// at startup; this package has no hot-reload.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth" validate:"required"`
	Backends  []BackendConfig  `mapstructure:"backends" validate:"dive"`
	Policies  []PolicyConfig   `mapstructure:"policies" validate:"dive"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Audit     AuditConfig      `mapstructure:"audit"`
	DevMode   bool             `mapstructure:"dev_mode"`
}

// ServerConfig configures the gateway's own listening surfaces.
type ServerConfig struct {
	// ToolAddr is the address the southbound MCP tool server listens on.
	ToolAddr string `mapstructure:"tool_addr"`
	// MetricsAddr is the address the Prometheus/health HTTP server listens on.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// Telemetry enables the stdout OpenTelemetry trace/metric exporters.
	Telemetry bool `mapstructure:"telemetry"`
}

// AuthConfig configures the authenticator.
type AuthConfig struct {
	// Mode is one of none, pre-shared, signed-token, discovery-signed-token.
	Mode string `mapstructure:"mode" validate:"required,oneof=none pre-shared signed-token discovery-signed-token"`
	// Credentials configures pre-shared mode.
	Credentials []CredentialConfig `mapstructure:"credentials" validate:"dive"`
	// Token configures the two signed-token modes.
	Token TokenConfig `mapstructure:"token"`
}

// CredentialConfig is one pre-shared credential entry.
type CredentialConfig struct {
	ID           string            `mapstructure:"id" validate:"required"`
	Secret       string            `mapstructure:"secret" validate:"required"`
	DisplayName  string            `mapstructure:"display_name"`
	ConsumerID   string            `mapstructure:"consumer_id" validate:"required"`
	Roles        []string          `mapstructure:"roles"`
	RateOverride *int              `mapstructure:"rate_override"`
	ExpiresAt    *time.Time        `mapstructure:"expires_at"`
	Enabled      *bool             `mapstructure:"enabled"`
	Metadata     map[string]string `mapstructure:"metadata"`
}

// TokenConfig configures signed-token and discovery-signed-token auth.
type TokenConfig struct {
	SharedSecret        string   `mapstructure:"shared_secret"`
	PublicKeyPEM        string   `mapstructure:"public_key_pem"`
	Issuer              string   `mapstructure:"issuer"`
	Audience            string   `mapstructure:"audience"`
	SubjectClaim        string   `mapstructure:"subject_claim"`
	RolesClaim          string   `mapstructure:"roles_claim"`
	EmailClaim          string   `mapstructure:"email_claim"`
	DiscoveryURL        string   `mapstructure:"discovery_url"`
	AllowedEmailDomains []string `mapstructure:"allowed_email_domains"`
}

// BackendConfig is one tool-providing backend process.
type BackendConfig struct {
	ID                  string            `mapstructure:"id" validate:"required"`
	Command             string            `mapstructure:"command" validate:"required"`
	Args                []string          `mapstructure:"args"`
	Env                 map[string]string `mapstructure:"env"`
	StartTimeoutSeconds int               `mapstructure:"start_timeout_seconds"`
	StopGraceSeconds    int               `mapstructure:"stop_grace_seconds"`
	MaxRestarts         int               `mapstructure:"max_restarts"`
}

// PolicyConfig is one RBAC rule.
type PolicyConfig struct {
	ID          string            `mapstructure:"id" validate:"required"`
	ServerMatch string            `mapstructure:"server_match" validate:"required"`
	ToolMatch   string            `mapstructure:"tool_match" validate:"required"`
	Roles       []string          `mapstructure:"roles"`
	Conditions  []ConditionConfig `mapstructure:"conditions" validate:"dive"`
	Effect      string            `mapstructure:"effect" validate:"required,oneof=allow deny"`
}

// ConditionConfig is one argument condition on a PolicyConfig.
type ConditionConfig struct {
	Field    string      `mapstructure:"field" validate:"required"`
	Operator string      `mapstructure:"operator" validate:"required,oneof=eq neq in regex"`
	Value    interface{} `mapstructure:"value"`
}

// RateLimitConfig configures the default rate limit applied to every
// caller unless overridden by their credential.
type RateLimitConfig struct {
	Rate            int     `mapstructure:"rate"`
	BurstMultiplier float64 `mapstructure:"burst_multiplier"`
	WindowSeconds   int     `mapstructure:"window_seconds"`
}

// AuditConfig configures durable storage for the audit log and meter.
type AuditConfig struct {
	// StoragePath is a sqlite database file path. Empty means in-memory
	// only (state does not survive a restart).
	StoragePath string `mapstructure:"storage_path"`
}

// SetDefaults fills in zero-valued optional fields.
func (c *Config) SetDefaults() {
	if c.Server.ToolAddr == "" {
		c.Server.ToolAddr = ":8642"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9642"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = 60
	}
	if c.RateLimit.BurstMultiplier == 0 {
		c.RateLimit.BurstMultiplier = 2
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 60
	}
	for i := range c.Backends {
		if c.Backends[i].StartTimeoutSeconds == 0 {
			c.Backends[i].StartTimeoutSeconds = 10
		}
		if c.Backends[i].StopGraceSeconds == 0 {
			c.Backends[i].StopGraceSeconds = 5
		}
	}
	for i := range c.Auth.Credentials {
		if c.Auth.Credentials[i].Enabled == nil {
			enabled := true
			c.Auth.Credentials[i].Enabled = &enabled
		}
	}
}

// crossFieldValidate checks constraints validator struct tags can't express.
func (c *Config) crossFieldValidate() error {
	if c.Auth.Mode == "pre-shared" && len(c.Auth.Credentials) == 0 {
		return fmt.Errorf("config: auth.mode is pre-shared but no credentials are configured")
	}
	if (c.Auth.Mode == "signed-token") && c.Auth.Token.SharedSecret == "" && c.Auth.Token.PublicKeyPEM == "" {
		return fmt.Errorf("config: auth.mode is signed-token but neither token.shared_secret nor token.public_key_pem is set")
	}
	if c.Auth.Mode == "discovery-signed-token" && c.Auth.Token.Issuer == "" && c.Auth.Token.DiscoveryURL == "" {
		return fmt.Errorf("config: auth.mode is discovery-signed-token but neither token.issuer nor token.discovery_url is set")
	}

	ids := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if ids[b.ID] {
			return fmt.Errorf("config: duplicate backend id %q", b.ID)
		}
		ids[b.ID] = true
	}
	return nil
}
