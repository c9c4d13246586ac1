package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/toolgateway/gatekeeper/internal/adapter/inbound/httpmetrics"
	inboundmcp "github.com/toolgateway/gatekeeper/internal/adapter/inbound/mcp"
	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/cel"
	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/jwks"
	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/memory"
	"github.com/toolgateway/gatekeeper/internal/adapter/outbound/storage"
	"github.com/toolgateway/gatekeeper/internal/config"
	"github.com/toolgateway/gatekeeper/internal/domain/audit"
	"github.com/toolgateway/gatekeeper/internal/domain/auth"
	"github.com/toolgateway/gatekeeper/internal/domain/backend"
	"github.com/toolgateway/gatekeeper/internal/domain/meter"
	"github.com/toolgateway/gatekeeper/internal/domain/policy"
	"github.com/toolgateway/gatekeeper/internal/domain/ratelimit"
	"github.com/toolgateway/gatekeeper/internal/service"
	"github.com/toolgateway/gatekeeper/internal/telemetry"
)

const (
	rateLimitCleanupInterval = time.Minute
	rateLimitMaxIdle         = 10 * time.Minute
	meterFlushInterval       = 60 * time.Second
	decisionCacheCapacity    = 4096
	httpShutdownGrace        = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway: load configuration, spawn and health-check every
configured backend, and serve the gateway's own southbound tool surface
(call, list_tools, list_servers, server_status, audit_log, audit_verify,
audit_stats, usage) over streamable HTTP, alongside a Prometheus
/metrics and /healthz endpoint.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "gatekeeper", cfg.Server.Telemetry)
	if err != nil {
		return fmt.Errorf("serve: telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	auditStore, meterStore, closeStorage, err := buildStores(cfg)
	if err != nil {
		return fmt.Errorf("serve: storage: %w", err)
	}
	defer closeStorage()

	recorder := audit.NewRecorder(auditStore)
	m := meter.New(meterStore, meterFlushInterval, logger)
	m.StartFlushing(ctx)
	defer m.Stop()

	limiter := memory.NewRateLimiter(rateLimitCleanupInterval, rateLimitMaxIdle)
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	conditions, err := cel.NewConditionEvaluator()
	if err != nil {
		return fmt.Errorf("serve: policy conditions: %w", err)
	}
	engine := policy.NewEngine(conditions, memory.NewDecisionCache(decisionCacheCapacity))
	engine.SetRules(buildPolicyRules(cfg.Policies))

	authenticator, err := buildAuthenticator(cfg, logger)
	if err != nil {
		return fmt.Errorf("serve: authenticator: %w", err)
	}

	descriptors := buildBackendDescriptors(cfg.Backends)
	supervisor := service.NewSupervisor(descriptors, logger)
	supervisor.StartAll(ctx)
	defer supervisor.StopAll(context.Background())

	rateCfg := ratelimit.Config{
		Rate:            cfg.RateLimit.Rate,
		BurstMultiplier: cfg.RateLimit.BurstMultiplier,
		Window:          time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
	}
	orchestrator := service.NewOrchestrator(supervisor, supervisor, engine, limiter, rateCfg, recorder, m, logger)

	reg := prometheus.NewRegistry()
	metrics := httpmetrics.NewMetrics(reg)
	orchestrator.SetMetrics(metrics)
	go reportGaugesPeriodically(ctx, metrics, supervisor, limiter, recorder, logger)

	mcpServer := inboundmcp.New(authenticator, supervisor, engine, orchestrator, recorder, auditStore, m, logger)

	toolSrv := &http.Server{Addr: cfg.Server.ToolAddr, Handler: mcpServer.Handler()}
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: httpmetrics.Handler(reg)}

	errCh := make(chan error, 2)
	go serveUntilShutdown(toolSrv, "tool", logger, errCh)
	go serveUntilShutdown(metricsSrv, "metrics", logger, errCh)

	logger.Info("gatekeeper started", "tool_addr", cfg.Server.ToolAddr, "metrics_addr", cfg.Server.MetricsAddr, "backends", len(descriptors))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancel()
	_ = toolSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("gatekeeper stopped")
	return nil
}

func serveUntilShutdown(srv *http.Server, name string, logger *slog.Logger, errCh chan<- error) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildStores constructs the audit and meter stores: the durable
// sqlite-backed pair when audit.storage_path is set, or isolated in-memory
// stores otherwise. The returned close func is always safe to call.
func buildStores(cfg *config.Config) (audit.Store, meter.Store, func(), error) {
	if cfg.Audit.StoragePath == "" {
		return memory.NewAuditStore(), memory.NewMeterStore(), func() {}, nil
	}
	auditStore, meterStore, err := storage.Open(cfg.Audit.StoragePath)
	if err != nil {
		return nil, nil, nil, err
	}
	return auditStore, meterStore, func() { _ = auditStore.Close() }, nil
}

// buildAuthenticator constructs the Authenticator matching cfg.Auth.Mode.
func buildAuthenticator(cfg *config.Config, logger *slog.Logger) (*auth.Authenticator, error) {
	switch auth.Mode(cfg.Auth.Mode) {
	case auth.ModeNone:
		return auth.New(auth.ModeNone, nil, logger), nil
	case auth.ModePreShared:
		store := memory.NewCredentialStore(buildCredentialRecords(cfg.Auth.Credentials))
		return auth.New(auth.ModePreShared, store, logger), nil
	case auth.ModeSignedToken:
		return auth.NewSignedToken(buildTokenConfig(cfg.Auth.Token), logger)
	case auth.ModeDiscoverySignedToken:
		client := jwks.NewClient(nil)
		return auth.NewDiscoverySignedToken(buildTokenConfig(cfg.Auth.Token), client, logger), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
	}
}

// buildCredentialRecords converts configured credentials into
// auth.CredentialRecord, hashing plaintext secrets to their SHA-256 digest
// so the credential store's by-hash fast path can find them; secrets
// already in a recognized hash format (sha256: prefix, bare hex, or a PHC
// argon2id hash) are stored verbatim.
func buildCredentialRecords(configured []config.CredentialConfig) []*auth.CredentialRecord {
	out := make([]*auth.CredentialRecord, 0, len(configured))
	for _, c := range configured {
		enabled := true
		if c.Enabled != nil {
			enabled = *c.Enabled
		}
		out = append(out, &auth.CredentialRecord{
			ID:           c.ID,
			Credential:   normalizeStoredSecret(c.Secret),
			DisplayName:  c.DisplayName,
			ConsumerID:   c.ConsumerID,
			Roles:        c.Roles,
			RateOverride: c.RateOverride,
			ExpiresAt:    c.ExpiresAt,
			Enabled:      enabled,
		})
	}
	return out
}

func normalizeStoredSecret(secret string) string {
	if looksLikeHash(secret) {
		return secret
	}
	return auth.HashSecret(secret)
}

func looksLikeHash(s string) bool {
	if len(s) >= len("$argon2id$") && s[:len("$argon2id$")] == "$argon2id$" {
		return true
	}
	if len(s) >= len("sha256:") && s[:len("sha256:")] == "sha256:" {
		return true
	}
	if len(s) == 64 {
		for _, c := range s {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
				return false
			}
		}
		return true
	}
	return false
}

func buildTokenConfig(t config.TokenConfig) auth.TokenConfig {
	return auth.TokenConfig{
		SharedSecret:        t.SharedSecret,
		PublicKeyPEM:        t.PublicKeyPEM,
		Issuer:              t.Issuer,
		Audience:            t.Audience,
		SubjectClaim:        t.SubjectClaim,
		RolesClaim:          t.RolesClaim,
		EmailClaim:          t.EmailClaim,
		DiscoveryURL:        t.DiscoveryURL,
		AllowedEmailDomains: t.AllowedEmailDomains,
	}
}

func buildPolicyRules(policies []config.PolicyConfig) []policy.Rule {
	var rules []policy.Rule
	for _, p := range policies {
		rules = append(rules, policy.Rule{
			ID:          p.ID,
			ServerMatch: p.ServerMatch,
			ToolMatch:   p.ToolMatch,
			Roles:       p.Roles,
			Conditions:  buildConditions(p.Conditions),
			Effect:      policy.Effect(p.Effect),
		})
	}
	return rules
}

func buildConditions(conditions []config.ConditionConfig) []policy.Condition {
	out := make([]policy.Condition, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, policy.Condition{
			Field:    c.Field,
			Operator: policy.Operator(c.Operator),
			Value:    c.Value,
		})
	}
	return out
}

func buildBackendDescriptors(backends []config.BackendConfig) []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(backends))
	for _, b := range backends {
		out = append(out, backend.Descriptor{
			ID:           b.ID,
			Command:      b.Command,
			Args:         b.Args,
			Env:          b.Env,
			StartTimeout: time.Duration(b.StartTimeoutSeconds) * time.Second,
			StopGrace:    time.Duration(b.StopGraceSeconds) * time.Second,
			MaxRestarts:  b.MaxRestarts,
		})
	}
	return out
}

// reportGaugesPeriodically keeps the Prometheus backend-status, rate-limit
// key count, and audit-chain-valid gauges fresh without coupling the
// orchestrator's hot path to Prometheus's pull model.
func reportGaugesPeriodically(ctx context.Context, metrics *httpmetrics.Metrics, registry backend.Registry, limiter *memory.RateLimiter, recorder *audit.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, state := range registry.States() {
				metrics.SetBackendStatus(state.Descriptor.ID, state.Status == backend.StatusRunning)
			}
			metrics.SetRateLimitKeys(limiter.Size())
			valid, _, err := recorder.VerifyIntegrity(ctx)
			if err != nil {
				logger.Warn("periodic audit verification failed", "error", err)
				continue
			}
			metrics.SetAuditChainValid(valid)
		}
	}
}
