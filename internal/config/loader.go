package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// InitViper wires up viper's search path and environment override prefix,
// following the teacher's InitViper: an explicit config file when given,
// otherwise the standard search locations, plus GATEKEEPER_-prefixed
// environment variables with "." and "-" folded to "_".
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("gatekeeper")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GATEKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{".", filepath.Join(home, ".gatekeeper"), "/etc/gatekeeper"}
	for _, dir := range paths {
		for _, ext := range []string{"yaml", "yml", "json"} {
			candidate := filepath.Join(dir, "gatekeeper."+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// Load reads, unmarshals, defaults, and validates the configuration
// document, returning a config.Config ready for the orchestrator's
// wiring. configFile may be empty to use viper's search path.
func Load(configFile string) (*Config, error) {
	InitViper(configFile)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate runs struct-tag validation followed by the cross-field checks
// that validator's tags can't express, mirroring the teacher's two-pass
// internal/config/validator.go shape.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(cfg.Policies) == 0 {
		return fmt.Errorf("config: at least one policy is required")
	}
	ids := make(map[string]bool, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if ids[p.ID] {
			return fmt.Errorf("config: duplicate policy id %q", p.ID)
		}
		ids[p.ID] = true
	}
	if err := cfg.crossFieldValidate(); err != nil {
		return err
	}
	return nil
}
