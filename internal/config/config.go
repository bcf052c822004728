// Package config loads and validates the process configuration: vendor
// credentials, storage root, request-log path, and logging/orchestrator
// tuning. It mirrors the teacher's internal/config.Load(path) contract —
// a YAML file read, parsed, defaulted, then validated — generalized to
// this pipeline's settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	sherr "github.com/wisplidn/caiyuangungun-go/pkg/sharedutil/errors"
)

// VendorConfig holds credentials and tuning for the upstream vendor API.
type VendorConfig struct {
	Token             string        `yaml:"token" validate:"required"`
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count" validate:"min=1,max=10"`
}

// StorageConfig points at the partitioned landing-zone root.
type StorageConfig struct {
	BaseDir string `yaml:"base_dir" validate:"required"`
}

// RequestLogConfig configures the embedded SQLite request log.
type RequestLogConfig struct {
	DBPath      string        `yaml:"db_path" validate:"required"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// OrchestratorConfig tunes run behavior shared by backfill/update/
// quality_check modes.
type OrchestratorConfig struct {
	MaxConcurrentAssets int  `yaml:"max_concurrent_assets" validate:"min=1"`
	RunQualityCheck     bool `yaml:"run_quality_check_after"`
}

// LoggingConfig controls logrus formatting.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Config is the top-level process configuration.
type Config struct {
	Vendor       VendorConfig       `yaml:"vendor"`
	Storage      StorageConfig      `yaml:"storage"`
	RequestLog   RequestLogConfig   `yaml:"request_log"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
	ManifestPath string             `yaml:"manifest_path" validate:"required"`
}

// defaults applies the same fallback values the teacher's config layer
// uses for omitted fields (spec §2.3): a config file only needs to name
// what differs from these.
func defaults() Config {
	return Config{
		Vendor: VendorConfig{
			RequestsPerMinute: 80,
			Timeout:           30 * time.Second,
			RetryCount:        3,
		},
		RequestLog: RequestLogConfig{
			BusyTimeout: 5 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentAssets: 4,
			RunQualityCheck:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path, applies defaults to unset fields, overrides from
// environment variables, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, sherr.FailedToWithDetails("validate config", "config", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments override secrets and
// tuning without editing the checked-in YAML (spec §2.3: DATA_PATH,
// TUSHARE_TOKEN, MAX_REQUESTS_PER_MINUTE).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.Vendor.Token = v
	}
	if v := os.Getenv("DATA_PATH"); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := os.Getenv("MAX_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vendor.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("REQUEST_LOG_DB_PATH"); v != "" {
		cfg.RequestLog.DBPath = v
	}
}

var validatorInstance = validator.New()

func validateConfig(cfg *Config) error {
	return validatorInstance.Struct(cfg)
}
