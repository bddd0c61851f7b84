package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server exposing HITL review and health
// endpoints.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls deliberation/audit/dead-letter persistence.
// Driver "memory" uses infrastructure/state.MemoryBackend; "postgres" uses
// infrastructure/state.PostgresBackend.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"DATABASE_DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// PolicyConfig controls the C4 policy client's upstream.
type PolicyConfig struct {
	EngineURL          string `json:"engine_url" yaml:"engine_url" env:"POLICY_ENGINE_URL"`
	CacheSize          int    `json:"cache_size" yaml:"cache_size" env:"POLICY_CACHE_SIZE"`
	FailOpen           bool   `json:"fail_open" yaml:"fail_open" env:"POLICY_FAIL_OPEN"`
	ConstitutionalHash string `json:"constitutional_hash" yaml:"constitutional_hash" env:"POLICY_CONSTITUTIONAL_HASH"`
}

// HealthConfig controls the C6 aggregator's host-pressure sampling.
type HealthConfig struct {
	HostWatermark float64 `json:"host_watermark" yaml:"host_watermark" env:"HEALTH_HOST_WATERMARK"`
}

// SchedulerConfig controls the periodic maintenance cron schedules.
type SchedulerConfig struct {
	ExpireOverdueCron string `json:"expire_overdue_cron" yaml:"expire_overdue_cron" env:"SCHEDULER_EXPIRE_OVERDUE_CRON"`
}

// ChaosConfig controls the C16 injector.
type ChaosConfig struct {
	Mode string `json:"mode" yaml:"mode" env:"CHAOS_MODE"`
	Seed int64  `json:"seed" yaml:"seed" env:"CHAOS_SEED"`
}

// VotingConfig controls the C9 voting service's signature verification.
type VotingConfig struct {
	// SignatureSecret seeds the HKDF-SHA256 derivation of each critic agent's
	// per-agent HMAC key (governance/voting.HKDFSignatureVerifier). Empty
	// disables signature verification, accepting any signature string — the
	// default for local/dev runs with no PKI in front of the critic agents.
	SignatureSecret string `json:"signature_secret" yaml:"signature_secret" env:"VOTING_SIGNATURE_SECRET"`
}

// Config is the top-level agentbusd configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Policy    PolicyConfig    `json:"policy" yaml:"policy"`
	Health    HealthConfig    `json:"health" yaml:"health"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Chaos     ChaosConfig     `json:"chaos" yaml:"chaos"`
	Voting    VotingConfig    `json:"voting" yaml:"voting"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Policy: PolicyConfig{
			CacheSize:          4096,
			FailOpen:           false,
			ConstitutionalHash: "0000000000000000",
		},
		Health: HealthConfig{HostWatermark: 0.90},
		Scheduler: SchedulerConfig{
			ExpireOverdueCron: "*/30 * * * * *",
		},
		Chaos: ChaosConfig{Mode: "disabled"},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// config file, then environment variable overrides, in that priority order
// (later sources win).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/agentbusd.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when none of the tagged fields were overridden;
		// treat that as "no env overrides" so local runs work without
		// exporting anything.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
		cfg.Database.Driver = "postgres"
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
