package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen   = ":8087"
	defaultAuditDSN = "file:positiond-audit.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	envPrefix       = "POSITIOND_"
)

// Config captures the runtime settings of the position daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"environment"`
	ProtocolPath  string          `yaml:"protocol"`
	DataDir       string          `yaml:"data_dir"`
	StoreBackend  string          `yaml:"store"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Audit         AuditConfig     `yaml:"audit"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	CORS          CORSConfig      `yaml:"cors"`
}

// AuthConfig configures bearer token verification. The token subject is the
// caller's address.
type AuthConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AuditConfig selects the database audit records are indexed into.
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads the YAML configuration from disk, applies POSITIOND_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN":        &cfg.ListenAddress,
		"ENV":           &cfg.Environment,
		"PROTOCOL":      &cfg.ProtocolPath,
		"DATA_DIR":      &cfg.DataDir,
		"STORE":         &cfg.StoreBackend,
		"JWT_SECRET":    &cfg.Auth.HMACSecret,
		"JWT_ISSUER":    &cfg.Auth.Issuer,
		"AUDIT_DRIVER":  &cfg.Audit.Driver,
		"AUDIT_DSN":     &cfg.Audit.DSN,
		"LOG_FILE":      &cfg.Logging.File,
		"OTLP_ENDPOINT": &cfg.Telemetry.Endpoint,
	}
	for name, field := range strs {
		if value, ok := lookup(envPrefix + name); ok {
			*field = value
		}
	}
	if value, ok := lookup(envPrefix + "RATE_LIMIT_RPM"); ok {
		rpm, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPM: %w", envPrefix, err)
		}
		cfg.RateLimit.RequestsPerMinute = rpm
	}
	if value, ok := lookup(envPrefix + "TRACES"); ok {
		enabled, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%sTRACES: %w", envPrefix, err)
		}
		cfg.Telemetry.Traces = enabled
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	cfg.ProtocolPath = strings.TrimSpace(cfg.ProtocolPath)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "leveldb"
	}
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 10
	}
	cfg.Audit.Driver = strings.ToLower(strings.TrimSpace(cfg.Audit.Driver))
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	cfg.Audit.DSN = strings.TrimSpace(cfg.Audit.DSN)
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = defaultAuditDSN
	}
}

func (cfg *Config) validate() error {
	if cfg.ProtocolPath == "" {
		return fmt.Errorf("protocol config path required")
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required")
	}
	switch cfg.StoreBackend {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("store: unsupported backend %q", cfg.StoreBackend)
	}
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit: unsupported driver %q", cfg.Audit.Driver)
	}
	if cfg.Audit.DSN == "" {
		return fmt.Errorf("audit: dsn required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}
