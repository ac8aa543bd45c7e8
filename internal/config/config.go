// Package config loads the API server configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Auth      AuthConfig      `yaml:"auth"`
	Solver    SolverConfig    `yaml:"solver"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type DatabaseConfig struct {
	URL           string `yaml:"url"` // empty selects the in-memory store
	Migrate       bool   `yaml:"migrate"`
	MigrationsDir string `yaml:"migrationsDir"`
}

type RedisConfig struct {
	URL           string `yaml:"url"` // empty selects the in-process broker
	ChannelPrefix string `yaml:"channelPrefix"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"` // 0 disables limiting
	Burst int     `yaml:"burst"`
}

type WebhookConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
	BatchSize    int           `yaml:"batchSize"`
}

type AuthConfig struct {
	Mode        string `yaml:"mode"` // dev, hmac or jwks
	HMACSecret  string `yaml:"hmacSecret"`
	JWKSURL     string `yaml:"jwksUrl"`
	TenantClaim string `yaml:"tenantClaim"`
	RoleClaim   string `yaml:"roleClaim"`
}

// SolverConfig holds server-wide solver defaults and caps.
type SolverConfig struct {
	TimeLimit     time.Duration `yaml:"timeLimit"`
	MaxTimeLimit  time.Duration `yaml:"maxTimeLimit"`
	MaxIterations int           `yaml:"maxIterations"`
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batchSize"`
	// MaxConcurrent bounds solves running at once; further async requests queue.
	MaxConcurrent int `yaml:"maxConcurrent"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Migrate: true, MigrationsDir: "db/migrations"},
		Redis:    RedisConfig{ChannelPrefix: "fleetroute:runs:"},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Webhooks: WebhookConfig{
			MaxAttempts:  10,
			PollInterval: time.Second,
			Timeout:      5 * time.Second,
			BatchSize:    50,
		},
		Auth: AuthConfig{Mode: "dev", TenantClaim: "tenant", RoleClaim: "role"},
		Solver: SolverConfig{
			TimeLimit:     10 * time.Second,
			MaxTimeLimit:  5 * time.Minute,
			Workers:       1,
			BatchSize:     256,
			MaxConcurrent: 4,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result. Unknown YAML keys are
// rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("AUTH_MODE", &c.Auth.Mode)
	str("AUTH_HMAC_SECRET", &c.Auth.HMACSecret)
	str("AUTH_JWKS_URL", &c.Auth.JWKSURL)
	if v, ok := lookup("DB_MIGRATE"); ok && v != "" {
		c.Database.Migrate = v != "false"
	}
	if v, ok := lookup("RATE_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		c.RateLimit.RPS = f
	}
	for key, dst := range map[string]*int{
		"PORT":                  &c.Server.Port,
		"RATE_BURST":            &c.RateLimit.Burst,
		"WEBHOOK_MAX_ATTEMPTS":  &c.Webhooks.MaxAttempts,
		"SOLVER_WORKERS":        &c.Solver.Workers,
		"SOLVER_MAX_CONCURRENT": &c.Solver.MaxConcurrent,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return dur("SOLVER_TIME_LIMIT", &c.Solver.TimeLimit)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}
	if c.RateLimit.RPS < 0 || (c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rateLimit: rps %.2f with burst %d", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhooks.maxAttempts must be positive, got %d", c.Webhooks.MaxAttempts)
	}
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("auth.hmacSecret is required in hmac mode")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return fmt.Errorf("auth.jwksUrl is required in jwks mode")
		}
	default:
		return fmt.Errorf("auth.mode %q is not dev, hmac or jwks", c.Auth.Mode)
	}
	if c.Solver.TimeLimit < 0 || c.Solver.MaxTimeLimit < 0 || c.Solver.MaxIterations < 0 || c.Solver.Workers < 0 || c.Solver.BatchSize < 0 {
		return fmt.Errorf("solver: negative limit")
	}
	if c.Solver.MaxConcurrent <= 0 {
		return fmt.Errorf("solver.maxConcurrent must be positive, got %d", c.Solver.MaxConcurrent)
	}
	return nil
}

// ConfigureLogger applies the log section to the standard logrus logger.
func (c LogConfig) ConfigureLogger() error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
