// Package config loads daemon configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the daemon needs at startup.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	Database struct {
		// Driver is sqlite or postgres.
		Driver string `yaml:"driver"`
		// Path is the sqlite file path.
		Path string `yaml:"path"`
		// DSN is the postgres connection string.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// ManagerEmails lists the office-manager allow-list.
		ManagerEmails []string `yaml:"manager_emails"`
	} `yaml:"auth"`

	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`

	Cache struct {
		MaxEntries int `yaml:"max_entries"`
	} `yaml:"cache"`

	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		ListenAddr:    "127.0.0.1:8970",
		SweepInterval: time.Minute,
	}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "taskdesk.db"
	cfg.Cache.MaxEntries = 1000
	return cfg
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKDESK_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TASKDESK_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("TASKDESK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TASKDESK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TASKDESK_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("TASKDESK_MANAGER_EMAILS"); v != "" {
		cfg.Auth.ManagerEmails = splitList(v)
	}
	if v := os.Getenv("TASKDESK_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("TASKDESK_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = port
		}
	}
	if v := os.Getenv("TASKDESK_SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("TASKDESK_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("TASKDESK_SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("TASKDESK_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SweepInterval = d
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q (want sqlite or postgres)", c.Database.Driver)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}
	return nil
}

// JWTSecretOrDev returns the configured secret, falling back to a fixed
// development secret with a warning from the caller.
func (c *Config) JWTSecretOrDev() (string, bool) {
	if c.Auth.JWTSecret != "" {
		return c.Auth.JWTSecret, true
	}
	return "taskdesk-dev-secret", false
}
