package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Trialbench server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Planner  PlannerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ProviderConfig struct {
	CacheTTL time.Duration
}

type PlannerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TRIALBENCH_PORT", 8080),
			Env:  envString("TRIALBENCH_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Provider: ProviderConfig{
			CacheTTL: envDuration("PROVIDER_CACHE_TTL", 5*time.Minute),
		},
		Planner: PlannerConfig{
			BaseURL: os.Getenv("PLANNER_BASE_URL"),
			Timeout: envDuration("PLANNER_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Provider.CacheTTL <= 0 {
		return fmt.Errorf("PROVIDER_CACHE_TTL must be positive, got %s", c.Provider.CacheTTL)
	}
	if c.Planner.BaseURL == "" {
		return fmt.Errorf("PLANNER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Planner.BaseURL, "http://") && !strings.HasPrefix(c.Planner.BaseURL, "https://") {
		return fmt.Errorf("PLANNER_BASE_URL must start with http:// or https://, got %q", c.Planner.BaseURL)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
