package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the refpilot server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Directory DirectoryConfig
	Scrape    ScrapeConfig
	Resolver  ResolverConfig
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

// DirectoryConfig points at the third-party affiliate-program directory the
// extraction worker scrapes.
type DirectoryConfig struct {
	BaseURL string
}

type ScrapeConfig struct {
	// Jobs with a limit at or below SyncThreshold run synchronously inside
	// the trigger request; larger jobs detach and are polled.
	SyncThreshold int
	// NavTimeout bounds page navigation and the listing-table wait.
	NavTimeout time.Duration
	// StaleAfter is the age past which a running job is swept to error.
	// Zero disables the sweep.
	StaleAfter time.Duration
	SweepEvery time.Duration
}

type ResolverConfig struct {
	MaxHops    int
	HopTimeout time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("REFPILOT_PORT", 8080),
			Env:  envString("REFPILOT_ENV", "development"),
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
		Directory: DirectoryConfig{
			BaseURL: os.Getenv("DIRECTORY_BASE_URL"),
		},
		Scrape: ScrapeConfig{
			SyncThreshold: envInt("SCRAPE_SYNC_THRESHOLD", 50),
			NavTimeout:    envDuration("SCRAPE_NAV_TIMEOUT", 45*time.Second),
			StaleAfter:    envDuration("SCRAPE_STALE_AFTER", 30*time.Minute),
			SweepEvery:    envDuration("SCRAPE_SWEEP_EVERY", 10*time.Minute),
		},
		Resolver: ResolverConfig{
			MaxHops:    envInt("RESOLVER_MAX_HOPS", 10),
			HopTimeout: envDuration("RESOLVER_HOP_TIMEOUT", 10*time.Second),
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

	if c.Directory.BaseURL == "" {
		return fmt.Errorf("DIRECTORY_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Directory.BaseURL, "http://") && !strings.HasPrefix(c.Directory.BaseURL, "https://") {
		return fmt.Errorf("DIRECTORY_BASE_URL must start with http:// or https://, got %q", c.Directory.BaseURL)
	}

	if c.Scrape.SyncThreshold < 0 {
		return fmt.Errorf("SCRAPE_SYNC_THRESHOLD must not be negative, got %d", c.Scrape.SyncThreshold)
	}
	if c.Resolver.MaxHops <= 0 {
		return fmt.Errorf("RESOLVER_MAX_HOPS must be positive, got %d", c.Resolver.MaxHops)
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
