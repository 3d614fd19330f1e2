package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Config struct {
	ListenAddr  string
	StorageType string

	// DefaultRequests/DefaultWindow apply to checks that do not carry their
	// own policy override.
	DefaultRequests int
	DefaultWindow   int // seconds

	Redis RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for local development.
func Load() (*Config, error) {
	v := viper.New()
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("STORAGE_TYPE", StorageMemory)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", 60)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PASSWORD", "")
	v.AutomaticEnv()

	cfg := &Config{
		ListenAddr:      v.GetString("LISTEN_ADDR"),
		StorageType:     strings.ToLower(v.GetString("STORAGE_TYPE")),
		DefaultRequests: v.GetInt("RATE_LIMIT_REQUESTS"),
		DefaultWindow:   v.GetInt("RATE_LIMIT_WINDOW"),
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			DB:       v.GetInt("REDIS_DB"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
	}

	if cfg.DefaultRequests <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got %d", cfg.DefaultRequests)
	}
	if cfg.DefaultWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %d", cfg.DefaultWindow)
	}
	if cfg.StorageType != StorageMemory && cfg.StorageType != StorageRedis {
		return nil, fmt.Errorf("STORAGE_TYPE must be %q or %q, got %q", StorageMemory, StorageRedis, cfg.StorageType)
	}

	return cfg, nil
}
