// Package config resolves console settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath        = "CONSOLE_CONFIG"
	EnvAPIYAMLPath       = "API_YAML_PATH"
	EnvUniAPIURL         = "UNI_API_URL"
	EnvDBConnection      = "DB_CONNECTION"
	EnvListen            = "CONSOLE_LISTEN"
	EnvLogLevel          = "LOG_LEVEL"
	EnvRateLimit         = "RATE_LIMIT"
	EnvRateLimitRedis    = "RATE_LIMIT_REDIS_ADDR"
	EnvRateLimitPassword = "RATE_LIMIT_REDIS_PASSWORD"
	EnvRateLimitRedisDB  = "RATE_LIMIT_REDIS_DB"
)

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultConfigPath   = "./console.yaml"
	DefaultAPIYAMLPath  = "uni-api/api.yaml"
	DefaultUniAPIURL    = "http://localhost:8000"
	DefaultDBConnection = "file:data/stats.db"
	DefaultListen       = ":3000"
	DefaultLogLevel     = "info"
)

// RateLimitConfig holds the per-credential limiter settings.
type RateLimitConfig struct {
	Limit         int    `yaml:"limit"` // Requests per second; 0 disables.
	RedisAddr     string `yaml:"redis-addr"`
	RedisPassword string `yaml:"redis-password"`
	RedisDB       int    `yaml:"redis-db"`
}

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath   string          `yaml:"-"`
	APIYAMLPath  string          `yaml:"api-yaml-path"`
	UniAPIURL    string          `yaml:"uni-api-url"`
	DBConnection string          `yaml:"db-connection"`
	Listen       string          `yaml:"listen"`
	LogLevel     string          `yaml:"log-level"`
	RateLimit    RateLimitConfig `yaml:"rate-limit"`
}

// Defaults returns an AppConfig with every default applied.
func Defaults() AppConfig {
	return AppConfig{
		ConfigPath:   ResolveConfigPath(""),
		APIYAMLPath:  DefaultAPIYAMLPath,
		UniAPIURL:    DefaultUniAPIURL,
		DBConnection: DefaultDBConnection,
		Listen:       DefaultListen,
		LogLevel:     DefaultLogLevel,
	}
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if errLoad := godotenv.Load(path); errLoad != nil {
			if errors.Is(errLoad, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, errLoad)
		}
	}
	return nil
}

// LoadFromEnv resolves the config path from CONSOLE_CONFIG and loads it.
func LoadFromEnv() (AppConfig, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load applies defaults, then the YAML file at configPath if it exists, then
// environment overrides.
func Load(configPath string) (AppConfig, error) {
	cfg := Defaults()
	cfg.ConfigPath = ResolveConfigPath(configPath)

	data, errRead := os.ReadFile(cfg.ConfigPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
		log.WithField("path", cfg.ConfigPath).Debug("config: no console settings file, using defaults and environment")
	default:
		return AppConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if errEnv := applyEnv(&cfg); errEnv != nil {
		return AppConfig{}, errEnv
	}
	cfg.fillBlanks()
	return cfg, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = DefaultConfigPath
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

func applyEnv(cfg *AppConfig) error {
	setString := func(key string, dst *string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*dst = value
		}
	}
	setString(EnvAPIYAMLPath, &cfg.APIYAMLPath)
	setString(EnvUniAPIURL, &cfg.UniAPIURL)
	setString(EnvDBConnection, &cfg.DBConnection)
	setString(EnvListen, &cfg.Listen)
	setString(EnvLogLevel, &cfg.LogLevel)
	setString(EnvRateLimitRedis, &cfg.RateLimit.RedisAddr)
	setString(EnvRateLimitPassword, &cfg.RateLimit.RedisPassword)

	for key, dst := range map[string]*int{
		EnvRateLimit:        &cfg.RateLimit.Limit,
		EnvRateLimitRedisDB: &cfg.RateLimit.RedisDB,
	} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		value, errParse := strconv.Atoi(raw)
		if errParse != nil || value < 0 {
			return fmt.Errorf("invalid %s %q: expected a non-negative integer", key, raw)
		}
		*dst = value
	}
	return nil
}

// fillBlanks restores defaults for values the file set to empty strings.
func (c *AppConfig) fillBlanks() {
	defaults := Defaults()
	type fallback struct {
		dst *string
		def string
	}
	for _, pair := range []fallback{
		{&c.APIYAMLPath, defaults.APIYAMLPath},
		{&c.UniAPIURL, defaults.UniAPIURL},
		{&c.DBConnection, defaults.DBConnection},
		{&c.Listen, defaults.Listen},
		{&c.LogLevel, defaults.LogLevel},
	} {
		if strings.TrimSpace(*pair.dst) == "" {
			*pair.dst = pair.def
		}
	}
	c.UniAPIURL = strings.TrimRight(c.UniAPIURL, "/")
}

// ParseLogLevel returns the logrus level for the configured name, falling back to info.
func (c AppConfig) ParseLogLevel() log.Level {
	level, errParse := log.ParseLevel(strings.TrimSpace(c.LogLevel))
	if errParse != nil {
		return log.InfoLevel
	}
	return level
}
