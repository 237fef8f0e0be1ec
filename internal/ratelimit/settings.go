package ratelimit

import "strings"

// DefaultRedisPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisPrefix = "gatewayconsole:rl"

// SettingsConfig captures the limiter settings. A Limit of zero disables limiting.
type SettingsConfig struct {
	Limit         int // Requests per second per credential.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Normalize trims fields, enables Redis when an address is set and fills defaults.
func (c SettingsConfig) Normalize() SettingsConfig {
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	c.RedisPassword = strings.TrimSpace(c.RedisPassword)
	c.RedisPrefix = strings.TrimSpace(c.RedisPrefix)
	if c.RedisPrefix == "" {
		c.RedisPrefix = DefaultRedisPrefix
	}
	if c.Limit < 0 {
		c.Limit = 0
	}
	if c.RedisDB < 0 {
		c.RedisDB = 0
	}
	c.RedisEnabled = c.RedisAddr != ""
	return c
}

// StaticSettings returns a provider that always yields cfg.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	cfg = cfg.Normalize()
	return func() SettingsConfig { return cfg }
}
