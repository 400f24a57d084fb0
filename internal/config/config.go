// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AuthConfig struct {
	// JWTSecret verifies bearer tokens minted by the auth provider.
	JWTSecret string `yaml:"jwt_secret"`
}

// BackendConfig points at the product's REST backend. When BaseURL is
// empty the gateway falls back to a direct provider (see AIConfig).
type BackendConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ServiceToken string        `yaml:"service_token"`
	Timeout      time.Duration `yaml:"timeout"` // per-attempt generation bound
}

type AIConfig struct {
	OpenAIKey    string `yaml:"openai_key"`
	GeminiKey    string `yaml:"gemini_key"`
	DefaultModel string `yaml:"default_model"`
	HistoryLimit int    `yaml:"history_limit"` // recent messages sent to the provider
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"` // empty disables the attempt audit log
}

type CacheConfig struct {
	// GlobalKeys are invalidated on every successful generation, on top
	// of the per-chat messages key.
	GlobalKeys []string `yaml:"global_keys"`
	Channel    string   `yaml:"channel"` // pub/sub channel for invalidation fan-out
}

type I18nConfig struct {
	DefaultLocale string `yaml:"default_locale"`
}

type ChatsConfig struct {
	// IdleTTL is how long a chat's orchestrator survives without use
	// before the sweep reclaims it.
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type SecurityConfig struct {
	// HistoryEncryptionKey enables at-rest encryption of cached chat
	// history when set. 16, 24 or 32 bytes.
	HistoryEncryptionKey string `yaml:"history_encryption_key"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
	Backend  BackendConfig  `yaml:"backend"`
	AI       AIConfig       `yaml:"ai"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	I18n     I18nConfig     `yaml:"i18n"`
	Chats    ChatsConfig    `yaml:"chats"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.HistoryLimit <= 0 {
		cfg.AI.HistoryLimit = 15
	}
	if cfg.Cache.Channel == "" {
		cfg.Cache.Channel = "cache.invalidate"
	}
	if cfg.I18n.DefaultLocale == "" {
		cfg.I18n.DefaultLocale = "en"
	}
	if cfg.Chats.IdleTTL <= 0 {
		cfg.Chats.IdleTTL = 30 * time.Minute
	}
	if cfg.Chats.SweepInterval <= 0 {
		cfg.Chats.SweepInterval = 5 * time.Minute
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" && !dev {
		return nil, errors.New("auth.jwt_secret is required outside dev mode")
	}
	if cfg.Backend.BaseURL == "" && cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" {
		return nil, errors.New("either backend.base_url or an ai provider key is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
