// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the proxy.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Accounts  AccountsConfig  `koanf:"accounts"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Signature SignatureConfig `koanf:"signature"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	Models    ModelsConfig    `koanf:"models"`
}

// ServerConfig holds the inbound HTTP listener's settings.
type ServerConfig struct {
	ListenAddr   string        `koanf:"listen_addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// AccountsConfig points at the on-disk account store (§6): a directory
// holding one JSON file per OAuth-authenticated account.
type AccountsConfig struct {
	Dir string `koanf:"dir"`
}

// UpstreamConfig addresses the Gemini-shape endpoint the core's
// UpstreamClient calls.
type UpstreamConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// SignatureConfig configures the thought-signature cache (component B).
// RedisAddr is left empty to use the in-memory sharded map; set it to back
// the cache with Redis for multi-replica deployments.
type SignatureConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	RedisAddr string        `koanf:"redis_addr"`
}

// RefreshConfig configures the Token Refresher background task
// (component I).
type RefreshConfig struct {
	Interval time.Duration `koanf:"interval"`
	Ahead    time.Duration `koanf:"ahead"`
}

// ModelsConfig carries the operator-supplied custom model-name overrides
// consumed by the Model Mapper (component C) ahead of its built-in
// passthrough/alias/fuzzy tables.
type ModelsConfig struct {
	Map map[string]string `koanf:"map"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config. A missing path is
// not an error: defaultConfig still applies, matching the proxy's
// "refuse to serve only on ConfigError" startup contract (§7) — an absent
// account directory is caught later by TokenManager.Load, not here.
func Load(path string) (*Config, error) {
	// .env is optional — OAuth client secrets and the like are commonly
	// supplied this way in development.
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	}

	// PROXY_SERVER_LISTEN_ADDR -> server.listen_addr
	if err := k.Load(env.Provider("PROXY_", ".", func(s string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(s, "PROXY_")),
			"_", ".", 1,
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Accounts.Dir = expandEnv(cfg.Accounts.Dir)
	cfg.Upstream.BaseURL = expandEnv(cfg.Upstream.BaseURL)
	cfg.Signature.RedisAddr = expandEnv(cfg.Signature.RedisAddr)

	return &cfg, nil
}

// defaultConfig is the zero-configuration value every field falls back to
// when the YAML file and environment both omit it. koanf's Unmarshal only
// overwrites fields present in a loaded source, so seeding the struct with
// these before unmarshaling is what makes them "defaults" rather than
// always-present values.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Accounts: AccountsConfig{Dir: "./accounts"},
		Upstream: UpstreamConfig{
			BaseURL: "https://cloudcode-pa.googleapis.com",
			Timeout: 5 * time.Minute,
		},
		Signature: SignatureConfig{TTL: time.Hour},
		Refresh: RefreshConfig{
			Interval: 5 * time.Minute,
			Ahead:    10 * time.Minute,
		},
	}
}

// expandEnv resolves a bare "${VAR_NAME}" placeholder against the process
// environment, the same convention the template's provider API keys used.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}
