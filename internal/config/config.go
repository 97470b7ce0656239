// Package config loads proxy settings from defaults, an optional YAML file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Models   ModelsConfig   `koanf:"models"`
	Verbose  bool           `koanf:"verbose"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
}

type UpstreamConfig struct {
	APIKey     string        `koanf:"api_key" validate:"required"`
	BaseURL    string        `koanf:"base_url" validate:"required,url"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries int           `koanf:"max_retries" validate:"gte=0,lte=10"`
	Referer    string        `koanf:"referer"`
	Title      string        `koanf:"title"`
}

type CacheConfig struct {
	Backend    string        `koanf:"backend" validate:"oneof=none memory redis"`
	TTL        time.Duration `koanf:"ttl" validate:"gte=0"`
	MaxEntries int           `koanf:"max_entries" validate:"gte=0"`
	RedisAddr  string        `koanf:"redis_addr" validate:"required_if=Backend redis"`
	Prefix     string        `koanf:"prefix"`
	VersionID  string        `koanf:"version_id"`
}

// ModelsConfig carries the model mapping table and the tier fallbacks.
// Empty values fall back to the mapper's built-in defaults.
type ModelsConfig struct {
	// a list rather than a map: model names may contain the "." key delimiter
	Mapping []ModelRoute `koanf:"mapping" validate:"dive"`
	Opus    string       `koanf:"opus"`
	Sonnet  string       `koanf:"sonnet"`
	Haiku   string       `koanf:"haiku"`
	Default string       `koanf:"default"`
}

type ModelRoute struct {
	Client   string `koanf:"client" validate:"required"`
	Upstream string `koanf:"upstream" validate:"required"`
}

// Table returns the configured mapping, or nil when none was configured.
func (m ModelsConfig) Table() map[string]string {
	if len(m.Mapping) == 0 {
		return nil
	}
	table := make(map[string]string, len(m.Mapping))
	for _, r := range m.Mapping {
		table[r.Client] = r.Upstream
	}
	return table
}

// FileEnv names the optional YAML config file.
const FileEnv = "PROXY_CONFIG"

// envKeys maps the supported environment variables onto config keys.
var envKeys = map[string]string{
	"OPENROUTER_API_KEY":   "upstream.api_key",
	"UPSTREAM_BASE_URL":    "upstream.base_url",
	"UPSTREAM_TIMEOUT":     "upstream.timeout",
	"UPSTREAM_MAX_RETRIES": "upstream.max_retries",
	"HTTP_REFERER":         "upstream.referer",
	"X_TITLE":              "upstream.title",
	"PORT":                 "server.port",
	"REQUEST_TIMEOUT":      "server.request_timeout",
	"SHUTDOWN_TIMEOUT":     "server.shutdown_timeout",
	"MAX_BODY_BYTES":       "server.max_body_bytes",
	"PROXY_VERBOSE":        "verbose",
	"CACHE_BACKEND":        "cache.backend",
	"CACHE_TTL":            "cache.ttl",
	"CACHE_MAX_ENTRIES":    "cache.max_entries",
	"CACHE_VERSION":        "cache.version_id",
	"REDIS_ADDR":           "cache.redis_addr",
	"OPUS_MODEL":           "models.opus",
	"SONNET_MODEL":         "models.sonnet",
	"HAIKU_MODEL":          "models.haiku",
	"DEFAULT_MODEL":        "models.default",
}

func defaults() map[string]any {
	return map[string]any{
		"server.port":             8000,
		"server.request_timeout":  "10m",
		"server.shutdown_timeout": "10s",
		"server.max_body_bytes":   10 << 20,
		"upstream.base_url":       "https://openrouter.ai/api",
		"upstream.timeout":        "120s",
		"upstream.max_retries":    2,
		"upstream.title":          "claude-code-proxy",
		"cache.backend":           "none",
		"cache.ttl":               "5m",
		"cache.max_entries":       1024,
		"cache.prefix":            "claude-code-proxy",
		"cache.version_id":        "v1",
		"verbose":                 false,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads .env (when present) into the process environment, then layers
// defaults, the file named by PROXY_CONFIG and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return load(os.Getenv(FileEnv))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("config: default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}
