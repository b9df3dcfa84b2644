// Package config provides configuration loading and validation for the feed agent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultListingURL is the well-known directory listing that publishes the feed.
const DefaultListingURL = "https://hefitness.se/csv/"

// Config represents the agent configuration that can be loaded from a JSON or YAML file.
// Every field has a default; environment variables override file values.
type Config struct {
	Env         string `json:"env,omitempty" yaml:"env"`
	LogLevel    string `json:"log_level,omitempty" yaml:"log_level"`
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url" validate:"required"`

	Feed       FeedConfig       `json:"feed" yaml:"feed"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Pipeline   PipelineConfig   `json:"pipeline" yaml:"pipeline"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

// FeedConfig controls where the feed is fetched from.
type FeedConfig struct {
	URL            string `json:"url,omitempty" yaml:"url" validate:"omitempty,url"`
	ListingURL     string `json:"listing_url,omitempty" yaml:"listing_url" validate:"required,url"`
	CachePath      string `json:"cache_path,omitempty" yaml:"cache_path"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds" validate:"min=1,max=600"`
	UseBrowser     bool   `json:"use_browser,omitempty" yaml:"use_browser"`
	Charset        string `json:"charset,omitempty" yaml:"charset"`
}

// ValidationConfig holds the per-record check thresholds.
type ValidationConfig struct {
	IdentifierLengths      []int    `json:"identifier_lengths,omitempty" yaml:"identifier_lengths" validate:"min=1,dive,min=1,max=64"`
	IdentifierPlaceholders []string `json:"identifier_placeholders,omitempty" yaml:"identifier_placeholders"`
	ImageTimeoutSeconds    int      `json:"image_timeout_seconds,omitempty" yaml:"image_timeout_seconds" validate:"min=1,max=60"`
	ImageRPS               float64  `json:"image_rps,omitempty" yaml:"image_rps" validate:"gte=0"`
}

// LLMConfig configures the title assessment service.
type LLMConfig struct {
	Provider              string  `json:"provider,omitempty" yaml:"provider" validate:"oneof=openai gemini"`
	Model                 string  `json:"model,omitempty" yaml:"model" validate:"required"`
	BaseURL               string  `json:"base_url,omitempty" yaml:"base_url" validate:"required,url"`
	APIKey                string  `json:"api_key,omitempty" yaml:"api_key"`
	Temperature           float32 `json:"temperature,omitempty" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens             int     `json:"max_tokens,omitempty" yaml:"max_tokens" validate:"min=1"`
	TimeoutSeconds        int     `json:"timeout_seconds,omitempty" yaml:"timeout_seconds" validate:"min=1,max=120"`
	ExcerptTimeoutSeconds int     `json:"excerpt_timeout_seconds,omitempty" yaml:"excerpt_timeout_seconds" validate:"min=1,max=60"`
	ExcerptMaxChars       int     `json:"excerpt_max_chars,omitempty" yaml:"excerpt_max_chars" validate:"min=0"`
}

// PipelineConfig sizes the validation worker pool.
type PipelineConfig struct {
	Workers int `json:"workers,omitempty" yaml:"workers" validate:"min=1,max=64"`
}

// CacheConfig enables the optional redis-backed image probe cache.
type CacheConfig struct {
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url"`
	// ImageTTLSeconds of 0 turns probe caching off.
	ImageTTLSeconds int `json:"image_ttl_seconds,omitempty" yaml:"image_ttl_seconds" validate:"min=0"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port      int             `json:"port,omitempty" yaml:"port" validate:"min=1,max=65535"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles API clients by IP. Ingest triggers and reads
// have separate budgets; an ingest interval of 0 leaves triggers unlimited.
type RateLimitConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	IngestBurst        int      `json:"ingest_burst,omitempty" yaml:"ingest_burst" validate:"min=1"`
	IngestEverySeconds int      `json:"ingest_every_seconds,omitempty" yaml:"ingest_every_seconds" validate:"min=0"`
	ReadBurst          int      `json:"read_burst,omitempty" yaml:"read_burst" validate:"min=1"`
	ReadPerSecond      float64  `json:"read_per_second,omitempty" yaml:"read_per_second" validate:"gte=0"`
	ExemptIPs          []string `json:"exempt_ips,omitempty" yaml:"exempt_ips" validate:"dive,ip"`
}

// Default returns the configuration used when no file or environment overrides are given.
func Default() *Config {
	return &Config{
		Env:         "development",
		LogLevel:    "info",
		DatabaseURL: "sqlite://data.db",
		Feed: FeedConfig{
			ListingURL:     DefaultListingURL,
			CachePath:      filepath.Join("data", "feed.csv"),
			TimeoutSeconds: 30,
		},
		Validation: ValidationConfig{
			IdentifierLengths:      []int{8, 12, 13, 14},
			IdentifierPlaceholders: []string{"-", "0", "None", ""},
			ImageTimeoutSeconds:    5,
		},
		LLM: LLMConfig{
			Provider:              "openai",
			Model:                 "gpt-4o-mini",
			BaseURL:               "https://api.openai.com/v1",
			Temperature:           0.2,
			MaxTokens:             220,
			TimeoutSeconds:        12,
			ExcerptTimeoutSeconds: 8,
			ExcerptMaxChars:       2000,
		},
		Pipeline: PipelineConfig{Workers: 16},
		Cache:    CacheConfig{ImageTTLSeconds: int((6 * time.Hour).Seconds())},
		Server: ServerConfig{
			Port: 8080,
			RateLimit: RateLimitConfig{
				Enabled:            true,
				IngestBurst:        5,
				IngestEverySeconds: 120,
				ReadBurst:          100,
				ReadPerSecond:      16,
			},
		},
	}
}

// LoadConfig reads a JSON or YAML file on top of the defaults.
// The format is chosen by extension: .yaml and .yml are YAML, everything else JSON.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return cfg, nil
}

// Load resolves the effective configuration: defaults, then the optional file,
// then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := strings.TrimSpace(getenv(key)); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&c.Env, "APP_ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.DatabaseURL, "DATABASE_URL")
	// CSV_URL is the historical name of the override.
	setString(&c.Feed.URL, "FEED_URL", "CSV_URL")
	setString(&c.Feed.CachePath, "FEED_CACHE_PATH")
	setString(&c.Feed.Charset, "FEED_CHARSET")
	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Cache.RedisURL, "REDIS_URL")
	setInt(&c.Pipeline.Workers, "WORKERS")
	setInt(&c.Server.Port, "PORT")

	if c.LLM.Provider == "gemini" {
		setString(&c.LLM.APIKey, "GEMINI_API_KEY")
	} else {
		setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	}

	setBool := func(dst *bool, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setBool(&c.Feed.UseBrowser, "FEED_USE_BROWSER")
	setBool(&c.Server.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if _, _, err := c.Store(); err != nil {
		return err
	}
	return nil
}

// Store kinds understood by Store.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Store reports which store DatabaseURL selects and the DSN to hand to its driver.
// postgres:// and postgresql:// select PostgreSQL; sqlite:// (or sqlite:///) selects
// a SQLite file.
func (c *Config) Store() (kind string, dsn string, err error) {
	u := strings.TrimSpace(c.DatabaseURL)
	switch {
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return StorePostgres, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		// SQLAlchemy spelling: sqlite:///rel.db is relative, sqlite:////abs.db absolute.
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			return "", "", fmt.Errorf("config error: sqlite database path is empty")
		}
		return StoreSQLite, path, nil
	default:
		return "", "", fmt.Errorf("config error: unsupported database_url scheme: %q", u)
	}
}

// FeedTimeout returns the remote feed timeout as a duration.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// ImageTimeout returns the per-probe image timeout.
func (c *Config) ImageTimeout() time.Duration {
	return time.Duration(c.Validation.ImageTimeoutSeconds) * time.Second
}

// ImageTTL returns how long a cached image probe stays valid.
func (c *Config) ImageTTL() time.Duration {
	return time.Duration(c.Cache.ImageTTLSeconds) * time.Second
}
