package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/member-qa/engine/source"
)

// Config holds the server configuration. Values come from defaults, then an
// optional YAML file named by CONFIG_FILE, then the environment.
type Config struct {
	Port            string        `yaml:"port"`
	SourceURL       string        `yaml:"source_url"`
	SourceTimeout   time.Duration `yaml:"source_timeout"`
	EmbedProvider   string        `yaml:"embed_provider"`
	EmbedURL        string        `yaml:"embed_url"`
	EmbedModel      string        `yaml:"embed_model"` // empty uses the provider's default
	EmbedAPIKey     string        `yaml:"embed_api_key"`
	EmbedBatch      int           `yaml:"embed_batch"`
	TopK            int           `yaml:"top_k"`
	MinSimilarity   float64       `yaml:"min_similarity"`
	RefreshAttempts int           `yaml:"refresh_attempts"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	CORSOrigin      string        `yaml:"cors_origin"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	NATSURL         string        `yaml:"nats_url"`
	LogLevel        string        `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Port:            "8000",
		SourceURL:       source.DefaultURL,
		SourceTimeout:   15 * time.Second,
		EmbedProvider:   "ollama",
		EmbedBatch:      64,
		TopK:            3,
		MinSimilarity:   0.3,
		RefreshAttempts: 5,
		CORSOrigin:      "*",
		RateLimit:       20,
		RateBurst:       40,
		LogLevel:        "info",
	}
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	var errs []error
	cfg.Port = envOr("PORT", cfg.Port)
	cfg.SourceURL = envOr("SOURCE_URL", cfg.SourceURL)
	cfg.EmbedProvider = envOr("EMBED_PROVIDER", cfg.EmbedProvider)
	cfg.EmbedURL = envOr("EMBED_URL", cfg.EmbedURL)
	cfg.EmbedModel = envOr("EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedAPIKey = envOr("EMBED_API_KEY", cfg.EmbedAPIKey)
	cfg.CORSOrigin = envOr("CORS_ORIGIN", cfg.CORSOrigin)
	cfg.NATSURL = envOr("NATS_URL", cfg.NATSURL)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	envParse("SOURCE_TIMEOUT", &cfg.SourceTimeout, time.ParseDuration, &errs)
	envParse("REFRESH_INTERVAL", &cfg.RefreshInterval, time.ParseDuration, &errs)
	envParse("EMBED_BATCH", &cfg.EmbedBatch, strconv.Atoi, &errs)
	envParse("TOP_K", &cfg.TopK, strconv.Atoi, &errs)
	envParse("REFRESH_ATTEMPTS", &cfg.RefreshAttempts, strconv.Atoi, &errs)
	envParse("RATE_BURST", &cfg.RateBurst, strconv.Atoi, &errs)
	envParse("MIN_SIMILARITY", &cfg.MinSimilarity, parseFloat, &errs)
	envParse("RATE_LIMIT", &cfg.RateLimit, parseFloat, &errs)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envParse[T any](key string, dst *T, parse func(string) (T, error), errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed, err := parse(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s=%q: %w", key, v, err))
		return
	}
	*dst = parsed
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func (c Config) validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("config: port %q is not a number", c.Port))
	}
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("config: top_k must be at least 1, got %d", c.TopK))
	}
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("config: min_similarity must be within [-1, 1], got %g", c.MinSimilarity))
	}
	if c.RefreshAttempts < 1 {
		errs = append(errs, fmt.Errorf("config: refresh_attempts must be at least 1, got %d", c.RefreshAttempts))
	}
	if c.SourceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: source_timeout must be positive"))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("config: refresh_interval must not be negative"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("config: rate_limit and rate_burst must not be negative"))
	}
	return errors.Join(errs...)
}

// level maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
