// Package config loads the grc-agent YAML configuration.
//
// Values may reference environment variables (${VAR}); GRC_API_URL,
// GRC_API_KEY and GRC_REDIS_URL override the file.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v3"

	"github.com/exploopio/grc/pkg/audit"
	"github.com/exploopio/grc/pkg/client"
	"github.com/exploopio/grc/pkg/compress"
	sdkerrors "github.com/exploopio/grc/pkg/errors"
	"github.com/exploopio/grc/pkg/retry"
)

// Environment overrides.
const (
	EnvAPIURL   = "GRC_API_URL"
	EnvAPIKey   = "GRC_API_KEY"
	EnvRedisURL = "GRC_REDIS_URL"
)

// Config is the agent configuration.
type Config struct {
	// ClientID is the default client for commands that take one.
	ClientID string `yaml:"client_id"`

	API       APIConfig       `yaml:"api"`
	Redis     RedisConfig     `yaml:"redis"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Audit     AuditConfig     `yaml:"audit"`
	Poller    PollerConfig    `yaml:"poller"`
	Promotion PromotionConfig `yaml:"promotion"`
	Log       LogConfig       `yaml:"log"`
}

// APIConfig configures the backend transport.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries *int          `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	RateLimit  float64       `yaml:"rate_limit"`
	RateBurst  int           `yaml:"rate_burst"`

	// Compression is "zstd", "gzip" or empty.
	Compression string `yaml:"compression"`

	OAuth2 *OAuth2Config `yaml:"oauth2"`
}

// OAuth2Config enables the client credentials flow instead of the API key.
type OAuth2Config struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// RedisConfig configures the shared dashboard cache. An empty URL keeps the
// cache in process.
type RedisConfig struct {
	URL    string        `yaml:"url"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

// OutboxConfig configures the retry outbox for best-effort writes. An empty
// path disables it.
type OutboxConfig struct {
	Path          string        `yaml:"path"`
	MaxAttempts   int           `yaml:"max_attempts"`
	ReplayEvery   time.Duration `yaml:"replay_every"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogFile string `yaml:"log_file"`
	Actor   string `yaml:"actor"`
}

// PollerConfig configures `grc-agent watch`.
type PollerConfig struct {
	Clients     []string      `yaml:"clients"`
	Interval    time.Duration `yaml:"interval"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// PromotionConfig configures the promotion engine.
type PromotionConfig struct {
	// LegacyAssessmentFallback routes findings with no owning assessment to
	// the hard-coded legacy assessments. Default true.
	LegacyAssessmentFallback *bool `yaml:"legacy_assessment_fallback"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies environment overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields with the GRC_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.MaxRetries == nil {
		n := 2
		c.API.MaxRetries = &n
	}
	if c.API.RetryDelay == 0 {
		c.API.RetryDelay = 500 * time.Millisecond
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "grc:"
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * time.Second
	}
	if c.Outbox.MaxAttempts == 0 {
		c.Outbox.MaxAttempts = retry.DefaultMaxAttempts
	}
	if c.Outbox.ReplayEvery == 0 {
		c.Outbox.ReplayEvery = retry.DefaultRetryInterval
	}
	if c.Outbox.RetryInterval == 0 {
		c.Outbox.RetryInterval = retry.DefaultRetryInterval
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 30 * time.Second
	}
	if c.Poller.MetricsAddr == "" {
		c.Poller.MetricsAddr = ":9464"
	}
	if c.Promotion.LegacyAssessmentFallback == nil {
		on := true
		c.Promotion.LegacyAssessmentFallback = &on
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.API.Timeout < 0 || c.API.RetryDelay < 0 {
		return sdkerrors.E(sdkerrors.KindInvalidInput, "config.validate", "api durations must not be negative")
	}
	if c.API.MaxRetries != nil && *c.API.MaxRetries < 0 {
		return sdkerrors.E(sdkerrors.KindInvalidInput, "config.validate", "api.max_retries must not be negative")
	}
	if c.API.Compression != "" {
		if _, err := compress.ParseAlgorithm(c.API.Compression); err != nil {
			return sdkerrors.E(sdkerrors.KindInvalidInput, "config.validate", "api.compression: "+err.Error())
		}
	}
	if o := c.API.OAuth2; o != nil {
		if err := sdkerrors.RequireFields("config.validate",
			"api.oauth2.token_url", o.TokenURL,
			"api.oauth2.client_id", o.ClientID,
			"api.oauth2.client_secret", o.ClientSecret,
		); err != nil {
			return err
		}
	}
	if c.Poller.Interval < 0 {
		return sdkerrors.E(sdkerrors.KindInvalidInput, "config.validate", "poller.interval must not be negative")
	}
	return nil
}

// RequireAPI reports an error when no backend URL is configured.
func (c *Config) RequireAPI() error {
	return sdkerrors.RequireFields("config", "api.base_url", c.API.BaseURL)
}

// ClientConfig returns the transport configuration.
func (c *Config) ClientConfig() *client.Config {
	cc := &client.Config{
		BaseURL:     c.API.BaseURL,
		APIKey:      c.API.APIKey,
		Timeout:     c.API.Timeout,
		RetryDelay:  c.API.RetryDelay,
		RateLimit:   c.API.RateLimit,
		RateBurst:   c.API.RateBurst,
		Compression: c.API.Compression,
	}
	if c.API.MaxRetries != nil {
		cc.MaxRetries = *c.API.MaxRetries
	}
	return cc
}

// TokenSource returns the OAuth2 token source, or nil when the API key is
// used instead.
func (c *Config) TokenSource(ctx context.Context) oauth2.TokenSource {
	o := c.API.OAuth2
	if o == nil {
		return nil
	}
	cc := &clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     o.TokenURL,
		Scopes:       o.Scopes,
	}
	return cc.TokenSource(ctx)
}

// SQLiteConfig returns the SQLite outbox configuration, or nil when the
// outbox is disabled.
func (c *Config) SQLiteConfig() *retry.SQLiteConfig {
	if c.Outbox.Path == "" {
		return nil
	}
	return &retry.SQLiteConfig{Path: expandHome(c.Outbox.Path), MaxAttempts: c.Outbox.MaxAttempts}
}

// WorkerConfig returns the outbox replay worker configuration.
func (c *Config) WorkerConfig() *retry.WorkerConfig {
	wc := retry.DefaultWorkerConfig()
	wc.Interval = c.Outbox.ReplayEvery
	wc.Backoff.BaseInterval = c.Outbox.RetryInterval
	return wc
}

// AuditLoggerConfig returns the audit logger configuration, or nil when auditing
// is disabled.
func (c *Config) AuditLoggerConfig() *audit.LoggerConfig {
	if !c.Audit.Enabled {
		return nil
	}
	lc := audit.DefaultLoggerConfig()
	lc.Actor = c.Audit.Actor
	if c.Audit.LogFile != "" {
		lc.LogFile = expandHome(c.Audit.LogFile)
	}
	return lc
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
