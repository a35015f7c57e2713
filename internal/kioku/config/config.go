// Package config loads kioku's configuration: an optional YAML file
// overridden by KIOKU_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kioku/common/environment"
	"github.com/bdobrica/kioku/internal/kioku/memory"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KIOKU"

// Config holds all configuration values.
type Config struct {
	DatabasePath string `yaml:"database_path"`
	HTTPAddr     string `yaml:"http_addr"`

	Hook       HookConfig      `yaml:"hook"`
	Embedding  ProviderConfig  `yaml:"embedding"`
	Summariser ProviderConfig  `yaml:"summariser"`
	Summary    SummaryConfig   `yaml:"summary"`
	Retrieval  RetrievalConfig `yaml:"retrieval"`
	Index      IndexConfig     `yaml:"index"`
	Confirm    ConfirmConfig   `yaml:"confirm"`
	Matrix     MatrixConfig    `yaml:"matrix"`
	Log        LogConfig       `yaml:"log"`
}

// HookConfig configures POST /hooks/embeddings.
type HookConfig struct {
	BearerToken string `yaml:"bearer_token"`
	HMACSecret  string `yaml:"hmac_secret"`
	RateLimit   int    `yaml:"rate_limit"` // per table per minute
}

// ProviderConfig selects an embedding or LLM backend.
type ProviderConfig struct {
	Provider  string `yaml:"provider"` // noop, openai or ollama
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"` // embedding only; 0 skips the check
}

// Langchain converts c for the memory package constructors.
func (c ProviderConfig) Langchain() memory.LangchainConfig {
	return memory.LangchainConfig{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.BaseURL,
		APIKey:    c.APIKey,
		Dimension: c.Dimension,
	}
}

// SummaryConfig drives the summary runner.
type SummaryConfig struct {
	Threshold int           `yaml:"threshold"` // unsummarised messages per group
	Interval  time.Duration `yaml:"interval"`
}

// RetrievalConfig tunes recall.
type RetrievalConfig struct {
	Threshold float64 `yaml:"threshold"`
	MaxTokens int     `yaml:"max_tokens"`
}

// IndexConfig sizes the embedding queue and backfill.
type IndexConfig struct {
	QueueSize       int  `yaml:"queue_size"`
	Workers         int  `yaml:"workers"`
	BackfillBatch   int  `yaml:"backfill_batch"`
	BackfillOnStart bool `yaml:"backfill_on_start"`
}

// ConfirmConfig tunes the confirmation workflow.
type ConfirmConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"` // 0 keeps entries until decided
}

// MatrixConfig enables the chat transport when Homeserver is set.
type MatrixConfig struct {
	Homeserver     string   `yaml:"homeserver"`
	UserID         string   `yaml:"user_id"`
	AccessToken    string   `yaml:"access_token"`
	Rooms          []string `yaml:"rooms"`
	AssistantUsers []string `yaml:"assistant_users"`
}

// Enabled reports whether the Matrix transport should start.
func (m MatrixConfig) Enabled() bool {
	return m.Homeserver != ""
}

// LogConfig configures SetupLogger.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DatabasePath: "./kioku.db",
		HTTPAddr:     ":8080",
		Hook:         HookConfig{RateLimit: 600},
		Embedding:    ProviderConfig{Provider: memory.ProviderNoop},
		Summariser:   ProviderConfig{Provider: memory.ProviderNoop},
		Summary:      SummaryConfig{Threshold: 20, Interval: 5 * time.Minute},
		Retrieval:    RetrievalConfig{Threshold: memory.DefaultThreshold, MaxTokens: memory.DefaultMaxTokens},
		Index:        IndexConfig{QueueSize: 256, Workers: 2, BackfillBatch: 100},
		Confirm:      ConfirmConfig{PendingTTL: 24 * time.Hour},
		Log:          LogConfig{Level: "info"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

func env(key string) string {
	return environment.Prefixed(EnvPrefix, key)
}

// ApplyEnv overrides fields from KIOKU_* variables that are set.
func (c *Config) ApplyEnv() {
	c.DatabasePath = environment.StringOr(env("DB_PATH"), c.DatabasePath)
	c.HTTPAddr = environment.StringOr(env("HTTP_ADDR"), c.HTTPAddr)

	c.Hook.BearerToken = environment.StringOr(env("HOOK_TOKEN"), c.Hook.BearerToken)
	c.Hook.HMACSecret = environment.StringOr(env("HOOK_HMAC_SECRET"), c.Hook.HMACSecret)
	c.Hook.RateLimit = environment.IntOr(env("HOOK_RATE_LIMIT"), c.Hook.RateLimit)

	applyProviderEnv(&c.Embedding, "EMBEDDING")
	c.Embedding.Dimension = environment.IntOr(env("EMBEDDING_DIM"), c.Embedding.Dimension)
	applyProviderEnv(&c.Summariser, "SUMMARISER")

	c.Summary.Threshold = environment.IntOr(env("SUMMARY_THRESHOLD"), c.Summary.Threshold)
	c.Summary.Interval = environment.DurationOr(env("SUMMARY_INTERVAL"), c.Summary.Interval)

	c.Retrieval.Threshold = environment.FloatOr(env("RETRIEVAL_THRESHOLD"), c.Retrieval.Threshold)
	c.Retrieval.MaxTokens = environment.IntOr(env("RECALL_MAX_TOKENS"), c.Retrieval.MaxTokens)

	c.Index.QueueSize = environment.IntOr(env("INDEX_QUEUE"), c.Index.QueueSize)
	c.Index.Workers = environment.IntOr(env("INDEX_WORKERS"), c.Index.Workers)
	c.Index.BackfillBatch = environment.IntOr(env("BACKFILL_BATCH"), c.Index.BackfillBatch)
	c.Index.BackfillOnStart = environment.BoolOr(env("BACKFILL_ON_START"), c.Index.BackfillOnStart)

	c.Confirm.PendingTTL = environment.DurationOr(env("PENDING_TTL"), c.Confirm.PendingTTL)

	c.Matrix.Homeserver = environment.StringOr(env("MATRIX_HOMESERVER"), c.Matrix.Homeserver)
	c.Matrix.UserID = environment.StringOr(env("MATRIX_USER_ID"), c.Matrix.UserID)
	c.Matrix.AccessToken = environment.StringOr(env("MATRIX_ACCESS_TOKEN"), c.Matrix.AccessToken)
	c.Matrix.Rooms = environment.StringSliceOr(env("MATRIX_ROOMS"), c.Matrix.Rooms)
	c.Matrix.AssistantUsers = environment.StringSliceOr(env("MATRIX_ASSISTANT_USERS"), c.Matrix.AssistantUsers)

	c.Log.File = environment.StringOr(env("LOG_FILE"), c.Log.File)
	c.Log.Level = environment.StringOr(env("LOG_LEVEL"), c.Log.Level)
}

func applyProviderEnv(p *ProviderConfig, section string) {
	p.Provider = environment.StringOr(env(section+"_PROVIDER"), p.Provider)
	p.Model = environment.StringOr(env(section+"_MODEL"), p.Model)
	p.BaseURL = environment.StringOr(env(section+"_URL"), p.BaseURL)
	p.APIKey = environment.StringOr(env(section+"_API_KEY"), p.APIKey)
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fieldError("database_path", "is required")
	}
	if c.HTTPAddr == "" {
		return fieldError("http_addr", "is required")
	}
	if c.Hook.RateLimit <= 0 {
		return fieldError("hook.rate_limit", "must be positive")
	}
	if err := validateProvider("embedding", c.Embedding); err != nil {
		return err
	}
	if c.Embedding.Dimension < 0 {
		return fieldError("embedding.dimension", "must not be negative")
	}
	if err := validateProvider("summariser", c.Summariser); err != nil {
		return err
	}
	if c.Summary.Threshold <= 0 {
		return fieldError("summary.threshold", "must be positive")
	}
	if c.Summary.Interval <= 0 {
		return fieldError("summary.interval", "must be positive")
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fieldError("retrieval.threshold", "must be within [0,1]")
	}
	if c.Retrieval.MaxTokens <= 0 {
		return fieldError("retrieval.max_tokens", "must be positive")
	}
	if c.Index.QueueSize <= 0 || c.Index.Workers <= 0 || c.Index.BackfillBatch <= 0 {
		return fieldError("index", "queue_size, workers and backfill_batch must be positive")
	}
	if c.Confirm.PendingTTL < 0 {
		return fieldError("confirm.pending_ttl", "must not be negative")
	}
	if c.Matrix.Enabled() {
		if c.Matrix.UserID == "" {
			return fieldError("matrix.user_id", "is required when matrix.homeserver is set")
		}
		if c.Matrix.AccessToken == "" {
			return fieldError("matrix.access_token", "is required when matrix.homeserver is set")
		}
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return fieldError("log.level", err.Error())
	}
	return nil
}

func validateProvider(section string, p ProviderConfig) error {
	switch p.Provider {
	case memory.ProviderNoop:
		return nil
	case memory.ProviderOpenAI:
		if p.APIKey == "" {
			return fieldError(section+".api_key", "is required for the openai provider")
		}
	case memory.ProviderOllama:
	default:
		return fieldError(section+".provider", fmt.Sprintf("unknown provider %q", p.Provider))
	}
	if p.Model == "" {
		return fieldError(section+".model", "is required for provider "+p.Provider)
	}
	return nil
}

func fieldError(field, reason string) error {
	return fmt.Errorf("config: %s %s", field, reason)
}
