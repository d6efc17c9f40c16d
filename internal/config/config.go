// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads n8n-agent configuration from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/n8n-agent/internal/intent"
	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/pipeline"
	"github.com/tombee/n8n-agent/internal/templates"
	"github.com/tombee/n8n-agent/internal/tracing"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete n8n-agent configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Inference     InferenceConfig     `yaml:"inference"`
	Corpus        CorpusConfig        `yaml:"corpus"`
	Platform      PlatformConfig      `yaml:"platform"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`

	// plaintext lists api_key fields set as literal values in the file.
	plaintext []string
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address.
	// Environment: N8N_AGENT_ADDR
	// Default: :8000
	Addr string `yaml:"addr"`

	// ShutdownTimeout is the maximum duration to wait for in-flight
	// requests on shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxMessageLength bounds the message field of /chat and /dryrun.
	// Default: 2000
	MaxMessageLength int `yaml:"max_message_length"`

	// CORS configures cross-origin access.
	CORS CORSConfig `yaml:"cors"`

	// RateLimit configures per-client request limits.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig configures cross-origin access to the HTTP surface.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods   []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders   []string `yaml:"allowed_headers,omitempty"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age,omitempty"`
}

// RateLimitConfig configures the per-client token bucket. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// InferenceConfig configures the language-model provider used for intent
// extraction.
type InferenceConfig struct {
	// BaseURL is the OpenAI-compatible API root.
	// Environment: OPENROUTER_BASE_URL
	BaseURL string `yaml:"base_url"`

	// APIKey may be a literal or an env:NAME / keychain:NAME reference.
	// Environment: OPENROUTER_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// Model is the model identifier.
	// Environment: OPENROUTER_MODEL
	Model string `yaml:"model"`

	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// Referer and Title are sent for attribution.
	Referer string `yaml:"referer,omitempty"`
	Title   string `yaml:"title,omitempty"`
}

// CorpusConfig configures the template corpus.
type CorpusConfig struct {
	// Dir is the template directory. Empty means the embedded starter set.
	// Environment: TEMPLATES_DIR
	Dir string `yaml:"dir,omitempty"`

	// Watch rebuilds the index when files under Dir change.
	Watch bool `yaml:"watch"`

	// WatchDebounce delays rebuilds after a burst of changes.
	// Default: 500ms
	WatchDebounce time.Duration `yaml:"watch_debounce,omitempty"`

	// CachePath is the SQLite index cache.
	// Default: templates.db in the XDG cache directory
	CachePath string `yaml:"cache_path,omitempty"`

	// Concurrency bounds parallel template reads during a build.
	Concurrency int `yaml:"concurrency,omitempty"`
}

// PlatformConfig configures the n8n instance workflows are created on.
type PlatformConfig struct {
	// BaseURL is the n8n instance root. Empty disables creation.
	// Environment: N8N_URL
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey may be a literal or an env:NAME / keychain:NAME reference.
	// Environment: N8N_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// EditorBaseURL is the public editor URL; defaults to BaseURL.
	// Environment: N8N_EDITOR_URL
	EditorBaseURL string `yaml:"editor_base_url,omitempty"`

	// PathConventions are tried in order until one is not a 404.
	// Default: [/api/v1, /rest]
	PathConventions []string `yaml:"path_conventions,omitempty"`

	Timeout time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	// Environment: N8N_AGENT_MIN_CONFIDENCE, N8N_AGENT_MIN_RELEVANCE
	MinConfidence float64 `yaml:"min_confidence"`
	MinRelevance  float64 `yaml:"min_relevance"`

	// GateExpression replaces the threshold rule when set.
	// Environment: N8N_AGENT_GATE
	GateExpression string `yaml:"gate_expression,omitempty"`

	CandidateLimit int `yaml:"candidate_limit"`
	ClarifyLimit   int `yaml:"clarify_limit"`

	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	RequestBudget time.Duration `yaml:"request_budget"`
	CreateTimeout time.Duration `yaml:"create_timeout"`

	// Weights tunes template ranking.
	Weights templates.Weights `yaml:"weights"`

	// Penalties tunes validator confidence.
	Penalties intent.Penalties `yaml:"penalties"`
}

// ObservabilityConfig configures tracing.
type ObservabilityConfig = tracing.Config

// Default returns a Config with sensible defaults.
func Default() *Config {
	pc := pipeline.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:             ":8000",
			ShutdownTimeout:  10 * time.Second,
			MaxMessageLength: 2000,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				MaxAge:         86400,
			},
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 5,
				Burst:             20,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Inference: InferenceConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-3.5-turbo",
			Temperature: 0.1,
			MaxTokens:   400,
			Timeout:     30 * time.Second,
			Referer:     "https://github.com/tombee/n8n-agent",
			Title:       "n8n Agent",
		},
		Corpus: CorpusConfig{
			WatchDebounce: 500 * time.Millisecond,
			Concurrency:   8,
		},
		Platform: PlatformConfig{
			PathConventions: []string{"/api/v1", "/rest"},
			Timeout:         30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MinConfidence:  pc.MinConfidence,
			MinRelevance:   pc.MinRelevance,
			CandidateLimit: pc.CandidateLimit,
			ClarifyLimit:   pc.ClarifyLimit,
			MaxAttempts:    pc.Retry.MaxAttempts,
			BackoffBase:    pc.Retry.BaseDelay,
			BackoffMax:     pc.Retry.MaxDelay,
			RequestBudget:  pc.RequestBudget,
			CreateTimeout:  pc.CreateTimeout,
			Weights:        templates.DefaultWeights(),
			Penalties:      intent.DefaultPenalties(),
		},
		Observability: tracing.DefaultConfig(),
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &agenterrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &agenterrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Server.MaxMessageLength == 0 {
		c.Server.MaxMessageLength = defaults.Server.MaxMessageLength
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = defaults.Inference.BaseURL
	}
	if c.Inference.Model == "" {
		c.Inference.Model = defaults.Inference.Model
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = defaults.Inference.MaxTokens
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = defaults.Inference.Timeout
	}

	if c.Corpus.WatchDebounce == 0 {
		c.Corpus.WatchDebounce = defaults.Corpus.WatchDebounce
	}
	if c.Corpus.Concurrency == 0 {
		c.Corpus.Concurrency = defaults.Corpus.Concurrency
	}

	if len(c.Platform.PathConventions) == 0 {
		c.Platform.PathConventions = defaults.Platform.PathConventions
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = defaults.Platform.Timeout
	}

	if c.Pipeline.CandidateLimit == 0 {
		c.Pipeline.CandidateLimit = defaults.Pipeline.CandidateLimit
	}
	if c.Pipeline.ClarifyLimit == 0 {
		c.Pipeline.ClarifyLimit = defaults.Pipeline.ClarifyLimit
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = defaults.Pipeline.MaxAttempts
	}
	if c.Pipeline.BackoffBase == 0 {
		c.Pipeline.BackoffBase = defaults.Pipeline.BackoffBase
	}
	if c.Pipeline.BackoffMax == 0 {
		c.Pipeline.BackoffMax = defaults.Pipeline.BackoffMax
	}
	if c.Pipeline.RequestBudget == 0 {
		c.Pipeline.RequestBudget = defaults.Pipeline.RequestBudget
	}
	if c.Pipeline.CreateTimeout == 0 {
		c.Pipeline.CreateTimeout = defaults.Pipeline.CreateTimeout
	}
	if c.Pipeline.Weights == (templates.Weights{}) {
		c.Pipeline.Weights = defaults.Pipeline.Weights
	}
	if c.Pipeline.Penalties == (intent.Penalties{}) {
		c.Pipeline.Penalties = defaults.Pipeline.Penalties
	}

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = defaults.Observability.ServiceName
	}
	if c.Observability.Exporter == "" {
		c.Observability.Exporter = defaults.Observability.Exporter
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = defaults.Observability.SampleRate
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if c.Inference.APIKey != "" && !IsSecretReference(c.Inference.APIKey) {
		c.plaintext = append(c.plaintext, "inference.api_key")
	}
	if c.Platform.APIKey != "" && !IsSecretReference(c.Platform.APIKey) {
		c.plaintext = append(c.plaintext, "platform.api_key")
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("N8N_AGENT_ADDR"); val != "" {
		c.Server.Addr = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("N8N_AGENT_DEBUG"); val == "1" || strings.ToLower(val) == "true" {
		c.Log.Level = "debug"
	}

	if val := os.Getenv("OPENROUTER_BASE_URL"); val != "" {
		c.Inference.BaseURL = val
	}
	if val := os.Getenv("OPENROUTER_API_KEY"); val != "" {
		c.Inference.APIKey = val
	}
	if val := os.Getenv("OPENROUTER_MODEL"); val != "" {
		c.Inference.Model = val
	}

	if val := os.Getenv("TEMPLATES_DIR"); val != "" {
		c.Corpus.Dir = val
	}

	if val := os.Getenv("N8N_URL"); val != "" {
		c.Platform.BaseURL = val
	}
	if val := os.Getenv("N8N_API_KEY"); val != "" {
		c.Platform.APIKey = val
	}
	if val := os.Getenv("N8N_EDITOR_URL"); val != "" {
		c.Platform.EditorBaseURL = val
	}

	if val := os.Getenv("N8N_AGENT_MIN_CONFIDENCE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Pipeline.MinConfidence = f
		}
	}
	if val := os.Getenv("N8N_AGENT_MIN_RELEVANCE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Pipeline.MinRelevance = f
		}
	}
	if val := os.Getenv("N8N_AGENT_GATE"); val != "" {
		c.Pipeline.GateExpression = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}
	if c.Server.MaxMessageLength < 1 {
		errs = append(errs, fmt.Sprintf("server.max_message_length must be positive, got %d", c.Server.MaxMessageLength))
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Sprintf("server.rate_limit.requests_per_second must be non-negative, got %v", c.Server.RateLimit.RequestsPerSecond))
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Sprintf("server.rate_limit.burst must be at least 1 when limiting is enabled, got %d", c.Server.RateLimit.Burst))
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Inference.Temperature < 0 || c.Inference.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("inference.temperature must be between 0 and 2, got %v", c.Inference.Temperature))
	}
	if c.Inference.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("inference.max_tokens must be positive, got %d", c.Inference.MaxTokens))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("inference.timeout must be positive, got %v", c.Inference.Timeout))
	}

	if c.Corpus.Watch && c.Corpus.Dir == "" {
		errs = append(errs, "corpus.watch requires corpus.dir")
	}
	if c.Corpus.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("corpus.concurrency must be positive, got %d", c.Corpus.Concurrency))
	}

	for i, conv := range c.Platform.PathConventions {
		if !strings.HasPrefix(conv, "/") {
			errs = append(errs, fmt.Sprintf("platform.path_conventions[%d] must start with /, got %q", i, conv))
		}
	}
	if c.Platform.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("platform.timeout must be positive, got %v", c.Platform.Timeout))
	}

	p := c.Pipeline
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("pipeline.min_confidence must be between 0 and 1, got %v", p.MinConfidence))
	}
	if p.MinRelevance < 0 || p.MinRelevance > 1 {
		errs = append(errs, fmt.Sprintf("pipeline.min_relevance must be between 0 and 1, got %v", p.MinRelevance))
	}
	if p.GateExpression != "" {
		if _, err := pipeline.NewGate(p.MinConfidence, p.MinRelevance, p.GateExpression); err != nil {
			errs = append(errs, fmt.Sprintf("pipeline.gate_expression: %v", err))
		}
	}
	if p.CandidateLimit < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.candidate_limit must be positive, got %d", p.CandidateLimit))
	}
	if p.ClarifyLimit < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.clarify_limit must be positive, got %d", p.ClarifyLimit))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("pipeline.max_attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.BackoffMax < p.BackoffBase {
		errs = append(errs, fmt.Sprintf("pipeline.backoff_max (%v) must not be below backoff_base (%v)", p.BackoffMax, p.BackoffBase))
	}
	if p.RequestBudget <= 0 {
		errs = append(errs, fmt.Sprintf("pipeline.request_budget must be positive, got %v", p.RequestBudget))
	}

	switch c.Observability.Exporter {
	case tracing.ExporterNone, tracing.ExporterStdout:
	case tracing.ExporterOTLPGRPC, tracing.ExporterOTLPHTTP:
		if c.Observability.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("observability.endpoint is required for exporter %q", c.Observability.Exporter))
		}
	default:
		errs = append(errs, fmt.Sprintf("observability.exporter must be one of [none, stdout, otlp-grpc, otlp-http], got %q", c.Observability.Exporter))
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() *log.Config {
	lc := log.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = log.Format(c.Log.Format)
	lc.AddSource = c.Log.AddSource
	return lc
}

// OrchestratorConfig returns the pipeline settings.
func (c *Config) OrchestratorConfig() pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.MinConfidence = c.Pipeline.MinConfidence
	pc.MinRelevance = c.Pipeline.MinRelevance
	pc.GateExpression = c.Pipeline.GateExpression
	pc.CandidateLimit = c.Pipeline.CandidateLimit
	pc.ClarifyLimit = c.Pipeline.ClarifyLimit
	pc.Retry.MaxAttempts = c.Pipeline.MaxAttempts
	pc.Retry.BaseDelay = c.Pipeline.BackoffBase
	pc.Retry.MaxDelay = c.Pipeline.BackoffMax
	pc.RequestBudget = c.Pipeline.RequestBudget
	pc.CreateTimeout = c.Pipeline.CreateTimeout
	pc.Weights = c.Pipeline.Weights
	return pc
}

// ExtractorConfig returns the sampling settings for intent extraction.
func (c *Config) ExtractorConfig() intent.ExtractorConfig {
	return intent.ExtractorConfig{
		Model:       c.Inference.Model,
		Temperature: c.Inference.Temperature,
		MaxTokens:   c.Inference.MaxTokens,
		Timeout:     c.Inference.Timeout,
	}
}

// indexCacheFile is the index cache name inside the cache directory.
const indexCacheFile = "templates.db"

// IndexCachePath returns the SQLite index cache location.
func (c *Config) IndexCachePath() (string, error) {
	if c.Corpus.CachePath != "" {
		return c.Corpus.CachePath, nil
	}
	dir, err := CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, indexCacheFile), nil
}

// CorpusLocation names the corpus the index is built from, matching the
// location recorded in the index cache.
func (c *Config) CorpusLocation() string {
	if c.Corpus.Dir != "" {
		return c.Corpus.Dir
	}
	return templates.StarterLocation
}
