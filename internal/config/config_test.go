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

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/tombee/n8n-agent/internal/templates"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

var envVars = []string{
	"N8N_AGENT_ADDR", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE", "N8N_AGENT_DEBUG",
	"OPENROUTER_BASE_URL", "OPENROUTER_API_KEY", "OPENROUTER_MODEL", "TEMPLATES_DIR",
	"N8N_URL", "N8N_API_KEY", "N8N_EDITOR_URL",
	"N8N_AGENT_MIN_CONFIDENCE", "N8N_AGENT_MIN_RELEVANCE", "N8N_AGENT_GATE",
}

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8000" {
		t.Errorf("expected addr :8000, got %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxMessageLength != 2000 {
		t.Errorf("expected max message length 2000, got %d", cfg.Server.MaxMessageLength)
	}
	if cfg.Inference.Temperature != 0.1 {
		t.Errorf("expected temperature 0.1, got %v", cfg.Inference.Temperature)
	}
	if cfg.Inference.MaxTokens != 400 {
		t.Errorf("expected max tokens 400, got %d", cfg.Inference.MaxTokens)
	}
	if got := strings.Join(cfg.Platform.PathConventions, ","); got != "/api/v1,/rest" {
		t.Errorf("expected conventions /api/v1,/rest, got %q", got)
	}
	if cfg.Pipeline.MinConfidence != 0.3 || cfg.Pipeline.MinRelevance != 0.3 {
		t.Errorf("expected gate thresholds 0.3/0.3, got %v/%v", cfg.Pipeline.MinConfidence, cfg.Pipeline.MinRelevance)
	}
	if cfg.Pipeline.Weights != templates.DefaultWeights() {
		t.Errorf("expected default ranking weights, got %+v", cfg.Pipeline.Weights)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9000
log:
  level: debug
  format: text
corpus:
  dir: /srv/templates
  watch: true
platform:
  base_url: http://n8n.internal:5678
  path_conventions: [/rest]
pipeline:
  min_confidence: 0.6
  gate_expression: confidence > 0.5 && relevance > 0.4
  weights:
    integration: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("unset shutdown timeout should keep its default, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if !cfg.Corpus.Watch || cfg.Corpus.Dir != "/srv/templates" {
		t.Errorf("corpus = %+v", cfg.Corpus)
	}
	if got := strings.Join(cfg.Platform.PathConventions, ","); got != "/rest" {
		t.Errorf("conventions = %q", got)
	}
	if cfg.Pipeline.MinConfidence != 0.6 {
		t.Errorf("min_confidence = %v", cfg.Pipeline.MinConfidence)
	}
	if cfg.Pipeline.Weights.Integration != 20 || cfg.Pipeline.Weights.Trigger != templates.DefaultWeights().Trigger {
		t.Errorf("weights = %+v", cfg.Pipeline.Weights)
	}

	oc := cfg.OrchestratorConfig()
	if oc.GateExpression != "confidence > 0.5 && relevance > 0.4" || oc.MinConfidence != 0.6 {
		t.Errorf("orchestrator config = %+v", oc)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
platform:
  base_url: http://from-file:5678
pipeline:
  min_relevance: 0.2
`)
	t.Setenv("N8N_URL", "http://from-env:5678")
	t.Setenv("N8N_AGENT_MIN_RELEVANCE", "0.7")
	t.Setenv("OPENROUTER_MODEL", "anthropic/claude-3-haiku")
	t.Setenv("TEMPLATES_DIR", "/tmp/templates")
	t.Setenv("N8N_AGENT_DEBUG", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Platform.BaseURL != "http://from-env:5678" {
		t.Errorf("base_url = %q", cfg.Platform.BaseURL)
	}
	if cfg.Pipeline.MinRelevance != 0.7 {
		t.Errorf("min_relevance = %v", cfg.Pipeline.MinRelevance)
	}
	if cfg.Inference.Model != "anthropic/claude-3-haiku" {
		t.Errorf("model = %q", cfg.Inference.Model)
	}
	if cfg.Corpus.Dir != "/tmp/templates" {
		t.Errorf("corpus dir = %q", cfg.Corpus.Dir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"unknown field", "server:\n  port: 9000\n", "config_file"},
		{"bad yaml", "server: [\n", "config_file"},
		{"bad gate", "pipeline:\n  gate_expression: 'confidence >'\n", "validation"},
		{"threshold out of range", "pipeline:\n  min_confidence: 1.5\n", "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			var ce *agenterrors.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Key != tt.key {
				t.Errorf("key = %q, want %q", ce.Key, tt.key)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
		errText string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errText: "log.level must be one of",
		},
		{
			name:    "watch without dir",
			modify:  func(c *Config) { c.Corpus.Watch = true },
			wantErr: true,
			errText: "corpus.watch requires corpus.dir",
		},
		{
			name:    "relative path convention",
			modify:  func(c *Config) { c.Platform.PathConventions = []string{"api/v1"} },
			wantErr: true,
			errText: "platform.path_conventions[0] must start with /",
		},
		{
			name:    "otlp without endpoint",
			modify:  func(c *Config) { c.Observability.Exporter = "otlp-grpc" },
			wantErr: true,
			errText: "observability.endpoint is required",
		},
		{
			name:    "unknown exporter",
			modify:  func(c *Config) { c.Observability.Exporter = "zipkin" },
			wantErr: true,
			errText: "observability.exporter must be one of",
		},
		{
			name:    "zero attempts",
			modify:  func(c *Config) { c.Pipeline.MaxAttempts = 0 },
			wantErr: true,
			errText: "pipeline.max_attempts must be at least 1",
		},
		{
			name: "backoff max below base",
			modify: func(c *Config) {
				c.Pipeline.BackoffBase = time.Second
				c.Pipeline.BackoffMax = time.Millisecond
			},
			wantErr: true,
			errText: "backoff_max",
		},
		{
			name:    "burst required with rate limit",
			modify:  func(c *Config) { c.Server.RateLimit.Burst = 0 },
			wantErr: true,
			errText: "server.rate_limit.burst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("expected error containing %q, got %q", tt.errText, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestResolveSecretReference(t *testing.T) {
	keyring.MockInit()
	if err := keyring.Set(KeychainService, "n8n", "kc-secret"); err != nil {
		t.Fatalf("keyring.Set() error = %v", err)
	}
	t.Setenv("TEST_N8N_AGENT_KEY", "env-secret")

	ctx := context.Background()
	tests := []struct {
		value   string
		want    string
		wantErr error
	}{
		{"plain-value", "plain-value", nil},
		{"", "", nil},
		{"env:TEST_N8N_AGENT_KEY", "env-secret", nil},
		{"keychain:n8n", "kc-secret", nil},
		{"env:TEST_N8N_AGENT_MISSING", "", ErrSecretNotFound},
		{"keychain:missing", "", ErrSecretNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ResolveSecretReference(ctx, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadWithSecrets(t *testing.T) {
	clearEnv(t)
	keyring.MockInit()
	if err := keyring.Set(KeychainService, "openrouter", "sk-or-123"); err != nil {
		t.Fatalf("keyring.Set() error = %v", err)
	}
	path := writeConfig(t, `
inference:
  api_key: keychain:openrouter
platform:
  base_url: http://localhost:5678
  api_key: n8n-plaintext
`)

	cfg, warnings, err := LoadWithSecrets(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadWithSecrets() error = %v", err)
	}
	if cfg.Inference.APIKey != "sk-or-123" {
		t.Errorf("inference key = %q", cfg.Inference.APIKey)
	}
	if cfg.Platform.APIKey != "n8n-plaintext" {
		t.Errorf("platform key = %q", cfg.Platform.APIKey)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "platform.api_key") {
		t.Errorf("warnings = %v", warnings)
	}

	path = writeConfig(t, "platform:\n  api_key: env:TEST_N8N_AGENT_UNSET\n")
	_, _, err = LoadWithSecrets(context.Background(), path)
	var ce *agenterrors.ConfigError
	if !errors.As(err, &ce) || ce.Key != "platform.api_key" {
		t.Errorf("expected ConfigError for platform.api_key, got %v", err)
	}
}

func TestConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	got, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if got != filepath.Join(dir, "n8n-agent") {
		t.Errorf("ConfigDir() = %q", got)
	}
	if DefaultConfigPath() != "" {
		t.Error("DefaultConfigPath() should be empty when no file exists")
	}
}

func TestIndexCachePathAndCorpusLocation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", dir)

	cfg := Default()
	got, err := cfg.IndexCachePath()
	if err != nil {
		t.Fatalf("IndexCachePath() error = %v", err)
	}
	if want := filepath.Join(dir, "n8n-agent", "templates.db"); got != want {
		t.Errorf("IndexCachePath() = %q, want %q", got, want)
	}
	if loc := cfg.CorpusLocation(); loc != templates.StarterLocation {
		t.Errorf("CorpusLocation() = %q", loc)
	}

	cfg.Corpus.CachePath = "/var/cache/index.db"
	cfg.Corpus.Dir = "/srv/templates"
	if got, _ := cfg.IndexCachePath(); got != "/var/cache/index.db" {
		t.Errorf("IndexCachePath() = %q", got)
	}
	if loc := cfg.CorpusLocation(); loc != "/srv/templates" {
		t.Errorf("CorpusLocation() = %q", loc)
	}
}
