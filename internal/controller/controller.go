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

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/tombee/n8n-agent/internal/api"
	"github.com/tombee/n8n-agent/internal/config"
	"github.com/tombee/n8n-agent/internal/intent"
	internallog "github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/pipeline"
	"github.com/tombee/n8n-agent/internal/platform"
	"github.com/tombee/n8n-agent/internal/templates"
	"github.com/tombee/n8n-agent/internal/tracing"
	"github.com/tombee/n8n-agent/pkg/llm"
	"github.com/tombee/n8n-agent/pkg/llm/providers"
)

// Options contains controller options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger overrides the logger built from configuration.
	Logger *slog.Logger

	// Inference overrides the configured provider (tests).
	Inference llm.Provider
}

// Controller is the assembled agent.
type Controller struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	telemetry    *tracing.Provider
	inference    llm.Provider
	platform     *platform.Client
	corpus       templates.Corpus
	holder       *templates.Holder
	cache        *templates.Cache
	watcher      *templates.Watcher
	orchestrator *pipeline.Orchestrator

	mu      sync.Mutex
	started bool
}

// New creates a controller. The template index is not loaded until
// LoadIndex or Start is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = internallog.New(cfg.LoggerConfig())
	}
	logger = internallog.WithComponent(logger, "controller")

	obs := cfg.Observability
	obs.ServiceVersion = opts.Version
	telemetry, err := tracing.NewProvider(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry provider: %w", err)
	}

	c := &Controller{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		telemetry: telemetry,
		holder:    &templates.Holder{},
	}

	c.inference = opts.Inference
	if c.inference == nil {
		provider, err := providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			BaseURL: cfg.Inference.BaseURL,
			APIKey:  cfg.Inference.APIKey,
			Model:   cfg.Inference.Model,
			Referer: cfg.Inference.Referer,
			Title:   cfg.Inference.Title,
			Timeout: cfg.Inference.Timeout,
			Logger:  internallog.WithProvider(logger, "openrouter"),
		})
		if err != nil {
			c.closeTelemetry(ctx)
			return nil, fmt.Errorf("failed to create inference provider: %w", err)
		}
		c.inference = provider
	}

	if cfg.Platform.BaseURL != "" {
		client, err := platform.New(platform.Config{
			BaseURL:       cfg.Platform.BaseURL,
			APIKey:        cfg.Platform.APIKey,
			EditorBaseURL: cfg.Platform.EditorBaseURL,
			Conventions:   cfg.Platform.PathConventions,
			Timeout:       cfg.Platform.Timeout,
			Logger:        internallog.WithComponent(logger, "platform"),
		})
		if err != nil {
			c.closeTelemetry(ctx)
			return nil, fmt.Errorf("failed to create platform client: %w", err)
		}
		c.platform = client
	} else {
		logger.Warn("platform base URL not configured; workflow creation disabled")
	}

	if cfg.Corpus.Dir != "" {
		c.corpus = templates.NewDirCorpus(cfg.Corpus.Dir)
	} else {
		c.corpus = templates.Starter()
	}

	deps := pipeline.Deps{
		Extractor: intent.NewExtractor(c.inference, cfg.ExtractorConfig(), logger),
		Validator: intent.NewValidator(intent.WithPenalties(cfg.Pipeline.Penalties)),
		Index:     c.holder,
		Logger:    logger,
		Tracer:    telemetry.Tracer("github.com/tombee/n8n-agent/pipeline"),
		Metrics:   telemetry.Metrics(),
	}
	// A nil *platform.Client must not become a non-nil interface.
	if c.platform != nil {
		deps.Creator = c.platform
	}
	orch, err := pipeline.New(cfg.OrchestratorConfig(), deps)
	if err != nil {
		c.closeTelemetry(ctx)
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.orchestrator = orch

	return c, nil
}

// Orchestrator returns the request pipeline.
func (c *Controller) Orchestrator() *pipeline.Orchestrator { return c.orchestrator }

// Index returns the template index holder.
func (c *Controller) Index() *templates.Holder { return c.holder }

// Platform returns the platform client, or nil when creation is disabled.
func (c *Controller) Platform() *platform.Client { return c.platform }

// CachePath returns the configured index cache path, falling back to the
// user cache directory.
func (c *Controller) CachePath() (string, error) {
	return c.cfg.IndexCachePath()
}

// OpenCache opens the index cache so later builds reuse cached records.
func (c *Controller) OpenCache(ctx context.Context) error {
	path, err := c.CachePath()
	if err != nil {
		return err
	}
	cache, err := templates.OpenCache(ctx, templates.CacheConfig{Path: path})
	if err != nil {
		return err
	}
	c.cache = cache
	return nil
}

// Cache returns the open index cache, or nil.
func (c *Controller) Cache() *templates.Cache { return c.cache }

// buildIndex builds a fresh snapshot of the corpus.
func (c *Controller) buildIndex(ctx context.Context) (*templates.Index, error) {
	opts := []templates.BuildOption{templates.WithLogger(c.logger)}
	if n := c.cfg.Corpus.Concurrency; n > 0 {
		opts = append(opts, templates.WithConcurrency(n))
	}
	if c.cache != nil {
		opts = append(opts, templates.WithCache(c.cache))
	}
	ix, err := templates.Build(ctx, c.corpus, opts...)
	c.telemetry.Metrics().RecordIndexBuild(ctx, indexLen(ix), err)
	return ix, err
}

func indexLen(ix *templates.Index) int {
	if ix == nil {
		return 0
	}
	return ix.Len()
}

// LoadIndex builds the index and publishes it.
func (c *Controller) LoadIndex(ctx context.Context) (*templates.Index, error) {
	ix, err := c.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	c.holder.Swap(ix)
	c.logger.Info("template index loaded",
		slog.Int("templates", ix.Len()),
		slog.Int("skipped", ix.Skipped()),
		slog.String("location", ix.Location()))
	return ix, nil
}

// Router builds the HTTP API over the controller's components.
func (c *Controller) Router() *api.Router {
	deps := api.Deps{
		Pipeline:  c.orchestrator,
		Inference: c.inference,
		Index:     c.holder,
		Metrics:   c.telemetry.MetricsHandler(),
		Logger:    c.logger,
	}
	if c.platform != nil {
		deps.Platform = c.platform
	}
	srv := c.cfg.Server
	return api.NewRouter(api.Config{
		Version:          c.opts.Version,
		MaxMessageLength: srv.MaxMessageLength,
		CORS: api.CORSConfig{
			Enabled:          srv.CORS.Enabled,
			AllowedOrigins:   srv.CORS.AllowedOrigins,
			AllowedMethods:   srv.CORS.AllowedMethods,
			AllowedHeaders:   srv.CORS.AllowedHeaders,
			AllowCredentials: srv.CORS.AllowCredentials,
			MaxAge:           srv.CORS.MaxAge,
		},
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: srv.RateLimit.RequestsPerSecond,
			Burst:             srv.RateLimit.Burst,
		},
	}, deps)
}

// Start loads the index, starts the corpus watcher when configured, and
// serves HTTP until ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.cfg.Server.Addr, err)
	}
	return c.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (c *Controller) Serve(ctx context.Context, ln net.Listener) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		ln.Close()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.OpenCache(ctx); err != nil {
		c.logger.Warn("index cache unavailable; building without it", internallog.Error(err))
	}
	if _, err := c.LoadIndex(ctx); err != nil {
		ln.Close()
		return err
	}

	if c.cfg.Corpus.Watch && c.cfg.Corpus.Dir != "" {
		w, err := templates.NewWatcher(templates.WatcherConfig{
			Dir:           c.cfg.Corpus.Dir,
			Holder:        c.holder,
			Rebuild:       c.buildIndex,
			Logger:        internallog.WithComponent(c.logger, "watcher"),
			DebounceDelay: c.cfg.Corpus.WatchDebounce,
		})
		if err != nil {
			c.logger.Warn("corpus watcher not started", internallog.Error(err))
		} else {
			c.watcher = w
		}
	}

	c.logger.Info("n8n-agent starting",
		slog.String("version", c.opts.Version),
		slog.String("inference", c.inference.Name()),
		slog.Bool("creation_enabled", c.platform != nil))

	return c.Router().Serve(ctx, ln, c.cfg.Server.ShutdownTimeout)
}

// Close stops the watcher, closes the cache and flushes telemetry.
func (c *Controller) Close(ctx context.Context) error {
	var errs []error
	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if err := c.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Controller) closeTelemetry(ctx context.Context) {
	if err := c.telemetry.Shutdown(ctx); err != nil {
		c.logger.Warn("telemetry shutdown failed", internallog.Error(err))
	}
}
