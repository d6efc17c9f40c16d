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

// Package api serves the HTTP surface: /chat, /dryrun, /health, an
// OpenAI-compatible facade and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/pipeline"
	"github.com/tombee/n8n-agent/internal/tracing"
	"github.com/tombee/n8n-agent/pkg/llm"
)

// Pipeline runs requests.
type Pipeline interface {
	Chat(ctx context.Context, text string, activate bool) (*pipeline.Result, error)
	Preview(ctx context.Context, text string) (*pipeline.Result, error)
}

// Pinger checks the workflow platform.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the router.
type Config struct {
	// Version is reported by GET /.
	Version string

	// MaxMessageLength bounds request messages, in characters.
	MaxMessageLength int

	// HealthTimeout bounds each dependency probe.
	HealthTimeout time.Duration

	CORS      CORSConfig
	RateLimit RateLimitConfig
}

// Deps are the router's collaborators. Platform may be nil when creation
// is not configured; Metrics may be nil to disable /metrics.
type Deps struct {
	Pipeline  Pipeline
	Inference llm.Provider
	Index     pipeline.Snapshots
	Platform  Pinger
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Router serves the HTTP API.
type Router struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	handler http.Handler
}

// NewRouter creates a router and its middleware chain.
func NewRouter(cfg Config, deps Deps) *Router {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Router{
		cfg:    cfg,
		deps:   deps,
		logger: log.WithComponent(logger, "api"),
	}

	mux := http.NewServeMux()
	rt.RegisterRoutes(mux)

	limits := cfg.RateLimit
	limits.Exempt = append(limits.Exempt, "/health", "/metrics")

	rt.handler = chain(mux,
		tracing.Middleware,
		log.HTTPMiddleware(rt.logger),
		CORS(cfg.CORS),
		RateLimit(limits),
		Compress,
	)
	return rt
}

// RegisterRoutes registers API routes on the given mux.
func (rt *Router) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", rt.handleInfo)
	mux.HandleFunc("POST /chat", rt.handleChat)
	mux.HandleFunc("POST /dryrun", rt.handleDryRun)
	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.HandleFunc("GET /v1/models", rt.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", rt.handleChatCompletions)
	if rt.deps.Metrics != nil {
		mux.Handle("GET /metrics", rt.deps.Metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, r, http.StatusNotFound, "Not found.")
	})
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully, waiting up to shutdownTimeout for in-flight requests.
func (rt *Router) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           rt,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	rt.logger.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down http server", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
