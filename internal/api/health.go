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

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/n8n-agent/internal/tracing"
)

// Health states.
const (
	StatusHealthy       = "healthy"
	StatusDegraded      = "degraded"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not_configured"
)

// Service names reported by /health.
const (
	ServicePlatform  = "n8n"
	ServiceTemplates = "template_service"
	ServiceInference = "openrouter"
)

// HealthResponse is the response format for /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Services  []ServiceHealth `json:"services"`
	RequestID string          `json:"request_id"`
}

// ServiceHealth is the result of probing one dependency.
type ServiceHealth struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Detail         string `json:"detail,omitempty"`
	Error          string `json:"error,omitempty"`
}

// handleHealth handles GET /health. The index being unusable makes the
// service unhealthy; a missing inference provider or platform only
// degrades it.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := rt.checkHealth(r.Context())
	resp.RequestID = tracing.FromContext(r.Context()).String()

	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (rt *Router) checkHealth(ctx context.Context) HealthResponse {
	services := make([]ServiceHealth, 3)
	probes := []func(context.Context) ServiceHealth{
		rt.probePlatform,
		rt.probeTemplates,
		rt.probeInference,
	}

	// Probes report failures in their result, never as group errors.
	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, rt.cfg.HealthTimeout)
			defer cancel()
			start := time.Now()
			services[i] = probe(pctx)
			services[i].ResponseTimeMs = time.Since(start).Milliseconds()
			return nil
		})
	}
	_ = g.Wait()

	return HealthResponse{
		Status:    overallStatus(services),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}
}

func overallStatus(services []ServiceHealth) string {
	status := StatusHealthy
	for _, s := range services {
		switch {
		case s.Name == ServiceTemplates && s.Status != StatusHealthy:
			return StatusUnhealthy
		case s.Status != StatusHealthy:
			status = StatusDegraded
		}
	}
	return status
}

func (rt *Router) probePlatform(ctx context.Context) ServiceHealth {
	s := ServiceHealth{Name: ServicePlatform}
	if rt.deps.Platform == nil {
		s.Status = StatusNotConfigured
		s.Detail = "workflow creation disabled; previews only"
		return s
	}
	if err := rt.deps.Platform.Ping(ctx); err != nil {
		s.Status = StatusUnhealthy
		s.Error = err.Error()
		return s
	}
	s.Status = StatusHealthy
	return s
}

func (rt *Router) probeTemplates(ctx context.Context) ServiceHealth {
	s := ServiceHealth{Name: ServiceTemplates, Status: StatusUnhealthy}
	if rt.deps.Index == nil {
		s.Error = "template index not configured"
		return s
	}
	ix := rt.deps.Index.Load()
	switch {
	case ix == nil:
		s.Error = "template index not loaded"
	case ix.Len() == 0:
		s.Error = "template index is empty"
	default:
		s.Status = StatusHealthy
		s.Detail = fmt.Sprintf("%d templates from %s", ix.Len(), ix.Location())
	}
	return s
}

func (rt *Router) probeInference(ctx context.Context) ServiceHealth {
	s := ServiceHealth{Name: ServiceInference}
	if rt.deps.Inference == nil {
		s.Status = StatusNotConfigured
		return s
	}
	res := rt.deps.Inference.HealthCheck(ctx)
	if !res.Healthy {
		s.Status = StatusUnhealthy
		s.Error = res.Message
		if res.Error != nil {
			s.Error = res.Error.Error()
		}
		return s
	}
	s.Status = StatusHealthy
	s.Detail = res.Message
	return s
}
