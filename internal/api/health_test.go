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
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/templates"
	"github.com/tombee/n8n-agent/pkg/llm/llmtest"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func loadedHolder(t *testing.T) *templates.Holder {
	t.Helper()
	ix, err := templates.Build(context.Background(), templates.Starter(), templates.WithLogger(log.Discard()))
	require.NoError(t, err)
	return templates.NewHolder(ix)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		deps       Deps
		wantStatus string
		wantCode   int
		services   map[string]string
	}{
		{
			name: "all healthy",
			deps: Deps{
				Inference: &llmtest.Provider{Healthy: true},
				Index:     loadedHolder(t),
				Platform:  fakePinger{},
			},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
			services:   map[string]string{ServicePlatform: StatusHealthy, ServiceTemplates: StatusHealthy, ServiceInference: StatusHealthy},
		},
		{
			name: "platform down degrades",
			deps: Deps{
				Inference: &llmtest.Provider{Healthy: true},
				Index:     loadedHolder(t),
				Platform:  fakePinger{err: errors.New("connection refused")},
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
			services:   map[string]string{ServicePlatform: StatusUnhealthy},
		},
		{
			name: "no platform configured degrades",
			deps: Deps{
				Inference: &llmtest.Provider{Healthy: true},
				Index:     loadedHolder(t),
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
			services:   map[string]string{ServicePlatform: StatusNotConfigured},
		},
		{
			name: "inference down degrades",
			deps: Deps{
				Inference: &llmtest.Provider{},
				Index:     loadedHolder(t),
				Platform:  fakePinger{},
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
			services:   map[string]string{ServiceInference: StatusUnhealthy},
		},
		{
			name: "index not loaded is unhealthy",
			deps: Deps{
				Inference: &llmtest.Provider{Healthy: true},
				Index:     &templates.Holder{},
				Platform:  fakePinger{},
			},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
			services:   map[string]string{ServiceTemplates: StatusUnhealthy},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.deps.Pipeline = &fakePipeline{}
			tt.deps.Logger = log.Discard()
			rec := do(t, NewRouter(Config{}, tt.deps), http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			resp := decode[HealthResponse](t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.NotEmpty(t, resp.RequestID)
			assert.NotEmpty(t, resp.Timestamp)
			require.Len(t, resp.Services, 3)

			got := make(map[string]string)
			for _, s := range resp.Services {
				got[s.Name] = s.Status
				if s.Status == StatusUnhealthy && s.Name != ServiceTemplates {
					assert.NotEmpty(t, s.Error, s.Name)
				}
			}
			for name, status := range tt.services {
				assert.Equal(t, status, got[name], name)
			}
		})
	}
}

func TestHealth_ServiceOrder(t *testing.T) {
	rt := NewRouter(Config{}, Deps{Pipeline: &fakePipeline{}, Index: loadedHolder(t), Logger: log.Discard()})
	resp := rt.checkHealth(context.Background())
	names := []string{resp.Services[0].Name, resp.Services[1].Name, resp.Services[2].Name}
	assert.Equal(t, []string{ServicePlatform, ServiceTemplates, ServiceInference}, names)
	assert.Contains(t, resp.Services[1].Detail, "templates from embedded:starter")
}
