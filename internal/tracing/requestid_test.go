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

package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_GeneratesID(t *testing.T) {
	var seen RequestID
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.NotEmpty(t, seen)
	assert.True(t, seen.IsValid())
	assert.Equal(t, seen.String(), rec.Header().Get(HeaderRequestID))
}

func TestMiddleware_PropagatesCallerID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		keep   bool
	}{
		{"request id", HeaderRequestID, "req-123", true},
		{"correlation id", HeaderCorrelationID, "6f1c2a9e-0d4b-4c8e-9b7a-1e2f3a4b5c6d", true},
		{"header injection rejected", HeaderRequestID, "bad id\r\nX-Evil: 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen RequestID
			h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			req.Header.Set(tt.header, tt.value)
			h.ServeHTTP(httptest.NewRecorder(), req)

			if tt.keep {
				assert.Equal(t, RequestID(tt.value), seen)
			} else {
				assert.NotEqual(t, RequestID(tt.value), seen)
				assert.True(t, seen.IsValid())
			}
		})
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, id := EnsureContext(context.Background())
	require.NotEmpty(t, id)

	again, id2 := EnsureContext(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, again)
}

func TestInjectIntoRequest(t *testing.T) {
	ctx := ToContext(context.Background(), "req-9")
	req := httptest.NewRequest(http.MethodGet, "http://n8n/api/v1/workflows", nil)
	InjectIntoRequest(ctx, req)
	assert.Equal(t, "req-9", req.Header.Get(HeaderRequestID))

	bare := httptest.NewRequest(http.MethodGet, "http://n8n/api/v1/workflows", nil)
	InjectIntoRequest(context.Background(), bare)
	assert.Empty(t, bare.Header.Get(HeaderRequestID))
}
