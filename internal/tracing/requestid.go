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
	"regexp"

	"github.com/google/uuid"
)

// RequestID identifies one inbound request across logs, spans and responses.
type RequestID string

type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

const (
	// HeaderRequestID is the primary header carrying the request identifier.
	HeaderRequestID = "X-Request-ID"

	// HeaderCorrelationID is accepted on input for callers that already
	// propagate a correlation id.
	HeaderCorrelationID = "X-Correlation-ID"
)

// Caller-supplied ids are accepted when they are short and header-safe.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewRequestID generates a new random request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.New().String())
}

// String returns the string representation.
func (id RequestID) String() string {
	return string(id)
}

// IsValid reports whether the id is acceptable as a propagated identifier.
func (id RequestID) IsValid() bool {
	return requestIDPattern.MatchString(string(id))
}

// ToContext stores the request id in ctx.
func ToContext(ctx context.Context, id RequestID) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// FromContext returns the request id stored in ctx, or "" when there is none.
func FromContext(ctx context.Context) RequestID {
	if id, ok := ctx.Value(requestIDKey).(RequestID); ok {
		return id
	}
	return ""
}

// EnsureContext returns ctx unchanged when it already carries a request id,
// otherwise a child context with a freshly generated one.
func EnsureContext(ctx context.Context) (context.Context, RequestID) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewRequestID()
	return ToContext(ctx, id), id
}

// ExtractFromRequest reads the request id from X-Request-ID, falling back
// to X-Correlation-ID.
func ExtractFromRequest(r *http.Request) (RequestID, bool) {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return RequestID(id), true
	}
	if id := r.Header.Get(HeaderCorrelationID); id != "" {
		return RequestID(id), true
	}
	return "", false
}

// InjectIntoRequest copies the context's request id onto an outbound request.
func InjectIntoRequest(ctx context.Context, req *http.Request) {
	if id := FromContext(ctx); id != "" {
		req.Header.Set(HeaderRequestID, id.String())
	}
}

// Middleware assigns every inbound request an id. A valid caller-supplied
// id is kept; anything else is replaced by a generated one. The id is
// stored in the request context and echoed in the X-Request-ID response header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, found := ExtractFromRequest(r)
		if !found || !id.IsValid() {
			id = NewRequestID()
		}

		r = r.WithContext(ToContext(r.Context(), id))
		w.Header().Set(HeaderRequestID, id.String())

		next.ServeHTTP(w, r)
	})
}
