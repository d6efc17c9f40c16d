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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/tracing"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// ErrorBody is the envelope every failed request returns.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id"`
	Type       string `json:"type,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Message:    message,
		StatusCode: status,
		RequestID:  tracing.FromContext(r.Context()).String(),
	}})
}

// statusClientClosed is logged when the caller went away mid-request.
const statusClientClosed = 499

// statusFor maps a recognized failure to an HTTP status. Unrecognized
// errors are internal faults.
func statusFor(err error) (int, bool) {
	var (
		ve *agenterrors.ValidationError
		ee *agenterrors.ExtractionError
		ce *agenterrors.CorpusError
		pe *agenterrors.PlatformError
		te *agenterrors.TimeoutError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, true
	case errors.As(err, &pe):
		switch pe.Kind {
		case agenterrors.PlatformUnreachable:
			return http.StatusServiceUnavailable, true
		default:
			return http.StatusBadGateway, true
		}
	case errors.As(err, &ee):
		if ee.Kind == agenterrors.MalformedExtraction {
			return http.StatusUnprocessableEntity, true
		}
		return http.StatusServiceUnavailable, true
	case errors.As(err, &ce):
		return http.StatusServiceUnavailable, true
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	case errors.Is(err, context.Canceled):
		return statusClientClosed, true
	}
	return http.StatusInternalServerError, false
}

// writeError renders err in the error envelope. Recognized conditions
// carry their user message; anything else is logged and reported as an
// internal error.
func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, known := statusFor(err)
	id := tracing.FromContext(r.Context()).String()
	detail := ErrorDetail{
		StatusCode: status,
		RequestID:  id,
		Type:       agenterrors.Classify(err),
	}

	var uv agenterrors.UserVisibleError
	switch {
	case !known:
		rt.logger.Error("unexpected failure",
			slog.String(log.RequestIDKey, id),
			slog.String("path", r.URL.Path),
			log.Error(err),
		)
		detail.Message = "Internal server error."
		detail.Type = "internal"
	case errors.As(err, &uv) && uv.IsUserVisible():
		detail.Message = uv.UserMessage()
		detail.Suggestion = uv.Suggestion()
	case status == http.StatusGatewayTimeout:
		detail.Message = "The request took too long to complete."
	case status == statusClientClosed:
		detail.Message = "The request was canceled."
	default:
		detail.Message = err.Error()
	}

	writeJSON(w, status, ErrorBody{Error: detail})
}
