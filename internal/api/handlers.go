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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/tombee/n8n-agent/internal/pipeline"
	"github.com/tombee/n8n-agent/internal/templates"
	"github.com/tombee/n8n-agent/internal/tracing"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message  string `json:"message"`
	Activate bool   `json:"activate,omitempty"`
}

// ChatResponse is the reply to POST /chat. WorkflowID and EditorURL are
// null unless a workflow was created.
type ChatResponse struct {
	WorkflowID *string           `json:"workflow_id"`
	EditorURL  *string           `json:"editor_url"`
	Active     bool              `json:"active"`
	Message    string            `json:"message"`
	RequestID  string            `json:"request_id"`
	Outcome    string            `json:"outcome"`
	Candidates []TemplateSummary `json:"candidates,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// DryRunRequest is the body of POST /dryrun.
type DryRunRequest struct {
	Message string `json:"message"`
}

// DryRunResponse is the reply to POST /dryrun.
type DryRunResponse struct {
	Templates  []TemplateSummary `json:"templates"`
	RequestID  string            `json:"request_id"`
	Intent     *IntentSummary    `json:"intent,omitempty"`
	Confidence float64           `json:"confidence"`
	Message    string            `json:"message,omitempty"`
}

// TemplateSummary describes one ranked template. Score is the relevance
// in [0,1].
type TemplateSummary struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// IntentSummary is the corrected intent behind a dry run.
type IntentSummary struct {
	Integrations []string `json:"integrations"`
	TriggerType  string   `json:"trigger_type"`
	Operations   []string `json:"operations"`
}

// InfoResponse is the reply to GET /.
type InfoResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Endpoints   []string `json:"endpoints"`
}

func summarize(cands []templates.Candidate) []TemplateSummary {
	out := make([]TemplateSummary, 0, len(cands))
	for _, c := range cands {
		out = append(out, TemplateSummary{
			ID:          c.Template.ID,
			Name:        c.Template.Name,
			Score:       c.Relevance,
			Description: c.Template.Description,
		})
	}
	return out
}

// decodeMessage reads a JSON body into v and validates its message.
func (rt *Router) decodeMessage(r *http.Request, v any, message func() string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return &agenterrors.ValidationError{Field: "body", Message: "could not read request body"}
	}
	if len(body) > maxBodyBytes {
		return &agenterrors.ValidationError{Field: "body", Message: fmt.Sprintf("request body exceeds %d bytes", maxBodyBytes)}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &agenterrors.ValidationError{
			Field:       "body",
			Message:     "request body must be a JSON object",
			SuggestText: `send {"message": "..."}`,
		}
	}
	return rt.validateMessage(message())
}

func (rt *Router) validateMessage(msg string) error {
	n := utf8.RuneCountInString(msg)
	if n < 1 || n > rt.cfg.MaxMessageLength {
		return &agenterrors.ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("must be between 1 and %d characters, got %d", rt.cfg.MaxMessageLength, n),
		}
	}
	return nil
}

// handleInfo handles GET /.
func (rt *Router) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Name:        "n8n Agent API",
		Version:     rt.cfg.Version,
		Description: "Intelligent agent interface for n8n workflow automation",
		Endpoints:   []string{"/chat", "/dryrun", "/health", "/v1/models", "/v1/chat/completions"},
	})
}

// handleChat handles POST /chat.
func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := rt.decodeMessage(r, &req, func() string { return req.Message }); err != nil {
		rt.writeError(w, r, err)
		return
	}

	res, err := rt.deps.Pipeline.Chat(r.Context(), req.Message, req.Activate)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse(res))
}

func chatResponse(res *pipeline.Result) ChatResponse {
	out := ChatResponse{
		Message:   res.Message,
		RequestID: res.RequestID,
		Outcome:   string(res.Outcome),
	}
	if res.Creation != nil {
		id, url := res.Creation.WorkflowID, res.Creation.EditorURL
		if id != "" {
			out.WorkflowID = &id
		}
		if url != "" {
			out.EditorURL = &url
		}
		out.Active = res.Creation.Active
		out.Warnings = res.Creation.Warnings
	}
	if res.Outcome == pipeline.OutcomeClarify {
		out.Candidates = summarize(res.Candidates)
	}
	return out
}

// handleDryRun handles POST /dryrun.
func (rt *Router) handleDryRun(w http.ResponseWriter, r *http.Request) {
	var req DryRunRequest
	if err := rt.decodeMessage(r, &req, func() string { return req.Message }); err != nil {
		rt.writeError(w, r, err)
		return
	}

	res, err := rt.deps.Pipeline.Preview(r.Context(), req.Message)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	out := DryRunResponse{
		Templates:  summarize(res.Candidates),
		RequestID:  res.RequestID,
		Confidence: res.Confidence,
		Message:    res.Message,
	}
	if out.RequestID == "" {
		out.RequestID = tracing.FromContext(r.Context()).String()
	}
	if in := res.Intent; in != nil {
		out.Intent = &IntentSummary{
			Integrations: in.Integrations,
			TriggerType:  string(in.TriggerType),
			Operations:   in.Operations,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
