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

package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/n8n-agent/internal/intent"
	"github.com/tombee/n8n-agent/internal/pipeline"
	"github.com/tombee/n8n-agent/internal/platform"
	"github.com/tombee/n8n-agent/internal/templates"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

type fakePipeline struct {
	result   *pipeline.Result
	err      error
	text     string
	activate bool
	chats    int
}

func (f *fakePipeline) Chat(_ context.Context, text string, activate bool) (*pipeline.Result, error) {
	f.text, f.activate = text, activate
	f.chats++
	return f.result, f.err
}

func (f *fakePipeline) Preview(_ context.Context, text string) (*pipeline.Result, error) {
	f.text = text
	return f.result, f.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func newTestServer(t *testing.T, p Pipeline) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{Pipeline: p})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return s
}

var slackCandidate = templates.Candidate{
	Template: &templates.Record{
		ID:           "webhook-to-slack",
		Name:         "Webhook to Slack Message",
		Integrations: []string{"Slack", "Webhook"},
		TriggerType:  intent.TriggerWebhook,
	},
	Score:     12,
	Relevance: 0.8,
}

func TestNewServer_Defaults(t *testing.T) {
	s := newTestServer(t, &fakePipeline{})
	if s.name != "n8n-agent" {
		t.Errorf("server.name = %q, want %q", s.name, "n8n-agent")
	}
	if s.version != "dev" {
		t.Errorf("server.version = %q, want %q", s.version, "dev")
	}
	if s.logger == nil {
		t.Error("server.logger is nil")
	}
}

func TestNewServer_RequiresPipeline(t *testing.T) {
	s, err := NewServer(ServerConfig{})
	if err == nil {
		t.Error("NewServer() without a pipeline should return error")
	}
	if s != nil {
		t.Errorf("NewServer() should return nil server on error, got %v", s)
	}
}

func TestFindTemplates(t *testing.T) {
	fp := &fakePipeline{result: &pipeline.Result{
		RequestID:  "req-1",
		Outcome:    pipeline.OutcomePreview,
		Intent:     &intent.Intent{Integrations: []string{"Slack"}, TriggerType: intent.TriggerWebhook},
		Confidence: 0.7,
		Candidates: []templates.Candidate{slackCandidate},
		Message:    "Found 1 matching template.",
	}}
	s := newTestServer(t, fp)

	res, err := s.handleFindTemplates(context.Background(), callRequest(ToolFindTemplates, map[string]any{
		"request": "  post webhook payloads to slack  ",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if fp.text != "post webhook payloads to slack" {
		t.Errorf("pipeline got %q, want trimmed request", fp.text)
	}

	var out FindTemplatesResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out.RequestID != "req-1" || len(out.Templates) != 1 {
		t.Fatalf("unexpected result: %+v", out)
	}
	if got := out.Templates[0]; got.ID != "webhook-to-slack" || got.Relevance != 0.8 {
		t.Errorf("template = %+v", got)
	}
	if out.Intent == nil || out.Intent.TriggerType != intent.TriggerWebhook {
		t.Errorf("intent = %+v", out.Intent)
	}
}

func TestFindTemplates_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing", map[string]any{}},
		{"blank", map[string]any{"request": "   "}},
		{"too long", map[string]any{"request": strings.Repeat("a", maxRequestLength+1)}},
		{"wrong type", map[string]any{"request": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakePipeline{}
			s := newTestServer(t, fp)
			res, err := s.handleFindTemplates(context.Background(), callRequest(ToolFindTemplates, tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !res.IsError {
				t.Errorf("expected tool error, got %s", resultText(t, res))
			}
			if fp.text != "" {
				t.Error("pipeline should not run for invalid input")
			}
		})
	}
}

func TestCreateWorkflow_Created(t *testing.T) {
	fp := &fakePipeline{result: &pipeline.Result{
		RequestID:  "req-2",
		Outcome:    pipeline.OutcomeCreated,
		Candidates: []templates.Candidate{slackCandidate},
		Creation: &platform.CreationResult{
			WorkflowID: "wf-9",
			EditorURL:  "http://n8n.localhost/workflow/wf-9",
			Active:     true,
		},
		Message: "Created workflow.",
	}}
	s := newTestServer(t, fp)

	res, err := s.handleCreateWorkflow(context.Background(), callRequest(ToolCreateWorkflow, map[string]any{
		"request":  "post webhook payloads to slack",
		"activate": true,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !fp.activate {
		t.Error("activate flag was not forwarded")
	}

	var out CreateWorkflowResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out.Outcome != "created" || out.WorkflowID != "wf-9" || !out.Active {
		t.Errorf("unexpected result: %+v", out)
	}
	if len(out.Candidates) != 0 {
		t.Errorf("candidates are only reported when clarifying, got %d", len(out.Candidates))
	}
}

func TestCreateWorkflow_Clarify(t *testing.T) {
	fp := &fakePipeline{result: &pipeline.Result{
		Outcome:    pipeline.OutcomeClarify,
		Candidates: []templates.Candidate{slackCandidate},
		Message:    "Which of these did you mean?",
	}}
	s := newTestServer(t, fp)

	res, _ := s.handleCreateWorkflow(context.Background(), callRequest(ToolCreateWorkflow, map[string]any{"request": "slack"}))
	var out CreateWorkflowResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out.WorkflowID != "" {
		t.Errorf("nothing should be created, got %q", out.WorkflowID)
	}
	if len(out.Candidates) != 1 {
		t.Errorf("candidates = %d, want 1", len(out.Candidates))
	}
	if fp.activate {
		t.Error("activate should default to false")
	}
}

func TestToolErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "user visible",
			err:  &agenterrors.PlatformError{Kind: agenterrors.AuthenticationFailed, StatusCode: 401, Reason: "bad key"},
			want: "Authentication with the workflow platform failed",
		},
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: "took too long",
		},
		{
			name: "internal",
			err:  errSecret,
			want: "Internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakePipeline{err: tt.err})
			res, err := s.handleCreateWorkflow(context.Background(), callRequest(ToolCreateWorkflow, map[string]any{"request": "anything"}))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			text := resultText(t, res)
			if !strings.Contains(text, tt.want) {
				t.Errorf("error text %q does not contain %q", text, tt.want)
			}
			if strings.Contains(text, errSecret.Error()) {
				t.Errorf("internal details leaked: %q", text)
			}
		})
	}
}

var errSecret = &agenterrors.ConfigError{Key: "platform.api_key", Reason: "secret detail"}

func TestRateLimit(t *testing.T) {
	fp := &fakePipeline{result: &pipeline.Result{Outcome: pipeline.OutcomeNoMatch}}
	s, err := NewServer(ServerConfig{Pipeline: fp, CreatesPerMinute: 2})
	if err != nil {
		t.Fatal(err)
	}
	req := callRequest(ToolCreateWorkflow, map[string]any{"request": "slack"})

	for i := 0; i < 2; i++ {
		res, _ := s.handleCreateWorkflow(context.Background(), req)
		if res.IsError {
			t.Fatalf("call %d rejected: %s", i, resultText(t, res))
		}
	}
	res, _ := s.handleCreateWorkflow(context.Background(), req)
	if !res.IsError || !strings.Contains(resultText(t, res), "Rate limit") {
		t.Error("third create should be rate limited")
	}
	if fp.chats != 2 {
		t.Errorf("pipeline ran %d times, want 2", fp.chats)
	}

	// Previews have their own larger budget.
	res, _ = s.handleFindTemplates(context.Background(), callRequest(ToolFindTemplates, map[string]any{"request": "slack"}))
	if res.IsError {
		t.Errorf("preview should not be limited: %s", resultText(t, res))
	}
}
