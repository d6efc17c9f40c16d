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
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/n8n-agent/internal/intent"
	"github.com/tombee/n8n-agent/internal/pipeline"
	"github.com/tombee/n8n-agent/internal/templates"
)

// Tool names.
const (
	ToolFindTemplates  = "find_templates"
	ToolCreateWorkflow = "create_workflow"
)

// maxRequestLength matches the HTTP surface's default message limit.
const maxRequestLength = 2000

// TemplateMatch describes one candidate template.
type TemplateMatch struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Relevance    float64            `json:"relevance"`
	Integrations []string           `json:"integrations"`
	TriggerType  intent.TriggerType `json:"trigger_type"`
}

// FindTemplatesResult is the find_templates tool output.
type FindTemplatesResult struct {
	RequestID  string          `json:"request_id"`
	Intent     *intent.Intent  `json:"intent,omitempty"`
	Confidence float64         `json:"confidence"`
	Templates  []TemplateMatch `json:"templates"`
	Message    string          `json:"message"`
}

// CreateWorkflowResult is the create_workflow tool output.
type CreateWorkflowResult struct {
	RequestID  string          `json:"request_id"`
	Outcome    string          `json:"outcome"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	EditorURL  string          `json:"editor_url,omitempty"`
	Active     bool            `json:"active"`
	Message    string          `json:"message"`
	Candidates []TemplateMatch `json:"candidates,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

func matches(cands []templates.Candidate) []TemplateMatch {
	out := make([]TemplateMatch, 0, len(cands))
	for _, c := range cands {
		out = append(out, TemplateMatch{
			ID:           c.Template.ID,
			Name:         c.Template.Name,
			Description:  c.Template.Description,
			Relevance:    c.Relevance,
			Integrations: c.Template.Integrations,
			TriggerType:  c.Template.TriggerType,
		})
	}
	return out
}

// requestText reads and checks the request argument.
func requestText(request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	text, err := request.RequireString("request")
	if err != nil {
		return "", mcp.NewToolResultError("request is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", mcp.NewToolResultError("request must not be empty")
	}
	if n := len([]rune(text)); n > maxRequestLength {
		return "", mcp.NewToolResultError(fmt.Sprintf("request is %d characters; the limit is %d", n, maxRequestLength))
	}
	return text, nil
}

// handleFindTemplates implements the find_templates tool
func (s *Server) handleFindTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return mcp.NewToolResultError("Rate limit exceeded. Please try again later."), nil
	}
	text, bad := requestText(request)
	if bad != nil {
		return bad, nil
	}

	res, err := s.pipeline.Preview(ctx, text)
	if err != nil {
		return s.errorResponse(err), nil
	}

	return jsonResponse(FindTemplatesResult{
		RequestID:  res.RequestID,
		Intent:     res.Intent,
		Confidence: res.Confidence,
		Templates:  matches(res.Candidates),
		Message:    res.Message,
	})
}

// handleCreateWorkflow implements the create_workflow tool
func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() || !s.rateLimiter.AllowCreate() {
		return mcp.NewToolResultError("Rate limit exceeded. Please try again later."), nil
	}
	text, bad := requestText(request)
	if bad != nil {
		return bad, nil
	}
	activate := request.GetBool("activate", false)

	res, err := s.pipeline.Chat(ctx, text, activate)
	if err != nil {
		return s.errorResponse(err), nil
	}

	out := CreateWorkflowResult{
		RequestID: res.RequestID,
		Outcome:   string(res.Outcome),
		Message:   res.Message,
	}
	if res.Outcome == pipeline.OutcomeClarify {
		out.Candidates = matches(res.Candidates)
	}
	if c := res.Creation; c != nil {
		out.WorkflowID = c.WorkflowID
		out.EditorURL = c.EditorURL
		out.Active = c.Active
		out.Warnings = c.Warnings
	}
	return jsonResponse(out)
}

func jsonResponse(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return textResponse(string(b)), nil
}
