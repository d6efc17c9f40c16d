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

package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// DefaultWorkflowName is used when a template has no name.
const DefaultWorkflowName = "Imported Workflow"

// UnconfirmedWarning is reported when creation succeeded but the platform
// response carried no readable workflow id.
const UnconfirmedWarning = "the platform accepted the workflow but did not return its id; find it in the editor"

// creatableFields are the workflow properties both API prefixes accept on
// create. Everything else (id, active, tags, pinData, versionId, meta, ...)
// is dropped.
var creatableFields = []string{"name", "nodes", "connections", "settings", "staticData"}

// CreationResult describes a workflow created on the platform.
type CreationResult struct {
	WorkflowID string
	Name       string
	EditorURL  string

	// Active is true only when activation was requested and succeeded.
	Active bool

	// Warnings explain best-effort steps that did not complete.
	Warnings []string
}

// WorkflowSummary is one entry of ListWorkflows.
type WorkflowSummary struct {
	ID     FlexibleID `json:"id"`
	Name   string     `json:"name"`
	Active bool       `json:"active"`
}

// FlexibleID accepts workflow ids encoded as strings (current n8n) or
// numbers (older releases).
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("workflow id: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

// Sanitize prepares a template body for creation: it keeps only creatable
// fields and fills in the name and settings when they are missing.
func Sanitize(body []byte) (map[string]any, error) {
	var wf map[string]any
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("template body is not a JSON object: %w", err)
	}
	if wf == nil {
		return nil, fmt.Errorf("template body is not a JSON object")
	}

	out := make(map[string]any, len(creatableFields))
	for _, k := range creatableFields {
		if v, ok := wf[k]; ok && v != nil {
			out[k] = v
		}
	}
	if name, _ := out["name"].(string); strings.TrimSpace(name) == "" {
		out["name"] = DefaultWorkflowName
	}
	if _, ok := out["settings"].(map[string]any); !ok {
		out["settings"] = map[string]any{}
	}
	if _, ok := out["connections"]; !ok {
		out["connections"] = map[string]any{}
	}
	return out, nil
}

// Create creates a workflow from body and, when activate is set, tries to
// activate it. Activation is best effort: a failure leaves the workflow in
// place, reports Active=false and adds a warning. Any 2xx reply to the
// create call counts as created; when its body has no id the result has
// an empty WorkflowID, stays inactive and carries UnconfirmedWarning.
func (c *Client) Create(ctx context.Context, body []byte, activate bool) (*CreationResult, error) {
	payload, err := Sanitize(body)
	if err != nil {
		return nil, &agenterrors.PlatformError{Kind: agenterrors.CreationRejected, Reason: err.Error()}
	}

	var (
		created struct {
			ID   FlexibleID `json:"id"`
			Name string     `json:"name"`
		}
		decodeErr error
	)
	err = c.withConvention(ctx, func(prefix string) error {
		resp, err := c.call(ctx, http.MethodPost, prefix, "/workflows", payload)
		if err != nil {
			return err
		}
		if err := classify(resp); err != nil {
			return err
		}
		// A 2xx means the workflow exists, whatever the body says.
		decodeErr = decodeEnvelope(resp.body, &created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil || created.ID == "" {
		return c.unconfirmed(payload, decodeErr), nil
	}

	result := &CreationResult{
		WorkflowID: string(created.ID),
		Name:       created.Name,
		EditorURL:  c.EditorURL(string(created.ID)),
	}
	c.logger.Info("created workflow", "workflow_id", result.WorkflowID, "name", result.Name)

	if !activate {
		return result, nil
	}
	if err := c.Activate(ctx, result.WorkflowID); err != nil {
		c.logger.Warn("workflow activation failed", "workflow_id", result.WorkflowID, "error", err)
		result.Warnings = append(result.Warnings, "activation failed: "+activationReason(err))
		return result, nil
	}
	result.Active = true
	return result, nil
}

// unconfirmed describes a workflow the platform accepted without returning
// a usable id. It cannot be activated or linked, so the result says so
// instead of failing: a retry would create a duplicate.
func (c *Client) unconfirmed(payload map[string]any, decodeErr error) *CreationResult {
	name, _ := payload["name"].(string)
	attrs := []any{"name", name}
	if decodeErr != nil {
		attrs = append(attrs, "error", decodeErr)
	}
	c.logger.Warn("workflow created but the response had no workflow id", attrs...)
	return &CreationResult{
		Name:      name,
		EditorURL: c.editorURL,
		Warnings:  []string{UnconfirmedWarning},
	}
}

// Activate switches a workflow on. /api/v1 has a dedicated endpoint; the
// legacy prefix toggles the active flag with a PATCH.
func (c *Client) Activate(ctx context.Context, workflowID string) error {
	path := "/workflows/" + url.PathEscape(workflowID)
	return c.withConvention(ctx, func(prefix string) error {
		var resp *response
		var err error
		if prefix == PathREST || strings.HasSuffix(prefix, PathREST) {
			resp, err = c.call(ctx, http.MethodPatch, prefix, path, map[string]any{"active": true})
		} else {
			resp, err = c.call(ctx, http.MethodPost, prefix, path+"/activate", nil)
		}
		if err != nil {
			return err
		}
		return classify(resp)
	})
}

// ListWorkflows returns the workflows on the instance. Both a bare array
// and a {"data": [...]} envelope are accepted.
func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	var out []WorkflowSummary
	err := c.withConvention(ctx, func(prefix string) error {
		resp, err := c.call(ctx, http.MethodGet, prefix, "/workflows", nil)
		if err != nil {
			return err
		}
		if err := classify(resp); err != nil {
			return err
		}
		out, err = decodeList(resp.body)
		return err
	})
	return out, err
}

// Ping checks that the API answers with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListWorkflows(ctx)
	return err
}

func decodeList(body []byte) ([]WorkflowSummary, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var list []WorkflowSummary
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode workflow list: %w", err)
		}
		return list, nil
	}
	var env struct {
		Data []WorkflowSummary `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode workflow list: %w", err)
	}
	return env.Data, nil
}

// decodeEnvelope decodes v from body, unwrapping a legacy {"data": {...}}
// envelope when present.
func decodeEnvelope(body []byte, v any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		return json.Unmarshal(env.Data, v)
	}
	return json.Unmarshal(body, v)
}

func activationReason(err error) string {
	var pe *agenterrors.PlatformError
	if errors.As(err, &pe) {
		if pe.Reason != "" {
			return pe.Reason
		}
		if pe.StatusCode != 0 {
			return "HTTP " + strconv.Itoa(pe.StatusCode)
		}
	}
	return err.Error()
}
