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
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/n8n-agent/internal/pipeline"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

const (
	// ModelID is the model name the OpenAI-compatible facade reports.
	ModelID = "n8n-workflow-assistant"

	modelOwner = "n8n-agent-api"
)

// ModelList is the reply to GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model describes one model.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// CompletionMessage is one chat message.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the body of POST /v1/chat/completions. Sampling
// fields are accepted and ignored.
type CompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []CompletionMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// CompletionResponse mirrors the OpenAI chat completion object.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

// CompletionChoice is one generated reply.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionUsage is an approximate token count.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

var startTime = time.Now()

// handleModels handles GET /v1/models.
func (rt *Router) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelList{
		Object: "list",
		Data: []Model{{
			ID:      ModelID,
			Object:  "model",
			Created: startTime.Unix(),
			OwnedBy: modelOwner,
		}},
	})
}

// handleChatCompletions handles POST /v1/chat/completions by running the
// last user message through the chat pipeline without activation.
func (rt *Router) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		rt.writeError(w, r, &agenterrors.ValidationError{Field: "body", Message: "could not read request body"})
		return
	}
	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		rt.writeError(w, r, &agenterrors.ValidationError{Field: "body", Message: "request body must be a JSON object"})
		return
	}
	if req.Stream {
		rt.writeError(w, r, &agenterrors.ValidationError{Field: "stream", Message: "streaming responses are not supported"})
		return
	}

	text := lastUserMessage(req.Messages)
	if text == "" {
		rt.writeError(w, r, &agenterrors.ValidationError{Field: "messages", Message: "at least one user message is required"})
		return
	}
	if err := rt.validateMessage(text); err != nil {
		rt.writeError(w, r, err)
		return
	}

	res, err := rt.deps.Pipeline.Chat(r.Context(), text, false)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	content := completionContent(res)
	prompt, completion := estimateTokens(text), estimateTokens(content)
	writeJSON(w, http.StatusOK, CompletionResponse{
		ID:      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:29],
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   ModelID,
		Choices: []CompletionChoice{{
			Message:      CompletionMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: CompletionUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	})
}

func lastUserMessage(msgs []CompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Content) != "" {
			return msgs[i].Content
		}
	}
	return ""
}

func completionContent(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString(res.Message)
	if c := res.Creation; c != nil {
		b.WriteString("\n\nWorkflow details:\n")
		if c.WorkflowID != "" {
			fmt.Fprintf(&b, "- ID: %s\n", c.WorkflowID)
		}
		if c.EditorURL != "" {
			fmt.Fprintf(&b, "- Editor: %s\n", c.EditorURL)
		}
		fmt.Fprintf(&b, "- Active: %t", c.Active)
	}
	return b.String()
}

// estimateTokens approximates tokens as 1.3 per word.
func estimateTokens(s string) int {
	return int(math.Round(float64(len(strings.Fields(s))) * 1.3))
}
