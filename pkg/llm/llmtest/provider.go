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

// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/tombee/n8n-agent/pkg/llm"
)

// Reply is one scripted answer: either Content or Err.
type Reply struct {
	Content string
	Err     error
}

// Provider replays scripted replies in order. Once the script is exhausted
// the last reply repeats. Respond, when set, takes precedence and computes
// the reply from the request.
type Provider struct {
	Script  []Reply
	Respond func(req llm.CompletionRequest) Reply
	Healthy bool

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "fake" }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	var r Reply
	switch {
	case p.Respond != nil:
		r = p.Respond(req)
	case len(p.Script) == 0:
		r = Reply{Content: "{}"}
	case n < len(p.Script):
		r = p.Script[n]
	default:
		r = p.Script[len(p.Script)-1]
	}

	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content, FinishReason: "stop", Model: "fake"}, nil
}

// HealthCheck implements llm.Provider.
func (p *Provider) HealthCheck(context.Context) llm.HealthCheckResult {
	if p.Healthy {
		return llm.HealthCheckResult{Healthy: true, Message: "ok"}
	}
	return llm.HealthCheckResult{Message: "unavailable"}
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

// Calls returns how many requests were received.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
