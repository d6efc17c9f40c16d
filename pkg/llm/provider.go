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

// Package llm defines the inference provider abstraction used for intent
// extraction.
package llm

import (
	"context"
	"time"
)

// Provider is a chat-completion inference backend.
// Implementations issue exactly one upstream call per Complete and never retry.
type Provider interface {
	// Name returns the provider identifier (e.g., "openrouter").
	Name() string

	// Complete sends a synchronous completion request.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// HealthCheck probes the provider without spending tokens.
	HealthCheck(ctx context.Context) HealthCheckResult
}

// CompletionRequest is a single chat-completion call.
type CompletionRequest struct {
	Messages []Message

	// Model overrides the provider default when non-empty.
	Model string

	// Temperature is nil to use the provider default.
	Temperature *float64

	// MaxTokens bounds the completion length; nil uses the provider default.
	MaxTokens *int
}

// Message is one chat turn.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole identifies the author of a message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// CompletionResponse is the provider's answer.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        TokenUsage
	Model        string
	RequestID    string
}

// TokenUsage reports token consumption.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// HealthCheckResult describes provider reachability.
type HealthCheckResult struct {
	Healthy bool
	Latency time.Duration
	Message string
	Error   error
}

// Float64 returns a pointer to v, for CompletionRequest.Temperature.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for CompletionRequest.MaxTokens.
func Int(v int) *int { return &v }
