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

// Package providers contains concrete inference backends.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tombee/n8n-agent/pkg/errors"
	"github.com/tombee/n8n-agent/pkg/httpclient"
	"github.com/tombee/n8n-agent/pkg/llm"
)

const (
	// DefaultOpenRouterBaseURL is the OpenAI-compatible API root.
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// DefaultOpenRouterModel is used when no model is configured.
	DefaultOpenRouterModel = "openai/gpt-3.5-turbo"

	providerName = "openrouter"

	// maxErrorBody bounds how much of an error response is echoed into messages.
	maxErrorBody = 512
)

// OpenRouterConfig configures the OpenRouter provider.
type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// Referer and Title are sent as HTTP-Referer and X-Title for attribution.
	Referer string
	Title   string

	// Timeout bounds each request.
	Timeout time.Duration

	Logger *slog.Logger
}

// OpenRouterProvider talks to any OpenAI-compatible chat-completions endpoint.
type OpenRouterProvider struct {
	baseURL    string
	model      string
	referer    string
	title      string
	hasKey     bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenRouterProvider builds a provider. The HTTP client never retries:
// transient failures are surfaced so the caller's retry policy applies.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenRouterModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.RetryAttempts = 0
	hc.Logger = logger
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, errors.Wrap(err, "creating inference http client")
	}

	if cfg.APIKey != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"}),
			Base:   client.Transport,
		}
	}

	return &OpenRouterProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		referer:    cfg.Referer,
		title:      cfg.Title,
		hasKey:     cfg.APIKey != "",
		httpClient: client,
		logger:     logger,
	}, nil
}

// Name implements llm.Provider.
func (p *OpenRouterProvider) Name() string {
	return providerName
}

// Model returns the default model.
func (p *OpenRouterProvider) Model() string {
	return p.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete implements llm.Provider.
func (p *OpenRouterProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.New().String()

	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:       "messages",
			Message:     "completion request must have at least one message",
			SuggestText: "Add at least one message to the completion request",
		}
	}
	if !p.hasKey {
		return nil, &errors.ProviderError{
			Provider:    providerName,
			StatusCode:  http.StatusUnauthorized,
			Message:     "no API key configured",
			SuggestText: "Set OPENROUTER_API_KEY or inference.api_key",
			RequestID:   requestID,
		}
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	apiReq := chatRequest{
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	apiResp, err := p.doRequest(ctx, apiReq, requestID)
	if err != nil {
		return nil, err
	}
	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider:  providerName,
			Message:   "response contained no choices",
			RequestID: requestID,
		}
	}

	choice := apiResp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        apiResp.Model,
		RequestID:    requestID,
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenRouterProvider) doRequest(ctx context.Context, apiReq chatRequest, requestID string) (*chatResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  providerName,
			Message:   fmt.Sprintf("failed to marshal request: %v", err),
			RequestID: requestID,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:  providerName,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			RequestID: requestID,
		}
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &errors.ProviderError{
			Provider:  providerName,
			Message:   fmt.Sprintf("request failed: %v", err),
			RequestID: requestID,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, truncate(string(respBody)))
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, &errors.ProviderError{
			Provider:    providerName,
			StatusCode:  resp.StatusCode,
			Message:     msg,
			SuggestText: suggestionForStatus(resp.StatusCode),
			RequestID:   requestID,
		}
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to decode response: %v", err),
			RequestID:  requestID,
		}
	}
	return &apiResp, nil
}

// HealthCheck lists models, which authenticates without generating tokens.
func (p *OpenRouterProvider) HealthCheck(ctx context.Context) llm.HealthCheckResult {
	start := time.Now()
	if !p.hasKey {
		return llm.HealthCheckResult{Message: "no API key configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return llm.HealthCheckResult{Error: err, Message: "invalid base URL"}
	}
	p.setHeaders(req)

	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return llm.HealthCheckResult{Latency: latency, Error: err, Message: "unreachable"}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return llm.HealthCheckResult{
			Latency: latency,
			Error:   fmt.Errorf("HTTP %d", resp.StatusCode),
			Message: suggestionForStatus(resp.StatusCode),
		}
	}
	return llm.HealthCheckResult{Healthy: true, Latency: latency, Message: "ok"}
}

func (p *OpenRouterProvider) setHeaders(req *http.Request) {
	if p.referer != "" {
		req.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		req.Header.Set("X-Title", p.title)
	}
}

func suggestionForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "Check that OPENROUTER_API_KEY is valid"
	case status == http.StatusPaymentRequired:
		return "The OpenRouter account has insufficient credits"
	case status == http.StatusTooManyRequests:
		return "Rate limited by the provider; retry later"
	case status >= 500:
		return "The provider is having problems; retry later"
	default:
		return ""
	}
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	return s[:maxErrorBody] + "..."
}
