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

// Package platform talks to the n8n REST API: it creates workflows from
// template bodies, activates them, and lists them for health checks.
//
// n8n exposes its API under either the public /api/v1 prefix or the older
// /rest prefix depending on version and configuration. The client probes
// the configured conventions in order, moves on only when a prefix answers
// with a route-not-found 404, and remembers the first prefix that works
// for the rest of the process lifetime.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
	"github.com/tombee/n8n-agent/pkg/httpclient"
)

const (
	// APIKeyHeader carries the n8n API key.
	APIKeyHeader = "X-N8N-API-KEY"

	// PathAPIv1 is the public, versioned API prefix.
	PathAPIv1 = "/api/v1"

	// PathREST is the legacy internal API prefix.
	PathREST = "/rest"

	maxResponseBody = 4 << 20
)

// DefaultConventions is the probe order used when none is configured.
var DefaultConventions = []string{PathAPIv1, PathREST}

// Config configures a Client.
type Config struct {
	// BaseURL is the n8n instance root, e.g. http://n8n:5678.
	BaseURL string

	// APIKey is sent as X-N8N-API-KEY when set.
	APIKey string

	// EditorBaseURL is the public URL used to build editor links. Defaults
	// to BaseURL.
	EditorBaseURL string

	// Conventions are API prefixes to probe, in order.
	Conventions []string

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client is an n8n API client. It is safe for concurrent use.
type Client struct {
	baseURL     string
	apiKey      string
	editorURL   string
	conventions []string
	http        *http.Client
	logger      *slog.Logger

	// convention holds the discovered prefix. Concurrent probes may each
	// store the same value; the last write wins.
	convention atomic.Pointer[string]
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid platform base URL %q", cfg.BaseURL)
	}

	conventions := cfg.Conventions
	if len(conventions) == 0 {
		conventions = DefaultConventions
	}
	normalized := make([]string, 0, len(conventions))
	for _, c := range conventions {
		c = "/" + strings.Trim(strings.TrimSpace(c), "/")
		if c == "/" {
			return nil, fmt.Errorf("empty path convention")
		}
		normalized = append(normalized, c)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hcfg := httpclient.DefaultConfig()
		if cfg.Timeout > 0 {
			hcfg.Timeout = cfg.Timeout
		}
		hcfg.Logger = logger
		var err error
		hc, err = httpclient.New(hcfg)
		if err != nil {
			return nil, fmt.Errorf("platform http client: %w", err)
		}
	}

	editor := strings.TrimRight(strings.TrimSpace(cfg.EditorBaseURL), "/")
	if editor == "" {
		editor = base
	}

	return &Client{
		baseURL:     base,
		apiKey:      cfg.APIKey,
		editorURL:   editor,
		conventions: normalized,
		http:        hc,
		logger:      logger,
	}, nil
}

// Convention returns the discovered API prefix, or "" before the first
// successful call.
func (c *Client) Convention() string {
	if p := c.convention.Load(); p != nil {
		return *p
	}
	return ""
}

// EditorURL returns the editor link for a workflow.
func (c *Client) EditorURL(workflowID string) string {
	return c.editorURL + "/workflow/" + url.PathEscape(workflowID)
}

// BaseURL returns the instance root.
func (c *Client) BaseURL() string { return c.baseURL }

type response struct {
	status int
	body   []byte
}

// call runs one request against prefix+path. Transport failures come back
// as PlatformUnreachable.
func (c *Client) call(ctx context.Context, method, prefix, path string, payload any) (*response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+prefix+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &agenterrors.PlatformError{Kind: agenterrors.PlatformUnreachable, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &agenterrors.PlatformError{
			Kind:       agenterrors.PlatformUnreachable,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("read response: %w", err),
		}
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

// errRouteNotFound marks a prefix that does not exist on this instance.
var errRouteNotFound = errors.New("route not found")

// withConvention runs fn against the cached prefix, or probes the
// configured prefixes in order. fn returns errRouteNotFound to move on to
// the next prefix; any other outcome ends the probe. The prefix is cached
// only when fn succeeds.
func (c *Client) withConvention(ctx context.Context, fn func(prefix string) error) error {
	if cached := c.Convention(); cached != "" {
		err := fn(cached)
		if errors.Is(err, errRouteNotFound) {
			return &agenterrors.PlatformError{
				Kind:       agenterrors.CreationRejected,
				StatusCode: http.StatusNotFound,
				Reason:     "resource not found",
			}
		}
		return err
	}

	for _, prefix := range c.conventions {
		err := fn(prefix)
		if errors.Is(err, errRouteNotFound) {
			c.logger.Debug("platform path convention not available, trying next", "prefix", prefix)
			continue
		}
		if err != nil {
			return err
		}
		p := prefix
		c.convention.Store(&p)
		c.logger.Info("detected platform API path", "prefix", prefix)
		return nil
	}

	return &agenterrors.PlatformError{
		Kind:       agenterrors.CreationRejected,
		StatusCode: http.StatusNotFound,
		Reason:     fmt.Sprintf("no supported API path (tried %s)", strings.Join(c.conventions, ", ")),
	}
}

// classify turns a non-2xx response into an error. 404 is reported as
// errRouteNotFound so the caller can decide whether to probe further.
func classify(resp *response) error {
	switch {
	case resp.status >= 200 && resp.status < 300:
		return nil
	case resp.status == http.StatusNotFound:
		return errRouteNotFound
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return &agenterrors.PlatformError{
			Kind:       agenterrors.AuthenticationFailed,
			StatusCode: resp.status,
			Reason:     reasonFrom(resp.body),
		}
	case resp.status == http.StatusRequestTimeout || resp.status == http.StatusTooManyRequests || resp.status >= 500:
		return &agenterrors.PlatformError{
			Kind:       agenterrors.PlatformUnreachable,
			StatusCode: resp.status,
			Reason:     reasonFrom(resp.body),
		}
	default:
		return &agenterrors.PlatformError{
			Kind:       agenterrors.CreationRejected,
			StatusCode: resp.status,
			Reason:     reasonFrom(resp.body),
		}
	}
}

// reasonFrom extracts the platform's message from an error body.
func reasonFrom(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Hint    string `json:"hint"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		msg := payload.Message
		if msg == "" {
			switch e := payload.Error.(type) {
			case string:
				msg = e
			case map[string]any:
				msg, _ = e["message"].(string)
			}
		}
		if msg != "" {
			if payload.Hint != "" {
				msg += " (" + payload.Hint + ")"
			}
			return msg
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	return text
}
