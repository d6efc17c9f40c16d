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

// Package server implements an MCP server that exposes the workflow pipeline
// as tools: find_templates previews matches for a request and
// create_workflow runs the full pipeline against the platform.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/pipeline"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// Pipeline is the part of the orchestrator the tools drive.
type Pipeline interface {
	Chat(ctx context.Context, text string, activate bool) (*pipeline.Result, error)
	Preview(ctx context.Context, text string) (*pipeline.Result, error)
}

// Server wraps the MCP server and provides the workflow tools
type Server struct {
	mcpServer   *server.MCPServer
	name        string
	version     string
	pipeline    Pipeline
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// ServerConfig configures the MCP server
type ServerConfig struct {
	// Name is the server name (default: "n8n-agent")
	Name string

	// Version is the binary version
	Version string

	// Pipeline runs tool requests. Required.
	Pipeline Pipeline

	// CreatesPerMinute bounds create_workflow calls (default: 10).
	CreatesPerMinute int

	// CallsPerMinute bounds all tool calls (default: 100).
	CallsPerMinute int

	// Logger must not write to stdout, which carries the protocol.
	Logger *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(config ServerConfig) (*Server, error) {
	if config.Pipeline == nil {
		return nil, errors.New("mcp server: pipeline is required")
	}
	if config.Name == "" {
		config.Name = "n8n-agent"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.CreatesPerMinute <= 0 {
		config.CreatesPerMinute = 10
	}
	if config.CallsPerMinute <= 0 {
		config.CallsPerMinute = 100
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		mcpServer:   server.NewMCPServer(config.Name, config.Version, server.WithToolCapabilities(false)),
		name:        config.Name,
		version:     config.Version,
		pipeline:    config.Pipeline,
		rateLimiter: NewRateLimiter(config.CreatesPerMinute, config.CallsPerMinute),
		logger:      log.WithComponent(logger, "mcp"),
	}
	s.registerTools()
	return s, nil
}

// registerTools registers the workflow tools with the MCP server
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolFindTemplates,
		Description: "Find n8n workflow templates matching a plain-language automation request. Read-only: nothing is created.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"request": map[string]interface{}{
					"type":        "string",
					"description": "The automation request, e.g. 'post new form entries to Slack'",
				},
			},
			Required: []string{"request"},
		},
	}, s.handleFindTemplates)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolCreateWorkflow,
		Description: "Create an n8n workflow from the best matching template. If the request is ambiguous, candidate templates are returned instead and nothing is created.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"request": map[string]interface{}{
					"type":        "string",
					"description": "The automation request",
				},
				"activate": map[string]interface{}{
					"type":        "boolean",
					"description": "Activate the workflow after creating it (default: false)",
					"default":     false,
				},
			},
			Required: []string{"request"},
		},
	}, s.handleCreateWorkflow)
}

// Run serves the MCP protocol over stdio until stdin closes.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("version", s.version))

	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// errorResponse reports a failure to the calling model. User-visible errors
// keep their message and suggestion; anything else is logged and hidden.
func (s *Server) errorResponse(err error) *mcp.CallToolResult {
	var uv agenterrors.UserVisibleError
	if errors.As(err, &uv) && uv.IsUserVisible() {
		msg := uv.UserMessage()
		if sug := uv.Suggestion(); sug != "" {
			msg += " " + sug
		}
		return mcp.NewToolResultError(msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return mcp.NewToolResultError("The request took too long to process.")
	}
	s.logger.Error("tool call failed", log.Error(err))
	return mcp.NewToolResultError("Internal error while processing the request.")
}

// textResponse wraps text in a successful tool result.
func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
