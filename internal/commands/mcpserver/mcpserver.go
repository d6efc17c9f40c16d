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

package mcpserver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/n8n-agent/internal/commands/shared"
	"github.com/tombee/n8n-agent/internal/mcp/server"
)

// NewCommand creates the mcp command
func NewCommand() *cobra.Command {
	var createsPerMinute int

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Long: `Start an MCP (Model Context Protocol) server on stdio.

The server exposes the workflow pipeline as tools that AI assistants can call:
  - find_templates:   preview matching templates for a request (read-only)
  - create_workflow:  create a workflow on the n8n instance

Configuration example for an MCP client:
  {
    "mcpServers": {
      "n8n-agent": {
        "command": "n8n-agent",
        "args": ["mcp"]
      }
    }
  }

Logs are written to stderr; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServer(cmd, createsPerMinute)
		},
	}

	cmd.Flags().IntVar(&createsPerMinute, "creates-per-minute", 10, "Maximum create_workflow calls per minute")

	return cmd
}

func runMCPServer(cmd *cobra.Command, createsPerMinute int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, cfg, err := shared.NewController(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer ctrl.Close(context.WithoutCancel(ctx))

	if err := ctrl.OpenCache(ctx); err != nil && shared.GetVerbose() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: index cache unavailable:", err)
	}
	if _, err := ctrl.LoadIndex(ctx); err != nil {
		return shared.NewExecutionError("failed to load templates", err)
	}

	versionStr, _, _ := shared.GetVersion()
	srv, err := server.NewServer(server.ServerConfig{
		Version:          versionStr,
		Pipeline:         ctrl.Orchestrator(),
		CreatesPerMinute: createsPerMinute,
		Logger:           shared.NewLogger(cfg),
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return shared.NewExecutionError("MCP server failed", err)
	}
	return nil
}
