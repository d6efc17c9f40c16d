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

package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/n8n-agent/internal/commands/shared"
)

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API that turns automation requests into n8n workflows.

The template index is built at startup, from the configured corpus directory
or the embedded starter corpus. With corpus.watch enabled, edits to the
directory trigger a rebuild that replaces the index without interrupting
in-flight requests.

Endpoints:
  POST /chat                   create a workflow from a request
  POST /dryrun                 preview matching templates
  GET  /health                 dependency status
  GET  /v1/models              OpenAI-compatible model list
  POST /v1/chat/completions    OpenAI-compatible chat facade
  GET  /metrics                Prometheus metrics`,
		Example: `  # Start with configuration from the default location
  n8n-agent serve

  # Listen on a specific address
  n8n-agent serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl, cfg, err := shared.NewController(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer ctrl.Close(context.WithoutCancel(ctx))

			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := ctrl.Start(ctx); err != nil {
				return shared.NewExecutionError("server failed", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (default from config, :8000)")

	return cmd
}
