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

// Package cli builds the n8n-agent root command.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/n8n-agent/internal/commands/index"
	"github.com/tombee/n8n-agent/internal/commands/mcpserver"
	"github.com/tombee/n8n-agent/internal/commands/preview"
	"github.com/tombee/n8n-agent/internal/commands/serve"
	"github.com/tombee/n8n-agent/internal/commands/shared"
	"github.com/tombee/n8n-agent/internal/commands/version"
	"github.com/tombee/n8n-agent/internal/config"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command with every subcommand.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "n8n-agent",
		Short: "n8n-agent - turn plain-language requests into n8n workflows",
		Long: `n8n-agent turns a plain-language automation request into a workflow on
an n8n instance. It extracts the integrations and trigger the request
describes, corrects the extraction with deterministic rules, ranks a corpus
of workflow templates, and creates the best match through the n8n API.

Run 'n8n-agent serve' to start the HTTP API.
Run 'n8n-agent preview "<request>"' to see which templates a request matches.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	registerGlobalFlags(cmd.PersistentFlags())

	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(index.NewCommand())
	cmd.AddCommand(preview.NewCommand())
	cmd.AddCommand(mcpserver.NewCommand())
	cmd.AddCommand(version.NewVersionCommand())

	return cmd
}

func registerGlobalFlags(fs *pflag.FlagSet) {
	verbose, quiet, json, cfg := shared.RegisterFlagPointers()

	fs.BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	fs.BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	fs.BoolVar(json, "json", false, "Output in JSON format")
	fs.StringVar(cfg, "config", "", "Path to config file (default: "+config.DefaultConfigPath()+")")
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
