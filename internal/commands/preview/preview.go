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

package preview

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/n8n-agent/internal/commands/shared"
	"github.com/tombee/n8n-agent/internal/intent"
	"github.com/tombee/n8n-agent/internal/pipeline"
)

// Result is the JSON output of the preview command.
type Result struct {
	shared.JSONResponse
	RequestID   string              `json:"request_id"`
	Intent      *intent.Intent      `json:"intent,omitempty"`
	Confidence  float64             `json:"confidence"`
	Corrections []intent.Correction `json:"corrections,omitempty"`
	Templates   []Template          `json:"templates"`
	Message     string              `json:"message"`
}

// Template is one ranked candidate.
type Template struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Relevance float64 `json:"relevance"`
}

// NewCommand creates the preview command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <request>",
		Short: "Show the templates a request would match",
		Long: `Run the extraction, validation and search stages for a request and print
the ranked candidate templates. Nothing is created on the platform.`,
		Example: `  n8n-agent preview "send new Typeform answers to a Google Sheet"
  n8n-agent preview --json "post GitHub issues to Slack" | jq '.templates[0]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPreview,
	}
	return cmd
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("request must not be empty")
	}

	ctrl, _, err := shared.NewController(ctx, cmd.ErrOrStderr())
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

	res, err := ctrl.Orchestrator().Preview(ctx, text)
	if err != nil {
		return shared.NewExecutionError("preview failed", err)
	}

	out := toResult(res)
	if shared.WantJSON(true) {
		return shared.EmitJSON(cmd.OutOrStdout(), out)
	}
	printText(cmd.OutOrStdout(), out)
	return nil
}

func toResult(res *pipeline.Result) Result {
	out := Result{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "preview", Success: true},
		RequestID:    res.RequestID,
		Intent:       res.Intent,
		Confidence:   res.Confidence,
		Corrections:  res.Corrections,
		Templates:    make([]Template, 0, len(res.Candidates)),
		Message:      res.Message,
	}
	for _, c := range res.Candidates {
		out.Templates = append(out.Templates, Template{
			ID:        c.Template.ID,
			Name:      c.Template.Name,
			Score:     c.Score,
			Relevance: c.Relevance,
		})
	}
	return out
}

func printText(w io.Writer, res Result) {
	if in := res.Intent; in != nil {
		fmt.Fprintf(w, "Trigger:      %s\n", in.TriggerType)
		fmt.Fprintf(w, "Integrations: %s\n", strings.Join(in.Integrations, ", "))
		if len(in.Operations) > 0 {
			fmt.Fprintf(w, "Operations:   %s\n", strings.Join(in.Operations, ", "))
		}
	}
	fmt.Fprintf(w, "Confidence:   %.2f\n", res.Confidence)
	for _, c := range res.Corrections {
		fmt.Fprintf(w, "  corrected:  %s\n", c)
	}
	fmt.Fprintln(w)

	if len(res.Templates) == 0 {
		fmt.Fprintln(w, res.Message)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RELEVANCE\tID\tNAME")
	for _, t := range res.Templates {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\n", t.Relevance, t.ID, t.Name)
	}
	tw.Flush()
}
