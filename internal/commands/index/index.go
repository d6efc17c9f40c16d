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

package index

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/n8n-agent/internal/commands/shared"
)

// Result is the JSON output of the index command.
type Result struct {
	shared.JSONResponse
	Templates  int    `json:"templates"`
	Skipped    int    `json:"skipped"`
	Location   string `json:"location"`
	CachePath  string `json:"cache_path"`
	DurationMs int64  `json:"duration_ms"`
}

// NewCommand creates the index command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the template index cache ahead of time",
		Long: `Scan the template corpus and store the derived records in the SQLite
index cache. A later serve reuses cached records for templates whose
content has not changed, so startup only inspects new or edited files.`,
		Example: `  n8n-agent index
  n8n-agent index --json`,
		Args: cobra.NoArgs,
		RunE: runIndex,
	}
	return cmd
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctrl, _, err := shared.NewController(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer ctrl.Close(context.WithoutCancel(ctx))

	if err := ctrl.OpenCache(ctx); err != nil {
		return shared.NewExecutionError("failed to open index cache", err)
	}
	path, _ := ctrl.CachePath()

	start := time.Now()
	ix, err := ctrl.LoadIndex(ctx)
	if err != nil {
		return shared.NewExecutionError("index build failed", err)
	}

	res := Result{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "index", Success: true},
		Templates:    ix.Len(),
		Skipped:      ix.Skipped(),
		Location:     ix.Location(),
		CachePath:    path,
		DurationMs:   time.Since(start).Milliseconds(),
	}

	if shared.WantJSON(false) {
		return shared.EmitJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d templates from %s", res.Templates, res.Location)
	if res.Skipped > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d skipped)", res.Skipped)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nCache: %s\n", res.CachePath)
	return nil
}
