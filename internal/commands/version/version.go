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


package version

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/n8n-agent/internal/commands/shared"
	"github.com/tombee/n8n-agent/internal/config"
	"github.com/tombee/n8n-agent/internal/templates"
)

// Result is the JSON output of the version command.
type Result struct {
	shared.JSONResponse
	AgentVersion string     `json:"version"`
	Commit       string     `json:"commit"`
	BuildDate    string     `json:"build_date"`
	GoVersion    string     `json:"go_version"`
	Index        *IndexInfo `json:"index,omitempty"`
}

// IndexInfo describes the template corpus the agent is configured with and
// the last ahead-of-time build recorded for it.
type IndexInfo struct {
	Location  string `json:"location"`
	CachePath string `json:"cache_path"`
	Cached    bool   `json:"cached"`
	Templates int    `json:"templates,omitempty"`
	BuiltAt   string `json:"built_at,omitempty"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and template index information",
		Long: `Display version, commit hash and build date for n8n-agent, along with
the configured template corpus and its last cached index build.`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}

	return cmd
}

func runVersion(cmd *cobra.Command, args []string) error {
	v, c, b := shared.GetVersion()

	res := Result{
		JSONResponse: shared.JSONResponse{Version: "1.0", Command: "version", Success: true},
		AgentVersion: v,
		Commit:       c,
		BuildDate:    b,
		GoVersion:    runtime.Version(),
	}

	// Version must work with a broken config, so index details are
	// reported only when the config loads.
	if cfg, err := config.Load(shared.GetConfigPath()); err == nil {
		res.Index = indexInfo(cmd.Context(), cfg)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "n8n-agent version %s\n", res.AgentVersion)
	fmt.Fprintf(out, "  commit:     %s\n", res.Commit)
	fmt.Fprintf(out, "  build date: %s\n", res.BuildDate)
	fmt.Fprintf(out, "  go:         %s\n", res.GoVersion)
	if ix := res.Index; ix != nil {
		fmt.Fprintf(out, "  corpus:     %s\n", ix.Location)
		switch {
		case ix.Cached:
			fmt.Fprintf(out, "  index:      %d templates, built %s\n", ix.Templates, ix.BuiltAt)
		default:
			fmt.Fprintf(out, "  index:      not built (run n8n-agent index)\n")
		}
	}
	return nil
}

// indexInfo reads the last build for the configured corpus. A missing
// cache file is reported as not built and is never created here.
func indexInfo(ctx context.Context, cfg *config.Config) *IndexInfo {
	if ctx == nil {
		ctx = context.Background()
	}
	info := &IndexInfo{Location: cfg.CorpusLocation()}

	path, err := cfg.IndexCachePath()
	if err != nil {
		return info
	}
	info.CachePath = path
	if _, err := os.Stat(path); err != nil {
		return info
	}

	cache, err := templates.OpenCache(ctx, templates.CacheConfig{Path: path})
	if err != nil {
		return info
	}
	defer cache.Close()

	n, builtAt, ok, err := cache.LastBuild(ctx, info.Location)
	if err != nil || !ok {
		return info
	}
	info.Cached = true
	info.Templates = n
	info.BuiltAt = builtAt.UTC().Format(time.RFC3339)
	return info
}
