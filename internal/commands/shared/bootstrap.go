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

package shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tombee/n8n-agent/internal/config"
	"github.com/tombee/n8n-agent/internal/controller"
	"github.com/tombee/n8n-agent/internal/log"
)

// LoadConfig loads configuration from the --config path, resolving secret
// references, and prints any warnings to w.
func LoadConfig(ctx context.Context, w io.Writer) (*config.Config, error) {
	cfg, warnings, err := config.LoadWithSecrets(ctx, GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load configuration", err)
	}
	if !GetQuiet() {
		for _, warning := range warnings {
			fmt.Fprintln(w, "Warning:", warning)
		}
	}
	return cfg, nil
}

// NewLogger builds the command logger. Logs always go to stderr so stdout
// stays free for command output and the MCP protocol.
func NewLogger(cfg *config.Config) *slog.Logger {
	lc := cfg.LoggerConfig()
	lc.Output = os.Stderr
	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	return log.New(lc)
}

// NewController loads configuration and assembles the agent.
func NewController(ctx context.Context, w io.Writer) (*controller.Controller, *config.Config, error) {
	cfg, err := LoadConfig(ctx, w)
	if err != nil {
		return nil, nil, err
	}
	v, c, b := GetVersion()
	ctrl, err := controller.New(ctx, cfg, controller.Options{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		Logger:    NewLogger(cfg),
	})
	if err != nil {
		return nil, nil, NewConfigError("failed to initialize", err)
	}
	return ctrl, cfg, nil
}
