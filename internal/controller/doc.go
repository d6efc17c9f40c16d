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


/*
Package controller assembles the agent from configuration.

The Controller owns every long-lived component:

  - Inference provider: the OpenRouter chat-completions client
  - Template index: built from the configured corpus (or the embedded
    starter corpus), optionally backed by the SQLite cache and kept fresh
    by a directory watcher
  - Platform client: the n8n API client, absent when no base URL is set
  - Orchestrator: the request pipeline
  - Telemetry: tracer and meter providers

# Usage

	cfg, warnings, err := config.LoadWithSecrets(ctx, path)
	c, err := controller.New(ctx, cfg, controller.Options{Version: "1.0.0"})
	if err != nil {
	    return err
	}
	defer c.Close(context.Background())

	// Start blocks until ctx is cancelled.
	return c.Start(ctx)

Commands that only need the pipeline call LoadIndex and then use
Orchestrator directly.
*/
package controller
