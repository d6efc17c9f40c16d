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

package pipeline

import (
	"fmt"
	"strings"

	"github.com/tombee/n8n-agent/internal/platform"
	"github.com/tombee/n8n-agent/internal/templates"
)

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}

func createdMessage(activate bool, selected *templates.Candidate, res *platform.CreationResult) string {
	var b strings.Builder
	name := res.Name
	if name == "" {
		name = selected.Template.Name
	}
	fmt.Fprintf(&b, "Created workflow %q from template %q (match %s).", name, selected.Template.Name, percent(selected.Relevance))
	switch {
	case res.Active:
		b.WriteString(" It is active.")
	case activate:
		b.WriteString(" It was imported inactive")
		if len(res.Warnings) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(res.Warnings, "; "))
		}
		b.WriteString(". Add any missing credentials in the editor, then activate it.")
	default:
		b.WriteString(" It is inactive")
		if len(res.Warnings) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(res.Warnings, "; "))
		}
		b.WriteString("; review its credentials in the editor and activate it when ready.")
	}
	if res.EditorURL != "" {
		fmt.Fprintf(&b, " Open it at %s", res.EditorURL)
	}
	return b.String()
}

func clarifyMessage(cands []templates.Candidate) string {
	var b strings.Builder
	b.WriteString("I found templates that might match your request, but I'm not confident enough to pick one. Choose the best fit:\n")
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. %s (match %s)\n", i+1, c.Template.Name, percent(c.Relevance))
	}
	b.WriteString("Reply with the template you want, or describe the workflow in more detail.")
	return b.String()
}

func noMatchMessage() string {
	return "I couldn't find a template that matches your request. " +
		"Try naming the services involved (for example Slack or Google Sheets) and what should start the workflow."
}

func previewMessage(cands []templates.Candidate) string {
	switch len(cands) {
	case 0:
		return "No matching templates found."
	case 1:
		return "Found 1 matching template."
	default:
		return fmt.Sprintf("Found %d matching templates.", len(cands))
	}
}
