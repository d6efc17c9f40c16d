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

package templates

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/itchyny/gojq"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/tombee/n8n-agent/internal/intent"
)

// summaryQuery pulls the fields the index needs out of a workflow body.
// Sticky notes are canvas annotations and are not counted as nodes.
const summaryQuery = `{
  name: (.name // "" | tostring),
  description: (.description // .meta.description // "" | tostring),
  types: [.nodes[]? | .type? | strings | select(. != "n8n-nodes-base.stickyNote")]
}`

var summaryCode = mustCompile(summaryQuery)

func mustCompile(q string) *gojq.Code {
	query, err := gojq.Parse(q)
	if err != nil {
		panic(fmt.Sprintf("templates: parse %q: %v", q, err))
	}
	code, err := gojq.Compile(query)
	if err != nil {
		panic(fmt.Sprintf("templates: compile %q: %v", q, err))
	}
	return code
}

// nodePrefixes are stripped from node types before mapping.
var nodePrefixes = []string{
	"n8n-nodes-base.",
	"@n8n/n8n-nodes-langchain.",
}

// nodeIntegrations maps node types (prefix stripped, lower-cased, trailing
// "trigger" removed) whose name does not normalize on its own.
var nodeIntegrations = map[string]string{
	"webhook":           intent.IntegrationWebhook,
	"form":              intent.IntegrationForm,
	"schedule":          intent.IntegrationSchedule,
	"cron":              intent.IntegrationSchedule,
	"interval":          intent.IntegrationSchedule,
	"httprequest":       "HTTP Request",
	"emailsend":         "Email",
	"emailreadimap":     "Email",
	"gmail":             "Email",
	"microsoftoutlook":  "Email",
	"mysql":             "Database",
	"postgres":          "Database",
	"mongodb":           "Database",
	"googlesheets":      "Sheets",
	"microsoftexcel":    "Sheets",
	"googledrive":       "Storage",
	"awss3":             "Storage",
	"dropbox":           "Storage",
	"microsoftonedrive": "Storage",
	"microsoftteams":    "Teams",
	"rssfeedread":       "RSS",
	"openai":            "OpenAI",
	"lmchatopenai":      "OpenAI",
}

// utilityNodes carry no integration.
var utilityNodes = map[string]bool{
	"manual":           true,
	"start":            true,
	"stickynote":       true,
	"executeworkflow":  true,
	"set":              true,
	"if":               true,
	"switch":           true,
	"merge":            true,
	"code":             true,
	"function":         true,
	"functionitem":     true,
	"noop":             true,
	"splitinbatches":   true,
	"splitout":         true,
	"wait":             true,
	"filter":           true,
	"itemlists":        true,
	"respondtowebhook": true,
	"datetime":         true,
	"aggregate":        true,
	"sort":             true,
	"limit":            true,
	"removeduplicates": true,
	"html":             true,
	"xml":              true,
	"markdown":         true,
	"crypto":           true,
	"stopanderror":     true,
	"errortrigger":     true,
	"error":            true,
	"converttofile":    true,
	"extractfromfile":  true,
	"readwritefile":    true,
	"movebinarydata":   true,
	"compression":      true,
	"renamekeys":       true,
	"summarize":        true,
	"comparedatasets":  true,
	"executecommand":   true,
	"n8n":              true,
}

type summary struct {
	Name        string
	Description string
	Types       []string
}

// Inspect derives a Record from a raw template body. Bodies may be a bare
// workflow or a gallery entry wrapping one under "workflow"; comments and
// trailing commas are tolerated.
func Inspect(id string, raw []byte) (*Record, error) {
	wf, err := decodeWorkflow(raw)
	if err != nil {
		return nil, err
	}

	s, err := summarize(wf)
	if err != nil {
		return nil, err
	}
	if len(s.Types) == 0 {
		return nil, fmt.Errorf("template %s has no nodes", id)
	}

	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = id
	}

	return &Record{
		ID:           id,
		Name:         name,
		Description:  strings.TrimSpace(s.Description),
		Locator:      id + templateExt,
		Integrations: integrationsOf(s.Types),
		TriggerType:  triggerOf(s.Types),
		NodeCount:    len(s.Types),
		Hash:         hashBody(raw),
	}, nil
}

// decodeWorkflow returns the workflow object inside raw.
func decodeWorkflow(raw []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(jsonc.ToJSON(raw), &v); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("template body is %T, want object", v)
	}
	if inner, ok := obj["workflow"].(map[string]any); ok {
		if _, hasNodes := inner["nodes"]; hasNodes {
			// Gallery entries keep the display fields on the wrapper.
			for _, k := range []string{"name", "description"} {
				if _, set := inner[k]; !set && obj[k] != nil {
					inner[k] = obj[k]
				}
			}
			return inner, nil
		}
	}
	return obj, nil
}

func summarize(wf map[string]any) (summary, error) {
	iter := summaryCode.Run(wf)
	v, ok := iter.Next()
	if !ok {
		return summary{}, fmt.Errorf("inspect template: no result")
	}
	if err, isErr := v.(error); isErr {
		return summary{}, fmt.Errorf("inspect template: %w", err)
	}

	m, _ := v.(map[string]any)
	s := summary{}
	s.Name, _ = m["name"].(string)
	s.Description, _ = m["description"].(string)
	types, _ := m["types"].([]any)
	for _, t := range types {
		if str, ok := t.(string); ok {
			s.Types = append(s.Types, str)
		}
	}
	return s, nil
}

// nodeKey strips the package prefix from a node type.
func nodeKey(nodeType string) string {
	for _, p := range nodePrefixes {
		if strings.HasPrefix(nodeType, p) {
			return strings.TrimPrefix(nodeType, p)
		}
	}
	if i := strings.LastIndexByte(nodeType, '.'); i >= 0 {
		return nodeType[i+1:]
	}
	return nodeType
}

// IntegrationForNode maps a node type to its canonical integration name, or
// "" for utility nodes.
func IntegrationForNode(nodeType string) string {
	key := nodeKey(nodeType)
	lower := strings.ToLower(key)
	base := strings.TrimSuffix(lower, "trigger")
	if base == "" {
		return ""
	}
	if utilityNodes[lower] || utilityNodes[base] {
		return ""
	}
	if name, ok := nodeIntegrations[base]; ok {
		return name
	}
	words := splitCamel(strings.TrimSuffix(key, "Trigger"))
	return intent.NormalizeIntegration(strings.Join(words, " "))
}

func integrationsOf(types []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range types {
		name := IntegrationForNode(t)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TriggerForNode returns the trigger type a node starts, or "" when the
// node is not a trigger. App triggers other than the scheduling and
// manual ones are event driven and count as webhook.
func TriggerForNode(nodeType string) intent.TriggerType {
	lower := strings.ToLower(nodeKey(nodeType))
	switch lower {
	case "webhook", "formtrigger":
		return intent.TriggerWebhook
	case "scheduletrigger", "cron", "interval":
		return intent.TriggerSchedule
	case "manualtrigger", "start":
		return intent.TriggerManual
	case "executeworkflowtrigger", "errortrigger":
		return intent.TriggerChained
	}
	if strings.HasSuffix(lower, "trigger") {
		return intent.TriggerWebhook
	}
	return ""
}

// triggerOf picks the template's trigger. With several trigger nodes the
// first in intent.TriggerTypes order wins; a template with none is manual.
func triggerOf(types []string) intent.TriggerType {
	found := make(map[intent.TriggerType]bool)
	for _, t := range types {
		if tt := TriggerForNode(t); tt != "" {
			found[tt] = true
		}
	}
	for _, tt := range intent.TriggerTypes {
		if found[tt] {
			return tt
		}
	}
	return intent.TriggerManual
}

func splitCamel(s string) []string {
	var words []string
	var cur []rune
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(runes[i-1]) ||
			(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
			words = append(words, string(cur))
			cur = cur[:0]
		}
		cur = append(cur, unicode.ToLower(r))
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	return words
}

func hashBody(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
