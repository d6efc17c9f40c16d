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

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/pkg/errors"
	"github.com/tombee/n8n-agent/pkg/llm"
)

// ExtractorConfig configures sampling for the extraction call.
type ExtractorConfig struct {
	// Model overrides the provider's default model.
	Model string

	// Temperature should stay low: extraction is structured decoding.
	Temperature float64

	// MaxTokens bounds the completion.
	MaxTokens int

	// Timeout bounds the single inference call.
	Timeout time.Duration
}

// DefaultExtractorConfig returns the standard sampling parameters.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Temperature: 0.1,
		MaxTokens:   400,
		Timeout:     30 * time.Second,
	}
}

// Extractor turns free text into an Intent with one inference call.
// It never retries; callers own retry policy.
type Extractor struct {
	provider llm.Provider
	cfg      ExtractorConfig
	logger   *slog.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(provider llm.Provider, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		provider: provider,
		cfg:      cfg,
		logger:   log.WithComponent(logger, "extractor"),
	}
}

// Extract issues exactly one inference call and parses the answer.
// Failures are *errors.ExtractionError with kind InferenceUnavailable or
// MalformedExtraction. Empty text is rejected without calling the model.
func (e *Extractor) Extract(ctx context.Context, text string) (*Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &errors.ExtractionError{
			Kind:   errors.MalformedExtraction,
			Detail: "request text is empty",
		}
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.MessageRoleSystem, Content: systemPrompt},
			{Role: llm.MessageRoleUser, Content: text},
		},
		Temperature: llm.Float64(e.cfg.Temperature),
		MaxTokens:   llm.Int(e.cfg.MaxTokens),
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			err = &errors.TimeoutError{Operation: "inference request", Duration: time.Since(start), Cause: err}
		}
		return nil, &errors.ExtractionError{
			Kind:   errors.InferenceUnavailable,
			Detail: e.provider.Name(),
			Cause:  err,
		}
	}

	log.Trace(e.logger, "extraction response",
		slog.String(log.ProviderKey, e.provider.Name()),
		slog.String("content", resp.Content),
		slog.Int64(log.DurationKey, time.Since(start).Milliseconds()),
	)

	in, err := ParseExtraction(resp.Content)
	if err != nil {
		return nil, &errors.ExtractionError{
			Kind:   errors.MalformedExtraction,
			Detail: "model output did not match the intent shape",
			Cause:  err,
		}
	}
	in.RawText = text
	return in, nil
}

type rawExtraction struct {
	Integrations *[]string `json:"integrations"`
	TriggerType  *string   `json:"trigger_type"`
	Operations   []string  `json:"operations"`
	Action       string    `json:"action"`
	Requirements []string  `json:"requirements"`
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ParseExtraction decodes model output into an Intent. Markdown code fences
// and prose around the JSON object are tolerated; missing or mistyped
// integrations or trigger_type are not.
func ParseExtraction(content string) (*Intent, error) {
	body := strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}
	if raw.Integrations == nil {
		return nil, fmt.Errorf("missing required field integrations")
	}
	if raw.TriggerType == nil {
		return nil, fmt.Errorf("missing required field trigger_type")
	}
	trigger, err := ParseTriggerType(*raw.TriggerType)
	if err != nil {
		return nil, err
	}

	in := &Intent{
		TriggerType:  trigger,
		Action:       strings.TrimSpace(raw.Action),
		Requirements: raw.Requirements,
	}
	for _, name := range *raw.Integrations {
		if name = strings.TrimSpace(name); name != "" {
			in.Integrations = append(in.Integrations, name)
		}
	}
	for _, op := range raw.Operations {
		if op = strings.ToLower(strings.TrimSpace(op)); op != "" {
			in.Operations = append(in.Operations, op)
		}
	}
	if len(in.Operations) == 0 {
		in.Operations = OperationsFromText(in.Action)
	}
	return in, nil
}

// operationVerbs are recognized when deriving operations from prose.
var operationVerbs = map[string]string{
	"add": "add", "adds": "add",
	"append": "append", "appends": "append",
	"archive": "archive", "archives": "archive",
	"backup": "backup",
	"collect": "collect", "collects": "collect",
	"convert": "convert", "converts": "convert",
	"copy": "copy", "copies": "copy",
	"create": "create", "creates": "create",
	"delete": "delete", "deletes": "delete",
	"download": "download", "downloads": "download",
	"enrich": "enrich", "enriches": "enrich",
	"extract": "extract", "extracts": "extract",
	"fetch": "fetch", "fetches": "fetch",
	"filter": "filter", "filters": "filter",
	"forward": "forward", "forwards": "forward",
	"generate": "generate", "generates": "generate",
	"get": "get", "gets": "get",
	"insert": "insert", "inserts": "insert",
	"log": "log", "logs": "log",
	"merge": "merge", "merges": "merge",
	"monitor": "monitor", "monitors": "monitor",
	"notify": "notify", "notifies": "notify",
	"parse": "parse", "parses": "parse",
	"post": "post", "posts": "post",
	"process": "process", "processes": "process",
	"read": "read", "reads": "read",
	"receive": "receive", "receives": "receive",
	"save": "save", "saves": "save",
	"send": "send", "sends": "send",
	"store": "store", "stores": "store",
	"summarize": "summarize", "summarizes": "summarize",
	"sync": "sync", "syncs": "sync",
	"transform": "transform", "transforms": "transform",
	"update": "update", "updates": "update",
	"upload": "upload", "uploads": "upload",
	"watch": "watch", "watches": "watch",
}

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// OperationsFromText picks recognized verbs out of text, in order, without repeats.
func OperationsFromText(text string) []string {
	var ops []string
	seen := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if verb, ok := operationVerbs[w]; ok && !seen[verb] {
			seen[verb] = true
			ops = append(ops, verb)
		}
	}
	return ops
}
