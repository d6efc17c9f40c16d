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

// Package intent turns a free-text automation request into a structured
// Intent and scores how far that interpretation can be trusted.
//
// Extraction is delegated to a language model (Extractor). Its output is
// then passed through a fixed, ordered chain of correction rules
// (Validator) that repairs the systematic mistakes models make and
// produces a confidence score.
package intent

import (
	"fmt"
	"strings"
)

// TriggerType is what starts a workflow.
type TriggerType string

const (
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerManual   TriggerType = "manual"
	TriggerChained  TriggerType = "chained"
)

// TriggerTypes lists every trigger in a fixed order.
var TriggerTypes = []TriggerType{TriggerWebhook, TriggerSchedule, TriggerManual, TriggerChained}

// ParseTriggerType accepts the canonical names plus the aliases models
// commonly produce ("triggered", "cron", "event", ...).
func ParseTriggerType(s string) (TriggerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webhook", "event", "http", "form":
		return TriggerWebhook, nil
	case "schedule", "scheduled", "cron", "timer", "interval":
		return TriggerSchedule, nil
	case "manual", "on-demand", "on_demand":
		return TriggerManual, nil
	case "chained", "triggered", "workflow", "sub-workflow", "subworkflow":
		return TriggerChained, nil
	default:
		return "", fmt.Errorf("unknown trigger type %q", s)
	}
}

// Intent is the structured interpretation of one request.
type Intent struct {
	// Integrations are generic service names, deduplicated case-insensitively
	// by the validator. Order is first mention.
	Integrations []string `json:"integrations"`

	TriggerType TriggerType `json:"trigger_type"`

	// Operations are free-form verbs in request order.
	Operations []string `json:"operations"`

	// RawText is the original request, kept for re-scoring.
	RawText string `json:"raw_text"`

	// Action is the model's one-line summary of what the workflow does.
	Action string `json:"action,omitempty"`

	// Requirements are extra constraints the model picked out.
	Requirements []string `json:"requirements,omitempty"`
}

// Clone returns a deep copy.
func (in *Intent) Clone() *Intent {
	if in == nil {
		return nil
	}
	out := *in
	out.Integrations = append([]string(nil), in.Integrations...)
	out.Operations = append([]string(nil), in.Operations...)
	out.Requirements = append([]string(nil), in.Requirements...)
	return &out
}

// HasIntegration reports whether name is present, ignoring case.
func (in *Intent) HasIntegration(name string) bool {
	for _, i := range in.Integrations {
		if strings.EqualFold(i, name) {
			return true
		}
	}
	return false
}

// CorrectionKind groups corrections by how much they undermine confidence.
type CorrectionKind string

const (
	// KindNormalization is a cosmetic fix: renaming or deduplicating.
	KindNormalization CorrectionKind = "normalization"

	// KindAddition means an integration the model missed was added.
	KindAddition CorrectionKind = "addition"

	// KindOverride means the model's trigger type was replaced.
	KindOverride CorrectionKind = "override"
)

// Correction records one change a rule made.
type Correction struct {
	Field     string         `json:"field"`
	Original  string         `json:"original"`
	Corrected string         `json:"corrected"`
	Rule      string         `json:"rule"`
	Kind      CorrectionKind `json:"kind"`
}

// String renders the correction for logs and user guidance.
func (c Correction) String() string {
	switch {
	case c.Original == "":
		return fmt.Sprintf("%s: added %s %q", c.Rule, c.Field, c.Corrected)
	case c.Corrected == "":
		return fmt.Sprintf("%s: removed %s %q", c.Rule, c.Field, c.Original)
	default:
		return fmt.Sprintf("%s: %s %q -> %q", c.Rule, c.Field, c.Original, c.Corrected)
	}
}

// ValidationResult is the validator's output.
type ValidationResult struct {
	Intent      *Intent      `json:"intent"`
	Confidence  float64      `json:"confidence"`
	Corrections []Correction `json:"corrections"`
}

// Rules returns the names of the rules that fired, in order.
func (r *ValidationResult) Rules() []string {
	out := make([]string, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		out = append(out, c.Rule)
	}
	return out
}
