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

import "strings"

// Penalties configures how confidence is reduced. Correction penalties are
// charged once per correction; the rest are charged once per result based
// on the corrected intent.
type Penalties struct {
	Normalization float64 `yaml:"normalization"`
	Addition      float64 `yaml:"addition"`
	Override      float64 `yaml:"override"`

	// NoIntegrations applies when nothing was detected at all.
	NoIntegrations float64 `yaml:"no_integrations"`

	// GenericOnly applies when every integration is a trigger category
	// (Webhook, Form, Schedule) and no actual service was named.
	GenericOnly float64 `yaml:"generic_only"`

	// NoOperations applies when no operation verbs were extracted.
	NoOperations float64 `yaml:"no_operations"`

	// TriggerDisagreement applies when the text's trigger keywords point at
	// a different trigger than the one kept.
	TriggerDisagreement float64 `yaml:"trigger_disagreement"`
}

// DefaultPenalties returns the standard weights.
func DefaultPenalties() Penalties {
	return Penalties{
		Normalization:       0.05,
		Addition:            0.1,
		Override:            0.2,
		NoIntegrations:      0.3,
		GenericOnly:         0.1,
		NoOperations:        0.05,
		TriggerDisagreement: 0.1,
	}
}

func (p Penalties) forKind(k CorrectionKind) float64 {
	switch k {
	case KindNormalization:
		return p.Normalization
	case KindAddition:
		return p.Addition
	case KindOverride:
		return p.Override
	default:
		return p.Override
	}
}

// Validator applies an ordered rule chain and scores the result.
// It is safe for concurrent use.
type Validator struct {
	rules     []Rule
	penalties Penalties
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithPenalties overrides the default penalty weights.
func WithPenalties(p Penalties) ValidatorOption {
	return func(v *Validator) { v.penalties = p }
}

// WithRules replaces the rule chain.
func WithRules(rules ...Rule) ValidatorOption {
	return func(v *Validator) { v.rules = rules }
}

// NewValidator creates a validator with the default rule chain.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		rules:     DefaultRules(),
		penalties: DefaultPenalties(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate corrects a copy of in against text and computes confidence.
// It performs no I/O and never fails; the input intent is not modified.
func (v *Validator) Validate(in *Intent, text string) *ValidationResult {
	corrected := in.Clone()
	if corrected == nil {
		corrected = &Intent{}
	}
	corrected.RawText = text

	var corrections []Correction
	for _, rule := range v.rules {
		corrections = append(corrections, rule.Apply(corrected, text)...)
	}

	return &ValidationResult{
		Intent:      corrected,
		Confidence:  v.confidence(corrected, text, corrections),
		Corrections: corrections,
	}
}

func (v *Validator) confidence(in *Intent, text string, corrections []Correction) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	c := 1.0
	for _, corr := range corrections {
		c -= v.penalties.forKind(corr.Kind)
	}

	switch {
	case len(in.Integrations) == 0:
		c -= v.penalties.NoIntegrations
	case onlyTriggerCategories(in.Integrations):
		c -= v.penalties.GenericOnly
	}

	if len(in.Operations) == 0 {
		c -= v.penalties.NoOperations
	}

	if best, score := bestTrigger(text); score > 0 && best != in.TriggerType {
		c -= v.penalties.TriggerDisagreement
	}

	if c < 0 {
		return 0
	}
	return c
}

func onlyTriggerCategories(integrations []string) bool {
	for _, name := range integrations {
		switch name {
		case IntegrationWebhook, IntegrationForm, IntegrationSchedule:
		default:
			return false
		}
	}
	return true
}
