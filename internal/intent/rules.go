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
	"regexp"
	"strings"
)

// Canonical integration names the rules add.
const (
	IntegrationWebhook  = "Webhook"
	IntegrationForm     = "Form"
	IntegrationSchedule = "Schedule"
)

// Rule names, in application order.
const (
	RuleWebhookDetection  = "webhook_detection"
	RuleFormDetection     = "form_detection"
	RuleScheduleDetection = "schedule_detection"
	RuleNormalization     = "integration_normalization"
	RuleTriggerCheck      = "trigger_type_check"
	RuleDeduplication     = "duplicate_removal"
)

// Rule inspects the request text and corrects the intent in place,
// returning a record for every change it made.
type Rule interface {
	Name() string
	Apply(in *Intent, text string) []Correction
}

// patterns compiles a list of case-insensitive expressions.
func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func matchCount(res []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range res {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

var (
	// explicitWebhook is the literal token. It pins the trigger to webhook.
	explicitWebhook = regexp.MustCompile(`(?i)\bwebhooks?\b`)

	webhookPatterns = patterns(
		`\bwebhooks?\b`,
		`\bhook\b`,
		`\bhttp.*callback\b`,
		`\bevent.*trigger\b`,
		`\bpayload\b`,
		`\bpost.*endpoint\b`,
		`\bincoming.*data\b`,
		`\bapi.*call\b`,
	)

	formPatterns = patterns(
		`\bforms?\b`,
		`\bsubmissions?\b`,
		`\bsubmit(ted|s)?\b`,
		`\bcontact.*form\b`,
		`\bform.*data\b`,
		`\buser.*input\b`,
	)

	schedulePatterns = patterns(
		`\bschedule(d)?\b`,
		`\bdaily\b`,
		`\bweekly\b`,
		`\bmonthly\b`,
		`\bhourly\b`,
		`\bevery\s+\w+`,
		`\bcron\b`,
		`\btimer\b`,
		`\bregular(ly)?\b`,
	)

	triggerIndicators = map[TriggerType][]*regexp.Regexp{
		TriggerWebhook: patterns(
			`\bwhen\s+\w+\s+happens?\b`,
			`\bon\s+\w+\s+submission\b`,
			`\bwebhooks?\b`,
			`\bform.*submit`,
			`\bincoming\b`,
			`\breceive.*data\b`,
			`\bapi.*call\b`,
			`\bevent.*trigger\b`,
		),
		TriggerSchedule: patterns(
			`\bevery\s+(day|hour|week|month|minute|morning|evening|night)\b`,
			`\bdaily\b`,
			`\bweekly\b`,
			`\bmonthly\b`,
			`\bhourly\b`,
			`\bschedule(d)?\b`,
			`\bcron\b`,
			`\bautomatically\b`,
			`\bat\s+\d{1,2}:\d{2}\b`,
		),
		TriggerManual: patterns(
			`\bmanually?\b`,
			`\blet\s+me\s+(run|start|trigger)\b`,
			`\bi\s+want\s+to\s+(run|start|trigger)\b`,
			`\brun\s+on\s+demand\b`,
		),
		TriggerChained: patterns(
			`\bafter\s+(another|the\s+other)\s+workflow\b`,
			`\bsub-?workflows?\b`,
			`\bcalled\s+(by|from)\s+(another\s+)?workflow\b`,
			`\bchain(ed)?\s+workflows?\b`,
			`\bexecute\s+workflow\b`,
		),
	}
)

// TriggerScores counts indicator matches per trigger type.
func TriggerScores(text string) map[TriggerType]int {
	scores := make(map[TriggerType]int, len(triggerIndicators))
	for t, res := range triggerIndicators {
		if n := matchCount(res, text); n > 0 {
			scores[t] = n
		}
	}
	return scores
}

// bestTrigger picks the highest-scoring trigger. Ties resolve in
// TriggerTypes order so the result is deterministic. An explicit
// "webhook" token always wins.
func bestTrigger(text string) (TriggerType, int) {
	scores := TriggerScores(text)
	if explicitWebhook.MatchString(text) {
		return TriggerWebhook, scores[TriggerWebhook]
	}
	var best TriggerType
	bestScore := 0
	for _, t := range TriggerTypes {
		if scores[t] > bestScore {
			best, bestScore = t, scores[t]
		}
	}
	return best, bestScore
}

// DefaultRules returns the correction chain in its fixed order.
func DefaultRules() []Rule {
	return []Rule{
		webhookRule{},
		requireIntegrationRule{name: RuleFormDetection, integration: IntegrationForm, patterns: formPatterns},
		requireIntegrationRule{name: RuleScheduleDetection, integration: IntegrationSchedule, patterns: schedulePatterns},
		normalizeRule{},
		triggerCheckRule{},
		dedupeRule{},
	}
}

// webhookRule adds the Webhook integration when the text mentions one, and
// forces the webhook trigger when the literal token is present.
type webhookRule struct{}

func (webhookRule) Name() string { return RuleWebhookDetection }

func (webhookRule) Apply(in *Intent, text string) []Correction {
	var out []Correction
	if matchAny(webhookPatterns, text) && !in.HasIntegration(IntegrationWebhook) {
		in.Integrations = append(in.Integrations, IntegrationWebhook)
		out = append(out, Correction{
			Field:     "integrations",
			Corrected: IntegrationWebhook,
			Rule:      RuleWebhookDetection,
			Kind:      KindAddition,
		})
	}
	if explicitWebhook.MatchString(text) && in.TriggerType != TriggerWebhook {
		out = append(out, Correction{
			Field:     "trigger_type",
			Original:  string(in.TriggerType),
			Corrected: string(TriggerWebhook),
			Rule:      RuleWebhookDetection,
			Kind:      KindOverride,
		})
		in.TriggerType = TriggerWebhook
	}
	return out
}

// requireIntegrationRule adds integration when any pattern matches.
type requireIntegrationRule struct {
	name        string
	integration string
	patterns    []*regexp.Regexp
}

func (r requireIntegrationRule) Name() string { return r.name }

func (r requireIntegrationRule) Apply(in *Intent, text string) []Correction {
	if !matchAny(r.patterns, text) || in.HasIntegration(r.integration) {
		return nil
	}
	in.Integrations = append(in.Integrations, r.integration)
	return []Correction{{
		Field:     "integrations",
		Corrected: r.integration,
		Rule:      r.name,
		Kind:      KindAddition,
	}}
}

// normalizeRule maps brand and casing variants to canonical generic names.
type normalizeRule struct{}

func (normalizeRule) Name() string { return RuleNormalization }

func (normalizeRule) Apply(in *Intent, _ string) []Correction {
	var out []Correction
	for i, name := range in.Integrations {
		canonical := NormalizeIntegration(name)
		if canonical == name {
			continue
		}
		in.Integrations[i] = canonical
		out = append(out, Correction{
			Field:     "integrations",
			Original:  name,
			Corrected: canonical,
			Rule:      RuleNormalization,
			Kind:      KindNormalization,
		})
	}
	return out
}

// triggerCheckRule overrides the trigger type when the text carries strong
// evidence for another one: more than one indicator, or at least one when
// the model said "manual" (its most common mistake). A missing trigger
// type is filled from any evidence at all.
type triggerCheckRule struct{}

func (triggerCheckRule) Name() string { return RuleTriggerCheck }

func (triggerCheckRule) Apply(in *Intent, text string) []Correction {
	best, score := bestTrigger(text)
	if score == 0 && !explicitWebhook.MatchString(text) {
		if in.TriggerType == "" {
			in.TriggerType = TriggerManual
			return []Correction{{
				Field:     "trigger_type",
				Corrected: string(TriggerManual),
				Rule:      RuleTriggerCheck,
				Kind:      KindOverride,
			}}
		}
		return nil
	}
	if best == in.TriggerType {
		return nil
	}
	weak := in.TriggerType != "" && in.TriggerType != TriggerManual
	if score <= 1 && weak && !explicitWebhook.MatchString(text) {
		return nil
	}
	c := Correction{
		Field:     "trigger_type",
		Original:  string(in.TriggerType),
		Corrected: string(best),
		Rule:      RuleTriggerCheck,
		Kind:      KindOverride,
	}
	in.TriggerType = best
	return []Correction{c}
}

// dedupeRule removes case-insensitive duplicates, keeping the first.
type dedupeRule struct{}

func (dedupeRule) Name() string { return RuleDeduplication }

func (dedupeRule) Apply(in *Intent, _ string) []Correction {
	var out []Correction
	seen := make(map[string]bool, len(in.Integrations))
	kept := in.Integrations[:0]
	for _, name := range in.Integrations {
		key := strings.ToLower(name)
		if seen[key] {
			out = append(out, Correction{
				Field:    "integrations",
				Original: name,
				Rule:     RuleDeduplication,
				Kind:     KindNormalization,
			})
			continue
		}
		seen[key] = true
		kept = append(kept, name)
	}
	in.Integrations = kept
	return out
}
