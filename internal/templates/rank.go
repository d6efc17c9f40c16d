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
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/tombee/n8n-agent/internal/intent"
)

// Weights tunes the ranking function. Integration overlap dominates,
// trigger match is secondary and size proximity third. Text similarity
// carries no weight: it only orders templates whose scores are equal.
type Weights struct {
	// Integration is added per intent integration the template declares.
	Integration float64 `yaml:"integration"`

	// Trigger is added when the template's trigger matches exactly.
	Trigger float64 `yaml:"trigger"`

	// Size is the largest size-proximity bonus.
	Size float64 `yaml:"size"`

	// SizeBaseline is the node count of a "simple" workflow.
	SizeBaseline int `yaml:"size_baseline"`

	// SizeDecay is how many nodes away from the baseline halve the bonus.
	SizeDecay float64 `yaml:"size_decay"`

	// SimpleOperations is the operation count at or below which the size
	// bonus applies.
	SimpleOperations int `yaml:"simple_operations"`
}

// DefaultWeights returns the standard ranking weights.
func DefaultWeights() Weights {
	return Weights{
		Integration:      10,
		Trigger:          5,
		Size:             2,
		SizeBaseline:     3,
		SizeDecay:        4,
		SimpleOperations: 3,
	}
}

// Search ranks templates against in and returns at most limit candidates,
// best first. Equal scores are ordered by name/description similarity to
// the request text, then by the smaller template, then the lower id. A
// template with no integration overlap and no trigger match scores zero
// and is never returned; an empty result is not an error.
func (ix *Index) Search(in *intent.Intent, limit int) []Candidate {
	return ix.SearchWeighted(in, limit, DefaultWeights())
}

// SearchWeighted is Search with explicit weights.
func (ix *Index) SearchWeighted(in *intent.Intent, limit int, w Weights) []Candidate {
	if in == nil || limit <= 0 {
		return nil
	}

	wanted := uniqueFold(in.Integrations)
	simple := len(in.Operations) <= w.SimpleOperations
	query := ix.text.query(in.RawText)
	best := w.MaxScore(in)

	var out []Candidate
	for _, rec := range ix.records {
		overlap := 0
		for _, name := range wanted {
			if rec.HasIntegration(name) {
				overlap++
			}
		}
		triggerMatch := in.TriggerType != "" && rec.TriggerType == in.TriggerType
		if overlap == 0 && !triggerMatch {
			continue
		}

		score := w.Integration * float64(overlap)
		if triggerMatch {
			score += w.Trigger
		}
		if simple {
			score += w.sizeBonus(rec.NodeCount)
		}
		if score <= 0 {
			continue
		}

		relevance := 0.0
		if best > 0 {
			relevance = math.Min(score/best, 1)
		}
		out = append(out, Candidate{
			Template:   rec,
			Score:      score,
			Relevance:  relevance,
			Similarity: ix.text.similarity(query, rec.ID),
		})
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Template.NodeCount, b.Template.NodeCount); c != 0 {
			return c
		}
		return strings.Compare(a.Template.ID, b.Template.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MaxScore is the best score any template could reach for in: every
// integration matched, the trigger matched and the full size bonus.
func (w Weights) MaxScore(in *intent.Intent) float64 {
	if in == nil {
		return 0
	}
	score := w.Integration * float64(len(uniqueFold(in.Integrations)))
	if in.TriggerType != "" {
		score += w.Trigger
	}
	if len(in.Operations) <= w.SimpleOperations {
		score += w.Size
	}
	return score
}

func (w Weights) sizeBonus(nodes int) float64 {
	if w.Size <= 0 {
		return 0
	}
	decay := w.SizeDecay
	if decay <= 0 {
		decay = 1
	}
	dist := math.Abs(float64(nodes - w.SizeBaseline))
	return w.Size / (1 + dist/decay)
}

func uniqueFold(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		k := strings.ToLower(strings.TrimSpace(n))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, n)
	}
	return out
}
