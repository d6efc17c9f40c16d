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

// Package templates builds and searches the workflow template index.
//
// An Index is an immutable snapshot of a corpus: every record is derived
// once at build time by inspecting the template body, and a rebuild
// produces a new Index rather than patching an old one. Holder publishes
// the current snapshot to concurrent readers.
package templates

import (
	"strings"

	"github.com/tombee/n8n-agent/internal/intent"
)

// Record describes one template in the corpus. Records are never modified
// after the index that owns them is built.
type Record struct {
	ID          string `json:"id" cbor:"1,keyasint"`
	Name        string `json:"name" cbor:"2,keyasint"`
	Description string `json:"description,omitempty" cbor:"3,keyasint,omitempty"`

	// Locator is where the body lives inside the corpus.
	Locator string `json:"locator" cbor:"4,keyasint"`

	// Integrations are the canonical integration names declared by the
	// template's nodes, sorted.
	Integrations []string `json:"integrations" cbor:"5,keyasint"`

	TriggerType intent.TriggerType `json:"trigger_type" cbor:"6,keyasint"`
	NodeCount   int                `json:"node_count" cbor:"7,keyasint"`

	// Hash is the hex BLAKE3 digest of the raw body.
	Hash string `json:"-" cbor:"8,keyasint"`
}

// HasIntegration reports whether the template declares name, ignoring case.
func (r *Record) HasIntegration(name string) bool {
	for _, i := range r.Integrations {
		if strings.EqualFold(i, name) {
			return true
		}
	}
	return false
}

// Candidate is one search hit.
type Candidate struct {
	Template *Record `json:"template"`

	// Score is the raw ranking score, always > 0.
	Score float64 `json:"score"`

	// Relevance is Score divided by the best score any template could
	// reach for the same intent, in [0,1].
	Relevance float64 `json:"relevance"`

	// Similarity is the TF-IDF cosine between the request text and the
	// template name and description, in [0,1]. It never contributes to
	// Score.
	Similarity float64 `json:"similarity"`
}
