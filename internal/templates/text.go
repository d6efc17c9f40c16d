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
	"math"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "i": true, "in": true,
	"into": true, "is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"when": true, "with": true, "workflow": true, "create": true, "make": true,
	"want": true, "please": true, "new": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// textIndex scores free text against template names and descriptions with
// TF-IDF cosine similarity. It is built once per Index and read-only after.
type textIndex struct {
	idf  map[string]float64
	docs map[string]map[string]float64 // record id -> unit-length vector
}

func newTextIndex(records []*Record) *textIndex {
	df := make(map[string]int)
	terms := make(map[string]map[string]int, len(records))
	for _, r := range records {
		tf := make(map[string]int)
		for _, t := range tokenize(r.Name + " " + r.Description) {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}
		terms[r.ID] = tf
	}

	n := float64(len(records))
	ti := &textIndex{
		idf:  make(map[string]float64, len(df)),
		docs: make(map[string]map[string]float64, len(records)),
	}
	for t, d := range df {
		// Smoothed so a term present everywhere still counts a little.
		ti.idf[t] = math.Log((n+1)/(float64(d)+1)) + 1
	}
	for id, tf := range terms {
		ti.docs[id] = ti.vector(tf)
	}
	return ti
}

func (ti *textIndex) vector(tf map[string]int) map[string]float64 {
	vec := make(map[string]float64, len(tf))
	var norm float64
	for t, c := range tf {
		idf, ok := ti.idf[t]
		if !ok {
			continue
		}
		w := float64(c) * idf
		vec[t] = w
		norm += w * w
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	for t := range vec {
		vec[t] /= norm
	}
	return vec
}

// query converts free text into a unit vector over the index vocabulary.
func (ti *textIndex) query(text string) map[string]float64 {
	tf := make(map[string]int)
	for _, t := range tokenize(text) {
		tf[t]++
	}
	return ti.vector(tf)
}

// similarity returns the cosine between a query vector and a record, in [0,1].
func (ti *textIndex) similarity(q map[string]float64, id string) float64 {
	doc := ti.docs[id]
	if len(q) == 0 || len(doc) == 0 {
		return 0
	}
	var dot float64
	for t, w := range q {
		dot += w * doc[t]
	}
	return math.Min(dot, 1)
}
