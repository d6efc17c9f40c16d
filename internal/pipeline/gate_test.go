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
	"errors"
	"testing"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

func TestGate_Thresholds(t *testing.T) {
	g, err := NewGate(0.3, 0.5, "")
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	tests := []struct {
		name string
		in   GateInput
		want bool
	}{
		{"both above", GateInput{Confidence: 0.9, Relevance: 0.9}, true},
		{"exactly at minimums", GateInput{Confidence: 0.3, Relevance: 0.5}, true},
		{"low confidence", GateInput{Confidence: 0.29, Relevance: 0.9}, false},
		{"low relevance", GateInput{Confidence: 0.9, Relevance: 0.49}, false},
		{"zero", GateInput{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Allow(tt.in)
			if err != nil {
				t.Fatalf("Allow() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGate_Expression(t *testing.T) {
	tests := []struct {
		expression string
		in         GateInput
		want       bool
	}{
		{"confidence > 0.5", GateInput{Confidence: 0.6}, true},
		{"confidence > 0.5", GateInput{Confidence: 0.4}, false},
		{"relevance >= 0.8 || (confidence >= 0.9 && candidates == 1)", GateInput{Confidence: 0.95, Candidates: 1}, true},
		{"corrections < 2 && score > 10", GateInput{Corrections: 2, Score: 20}, false},
		{"true", GateInput{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			g, err := NewGate(0, 0, tt.expression)
			if err != nil {
				t.Fatalf("NewGate() error = %v", err)
			}
			got, err := g.Allow(tt.in)
			if err != nil {
				t.Fatalf("Allow() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewGate_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		conf, rel  float64
		expression string
		field      string
	}{
		{"confidence above one", 1.5, 0.3, "", "min_confidence"},
		{"negative relevance", 0.3, -0.1, "", "min_relevance"},
		{"syntax error", 0.3, 0.3, "confidence >", "gate_expression"},
		{"unknown variable", 0.3, 0.3, "urgency > 1", "gate_expression"},
		{"not boolean", 0.3, 0.3, "confidence + 1", "gate_expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(tt.conf, tt.rel, tt.expression)
			if err == nil {
				t.Fatal("NewGate() expected error")
			}
			var ve *agenterrors.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestGate_RuntimeFailureIsConfigError(t *testing.T) {
	g, err := NewGate(0, 0, "corrections % candidates == 0")
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	allowed, err := g.Allow(GateInput{Corrections: 1, Candidates: 0})
	if err == nil {
		t.Fatal("Allow() expected error")
	}
	if allowed {
		t.Error("Allow() = true on failure")
	}
	var ce *agenterrors.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	if ce.Key != "pipeline.gate_expression" {
		t.Errorf("Key = %q", ce.Key)
	}
	var ve *agenterrors.ValidationError
	if errors.As(err, &ve) {
		t.Error("a failing policy must not be reported as bad input")
	}
}

func TestGate_String(t *testing.T) {
	g, _ := NewGate(0.3, 0.4, "")
	if got, want := g.String(), "confidence >= 0.30 && relevance >= 0.40"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	g, _ = NewGate(0, 0, "score > 1")
	if got := g.String(); got != "score > 1" {
		t.Errorf("String() = %q", got)
	}
}
