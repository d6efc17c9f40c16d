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

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// GateInput is what the gate sees about one request.
type GateInput struct {
	// Confidence is the validator's confidence in the intent.
	Confidence float64

	// Relevance is the top candidate's normalized score in [0,1].
	Relevance float64

	// Score is the top candidate's raw ranking score.
	Score float64

	// Candidates is how many templates matched.
	Candidates int

	// Corrections is how many validator corrections were applied.
	Corrections int
}

func (in GateInput) env() map[string]any {
	return map[string]any{
		"confidence":  in.Confidence,
		"relevance":   in.Relevance,
		"score":       in.Score,
		"candidates":  in.Candidates,
		"corrections": in.Corrections,
	}
}

// Gate decides whether a request may go on to create a workflow. With no
// expression it passes when both confidence and relevance reach their
// minimums; an expression replaces that rule entirely.
type Gate struct {
	minConfidence float64
	minRelevance  float64
	expression    string
	program       *vm.Program
}

// NewGate compiles expression (when set) up front so a bad policy fails
// at startup rather than on the first request.
func NewGate(minConfidence, minRelevance float64, expression string) (*Gate, error) {
	if minConfidence < 0 || minConfidence > 1 {
		return nil, &agenterrors.ValidationError{
			Field:   "min_confidence",
			Message: fmt.Sprintf("must be between 0 and 1, got %v", minConfidence),
		}
	}
	if minRelevance < 0 || minRelevance > 1 {
		return nil, &agenterrors.ValidationError{
			Field:   "min_relevance",
			Message: fmt.Sprintf("must be between 0 and 1, got %v", minRelevance),
		}
	}
	g := &Gate{minConfidence: minConfidence, minRelevance: minRelevance, expression: expression}
	if expression == "" {
		return g, nil
	}

	prog, err := expr.Compile(expression,
		expr.Env(GateInput{}.env()),
		// Expression must return boolean
		expr.AsBool(),
	)
	if err != nil {
		return nil, &agenterrors.ValidationError{
			Field:       "gate_expression",
			Message:     fmt.Sprintf("failed to compile expression: %s", err.Error()),
			SuggestText: "use confidence, relevance, score, candidates and corrections with comparison operators",
		}
	}
	g.program = prog
	return g, nil
}

// Allow evaluates the gate.
func (g *Gate) Allow(in GateInput) (bool, error) {
	if g.program == nil {
		return in.Confidence >= g.minConfidence && in.Relevance >= g.minRelevance, nil
	}

	// The expression compiled, so a failure here is a policy fault in the
	// server's configuration, not a problem with the request.
	result, err := expr.Run(g.program, in.env())
	if err != nil {
		return false, &agenterrors.ConfigError{
			Key:    "pipeline.gate_expression",
			Reason: fmt.Sprintf("evaluation failed for %q", g.expression),
			Cause:  err,
		}
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, &agenterrors.ConfigError{
			Key:    "pipeline.gate_expression",
			Reason: fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
		}
	}
	return ok, nil
}

// String describes the policy for logs.
func (g *Gate) String() string {
	if g.expression != "" {
		return g.expression
	}
	return fmt.Sprintf("confidence >= %.2f && relevance >= %.2f", g.minConfidence, g.minRelevance)
}
