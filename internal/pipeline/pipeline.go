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

// Package pipeline runs one automation request through extraction,
// validation, template search, the gate and workflow creation.
//
// Each request is an independent run of a short state machine:
//
//	Received -> Extracting -> Validating -> Searching -> Gated -> Creating -> Done
//	Received -> Extracting -> Validating -> Searching -> PreviewDone
//
// Runs share nothing but the read-only template index snapshot and the
// platform client's cached path convention.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/n8n-agent/internal/intent"
	"github.com/tombee/n8n-agent/internal/log"
	"github.com/tombee/n8n-agent/internal/platform"
	"github.com/tombee/n8n-agent/internal/templates"
	"github.com/tombee/n8n-agent/internal/tracing"
	agenterrors "github.com/tombee/n8n-agent/pkg/errors"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived    State = "received"
	StateExtracting  State = "extracting"
	StateValidating  State = "validating"
	StateSearching   State = "searching"
	StateGated       State = "gated"
	StateCreating    State = "creating"
	StateDone        State = "done"
	StatePreviewDone State = "preview_done"
)

// Outcome is how a run ended when it did not fail.
type Outcome string

const (
	// OutcomeCreated means a workflow was created.
	OutcomeCreated Outcome = "created"

	// OutcomeClarify means the gate held creation back; the caller gets
	// the top candidates to choose from.
	OutcomeClarify Outcome = "clarify"

	// OutcomeNoMatch means no template scored above zero.
	OutcomeNoMatch Outcome = "no_match"

	// OutcomePreview means the caller only asked for candidates.
	OutcomePreview Outcome = "preview"
)

// Extractor turns request text into a raw intent.
type Extractor interface {
	Extract(ctx context.Context, text string) (*intent.Intent, error)
}

// Validator corrects an intent and scores it.
type Validator interface {
	Validate(in *intent.Intent, text string) *intent.ValidationResult
}

// Snapshots hands out the current template index.
type Snapshots interface {
	Load() *templates.Index
}

// Creator creates workflows on the target platform.
type Creator interface {
	Create(ctx context.Context, body []byte, activate bool) (*platform.CreationResult, error)
}

// Config tunes the orchestrator.
type Config struct {
	// MinConfidence and MinRelevance are the default gate thresholds.
	MinConfidence float64
	MinRelevance  float64

	// GateExpression, when set, replaces the threshold rule.
	GateExpression string

	// CandidateLimit bounds search results and previews.
	CandidateLimit int

	// ClarifyLimit bounds the candidates offered when the gate holds.
	ClarifyLimit int

	// Retry applies to extraction and creation.
	Retry RetryPolicy

	// RequestBudget is the overall deadline for one run.
	RequestBudget time.Duration

	// CreateTimeout bounds each creation attempt.
	CreateTimeout time.Duration

	// Weights tunes template ranking.
	Weights templates.Weights
}

// DefaultConfig returns the standard orchestrator settings.
func DefaultConfig() Config {
	return Config{
		MinConfidence:  0.3,
		MinRelevance:   0.3,
		CandidateLimit: 10,
		ClarifyLimit:   5,
		Retry:          DefaultRetryPolicy(),
		RequestBudget:  90 * time.Second,
		CreateTimeout:  30 * time.Second,
		Weights:        templates.DefaultWeights(),
	}
}

// Deps are the collaborators a run needs. Creator may be nil, in which
// case only previews are possible.
type Deps struct {
	Extractor Extractor
	Validator Validator
	Index     Snapshots
	Creator   Creator
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Metrics   *tracing.Metrics
}

// Request is one unit of work.
type Request struct {
	Text     string
	Activate bool

	// Preview stops after search.
	Preview bool
}

// Result is the terminal value of a successful run.
type Result struct {
	RequestID string
	Outcome   Outcome

	// States lists every state the run passed through, in order.
	States []State

	Intent      *intent.Intent
	Confidence  float64
	Corrections []intent.Correction

	// Candidates are the ranked matches; for OutcomeClarify only the top
	// ClarifyLimit are kept.
	Candidates []templates.Candidate

	// Selected is the template a workflow was created from.
	Selected *templates.Candidate

	Creation *platform.CreationResult

	// Message is a human-readable summary of the outcome.
	Message string
}

// Orchestrator runs requests. It is safe for concurrent use and holds no
// per-request state.
type Orchestrator struct {
	cfg       Config
	gate      *Gate
	extractor Extractor
	validator Validator
	index     Snapshots
	creator   Creator
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *tracing.Metrics
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("template index is required")
	}
	if deps.Validator == nil {
		deps.Validator = intent.NewValidator()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultConfig().CandidateLimit
	}
	if cfg.ClarifyLimit <= 0 {
		cfg.ClarifyLimit = DefaultConfig().ClarifyLimit
	}

	gate, err := NewGate(cfg.MinConfidence, cfg.MinRelevance, cfg.GateExpression)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:       cfg,
		gate:      gate,
		extractor: deps.Extractor,
		validator: deps.Validator,
		index:     deps.Index,
		creator:   deps.Creator,
		logger:    log.WithComponent(deps.Logger, "pipeline"),
		tracer:    deps.Tracer,
		metrics:   deps.Metrics,
	}, nil
}

// Gate returns the orchestrator's gate policy.
func (o *Orchestrator) Gate() *Gate { return o.gate }

// Chat runs the full pipeline.
func (o *Orchestrator) Chat(ctx context.Context, text string, activate bool) (*Result, error) {
	return o.Run(ctx, Request{Text: text, Activate: activate})
}

// Preview runs the pipeline up to search.
func (o *Orchestrator) Preview(ctx context.Context, text string) (*Result, error) {
	return o.Run(ctx, Request{Text: text, Preview: true})
}

// run carries the data handed from stage to stage.
type run struct {
	req    Request
	id     tracing.RequestID
	logger *slog.Logger
	res    *Result
	index  *templates.Index
}

func (r *run) enter(s State) {
	r.res.States = append(r.res.States, s)
	r.logger.Debug("pipeline state", log.StageKey, string(s))
}

// Run executes one request. Semantic outcomes (no match, clarify) are
// results, not errors; errors are extraction failures, platform failures
// and the overall deadline.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result *Result, err error) {
	ctx, id := tracing.EnsureContext(ctx)
	mode := "chat"
	if req.Preview {
		mode = "preview"
	}

	if o.cfg.RequestBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RequestBudget)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "pipeline."+mode, trace.WithAttributes(tracing.RequestAttr(id)))
	defer func() {
		outcome := agenterrors.Classify(err)
		if err == nil {
			outcome = string(result.Outcome)
			span.SetAttributes(attribute.String("pipeline.outcome", outcome))
		}
		o.metrics.RecordRequest(ctx, mode, outcome)
		tracing.EndSpan(span, err)
	}()

	r := &run{
		req:    req,
		id:     id,
		logger: log.WithRequestID(o.logger, id.String()),
		res:    &Result{RequestID: id.String()},
	}
	r.enter(StateReceived)

	r.index = o.index.Load()
	if r.index == nil {
		return nil, &agenterrors.CorpusError{Kind: agenterrors.CorpusEmpty, Location: "index not loaded"}
	}

	if err := o.extract(ctx, r); err != nil {
		return nil, o.fail(ctx, r, err)
	}
	o.validate(ctx, r)
	o.search(ctx, r)

	if req.Preview {
		r.enter(StatePreviewDone)
		r.res.Outcome = OutcomePreview
		r.res.Message = previewMessage(r.res.Candidates)
		return r.res, nil
	}

	if len(r.res.Candidates) == 0 {
		r.res.Outcome = OutcomeNoMatch
		r.res.Message = noMatchMessage()
		r.logger.Info("no matching template")
		return r.res, nil
	}

	allowed, err := o.gateCheck(ctx, r)
	if err != nil {
		return nil, o.fail(ctx, r, err)
	}
	if !allowed {
		if len(r.res.Candidates) > o.cfg.ClarifyLimit {
			r.res.Candidates = r.res.Candidates[:o.cfg.ClarifyLimit]
		}
		r.res.Outcome = OutcomeClarify
		r.res.Message = clarifyMessage(r.res.Candidates)
		return r.res, nil
	}

	if err := o.create(ctx, r); err != nil {
		return nil, o.fail(ctx, r, err)
	}
	r.enter(StateDone)
	r.res.Outcome = OutcomeCreated
	r.res.Message = createdMessage(r.req.Activate, r.res.Selected, r.res.Creation)
	return r.res, nil
}

// fail normalizes a terminal error. A run cut short by the overall
// deadline reports a TimeoutError.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	if ctx.Err() == context.DeadlineExceeded && agenterrors.Classify(err) != "timeout" {
		var pe *agenterrors.PlatformError
		var ee *agenterrors.ExtractionError
		if !agenterrors.As(err, &pe) && !agenterrors.As(err, &ee) {
			err = &agenterrors.TimeoutError{Operation: "request", Duration: o.cfg.RequestBudget, Cause: err}
		}
	}
	r.logger.Warn("pipeline failed", log.Error(err), "error_type", agenterrors.Classify(err))
	return err
}

// stage wraps one state in a span and a duration metric.
func (o *Orchestrator) stage(ctx context.Context, r *run, s State, fn func(ctx context.Context) error) error {
	r.enter(s)
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(s))
	err := fn(ctx)
	o.metrics.RecordStage(ctx, string(s), time.Since(start))
	tracing.EndSpan(span, err)
	return err
}

func (o *Orchestrator) extract(ctx context.Context, r *run) error {
	return o.stage(ctx, r, StateExtracting, func(ctx context.Context) error {
		return o.cfg.Retry.retry(ctx, ctx, func(ctx context.Context) error {
			in, err := o.extractor.Extract(ctx, r.req.Text)
			if err != nil {
				return err
			}
			r.res.Intent = in
			return nil
		}, func(attempt int, err error) {
			o.metrics.RecordRetry(ctx, string(StateExtracting))
			r.logger.Info("retrying extraction", "attempt", attempt, log.Error(err))
		})
	})
}

func (o *Orchestrator) validate(ctx context.Context, r *run) {
	_ = o.stage(ctx, r, StateValidating, func(ctx context.Context) error {
		vr := o.validator.Validate(r.res.Intent, r.req.Text)
		r.res.Intent = vr.Intent
		r.res.Confidence = vr.Confidence
		r.res.Corrections = vr.Corrections
		o.metrics.RecordValidation(ctx, vr.Confidence, vr.Rules())
		for _, c := range vr.Corrections {
			r.logger.Debug("intent corrected", "correction", c.String())
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Float64("intent.confidence", vr.Confidence),
			attribute.Int("intent.corrections", len(vr.Corrections)),
		)
		return nil
	})
}

func (o *Orchestrator) search(ctx context.Context, r *run) {
	_ = o.stage(ctx, r, StateSearching, func(ctx context.Context) error {
		r.res.Candidates = r.index.SearchWeighted(r.res.Intent, o.cfg.CandidateLimit, o.cfg.Weights)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("search.candidates", len(r.res.Candidates)))
		r.logger.Debug("template search finished", "candidates", len(r.res.Candidates))
		return nil
	})
}

func (o *Orchestrator) gateCheck(ctx context.Context, r *run) (bool, error) {
	var allowed bool
	err := o.stage(ctx, r, StateGated, func(ctx context.Context) error {
		top := r.res.Candidates[0]
		in := GateInput{
			Confidence:  r.res.Confidence,
			Relevance:   top.Relevance,
			Score:       top.Score,
			Candidates:  len(r.res.Candidates),
			Corrections: len(r.res.Corrections),
		}
		var err error
		allowed, err = o.gate.Allow(in)
		if err != nil {
			return err
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("gate.allowed", allowed))
		r.logger.Info("gate evaluated",
			"allowed", allowed,
			"confidence", in.Confidence,
			"relevance", in.Relevance,
			"policy", o.gate.String(),
		)
		return nil
	})
	return allowed, err
}

// create is the point of no return: once the first attempt starts it runs
// to completion even if the caller goes away. The caller's context still
// decides whether a retry may start.
func (o *Orchestrator) create(ctx context.Context, r *run) error {
	if o.creator == nil {
		return &agenterrors.PlatformError{
			Kind:   agenterrors.PlatformUnreachable,
			Reason: "no workflow platform configured",
		}
	}

	top := r.res.Candidates[0]
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := r.index.Body(ctx, top.Template.ID)
	if err != nil {
		return err
	}

	return o.stage(ctx, r, StateCreating, func(ctx context.Context) error {
		detached := context.WithoutCancel(ctx)
		return o.cfg.Retry.retry(ctx, detached, func(attemptCtx context.Context) error {
			if o.cfg.CreateTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(attemptCtx, o.cfg.CreateTimeout)
				defer cancel()
			}
			res, err := o.creator.Create(attemptCtx, body, r.req.Activate)
			if err != nil {
				return err
			}
			r.res.Selected = &top
			r.res.Creation = res
			r.logger.Info("workflow created",
				log.TemplateIDKey, top.Template.ID,
				log.WorkflowIDKey, res.WorkflowID,
				"active", res.Active,
			)
			return nil
		}, func(attempt int, err error) {
			o.metrics.RecordRetry(ctx, string(StateCreating))
			r.logger.Info("retrying workflow creation", "attempt", attempt, log.Error(err))
		})
	})
}
