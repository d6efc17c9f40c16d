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

package tracing

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	requestsTotal    metric.Int64Counter
	correctionsTotal metric.Int64Counter
	retriesTotal     metric.Int64Counter
	rebuildsTotal    metric.Int64Counter

	stageDuration metric.Float64Histogram
	confidence    metric.Float64Histogram

	indexSize atomic.Int64
}

// NewMetrics creates the instruments on the given meter provider.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("n8n-agent")
	m := &Metrics{}

	var err error

	m.requestsTotal, err = meter.Int64Counter(
		"n8n_agent_requests_total",
		metric.WithDescription("Pipeline requests by mode and terminal outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.correctionsTotal, err = meter.Int64Counter(
		"n8n_agent_corrections_total",
		metric.WithDescription("Intent corrections applied by validation rule"),
		metric.WithUnit("{correction}"),
	)
	if err != nil {
		return nil, err
	}

	m.retriesTotal, err = meter.Int64Counter(
		"n8n_agent_retries_total",
		metric.WithDescription("Retried attempts of transient stage failures"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.rebuildsTotal, err = meter.Int64Counter(
		"n8n_agent_index_rebuilds_total",
		metric.WithDescription("Template index rebuilds by result"),
		metric.WithUnit("{rebuild}"),
	)
	if err != nil {
		return nil, err
	}

	m.stageDuration, err = meter.Float64Histogram(
		"n8n_agent_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.confidence, err = meter.Float64Histogram(
		"n8n_agent_confidence",
		metric.WithDescription("Validated intent confidence"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"n8n_agent_index_templates",
		metric.WithDescription("Templates in the active index snapshot"),
		metric.WithUnit("{template}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.indexSize.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest counts one finished pipeline run.
func (m *Metrics) RecordRequest(ctx context.Context, mode, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
}

// RecordStage records how long one stage took.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordValidation records the confidence and the rules that fired.
func (m *Metrics) RecordValidation(ctx context.Context, confidence float64, rules []string) {
	if m == nil {
		return
	}
	m.confidence.Record(ctx, confidence)
	for _, rule := range rules {
		m.correctionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
	}
}

// RecordRetry counts one retried attempt for stage.
func (m *Metrics) RecordRetry(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordIndexBuild counts a rebuild and, on success, updates the template gauge.
func (m *Metrics) RecordIndexBuild(ctx context.Context, templates int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		m.indexSize.Store(int64(templates))
	}
	m.rebuildsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
