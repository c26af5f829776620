package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the scoring pipeline and HTTP instruments.
type PipelineMetrics struct {
	StageDuration    metric.Float64Histogram
	ItemsScored      metric.Int64Counter
	ModelUnavailable metric.Int64Counter
	RulesMined       metric.Int64Counter
	RunsTotal        metric.Int64Counter

	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter
}

// CreatePipelineMetrics creates the application metrics on meter.
func CreatePipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	stageDuration, err := meter.Float64Histogram(
		"pipeline_stage_duration_seconds",
		metric.WithDescription("Duration of each scoring pipeline stage in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	itemsScored, err := meter.Int64Counter(
		"pipeline_items_scored_total",
		metric.WithDescription("Total number of items scored"),
	)
	if err != nil {
		return nil, err
	}

	modelUnavailable, err := meter.Int64Counter(
		"pipeline_model_unavailable_total",
		metric.WithDescription("Total number of runs whose outlier model could not be fitted"),
	)
	if err != nil {
		return nil, err
	}

	rulesMined, err := meter.Int64Counter(
		"association_rules_mined_total",
		metric.WithDescription("Total number of association rules produced"),
	)
	if err != nil {
		return nil, err
	}

	runsTotal, err := meter.Int64Counter(
		"pipeline_runs_total",
		metric.WithDescription("Total number of scoring runs"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	httpActiveRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		StageDuration:    stageDuration,
		ItemsScored:      itemsScored,
		ModelUnavailable: modelUnavailable,
		RulesMined:       rulesMined,
		RunsTotal:        runsTotal,

		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		HTTPActiveRequests:  httpActiveRequests,
	}, nil
}

// RecordStage records the duration of one pipeline stage.
func (m *PipelineMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.StageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

// RecordRun records a finished scoring run.
func (m *PipelineMetrics) RecordRun(ctx context.Context, model string, items int, modelAvailable bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.ItemsScored.Add(ctx, int64(items), attrs)
	if !modelAvailable {
		m.ModelUnavailable.Add(ctx, 1, attrs)
	}
}

// RecordRulesMined records the outcome of an association mining run.
func (m *PipelineMetrics) RecordRulesMined(ctx context.Context, status string, rules int) {
	if m == nil {
		return
	}
	m.RulesMined.Add(ctx, int64(rules), metric.WithAttributes(attribute.String("status", status)))
}

// RecordHTTPRequest records one served request.
func (m *PipelineMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}
