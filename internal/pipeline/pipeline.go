// Package pipeline runs the scoring stages end to end: baseline, then the
// rule engine and the outlier model side by side, then composition. It
// also drives association mining over flagged processes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"tenderscope/internal/association"
	"tenderscope/internal/baseline"
	"tenderscope/internal/config"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/infrastructure"
	"tenderscope/internal/outlier"
	"tenderscope/internal/rules"
	"tenderscope/internal/scoring"
	"tenderscope/internal/table"
	"tenderscope/internal/textnorm"
)

// Options holds every parameter of a scoring run.
type Options struct {
	MinGroupSize   int
	StopWords      []string
	RuleWeights    rules.Weights
	RuleThresholds rules.Thresholds
	Model          outlier.Config
	Composite      baseline.CompositeWeights
	Association    association.Params
}

// DefaultOptions returns the default run parameters.
func DefaultOptions() Options {
	return Options{
		MinGroupSize:   baseline.DefaultMinGroupSize,
		RuleWeights:    rules.DefaultWeights(),
		RuleThresholds: rules.DefaultThresholds(),
		Model:          outlier.DefaultConfig(),
		Composite:      scoring.DefaultWeights(),
		Association:    association.DefaultParams(),
	}
}

// OptionsFromConfig maps the pipeline configuration section to Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		MinGroupSize:   cfg.MinGroupSize,
		StopWords:      append([]string(nil), cfg.StopWords...),
		RuleWeights:    cfg.RuleWeights,
		RuleThresholds: cfg.RuleThresholds,
		Model:          cfg.Model,
		Composite:      cfg.Composite.Weights(),
		Association:    cfg.Association,
	}
}

// ModelStatus reports whether the outlier model produced scores for a run.
type ModelStatus struct {
	Name          string  `json:"name"`
	Available     bool    `json:"available"`
	Reason        string  `json:"reason,omitempty"`
	Contamination float64 `json:"contamination"`
	Threshold     float64 `json:"threshold"`
	Anomalies     int     `json:"anomalies"`
}

// Output is the result of one scoring run.
type Output struct {
	RunID    string
	Source   string
	Items    []scoring.ScoredItem
	Groups   map[string]baseline.GroupStats
	Snapshot *baseline.Snapshot
	Model    ModelStatus
	Duration time.Duration
}

// Item returns the scored item with rowID.
func (o *Output) Item(rowID int) (scoring.ScoredItem, bool) {
	return scoring.Find(o.Items, rowID)
}

// Pipeline wires the scoring stages together.
type Pipeline struct {
	opts       Options
	normalizer *textnorm.Normalizer
	builder    *baseline.Builder
	engine     *rules.Engine
	detector   outlier.Detector
	composer   *scoring.Composer
	miner      *association.Miner
	tracer     trace.Tracer
	metrics    *infrastructure.PipelineMetrics
	logger     *slog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = tracer }
}

// WithMetrics sets the metric instruments.
func WithMetrics(metrics *infrastructure.PipelineMetrics) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

// New validates opts and builds every stage.
func New(opts Options, options ...Option) (*Pipeline, error) {
	p := &Pipeline{opts: opts}
	for _, o := range options {
		o(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(infrastructure.MeterName)
	}
	logger := p.logger

	p.normalizer = textnorm.New(opts.StopWords...)
	p.builder = baseline.NewBuilder(baseline.Options{
		MinGroupSize: opts.MinGroupSize,
		Normalizer:   p.normalizer,
	}, logger)

	var err error
	if p.engine, err = rules.NewEngine(opts.RuleWeights, opts.RuleThresholds, logger); err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	if p.detector, err = outlier.New(opts.Model, logger); err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	if p.composer, err = scoring.NewComposer(opts.Composite, logger); err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	if p.miner, err = association.NewMiner(opts.Association, logger); err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	p.logger = logger.With("component", "pipeline")
	return p, nil
}

// Run scores every item of t. Input-shape failures are fatal; a model that
// cannot be fitted only marks the model as unavailable.
func (p *Pipeline) Run(ctx context.Context, t *table.Table) (*Output, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("source", sourceOf(t)),
		attribute.Int("rows", t.Len()),
		attribute.String("model", p.detector.Name()),
	))
	defer span.End()

	out, err := p.run(ctx, t)
	if err != nil {
		infrastructure.FailSpan(span, err)
		p.logger.ErrorContext(ctx, "scoring run failed",
			"source", sourceOf(t),
			"stage", apperrors.StageOf(err),
			"error", err,
		)
		return nil, err
	}

	out.Duration = time.Since(start)
	p.metrics.RecordRun(ctx, out.Model.Name, len(out.Items), out.Model.Available)
	span.SetAttributes(
		attribute.String("run_id", out.RunID),
		attribute.Bool("model_available", out.Model.Available),
	)
	p.logger.InfoContext(infrastructure.WithRunID(ctx, out.RunID), "scoring run completed",
		"source", out.Source,
		"items", len(out.Items),
		"groups", len(out.Groups),
		"model", out.Model.Name,
		"model_available", out.Model.Available,
		"anomalies", out.Model.Anomalies,
		"duration", out.Duration,
	)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, t *table.Table) (*Output, error) {
	if t.Len() == 0 {
		return nil, apperrors.NewInputError(apperrors.StageIngest, "table has no rows")
	}
	input := t.Clone()

	var base *baseline.Result
	err := p.stage(ctx, apperrors.StageBaseline, func(ctx context.Context) error {
		var err error
		base, err = p.builder.Build(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	ctx = infrastructure.WithRunID(ctx, base.Snapshot.RunID)

	// rules and model each own a copy of the feature rows
	ruleRows := base.Clone().Rows
	modelRows := base.Clone().Rows

	var (
		flags  []rules.FlagSet
		scores *outlier.Scores
		status = ModelStatus{Name: p.detector.Name()}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.stage(gctx, apperrors.StageRules, func(ctx context.Context) error {
			flags = p.engine.Evaluate(ctx, ruleRows)
			return nil
		})
	})
	g.Go(func() error {
		return p.stage(gctx, apperrors.StageModel, func(ctx context.Context) error {
			s, err := p.detector.Score(ctx, outlier.Prepare(modelRows))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				status.Reason = err.Error()
				p.logger.WarnContext(ctx, "outlier model unavailable", "model", status.Name, "error", err)
				return nil
			}
			scores = s
			status.Available = true
			status.Contamination = s.Contamination
			status.Threshold = s.Threshold
			status.Anomalies = s.AnomalyCount()
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []scoring.ScoredItem
	err = p.stage(ctx, apperrors.StageCompose, func(ctx context.Context) error {
		var err error
		items, err = p.composer.Compose(ctx, input, base.Rows, flags, scores)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap := base.Snapshot.
		WithRuleWeights(p.engine.Weights().Map()).
		WithCompositeWeights(p.composer.Weights()).
		WithModel(baseline.ModelInfo{
			Name:          status.Name,
			Params:        p.detector.Params(),
			Contamination: status.Contamination,
			Threshold:     status.Threshold,
			Available:     status.Available,
			Reason:        status.Reason,
		})

	return &Output{
		RunID:    snap.RunID,
		Source:   input.Source,
		Items:    items,
		Groups:   base.Groups,
		Snapshot: snap,
		Model:    status,
	}, nil
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name apperrors.Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(infrastructure.WithStage(ctx, string(name)), "pipeline."+string(name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(ctx, string(name), time.Since(start), err == nil)
	infrastructure.FailSpan(span, err)
	p.logger.DebugContext(ctx, "stage finished", "duration", time.Since(start), "ok", err == nil)
	return err
}

// Mine builds baskets from the items of flagged processes and mines
// association rules among them.
func (p *Pipeline) Mine(ctx context.Context, t *table.Table, flagged map[string]struct{}) (*association.Result, error) {
	var res *association.Result
	err := p.stage(ctx, apperrors.StageAssociation, func(ctx context.Context) error {
		baskets := association.BuildBaskets(t.Items, flagged, p.normalizer)
		var err error
		res, err = p.miner.Mine(ctx, baskets)
		return err
	})
	if err != nil {
		return nil, apperrors.NewStageError(apperrors.ErrTypeMining, apperrors.StageAssociation, "association mining failed", err)
	}
	p.metrics.RecordRulesMined(ctx, string(res.Status), len(res.Rules))
	return res, nil
}

// MineFlagged asks flagger which processes are flagged in scored and mines
// their baskets.
func (p *Pipeline) MineFlagged(ctx context.Context, t *table.Table, scored []scoring.ScoredItem, flagger Flagger) (*association.Result, error) {
	if flagger == nil {
		return nil, errors.New("mine flagged processes: nil flagger")
	}
	flagged, err := flagger.Flagged(ctx, scored)
	if err != nil {
		return nil, fmt.Errorf("resolve flagged processes: %w", err)
	}
	p.logger.InfoContext(ctx, "flagged processes resolved", "processes", len(flagged))
	return p.Mine(ctx, t, flagged)
}

// Suppliers ranks the suppliers of t by lots won; top > 0 keeps the first
// top.
func (p *Pipeline) Suppliers(ctx context.Context, t *table.Table, top int) []table.SupplierWins {
	if t == nil {
		return []table.SupplierWins{}
	}
	rows := table.RankSuppliers(t.Items, top)
	p.logger.DebugContext(ctx, "suppliers ranked", "source", t.Source, "suppliers", len(rows))
	return rows
}

// Explainer returns an explainer bound to the snapshot of out.
func (p *Pipeline) Explainer(out *Output, opts ...scoring.ExplainerOption) (*scoring.Explainer, error) {
	if out == nil {
		return nil, scoring.ErrNoSnapshot
	}
	return scoring.NewExplainer(out.Snapshot, opts...)
}

func sourceOf(t *table.Table) string {
	if t == nil {
		return ""
	}
	return t.Source
}
