// Package baseline computes per-group price statistics and the derived
// per-item features used by the rule engine and the outlier models.
package baseline

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/table"
	"tenderscope/internal/textnorm"
)

// DefaultMinGroupSize is the smallest group that supports deviation scores.
const DefaultMinGroupSize = 2

// GroupKeyName identifies the grouping key recorded in snapshots.
const GroupKeyName = "normalized_description"

// Options configures a Builder.
type Options struct {
	// MinGroupSize is the minimum count of priced items for a group to
	// yield z_price and iqr_score.
	MinGroupSize int
	Normalizer   *textnorm.Normalizer
	// RunID is stamped on the snapshot; a new uuid is used when empty.
	RunID string
	// Now is the snapshot clock, time.Now when nil.
	Now func() time.Time
}

// DefaultOptions returns the default builder options.
func DefaultOptions() Options {
	return Options{
		MinGroupSize: DefaultMinGroupSize,
		Normalizer:   textnorm.New(),
	}
}

// Result is the output of one baseline build.
type Result struct {
	Rows     []Row
	Groups   map[string]GroupStats
	Snapshot *Snapshot
}

// Clone deep-copies the rows so another stage can own them.
func (r *Result) Clone() *Result {
	rows := make([]Row, len(r.Rows))
	copy(rows, r.Rows)
	groups := make(map[string]GroupStats, len(r.Groups))
	for k, v := range r.Groups {
		groups[k] = v
	}
	return &Result{Rows: rows, Groups: groups, Snapshot: r.Snapshot}
}

// Builder computes group baselines and derived features.
type Builder struct {
	opts   Options
	logger *slog.Logger
}

// NewBuilder creates a Builder; zero option fields take their defaults.
func NewBuilder(opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinGroupSize < 1 {
		opts.MinGroupSize = DefaultMinGroupSize
	}
	if opts.Normalizer == nil {
		opts.Normalizer = textnorm.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{opts: opts, logger: logger.With("component", "baseline")}
}

// Build groups items by normalized description, computes group statistics
// and derives z_price, iqr_score, discount and supplier_concentration for
// every item. The input table is not modified. An empty table is fatal.
func (b *Builder) Build(ctx context.Context, t *table.Table) (*Result, error) {
	if t.Len() == 0 {
		return nil, apperrors.NewInputError(apperrors.StageBaseline, "table has no rows")
	}

	keys := make([]string, len(t.Items))
	prices := make(map[string][]float64)
	order := make([]string, 0)
	concentration := make(map[string]int)

	for i, it := range t.Items {
		key := b.opts.Normalizer.Normalize(it.Description)
		keys[i] = key
		if _, seen := prices[key]; !seen {
			order = append(order, key)
			prices[key] = nil
		}
		if !IsNull(it.AdjudicatedPrice) {
			prices[key] = append(prices[key], it.AdjudicatedPrice)
		}
		if pk, ok := pairKey(it); ok {
			concentration[pk]++
		}
	}

	groups := make(map[string]GroupStats, len(order))
	for _, key := range order {
		groups[key] = ComputeGroupStats(key, prices[key])
	}

	rows := make([]Row, len(t.Items))
	var degenerate int
	for i, it := range t.Items {
		gs := groups[keys[i]]
		row := Row{
			RowID:          it.RowID,
			GroupKey:       keys[i],
			Price:          nullIfInf(it.AdjudicatedPrice),
			EstimatedPrice: nullIfInf(it.EstimatedPrice),
			Proposals:      nullIfInf(it.Proposals),
			GroupCount:     gs.Count,
			GroupMean:      gs.Mean,
			GroupMedian:    gs.Median,
			GroupStd:       gs.Std,
			GroupQ25:       gs.Q25,
			GroupQ75:       gs.Q75,
			GroupIQR:       gs.IQR,
			ZPrice:         math.NaN(),
			IQRScore:       math.NaN(),
			Discount:       discount(it.AdjudicatedPrice, it.EstimatedPrice),
		}
		if gs.Count >= b.opts.MinGroupSize {
			row.ZPrice = safeDiv(row.Price-gs.Mean, gs.Std)
			row.IQRScore = safeDiv(row.Price-gs.Q75, gs.IQR)
		}
		if IsNull(row.ZPrice) && IsNull(row.IQRScore) && !IsNull(row.Price) {
			degenerate++
		}
		row.SupplierConcentration = math.NaN()
		if pk, ok := pairKey(it); ok {
			row.SupplierConcentration = float64(concentration[pk])
		}
		rows[i] = row
	}

	snap := b.snapshot(t, rows, groups)

	b.logger.InfoContext(ctx, "baseline built",
		"rows", len(rows),
		"groups", len(groups),
		"null_deviation_rows", degenerate,
		"run_id", snap.RunID)

	return &Result{Rows: rows, Groups: groups, Snapshot: snap}, nil
}

func (b *Builder) snapshot(t *table.Table, rows []Row, groups map[string]GroupStats) *Snapshot {
	runID := b.opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	snap := &Snapshot{
		RunID:        runID,
		BaseTable:    t.Source,
		Key:          GroupKeyName,
		CreatedAt:    b.opts.Now().UTC(),
		FeaturesUsed: append([]string(nil), FeatureNames...),
		Medians:      make(map[string]float64, len(FeatureNames)),
		IQR:          make(map[string]float64, len(FeatureNames)),
		GroupMedians: make(map[string]float64, len(groups)),
		GroupIQR:     make(map[string]float64, len(groups)),
	}

	column := make([]float64, len(rows))
	for _, name := range FeatureNames {
		for i, r := range rows {
			column[i] = r.Value(name)
		}
		putFinite(snap.Medians, name, Median(column))
		q25, q75 := Quartiles(column)
		if iqr := q75 - q25; iqr != 0 {
			putFinite(snap.IQR, name, iqr)
		}
	}

	for key, gs := range groups {
		putFinite(snap.GroupMedians, key, gs.Median)
		if gs.IQR != 0 {
			putFinite(snap.GroupIQR, key, gs.IQR)
		}
	}
	return snap
}

// discount is 1 - adjudicated/estimated, null when either price is null or
// the estimate is zero.
func discount(adjudicated, estimated float64) float64 {
	ratio := safeDiv(adjudicated, estimated)
	if IsNull(ratio) {
		return math.NaN()
	}
	return 1 - ratio
}

func pairKey(it table.Item) (string, bool) {
	if it.ProcuringUnit == "" || it.SupplierID == "" {
		return "", false
	}
	return it.ProcuringUnit + "\x00" + it.SupplierID, true
}

func nullIfInf(v float64) float64 {
	if IsNull(v) {
		return math.NaN()
	}
	return v
}
