package outlier

import (
	"math"
	"sort"

	"tenderscope/internal/baseline"
)

// Epsilon guards min-max normalization against constant input.
const Epsilon = 1e-9

// MinMax rescales raw to [0,100] as 100*(x-min)/(max-min+Epsilon). A
// constant input maps to all zeros.
func MinMax(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range raw {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for i, v := range raw {
		out[i] = 100 * (v - lo) / (hi - lo + Epsilon)
	}
	return out
}

// Threshold returns the (1-contamination) quantile of scores.
func Threshold(scores []float64, contamination float64) float64 {
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	return baseline.Quantile(sorted, 1-contamination)
}
