package baseline

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// GroupStats summarizes adjusted prices within one item group.
// Statistics ignore null prices; Count is the number of non-null prices.
// Std is the sample standard deviation (n-1 denominator) and quartiles use
// linear interpolation between order statistics.
type GroupStats struct {
	Key    string  `json:"key"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
	IQR    float64 `json:"iqr"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// ComputeGroupStats summarizes values, skipping NaN and ±Inf. An empty
// input yields NaN statistics; a single value has an undefined (NaN) Std.
func ComputeGroupStats(key string, values []float64) GroupStats {
	clean := finite(values)
	gs := GroupStats{Key: key, Count: len(clean)}
	if len(clean) == 0 {
		nan := math.NaN()
		gs.Mean, gs.Median, gs.Std = nan, nan, nan
		gs.Q25, gs.Q75, gs.IQR = nan, nan, nan
		gs.Min, gs.Max = nan, nan
		return gs
	}

	sort.Float64s(clean)
	gs.Mean = stat.Mean(clean, nil)
	gs.Std = SampleStd(clean)
	gs.Median = Quantile(clean, 0.5)
	gs.Q25 = Quantile(clean, 0.25)
	gs.Q75 = Quantile(clean, 0.75)
	gs.IQR = gs.Q75 - gs.Q25
	gs.Min = clean[0]
	gs.Max = clean[len(clean)-1]
	return gs
}

// SampleStd is the n-1 standard deviation; NaN for fewer than two values.
func SampleStd(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return stat.StdDev(values, nil)
}

// Quantile returns the p-quantile of sorted values by linear interpolation
// between closest ranks (h = (n-1)p). The input must be sorted and free of NaN.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	index := p * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Median returns the median of the finite values in values, or NaN.
func Median(values []float64) float64 {
	clean := finite(values)
	if len(clean) == 0 {
		return math.NaN()
	}
	sort.Float64s(clean)
	return Quantile(clean, 0.5)
}

// Quartiles returns Q25 and Q75 of the finite values in values.
func Quartiles(values []float64) (q25, q75 float64) {
	clean := finite(values)
	if len(clean) == 0 {
		return math.NaN(), math.NaN()
	}
	sort.Float64s(clean)
	return Quantile(clean, 0.25), Quantile(clean, 0.75)
}

// IsNull reports whether v is a null (NaN or infinite) feature value.
func IsNull(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !IsNull(v) {
			out = append(out, v)
		}
	}
	return out
}

// safeDiv returns num/den, or NaN when den is zero, null, or the result is
// not finite.
func safeDiv(num, den float64) float64 {
	if IsNull(num) || IsNull(den) || den == 0 {
		return math.NaN()
	}
	q := num / den
	if IsNull(q) {
		return math.NaN()
	}
	return q
}
