package baseline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.25, 1.75},
		{0.5, 2.5},
		{0.75, 3.25},
		{1, 4},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, Quantile(sorted, tt.p), 1e-12, "p=%v", tt.p)
	}
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
}

func TestComputeGroupStats(t *testing.T) {
	gs := ComputeGroupStats("g", []float64{9, 2, 4, 4, math.NaN(), 4, 5, 5, 7, math.Inf(1)})

	assert.Equal(t, 8, gs.Count)
	assert.InDelta(t, 5.0, gs.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), gs.Std, 1e-12)
	assert.InDelta(t, 4.5, gs.Median, 1e-12)
	assert.InDelta(t, 4.0, gs.Q25, 1e-12)
	assert.InDelta(t, 5.5, gs.Q75, 1e-12)
	assert.InDelta(t, 1.5, gs.IQR, 1e-12)
	assert.Equal(t, 2.0, gs.Min)
	assert.Equal(t, 9.0, gs.Max)
}

func TestComputeGroupStats_Degenerate(t *testing.T) {
	single := ComputeGroupStats("one", []float64{10})
	assert.Equal(t, 1, single.Count)
	assert.True(t, math.IsNaN(single.Std))
	assert.Equal(t, 0.0, single.IQR)

	empty := ComputeGroupStats("none", []float64{math.NaN()})
	assert.Equal(t, 0, empty.Count)
	assert.True(t, math.IsNaN(empty.Mean))
	assert.True(t, math.IsNaN(empty.IQR))

	constant := ComputeGroupStats("flat", []float64{3, 3, 3})
	assert.Equal(t, 0.0, constant.Std)
	assert.Equal(t, 0.0, constant.IQR)
}

func TestSafeDiv(t *testing.T) {
	assert.Equal(t, 2.0, safeDiv(4, 2))
	assert.True(t, math.IsNaN(safeDiv(1, 0)))
	assert.True(t, math.IsNaN(safeDiv(math.NaN(), 2)))
	assert.True(t, math.IsNaN(safeDiv(1, math.NaN())))
	assert.True(t, math.IsNaN(safeDiv(math.MaxFloat64, 1e-300)))
}
