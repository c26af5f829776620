package outlier

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"tenderscope/internal/baseline"
)

// Matrix is a dense feature matrix with the RowID of every row. Matrices
// built by Prepare contain no NaN or Inf and are column-standardized.
type Matrix struct {
	RowIDs   []int
	Features []string
	Data     [][]float64
	constant []bool
}

// Prepare builds the standardized model input from baseline rows. Null and
// infinite features are imputed to 0 before standardization.
func Prepare(rows []baseline.Row) *Matrix {
	m := &Matrix{
		RowIDs:   make([]int, len(rows)),
		Features: append([]string(nil), baseline.FeatureNames...),
		Data:     make([][]float64, len(rows)),
	}
	for i, r := range rows {
		m.RowIDs[i] = r.RowID
		vec := r.Vector()
		for j, v := range vec {
			if baseline.IsNull(v) {
				vec[j] = 0
			}
		}
		m.Data[i] = vec
	}
	return m.Standardize()
}

// NewMatrix wraps raw data without standardizing it.
func NewMatrix(rowIDs []int, features []string, data [][]float64) *Matrix {
	m := &Matrix{RowIDs: rowIDs, Features: features, Data: data}
	m.constant = m.constantColumns()
	return m
}

// Rows returns the row count.
func (m *Matrix) Rows() int { return len(m.Data) }

// Cols returns the column count.
func (m *Matrix) Cols() int { return len(m.Features) }

// Standardize returns a copy with every column scaled to zero mean and unit
// population variance. Constant columns become all zeros.
func (m *Matrix) Standardize() *Matrix {
	n, d := m.Rows(), m.Cols()
	out := &Matrix{
		RowIDs:   append([]int(nil), m.RowIDs...),
		Features: append([]string(nil), m.Features...),
		Data:     make([][]float64, n),
	}
	for i := range out.Data {
		out.Data[i] = make([]float64, d)
	}

	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			col[i] = m.Data[i][j]
		}
		if n == 0 {
			continue
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		for i := 0; i < n; i++ {
			if std == 0 || math.IsNaN(std) {
				out.Data[i][j] = 0
				continue
			}
			out.Data[i][j] = (col[i] - mean) / std
		}
	}
	out.constant = m.constantColumns()
	return out
}

// Degenerate reports whether no model can be fitted: fewer than two rows or
// every column constant.
func (m *Matrix) Degenerate() bool {
	if m.Rows() < 2 {
		return true
	}
	for _, c := range m.constant {
		if !c {
			return false
		}
	}
	return true
}

func (m *Matrix) constantColumns() []bool {
	d := m.Cols()
	out := make([]bool, d)
	for j := 0; j < d; j++ {
		out[j] = true
		for i := 1; i < m.Rows(); i++ {
			if m.Data[i][j] != m.Data[0][j] {
				out[j] = false
				break
			}
		}
	}
	return out
}

// column copies column j.
func (m *Matrix) column(j int) []float64 {
	out := make([]float64, m.Rows())
	for i, row := range m.Data {
		out[i] = row[j]
	}
	return out
}
