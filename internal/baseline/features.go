package baseline

import "math"

// Model feature names, in feature-vector order.
const (
	FeatureAdjustedPrice         = "adjusted_price"
	FeatureGroupMean             = "group_mean"
	FeatureGroupMedian           = "group_median"
	FeatureGroupQ75              = "group_q75"
	FeatureZPrice                = "z_price"
	FeatureIQRScore              = "iqr_score"
	FeatureDiscount              = "discount"
	FeatureProposals             = "proposals"
	FeatureSupplierConcentration = "supplier_concentration"
)

// FeatureNames is the fixed feature vector consumed by every outlier model.
var FeatureNames = []string{
	FeatureAdjustedPrice,
	FeatureGroupMean,
	FeatureGroupMedian,
	FeatureGroupQ75,
	FeatureZPrice,
	FeatureIQRScore,
	FeatureDiscount,
	FeatureProposals,
	FeatureSupplierConcentration,
}

// Row holds the baseline-derived features of one item. Null values are NaN.
type Row struct {
	RowID    int
	GroupKey string

	Price          float64
	EstimatedPrice float64
	Proposals      float64

	GroupCount  int
	GroupMean   float64
	GroupMedian float64
	GroupStd    float64
	GroupQ25    float64
	GroupQ75    float64
	GroupIQR    float64

	ZPrice                float64
	IQRScore              float64
	Discount              float64
	SupplierConcentration float64
}

// Value returns the named feature, or NaN for an unknown name.
func (r Row) Value(feature string) float64 {
	switch feature {
	case FeatureAdjustedPrice:
		return r.Price
	case FeatureGroupMean:
		return r.GroupMean
	case FeatureGroupMedian:
		return r.GroupMedian
	case FeatureGroupQ75:
		return r.GroupQ75
	case FeatureZPrice:
		return r.ZPrice
	case FeatureIQRScore:
		return r.IQRScore
	case FeatureDiscount:
		return r.Discount
	case FeatureProposals:
		return r.Proposals
	case FeatureSupplierConcentration:
		return r.SupplierConcentration
	}
	return math.NaN()
}

// Vector returns the features in FeatureNames order, nulls included.
func (r Row) Vector() []float64 {
	v := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		v[i] = r.Value(name)
	}
	return v
}
