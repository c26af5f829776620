package rules

import (
	"fmt"
	"math"
)

// Rule names, in evaluation order.
const (
	RulePriceAboveGroupNorm   = "price_above_group_norm"
	RuleLowCompetition        = "low_competition"
	RuleNegligibleDiscount    = "negligible_discount"
	RuleSupplierConcentration = "supplier_concentration"
)

// Names lists every rule in evaluation order.
var Names = []string{
	RulePriceAboveGroupNorm,
	RuleLowCompetition,
	RuleNegligibleDiscount,
	RuleSupplierConcentration,
}

// Weights are the per-rule weights. Their sum is the rule-score denominator.
type Weights struct {
	PriceAboveGroupNorm   float64 `json:"price_above_group_norm" yaml:"price_above_group_norm" envconfig:"PRICE_ABOVE_GROUP_NORM" validate:"gte=0"`
	LowCompetition        float64 `json:"low_competition" yaml:"low_competition" envconfig:"LOW_COMPETITION" validate:"gte=0"`
	NegligibleDiscount    float64 `json:"negligible_discount" yaml:"negligible_discount" envconfig:"NEGLIGIBLE_DISCOUNT" validate:"gte=0"`
	SupplierConcentration float64 `json:"supplier_concentration" yaml:"supplier_concentration" envconfig:"SUPPLIER_CONCENTRATION" validate:"gte=0"`
}

// DefaultWeights returns the 40/25/20/15 weighting.
func DefaultWeights() Weights {
	return Weights{
		PriceAboveGroupNorm:   40,
		LowCompetition:        25,
		NegligibleDiscount:    20,
		SupplierConcentration: 15,
	}
}

// Of returns the weight of the named rule, 0 for an unknown name.
func (w Weights) Of(rule string) float64 {
	switch rule {
	case RulePriceAboveGroupNorm:
		return w.PriceAboveGroupNorm
	case RuleLowCompetition:
		return w.LowCompetition
	case RuleNegligibleDiscount:
		return w.NegligibleDiscount
	case RuleSupplierConcentration:
		return w.SupplierConcentration
	}
	return 0
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.PriceAboveGroupNorm + w.LowCompetition + w.NegligibleDiscount + w.SupplierConcentration
}

// Map returns the weights keyed by rule name.
func (w Weights) Map() map[string]float64 {
	m := make(map[string]float64, len(Names))
	for _, name := range Names {
		m[name] = w.Of(name)
	}
	return m
}

// Validate checks that every weight is finite and non-negative and that
// the sum is positive.
func (w Weights) Validate() error {
	for _, name := range Names {
		v := w.Of(name)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: weight %s = %v must be a non-negative number", ErrInvalidWeights, name, v)
		}
	}
	if w.Sum() <= 0 {
		return fmt.Errorf("%w: weights must have a positive sum", ErrInvalidWeights)
	}
	return nil
}

// Thresholds parameterize the rule conditions.
type Thresholds struct {
	// IQRScore and ZPrice trigger the price rule when exceeded.
	IQRScore float64 `json:"iqr_score" yaml:"iqr_score" envconfig:"IQR_SCORE"`
	ZPrice   float64 `json:"z_price" yaml:"z_price" envconfig:"Z_PRICE"`
	// MaxProposals is the highest proposal count considered low competition.
	MaxProposals float64 `json:"max_proposals" yaml:"max_proposals" envconfig:"MAX_PROPOSALS"`
	// MinDiscount is the discount below which the discount rule triggers.
	MinDiscount float64 `json:"min_discount" yaml:"min_discount" envconfig:"MIN_DISCOUNT"`
	// MissingProposals and MissingDiscount replace null inputs.
	MissingProposals float64 `json:"missing_proposals" yaml:"missing_proposals" envconfig:"MISSING_PROPOSALS"`
	MissingDiscount  float64 `json:"missing_discount" yaml:"missing_discount" envconfig:"MISSING_DISCOUNT"`
}

// DefaultThresholds returns the standard thresholds. A missing proposal
// count reads as 2 (does not trigger) while a missing discount reads as 0
// (triggers).
func DefaultThresholds() Thresholds {
	return Thresholds{
		IQRScore:         1.5,
		ZPrice:           3,
		MaxProposals:     1,
		MinDiscount:      0.02,
		MissingProposals: 2,
		MissingDiscount:  0,
	}
}

// Validate rejects NaN and negative thresholds. +Inf is allowed and turns
// the corresponding condition off.
func (t Thresholds) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"iqr_score", t.IQRScore},
		{"z_price", t.ZPrice},
		{"max_proposals", t.MaxProposals},
		{"min_discount", t.MinDiscount},
		{"missing_proposals", t.MissingProposals},
		{"missing_discount", t.MissingDiscount},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || f.value < 0 {
			return fmt.Errorf("%w: %s = %v must be a non-negative number", ErrInvalidThresholds, f.name, f.value)
		}
	}
	return nil
}
