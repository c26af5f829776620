// Package association mines frequent item combinations among the baskets
// of flagged procurement processes.
package association

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ErrInvalidParams is returned for out-of-range mining parameters.
var ErrInvalidParams = errors.New("invalid association parameters")

// Status tells why a Result holds no rules. Empty outcomes are not errors.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusNoBaskets          Status = "no_baskets"
	StatusNoFrequentItemsets Status = "no_frequent_itemsets"
	StatusNoRules            Status = "no_rules"
)

// Params bounds the mining run.
type Params struct {
	MinSupport       float64 `json:"min_support" yaml:"min_support" envconfig:"MIN_SUPPORT" validate:"gt=0,lte=1"`
	MinConfidence    float64 `json:"min_confidence" yaml:"min_confidence" envconfig:"MIN_CONFIDENCE" validate:"gte=0,lte=1"`
	MinItemFrequency int     `json:"min_item_frequency" yaml:"min_item_frequency" envconfig:"MIN_ITEM_FREQUENCY" validate:"gte=1"`
	// MaxVocabulary caps the retained items; 0 disables the cap.
	MaxVocabulary int `json:"max_vocabulary" yaml:"max_vocabulary" envconfig:"MAX_VOCABULARY" validate:"gte=0"`
	MaxLen        int `json:"max_len" yaml:"max_len" envconfig:"MAX_LEN" validate:"gte=1"`
}

// DefaultParams returns the default mining bounds.
func DefaultParams() Params {
	return Params{
		MinSupport:       0.01,
		MinConfidence:    0.3,
		MinItemFrequency: 5,
		MaxVocabulary:    2000,
		MaxLen:           3,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case math.IsNaN(p.MinSupport) || p.MinSupport <= 0 || p.MinSupport > 1:
		return fmt.Errorf("%w: min support %v not in (0, 1]", ErrInvalidParams, p.MinSupport)
	case math.IsNaN(p.MinConfidence) || p.MinConfidence < 0 || p.MinConfidence > 1:
		return fmt.Errorf("%w: min confidence %v not in [0, 1]", ErrInvalidParams, p.MinConfidence)
	case p.MinItemFrequency < 1:
		return fmt.Errorf("%w: min item frequency %d below 1", ErrInvalidParams, p.MinItemFrequency)
	case p.MaxVocabulary < 0:
		return fmt.Errorf("%w: negative vocabulary cap %d", ErrInvalidParams, p.MaxVocabulary)
	case p.MaxLen < 1:
		return fmt.Errorf("%w: max length %d below 1", ErrInvalidParams, p.MaxLen)
	}
	return nil
}

// Result is the outcome of one mining run.
type Result struct {
	Status     Status    `json:"status"`
	Params     Params    `json:"params"`
	Baskets    int       `json:"baskets"`
	Vocabulary []string  `json:"vocabulary"`
	Itemsets   []Itemset `json:"itemsets"`
	Rules      []Rule    `json:"rules"`
}

// Empty reports whether no rules were found.
func (r *Result) Empty() bool {
	return len(r.Rules) == 0
}

// Miner runs preprocessing, FP-Growth and rule derivation.
type Miner struct {
	params Params
	logger *slog.Logger
}

// NewMiner validates params and creates a Miner.
func NewMiner(params Params, logger *slog.Logger) (*Miner, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("create miner: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{
		params: params,
		logger: logger.With("component", "association"),
	}, nil
}

// Params returns the miner parameters.
func (m *Miner) Params() Params {
	return m.params
}

// Mine derives association rules from baskets. The same baskets and
// parameters always produce the same rules in the same order.
func (m *Miner) Mine(ctx context.Context, baskets []Basket) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mine baskets: %w", err)
	}
	start := time.Now()
	res := &Result{Params: m.params}

	kept, vocab := Preprocess(baskets, m.params.MinItemFrequency, m.params.MaxVocabulary)
	res.Baskets = len(kept)
	res.Vocabulary = vocab
	if len(kept) == 0 {
		res.Status = StatusNoBaskets
		m.logger.InfoContext(ctx, "no baskets left after preprocessing", "input_baskets", len(baskets))
		return res, nil
	}

	res.Itemsets = FPGrowth(Encode(kept, vocab), m.params.MinSupport, m.params.MaxLen)
	if len(res.Itemsets) == 0 {
		res.Status = StatusNoFrequentItemsets
		m.logger.InfoContext(ctx, "no frequent itemsets", "baskets", len(kept), "min_support", m.params.MinSupport)
		return res, nil
	}

	res.Rules = GenerateRules(res.Itemsets, m.params.MinConfidence)
	if len(res.Rules) == 0 {
		res.Status = StatusNoRules
	} else {
		res.Status = StatusOK
	}

	m.logger.InfoContext(ctx, "association mining completed",
		"status", res.Status,
		"baskets", len(kept),
		"vocabulary", len(vocab),
		"itemsets", len(res.Itemsets),
		"rules", len(res.Rules),
		"duration", time.Since(start),
	)
	return res, nil
}
