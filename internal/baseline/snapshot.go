package baseline

import (
	"time"
)

// CompositeWeights are the literal multipliers applied to the model and
// rule sub-scores.
type CompositeWeights struct {
	Model float64 `json:"model"`
	Rules float64 `json:"rules"`
}

// ModelInfo describes the outlier model used for a run.
type ModelInfo struct {
	Name          string             `json:"name"`
	Params        map[string]float64 `json:"params,omitempty"`
	Contamination float64            `json:"contamination"`
	Threshold     float64            `json:"threshold"`
	Available     bool               `json:"available"`
	Reason        string             `json:"reason,omitempty"`
}

// Snapshot is the persisted normalization state of one scoring run. It is
// produced once by the Builder and extended only through the With* methods,
// each of which returns a new value; callers must treat its maps as
// read-only. Non-finite statistics are omitted from the maps.
type Snapshot struct {
	RunID            string             `json:"run_id"`
	BaseTable        string             `json:"base_table"`
	Key              string             `json:"key"`
	CreatedAt        time.Time          `json:"created_at"`
	FeaturesUsed     []string           `json:"features_used"`
	Medians          map[string]float64 `json:"medians"`
	IQR              map[string]float64 `json:"iqr"`
	GroupMedians     map[string]float64 `json:"group_medians"`
	GroupIQR         map[string]float64 `json:"group_iqr"`
	RuleWeights      map[string]float64 `json:"rule_weights,omitempty"`
	CompositeWeights CompositeWeights   `json:"composite_weights"`
	Model            ModelInfo          `json:"model"`
}

// Median returns the dataset median of feature.
func (s *Snapshot) Median(feature string) (float64, bool) {
	v, ok := s.Medians[feature]
	return v, ok
}

// IQROf returns the dataset IQR of feature; zero IQRs are absent.
func (s *Snapshot) IQROf(feature string) (float64, bool) {
	v, ok := s.IQR[feature]
	return v, ok
}

// GroupMedian returns the median adjusted price of group key.
func (s *Snapshot) GroupMedian(key string) (float64, bool) {
	v, ok := s.GroupMedians[key]
	return v, ok
}

// WithRuleWeights returns a copy carrying the rule weights.
func (s *Snapshot) WithRuleWeights(weights map[string]float64) *Snapshot {
	c := s.clone()
	c.RuleWeights = copyMap(weights)
	return c
}

// WithCompositeWeights returns a copy carrying the composite weights.
func (s *Snapshot) WithCompositeWeights(w CompositeWeights) *Snapshot {
	c := s.clone()
	c.CompositeWeights = w
	return c
}

// WithModel returns a copy carrying the model description.
func (s *Snapshot) WithModel(info ModelInfo) *Snapshot {
	c := s.clone()
	info.Params = copyMap(info.Params)
	if IsNull(info.Threshold) {
		info.Threshold = 0
	}
	c.Model = info
	return c
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.FeaturesUsed = append([]string(nil), s.FeaturesUsed...)
	c.Medians = copyMap(s.Medians)
	c.IQR = copyMap(s.IQR)
	c.GroupMedians = copyMap(s.GroupMedians)
	c.GroupIQR = copyMap(s.GroupIQR)
	c.RuleWeights = copyMap(s.RuleWeights)
	c.Model.Params = copyMap(s.Model.Params)
	return &c
}

func copyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func putFinite(m map[string]float64, key string, v float64) {
	if !IsNull(v) {
		m[key] = v
	}
}
