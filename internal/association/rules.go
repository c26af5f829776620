package association

import (
	"sort"
	"strings"
)

// Rule is an association rule antecedent => consequent.
type Rule struct {
	Antecedents       []string `json:"antecedents"`
	Consequents       []string `json:"consequents"`
	Antecedent        string   `json:"antecedent"`
	Consequent        string   `json:"consequent"`
	AntecedentSupport float64  `json:"antecedent_support"`
	ConsequentSupport float64  `json:"consequent_support"`
	Support           float64  `json:"support"`
	Confidence        float64  `json:"confidence"`
	Lift              float64  `json:"lift"`
}

// Len returns the combined size of antecedent and consequent.
func (r Rule) Len() int {
	return len(r.Antecedents) + len(r.Consequents)
}

func key(items []string) string {
	return strings.Join(items, "\x00")
}

// GenerateRules derives every rule whose confidence is at least
// minConfidence from frequent itemsets. Each itemset of size two or more
// is split into all non-empty antecedent/consequent pairs; subset supports
// come from the itemsets themselves, which are closed under subsets.
func GenerateRules(itemsets []Itemset, minConfidence float64) []Rule {
	support := make(map[string]float64, len(itemsets))
	for _, s := range itemsets {
		support[key(s.Items)] = s.Support
	}

	var out []Rule
	for _, s := range itemsets {
		n := len(s.Items)
		if n < 2 {
			continue
		}
		// every mask except empty and full selects the antecedent
		for mask := 1; mask < (1<<n)-1; mask++ {
			var ante, cons []string
			for i, it := range s.Items {
				if mask&(1<<i) != 0 {
					ante = append(ante, it)
				} else {
					cons = append(cons, it)
				}
			}
			as, ok := support[key(ante)]
			if !ok || as == 0 {
				continue
			}
			cs, ok := support[key(cons)]
			if !ok || cs == 0 {
				continue
			}
			conf := s.Support / as
			if conf < minConfidence {
				continue
			}
			out = append(out, Rule{
				Antecedents:       ante,
				Consequents:       cons,
				Antecedent:        label(ante),
				Consequent:        label(cons),
				AntecedentSupport: as,
				ConsequentSupport: cs,
				Support:           s.Support,
				Confidence:        conf,
				Lift:              conf / cs,
			})
		}
	}
	SortRules(out)
	return out
}

// SortRules orders rules by lift, confidence and support descending, then
// by antecedent and consequent labels.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Lift != b.Lift {
			return a.Lift > b.Lift
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Support != b.Support {
			return a.Support > b.Support
		}
		if a.Antecedent != b.Antecedent {
			return a.Antecedent < b.Antecedent
		}
		return a.Consequent < b.Consequent
	})
}
