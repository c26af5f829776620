package association

import (
	"sort"

	"tenderscope/internal/table"
	"tenderscope/internal/textnorm"
)

// Basket is the set of distinct normalized item descriptions of one
// flagged process. Items are sorted.
type Basket struct {
	ProcessID string   `json:"process_id"`
	Items     []string `json:"items"`
}

// NewBasket deduplicates and sorts items, dropping empty labels.
func NewBasket(processID string, items ...string) Basket {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return Basket{ProcessID: processID, Items: out}
}

// BuildBaskets groups the items of flagged processes into baskets of
// normalized descriptions. Which processes are flagged is decided
// upstream; items without a process id are ignored. Baskets are ordered
// by process id.
func BuildBaskets(items []table.Item, flagged map[string]struct{}, norm *textnorm.Normalizer) []Basket {
	if norm == nil {
		norm = textnorm.New()
	}
	byProcess := make(map[string][]string)
	for _, it := range items {
		if it.ProcessID == "" {
			continue
		}
		if _, ok := flagged[it.ProcessID]; !ok {
			continue
		}
		byProcess[it.ProcessID] = append(byProcess[it.ProcessID], norm.Normalize(it.Description))
	}

	ids := make([]string, 0, len(byProcess))
	for id := range byProcess {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Basket, 0, len(ids))
	for _, id := range ids {
		out = append(out, NewBasket(id, byProcess[id]...))
	}
	return out
}

// Preprocess drops items seen in fewer than minFrequency baskets, keeps at
// most maxVocabulary of the most frequent remaining items (0 means no cap,
// ties broken by label), re-filters every basket and drops the empty ones.
// It returns the kept baskets and the sorted vocabulary.
func Preprocess(baskets []Basket, minFrequency, maxVocabulary int) ([]Basket, []string) {
	freq := make(map[string]int)
	for _, b := range baskets {
		for _, it := range b.Items {
			freq[it]++
		}
	}

	candidates := make([]string, 0, len(freq))
	for it, n := range freq {
		if n >= minFrequency {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if freq[candidates[i]] != freq[candidates[j]] {
			return freq[candidates[i]] > freq[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if maxVocabulary > 0 && len(candidates) > maxVocabulary {
		candidates = candidates[:maxVocabulary]
	}

	keep := make(map[string]struct{}, len(candidates))
	for _, it := range candidates {
		keep[it] = struct{}{}
	}
	vocab := append([]string(nil), candidates...)
	sort.Strings(vocab)

	var out []Basket
	for _, b := range baskets {
		var items []string
		for _, it := range b.Items {
			if _, ok := keep[it]; ok {
				items = append(items, it)
			}
		}
		if len(items) > 0 {
			out = append(out, Basket{ProcessID: b.ProcessID, Items: items})
		}
	}
	return out, vocab
}

// Matrix is the boolean item-presence encoding of baskets: one row per
// basket, one column per vocabulary item.
type Matrix struct {
	Items []string
	Rows  [][]bool
}

// Encode builds the presence matrix of baskets over vocab.
func Encode(baskets []Basket, vocab []string) *Matrix {
	col := make(map[string]int, len(vocab))
	for j, it := range vocab {
		col[it] = j
	}
	m := &Matrix{Items: append([]string(nil), vocab...), Rows: make([][]bool, len(baskets))}
	for i, b := range baskets {
		row := make([]bool, len(vocab))
		for _, it := range b.Items {
			if j, ok := col[it]; ok {
				row[j] = true
			}
		}
		m.Rows[i] = row
	}
	return m
}

// transactions returns the column indices present in each row.
func (m *Matrix) transactions() [][]int {
	out := make([][]int, len(m.Rows))
	for i, row := range m.Rows {
		for j, present := range row {
			if present {
				out[i] = append(out[i], j)
			}
		}
	}
	return out
}
