package association

import (
	"math"
	"sort"
	"strings"
)

// Itemset is a frequent itemset with its absolute count and support.
type Itemset struct {
	Items   []string `json:"items"`
	Count   int      `json:"count"`
	Support float64  `json:"support"`
}

// Label renders the items sorted and comma-joined.
func (s Itemset) Label() string {
	return label(s.Items)
}

func label(items []string) string {
	return strings.Join(items, ", ")
}

type weighted struct {
	items []int
	count int
}

type fpNode struct {
	item     int
	count    int
	parent   *fpNode
	children map[int]*fpNode
}

type fpTree struct {
	root    *fpNode
	headers map[int][]*fpNode
	counts  map[int]int
	// order lists frequent items by ascending count, the order they are mined in.
	order []int
}

func newFPTree(transactions []weighted, minCount int) *fpTree {
	counts := make(map[int]int)
	for _, tx := range transactions {
		for _, it := range tx.items {
			counts[it] += tx.count
		}
	}

	var frequent []int
	for it, n := range counts {
		if n >= minCount {
			frequent = append(frequent, it)
		}
	}
	sort.Slice(frequent, func(i, j int) bool {
		if counts[frequent[i]] != counts[frequent[j]] {
			return counts[frequent[i]] > counts[frequent[j]]
		}
		return frequent[i] < frequent[j]
	})
	rank := make(map[int]int, len(frequent))
	for r, it := range frequent {
		rank[it] = r
	}

	t := &fpTree{
		root:    &fpNode{item: -1, children: make(map[int]*fpNode)},
		headers: make(map[int][]*fpNode, len(frequent)),
		counts:  make(map[int]int, len(frequent)),
	}
	for _, it := range frequent {
		t.counts[it] = counts[it]
	}

	for _, tx := range transactions {
		path := make([]int, 0, len(tx.items))
		for _, it := range tx.items {
			if _, ok := rank[it]; ok {
				path = append(path, it)
			}
		}
		if len(path) == 0 {
			continue
		}
		sort.Slice(path, func(i, j int) bool { return rank[path[i]] < rank[path[j]] })
		t.insert(path, tx.count)
	}

	t.order = make([]int, len(frequent))
	for i, it := range frequent {
		t.order[len(frequent)-1-i] = it
	}
	return t
}

func (t *fpTree) insert(path []int, count int) {
	node := t.root
	for _, it := range path {
		child, ok := node.children[it]
		if !ok {
			child = &fpNode{item: it, parent: node, children: make(map[int]*fpNode)}
			node.children[it] = child
			t.headers[it] = append(t.headers[it], child)
		}
		child.count += count
		node = child
	}
}

// mine emits every frequent itemset ending in suffix, growing it through
// conditional trees until maxLen is reached.
func (t *fpTree) mine(suffix []int, minCount, maxLen int, emit func([]int, int)) {
	for _, it := range t.order {
		set := make([]int, 0, len(suffix)+1)
		set = append(set, it)
		set = append(set, suffix...)
		emit(set, t.counts[it])

		if maxLen > 0 && len(set) >= maxLen {
			continue
		}
		var base []weighted
		for _, node := range t.headers[it] {
			var path []int
			for p := node.parent; p.parent != nil; p = p.parent {
				path = append(path, p.item)
			}
			if len(path) > 0 {
				base = append(base, weighted{items: path, count: node.count})
			}
		}
		if len(base) == 0 {
			continue
		}
		cond := newFPTree(base, minCount)
		if len(cond.order) > 0 {
			cond.mine(set, minCount, maxLen, emit)
		}
	}
}

// minCount converts a support fraction into an absolute basket count.
func minCount(minSupport float64, n int) int {
	c := int(math.Ceil(minSupport*float64(n) - 1e-9))
	if c < 1 {
		c = 1
	}
	return c
}

// FPGrowth mines the itemsets of m whose support is at least minSupport
// and whose size is at most maxLen (0 means unbounded). Itemsets are
// ordered by support descending, then size, then label.
func FPGrowth(m *Matrix, minSupport float64, maxLen int) []Itemset {
	n := len(m.Rows)
	if n == 0 {
		return nil
	}
	txs := m.transactions()
	base := make([]weighted, 0, len(txs))
	for _, tx := range txs {
		if len(tx) > 0 {
			base = append(base, weighted{items: tx, count: 1})
		}
	}

	threshold := minCount(minSupport, n)
	var out []Itemset
	newFPTree(base, threshold).mine(nil, threshold, maxLen, func(set []int, count int) {
		items := make([]string, len(set))
		for i, j := range set {
			items[i] = m.Items[j]
		}
		sort.Strings(items)
		out = append(out, Itemset{Items: items, Count: count, Support: float64(count) / float64(n)})
	})

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if len(out[i].Items) != len(out[j].Items) {
			return len(out[i].Items) < len(out[j].Items)
		}
		return out[i].Label() < out[j].Label()
	})
	return out
}
