// Package table holds the flat item-level procurement table consumed by the
// scoring pipeline, plus the CSV/XLSX adapter that produces it.
package table

import (
	"math"
)

// Item is one tender line item. Numeric fields use NaN for null, so Item
// is not JSON-encodable as is; transports convert through their own DTOs.
// Items are never mutated after load; stages work on clones.
type Item struct {
	RowID            int
	ProcessID        string
	Year             int
	Modality         string
	ProcuringUnit    string
	Lot              string
	ItemNumber       string
	Description      string
	Quantity         float64
	EstimatedPrice   float64
	AdjudicatedPrice float64
	SupplierID       string
	SupplierName     string
	Proposals        float64
}

// NewItem returns an Item with every numeric field null.
func NewItem() Item {
	nan := math.NaN()
	return Item{
		Quantity:         nan,
		EstimatedPrice:   nan,
		AdjudicatedPrice: nan,
		Proposals:        nan,
	}
}

// Table is an ordered collection of items with its provenance.
type Table struct {
	// Source identifies the base table (file path or request id).
	Source string
	// Columns records how input headers were resolved, nil for in-memory tables.
	Columns *Resolution
	Items   []Item
}

// New builds a table from items, assigning RowIDs in input order.
func New(source string, items []Item) *Table {
	out := make([]Item, len(items))
	copy(out, items)
	for i := range out {
		out[i].RowID = i
	}
	return &Table{Source: source, Items: out}
}

// Len returns the number of items.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Items)
}

// Clone returns a deep copy safe to hand to another stage.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	items := make([]Item, len(t.Items))
	copy(items, t.Items)
	c := &Table{Source: t.Source, Items: items}
	if t.Columns != nil {
		cols := t.Columns.clone()
		c.Columns = &cols
	}
	return c
}

// ByRowID indexes items by RowID.
func (t *Table) ByRowID() map[int]Item {
	idx := make(map[int]Item, len(t.Items))
	for _, it := range t.Items {
		idx[it.RowID] = it
	}
	return idx
}

// Filter returns a new table holding the items for which keep returns true.
// RowIDs are preserved.
func (t *Table) Filter(keep func(Item) bool) *Table {
	out := &Table{Source: t.Source, Columns: t.Columns}
	for _, it := range t.Items {
		if keep(it) {
			out.Items = append(out.Items, it)
		}
	}
	return out
}
