package table

import (
	"sort"
	"strings"
)

// SupplierWins is one row of the winning-supplier leaderboard. A win is a
// distinct (process, lot) pair adjudicated to the supplier.
type SupplierWins struct {
	SupplierID   string  `json:"supplier_id"`
	SupplierName string  `json:"supplier_name,omitempty"`
	Wins         int     `json:"wins"`
	Processes    int     `json:"processes"`
	Items        int     `json:"items"`
	Share        float64 `json:"share_pct"`
}

type lotKey struct{ process, lot string }

// RankSuppliers counts the lots won by each supplier and returns them by
// wins, then processes, then items, then supplier id. Rows without a
// supplier are ignored. Share is the percentage of all adjudicated lots.
// top > 0 keeps only the first top suppliers.
func RankSuppliers(items []Item, top int) []SupplierWins {
	type tally struct {
		row       SupplierWins
		lots      map[lotKey]struct{}
		processes map[string]struct{}
	}
	bySupplier := make(map[string]*tally)
	allLots := make(map[lotKey]struct{})

	for _, it := range items {
		id := strings.TrimSpace(it.SupplierID)
		if id == "" {
			continue
		}
		t, ok := bySupplier[id]
		if !ok {
			t = &tally{
				row:       SupplierWins{SupplierID: id},
				lots:      make(map[lotKey]struct{}),
				processes: make(map[string]struct{}),
			}
			bySupplier[id] = t
		}
		if t.row.SupplierName == "" {
			t.row.SupplierName = strings.TrimSpace(it.SupplierName)
		}
		key := lotKey{process: it.ProcessID, lot: it.Lot}
		t.lots[key] = struct{}{}
		t.processes[it.ProcessID] = struct{}{}
		t.row.Items++
		allLots[key] = struct{}{}
	}

	out := make([]SupplierWins, 0, len(bySupplier))
	for _, t := range bySupplier {
		t.row.Wins = len(t.lots)
		t.row.Processes = len(t.processes)
		t.row.Share = 100 * float64(t.row.Wins) / float64(len(allLots))
		out = append(out, t.row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Wins != b.Wins:
			return a.Wins > b.Wins
		case a.Processes != b.Processes:
			return a.Processes > b.Processes
		case a.Items != b.Items:
			return a.Items > b.Items
		}
		return a.SupplierID < b.SupplierID
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
