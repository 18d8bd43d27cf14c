package analysis

import (
	"errors"
	"sort"

	"cell-tester/internal/model"
)

// Rank returns a copy of results sorted ascending by metric (lowest resistance first).
// Ties keep identifier order so output is stable across runs.
func Rank(results []model.CellTestResult, m Metric) []model.CellTestResult {
	out := append([]model.CellTestResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := m.Value(out[i]), m.Value(out[j])
		if vi != vj {
			return vi < vj
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

// Group is a set of cells with similar metric values, suitable for one parallel block.
type Group struct {
	Cells []model.CellTestResult `json:"cells"`
	// Spread is the metric range inside the group.
	Spread float64 `json:"spread"`
}

// MatchGroups ranks cells by metric and cuts the ranking into consecutive groups of size.
// Leftover cells that cannot fill a group are returned separately.
func MatchGroups(results []model.CellTestResult, m Metric, size int) ([]Group, []model.CellTestResult, error) {
	if size <= 0 {
		return nil, nil, errors.New("group size must be > 0")
	}
	ranked := Rank(results, m)
	var groups []Group
	for len(ranked) >= size {
		cells := ranked[:size:size]
		groups = append(groups, Group{
			Cells:  cells,
			Spread: m.Value(cells[size-1]) - m.Value(cells[0]),
		})
		ranked = ranked[size:]
	}
	return groups, ranked, nil
}
