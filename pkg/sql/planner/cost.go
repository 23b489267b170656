package planner

// SourceStats is the optional per-source statistics surface feeding
// EstimateCost (spec §4.9): row count and a byte-weight estimate per
// column. A source with Defined=false contributes no information and
// forces the whole estimate to UNDEFINED.
type SourceStats struct {
	Defined       bool
	RowCount      int64
	ColumnWeights map[string]float64
}

// defaultColumnWeight is used when a column is accessed but the source's
// statistics don't name it explicitly.
const defaultColumnWeight = 1.0

// EstimateCost returns a heuristic byte-cost for plan, or ok=false
// (UNDEFINED) if any participating source lacks statistics (spec §4.9).
// Cost = rowCount × Σ weights(accessed columns); LIMIT reduces rowCount
// when the plan has no ORDER BY and no un-pushed WHERE above the scan.
func EstimateCost(plan Node, stats map[string]SourceStats) (cost float64, ok bool) {
	total, defined := estimate(plan, stats)
	return total, defined
}

func estimate(n Node, stats map[string]SourceStats) (float64, bool) {
	switch t := n.(type) {
	case *Scan:
		st, found := stats[t.Table]
		if !found || !st.Defined {
			return 0, false
		}
		cols := t.Hints.Columns
		if cols == nil {
			cols = make([]string, 0, len(st.ColumnWeights))
			for c := range st.ColumnWeights {
				cols = append(cols, c)
			}
		}
		var weight float64
		for _, c := range cols {
			if w, ok := st.ColumnWeights[c]; ok {
				weight += w
			} else {
				weight += defaultColumnWeight
			}
		}
		rows := st.RowCount
		if t.Hints.Limit != nil && t.Hints.Where == nil && len(t.Hints.OrderBy) == 0 {
			if *t.Hints.Limit < rows {
				rows = *t.Hints.Limit
			}
		}
		return float64(rows) * weight, true

	case *SubqueryScan:
		return estimate(t.Plan, stats)
	case *Filter:
		return estimate(t.Child, stats)
	case *Project:
		return estimate(t.Child, stats)
	case *HashJoin:
		return combine(t.Left, t.Right, stats)
	case *NestedLoopJoin:
		return combine(t.Left, t.Right, stats)
	case *PositionalJoin:
		return combine(t.Left, t.Right, stats)
	case *HashAggregate:
		return estimate(t.Child, stats)
	case *ScalarAggregate:
		return estimate(t.Child, stats)
	case *Sort:
		return estimate(t.Child, stats)
	case *Distinct:
		return estimate(t.Child, stats)
	case *Limit:
		return estimate(t.Child, stats)
	default:
		return 0, false
	}
}

func combine(left, right Node, stats map[string]SourceStats) (float64, bool) {
	lc, lok := estimate(left, stats)
	if !lok {
		return 0, false
	}
	rc, rok := estimate(right, stats)
	if !rok {
		return 0, false
	}
	return lc + rc, true
}
