package executor

import (
	"context"
	"sort"

	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/planner"
	"flowsql/pkg/types"
)

// buildSort materialises the input and sorts it by OrderBy, stably, using
// the tri-valued comparison extended with a nulls-first/last policy
// (default NULLS LAST for ASC, NULLS FIRST for DESC — spec §4.7 "Sort").
func (r *run) buildSort(ctx context.Context, t *planner.Sort) (Cursor, error) {
	childCur, err := r.build(ctx, t.Child)
	if err != nil {
		return nil, err
	}
	rows, err := drain(ctx, childCur)
	if err != nil {
		return nil, err
	}

	keys := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(t.OrderBy))
		for j, item := range t.OrderBy {
			v, err := r.sortKeyValue(item, row, t.Aliases)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		keys[i] = vals
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lessRows(keys[idx[a]], keys[idx[b]], t.OrderBy)
	})

	out := make([]types.Row, len(rows))
	for i, ix := range idx {
		out[i] = rows[ix]
	}
	return &materializedCursor{rows: out}, nil
}

// sortKeyValue resolves one ORDER BY item against row. An identifier that
// names a SELECT-list alias not already present on row is rewritten to
// the aliased expression (spec §4.5 "alias bindings... must be visible in
// ORDER BY").
func (r *run) sortKeyValue(item parser.OrderItem, row types.Row, aliases map[string]parser.Expression) (any, error) {
	expr := item.Expr
	if id, ok := expr.(*parser.Identifier); ok {
		if aliasExpr, exists := aliases[id.Name]; exists {
			if _, found := row.Get(id.Name); !found {
				expr = aliasExpr
			}
		}
	}
	return r.eval(expr, row)
}

func lessRows(a, b []any, orderBy []parser.OrderItem) bool {
	for i, item := range orderBy {
		c := compareNullable(a[i], b[i], item)
		if c != 0 {
			return c < 0
		}
	}
	return false
}

// compareNullable orders NULL according to item's policy (explicit
// override, else NULLS LAST for ASC / NULLS FIRST for DESC) and otherwise
// defers to the tri-valued comparator.
func compareNullable(a, b any, item parser.OrderItem) int {
	an, bn := types.IsNull(a), types.IsNull(b)
	if an && bn {
		return 0
	}
	nullsFirst := item.Nulls == parser.NullsFirst || (item.Nulls == parser.NullsDefault && item.Desc)
	if an {
		if nullsFirst {
			return -1
		}
		return 1
	}
	if bn {
		if nullsFirst {
			return 1
		}
		return -1
	}
	c, ok := types.Compare(a, b)
	if !ok {
		return 0
	}
	if item.Desc {
		return -c
	}
	return c
}

// buildDistinct materialises the input and emits each distinct output row
// once, in first-seen order (spec §4.7 "Distinct").
func (r *run) buildDistinct(ctx context.Context, t *planner.Distinct) (Cursor, error) {
	childCur, err := r.build(ctx, t.Child)
	if err != nil {
		return nil, err
	}
	rows, err := drain(ctx, childCur)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []types.Row
	for _, row := range rows {
		key := types.GroupKey(append([]any{}, row.Vals...))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	return &materializedCursor{rows: out}, nil
}
