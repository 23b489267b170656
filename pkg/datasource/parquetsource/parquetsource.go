// Package parquetsource is the filter-pushdown data-source adapter from
// spec §6.3: it converts a WHERE AST to a MongoDB-shaped filter document
// and evaluates that document against its rows, discarding the whole
// filter (all-or-nothing) the moment any sub-expression is not
// convertible.
//
// The retrieval pack this module was built from carries neither a Parquet
// reader nor a MongoDB driver dependency, so this adapter holds its rows
// in memory (like memsource) rather than reading a real column-store file
// or talking to a real Mongo server — it demonstrates the filter-document
// conversion and the all-or-nothing discard rule the spec actually
// normatively describes, without fabricating a dependency the examples
// never used.
package parquetsource

import (
	"context"

	"go.uber.org/zap"

	"flowsql/pkg/datasource"
	"flowsql/pkg/sql/parser"
	"flowsql/pkg/types"
)

// Table is a datasource.Table that pushes WHERE down as a Mongo-shaped
// filter document when every sub-expression converts cleanly.
type Table struct {
	rows   []types.Row
	stats  datasource.Statistics
	logger *zap.Logger
}

// New builds a Table over rows. A nil logger defaults to zap.NewNop().
func New(rows []types.Row, stats datasource.Statistics, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{rows: rows, stats: stats, logger: logger}
}

func (t *Table) Statistics() datasource.Statistics { return t.stats }

func (t *Table) Scan(ctx context.Context, hints datasource.ScanHints) (datasource.ScanResult, error) {
	rows := t.rows

	appliedWhere := false
	if hints.Where != nil {
		doc, ok := WhereToFilterDoc(hints.Where)
		if ok {
			filtered := make([]types.Row, 0, len(rows))
			for _, r := range rows {
				if matchFilterDoc(doc, r) {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
			appliedWhere = true
		} else {
			t.logger.Debug("discarding non-convertible filter pushdown")
		}
	}

	if hints.Columns != nil {
		pruned := make([]types.Row, len(rows))
		for i, r := range rows {
			vals := make([]any, len(hints.Columns))
			for j, c := range hints.Columns {
				v, _ := r.Get(c)
				vals[j] = v
			}
			pruned[i] = types.NewRow(hints.Columns, vals)
		}
		rows = pruned
	}

	// Limit/offset may only be applied once the predicate (if any) has been:
	// truncating rows the executor still has to filter would drop the wrong
	// ones.
	appliedLimitOffset := false
	if (hints.Where == nil || appliedWhere) && (hints.Limit != nil || hints.Offset != nil) {
		start, end := 0, len(rows)
		if hints.Offset != nil {
			start = int(*hints.Offset)
			if start > len(rows) {
				start = len(rows)
			}
		}
		if hints.Limit != nil {
			end = start + int(*hints.Limit)
			if end > len(rows) {
				end = len(rows)
			}
		}
		rows = rows[start:end]
		appliedLimitOffset = true
	}

	return datasource.ScanResult{
		Rows:               &cursor{rows: rows, idx: -1},
		AppliedWhere:       appliedWhere,
		AppliedLimitOffset: appliedLimitOffset,
		AppliedColumns:     hints.Columns != nil,
	}, nil
}

type cursor struct {
	rows []types.Row
	idx  int
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.idx++
	return c.idx < len(c.rows)
}

func (c *cursor) Row() datasource.RowAccessor {
	return datasource.RowFromTypesRow{Row: c.rows[c.idx]}
}

func (c *cursor) Err() error   { return c.err }
func (c *cursor) Close() error { return nil }

// WhereToFilterDoc converts a WHERE AST into a MongoDB-shaped filter
// document (spec §6.3). ok is false if any sub-expression is not
// convertible (LIKE, CAST in predicate, a non-identifier/literal pair,
// ...), in which case the whole filter must be discarded.
func WhereToFilterDoc(e parser.Expression) (map[string]any, bool) {
	switch n := e.(type) {
	case *parser.Binary:
		switch n.Op {
		case parser.OpAnd:
			return combineDocs(n.Left, n.Right, "$and")
		case parser.OpOr:
			return combineDocs(n.Left, n.Right, "$or")
		case parser.OpEq, parser.OpNeq, parser.OpLt, parser.OpLte, parser.OpGt, parser.OpGte:
			return comparisonDoc(n)
		}
		return nil, false

	case *parser.Unary:
		if n.Op != parser.OpNot {
			return nil, false
		}
		return negate(n.Arg)

	case *parser.InList:
		col, ok := identifierName(n.Expr)
		if !ok {
			return nil, false
		}
		values := make([]any, len(n.Values))
		for i, v := range n.Values {
			values[i] = v.Value
		}
		op := "$in"
		if n.Not {
			op = "$nin"
		}
		return map[string]any{col: map[string]any{op: values}}, true

	default:
		return nil, false
	}
}

func combineDocs(left, right parser.Expression, op string) (map[string]any, bool) {
	ld, ok := WhereToFilterDoc(left)
	if !ok {
		return nil, false
	}
	rd, ok := WhereToFilterDoc(right)
	if !ok {
		return nil, false
	}
	return map[string]any{op: []any{ld, rd}}, true
}

// negate flips a comparison under NOT, or combines AND/OR into $nor/De
// Morgan equivalents, per spec §6.3 ("NOT flips the comparison... under
// negation, to $or/$nor").
func negate(e parser.Expression) (map[string]any, bool) {
	switch n := e.(type) {
	case *parser.Binary:
		switch n.Op {
		case parser.OpAnd:
			ld, lok := negate(n.Left)
			rd, rok := negate(n.Right)
			if !lok || !rok {
				return nil, false
			}
			return map[string]any{"$or": []any{ld, rd}}, true
		case parser.OpOr:
			ld, ok1 := WhereToFilterDoc(n.Left)
			rd, ok2 := WhereToFilterDoc(n.Right)
			if !ok1 || !ok2 {
				return nil, false
			}
			return map[string]any{"$nor": []any{ld, rd}}, true
		case parser.OpEq, parser.OpNeq, parser.OpLt, parser.OpLte, parser.OpGt, parser.OpGte:
			flipped := flipOp(n.Op)
			return comparisonDoc(&parser.Binary{Op: flipped, Left: n.Left, Right: n.Right})
		}
	}
	return nil, false
}

func flipOp(op parser.BinaryOp) parser.BinaryOp {
	switch op {
	case parser.OpEq:
		return parser.OpNeq
	case parser.OpNeq:
		return parser.OpEq
	case parser.OpLt:
		return parser.OpGte
	case parser.OpLte:
		return parser.OpGt
	case parser.OpGt:
		return parser.OpLte
	case parser.OpGte:
		return parser.OpLt
	}
	return op
}

func comparisonDoc(n *parser.Binary) (map[string]any, bool) {
	col, lit, swapped, ok := identAndLiteral(n.Left, n.Right)
	if !ok {
		return nil, false
	}
	op := n.Op
	if swapped {
		// `5 < age` reads as `age > 5` once the column moves to the left.
		op = mirrorOp(op)
	}
	mongoOp, ok := mongoCompareOp(op)
	if !ok {
		return nil, false
	}
	return map[string]any{col: map[string]any{mongoOp: lit}}, true
}

func mirrorOp(op parser.BinaryOp) parser.BinaryOp {
	switch op {
	case parser.OpLt:
		return parser.OpGt
	case parser.OpLte:
		return parser.OpGte
	case parser.OpGt:
		return parser.OpLt
	case parser.OpGte:
		return parser.OpLte
	}
	return op
}

func mongoCompareOp(op parser.BinaryOp) (string, bool) {
	switch op {
	case parser.OpEq:
		return "$eq", true
	case parser.OpNeq:
		return "$ne", true
	case parser.OpLt:
		return "$lt", true
	case parser.OpLte:
		return "$lte", true
	case parser.OpGt:
		return "$gt", true
	case parser.OpGte:
		return "$gte", true
	}
	return "", false
}

func identAndLiteral(a, b parser.Expression) (col string, lit any, swapped, ok bool) {
	if id, isID := a.(*parser.Identifier); isID {
		if l, isLit := b.(*parser.Literal); isLit {
			return stripQualifier(id.Name), l.Value, false, true
		}
	}
	if id, isID := b.(*parser.Identifier); isID {
		if l, isLit := a.(*parser.Literal); isLit {
			return stripQualifier(id.Name), l.Value, true, true
		}
	}
	return "", nil, false, false
}

func identifierName(e parser.Expression) (string, bool) {
	id, ok := e.(*parser.Identifier)
	if !ok {
		return "", false
	}
	return stripQualifier(id.Name), true
}

func stripQualifier(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}

// matchFilterDoc evaluates a filter document built by WhereToFilterDoc
// against one row.
func matchFilterDoc(doc map[string]any, row types.Row) bool {
	for key, rawCond := range doc {
		switch key {
		case "$and":
			for _, sub := range rawCond.([]any) {
				if !matchFilterDoc(sub.(map[string]any), row) {
					return false
				}
			}
		case "$or":
			matched := false
			for _, sub := range rawCond.([]any) {
				if matchFilterDoc(sub.(map[string]any), row) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		case "$nor":
			for _, sub := range rawCond.([]any) {
				if matchFilterDoc(sub.(map[string]any), row) {
					return false
				}
			}
		default:
			v, _ := row.Get(key)
			cond := rawCond.(map[string]any)
			if !matchOps(v, cond) {
				return false
			}
		}
	}
	return true
}

func matchOps(v any, cond map[string]any) bool {
	for op, want := range cond {
		switch op {
		case "$eq":
			if eq, ok := types.Equal(v, want); !ok || !eq {
				return false
			}
		case "$ne":
			if eq, ok := types.Equal(v, want); ok && eq {
				return false
			}
		case "$lt", "$lte", "$gt", "$gte":
			c, ok := types.Compare(v, want)
			if !ok {
				return false
			}
			if !compareSatisfies(op, c) {
				return false
			}
		case "$in":
			if !inList(v, want) {
				return false
			}
		case "$nin":
			if inList(v, want) {
				return false
			}
		}
	}
	return true
}

func compareSatisfies(op string, c int) bool {
	switch op {
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	}
	return false
}

func inList(v, want any) bool {
	list, ok := want.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if eq, ok := types.Equal(v, item); ok && eq {
			return true
		}
	}
	return false
}
