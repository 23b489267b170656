// Package memsource is the in-memory array data-source adapter: the
// simplest concrete implementation of the pull interface in pkg/datasource,
// backing a table with a fixed slice of rows already held in memory.
package memsource

import (
	"context"

	"flowsql/pkg/datasource"
	"flowsql/pkg/types"
)

// Table is a datasource.Table backed by a pre-built slice of rows. It
// honours column pruning directly, and LIMIT/OFFSET pushdown only when no
// WHERE hint is present; WHERE is left
// to the executor (AppliedWhere is always false) since evaluating an
// arbitrary predicate here would require threading the caller's function
// registry into the adapter.
type Table struct {
	rows  []types.Row
	stats datasource.Statistics
}

// New builds a Table over rows, with optional statistics for the cost
// estimator (spec §4.9). Pass a zero Statistics{} when unknown.
func New(rows []types.Row, stats datasource.Statistics) *Table {
	return &Table{rows: rows, stats: stats}
}

// NewFromMaps builds a Table from plain maps, using columnOrder to fix a
// deterministic column order for `*` expansion (map iteration order is not
// stable in Go).
func NewFromMaps(maps []map[string]any, columnOrder []string) *Table {
	rows := make([]types.Row, len(maps))
	for i, m := range maps {
		vals := make([]any, len(columnOrder))
		for j, c := range columnOrder {
			vals[j] = m[c]
		}
		rows[i] = types.NewRow(columnOrder, vals)
	}
	return &Table{rows: rows}
}

func (t *Table) Statistics() datasource.Statistics { return t.stats }

func (t *Table) Scan(ctx context.Context, hints datasource.ScanHints) (datasource.ScanResult, error) {
	rows := t.rows
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

	// Limit/offset may only be applied here when no WHERE hint is pending:
	// this source never evaluates predicates, and truncating before the
	// executor's implicit filter would drop the wrong rows.
	appliedLimitOffset := false
	if hints.Where == nil && (hints.Limit != nil || hints.Offset != nil) {
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
		AppliedWhere:       false,
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
