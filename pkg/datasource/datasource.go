// Package datasource defines the pull interface the executor uses to read
// caller-supplied tables, and the scan-hints contract (spec §4.8, §6.3)
// sources opt into for pushdown.
package datasource

import (
	"context"

	"flowsql/pkg/sql/parser"
	"flowsql/pkg/types"
)

// RowAccessor exposes one row of a scan without committing the source to
// any particular storage representation.
type RowAccessor interface {
	GetCell(name string) (any, bool)
	GetKeys() []string
}

// MapRow adapts a plain map to RowAccessor; the in-memory adapter and most
// user-supplied sources will want this.
type MapRow map[string]any

func (r MapRow) GetCell(name string) (any, bool) { v, ok := r[name]; return v, ok }
func (r MapRow) GetKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// RowFromTypesRow adapts a types.Row (which preserves column order) to
// RowAccessor, used by the concrete adapters in memsource/parquetsource so
// column order survives into `*` expansion deterministically.
type RowFromTypesRow struct{ Row types.Row }

func (a RowFromTypesRow) GetCell(name string) (any, bool) { return a.Row.Get(name) }
func (a RowFromTypesRow) GetKeys() []string               { return a.Row.Cols }

// ScanHints is the advisory pushdown request passed to a Table's Scan. A
// source may honour any subset of these; see Applied on ScanResult for the
// corresponding all-or-nothing contract (spec §6.3).
type ScanHints struct {
	Columns []string          // nil means "all columns"
	Where   parser.Expression // nil means no predicate to push
	Limit   *int64
	Offset  *int64
	OrderBy []parser.OrderItem
}

// RowIterator is the pull-based sequence a Scan returns. Next must be
// called before the first Row/Err; it returns false at end of stream or on
// error (check Err to distinguish the two). Close releases any resources
// and is always safe to call.
type RowIterator interface {
	Next(ctx context.Context) bool
	Row() RowAccessor
	Err() error
	Close() error
}

// ScanResult reports which of the requested hints the source actually
// applied. A source that only partially applies a hint MUST report false
// for it — the executor re-applies the hint itself when the flag is false
// (spec §6.3's "partial application is a contract violation").
type ScanResult struct {
	Rows               RowIterator
	AppliedWhere       bool
	AppliedLimitOffset bool
	AppliedColumns     bool
}

// ColumnStats optionally describes one column's average encoded size, used
// by the advisory cost estimator (spec §4.9).
type ColumnStats struct {
	ByteWeight float64
}

// Statistics is the optional per-source statistics surface feeding
// EstimateCost. A source with no statistics should return Defined=false.
type Statistics struct {
	Defined       bool
	RowCount      int64
	ColumnWeights map[string]ColumnStats
}

// Table is the narrow interface the executor requires of every named
// source supplied by the caller.
type Table interface {
	Scan(ctx context.Context, hints ScanHints) (ScanResult, error)
	Statistics() Statistics
}
