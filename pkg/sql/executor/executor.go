// Package executor turns a logical plan into a pull-based stream of rows,
// evaluating each operator against caller-supplied tables (spec §4.7, §5).
// The scheduling model is single-threaded and cooperative: a consumer
// drives the whole pipeline by repeatedly calling Next on the root Cursor,
// and every suspension point (a data-source row request, a join build
// drain, a materialising operator) consults the caller's context so a
// long-running query can be cancelled.
package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flowsql/pkg/datasource"
	"flowsql/pkg/sql/eval"
	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/planner"
	"flowsql/pkg/types"
)

// Cursor is the pull interface every operator implements: Next must be
// called before Row, and returns false at end of stream or on error (call
// Err to tell the two apart). Close releases any resources held by the
// operator or its data sources and is always safe to call, including more
// than once.
type Cursor interface {
	Next(ctx context.Context) bool
	Row() types.Row
	Err() error
	Close() error
}

// Executor binds a plan to the caller's named tables and function
// registry. One Executor can run many plans; each Open call gets its own
// CTE-materialization scope.
type Executor struct {
	Tables    map[string]datasource.Table
	Functions map[string]eval.Func
	Logger    *zap.Logger
}

// New builds an Executor. A nil logger defaults to zap.NewNop().
func New(tables map[string]datasource.Table, functions map[string]eval.Func, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Tables: tables, Functions: functions, Logger: logger}
}

// Open builds the root Cursor for plan. Materialising operators
// (HashAggregate, Sort, Distinct, join build sides, CTE bodies) run
// eagerly during Open/build rather than lazily on first Next, since the
// spec ties their output ordering/grouping to having seen every input row.
func (ex *Executor) Open(ctx context.Context, plan planner.Node) (Cursor, error) {
	if ex.Logger == nil {
		ex.Logger = zap.NewNop()
	}
	r := &run{ex: ex, ctx: ctx, id: uuid.NewString()}
	r.evalCtx = &eval.Context{Functions: ex.Functions, SubqueryRunner: r.runSubquery}
	ex.Logger.Debug("executing plan", zap.String("run_id", r.id), zap.String("plan", planner.Explain(plan)))
	cur, err := r.build(ctx, plan)
	if err != nil {
		ex.Logger.Debug("plan construction failed", zap.String("run_id", r.id), zap.Error(err))
		return nil, err
	}
	return cur, nil
}

// Collect drains cur fully (spec §6 "Collect" supplemental convenience).
func Collect(ctx context.Context, cur Cursor) ([]types.Row, error) {
	defer cur.Close()
	var rows []types.Row
	for cur.Next(ctx) {
		rows = append(rows, cur.Row())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// CollectLimit drains at most n rows, then closes cur (spec §6
// "CollectLimit").
func CollectLimit(ctx context.Context, cur Cursor, n int) ([]types.Row, error) {
	defer cur.Close()
	rows := make([]types.Row, 0, n)
	for len(rows) < n && cur.Next(ctx) {
		rows = append(rows, cur.Row())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// run is the per-Open execution scope: it owns the CTE materialization
// cache/group and the outer-row stack correlated subqueries read from
// (spec §4.6 "a stack of named row maps... innermost row wins").
type run struct {
	ex       *Executor
	ctx      context.Context
	id       string
	evalCtx  *eval.Context
	cteGroup singleflight.Group
	cteCache map[string][]types.Row
	outer    []types.Row
}

// eval evaluates expr against row, folding in any correlated outer rows
// currently in scope (naive per-row correlation, no caching — spec's
// Non-goals exclude "correlated subquery optimisation beyond naïve
// execution").
func (r *run) eval(expr parser.Expression, row types.Row) (any, error) {
	if len(r.outer) == 0 {
		return eval.Eval(expr, row, r.evalCtx)
	}
	merged := row
	for i := len(r.outer) - 1; i >= 0; i-- {
		merged = merged.Merge(r.outer[i])
	}
	return eval.Eval(expr, merged, r.evalCtx)
}

func (r *run) runSubquery(stmt *parser.SelectStatement, outer types.Row) ([]types.Row, error) {
	plan, err := planner.Build(stmt)
	if err != nil {
		return nil, errors.Annotate(err, "planning correlated subquery")
	}
	r.outer = append(r.outer, outer)
	defer func() { r.outer = r.outer[:len(r.outer)-1] }()
	cur, err := r.build(r.ctx, plan)
	if err != nil {
		return nil, err
	}
	return drain(r.ctx, cur)
}

func drain(ctx context.Context, cur Cursor) ([]types.Row, error) {
	defer cur.Close()
	var rows []types.Row
	for cur.Next(ctx) {
		rows = append(rows, cur.Row())
	}
	return rows, cur.Err()
}

// build dispatches on the concrete plan node type, constructing the
// Cursor tree bottom-up.
func (r *run) build(ctx context.Context, n planner.Node) (Cursor, error) {
	switch t := n.(type) {
	case *planner.Scan:
		return r.buildScan(ctx, t)
	case *planner.SubqueryScan:
		return r.buildSubqueryScan(ctx, t)
	case *planner.Filter:
		child, err := r.build(ctx, t.Child)
		if err != nil {
			return nil, err
		}
		return &filterCursor{r: r, child: child, cond: t.Condition}, nil
	case *planner.Project:
		child, err := r.build(ctx, t.Child)
		if err != nil {
			return nil, err
		}
		return &projectCursor{r: r, child: child, columns: t.Columns}, nil
	case *planner.HashJoin:
		return r.buildHashJoin(ctx, t)
	case *planner.NestedLoopJoin:
		return r.buildNestedLoopJoin(ctx, t)
	case *planner.PositionalJoin:
		return r.buildPositionalJoin(ctx, t)
	case *planner.HashAggregate:
		return r.buildHashAggregate(ctx, t)
	case *planner.ScalarAggregate:
		return r.buildScalarAggregate(ctx, t)
	case *planner.Sort:
		return r.buildSort(ctx, t)
	case *planner.Distinct:
		return r.buildDistinct(ctx, t)
	case *planner.Limit:
		child, err := r.build(ctx, t.Child)
		if err != nil {
			return nil, err
		}
		return &limitCursor{child: child, remaining: t.Limit, toSkip: t.Offset}, nil
	default:
		return nil, fmt.Errorf("executor: unhandled plan node %T", n)
	}
}

func (r *run) buildScan(ctx context.Context, t *planner.Scan) (Cursor, error) {
	table, ok := r.ex.Tables[t.Table]
	if !ok {
		return nil, errors.NotFoundf("table %q", t.Table)
	}
	result, err := table.Scan(ctx, datasource.ScanHints{
		Columns: t.Hints.Columns,
		Where:   t.Hints.Where,
		Limit:   t.Hints.Limit,
		Offset:  t.Hints.Offset,
		OrderBy: t.Hints.OrderBy,
	})
	if err != nil {
		r.ex.Logger.Error("data source scan failed", zap.String("table", t.Table), zap.Error(err))
		return nil, errors.Annotatef(err, "scanning table %q", t.Table)
	}

	var cur Cursor = &sourceCursor{iter: result.Rows}
	if t.Alias != "" {
		cur = &tagCursor{child: cur, alias: t.Alias}
	}
	if t.Hints.Where != nil && !result.AppliedWhere {
		cur = &filterCursor{r: r, child: cur, cond: t.Hints.Where}
	}
	if (t.Hints.Limit != nil || t.Hints.Offset != nil) && !result.AppliedLimitOffset {
		cur = &limitCursor{child: cur, remaining: t.Hints.Limit, toSkip: t.Hints.Offset}
	}
	return cur, nil
}

// tagCursor attributes every column of its child's rows to one source
// alias, so `t.*` expansion and qualified identifiers can tell apart
// same-named columns after a join.
type tagCursor struct {
	child Cursor
	alias string
	cur   types.Row
}

func (c *tagCursor) Next(ctx context.Context) bool {
	if !c.child.Next(ctx) {
		return false
	}
	c.cur = c.child.Row().Tagged(c.alias)
	return true
}

func (c *tagCursor) Row() types.Row { return c.cur }
func (c *tagCursor) Err() error     { return c.child.Err() }
func (c *tagCursor) Close() error   { return c.child.Close() }

func (r *run) buildSubqueryScan(ctx context.Context, t *planner.SubqueryScan) (Cursor, error) {
	if t.CTEName == "" {
		inner, err := r.build(ctx, t.Plan)
		if err != nil {
			return nil, err
		}
		if t.Alias != "" {
			return &tagCursor{child: inner, alias: t.Alias}, nil
		}
		return inner, nil
	}

	v, err, _ := r.cteGroup.Do(t.CTEName, func() (any, error) {
		if r.cteCache != nil {
			if cached, ok := r.cteCache[t.CTEName]; ok {
				return cached, nil
			}
		}
		cur, err := r.build(ctx, t.Plan)
		if err != nil {
			return nil, err
		}
		rows, err := drain(ctx, cur)
		if err != nil {
			return nil, err
		}
		if r.cteCache == nil {
			r.cteCache = map[string][]types.Row{}
		}
		r.cteCache[t.CTEName] = rows
		r.ex.Logger.Debug("materialized CTE", zap.String("run_id", r.id), zap.String("cte", t.CTEName), zap.Int("rows", len(rows)))
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	var cur Cursor = &materializedCursor{rows: v.([]types.Row)}
	if t.Alias != "" {
		cur = &tagCursor{child: cur, alias: t.Alias}
	}
	return cur, nil
}

// sourceCursor adapts a datasource.RowIterator to Cursor, converting each
// RowAccessor to an ordered types.Row via its declared key order.
type sourceCursor struct {
	iter datasource.RowIterator
	cur  types.Row
}

func (c *sourceCursor) Next(ctx context.Context) bool {
	if !c.iter.Next(ctx) {
		return false
	}
	acc := c.iter.Row()
	keys := acc.GetKeys()
	vals := make([]any, len(keys))
	for i, k := range keys {
		v, _ := acc.GetCell(k)
		vals[i] = v
	}
	c.cur = types.NewRow(keys, vals)
	return true
}

func (c *sourceCursor) Row() types.Row { return c.cur }
func (c *sourceCursor) Err() error     { return c.iter.Err() }
func (c *sourceCursor) Close() error   { return c.iter.Close() }

// materializedCursor replays a pre-computed slice of rows — the shape
// every eager (materialising) operator's output takes.
type materializedCursor struct {
	rows []types.Row
	idx  int
	err  error
}

func (c *materializedCursor) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.idx >= len(c.rows) {
		return false
	}
	c.idx++
	return true
}

func (c *materializedCursor) Row() types.Row { return c.rows[c.idx-1] }
func (c *materializedCursor) Err() error     { return c.err }
func (c *materializedCursor) Close() error   { return nil }

// filterCursor keeps only rows for which cond evaluates TRUE (spec §4.7
// "Filter").
type filterCursor struct {
	r     *run
	child Cursor
	cond  parser.Expression
	cur   types.Row
	err   error
}

func (c *filterCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	for c.child.Next(ctx) {
		row := c.child.Row()
		v, err := c.r.eval(c.cond, row)
		if err != nil {
			c.err = err
			return false
		}
		if eval.IsTruthy(v) {
			c.cur = row
			return true
		}
	}
	c.err = c.child.Err()
	return false
}

func (c *filterCursor) Row() types.Row { return c.cur }
func (c *filterCursor) Err() error     { return c.err }
func (c *filterCursor) Close() error   { return c.child.Close() }

// limitCursor drops toSkip rows then emits at most remaining rows (spec
// §4.7 "Limit").
type limitCursor struct {
	child     Cursor
	remaining *int64
	toSkip    *int64
	skipped   int64
	emitted   int64
}

func (c *limitCursor) Next(ctx context.Context) bool {
	if c.remaining != nil && c.emitted >= *c.remaining {
		return false
	}
	for c.toSkip != nil && c.skipped < *c.toSkip {
		if !c.child.Next(ctx) {
			return false
		}
		c.skipped++
	}
	if !c.child.Next(ctx) {
		return false
	}
	c.emitted++
	return true
}

func (c *limitCursor) Row() types.Row { return c.child.Row() }
func (c *limitCursor) Err() error     { return c.child.Err() }
func (c *limitCursor) Close() error   { return c.child.Close() }
