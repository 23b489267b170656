// Package flowsql is an embeddable, streaming SQL query engine over
// caller-supplied named tables (spec §1, §6.1). A caller supplies a query
// text, a map of named data sources, and optionally a map of scalar
// user-defined functions; ExecuteSQL returns a lazily-produced Cursor over
// result rows.
package flowsql

import (
	"context"

	"go.uber.org/zap"

	"flowsql/pkg/datasource"
	"flowsql/pkg/sql/eval"
	"flowsql/pkg/sql/executor"
	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/planner"
	"flowsql/pkg/sql/validator"
	"flowsql/pkg/types"
)

// Row is the caller-visible shape of one result row.
type Row = types.Row

// Cursor is the pull interface a caller drives to consume a result stream
// (spec §4.7, §5 "Scheduling model").
type Cursor = executor.Cursor

// Table is the narrow pull interface every named data source implements
// (spec §4.8).
type Table = datasource.Table

// Func is a scalar user-defined function: pure, synchronous (spec §9).
type Func = eval.Func

// CancelledError is returned when the caller's abort signal trips mid
// execution (spec §7 "Cancelled").
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string { return "flowsql: execution cancelled" }
func (e *CancelledError) Unwrap() error { return e.Cause }

// Options configures an Engine (the functional-options-free struct idiom
// the teacher uses for turdb.Open's Options, SPEC_FULL §3 "Configuration").
type Options struct {
	// Logger receives the executor's structured diagnostics (plan shape,
	// CTE materialization, hash-join build sizes, data-source errors). A
	// nil Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Engine binds a query's caller-supplied tables and functions to the
// parser/planner/executor pipeline. One Engine may run many queries
// concurrently (spec §5 "Shared resources"); it holds no mutable state of
// its own beyond its Options.
type Engine struct {
	opts Options
}

// NewEngine builds an Engine from opts. A zero Options is valid and logs
// nothing.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{opts: opts}
}

// Request bundles the inputs to ParseSQL/EstimateCost/ExecuteSQL (spec
// §6.1).
type Request struct {
	Query     string
	Tables    map[string]Table
	Functions map[string]Func
}

// ParseSQL parses query into a SelectStatement, validates it against the
// supplied function names, and returns the AST (spec §6.1
// "parseSql({query, functions}) → SelectStatement"). It does not plan or
// execute.
func ParseSQL(query string, functions map[string]Func) (*parser.SelectStatement, error) {
	stmt, err := parser.Parse(query)
	if err != nil {
		return nil, err
	}
	fset := validator.FunctionSet{}
	for name := range functions {
		fset[name] = true
	}
	if err := validator.Validate(stmt, validator.Context{Functions: fset}); err != nil {
		return nil, err
	}
	return stmt, nil
}

// QueryPlan turns an already-parsed-and-validated statement into a logical
// plan (spec §6.1 "queryPlan(statement) → LogicalPlan"). It is a pure
// function of its input; no table or function map is consulted.
func QueryPlan(stmt *parser.SelectStatement) (planner.Node, error) {
	return planner.Build(stmt)
}

// ExplainPlan renders plan as an indented operator tree (SPEC_FULL §6
// supplemental feature), grounded on the teacher's cost-printing idiom.
func ExplainPlan(plan planner.Node) string {
	return planner.Explain(plan)
}

// SourceStatistics is the optional per-table statistics surface consulted
// by EstimateCost (spec §4.9); keyed by table name.
type SourceStatistics = planner.SourceStats

// EstimateCost returns an advisory heuristic byte-cost for query, or
// ok=false (UNDEFINED) if any participating table lacks statistics (spec
// §4.9, §6.1 "estimateCost({query, tables}) → number | undefined").
// EstimateCost does not execute the query.
func EstimateCost(query string, stats map[string]SourceStatistics) (cost float64, ok bool, err error) {
	stmt, err := ParseSQL(query, nil)
	if err != nil {
		return 0, false, err
	}
	plan, err := QueryPlan(stmt)
	if err != nil {
		return 0, false, err
	}
	cost, ok = planner.EstimateCost(plan, stats)
	return cost, ok, nil
}

// ExecuteSQL parses, validates, plans, and opens req.Query against
// req.Tables and req.Functions, returning a streaming Cursor (spec §6.1
// "executeSql({query, tables, functions, signal}) → async sequence of
// rows"). Cancellation is via ctx, not a separate signal field — idiomatic
// Go threads context.Context through every blocking call instead of a
// bespoke abort object (spec §5 "Cancellation").
func (e *Engine) ExecuteSQL(ctx context.Context, req Request) (Cursor, error) {
	stmt, err := ParseSQL(req.Query, req.Functions)
	if err != nil {
		return nil, err
	}
	plan, err := QueryPlan(stmt)
	if err != nil {
		return nil, err
	}
	ex := executor.New(req.Tables, req.Functions, e.opts.Logger)
	cur, err := ex.Open(ctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancelledError{Cause: ctx.Err()}
		}
		return nil, err
	}
	return cur, nil
}

// Collect drains cur fully into a slice (spec §6.1 "collect(seq) → array
// of rows").
func Collect(ctx context.Context, cur Cursor) ([]Row, error) {
	rows, err := executor.Collect(ctx, cur)
	if err != nil && ctx.Err() != nil {
		return nil, &CancelledError{Cause: ctx.Err()}
	}
	return rows, err
}

// CollectLimit drains at most n rows then closes cur, letting a caller
// preview a large stream without materializing all of it (SPEC_FULL §6
// supplemental feature).
func CollectLimit(ctx context.Context, cur Cursor, n int) ([]Row, error) {
	rows, err := executor.CollectLimit(ctx, cur, n)
	if err != nil && ctx.Err() != nil {
		return nil, &CancelledError{Cause: ctx.Err()}
	}
	return rows, err
}
