package executor

import (
	"context"
	"strings"

	"flowsql/pkg/sql/eval"
	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/planner"
	"flowsql/pkg/sql/validator"
	"flowsql/pkg/types"
)

// aggregateCalls collects the distinct aggregate-function call nodes
// reachable from e, not descending into an aggregate's own arguments
// (nested aggregates are not legal SQL). Each *parser.FuncCall pointer
// identity is shared across every group, so it doubles as that call's key
// in the per-group Aggregator map.
func aggregateCalls(e parser.Expression, seen map[*parser.FuncCall]bool, out *[]*parser.FuncCall) {
	switch n := e.(type) {
	case nil:
	case *parser.FuncCall:
		if validator.IsAggregateFunc(n.Name) {
			if !seen[n] {
				seen[n] = true
				*out = append(*out, n)
			}
			return
		}
		for _, a := range n.Args {
			aggregateCalls(a, seen, out)
		}
	case *parser.Unary:
		aggregateCalls(n.Arg, seen, out)
	case *parser.Binary:
		aggregateCalls(n.Left, seen, out)
		aggregateCalls(n.Right, seen, out)
	case *parser.Cast:
		aggregateCalls(n.Expr, seen, out)
	case *parser.Case:
		aggregateCalls(n.CaseExpr, seen, out)
		for _, w := range n.WhenList {
			aggregateCalls(w.Condition, seen, out)
			aggregateCalls(w.Result, seen, out)
		}
		aggregateCalls(n.ElseValue, seen, out)
	case *parser.InList:
		aggregateCalls(n.Expr, seen, out)
	case *parser.InSubquery:
		aggregateCalls(n.Expr, seen, out)
	}
}

// rewriteAggregates returns a copy of e with every aggregate call node
// present in vals replaced by a literal carrying its reduced result,
// leaving the rest of the expression tree (ordinary columns, scalar
// calls) to be evaluated normally against a group's representative row.
func rewriteAggregates(e parser.Expression, vals map[*parser.FuncCall]any) parser.Expression {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.FuncCall:
		if v, ok := vals[n]; ok {
			return &parser.Literal{Pos: n.Pos, Value: v}
		}
		args := make([]parser.Expression, len(n.Args))
		for i, a := range n.Args {
			args[i] = rewriteAggregates(a, vals)
		}
		return &parser.FuncCall{Pos: n.Pos, Name: n.Name, Args: args, Distinct: n.Distinct}
	case *parser.Unary:
		return &parser.Unary{Pos: n.Pos, Op: n.Op, Arg: rewriteAggregates(n.Arg, vals)}
	case *parser.Binary:
		return &parser.Binary{Pos: n.Pos, Op: n.Op, Left: rewriteAggregates(n.Left, vals), Right: rewriteAggregates(n.Right, vals)}
	case *parser.Cast:
		return &parser.Cast{Pos: n.Pos, Expr: rewriteAggregates(n.Expr, vals), ToType: n.ToType}
	case *parser.Case:
		nc := &parser.Case{Pos: n.Pos, CaseExpr: rewriteAggregates(n.CaseExpr, vals), ElseValue: rewriteAggregates(n.ElseValue, vals)}
		for _, w := range n.WhenList {
			nc.WhenList = append(nc.WhenList, parser.WhenClause{
				Condition: rewriteAggregates(w.Condition, vals),
				Result:    rewriteAggregates(w.Result, vals),
			})
		}
		return nc
	case *parser.InList:
		return &parser.InList{Pos: n.Pos, Expr: rewriteAggregates(n.Expr, vals), Not: n.Not, Values: n.Values}
	default:
		return e
	}
}

func isCountStar(fc *parser.FuncCall) bool {
	return strings.ToUpper(fc.Name) == "COUNT" && len(fc.Args) == 1 && isStarArg(fc.Args[0])
}

func isStarArg(e parser.Expression) bool {
	_, ok := e.(*parser.Star)
	return ok
}

type groupState struct {
	repRow types.Row
	aggs   map[*parser.FuncCall]eval.Aggregator
}

// runGroupedAggregation is the shared engine behind HashAggregate and
// ScalarAggregate: materialise the input, route every row into its group
// (ScalarAggregate is the degenerate single-group case), reduce, then
// apply HAVING and project the output (spec §4.7).
func (r *run) runGroupedAggregation(ctx context.Context, child planner.Node, groupBy []parser.Expression, columns []parser.SelectColumn, having parser.Expression) (Cursor, error) {
	childCur, err := r.build(ctx, child)
	if err != nil {
		return nil, err
	}
	rows, err := drain(ctx, childCur)
	if err != nil {
		return nil, err
	}

	seen := map[*parser.FuncCall]bool{}
	var aggCalls []*parser.FuncCall
	for _, col := range columns {
		aggregateCalls(normalizeColumn(col).Expr, seen, &aggCalls)
	}
	aggregateCalls(having, seen, &aggCalls)

	groups := map[string]*groupState{}
	var order []string

	// A scalar aggregate (no GROUP BY) always reduces exactly one group,
	// even over zero input rows (spec §4.7 "ScalarAggregate... single
	// group over the whole input") — seed it up front so COUNT(*) etc.
	// still produce a row when nothing matched.
	if len(groupBy) == 0 {
		key := types.GroupKey([]any{})
		gs := &groupState{aggs: map[*parser.FuncCall]eval.Aggregator{}}
		for _, fc := range aggCalls {
			gs.aggs[fc] = eval.NewAggregator(fc.Name, isCountStar(fc))
		}
		groups[key] = gs
		order = append(order, key)
	}

	for _, row := range rows {
		groupVals := make([]any, len(groupBy))
		for i, g := range groupBy {
			v, err := r.eval(g, row)
			if err != nil {
				return nil, err
			}
			groupVals[i] = v
		}
		key := types.GroupKey(groupVals)
		gs, ok := groups[key]
		if !ok {
			gs = &groupState{repRow: row, aggs: map[*parser.FuncCall]eval.Aggregator{}}
			for _, fc := range aggCalls {
				gs.aggs[fc] = eval.NewAggregator(fc.Name, isCountStar(fc))
			}
			groups[key] = gs
			order = append(order, key)
		} else if gs.repRow.Cols == nil {
			gs.repRow = row
		}
		for _, fc := range aggCalls {
			var argVal any
			if isCountStar(fc) {
				gs.aggs[fc].Add(nil)
				continue
			}
			if len(fc.Args) > 0 {
				v, err := r.eval(fc.Args[0], row)
				if err != nil {
					return nil, err
				}
				argVal = v
			}
			gs.aggs[fc].Add(argVal)
		}
	}

	var out []types.Row
	for _, key := range order {
		gs := groups[key]
		vals := make(map[*parser.FuncCall]any, len(gs.aggs))
		for fc, agg := range gs.aggs {
			vals[fc] = agg.Result()
		}

		if having != nil {
			cond := rewriteAggregates(having, vals)
			v, err := r.eval(cond, gs.repRow)
			if err != nil {
				return nil, err
			}
			if !eval.IsTruthy(v) {
				continue
			}
		}

		var outCols []string
		var outVals []any
		for i, raw := range columns {
			col := normalizeColumn(raw)
			if col.Kind == parser.ColStar {
				outCols = append(outCols, gs.repRow.Cols...)
				outVals = append(outVals, gs.repRow.Vals...)
				continue
			}
			expr := rewriteAggregates(col.Expr, vals)
			v, err := r.eval(expr, gs.repRow)
			if err != nil {
				return nil, err
			}
			outCols = append(outCols, outputColumnName(col, i))
			outVals = append(outVals, v)
		}
		out = append(out, types.NewRow(outCols, outVals))
	}

	return &materializedCursor{rows: out}, nil
}

func (r *run) buildHashAggregate(ctx context.Context, t *planner.HashAggregate) (Cursor, error) {
	return r.runGroupedAggregation(ctx, t.Child, t.GroupBy, t.Columns, t.Having)
}

func (r *run) buildScalarAggregate(ctx context.Context, t *planner.ScalarAggregate) (Cursor, error) {
	return r.runGroupedAggregation(ctx, t.Child, nil, t.Columns, t.Having)
}
