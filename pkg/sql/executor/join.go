package executor

import (
	"context"

	"go.uber.org/zap"

	"flowsql/pkg/sql/eval"
	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/planner"
	"flowsql/pkg/types"
)

// buildHashJoin materialises both sides (the spec only requires the right
// side to be materialised, but a LEFT/RIGHT/FULL outer join needs to
// account for every row of whichever side is "preserved", so both are
// drained up front) and emits the joined output eagerly as a
// materializedCursor (spec §4.7 "HashJoin").
func (r *run) buildHashJoin(ctx context.Context, t *planner.HashJoin) (Cursor, error) {
	leftCur, err := r.build(ctx, t.Left)
	if err != nil {
		return nil, err
	}
	leftRows, err := drain(ctx, leftCur)
	if err != nil {
		return nil, err
	}
	rightCur, err := r.build(ctx, t.Right)
	if err != nil {
		return nil, err
	}
	rightRows, err := drain(ctx, rightCur)
	if err != nil {
		return nil, err
	}
	r.ex.Logger.Debug("hash join materialized", zap.String("run_id", r.id),
		zap.Int("left_rows", len(leftRows)), zap.Int("right_rows", len(rightRows)))

	index := map[string][]int{}
	for i, row := range rightRows {
		v, _ := row.Get(t.RightKey)
		if types.IsNull(v) {
			continue
		}
		key := types.GroupKey(v)
		index[key] = append(index[key], i)
	}

	leftPad := nullRowLike(leftRows)
	rightPad := nullRowLike(rightRows)

	wantLeftOuter := t.JoinType == parser.JoinLeft || t.JoinType == parser.JoinFull
	wantRightOuter := t.JoinType == parser.JoinRight || t.JoinType == parser.JoinFull

	matchedRight := make([]bool, len(rightRows))
	var out []types.Row
	for _, lrow := range leftRows {
		v, _ := lrow.Get(t.LeftKey)
		var matches []int
		if !types.IsNull(v) {
			matches = index[types.GroupKey(v)]
		}
		if len(matches) == 0 {
			if wantLeftOuter {
				out = append(out, lrow.Merge(rightPad))
			}
			continue
		}
		for _, idx := range matches {
			matchedRight[idx] = true
			out = append(out, lrow.Merge(rightRows[idx]))
		}
	}
	if wantRightOuter {
		for i, rrow := range rightRows {
			if !matchedRight[i] {
				out = append(out, leftPad.Merge(rrow))
			}
		}
	}
	return &materializedCursor{rows: out}, nil
}

// buildNestedLoopJoin evaluates Condition over the cartesian product of
// both (fully materialised) sides (spec §4.7 "NestedLoopJoin").
func (r *run) buildNestedLoopJoin(ctx context.Context, t *planner.NestedLoopJoin) (Cursor, error) {
	leftCur, err := r.build(ctx, t.Left)
	if err != nil {
		return nil, err
	}
	leftRows, err := drain(ctx, leftCur)
	if err != nil {
		return nil, err
	}
	rightCur, err := r.build(ctx, t.Right)
	if err != nil {
		return nil, err
	}
	rightRows, err := drain(ctx, rightCur)
	if err != nil {
		return nil, err
	}

	leftPad := nullRowLike(leftRows)
	rightPad := nullRowLike(rightRows)

	wantLeftOuter := t.JoinType == parser.JoinLeft || t.JoinType == parser.JoinFull
	wantRightOuter := t.JoinType == parser.JoinRight || t.JoinType == parser.JoinFull

	matchedRight := make([]bool, len(rightRows))
	var out []types.Row
	for _, lrow := range leftRows {
		matchedLeft := false
		for ri, rrow := range rightRows {
			merged := lrow.Merge(rrow)
			v, err := r.eval(t.Condition, merged)
			if err != nil {
				return nil, err
			}
			if eval.IsTruthy(v) {
				out = append(out, merged)
				matchedLeft = true
				matchedRight[ri] = true
			}
		}
		if !matchedLeft && wantLeftOuter {
			out = append(out, lrow.Merge(rightPad))
		}
	}
	if wantRightOuter {
		for i, rrow := range rightRows {
			if !matchedRight[i] {
				out = append(out, leftPad.Merge(rrow))
			}
		}
	}
	return &materializedCursor{rows: out}, nil
}

// buildPositionalJoin zips row i of the left side with row i of the right
// side, terminating at the shorter side (spec §4.7 "PositionalJoin").
func (r *run) buildPositionalJoin(ctx context.Context, t *planner.PositionalJoin) (Cursor, error) {
	leftCur, err := r.build(ctx, t.Left)
	if err != nil {
		return nil, err
	}
	leftRows, err := drain(ctx, leftCur)
	if err != nil {
		return nil, err
	}
	rightCur, err := r.build(ctx, t.Right)
	if err != nil {
		return nil, err
	}
	rightRows, err := drain(ctx, rightCur)
	if err != nil {
		return nil, err
	}
	n := len(leftRows)
	if len(rightRows) < n {
		n = len(rightRows)
	}
	out := make([]types.Row, n)
	for i := 0; i < n; i++ {
		out[i] = leftRows[i].Merge(rightRows[i])
	}
	return &materializedCursor{rows: out}, nil
}

// nullRowLike builds a row with every value NULL over the column shape (and
// source attribution) of rows' first element, used to pad the non-preserved
// side of an outer join when no match is found. An empty side pads with an
// empty row.
func nullRowLike(rows []types.Row) types.Row {
	if len(rows) == 0 {
		return types.Row{}
	}
	proto := rows[0]
	return types.Row{Cols: proto.Cols, Vals: make([]any, len(proto.Cols)), Srcs: proto.Srcs}
}
