package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"flowsql/pkg/datasource"
	"flowsql/pkg/datasource/memsource"
	"flowsql/pkg/sql/executor"
	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/planner"
	"flowsql/pkg/sql/validator"
	"flowsql/pkg/types"
)

func run(t *testing.T, query string, tables map[string]datasource.Table) []types.Row {
	t.Helper()
	require := require.New(t)
	stmt, err := parser.Parse(query)
	require.NoError(err, "Parse(%q)", query)
	require.NoError(validator.Validate(stmt, validator.Context{}), "Validate(%q)", query)
	plan, err := planner.Build(stmt)
	require.NoError(err, "Build(%q)", query)
	ex := executor.New(tables, nil, nil)
	cur, err := ex.Open(context.Background(), plan)
	require.NoError(err, "Open(%q)", query)
	rows, err := executor.Collect(context.Background(), cur)
	require.NoError(err, "Collect(%q)", query)
	return rows
}

func table(cols []string, maps []map[string]any) *memsource.Table {
	return memsource.NewFromMaps(maps, cols)
}

func TestExecutorLeftJoinPadsUnmatchedWithNull(t *testing.T) {
	users := table([]string{"id", "name"}, []map[string]any{
		{"id": float64(1), "name": "Alice"},
		{"id": float64(2), "name": "Bob"},
	})
	orders := table([]string{"user_id", "amount"}, []map[string]any{
		{"user_id": float64(1), "amount": float64(10)},
	})
	rows := run(t, "SELECT users.name, orders.amount FROM users LEFT JOIN orders ON users.id = orders.user_id",
		map[string]datasource.Table{"users": users, "orders": orders})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(rows), rows)
	}
	foundBobNull := false
	for _, r := range rows {
		name, _ := r.Get("name")
		amount, _ := r.Get("amount")
		if name == "Bob" {
			if amount != nil {
				t.Errorf("Bob's unmatched amount should be NULL, got %v", amount)
			}
			foundBobNull = true
		}
	}
	if !foundBobNull {
		t.Error("expected a row for Bob with NULL amount")
	}
}

func TestExecutorRightJoinPadsUnmatchedLeft(t *testing.T) {
	users := table([]string{"id", "name"}, []map[string]any{
		{"id": float64(1), "name": "Alice"},
	})
	orders := table([]string{"user_id", "amount"}, []map[string]any{
		{"user_id": float64(1), "amount": float64(10)},
		{"user_id": float64(9), "amount": float64(5)},
	})
	rows := run(t, "SELECT users.name, orders.amount FROM users RIGHT JOIN orders ON users.id = orders.user_id",
		map[string]datasource.Table{"users": users, "orders": orders})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(rows), rows)
	}
	found := false
	for _, r := range rows {
		amount, _ := r.Get("amount")
		name, _ := r.Get("name")
		if amount == float64(5) {
			if name != nil {
				t.Errorf("unmatched order's name should be NULL, got %v", name)
			}
			found = true
		}
	}
	if !found {
		t.Error("expected the unmatched order row")
	}
}

func TestExecutorFullJoinPadsBothSides(t *testing.T) {
	a := table([]string{"id"}, []map[string]any{{"id": float64(1)}, {"id": float64(2)}})
	b := table([]string{"a_id"}, []map[string]any{{"a_id": float64(2)}, {"a_id": float64(3)}})
	rows := run(t, "SELECT a.id, b.a_id FROM a FULL JOIN b ON a.id = b.a_id",
		map[string]datasource.Table{"a": a, "b": b})
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 (one match, one left-only, one right-only): %+v", len(rows), rows)
	}
}

func TestExecutorPositionalJoinZipsAndTruncates(t *testing.T) {
	a := table([]string{"x"}, []map[string]any{{"x": float64(1)}, {"x": float64(2)}, {"x": float64(3)}})
	b := table([]string{"y"}, []map[string]any{{"y": float64(10)}, {"y": float64(20)}})
	rows := run(t, "SELECT x, y FROM a POSITIONAL JOIN b", map[string]datasource.Table{"a": a, "b": b})
	if len(rows) != 2 {
		t.Fatalf("positional join should truncate to shorter side, got %d rows", len(rows))
	}
	x0, _ := rows[0].Get("x")
	y0, _ := rows[0].Get("y")
	if x0 != float64(1) || y0 != float64(10) {
		t.Errorf("row 0 = (%v, %v), want (1, 10)", x0, y0)
	}
}

func TestExecutorNestedLoopJoinOnInequality(t *testing.T) {
	a := table([]string{"x"}, []map[string]any{{"x": float64(1)}, {"x": float64(5)}})
	b := table([]string{"y"}, []map[string]any{{"y": float64(2)}, {"y": float64(3)}})
	rows := run(t, "SELECT x, y FROM a JOIN b ON a.x < b.y", map[string]datasource.Table{"a": a, "b": b})
	// x=1 matches y=2 and y=3; x=5 matches nothing.
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(rows), rows)
	}
}

func TestExecutorDistinctPreservesFirstSeenOrder(t *testing.T) {
	people := table([]string{"city"}, []map[string]any{
		{"city": "NYC"}, {"city": "LA"}, {"city": "NYC"}, {"city": "SF"},
	})
	rows := run(t, "SELECT DISTINCT city FROM people", map[string]datasource.Table{"people": people})
	want := []string{"NYC", "LA", "SF"}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %+v", len(rows), len(want), rows)
	}
	for i, w := range want {
		v, _ := rows[i].Get("city")
		if v != w {
			t.Errorf("row %d = %v, want %v", i, v, w)
		}
	}
}

func TestExecutorSortNullsDefaultPolicy(t *testing.T) {
	items := table([]string{"v"}, []map[string]any{
		{"v": float64(2)}, {"v": nil}, {"v": float64(1)},
	})
	asc := run(t, "SELECT v FROM items ORDER BY v ASC", map[string]datasource.Table{"items": items})
	// default NULLS LAST for ASC
	if v, _ := asc[len(asc)-1].Get("v"); v != nil {
		t.Errorf("ASC should sort NULL last, got %v at the end", v)
	}

	desc := run(t, "SELECT v FROM items ORDER BY v DESC", map[string]datasource.Table{"items": items})
	// default NULLS FIRST for DESC
	if v, _ := desc[0].Get("v"); v != nil {
		t.Errorf("DESC should sort NULL first, got %v at the start", v)
	}
}

func TestExecutorLimitOffset(t *testing.T) {
	items := table([]string{"v"}, []map[string]any{
		{"v": float64(1)}, {"v": float64(2)}, {"v": float64(3)}, {"v": float64(4)},
	})
	rows := run(t, "SELECT v FROM items ORDER BY v LIMIT 2 OFFSET 1", map[string]datasource.Table{"items": items})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if v, _ := rows[0].Get("v"); v != float64(2) {
		t.Errorf("first row = %v, want 2", v)
	}
}

func TestExecutorCTEReferencedTwiceMaterializesOnce(t *testing.T) {
	users := table([]string{"id", "age"}, []map[string]any{
		{"id": float64(1), "age": float64(30)},
		{"id": float64(2), "age": float64(20)},
	})
	rows := run(t, `WITH adults AS (SELECT id FROM users WHERE age >= 21)
		SELECT a.id AS left_id, b.id AS right_id FROM adults a JOIN adults b ON a.id = b.id`,
		map[string]datasource.Table{"users": users})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (only id=1 is an adult): %+v", len(rows), rows)
	}
}

func TestExecutorExistsSubquery(t *testing.T) {
	users := table([]string{"id"}, []map[string]any{{"id": float64(1)}, {"id": float64(2)}})
	orders := table([]string{"user_id"}, []map[string]any{{"user_id": float64(1)}})
	rows := run(t, "SELECT id FROM users u WHERE EXISTS (SELECT 1 FROM orders o WHERE o.user_id = u.id)",
		map[string]datasource.Table{"users": users, "orders": orders})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if v, _ := rows[0].Get("id"); v != float64(1) {
		t.Errorf("matched id = %v, want 1", v)
	}
}

func TestExecutorQualifiedStarExpandsOnlyThatSide(t *testing.T) {
	users := table([]string{"id", "name"}, []map[string]any{
		{"id": float64(1), "name": "Alice"},
	})
	orders := table([]string{"user_id", "amount"}, []map[string]any{
		{"user_id": float64(1), "amount": float64(10)},
	})
	rows := run(t, "SELECT users.* FROM users JOIN orders ON users.id = orders.user_id",
		map[string]datasource.Table{"users": users, "orders": orders})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if len(rows[0].Cols) != 2 {
		t.Fatalf("users.* should expand to users' columns only, got %v", rows[0].Cols)
	}
	if _, ok := rows[0].Get("amount"); ok {
		t.Error("users.* must not include the joined side's columns")
	}
}

func TestExecutorQualifiedIdentifiersResolvePerSide(t *testing.T) {
	t1 := table([]string{"id", "v"}, []map[string]any{{"id": float64(1), "v": float64(10)}})
	t2 := table([]string{"id", "v"}, []map[string]any{{"id": float64(1), "v": float64(20)}})
	rows := run(t, "SELECT t1.v AS lv, t2.v AS rv FROM t1 JOIN t2 ON t1.id = t2.id",
		map[string]datasource.Table{"t1": t1, "t2": t2})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	lv, _ := rows[0].Get("lv")
	rv, _ := rows[0].Get("rv")
	if lv != float64(10) || rv != float64(20) {
		t.Errorf("(lv, rv) = (%v, %v), want (10, 20)", lv, rv)
	}
}

func TestExecutorWhereFiltersBeforePushedLimit(t *testing.T) {
	// Both WHERE and LIMIT are pushed into the same scan's hints here; a
	// source that cannot evaluate the predicate must defer limit/offset too,
	// or the executor would filter rows the source already truncated.
	items := table([]string{"v"}, []map[string]any{
		{"v": float64(1)}, {"v": float64(2)}, {"v": float64(3)}, {"v": float64(4)},
	})
	rows := run(t, "SELECT v FROM items WHERE v > 2 LIMIT 1", map[string]datasource.Table{"items": items})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1: %+v", len(rows), rows)
	}
	if v, _ := rows[0].Get("v"); v != float64(3) {
		t.Errorf("first matching row = %v, want 3", v)
	}
}

func TestExecutorScanHintsNotAppliedFallsBackToFilter(t *testing.T) {
	// memsource never applies WHERE (AppliedWhere is always false), so the
	// executor must wrap the scan in an implicit Filter using the same
	// predicate (spec §4.7 "Scan").
	items := table([]string{"v"}, []map[string]any{{"v": float64(1)}, {"v": float64(2)}})
	rows := run(t, "SELECT v FROM items WHERE v > 1", map[string]datasource.Table{"items": items})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
}
