package flowsql_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"flowsql"
	"flowsql/pkg/datasource"
	"flowsql/pkg/datasource/memsource"
	"flowsql/pkg/types"
)

func usersTable() *memsource.Table {
	cols := []string{"id", "name", "age"}
	rows := []map[string]any{
		{"id": float64(1), "name": "Alice", "age": float64(30)},
		{"id": float64(2), "name": "Bob", "age": float64(25)},
		{"id": float64(3), "name": "Charlie", "age": float64(35)},
	}
	return memsource.NewFromMaps(rows, cols)
}

func runQuery(t *testing.T, query string, tables map[string]flowsql.Table) []flowsql.Row {
	t.Helper()
	require := require.New(t)
	engine := flowsql.NewEngine(flowsql.Options{})
	cur, err := engine.ExecuteSQL(context.Background(), flowsql.Request{Query: query, Tables: tables})
	require.NoError(err, "ExecuteSQL(%q)", query)
	rows, err := flowsql.Collect(context.Background(), cur)
	require.NoError(err, "Collect(%q)", query)
	return rows
}

// Scenario 1, spec §8: SELECT name FROM users WHERE age > 28 ORDER BY age
func TestScenarioFilterAndSort(t *testing.T) {
	require := require.New(t)
	rows := runQuery(t, "SELECT name FROM users WHERE age > 28 ORDER BY age", map[string]flowsql.Table{
		"users": usersTable(),
	})
	require.Len(rows, 2)
	name0, _ := rows[0].Get("name")
	name1, _ := rows[1].Get("name")
	require.Equal("Alice", name0)
	require.Equal("Charlie", name1)
}

// Scenario 2, spec §8: SELECT COUNT(*) AS c FROM users
func TestScenarioCountStar(t *testing.T) {
	require := require.New(t)
	rows := runQuery(t, "SELECT COUNT(*) AS c FROM users", map[string]flowsql.Table{
		"users": usersTable(),
	})
	require.Len(rows, 1)
	c, _ := rows[0].Get("c")
	require.Equal(float64(3), c)
}

// Scenario 3, spec §8: GROUP BY city HAVING COUNT(*) > 1
func TestScenarioGroupByHaving(t *testing.T) {
	rows := []map[string]any{
		{"city": "NYC"}, {"city": "NYC"}, {"city": "LA"},
	}
	table := memsource.NewFromMaps(rows, []string{"city"})
	got := runQuery(t, "SELECT city, COUNT(*) AS n FROM people GROUP BY city HAVING COUNT(*) > 1", map[string]flowsql.Table{
		"people": table,
	})
	if len(got) != 1 {
		t.Fatalf("got %d groups, want 1 (only NYC has >=2 members): %+v", len(got), got)
	}
	if v, _ := got[0].Get("city"); v != "NYC" {
		t.Errorf("surviving group city = %v, want NYC", v)
	}
	if v, _ := got[0].Get("n"); v != float64(2) {
		t.Errorf("surviving group count = %v, want 2", v)
	}
}

// Scenario 4, spec §8: INNER JOIN with one unmatched right-side row.
func TestScenarioInnerJoin(t *testing.T) {
	users := memsource.NewFromMaps([]map[string]any{
		{"id": float64(1), "name": "Alice"},
	}, []string{"id", "name"})
	orders := memsource.NewFromMaps([]map[string]any{
		{"user_id": float64(1), "amount": float64(10)},
		{"user_id": float64(1), "amount": float64(20)},
		{"user_id": float64(9), "amount": float64(5)},
	}, []string{"user_id", "amount"})

	rows := runQuery(t, "SELECT * FROM users JOIN orders ON users.id = orders.user_id", map[string]flowsql.Table{
		"users": users, "orders": orders,
	})
	if len(rows) != 2 {
		t.Fatalf("got %d joined rows, want 2: %+v", len(rows), rows)
	}
	for _, row := range rows {
		if v, _ := row.Get("name"); v != "Alice" {
			t.Errorf("joined row name = %v, want Alice", v)
		}
	}
}

// Scenario 5, spec §8: ARRAY_SORT over an array with nulls, idempotent
// and non-mutating.
func TestScenarioArraySort(t *testing.T) {
	original := []any{float64(3), nil, float64(1), nil, float64(2)}
	table := memsource.New([]flowsql.Row{
		{Cols: []string{"items"}, Vals: []any{original}},
	}, datasource.Statistics{})

	rows := runQuery(t, "SELECT ARRAY_SORT(items) AS s FROM t", map[string]flowsql.Table{"t": table})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	s, _ := rows[0].Get("s")
	sorted, ok := s.([]any)
	if !ok {
		t.Fatalf("expected array result, got %T", s)
	}
	want := []any{float64(1), float64(2), float64(3), nil, nil}
	for i := range want {
		if sorted[i] != want[i] {
			t.Errorf("sorted[%d] = %v, want %v", i, sorted[i], want[i])
		}
	}
	if original[0] != float64(3) {
		t.Error("ARRAY_SORT must not mutate its input")
	}
}

// Scenario 6, spec §8: CAST(info AS STRING) with a bigint field serialized
// unquoted and fields rendered in source order.
func TestScenarioCastObjectToStringWithBigint(t *testing.T) {
	info := types.Object{
		Keys: []string{"id", "name", "age"},
		Vals: []any{big.NewInt(1), "Alice", float64(30)},
	}
	table := memsource.New([]flowsql.Row{
		{Cols: []string{"info"}, Vals: []any{info}},
	}, datasource.Statistics{})

	rows := runQuery(t, "SELECT CAST(info AS STRING) AS s FROM t", map[string]flowsql.Table{"t": table})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	s, _ := rows[0].Get("s")
	if s != `{"id":1,"name":"Alice","age":30}` {
		t.Errorf("CAST result = %v", s)
	}
}

func TestParseSQLRejectsEmptyQuery(t *testing.T) {
	if _, err := flowsql.ParseSQL("", nil); err == nil {
		t.Fatal("expected ParseError for empty query")
	}
}

func TestParseSQLRejectsSelectStarWithoutFrom(t *testing.T) {
	if _, err := flowsql.ParseSQL("SELECT *", nil); err == nil {
		t.Fatal("expected ParseError for SELECT * with no FROM")
	}
}

func TestLimitZeroYieldsEmptyResult(t *testing.T) {
	rows := runQuery(t, "SELECT * FROM users LIMIT 0", map[string]flowsql.Table{"users": usersTable()})
	if len(rows) != 0 {
		t.Fatalf("LIMIT 0 should yield no rows, got %d", len(rows))
	}
}

func TestExecuteSQLCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := flowsql.NewEngine(flowsql.Options{})
	cur, err := engine.ExecuteSQL(ctx, flowsql.Request{Query: "SELECT * FROM users", Tables: map[string]flowsql.Table{"users": usersTable()}})
	if err != nil {
		// some operators fail fast at Open; that's an acceptable cancellation path too.
		if _, ok := err.(*flowsql.CancelledError); !ok {
			t.Fatalf("expected *CancelledError, got %T: %v", err, err)
		}
		return
	}
	if cur.Next(ctx) {
		t.Fatal("expected no rows to be produced after cancellation")
	}
}

func TestEstimateCostUndefinedWithoutStatistics(t *testing.T) {
	_, ok, err := flowsql.EstimateCost("SELECT * FROM users", map[string]flowsql.SourceStatistics{})
	if err != nil {
		t.Fatalf("EstimateCost: %v", err)
	}
	if ok {
		t.Error("expected UNDEFINED cost without statistics")
	}
}
