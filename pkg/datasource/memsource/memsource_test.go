package memsource

import (
	"context"
	"testing"

	"flowsql/pkg/datasource"
	"flowsql/pkg/sql/parser"
)

func TestScanColumnPruning(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{
		{"id": float64(1), "name": "Alice", "age": float64(30)},
	}, []string{"id", "name", "age"})

	res, err := tbl.Scan(context.Background(), datasource.ScanHints{Columns: []string{"name"}})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.AppliedColumns {
		t.Error("expected AppliedColumns true when hints.Columns is set")
	}
	if !res.Rows.Next(context.Background()) {
		t.Fatal("expected one row")
	}
	row := res.Rows.Row()
	if v, _ := row.GetCell("name"); v != "Alice" {
		t.Errorf("name = %v, want Alice", v)
	}
	if _, ok := row.GetCell("age"); ok {
		t.Error("age should have been pruned")
	}
}

func TestScanNoColumnsMeansNoPruning(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{{"id": float64(1)}}, []string{"id"})
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.AppliedColumns {
		t.Error("expected AppliedColumns false without column hints")
	}
}

func TestScanLimitOffset(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{
		{"v": float64(1)}, {"v": float64(2)}, {"v": float64(3)}, {"v": float64(4)},
	}, []string{"v"})

	limit := int64(2)
	offset := int64(1)
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{Limit: &limit, Offset: &offset})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.AppliedLimitOffset {
		t.Error("expected AppliedLimitOffset true")
	}
	var got []any
	for res.Rows.Next(context.Background()) {
		v, _ := res.Rows.Row().GetCell("v")
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != float64(2) || got[1] != float64(3) {
		t.Errorf("got %v, want [2 3]", got)
	}
}

func TestScanOffsetBeyondLengthYieldsEmpty(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{{"v": float64(1)}}, []string{"v"})
	offset := int64(100)
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{Offset: &offset})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Rows.Next(context.Background()) {
		t.Error("expected no rows when offset exceeds row count")
	}
}

func TestScanDefersLimitOffsetWhenWherePending(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{
		{"v": float64(1)}, {"v": float64(2)}, {"v": float64(3)},
	}, []string{"v"})

	stmt, err := parser.Parse("SELECT v FROM t WHERE v > 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	limit := int64(1)
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{Where: stmt.Where, Limit: &limit})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.AppliedLimitOffset {
		t.Error("limit must not be applied while the WHERE hint goes unapplied")
	}
	count := 0
	for res.Rows.Next(context.Background()) {
		count++
	}
	if count != 3 {
		t.Errorf("expected all rows back for the executor to filter, got %d", count)
	}
}

func TestScanNeverAppliesWhere(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{{"v": float64(1)}}, []string{"v"})
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.AppliedWhere {
		t.Error("memsource should never claim to have applied WHERE")
	}
}

func TestCursorStopsOnCancelledContext(t *testing.T) {
	tbl := NewFromMaps([]map[string]any{{"v": float64(1)}, {"v": float64(2)}}, []string{"v"})
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res.Rows.Next(ctx) {
		t.Error("cursor should stop advancing once the context is cancelled")
	}
}
