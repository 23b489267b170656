package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flowsql/pkg/datasource"
	"flowsql/pkg/datasource/memsource"
)

func TestShellIsCompleteRequiresUnquotedSemicolon(t *testing.T) {
	s := NewShell(nil, nil, nil)
	if s.IsComplete("SELECT 1") {
		t.Error("statement without a semicolon should be incomplete")
	}
	if !s.IsComplete("SELECT 1;") {
		t.Error("statement with a trailing semicolon should be complete")
	}
	if s.IsComplete("SELECT ';' FROM t") {
		t.Error("a semicolon inside a string literal must not count")
	}
	if !s.IsComplete("SELECT ';' FROM t;") {
		t.Error("a real trailing semicolon after a quoted one should still complete")
	}
}

func TestShellReadStatementAssemblesMultipleLines(t *testing.T) {
	input := strings.NewReader("SELECT 1\nFROM t;\n")
	var out bytes.Buffer
	s := NewShell(input, &out, nil)
	stmt, eof := s.ReadStatement()
	if eof {
		t.Error("did not expect EOF before a terminated statement was read")
	}
	if !strings.Contains(stmt, "FROM t") {
		t.Errorf("expected the assembled statement to contain both lines, got %q", stmt)
	}
}

func TestShellHistorySkipsConsecutiveDuplicates(t *testing.T) {
	s := NewShell(nil, nil, nil)
	s.AddHistory("SELECT 1;")
	s.AddHistory("SELECT 1;")
	s.AddHistory("SELECT 2;")
	if len(s.History()) != 2 {
		t.Errorf("expected duplicate consecutive entries to be skipped, got %v", s.History())
	}
}

func TestLoadTableCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people.csv")
	if err := os.WriteFile(path, []byte("name,age\nAlice,30\nBob,\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var got []string
	for res.Rows.Next(context.Background()) {
		v, _ := res.Rows.Row().GetCell("name")
		got = append(got, v.(string))
	}
	if len(got) != 2 || got[0] != "Alice" || got[1] != "Bob" {
		t.Errorf("got %v", got)
	}
}

func TestLoadTableJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people.json")
	if err := os.WriteFile(path, []byte(`[{"name":"Alice","age":30},{"name":"Bob","age":25}]`), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	res, err := tbl.Scan(context.Background(), datasource.ScanHints{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	count := 0
	for res.Rows.Next(context.Background()) {
		count++
	}
	if count != 2 {
		t.Errorf("got %d rows, want 2", count)
	}
}

func TestLoadTableRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadTable(path); err == nil {
		t.Error("expected an error for an unrecognized file extension")
	}
}

func TestREPLExecutesStatementAndPrintsTable(t *testing.T) {
	tables := map[string]datasource.Table{
		"t": memsource.NewFromMaps([]map[string]any{{"v": float64(1)}}, []string{"v"}),
	}
	var out, errOut bytes.Buffer
	r := NewREPLWithInput(tables, strings.NewReader(""), &out, &errOut)
	if err := r.ExecuteStatement("SELECT v FROM t"); err != nil {
		t.Fatalf("ExecuteStatement: %v", err)
	}
	if !strings.Contains(out.String(), "1 row(s)") {
		t.Errorf("expected row count in output, got %q", out.String())
	}
}

func TestREPLDotTablesLists(t *testing.T) {
	tables := map[string]datasource.Table{
		"a": memsource.NewFromMaps(nil, nil),
		"b": memsource.NewFromMaps(nil, nil),
	}
	var out, errOut bytes.Buffer
	r := NewREPLWithInput(tables, strings.NewReader(""), &out, &errOut)
	r.handleDotCommand(".tables")
	s := out.String()
	if !strings.Contains(s, "a") || !strings.Contains(s, "b") {
		t.Errorf("expected both table names listed, got %q", s)
	}
}
