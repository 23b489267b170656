package parser

import "testing"

func mustParse(t *testing.T, q string) *SelectStatement {
	t.Helper()
	stmt, err := Parse(q)
	if err != nil {
		t.Fatalf("Parse(%q): %v", q, err)
	}
	return stmt
}

func TestParseSimpleSelect(t *testing.T) {
	stmt := mustParse(t, "SELECT name FROM users WHERE age > 28 ORDER BY age")
	if len(stmt.Columns) != 1 || stmt.Columns[0].Kind != ColDerived {
		t.Fatalf("columns: %+v", stmt.Columns)
	}
	id, ok := stmt.Columns[0].Expr.(*Identifier)
	if !ok || id.Name != "name" {
		t.Fatalf("select column: %+v", stmt.Columns[0].Expr)
	}
	ts, ok := stmt.From.(*TableSource)
	if !ok || ts.Table != "users" {
		t.Fatalf("from: %+v", stmt.From)
	}
	bin, ok := stmt.Where.(*Binary)
	if !ok || bin.Op != OpGt {
		t.Fatalf("where: %+v", stmt.Where)
	}
	if len(stmt.OrderBy) != 1 {
		t.Fatalf("order by: %+v", stmt.OrderBy)
	}
}

func TestParseBetweenRewrite(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 FROM t WHERE x BETWEEN a AND b")
	bin, ok := stmt.Where.(*Binary)
	if !ok || bin.Op != OpAnd {
		t.Fatalf("expected AND conjunction, got %+v", stmt.Where)
	}
	left, ok := bin.Left.(*Binary)
	if !ok || left.Op != OpGte {
		t.Fatalf("left half should be >=, got %+v", bin.Left)
	}
	right, ok := bin.Right.(*Binary)
	if !ok || right.Op != OpLte {
		t.Fatalf("right half should be <=, got %+v", bin.Right)
	}
}

func TestParseNotBetweenRewriteAndPosition(t *testing.T) {
	q := "SELECT 1 FROM t WHERE x NOT BETWEEN a AND b"
	stmt := mustParse(t, q)
	bin, ok := stmt.Where.(*Binary)
	if !ok || bin.Op != OpOr {
		t.Fatalf("expected OR disjunction, got %+v", stmt.Where)
	}
	left, ok := bin.Left.(*Binary)
	if !ok || left.Op != OpLt {
		t.Fatalf("left half should be <, got %+v", bin.Left)
	}
	right, ok := bin.Right.(*Binary)
	if !ok || right.Op != OpGt {
		t.Fatalf("right half should be >, got %+v", bin.Right)
	}
	// spec §9: the outer node's positionStart is the BETWEEN keyword's
	// start, not x's start.
	betweenStart := len("SELECT 1 FROM t WHERE x NOT ")
	if bin.Pos.Start != betweenStart {
		t.Errorf("outer position start = %d, want %d (BETWEEN keyword)", bin.Pos.Start, betweenStart)
	}
}

func TestParseIsNullIsNotNull(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 FROM t WHERE x IS NULL")
	u, ok := stmt.Where.(*Unary)
	if !ok || u.Op != OpIsNull {
		t.Fatalf("IS NULL: %+v", stmt.Where)
	}

	stmt = mustParse(t, "SELECT 1 FROM t WHERE x IS NOT NULL")
	u, ok = stmt.Where.(*Unary)
	if !ok || u.Op != OpIsNotNull {
		t.Fatalf("IS NOT NULL: %+v", stmt.Where)
	}
}

func TestParseNotExistsIsDistinctNode(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 FROM t WHERE NOT EXISTS (SELECT 1 FROM u)")
	ex, ok := stmt.Where.(*Exists)
	if !ok {
		t.Fatalf("expected *Exists node, got %T", stmt.Where)
	}
	if !ex.Not {
		t.Error("expected Not=true")
	}
}

func TestParseInValueList(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 FROM t WHERE x IN (1, 2, 3)")
	in, ok := stmt.Where.(*InList)
	if !ok {
		t.Fatalf("expected *InList, got %T", stmt.Where)
	}
	if len(in.Values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(in.Values))
	}
}

func TestParseInSubquery(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 FROM t WHERE x IN (SELECT id FROM u)")
	if _, ok := stmt.Where.(*InSubquery); !ok {
		t.Fatalf("expected *InSubquery, got %T", stmt.Where)
	}
}

func TestParseQualifiedIdentifierDotChaining(t *testing.T) {
	stmt := mustParse(t, "SELECT users.id FROM users")
	id, ok := stmt.Columns[0].Expr.(*Identifier)
	if !ok || id.Name != "users.id" {
		t.Fatalf("qualified identifier: %+v", stmt.Columns[0].Expr)
	}
}

func TestParseJoinsIncludingPositional(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM a JOIN b ON a.id = b.id LEFT JOIN c ON a.id = c.id POSITIONAL JOIN d")
	if len(stmt.Joins) != 3 {
		t.Fatalf("expected 3 joins, got %d", len(stmt.Joins))
	}
	if stmt.Joins[0].JoinType != JoinInner {
		t.Errorf("join 0 type: %v", stmt.Joins[0].JoinType)
	}
	if stmt.Joins[1].JoinType != JoinLeft {
		t.Errorf("join 1 type: %v", stmt.Joins[1].JoinType)
	}
	if stmt.Joins[2].JoinType != JoinPositional || stmt.Joins[2].On != nil {
		t.Errorf("positional join: %+v", stmt.Joins[2])
	}
}

func TestParseGroupByHavingOrderBy(t *testing.T) {
	stmt := mustParse(t, "SELECT city, COUNT(*) AS n FROM users GROUP BY city HAVING COUNT(*) > 1 ORDER BY n DESC NULLS FIRST")
	if len(stmt.GroupBy) != 1 {
		t.Fatalf("group by: %+v", stmt.GroupBy)
	}
	if stmt.Having == nil {
		t.Fatal("expected HAVING clause")
	}
	if len(stmt.OrderBy) != 1 || !stmt.OrderBy[0].Desc || stmt.OrderBy[0].Nulls != NullsFirst {
		t.Fatalf("order by: %+v", stmt.OrderBy)
	}
}

func TestParseLimitOffsetEitherOrder(t *testing.T) {
	stmt := mustParse(t, "SELECT 1 FROM t LIMIT 10 OFFSET 5")
	if stmt.Limit == nil || stmt.Offset == nil {
		t.Fatalf("limit/offset: %+v / %+v", stmt.Limit, stmt.Offset)
	}

	stmt = mustParse(t, "SELECT 1 FROM t OFFSET 5")
	if stmt.Limit != nil || stmt.Offset == nil {
		t.Fatalf("bare offset: %+v / %+v", stmt.Limit, stmt.Offset)
	}
}

func TestParseCTEDuplicateNameFails(t *testing.T) {
	_, err := Parse("WITH a AS (SELECT 1 FROM t), A AS (SELECT 2 FROM t) SELECT * FROM a")
	if err == nil {
		t.Fatal("expected ParseError for case-insensitive duplicate CTE name")
	}
}

func TestParseCaseExpression(t *testing.T) {
	stmt := mustParse(t, "SELECT CASE WHEN x > 0 THEN 'pos' ELSE 'neg' END FROM t")
	c, ok := stmt.Columns[0].Expr.(*Case)
	if !ok || len(c.WhenList) != 1 || c.ElseValue == nil {
		t.Fatalf("case expression: %+v", stmt.Columns[0].Expr)
	}
}

func TestParseCastExpression(t *testing.T) {
	stmt := mustParse(t, "SELECT CAST(x AS INTEGER) FROM t")
	c, ok := stmt.Columns[0].Expr.(*Cast)
	if !ok || c.ToType != "INTEGER" {
		t.Fatalf("cast expression: %+v", stmt.Columns[0].Expr)
	}
}

func TestParseIntervalExpression(t *testing.T) {
	stmt := mustParse(t, "SELECT d + INTERVAL 1 DAY FROM t")
	bin, ok := stmt.Columns[0].Expr.(*Binary)
	if !ok || bin.Op != OpPlus {
		t.Fatalf("interval arithmetic: %+v", stmt.Columns[0].Expr)
	}
	iv, ok := bin.Right.(*Interval)
	if !ok || iv.Unit != UnitDay || iv.Value != 1 {
		t.Fatalf("interval literal: %+v", bin.Right)
	}
}

func TestParseIntervalPluralUnit(t *testing.T) {
	stmt := mustParse(t, "SELECT d + INTERVAL 2 DAYS FROM t")
	bin := stmt.Columns[0].Expr.(*Binary)
	iv, ok := bin.Right.(*Interval)
	if !ok || iv.Unit != UnitDay || iv.Value != 2 {
		t.Fatalf("plural interval unit: %+v", bin.Right)
	}
}

func TestParseEmptyQueryFails(t *testing.T) {
	_, err := Parse("")
	if err == nil {
		t.Fatal("expected ParseError for empty query")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Message == "" {
		t.Error("expected non-empty error message")
	}
}

func TestParseTrailingSemicolonTolerated(t *testing.T) {
	if _, err := Parse("SELECT 1 FROM t;"); err != nil {
		t.Fatalf("trailing semicolon should be tolerated: %v", err)
	}
}

func TestParseTrailingGarbageAfterSemicolonFails(t *testing.T) {
	if _, err := Parse("SELECT 1 FROM t; SELECT 2 FROM t"); err == nil {
		t.Fatal("expected ParseError for trailing tokens after semicolon")
	}
}

func TestParseSubqueryInFromRequiresAlias(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM (SELECT 1 AS x FROM t) AS sub")
	sq, ok := stmt.From.(*SubquerySource)
	if !ok || sq.Alias != "sub" {
		t.Fatalf("subquery from: %+v", stmt.From)
	}
	if _, err := Parse("SELECT * FROM (SELECT 1 AS x FROM t)"); err == nil {
		t.Fatal("expected a FROM subquery without an alias to fail")
	}
}

func TestParseStarAndQualifiedStar(t *testing.T) {
	stmt := mustParse(t, "SELECT *, u.* FROM users u")
	if stmt.Columns[0].Kind != ColStar || stmt.Columns[0].Table != "" {
		t.Fatalf("bare star: %+v", stmt.Columns[0])
	}
	if stmt.Columns[1].Kind != ColStar || stmt.Columns[1].Table != "u" {
		t.Fatalf("qualified star: %+v", stmt.Columns[1])
	}
}
