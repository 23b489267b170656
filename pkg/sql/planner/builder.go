package planner

import (
	"fmt"
	"math/big"
	"strings"

	"flowsql/pkg/sql/parser"
	"flowsql/pkg/sql/validator"
)

// Build transforms a validated statement into a logical plan, bottom-up,
// in a single pass: pushdowns happen as each node is constructed rather
// than as a separate rewrite pass over a finished tree (spec §4.5).
func Build(stmt *parser.SelectStatement) (Node, error) {
	return buildStatement(stmt, map[string]*parser.SelectStatement{})
}

func buildStatement(stmt *parser.SelectStatement, ctes map[string]*parser.SelectStatement) (Node, error) {
	local := ctes
	if stmt.With != nil {
		local = make(map[string]*parser.SelectStatement, len(ctes)+len(stmt.With.CTEs))
		for k, v := range ctes {
			local[k] = v
		}
		for _, c := range stmt.With.CTEs {
			local[strings.ToUpper(c.Name)] = c.Query
		}
	}

	core, err := buildFromSource(stmt.From, local)
	if err != nil {
		return nil, err
	}

	for _, j := range stmt.Joins {
		rightSrc := &parser.TableSource{Table: j.Table, Alias: j.Alias}
		right, err := buildFromSource(rightSrc, local)
		if err != nil {
			return nil, err
		}
		core = buildJoin(j, core, right)
	}

	if stmt.Where != nil {
		if scan, ok := core.(*Scan); ok {
			scan.Hints.Where = stmt.Where
		} else {
			core = &Filter{Condition: stmt.Where, Child: core}
		}
	}

	hasAgg := len(stmt.GroupBy) > 0
	if !hasAgg {
		for _, col := range stmt.Columns {
			if col.Expr != nil && validator.ContainsAggregate(col.Expr) {
				hasAgg = true
				break
			}
		}
	}
	if !hasAgg && stmt.Having != nil && validator.ContainsAggregate(stmt.Having) {
		hasAgg = true
	}

	if hasAgg {
		if len(stmt.GroupBy) > 0 {
			core = &HashAggregate{GroupBy: stmt.GroupBy, Columns: stmt.Columns, Having: stmt.Having, Child: core}
		} else {
			core = &ScalarAggregate{Columns: stmt.Columns, Having: stmt.Having, Child: core}
		}
	} else if scan, ok := core.(*Scan); ok && !isSelectStar(stmt.Columns) {
		scan.Hints.Columns = accessedColumns(stmt)
	}

	aliasMap := map[string]parser.Expression{}
	for _, col := range stmt.Columns {
		if col.Alias != "" && col.Expr != nil {
			aliasMap[col.Alias] = col.Expr
		}
	}
	aliasReferenced := false
	for _, o := range stmt.OrderBy {
		if id, ok := o.Expr.(*parser.Identifier); ok {
			if _, exists := aliasMap[id.Name]; exists {
				aliasReferenced = true
				break
			}
		}
	}

	// HashAggregate/ScalarAggregate already emit the finalized SELECT
	// columns; the Project above them must only re-label by name, never
	// re-evaluate the aggregate-bearing expressions against the reduced row.
	projCols := stmt.Columns
	if hasAgg {
		projCols = aggregateOutputColumns(stmt.Columns)
	}

	var top Node
	switch {
	case len(stmt.OrderBy) > 0 && aliasReferenced:
		// Sort needs the projected (aliased) row, so it must run above
		// Project; the Scan keeps the column hint set above.
		proj := Node(&Project{Columns: projCols, Child: core})
		if stmt.Distinct {
			proj = &Distinct{Child: proj}
		}
		top = &Sort{OrderBy: stmt.OrderBy, Aliases: aliasMap, Child: proj}

	case len(stmt.OrderBy) > 0:
		sorted := &Sort{OrderBy: stmt.OrderBy, Aliases: aliasMap, Child: core}
		proj := Node(&Project{Columns: projCols, Child: sorted})
		if stmt.Distinct {
			proj = &Distinct{Child: proj}
		}
		top = proj

	default:
		proj := Node(&Project{Columns: projCols, Child: core})
		if stmt.Distinct {
			proj = &Distinct{Child: proj}
		}
		top = proj
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		if scan, ok := core.(*Scan); ok && len(stmt.OrderBy) == 0 && !stmt.Distinct && !hasAgg {
			scan.Hints.Limit = literalInt64(stmt.Limit)
			scan.Hints.Offset = literalInt64(stmt.Offset)
		} else {
			top = &Limit{Limit: literalInt64(stmt.Limit), Offset: literalInt64(stmt.Offset), Child: top}
		}
	}

	return top, nil
}

func buildFromSource(from parser.FromSource, ctes map[string]*parser.SelectStatement) (Node, error) {
	switch t := from.(type) {
	case *parser.TableSource:
		if cteStmt, ok := ctes[strings.ToUpper(t.Table)]; ok {
			inner, err := buildStatement(cteStmt, ctes)
			if err != nil {
				return nil, err
			}
			alias := t.Alias
			if alias == "" {
				alias = t.Table
			}
			return &SubqueryScan{Plan: inner, Alias: alias, CTEName: strings.ToUpper(t.Table)}, nil
		}
		alias := t.Alias
		if alias == "" {
			alias = t.Table
		}
		return &Scan{Table: t.Table, Alias: alias}, nil

	case *parser.SubquerySource:
		inner, err := buildStatement(t.Query, ctes)
		if err != nil {
			return nil, err
		}
		return &SubqueryScan{Plan: inner, Alias: t.Alias}, nil
	}
	return nil, nil
}

func buildJoin(j parser.JoinClause, left, right Node) Node {
	if j.JoinType == parser.JoinPositional {
		return &PositionalJoin{Left: left, Right: right}
	}
	leftAliases := planAliases(left)
	rightAliases := planAliases(right)
	if lk, rk, ok := equiJoinKeys(j.On, leftAliases, rightAliases); ok {
		return &HashJoin{JoinType: j.JoinType, LeftKey: lk, RightKey: rk, Left: left, Right: right}
	}
	return &NestedLoopJoin{JoinType: j.JoinType, Condition: j.On, Left: left, Right: right}
}

func planAliases(n Node) []string {
	switch t := n.(type) {
	case *Scan:
		return []string{t.Alias}
	case *SubqueryScan:
		return []string{t.Alias}
	case *Filter:
		return planAliases(t.Child)
	case *HashJoin:
		return append(planAliases(t.Left), planAliases(t.Right)...)
	case *NestedLoopJoin:
		return append(planAliases(t.Left), planAliases(t.Right)...)
	case *PositionalJoin:
		return append(planAliases(t.Left), planAliases(t.Right)...)
	default:
		return nil
	}
}

// equiJoinKeys detects `a.x = b.y` where a.x and b.y reference distinct
// known sides, assigning LeftKey/RightKey by side-of-reference rather than
// textual order (spec §4.5 step 3, §9 "hash-join key placement").
func equiJoinKeys(on parser.Expression, leftAliases, rightAliases []string) (leftKey, rightKey string, ok bool) {
	bin, isBin := on.(*parser.Binary)
	if !isBin || bin.Op != parser.OpEq {
		return "", "", false
	}
	li, lok := bin.Left.(*parser.Identifier)
	ri, rok := bin.Right.(*parser.Identifier)
	if !lok || !rok {
		return "", "", false
	}
	lq, lc := splitQualifier(li.Name)
	rq, rc := splitQualifier(ri.Name)
	if contains(leftAliases, lq) && contains(rightAliases, rq) {
		return lc, rc, true
	}
	if contains(rightAliases, lq) && contains(leftAliases, rq) {
		return rc, lc, true
	}
	return "", "", false
}

func splitQualifier(name string) (qualifier, col string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// aggregateOutputColumns rewrites a SELECT list into plain identifier
// references to the aggregate node's output column names, so the Project
// wrapped above a HashAggregate/ScalarAggregate relabels the already
// reduced row instead of re-evaluating COUNT/SUM/... calls that no longer
// exist below it.
func aggregateOutputColumns(cols []parser.SelectColumn) []parser.SelectColumn {
	out := make([]parser.SelectColumn, len(cols))
	for i, c := range cols {
		if c.Kind == parser.ColStar {
			out[i] = c
			continue
		}
		name := aggregateOutputName(c, i)
		out[i] = parser.SelectColumn{
			Kind:  parser.ColDerived,
			Expr:  &parser.Identifier{Name: name},
			Alias: name,
		}
	}
	return out
}

// aggregateOutputName mirrors the executor's output-column naming for one
// SELECT item: the alias when present, the bare column name for an
// identifier, the function name for a call, else a positional placeholder.
func aggregateOutputName(col parser.SelectColumn, idx int) string {
	if col.Alias != "" {
		return col.Alias
	}
	if col.Kind == parser.ColAggregate {
		return col.Func
	}
	switch e := col.Expr.(type) {
	case *parser.Identifier:
		_, name := splitQualifier(e.Name)
		return name
	case *parser.FuncCall:
		return e.Name
	default:
		return fmt.Sprintf("column%d", idx+1)
	}
}

func isSelectStar(cols []parser.SelectColumn) bool {
	for _, c := range cols {
		if c.Kind == parser.ColStar {
			return true
		}
	}
	return false
}

// accessedColumns computes the set of bare column names referenced
// anywhere in stmt (SELECT, WHERE, GROUP BY, HAVING, ORDER BY) — the
// projection/pruning set of spec §4.5 step 5.
func accessedColumns(stmt *parser.SelectStatement) []string {
	set := map[string]bool{}
	add := func(e parser.Expression) { collectIdentifiers(e, set) }
	for _, col := range stmt.Columns {
		add(col.Expr)
	}
	add(stmt.Where)
	for _, g := range stmt.GroupBy {
		add(g)
	}
	add(stmt.Having)
	for _, o := range stmt.OrderBy {
		add(o.Expr)
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func collectIdentifiers(e parser.Expression, set map[string]bool) {
	switch n := e.(type) {
	case nil:
	case *parser.Identifier:
		_, col := splitQualifier(n.Name)
		set[col] = true
	case *parser.Unary:
		collectIdentifiers(n.Arg, set)
	case *parser.Binary:
		collectIdentifiers(n.Left, set)
		collectIdentifiers(n.Right, set)
	case *parser.FuncCall:
		for _, a := range n.Args {
			collectIdentifiers(a, set)
		}
	case *parser.Cast:
		collectIdentifiers(n.Expr, set)
	case *parser.Case:
		collectIdentifiers(n.CaseExpr, set)
		for _, w := range n.WhenList {
			collectIdentifiers(w.Condition, set)
			collectIdentifiers(w.Result, set)
		}
		collectIdentifiers(n.ElseValue, set)
	case *parser.InList:
		collectIdentifiers(n.Expr, set)
	case *parser.InSubquery:
		collectIdentifiers(n.Expr, set)
	}
}

func literalInt64(e parser.Expression) *int64 {
	lit, ok := e.(*parser.Literal)
	if !ok {
		return nil
	}
	switch v := lit.Value.(type) {
	case float64:
		n := int64(v)
		return &n
	case *big.Int:
		n := v.Int64()
		return &n
	}
	return nil
}
