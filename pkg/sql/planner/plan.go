// Package planner turns a validated AST into a tree of relational
// operators, pushing WHERE/LIMIT/projection hints into scans and choosing
// join strategies (spec §3.4, §4.5).
package planner

import (
	"fmt"
	"strings"

	"flowsql/pkg/sql/parser"
)

// Node is the sum-type interface every plan node implements. Consumers
// type-switch over the concrete pointer types rather than subclassing.
type Node interface {
	planNode()
}

// ScanHints is the advisory pushdown request a Scan carries to its data
// source (spec §3.4, §6.3).
type ScanHints struct {
	Columns []string // nil means "all columns"
	Where   parser.Expression
	Limit   *int64
	Offset  *int64
	OrderBy []parser.OrderItem
}

// Scan reads rows from a named table.
type Scan struct {
	Table string
	Alias string
	Hints ScanHints
}

func (*Scan) planNode() {}

// SubqueryScan runs a nested plan (a FROM subquery or an inlined CTE body)
// and exposes its output under alias. CTEName is set when Plan is an
// inlined CTE body, naming the CTE so the executor can share one
// materialization across every reference within a single execution (spec
// §9's CTE-sharing open question); it is empty for an ordinary FROM
// subquery.
type SubqueryScan struct {
	Plan    Node
	Alias   string
	CTEName string
}

func (*SubqueryScan) planNode() {}

// Filter keeps only rows where Condition evaluates TRUE.
type Filter struct {
	Condition parser.Expression
	Child     Node
}

func (*Filter) planNode() {}

// Project evaluates Columns per input row and emits a row keyed by output
// column name.
type Project struct {
	Columns []parser.SelectColumn
	Child   Node
}

func (*Project) planNode() {}

// JoinType mirrors parser.JoinType for the plan's own join nodes.
type JoinType = parser.JoinType

// HashJoin is chosen when the ON condition is a single equality between
// identifiers each referencing exactly one side (spec §4.5 step 3).
// LeftKey/RightKey are assigned by side-of-reference, not textual order.
type HashJoin struct {
	JoinType JoinType
	LeftKey  string
	RightKey string
	Left     Node
	Right    Node
}

func (*HashJoin) planNode() {}

// NestedLoopJoin is the fallback for any join condition not reducible to a
// single equi-join on identifiers.
type NestedLoopJoin struct {
	JoinType  JoinType
	Condition parser.Expression
	Left      Node
	Right     Node
}

func (*NestedLoopJoin) planNode() {}

// PositionalJoin zips row i of Left with row i of Right; no ON condition.
type PositionalJoin struct {
	Left  Node
	Right Node
}

func (*PositionalJoin) planNode() {}

// HashAggregate groups by GroupBy expression values and reduces Columns
// (which may contain aggregate calls) per group.
type HashAggregate struct {
	GroupBy []parser.Expression
	Columns []parser.SelectColumn
	Having  parser.Expression
	Child   Node
}

func (*HashAggregate) planNode() {}

// ScalarAggregate is HashAggregate's single-group special case (no GROUP
// BY but an aggregate function appears in SELECT/HAVING).
type ScalarAggregate struct {
	Columns []parser.SelectColumn
	Having  parser.Expression
	Child   Node
}

func (*ScalarAggregate) planNode() {}

// Sort materializes and orders its input. Aliases maps a SELECT-list alias
// to its underlying expression, needed when an ORDER BY item references an
// alias that only exists after Project runs (spec §4.5 step 5).
type Sort struct {
	OrderBy []parser.OrderItem
	Aliases map[string]parser.Expression
	Child   Node
}

func (*Sort) planNode() {}

// Distinct emits each distinct output row once, first-seen order.
type Distinct struct {
	Child Node
}

func (*Distinct) planNode() {}

// Limit drops Offset rows then emits at most Limit rows.
type Limit struct {
	Limit  *int64
	Offset *int64
	Child  Node
}

func (*Limit) planNode() {}

// Explain renders the plan tree as indented operator names plus their
// distinguishing hints, for debugging (SPEC_FULL §6 supplemental feature;
// not a planning feature in its own right).
func Explain(n Node) string {
	var sb strings.Builder
	explain(&sb, n, 0)
	return sb.String()
}

func explain(sb *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch t := n.(type) {
	case *Scan:
		fmt.Fprintf(sb, "%sScan %s", indent, t.Table)
		if t.Alias != "" {
			fmt.Fprintf(sb, " AS %s", t.Alias)
		}
		if t.Hints.Where != nil {
			sb.WriteString(" [pushed where]")
		}
		if t.Hints.Limit != nil {
			fmt.Fprintf(sb, " [limit=%d]", *t.Hints.Limit)
		}
		if t.Hints.Columns != nil {
			fmt.Fprintf(sb, " [columns=%s]", strings.Join(t.Hints.Columns, ","))
		}
		sb.WriteByte('\n')
	case *SubqueryScan:
		if t.CTEName != "" {
			fmt.Fprintf(sb, "%sSubqueryScan AS %s [cte=%s]\n", indent, t.Alias, t.CTEName)
		} else {
			fmt.Fprintf(sb, "%sSubqueryScan AS %s\n", indent, t.Alias)
		}
		explain(sb, t.Plan, depth+1)
	case *Filter:
		fmt.Fprintf(sb, "%sFilter\n", indent)
		explain(sb, t.Child, depth+1)
	case *Project:
		fmt.Fprintf(sb, "%sProject (%d cols)\n", indent, len(t.Columns))
		explain(sb, t.Child, depth+1)
	case *HashJoin:
		fmt.Fprintf(sb, "%sHashJoin %s (%s = %s)\n", indent, t.JoinType, t.LeftKey, t.RightKey)
		explain(sb, t.Left, depth+1)
		explain(sb, t.Right, depth+1)
	case *NestedLoopJoin:
		fmt.Fprintf(sb, "%sNestedLoopJoin %s\n", indent, t.JoinType)
		explain(sb, t.Left, depth+1)
		explain(sb, t.Right, depth+1)
	case *PositionalJoin:
		fmt.Fprintf(sb, "%sPositionalJoin\n", indent)
		explain(sb, t.Left, depth+1)
		explain(sb, t.Right, depth+1)
	case *HashAggregate:
		fmt.Fprintf(sb, "%sHashAggregate (%d groupBy)\n", indent, len(t.GroupBy))
		explain(sb, t.Child, depth+1)
	case *ScalarAggregate:
		fmt.Fprintf(sb, "%sScalarAggregate\n", indent)
		explain(sb, t.Child, depth+1)
	case *Sort:
		fmt.Fprintf(sb, "%sSort (%d keys)\n", indent, len(t.OrderBy))
		explain(sb, t.Child, depth+1)
	case *Distinct:
		fmt.Fprintf(sb, "%sDistinct\n", indent)
		explain(sb, t.Child, depth+1)
	case *Limit:
		fmt.Fprintf(sb, "%sLimit\n", indent)
		explain(sb, t.Child, depth+1)
	default:
		fmt.Fprintf(sb, "%s?%T\n", indent, t)
	}
}
