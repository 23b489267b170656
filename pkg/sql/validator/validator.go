// Package validator resolves names and checks arities after parsing and
// before planning (spec §4.4).
package validator

import (
	"fmt"
	"strings"

	"flowsql/pkg/sql/parser"
)

// SemanticError is raised by Validate: unknown function, wrong arity,
// duplicate CTE. Column references are not checked, so an unknown column
// raises no SemanticError.
type SemanticError struct {
	Message       string
	PositionStart int
	PositionEnd   int
}

func (e *SemanticError) Error() string { return e.Message }

// aggregateFuncs is the built-in aggregate set.
var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
}

// scalarArity gives the fixed argument count for built-ins that have one;
// the variadic built-ins in variadicScalarFuncs instead accept one or more
// arguments.
var scalarArity = map[string]int{
	"UPPER": 1, "LOWER": 1, "LENGTH": 1, "TRIM": 1,
	"ARRAY_LENGTH": 1, "ARRAY_SORT": 1, "CARDINALITY": 1,
	"CURRENT_DATE": 0, "CURRENT_TIME": 0, "CURRENT_TIMESTAMP": 0,
	"ARRAY_POSITION": 2,
}

var variadicScalarFuncs = map[string]bool{
	"CONCAT": true, "SUBSTRING": true,
}

var dateArithFuncs = map[string]bool{
	"DATE_ADD": true, "DATE_SUB": true, "DATE_DIFF": true,
}

// FunctionSet is the set of names callable in this query beyond the
// built-ins: the caller's user-defined scalar functions.
type FunctionSet map[string]bool

// Context threads the caller-supplied function map through validation.
type Context struct {
	Functions FunctionSet
}

// Validate walks stmt (and every nested CTE/subquery) checking CTE
// uniqueness, function resolution and arity.
func Validate(stmt *parser.SelectStatement, ctx Context) error {
	if stmt.With != nil {
		seen := map[string]bool{}
		for _, cte := range stmt.With.CTEs {
			key := strings.ToUpper(cte.Name)
			if seen[key] {
				return &SemanticError{Message: fmt.Sprintf("Duplicate CTE name %q", cte.Name)}
			}
			seen[key] = true
			if err := Validate(cte.Query, ctx); err != nil {
				return err
			}
		}
	}

	if err := validateFrom(stmt.From, ctx); err != nil {
		return err
	}
	for _, j := range stmt.Joins {
		if j.On != nil {
			if err := validateExpr(j.On, ctx); err != nil {
				return err
			}
		}
	}
	for _, col := range stmt.Columns {
		if col.Expr != nil {
			if err := validateExpr(col.Expr, ctx); err != nil {
				return err
			}
		}
	}
	if stmt.Where != nil {
		if err := validateExpr(stmt.Where, ctx); err != nil {
			return err
		}
	}
	for _, g := range stmt.GroupBy {
		if err := validateExpr(g, ctx); err != nil {
			return err
		}
	}
	if stmt.Having != nil {
		if err := validateExpr(stmt.Having, ctx); err != nil {
			return err
		}
	}
	for _, o := range stmt.OrderBy {
		if err := validateExpr(o.Expr, ctx); err != nil {
			return err
		}
	}
	return nil
}

func validateFrom(from parser.FromSource, ctx Context) error {
	switch t := from.(type) {
	case *parser.SubquerySource:
		return Validate(t.Query, ctx)
	}
	return nil
}

func validateExpr(e parser.Expression, ctx Context) error {
	switch n := e.(type) {
	case nil:
		return nil
	case *parser.Literal, *parser.Identifier, *parser.Star:
		return nil
	case *parser.Unary:
		return validateExpr(n.Arg, ctx)
	case *parser.Binary:
		if err := validateExpr(n.Left, ctx); err != nil {
			return err
		}
		return validateExpr(n.Right, ctx)
	case *parser.Cast:
		return validateExpr(n.Expr, ctx)
	case *parser.Case:
		if err := validateExpr(n.CaseExpr, ctx); err != nil {
			return err
		}
		for _, w := range n.WhenList {
			if err := validateExpr(w.Condition, ctx); err != nil {
				return err
			}
			if err := validateExpr(w.Result, ctx); err != nil {
				return err
			}
		}
		return validateExpr(n.ElseValue, ctx)
	case *parser.Interval:
		return nil
	case *parser.InList:
		return validateExpr(n.Expr, ctx)
	case *parser.InSubquery:
		if err := validateExpr(n.Expr, ctx); err != nil {
			return err
		}
		return Validate(n.Subquery, ctx)
	case *parser.Exists:
		return Validate(n.Subquery, ctx)
	case *parser.FuncCall:
		return validateFuncCall(n, ctx)
	default:
		return nil
	}
}

func validateFuncCall(fc *parser.FuncCall, ctx Context) error {
	name := strings.ToUpper(fc.Name)

	if aggregateFuncs[name] {
		if len(fc.Args) != 1 {
			return arityError(name, 1, len(fc.Args), fc.Pos.Start)
		}
		if _, isStar := fc.Args[0].(*parser.Star); isStar && name != "COUNT" {
			return &SemanticError{Message: fmt.Sprintf("%s(*) is not supported, only COUNT(*) at position %d", name, fc.Pos.Start), PositionStart: fc.Pos.Start}
		}
		if _, isStar := fc.Args[0].(*parser.Star); !isStar {
			if err := validateExpr(fc.Args[0], ctx); err != nil {
				return err
			}
		}
		return nil
	}

	if n, ok := scalarArity[name]; ok {
		if len(fc.Args) != n {
			return arityError(name, n, len(fc.Args), fc.Pos.Start)
		}
		return validateArgs(fc.Args, ctx)
	}
	if name == "CAST" {
		return validateArgs(fc.Args, ctx)
	}
	if variadicScalarFuncs[name] {
		if len(fc.Args) < 1 {
			return &SemanticError{Message: fmt.Sprintf("%s(expression) function requires at least 1 argument, got %d", name, len(fc.Args)), PositionStart: fc.Pos.Start}
		}
		return validateArgs(fc.Args, ctx)
	}
	if dateArithFuncs[name] {
		return validateArgs(fc.Args, ctx)
	}
	if ctx.Functions != nil && ctx.Functions[fc.Name] {
		return validateArgs(fc.Args, ctx)
	}
	if ctx.Functions != nil && ctx.Functions[name] {
		return validateArgs(fc.Args, ctx)
	}

	return &SemanticError{Message: fmt.Sprintf("Unknown function %q at position %d", fc.Name, fc.Pos.Start), PositionStart: fc.Pos.Start}
}

func validateArgs(args []parser.Expression, ctx Context) error {
	for _, a := range args {
		if err := validateExpr(a, ctx); err != nil {
			return err
		}
	}
	return nil
}

func arityError(name string, want, got int, pos int) error {
	return &SemanticError{
		Message:       fmt.Sprintf("%s(expression) function requires %d argument, got %d", name, want, got),
		PositionStart: pos,
	}
}

// IsAggregateFunc reports whether name is one of the built-in aggregate
// functions; used by the planner to classify SELECT/HAVING expressions.
func IsAggregateFunc(name string) bool { return aggregateFuncs[strings.ToUpper(name)] }

// ContainsAggregate reports whether e contains a call to a built-in
// aggregate function anywhere in its subtree.
func ContainsAggregate(e parser.Expression) bool {
	switch n := e.(type) {
	case nil:
		return false
	case *parser.FuncCall:
		if IsAggregateFunc(n.Name) {
			return true
		}
		for _, a := range n.Args {
			if ContainsAggregate(a) {
				return true
			}
		}
		return false
	case *parser.Unary:
		return ContainsAggregate(n.Arg)
	case *parser.Binary:
		return ContainsAggregate(n.Left) || ContainsAggregate(n.Right)
	case *parser.Cast:
		return ContainsAggregate(n.Expr)
	case *parser.Case:
		if ContainsAggregate(n.CaseExpr) || ContainsAggregate(n.ElseValue) {
			return true
		}
		for _, w := range n.WhenList {
			if ContainsAggregate(w.Condition) || ContainsAggregate(w.Result) {
				return true
			}
		}
		return false
	case *parser.InList:
		return ContainsAggregate(n.Expr)
	case *parser.InSubquery:
		return ContainsAggregate(n.Expr)
	default:
		return false
	}
}
