// Package eval implements the tri-valued (TRUE/FALSE/UNKNOWN) expression
// evaluator used by every executor operator (spec §4.6).
package eval

import (
	"fmt"
	"math/big"
	"strings"

	"flowsql/pkg/sql/parser"
	"flowsql/pkg/types"
)

// RuntimeError is raised for cast/function/runtime failures the evaluator
// itself detects (spec §7 "RuntimeError").
type RuntimeError struct {
	Message       string
	PositionStart int
	PositionEnd   int
}

func (e *RuntimeError) Error() string { return e.Message }

// Func is a scalar user-defined function: pure, synchronous (spec §9).
type Func func(args []any) (any, error)

// Context threads the caller's user-defined functions and, for subquery
// expressions (IN/EXISTS), a way to run a nested plan against a row scope.
// SubqueryRunner is supplied by the executor package to avoid an import
// cycle between eval and executor.
type Context struct {
	Functions      map[string]Func
	SubqueryRunner func(stmt *parser.SelectStatement, outer types.Row) ([]types.Row, error)
}

// Eval evaluates expr against row, returning a dynamic value. Predicate
// results are nil (UNKNOWN), true, or false; never any other type when the
// caller treats the result as a predicate — see IsTruthy.
func Eval(expr parser.Expression, row types.Row, ctx *Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &RuntimeError{Message: fmt.Sprintf("function runtime error: %v", r)}
		}
	}()
	return eval(expr, row, ctx)
}

// IsTruthy reports whether a predicate result is TRUE (as opposed to FALSE
// or UNKNOWN/NULL) — the only case a WHERE/ON/HAVING keeps the row.
func IsTruthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func eval(expr parser.Expression, row types.Row, ctx *Context) (any, error) {
	switch n := expr.(type) {
	case *parser.Literal:
		return n.Value, nil

	case *parser.Identifier:
		if i := strings.LastIndexByte(n.Name, '.'); i >= 0 {
			v, _ := row.GetFrom(n.Name[:i], n.Name[i+1:])
			return v, nil
		}
		v, _ := row.Get(n.Name)
		return v, nil

	case *parser.Star:
		return nil, &RuntimeError{Message: "star is only valid as a SELECT item or function argument", PositionStart: n.Pos.Start}

	case *parser.Unary:
		return evalUnary(n, row, ctx)

	case *parser.Binary:
		return evalBinary(n, row, ctx)

	case *parser.FuncCall:
		return evalFuncCall(n, row, ctx)

	case *parser.Cast:
		v, err := eval(n.Expr, row, ctx)
		if err != nil {
			return nil, err
		}
		return castValue(v, n.ToType), nil

	case *parser.Case:
		return evalCase(n, row, ctx)

	case *parser.Interval:
		return Interval{Value: n.Value, Unit: string(n.Unit)}, nil

	case *parser.InList:
		return evalInList(n, row, ctx)

	case *parser.InSubquery:
		return evalInSubquery(n, row, ctx)

	case *parser.Exists:
		return evalExists(n, row, ctx)

	default:
		return nil, &RuntimeError{Message: fmt.Sprintf("cannot evaluate expression of type %T", expr)}
	}
}

// Interval is the runtime representation of an INTERVAL literal.
type Interval struct {
	Value float64
	Unit  string
}

func evalUnary(n *parser.Unary, row types.Row, ctx *Context) (any, error) {
	switch n.Op {
	case parser.OpNot:
		v, err := eval(n.Arg, row, ctx)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, nil
		}
		return !b, nil

	case parser.OpNeg:
		v, err := eval(n.Arg, row, ctx)
		if err != nil {
			return nil, err
		}
		if types.IsNull(v) {
			return nil, nil
		}
		if bi, ok := v.(*big.Int); ok {
			return new(big.Int).Neg(bi), nil
		}
		f, ok := types.AsFloat(v)
		if !ok {
			return nil, nil
		}
		return -f, nil

	case parser.OpIsNull:
		v, err := eval(n.Arg, row, ctx)
		if err != nil {
			return nil, err
		}
		return types.IsNull(v), nil

	case parser.OpIsNotNull:
		v, err := eval(n.Arg, row, ctx)
		if err != nil {
			return nil, err
		}
		return !types.IsNull(v), nil
	}
	return nil, &RuntimeError{Message: fmt.Sprintf("unknown unary operator %q", n.Op)}
}

func evalBinary(n *parser.Binary, row types.Row, ctx *Context) (any, error) {
	switch n.Op {
	case parser.OpAnd:
		return evalAnd(n, row, ctx)
	case parser.OpOr:
		return evalOr(n, row, ctx)
	}

	left, err := eval(n.Left, row, ctx)
	if err != nil {
		return nil, err
	}
	right, err := eval(n.Right, row, ctx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case parser.OpEq:
		return compareResult(left, right, func(c int) bool { return c == 0 })
	case parser.OpNeq:
		return compareResult(left, right, func(c int) bool { return c != 0 })
	case parser.OpLt:
		return compareResult(left, right, func(c int) bool { return c < 0 })
	case parser.OpLte:
		return compareResult(left, right, func(c int) bool { return c <= 0 })
	case parser.OpGt:
		return compareResult(left, right, func(c int) bool { return c > 0 })
	case parser.OpGte:
		return compareResult(left, right, func(c int) bool { return c >= 0 })
	case parser.OpPlus:
		if v, handled := intervalArith(left, right, 1); handled {
			return v, nil
		}
		return arith(left, right, '+')
	case parser.OpMinus:
		if v, handled := intervalArith(left, right, -1); handled {
			return v, nil
		}
		return arith(left, right, '-')
	case parser.OpMul:
		return arith(left, right, '*')
	case parser.OpDiv:
		return arith(left, right, '/')
	case parser.OpMod:
		return arith(left, right, '%')
	case parser.OpConcat:
		return concat(left, right)
	case parser.OpLike:
		return evalLike(left, right)
	}
	return nil, &RuntimeError{Message: fmt.Sprintf("unknown binary operator %q", n.Op)}
}

func evalAnd(n *parser.Binary, row types.Row, ctx *Context) (any, error) {
	left, err := eval(n.Left, row, ctx)
	if err != nil {
		return nil, err
	}
	if lb, ok := left.(bool); ok && !lb {
		return false, nil
	}
	right, err := eval(n.Right, row, ctx)
	if err != nil {
		return nil, err
	}
	if rb, ok := right.(bool); ok && !rb {
		return false, nil
	}
	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if lok && rok {
		return lb && rb, nil
	}
	return nil, nil
}

func evalOr(n *parser.Binary, row types.Row, ctx *Context) (any, error) {
	left, err := eval(n.Left, row, ctx)
	if err != nil {
		return nil, err
	}
	if lb, ok := left.(bool); ok && lb {
		return true, nil
	}
	right, err := eval(n.Right, row, ctx)
	if err != nil {
		return nil, err
	}
	if rb, ok := right.(bool); ok && rb {
		return true, nil
	}
	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if lok && rok {
		return lb || rb, nil
	}
	return nil, nil
}

func compareResult(a, b any, pred func(int) bool) (any, error) {
	if types.IsNull(a) || types.IsNull(b) {
		return nil, nil
	}
	c, ok := types.Compare(a, b)
	if !ok {
		return nil, nil
	}
	return pred(c), nil
}

func arith(a, b any, op byte) (any, error) {
	if types.IsNull(a) || types.IsNull(b) {
		return nil, nil
	}
	aBig, aIsBig := a.(*big.Int)
	bBig, bIsBig := b.(*big.Int)
	if aIsBig && bIsBig {
		return bigArith(aBig, bBig, op)
	}
	af, aok := types.AsFloat(a)
	bf, bok := types.AsFloat(b)
	if !aok || !bok {
		return nil, nil
	}
	switch op {
	case '+':
		return af + bf, nil
	case '-':
		return af - bf, nil
	case '*':
		return af * bf, nil
	case '/':
		if bf == 0 {
			return nil, nil
		}
		return af / bf, nil
	case '%':
		if bf == 0 {
			return nil, nil
		}
		return float64(int64(af) % int64(bf)), nil
	}
	return nil, nil
}

func bigArith(a, b *big.Int, op byte) (any, error) {
	r := new(big.Int)
	switch op {
	case '+':
		return r.Add(a, b), nil
	case '-':
		return r.Sub(a, b), nil
	case '*':
		return r.Mul(a, b), nil
	case '/':
		if b.Sign() == 0 {
			return nil, nil
		}
		return r.Quo(a, b), nil
	case '%':
		if b.Sign() == 0 {
			return nil, nil
		}
		return r.Rem(a, b), nil
	}
	return nil, nil
}

func concat(a, b any) (any, error) {
	if types.IsNull(a) || types.IsNull(b) {
		return nil, nil
	}
	return stringify(a) + stringify(b), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *big.Int:
		return t.String()
	default:
		s, _ := types.ToJSONString(v)
		return strings.Trim(s, `"`)
	}
}

func evalLike(left, pattern any) (any, error) {
	if types.IsNull(left) || types.IsNull(pattern) {
		return nil, nil
	}
	s, ok1 := left.(string)
	p, ok2 := pattern.(string)
	if !ok1 || !ok2 {
		return nil, nil
	}
	return matchLike(s, p), nil
}

// matchLike implements SQL LIKE with % (any sequence) and _ (any single
// char), case-sensitive, whole-value anchored.
func matchLike(s, pattern string) bool {
	return likeMatch([]rune(s), []rune(pattern))
}

func likeMatch(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatch(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatch(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatch(s[1:], p[1:])
	}
}

func evalCase(n *parser.Case, row types.Row, ctx *Context) (any, error) {
	var caseVal any
	hasCaseVal := n.CaseExpr != nil
	if hasCaseVal {
		v, err := eval(n.CaseExpr, row, ctx)
		if err != nil {
			return nil, err
		}
		caseVal = v
	}
	for _, w := range n.WhenList {
		if hasCaseVal {
			cv, err := eval(w.Condition, row, ctx)
			if err != nil {
				return nil, err
			}
			eq, ok := types.Equal(caseVal, cv)
			if ok && eq {
				return eval(w.Result, row, ctx)
			}
			continue
		}
		cond, err := eval(w.Condition, row, ctx)
		if err != nil {
			return nil, err
		}
		if IsTruthy(cond) {
			return eval(w.Result, row, ctx)
		}
	}
	if n.ElseValue != nil {
		return eval(n.ElseValue, row, ctx)
	}
	return nil, nil
}

func evalInList(n *parser.InList, row types.Row, ctx *Context) (any, error) {
	v, err := eval(n.Expr, row, ctx)
	if err != nil {
		return nil, err
	}
	if types.IsNull(v) {
		return nil, nil
	}
	sawNull := false
	for _, lit := range n.Values {
		if types.IsNull(lit.Value) {
			sawNull = true
			continue
		}
		eq, ok := types.Equal(v, lit.Value)
		if ok && eq {
			return !n.Not, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return n.Not, nil
}

func evalInSubquery(n *parser.InSubquery, row types.Row, ctx *Context) (any, error) {
	v, err := eval(n.Expr, row, ctx)
	if err != nil {
		return nil, err
	}
	if types.IsNull(v) || ctx == nil || ctx.SubqueryRunner == nil {
		return nil, nil
	}
	rows, err := ctx.SubqueryRunner(n.Subquery, row)
	if err != nil {
		return nil, err
	}
	sawNull := false
	for _, r := range rows {
		if len(r.Vals) == 0 {
			continue
		}
		cell := r.Vals[0]
		if types.IsNull(cell) {
			sawNull = true
			continue
		}
		eq, ok := types.Equal(v, cell)
		if ok && eq {
			return !n.Not, nil
		}
	}
	if sawNull {
		return nil, nil
	}
	return n.Not, nil
}

func evalExists(n *parser.Exists, row types.Row, ctx *Context) (any, error) {
	if ctx == nil || ctx.SubqueryRunner == nil {
		return nil, nil
	}
	rows, err := ctx.SubqueryRunner(n.Subquery, row)
	if err != nil {
		return nil, err
	}
	found := len(rows) > 0
	if n.Not {
		return !found, nil
	}
	return found, nil
}
