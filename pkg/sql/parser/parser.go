// pkg/sql/parser/parser.go
package parser

import (
	"fmt"
	"math/big"
	"strings"

	"flowsql/pkg/sql/lexer"
)

// ParseError is raised by the tokeniser or the parser for malformed input;
// it carries the source range and is the concrete type behind spec §7's
// ParseError kind.
type ParseError struct {
	Message       string
	PositionStart int
	PositionEnd   int
}

func (e *ParseError) Error() string { return e.Message }

// aliasBlockedKeywords is the small reserved subset from spec §4.3 that may
// NOT be used as an implicit (no-AS) or post-AS alias, even though the
// lexer treats a much larger set as reserved.
var aliasBlockedKeywords = map[string]bool{
	"FROM": true, "WHERE": true, "GROUP": true, "HAVING": true,
	"ORDER": true, "LIMIT": true, "OFFSET": true,
}

// Parser holds a small mutable cursor record over the token stream, passed
// by reference through recursive descent (spec §9 "Parser state").
type Parser struct {
	tokens []lexer.Token
	cursor int
}

// Parse tokenises and parses query into a SelectStatement.
func Parse(query string) (*SelectStatement, error) {
	tokens, err := lexer.Tokenize(query)
	if err != nil {
		if le, ok := err.(*lexer.LexError); ok {
			return nil, &ParseError{Message: le.Message, PositionStart: le.Pos, PositionEnd: le.Pos}
		}
		return nil, err
	}
	p := &Parser{tokens: tokens}

	var with *WithClause
	withStart := -1
	if p.curIsKeyword("WITH") {
		withStart = p.cur().Start
		w, err := p.parseWith()
		if err != nil {
			return nil, err
		}
		with = w
	}

	if !p.curIsKeyword("SELECT") {
		return nil, p.errorf(p.cur(), "Expected SELECT but found %s at position %d", p.describe(p.cur()), p.cur().Start)
	}

	stmt, err := p.parseSelectBody()
	if err != nil {
		return nil, err
	}
	stmt.With = with
	if withStart >= 0 {
		stmt.Pos.Start = withStart
	}

	if p.cur().Kind == lexer.SEMICOLON {
		p.advance()
	}
	if p.cur().Kind != lexer.EOF {
		return nil, p.errorf(p.cur(), "Expected end of input but found %s at position %d", p.describe(p.cur()), p.cur().Start)
	}
	return stmt, nil
}

// ---- token cursor helpers ----

func (p *Parser) cur() lexer.Token {
	if p.cursor < len(p.tokens) {
		return p.tokens[p.cursor]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) prev() lexer.Token {
	if p.cursor == 0 {
		return p.cur()
	}
	return p.tokens[p.cursor-1]
}

func (p *Parser) advance() lexer.Token {
	t := p.cur()
	if p.cursor < len(p.tokens)-1 {
		p.cursor++
	}
	return t
}

func (p *Parser) curIsKeyword(upper string) bool {
	t := p.cur()
	return t.Kind == lexer.KEYWORD && t.Upper == upper
}

func (p *Parser) curIsOperator(lit string) bool {
	t := p.cur()
	return t.Kind == lexer.OPERATOR && t.Literal == lit
}

func (p *Parser) describe(t lexer.Token) string {
	if t.Kind == lexer.EOF {
		return `"EOF"`
	}
	return fmt.Sprintf("%q", t.Literal)
}

func (p *Parser) errorf(at lexer.Token, format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...), PositionStart: at.Start, PositionEnd: at.End}
}

// expectKeyword consumes a KEYWORD token with the given upper-case spelling
// or fails with the spec §4.3 message template, naming the previous
// token's original spelling as context.
func (p *Parser) expectKeyword(upper string) (lexer.Token, error) {
	if p.curIsKeyword(upper) {
		return p.advance(), nil
	}
	return lexer.Token{}, p.errorf(p.cur(), `Expected %s after %s but found %s at position %d`,
		upper, p.describe(p.prev()), p.describe(p.cur()), p.cur().Start)
}

func (p *Parser) expectKind(kind lexer.Kind, what string) (lexer.Token, error) {
	if p.cur().Kind == kind {
		return p.advance(), nil
	}
	return lexer.Token{}, p.errorf(p.cur(), `Expected %s after %s but found %s at position %d`,
		what, p.describe(p.prev()), p.describe(p.cur()), p.cur().Start)
}

func (p *Parser) identName() (string, Pos, error) {
	t := p.cur()
	if t.Kind == lexer.IDENT {
		p.advance()
		return t.Literal, Pos{t.Start, t.End}, nil
	}
	if t.Kind == lexer.KEYWORD && !aliasBlockedKeywords[t.Upper] {
		p.advance()
		return t.Literal, Pos{t.Start, t.End}, nil
	}
	return "", Pos{}, p.errorf(t, `Expected identifier after %s but found %s at position %d`, p.describe(p.prev()), p.describe(t), t.Start)
}

// ---- WITH / CTEs ----

func (p *Parser) parseWith() (*WithClause, error) {
	start := p.cur().Start
	p.advance() // WITH
	wc := &WithClause{}
	seen := map[string]bool{}
	for {
		name, _, err := p.identName()
		if err != nil {
			return nil, err
		}
		key := strings.ToUpper(name)
		if seen[key] {
			return nil, &ParseError{Message: fmt.Sprintf("Duplicate CTE name %q at position %d", name, start), PositionStart: start, PositionEnd: start}
		}
		seen[key] = true
		if _, err := p.expectKeyword("AS"); err != nil {
			return nil, err
		}
		if _, err := p.expectKind(lexer.LPAREN, `"("`); err != nil {
			return nil, err
		}
		sub, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
			return nil, err
		}
		wc.CTEs = append(wc.CTEs, CTE{Name: name, Query: sub})
		if p.cur().Kind == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	return wc, nil
}

// ---- SELECT body ----

func (p *Parser) parseSelectBody() (*SelectStatement, error) {
	start := p.cur().Start
	if _, err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &SelectStatement{}
	if p.curIsKeyword("DISTINCT") {
		p.advance()
		stmt.Distinct = true
	}

	cols, err := p.parseSelectColumns()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols

	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	from, err := p.parseFromSource()
	if err != nil {
		return nil, err
	}
	stmt.From = from

	for p.isJoinStart() {
		j, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, j)
	}

	if p.curIsKeyword("WHERE") {
		p.advance()
		w, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.curIsKeyword("GROUP") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		list, err := p.parseExprList()
		if err != nil {
			return nil, err
		}
		stmt.GroupBy = list
	}

	if p.curIsKeyword("HAVING") {
		p.advance()
		h, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		stmt.Having = h
	}

	if p.curIsKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		items, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = items
	}

	if p.curIsKeyword("LIMIT") {
		p.advance()
		lim, err := p.parseNumericLiteralExpr("LIMIT")
		if err != nil {
			return nil, err
		}
		stmt.Limit = lim
		if p.curIsKeyword("OFFSET") {
			p.advance()
			off, err := p.parseNumericLiteralExpr("OFFSET")
			if err != nil {
				return nil, err
			}
			stmt.Offset = off
		}
	} else if p.curIsKeyword("OFFSET") {
		p.advance()
		off, err := p.parseNumericLiteralExpr("OFFSET")
		if err != nil {
			return nil, err
		}
		stmt.Offset = off
	}

	stmt.Pos = Pos{start, p.prev().End}
	return stmt, nil
}

func (p *Parser) parseNumericLiteralExpr(clause string) (Expression, error) {
	t := p.cur()
	if t.Kind != lexer.NUMBER {
		return nil, p.errorf(t, "Expected numeric %s but found %s at position %d", clause, p.describe(t), t.Start)
	}
	p.advance()
	return &Literal{Pos: Pos{t.Start, t.End}, Value: t.Value}, nil
}

// ---- SELECT column list ----

func (p *Parser) parseSelectColumns() ([]SelectColumn, error) {
	var cols []SelectColumn
	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	return cols, nil
}

func (p *Parser) parseSelectColumn() (SelectColumn, error) {
	if p.curIsOperator("*") {
		p.advance()
		return SelectColumn{Kind: ColStar}, nil
	}
	if p.cur().Kind == lexer.IDENT && p.peekIsDotStar() {
		table := p.advance().Literal
		p.advance() // dot
		p.advance() // star
		return SelectColumn{Kind: ColStar, Table: table}, nil
	}

	expr, err := p.parseExpr(precOr)
	if err != nil {
		return SelectColumn{}, err
	}

	alias := ""
	if p.curIsKeyword("AS") {
		p.advance()
		name, _, err := p.identName()
		if err != nil {
			return SelectColumn{}, err
		}
		alias = name
	} else if p.canBeImplicitAlias() {
		alias = p.advance().Literal
	}
	return SelectColumn{Kind: ColDerived, Expr: expr, Alias: alias}, nil
}

func (p *Parser) peekIsDotStar() bool {
	if p.cursor+2 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.cursor+1].Kind == lexer.DOT && p.tokens[p.cursor+2].Kind == lexer.OPERATOR && p.tokens[p.cursor+2].Literal == "*"
}

// canBeImplicitAlias reports whether the current token can start a
// bare (no-AS) alias: a plain identifier, or a keyword outside the small
// clause-introducing reserved set (spec §4.3).
func (p *Parser) canBeImplicitAlias() bool {
	t := p.cur()
	if t.Kind == lexer.IDENT {
		return true
	}
	if t.Kind == lexer.KEYWORD && !aliasBlockedKeywords[t.Upper] {
		// Don't swallow keywords that start a join or the next clause.
		switch t.Upper {
		case "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "POSITIONAL", "ON":
			return false
		}
		return true
	}
	return false
}

// ---- FROM / JOIN ----

func (p *Parser) parseFromSource() (FromSource, error) {
	if p.cur().Kind == lexer.LPAREN {
		p.advance()
		sub, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
			return nil, err
		}
		if p.curIsKeyword("AS") {
			p.advance()
		}
		alias, _, err := p.identName()
		if err != nil {
			return nil, err
		}
		return &SubquerySource{Query: sub, Alias: alias}, nil
	}

	name, _, err := p.identName()
	if err != nil {
		return nil, err
	}
	alias := ""
	if p.curIsKeyword("AS") {
		p.advance()
		a, _, err := p.identName()
		if err != nil {
			return nil, err
		}
		alias = a
	} else if p.cur().Kind == lexer.IDENT {
		alias = p.advance().Literal
	}
	return &TableSource{Table: name, Alias: alias}, nil
}

func (p *Parser) isJoinStart() bool {
	t := p.cur()
	if t.Kind != lexer.KEYWORD {
		return false
	}
	switch t.Upper {
	case "JOIN", "INNER", "LEFT", "RIGHT", "FULL", "POSITIONAL":
		return true
	}
	return false
}

func (p *Parser) parseJoin() (JoinClause, error) {
	jt := JoinInner
	switch p.cur().Upper {
	case "INNER":
		p.advance()
	case "LEFT":
		p.advance()
		jt = JoinLeft
	case "RIGHT":
		p.advance()
		jt = JoinRight
	case "FULL":
		p.advance()
		jt = JoinFull
	case "POSITIONAL":
		p.advance()
		jt = JoinPositional
	}
	if p.curIsKeyword("OUTER") {
		p.advance()
	}
	if _, err := p.expectKeyword("JOIN"); err != nil {
		return JoinClause{}, err
	}
	table, _, err := p.identName()
	if err != nil {
		return JoinClause{}, err
	}
	alias := ""
	if p.curIsKeyword("AS") {
		p.advance()
		a, _, err := p.identName()
		if err != nil {
			return JoinClause{}, err
		}
		alias = a
	} else if p.cur().Kind == lexer.IDENT {
		alias = p.advance().Literal
	}

	jc := JoinClause{JoinType: jt, Table: table, Alias: alias}
	if jt == JoinPositional {
		return jc, nil
	}
	if _, err := p.expectKeyword("ON"); err != nil {
		return JoinClause{}, err
	}
	on, err := p.parseExpr(precOr)
	if err != nil {
		return JoinClause{}, err
	}
	jc.On = on
	return jc, nil
}

// ---- GROUP BY / ORDER BY helpers ----

func (p *Parser) parseExprList() ([]Expression, error) {
	var list []Expression
	for {
		e, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	return list, nil
}

func (p *Parser) parseOrderByList() ([]OrderItem, error) {
	var items []OrderItem
	for {
		e, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		item := OrderItem{Expr: e}
		if p.curIsKeyword("ASC") {
			p.advance()
		} else if p.curIsKeyword("DESC") {
			p.advance()
			item.Desc = true
		}
		if p.curIsKeyword("NULLS") {
			p.advance()
			if p.curIsKeyword("FIRST") {
				p.advance()
				item.Nulls = NullsFirst
			} else if p.curIsKeyword("LAST") {
				p.advance()
				item.Nulls = NullsLast
			} else {
				return nil, p.errorf(p.cur(), `Expected FIRST or LAST after %s but found %s at position %d`, p.describe(p.prev()), p.describe(p.cur()), p.cur().Start)
			}
		}
		items = append(items, item)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

// ---- expression parsing (Pratt, spec §4.2) ----

const (
	precNone = iota
	precOr
	precAnd
	precComparison
	precAdditive
	precMultiplicative
	precUnary
	precPrimary
)

func (p *Parser) parseExpr(minPrec int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, prec, ok := p.peekBinaryOp()
		if !ok || prec < minPrec {
			return left, nil
		}

		switch op {
		case "IS":
			p.advance()
			notForm := false
			if p.curIsKeyword("NOT") {
				p.advance()
				notForm = true
			}
			if _, err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			u := &Unary{Pos: Pos{left.Position().Start, p.prev().End}, Arg: left}
			if notForm {
				u.Op = OpIsNotNull
			} else {
				u.Op = OpIsNull
			}
			left = u
			continue

		case "BETWEEN":
			opTok := p.advance()
			left, err = p.finishBetween(left, opTok, false)
			if err != nil {
				return nil, err
			}
			continue

		case "NOT":
			notTok := p.advance()
			switch {
			case p.curIsKeyword("BETWEEN"):
				opTok := p.advance()
				left, err = p.finishBetween(left, opTok, true)
				if err != nil {
					return nil, err
				}
			case p.curIsKeyword("IN"):
				p.advance()
				left, err = p.finishIn(left, true)
				if err != nil {
					return nil, err
				}
			case p.curIsKeyword("LIKE"):
				p.advance()
				right, err := p.parseExpr(precAdditive)
				if err != nil {
					return nil, err
				}
				left = &Unary{Pos: Pos{left.Position().Start, right.Position().End}, Op: OpNot,
					Arg: &Binary{Pos: Pos{left.Position().Start, right.Position().End}, Op: OpLike, Left: left, Right: right}}
			default:
				return nil, p.errorf(notTok, `Expected BETWEEN, IN or LIKE after %s but found %s at position %d`, p.describe(p.prev()), p.describe(p.cur()), p.cur().Start)
			}
			continue

		case "IN":
			p.advance()
			left, err = p.finishIn(left, false)
			if err != nil {
				return nil, err
			}
			continue
		}

		p.advance()
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Pos: Pos{left.Position().Start, right.Position().End}, Op: BinaryOp(op), Left: left, Right: right}
	}
}

// peekBinaryOp reports the operator keyword/literal at the cursor and its
// binding precedence, without consuming it.
func (p *Parser) peekBinaryOp() (string, int, bool) {
	t := p.cur()
	switch t.Kind {
	case lexer.KEYWORD:
		switch t.Upper {
		case "OR":
			return "OR", precOr, true
		case "AND":
			return "AND", precAnd, true
		case "IS":
			return "IS", precComparison, true
		case "BETWEEN":
			return "BETWEEN", precComparison, true
		case "NOT":
			return "NOT", precComparison, true
		case "IN":
			return "IN", precComparison, true
		case "LIKE":
			return "LIKE", precComparison, true
		}
	case lexer.OPERATOR:
		switch t.Literal {
		case "=":
			return "=", precComparison, true
		case "!=", "<>":
			return "!=", precComparison, true
		case "<":
			return "<", precComparison, true
		case "<=":
			return "<=", precComparison, true
		case ">":
			return ">", precComparison, true
		case ">=":
			return ">=", precComparison, true
		case "+":
			return "+", precAdditive, true
		case "-":
			return "-", precAdditive, true
		case "||":
			return "||", precAdditive, true
		case "*":
			return "*", precMultiplicative, true
		case "/":
			return "/", precMultiplicative, true
		case "%":
			return "%", precMultiplicative, true
		}
	}
	return "", precNone, false
}

// finishBetween rewrites `x [NOT] BETWEEN a AND b` into the equivalent
// conjunction/disjunction (spec §4.2). The outer node's position starts at
// the BETWEEN keyword itself, not at x — an intentionally preserved quirk
// (spec §9 "ambiguous observed behaviour, do not guess").
func (p *Parser) finishBetween(x Expression, betweenTok lexer.Token, negated bool) (Expression, error) {
	lo, err := p.parseExpr(precAdditive)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("AND"); err != nil {
		return nil, err
	}
	hi, err := p.parseExpr(precAdditive)
	if err != nil {
		return nil, err
	}
	outerPos := Pos{betweenTok.Start, hi.Position().End}
	if negated {
		return &Binary{Pos: outerPos, Op: OpOr,
			Left:  &Binary{Pos: outerPos, Op: OpLt, Left: x, Right: lo},
			Right: &Binary{Pos: outerPos, Op: OpGt, Left: x, Right: hi},
		}, nil
	}
	return &Binary{Pos: outerPos, Op: OpAnd,
		Left:  &Binary{Pos: outerPos, Op: OpGte, Left: x, Right: lo},
		Right: &Binary{Pos: outerPos, Op: OpLte, Left: x, Right: hi},
	}, nil
}

// finishIn parses the right-hand side of `expr [NOT] IN (...)`, producing
// an InList when every item is a literal or an InSubquery when it is a
// SELECT.
func (p *Parser) finishIn(left Expression, negated bool) (Expression, error) {
	if _, err := p.expectKind(lexer.LPAREN, `"("`); err != nil {
		return nil, err
	}
	if p.curIsKeyword("SELECT") {
		sub, err := p.parseSelectBody()
		if err != nil {
			return nil, err
		}
		end := p.cur()
		if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
			return nil, err
		}
		return &InSubquery{Pos: Pos{left.Position().Start, end.End}, Expr: left, Not: negated, Subquery: sub}, nil
	}

	var values []*Literal
	for {
		lit, err := p.parseLiteralOnly()
		if err != nil {
			return nil, err
		}
		values = append(values, lit)
		if p.cur().Kind == lexer.COMMA {
			p.advance()
			continue
		}
		break
	}
	end := p.cur()
	if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
		return nil, err
	}
	return &InList{Pos: Pos{left.Position().Start, end.End}, Expr: left, Not: negated, Values: values}, nil
}

func (p *Parser) parseLiteralOnly() (*Literal, error) {
	e, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if lit, ok := e.(*Literal); ok {
		return lit, nil
	}
	return nil, p.errorf(p.prev(), "Expected literal value in IN list at position %d", e.Position().Start)
}

// ---- unary / primary ----

func (p *Parser) parseUnary() (Expression, error) {
	t := p.cur()
	if t.Kind == lexer.KEYWORD && t.Upper == "NOT" {
		// NOT EXISTS (q) is a distinct node variant, not unary NOT over
		// EXISTS (spec §4.2).
		if p.peekIsExists() {
			p.advance() // NOT
			p.advance() // EXISTS
			return p.parseExistsTail(true, t)
		}
		p.advance()
		arg, err := p.parseExpr(precComparison)
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: Pos{t.Start, arg.Position().End}, Op: OpNot, Arg: arg}, nil
	}
	if t.Kind == lexer.OPERATOR && t.Literal == "-" {
		p.advance()
		arg, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: Pos{t.Start, arg.Position().End}, Op: OpNeg, Arg: arg}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expression, error) {
	t := p.cur()
	switch {
	case t.Kind == lexer.NUMBER:
		p.advance()
		return &Literal{Pos: Pos{t.Start, t.End}, Value: t.Value}, nil

	case t.Kind == lexer.STRING:
		p.advance()
		return &Literal{Pos: Pos{t.Start, t.End}, Value: t.Literal}, nil

	case t.Kind == lexer.KEYWORD && t.Upper == "NULL":
		p.advance()
		return &Literal{Pos: Pos{t.Start, t.End}, Value: nil}, nil

	case t.Kind == lexer.KEYWORD && t.Upper == "TRUE":
		p.advance()
		return &Literal{Pos: Pos{t.Start, t.End}, Value: true}, nil

	case t.Kind == lexer.KEYWORD && t.Upper == "FALSE":
		p.advance()
		return &Literal{Pos: Pos{t.Start, t.End}, Value: false}, nil

	case t.Kind == lexer.OPERATOR && t.Literal == "*":
		p.advance()
		return &Star{Pos: Pos{t.Start, t.End}}, nil

	case t.Kind == lexer.KEYWORD && t.Upper == "CAST":
		return p.parseCast()

	case t.Kind == lexer.KEYWORD && t.Upper == "CASE":
		return p.parseCase()

	case t.Kind == lexer.KEYWORD && t.Upper == "INTERVAL":
		return p.parseInterval()

	case t.Kind == lexer.KEYWORD && t.Upper == "EXISTS":
		p.advance()
		return p.parseExistsTail(false, t)

	case t.Kind == lexer.LPAREN && p.peekIsSelect():
		return nil, p.errorf(t, "A bare subquery is only valid as the right-hand side of IN or EXISTS at position %d", t.Start)

	case t.Kind == lexer.LPAREN:
		p.advance()
		inner, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
			return nil, err
		}
		return inner, nil

	case t.Kind == lexer.IDENT || (t.Kind == lexer.KEYWORD && !aliasBlockedKeywords[t.Upper]):
		return p.parseIdentifierOrCall()

	default:
		return nil, p.errorf(t, "Expected expression after %s but found %s at position %d", p.describe(p.prev()), p.describe(t), t.Start)
	}
}

func (p *Parser) peekIsSelect() bool {
	return p.cursor+1 < len(p.tokens) && p.tokens[p.cursor+1].Kind == lexer.KEYWORD && p.tokens[p.cursor+1].Upper == "SELECT"
}

func (p *Parser) peekIsExists() bool {
	return p.cursor+1 < len(p.tokens) && p.tokens[p.cursor+1].Kind == lexer.KEYWORD && p.tokens[p.cursor+1].Upper == "EXISTS"
}

func (p *Parser) parseExistsTail(negated bool, startTok lexer.Token) (Expression, error) {
	if _, err := p.expectKind(lexer.LPAREN, `"("`); err != nil {
		return nil, err
	}
	sub, err := p.parseSelectBody()
	if err != nil {
		return nil, err
	}
	end := p.cur()
	if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
		return nil, err
	}
	return &Exists{Pos: Pos{startTok.Start, end.End}, Not: negated, Subquery: sub}, nil
}

func (p *Parser) parseCast() (Expression, error) {
	start := p.advance() // CAST
	if _, err := p.expectKind(lexer.LPAREN, `"("`); err != nil {
		return nil, err
	}
	inner, err := p.parseExpr(precOr)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	typeName, _, err := p.identName()
	if err != nil {
		return nil, err
	}
	end := p.cur()
	if _, err := p.expectKind(lexer.RPAREN, `")"`); err != nil {
		return nil, err
	}
	return &Cast{Pos: Pos{start.Start, end.End}, Expr: inner, ToType: strings.ToUpper(typeName)}, nil
}

func (p *Parser) parseCase() (Expression, error) {
	start := p.advance() // CASE
	c := &Case{}
	if !p.curIsKeyword("WHEN") {
		e, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		c.CaseExpr = e
	}
	for p.curIsKeyword("WHEN") {
		p.advance()
		cond, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		res, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		c.WhenList = append(c.WhenList, WhenClause{Condition: cond, Result: res})
	}
	if len(c.WhenList) == 0 {
		return nil, p.errorf(p.cur(), `Expected WHEN after %s but found %s at position %d`, p.describe(p.prev()), p.describe(p.cur()), p.cur().Start)
	}
	if p.curIsKeyword("ELSE") {
		p.advance()
		e, err := p.parseExpr(precOr)
		if err != nil {
			return nil, err
		}
		c.ElseValue = e
	}
	end, err := p.expectKeyword("END")
	if err != nil {
		return nil, err
	}
	c.Pos = Pos{start.Start, end.End}
	return c, nil
}

var intervalUnits = map[string]IntervalUnit{
	"YEAR": UnitYear, "MONTH": UnitMonth, "DAY": UnitDay,
	"HOUR": UnitHour, "MINUTE": UnitMinute, "SECOND": UnitSecond,
}

func (p *Parser) parseInterval() (Expression, error) {
	start := p.advance() // INTERVAL
	t := p.cur()
	var value float64
	if t.Kind == lexer.NUMBER {
		p.advance()
		switch v := t.Value.(type) {
		case float64:
			value = v
		case *big.Int:
			value, _ = new(big.Float).SetInt(v).Float64()
		}
	} else if t.Kind == lexer.STRING {
		p.advance()
		fmt.Sscanf(t.Literal, "%g", &value)
	} else {
		return nil, p.errorf(t, "Expected interval value after %s but found %s at position %d", p.describe(start), p.describe(t), t.Start)
	}
	unitTok := p.cur()
	unitSpelling := unitTok.Upper
	if unitSpelling == "" {
		unitSpelling = strings.ToUpper(unitTok.Literal)
	}
	unitName := strings.TrimSuffix(unitSpelling, "S")
	unit, ok := intervalUnits[unitName]
	if !ok {
		return nil, p.errorf(unitTok, "Expected interval unit after %s but found %s at position %d", p.describe(t), p.describe(unitTok), unitTok.Start)
	}
	p.advance()
	return &Interval{Pos: Pos{start.Start, unitTok.End}, Value: value, Unit: unit}, nil
}

func (p *Parser) parseIdentifierOrCall() (Expression, error) {
	first := p.advance()
	name := first.Literal
	end := first.End
	for p.cur().Kind == lexer.DOT {
		p.advance()
		next, err := p.identOrStarPart()
		if err != nil {
			return nil, err
		}
		name = name + "." + next
		end = p.prev().End
		break // only a single dot-chain: left.right (spec §4.2)
	}

	if p.cur().Kind == lexer.LPAREN {
		return p.parseFuncCallTail(name, Pos{first.Start, end})
	}

	return &Identifier{Pos: Pos{first.Start, end}, Name: name}, nil
}

func (p *Parser) identOrStarPart() (string, error) {
	if p.curIsOperator("*") {
		p.advance()
		return "*", nil
	}
	name, _, err := p.identName()
	return name, err
}

func (p *Parser) parseFuncCallTail(name string, start Pos) (Expression, error) {
	p.advance() // (
	fc := &FuncCall{Pos: start, Name: strings.ToUpper(name)}
	if p.curIsKeyword("DISTINCT") {
		p.advance()
		fc.Distinct = true
	}
	if p.curIsOperator("*") {
		t := p.advance()
		fc.Args = append(fc.Args, &Star{Pos: Pos{t.Start, t.End}})
	} else if p.cur().Kind != lexer.RPAREN {
		for {
			arg, err := p.parseExpr(precOr)
			if err != nil {
				return nil, err
			}
			fc.Args = append(fc.Args, arg)
			if p.cur().Kind == lexer.COMMA {
				p.advance()
				continue
			}
			break
		}
	}
	end, err := p.expectKind(lexer.RPAREN, `")"`)
	if err != nil {
		return nil, err
	}
	fc.Pos.End = end.End
	return fc, nil
}
