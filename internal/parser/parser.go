// Package parser builds an internal/ast tree from Cypher source text using a
// handwritten recursive-descent parser with Pratt-style precedence climbing
// for expressions (spec.md §3.2, §4.1).
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/diag"
	"github.com/cyphersql/graphsql/internal/lexer"
	"github.com/cyphersql/graphsql/internal/token"
)

const (
	ErrUnexpectedToken = "E0201"
	ErrExpectedToken    = "E0202"
)

// Precedence levels, low to high.
const (
	LOWEST int = iota
	OR_PREC
	XOR_PREC
	AND_PREC
	NOT_PREC
	COMPARE_PREC
	ADD_PREC
	MUL_PREC
	POW_PREC
	UNARY_PREC
	POSTFIX_PREC
)

var precedences = map[token.Type]int{
	token.OR:      OR_PREC,
	token.XOR:     XOR_PREC,
	token.AND:     AND_PREC,
	token.EQ:      COMPARE_PREC,
	token.NEQ:     COMPARE_PREC,
	token.LT:      COMPARE_PREC,
	token.GT:      COMPARE_PREC,
	token.LTE:     COMPARE_PREC,
	token.GTE:     COMPARE_PREC,
	token.IN:      COMPARE_PREC,
	token.IS:      COMPARE_PREC,
	token.PLUS:    ADD_PREC,
	token.DASH:    ADD_PREC,
	token.STAR:    MUL_PREC,
	token.SLASH:   MUL_PREC,
	token.PERCENT: MUL_PREC,
	token.CARET:   POW_PREC,
	token.DOT:      POSTFIX_PREC,
	token.LPAREN:   POSTFIX_PREC,
	token.LBRACKET: POSTFIX_PREC,
}

// Parser holds parsing state over a token stream produced by the lexer.
type Parser struct {
	l    *lexer.Lexer
	diag *diag.Diagnostics

	cur  token.Token
	peek token.Token
}

// New creates a Parser over input.
func New(input, filename string) *Parser {
	p := &Parser{l: lexer.New(input, filename), diag: diag.New()}
	p.next()
	p.next()
	return p
}

// Diagnostics returns the diagnostics raised while parsing (merged with any
// lexer diagnostics).
func (p *Parser) Diagnostics() *diag.Diagnostics {
	d := diag.New()
	d.Merge(p.l.Diagnostics())
	d.Merge(p.diag)
	return d
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) curIs(t token.Type) bool  { return p.cur.Type == t }
func (p *Parser) peekIs(t token.Type) bool { return p.peek.Type == t }

func (p *Parser) errorf(pos token.Position, code, format string, args ...interface{}) {
	p.diag.AddErrorAt(pos, code, fmt.Sprintf(format, args...), "parser")
}

// expect asserts the current token's type, recording a diagnostic and
// advancing anyway (simple panic-free error recovery) if it does not match.
func (p *Parser) expect(t token.Type) token.Token {
	tok := p.cur
	if p.cur.Type != t {
		p.errorf(p.cur.Pos, ErrExpectedToken, "expected %s, found %s %q", t, p.cur.Type, p.cur.Literal)
	} else {
		p.next()
	}
	return tok
}

// Parse parses a single Cypher statement (spec.md §4.1's full Query form:
// optional CYPHER directive, optional USE directive, UNION-joined singles).
func (p *Parser) Parse() *ast.Query {
	start := p.cur.Pos
	q := &ast.Query{StartPos: start}

	if p.curIs(token.CYPHER) {
		p.next()
		if p.curIs(token.IDENT) && lowerASCII(p.cur.Literal) == "replan" {
			p.next()
			p.expect(token.EQ)
			switch lowerASCII(p.cur.Literal) {
			case "force":
				q.Replan = ast.ReplanForce
			case "skip":
				q.Replan = ast.ReplanSkip
			default:
				q.Replan = ast.ReplanDefault
			}
			p.next()
		}
	}

	if p.curIs(token.USE) {
		p.next()
		q.UseSchema = p.cur.Literal
		p.next()
	}

	q.Singles = append(q.Singles, p.parseSingleQuery())
	for p.curIs(token.UNION) {
		p.next()
		all := false
		if p.curIs(token.ALL) {
			all = true
			p.next()
		}
		q.UnionAll = append(q.UnionAll, all)
		q.Singles = append(q.Singles, p.parseSingleQuery())
	}

	q.EndPos = p.cur.Pos
	return q
}

func (p *Parser) parseSingleQuery() *ast.SingleQuery {
	sq := &ast.SingleQuery{StartPos: p.cur.Pos}
loop:
	for {
		switch p.cur.Type {
		case token.MATCH, token.OPTIONAL:
			sq.Clauses = append(sq.Clauses, p.parseMatchClause())
		case token.WITH:
			sq.Clauses = append(sq.Clauses, p.parseWithClause())
		case token.UNWIND:
			sq.Clauses = append(sq.Clauses, p.parseUnwindClause())
		case token.CALL:
			sq.Clauses = append(sq.Clauses, p.parseCallClause())
		case token.RETURN:
			sq.Clauses = append(sq.Clauses, p.parseReturnClause())
			break loop
		default:
			break loop
		}
	}
	sq.EndPos = p.cur.Pos
	return sq
}

func (p *Parser) parseMatchClause() *ast.MatchClause {
	c := &ast.MatchClause{StartPos: p.cur.Pos}
	if p.curIs(token.OPTIONAL) {
		c.Optional = true
		p.next()
	}
	p.expect(token.MATCH)

	c.Patterns = append(c.Patterns, p.parsePathPattern(true))
	for p.curIs(token.COMMA) {
		p.next()
		c.Patterns = append(c.Patterns, p.parsePathPattern(true))
	}

	if p.curIs(token.WHERE) {
		p.next()
		c.Where = p.parseExpr(LOWEST)
	}
	c.EndPos = p.cur.Pos
	return c
}

func (p *Parser) parseWithClause() *ast.WithClause {
	c := &ast.WithClause{StartPos: p.cur.Pos}
	p.expect(token.WITH)
	if p.curIs(token.DISTINCT) {
		c.Distinct = true
		p.next()
	}
	c.Items = p.parseProjectionItems()
	if p.curIs(token.WHERE) {
		p.next()
		c.Where = p.parseExpr(LOWEST)
	}
	if p.curIs(token.ORDER) {
		p.next()
		p.expect(token.BY)
		c.OrderBy = p.parseOrderByItems()
	}
	if p.curIs(token.SKIP) {
		p.next()
		c.SkipExpr = p.parseExpr(LOWEST)
	}
	if p.curIs(token.LIMIT) {
		p.next()
		c.LimitExpr = p.parseExpr(LOWEST)
	}
	c.EndPos = p.cur.Pos
	return c
}

func (p *Parser) parseReturnClause() *ast.ReturnClause {
	c := &ast.ReturnClause{StartPos: p.cur.Pos}
	p.expect(token.RETURN)
	if p.curIs(token.DISTINCT) {
		c.Distinct = true
		p.next()
	}
	c.Items = p.parseProjectionItems()
	if p.curIs(token.ORDER) {
		p.next()
		p.expect(token.BY)
		c.OrderBy = p.parseOrderByItems()
	}
	if p.curIs(token.SKIP) {
		p.next()
		c.SkipExpr = p.parseExpr(LOWEST)
	}
	if p.curIs(token.LIMIT) {
		p.next()
		c.LimitExpr = p.parseExpr(LOWEST)
	}
	c.EndPos = p.cur.Pos
	return c
}

func (p *Parser) parseUnwindClause() *ast.UnwindClause {
	c := &ast.UnwindClause{StartPos: p.cur.Pos}
	p.expect(token.UNWIND)
	c.Source = p.parseExpr(LOWEST)
	p.expect(token.AS)
	c.Alias = p.cur.Literal
	p.expect(token.IDENT)
	c.EndPos = p.cur.Pos
	return c
}

func (p *Parser) parseCallClause() *ast.CallClause {
	c := &ast.CallClause{StartPos: p.cur.Pos}
	p.expect(token.CALL)
	c.Name = p.cur.Literal
	p.expect(token.IDENT)
	p.expect(token.LPAREN)
	for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
		if p.curIs(token.IDENT) && p.peekIs(token.COLON) {
			name := p.cur.Literal
			p.next()
			p.next()
			c.ArgNames = append(c.ArgNames, name)
			c.Args = append(c.Args, p.parseExpr(LOWEST))
		} else {
			c.ArgNames = append(c.ArgNames, "")
			c.Args = append(c.Args, p.parseExpr(LOWEST))
		}
		if p.curIs(token.COMMA) {
			p.next()
		} else {
			break
		}
	}
	p.expect(token.RPAREN)
	if p.curIs(token.YIELD) {
		p.next()
		c.Yield = append(c.Yield, p.cur.Literal)
		p.expect(token.IDENT)
		for p.curIs(token.COMMA) {
			p.next()
			c.Yield = append(c.Yield, p.cur.Literal)
			p.expect(token.IDENT)
		}
	}
	c.EndPos = p.cur.Pos
	return c
}

func (p *Parser) parseProjectionItems() []*ast.ProjectionItem {
	var items []*ast.ProjectionItem
	items = append(items, p.parseProjectionItem())
	for p.curIs(token.COMMA) {
		p.next()
		items = append(items, p.parseProjectionItem())
	}
	return items
}

func (p *Parser) parseProjectionItem() *ast.ProjectionItem {
	item := &ast.ProjectionItem{Expr: p.parseExpr(LOWEST)}
	if p.curIs(token.AS) {
		p.next()
		item.Alias = p.cur.Literal
		p.expect(token.IDENT)
	}
	return item
}

func (p *Parser) parseOrderByItems() []*ast.SortItem {
	var items []*ast.SortItem
	items = append(items, p.parseSortItem())
	for p.curIs(token.COMMA) {
		p.next()
		items = append(items, p.parseSortItem())
	}
	return items
}

func (p *Parser) parseSortItem() *ast.SortItem {
	item := &ast.SortItem{Expr: p.parseExpr(LOWEST)}
	switch p.cur.Type {
	case token.ASC:
		p.next()
	case token.DESC:
		item.Descending = true
		p.next()
	}
	return item
}

// ---- Patterns ----

func (p *Parser) parsePathPattern(allowVariable bool) *ast.PathPattern {
	start := p.cur.Pos
	pp := &ast.PathPattern{StartPos: start}

	if allowVariable && p.curIs(token.IDENT) && p.peekIs(token.EQ) {
		pp.Variable = p.cur.Literal
		p.next()
		p.next()
	}

	if p.curIs(token.IDENT) && p.peekIs(token.LPAREN) {
		if lname := lowerASCII(p.cur.Literal); lname == "shortestpath" || lname == "allshortestpaths" {
			p.next() // consume name
			p.next() // consume LPAREN
			inner := p.parsePathPattern(false)
			inner.Variable = pp.Variable
			inner.ShortestOne = lname == "shortestpath"
			inner.ShortestAll = lname == "allshortestpaths"
			inner.StartPos = start
			p.expect(token.RPAREN)
			inner.EndPos = p.cur.Pos
			return inner
		}
	}

	pp.Nodes = append(pp.Nodes, p.parseNodePattern())
	for p.curIs(token.DASH) || p.curIs(token.LARROW) {
		rel := p.parseRelationshipPattern()
		pp.Rels = append(pp.Rels, rel)
		pp.Nodes = append(pp.Nodes, p.parseNodePattern())
	}
	pp.EndPos = p.cur.Pos
	return pp
}

func (p *Parser) parseNodePattern() *ast.NodePattern {
	start := p.cur.Pos
	n := &ast.NodePattern{StartPos: start}
	p.expect(token.LPAREN)
	if p.curIs(token.IDENT) {
		n.Variable = p.cur.Literal
		p.next()
	}
	for p.curIs(token.COLON) {
		p.next()
		n.Labels = append(n.Labels, p.cur.Literal)
		p.expect(token.IDENT)
	}
	if p.curIs(token.LBRACE) {
		n.Properties = p.parseMapEntries()
	}
	n.EndPos = p.cur.Pos
	p.expect(token.RPAREN)
	return n
}

func (p *Parser) parseRelationshipPattern() *ast.RelationshipPattern {
	start := p.cur.Pos
	r := &ast.RelationshipPattern{StartPos: start, Direction: ast.Either}

	if p.curIs(token.LARROW) {
		r.Direction = ast.Incoming
		p.next()
	} else {
		p.expect(token.DASH)
	}

	if p.curIs(token.LBRACKET) {
		p.next()
		if p.curIs(token.IDENT) {
			r.Variable = p.cur.Literal
			p.next()
		}
		if p.curIs(token.COLON) {
			p.next()
			r.Types = append(r.Types, p.cur.Literal)
			p.expect(token.IDENT)
			for p.curIs(token.PIPE) {
				p.next()
				r.Types = append(r.Types, p.cur.Literal)
				p.expect(token.IDENT)
			}
		}
		if p.curIs(token.STAR) {
			p.next()
			r.Range = p.parseRangeLiteral()
		}
		if p.curIs(token.LBRACE) {
			r.Properties = p.parseMapEntries()
		}
		p.expect(token.RBRACKET)
	}

	if p.curIs(token.ARROW) {
		r.Direction = ast.Outgoing
		p.next()
	} else if p.curIs(token.DASH) {
		p.next()
	} else {
		p.errorf(p.cur.Pos, ErrUnexpectedToken, "unterminated relationship pattern, found %s", p.cur.Type)
	}

	r.EndPos = p.cur.Pos
	return r
}

// parseRangeLiteral parses the range that follows `*`: empty, `N`, `N..`,
// `..M`, or `N..M`.
func (p *Parser) parseRangeLiteral() *ast.RangeLiteral {
	rl := &ast.RangeLiteral{}
	if p.curIs(token.INT) {
		n, _ := strconv.Atoi(p.cur.Literal)
		rl.Min = &n
		p.next()
	}
	if p.curIs(token.DOTDOT) {
		p.next()
		if p.curIs(token.INT) {
			n, _ := strconv.Atoi(p.cur.Literal)
			rl.Max = &n
			p.next()
		}
	} else if rl.Min != nil {
		// `*N` with no `..` means exactly N hops.
		rl.Max = rl.Min
	}
	return rl
}

func (p *Parser) parseMapEntries() []*ast.MapEntry {
	p.expect(token.LBRACE)
	var entries []*ast.MapEntry
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		key := p.cur.Literal
		p.expect(token.IDENT)
		p.expect(token.COLON)
		entries = append(entries, &ast.MapEntry{Key: key, Value: p.parseExpr(LOWEST)})
		if p.curIs(token.COMMA) {
			p.next()
		} else {
			break
		}
	}
	p.expect(token.RBRACE)
	return entries
}

// ---- Expressions ----

func (p *Parser) parseExpr(precedence int) ast.Expr {
	left := p.parsePrefix()
	for !p.curIs(token.EOF) && precedence < p.curPrecedence() {
		left = p.parseInfix(left)
	}
	return left
}

func (p *Parser) curPrecedence() int {
	if prec, ok := precedences[p.cur.Type]; ok {
		return prec
	}
	return LOWEST
}

func (p *Parser) parsePrefix() ast.Expr {
	start := p.cur.Pos
	switch p.cur.Type {
	case token.INT:
		v, _ := strconv.ParseInt(p.cur.Literal, 10, 64)
		e := &ast.IntLiteral{Value: v}
		e.StartPos, e.EndPos = start, p.cur.End
		p.next()
		return e

	case token.FLOAT:
		v, _ := strconv.ParseFloat(p.cur.Literal, 64)
		e := &ast.FloatLiteral{Value: v}
		e.StartPos, e.EndPos = start, p.cur.End
		p.next()
		return e

	case token.STRING:
		e := &ast.StringLiteral{Value: p.cur.Literal}
		e.StartPos, e.EndPos = start, p.cur.End
		p.next()
		return e

	case token.TRUE, token.FALSE:
		e := &ast.BoolLiteral{Value: p.cur.Type == token.TRUE}
		e.StartPos, e.EndPos = start, p.cur.End
		p.next()
		return e

	case token.NULL:
		e := &ast.NullLiteral{}
		e.StartPos, e.EndPos = start, p.cur.End
		p.next()
		return e

	case token.PARAM:
		e := &ast.ParamRef{Name: p.cur.Literal}
		e.StartPos, e.EndPos = start, p.cur.End
		p.next()
		return e

	case token.NOT:
		p.next()
		operand := p.parseExpr(NOT_PREC)
		e := &ast.UnaryExpr{Op: token.NOT, Operand: operand}
		e.StartPos, e.EndPos = start, operand.End()
		return e

	case token.DASH:
		p.next()
		operand := p.parseExpr(UNARY_PREC)
		e := &ast.UnaryExpr{Op: token.DASH, Operand: operand}
		e.StartPos, e.EndPos = start, operand.End()
		return e

	case token.LPAREN:
		if lambda := p.tryParseLambda(); lambda != nil {
			return lambda
		}
		p.next()
		inner := p.parseExpr(LOWEST)
		p.expect(token.RPAREN)
		return inner

	case token.LBRACKET:
		return p.parseListLiteral()

	case token.LBRACE:
		return p.parseMapLiteral()

	case token.CASE:
		return p.parseCaseExpr()

	case token.IDENT:
		return p.parseIdentLed()

	default:
		p.errorf(start, ErrUnexpectedToken, "unexpected token %s %q in expression", p.cur.Type, p.cur.Literal)
		p.next()
		e := &ast.NullLiteral{}
		e.StartPos, e.EndPos = start, start
		return e
	}
}

// tryParseLambda speculatively parses `(x, y) -> body`, restoring parser
// state and returning nil if the lookahead doesn't confirm a lambda head.
func (p *Parser) tryParseLambda() ast.Expr {
	if !p.curIs(token.LPAREN) {
		return nil
	}
	save := *p
	saveLexer := *p.l
	start := p.cur.Pos
	p.next()
	var params []string
	ok := true
	for !p.curIs(token.RPAREN) {
		if !p.curIs(token.IDENT) {
			ok = false
			break
		}
		params = append(params, p.cur.Literal)
		p.next()
		if p.curIs(token.COMMA) {
			p.next()
			continue
		}
		break
	}
	if ok && p.curIs(token.RPAREN) {
		p.next()
		if p.curIs(token.ARROW) {
			p.next()
			body := p.parseExpr(LOWEST)
			e := &ast.Lambda{Params: params, Body: body}
			e.StartPos, e.EndPos = start, body.End()
			return e
		}
	}
	*p = save
	*p.l = saveLexer
	return nil
}

// parseIdentLed handles bare variables, single-param lambdas (`x -> body`),
// function calls, and the shortestPath/allShortestPaths pattern wrappers.
func (p *Parser) parseIdentLed() ast.Expr {
	start := p.cur.Pos
	name := p.cur.Literal

	if p.peekIs(token.ARROW) {
		p.next()
		p.next()
		body := p.parseExpr(LOWEST)
		e := &ast.Lambda{Params: []string{name}, Body: body}
		e.StartPos, e.EndPos = start, body.End()
		return e
	}

	if p.peekIs(token.LPAREN) {
		lname := lowerASCII(stripDotSuffixForBuiltinCheck(name))
		if lname == "shortestpath" || lname == "allshortestpaths" {
			p.next() // consume name
			p.next() // consume LPAREN
			pattern := p.parsePathPattern(true)
			if lname == "shortestpath" {
				pattern.ShortestOne = true
			} else {
				pattern.ShortestAll = true
			}
			end := p.cur.Pos
			p.expect(token.RPAREN)
			e := &ast.PathPatternExpr{Pattern: pattern}
			e.StartPos, e.EndPos = start, end
			return e
		}
		return p.parseFunctionCall()
	}

	p.next()
	e := &ast.Variable{Name: name}
	e.StartPos, e.EndPos = start, start
	return e
}

func stripDotSuffixForBuiltinCheck(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

func (p *Parser) parseFunctionCall() ast.Expr {
	start := p.cur.Pos
	name := p.cur.Literal
	p.next() // name
	p.expect(token.LPAREN)
	call := &ast.FunctionCall{Name: name}
	call.StartPos = start

	if p.curIs(token.DISTINCT) {
		call.Distinct = true
		p.next()
	}
	if p.curIs(token.STAR) && p.peekIs(token.RPAREN) {
		// count(*) - represent as a zero-arg call, which renders as count().
		p.next()
	} else {
		for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
			call.Args = append(call.Args, p.parseExpr(LOWEST))
			if p.curIs(token.COMMA) {
				p.next()
			} else {
				break
			}
		}
	}
	call.EndPos = p.cur.Pos
	p.expect(token.RPAREN)
	return call
}

func (p *Parser) parseListLiteral() ast.Expr {
	start := p.cur.Pos
	p.expect(token.LBRACKET)
	e := &ast.ListLiteral{}
	e.StartPos = start
	for !p.curIs(token.RBRACKET) && !p.curIs(token.EOF) {
		e.Items = append(e.Items, p.parseExpr(LOWEST))
		if p.curIs(token.COMMA) {
			p.next()
		} else {
			break
		}
	}
	e.EndPos = p.cur.Pos
	p.expect(token.RBRACKET)
	return e
}

func (p *Parser) parseMapLiteral() ast.Expr {
	start := p.cur.Pos
	entries := p.parseMapEntries()
	e := &ast.MapLiteral{Entries: entries}
	e.StartPos, e.EndPos = start, p.cur.Pos
	return e
}

func (p *Parser) parseCaseExpr() ast.Expr {
	start := p.cur.Pos
	p.expect(token.CASE)
	e := &ast.CaseExpr{}
	e.StartPos = start

	if !p.curIs(token.WHEN) {
		e.Operand = p.parseExpr(LOWEST)
	}
	for p.curIs(token.WHEN) {
		p.next()
		cond := p.parseExpr(LOWEST)
		p.expect(token.THEN)
		result := p.parseExpr(LOWEST)
		e.Whens = append(e.Whens, &ast.WhenClause{Cond: cond, Result: result})
	}
	if p.curIs(token.ELSE) {
		p.next()
		e.Else = p.parseExpr(LOWEST)
	}
	e.EndPos = p.cur.Pos
	p.expect(token.END)
	return e
}

func (p *Parser) parseInfix(left ast.Expr) ast.Expr {
	switch p.cur.Type {
	case token.DOT:
		p.next()
		prop := p.cur.Literal
		end := p.cur.End
		p.expect(token.IDENT)
		e := &ast.PropertyAccess{Target: left, Property: prop}
		e.StartPos, e.EndPos = left.Pos(), end
		return e

	case token.LBRACKET:
		// Index/slice access is represented as a two-arg pass-through call so
		// the renderer can lower it with the target dialect's own syntax.
		p.next()
		idx := p.parseExpr(LOWEST)
		end := p.cur.End
		p.expect(token.RBRACKET)
		e := &ast.FunctionCall{Name: "__index", Args: []ast.Expr{left, idx}}
		e.StartPos, e.EndPos = left.Pos(), end
		return e

	case token.IN:
		p.next()
		list := p.parseExpr(COMPARE_PREC)
		e := &ast.InExpr{Left: left, List: list}
		e.StartPos, e.EndPos = left.Pos(), list.End()
		return e

	case token.IS:
		p.next()
		negated := false
		if p.curIs(token.NOT) {
			negated = true
			p.next()
		}
		end := p.cur.End
		p.expect(token.NULL)
		e := &ast.IsNullExpr{Operand: left, Negated: negated}
		e.StartPos, e.EndPos = left.Pos(), end
		return e

	default:
		op := p.cur.Type
		prec := p.curPrecedence()
		p.next()
		right := p.parseExpr(prec)
		e := &ast.BinaryExpr{Op: op, Left: left, Right: right}
		e.StartPos, e.EndPos = left.Pos(), right.End()
		return e
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Parse is the package-level convenience entry point.
func Parse(input, filename string) (*ast.Query, *diag.Diagnostics) {
	p := New(input, filename)
	q := p.Parse()
	return q, p.Diagnostics()
}
