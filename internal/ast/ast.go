// Package ast defines the abstract syntax tree produced by the Cypher
// parser (spec.md §3.2).
package ast

import "github.com/cyphersql/graphsql/internal/token"

// Node is implemented by every AST node.
type Node interface {
	Pos() token.Position
	End() token.Position
}

// Expr is implemented by every expression node.
type Expr interface {
	Node
	expr()
}

// Clause is implemented by every query clause.
type Clause interface {
	Node
	clause()
}

// Replan mirrors the `CYPHER replan=` side channel (spec.md §4.1).
type Replan int

const (
	ReplanDefault Replan = iota
	ReplanForce
	ReplanSkip
)

// Direction is the relationship direction in a pattern.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Either
)

// Query is the parse tree root: zero or more UNION-joined single queries,
// plus the two optional leading directives.
type Query struct {
	Replan    Replan
	UseSchema string // "" if no USE directive
	Singles   []*SingleQuery
	UnionAll  []bool // len == len(Singles)-1; true = UNION ALL, false = UNION (distinct)
	StartPos  token.Position
	EndPos    token.Position
}

func (q *Query) Pos() token.Position { return q.StartPos }
func (q *Query) End() token.Position { return q.EndPos }

// SingleQuery is one UNION branch: an ordered sequence of clauses.
type SingleQuery struct {
	Clauses  []Clause
	StartPos token.Position
	EndPos   token.Position
}

func (s *SingleQuery) Pos() token.Position { return s.StartPos }
func (s *SingleQuery) End() token.Position { return s.EndPos }

// MatchClause is MATCH or OPTIONAL MATCH with comma-separated patterns and
// an optional trailing WHERE.
type MatchClause struct {
	Optional bool
	Patterns []*PathPattern
	Where    Expr
	StartPos token.Position
	EndPos   token.Position
}

func (c *MatchClause) clause()             {}
func (c *MatchClause) Pos() token.Position { return c.StartPos }
func (c *MatchClause) End() token.Position { return c.EndPos }

// WithClause is WITH, carrying optional DISTINCT/WHERE/ORDER BY/SKIP/LIMIT.
type WithClause struct {
	Items     []*ProjectionItem
	Distinct  bool
	Where     Expr
	OrderBy   []*SortItem
	SkipExpr  Expr
	LimitExpr Expr
	StartPos  token.Position
	EndPos    token.Position
}

func (c *WithClause) clause()             {}
func (c *WithClause) Pos() token.Position { return c.StartPos }
func (c *WithClause) End() token.Position { return c.EndPos }

// ReturnClause is RETURN, carrying optional DISTINCT/ORDER BY/SKIP/LIMIT.
type ReturnClause struct {
	Items     []*ProjectionItem
	Distinct  bool
	OrderBy   []*SortItem
	SkipExpr  Expr
	LimitExpr Expr
	StartPos  token.Position
	EndPos    token.Position
}

func (c *ReturnClause) clause()             {}
func (c *ReturnClause) Pos() token.Position { return c.StartPos }
func (c *ReturnClause) End() token.Position { return c.EndPos }

// UnwindClause is UNWIND list AS alias.
type UnwindClause struct {
	Source   Expr
	Alias    string
	StartPos token.Position
	EndPos   token.Position
}

func (c *UnwindClause) clause()             {}
func (c *UnwindClause) Pos() token.Position { return c.StartPos }
func (c *UnwindClause) End() token.Position { return c.EndPos }

// CallClause is CALL proc(args) YIELD a, b for the fixed analytic
// procedure list (shortestPath/allShortestPaths are expressions, not CALL;
// pagerank is the CALL form).
type CallClause struct {
	Name     string // dotted, e.g. "pagerank"
	Args     []Expr
	ArgNames []string // named arguments, parallel to Args (graph:, iterations:, ...)
	Yield    []string
	StartPos token.Position
	EndPos   token.Position
}

func (c *CallClause) clause()             {}
func (c *CallClause) Pos() token.Position { return c.StartPos }
func (c *CallClause) End() token.Position { return c.EndPos }

// ProjectionItem is one RETURN/WITH item: an expression with an optional
// AS alias.
type ProjectionItem struct {
	Expr  Expr
	Alias string // "" if absent; resolver falls back to the expression's text
}

// SortItem is one ORDER BY key.
type SortItem struct {
	Expr       Expr
	Descending bool
}

// PathPattern is a single comma-separated pattern within a MATCH, or the
// pattern argument of shortestPath()/allShortestPaths().
type PathPattern struct {
	Variable    string // path variable, e.g. `p = (a)-[*]->(b)`; "" if absent
	Nodes       []*NodePattern
	Rels        []*RelationshipPattern // len(Rels) == len(Nodes)-1
	ShortestOne bool                   // wrapped in shortestPath(...)
	ShortestAll bool                   // wrapped in allShortestPaths(...)
	StartPos    token.Position
	EndPos      token.Position
}

func (p *PathPattern) Pos() token.Position { return p.StartPos }
func (p *PathPattern) End() token.Position { return p.EndPos }

// NodePattern is `(var:Label {props})`.
type NodePattern struct {
	Variable   string
	Labels     []string
	Properties []*MapEntry
	StartPos   token.Position
	EndPos     token.Position
}

func (n *NodePattern) Pos() token.Position { return n.StartPos }
func (n *NodePattern) End() token.Position { return n.EndPos }

// RelationshipPattern is `-[var:T1|T2*min..max {props}]-`.
type RelationshipPattern struct {
	Variable   string
	Types      []string // empty = wildcard `[r]` or `[*]`
	Direction  Direction
	Range      *RangeLiteral // nil = not variable-length
	Properties []*MapEntry
	StartPos   token.Position
	EndPos     token.Position
}

func (r *RelationshipPattern) Pos() token.Position { return r.StartPos }
func (r *RelationshipPattern) End() token.Position { return r.EndPos }

// IsVariableLength reports whether this hop carries a `*` range.
func (r *RelationshipPattern) IsVariableLength() bool { return r.Range != nil }

// RangeLiteral is a variable-length range: `*`, `*N`, `*N..`, `*..M`, `*N..M`.
// Min == nil means no lower bound given (defaults to 1 at plan time); Max ==
// nil means unbounded.
type RangeLiteral struct {
	Min *int
	Max *int
}

// MapEntry is one `key: expr` pair in a pattern property map or a literal
// map expression.
type MapEntry struct {
	Key   string
	Value Expr
}

// ---- Expressions ----

type exprBase struct {
	StartPos token.Position
	EndPos   token.Position
}

func (e exprBase) Pos() token.Position { return e.StartPos }
func (e exprBase) End() token.Position { return e.EndPos }
func (exprBase) expr()                 {}

// IntLiteral is an integer literal.
type IntLiteral struct {
	exprBase
	Value int64
}

// FloatLiteral is a floating point literal.
type FloatLiteral struct {
	exprBase
	Value float64
}

// StringLiteral is a quoted string literal.
type StringLiteral struct {
	exprBase
	Value string
}

// BoolLiteral is `true`/`false`.
type BoolLiteral struct {
	exprBase
	Value bool
}

// NullLiteral is `null`.
type NullLiteral struct {
	exprBase
}

// ParamRef is `$name`.
type ParamRef struct {
	exprBase
	Name string
}

// Variable is a bare identifier reference to a pattern variable or alias.
type Variable struct {
	exprBase
	Name string
}

// PropertyAccess is `target.property`.
type PropertyAccess struct {
	exprBase
	Target   Expr
	Property string
}

// FunctionCall covers plain functions, aggregates, and dotted pass-through
// names (e.g. `ch.arrayMap`); the analyzer classifies by Name.
type FunctionCall struct {
	exprBase
	Name     string
	Distinct bool
	Args     []Expr
}

// CaseExpr is `CASE [operand] WHEN ... THEN ... ELSE ... END`.
type CaseExpr struct {
	exprBase
	Operand Expr // nil for the searched-CASE form
	Whens   []*WhenClause
	Else    Expr // nil if absent
}

// WhenClause is one `WHEN cond THEN result` arm.
type WhenClause struct {
	Cond   Expr
	Result Expr
}

// ListLiteral is `[e1, e2, ...]`.
type ListLiteral struct {
	exprBase
	Items []Expr
}

// MapLiteral is `{k1: e1, k2: e2}`.
type MapLiteral struct {
	exprBase
	Entries []*MapEntry
}

// Lambda is `x -> body` or `(x, y) -> body`, used as an argument to
// pass-through functions like `ch.arrayMap`.
type Lambda struct {
	exprBase
	Params []string
	Body   Expr
}

// BinaryExpr is a binary operator application.
type BinaryExpr struct {
	exprBase
	Op    token.Type
	Left  Expr
	Right Expr
}

// UnaryExpr is a unary operator application (`NOT`, unary `-`).
type UnaryExpr struct {
	exprBase
	Op      token.Type
	Operand Expr
}

// InExpr is `expr IN list`.
type InExpr struct {
	exprBase
	Left Expr
	List Expr
}

// IsNullExpr is `expr IS [NOT] NULL`.
type IsNullExpr struct {
	exprBase
	Operand Expr
	Negated bool
}

// PathPatternExpr wraps a pattern used as an expression value, e.g. the
// sole argument to shortestPath(...)/allShortestPaths(...).
type PathPatternExpr struct {
	exprBase
	Pattern *PathPattern
}
