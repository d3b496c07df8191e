// Package logical defines the Logical Plan intermediate representation
// (spec.md §3.3) and the Logical Planner that builds one from an AST and a
// Schema (spec.md §4.2). Plan nodes are immutable tagged variants; rewrites
// during analysis/optimization produce new trees rather than mutating in
// place (spec.md §9).
package logical

import (
	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/schema"
)

// Plan is implemented by every Logical Plan operator node.
type Plan interface {
	plan()
}

// JoinType is the SQL join kind a Join entry resolves to.
type JoinType int

const (
	Inner JoinType = iota
	Left
)

// GraphNode is one pattern node reference, pre- or post-label-resolution.
type GraphNode struct {
	Alias      string
	Label      string // "" until TypeInference/PatternResolver stamps it
	Properties []*ast.MapEntry
	Input      Plan // non-nil only once resolved to a ViewScan by the analyzer
}

func (*GraphNode) plan() {}

// Relationship carries a GraphRel's edge-level detail.
type Relationship struct {
	Alias      string
	Types      []string
	Direction  ast.Direction
	Range      *ast.RangeLiteral
	Properties []*ast.MapEntry
}

// IsVariableLength reports whether this relationship carries a `*` range.
func (r *Relationship) IsVariableLength() bool { return r.Range != nil }

// GraphRel is one relationship hop; nests LEFT for multi-hop chains
// (spec.md §3.3 invariant).
type GraphRel struct {
	Left           Plan // *GraphNode or nested *GraphRel
	Right          *GraphNode
	Relationship   *Relationship
	IsOptional     bool
	LeftConnection string // alias of the node that connects to Left
	RightConnection string // alias of the node that connects to Right
}

func (*GraphRel) plan() {}

// GraphAlgorithm represents CALL pagerank(...)/shortestPath/allShortestPaths
// once lowered from the fixed analytic-call surface (spec.md §4.2).
type GraphAlgorithm struct {
	Name     string
	Args     []ast.Expr
	ArgNames []string
	Yield    []string
	Pattern  *ast.PathPattern // set for shortestPath/allShortestPaths, nil for CALL-form
}

func (*GraphAlgorithm) plan() {}

// ViewScan is produced by the analyzer once a GraphNode/GraphRel endpoint is
// resolved against the Schema Catalog.
type ViewScan struct {
	SourceTable      string
	Alias            string
	Label            string
	ViewParameters   []string
	ParameterValues  map[string]string
	PropertyMapping  map[string]string
	IDColumn         string
	FromID           string
	ToID             string

	// PreFilter is populated by the optimizer's CleanupViewScanFilters rule
	// (spec.md §4.5 rule 1): a predicate referencing only this scan's alias,
	// consolidated out of a Filter sitting directly above it.
	PreFilter ast.Expr
}

func (*ViewScan) plan() {}

// Join is one equi-join emitted by GraphJoinInference.
type Join struct {
	LeftTableAlias  string
	LeftColumn      string
	RightTableAlias string
	RightColumn     string
	JoinType        JoinType
	PreFilter       ast.Expr
}

// GraphJoins wraps a resolved pattern with its emitted joins and any
// correlation predicates lifted from a CartesianProduct (spec.md §4.3.1).
type GraphJoins struct {
	Input                Plan
	Joins                []*Join
	CorrelationPredicates []ast.Expr
}

func (*GraphJoins) plan() {}

// CartesianProduct is two unconnected pattern fragments joined without a
// shared alias (spec.md §3.3); JoinCondition is filled in by
// CartesianJoinExtraction when a cross-scope predicate correlates them.
type CartesianProduct struct {
	Left          Plan
	Right         Plan
	JoinCondition ast.Expr
}

func (*CartesianProduct) plan() {}

// ProjectionKind distinguishes RETURN-shaped from WITH-shaped projections.
type ProjectionKind int

const (
	KindReturn ProjectionKind = iota
	KindWith
)

// ProjectionItemPlan is one projected expression, resolved alias included.
type ProjectionItemPlan struct {
	Expression ast.Expr
	Alias      string
}

// Projection is RETURN or WITH's item list.
type Projection struct {
	Input    Plan
	Items    []*ProjectionItemPlan
	Distinct bool
	Kind     ProjectionKind
}

func (*Projection) plan() {}

// Filter applies a boolean predicate over its input.
type Filter struct {
	Input     Plan
	Predicate ast.Expr
}

func (*Filter) plan() {}

// OrderBy sorts its input.
type OrderBy struct {
	Input Plan
	Items []*ast.SortItem
}

func (*OrderBy) plan() {}

// Skip discards the first Count rows.
type Skip struct {
	Input Plan
	Count ast.Expr
}

func (*Skip) plan() {}

// Limit caps the input to Count rows.
type Limit struct {
	Input Plan
	Count ast.Expr
}

func (*Limit) plan() {}

// GroupBy computes aggregates over Keys.
type GroupBy struct {
	Input      Plan
	Keys       []ast.Expr
	Aggregates []*ProjectionItemPlan
}

func (*GroupBy) plan() {}

// Unwind flattens Source into one row per element, bound to Alias.
type Unwind struct {
	Input  Plan
	Source ast.Expr
	Alias  string
}

func (*Unwind) plan() {}

// UnionType distinguishes UNION ALL from UNION DISTINCT.
type UnionType int

const (
	UnionAll UnionType = iota
	UnionDistinct
)

// Union combines multiple input plans (UNION / UNION ALL, or the
// PatternResolver's typed-clone explosion).
type Union struct {
	Inputs    []Plan
	UnionType UnionType
}

func (*Union) plan() {}

// WithClause is the lowering of an AST WithClause.
type WithClause struct {
	Input           Plan
	Items           []*ProjectionItemPlan
	Distinct        bool
	OrderBy         []*ast.SortItem
	Skip            ast.Expr
	Limit           ast.Expr
	Where           ast.Expr
	ExportedAliases []string
	CteReferences   []string
}

func (*WithClause) plan() {}

// Planner lowers an AST Query into a Logical Plan.
type Planner struct {
	schema *schema.Schema
}

// New creates a Planner bound to schema s.
func New(s *schema.Schema) *Planner {
	return &Planner{schema: s}
}

// Plan lowers q into a Logical Plan (spec.md §4.2's `plan(ast, schema)`).
func (p *Planner) Plan(q *ast.Query) (Plan, error) {
	if len(q.Singles) == 0 {
		return nil, &errs.PlanError{Detail: "query has no single-query branches"}
	}

	branches := make([]Plan, 0, len(q.Singles))
	for _, sq := range q.Singles {
		branch, err := p.planSingleQuery(sq)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}

	unionType := UnionDistinct
	for _, all := range q.UnionAll {
		if all {
			unionType = UnionAll
		}
	}
	return &Union{Inputs: branches, UnionType: unionType}, nil
}

func (p *Planner) planSingleQuery(sq *ast.SingleQuery) (Plan, error) {
	var cur Plan

	for _, clause := range sq.Clauses {
		switch c := clause.(type) {
		case *ast.MatchClause:
			frag, err := p.planMatchClause(c)
			if err != nil {
				return nil, err
			}
			cur = p.connectFragment(cur, frag)

		case *ast.WithClause:
			cur = p.planWithClause(cur, c)

		case *ast.UnwindClause:
			cur = &Unwind{Input: cur, Source: c.Source, Alias: c.Alias}

		case *ast.CallClause:
			cur = &GraphAlgorithm{Name: c.Name, Args: c.Args, ArgNames: c.ArgNames, Yield: c.Yield}

		case *ast.ReturnClause:
			cur = p.planReturnClause(cur, c)
		}
	}

	if cur == nil {
		return nil, &errs.PlanError{Detail: "single query produced no plan"}
	}
	return cur, nil
}

// connectFragment joins a freshly planned MATCH fragment onto the running
// plan. A nil prior plan means this is the first MATCH in the query.
func (p *Planner) connectFragment(prior, frag Plan) Plan {
	if prior == nil {
		return frag
	}
	return &CartesianProduct{Left: prior, Right: frag}
}

// planMatchClause lowers all comma-separated patterns of one MATCH into a
// single connected (or cartesian, until GraphJoinInference connects shared
// aliases) fragment.
func (p *Planner) planMatchClause(c *ast.MatchClause) (Plan, error) {
	var fragment Plan
	for _, pattern := range c.Patterns {
		patPlan := p.planPathPattern(pattern, c.Optional)
		if fragment == nil {
			fragment = patPlan
		} else {
			fragment = &CartesianProduct{Left: fragment, Right: patPlan}
		}
	}
	if c.Where != nil {
		fragment = &Filter{Input: fragment, Predicate: c.Where}
	}
	return fragment, nil
}

// planPathPattern builds the nested GraphNode/GraphRel tree for one pattern,
// nesting LEFT for chains of more than one hop (spec.md §3.3).
func (p *Planner) planPathPattern(pattern *ast.PathPattern, optional bool) Plan {
	if pattern.ShortestOne || pattern.ShortestAll {
		return &GraphAlgorithm{
			Name:    shortestPathAlgoName(pattern),
			Pattern: pattern,
		}
	}

	nodes := make([]*GraphNode, len(pattern.Nodes))
	for i, n := range pattern.Nodes {
		nodes[i] = &GraphNode{Alias: n.Variable, Label: firstLabel(n.Labels), Properties: n.Properties}
	}

	if len(nodes) == 1 {
		return nodes[0]
	}

	var left Plan = nodes[0]
	leftAlias := nodes[0].Alias
	for i, rel := range pattern.Rels {
		right := nodes[i+1]
		left = &GraphRel{
			Left:  left,
			Right: right,
			Relationship: &Relationship{
				Alias:      rel.Variable,
				Types:      rel.Types,
				Direction:  rel.Direction,
				Range:      rel.Range,
				Properties: rel.Properties,
			},
			IsOptional:      optional,
			LeftConnection:  leftAlias,
			RightConnection: right.Alias,
		}
		leftAlias = right.Alias
	}
	return left
}

func shortestPathAlgoName(pattern *ast.PathPattern) string {
	if pattern.ShortestAll {
		return "allShortestPaths"
	}
	return "shortestPath"
}

func firstLabel(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return labels[0]
}

func (p *Planner) planWithClause(input Plan, c *ast.WithClause) Plan {
	items := make([]*ProjectionItemPlan, len(c.Items))
	aliases := make([]string, len(c.Items))
	for i, it := range c.Items {
		alias := it.Alias
		if v, ok := it.Expr.(*ast.Variable); ok && alias == "" {
			alias = v.Name
		}
		items[i] = &ProjectionItemPlan{Expression: it.Expr, Alias: alias}
		aliases[i] = alias
	}
	return &WithClause{
		Input:           input,
		Items:           items,
		Distinct:        c.Distinct,
		OrderBy:         c.OrderBy,
		Skip:            c.SkipExpr,
		Limit:           c.LimitExpr,
		Where:           c.Where,
		ExportedAliases: aliases,
	}
}

// planReturnClause wraps input per spec.md §4.2's preserved nesting order:
// outer-to-inner Limit → Skip → OrderBy → Projection.
func (p *Planner) planReturnClause(input Plan, c *ast.ReturnClause) Plan {
	items := make([]*ProjectionItemPlan, len(c.Items))
	for i, it := range c.Items {
		items[i] = &ProjectionItemPlan{Expression: it.Expr, Alias: it.Alias}
	}

	var plan Plan = &Projection{Input: input, Items: items, Distinct: c.Distinct, Kind: KindReturn}
	if len(c.OrderBy) > 0 {
		plan = &OrderBy{Input: plan, Items: c.OrderBy}
	}
	if c.SkipExpr != nil {
		plan = &Skip{Input: plan, Count: c.SkipExpr}
	}
	if c.LimitExpr != nil {
		plan = &Limit{Input: plan, Count: c.LimitExpr}
	}
	return plan
}
