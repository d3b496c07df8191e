// Package analyzer runs the ordered sequence of semantic passes over a
// Logical Plan (spec.md §4.3), sharing state through a planctx.Context.
// Passes rebuild the tree bottom-up via rewritePlan rather than mutating a
// plan node in place, following the immutable-tree discipline spec.md §9
// calls for.
package analyzer

import (
	"os"
	"strconv"
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/diag"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/planctx"
	"github.com/cyphersql/graphsql/internal/schema"
	"github.com/cyphersql/graphsql/internal/token"
)

const defaultMaxTypeCombinations = 38

// Analyzer drives the ordered pass sequence over one Logical Plan.
type Analyzer struct {
	schema              *schema.Schema
	ctx                 *planctx.Context
	maxTypeCombinations int

	// decomposed caches, per WHERE predicate, the flattened AND-conjuncts
	// WhereDecomposition produced, keyed by the predicate expression itself
	// (stable across the tree rebuild since Filter.Predicate is never
	// replaced). GraphJoinInference reads this to lift cross-branch
	// conjuncts off a CartesianProduct.
	decomposed map[ast.Expr][]*DecomposedPredicate
}

// New creates an Analyzer bound to s, sharing ctx with later optimizer/render
// stages.
func New(s *schema.Schema, ctx *planctx.Context) *Analyzer {
	max := defaultMaxTypeCombinations
	if v := os.Getenv("MAX_TYPE_COMBINATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			max = n
		}
	}
	return &Analyzer{schema: s, ctx: ctx, maxTypeCombinations: max, decomposed: make(map[ast.Expr][]*DecomposedPredicate)}
}

// Analyze runs passes 1-8 in order over plan (spec.md §4.3).
func (a *Analyzer) Analyze(plan logical.Plan) (logical.Plan, error) {
	if a.schema == nil {
		return nil, &errs.PlanError{Detail: "analyzer requires a resolved schema"}
	}

	plan = a.variableResolver(plan)
	plan = a.projectedColumnsResolver(plan)
	plan = a.typeInference(plan)
	plan = a.patternResolver(plan)
	a.propertyRequirementsAnalyzer(plan)
	a.whereDecomposition(plan)
	plan, err := a.graphJoinInference(plan)
	if err != nil {
		return nil, err
	}
	a.cteColumnResolver(plan)

	return plan, nil
}

// ---- Pass 1: VariableResolver ----

// variableResolver binds every identifier occurrence to the scope that
// introduced it (MATCH pattern variable, WITH export, UNWIND alias, CALL
// YIELD name) by recording a TableCtx for each alias it discovers.
func (a *Analyzer) variableResolver(plan logical.Plan) logical.Plan {
	walkPlan(plan, func(p logical.Plan) {
		switch n := p.(type) {
		case *logical.GraphNode:
			if n.Alias == "" {
				return
			}
			if _, ok := a.ctx.Lookup(n.Alias); !ok {
				a.ctx.BindAlias(n.Alias, &planctx.TableCtx{Alias: n.Alias, Label: n.Label, Role: "node"})
			}
		case *logical.GraphRel:
			if n.Relationship.Alias == "" {
				return
			}
			if _, ok := a.ctx.Lookup(n.Relationship.Alias); !ok {
				a.ctx.BindAlias(n.Relationship.Alias, &planctx.TableCtx{Alias: n.Relationship.Alias, Role: "relationship"})
			}
		case *logical.Unwind:
			a.ctx.BindAlias(n.Alias, &planctx.TableCtx{Alias: n.Alias, Role: "unwind"})
		case *logical.GraphAlgorithm:
			for _, y := range n.Yield {
				a.ctx.BindAlias(y, &planctx.TableCtx{Alias: y, Role: "yield"})
			}
		case *logical.WithClause:
			for _, alias := range n.ExportedAliases {
				if alias == "" {
					continue
				}
				if _, ok := a.ctx.Lookup(alias); !ok {
					a.ctx.BindAlias(alias, &planctx.TableCtx{Alias: alias, Role: "with"})
				}
			}
		}
	})
	return plan
}

// ---- Pass 2: ProjectedColumnsResolver ----

// projectedColumnsResolver caches, on every bound alias with a known label,
// the NodeView/RelView it resolves to, so later passes know what properties
// are *available* (not yet required) from it.
func (a *Analyzer) projectedColumnsResolver(plan logical.Plan) logical.Plan {
	walkPlan(plan, func(p logical.Plan) {
		switch n := p.(type) {
		case *logical.GraphNode:
			if n.Label == "" {
				return
			}
			tc, ok := a.ctx.Lookup(n.Alias)
			if !ok {
				tc = &planctx.TableCtx{Alias: n.Alias, Role: "node"}
				a.ctx.BindAlias(n.Alias, tc)
			}
			tc.Label = n.Label
			tc.NodeView = a.schema.NodeByLabel(n.Label)
		case *logical.GraphRel:
			if n.Relationship.Alias == "" || len(n.Relationship.Types) != 1 {
				return
			}
			tc, ok := a.ctx.Lookup(n.Relationship.Alias)
			if !ok {
				tc = &planctx.TableCtx{Alias: n.Relationship.Alias, Role: "relationship"}
				a.ctx.BindAlias(n.Relationship.Alias, tc)
			}
			tc.RelView = a.schema.RelByType(n.Relationship.Types[0])
		}
	})
	return plan
}

// ---- Pass 3: TypeInference ----

// typeInference stamps an endpoint's label when a single relationship type
// uniquely implies it via the RelView's from_label/to_label.
func (a *Analyzer) typeInference(plan logical.Plan) logical.Plan {
	return rewritePlan(plan, func(p logical.Plan) logical.Plan {
		rel, ok := p.(*logical.GraphRel)
		if !ok || len(rel.Relationship.Types) != 1 {
			return p
		}
		rv := a.schema.RelByType(rel.Relationship.Types[0])
		if rv == nil {
			return p
		}

		right := rel.Right
		if right.Label == "" && rv.ToLabel != "" {
			right = &logical.GraphNode{Alias: right.Alias, Label: rv.ToLabel, Properties: right.Properties, Input: right.Input}
		}
		left := rel.Left
		if leftNode, ok := left.(*logical.GraphNode); ok && leftNode.Label == "" && rv.FromLabel != "" {
			left = &logical.GraphNode{Alias: leftNode.Alias, Label: rv.FromLabel, Properties: leftNode.Properties, Input: leftNode.Input}
		}

		if left == rel.Left && right == rel.Right {
			return p
		}
		return &logical.GraphRel{
			Left: left, Right: right, Relationship: rel.Relationship, IsOptional: rel.IsOptional,
			LeftConnection: rel.LeftConnection, RightConnection: rel.RightConnection,
		}
	})
}

// ---- Pass 4: PatternResolver ----

// patternResolver enumerates label assignments for any node still untyped
// after TypeInference, cloning the plan once per combination and wrapping
// the clones in a Union{All} (spec.md §4.3.3). Every schema node label is
// tried for every untyped alias, up to the configured cap; combinations are
// not filtered against relationship endpoint labels.
func (a *Analyzer) patternResolver(plan logical.Plan) logical.Plan {
	untyped := collectUntypedAliases(plan)
	if len(untyped) == 0 {
		return plan
	}

	labels := make([]string, 0, len(a.schema.Nodes))
	for label := range a.schema.Nodes {
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return plan
	}

	combos, truncated := cartesianAssignments(untyped, labels, a.maxTypeCombinations)
	if len(combos) == 0 {
		return plan
	}
	if truncated {
		a.ctx.Diagnostics.AddWarning(diag.Range{}, diag.CodePatternCapReached,
			"PatternResolver truncated label enumeration at the configured cap", "analyzer.pattern_resolver")
	}
	if len(combos) == 1 {
		return assignLabels(plan, combos[0])
	}

	branches := make([]logical.Plan, 0, len(combos))
	for _, assignment := range combos {
		branches = append(branches, assignLabels(plan, assignment))
	}
	return &logical.Union{Inputs: branches, UnionType: logical.UnionAll}
}

func collectUntypedAliases(plan logical.Plan) []string {
	seen := map[string]bool{}
	var out []string
	walkPlan(plan, func(p logical.Plan) {
		if n, ok := p.(*logical.GraphNode); ok && n.Label == "" && n.Alias != "" && !seen[n.Alias] {
			seen[n.Alias] = true
			out = append(out, n.Alias)
		}
	})
	return out
}

// cartesianAssignments enumerates alias->label assignments, stopping once
// the running total hits cap; the second return reports whether enumeration
// was cut short of the full cross-product.
func cartesianAssignments(aliases, labels []string, cap int) ([]map[string]string, bool) {
	if len(aliases) == 0 {
		return nil, false
	}
	combos := []map[string]string{{}}
	truncated := false
	for _, alias := range aliases {
		var next []map[string]string
	buildNext:
		for _, combo := range combos {
			for _, label := range labels {
				if len(next) >= cap {
					truncated = true
					break buildNext
				}
				clone := make(map[string]string, len(combo)+1)
				for k, v := range combo {
					clone[k] = v
				}
				clone[alias] = label
				next = append(next, clone)
			}
		}
		combos = next
		if truncated {
			break
		}
	}
	return combos, truncated
}

// assignLabels rewrites every untyped GraphNode matching an alias in
// assignment to carry its enumerated label.
func assignLabels(plan logical.Plan, assignment map[string]string) logical.Plan {
	return rewritePlan(plan, func(p logical.Plan) logical.Plan {
		n, ok := p.(*logical.GraphNode)
		if !ok || n.Label != "" {
			return p
		}
		label, ok := assignment[n.Alias]
		if !ok {
			return p
		}
		return &logical.GraphNode{Alias: n.Alias, Label: label, Properties: n.Properties, Input: n.Input}
	})
}

// ---- Pass 5: PropertyRequirementsAnalyzer ----

// propertyRequirementsAnalyzer traverses the plan collecting, per alias, the
// exact set of properties referenced downstream (spec.md §4.4), including
// collect()+UNWIND back-propagation: `WITH collect(a) AS c ... UNWIND c AS
// u` re-attributes whatever gets demanded of u back onto a. A bare alias
// passed through a WITH adds no requirement of its own.
func (a *Analyzer) propertyRequirementsAnalyzer(plan logical.Plan) {
	reqs := a.ctx.PropertyRequirements
	collectSource := map[string]string{} // collect()-produced alias -> its source alias
	var unwinds []*logical.Unwind

	walkPlan(plan, func(p logical.Plan) {
		switch n := p.(type) {
		case *logical.Projection:
			for _, item := range n.Items {
				a.collectExprRequirements(item.Expression, reqs)
			}
		case *logical.Filter:
			a.collectExprRequirements(n.Predicate, reqs)
		case *logical.OrderBy:
			for _, item := range n.Items {
				a.collectExprRequirements(item.Expr, reqs)
			}
		case *logical.WithClause:
			for _, item := range n.Items {
				if v, ok := item.Expression.(*ast.Variable); ok && (item.Alias == "" || item.Alias == v.Name) {
					continue
				}
				call, ok := item.Expression.(*ast.FunctionCall)
				if !ok || strings.ToLower(call.Name) != "collect" || len(call.Args) != 1 {
					a.collectExprRequirements(item.Expression, reqs)
					continue
				}
				switch arg := call.Args[0].(type) {
				case *ast.Variable:
					collectSource[item.Alias] = arg.Name
				case *ast.PropertyAccess:
					if target, ok := arg.Target.(*ast.Variable); ok {
						reqs.Require(target.Name, arg.Property)
					}
				default:
					a.collectExprRequirements(arg, reqs)
				}
			}
			if n.Where != nil {
				a.collectExprRequirements(n.Where, reqs)
			}
			for _, item := range n.OrderBy {
				a.collectExprRequirements(item.Expr, reqs)
			}
		case *logical.Unwind:
			unwinds = append(unwinds, n)
		}
	})

	// The walk reaches an Unwind before the WithClause beneath it, so
	// back-propagation runs once every collect() source is known.
	for _, n := range unwinds {
		v, ok := n.Source.(*ast.Variable)
		if !ok {
			continue
		}
		source, ok := collectSource[v.Name]
		if !ok {
			continue
		}
		for _, prop := range reqs.Properties(n.Alias) {
			reqs.Require(source, prop)
		}
		if reqs.IsWildcard(n.Alias) {
			reqs.RequireWildcard(source)
		}
	}
}

func (a *Analyzer) collectExprRequirements(e ast.Expr, reqs *planctx.PropertyRequirements) {
	if e == nil {
		return
	}
	switch expr := e.(type) {
	case *ast.Variable:
		reqs.RequireWildcard(expr.Name)
	case *ast.PropertyAccess:
		if v, ok := expr.Target.(*ast.Variable); ok {
			reqs.Require(v.Name, expr.Property)
		} else {
			a.collectExprRequirements(expr.Target, reqs)
		}
	case *ast.FunctionCall:
		for _, arg := range expr.Args {
			a.collectExprRequirements(arg, reqs)
		}
	case *ast.BinaryExpr:
		a.collectExprRequirements(expr.Left, reqs)
		a.collectExprRequirements(expr.Right, reqs)
	case *ast.UnaryExpr:
		a.collectExprRequirements(expr.Operand, reqs)
	case *ast.InExpr:
		a.collectExprRequirements(expr.Left, reqs)
		a.collectExprRequirements(expr.List, reqs)
	case *ast.IsNullExpr:
		a.collectExprRequirements(expr.Operand, reqs)
	case *ast.CaseExpr:
		if expr.Operand != nil {
			a.collectExprRequirements(expr.Operand, reqs)
		}
		for _, w := range expr.Whens {
			a.collectExprRequirements(w.Cond, reqs)
			a.collectExprRequirements(w.Result, reqs)
		}
		if expr.Else != nil {
			a.collectExprRequirements(expr.Else, reqs)
		}
	case *ast.ListLiteral:
		for _, item := range expr.Items {
			a.collectExprRequirements(item, reqs)
		}
	case *ast.MapLiteral:
		for _, entry := range expr.Entries {
			a.collectExprRequirements(entry.Value, reqs)
		}
	case *ast.Lambda:
		a.collectExprRequirements(expr.Body, reqs)
	}
}

// ---- Pass 6: WhereDecomposition ----

// DecomposedPredicate is one top-level AND conjunct tagged with the aliases
// it references (spec.md §4.3 pass 6).
type DecomposedPredicate struct {
	Expr    ast.Expr
	Aliases map[string]bool
}

// whereDecomposition flattens every Filter's predicate into AND-conjuncts
// and records them for GraphJoinInference to consult when a conjunct
// correlates two CartesianProduct branches.
func (a *Analyzer) whereDecomposition(plan logical.Plan) {
	walkPlan(plan, func(p logical.Plan) {
		if f, ok := p.(*logical.Filter); ok {
			a.decomposed[f.Predicate] = splitConjuncts(f.Predicate)
		}
	})
}

func splitConjuncts(e ast.Expr) []*DecomposedPredicate {
	var out []*DecomposedPredicate
	var walk func(ast.Expr)
	walk = func(expr ast.Expr) {
		if bin, ok := expr.(*ast.BinaryExpr); ok && bin.Op == token.AND {
			walk(bin.Left)
			walk(bin.Right)
			return
		}
		out = append(out, &DecomposedPredicate{Expr: expr, Aliases: referencedAliases(expr)})
	}
	walk(e)
	return out
}

func referencedAliases(e ast.Expr) map[string]bool {
	aliases := map[string]bool{}
	var walk func(ast.Expr)
	walk = func(expr ast.Expr) {
		switch ex := expr.(type) {
		case *ast.Variable:
			aliases[ex.Name] = true
		case *ast.PropertyAccess:
			walk(ex.Target)
		case *ast.FunctionCall:
			for _, arg := range ex.Args {
				walk(arg)
			}
		case *ast.BinaryExpr:
			walk(ex.Left)
			walk(ex.Right)
		case *ast.UnaryExpr:
			walk(ex.Operand)
		case *ast.InExpr:
			walk(ex.Left)
			walk(ex.List)
		case *ast.IsNullExpr:
			walk(ex.Operand)
		}
	}
	walk(e)
	return aliases
}

func reconjoin(exprs []ast.Expr) ast.Expr {
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &ast.BinaryExpr{Op: token.AND, Left: out, Right: e}
	}
	return out
}

// ---- Pass 7: GraphJoinInference ----

// graphJoinInference resolves every GraphNode to a ViewScan, every GraphRel
// to its join list, and lifts cross-branch WHERE conjuncts off a
// CartesianProduct into a correlation predicate (spec.md §4.3.1, §4.3.2).
func (a *Analyzer) graphJoinInference(plan logical.Plan) (logical.Plan, error) {
	return rewritePlanErr(plan, func(p logical.Plan) (logical.Plan, error) {
		switch n := p.(type) {
		case *logical.GraphNode:
			return a.resolveViewScan(n)
		case *logical.GraphRel:
			return a.resolveGraphRel(n)
		case *logical.CartesianProduct:
			return a.maybeUnifySharedAlias(n)
		case *logical.Filter:
			return a.liftCorrelationPredicates(n)
		default:
			return p, nil
		}
	})
}

// resolveViewScan attaches the ViewScan a labeled GraphNode resolves to
// (spec.md §3.3: "Input Plan, non-nil only once resolved by the analyzer").
func (a *Analyzer) resolveViewScan(n *logical.GraphNode) (logical.Plan, error) {
	if n.Label == "" || n.Input != nil {
		return n, nil
	}
	nv := a.schema.NodeByLabel(n.Label)
	if nv == nil {
		return nil, &errs.PlanError{Detail: "label " + n.Label + " does not resolve against schema " + a.schema.Name}
	}
	return &logical.GraphNode{
		Alias: n.Alias, Label: n.Label, Properties: n.Properties,
		Input: &logical.ViewScan{
			SourceTable:     nv.Table,
			Alias:           n.Alias,
			Label:           n.Label,
			ViewParameters:  nv.ViewParameters,
			PropertyMapping: nv.PropertyMap,
			IDColumn:        nv.NodeID,
		},
	}, nil
}

// resolveGraphRel classifies the hop's edge storage pattern and emits the
// endpoint joins it needs (spec.md §4.3.1); a FullyDenormalized pattern
// needs no endpoint joins at all since the relationship row already carries
// both sides' properties.
func (a *Analyzer) resolveGraphRel(n *logical.GraphRel) (logical.Plan, error) {
	var relType string
	if len(n.Relationship.Types) == 1 {
		relType = n.Relationship.Types[0]
	}
	rv := a.schema.RelByType(relType)
	joinType := logical.Inner
	if n.IsOptional {
		joinType = logical.Left
	}
	if rv == nil {
		// Multi-type/wildcard relationships are left for the optimizer's
		// multi-type UNION ALL expansion.
		return &logical.GraphJoins{Input: n}, nil
	}

	leftTC, _ := a.ctx.Lookup(n.LeftConnection)
	rightTC, _ := a.ctx.Lookup(n.RightConnection)
	var leftView, rightView *schema.NodeView
	if leftTC != nil {
		leftView = leftTC.NodeView
	}
	if rightTC != nil {
		rightView = rightTC.NodeView
	}

	pattern := schema.PatternRegular
	if leftView != nil && rightView != nil {
		pattern = schema.ClassifyPattern(leftView, rv, rightView)
	}

	fromCol, toCol := rv.FromID, rv.ToID
	leftConnCol, rightConnCol := fromCol, toCol
	if n.Relationship.Direction == ast.Incoming {
		leftConnCol, rightConnCol = toCol, fromCol
	}

	var joins []*logical.Join
	if pattern != schema.PatternFullyDenormalized && leftView != nil && rightView != nil {
		joins = append(joins,
			&logical.Join{
				LeftTableAlias: n.LeftConnection, LeftColumn: leftView.NodeID,
				RightTableAlias: n.Relationship.Alias, RightColumn: leftConnCol,
				JoinType: joinType,
			},
			&logical.Join{
				LeftTableAlias: n.Relationship.Alias, LeftColumn: rightConnCol,
				RightTableAlias: n.RightConnection, RightColumn: rightView.NodeID,
				JoinType: joinType,
			},
		)
	}

	return &logical.GraphJoins{Input: n, Joins: joins}, nil
}

// maybeUnifySharedAlias implements Shared-Alias Cross-Pattern Joining
// (spec.md §4.3.2): when the two CartesianProduct branches both reference
// the same node alias, replace the cartesian pairing with an explicit join
// on that alias's id column.
func (a *Analyzer) maybeUnifySharedAlias(n *logical.CartesianProduct) (logical.Plan, error) {
	leftAliases := collectAllAliases(n.Left)
	rightAliases := collectAllAliases(n.Right)
	var shared string
	for alias := range leftAliases {
		if rightAliases[alias] {
			shared = alias
			break
		}
	}
	if shared == "" {
		return n, nil
	}
	tc, ok := a.ctx.Lookup(shared)
	if !ok || tc.NodeView == nil {
		return n, nil
	}
	return &logical.GraphJoins{
		Input: n,
		Joins: []*logical.Join{{
			LeftTableAlias: shared, LeftColumn: tc.NodeView.NodeID,
			RightTableAlias: shared, RightColumn: tc.NodeView.NodeID,
			JoinType: logical.Inner,
		}},
	}, nil
}

// liftCorrelationPredicates moves any WHERE conjunct that references aliases
// from both sides of a still-unjoined CartesianProduct onto a GraphJoins
// wrapper's CorrelationPredicates, leaving behind only the conjuncts that
// don't correlate the two branches.
func (a *Analyzer) liftCorrelationPredicates(f *logical.Filter) (logical.Plan, error) {
	cp, ok := f.Input.(*logical.CartesianProduct)
	if !ok {
		return f, nil
	}
	conjuncts, ok := a.decomposed[f.Predicate]
	if !ok {
		return f, nil
	}

	leftAliases := collectAllAliases(cp.Left)
	rightAliases := collectAllAliases(cp.Right)

	var lifted, remaining []ast.Expr
	for _, c := range conjuncts {
		touchesLeft, touchesRight := false, false
		for alias := range c.Aliases {
			if leftAliases[alias] {
				touchesLeft = true
			}
			if rightAliases[alias] {
				touchesRight = true
			}
		}
		if touchesLeft && touchesRight {
			lifted = append(lifted, c.Expr)
		} else {
			remaining = append(remaining, c.Expr)
		}
	}
	if len(lifted) == 0 {
		return f, nil
	}

	var joined logical.Plan = &logical.GraphJoins{Input: cp, CorrelationPredicates: lifted}
	if len(remaining) == 0 {
		return joined, nil
	}
	return &logical.Filter{Input: joined, Predicate: reconjoin(remaining)}, nil
}

func collectAllAliases(p logical.Plan) map[string]bool {
	out := map[string]bool{}
	walkPlan(p, func(plan logical.Plan) {
		switch n := plan.(type) {
		case *logical.GraphNode:
			if n.Alias != "" {
				out[n.Alias] = true
			}
		case *logical.ViewScan:
			out[n.Alias] = true
		}
	})
	return out
}

// ---- Pass 8: CteColumnResolver ----

// cteColumnResolver finalizes which columns every WithClause-backed CTE must
// expose, given the property requirements already collected (spec.md §4.3
// pass 8).
func (a *Analyzer) cteColumnResolver(plan logical.Plan) {
	walkPlan(plan, func(p logical.Plan) {
		with, ok := p.(*logical.WithClause)
		if !ok {
			return
		}
		var cols []string
		for _, alias := range with.ExportedAliases {
			if a.ctx.PropertyRequirements.IsWildcard(alias) {
				cols = append(cols, alias+".*")
				continue
			}
			for _, prop := range a.ctx.PropertyRequirements.Properties(alias) {
				cols = append(cols, alias+"."+prop)
			}
		}
		a.ctx.CteColumns[with] = cols
	})
}
