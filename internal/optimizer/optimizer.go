// Package optimizer runs the ordered rule-based rewrites of spec.md §4.5
// over an already-analyzed Logical Plan, to a fixed point (each rule is
// idempotent; the driver stops once a full pass over all rules makes no
// change). Like internal/analyzer, rewrites rebuild the tree bottom-up via
// logical.Rewrite rather than mutating nodes in place (spec.md §9).
package optimizer

import (
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/diag"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/planctx"
	"github.com/cyphersql/graphsql/internal/schema"
	"github.com/cyphersql/graphsql/internal/token"
)

// maxFixedPointIters bounds the driver loop; every rule here is idempotent
// in the sense the spec requires, so convergence happens in a handful of
// passes in practice and this is only a runaway backstop.
const maxFixedPointIters = 20

// Optimizer drives the ordered rule sequence over one Logical Plan.
type Optimizer struct {
	schema *schema.Schema
	ctx    *planctx.Context
}

// New creates an Optimizer bound to s, sharing ctx with the analyzer stage
// that already ran over this plan.
func New(s *schema.Schema, ctx *planctx.Context) *Optimizer {
	return &Optimizer{schema: s, ctx: ctx}
}

type rule struct {
	name string
	fn   func(logical.Plan) (logical.Plan, bool, error)
}

// Optimize runs the rule-based rewrites of spec.md §4.5 to a fixed point.
func (o *Optimizer) Optimize(plan logical.Plan) (logical.Plan, error) {
	rules := []rule{
		{"CleanupViewScanFilters", o.cleanupViewScanFilters},
		{"FilterIntoGraphRel", o.filterIntoGraphRel},
		{"CartesianJoinExtraction", o.cartesianJoinExtraction},
		{"BidirectionalUnion", o.bidirectionalUnion},
		{"CollectUnwindElimination", o.collectUnwindElimination},
		{"PropertyBasedUnionPruning", o.propertyBasedUnionPruning},
		{"ProjectionPruning", o.projectionPruning},
		{"PushDownLimit", o.pushDownLimit},
	}

	for iter := 0; iter < maxFixedPointIters; iter++ {
		changedThisIter := false
		for _, r := range rules {
			next, changed, err := r.fn(plan)
			if err != nil {
				return nil, err
			}
			if changed {
				plan = next
				changedThisIter = true
			}
		}
		if !changedThisIter {
			return plan, nil
		}
	}
	return plan, nil
}

// ---- Rule 1: CleanupViewScanFilters ----

// cleanupViewScanFilters consolidates a Filter sitting directly over a
// GraphNode whose Input is a resolved ViewScan into the scan's PreFilter,
// when every referenced alias is that scan's own alias (spec.md §4.5 rule 1).
func (o *Optimizer) cleanupViewScanFilters(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		f, ok := p.(*logical.Filter)
		if !ok {
			return p
		}
		node, ok := f.Input.(*logical.GraphNode)
		if !ok {
			return p
		}
		scan, ok := node.Input.(*logical.ViewScan)
		if !ok || scan.PreFilter != nil {
			return p
		}
		if aliasesOf(f.Predicate) != aliasSingleton(node.Alias) {
			return p
		}
		changed = true
		newScan := *scan
		newScan.PreFilter = f.Predicate
		return &logical.GraphNode{Alias: node.Alias, Label: node.Label, Properties: node.Properties, Input: &newScan}
	})
	return out, changed, nil
}

func aliasSingleton(alias string) string { return alias }

func aliasesOf(e ast.Expr) string {
	aliases := referencedAliasSet(e)
	if len(aliases) != 1 {
		return ""
	}
	for a := range aliases {
		return a
	}
	return ""
}

func referencedAliasSet(e ast.Expr) map[string]bool {
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
		case *ast.CaseExpr:
			if ex.Operand != nil {
				walk(ex.Operand)
			}
			for _, w := range ex.Whens {
				walk(w.Cond)
				walk(w.Result)
			}
			if ex.Else != nil {
				walk(ex.Else)
			}
		}
	}
	walk(e)
	return aliases
}

func splitConjuncts(e ast.Expr) []ast.Expr {
	var out []ast.Expr
	var walk func(ast.Expr)
	walk = func(expr ast.Expr) {
		if bin, ok := expr.(*ast.BinaryExpr); ok && bin.Op == token.AND {
			walk(bin.Left)
			walk(bin.Right)
			return
		}
		out = append(out, expr)
	}
	walk(e)
	return out
}

func reconjoin(exprs []ast.Expr) ast.Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &ast.BinaryExpr{Op: token.AND, Left: out, Right: e}
	}
	return out
}

// ---- Rule 2: FilterIntoGraphRel ----

// filterIntoGraphRel pushes an alias-local predicate sitting over a
// GraphJoins down onto the specific Join whose relationship alias (or
// either endpoint alias) the predicate references, so it renders as a join
// predicate (or a recursive-CTE filter for a VLP hop) instead of an outer
// WHERE (spec.md §4.5 rule 2).
func (o *Optimizer) filterIntoGraphRel(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		f, ok := p.(*logical.Filter)
		if !ok {
			return p
		}
		gj, ok := f.Input.(*logical.GraphJoins)
		if !ok || len(gj.Joins) == 0 {
			return p
		}

		conjuncts := splitConjuncts(f.Predicate)
		var remaining []ast.Expr
		newJoins := append([]*logical.Join(nil), gj.Joins...)
		pushedAny := false

		for _, c := range conjuncts {
			alias := aliasesOf(c)
			if alias == "" {
				remaining = append(remaining, c)
				continue
			}
			idx := -1
			for i, j := range newJoins {
				if j.LeftTableAlias == alias || j.RightTableAlias == alias {
					idx = i
					break
				}
			}
			if idx == -1 {
				remaining = append(remaining, c)
				continue
			}
			j := *newJoins[idx]
			if j.PreFilter == nil {
				j.PreFilter = c
			} else {
				j.PreFilter = &ast.BinaryExpr{Op: token.AND, Left: j.PreFilter, Right: c}
			}
			newJoins[idx] = &j
			pushedAny = true
		}

		if !pushedAny {
			return p
		}
		changed = true
		newGJ := &logical.GraphJoins{Input: gj.Input, Joins: newJoins, CorrelationPredicates: gj.CorrelationPredicates}
		if len(remaining) == 0 {
			return newGJ
		}
		return &logical.Filter{Input: newGJ, Predicate: reconjoin(remaining)}
	})
	return out, changed, nil
}

// ---- Rule 3: CartesianJoinExtraction ----

// cartesianJoinExtraction lifts a WHERE conjunct that correlates both sides
// of a still-bare CartesianProduct (typically spanning a WITH boundary, so
// analyzer's GraphJoinInference never saw a shared pattern alias to unify)
// into the CartesianProduct's JoinCondition, then wraps it in a GraphJoins
// so the render planner emits it as a join condition rather than a
// cross-join-plus-filter (spec.md §4.5 rule 3, §4.3.1 "Correlation
// predicates from CartesianProduct").
func (o *Optimizer) cartesianJoinExtraction(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		f, ok := p.(*logical.Filter)
		if !ok {
			return p
		}
		cp, ok := f.Input.(*logical.CartesianProduct)
		if !ok {
			return p
		}

		leftAliases := collectAllAliases(cp.Left)
		rightAliases := collectAllAliases(cp.Right)

		var lifted, remaining []ast.Expr
		for _, c := range splitConjuncts(f.Predicate) {
			refs := referencedAliasSet(c)
			touchesLeft, touchesRight := false, false
			for a := range refs {
				if leftAliases[a] {
					touchesLeft = true
				}
				if rightAliases[a] {
					touchesRight = true
				}
			}
			if touchesLeft && touchesRight {
				lifted = append(lifted, c)
			} else {
				remaining = append(remaining, c)
			}
		}
		if len(lifted) == 0 {
			return p
		}
		changed = true

		newCP := &logical.CartesianProduct{Left: cp.Left, Right: cp.Right, JoinCondition: reconjoin(lifted)}
		joined := logical.Plan(&logical.GraphJoins{Input: newCP, CorrelationPredicates: lifted})
		if len(remaining) == 0 {
			return joined
		}
		return &logical.Filter{Input: joined, Predicate: reconjoin(remaining)}
	})
	return out, changed, nil
}

func collectAllAliases(p logical.Plan) map[string]bool {
	out := map[string]bool{}
	logical.Walk(p, func(plan logical.Plan) {
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

// ---- Rule 4: BidirectionalUnion ----

// bidirectionalUnion expands a Direction::Either hop into a Union{All} of
// the two directed variants. Per spec.md §9's design note, this expansion
// is skipped for a variable-length hop (Range != nil): the render planner
// instead generates the directed UNION ALL *inside* the recursive CTE body
// (spec.md §4.6.2), which preserves the nested GraphRel structure through
// join inference rather than exploding it into sibling branches.
func (o *Optimizer) bidirectionalUnion(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		rel, ok := p.(*logical.GraphRel)
		if !ok || rel.Relationship.Direction != ast.Either || rel.Relationship.IsVariableLength() {
			return p
		}
		changed = true
		outgoing := *rel
		outRel := *rel.Relationship
		outRel.Direction = ast.Outgoing
		outgoing.Relationship = &outRel

		incoming := *rel
		inRel := *rel.Relationship
		inRel.Direction = ast.Incoming
		incoming.Relationship = &inRel

		return &logical.Union{Inputs: []logical.Plan{&outgoing, &incoming}, UnionType: logical.UnionAll}
	})
	return out, changed, nil
}

// ---- Rule 5: CollectUnwindElimination ----

// collectUnwindElimination implements spec.md §4.5.1: when a WITH's
// `collect(source) AS c` is consumed by an immediately following `UNWIND c
// AS u` and c is otherwise unreferenced, the pair is eliminated and u is
// rebound to source's table context, so downstream references to u resolve
// against source directly.
func (o *Optimizer) collectUnwindElimination(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		unwind, ok := p.(*logical.Unwind)
		if !ok {
			return p
		}
		srcVar, ok := unwind.Source.(*ast.Variable)
		if !ok {
			return p
		}
		with, ok := unwind.Input.(*logical.WithClause)
		if !ok {
			return p
		}

		collectIdx := -1
		var sourceVar *ast.Variable
		for i, item := range with.Items {
			if item.Alias != srcVar.Name {
				continue
			}
			call, ok := item.Expression.(*ast.FunctionCall)
			if !ok || !strings.EqualFold(call.Name, "collect") || len(call.Args) != 1 {
				return p
			}
			v, ok := call.Args[0].(*ast.Variable)
			if !ok {
				return p
			}
			collectIdx, sourceVar = i, v
		}
		if collectIdx == -1 {
			return p
		}
		if otherItemReferences(with, collectIdx, srcVar.Name) || exprReferences(with.Where, srcVar.Name) {
			return p
		}

		changed = true
		remainingItems := append(append([]*logical.ProjectionItemPlan(nil), with.Items[:collectIdx]...), with.Items[collectIdx+1:]...)
		hasGroupingKeys := len(remainingItems) > 0

		var newInput logical.Plan
		if !hasGroupingKeys && with.Where == nil && len(with.OrderBy) == 0 && with.Skip == nil && with.Limit == nil {
			// No other items and no grouping keys: the WITH carried nothing
			// but the eliminated collect, so it disappears entirely.
			newInput = with.Input
		} else {
			exported := append([]string(nil), with.ExportedAliases[:collectIdx]...)
			exported = append(exported, with.ExportedAliases[collectIdx+1:]...)
			newInput = &logical.WithClause{
				Input: with.Input, Items: remainingItems, Distinct: with.Distinct,
				OrderBy: with.OrderBy, Skip: with.Skip, Limit: with.Limit, Where: with.Where,
				ExportedAliases: exported, CteReferences: with.CteReferences,
			}
		}

		// u never gets its own scan or projection: rebind it in Plan Context
		// to source's own TableCtx, so every downstream alias.property lookup
		// for u resolves through source's physical table alias instead. The
		// Unwind node itself is simply dropped.
		if tc, ok := o.ctx.Lookup(sourceVar.Name); ok {
			o.ctx.BindAlias(unwind.Alias, tc)
		}
		o.ctx.Diagnostics.AddInfo(diag.CodeCollectUnwindElided,
			"eliminated collect(\""+sourceVar.Name+"\") AS \""+srcVar.Name+"\" + UNWIND \""+srcVar.Name+"\" AS \""+unwind.Alias+"\"",
			"optimizer.collect_unwind_elimination")
		return newInput
	})
	return out, changed, nil
}

func otherItemReferences(with *logical.WithClause, skipIdx int, name string) bool {
	for i, item := range with.Items {
		if i == skipIdx {
			continue
		}
		if exprReferences(item.Expression, name) {
			return true
		}
	}
	return false
}

func exprReferences(e ast.Expr, name string) bool {
	if e == nil {
		return false
	}
	return referencedAliasSet(e)[name]
}

// ---- Rule 6: PropertyBasedUNIONPruning ----

// propertyBasedUnionPruning drops a PatternResolver-produced UNION branch
// whose WHERE references a property absent from the branch's assigned
// label, since that branch can never match (spec.md §4.5 rule 6).
func (o *Optimizer) propertyBasedUnionPruning(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		u, ok := p.(*logical.Union)
		if !ok || len(u.Inputs) < 2 {
			return p
		}
		var kept []logical.Plan
		for _, branch := range u.Inputs {
			if o.branchHasInvalidPropertyAccess(branch) {
				changed = true
				continue
			}
			kept = append(kept, branch)
		}
		if len(kept) == len(u.Inputs) {
			return p
		}
		if len(kept) == 1 {
			return kept[0]
		}
		if len(kept) == 0 {
			return p // defer to AmbiguityError at render time rather than producing an empty tree
		}
		return &logical.Union{Inputs: kept, UnionType: u.UnionType}
	})
	return out, changed, nil
}

func (o *Optimizer) branchHasInvalidPropertyAccess(branch logical.Plan) bool {
	labels := map[string]string{}
	logical.Walk(branch, func(p logical.Plan) {
		if n, ok := p.(*logical.GraphNode); ok && n.Label != "" {
			labels[n.Alias] = n.Label
		}
	})
	invalid := false
	logical.Walk(branch, func(p logical.Plan) {
		f, ok := p.(*logical.Filter)
		if !ok {
			return
		}
		var walk func(ast.Expr)
		walk = func(e ast.Expr) {
			if e == nil {
				return
			}
			switch ex := e.(type) {
			case *ast.PropertyAccess:
				if v, ok := ex.Target.(*ast.Variable); ok {
					if label, ok := labels[v.Name]; ok {
						if nv := o.schema.NodeByLabel(label); nv != nil {
							if _, has := nv.PropertyMap[ex.Property]; !has {
								invalid = true
							}
						}
					}
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
			case *ast.FunctionCall:
				for _, a := range ex.Args {
					walk(a)
				}
			}
		}
		walk(f.Predicate)
	})
	return invalid
}

// ---- Rule 7: ProjectionPruning ----

// projectionPruning drops a WithClause item that is a function call whose
// exported alias is never referenced by the property requirements recorded
// downstream (spec.md §4.5 rule 7). Every other item, bare alias exports
// included, is kept.
func (o *Optimizer) projectionPruning(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		with, ok := p.(*logical.WithClause)
		if !ok || len(with.Items) == 0 {
			return p
		}
		var kept []*logical.ProjectionItemPlan
		var keptAliases []string
		for i, item := range with.Items {
			if _, isAgg := item.Expression.(*ast.FunctionCall); isAgg && !o.itemReferencedDownstream(item.Alias) {
				changed = true
				continue
			}
			kept = append(kept, item)
			keptAliases = append(keptAliases, with.ExportedAliases[i])
		}
		if len(kept) == len(with.Items) {
			return p
		}
		return &logical.WithClause{
			Input: with.Input, Items: kept, Distinct: with.Distinct,
			OrderBy: with.OrderBy, Skip: with.Skip, Limit: with.Limit, Where: with.Where,
			ExportedAliases: keptAliases, CteReferences: with.CteReferences,
		}
	})
	return out, changed, nil
}

func (o *Optimizer) itemReferencedDownstream(alias string) bool {
	if o.ctx.PropertyRequirements.IsWildcard(alias) {
		return true
	}
	return len(o.ctx.PropertyRequirements.Properties(alias)) > 0
}

// ---- Rule 8: PushDownLimit ----

// pushDownLimit pushes an outer Limit through its Projection into an
// earlier WithClause's own Limit field when that WithClause carries no
// ORDER BY of its own (spec.md §4.5 rule 8: "push Limit through Projection
// and into CTEs where safe").
func (o *Optimizer) pushDownLimit(plan logical.Plan) (logical.Plan, bool, error) {
	changed := false
	out := logical.Rewrite(plan, func(p logical.Plan) logical.Plan {
		lim, ok := p.(*logical.Limit)
		if !ok {
			return p
		}
		proj, ok := lim.Input.(*logical.Projection)
		if !ok {
			return p
		}
		with, ok := proj.Input.(*logical.WithClause)
		if !ok || with.Limit != nil || len(with.OrderBy) > 0 {
			return p
		}
		changed = true
		newWith := *with
		newWith.Limit = lim.Count
		newProj := *proj
		newProj.Input = &newWith
		return &logical.Limit{Input: &newProj, Count: lim.Count}
	})
	return out, changed, nil
}
