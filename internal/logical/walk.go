package logical

// Walk visits p and every Plan-typed descendant, pre-order. It never
// mutates the tree; callers use it to accumulate into side state (e.g.
// planctx.Context) without rebuilding the plan.
func Walk(p Plan, visit func(Plan)) {
	if p == nil {
		return
	}
	visit(p)
	switch n := p.(type) {
	case *GraphNode:
		Walk(n.Input, visit)
	case *GraphRel:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *GraphJoins:
		Walk(n.Input, visit)
	case *CartesianProduct:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *Projection:
		Walk(n.Input, visit)
	case *Filter:
		Walk(n.Input, visit)
	case *OrderBy:
		Walk(n.Input, visit)
	case *Skip:
		Walk(n.Input, visit)
	case *Limit:
		Walk(n.Input, visit)
	case *GroupBy:
		Walk(n.Input, visit)
	case *Unwind:
		Walk(n.Input, visit)
	case *Union:
		for _, in := range n.Inputs {
			Walk(in, visit)
		}
	case *WithClause:
		Walk(n.Input, visit)
	}
}

// Rewrite rebuilds the tree bottom-up, applying fn to every node after its
// children have already been rebuilt. fn never errors; see RewriteErr for
// the fallible variant.
func Rewrite(p Plan, fn func(Plan) Plan) Plan {
	out, _ := RewriteErr(p, func(x Plan) (Plan, error) { return fn(x), nil })
	return out
}

// RewriteErr rebuilds the tree bottom-up, stopping at the first error.
//
// GraphRel.Right is declared as *GraphNode (not the Plan interface) since a
// relationship's right endpoint is always a pattern node; fn must therefore
// return a *GraphNode when rewriting that position, or the original
// *GraphNode is kept unchanged.
func RewriteErr(p Plan, fn func(Plan) (Plan, error)) (Plan, error) {
	if p == nil {
		return nil, nil
	}

	var rebuilt Plan
	switch n := p.(type) {
	case *GraphNode:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &GraphNode{Alias: n.Alias, Label: n.Label, Properties: n.Properties, Input: newInput}

	case *GraphRel:
		newLeft, err := RewriteErr(n.Left, fn)
		if err != nil {
			return nil, err
		}
		newRightPlan, err := RewriteErr(n.Right, fn)
		if err != nil {
			return nil, err
		}
		newRight, ok := newRightPlan.(*GraphNode)
		if !ok {
			newRight = n.Right
		}
		rebuilt = &GraphRel{
			Left: newLeft, Right: newRight, Relationship: n.Relationship, IsOptional: n.IsOptional,
			LeftConnection: n.LeftConnection, RightConnection: n.RightConnection,
		}

	case *GraphJoins:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &GraphJoins{Input: newInput, Joins: n.Joins, CorrelationPredicates: n.CorrelationPredicates}

	case *CartesianProduct:
		newLeft, err := RewriteErr(n.Left, fn)
		if err != nil {
			return nil, err
		}
		newRight, err := RewriteErr(n.Right, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &CartesianProduct{Left: newLeft, Right: newRight, JoinCondition: n.JoinCondition}

	case *Projection:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &Projection{Input: newInput, Items: n.Items, Distinct: n.Distinct, Kind: n.Kind}

	case *Filter:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &Filter{Input: newInput, Predicate: n.Predicate}

	case *OrderBy:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &OrderBy{Input: newInput, Items: n.Items}

	case *Skip:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &Skip{Input: newInput, Count: n.Count}

	case *Limit:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &Limit{Input: newInput, Count: n.Count}

	case *GroupBy:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &GroupBy{Input: newInput, Keys: n.Keys, Aggregates: n.Aggregates}

	case *Unwind:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &Unwind{Input: newInput, Source: n.Source, Alias: n.Alias}

	case *Union:
		newInputs := make([]Plan, len(n.Inputs))
		for i, in := range n.Inputs {
			rewritten, err := RewriteErr(in, fn)
			if err != nil {
				return nil, err
			}
			newInputs[i] = rewritten
		}
		rebuilt = &Union{Inputs: newInputs, UnionType: n.UnionType}

	case *WithClause:
		newInput, err := RewriteErr(n.Input, fn)
		if err != nil {
			return nil, err
		}
		rebuilt = &WithClause{
			Input: newInput, Items: n.Items, Distinct: n.Distinct, OrderBy: n.OrderBy,
			Skip: n.Skip, Limit: n.Limit, Where: n.Where,
			ExportedAliases: n.ExportedAliases, CteReferences: n.CteReferences,
		}

	default:
		// GraphAlgorithm, ViewScan: leaves with no Plan-typed fields.
		rebuilt = p
	}

	return fn(rebuilt)
}
