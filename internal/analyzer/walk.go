package analyzer

import "github.com/cyphersql/graphsql/internal/logical"

// walkPlan and rewritePlan/rewritePlanErr delegate to the shared tree-walk
// helpers in internal/logical; the optimizer uses the same helpers so the
// traversal shape is defined once.
func walkPlan(p logical.Plan, visit func(logical.Plan)) { logical.Walk(p, visit) }

func rewritePlan(p logical.Plan, fn func(logical.Plan) logical.Plan) logical.Plan {
	return logical.Rewrite(p, fn)
}

func rewritePlanErr(p logical.Plan, fn func(logical.Plan) (logical.Plan, error)) (logical.Plan, error) {
	return logical.RewriteErr(p, fn)
}
