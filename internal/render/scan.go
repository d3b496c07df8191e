package render

import (
	"fmt"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/schema"
	"github.com/cyphersql/graphsql/internal/token"
)

// joinSpec is a not-yet-emitted equi-join: both aliases may already be
// present in the FROM list in either order, since GraphJoinInference emits
// endpoint joins without regard for which side ends up first in the scan
// (spec.md §4.3.1).
type joinSpec struct {
	leftAlias, leftCol, rightAlias, rightCol string
	joinType                                 logical.JoinType
}

// scanBuild accumulates the FROM/JOIN shape while walking a resolved
// GraphJoins/GraphRel/GraphNode/CartesianProduct tree (spec.md §4.6 step 2:
// "assemble the FROM and JOIN list from GraphJoins").
type scanBuild struct {
	tables    map[string]*TableRef
	order     []string
	joinSpecs []*joinSpec
	wheres    []ast.Expr
	ctes      []*Cte
}

func (b *Builder) buildScanTree(plan logical.Plan) (*RenderPlan, error) {
	sb := &scanBuild{tables: map[string]*TableRef{}}
	if err := b.walkScan(plan, sb); err != nil {
		return nil, err
	}
	if len(sb.order) == 0 {
		return nil, &errs.RenderError{Detail: "scan tree produced no FROM table"}
	}

	rp := &RenderPlan{Ctes: sb.ctes}
	rp.From = sb.tables[sb.order[0]]
	rp.Joins = resolveJoinOrder(sb)
	if len(sb.wheres) > 0 {
		rp.Where = reconjoin(sb.wheres)
	}
	return rp, nil
}

// resolveJoinOrder turns the discovered tables and equi-join specs into an
// ordered JOIN list: a spec fires once exactly one of its two aliases is
// already part of the FROM/JOIN chain, bringing in whichever alias wasn't;
// any alias no join spec ever reaches (an unconnected CartesianProduct
// branch) falls back to a plain cross join in discovery order.
func resolveJoinOrder(sb *scanBuild) []*RenderJoin {
	joined := map[string]bool{sb.order[0]: true}
	used := make([]bool, len(sb.joinSpecs))
	var out []*RenderJoin

	for progress := true; progress; {
		progress = false
		for i, j := range sb.joinSpecs {
			if used[i] {
				continue
			}
			leftIn, rightIn := joined[j.leftAlias], joined[j.rightAlias]
			if leftIn == rightIn {
				continue
			}
			newAlias := j.rightAlias
			if rightIn {
				newAlias = j.leftAlias
			}
			table, ok := sb.tables[newAlias]
			if !ok {
				continue
			}
			out = append(out, &RenderJoin{
				Table: table,
				On:    fmt.Sprintf("%s.%s = %s.%s", j.leftAlias, j.leftCol, j.rightAlias, j.rightCol),
				Type:  j.joinType,
			})
			joined[newAlias] = true
			used[i] = true
			progress = true
		}
	}

	for _, alias := range sb.order {
		if joined[alias] {
			continue
		}
		out = append(out, &RenderJoin{Table: sb.tables[alias], Type: logical.Inner})
		joined[alias] = true
	}
	return out
}

func reconjoin(exprs []ast.Expr) ast.Expr {
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &ast.BinaryExpr{Op: token.AND, Left: out, Right: e}
	}
	return out
}

func (sb *scanBuild) addTable(alias string, ref *TableRef) {
	if _, exists := sb.tables[alias]; exists {
		return
	}
	sb.tables[alias] = ref
	sb.order = append(sb.order, alias)
}

func (b *Builder) walkScan(plan logical.Plan, sb *scanBuild) error {
	switch n := plan.(type) {
	case *logical.GraphJoins:
		if err := b.walkScan(n.Input, sb); err != nil {
			return err
		}
		for _, j := range n.Joins {
			if j.LeftTableAlias == j.RightTableAlias {
				continue // shared-alias marker join, no SQL join needed
			}
			sb.joinSpecs = append(sb.joinSpecs, &joinSpec{
				leftAlias: j.LeftTableAlias, leftCol: j.LeftColumn,
				rightAlias: j.RightTableAlias, rightCol: j.RightColumn,
				joinType: j.JoinType,
			})
		}
		sb.wheres = append(sb.wheres, n.CorrelationPredicates...)
		return nil

	case *logical.CartesianProduct:
		if err := b.walkScan(n.Left, sb); err != nil {
			return err
		}
		if err := b.walkScan(n.Right, sb); err != nil {
			return err
		}
		if n.JoinCondition != nil {
			sb.wheres = append(sb.wheres, n.JoinCondition)
		}
		return nil

	case *logical.GraphRel:
		if n.Relationship.IsVariableLength() {
			return b.walkVLP(n, sb)
		}
		return b.walkRegularRel(n, sb)

	case *logical.GraphNode:
		vs, ok := n.Input.(*logical.ViewScan)
		if !ok {
			return &errs.RenderError{Detail: "GraphNode " + n.Alias + " never resolved to a ViewScan"}
		}
		paramValues, err := b.resolveViewParameters(vs.Label, vs.ViewParameters)
		if err != nil {
			return err
		}
		sb.addTable(n.Alias, &TableRef{
			Database:        b.schema.Database,
			Table:           vs.SourceTable,
			Alias:           n.Alias,
			ViewParameters:  vs.ViewParameters,
			ParameterValues: paramValues,
			ApplyFinal:      nodeUsesFinal(b.schema, vs.Label),
		})
		if vs.PreFilter != nil {
			sb.wheres = append(sb.wheres, vs.PreFilter)
		}
		return nil

	default:
		return &errs.RenderError{Detail: "unexpected node inside scan tree"}
	}
}

// walkRegularRel handles a fixed-length hop, applying the FullyDenormalized/
// Mixed/FKEdge storage-pattern distinction (spec.md §4.3.1, §4.8): an
// endpoint whose node table is literally the relationship table resolves
// through an alias override onto the relationship's own row instead of
// getting a separate FROM entry, since joining it to itself is redundant.
func (b *Builder) walkRegularRel(n *logical.GraphRel, sb *scanBuild) error {
	leftAlias := n.LeftConnection
	rightAlias := n.RightConnection

	leftTC, _ := b.ctx.Lookup(leftAlias)
	rightTC, _ := b.ctx.Lookup(rightAlias)
	relTC, _ := b.ctx.Lookup(n.Relationship.Alias)

	var rv *schema.RelView
	if relTC != nil {
		rv = relTC.RelView
	}

	leftDenorm, rightDenorm := false, false
	if rv != nil && leftTC != nil && leftTC.NodeView != nil {
		leftDenorm = leftTC.NodeView.Table == rv.Table
	}
	if rv != nil && rightTC != nil && rightTC.NodeView != nil {
		rightDenorm = rightTC.NodeView.Table == rv.Table
	}

	if rv != nil {
		paramValues, err := b.resolveViewParameters(rv.Type, rv.ViewParameters)
		if err != nil {
			return err
		}
		sb.addTable(n.Relationship.Alias, &TableRef{
			Database:        firstNonEmpty(rv.Database, b.schema.Database),
			Table:           rv.Table,
			Alias:           n.Relationship.Alias,
			ViewParameters:  rv.ViewParameters,
			ParameterValues: paramValues,
			ApplyFinal:      rv.UseFinal || rv.EngineForcesFinal,
		})
	}

	if leftDenorm {
		b.resolver.cteOverride[leftAlias] = &cteAliasBinding{
			tableAlias: n.Relationship.Alias, propertyMap: leftTC.NodeView.PropertyMap, idColumn: leftTC.NodeView.NodeID,
		}
	} else if err := b.walkScan(n.Left, sb); err != nil {
		return err
	}

	if rightDenorm {
		b.resolver.cteOverride[rightAlias] = &cteAliasBinding{
			tableAlias: n.Relationship.Alias, propertyMap: rightTC.NodeView.PropertyMap, idColumn: rightTC.NodeView.NodeID,
		}
	} else if err := b.walkScan(n.Right, sb); err != nil {
		return err
	}

	return nil
}

func nodeUsesFinal(s *schema.Schema, label string) bool {
	nv := s.NodeByLabel(label)
	return nv != nil && nv.UseFinal
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
