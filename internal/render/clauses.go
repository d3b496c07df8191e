package render

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/token"
)

// buildWithClause lowers a WITH clause into a scalar CTE (spec.md §4.6 step
// 1: "collect CTEs from variable-length paths, WITH clauses, and any nested
// UNIONs"). Every alias it exports is rebound in the AliasResolver onto the
// new CTE's columns, so every downstream reference resolves transparently.
func (b *Builder) buildWithClause(w *logical.WithClause) (*RenderPlan, error) {
	inner, err := b.build(w.Input)
	if err != nil {
		return nil, err
	}
	items, err := b.expandProjectionItems(w.Items)
	if err != nil {
		return nil, err
	}
	inner.SelectItems = items
	inner.Distinct = w.Distinct
	if w.Where != nil {
		if inner.Where == nil {
			inner.Where = w.Where
		} else {
			inner.Where = &ast.BinaryExpr{Left: inner.Where, Right: w.Where, Op: token.AND}
		}
	}
	if len(w.OrderBy) > 0 {
		inner.OrderBy = w.OrderBy
	}
	if w.Skip != nil {
		inner.Skip = w.Skip
	}
	if w.Limit != nil {
		inner.Limit = w.Limit
	}

	b.cteSeq++
	name := fmt.Sprintf("with_%d_%x", b.cteSeq, xxh3.HashString(fmt.Sprintf("%v", w.ExportedAliases))&0xffff)
	cte := &Cte{Name: name, Kind: Scalar, Body: inner}

	out := &RenderPlan{Ctes: []*Cte{cte}, From: &TableRef{Table: name, Alias: name}}
	b.rebindExportedAliases(w.ExportedAliases, name)

	return out, nil
}

// rebindExportedAliases makes every exported alias resolve through the new
// CTE's output columns (named "<alias>.<property>" by expandProjectionItems,
// sanitized the same way sqlgen sanitizes a SELECT alias).
func (b *Builder) rebindExportedAliases(aliases []string, cteName string) {
	for _, alias := range aliases {
		column := func(p string) string {
			return `"` + strings.ReplaceAll(alias+"."+p, `"`, `""`) + `"`
		}
		props, wildcard := b.resolver.Properties(alias)
		propertyMap := map[string]string{}
		if wildcard {
			for _, p := range b.resolver.AllProperties(alias) {
				propertyMap[p] = column(p)
			}
		} else {
			for _, p := range props {
				propertyMap[p] = column(p)
			}
		}
		idProp := "id"
		if tc, ok := b.ctx.Lookup(alias); ok && tc.NodeView != nil {
			idProp = logicalNameForColumn(tc.NodeView, tc.NodeView.NodeID)
			propertyMap[idProp] = column(idProp)
		}
		b.resolver.cteOverride[alias] = &cteAliasBinding{tableAlias: cteName, propertyMap: propertyMap, idColumn: column(idProp)}
	}
}

// buildUnion lowers a Union (UNION/UNION ALL, or the PatternResolver's
// typed-clone explosion) into sibling RenderPlan branches (spec.md §4.6
// step 1).
func (b *Builder) buildUnion(u *logical.Union) (*RenderPlan, error) {
	branches := make([]*RenderPlan, 0, len(u.Inputs))
	for _, in := range u.Inputs {
		branch, err := b.build(in)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if len(branches) == 0 {
		return nil, &errs.RenderError{Detail: "union with no branches"}
	}
	first := branches[0]
	first.UnionBranches = branches[1:]
	first.UnionType = u.UnionType
	return first, nil
}

// buildGraphAlgorithm lowers a CALL-form analytic invocation or a
// shortestPath/allShortestPaths pattern into its own scalar CTE, since both
// shapes are opaque "engine computes and yields columns" calls rather than
// graph patterns the join inferencer already resolved.
func (b *Builder) buildGraphAlgorithm(g *logical.GraphAlgorithm) (*RenderPlan, error) {
	if g.Pattern != nil {
		return b.buildShortestPath(g)
	}

	args := make([]string, len(g.Args))
	for i, a := range g.Args {
		name := ""
		if i < len(g.ArgNames) {
			name = g.ArgNames[i]
		}
		args[i] = fmt.Sprintf("%s := %v", name, a)
	}

	b.cteSeq++
	name := fmt.Sprintf("algo_%d_%s", b.cteSeq, sanitizeIdent(g.Name))
	cte := &Cte{Name: name, Kind: Scalar, RawSQL: fmt.Sprintf("%s AS (SELECT * FROM %s(%v))", name, g.Name, args)}

	for _, y := range g.Yield {
		b.resolver.cteOverride[y] = &cteAliasBinding{tableAlias: name, idColumn: "id"}
	}

	return &RenderPlan{Ctes: []*Cte{cte}, From: &TableRef{Table: name, Alias: name}}, nil
}

// buildShortestPath lowers shortestPath()/allShortestPaths() into the
// variable-length-path recursive CTE plus the second-tier
// minimum-hop-per-(start,end) CTE spec.md §4.6.2 describes.
func (b *Builder) buildShortestPath(g *logical.GraphAlgorithm) (*RenderPlan, error) {
	pattern := g.Pattern
	if len(pattern.Nodes) < 2 || len(pattern.Rels) != 1 {
		return nil, &errs.RenderError{Detail: "shortestPath requires exactly one relationship hop"}
	}
	leftNode, rightNode := pattern.Nodes[0], pattern.Nodes[1]
	rel := pattern.Rels[0]

	leftAlias, rightAlias := leftNode.Variable, rightNode.Variable
	leftTC, _ := b.ctx.Lookup(leftAlias)
	rightTC, _ := b.ctx.Lookup(rightAlias)
	if leftTC == nil || leftTC.NodeView == nil || rightTC == nil || rightTC.NodeView == nil {
		return nil, &errs.RenderError{Detail: "shortestPath endpoints did not resolve against schema"}
	}

	grel := &logical.GraphRel{
		Left:            &logical.GraphNode{Alias: leftAlias, Label: leftTC.Label},
		Right:           &logical.GraphNode{Alias: rightAlias, Label: rightTC.Label},
		Relationship:    &logical.Relationship{Alias: rel.Variable, Types: rel.Types, Direction: rel.Direction, Range: &ast.RangeLiteral{}},
		LeftConnection:  leftAlias,
		RightConnection: rightAlias,
	}

	sb := &scanBuild{tables: map[string]*TableRef{}}
	if err := b.walkVLP(grel, sb); err != nil {
		return nil, err
	}
	vlpCte := sb.ctes[0]

	b.cteSeq++
	shortName := fmt.Sprintf("shortest_%d_%s", b.cteSeq, sanitizeIdent(rel.Variable))
	shortBody := fmt.Sprintf(
		"%s AS (\n  SELECT start_id, end_id, min(hop_count) AS hop_count\n  FROM %s\n  GROUP BY start_id, end_id\n)",
		shortName, vlpCte.Name,
	)
	shortCte := &Cte{Name: shortName, Kind: Scalar, RawSQL: shortBody}

	return &RenderPlan{
		Ctes: []*Cte{vlpCte, shortCte},
		From: &TableRef{Table: shortName, Alias: shortName},
	}, nil
}
