package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/schema"
	"github.com/cyphersql/graphsql/internal/token"
)

// walkVLP lowers one `(a)-[r:T* min..max]-(b)` hop into a recursive CTE
// (spec.md §4.6.2), registers the CTE as the scan tree's table for this hop,
// and redirects the endpoint aliases onto the CTE's output columns instead
// of a direct table join.
func (b *Builder) walkVLP(n *logical.GraphRel, sb *scanBuild) error {
	leftAlias, rightAlias := n.LeftConnection, n.RightConnection
	leftTC, _ := b.ctx.Lookup(leftAlias)
	rightTC, _ := b.ctx.Lookup(rightAlias)
	if leftTC == nil || leftTC.NodeView == nil || rightTC == nil || rightTC.NodeView == nil {
		return &errs.RenderError{Detail: "variable-length path endpoint missing a resolved node view"}
	}

	relTypes := n.Relationship.Types
	if len(relTypes) == 0 {
		relTypes = b.expandWildcardRelTypes(leftTC.NodeView, rightTC.NodeView)
	}
	var relViews []*schema.RelView
	for _, t := range relTypes {
		if rv := b.schema.RelByType(t); rv != nil {
			relViews = append(relViews, rv)
		}
	}
	if len(relViews) == 0 {
		return &errs.RenderError{Detail: "variable-length path relationship type(s) do not resolve against schema"}
	}

	min, max := 1, 0
	if rg := n.Relationship.Range; rg != nil {
		if rg.Min != nil {
			min = *rg.Min
		}
		if rg.Max != nil {
			max = *rg.Max
		} else {
			cap, err := b.vlpHopsCap()
			if err != nil {
				return err
			}
			max = cap
		}
	}

	leftProps := requiredPropsOrAll(b.resolver, leftAlias, leftTC.NodeView)
	rightProps := requiredPropsOrAll(b.resolver, rightAlias, rightTC.NodeView)

	name := vlpCteName(leftAlias, n.Relationship.Alias, rightAlias)
	body := buildVLPRecursiveBody(name, n.Relationship.Direction, relViews, leftTC.NodeView, rightTC.NodeView, leftProps, rightProps, min, max)

	cte := &Cte{Name: name, Kind: Recursive, RawSQL: body}
	sb.ctes = append(sb.ctes, cte)
	sb.addTable(name, &TableRef{Table: name, Alias: name})

	leftMap := map[string]string{}
	for _, p := range leftProps {
		leftMap[p] = "start_" + p
	}
	rightMap := map[string]string{}
	for _, p := range rightProps {
		rightMap[p] = "end_" + p
	}
	b.resolver.cteOverride[name] = &cteAliasBinding{tableAlias: name, idColumn: "start_id"}
	b.resolver.cteOverride[leftAlias] = &cteAliasBinding{tableAlias: name, propertyMap: leftMap, idColumn: "start_id"}
	b.resolver.cteOverride[rightAlias] = &cteAliasBinding{tableAlias: name, propertyMap: rightMap, idColumn: "end_id"}
	if relAlias := n.Relationship.Alias; relAlias != "" {
		b.resolver.cteOverride[relAlias] = &cteAliasBinding{tableAlias: name, propertyMap: map[string]string{"hop_count": "hop_count"}, idColumn: "hop_count"}
	}

	sb.wheres = append(sb.wheres, &ast.BinaryExpr{
		Op:   token.AND,
		Left: &ast.BinaryExpr{Op: token.GTE, Left: &ast.PropertyAccess{Target: &ast.Variable{Name: name}, Property: "hop_count"}, Right: intLit(min)},
		Right: &ast.BinaryExpr{Op: token.LTE, Left: &ast.PropertyAccess{Target: &ast.Variable{Name: name}, Property: "hop_count"}, Right: intLit(max)},
	})

	return nil
}

// expandWildcardRelTypes implements generic-`[*]` expansion (spec.md
// §4.6.2): every relationship type whose endpoint labels admit left/right.
func (b *Builder) expandWildcardRelTypes(left, right *schema.NodeView) []string {
	var out []string
	for relType, rv := range b.schema.Relationships {
		if (rv.FromLabel == "" || rv.FromLabel == left.Label) && (rv.ToLabel == "" || rv.ToLabel == right.Label) {
			out = append(out, relType)
		}
	}
	sort.Strings(out)
	return out
}

func requiredPropsOrAll(r *AliasResolver, alias string, nv *schema.NodeView) []string {
	props, wildcard := r.Properties(alias)
	if wildcard || len(props) == 0 {
		return append([]string(nil), nv.PropertyOrder...)
	}
	return props
}

// vlpCteName builds a deterministic, short CTE identifier: a hash of the
// pattern shape keeps names stable across re-compiles of the same query
// text (needed for cache-key/template reuse) while staying unique enough
// not to collide with a second VLP hop in the same query.
func vlpCteName(left, rel, right string) string {
	seed := left + "|" + rel + "|" + right
	h := xxh3.HashString(seed)
	return fmt.Sprintf("vlp_%s_%x", sanitizeIdent(rel), h&0xffffff)
}

// sanitizeIdent turns s into a valid identifier fragment. An empty s (no
// relationship variable bound to this hop/path) falls back to the fixed
// "anon" rather than a random suffix: callers already fold a deterministic
// pattern hash or sequence counter into the full generated name, so this
// only needs to be a valid fragment, not itself unique (spec.md §8
// Determinism, §4.7 stable alias generation).
func sanitizeIdent(s string) string {
	if s == "" {
		s = "anon"
	}
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func intLit(n int) ast.Expr {
	return &ast.IntLiteral{Value: int64(n)}
}
