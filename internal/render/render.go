// Package render implements the Render Planner (spec.md §4.6): it lowers an
// analyzed and optimized Logical Plan into the SQL-shaped Render Plan
// (spec.md §3.5) the SQL Generator turns into text. This is the component
// that resolves alias.property references against the Schema Catalog's
// column maps, assembles FROM/JOIN lists from GraphJoins, and builds the
// recursive CTEs that implement variable-length paths (spec.md §4.6.2) —
// the hardest sub-engine in the pipeline.
//
// The split with internal/sqlgen mirrors the teacher's own planner/emitter
// split (compiler/internal/planner resolves ViewNode/ResolvedViewField/
// ResolvedViewJoin; compiler/internal/emitter walks the resolved shape into
// text): this package resolves graph patterns into the same
// {table, alias, on, type} join shape and a pruned select-item list;
// internal/sqlgen owns only the mechanical "walk a resolved tree, build a
// string" step, including the operator table and CTE-nesting rule.
package render

import (
	"fmt"
	"sort"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/planctx"
	"github.com/cyphersql/graphsql/internal/schema"
	"github.com/cyphersql/graphsql/internal/token"
)

// CteKind distinguishes a scalar (non-recursive) CTE from a recursive one
// (spec.md §3.5).
type CteKind int

const (
	Scalar CteKind = iota
	Recursive
)

// Cte is one WITH-bound common table expression. Body is set for an
// ordinary (WithClause-derived) CTE; RawSQL is set instead for a
// variable-length-path recursive CTE, whose anchor/recursive-union shape is
// assembled directly as text during Render Planning (spec.md §4.6.2) rather
// than through the generic RenderPlan shape — the renderer emits RawSQL
// verbatim rather than re-wrapping it (spec.md §4.6.2 "CTE deduplication").
type Cte struct {
	Name   string
	Kind   CteKind
	Body   *RenderPlan
	RawSQL string
}

// TableRef is one FROM/JOIN target, a physical table or a CTE reference
// (spec.md §3.5, §4.6.1 parameterized views).
type TableRef struct {
	Database        string
	Table           string
	Alias           string
	ViewParameters  []string
	ParameterValues map[string]string
	ApplyFinal      bool
}

// SelectItem is one projected SQL expression, already alias-resolved.
type SelectItem struct {
	Expr  ast.Expr
	Alias string
}

// RenderJoin is one FROM-clause JOIN (spec.md §3.5). On is a pre-qualified
// join condition ("alias.column = alias2.column2"), built once columns are
// resolved rather than carried as an expression tree — the equi-join shape
// GraphJoinInference emits never needs more than that. On is empty for a
// plain cross join (an unjoined CartesianProduct branch).
type RenderJoin struct {
	Table *TableRef
	On    string
	Type  logical.JoinType
}

// RenderPlan is the SQL-shaped tree the SQL Generator consumes (spec.md
// §3.5).
type RenderPlan struct {
	Ctes         []*Cte
	SelectItems  []*SelectItem
	From         *TableRef
	Joins        []*RenderJoin
	Where        ast.Expr
	GroupBy      []ast.Expr
	Having       ast.Expr
	OrderBy      []*ast.SortItem
	Limit        ast.Expr
	Skip         ast.Expr
	Distinct     bool
	UnionBranches []*RenderPlan
	UnionType     logical.UnionType
}

// AliasResolver maps alias.property references (and bare alias wildcards)
// to qualified SQL column expressions, consulting planctx's alias bindings
// and the Schema Catalog's property maps, plus any CTE-local overrides
// registered while building variable-length-path CTEs.
type AliasResolver struct {
	ctx *planctx.Context
	sch *schema.Schema

	// cteColumnAlias overrides, per (pattern alias), the physical table
	// alias and column-name prefix to use once that alias's data comes from
	// a VLP CTE's output instead of a direct table join.
	cteOverride map[string]*cteAliasBinding
}

// cteAliasBinding redirects a pattern alias onto another table alias's
// columns instead of its own FROM/JOIN entry: used both for
// variable-length-path endpoints (which resolve through a recursive CTE's
// output columns) and for a denormalized pattern endpoint whose properties
// live directly on the relationship row (spec.md §4.3.1/§4.8 — left/right
// table equals the relationship table, so no separate join is emitted).
type cteAliasBinding struct {
	tableAlias  string            // the physical alias actually carrying the columns
	propertyMap map[string]string // logical property -> physical column on tableAlias; nil means use the property name as-is
	idColumn    string
}

func newResolver(ctx *planctx.Context, sch *schema.Schema) *AliasResolver {
	return &AliasResolver{ctx: ctx, sch: sch, cteOverride: map[string]*cteAliasBinding{}}
}

// Column resolves alias.property to a qualified SQL column reference
// (spec.md §4.6 step 3).
func (r *AliasResolver) Column(alias, property string) (string, error) {
	if ov, ok := r.cteOverride[alias]; ok {
		col := property
		if ov.propertyMap != nil {
			mapped, ok2 := ov.propertyMap[property]
			if !ok2 {
				return "", &errs.PropertyError{Alias: alias, Property: property}
			}
			col = mapped
		}
		return fmt.Sprintf("%s.%s", ov.tableAlias, col), nil
	}
	tc, ok := r.ctx.Lookup(alias)
	if !ok {
		return "", &errs.PropertyError{Alias: alias, Property: property}
	}
	if tc.NodeView != nil {
		col, ok := tc.NodeView.PropertyMap[property]
		if !ok {
			return "", &errs.PropertyError{Alias: alias, Property: property}
		}
		return fmt.Sprintf("%s.%s", alias, col), nil
	}
	if tc.RelView != nil {
		col, ok := tc.RelView.PropertyMap[property]
		if !ok {
			return "", &errs.PropertyError{Alias: alias, Property: property}
		}
		return fmt.Sprintf("%s.%s", alias, col), nil
	}
	// Unresolved view (e.g. a YIELD/UNWIND alias never bound to a scan):
	// pass the reference through qualified by alias as-is.
	return fmt.Sprintf("%s.%s", alias, property), nil
}

// IDColumn resolves alias's identity column.
func (r *AliasResolver) IDColumn(alias string) string {
	if ov, ok := r.cteOverride[alias]; ok {
		return fmt.Sprintf("%s.%s", ov.tableAlias, ov.idColumn)
	}
	if tc, ok := r.ctx.Lookup(alias); ok {
		if tc.NodeView != nil {
			return fmt.Sprintf("%s.%s", alias, tc.NodeView.NodeID)
		}
	}
	return alias + ".id"
}

// Properties returns the property names the Plan Context recorded as
// required for alias, sorted for determinism; wildcard reports true when
// every property of the alias's view should be expanded instead (spec.md
// §4.4).
func (r *AliasResolver) Properties(alias string) (props []string, wildcard bool) {
	if r.ctx.PropertyRequirements.IsWildcard(alias) {
		return nil, true
	}
	props = r.ctx.PropertyRequirements.Properties(alias)
	sort.Strings(props)
	return props, false
}

// AllProperties returns every logical property name available on alias's
// resolved view, lexically sorted for deterministic wildcard expansion.
func (r *AliasResolver) AllProperties(alias string) []string {
	tc, ok := r.ctx.Lookup(alias)
	if !ok {
		return nil
	}
	if tc.NodeView != nil {
		return append([]string(nil), tc.NodeView.PropertyOrder...)
	}
	if tc.RelView != nil {
		return append([]string(nil), tc.RelView.PropertyOrder...)
	}
	return nil
}

// Builder builds a RenderPlan from an analyzed, optimized Logical Plan.
type Builder struct {
	schema     *schema.Schema
	ctx        *planctx.Context
	resolver   *AliasResolver
	cteSeq     int
	vlpHopsCap func() (int, error)
}

// New creates a Builder sharing ctx with the analyzer/optimizer stages that
// already ran over the plan it will be given. vlpHopsCap supplies the
// unbounded-`*`-path safety cap (spec.md §9 Open Question 3,
// config.Config.RequireVLPHopsCap): a query with an unbounded variable-length
// range calls it lazily, only when it actually needs a cap, so a deployment
// that never issues such a query never has to set
// VLP_MAX_HOPS_SAFETY_CAP.
func New(s *schema.Schema, ctx *planctx.Context, vlpHopsCap func() (int, error)) *Builder {
	return &Builder{schema: s, ctx: ctx, resolver: newResolver(ctx, s), vlpHopsCap: vlpHopsCap}
}

// Resolver exposes the AliasResolver built during Build, for the SQL
// Generator to translate expressions against the same bindings.
func (b *Builder) Resolver() *AliasResolver { return b.resolver }

// resolveViewParameters draws each of params' values in order, per spec.md
// §4.6.1: a process-provided tenant_id when the parameter is named
// "tenant_id", otherwise the per-query view_parameters map. A parameter
// satisfied by neither is a ConfigurationError naming viewName.
func (b *Builder) resolveViewParameters(viewName string, params []string) (map[string]string, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(params))
	for _, p := range params {
		if p == "tenant_id" && b.ctx.TenantID != "" {
			out[p] = b.ctx.TenantID
			continue
		}
		v, ok := b.ctx.ViewParameters[p]
		if !ok {
			return nil, &errs.ConfigurationError{Parameter: p, View: viewName}
		}
		out[p] = v
	}
	return out, nil
}

// Build lowers plan into a RenderPlan (spec.md §4.6 "build(logical_plan,
// plan_ctx, schema)").
func (b *Builder) Build(plan logical.Plan) (*RenderPlan, error) {
	return b.build(plan)
}

func (b *Builder) build(plan logical.Plan) (*RenderPlan, error) {
	switch n := plan.(type) {
	case *logical.Limit:
		inner, err := b.build(n.Input)
		if err != nil {
			return nil, err
		}
		inner.Limit = n.Count
		return inner, nil

	case *logical.Skip:
		inner, err := b.build(n.Input)
		if err != nil {
			return nil, err
		}
		inner.Skip = n.Count
		return inner, nil

	case *logical.OrderBy:
		inner, err := b.build(n.Input)
		if err != nil {
			return nil, err
		}
		inner.OrderBy = n.Items
		return inner, nil

	case *logical.Projection:
		return b.buildProjection(n)

	case *logical.WithClause:
		return b.buildWithClause(n)

	case *logical.GroupBy:
		return b.buildGroupBy(n)

	case *logical.Union:
		return b.buildUnion(n)

	case *logical.Filter:
		inner, err := b.build(n.Input)
		if err != nil {
			return nil, err
		}
		if inner.Where == nil {
			inner.Where = n.Predicate
		} else {
			inner.Where = &ast.BinaryExpr{Left: inner.Where, Right: n.Predicate, Op: token.AND}
		}
		return inner, nil

	case *logical.Unwind:
		// A surviving Unwind (not eliminated by CollectUnwindElimination)
		// has no direct table-based SQL shape in this engine; it always sits
		// under a WithClause whose CTE already carries the source rows, so
		// by render time the alias is just a synonym resolved via the
		// AliasResolver's ctx lookup like any other bound alias.
		return b.build(n.Input)

	case *logical.GraphJoins, *logical.GraphRel, *logical.GraphNode, *logical.CartesianProduct:
		return b.buildScanTree(plan)

	case *logical.GraphAlgorithm:
		return b.buildGraphAlgorithm(n)

	default:
		return nil, &errs.RenderError{Detail: fmt.Sprintf("render planner: unhandled logical node %T", plan)}
	}
}

func (b *Builder) buildProjection(p *logical.Projection) (*RenderPlan, error) {
	from, err := b.build(p.Input)
	if err != nil {
		return nil, err
	}
	items, err := b.expandProjectionItems(p.Items)
	if err != nil {
		return nil, err
	}
	from.SelectItems = items
	from.Distinct = p.Distinct
	return from, nil
}

func (b *Builder) buildGroupBy(g *logical.GroupBy) (*RenderPlan, error) {
	from, err := b.build(g.Input)
	if err != nil {
		return nil, err
	}
	from.GroupBy = g.Keys
	items, err := b.expandProjectionItems(g.Aggregates)
	if err != nil {
		return nil, err
	}
	from.SelectItems = items
	return from, nil
}

// expandProjectionItems implements property pruning expansion (spec.md
// §4.4): a bare alias reference expands to every available property plus
// the id column (wildcard); an alias.property reference passes through
// unchanged; everything else is projected as given.
func (b *Builder) expandProjectionItems(items []*logical.ProjectionItemPlan) ([]*SelectItem, error) {
	var out []*SelectItem
	for _, item := range items {
		v, ok := item.Expression.(*ast.Variable)
		if !ok {
			out = append(out, &SelectItem{Expr: item.Expression, Alias: defaultItemAlias(item)})
			continue
		}
		props, wildcard := b.resolver.Properties(v.Name)
		if wildcard {
			props = b.resolver.AllProperties(v.Name)
		}
		seen := map[string]bool{}
		for _, prop := range props {
			if seen[prop] {
				continue
			}
			seen[prop] = true
			out = append(out, &SelectItem{
				Expr:  &ast.PropertyAccess{Target: v, Property: prop},
				Alias: v.Name + "." + prop,
			})
		}
		if tc, ok := b.ctx.Lookup(v.Name); ok && tc.NodeView != nil {
			idLogical := logicalNameForColumn(tc.NodeView, tc.NodeView.NodeID)
			if !seen[idLogical] {
				out = append(out, &SelectItem{
					Expr:  &ast.PropertyAccess{Target: v, Property: idLogical},
					Alias: v.Name + "." + idLogical,
				})
			}
		}
	}
	return out, nil
}

// defaultItemAlias falls back to "alias.property" for an unaliased
// alias.property projection (e.g. plain RETURN a.name with no AS) so the
// column always carries a stable, predictable name downstream; anything
// else unaliased keeps whatever alias the parser assigned, even if empty.
func defaultItemAlias(item *logical.ProjectionItemPlan) string {
	if item.Alias != "" {
		return item.Alias
	}
	if pa, ok := item.Expression.(*ast.PropertyAccess); ok {
		if v, ok := pa.Target.(*ast.Variable); ok {
			return v.Name + "." + pa.Property
		}
	}
	return item.Alias
}

func logicalNameForColumn(nv *schema.NodeView, column string) string {
	for logical, col := range nv.PropertyMap {
		if col == column {
			return logical
		}
	}
	return "id"
}
