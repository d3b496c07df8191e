// Package planctx implements the Plan Context: the mutable side table shared
// across analyzer and optimizer passes for one compilation (spec.md §3.4).
// Logical Plan trees stay immutable; anything passes need to accumulate or
// look up lives here instead (spec.md §9).
package planctx

import (
	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/diag"
	"github.com/cyphersql/graphsql/internal/schema"
)

// TableCtx records what an alias resolved to: its label, the view backing
// it, and the role it plays in its owning pattern.
type TableCtx struct {
	Alias string
	Label string
	NodeView *schema.NodeView
	RelView  *schema.RelView
	Role     string // e.g. "node", "relationship"
}

// PropertyRequirements is the per-alias set of properties demanded by
// downstream operators (spec.md §4.4); Wildcards marks aliases whose full
// property set must be expanded.
type PropertyRequirements struct {
	PerAlias  map[string]map[string]bool
	Wildcards map[string]bool
}

// NewPropertyRequirements creates an empty requirements set.
func NewPropertyRequirements() *PropertyRequirements {
	return &PropertyRequirements{
		PerAlias:  make(map[string]map[string]bool),
		Wildcards: make(map[string]bool),
	}
}

// Require records that alias.property is needed downstream.
func (r *PropertyRequirements) Require(alias, property string) {
	if r.Wildcards[alias] {
		return
	}
	set, ok := r.PerAlias[alias]
	if !ok {
		set = make(map[string]bool)
		r.PerAlias[alias] = set
	}
	set[property] = true
}

// RequireWildcard marks alias as needing every available property.
func (r *PropertyRequirements) RequireWildcard(alias string) {
	r.Wildcards[alias] = true
	delete(r.PerAlias, alias)
}

// IsWildcard reports whether alias was marked wildcard.
func (r *PropertyRequirements) IsWildcard(alias string) bool {
	return r.Wildcards[alias]
}

// Properties returns the sorted-insertion-agnostic set of properties
// required for alias. Callers needing deterministic order should sort.
func (r *PropertyRequirements) Properties(alias string) []string {
	set, ok := r.PerAlias[alias]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Context is the full mutable side table for one compilation.
type Context struct {
	Aliases               map[string]*TableCtx
	PropertyRequirements  *PropertyRequirements
	CorrelationPredicates []ast.Expr
	Diagnostics           *diag.Diagnostics
	Schema                *schema.Schema
	TenantID              string
	ViewParameters        map[string]string

	// CteColumns holds, per WithClause/Unwind plan node (keyed by pointer
	// identity since the IR is immutable), the resolved set of output
	// columns CteColumnResolver decided it must expose (spec.md §4.3 pass 8).
	CteColumns map[interface{}][]string
}

// New creates an empty Context bound to s.
func New(s *schema.Schema) *Context {
	return &Context{
		Aliases:              make(map[string]*TableCtx),
		PropertyRequirements: NewPropertyRequirements(),
		Diagnostics:          diag.New(),
		Schema:               s,
		ViewParameters:       make(map[string]string),
		CteColumns:           make(map[interface{}][]string),
	}
}

// BindAlias records (or overwrites) the TableCtx for alias.
func (c *Context) BindAlias(alias string, tc *TableCtx) {
	c.Aliases[alias] = tc
}

// Lookup resolves an alias to its TableCtx, if bound.
func (c *Context) Lookup(alias string) (*TableCtx, bool) {
	tc, ok := c.Aliases[alias]
	return tc, ok
}

// AddCorrelationPredicate records a cross-WITH-scope equality discovered by
// an optimizer pass (spec.md §9).
func (c *Context) AddCorrelationPredicate(e ast.Expr) {
	c.CorrelationPredicates = append(c.CorrelationPredicates, e)
}
