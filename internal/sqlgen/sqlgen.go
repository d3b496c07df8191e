// Package sqlgen implements the SQL Generator (spec.md §4.7): it walks a
// resolved Render Plan and builds SQL text with a strings.Builder, the same
// mechanical "walk a resolved IR, build a string" shape the teacher's own
// internal/emitter uses for its SchemaSQL/TypeScript generation. This
// package owns only text assembly; every alias.property → column decision
// was already made by internal/render's AliasResolver.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/render"
)

// Generator renders one Render Plan into SQL text.
type Generator struct {
	resolver *render.AliasResolver
}

// New creates a Generator resolving expressions against resolver (the same
// one the Render Planner built, so CTE alias overrides carry over).
func New(resolver *render.AliasResolver) *Generator {
	return &Generator{resolver: resolver}
}

// Generate renders plan into a complete SQL statement (spec.md §4.7
// "render(render_plan) -> string").
func (g *Generator) Generate(plan *render.RenderPlan) (string, error) {
	return g.renderQuery(plan)
}

func (g *Generator) renderQuery(plan *render.RenderPlan) (string, error) {
	if len(plan.UnionBranches) == 0 {
		return g.renderSingle(plan)
	}

	branches := make([]*render.RenderPlan, 0, len(plan.UnionBranches)+1)
	branches = append(branches, plan)
	branches = append(branches, plan.UnionBranches...)

	sep := "\nUNION\n"
	if plan.UnionType == logical.UnionAll {
		sep = "\nUNION ALL\n"
	}

	parts := make([]string, len(branches))
	for i, br := range branches {
		s, err := g.renderSingle(br)
		if err != nil {
			return "", err
		}
		parts[i] = "(\n" + indent(s, "  ") + "\n)"
	}
	return strings.Join(parts, sep), nil
}

// renderSingle renders one non-UNION branch: its CTE prologue (if any),
// then a single SELECT.
func (g *Generator) renderSingle(plan *render.RenderPlan) (string, error) {
	var b strings.Builder

	if len(plan.Ctes) > 0 {
		parts := make([]string, len(plan.Ctes))
		for i, c := range plan.Ctes {
			text, err := g.renderCte(c)
			if err != nil {
				return "", err
			}
			parts[i] = text
		}
		// Deliberately no "RECURSIVE" keyword here: every recursive CTE's
		// RawSQL already self-nests its own WITH RECURSIVE internally
		// (internal/render/vlp_sql.go), so the outer WITH list never needs
		// the keyword itself — satisfies "exactly one top-level WITH
		// RECURSIVE" (spec.md §4.6.2) by construction rather than by
		// detecting and re-wrapping pre-nested text at this layer.
		b.WriteString("WITH ")
		b.WriteString(strings.Join(parts, ",\n"))
		b.WriteString("\n")
	}

	sel, err := g.renderSelect(plan)
	if err != nil {
		return "", err
	}
	b.WriteString(sel)
	return b.String(), nil
}

func (g *Generator) renderCte(c *render.Cte) (string, error) {
	if c.RawSQL != "" {
		return c.RawSQL, nil
	}
	inner, err := g.renderSingle(c.Body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s AS (\n%s\n)", c.Name, indent(inner, "  ")), nil
}

func (g *Generator) renderSelect(plan *render.RenderPlan) (string, error) {
	var b strings.Builder

	b.WriteString("SELECT ")
	if plan.Distinct {
		b.WriteString("DISTINCT ")
	}
	items, err := g.renderSelectItems(plan.SelectItems)
	if err != nil {
		return "", err
	}
	b.WriteString(items)

	if plan.From != nil {
		b.WriteString("\nFROM ")
		b.WriteString(g.renderTableRef(plan.From))
	}

	for _, j := range plan.Joins {
		b.WriteString("\n")
		b.WriteString(joinKeyword(j.Type))
		b.WriteString(" ")
		b.WriteString(g.renderTableRef(j.Table))
		if j.On != "" {
			b.WriteString(" ON ")
			b.WriteString(j.On)
		}
	}

	if plan.Where != nil {
		where, err := g.renderExpr(plan.Where)
		if err != nil {
			return "", err
		}
		b.WriteString("\nWHERE ")
		b.WriteString(where)
	}

	if len(plan.GroupBy) > 0 {
		keys, err := g.renderExprList(plan.GroupBy)
		if err != nil {
			return "", err
		}
		b.WriteString("\nGROUP BY ")
		b.WriteString(keys)
	}

	if plan.Having != nil {
		having, err := g.renderExpr(plan.Having)
		if err != nil {
			return "", err
		}
		b.WriteString("\nHAVING ")
		b.WriteString(having)
	}

	if len(plan.OrderBy) > 0 {
		order, err := g.renderOrderBy(plan.OrderBy)
		if err != nil {
			return "", err
		}
		b.WriteString("\nORDER BY ")
		b.WriteString(order)
	}

	if plan.Limit != nil {
		lim, err := g.renderExpr(plan.Limit)
		if err != nil {
			return "", err
		}
		b.WriteString("\nLIMIT ")
		b.WriteString(lim)
	}

	if plan.Skip != nil {
		skip, err := g.renderExpr(plan.Skip)
		if err != nil {
			return "", err
		}
		b.WriteString("\nOFFSET ")
		b.WriteString(skip)
	}

	return b.String(), nil
}

func (g *Generator) renderSelectItems(items []*render.SelectItem) (string, error) {
	if len(items) == 0 {
		return "*", nil
	}
	parts := make([]string, len(items))
	for i, it := range items {
		expr, err := g.renderExpr(it.Expr)
		if err != nil {
			return "", err
		}
		if it.Alias != "" {
			parts[i] = fmt.Sprintf("%s AS %s", expr, quoteIdent(it.Alias))
		} else {
			parts[i] = expr
		}
	}
	return strings.Join(parts, ", "), nil
}

func (g *Generator) renderTableRef(t *render.TableRef) string {
	name := t.Table
	if t.Database != "" {
		name = t.Database + "." + t.Table
	}
	if len(t.ViewParameters) > 0 {
		args := make([]string, len(t.ViewParameters))
		for i, p := range t.ViewParameters {
			args[i] = fmt.Sprintf("%s = %s", p, t.ParameterValues[p])
		}
		name = fmt.Sprintf("%s(%s)", name, strings.Join(args, ", "))
	}
	if t.ApplyFinal {
		name += " FINAL"
	}
	if t.Alias != "" && t.Alias != t.Table {
		return fmt.Sprintf("%s AS %s", name, t.Alias)
	}
	return name
}

func (g *Generator) renderOrderBy(items []*ast.SortItem) (string, error) {
	parts := make([]string, len(items))
	for i, it := range items {
		expr, err := g.renderExpr(it.Expr)
		if err != nil {
			return "", err
		}
		if it.Descending {
			parts[i] = expr + " DESC"
		} else {
			parts[i] = expr + " ASC"
		}
	}
	return strings.Join(parts, ", "), nil
}

func joinKeyword(t logical.JoinType) string {
	if t == logical.Left {
		return "LEFT JOIN"
	}
	return "INNER JOIN"
}

func quoteIdent(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' {
			b.WriteString(`""`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
