package render

import (
	"fmt"
	"strings"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/schema"
)

// buildVLPRecursiveBody assembles the raw `name AS (WITH RECURSIVE name_r AS
// (...) SELECT * FROM name_r WHERE hop_count BETWEEN min AND max)` text for
// one variable-length-path hop (spec.md §4.6.2). The
// generator builds text directly here rather than through a generic
// RenderPlan shape because the obligations (direction-as-UNION-ALL,
// multi-type-as-UNION-ALL, array-typed path tracking, self-referential
// recursive join) don't decompose into the ordinary SELECT/FROM/WHERE
// shape the rest of the engine uses.
func buildVLPRecursiveBody(name string, dir ast.Direction, relViews []*schema.RelView, left, right *schema.NodeView, leftProps, rightProps []string, min, max int) string {
	innerName := name + "_r"

	var branches []string
	dirs := []ast.Direction{dir}
	if dir == ast.Either {
		dirs = []ast.Direction{ast.Outgoing, ast.Incoming}
	}
	for _, rv := range relViews {
		for _, d := range dirs {
			branches = append(branches, vlpBaseBranch(rv, d, left, right, leftProps, rightProps))
		}
	}

	var recurseBranches []string
	for _, rv := range relViews {
		for _, d := range dirs {
			recurseBranches = append(recurseBranches, vlpRecurseBranch(innerName, rv, d, right, leftProps, rightProps, max))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s AS (\n", name)
	fmt.Fprintf(&b, "  WITH RECURSIVE %s AS (\n", innerName)
	b.WriteString(indent(strings.Join(branches, "\n    UNION ALL\n"), "    "))
	b.WriteString("\n    UNION ALL\n")
	b.WriteString(indent(strings.Join(recurseBranches, "\n    UNION ALL\n"), "    "))
	b.WriteString("\n  )\n")
	fmt.Fprintf(&b, "  SELECT * FROM %s WHERE hop_count BETWEEN %d AND %d\n", innerName, min, max)
	b.WriteString(")")
	return b.String()
}

func vlpBaseBranch(rv *schema.RelView, d ast.Direction, left, right *schema.NodeView, leftProps, rightProps []string) string {
	fromCol, toCol := rv.FromID, rv.ToID
	startCol, endCol := fromCol, toCol
	if d == ast.Incoming {
		startCol, endCol = toCol, fromCol
	}
	edgeIDExpr := fmt.Sprintf("concat(toString(e.%s), '-', toString(e.%s))", fromCol, toCol)

	cols := []string{
		fmt.Sprintf("e.%s AS start_id", startCol),
		fmt.Sprintf("e.%s AS end_id", endCol),
		"1 AS hop_count",
		fmt.Sprintf("[%s] AS path_edges", edgeIDExpr),
	}
	cols = append(cols, vlpEndpointColumns("start", left, leftProps, rv, rv.FromNodeProperties, "e")...)
	cols = append(cols, vlpEndpointColumns("end", right, rightProps, rv, rv.ToNodeProperties, "e")...)

	from := fmt.Sprintf("%s e", qualifiedTable(rv.Database, rv.Table))
	var joins []string
	if len(rv.FromNodeProperties) == 0 && left != nil {
		joins = append(joins, fmt.Sprintf("JOIN %s n_start ON n_start.%s = e.%s", qualifiedTable(left.Database, left.Table), left.NodeID, startCol))
	}
	if len(rv.ToNodeProperties) == 0 && right != nil {
		joins = append(joins, fmt.Sprintf("JOIN %s n_end ON n_end.%s = e.%s", qualifiedTable(right.Database, right.Table), right.NodeID, endCol))
	}

	var where string
	if rv.TypeColumn != "" && len(rv.TypeValues) > 0 {
		where = fmt.Sprintf(" WHERE e.%s IN (%s)", rv.TypeColumn, quoteList(rv.TypeValues))
	}

	return fmt.Sprintf("SELECT %s\nFROM %s\n%s%s", strings.Join(cols, ", "), from, strings.Join(joins, "\n"), where)
}

// vlpRecurseBranch joins one more edge onto an existing CTE row. It carries
// every start_* column forward unchanged (spec.md §4.6.2: "carries forward
// all columns declared by the base case with identical names") and
// recomputes the end_* columns from the newly joined edge.
func vlpRecurseBranch(cteName string, rv *schema.RelView, d ast.Direction, right *schema.NodeView, leftProps, rightProps []string, max int) string {
	fromCol, toCol := rv.FromID, rv.ToID
	startCol, endCol := fromCol, toCol
	if d == ast.Incoming {
		startCol, endCol = toCol, fromCol
	}
	edgeIDExpr := fmt.Sprintf("concat(toString(e.%s), '-', toString(e.%s))", fromCol, toCol)

	cols := []string{
		"base.start_id AS start_id",
		fmt.Sprintf("e.%s AS end_id", endCol),
		"base.hop_count + 1 AS hop_count",
		fmt.Sprintf("arrayPushBack(base.path_edges, %s) AS path_edges", edgeIDExpr),
	}
	for _, p := range leftProps {
		cols = append(cols, fmt.Sprintf("base.start_%s AS start_%s", p, p))
	}
	cols = append(cols, vlpEndpointColumns("end", right, rightProps, rv, rv.ToNodeProperties, "e")...)

	joins := []string{fmt.Sprintf("JOIN %s e ON e.%s = base.end_id", qualifiedTable(rv.Database, rv.Table), startCol)}
	if len(rv.ToNodeProperties) == 0 && right != nil {
		joins = append(joins, fmt.Sprintf("JOIN %s n_end ON n_end.%s = e.%s", qualifiedTable(right.Database, right.Table), right.NodeID, endCol))
	}
	where := fmt.Sprintf("WHERE base.hop_count < %d AND has(base.path_edges, %s) = 0", max, edgeIDExpr)

	return fmt.Sprintf("SELECT %s\nFROM %s base\n%s\n%s", strings.Join(cols, ", "), cteName, strings.Join(joins, "\n"), where)
}

func vlpEndpointColumns(prefix string, nv *schema.NodeView, props []string, rv *schema.RelView, inline map[string]string, relAlias string) []string {
	var out []string
	for _, p := range props {
		if col, ok := inline[p]; ok {
			out = append(out, fmt.Sprintf("%s.%s AS %s_%s", relAlias, col, prefix, p))
			continue
		}
		if nv == nil {
			continue
		}
		col, ok := nv.PropertyMap[p]
		if !ok {
			continue
		}
		tableAlias := "n_" + prefix
		out = append(out, fmt.Sprintf("%s.%s AS %s_%s", tableAlias, col, prefix, p))
	}
	return out
}

func qualifiedTable(database, table string) string {
	if database == "" {
		return table
	}
	return database + "." + table
}

func quoteList(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
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
