package sqlgen

import (
	"strings"
	"testing"

	"github.com/cyphersql/graphsql/internal/analyzer"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/optimizer"
	"github.com/cyphersql/graphsql/internal/parser"
	"github.com/cyphersql/graphsql/internal/planctx"
	"github.com/cyphersql/graphsql/internal/render"
	"github.com/cyphersql/graphsql/internal/schema"
)

const socialSchemaYAML = `
graph_schema:
  graph_name: social
  database: analytics
  nodes:
    - label: User
      table: users
      node_id: id
      property_mappings:
        name: name
        email: email
    - label: Post
      table: posts
      node_id: id
      property_mappings:
        title: title
  edges:
    - type: FOLLOWS
      table: follows
      from_id: follower_id
      to_id: followee_id
      from_node: User
      to_node: User
    - type: POSTED
      table: posts
      from_id: author_id
      to_id: id
      from_node: User
      to_node: Post
`

func compileToSQL(t *testing.T, cypher string) string {
	t.Helper()
	s, err := schema.Load([]byte(socialSchemaYAML), "social")
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	q, diags := parser.Parse(cypher, "test.cypher")
	if diags.HasErrors() {
		t.Fatalf("parse errors: %v", diags.Errors())
	}
	plan, err := logical.New(s).Plan(q)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	ctx := planctx.New(s)
	plan, err = analyzer.New(s, ctx).Analyze(plan)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	plan, err = optimizer.New(s, ctx).Optimize(plan)
	if err != nil {
		t.Fatalf("optimize error: %v", err)
	}
	builder := render.New(s, ctx, func() (int, error) { return 15, nil })
	rp, err := builder.Build(plan)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	sql, err := New(builder.Resolver()).Generate(rp)
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	return sql
}

func TestGenerate_SingleHop(t *testing.T) {
	sql := compileToSQL(t, `MATCH (a:User)-[:FOLLOWS]->(b:User) WHERE a.name = 'alice' RETURN a.name, b.name`)

	if !strings.Contains(sql, "SELECT") {
		t.Fatalf("expected a SELECT statement, got:\n%s", sql)
	}
	if !strings.Contains(sql, "FROM") {
		t.Errorf("expected a FROM clause, got:\n%s", sql)
	}
	if !strings.Contains(sql, "JOIN") {
		t.Errorf("expected a JOIN clause, got:\n%s", sql)
	}
	if !strings.Contains(sql, "'alice'") {
		t.Errorf("expected the string literal to be quoted, got:\n%s", sql)
	}
	if !strings.Contains(sql, `AS "a.name"`) || !strings.Contains(sql, `AS "b.name"`) {
		t.Errorf("expected quoted select-item aliases, got:\n%s", sql)
	}
}

func TestGenerate_VariableLengthPathIncludesRecursiveCte(t *testing.T) {
	sql := compileToSQL(t, `MATCH (u:User)-[:FOLLOWS*1..2]->(f:User) WHERE u.id = 1 RETURN f.name`)

	if !strings.Contains(sql, "WITH RECURSIVE") {
		t.Errorf("expected a recursive CTE in generated SQL, got:\n%s", sql)
	}
	if !strings.HasPrefix(strings.TrimSpace(sql), "WITH ") {
		t.Errorf("expected the statement to start with WITH (no top-level RECURSIVE keyword), got:\n%s", sql)
	}
	if strings.HasPrefix(strings.TrimSpace(sql), "WITH RECURSIVE") {
		t.Errorf("top-level WITH must not carry RECURSIVE itself (spec.md §4.6.2 single-top-level rule), got:\n%s", sql)
	}
}

func TestGenerate_WithClauseProducesNestedSelect(t *testing.T) {
	sql := compileToSQL(t, `MATCH (a:User) WITH a RETURN a.name`)

	if !strings.Contains(sql, "WITH with_") {
		t.Errorf("expected a generated WITH clause CTE name, got:\n%s", sql)
	}
}

func TestGenerate_OrderByLimitSkip(t *testing.T) {
	sql := compileToSQL(t, `MATCH (a:User) RETURN a.name ORDER BY a.name DESC SKIP 5 LIMIT 10`)

	if !strings.Contains(sql, "ORDER BY") || !strings.Contains(sql, "DESC") {
		t.Errorf("expected ORDER BY ... DESC, got:\n%s", sql)
	}
	if !strings.Contains(sql, "LIMIT 10") {
		t.Errorf("expected LIMIT 10, got:\n%s", sql)
	}
	if !strings.Contains(sql, "OFFSET 5") {
		t.Errorf("expected OFFSET 5, got:\n%s", sql)
	}
}
