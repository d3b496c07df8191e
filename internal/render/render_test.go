package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/cyphersql/graphsql/internal/analyzer"
	"github.com/cyphersql/graphsql/internal/errs"
	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/optimizer"
	"github.com/cyphersql/graphsql/internal/parser"
	"github.com/cyphersql/graphsql/internal/planctx"
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

// fixedVLPCap stubs config.Config.RequireVLPHopsCap for tests that don't
// exercise the unbounded-`*` path: it never needs to be called by a query
// with an explicit upper bound.
func fixedVLPCap(n int) func() (int, error) {
	return func() (int, error) { return n, nil }
}

func mustBuildRenderPlan(t *testing.T, yamlText, cypher string) *RenderPlan {
	t.Helper()
	s, err := schema.Load([]byte(yamlText), "social")
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
	rp, err := New(s, ctx, fixedVLPCap(15)).Build(plan)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	return rp
}

func TestBuild_SingleHopProducesFromAndJoin(t *testing.T) {
	rp := mustBuildRenderPlan(t, socialSchemaYAML, `MATCH (a:User)-[:FOLLOWS]->(b:User) RETURN a.name, b.name`)

	if rp.From == nil {
		t.Fatalf("expected a FROM table")
	}
	if len(rp.SelectItems) != 2 {
		t.Fatalf("expected 2 select items, got %d: %+v", len(rp.SelectItems), rp.SelectItems)
	}

	var sawA, sawB bool
	for _, it := range rp.SelectItems {
		switch it.Alias {
		case "a.name":
			sawA = true
		case "b.name":
			sawB = true
		}
	}
	if !sawA || !sawB {
		t.Errorf("expected a.name and b.name in select items, got %+v", rp.SelectItems)
	}
}

func TestBuild_WithClauseProducesScalarCte(t *testing.T) {
	rp := mustBuildRenderPlan(t, socialSchemaYAML, `MATCH (a:User) WITH a RETURN a.name`)

	if len(rp.Ctes) != 1 {
		t.Fatalf("expected exactly one CTE from the WITH clause, got %d", len(rp.Ctes))
	}
	if rp.Ctes[0].Kind != Scalar {
		t.Errorf("expected a scalar CTE, got kind %v", rp.Ctes[0].Kind)
	}
	if rp.From == nil || rp.From.Table != rp.Ctes[0].Name {
		t.Errorf("expected FROM to reference the generated CTE %q, got %+v", rp.Ctes[0].Name, rp.From)
	}
}

func TestBuild_VariableLengthPathEmitsRecursiveCte(t *testing.T) {
	rp := mustBuildRenderPlan(t, socialSchemaYAML,
		`MATCH (u:User)-[:FOLLOWS*1..2]->(f:User) WHERE u.id = 1 RETURN f.name`)

	var recursive *Cte
	for _, c := range rp.Ctes {
		if c.Kind == Recursive {
			recursive = c
		}
	}
	if recursive == nil {
		t.Fatalf("expected a recursive CTE among %+v", rp.Ctes)
	}
	if !strings.Contains(recursive.RawSQL, "WITH RECURSIVE") {
		t.Errorf("expected recursive CTE body to contain WITH RECURSIVE, got:\n%s", recursive.RawSQL)
	}
	if !strings.Contains(recursive.RawSQL, "hop_count") {
		t.Errorf("expected hop_count tracking in recursive CTE body")
	}
}

// buildRenderPlanWithCap is mustBuildRenderPlan but lets the caller supply
// the VLP hops-cap function, to exercise the unbounded-`*` path directly.
func buildRenderPlanWithCap(t *testing.T, yamlText, cypher string, cap func() (int, error)) (*RenderPlan, error) {
	t.Helper()
	s, err := schema.Load([]byte(yamlText), "social")
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
	return New(s, ctx, cap).Build(plan)
}

func TestBuild_UnboundedVariableLengthPathUsesConfiguredCap(t *testing.T) {
	rp, err := buildRenderPlanWithCap(t, socialSchemaYAML,
		`MATCH (u:User)-[:FOLLOWS*1..]->(f:User) WHERE u.id = 1 RETURN f.name`, fixedVLPCap(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var recursive *Cte
	for _, c := range rp.Ctes {
		if c.Kind == Recursive {
			recursive = c
		}
	}
	if recursive == nil {
		t.Fatalf("expected a recursive CTE among %+v", rp.Ctes)
	}
	if !strings.Contains(recursive.RawSQL, "42") {
		t.Errorf("expected the configured cap (42) to bound the recursive CTE, got:\n%s", recursive.RawSQL)
	}
}

func TestBuild_UnboundedVariableLengthPathWithNoCapConfiguredErrors(t *testing.T) {
	noCap := func() (int, error) { return 0, &errs.ConfigurationError{Parameter: "VLP_MAX_HOPS_SAFETY_CAP"} }
	_, err := buildRenderPlanWithCap(t, socialSchemaYAML,
		`MATCH (u:User)-[:FOLLOWS*1..]->(f:User) WHERE u.id = 1 RETURN f.name`, noCap)
	var cfgErr *errs.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected a *errs.ConfigurationError for an unbounded path with no cap set, got %v", err)
	}
}

func TestAliasResolver_UnknownPropertyErrors(t *testing.T) {
	s, err := schema.Load([]byte(socialSchemaYAML), "social")
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	ctx := planctx.New(s)
	ctx.BindAlias("a", &planctx.TableCtx{Alias: "a", NodeView: s.NodeByLabel("User")})

	b := New(s, ctx, fixedVLPCap(15))
	if _, err := b.Resolver().Column("a", "does_not_exist"); err == nil {
		t.Errorf("expected an error resolving an unknown property")
	}
	col, err := b.Resolver().Column("a", "name")
	if err != nil || col != "a.name" {
		t.Errorf("expected a.name, got %q, err %v", col, err)
	}
}
