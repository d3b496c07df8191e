package logical

import (
	"testing"

	"github.com/cyphersql/graphsql/internal/parser"
)

func planQuery(t *testing.T, cypher string) Plan {
	t.Helper()
	q, diags := parser.Parse(cypher, "test.cypher")
	if diags.HasErrors() {
		t.Fatalf("parse errors: %v", diags.Errors())
	}
	p := New(nil)
	plan, err := p.Plan(q)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	return plan
}

func TestPlan_SingleHopMatchReturn(t *testing.T) {
	plan := planQuery(t, `MATCH (a:User)-[:FOLLOWS]->(b:User) RETURN a.name, b.name`)

	proj, ok := plan.(*Projection)
	if !ok {
		t.Fatalf("expected *Projection at top, got %T", plan)
	}
	if proj.Kind != KindReturn || len(proj.Items) != 2 {
		t.Fatalf("unexpected projection: %+v", proj)
	}

	rel, ok := proj.Input.(*GraphRel)
	if !ok {
		t.Fatalf("expected *GraphRel beneath projection, got %T", proj.Input)
	}
	if rel.Relationship.Types[0] != "FOLLOWS" {
		t.Errorf("unexpected rel types: %+v", rel.Relationship.Types)
	}
	left, ok := rel.Left.(*GraphNode)
	if !ok || left.Alias != "a" {
		t.Fatalf("expected left GraphNode a, got %+v", rel.Left)
	}
	if rel.Right.Alias != "b" {
		t.Errorf("expected right alias b, got %q", rel.Right.Alias)
	}
}

func TestPlan_MultiHopNestsLeft(t *testing.T) {
	plan := planQuery(t, `MATCH (a)-[:R1]->(b)-[:R2]->(c) RETURN c`)
	proj := plan.(*Projection)
	outer, ok := proj.Input.(*GraphRel)
	if !ok {
		t.Fatalf("expected outer *GraphRel, got %T", proj.Input)
	}
	if outer.Right.Alias != "c" {
		t.Errorf("expected outer right alias c, got %q", outer.Right.Alias)
	}
	inner, ok := outer.Left.(*GraphRel)
	if !ok {
		t.Fatalf("expected nested *GraphRel on the left, got %T", outer.Left)
	}
	if inner.Right.Alias != "b" {
		t.Errorf("expected inner right alias b, got %q", inner.Right.Alias)
	}
}

func TestPlan_OptionalMatchTagsIsOptional(t *testing.T) {
	plan := planQuery(t, `OPTIONAL MATCH (a)-[:R]->(b) RETURN b`)
	proj := plan.(*Projection)
	rel := proj.Input.(*GraphRel)
	if !rel.IsOptional {
		t.Error("expected IsOptional = true")
	}
}

func TestPlan_LimitSkipOrderByNestOuterToInner(t *testing.T) {
	plan := planQuery(t, `MATCH (a) RETURN a.name ORDER BY a.name SKIP 5 LIMIT 10`)
	limit, ok := plan.(*Limit)
	if !ok {
		t.Fatalf("expected outermost *Limit, got %T", plan)
	}
	skip, ok := limit.Input.(*Skip)
	if !ok {
		t.Fatalf("expected *Skip beneath Limit, got %T", limit.Input)
	}
	order, ok := skip.Input.(*OrderBy)
	if !ok {
		t.Fatalf("expected *OrderBy beneath Skip, got %T", skip.Input)
	}
	if _, ok := order.Input.(*Projection); !ok {
		t.Fatalf("expected *Projection innermost, got %T", order.Input)
	}
}

func TestPlan_CommaPatternsProduceCartesianProduct(t *testing.T) {
	plan := planQuery(t, `MATCH (a:User), (b:Org) RETURN a, b`)
	proj := plan.(*Projection)
	if _, ok := proj.Input.(*CartesianProduct); !ok {
		t.Fatalf("expected *CartesianProduct, got %T", proj.Input)
	}
}

func TestPlan_UnwindAndWith(t *testing.T) {
	plan := planQuery(t, `MATCH (a) WITH a, collect(a.id) AS ids UNWIND ids AS i RETURN i`)
	proj := plan.(*Projection)
	unwind, ok := proj.Input.(*Unwind)
	if !ok {
		t.Fatalf("expected *Unwind, got %T", proj.Input)
	}
	if unwind.Alias != "i" {
		t.Errorf("expected alias i, got %q", unwind.Alias)
	}
	with, ok := unwind.Input.(*WithClause)
	if !ok {
		t.Fatalf("expected *WithClause, got %T", unwind.Input)
	}
	if len(with.Items) != 2 || with.ExportedAliases[1] != "ids" {
		t.Errorf("unexpected WITH shape: %+v", with)
	}
}

func TestPlan_VariableLengthRelationship(t *testing.T) {
	plan := planQuery(t, `MATCH (a)-[:FOLLOWS*1..3]->(b) RETURN b`)
	proj := plan.(*Projection)
	rel := proj.Input.(*GraphRel)
	if !rel.Relationship.IsVariableLength() {
		t.Fatal("expected variable-length relationship")
	}
}

func TestPlan_ShortestPathBecomesGraphAlgorithm(t *testing.T) {
	plan := planQuery(t, `MATCH p = shortestPath((a:User)-[:FOLLOWS*]-(b:User)) RETURN p`)
	proj := plan.(*Projection)
	algo, ok := proj.Input.(*GraphAlgorithm)
	if !ok {
		t.Fatalf("expected *GraphAlgorithm, got %T", proj.Input)
	}
	if algo.Name != "shortestPath" || algo.Pattern == nil {
		t.Errorf("unexpected algorithm plan: %+v", algo)
	}
}
