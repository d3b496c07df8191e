package analyzer

import (
	"testing"

	"github.com/cyphersql/graphsql/internal/logical"
	"github.com/cyphersql/graphsql/internal/parser"
	"github.com/cyphersql/graphsql/internal/planctx"
	"github.com/cyphersql/graphsql/internal/schema"
)

const sampleSchemaYAML = `
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

const denormalizedSchemaYAML = `
graph_schema:
  graph_name: denorm
  database: analytics
  nodes:
    - label: A
      table: shared_tbl
      node_id: a_id
    - label: B
      table: shared_tbl
      node_id: b_id
  edges:
    - type: REL
      table: shared_tbl
      from_id: a_id
      to_id: b_id
      from_node: A
      to_node: B
`

func mustLoadSchema(t *testing.T, yamlText string, name string) *schema.Schema {
	t.Helper()
	s, err := schema.Load([]byte(yamlText), name)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	return s
}

func analyzeQuery(t *testing.T, s *schema.Schema, cypher string) (logical.Plan, *planctx.Context) {
	t.Helper()
	q, diags := parser.Parse(cypher, "test.cypher")
	if diags.HasErrors() {
		t.Fatalf("parse errors: %v", diags.Errors())
	}
	plan, err := logical.New(s).Plan(q)
	if err != nil {
		t.Fatalf("plan error: %v", err)
	}
	ctx := planctx.New(s)
	out, err := New(s, ctx).Analyze(plan)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	return out, ctx
}

// unwrapToGraphJoins descends through the outer Projection/Filter/OrderBy/
// Skip/Limit wrappers most test queries produce, returning the first
// *logical.GraphJoins it finds.
func unwrapToGraphJoins(t *testing.T, plan logical.Plan) *logical.GraphJoins {
	t.Helper()
	for {
		switch n := plan.(type) {
		case *logical.Projection:
			plan = n.Input
		case *logical.Filter:
			plan = n.Input
		case *logical.OrderBy:
			plan = n.Input
		case *logical.Skip:
			plan = n.Input
		case *logical.Limit:
			plan = n.Input
		case *logical.GraphJoins:
			return n
		default:
			t.Fatalf("expected to reach *GraphJoins, got %T", plan)
			return nil
		}
	}
}

func TestAnalyze_ResolvesViewScanForLabeledNode(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, _ := analyzeQuery(t, s, `MATCH (a:User) RETURN a.name`)

	proj := plan.(*logical.Projection)
	node, ok := proj.Input.(*logical.GraphNode)
	if !ok {
		t.Fatalf("expected *GraphNode, got %T", proj.Input)
	}
	scan, ok := node.Input.(*logical.ViewScan)
	if !ok {
		t.Fatalf("expected GraphNode.Input to be *ViewScan, got %T", node.Input)
	}
	if scan.SourceTable != "users" || scan.IDColumn != "id" {
		t.Errorf("unexpected view scan: %+v", scan)
	}
}

func TestAnalyze_TypeInferenceStampsEndpointLabel(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, _ := analyzeQuery(t, s, `MATCH (a:User)-[:FOLLOWS]->(b) RETURN b`)

	joins := unwrapToGraphJoins(t, plan)
	rel := joins.Input.(*logical.GraphRel)
	if rel.Right.Label != "User" {
		t.Errorf("expected inferred label User on b, got %q", rel.Right.Label)
	}
}

func TestAnalyze_PropertyRequirementsCollectExactSet(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	_, ctx := analyzeQuery(t, s, `MATCH (a:User) RETURN a.name, a.email`)

	if ctx.PropertyRequirements.IsWildcard("a") {
		t.Fatal("did not expect wildcard for a")
	}
	props := ctx.PropertyRequirements.Properties("a")
	got := map[string]bool{}
	for _, p := range props {
		got[p] = true
	}
	if !got["name"] || !got["email"] || len(got) != 2 {
		t.Errorf("unexpected property set: %v", props)
	}
}

func TestAnalyze_BareVariableRequiresWildcard(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	_, ctx := analyzeQuery(t, s, `MATCH (a:User) RETURN a`)

	if !ctx.PropertyRequirements.IsWildcard("a") {
		t.Error("expected wildcard requirement for bare variable projection")
	}
}

func TestAnalyze_RegularPatternEmitsTwoJoins(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, _ := analyzeQuery(t, s, `MATCH (a:User)-[:FOLLOWS]->(b:User) RETURN a, b`)

	joins := unwrapToGraphJoins(t, plan)
	if len(joins.Joins) != 2 {
		t.Fatalf("expected 2 joins for a Regular pattern, got %d: %+v", len(joins.Joins), joins.Joins)
	}
}

func TestAnalyze_FullyDenormalizedPatternEmitsNoJoins(t *testing.T) {
	s := mustLoadSchema(t, denormalizedSchemaYAML, "denorm")
	plan, _ := analyzeQuery(t, s, `MATCH (a:A)-[:REL]->(b:B) RETURN a, b`)

	joins := unwrapToGraphJoins(t, plan)
	if len(joins.Joins) != 0 {
		t.Fatalf("expected no joins for a FullyDenormalized pattern, got %+v", joins.Joins)
	}
}

func TestAnalyze_SharedAliasAcrossMatchClausesBecomesJoin(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, _ := analyzeQuery(t, s,
		`MATCH (a:User)-[:FOLLOWS]->(b:User) MATCH (b)-[:POSTED]->(p:Post) RETURN p`)

	proj := plan.(*logical.Projection)
	outerJoins, ok := proj.Input.(*logical.GraphJoins)
	if !ok {
		t.Fatalf("expected outer *GraphJoins, got %T", proj.Input)
	}
	cp, ok := outerJoins.Input.(*logical.CartesianProduct)
	if !ok {
		t.Fatalf("expected *CartesianProduct beneath the unifying join, got %T", outerJoins.Input)
	}
	_ = cp
	if len(outerJoins.Joins) != 1 {
		t.Fatalf("expected exactly one shared-alias join, got %+v", outerJoins.Joins)
	}
	if outerJoins.Joins[0].LeftTableAlias != "b" || outerJoins.Joins[0].RightTableAlias != "b" {
		t.Errorf("expected the join to connect alias b to itself, got %+v", outerJoins.Joins[0])
	}
}

func TestAnalyze_CorrelationPredicateLiftedFromWhere(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, _ := analyzeQuery(t, s, `MATCH (a:User), (b:User) WHERE a.id = b.id RETURN a, b`)

	proj := plan.(*logical.Projection)
	joins, ok := proj.Input.(*logical.GraphJoins)
	if !ok {
		t.Fatalf("expected *GraphJoins after lifting, got %T", proj.Input)
	}
	if len(joins.CorrelationPredicates) != 1 {
		t.Fatalf("expected exactly one lifted correlation predicate, got %d", len(joins.CorrelationPredicates))
	}
	if _, ok := joins.Input.(*logical.CartesianProduct); !ok {
		t.Fatalf("expected the lifted join to still wrap the *CartesianProduct, got %T", joins.Input)
	}
}

func TestAnalyze_PatternResolverEnumeratesUntypedNode(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, _ := analyzeQuery(t, s, `MATCH (a) RETURN a`)

	union, ok := plan.(*logical.Union)
	if !ok {
		t.Fatalf("expected *Union over label enumeration, got %T", plan)
	}
	if len(union.Inputs) != 2 {
		t.Fatalf("expected 2 branches (User, Post), got %d", len(union.Inputs))
	}
}

func TestAnalyze_CteColumnResolverRecordsRequiredColumns(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	plan, ctx := analyzeQuery(t, s, `MATCH (a:User) WITH a RETURN a.name`)

	proj := plan.(*logical.Projection)
	with, ok := proj.Input.(*logical.WithClause)
	if !ok {
		t.Fatalf("expected *WithClause, got %T", proj.Input)
	}
	cols, ok := ctx.CteColumns[with]
	if !ok {
		t.Fatal("expected CteColumns entry for the WITH clause")
	}
	if len(cols) != 1 || cols[0] != "a.name" {
		t.Errorf("unexpected resolved CTE columns: %v", cols)
	}
}

func TestAnalyze_CollectUnwindBackPropagatesPropertyRequirement(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	_, ctx := analyzeQuery(t, s,
		`MATCH (a:User) WITH collect(a) AS people UNWIND people AS person RETURN person.name`)

	props := ctx.PropertyRequirements.Properties("a")
	found := false
	for _, p := range props {
		if p == "name" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected person.name to back-propagate onto a as a.name, got %v", props)
	}
}

func TestAnalyze_CollectPropertyRequiresSourceProperty(t *testing.T) {
	s := mustLoadSchema(t, sampleSchemaYAML, "social")
	_, ctx := analyzeQuery(t, s,
		`MATCH (a:User) WITH collect(a.name) AS names RETURN names`)

	props := ctx.PropertyRequirements.Properties("a")
	found := false
	for _, p := range props {
		if p == "name" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected collect(a.name) to require a.name, got %v", props)
	}
}
