package translator

import (
	"strings"
	"testing"

	"github.com/cyphersql/graphsql/internal/ast"
	"github.com/cyphersql/graphsql/internal/config"
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

func stubClock(epoch int64) func() int64 {
	return func() int64 { return epoch }
}

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr := New(config.Load(), stubClock(0))
	if err := tr.LoadSchema([]byte(socialSchemaYAML), "social"); err != nil {
		t.Fatalf("LoadSchema: %v", err)
	}
	return tr
}

func TestCompileSimpleTraversal(t *testing.T) {
	tr := newTestTranslator(t)
	result := tr.Compile(CompileRequest{
		QueryText:  "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN f.name",
		SchemaName: "social",
	})
	if result.HasErrors {
		t.Fatalf("unexpected error: %v, diagnostics: %+v", result.Err, result.Diagnostics)
	}
	if result.Output.CacheStatus != Miss {
		t.Fatalf("expected first compile to be a Miss, got %v", result.Output.CacheStatus)
	}
	if !strings.Contains(result.Output.SQLTemplate, "follows") {
		t.Errorf("expected generated SQL to reference the follows table, got %s", result.Output.SQLTemplate)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	tr := newTestTranslator(t)
	req := CompileRequest{QueryText: "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN f.name", SchemaName: "social"}
	first := tr.Compile(req)
	second := tr.Compile(req)
	if first.Output.SQLTemplate != second.Output.SQLTemplate {
		t.Fatalf("expected identical SQL for repeated compiles, got %q vs %q", first.Output.SQLTemplate, second.Output.SQLTemplate)
	}
}

func TestCacheIdempotence(t *testing.T) {
	tr := newTestTranslator(t)
	req := CompileRequest{QueryText: "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN f.name", SchemaName: "social"}

	miss := tr.Compile(req)
	if miss.HasErrors || miss.Output.CacheStatus != Miss {
		t.Fatalf("expected first compile to miss, got %+v", miss)
	}
	hit := tr.Compile(req)
	if hit.HasErrors || hit.Output.CacheStatus != Hit {
		t.Fatalf("expected second compile to hit, got %+v", hit)
	}

	forced := tr.Compile(CompileRequest{QueryText: req.QueryText, SchemaName: req.SchemaName, Replan: ast.ReplanForce})
	if forced.HasErrors || forced.Output.CacheStatus != Bypass {
		t.Fatalf("expected replan=Force to report Bypass, got %+v", forced)
	}
}

func TestSchemaReloadInvalidatesCache(t *testing.T) {
	tr := newTestTranslator(t)
	req := CompileRequest{QueryText: "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN f.name", SchemaName: "social"}
	tr.Compile(req)
	if err := tr.ReloadSchema([]byte(socialSchemaYAML), "social"); err != nil {
		t.Fatalf("ReloadSchema: %v", err)
	}
	result := tr.Compile(req)
	if result.HasErrors || result.Output.CacheStatus != Miss {
		t.Fatalf("expected a Miss immediately after reload, got %+v", result)
	}
}

func TestParseErrorNeverCached(t *testing.T) {
	tr := newTestTranslator(t)
	req := CompileRequest{QueryText: "MATCH (u:User RETURN u", SchemaName: "social"}
	result := tr.Compile(req)
	if !result.HasErrors {
		t.Fatal("expected malformed query to fail")
	}
	retry := tr.Compile(req)
	if !retry.HasErrors || (retry.Output != nil && retry.Output.CacheStatus == Hit) {
		t.Fatalf("expected malformed query to never populate the cache, got %+v", retry)
	}
}

func TestWhitespaceOnlyDifferenceSharesCacheKey(t *testing.T) {
	tr := newTestTranslator(t)
	tr.Compile(CompileRequest{QueryText: "MATCH (u:User)-[:FOLLOWS]->(f:User)   RETURN   f.name", SchemaName: "social"})
	result := tr.Compile(CompileRequest{QueryText: "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN f.name", SchemaName: "social"})
	if result.HasErrors || result.Output.CacheStatus != Hit {
		t.Fatalf("expected whitespace-only variant to hit the cache, got %+v", result)
	}
}

func TestUnknownSchemaIsSchemaError(t *testing.T) {
	tr := newTestTranslator(t)
	result := tr.Compile(CompileRequest{QueryText: "MATCH (u:User) RETURN u", SchemaName: "does-not-exist"})
	if !result.HasErrors {
		t.Fatal("expected an error for an unloaded schema")
	}
}

func TestCompileExplainReturnsPlans(t *testing.T) {
	tr := newTestTranslator(t)
	result, diags, err := tr.CompileExplain(CompileRequest{
		QueryText:  "MATCH (u:User)-[:FOLLOWS]->(f:User) RETURN f.name",
		SchemaName: "social",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v, diagnostics: %+v", err, diags)
	}
	if result.LogicalPlan == nil {
		t.Error("expected a non-nil Logical Plan")
	}
	if result.RenderPlan == nil {
		t.Error("expected a non-nil Render Plan")
	}
	if !strings.Contains(result.SQLTemplate, "follows") {
		t.Errorf("expected generated SQL to reference the follows table, got %s", result.SQLTemplate)
	}
}

func TestReplanSkipMissRaisesCacheRequired(t *testing.T) {
	tr := newTestTranslator(t)
	result := tr.Compile(CompileRequest{
		QueryText:  "MATCH (u:User) RETURN u",
		SchemaName: "social",
		Replan:     ast.ReplanSkip,
	})
	if !result.HasErrors {
		t.Fatal("expected replan=skip with a cache miss to fail")
	}
}
