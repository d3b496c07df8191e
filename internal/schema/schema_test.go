package schema

import "testing"

const sampleYAML = `
graph_schema:
  graph_name: social
  database: analytics
  nodes:
    - label: User
      table: users
      node_id: id
      property_mappings:
        name: display_name
        email: email_address
    - label: Post
      table: posts
      node_id: id
      property_mappings:
        title: title
  edges:
    - type: FOLLOWS
      table: follows_edges
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
    - type: MANAGES
      table: users
      from_id: manager_id
      to_id: id
      from_node: User
      to_node: User
`

func TestLoad_BasicSchema(t *testing.T) {
	s, err := Load([]byte(sampleYAML), "social")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name != "social" || s.Database != "analytics" {
		t.Errorf("unexpected schema identity: %+v", s)
	}
	user := s.NodeByLabel("User")
	if user == nil {
		t.Fatal("expected User node view")
	}
	if user.PropertyMap["name"] != "display_name" {
		t.Errorf("unexpected column mapping: %+v", user.PropertyMap)
	}

	follows := s.RelByType("FOLLOWS")
	if follows == nil {
		t.Fatal("expected FOLLOWS rel view")
	}
	if follows.FromID != "follower_id" || follows.ToID != "followee_id" {
		t.Errorf("unexpected FOLLOWS columns: %+v", follows)
	}
}

func TestLoad_PropertyOrderIsSortedAndStable(t *testing.T) {
	s1, err := Load([]byte(sampleYAML), "social")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := Load([]byte(sampleYAML), "social")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user1 := s1.NodeByLabel("User").PropertyOrder
	user2 := s2.NodeByLabel("User").PropertyOrder
	want := []string{"email", "name"}
	if len(user1) != len(want) || user1[0] != want[0] || user1[1] != want[1] {
		t.Fatalf("expected sorted PropertyOrder %v, got %v", want, user1)
	}
	if len(user1) != len(user2) || user1[0] != user2[0] || user1[1] != user2[1] {
		t.Errorf("expected PropertyOrder to be stable across repeated loads, got %v vs %v", user1, user2)
	}
}

func TestLoad_DenormalizedRoleDetected(t *testing.T) {
	s, err := Load([]byte(sampleYAML), "social")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	post := s.NodeByLabel("Post")
	if post.EdgeStorageRole != DenormalizedToSide {
		t.Errorf("expected Post to be denormalized (shares table with POSTED), got %v", post.EdgeStorageRole)
	}
	user := s.NodeByLabel("User")
	if user.EdgeStorageRole != EdgeTableIsNodeTable {
		t.Errorf("expected User to be EdgeTableIsNodeTable (self-referential MANAGES lives in users), got %v", user.EdgeStorageRole)
	}
}

func TestLoad_UnknownFromNodeIsSchemaError(t *testing.T) {
	bad := `
graph_schema:
  graph_name: broken
  database: analytics
  edges:
    - type: FOLLOWS
      table: follows_edges
      from_id: a
      to_id: b
      from_node: Ghost
`
	_, err := Load([]byte(bad), "broken")
	if err == nil {
		t.Fatal("expected a SchemaError for unresolved from_node")
	}
}

func TestLoad_PolymorphicRequiresTypeValues(t *testing.T) {
	bad := `
graph_schema:
  graph_name: broken
  database: analytics
  edges:
    - type: ANY
      table: edges
      from_id: a
      to_id: b
      type_column: edge_type
`
	_, err := Load([]byte(bad), "broken")
	if err == nil {
		t.Fatal("expected a SchemaError for missing type_values")
	}
}

func TestClassifyPattern(t *testing.T) {
	s, err := Load([]byte(sampleYAML), "social")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user := s.NodeByLabel("User")
	post := s.NodeByLabel("Post")
	posted := s.RelByType("POSTED")
	follows := s.RelByType("FOLLOWS")
	manages := s.RelByType("MANAGES")

	if got := ClassifyPattern(user, follows, user); got != PatternRegular {
		t.Errorf("FOLLOWS hop: expected Regular, got %v", got)
	}
	if got := ClassifyPattern(user, posted, post); got != PatternMixed {
		t.Errorf("POSTED hop: expected Mixed (Post shares table with edge), got %v", got)
	}
	if got := ClassifyPattern(user, manages, user); got != PatternFKEdge {
		t.Errorf("MANAGES hop: expected FKEdge (self-referential, shared table), got %v", got)
	}
}

func TestCatalog_LoadAndGet(t *testing.T) {
	c := NewCatalog()
	if _, ok := c.Get("social"); ok {
		t.Fatal("expected no schema before load")
	}
	if _, err := c.LoadInto([]byte(sampleYAML), "social"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, ok := c.Get("social")
	if !ok || s.Name != "social" {
		t.Fatalf("expected loaded schema, got %+v ok=%v", s, ok)
	}
}
