// Package schema implements the Schema Catalog: loading the graph_schema
// YAML contract (spec.md §6.2) into an immutable in-memory Schema, and
// classifying node/relationship view triples into edge storage patterns
// (spec.md §4.3.1, §4.8).
package schema

import (
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cyphersql/graphsql/internal/errs"
)

// EdgeStorageRole classifies how a node's identity relates to a
// relationship's storage (spec.md §3.1).
type EdgeStorageRole int

const (
	Regular EdgeStorageRole = iota
	DenormalizedFromSide
	DenormalizedToSide
	EdgeTableIsNodeTable
)

// Pattern classifies a (left node, relationship, right node) triple for
// render planning (spec.md §4.3.1, §4.8).
type Pattern int

const (
	PatternRegular Pattern = iota
	PatternFullyDenormalized
	PatternMixed
	PatternFKEdge
	PatternPolymorphic
)

func (p Pattern) String() string {
	switch p {
	case PatternRegular:
		return "Regular"
	case PatternFullyDenormalized:
		return "FullyDenormalized"
	case PatternMixed:
		return "Mixed"
	case PatternFKEdge:
		return "FKEdge"
	case PatternPolymorphic:
		return "Polymorphic"
	default:
		return "Unknown"
	}
}

// NodeView describes one graph label's mapping onto a relational table.
type NodeView struct {
	Label          string
	Database       string
	Table          string
	NodeID         string
	PropertyMap    map[string]string // logical_name -> column, insertion order not required at this layer
	PropertyOrder  []string          // logical names sorted lexically, for deterministic wildcard SELECT lists
	ViewParameters []string
	UseFinal       bool
	EdgeStorageRole EdgeStorageRole
}

// RelView describes one relationship type's mapping onto a relational table.
type RelView struct {
	Type                string
	Polymorphic         bool
	Database            string
	Table               string
	FromID              string
	ToID                string
	FromLabel           string
	ToLabel             string
	PropertyMap         map[string]string
	PropertyOrder       []string
	TypeColumn          string
	TypeValues          []string
	FromLabelColumn     string
	ToLabelColumn       string
	FromNodeProperties  map[string]string
	ToNodeProperties    map[string]string
	Filter              string
	ViewParameters      []string
	UseFinal            bool
	EngineForcesFinal   bool
}

// IsDenormalized reports whether this relationship carries inlined node
// properties on either endpoint (spec.md §6.2 structural rules).
func (r *RelView) IsDenormalized() bool {
	return len(r.FromNodeProperties) > 0 || len(r.ToNodeProperties) > 0
}

// IsPolymorphic reports whether this relationship's target type varies per row.
func (r *RelView) IsPolymorphic() bool {
	return r.TypeColumn != ""
}

// Schema is the immutable, per-load graph-to-relational mapping (spec.md §3.1).
type Schema struct {
	Name          string
	Database      string
	Nodes         map[string]*NodeView
	Relationships map[string]*RelView
}

// NodeByLabel resolves a label to its NodeView, or nil if absent.
func (s *Schema) NodeByLabel(label string) *NodeView {
	return s.Nodes[label]
}

// RelByType resolves a relationship type to its RelView, or nil if absent.
func (s *Schema) RelByType(relType string) *RelView {
	return s.Relationships[relType]
}

// ---- YAML decoding shapes (mirror spec.md §6.2 exactly) ----

type yamlRoot struct {
	GraphSchema yamlGraphSchema `yaml:"graph_schema"`
}

type yamlGraphSchema struct {
	GraphName string      `yaml:"graph_name"`
	Database  string      `yaml:"database"`
	Nodes     []yamlNode  `yaml:"nodes"`
	Edges     []yamlEdge  `yaml:"edges"`
}

type yamlNode struct {
	Label             string            `yaml:"label"`
	Table             string            `yaml:"table"`
	NodeID            string            `yaml:"node_id"`
	PropertyMappings  map[string]string `yaml:"property_mappings"`
	ViewParameters    []string          `yaml:"view_parameters"`
	UseFinal          bool              `yaml:"use_final"`
}

type yamlEdge struct {
	Type               string            `yaml:"type"`
	Polymorphic        bool              `yaml:"polymorphic"`
	Table              string            `yaml:"table"`
	FromID             string            `yaml:"from_id"`
	ToID               string            `yaml:"to_id"`
	FromNode           string            `yaml:"from_node"`
	ToNode             string            `yaml:"to_node"`
	FromNodeProperties map[string]string `yaml:"from_node_properties"`
	ToNodeProperties   map[string]string `yaml:"to_node_properties"`
	TypeColumn         string            `yaml:"type_column"`
	FromLabelColumn    string            `yaml:"from_label_column"`
	ToLabelColumn      string            `yaml:"to_label_column"`
	TypeValues         []string          `yaml:"type_values"`
	Filter             string            `yaml:"filter"`
	ViewParameters     []string          `yaml:"view_parameters"`
	UseFinal           bool              `yaml:"use_final"`
}

// Load parses and validates a graph_schema YAML document into an immutable
// Schema (spec.md §4.8 load, §6.2).
func Load(yamlText []byte, name string) (*Schema, error) {
	var root yamlRoot
	if err := yaml.Unmarshal(yamlText, &root); err != nil {
		return nil, &errs.SchemaError{Schema: name, Detail: "invalid YAML: " + err.Error()}
	}

	s := &Schema{
		Name:          name,
		Database:      root.GraphSchema.Database,
		Nodes:         make(map[string]*NodeView),
		Relationships: make(map[string]*RelView),
	}

	for _, n := range root.GraphSchema.Nodes {
		if len(n.ViewParameters) == 0 && n.ViewParameters != nil {
			return nil, &errs.SchemaError{Schema: name, Detail: "node " + n.Label + ": view_parameters declared but empty"}
		}
		nv := &NodeView{
			Label:          n.Label,
			Database:       s.Database,
			Table:          n.Table,
			NodeID:         n.NodeID,
			PropertyMap:    map[string]string{},
			ViewParameters: n.ViewParameters,
			UseFinal:       n.UseFinal,
		}
		for logical, column := range n.PropertyMappings {
			nv.PropertyMap[logical] = column
			nv.PropertyOrder = append(nv.PropertyOrder, logical)
		}
		// yaml.v3 decodes property_mappings into a Go map, whose iteration
		// order is randomized; sort here so wildcard expansion (RETURN n ->
		// AllProperties) emits the same column order on every load of the
		// same YAML (spec.md §8 Determinism).
		sort.Strings(nv.PropertyOrder)
		s.Nodes[n.Label] = nv
	}

	for _, e := range root.GraphSchema.Edges {
		if e.TypeColumn != "" && len(e.TypeValues) == 0 {
			return nil, &errs.SchemaError{Schema: name, Detail: "edge " + e.Type + ": type_column set but type_values empty"}
		}
		if len(e.ViewParameters) == 0 && e.ViewParameters != nil {
			return nil, &errs.SchemaError{Schema: name, Detail: "edge " + e.Type + ": view_parameters declared but empty"}
		}
		if e.FromNode != "" {
			if _, ok := s.Nodes[e.FromNode]; !ok {
				return nil, &errs.SchemaError{Schema: name, Detail: "edge " + e.Type + ": from_node " + e.FromNode + " does not resolve"}
			}
		}
		if e.ToNode != "" {
			if _, ok := s.Nodes[e.ToNode]; !ok {
				return nil, &errs.SchemaError{Schema: name, Detail: "edge " + e.Type + ": to_node " + e.ToNode + " does not resolve"}
			}
		}

		rv := &RelView{
			Type:               e.Type,
			Polymorphic:        e.Polymorphic,
			Database:           s.Database,
			Table:              e.Table,
			FromID:             e.FromID,
			ToID:               e.ToID,
			FromLabel:          e.FromNode,
			ToLabel:            e.ToNode,
			PropertyMap:        map[string]string{},
			TypeColumn:         e.TypeColumn,
			TypeValues:         e.TypeValues,
			FromLabelColumn:    e.FromLabelColumn,
			ToLabelColumn:      e.ToLabelColumn,
			FromNodeProperties: e.FromNodeProperties,
			ToNodeProperties:   e.ToNodeProperties,
			Filter:             e.Filter,
			ViewParameters:     e.ViewParameters,
			UseFinal:           e.UseFinal,
			EngineForcesFinal:  e.UseFinal,
		}
		s.Relationships[e.Type] = rv

		// A node sharing (database, table) with this relationship is a
		// denormalized binding (spec.md §3.1); a self-referential edge whose
		// single endpoint label shares the relationship's table has no
		// separate edge storage at all.
		selfRef := e.FromNode != "" && e.FromNode == e.ToNode && s.Nodes[e.FromNode].Table == e.Table
		switch {
		case selfRef:
			s.Nodes[e.FromNode].EdgeStorageRole = EdgeTableIsNodeTable
		default:
			if e.FromNode != "" && s.Nodes[e.FromNode].Table == e.Table {
				s.Nodes[e.FromNode].EdgeStorageRole = DenormalizedFromSide
			}
			if e.ToNode != "" && s.Nodes[e.ToNode].Table == e.Table {
				s.Nodes[e.ToNode].EdgeStorageRole = DenormalizedToSide
			}
		}
	}

	return s, nil
}

// ClassifyPattern is the pure function of spec.md §4.3.1/§4.8: given the
// node and relationship views touched by one pattern hop, determine the
// storage pattern the render planner must lower it against. Checks are
// ordered by priority since the categories are not mutually exclusive
// (spec.md §6.2 notes polymorphic+denormalized can co-occur; FK-edge takes
// precedence here because it describes the table topology, not properties).
func ClassifyPattern(left *NodeView, rel *RelView, right *NodeView) Pattern {
	if rel.IsPolymorphic() {
		return PatternPolymorphic
	}
	if left != nil && right != nil && left.Label == right.Label && left.Table == right.Table && left.Table == rel.Table {
		return PatternFKEdge
	}

	leftDenorm := left != nil && left.Table == rel.Table
	rightDenorm := right != nil && right.Table == rel.Table
	switch {
	case leftDenorm && rightDenorm:
		return PatternFullyDenormalized
	case leftDenorm || rightDenorm:
		return PatternMixed
	default:
		return PatternRegular
	}
}

// Catalog is the process-wide, read-mostly registry of loaded schemas
// (spec.md §5): readers take an immutable Schema snapshot; load/reload
// briefly take the write lock and then the caller is expected to invalidate
// the Query Cache for that name.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{schemas: make(map[string]*Schema)}
}

// Get returns an immutable handle to the named schema, or false if unloaded.
func (c *Catalog) Get(name string) (*Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[name]
	return s, ok
}

// LoadInto parses yamlText and installs it under name, replacing any prior
// schema by that name. Returns the new Schema so the caller can trigger
// Query Cache invalidation.
func (c *Catalog) LoadInto(yamlText []byte, name string) (*Schema, error) {
	s, err := Load(yamlText, name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.schemas[name] = s
	c.mu.Unlock()
	return s, nil
}
