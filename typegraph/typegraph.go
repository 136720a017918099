// Package typegraph derives the immutable API type graph from an entity
// registry: one read object per concrete entity, an interface and a union
// per inheritance root, and create/update/reference inputs for writes.
//
// Compilation runs once at startup; the resulting graph is safe for
// unsynchronized concurrent reads. Type references are bound by name
// against the graph's definition index, so self-referential and cyclic
// relationship graphs compile without recursion.
package typegraph

import (
	"bytes"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/syssam/morph/scalar"
	"github.com/syssam/morph/schema"
)

// ResolvedField is one field of a compiled node: the backing descriptor,
// its resolved scalar contract, and where it came from.
type ResolvedField struct {
	Field  *schema.FieldDescriptor
	Scalar *scalar.Scalar
	// Inherited is set when the field was merged in from an ancestor.
	Inherited bool
	// Owner is the entity that declared the field.
	Owner string
}

// Node is the compiled type-graph node of one concrete entity. A node and
// everything it references are immutable once compiled.
type Node struct {
	Entity *schema.EntityDescriptor

	// Fields is the resolved field list: own plus inherited plus computed,
	// minus exclusions (applied before the inheritance merge). The
	// identity field is always first.
	Fields []*ResolvedField

	// Relationships is the full relationship set, own plus inherited.
	Relationships []*schema.RelationshipDescriptor

	// Object is the read type; CreateInput, UpdateInput, Ref and Nested
	// are the write-side input types.
	Object      *ast.Definition
	CreateInput *ast.Definition
	UpdateInput *ast.Definition
	Ref         *ast.Definition
	Nested      *ast.Definition

	// Interface and Union are set when the entity is an inheritance root.
	Interface *ast.Definition
	Union     *ast.Definition

	fields map[string]*ResolvedField
	rels   map[string]*schema.RelationshipDescriptor
}

// Field returns the resolved field with the given name.
func (n *Node) Field(name string) (*ResolvedField, bool) {
	f, ok := n.fields[name]
	return f, ok
}

// Relationship returns the relationship with the given name, own or
// inherited.
func (n *Node) Relationship(name string) (*schema.RelationshipDescriptor, bool) {
	r, ok := n.rels[name]
	return r, ok
}

// IsRoot reports if the node is an inheritance root with derived
// interface/union types.
func (n *Node) IsRoot() bool {
	return n.Interface != nil
}

// TypeGraph is the compiled, immutable set of API types derived from an
// entity registry.
type TypeGraph struct {
	schema   *ast.Schema
	nodes    map[string]*Node
	ordered  []*Node
	registry *schema.Registry
	scalars  *scalar.Registry
}

// Node returns the compiled node of the named entity.
func (g *TypeGraph) Node(entity string) (*Node, bool) {
	n, ok := g.nodes[entity]
	return n, ok
}

// Nodes returns every compiled node in registration order. Abstract
// entities have no node.
func (g *TypeGraph) Nodes() []*Node {
	return g.ordered
}

// Schema returns the underlying GraphQL schema AST.
func (g *TypeGraph) Schema() *ast.Schema {
	return g.schema
}

// Registry returns the entity registry the graph was compiled from.
func (g *TypeGraph) Registry() *schema.Registry {
	return g.registry
}

// Scalars returns the scalar registry the graph was compiled with.
func (g *TypeGraph) Scalars() *scalar.Registry {
	return g.scalars
}

// SDL renders the graph as GraphQL schema definition language.
func (g *TypeGraph) SDL() string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchema(g.schema)
	return buf.String()
}
