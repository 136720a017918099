// Package graphql derives Relay-style pagination types from a compiled
// type graph: one Connection and Edge type per node plus the shared
// PageInfo object, rendered as SDL a transport layer can serve next to
// the graph's own schema. The executor's Connection result maps onto
// these types one to one.
package graphql

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"

	"github.com/syssam/morph/typegraph"
)

// PaginationNames holds the derived pagination type names of one node.
type PaginationNames struct {
	Connection string
	Edge       string
	Node       string
}

// Names derives the pagination type names for a node name.
func Names(node string) *PaginationNames {
	return &PaginationNames{
		Connection: fmt.Sprintf("%sConnection", node),
		Edge:       fmt.Sprintf("%sEdge", node),
		Node:       node,
	}
}

// Document builds the pagination type definitions for every node of the
// graph. Inheritance roots paginate over their interface type, so a
// connection of the root carries any concrete child.
func Document(g *typegraph.TypeGraph) *ast.SchemaDocument {
	doc := &ast.SchemaDocument{
		Definitions: ast.DefinitionList{pageInfo()},
	}
	for _, node := range g.Nodes() {
		names := Names(node.Entity.Name)
		doc.Definitions = append(doc.Definitions,
			&ast.Definition{
				Kind: ast.Object,
				Name: names.Edge,
				Fields: ast.FieldList{
					{Name: "node", Type: ast.NonNullNamedType(names.Node, nil)},
					{Name: "cursor", Type: ast.NonNullNamedType("String", nil)},
				},
			},
			&ast.Definition{
				Kind: ast.Object,
				Name: names.Connection,
				Fields: ast.FieldList{
					{Name: "edges", Type: ast.NonNullListType(ast.NonNullNamedType(names.Edge, nil), nil)},
					{Name: "pageInfo", Type: ast.NonNullNamedType("PageInfo", nil)},
				},
			},
		)
	}
	return doc
}

// SDL renders the pagination types as schema definition language.
func SDL(g *typegraph.TypeGraph) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(Document(g))
	return buf.String()
}

func pageInfo() *ast.Definition {
	return &ast.Definition{
		Kind: ast.Object,
		Name: "PageInfo",
		Fields: ast.FieldList{
			{Name: "hasNextPage", Type: ast.NonNullNamedType("Boolean", nil)},
			{Name: "endCursor", Type: ast.NamedType("String", nil)},
		},
	}
}
