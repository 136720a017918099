package typegraph

import (
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/syssam/morph"
	"github.com/syssam/morph/scalar"
	"github.com/syssam/morph/schema"
)

// Compile derives the API type graph from a validated entity registry.
// Compilation is single-threaded, runs once at startup, and fails fatally
// on bad metadata; the returned graph is immutable.
func Compile(reg *schema.Registry, scalars *scalar.Registry) (*TypeGraph, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	c := &compiler{
		reg:     reg,
		scalars: scalars,
		graph: &TypeGraph{
			schema: &ast.Schema{
				Types:         make(map[string]*ast.Definition),
				PossibleTypes: make(map[string][]*ast.Definition),
				Implements:    make(map[string][]*ast.Definition),
			},
			nodes:    make(map[string]*Node),
			registry: reg,
			scalars:  scalars,
		},
		resolved: make(map[string][]*ResolvedField),
		rels:     make(map[string][]*schema.RelationshipDescriptor),
	}
	c.declareScalars()
	if err := c.resolveEntities(); err != nil {
		return nil, err
	}
	// Declare every definition by name first, then fill fields. Field
	// types refer to definitions by name only, so self-referential and
	// mutually referential entities bind after the full index exists.
	c.declareDefinitions()
	if err := c.fillDefinitions(); err != nil {
		return nil, err
	}
	c.synthesizeRoots()
	c.synthesizeOperations()
	return c.graph, nil
}

type compiler struct {
	reg     *schema.Registry
	scalars *scalar.Registry
	graph   *TypeGraph

	// resolved field and relationship sets per entity, inheritance merged.
	resolved map[string][]*ResolvedField
	rels     map[string][]*schema.RelationshipDescriptor
}

// builtinScalars are the scalar type names the graph always declares;
// the first five are GraphQL builtins.
var builtinScalars = []struct {
	name    string
	builtin bool
}{
	{"ID", true}, {"String", true}, {"Int", true}, {"Float", true}, {"Boolean", true},
	{"Time", false}, {"UUID", false}, {"Bytes", false}, {"JSON", false},
}

func (c *compiler) declareScalars() {
	for _, s := range builtinScalars {
		c.graph.schema.Types[s.name] = &ast.Definition{
			Kind:    ast.Scalar,
			Name:    s.name,
			BuiltIn: s.builtin,
		}
	}
}

// resolveEntities computes the merged field and relationship sets of every
// entity: ancestor fields first (exclusions applied at the declaring
// level, before the merge), then own fields, then the implicit identity
// field if none was declared.
func (c *compiler) resolveEntities() error {
	for _, e := range c.reg.Entities() {
		chain, err := c.ancestry(e)
		if err != nil {
			return err
		}
		var (
			fields []*ResolvedField
			rels   []*schema.RelationshipDescriptor
			seen   = make(map[string]bool)
		)
		for i, anc := range chain {
			inherited := i < len(chain)-1
			for _, f := range anc.Fields {
				if anc.IsExcluded(f.Name) || seen[f.Name] {
					continue
				}
				seen[f.Name] = true
				fields = append(fields, &ResolvedField{
					Field:     f,
					Scalar:    c.scalarFor(f),
					Inherited: inherited,
					Owner:     anc.Name,
				})
			}
			for _, r := range anc.Relationships {
				if seen[r.Name] {
					continue
				}
				seen[r.Name] = true
				rels = append(rels, r)
			}
		}
		if !seen["id"] {
			id := &ResolvedField{
				Field:  &schema.FieldDescriptor{Name: "id", Kind: schema.KindID},
				Scalar: c.scalars.ResolveForField(&schema.FieldDescriptor{Name: "id", Kind: schema.KindID}),
				Owner:  chain[0].Name,
			}
			fields = append([]*ResolvedField{id}, fields...)
		}
		c.resolved[e.Name] = fields
		c.rels[e.Name] = rels
	}
	// Writes may not target abstract entities; they have no storage.
	for _, e := range c.reg.Entities() {
		for _, r := range e.Relationships {
			target, _ := c.reg.Entity(r.Target)
			if target.Abstract {
				return morph.NewCompileError(e.Name, r.Name, "relationship target %q is abstract", r.Target)
			}
		}
	}
	return nil
}

// ancestry returns the inheritance chain root-first, ending with e.
func (c *compiler) ancestry(e *schema.EntityDescriptor) ([]*schema.EntityDescriptor, error) {
	var chain []*schema.EntityDescriptor
	for cur := e; cur != nil; {
		chain = append([]*schema.EntityDescriptor{cur}, chain...)
		if cur.Parent == "" {
			break
		}
		p, ok := c.reg.Entity(cur.Parent)
		if !ok {
			return nil, morph.NewCompileError(cur.Name, "", "parent entity %q is not registered", cur.Parent)
		}
		cur = p
	}
	return chain, nil
}

func (c *compiler) scalarFor(f *schema.FieldDescriptor) *scalar.Scalar {
	if f.Computed && f.NativeType != "" && f.ScalarOverride == "" {
		return c.scalars.ResolveForReturnType(f.NativeType)
	}
	return c.scalars.ResolveForField(f)
}

// declareDefinitions creates the empty named definitions of every concrete
// entity so later field binding can reference any of them by name.
func (c *compiler) declareDefinitions() {
	for _, e := range c.reg.Entities() {
		if e.Abstract {
			continue
		}
		name := typeName(e.Name)
		n := &Node{
			Entity:        e,
			Fields:        c.resolved[e.Name],
			Relationships: c.rels[e.Name],
			Object:        &ast.Definition{Kind: ast.Object, Name: name},
			CreateInput:   &ast.Definition{Kind: ast.InputObject, Name: name + suffixCreateInput},
			UpdateInput:   &ast.Definition{Kind: ast.InputObject, Name: name + suffixUpdateInput},
			Ref:           &ast.Definition{Kind: ast.InputObject, Name: name + suffixRef},
			Nested:        &ast.Definition{Kind: ast.InputObject, Name: name + suffixNestedInput},
			fields:        make(map[string]*ResolvedField),
			rels:          make(map[string]*schema.RelationshipDescriptor),
		}
		for _, f := range n.Fields {
			n.fields[f.Field.Name] = f
		}
		for _, r := range n.Relationships {
			n.rels[r.Name] = r
		}
		for _, def := range []*ast.Definition{n.Object, n.CreateInput, n.UpdateInput, n.Ref, n.Nested} {
			c.graph.schema.Types[def.Name] = def
		}
		c.graph.nodes[e.Name] = n
		c.graph.ordered = append(c.graph.ordered, n)
	}
}

// readTypeFor returns the read-side type name a relationship target
// resolves to: the union for inheritance roots, the object otherwise.
func (c *compiler) readTypeFor(entity string) string {
	if len(c.reg.Children(entity)) > 0 {
		return typeName(entity) + suffixUnion
	}
	return typeName(entity)
}

func scalarTypeRef(s *scalar.Scalar, nonNull bool) *ast.Type {
	t := ast.NamedType(s.Name, nil)
	t.NonNull = nonNull
	return t
}

func namedRef(name string, nonNull bool) *ast.Type {
	t := ast.NamedType(name, nil)
	t.NonNull = nonNull
	return t
}

func listRef(elem string) *ast.Type {
	inner := ast.NamedType(elem, nil)
	inner.NonNull = true
	t := ast.ListType(inner, nil)
	t.NonNull = true
	return t
}

// fillDefinitions populates the read object and the four input types of
// every node.
func (c *compiler) fillDefinitions() error {
	for _, n := range c.graph.ordered {
		for _, rf := range n.Fields {
			f := rf.Field
			n.Object.Fields = append(n.Object.Fields, &ast.FieldDefinition{
				Name: fieldName(f.Name),
				Type: scalarTypeRef(rf.Scalar, f.Name == "id" || !f.Nullable),
			})
			if f.Computed || f.Name == "id" {
				continue
			}
			n.CreateInput.Fields = append(n.CreateInput.Fields, &ast.FieldDefinition{
				Name: fieldName(f.Name),
				Type: scalarTypeRef(rf.Scalar, !f.Nullable),
			})
			// Update inputs make every non-identity field optional.
			if !f.Immutable {
				n.UpdateInput.Fields = append(n.UpdateInput.Fields, &ast.FieldDefinition{
					Name: fieldName(f.Name),
					Type: scalarTypeRef(rf.Scalar, false),
				})
			}
		}
		idType := namedRef("ID", true)
		n.UpdateInput.Fields = append([]*ast.FieldDefinition{{Name: "id", Type: idType}}, n.UpdateInput.Fields...)
		n.Ref.Fields = ast.FieldList{{Name: "id", Type: namedRef("ID", true)}}

		// The nested input is the create input with every field optional
		// plus the identity: identity-only means link, identity plus
		// values means update, no identity means create.
		n.Nested.Fields = append(n.Nested.Fields, &ast.FieldDefinition{Name: "id", Type: namedRef("ID", false)})
		for _, fd := range n.CreateInput.Fields {
			t := *fd.Type
			t.NonNull = false
			n.Nested.Fields = append(n.Nested.Fields, &ast.FieldDefinition{Name: fd.Name, Type: &t})
		}

		for _, r := range n.Relationships {
			c.fillRelationship(n, r)
		}
	}
	return nil
}

func (c *compiler) fillRelationship(n *Node, r *schema.RelationshipDescriptor) {
	read := c.readTypeFor(r.Target)
	nested := typeName(r.Target) + suffixNestedInput
	var readType, inputType *ast.Type
	switch r.Kind {
	case schema.ToOneOwned:
		readType = namedRef(read, r.Required)
		inputType = namedRef(nested, false)
	default:
		readType = listRef(read)
		inputType = ast.ListType(namedRef(nested, true), nil)
	}
	n.Object.Fields = append(n.Object.Fields, &ast.FieldDefinition{
		Name: fieldName(r.Name),
		Type: readType,
	})
	required := r.Kind == schema.ToOneOwned && r.Required
	createType := *inputType
	createType.NonNull = required
	n.CreateInput.Fields = append(n.CreateInput.Fields, &ast.FieldDefinition{
		Name: fieldName(r.Name),
		Type: &createType,
	})
	updateType := *inputType
	updateType.NonNull = false
	n.UpdateInput.Fields = append(n.UpdateInput.Fields, &ast.FieldDefinition{
		Name: fieldName(r.Name),
		Type: &updateType,
	})
	nestedType := *inputType
	nestedType.NonNull = false
	n.Nested.Fields = append(n.Nested.Fields, &ast.FieldDefinition{
		Name: fieldName(r.Name),
		Type: &nestedType,
	})
}

// synthesizeRoots builds an interface per inheritance root carrying the
// fields common to all of its concrete descendants, and a union of those
// descendants for polymorphic reads.
func (c *compiler) synthesizeRoots() {
	for _, e := range c.reg.Entities() {
		if len(c.reg.Children(e.Name)) == 0 {
			continue
		}
		members := c.concreteDescendants(e)
		iface := &ast.Definition{
			Kind:   ast.Interface,
			Name:   typeName(e.Name) + suffixInterface,
			Fields: c.commonFields(e, members),
		}
		union := &ast.Definition{
			Kind: ast.Union,
			Name: typeName(e.Name) + suffixUnion,
		}
		c.graph.schema.Types[iface.Name] = iface
		c.graph.schema.Types[union.Name] = union
		for _, m := range members {
			mn := c.graph.nodes[m.Name]
			union.Types = append(union.Types, mn.Object.Name)
			mn.Object.Interfaces = append(mn.Object.Interfaces, iface.Name)
			c.graph.schema.PossibleTypes[union.Name] = append(c.graph.schema.PossibleTypes[union.Name], mn.Object)
			c.graph.schema.PossibleTypes[iface.Name] = append(c.graph.schema.PossibleTypes[iface.Name], mn.Object)
			c.graph.schema.Implements[mn.Object.Name] = append(c.graph.schema.Implements[mn.Object.Name], iface)
		}
		if n, ok := c.graph.nodes[e.Name]; ok {
			n.Interface = iface
			n.Union = union
		}
	}
}

// concreteDescendants returns the non-abstract members of e's subtree,
// including e itself when concrete, in registration order.
func (c *compiler) concreteDescendants(e *schema.EntityDescriptor) []*schema.EntityDescriptor {
	var out []*schema.EntityDescriptor
	if !e.Abstract {
		out = append(out, e)
	}
	for _, child := range c.reg.Children(e.Name) {
		out = append(out, c.concreteDescendants(child)...)
	}
	return out
}

// commonFields computes the interface field set of a root: every field
// present on all members under the same scalar, which always includes the
// root's own non-excluded fields and its computed fields.
func (c *compiler) commonFields(root *schema.EntityDescriptor, members []*schema.EntityDescriptor) ast.FieldList {
	if len(members) == 0 {
		return nil
	}
	var out ast.FieldList
	for _, rf := range c.resolved[members[0].Name] {
		shared := true
		for _, m := range members[1:] {
			other := c.fieldOf(m.Name, rf.Field.Name)
			if other == nil || other.Scalar.Name != rf.Scalar.Name {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, &ast.FieldDefinition{
				Name: fieldName(rf.Field.Name),
				Type: scalarTypeRef(rf.Scalar, rf.Field.Name == "id" || !rf.Field.Nullable),
			})
		}
	}
	return out
}

func (c *compiler) fieldOf(entity, field string) *ResolvedField {
	for _, rf := range c.resolved[entity] {
		if rf.Field.Name == field {
			return rf
		}
	}
	return nil
}

// synthesizeOperations derives the Query and Mutation roots: singular and
// paginated plural reads per node, and create/update/delete mutations.
// Plural reads on inheritance roots return the union for polymorphic
// results.
func (c *compiler) synthesizeOperations() {
	query := &ast.Definition{Kind: ast.Object, Name: "Query"}
	mutation := &ast.Definition{Kind: ast.Object, Name: "Mutation"}
	pageArgs := ast.ArgumentDefinitionList{
		{Name: "first", Type: namedRef("Int", false)},
		{Name: "after", Type: namedRef("String", false)},
	}
	for _, n := range c.graph.ordered {
		single, list := queryNames(n.Entity.Name)
		query.Fields = append(query.Fields, &ast.FieldDefinition{
			Name:      single,
			Arguments: ast.ArgumentDefinitionList{{Name: "id", Type: namedRef("ID", true)}},
			Type:      namedRef(n.Object.Name, false),
		})
		query.Fields = append(query.Fields, &ast.FieldDefinition{
			Name:      list,
			Arguments: pageArgs,
			Type:      listRef(c.readTypeFor(n.Entity.Name)),
		})
		mutation.Fields = append(mutation.Fields, &ast.FieldDefinition{
			Name:      "create" + n.Object.Name,
			Arguments: ast.ArgumentDefinitionList{{Name: "input", Type: namedRef(n.CreateInput.Name, true)}},
			Type:      namedRef(n.Object.Name, false),
		})
		mutation.Fields = append(mutation.Fields, &ast.FieldDefinition{
			Name:      "update" + n.Object.Name,
			Arguments: ast.ArgumentDefinitionList{{Name: "input", Type: namedRef(n.UpdateInput.Name, true)}},
			Type:      namedRef(n.Object.Name, false),
		})
		mutation.Fields = append(mutation.Fields, &ast.FieldDefinition{
			Name:      "delete" + n.Object.Name,
			Arguments: ast.ArgumentDefinitionList{{Name: "id", Type: namedRef("ID", true)}},
			Type:      namedRef("Boolean", true),
		})
	}
	c.graph.schema.Types["Query"] = query
	c.graph.schema.Types["Mutation"] = mutation
	c.graph.schema.Query = query
	c.graph.schema.Mutation = mutation
}
