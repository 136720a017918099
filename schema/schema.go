package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/morph"
)

// FieldKind is the semantic kind of a field value. It decides which scalar
// contract serializes the field and which filter operators it supports.
type FieldKind uint8

// Field kinds.
const (
	KindInvalid FieldKind = iota
	KindID
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindUUID
	KindEnum
	KindJSON
	KindBytes
	endKinds
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindID:      "id",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindString:  "string",
	KindTime:    "time",
	KindUUID:    "uuid",
	KindEnum:    "enum",
	KindJSON:    "json",
	KindBytes:   "bytes",
}

// String returns the kind name.
func (k FieldKind) String() string {
	if k < endKinds {
		return kindNames[k]
	}
	return kindNames[KindInvalid]
}

// Valid reports if the kind is a valid field kind.
func (k FieldKind) Valid() bool {
	return k > KindInvalid && k < endKinds
}

// Numeric reports if the kind is a numeric kind.
func (k FieldKind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// Constraints holds the declared value constraints of a field. Zero values
// mean "unconstrained".
type Constraints struct {
	// MinLen/MaxLen bound the length of string values. MaxLen zero means
	// unbounded.
	MinLen int
	MaxLen int
	// Min/Max bound numeric values (inclusive).
	Min *float64
	Max *float64
	// Values is the allowed-value set of enum fields.
	Values []string
}

// FieldDescriptor describes one field of an entity.
type FieldDescriptor struct {
	// Name is the field name in the entity and in write payloads.
	Name string
	// Kind is the semantic scalar kind of the field.
	Kind FieldKind
	// Nullable indicates the field may hold null; non-nullable fields are
	// required on create.
	Nullable bool
	// Constraints holds length/range/allowed-value constraints.
	Constraints Constraints
	// Computed marks a method-derived read-only field. Computed fields
	// appear on read types only, never on inputs, and resolve through the
	// native accessor recorded at introspection time.
	Computed bool
	// NativeType is the native return type of a computed accessor, used by
	// scalar resolution when Kind alone is not enough.
	NativeType string
	// ScalarOverride names an explicitly registered scalar to use instead
	// of the kind mapping.
	ScalarOverride string
	// Immutable indicates the field cannot be changed after create.
	Immutable bool
}

// RelKind is the kind of a relationship.
type RelKind uint8

// Relationship kinds.
const (
	// ToOneOwned is a singular relationship whose foreign key lives on the
	// declaring (owning) side.
	ToOneOwned RelKind = iota
	// ToManyOwned is a collection whose members' lifetime is tied to the
	// owner; the foreign key lives on the member rows.
	ToManyOwned
	// ToManyShared is an associative collection backed by a join table;
	// members exist independently and are only linked or unlinked.
	ToManyShared
)

// String returns the relationship kind name.
func (k RelKind) String() string {
	switch k {
	case ToOneOwned:
		return "to-one"
	case ToManyOwned:
		return "to-many"
	case ToManyShared:
		return "to-many-shared"
	}
	return "invalid"
}

// ToMany reports if the kind is a collection kind.
func (k RelKind) ToMany() bool {
	return k == ToManyOwned || k == ToManyShared
}

// DeletePolicy governs what happens to a relationship's dependents when the
// owning row is deleted.
type DeletePolicy uint8

// Delete policies.
const (
	// Protect rejects the delete while any dependent row exists.
	Protect DeletePolicy = iota
	// Cascade deletes dependent rows, recursing through their own
	// relationships.
	Cascade
	// SetNull nulls the dependents' foreign key, leaving the rows alive.
	SetNull
	// ClearAssociation removes join rows only; valid for shared
	// relationships.
	ClearAssociation
)

// String returns the policy name.
func (p DeletePolicy) String() string {
	switch p {
	case Protect:
		return "protect"
	case Cascade:
		return "cascade"
	case SetNull:
		return "set-null"
	case ClearAssociation:
		return "clear-association"
	}
	return "invalid"
}

// RelationshipDescriptor describes one relationship of an entity.
type RelationshipDescriptor struct {
	// Name is the relationship name in the entity and in write payloads.
	Name string
	// Kind is the relationship kind.
	Kind RelKind
	// Target is the name of the entity the relationship points to. It must
	// resolve against the registry at compile time.
	Target string
	// FKField is the owning-side foreign-key field: a column on the
	// declaring entity for ToOneOwned, on the target entity for
	// ToManyOwned. Empty for ToManyShared.
	FKField string
	// JoinTable backs ToManyShared relationships. Derived from the two
	// entity names when empty.
	JoinTable string
	// OnDelete is the default delete policy; overridable per request.
	OnDelete DeletePolicy
	// Required indicates a ToOneOwned relationship that must be present
	// on create and may never be nulled.
	Required bool
}

// Association returns the join-table description of a shared relationship,
// as consumed by the persistence collaborator.
func (r *RelationshipDescriptor) Association(owner string) morph.Association {
	table := r.JoinTable
	if table == "" {
		table = inflect.Underscore(owner) + "_" + inflect.Underscore(inflect.Pluralize(r.Target))
	}
	return morph.Association{
		Table:        table,
		OwnerColumn:  inflect.Underscore(owner) + "_id",
		TargetColumn: inflect.Underscore(r.Target) + "_id",
	}
}

// EntityDescriptor describes one entity: its fields, relationships and
// place in the inheritance graph. Descriptors are built once by the
// introspector and shared read-only afterwards.
type EntityDescriptor struct {
	// Name is the unique entity name.
	Name string
	// Table is the storage table name; derived from Name when empty.
	Table string
	// Fields in declaration order.
	Fields []*FieldDescriptor
	// Relationships in declaration order.
	Relationships []*RelationshipDescriptor
	// Parent is the name of the parent entity, if the entity takes part in
	// an inheritance chain.
	Parent string
	// SharesParentStorage distinguishes a behavior-only child that
	// redirects to the parent's storage from a child with a table of its
	// own joined to the parent.
	SharesParentStorage bool
	// Abstract marks an entity that has no storage of its own; its fields
	// are merged into each child at compile time.
	Abstract bool
	// Excluded names fields resolved out of the API surface before the
	// inheritance merge.
	Excluded []string

	fields map[string]*FieldDescriptor
	rels   map[string]*RelationshipDescriptor
}

// TableName returns the storage table of the entity.
func (e *EntityDescriptor) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return inflect.Underscore(inflect.Pluralize(e.Name))
}

// Field returns the field with the given name.
func (e *EntityDescriptor) Field(name string) (*FieldDescriptor, bool) {
	f, ok := e.fields[name]
	return f, ok
}

// Relationship returns the relationship with the given name.
func (e *EntityDescriptor) Relationship(name string) (*RelationshipDescriptor, bool) {
	r, ok := e.rels[name]
	return r, ok
}

// IsExcluded reports if the named field was resolved out of the API surface.
func (e *EntityDescriptor) IsExcluded(name string) bool {
	for _, x := range e.Excluded {
		if x == name {
			return true
		}
	}
	return false
}

// index builds the name lookup maps. Called by Registry.Add.
func (e *EntityDescriptor) index() error {
	e.fields = make(map[string]*FieldDescriptor, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := e.fields[f.Name]; ok {
			return morph.NewCompileError(e.Name, f.Name, "duplicate field")
		}
		if !f.Kind.Valid() {
			return morph.NewCompileError(e.Name, f.Name, "invalid field kind")
		}
		e.fields[f.Name] = f
	}
	e.rels = make(map[string]*RelationshipDescriptor, len(e.Relationships))
	for _, r := range e.Relationships {
		if _, ok := e.rels[r.Name]; ok {
			return morph.NewCompileError(e.Name, r.Name, "duplicate relationship")
		}
		if _, ok := e.fields[r.Name]; ok {
			return morph.NewCompileError(e.Name, r.Name, "relationship name collides with field")
		}
		e.rels[r.Name] = r
	}
	return nil
}

// Registry holds all entity descriptors of one model. It is populated at
// startup, validated once, and read-only afterwards.
type Registry struct {
	entities []*EntityDescriptor
	byName   map[string]*EntityDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*EntityDescriptor)}
}

// Add registers an entity descriptor. Entity names are unique across the
// registry.
func (r *Registry) Add(e *EntityDescriptor) error {
	if e.Name == "" {
		return morph.NewCompileError("", "", "entity with empty name")
	}
	if _, ok := r.byName[e.Name]; ok {
		return morph.NewCompileError(e.Name, "", "duplicate entity name")
	}
	if err := e.index(); err != nil {
		return err
	}
	r.entities = append(r.entities, e)
	r.byName[e.Name] = e
	return nil
}

// Entity returns the descriptor with the given name.
func (r *Registry) Entity(name string) (*EntityDescriptor, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Entities returns all descriptors in registration order.
func (r *Registry) Entities() []*EntityDescriptor {
	return r.entities
}

// Validate checks cross-entity invariants: every relationship target and
// parent reference resolves, shared relationships carry shareable policies,
// and inheritance chains are acyclic. Unresolved references fail here, at
// compile time, never at execution time.
func (r *Registry) Validate() error {
	for _, e := range r.entities {
		if e.Parent != "" {
			p, ok := r.byName[e.Parent]
			if !ok {
				return morph.NewCompileError(e.Name, "", "parent entity %q is not registered", e.Parent)
			}
			if p.Name == e.Name {
				return morph.NewCompileError(e.Name, "", "entity cannot be its own parent")
			}
		}
		for _, rel := range e.Relationships {
			if _, ok := r.byName[rel.Target]; !ok {
				return morph.NewCompileError(e.Name, rel.Name, "relationship target %q is not registered", rel.Target)
			}
			switch rel.Kind {
			case ToManyShared:
				if rel.OnDelete == SetNull {
					return morph.NewCompileError(e.Name, rel.Name, "set-null is not applicable to shared relationships")
				}
			default:
				if rel.OnDelete == ClearAssociation {
					return morph.NewCompileError(e.Name, rel.Name, "clear-association is only applicable to shared relationships")
				}
				if rel.FKField == "" {
					return morph.NewCompileError(e.Name, rel.Name, "owned relationship requires a foreign-key field")
				}
			}
		}
	}
	// Inheritance chains must terminate.
	for _, e := range r.entities {
		seen := map[string]bool{e.Name: true}
		for p := e.Parent; p != ""; {
			if seen[p] {
				return morph.NewCompileError(e.Name, "", "inheritance cycle through %q", p)
			}
			seen[p] = true
			pe := r.byName[p]
			if pe == nil {
				break
			}
			p = pe.Parent
		}
	}
	return nil
}

// Children returns the entities whose Parent is the given entity, in
// registration order.
func (r *Registry) Children(name string) []*EntityDescriptor {
	var out []*EntityDescriptor
	for _, e := range r.entities {
		if e.Parent == name {
			out = append(out, e)
		}
	}
	return out
}

// Inbound returns every relationship in the registry that targets the given
// entity, together with its declaring entity. The deletion safety checker
// walks this reverse index.
func (r *Registry) Inbound(name string) []InboundRel {
	var out []InboundRel
	for _, e := range r.entities {
		for _, rel := range e.Relationships {
			if rel.Target == name {
				out = append(out, InboundRel{Source: e, Rel: rel})
			}
		}
	}
	return out
}

// InboundRel pairs a relationship with the entity declaring it.
type InboundRel struct {
	Source *EntityDescriptor
	Rel    *RelationshipDescriptor
}

// storageRoot resolves the entity whose table actually stores rows of e:
// itself normally, the nearest non-sharing ancestor for storage-sharing
// children.
func (r *Registry) storageRoot(e *EntityDescriptor) *EntityDescriptor {
	for e.SharesParentStorage && e.Parent != "" {
		p, ok := r.byName[e.Parent]
		if !ok {
			break
		}
		e = p
	}
	return e
}

// StorageTable returns the table rows of the named entity live in,
// following storage-sharing chains.
func (r *Registry) StorageTable(name string) (string, error) {
	e, ok := r.byName[name]
	if !ok {
		return "", morph.NewCompileError(name, "", "entity is not registered")
	}
	return r.storageRoot(e).TableName(), nil
}

func (r *Registry) String() string {
	return fmt.Sprintf("schema.Registry(%d entities)", len(r.entities))
}
