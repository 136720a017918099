// Package schema defines the descriptor model of a Morph entity registry.
//
// A descriptor is the normalized, storage-agnostic description of one
// entity: its fields, its relationships, and its place in the inheritance
// graph. Descriptors are produced once by the introspector, validated by
// [Registry.Validate], and shared read-only by every later stage, from
// type derivation through planning, validation and execution.
//
// # Fields
//
// Each field carries a semantic [FieldKind] plus declared constraints:
//
//	&schema.FieldDescriptor{
//	    Name:        "title",
//	    Kind:        schema.KindString,
//	    Constraints: schema.Constraints{MaxLen: 255},
//	}
//
// Computed fields (Computed: true) are method-derived and read-only: they
// appear on read types only and never accept input.
//
// # Relationships
//
// Relationships come in three kinds, each with a default delete policy:
//
//	// Author owns its books; deleting the author is blocked while any exist.
//	&schema.RelationshipDescriptor{
//	    Name: "books", Kind: schema.ToManyOwned, Target: "Book",
//	    FKField: "author_id", OnDelete: schema.Protect,
//	}
//
//	// Tags are shared; deleting the author only clears the join rows.
//	&schema.RelationshipDescriptor{
//	    Name: "tags", Kind: schema.ToManyShared, Target: "Tag",
//	    OnDelete: schema.ClearAssociation,
//	}
//
// # Inheritance
//
// Every inheritance form is normalized to a Parent link plus the
// SharesParentStorage flag; abstract bases additionally set Abstract and
// contribute their fields to each child at compile time.
package schema
