// Package mixin provides reusable descriptor fragments for entity models
// built in code. A mixin contributes a fixed field set; Apply prepends
// the fields of each mixin to an entity descriptor, so mixed-in fields
// come before the entity's own.
//
// These are optional starting points, not a framework:
//
//	e := &schema.EntityDescriptor{Name: "Invoice", Fields: ...}
//	mixin.Apply(e, mixin.Time{}, mixin.TenantID{})
package mixin

import (
	"github.com/google/uuid"

	"github.com/syssam/morph/schema"
)

// Mixin contributes a fixed field set to an entity descriptor.
type Mixin interface {
	Fields() []*schema.FieldDescriptor
}

// Apply prepends the fields of each mixin, in order, to the descriptor.
func Apply(e *schema.EntityDescriptor, mixins ...Mixin) {
	var fields []*schema.FieldDescriptor
	for _, m := range mixins {
		fields = append(fields, m.Fields()...)
	}
	e.Fields = append(fields, e.Fields...)
}

// CreateTime adds an immutable created_at timestamp.
type CreateTime struct{}

// Fields of the create time mixin.
func (CreateTime) Fields() []*schema.FieldDescriptor {
	return []*schema.FieldDescriptor{
		{Name: "created_at", Kind: schema.KindTime, Immutable: true},
	}
}

// UpdateTime adds an updated_at timestamp.
type UpdateTime struct{}

// Fields of the update time mixin.
func (UpdateTime) Fields() []*schema.FieldDescriptor {
	return []*schema.FieldDescriptor{
		{Name: "updated_at", Kind: schema.KindTime},
	}
}

// Time combines CreateTime and UpdateTime.
type Time struct{}

// Fields of the time mixin.
func (Time) Fields() []*schema.FieldDescriptor {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// UUIDKey declares a UUID identity instead of the default integer one.
type UUIDKey struct{}

// Fields of the UUID key mixin.
func (UUIDKey) Fields() []*schema.FieldDescriptor {
	return []*schema.FieldDescriptor{
		{Name: "id", Kind: schema.KindUUID, Immutable: true},
	}
}

// NewID generates an identity value for UUID-keyed entities.
func NewID() string {
	return uuid.NewString()
}

// SoftDelete adds a nullable deleted_at marker; rows are filtered, not
// removed.
type SoftDelete struct{}

// Fields of the soft delete mixin.
func (SoftDelete) Fields() []*schema.FieldDescriptor {
	return []*schema.FieldDescriptor{
		{Name: "deleted_at", Kind: schema.KindTime, Nullable: true},
	}
}

// TenantID adds the tenant scoping field the privacy tenant rule checks.
type TenantID struct{}

// Fields of the tenant mixin.
func (TenantID) Fields() []*schema.FieldDescriptor {
	return []*schema.FieldDescriptor{
		{Name: "tenant_id", Kind: schema.KindString, Immutable: true},
	}
}
