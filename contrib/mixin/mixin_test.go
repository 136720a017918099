package mixin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/morph/contrib/mixin"
	"github.com/syssam/morph/scalar"
	"github.com/syssam/morph/schema"
	"github.com/syssam/morph/typegraph"
)

func TestApplyPrependsFields(t *testing.T) {
	e := &schema.EntityDescriptor{
		Name:   "Invoice",
		Fields: []*schema.FieldDescriptor{{Name: "total", Kind: schema.KindFloat}},
	}
	mixin.Apply(e, mixin.Time{}, mixin.TenantID{})

	require.Len(t, e.Fields, 4)
	assert.Equal(t, "created_at", e.Fields[0].Name)
	assert.Equal(t, "updated_at", e.Fields[1].Name)
	assert.Equal(t, "tenant_id", e.Fields[2].Name)
	assert.Equal(t, "total", e.Fields[3].Name)
	assert.True(t, e.Fields[0].Immutable)
}

func TestMixedEntityCompiles(t *testing.T) {
	e := &schema.EntityDescriptor{
		Name:   "Document",
		Fields: []*schema.FieldDescriptor{{Name: "body", Kind: schema.KindString}},
	}
	mixin.Apply(e, mixin.UUIDKey{}, mixin.SoftDelete{})

	r := schema.NewRegistry()
	require.NoError(t, r.Add(e))
	require.NoError(t, r.Validate())

	g, err := typegraph.Compile(r, scalar.NewRegistry())
	require.NoError(t, err)

	node, ok := g.Node("Document")
	require.True(t, ok)
	id, ok := node.Field("id")
	require.True(t, ok)
	assert.Equal(t, schema.KindUUID, id.Field.Kind)
	deleted, ok := node.Field("deleted_at")
	require.True(t, ok)
	assert.True(t, deleted.Field.Nullable)
}

func TestNewID(t *testing.T) {
	assert.NotEqual(t, mixin.NewID(), mixin.NewID())
}
