package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/morph"
)

func TestRegistryAdd(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&EntityDescriptor{
		Name: "Author",
		Fields: []*FieldDescriptor{
			{Name: "name", Kind: KindString},
		},
	}))

	t.Run("duplicate entity", func(t *testing.T) {
		err := r.Add(&EntityDescriptor{Name: "Author"})
		require.Error(t, err)
		assert.True(t, morph.IsCompileError(err))
		assert.Contains(t, err.Error(), "duplicate entity name")
	})

	t.Run("duplicate field", func(t *testing.T) {
		err := r.Add(&EntityDescriptor{
			Name: "Book",
			Fields: []*FieldDescriptor{
				{Name: "title", Kind: KindString},
				{Name: "title", Kind: KindString},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate field")
	})

	t.Run("field relationship collision", func(t *testing.T) {
		err := r.Add(&EntityDescriptor{
			Name:   "Shelf",
			Fields: []*FieldDescriptor{{Name: "books", Kind: KindInt}},
			Relationships: []*RelationshipDescriptor{
				{Name: "books", Kind: ToManyOwned, Target: "Book", FKField: "shelf_id"},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "collides with field")
	})

	t.Run("invalid kind", func(t *testing.T) {
		err := r.Add(&EntityDescriptor{
			Name:   "Reader",
			Fields: []*FieldDescriptor{{Name: "age"}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid field kind")
	})
}

func TestRegistryValidate(t *testing.T) {
	build := func(entities ...*EntityDescriptor) error {
		r := NewRegistry()
		for _, e := range entities {
			if err := r.Add(e); err != nil {
				return err
			}
		}
		return r.Validate()
	}

	t.Run("unresolved target", func(t *testing.T) {
		err := build(&EntityDescriptor{
			Name: "Author",
			Relationships: []*RelationshipDescriptor{
				{Name: "books", Kind: ToManyOwned, Target: "Book", FKField: "author_id"},
			},
		})
		require.Error(t, err)
		var ce *morph.CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "Author", ce.Entity)
		assert.Equal(t, "books", ce.Field)
	})

	t.Run("unresolved parent", func(t *testing.T) {
		err := build(&EntityDescriptor{Name: "Novel", Parent: "Book"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `parent entity "Book"`)
	})

	t.Run("set-null on shared", func(t *testing.T) {
		err := build(
			&EntityDescriptor{Name: "Tag"},
			&EntityDescriptor{
				Name: "Author",
				Relationships: []*RelationshipDescriptor{
					{Name: "tags", Kind: ToManyShared, Target: "Tag", OnDelete: SetNull},
				},
			},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "set-null is not applicable")
	})

	t.Run("clear-association on owned", func(t *testing.T) {
		err := build(
			&EntityDescriptor{Name: "Book"},
			&EntityDescriptor{
				Name: "Author",
				Relationships: []*RelationshipDescriptor{
					{Name: "books", Kind: ToManyOwned, Target: "Book", FKField: "author_id", OnDelete: ClearAssociation},
				},
			},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only applicable to shared")
	})

	t.Run("missing foreign key", func(t *testing.T) {
		err := build(
			&EntityDescriptor{Name: "Book"},
			&EntityDescriptor{
				Name: "Author",
				Relationships: []*RelationshipDescriptor{
					{Name: "books", Kind: ToManyOwned, Target: "Book"},
				},
			},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "foreign-key")
	})

	t.Run("inheritance cycle", func(t *testing.T) {
		err := build(
			&EntityDescriptor{Name: "A", Parent: "B"},
			&EntityDescriptor{Name: "B", Parent: "A"},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inheritance cycle")
	})

	t.Run("valid graph", func(t *testing.T) {
		require.NoError(t, build(
			&EntityDescriptor{Name: "Tag"},
			&EntityDescriptor{Name: "Book"},
			&EntityDescriptor{
				Name: "Author",
				Relationships: []*RelationshipDescriptor{
					{Name: "books", Kind: ToManyOwned, Target: "Book", FKField: "author_id", OnDelete: Protect},
					{Name: "tags", Kind: ToManyShared, Target: "Tag", OnDelete: ClearAssociation},
				},
			},
		))
	})
}

func TestStorageTable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&EntityDescriptor{Name: "Book"}))
	require.NoError(t, r.Add(&EntityDescriptor{Name: "AudioBook", Parent: "Book", SharesParentStorage: true}))
	require.NoError(t, r.Add(&EntityDescriptor{Name: "Novel", Parent: "Book"}))
	require.NoError(t, r.Validate())

	table, err := r.StorageTable("Book")
	require.NoError(t, err)
	assert.Equal(t, "books", table)

	// Behavior-only children redirect to the parent table.
	table, err = r.StorageTable("AudioBook")
	require.NoError(t, err)
	assert.Equal(t, "books", table)

	// Table-per-subclass children keep their own table.
	table, err = r.StorageTable("Novel")
	require.NoError(t, err)
	assert.Equal(t, "novels", table)

	_, err = r.StorageTable("Comic")
	require.Error(t, err)
}

func TestInbound(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&EntityDescriptor{Name: "Author"}))
	require.NoError(t, r.Add(&EntityDescriptor{
		Name: "Book",
		Relationships: []*RelationshipDescriptor{
			{Name: "author", Kind: ToOneOwned, Target: "Author", FKField: "author_id"},
		},
	}))
	require.NoError(t, r.Add(&EntityDescriptor{
		Name: "Review",
		Relationships: []*RelationshipDescriptor{
			{Name: "author", Kind: ToOneOwned, Target: "Author", FKField: "author_id"},
			{Name: "book", Kind: ToOneOwned, Target: "Book", FKField: "book_id"},
		},
	}))
	require.NoError(t, r.Validate())

	in := r.Inbound("Author")
	require.Len(t, in, 2)
	assert.Equal(t, "Book", in[0].Source.Name)
	assert.Equal(t, "Review", in[1].Source.Name)

	in = r.Inbound("Review")
	assert.Empty(t, in)
}

func TestAssociation(t *testing.T) {
	rel := &RelationshipDescriptor{Name: "tags", Kind: ToManyShared, Target: "Tag"}
	assoc := rel.Association("Author")
	assert.Equal(t, "author_tags", assoc.Table)
	assert.Equal(t, "author_id", assoc.OwnerColumn)
	assert.Equal(t, "tag_id", assoc.TargetColumn)

	rel.JoinTable = "taggings"
	assert.Equal(t, "taggings", rel.Association("Author").Table)
}
