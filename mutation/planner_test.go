package mutation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/morph"
	"github.com/syssam/morph/scalar"
	"github.com/syssam/morph/schema"
	"github.com/syssam/morph/typegraph"
)

func libraryGraph(t *testing.T) *typegraph.TypeGraph {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.Add(&schema.EntityDescriptor{
		Name: "Author",
		Fields: []*schema.FieldDescriptor{
			{Name: "name", Kind: schema.KindString, Constraints: schema.Constraints{MaxLen: 100}},
		},
		Relationships: []*schema.RelationshipDescriptor{
			{Name: "books", Kind: schema.ToManyOwned, Target: "Book", FKField: "author_id", OnDelete: schema.Cascade},
			{Name: "tags", Kind: schema.ToManyShared, Target: "Tag", OnDelete: schema.ClearAssociation},
		},
	}))
	require.NoError(t, r.Add(&schema.EntityDescriptor{
		Name: "Book",
		Fields: []*schema.FieldDescriptor{
			{Name: "title", Kind: schema.KindString},
			{Name: "pages", Kind: schema.KindInt, Nullable: true},
		},
		Relationships: []*schema.RelationshipDescriptor{
			{Name: "publisher", Kind: schema.ToOneOwned, Target: "Publisher", FKField: "publisher_id", OnDelete: schema.SetNull},
			{Name: "reviews", Kind: schema.ToManyOwned, Target: "Review", FKField: "book_id", OnDelete: schema.Cascade},
		},
	}))
	require.NoError(t, r.Add(&schema.EntityDescriptor{
		Name:   "Publisher",
		Fields: []*schema.FieldDescriptor{{Name: "name", Kind: schema.KindString}},
	}))
	require.NoError(t, r.Add(&schema.EntityDescriptor{
		Name:   "Review",
		Fields: []*schema.FieldDescriptor{{Name: "body", Kind: schema.KindString}},
	}))
	require.NoError(t, r.Add(&schema.EntityDescriptor{
		Name:   "Tag",
		Fields: []*schema.FieldDescriptor{{Name: "label", Kind: schema.KindString}},
	}))
	g, err := typegraph.Compile(r, scalar.NewRegistry())
	require.NoError(t, err)
	return g
}

// fakeReader serves canned rows and association targets, keyed loosely
// so int and int64 identities compare equal.
type fakeReader struct {
	rows   map[string][]morph.Row
	assocs map[string][]any // "table/ownerColumn/ownerID" -> target ids
}

func (f *fakeReader) FindByIdentity(_ context.Context, entity string, id any) (morph.Row, error) {
	for _, row := range f.rows[entity] {
		if fmt.Sprint(row.ID()) == fmt.Sprint(id) {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeReader) FindByFilter(_ context.Context, entity string, c *morph.Criteria) ([]morph.Row, error) {
	var out []morph.Row
	for _, row := range f.rows[entity] {
		match := true
		for _, flt := range c.Filters {
			if flt.Op != morph.OpEQ || fmt.Sprint(row[flt.Field]) != fmt.Sprint(flt.Value) {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeReader) Count(ctx context.Context, entity string, filters []*morph.Filter) (int, error) {
	rows, err := f.FindByFilter(ctx, entity, &morph.Criteria{Filters: filters})
	return len(rows), err
}

func (f *fakeReader) AssociationTargets(_ context.Context, assoc morph.Association, ownerID any) ([]any, error) {
	return f.assocs[fmt.Sprintf("%s/%s/%v", assoc.Table, assoc.OwnerColumn, ownerID)], nil
}

func opsOfKind(plan *Plan, kind OpKind) []*Operation {
	var out []*Operation
	for _, op := range plan.Ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func TestPlanCreateNested(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g)

	plan, err := p.PlanMutation(context.Background(), author, map[string]any{
		"name": "Ursula",
		"books": []any{
			map[string]any{"title": "Left Hand", "pages": 304},
			map[string]any{"title": "Dispossessed"},
		},
		"tags": []any{
			map[string]any{"id": 7},
		},
	}, morph.ModeCreate, PlanOptions{})
	require.NoError(t, err)

	root := plan.Op(plan.Root)
	assert.Equal(t, OpCreate, root.Kind)
	assert.Equal(t, "Author", root.Entity)
	assert.Equal(t, "Ursula", root.Values["name"])

	books := opsOfKind(plan, OpCreate)[1:]
	require.Len(t, books, 2)
	for _, b := range books {
		assert.Equal(t, "Book", b.Entity)
		assert.Equal(t, ValueRef{Ref: plan.Root}, b.Values["author_id"])
		assert.Contains(t, b.DependsOn, plan.Root)
	}

	links := opsOfKind(plan, OpLink)
	require.Len(t, links, 1)
	assert.Equal(t, "Tag", links[0].Entity)
	assert.Equal(t, int64(7), links[0].Identity)
	assert.Contains(t, links[0].DependsOn, plan.Root)

	// The owner must run before everything that references it.
	ordered, err := plan.Order()
	require.NoError(t, err)
	assert.Equal(t, plan.Root, ordered[0].Ref)
}

func TestPlanToOneLink(t *testing.T) {
	g := libraryGraph(t)
	book, _ := g.Node("Book")
	p := NewPlanner(g)

	plan, err := p.PlanMutation(context.Background(), book, map[string]any{
		"title":     "Omnibus",
		"publisher": map[string]any{"id": 3},
	}, morph.ModeCreate, PlanOptions{})
	require.NoError(t, err)

	links := opsOfKind(plan, OpLink)
	require.Len(t, links, 1)
	assert.Equal(t, "Publisher", links[0].Entity)
	assert.Equal(t, int64(3), links[0].Identity)

	root := plan.Op(plan.Root)
	assert.Equal(t, ValueRef{Ref: links[0].Ref}, root.Values["publisher_id"])
	assert.Contains(t, root.DependsOn, links[0].Ref)

	// The link check must precede the row that stores its key.
	ordered, err := plan.Order()
	require.NoError(t, err)
	assert.Equal(t, links[0].Ref, ordered[0].Ref)
}

func TestPlanToOneNestedCreate(t *testing.T) {
	g := libraryGraph(t)
	book, _ := g.Node("Book")
	p := NewPlanner(g)

	plan, err := p.PlanMutation(context.Background(), book, map[string]any{
		"title":     "Omnibus",
		"publisher": map[string]any{"name": "Tor"},
	}, morph.ModeCreate, PlanOptions{})
	require.NoError(t, err)

	creates := opsOfKind(plan, OpCreate)
	require.Len(t, creates, 2)
	pub := creates[1]
	assert.Equal(t, "Publisher", pub.Entity)

	root := plan.Op(plan.Root)
	assert.Equal(t, ValueRef{Ref: pub.Ref}, root.Values["publisher_id"])

	ordered, err := plan.Order()
	require.NoError(t, err)
	assert.Equal(t, pub.Ref, ordered[0].Ref)
}

func TestPlanReplaceAllOwned(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g)
	reader := &fakeReader{
		rows: map[string][]morph.Row{
			"Book": {
				{"id": int64(10), "author_id": int64(1)},
				{"id": int64(11), "author_id": int64(1)},
				{"id": int64(12), "author_id": int64(1)},
			},
		},
	}

	plan, err := p.PlanMutation(context.Background(), author, map[string]any{
		"id": 1,
		"books": []any{
			map[string]any{"id": 10, "title": "Revised"},
			map[string]any{"title": "Brand New"},
		},
	}, morph.ModeUpdate, PlanOptions{ReplaceAll: true, Current: reader})
	require.NoError(t, err)

	updates := opsOfKind(plan, OpUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, int64(10), updates[1].Identity)
	assert.Equal(t, "Revised", updates[1].Values["title"])

	deletes := opsOfKind(plan, OpDelete)
	require.Len(t, deletes, 2)
	var gone []any
	for _, d := range deletes {
		assert.Equal(t, "Book", d.Entity)
		gone = append(gone, d.Identity)
	}
	assert.ElementsMatch(t, []any{int64(11), int64(12)}, gone)
}

func TestPlanReplaceAllShared(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g)
	reader := &fakeReader{
		assocs: map[string][]any{
			"author_tags/author_id/1": {int64(5), int64(7)},
		},
	}

	plan, err := p.PlanMutation(context.Background(), author, map[string]any{
		"id": 1,
		"tags": []any{
			map[string]any{"id": 7},
		},
	}, morph.ModeUpdate, PlanOptions{ReplaceAll: true, Current: reader})
	require.NoError(t, err)

	// The kept member links, the absent one unlinks, no rows die.
	unlinks := opsOfKind(plan, OpUnlink)
	require.Len(t, unlinks, 1)
	assert.Equal(t, int64(5), unlinks[0].Identity)
	assert.Empty(t, opsOfKind(plan, OpDelete))
}

func TestPlanSharedNestedCreateLinks(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g)

	plan, err := p.PlanMutation(context.Background(), author, map[string]any{
		"name": "Ursula",
		"tags": []any{
			map[string]any{"label": "fiction"},
		},
	}, morph.ModeCreate, PlanOptions{})
	require.NoError(t, err)

	creates := opsOfKind(plan, OpCreate)
	require.Len(t, creates, 2)
	tag := creates[1]
	links := opsOfKind(plan, OpLink)
	require.Len(t, links, 1)
	// The link waits for both the owner and the freshly created member.
	assert.Equal(t, ValueRef{Ref: tag.Ref}, links[0].Identity)
	assert.Contains(t, links[0].DependsOn, plan.Root)
	assert.Contains(t, links[0].DependsOn, tag.Ref)
}

func TestPlanBulkThreshold(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g, WithBulkThreshold(2))

	plan, err := p.PlanMutation(context.Background(), author, map[string]any{
		"name": "Prolific",
		"books": []any{
			map[string]any{"title": "One"},
			map[string]any{"title": "Two"},
			map[string]any{"title": "Three"},
		},
	}, morph.ModeCreate, PlanOptions{})
	require.NoError(t, err)

	var bulk *Operation
	for _, op := range plan.Ops {
		if op.Bulk {
			bulk = op
		}
	}
	require.NotNil(t, bulk)
	assert.Equal(t, "Book", bulk.Entity)
	require.Len(t, bulk.BulkItems, 3)
	for _, item := range bulk.BulkItems {
		assert.Equal(t, ValueRef{Ref: plan.Root}, item["author_id"])
	}
	// Individual create ops collapse into the bulk operation.
	assert.Len(t, opsOfKind(plan, OpCreate), 2) // author + bulk
}

func TestPlanModeErrors(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g)

	_, err := p.PlanMutation(context.Background(), author, map[string]any{
		"id": 1, "name": "x",
	}, morph.ModeCreate, PlanOptions{})
	require.Error(t, err)

	_, err = p.PlanMutation(context.Background(), author, map[string]any{
		"name": "x",
	}, morph.ModeUpdate, PlanOptions{})
	require.Error(t, err)
}

func TestPlanCreateRejectsNestedIdentity(t *testing.T) {
	g := libraryGraph(t)
	author, _ := g.Node("Author")
	p := NewPlanner(g)

	// A nested object carrying both an identity and data is neither a
	// reference nor a create; it is rejected the same way the root is.
	_, err := p.PlanMutation(context.Background(), author, map[string]any{
		"name": "x",
		"books": []any{
			map[string]any{"id": 10, "title": "Claimed"},
		},
	}, morph.ModeCreate, PlanOptions{})
	require.Error(t, err)
	var fe *morph.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "id", fe.Field)
}

func TestOrderRejectsCycle(t *testing.T) {
	plan := &Plan{Entity: "Author", Ops: []*Operation{
		{Ref: 0, Kind: OpCreate, Entity: "Author", DependsOn: []OpRef{1}},
		{Ref: 1, Kind: OpCreate, Entity: "Book", DependsOn: []OpRef{0}},
	}}
	_, err := plan.Order()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
}

func TestResolveValues(t *testing.T) {
	values := map[string]any{"author_id": ValueRef{Ref: 2}, "title": "x"}
	out, err := ResolveValues(values, map[OpRef]any{2: int64(41)})
	require.NoError(t, err)
	assert.Equal(t, int64(41), out["author_id"])
	assert.Equal(t, "x", out["title"])

	_, err = ResolveValues(values, map[OpRef]any{})
	require.Error(t, err)
}
