package exec_test

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"testing"

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

// memState is one consistent snapshot of the fake store: entity rows keyed
// by stringified identity, join rows keyed by table then owner.
type memState struct {
	tables map[string]map[string]morph.Row
	assocs map[string]map[string][]any
	nextID int64
}

func (s *memState) clone() *memState {
	out := &memState{
		tables: make(map[string]map[string]morph.Row, len(s.tables)),
		assocs: make(map[string]map[string][]any, len(s.assocs)),
		nextID: s.nextID,
	}
	for entity, rows := range s.tables {
		out.tables[entity] = make(map[string]morph.Row, len(rows))
		for k, row := range rows {
			out.tables[entity][k] = maps.Clone(row)
		}
	}
	for table, owners := range s.assocs {
		out.assocs[table] = make(map[string][]any, len(owners))
		for k, ids := range owners {
			out.assocs[table][k] = append([]any(nil), ids...)
		}
	}
	return out
}

func key(v any) string { return fmt.Sprint(v) }

func (s *memState) find(entity string, id any) (morph.Row, error) {
	if row, ok := s.tables[entity][key(id)]; ok {
		return maps.Clone(row), nil
	}
	return nil, fmt.Errorf("morph: %s %v: %w", entity, id, morph.ErrNotFound)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func valueLess(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return key(a) < key(b)
}

func valueEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return key(a) == key(b)
}

func matches(row morph.Row, f *morph.Filter) bool {
	v := row[f.Field]
	switch f.Op {
	case morph.OpEQ:
		return valueEqual(v, f.Value)
	case morph.OpNEQ:
		return !valueEqual(v, f.Value)
	case morph.OpContains:
		return strings.Contains(key(v), key(f.Value))
	case morph.OpGT:
		return v != nil && valueLess(f.Value, v)
	case morph.OpGTE:
		return v != nil && !valueLess(v, f.Value)
	case morph.OpLT:
		return v != nil && valueLess(v, f.Value)
	case morph.OpLTE:
		return v != nil && !valueLess(f.Value, v)
	case morph.OpIn:
		items, _ := f.Value.([]any)
		for _, item := range items {
			if valueEqual(v, item) {
				return true
			}
		}
		return false
	case morph.OpIsNull:
		return v == nil
	}
	return false
}

func (s *memState) filter(entity string, c *morph.Criteria) []morph.Row {
	var out []morph.Row
	for _, row := range s.tables[entity] {
		ok := true
		for _, f := range c.Filters {
			if !matches(row, f) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, maps.Clone(row))
		}
	}
	order := morph.Order{Field: "id"}
	if len(c.Order) > 0 {
		order = c.Order[0]
	}
	sort.SliceStable(out, func(i, j int) bool {
		less := valueLess(out[i][order.Field], out[j][order.Field])
		if order.Desc {
			return !less && !valueEqual(out[i][order.Field], out[j][order.Field])
		}
		return less
	})
	if c.Offset > 0 {
		if c.Offset >= len(out) {
			return nil
		}
		out = out[c.Offset:]
	}
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out
}

// memStore is an in-memory morph.Storage. Each transaction works on a deep
// copy of the committed state; commit swaps the copy in, rollback drops it,
// so a failed request leaves zero net change.
type memStore struct {
	mu        sync.Mutex
	state     *memState
	commits   int
	rollbacks int
	// failInsert makes inserts into the named entity fail.
	failInsert string
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		tables: map[string]map[string]morph.Row{},
		assocs: map[string]map[string][]any{},
		nextID: 100,
	}}
}

func (s *memStore) seed(entity string, rows ...morph.Row) {
	if s.state.tables[entity] == nil {
		s.state.tables[entity] = map[string]morph.Row{}
	}
	for _, row := range rows {
		s.state.tables[entity][key(row.ID())] = row
	}
}

func (s *memStore) seedAssoc(table string, ownerID any, targets ...any) {
	if s.state.assocs[table] == nil {
		s.state.assocs[table] = map[string][]any{}
	}
	s.state.assocs[table][key(ownerID)] = targets
}

func (s *memStore) FindByIdentity(_ context.Context, entity string, id any) (morph.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.find(entity, id)
}

func (s *memStore) FindByFilter(_ context.Context, entity string, c *morph.Criteria) ([]morph.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.filter(entity, c), nil
}

func (s *memStore) Count(_ context.Context, entity string, filters []*morph.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.filter(entity, &morph.Criteria{Filters: filters})), nil
}

func (s *memStore) AssociationTargets(_ context.Context, assoc morph.Association, ownerID any) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.state.assocs[assoc.Table][key(ownerID)]...), nil
}

func (s *memStore) Tx(context.Context) (morph.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memTx{store: s, state: s.state.clone()}, nil
}

type memTx struct {
	store *memStore
	state *memState
}

func (t *memTx) FindByIdentity(_ context.Context, entity string, id any) (morph.Row, error) {
	return t.state.find(entity, id)
}

func (t *memTx) FindByFilter(_ context.Context, entity string, c *morph.Criteria) ([]morph.Row, error) {
	return t.state.filter(entity, c), nil
}

func (t *memTx) Count(_ context.Context, entity string, filters []*morph.Filter) (int, error) {
	return len(t.state.filter(entity, &morph.Criteria{Filters: filters})), nil
}

func (t *memTx) AssociationTargets(_ context.Context, assoc morph.Association, ownerID any) ([]any, error) {
	return append([]any(nil), t.state.assocs[assoc.Table][key(ownerID)]...), nil
}

func (t *memTx) Insert(_ context.Context, entity string, values map[string]any) (any, error) {
	if entity == t.store.failInsert {
		return nil, fmt.Errorf("insert %s: constraint failed", entity)
	}
	row := maps.Clone(values)
	id, ok := row["id"]
	if !ok || id == nil {
		t.state.nextID++
		id = t.state.nextID
		row["id"] = id
	}
	if t.state.tables[entity] == nil {
		t.state.tables[entity] = map[string]morph.Row{}
	}
	t.state.tables[entity][key(id)] = row
	return id, nil
}

func (t *memTx) InsertBulk(ctx context.Context, entity string, rows []map[string]any) ([]any, error) {
	ids := make([]any, len(rows))
	for i, values := range rows {
		id, err := t.Insert(ctx, entity, values)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (t *memTx) Update(_ context.Context, entity string, id any, values map[string]any) error {
	row, ok := t.state.tables[entity][key(id)]
	if !ok {
		return fmt.Errorf("morph: %s %v: %w", entity, id, morph.ErrNotFound)
	}
	for k, v := range values {
		row[k] = v
	}
	return nil
}

func (t *memTx) Delete(_ context.Context, entity string, id any) error {
	if _, ok := t.state.tables[entity][key(id)]; !ok {
		return fmt.Errorf("morph: %s %v: %w", entity, id, morph.ErrNotFound)
	}
	delete(t.state.tables[entity], key(id))
	return nil
}

func (t *memTx) AddAssociation(_ context.Context, assoc morph.Association, ownerID, targetID any) error {
	if t.state.assocs[assoc.Table] == nil {
		t.state.assocs[assoc.Table] = map[string][]any{}
	}
	for _, id := range t.state.assocs[assoc.Table][key(ownerID)] {
		if valueEqual(id, targetID) {
			return nil
		}
	}
	t.state.assocs[assoc.Table][key(ownerID)] = append(t.state.assocs[assoc.Table][key(ownerID)], targetID)
	return nil
}

func (t *memTx) RemoveAssociation(_ context.Context, assoc morph.Association, ownerID, targetID any) error {
	ids := t.state.assocs[assoc.Table][key(ownerID)]
	out := ids[:0]
	for _, id := range ids {
		if !valueEqual(id, targetID) {
			out = append(out, id)
		}
	}
	t.state.assocs[assoc.Table][key(ownerID)] = out
	return nil
}

func (t *memTx) ClearAssociation(_ context.Context, assoc morph.Association, ownerID any) (int, error) {
	n := len(t.state.assocs[assoc.Table][key(ownerID)])
	delete(t.state.assocs[assoc.Table], key(ownerID))
	return n, nil
}

func (t *memTx) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.state = t.state
	t.store.commits++
	return nil
}

func (t *memTx) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.rollbacks++
	return nil
}

// libraryStore seeds the fixture rows every executor test starts from.
func libraryStore() *memStore {
	s := newMemStore()
	s.seed("Author", morph.Row{"id": int64(1), "name": "Ursula"})
	s.seed("Book",
		morph.Row{"id": int64(10), "title": "Left Hand", "pages": int64(304), "author_id": int64(1), "publisher_id": int64(2)},
		morph.Row{"id": int64(11), "title": "Dispossessed", "pages": nil, "author_id": int64(1), "publisher_id": nil},
	)
	s.seed("Publisher", morph.Row{"id": int64(2), "name": "Tor"})
	s.seed("Review", morph.Row{"id": int64(100), "body": "a classic", "book_id": int64(10)})
	s.seed("Tag",
		morph.Row{"id": int64(5), "label": "sf"},
		morph.Row{"id": int64(7), "label": "classic"},
	)
	s.seedAssoc("author_tags", int64(1), int64(5))
	return s
}
