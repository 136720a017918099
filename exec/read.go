package exec

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/morph"
	"github.com/syssam/morph/contrib/batch"
	"github.com/syssam/morph/query"
	"github.com/syssam/morph/schema"
)

// ReadRequest is one plural read: relationship paths to eager-load,
// filters and a page request.
type ReadRequest struct {
	Paths   []string
	Filters []query.FilterInput
	Page    query.Pagination
}

// PageInfo reports pagination state for one page of results.
type PageInfo struct {
	HasNextPage bool
	EndCursor   string
}

// Connection is one page of rows with its pagination state. Eager-loaded
// relationships hang off each row under their relationship names.
type Connection struct {
	Rows     []morph.Row
	PageInfo PageInfo
}

// ExecuteRead runs a plural read: filtered, cursor-paginated primary rows
// with the requested relationship tree fetched in a bounded number of
// batched calls.
func (r *Runner) ExecuteRead(ctx context.Context, entity string, req ReadRequest) (*Connection, error) {
	node, err := r.node(entity)
	if err != nil {
		return nil, err
	}
	plan, err := r.reads.PlanRead(node, req.Paths, req.Filters, req.Page)
	if err != nil {
		return nil, err
	}
	rows, err := r.storage.FindByFilter(ctx, entity, plan.Criteria)
	if err != nil {
		return nil, err
	}
	hasNext := len(rows) > plan.PageSize
	if hasNext {
		rows = rows[:plan.PageSize]
	}
	if err := r.loadEager(ctx, entity, rows, plan.Eager); err != nil {
		return nil, err
	}
	conn := &Connection{Rows: rows, PageInfo: PageInfo{HasNextPage: hasNext}}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		cur := query.Cursor{Key: last[plan.OrderField], ID: last.ID()}
		s, err := cur.Encode()
		if err != nil {
			return nil, err
		}
		conn.PageInfo.EndCursor = s
	}
	return conn, nil
}

// ExecuteGet runs a singular read by identity with the requested
// relationship tree.
func (r *Runner) ExecuteGet(ctx context.Context, entity string, identity any, paths []string) (morph.Row, error) {
	node, err := r.node(entity)
	if err != nil {
		return nil, err
	}
	plan, err := r.reads.PlanRead(node, paths, nil, query.Pagination{First: 1})
	if err != nil {
		return nil, err
	}
	row, err := r.storage.FindByIdentity(ctx, entity, identity)
	if err != nil {
		return nil, err
	}
	if err := r.loadEager(ctx, entity, []morph.Row{row}, plan.Eager); err != nil {
		return nil, err
	}
	return row, nil
}

// loadEager fetches the relationship loads of one level concurrently.
// Each load returns an attach closure; closures run after the group so
// sibling loads never write the same row maps at the same time.
func (r *Runner) loadEager(ctx context.Context, owner string, rows []morph.Row, loads []*query.EagerLoad) error {
	if len(rows) == 0 || len(loads) == 0 {
		return nil
	}
	attach := make([]func(), len(loads))
	g, gctx := errgroup.WithContext(ctx)
	for i, load := range loads {
		g.Go(func() error {
			fn, err := r.loadOne(gctx, owner, rows, load)
			if err != nil {
				return err
			}
			attach[i] = fn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, fn := range attach {
		fn()
	}
	return nil
}

func (r *Runner) loadOne(ctx context.Context, owner string, parents []morph.Row, load *query.EagerLoad) (func(), error) {
	switch load.Rel.Kind {
	case schema.ToOneOwned:
		return r.loadToOne(ctx, parents, load)
	case schema.ToManyOwned:
		return r.loadOwned(ctx, parents, load)
	default:
		return r.loadShared(ctx, owner, parents, load)
	}
}

// loadToOne batches the distinct foreign-key values of the parents into
// one lookup of the target entity.
func (r *Runner) loadToOne(ctx context.Context, parents []morph.Row, load *query.EagerLoad) (func(), error) {
	seen := make(map[string]bool)
	var ids []any
	for _, p := range parents {
		fk := p[load.Rel.FKField]
		if fk == nil {
			continue
		}
		if k := idKey(fk); !seen[k] {
			seen[k] = true
			ids = append(ids, fk)
		}
	}
	byID, err := r.fetchByIDs(ctx, load, ids)
	if err != nil {
		return nil, err
	}
	return func() {
		for _, p := range parents {
			if fk := p[load.Rel.FKField]; fk != nil {
				p[load.Rel.Name] = byID[idKey(fk)]
			} else {
				p[load.Rel.Name] = nil
			}
		}
	}, nil
}

// loadOwned fetches every member row whose foreign key points at one of
// the parents, in one batched call, and groups them per parent.
func (r *Runner) loadOwned(ctx context.Context, parents []morph.Row, load *query.EagerLoad) (func(), error) {
	ids := make([]any, len(parents))
	for i, p := range parents {
		ids[i] = p.ID()
	}
	children, err := r.storage.FindByFilter(ctx, load.Target.Entity.Name, &morph.Criteria{
		Filters: []*morph.Filter{{Field: load.Rel.FKField, Op: morph.OpIn, Value: ids}},
		Order:   []morph.Order{{Field: "id"}},
	})
	if err != nil {
		return nil, err
	}
	if err := r.loadEager(ctx, load.Target.Entity.Name, children, load.Nested); err != nil {
		return nil, err
	}
	groups := batch.GroupByKey(children, func(c morph.Row) string {
		return idKey(c[load.Rel.FKField])
	})
	return func() {
		for _, p := range parents {
			members := groups[idKey(p.ID())]
			if members == nil {
				members = []morph.Row{}
			}
			p[load.Rel.Name] = members
		}
	}, nil
}

// loadShared resolves each parent's join rows, then fetches the union of
// target rows in one batched call.
func (r *Runner) loadShared(ctx context.Context, owner string, parents []morph.Row, load *query.EagerLoad) (func(), error) {
	assoc := load.Rel.Association(owner)
	targets := make(map[string][]any, len(parents))
	seen := make(map[string]bool)
	var ids []any
	for _, p := range parents {
		linked, err := r.storage.AssociationTargets(ctx, assoc, p.ID())
		if err != nil {
			return nil, err
		}
		targets[idKey(p.ID())] = linked
		for _, id := range linked {
			if k := idKey(id); !seen[k] {
				seen[k] = true
				ids = append(ids, id)
			}
		}
	}
	byID, err := r.fetchByIDs(ctx, load, ids)
	if err != nil {
		return nil, err
	}
	return func() {
		for _, p := range parents {
			members := []morph.Row{}
			for _, id := range targets[idKey(p.ID())] {
				if row, ok := byID[idKey(id)]; ok {
					members = append(members, row)
				}
			}
			p[load.Rel.Name] = members
		}
	}, nil
}

// fetchByIDs loads the target rows for a batch of identities, runs the
// nested loads on them, and indexes the result by identity.
func (r *Runner) fetchByIDs(ctx context.Context, load *query.EagerLoad, ids []any) (map[string]morph.Row, error) {
	if len(ids) == 0 {
		return map[string]morph.Row{}, nil
	}
	rows, err := r.storage.FindByFilter(ctx, load.Target.Entity.Name, &morph.Criteria{
		Filters: []*morph.Filter{{Field: "id", Op: morph.OpIn, Value: ids}},
		Order:   []morph.Order{{Field: "id"}},
	})
	if err != nil {
		return nil, err
	}
	if err := r.loadEager(ctx, load.Target.Entity.Name, rows, load.Nested); err != nil {
		return nil, err
	}
	return batch.Index(rows, func(row morph.Row) string {
		return idKey(row.ID())
	}), nil
}

// idKey normalizes an identity for map keying: storage drivers may return
// int64 where payloads carried int.
func idKey(v any) string {
	return fmt.Sprint(v)
}
