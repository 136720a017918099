package mutation

import (
	"context"
	"fmt"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
	"github.com/syssam/morph/typegraph"
)

// Checker plans deletions. It walks every relationship the target row
// participates in, applies each relationship's delete policy, and
// produces a full accounting of what the deletion will touch before a
// single row is removed.
type Checker struct {
	graph *typegraph.TypeGraph
}

// NewChecker returns a deletion checker over the compiled graph.
func NewChecker(g *typegraph.TypeGraph) *Checker {
	return &Checker{graph: g}
}

type visitKey struct {
	entity   string
	identity string
}

type pending struct {
	entity   string
	identity any
	depth    int
}

// PlanDelete resolves the deletion closure of one row. Overrides swap
// the declared policy by relationship name and apply at the primary
// entity only; cascaded rows always follow their declared policies.
// Protect findings accumulate rather than aborting the walk, so a
// rejected plan names every blocking relationship at once.
func (c *Checker) PlanDelete(ctx context.Context, entity string, identity any, reader morph.Reader, overrides map[string]schema.DeletePolicy) (*DeletionPlan, error) {
	if _, ok := c.graph.Node(entity); !ok {
		return nil, fmt.Errorf("morph: unknown entity %q: %w", entity, morph.ErrNotFound)
	}
	row, err := reader.FindByIdentity(ctx, entity, identity)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("morph: %s %v: %w", entity, identity, morph.ErrNotFound)
	}

	plan := &DeletionPlan{Entity: entity, Identity: identity}
	visited := map[visitKey]bool{
		{entity: entity, identity: fmt.Sprint(identity)}: true,
	}
	queue := []pending{{entity: entity, identity: identity, depth: 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next, err := c.visit(ctx, plan, reader, cur, overrides)
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			key := visitKey{entity: n.entity, identity: fmt.Sprint(n.identity)}
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, n)
		}
	}
	return plan, nil
}

// visit applies delete policies for one row: its declared collections
// and every relationship elsewhere in the model that points at it.
func (c *Checker) visit(ctx context.Context, plan *DeletionPlan, reader morph.Reader, cur pending, overrides map[string]schema.DeletePolicy) ([]pending, error) {
	node, ok := c.graph.Node(cur.entity)
	if !ok {
		return nil, fmt.Errorf("morph: unknown entity %q: %w", cur.entity, morph.ErrNotFound)
	}
	var next []pending
	for _, rel := range node.Relationships {
		policy := rel.OnDelete
		if cur.depth == 0 {
			if p, ok := overrides[rel.Name]; ok {
				policy = p
			}
		}
		switch rel.Kind {
		case schema.ToManyOwned:
			n, err := c.ownedCollection(ctx, plan, reader, cur, rel, policy)
			if err != nil {
				return nil, err
			}
			next = append(next, n...)
		case schema.ToManyShared:
			n, err := c.sharedCollection(ctx, plan, reader, cur, rel, rel.Association(cur.entity), rel.Target, policy)
			if err != nil {
				return nil, err
			}
			next = append(next, n...)
		}
	}
	inbound, err := c.inboundRefs(ctx, plan, reader, cur, overrides)
	if err != nil {
		return nil, err
	}
	return append(next, inbound...), nil
}

func (c *Checker) ownedCollection(ctx context.Context, plan *DeletionPlan, reader morph.Reader, cur pending, rel *schema.RelationshipDescriptor, policy schema.DeletePolicy) ([]pending, error) {
	filters := []*morph.Filter{{Field: rel.FKField, Op: morph.OpEQ, Value: cur.identity}}
	members := &morph.Criteria{Filters: filters}
	switch policy {
	case schema.Protect:
		count, err := reader.Count(ctx, rel.Target, filters)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			plan.Violations = append(plan.Violations, &morph.ProtectionViolation{
				Entity:       cur.entity,
				Relationship: rel.Name,
				Count:        count,
			})
		}
		return nil, nil
	case schema.SetNull:
		rows, err := reader.FindByFilter(ctx, rel.Target, members)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			plan.Nullifies = append(plan.Nullifies, &NullifyTarget{
				Entity:       rel.Target,
				Identity:     row.ID(),
				FKField:      rel.FKField,
				Relationship: rel.Name,
			})
		}
		return nil, nil
	default: // cascade
		rows, err := reader.FindByFilter(ctx, rel.Target, members)
		if err != nil {
			return nil, err
		}
		var next []pending
		for _, row := range rows {
			plan.Cascades = append(plan.Cascades, &CascadeTarget{
				Entity:       rel.Target,
				Identity:     row.ID(),
				Relationship: rel.Name,
				Depth:        cur.depth + 1,
			})
			next = append(next, pending{entity: rel.Target, identity: row.ID(), depth: cur.depth + 1})
		}
		return next, nil
	}
}

// sharedCollection applies a policy against a join table. The other
// parameter names the entity on the far side of the association; seen
// from the inbound direction it differs from rel.Target.
func (c *Checker) sharedCollection(ctx context.Context, plan *DeletionPlan, reader morph.Reader, cur pending, rel *schema.RelationshipDescriptor, assoc morph.Association, other string, policy schema.DeletePolicy) ([]pending, error) {
	targets, err := reader.AssociationTargets(ctx, assoc, cur.identity)
	if err != nil {
		return nil, err
	}
	switch policy {
	case schema.Protect:
		if len(targets) > 0 {
			plan.Violations = append(plan.Violations, &morph.ProtectionViolation{
				Entity:       cur.entity,
				Relationship: rel.Name,
				Count:        len(targets),
			})
		}
		return nil, nil
	case schema.Cascade:
		// Cascading through a join table still clears the associations
		// first; the member rows then cascade in their own right.
		plan.Clears = append(plan.Clears, &AssocClear{
			Assoc:        assoc,
			OwnerID:      cur.identity,
			Relationship: rel.Name,
			Count:        len(targets),
		})
		var next []pending
		for _, id := range targets {
			plan.Cascades = append(plan.Cascades, &CascadeTarget{
				Entity:       other,
				Identity:     id,
				Relationship: rel.Name,
				Depth:        cur.depth + 1,
			})
			next = append(next, pending{entity: other, identity: id, depth: cur.depth + 1})
		}
		return next, nil
	default: // clear association
		if len(targets) > 0 {
			plan.Clears = append(plan.Clears, &AssocClear{
				Assoc:        assoc,
				OwnerID:      cur.identity,
				Relationship: rel.Name,
				Count:        len(targets),
			})
		}
		return nil, nil
	}
}

// inboundRefs handles relationships declared on other entities that
// reference the row being deleted.
func (c *Checker) inboundRefs(ctx context.Context, plan *DeletionPlan, reader morph.Reader, cur pending, overrides map[string]schema.DeletePolicy) ([]pending, error) {
	var next []pending
	for _, in := range c.graph.Registry().Inbound(cur.entity) {
		rel := in.Rel
		source := in.Source.Name
		policy := rel.OnDelete
		if cur.depth == 0 {
			if p, ok := overrides[rel.Name]; ok {
				policy = p
			}
		}
		switch rel.Kind {
		case schema.ToOneOwned:
			// The foreign key lives on the referencing side.
			filters := []*morph.Filter{{Field: rel.FKField, Op: morph.OpEQ, Value: cur.identity}}
			holders := &morph.Criteria{Filters: filters}
			switch policy {
			case schema.Protect:
				count, err := reader.Count(ctx, source, filters)
				if err != nil {
					return nil, err
				}
				if count > 0 {
					plan.Violations = append(plan.Violations, &morph.ProtectionViolation{
						Entity:       cur.entity,
						Relationship: rel.Name,
						Count:        count,
					})
				}
			case schema.Cascade:
				rows, err := reader.FindByFilter(ctx, source, holders)
				if err != nil {
					return nil, err
				}
				for _, row := range rows {
					plan.Cascades = append(plan.Cascades, &CascadeTarget{
						Entity:       source,
						Identity:     row.ID(),
						Relationship: rel.Name,
						Depth:        cur.depth + 1,
					})
					next = append(next, pending{entity: source, identity: row.ID(), depth: cur.depth + 1})
				}
			default: // set null
				rows, err := reader.FindByFilter(ctx, source, holders)
				if err != nil {
					return nil, err
				}
				for _, row := range rows {
					plan.Nullifies = append(plan.Nullifies, &NullifyTarget{
						Entity:       source,
						Identity:     row.ID(),
						FKField:      rel.FKField,
						Relationship: rel.Name,
					})
				}
			}
		case schema.ToManyShared:
			// Seen from the target side the join table's columns swap
			// roles, so clearing by owner works against our identity.
			assoc := rel.Association(source)
			assoc.OwnerColumn, assoc.TargetColumn = assoc.TargetColumn, assoc.OwnerColumn
			n, err := c.sharedCollection(ctx, plan, reader, cur, rel, assoc, source, policy)
			if err != nil {
				return nil, err
			}
			next = append(next, n...)
		}
		// An inbound owned collection keeps its foreign key on our
		// side; the column disappears with the row and needs no work.
	}
	return next, nil
}
