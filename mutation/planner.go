package mutation

import (
	"context"
	"fmt"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
	"github.com/syssam/morph/typegraph"
)

// DefaultBulkThreshold is the to-many batch size above which similar
// creates are grouped into one bulk statement.
const DefaultBulkThreshold = 100

// Planner builds mutation plans from nested write payloads.
type Planner struct {
	graph         *typegraph.TypeGraph
	bulkThreshold int
}

// Option configures a Planner.
type Option func(*Planner)

// WithBulkThreshold overrides the bulk batching threshold.
func WithBulkThreshold(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.bulkThreshold = n
		}
	}
}

// NewPlanner returns a mutation planner over the compiled graph.
func NewPlanner(g *typegraph.TypeGraph, opts ...Option) *Planner {
	p := &Planner{graph: g, bulkThreshold: DefaultBulkThreshold}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanOptions carries per-request planning policy.
type PlanOptions struct {
	// ReplaceAll requests replace-all semantics for to-many collections
	// on update: stored members absent from the input are deleted (owned)
	// or unlinked (shared).
	ReplaceAll bool
	// Current reads existing relationship state for replace-all diffing,
	// normally the executor's transaction so the diff shares its
	// snapshot. Required when ReplaceAll is set.
	Current morph.Reader
}

// PlanMutation walks the payload depth-first and produces the ordered
// operation plan. The payload must already have passed validation; the
// planner still parses every scalar so plans carry normalized values.
func (p *Planner) PlanMutation(ctx context.Context, node *typegraph.Node, payload map[string]any, mode morph.WriteMode, opts PlanOptions) (*Plan, error) {
	if opts.ReplaceAll && opts.Current == nil {
		return nil, fmt.Errorf("morph: replace-all planning requires a current-state reader")
	}
	if _, ok := payload["id"]; ok && mode == morph.ModeCreate {
		return nil, &morph.FieldError{Path: "id", Field: "id", Message: "identity is not accepted on create"}
	}
	if mode == morph.ModeUpdate {
		if id, ok := payload["id"]; !ok || id == nil {
			return nil, &morph.FieldError{Path: "id", Field: "id", Message: "identity is required on update"}
		}
	}
	b := &builder{
		planner: p,
		ctx:     ctx,
		opts:    opts,
		plan:    &Plan{Entity: node.Entity.Name, Mode: mode},
	}
	root, err := b.entity(node, payload, mode)
	if err != nil {
		return nil, err
	}
	b.plan.Root = root
	// Surface impossible orderings at plan time, not mid-transaction.
	if _, err := b.plan.Order(); err != nil {
		return nil, err
	}
	return b.plan, nil
}

type builder struct {
	planner *Planner
	ctx     context.Context
	opts    PlanOptions
	plan    *Plan
}

func (b *builder) alloc(op *Operation) OpRef {
	op.Ref = OpRef(len(b.plan.Ops))
	b.plan.Ops = append(b.plan.Ops, op)
	return op.Ref
}

func (b *builder) parse(node *typegraph.Node, field string, v any) (any, error) {
	rf, ok := node.Field(field)
	if !ok {
		return nil, &morph.FieldError{Path: field, Field: field, Message: "unknown field"}
	}
	parsed, err := rf.Scalar.Parse(v)
	if err != nil {
		return nil, &morph.FieldError{Path: field, Field: field, Message: err.Error()}
	}
	return parsed, nil
}

// entity plans one create or update operation and, recursively, everything
// its relationship payloads imply.
func (b *builder) entity(node *typegraph.Node, payload map[string]any, mode morph.WriteMode) (OpRef, error) {
	op := &Operation{Entity: node.Entity.Name, Values: make(map[string]any)}
	switch mode {
	case morph.ModeCreate:
		op.Kind = OpCreate
		if _, ok := payload["id"]; ok {
			return 0, &morph.FieldError{Path: "id", Field: "id", Message: "identity is not accepted on create"}
		}
	case morph.ModeUpdate:
		op.Kind = OpUpdate
		id, err := b.parse(node, "id", payload["id"])
		if err != nil {
			return 0, err
		}
		op.Identity = id
	}
	b.alloc(op)

	// Walk in descriptor order so plans come out deterministic.
	for _, rf := range node.Fields {
		name := rf.Field.Name
		if name == "id" || rf.Field.Computed {
			continue
		}
		value, ok := payload[name]
		if !ok {
			continue
		}
		if value == nil {
			op.Values[name] = nil
			continue
		}
		parsed, err := rf.Scalar.Parse(value)
		if err != nil {
			return 0, &morph.FieldError{Path: name, Field: name, Message: err.Error()}
		}
		op.Values[name] = parsed
	}
	for _, rel := range node.Relationships {
		value, ok := payload[rel.Name]
		if !ok {
			continue
		}
		if err := b.relationship(op, node, rel, value, mode); err != nil {
			return 0, err
		}
	}
	for name := range payload {
		if name == "id" {
			continue
		}
		if _, ok := node.Field(name); ok {
			continue
		}
		if _, ok := node.Relationship(name); !ok {
			return 0, &morph.FieldError{Path: name, Field: name, Message: "unknown field"}
		}
	}
	return op.Ref, nil
}

func (b *builder) relationship(op *Operation, node *typegraph.Node, rel *schema.RelationshipDescriptor, value any, mode morph.WriteMode) error {
	target, ok := b.planner.graph.Node(rel.Target)
	if !ok {
		return morph.NewCompileError(node.Entity.Name, rel.Name, "relationship target %q has no compiled node", rel.Target)
	}
	switch rel.Kind {
	case schema.ToOneOwned:
		return b.toOne(op, node, rel, target, value, mode)
	case schema.ToManyOwned:
		return b.toManyOwned(op, node, rel, target, value, mode)
	default:
		return b.toManyShared(op, node, rel, target, value, mode)
	}
}

// isReference reports if the payload object carries an identity and
// nothing else: a link to an existing row.
func isReference(m map[string]any) bool {
	_, ok := m["id"]
	return ok && len(m) == 1
}

// nestedMode decides how a nested object with an identity plans: updates
// recurse as create-or-update, creates never adopt foreign identities. A
// nested identity under create mode is rejected by the entity builder.
func nestedMode(m map[string]any, mode morph.WriteMode) morph.WriteMode {
	if mode == morph.ModeUpdate {
		if id, ok := m["id"]; ok && id != nil {
			return morph.ModeUpdate
		}
	}
	return morph.ModeCreate
}

// toOne plans a to-one owned relationship: the foreign key lives on the
// declaring side, so the parent depends on whatever produces the child
// identity.
func (b *builder) toOne(op *Operation, node *typegraph.Node, rel *schema.RelationshipDescriptor, target *typegraph.Node, value any, mode morph.WriteMode) error {
	if value == nil {
		op.Values[rel.FKField] = nil
		return nil
	}
	m := value.(map[string]any)
	if isReference(m) {
		id, err := b.parse(target, "id", m["id"])
		if err != nil {
			return err
		}
		linkRef := b.alloc(&Operation{
			Kind:     OpLink,
			Entity:   target.Entity.Name,
			Identity: id,
			Rel:      rel,
			RelOwner: node.Entity.Name,
		})
		op.Values[rel.FKField] = ValueRef{Ref: linkRef}
		op.DependsOn = append(op.DependsOn, linkRef)
		return nil
	}
	childRef, err := b.entity(target, m, nestedMode(m, mode))
	if err != nil {
		return err
	}
	op.Values[rel.FKField] = ValueRef{Ref: childRef}
	op.DependsOn = append(op.DependsOn, childRef)
	return nil
}

// toManyOwned plans an owned collection: the foreign key lives on the
// members, so every member operation depends on the owner.
func (b *builder) toManyOwned(op *Operation, node *typegraph.Node, rel *schema.RelationshipDescriptor, target *typegraph.Node, value any, mode morph.WriteMode) error {
	if value == nil {
		value = []any{}
	}
	list := value.([]any)
	var (
		present []any
		creates []map[string]any
	)
	for _, raw := range list {
		m := raw.(map[string]any)
		switch {
		case isReference(m):
			id, err := b.parse(target, "id", m["id"])
			if err != nil {
				return err
			}
			present = append(present, id)
			b.alloc(&Operation{
				Kind:      OpLink,
				Entity:    target.Entity.Name,
				Identity:  id,
				Rel:       rel,
				RelOwner:  node.Entity.Name,
				Owner:     op.Ref,
				DependsOn: []OpRef{op.Ref},
			})
		case nestedMode(m, mode) == morph.ModeUpdate:
			id, err := b.parse(target, "id", m["id"])
			if err != nil {
				return err
			}
			present = append(present, id)
			childRef, err := b.entity(target, m, morph.ModeUpdate)
			if err != nil {
				return err
			}
			child := b.plan.Op(childRef)
			child.Values[rel.FKField] = ValueRef{Ref: op.Ref}
			child.Owner = op.Ref
			child.DependsOn = append(child.DependsOn, op.Ref)
		default:
			creates = append(creates, m)
		}
	}
	// Creates with no nested payloads of their own are bulk candidates.
	simple := creates
	if len(creates) > b.planner.bulkThreshold {
		var items, rest []map[string]any
		for _, m := range creates {
			if flatCreate(target, m) {
				items = append(items, m)
			} else {
				rest = append(rest, m)
			}
		}
		if len(items) > b.planner.bulkThreshold {
			parsed := make([]map[string]any, len(items))
			for i, m := range items {
				values := make(map[string]any, len(m)+1)
				for k, v := range m {
					pv, err := b.parse(target, k, v)
					if err != nil {
						return err
					}
					values[k] = pv
				}
				values[rel.FKField] = ValueRef{Ref: op.Ref}
				parsed[i] = values
			}
			b.alloc(&Operation{
				Kind:      OpCreate,
				Entity:    target.Entity.Name,
				Rel:       rel,
				RelOwner:  node.Entity.Name,
				Owner:     op.Ref,
				DependsOn: []OpRef{op.Ref},
				Bulk:      true,
				BulkItems: parsed,
			})
			simple = rest
		}
	}
	for _, m := range simple {
		childRef, err := b.entity(target, m, morph.ModeCreate)
		if err != nil {
			return err
		}
		child := b.plan.Op(childRef)
		child.Values[rel.FKField] = ValueRef{Ref: op.Ref}
		child.Owner = op.Ref
		child.DependsOn = append(child.DependsOn, op.Ref)
	}
	if mode == morph.ModeUpdate && b.opts.ReplaceAll {
		return b.replaceOwned(op, node, rel, target, present)
	}
	return nil
}

// flatCreate reports if the payload assigns scalars only, making it
// groupable into a bulk insert.
func flatCreate(target *typegraph.Node, m map[string]any) bool {
	if _, ok := m["id"]; ok {
		return false
	}
	for name := range m {
		if _, ok := target.Field(name); !ok {
			return false
		}
	}
	return true
}

// replaceOwned schedules deletion of stored members absent from the
// input. Owned members' lifetime is tied to the owner, so absence means
// deletion, not unlinking.
func (b *builder) replaceOwned(op *Operation, node *typegraph.Node, rel *schema.RelationshipDescriptor, target *typegraph.Node, present []any) error {
	rows, err := b.opts.Current.FindByFilter(b.ctx, target.Entity.Name, &morph.Criteria{
		Filters: []*morph.Filter{{Field: rel.FKField, Op: morph.OpEQ, Value: op.Identity}},
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if containsIdentity(present, row.ID()) {
			continue
		}
		b.alloc(&Operation{
			Kind:      OpDelete,
			Entity:    target.Entity.Name,
			Identity:  row.ID(),
			Rel:       rel,
			RelOwner:  node.Entity.Name,
			Owner:     op.Ref,
			DependsOn: []OpRef{op.Ref},
		})
	}
	return nil
}

// toManyShared plans an associative collection: members are linked and
// unlinked through the join table and their rows are never deleted by
// collection replacement.
func (b *builder) toManyShared(op *Operation, node *typegraph.Node, rel *schema.RelationshipDescriptor, target *typegraph.Node, value any, mode morph.WriteMode) error {
	if value == nil {
		value = []any{}
	}
	list := value.([]any)
	var present []any
	for _, raw := range list {
		m := raw.(map[string]any)
		if isReference(m) {
			id, err := b.parse(target, "id", m["id"])
			if err != nil {
				return err
			}
			present = append(present, id)
			b.alloc(&Operation{
				Kind:      OpLink,
				Entity:    target.Entity.Name,
				Identity:  id,
				Rel:       rel,
				RelOwner:  node.Entity.Name,
				Owner:     op.Ref,
				DependsOn: []OpRef{op.Ref},
			})
			continue
		}
		childRef, err := b.entity(target, m, nestedMode(m, mode))
		if err != nil {
			return err
		}
		b.alloc(&Operation{
			Kind:      OpLink,
			Entity:    target.Entity.Name,
			Identity:  ValueRef{Ref: childRef},
			Rel:       rel,
			RelOwner:  node.Entity.Name,
			Owner:     op.Ref,
			DependsOn: []OpRef{op.Ref, childRef},
		})
	}
	if mode == morph.ModeUpdate && b.opts.ReplaceAll {
		assoc := rel.Association(node.Entity.Name)
		current, err := b.opts.Current.AssociationTargets(b.ctx, assoc, op.Identity)
		if err != nil {
			return err
		}
		for _, id := range current {
			if containsIdentity(present, id) {
				continue
			}
			b.alloc(&Operation{
				Kind:      OpUnlink,
				Entity:    target.Entity.Name,
				Identity:  id,
				Rel:       rel,
				RelOwner:  node.Entity.Name,
				Owner:     op.Ref,
				DependsOn: []OpRef{op.Ref},
			})
		}
	}
	return nil
}

// containsIdentity compares identities loosely: storage drivers may
// return int64 where payloads carried int, and vice versa.
func containsIdentity(ids []any, id any) bool {
	for _, v := range ids {
		if identityEqual(v, id) {
			return true
		}
	}
	return false
}

func identityEqual(a, b any) bool {
	if a == b {
		return true
	}
	av, aok := toInt64(a)
	bv, bok := toInt64(b)
	return aok && bok && av == bv
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
