// Package mutation plans nested write operations against a compiled type
// graph: dependency-ordered create/update/link/unlink/delete plans for the
// executor, and queue-based deletion safety checks with cascade, set-null,
// clear-association and protect policies.
package mutation

import (
	"fmt"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
)

// OpKind is the kind of one planned operation.
type OpKind uint8

// Operation kinds.
const (
	OpCreate OpKind = iota
	OpUpdate
	OpLink
	OpUnlink
	OpDelete
)

// String returns the kind name.
func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpLink:
		return "link"
	case OpUnlink:
		return "unlink"
	case OpDelete:
		return "delete"
	}
	return "invalid"
}

// OpRef identifies an operation inside one plan.
type OpRef int

// ValueRef is a value placeholder that resolves to another operation's
// produced identity at execution time.
type ValueRef struct {
	Ref OpRef
}

// Operation is one atomic step of a mutation plan.
type Operation struct {
	Kind   OpKind
	Entity string
	Ref    OpRef

	// Identity is the target row for update, delete and link operations.
	Identity any
	// Values are the parsed scalar assignments; they may contain ValueRef
	// placeholders for identities produced by other operations.
	Values map[string]any
	// Rel is the relationship context of link and unlink operations.
	Rel *schema.RelationshipDescriptor
	// RelOwner names the entity declaring Rel.
	RelOwner string
	// Owner references the operation producing the owning row of a link
	// or unlink, or the parent of an owned create.
	Owner OpRef
	// OwnerIdentity carries the owning identity when it is pre-existing
	// rather than produced by this plan.
	OwnerIdentity any

	// DependsOn lists the operations whose produced identities this
	// operation needs; it never executes before all of them.
	DependsOn []OpRef

	// Bulk marks a batch of similar creates grouped into one statement;
	// BulkItems holds the per-row values.
	Bulk      bool
	BulkItems []map[string]any
}

// Plan is an ordered set of operations making up one mutation request.
// Plans are request-local and own no state beyond the request.
type Plan struct {
	Entity string
	Mode   morph.WriteMode
	Root   OpRef
	Ops    []*Operation
}

// Op returns the operation with the given ref.
func (p *Plan) Op(ref OpRef) *Operation {
	return p.Ops[ref]
}

// Order returns the operations in dependency order: every operation runs
// after everything it depends on. A dependency cycle is a planning error;
// a well-formed model never requires mutual simultaneous identities.
func (p *Plan) Order() ([]*Operation, error) {
	indeg := make([]int, len(p.Ops))
	dependents := make([][]OpRef, len(p.Ops))
	for _, op := range p.Ops {
		for _, dep := range op.DependsOn {
			indeg[op.Ref]++
			dependents[dep] = append(dependents[dep], op.Ref)
		}
	}
	queue := make([]OpRef, 0, len(p.Ops))
	for _, op := range p.Ops {
		if indeg[op.Ref] == 0 {
			queue = append(queue, op.Ref)
		}
	}
	out := make([]*Operation, 0, len(p.Ops))
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		out = append(out, p.Ops[ref])
		for _, d := range dependents[ref] {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(out) != len(p.Ops) {
		return nil, fmt.Errorf("morph: mutation plan for %s has a dependency cycle", p.Entity)
	}
	return out, nil
}

// ResolveValues replaces ValueRef placeholders with the identities the
// referenced operations produced.
func ResolveValues(values map[string]any, produced map[OpRef]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if ref, ok := v.(ValueRef); ok {
			id, ok := produced[ref.Ref]
			if !ok {
				return nil, fmt.Errorf("morph: operation %d has not produced an identity", ref.Ref)
			}
			out[k] = id
		} else {
			out[k] = v
		}
	}
	return out, nil
}

// CascadeTarget is one row scheduled for deletion by a cascade policy.
type CascadeTarget struct {
	Entity       string
	Identity     any
	Relationship string
	// Depth is the cascade recursion level, 1 for direct dependents.
	Depth int
}

// NullifyTarget is one row whose foreign key is scheduled to be nulled.
type NullifyTarget struct {
	Entity       string
	Identity     any
	FKField      string
	Relationship string
}

// AssocClear is one join-table clear scheduled by a clear-association
// policy. The related rows themselves are never touched.
type AssocClear struct {
	Assoc        morph.Association
	OwnerID      any
	Relationship string
	Count        int
}

// DeletionPlan is the outcome of the deletion safety check: either the
// full set of writes a delete implies, or the protection violations that
// reject it. A plan with violations is never partially executed.
type DeletionPlan struct {
	Entity   string
	Identity any

	Cascades   []*CascadeTarget
	Nullifies  []*NullifyTarget
	Clears     []*AssocClear
	Violations []*morph.ProtectionViolation
}

// Rejected reports if the plan carries protection violations and must not
// execute.
func (p *DeletionPlan) Rejected() bool {
	return len(p.Violations) > 0
}

// Affected returns write counts by relationship, with the primary delete
// under "".
func (p *DeletionPlan) Affected() map[string]int {
	out := map[string]int{"": 1}
	for _, c := range p.Cascades {
		out[c.Relationship]++
	}
	for _, n := range p.Nullifies {
		out[n.Relationship]++
	}
	for _, cl := range p.Clears {
		out[cl.Relationship] += cl.Count
	}
	return out
}
