package exec

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/syssam/morph"
	"github.com/syssam/morph/mutation"
	"github.com/syssam/morph/schema"
)

// MutationOptions carries per-request mutation policy.
type MutationOptions struct {
	// ReplaceAll requests replace-all semantics for to-many collections on
	// update: stored members absent from the input are deleted (owned) or
	// unlinked (shared).
	ReplaceAll bool
}

// MutationResult is the outcome of one mutation request. Validation
// failures report through Errors with OK false and a nil error; they are
// part of the protocol, not failures of the engine.
type MutationResult struct {
	OK     bool
	Entity morph.Row
	Errors []*morph.FieldError
}

// ExecuteMutation validates the payload, plans the nested write and runs
// the plan inside one transaction. Any failing operation rolls the whole
// request back; the returned row is the primary entity reloaded within
// the same transaction, so it reflects every write the request made.
func (r *Runner) ExecuteMutation(ctx context.Context, entity string, payload map[string]any, mode morph.WriteMode, opts MutationOptions) (*MutationResult, error) {
	node, err := r.node(entity)
	if err != nil {
		return nil, err
	}
	if errs := r.validator.Validate(node, payload, mode); len(errs) > 0 {
		return &MutationResult{Errors: errs}, nil
	}

	tx, err := r.storage.Tx(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := r.planner.PlanMutation(ctx, node, payload, mode, mutation.PlanOptions{
		ReplaceAll: opts.ReplaceAll,
		Current:    tx,
	})
	if err != nil {
		var fe *morph.FieldError
		if errors.As(err, &fe) {
			return &MutationResult{Errors: []*morph.FieldError{fe}}, tx.Rollback()
		}
		return nil, multierr.Append(err, tx.Rollback())
	}
	ordered, err := plan.Order()
	if err != nil {
		return nil, multierr.Append(err, tx.Rollback())
	}

	produced := make(map[mutation.OpRef]any, len(ordered))
	for _, op := range ordered {
		if err := r.runOp(ctx, tx, op, produced); err != nil {
			return nil, multierr.Append(err, tx.Rollback())
		}
	}

	rootID, ok := produced[plan.Root]
	if !ok {
		return nil, multierr.Append(fmt.Errorf("morph: mutation plan for %s produced no primary identity", entity), tx.Rollback())
	}
	row, err := tx.FindByIdentity(ctx, entity, rootID)
	if err != nil {
		return nil, multierr.Append(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.log.V(1).Info("mutation executed", "entity", entity, "mode", mode.String(), "ops", len(ordered))
	return &MutationResult{OK: true, Entity: row}, nil
}

// runOp executes one planned operation and records the identity it
// produced, if any.
func (r *Runner) runOp(ctx context.Context, tx morph.Tx, op *mutation.Operation, produced map[mutation.OpRef]any) error {
	switch op.Kind {
	case mutation.OpCreate:
		return r.runCreate(ctx, tx, op, produced)
	case mutation.OpUpdate:
		return r.runUpdate(ctx, tx, op, produced)
	case mutation.OpLink:
		return r.runLink(ctx, tx, op, produced)
	case mutation.OpUnlink:
		return r.runUnlink(ctx, tx, op, produced)
	case mutation.OpDelete:
		return r.runPlannedDelete(ctx, tx, op)
	}
	return fmt.Errorf("morph: unknown operation kind %d", op.Kind)
}

func (r *Runner) runCreate(ctx context.Context, tx morph.Tx, op *mutation.Operation, produced map[mutation.OpRef]any) error {
	if err := r.authz.CanMutate(ctx, op.Entity, nil); err != nil {
		return err
	}
	if op.Bulk {
		rows := make([]map[string]any, len(op.BulkItems))
		for i, item := range op.BulkItems {
			values, err := mutation.ResolveValues(item, produced)
			if err != nil {
				return err
			}
			rows[i] = values
		}
		if _, err := tx.InsertBulk(ctx, op.Entity, rows); err != nil {
			return &morph.TransactionError{Op: fmt.Sprintf("insert %s", op.Entity), Err: err}
		}
		return nil
	}
	values, err := mutation.ResolveValues(op.Values, produced)
	if err != nil {
		return err
	}
	id, err := tx.Insert(ctx, op.Entity, values)
	if err != nil {
		return &morph.TransactionError{Op: fmt.Sprintf("insert %s", op.Entity), Err: err}
	}
	produced[op.Ref] = id
	return nil
}

func (r *Runner) runUpdate(ctx context.Context, tx morph.Tx, op *mutation.Operation, produced map[mutation.OpRef]any) error {
	if err := r.authz.CanMutate(ctx, op.Entity, op.Identity); err != nil {
		return err
	}
	if _, err := tx.FindByIdentity(ctx, op.Entity, op.Identity); err != nil {
		return err
	}
	values, err := mutation.ResolveValues(op.Values, produced)
	if err != nil {
		return err
	}
	if err := tx.Update(ctx, op.Entity, op.Identity, values); err != nil {
		return &morph.TransactionError{Op: fmt.Sprintf("update %s", op.Entity), Err: err}
	}
	produced[op.Ref] = op.Identity
	return nil
}

// runLink resolves a reference to an existing or just-created row. For a
// to-one relationship the produced identity feeds the declaring side's
// foreign key; for owned collections the member row adopts the owner's
// foreign key; for shared collections a join row is written.
func (r *Runner) runLink(ctx context.Context, tx morph.Tx, op *mutation.Operation, produced map[mutation.OpRef]any) error {
	id := op.Identity
	if ref, ok := id.(mutation.ValueRef); ok {
		v, ok := produced[ref.Ref]
		if !ok {
			return fmt.Errorf("morph: operation %d has not produced an identity", ref.Ref)
		}
		id = v
	} else if _, err := tx.FindByIdentity(ctx, op.Entity, id); err != nil {
		if errors.Is(err, morph.ErrNotFound) {
			return &morph.RelationshipError{
				Entity:       op.RelOwner,
				Relationship: op.Rel.Name,
				Identity:     id,
				Reason:       "referenced row does not exist",
			}
		}
		return err
	}

	switch op.Rel.Kind {
	case schema.ToOneOwned:
		// The declaring side's foreign key references this identity.
	case schema.ToManyOwned:
		ownerID, err := ownerIdentity(op, produced)
		if err != nil {
			return err
		}
		if err := r.authz.CanMutate(ctx, op.Entity, id); err != nil {
			return err
		}
		if err := tx.Update(ctx, op.Entity, id, map[string]any{op.Rel.FKField: ownerID}); err != nil {
			return &morph.TransactionError{Op: fmt.Sprintf("link %s.%s", op.RelOwner, op.Rel.Name), Err: err}
		}
	case schema.ToManyShared:
		ownerID, err := ownerIdentity(op, produced)
		if err != nil {
			return err
		}
		if err := tx.AddAssociation(ctx, op.Rel.Association(op.RelOwner), ownerID, id); err != nil {
			return &morph.TransactionError{Op: fmt.Sprintf("link %s.%s", op.RelOwner, op.Rel.Name), Err: err}
		}
	}
	produced[op.Ref] = id
	return nil
}

func (r *Runner) runUnlink(ctx context.Context, tx morph.Tx, op *mutation.Operation, produced map[mutation.OpRef]any) error {
	ownerID, err := ownerIdentity(op, produced)
	if err != nil {
		return err
	}
	if err := tx.RemoveAssociation(ctx, op.Rel.Association(op.RelOwner), ownerID, op.Identity); err != nil {
		return &morph.TransactionError{Op: fmt.Sprintf("unlink %s.%s", op.RelOwner, op.Rel.Name), Err: err}
	}
	return nil
}

// runPlannedDelete removes an owned member dropped by collection
// replacement. The member runs through the full deletion safety check, so
// its own dependents follow their declared policies.
func (r *Runner) runPlannedDelete(ctx context.Context, tx morph.Tx, op *mutation.Operation) error {
	if err := r.authz.CanDelete(ctx, op.Entity, op.Identity); err != nil {
		return err
	}
	plan, err := r.checker.PlanDelete(ctx, op.Entity, op.Identity, tx, nil)
	if err != nil {
		return err
	}
	if plan.Rejected() {
		return &morph.ProtectedError{Violations: plan.Violations}
	}
	return r.applyDeletion(ctx, tx, plan)
}

// applyDeletion runs a checked deletion plan: association clears first,
// then foreign-key nullifications, then cascaded rows deepest first so no
// delete precedes its dependents, then the primary row. Every touched row
// passes authorization before the first write; the caller has already
// authorized the primary delete.
func (r *Runner) applyDeletion(ctx context.Context, tx morph.Tx, plan *mutation.DeletionPlan) error {
	for _, n := range plan.Nullifies {
		if err := r.authz.CanMutate(ctx, n.Entity, n.Identity); err != nil {
			return err
		}
	}
	for _, c := range plan.Cascades {
		if err := r.authz.CanDelete(ctx, c.Entity, c.Identity); err != nil {
			return err
		}
	}
	for _, cl := range plan.Clears {
		if _, err := tx.ClearAssociation(ctx, cl.Assoc, cl.OwnerID); err != nil {
			return &morph.TransactionError{Op: fmt.Sprintf("clear %s", cl.Assoc.Table), Err: err}
		}
	}
	for _, n := range plan.Nullifies {
		if err := tx.Update(ctx, n.Entity, n.Identity, map[string]any{n.FKField: nil}); err != nil {
			return &morph.TransactionError{Op: fmt.Sprintf("nullify %s.%s", n.Entity, n.FKField), Err: err}
		}
	}
	cascades := make([]*mutation.CascadeTarget, len(plan.Cascades))
	copy(cascades, plan.Cascades)
	sort.SliceStable(cascades, func(i, j int) bool {
		return cascades[i].Depth > cascades[j].Depth
	})
	for _, c := range cascades {
		if err := tx.Delete(ctx, c.Entity, c.Identity); err != nil {
			return &morph.TransactionError{Op: fmt.Sprintf("delete %s", c.Entity), Err: err}
		}
	}
	if err := tx.Delete(ctx, plan.Entity, plan.Identity); err != nil {
		return &morph.TransactionError{Op: fmt.Sprintf("delete %s", plan.Entity), Err: err}
	}
	return nil
}

// ownerIdentity resolves the owning row's identity for link and unlink
// operations. The owner is always an operation of the same plan; updates
// record their pre-existing identity as produced.
func ownerIdentity(op *mutation.Operation, produced map[mutation.OpRef]any) (any, error) {
	if op.OwnerIdentity != nil {
		return op.OwnerIdentity, nil
	}
	id, ok := produced[op.Owner]
	if !ok {
		return nil, fmt.Errorf("morph: operation %d has not produced an identity", op.Owner)
	}
	return id, nil
}
