package exec

import (
	"context"

	"go.uber.org/multierr"

	"github.com/syssam/morph"
	"github.com/syssam/morph/schema"
)

// DeleteOptions carries per-request deletion policy.
type DeleteOptions struct {
	// Overrides swaps the declared delete policy by relationship name.
	// Overrides apply to the primary entity only; cascaded rows always
	// follow their declared policies.
	Overrides map[string]schema.DeletePolicy
}

// DeleteResult is the outcome of one deletion request. A rejected delete
// reports through Violations with OK false and a nil error; nothing was
// written.
type DeleteResult struct {
	OK bool
	// Affected counts writes by relationship name, with the primary delete
	// under "".
	Affected   map[string]int
	Violations []*morph.ProtectionViolation
}

// ExecuteDelete resolves the full deletion closure of one row, rejects it
// if any protect policy blocks it, and otherwise runs every implied write
// inside one transaction.
func (r *Runner) ExecuteDelete(ctx context.Context, entity string, identity any, opts DeleteOptions) (*DeleteResult, error) {
	if _, err := r.node(entity); err != nil {
		return nil, err
	}
	if err := r.authz.CanDelete(ctx, entity, identity); err != nil {
		return nil, err
	}

	tx, err := r.storage.Tx(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := r.checker.PlanDelete(ctx, entity, identity, tx, opts.Overrides)
	if err != nil {
		return nil, multierr.Append(err, tx.Rollback())
	}
	if plan.Rejected() {
		return &DeleteResult{Violations: plan.Violations}, tx.Rollback()
	}
	if err := r.applyDeletion(ctx, tx, plan); err != nil {
		return nil, multierr.Append(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	affected := plan.Affected()
	r.log.V(1).Info("delete executed", "entity", entity, "identity", identity, "cascades", len(plan.Cascades))
	return &DeleteResult{OK: true, Affected: affected}, nil
}
