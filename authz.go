package morph

import "context"

// Authorizer decides whether the acting context may write or delete a row.
// The executors consult it before every write; a non-nil error aborts the
// whole request and rolls back its transaction. Actor information travels
// in ctx, placed there by the transport layer.
type Authorizer interface {
	// CanMutate reports whether the actor may create or update the given
	// row. identity is nil for creates.
	CanMutate(ctx context.Context, entity string, identity any) error

	// CanDelete reports whether the actor may delete the given row and
	// its policy-governed dependents.
	CanDelete(ctx context.Context, entity string, identity any) error
}

// AllowAll returns an Authorizer that permits every operation. It is the
// default when no authorization provider is configured.
func AllowAll() Authorizer { return allowAll{} }

type allowAll struct{}

func (allowAll) CanMutate(context.Context, string, any) error { return nil }

func (allowAll) CanDelete(context.Context, string, any) error { return nil }
