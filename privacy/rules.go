package privacy

import (
	"context"
	"fmt"
	"slices"
)

// Viewer represents the authenticated user making a request.
// This interface should be implemented by application-specific user types.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier for multi-tenancy.
	// Returns empty string if not applicable.
	GetTenantID() string
}

// viewerCtxKey is the context key for storing the viewer.
type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
// Use this for testing or simple use cases.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string {
	return v.UserID
}

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string {
	return v.Roles
}

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string {
	return v.TenantID
}

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context. This is typically used as the first rule in a policy to
// require authentication.
//
// Example:
//
//	privacy.Policy{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.HasRole("admin"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
func DenyIfNoViewer() WriteRule {
	return ContextWriteRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the specified
// role. Skips if the viewer doesn't have the role (allows next rule to
// evaluate).
func HasRole(role string) WriteRule {
	return ContextWriteRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		if slices.Contains(viewer.GetRoles(), role) {
			return Allow
		}
		return Skip
	})
}

// HasAnyRole returns a rule that allows access if the viewer has any of the
// specified roles. Skips if the viewer doesn't have any of the roles.
func HasAnyRole(roles ...string) WriteRule {
	return ContextWriteRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerRoles := viewer.GetRoles()
		for _, role := range roles {
			if slices.Contains(viewerRoles, role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a mutation rule that allows access if the viewer owns the
// row, comparing the viewer's ID against the request identity. Skips for
// creates, which carry no identity yet.
func IsOwner() MutationRule {
	return MutationRuleFunc(func(ctx context.Context, r Request) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || r.Identity == nil {
			return Skip
		}
		if fmt.Sprint(r.Identity) == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule returns a rule that denies every write when the viewer carries
// no tenant. Used as a guard for multi-tenant isolation; row-level tenant
// checks belong in the model's own fields.
func TenantRule() WriteRule {
	return ContextWriteRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("privacy: viewer required for tenant-scoped write")
		}
		if viewer.GetTenantID() == "" {
			return Denyf("privacy: tenant required")
		}
		return Skip
	})
}

// DenyDeleteRule returns a rule rejecting every deletion of the named
// entity while still allowing creates and updates.
func DenyDeleteRule(entity string) DeleteRule {
	return DeleteRuleFunc(func(_ context.Context, r Request) error {
		if r.Entity != entity {
			return Skip
		}
		return Denyf("privacy: deleting %s is not allowed", entity)
	})
}
