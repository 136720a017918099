// Package privacy provides authorization rule types evaluated before
// entity writes reach storage.
//
// # Core Concepts
//
// The privacy layer is built around three main concepts:
//
//   - Policy: A collection of rules that determine access to entities
//   - Rule: A function that returns Allow, Deny, or Skip decisions
//   - Viewer: An interface representing the current user/context
//
// # Defining Policies
//
// A policy groups mutation and delete rule chains and adapts to the
// executors' authorization hook through its Authorizer method:
//
//	policy := privacy.Policy{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),  // Require authentication
//	        privacy.HasRole("admin"),  // Allow admins
//	        privacy.AlwaysDenyRule(),  // Deny by default
//	    },
//	    Delete: privacy.DeletePolicy{
//	        privacy.DenyDeleteRule("Author"),
//	    },
//	}
//	runner := exec.New(storage, graph, exec.WithAuthorizer(policy.Authorizer()))
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: Grants access and stops evaluation
//   - Deny: Denies access and stops evaluation
//   - Skip: Continues to the next rule
//
// If all rules return Skip, the write is permitted; end a chain with
// AlwaysDenyRule() for a default-deny posture.
//
// # Viewer Interface
//
// The Viewer interface represents the authenticated user:
//
//	type Viewer interface {
//	    GetID() string       // Unique user identifier
//	    GetRoles() []string  // User's roles
//	    GetTenantID() string // Tenant ID for multi-tenancy
//	}
//
// The viewer travels in context and is retrieved during policy
// evaluation:
//
//	ctx := privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID: "user-123",
//	    Roles:  []string{"user"},
//	})
//
// # Error Handling
//
// Denied writes surface as errors wrapping morph.ErrUnauthorized:
//
//	if errors.Is(err, morph.ErrUnauthorized) {
//	    // access denied
//	}
package privacy
