package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/morph"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from policy rules to indicate
// how the policy evaluation should proceed. Use errors.Is() to check
// for these values:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	// When returned from a policy, the operation is permitted.
	Allow = errors.New("morph/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	// When returned from a policy, the operation is rejected.
	Deny = errors.New("morph/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	// This allows rules to abstain from making a decision.
	Skip = errors.New("morph/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
// The returned error wraps Allow and can be checked with errors.Is(err, Allow).
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
// The returned error wraps Deny and can be checked with errors.Is(err, Deny).
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
// The returned error wraps Skip and can be checked with errors.Is(err, Skip).
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Request describes one write the executor is about to perform.
type Request struct {
	// Entity is the entity type name being written.
	Entity string

	// Identity is the row identity, nil for creates.
	Identity any

	// Delete reports whether the write removes the row.
	Delete bool
}

type (
	// MutationRule defines the interface deciding whether a
	// create or update is allowed.
	MutationRule interface {
		EvalMutation(context.Context, Request) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// DeleteRule defines the interface deciding whether a
	// deletion is allowed.
	DeleteRule interface {
		EvalDelete(context.Context, Request) error
	}

	// DeletePolicy combines multiple delete rules into a single policy.
	DeletePolicy []DeleteRule

	// WriteRule is an interface which groups mutation and delete rules.
	WriteRule interface {
		MutationRule
		DeleteRule
	}
)

// MutationRuleFunc type is an adapter which allows the use of
// ordinary functions as mutation rules.
type MutationRuleFunc func(context.Context, Request) error

// EvalMutation returns f(ctx, r).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, r Request) error {
	return f(ctx, r)
}

// DeleteRuleFunc type is an adapter which allows the use of
// ordinary functions as delete rules.
type DeleteRuleFunc func(context.Context, Request) error

// EvalDelete returns f(ctx, r).
func (f DeleteRuleFunc) EvalDelete(ctx context.Context, r Request) error {
	return f(ctx, r)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
// This rule unconditionally permits both mutations and deletions.
func AlwaysAllowRule() WriteRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
// This rule unconditionally rejects both mutations and deletions.
func AlwaysDenyRule() WriteRule {
	return fixedDecision{Deny}
}

// ContextWriteRule creates a mutation/delete rule from a context evaluation
// function. The provided function receives the context and should return
// Allow, Deny, Skip, or nil. Returning nil is equivalent to returning Skip.
func ContextWriteRule(eval func(context.Context) error) WriteRule {
	return contextDecision{eval}
}

// OnEntity evaluates the given rule only for the named entity.
func OnEntity(rule WriteRule, entity string) WriteRule {
	return entityScoped{entity: entity, rule: rule}
}

// DenyEntityRule returns a rule denying every write to the named entity.
func DenyEntityRule(entity string) WriteRule {
	return OnEntity(AlwaysDenyRule(), entity)
}

type entityScoped struct {
	entity string
	rule   WriteRule
}

func (e entityScoped) EvalMutation(ctx context.Context, r Request) error {
	if r.Entity != e.entity {
		return Skip
	}
	return e.rule.EvalMutation(ctx, r)
}

func (e entityScoped) EvalDelete(ctx context.Context, r Request) error {
	if r.Entity != e.entity {
		return Skip
	}
	return e.rule.EvalDelete(ctx, r)
}

// Policy groups mutation and delete policies. Its Authorizer method
// adapts the policy to the executors' authorization hook.
type Policy struct {
	Mutation MutationPolicy
	Delete   DeletePolicy
}

// EvalMutation forwards evaluation to the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, r Request) error {
	return p.Mutation.EvalMutation(ctx, r)
}

// EvalDelete forwards evaluation to the delete policy.
func (p Policy) EvalDelete(ctx context.Context, r Request) error {
	return p.Delete.EvalDelete(ctx, r)
}

// Authorizer adapts the policy to morph.Authorizer. Deny decisions are
// reported as morph.ErrUnauthorized so callers can classify them.
func (p Policy) Authorizer() morph.Authorizer {
	return authorizer{p}
}

type authorizer struct {
	policy Policy
}

func (a authorizer) CanMutate(ctx context.Context, entity string, identity any) error {
	return asDecision(a.policy.EvalMutation(ctx, Request{Entity: entity, Identity: identity}))
}

func (a authorizer) CanDelete(ctx context.Context, entity string, identity any) error {
	return asDecision(a.policy.EvalDelete(ctx, Request{Entity: entity, Identity: identity, Delete: true}))
}

func asDecision(err error) error {
	switch {
	case err == nil, errors.Is(err, Allow), errors.Is(err, Skip):
		return nil
	case errors.Is(err, Deny):
		return fmt.Errorf("%v: %w", err, morph.ErrUnauthorized)
	default:
		return err
	}
}

// EvalMutation evaluates a request against a mutation policy.
func (policies MutationPolicy) EvalMutation(ctx context.Context, r Request) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, r); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalDelete evaluates a request against a delete policy.
func (policies DeletePolicy) EvalDelete(ctx context.Context, r Request) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := policy.EvalDelete(ctx, r); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalMutation(context.Context, Request) error {
	return f.decision
}

func (f fixedDecision) EvalDelete(context.Context, Request) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalMutation(ctx context.Context, _ Request) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalDelete(ctx context.Context, _ Request) error {
	return c.eval(ctx)
}
