// Package exec runs planned operations against the persistence
// collaborator: validated, authorized, transactional mutations and
// deletions, and batched eager-loading reads with cursor pagination.
//
// A Runner is built once per compiled graph:
//
//	runner := exec.New(storage, graph,
//		exec.WithAuthorizer(policy.Authorizer()),
//		exec.WithLogger(log),
//	)
//
// Every write request runs inside a single transaction. A failing
// operation, a rejected authorization or a protection violation rolls the
// whole request back, so partial writes are never observable.
package exec
