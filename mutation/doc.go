// Package mutation turns nested write payloads into ordered operation
// plans and resolves the full impact of a deletion before any row is
// touched. Plans are inert descriptions; the exec package runs them
// inside a transaction.
package mutation
