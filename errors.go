package morph

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a referenced entity row does not exist.
	ErrNotFound = errors.New("morph: entity not found")

	// ErrTxStarted is returned when attempting to start a new transaction
	// within an existing transaction.
	ErrTxStarted = errors.New("morph: cannot start a transaction within a transaction")

	// ErrUnauthorized is returned when the authorization provider rejects
	// a mutation or deletion before any write is attempted.
	ErrUnauthorized = errors.New("morph: operation not authorized")
)

// CompileError reports invalid entity metadata detected while building the
// type graph. Compile errors are fatal at startup and never reach request
// handling.
type CompileError struct {
	Entity string // Offending entity name.
	Field  string // Offending field or relationship name, if any.
	Reason string
}

// Error returns the error string.
func (e *CompileError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("morph: compile %s.%s: %s", e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("morph: compile %s: %s", e.Entity, e.Reason)
}

// NewCompileError returns a new CompileError for the given entity and field.
func NewCompileError(entity, field, format string, a ...any) *CompileError {
	return &CompileError{Entity: entity, Field: field, Reason: fmt.Sprintf(format, a...)}
}

// IsCompileError returns true if the error is a CompileError.
func IsCompileError(err error) bool {
	if err == nil {
		return false
	}
	var e *CompileError
	return errors.As(err, &e)
}

// FieldError describes a single validation failure at a path inside a
// (possibly nested) payload, e.g. "books[1].title".
type FieldError struct {
	Path    string // Payload path to the offending value.
	Field   string // Field or relationship name.
	Message string
}

// Error returns the error string.
func (e *FieldError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("morph: validation failed at %q: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("morph: validation failed for field %q: %s", e.Field, e.Message)
}

// ValidationError aggregates every FieldError found in one payload. The
// validation engine never stops at the first failure, so a single error
// value carries all violations across the nested input.
type ValidationError struct {
	Errors []*FieldError
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "morph: validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "morph: %d validation errors:", len(e.Errors))
	for _, fe := range e.Errors {
		fmt.Fprintf(&sb, "\n  %s: %s", fe.Path, fe.Message)
	}
	return sb.String()
}

// NewValidationError returns a ValidationError if errs is non-empty,
// otherwise nil.
func NewValidationError(errs []*FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// RelationshipError reports a relationship that could not be resolved while
// planning or executing a mutation: a referenced identity that does not
// exist, or a payload shape that contradicts the declared relationship kind.
// It aborts the plan; no partial writes are observable.
type RelationshipError struct {
	Entity       string
	Relationship string
	Identity     any // The identity that failed to resolve, if any.
	Reason       string
}

// Error returns the error string.
func (e *RelationshipError) Error() string {
	if e.Identity != nil {
		return fmt.Sprintf("morph: relationship %s.%s: %s (identity=%v)", e.Entity, e.Relationship, e.Reason, e.Identity)
	}
	return fmt.Sprintf("morph: relationship %s.%s: %s", e.Entity, e.Relationship, e.Reason)
}

// Is reports whether the target error matches ErrNotFound when the
// relationship failed because the referenced row is absent.
func (e *RelationshipError) Is(err error) bool {
	return err == ErrNotFound && e.Identity != nil
}

// IsRelationshipError returns true if the error is a RelationshipError.
func IsRelationshipError(err error) bool {
	if err == nil {
		return false
	}
	var e *RelationshipError
	return errors.As(err, &e)
}

// ProtectionViolation records one relationship that blocks a delete: the
// declared (or overridden) policy is protect and related rows exist.
type ProtectionViolation struct {
	Entity       string // Entity being deleted.
	Relationship string // Relationship whose dependents block the delete.
	Count        int    // Number of existing dependent rows.
}

// Error returns the error string.
func (e *ProtectionViolation) Error() string {
	return fmt.Sprintf("morph: cannot delete %s: %d row(s) depend on it through %q", e.Entity, e.Count, e.Relationship)
}

// ProtectedError aggregates the protection violations that rejected a
// deletion plan. A rejected plan performs zero writes.
type ProtectedError struct {
	Violations []*ProtectionViolation
}

// Error returns the error string.
func (e *ProtectedError) Error() string {
	if len(e.Violations) == 1 {
		return e.Violations[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "morph: delete blocked by %d protected relationships:", len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&sb, "\n  %s", v.Error())
	}
	return sb.String()
}

// IsProtectedError returns true if the error is a ProtectedError.
func IsProtectedError(err error) bool {
	if err == nil {
		return false
	}
	var e *ProtectedError
	return errors.As(err, &e)
}

// ConstraintError represents a storage constraint violation surfaced by the
// persistence collaborator.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e ConstraintError) Error() string {
	return fmt.Sprintf("morph: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError with the given message.
func NewConstraintError(msg string, wrap error) error {
	return ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e ConstraintError
	return errors.As(err, &e)
}

// TransactionError wraps a persistence failure that occurred mid-execution.
// The executor rolls the transaction back before surfacing it, so the store
// shows zero net change.
type TransactionError struct {
	Op  string // Operation that failed, e.g. "insert author".
	Err error
}

// Error returns the error string.
func (e *TransactionError) Error() string {
	return fmt.Sprintf("morph: transaction failed during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error {
	return e.Err
}

// IsTransactionError returns true if the error is a TransactionError.
func IsTransactionError(err error) bool {
	if err == nil {
		return false
	}
	var e *TransactionError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered the rollback.
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("morph: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}
