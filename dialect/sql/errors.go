package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/morph"
)

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// TranslateError converts database constraint failures into
// morph.ConstraintError so callers never branch on driver error types.
// Other errors pass through unchanged.
func TranslateError(err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueConstraintError(err):
		return morph.NewConstraintError("unique constraint violated", err)
	case IsForeignKeyConstraintError(err):
		return morph.NewConstraintError("foreign key constraint violated", err)
	case IsCheckConstraintError(err):
		return morph.NewConstraintError("check constraint violated", err)
	default:
		return err
	}
}

// IsConstraintError returns true if the error resulted from a database
// constraint violation.
func IsConstraintError(err error) bool {
	return morph.IsConstraintError(err) ||
		IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// sqlStateError is implemented by pgx and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness
// constraint violation. e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return constraintKind(err, pgUniqueViolation, []uint16{mysqlDuplicateEntry},
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database
// foreign-key constraint violation. e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return constraintKind(err, pgForeignKeyViolation, []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check
// constraint violation. e.g. a value does not satisfy a check condition.
func IsCheckConstraintError(err error) bool {
	return constraintKind(err, pgCheckViolation, []uint16{mysqlCheckConstraintViolate},
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

func constraintKind(err error, pgCode string, mysqlNums []uint16, fallbacks ...string) bool {
	if err == nil {
		return false
	}
	var pqe *pq.Error
	if errors.As(err, &pqe) && string(pqe.Code) == pgCode {
		return true
	}
	var mye *mysql.MySQLError
	if errors.As(err, &mye) {
		for _, num := range mysqlNums {
			if mye.Number == num {
				return true
			}
		}
	}
	// pgx and friends expose SQLSTATE without a pq error type.
	if e, ok := asError[sqlStateError](err); ok && e.SQLState() == pgCode {
		return true
	}
	return containsAny(err.Error(), fallbacks...)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
