// Package dialect provides database dialect abstraction for Morph.
//
// This package defines the interfaces and types used for database-specific
// operations, allowing the storage layer to support multiple database
// backends including PostgreSQL, MySQL, and SQLite.
//
// # Supported Dialects
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// The package defines the Driver interface for database operations:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The Tx interface extends ExecQuerier with Commit and Rollback.
//
// # Usage
//
// Opening a database connection:
//
//	import (
//	    "github.com/syssam/morph/dialect"
//	    "github.com/syssam/morph/dialect/sql"
//	)
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// Wrap a driver with Debug to log every outgoing statement through a
// logr.Logger:
//
//	drv = dialect.Debug(drv, log)
//
// # Sub-packages
//
// The dialect/sql sub-package carries the database/sql driver
// implementation and the model-aware storage built on top of it.
package dialect
