// Package sql provides the database/sql driver implementation and the
// model-aware storage consumed by the executors.
//
// # Driver
//
// Driver adapts database/sql to the dialect.Driver interface:
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// # Storage
//
// NewStorage builds a morph.Storage on top of a driver and a model
// registry. Entity names resolve to tables through the registry, SQL
// generation adapts to the active dialect (placeholders, identifier
// quoting, identity retrieval), and database constraint failures are
// translated into morph.ConstraintError:
//
//	storage := sql.NewStorage(drv, registry)
//	tx, err := storage.Tx(ctx)
//
// # Statistics
//
// StatsDriver wraps a driver with query counters and slow-query
// detection; see NewStatsDriver.
package sql
