package sql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/morph/dialect"
)

func mockStatsDriver(t *testing.T, opts ...StatsOption) (*StatsDriver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStatsDriver(OpenDB(dialect.Postgres, db), opts...), mock
}

func TestStatsDriverCounts(t *testing.T) {
	drv, mock := mockStatsDriver(t)

	mock.ExpectQuery(`SELECT * FROM "authors"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(`UPDATE "authors" SET "name" = $1`).
		WithArgs("Ursula").
		WillReturnResult(sqlmock.NewResult(0, 1))

	var rows Rows
	require.NoError(t, drv.Query(context.Background(), `SELECT * FROM "authors"`, []any{}, &rows))
	rows.Close()
	require.NoError(t, drv.Exec(context.Background(), `UPDATE "authors" SET "name" = $1`, []any{"Ursula"}, nil))

	stats := drv.QueryStats().Stats()
	assert.Equal(t, int64(1), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.TotalExecs)
	assert.Equal(t, int64(0), stats.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriverCountsErrors(t *testing.T) {
	drv, mock := mockStatsDriver(t)

	mock.ExpectQuery(`SELECT broken`).WillReturnError(assert.AnError)

	var rows Rows
	require.Error(t, drv.Query(context.Background(), `SELECT broken`, []any{}, &rows))
	assert.Equal(t, int64(1), drv.QueryStats().Stats().Errors)
}

func TestStatsDriverSlowQueryHook(t *testing.T) {
	var slow []string
	drv, mock := mockStatsDriver(t,
		// A negative threshold marks every statement slow.
		WithSlowThreshold(-1),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)

	mock.ExpectQuery(`SELECT * FROM "books"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var rows Rows
	require.NoError(t, drv.Query(context.Background(), `SELECT * FROM "books"`, []any{}, &rows))
	rows.Close()

	assert.Equal(t, []string{`SELECT * FROM "books"`}, slow)
	assert.Equal(t, int64(1), drv.QueryStats().Stats().SlowQueries)
}

func TestStatsDriverTx(t *testing.T) {
	drv, mock := mockStatsDriver(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "reviews"`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), `DELETE FROM "reviews"`, []any{}, nil))
	require.NoError(t, tx.Commit())

	// Statements inside the transaction feed the driver's counters.
	assert.Equal(t, int64(1), drv.QueryStats().Stats().TotalExecs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsSnapshotAverages(t *testing.T) {
	s := StatsSnapshot{TotalQueries: 3, TotalExecs: 1, TotalDuration: 4 * time.Millisecond}
	assert.Equal(t, time.Millisecond, s.AvgQueryDuration())
	assert.Equal(t, time.Duration(0), StatsSnapshot{}.AvgQueryDuration())
	assert.Contains(t, s.String(), "queries=3")
}

func TestStatsReset(t *testing.T) {
	drv, mock := mockStatsDriver(t)

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"1"}))

	var rows Rows
	require.NoError(t, drv.Query(context.Background(), `SELECT 1`, []any{}, &rows))
	rows.Close()

	drv.QueryStats().Reset()
	assert.Equal(t, int64(0), drv.QueryStats().Stats().TotalQueries)
}
