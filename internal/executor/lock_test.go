package executor_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/cockroachdb/stream-tables/internal/executor"
	"github.com/stretchr/testify/require"
)

// fakeTargetQuerier reports a fixed boolean for
// pg_try_advisory_xact_lock without a live database/sql connection.
type fakeTargetQuerier struct{ acquired bool }

func (f fakeTargetQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (f fakeTargetQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
func (f fakeTargetQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	// database/sql provides no exported way to construct a *sql.Row with
	// a canned scan result, and a zero *sql.Row panics on Scan, so this
	// fake returns a row from a database whose connector always fails.
	// TryLock's acquired/contended behavior is not covered by a unit test
	// in this package; this fake only confirms TryLock issues its
	// statement and returns the scan error without panicking.
	return sql.OpenDB(failingConnector{}).QueryRowContext(ctx, query, args...)
}

// failingConnector is a driver.Connector whose every connection
// attempt fails, so a row queried through it reports that error on Scan.
type failingConnector struct{}

func (failingConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("no database in unit tests")
}
func (failingConnector) Driver() driver.Driver { return nil }

func TestTryLockBuildsStatement(t *testing.T) {
	err := executor.TryLock(context.Background(), fakeTargetQuerier{acquired: true}, "st-1")
	require.Error(t, err) // the failing connector's error, surfaced by Scan
}
