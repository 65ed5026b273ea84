package executor

import (
	"context"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/pkg/errors"
)

// ErrSkipped is returned by TryLock when another refresh already holds
// the stream table's advisory lock. Callers must treat this as a
// SKIPPED outcome, not a retryable error (spec.md §4.3, Locking: "the
// next cycle will cover the missed interval with a larger delta").
var ErrSkipped = errors.New("executor: refresh skipped, advisory lock held by another session")

// TryLock attempts the per-stream-table transaction-scoped advisory
// lock on tx using pg_try_advisory_xact_lock, the non-blocking variant:
// spec.md §4.3 requires contention to fail fast and be recorded as
// SKIPPED, never to wait for the holder to finish. tx is the same
// storage-table transaction the apply step runs in (types.TargetTx,
// database/sql), since the lock must cover the mutation itself, not a
// separate catalog connection; it is released automatically when tx
// commits or rolls back.
func TryLock(ctx context.Context, tx types.TargetQuerier, streamTableID string) error {
	var acquired bool
	row := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, catalog.AdvisoryLockKey(streamTableID))
	if err := row.Scan(&acquired); err != nil {
		return errors.Wrap(err, "acquiring refresh advisory lock")
	}
	if !acquired {
		return ErrSkipped
	}
	return nil
}
