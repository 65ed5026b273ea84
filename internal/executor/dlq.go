package executor

import (
	"context"
	"errors"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

// uniqueViolation is Postgres's SQLSTATE for a unique-index failure,
// the signal the host turns a row_id collision into (spec.md §7,
// Internal invariant violations).
const uniqueViolation = "23505"

// IsRowIDCollision reports whether err is a unique-index violation on
// the storage table's row_id, the fatal invariant violation spec.md §7
// names explicitly ("row-id collision detected by unique-index
// failure"). There is no teacher analogue for this classification — the
// teacher's sinks never carry a synthetic row_id — so it is built
// directly from the spec.md §7 description, following this package's
// own pgconn.PgError idiom already used elsewhere for catalog errors.
func IsRowIDCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// QuarantineOnInvariantViolation handles a fatal, non-retryable apply
// error: spec.md §7 says it is "fatal for the affected refresh but not
// for the scheduler; a diagnostic is emitted and the ST is suspended."
// It never increments the ordinary consecutive-error counter, since
// that counter exists to tolerate transient failures — an invariant
// violation means generated SQL or the source schema disagree with the
// storage table's actual contents, which a retry cannot fix.
func QuarantineOnInvariantViolation(ctx context.Context, cat *catalog.Catalog, streamTableID string, cause error) error {
	log.WithFields(log.Fields{"streamTableID": streamTableID, "cause": cause}).
		Error("invariant violation applying refresh, suspending stream table")
	return cat.SetStatus(ctx, streamTableID, catalog.StatusSuspended)
}
