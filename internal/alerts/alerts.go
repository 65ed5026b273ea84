// Package alerts publishes operator-facing notifications over
// Postgres's LISTEN/NOTIFY channel (spec.md §4.3, Failure semantics:
// "the ST transitions to SUSPENDED and emits a NOTIFY alert"). There is
// no teacher analogue for this — the teacher's sinks never suspend
// themselves — so the wire format is built directly from the spec.md
// description: a single JSON payload naming the event kind and the
// affected stream table, following this repository's own json.Marshal
// + pg_notify idiom already used for frontier/capture-state encoding in
// internal/catalog.
package alerts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/pkg/errors"
)

// Kind distinguishes the events a stream table's lifecycle can raise.
type Kind string

const (
	KindSuspended   Kind = "SUSPENDED"
	KindError       Kind = "ERROR"
	KindReinitiated Kind = "REINITIALIZE"
)

// Channel is the fixed Postgres NOTIFY channel name operators LISTEN on.
const Channel = "stream_tables_alerts"

// Event is the JSON payload delivered on Channel.
type Event struct {
	Kind          Kind      `json:"kind"`
	StreamTableID string    `json:"stream_table_id"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

// Publisher emits Events. It is satisfied by *Notifier, and by a fake
// in executor tests that would otherwise need a live catalog
// connection.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notifier publishes alerts via pg_notify against the catalog
// connection, so any session LISTENing on Channel observes them
// without polling a table.
type Notifier struct {
	Pool types.StagingQuerier
}

var _ Publisher = (*Notifier)(nil)

// Publish encodes ev as JSON and sends it over Channel.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = n.Pool.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, string(payload))
	return errors.Wrap(err, "publishing stream-table alert")
}
