// Package ddlwatch reacts to DDL committed against a stream table's
// source relations (spec.md §4.3, DDL reaction; §7, "Schema-drift on
// sources marks dependents for REINITIALIZE (recoverable) or ERROR
// (source dropped)"). It LISTENs on a fixed Postgres channel an event
// trigger NOTIFYs on ddl_command_end / sql_drop, the same
// LISTEN/WaitForNotification idiom internal/alerts uses for operator
// notifications, generalized here to a consumer loop instead of a
// one-shot publish.
package ddlwatch

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Channel is the fixed NOTIFY channel a catalog-side event trigger
// publishes affected-relation events on.
const Channel = "stream_tables_ddl"

// EventKind distinguishes the two DDL outcomes spec.md §4.3 reacts to.
type EventKind string

const (
	EventAlter EventKind = "ALTER"
	EventDrop  EventKind = "DROP"
)

// Event is the JSON payload the event trigger publishes, naming one
// affected relation.
type Event struct {
	Kind   EventKind `json:"kind"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
}

// Watcher consumes Events and reacts against the catalog.
type Watcher struct {
	Catalog *catalog.Catalog
	// Listen opens a dedicated connection already subscribed to
	// Channel; callers typically pass a *pgxpool.Conn wrapper that
	// issued `LISTEN stream_tables_ddl` before handing the connection
	// here, since LISTEN is session-scoped.
	Listen func(ctx context.Context) (Subscription, error)
}

// Subscription is the minimal surface Watcher needs from a listening
// connection: block for the next notification, and release the
// connection when the watcher stops.
type Subscription interface {
	WaitForNotification(ctx context.Context) (*pgx.Notification, error)
	Release()
}

// Run blocks, reacting to DDL events until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	sub, err := w.Listen(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribing to DDL channel")
	}
	defer sub.Release()

	for {
		notification, err := sub.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "waiting for DDL notification")
		}
		var ev Event
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			log.WithError(err).Warn("dropping malformed DDL event payload")
			continue
		}
		if err := w.react(ctx, ev); err != nil {
			log.WithError(err).WithFields(log.Fields{"schema": ev.Schema, "table": ev.Table}).
				Error("failed to react to DDL event")
		}
	}
}

func (w *Watcher) react(ctx context.Context, ev Event) error {
	source := ident.NewTable(ident.NewSchema(ident.New(""), ident.New(ev.Schema)), ident.New(ev.Table))
	dependents, err := w.Catalog.Dependents(ctx, source)
	if err != nil {
		return err
	}
	if len(dependents) == 0 {
		return nil
	}

	log.WithFields(log.Fields{
		"source": source.Raw(), "kind": ev.Kind, "dependents": len(dependents),
	}).Info("reacting to DDL event on stream-table source")

	for _, streamTableID := range dependents {
		switch ev.Kind {
		case EventAlter:
			if err := w.Catalog.SetReinitFlag(ctx, streamTableID, true); err != nil {
				return err
			}
		case EventDrop:
			if err := w.Catalog.SetStatus(ctx, streamTableID, catalog.StatusError); err != nil {
				return err
			}
		default:
			return errors.Errorf("unrecognized DDL event kind %q", ev.Kind)
		}
	}
	return nil
}
