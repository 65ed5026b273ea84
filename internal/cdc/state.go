// Package cdc coordinates the capture-mode state machine spec.md §5
// describes: every source relation starts under AFTER-trigger capture,
// and may be promoted to WAL-based logical decoding once a replication
// slot can be established, without ever dropping a change between the
// two capture strategies. It is grounded on the teacher's
// internal/source/cdc resolver (the closest teacher analogue to "a
// capture strategy reporting changes into a consumer"), generalized
// from CDC-to-sink fan-out to the trigger/WAL handoff this spec needs.
package cdc

import (
	"context"

	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Coordinator drives a single source relation's capture-mode state
// machine (spec.md §5): TRIGGER -> TRANSITIONING -> WAL. It never
// moves a source to a state where changes could be lost; a WAL decoder
// failure falls back to continuing trigger capture (the trigger is
// never dropped until WAL has been confirmed caught up), not to
// erasing state.
type Coordinator struct {
	Catalog *catalog.Catalog
	Source  ident.Table
}

// Promote attempts to move source from TRIGGER to TRANSITIONING,
// recording the WAL position at which the replication slot began
// decoding. Rows buffered by the trigger below that position, and by
// WAL decoding at or above it, are both authoritative during
// TRANSITIONING; the differentiator sees the union, deduplicated by
// the change buffer's (marker, key) uniqueness constraint.
func (c *Coordinator) Promote(ctx context.Context, slotPosition frontier.Marker) error {
	cur, err := c.Catalog.CaptureState(ctx, c.Source)
	if err != nil {
		return err
	}
	if cur.Mode != catalog.CaptureTrigger {
		return errors.Errorf("cannot promote %s from %s: expected TRIGGER", c.Source.Raw(), cur.Mode)
	}
	log.WithFields(log.Fields{"source": c.Source.Raw(), "slotPosition": slotPosition}).
		Info("promoting source to TRANSITIONING capture")
	return c.Catalog.SetCaptureState(ctx, c.Source, catalog.CaptureState{
		Mode:          catalog.CaptureTransitioning,
		HandoffMarker: &slotPosition,
	})
}

// Complete moves source from TRANSITIONING to WAL once the caller has
// confirmed the WAL decoder has durably replayed every row up to (and
// past) HandoffMarker, making the AFTER trigger safe to drop.
func (c *Coordinator) Complete(ctx context.Context) error {
	cur, err := c.Catalog.CaptureState(ctx, c.Source)
	if err != nil {
		return err
	}
	if cur.Mode != catalog.CaptureTransitioning {
		return errors.Errorf("cannot complete promotion of %s from %s: expected TRANSITIONING", c.Source.Raw(), cur.Mode)
	}
	log.WithFields(log.Fields{"source": c.Source.Raw()}).Info("completed promotion to WAL capture")
	return c.Catalog.SetCaptureState(ctx, c.Source, catalog.CaptureState{Mode: catalog.CaptureWAL})
}

// Demote reverts source to TRIGGER capture, used when a replication
// slot is lost or WAL retention has been exceeded (spec.md §5, Fallback):
// the AFTER trigger must already still exist, since TRANSITIONING never
// drops it until Complete runs.
func (c *Coordinator) Demote(ctx context.Context, reason string) error {
	log.WithFields(log.Fields{"source": c.Source.Raw(), "reason": reason}).
		Warn("falling back to TRIGGER capture")
	return c.Catalog.SetCaptureState(ctx, c.Source, catalog.CaptureState{Mode: catalog.CaptureTrigger})
}
