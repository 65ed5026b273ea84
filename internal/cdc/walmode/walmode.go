// Package walmode implements WAL-based capture and the TRIGGER ->
// TRANSITIONING -> WAL handoff protocol (spec.md §4.2, §5 and
// Design Notes §9: the capture-mode machine must be "explicit,
// persisted, recoverable"). It decodes wal2json output from a Postgres
// logical replication slot using jackc/pglogrepl, the library
// other_examples/joaofoltran-pg-migrator's replication pipeline is
// grounded on; this package follows that file's slot-creation/
// keepalive/XLogData loop, generalized from row-level clone-and-follow
// to writing decoded rows into this repository's own change buffer.
package walmode

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/stream-tables/internal/cdc"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const outputPlugin = "wal2json"

// standbyMessageTimeout bounds how long the decoder waits between
// status updates to the primary, matching pglogrepl's documented
// keepalive cadence.
const standbyMessageTimeout = 10 * time.Second

// Decoder streams decoded WAL changes for one source relation into its
// change buffer. It moves the Coordinator to TRANSITIONING in Start and
// back to TRIGGER on a failure in Run; it never calls
// Coordinator.Complete, so it does not move the source on to WAL.
type Decoder struct {
	Conn        *pgconn.PgConn
	SlotName    string
	Source      ident.Table
	Buffer      types.ChangeBuffer
	BufferTx    types.StagingQuerier
	Coordinator *cdc.Coordinator
}

// CreateSlot creates (or reuses) a wal2json logical replication slot
// and returns the consistent point, the WAL position below which the
// trigger captured every change and at or above which this decoder is
// authoritative (spec.md §5, trigger/WAL handoff).
func CreateSlot(ctx context.Context, conn *pgconn.PgConn, slotName string) (frontier.Marker, error) {
	res, err := pglogrepl.CreateReplicationSlot(ctx, conn, slotName, outputPlugin,
		pglogrepl.CreateReplicationSlotOptions{Temporary: false})
	if err != nil {
		return frontier.Marker{}, errors.Wrapf(err, "creating replication slot %q", slotName)
	}
	lsn, err := pglogrepl.ParseLSN(res.ConsistentPoint)
	if err != nil {
		return frontier.Marker{}, errors.Wrap(err, "parsing consistent point")
	}
	return frontier.Marker{Pos: uint64(lsn)}, nil
}

// Start begins streaming from startLSN and promotes the source to
// TRANSITIONING capture once the slot is confirmed live.
func (d *Decoder) Start(ctx context.Context, startLSN frontier.Marker) error {
	lsn := pglogrepl.LSN(startLSN.Pos)
	if err := pglogrepl.StartReplication(ctx, d.Conn, d.SlotName, lsn, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{`"include-xids" '1'`, `"include-timestamp" '1'`},
	}); err != nil {
		return errors.Wrapf(err, "starting replication on slot %q", d.SlotName)
	}
	if err := d.Coordinator.Promote(ctx, startLSN); err != nil {
		return err
	}
	return nil
}

// Run decodes WAL messages until ctx is canceled, writing every
// change into the change buffer and periodically acknowledging
// progress to the primary. A decode or store error falls back to
// TRIGGER capture (spec.md §5, Fallback) rather than propagating a
// half-applied handoff.
func (d *Decoder) Run(ctx context.Context) error {
	clientXLogPos := pglogrepl.LSN(0)
	nextStandbyDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Now().After(nextStandbyDeadline) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, d.Conn,
				pglogrepl.StandbyStatusUpdate{WALWritePosition: clientXLogPos}); err != nil {
				return d.demote(ctx, errors.Wrap(err, "sending standby status update"))
			}
			nextStandbyDeadline = time.Now().Add(standbyMessageTimeout)
		}

		recvCtx, cancel := context.WithDeadline(ctx, nextStandbyDeadline)
		rawMsg, err := d.Conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return d.demote(ctx, errors.Wrap(err, "receiving replication message"))
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return d.demote(ctx, errors.Errorf("replication stream error: %s", errMsg.Message))
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				return d.demote(ctx, errors.Wrap(err, "parsing keepalive"))
			}
			if pkm.ReplyRequested {
				nextStandbyDeadline = time.Time{}
			}
		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				return d.demote(ctx, errors.Wrap(err, "parsing XLogData"))
			}
			if err := d.applyWAL2JSON(ctx, xld.WALData, frontier.Marker{Pos: uint64(xld.WALStart)}); err != nil {
				return d.demote(ctx, err)
			}
			clientXLogPos = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
		}
	}
}

// wal2jsonChange mirrors the subset of the wal2json output-plugin
// schema this decoder needs: one row-level change per entry.
type wal2jsonChange struct {
	Kind          string        `json:"kind"` // "insert" | "update" | "delete"
	Schema        string        `json:"schema"`
	Table         string        `json:"table"`
	ColumnNames   []string      `json:"columnnames"`
	ColumnValues  []interface{} `json:"columnvalues"`
	OldKeys       *wal2jsonKeys `json:"oldkeys"`
	TransactionID int64         `json:"xid"`
}

type wal2jsonKeys struct {
	KeyNames  []string      `json:"keynames"`
	KeyValues []interface{} `json:"keyvalues"`
}

type wal2jsonTransaction struct {
	Change []wal2jsonChange `json:"change"`
}

func (d *Decoder) applyWAL2JSON(ctx context.Context, walData []byte, marker frontier.Marker) error {
	var tx wal2jsonTransaction
	if err := json.Unmarshal(walData, &tx); err != nil {
		return errors.Wrap(err, "decoding wal2json payload")
	}

	_, sourceSchema, sourceTable := d.Source.Parts()
	var records []types.ChangeRecord
	for _, c := range tx.Change {
		if c.Schema != sourceSchema || c.Table != sourceTable {
			continue
		}
		rec, err := d.toChangeRecord(c, marker)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}
	return d.Buffer.Store(ctx, d.BufferTx, records)
}

func (d *Decoder) toChangeRecord(c wal2jsonChange, marker frontier.Marker) (types.ChangeRecord, error) {
	var action types.Action
	switch c.Kind {
	case "insert":
		action = types.ActionInsert
	case "update":
		action = types.ActionUpdate
	case "delete":
		action = types.ActionDelete
	default:
		return types.ChangeRecord{}, errors.Errorf("unrecognized wal2json change kind %q", c.Kind)
	}

	row := make(map[string]interface{}, len(c.ColumnNames))
	for i, name := range c.ColumnNames {
		if i < len(c.ColumnValues) {
			row[name] = c.ColumnValues[i]
		}
	}
	newImage, err := json.Marshal(row)
	if err != nil {
		return types.ChangeRecord{}, errors.WithStack(err)
	}

	var keySource map[string]interface{}
	if c.OldKeys != nil {
		keySource = make(map[string]interface{}, len(c.OldKeys.KeyNames))
		for i, name := range c.OldKeys.KeyNames {
			if i < len(c.OldKeys.KeyValues) {
				keySource[name] = c.OldKeys.KeyValues[i]
			}
		}
	} else {
		keySource = row
	}
	key, err := json.Marshal(keySource)
	if err != nil {
		return types.ChangeRecord{}, errors.WithStack(err)
	}

	rec := types.ChangeRecord{
		Source:     d.Source,
		Key:        key,
		Marker:     marker,
		TxID:       uint64(c.TransactionID),
		Action:     action,
		CapturedAt: time.Now(),
	}
	if action != types.ActionDelete {
		rec.New = newImage
	}
	return rec, nil
}

// demote falls back to TRIGGER capture on any decode or protocol
// failure (spec.md §5, Fallback), logging cause so an operator can
// decide whether to retry.
func (d *Decoder) demote(ctx context.Context, cause error) error {
	log.WithFields(log.Fields{"source": d.Source.Raw(), "slot": d.SlotName, "cause": cause}).
		Warn("WAL decoder stopping, falling back to trigger capture")
	if err := d.Coordinator.Demote(ctx, cause.Error()); err != nil {
		return errors.Wrap(err, "demoting after decoder failure")
	}
	return cause
}
