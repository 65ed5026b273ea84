package executor

import (
	"context"
	"time"

	"github.com/cockroachdb/stream-tables/internal/alerts"
	"github.com/cockroachdb/stream-tables/internal/catalog"
	"github.com/cockroachdb/stream-tables/internal/dvm"
	"github.com/cockroachdb/stream-tables/internal/operator"
	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/frontier"
	"github.com/cockroachdb/stream-tables/internal/util/ident"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Executor runs single refresh cycles for the stream tables the
// scheduler dispatches to it (spec.md §4.3). One Executor is shared
// across every stream table; all per-refresh state lives in
// RefreshRequest/RefreshResult.
type Executor struct {
	Catalog           *catalog.Catalog
	Alerts            alerts.Publisher
	ErrorThreshold    int     // consecutive failures before SUSPENDED
	AdaptiveThreshold float64 // change-ratio cutoff, FULL vs DIFFERENTIAL
	Policy            TriggerPolicy
}

// Outcome is the terminal disposition of one refresh attempt, recorded
// in refresh_history and returned to the scheduler for logging.
type Outcome string

const (
	OutcomeOK        Outcome = "OK"
	OutcomeSkipped   Outcome = "SKIPPED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeSuspended Outcome = "SUSPENDED"
)

// RefreshRequest bundles everything one refresh cycle needs beyond the
// Executor's own configuration. Op is the defining query's operator
// tree; Deltas names, per source, the CTE already selecting that
// source's change-buffer rows for the interval being applied (built by
// the caller via internal/cdc/buffer.Select against F0/F1, spec.md
// §4.1's Scan leaf contract); SourceMarkers carries each source's F1,
// the version marker read just before the delta was computed.
type RefreshRequest struct {
	StreamTable   catalog.StreamTable
	Action        Action
	Op            operator.Operator
	Deltas        map[string]dvm.SourceDelta
	SourceMarkers map[string]frontier.Marker
	Sources       []ident.Table
}

// RefreshResult reports what happened.
type RefreshResult struct {
	Outcome      Outcome
	RowsAffected int64
}

// Refresh executes one refresh cycle of req.StreamTable against
// storageTx, an already-open transaction on the storage pool. The
// caller commits or rolls back storageTx; Refresh itself never does,
// so the crash-recovery sweep's "leaves the storage table and frontier
// untouched" guarantee (spec.md §4.3, Failure semantics) follows
// directly from ordinary transaction semantics.
func (e *Executor) Refresh(ctx context.Context, storageTx types.TargetTx, req RefreshRequest) (RefreshResult, error) {
	st := req.StreamTable
	start := time.Now()

	historyID, err := e.Catalog.RecordRefreshStart(ctx, st.ID, st.RefreshMode)
	if err != nil {
		return RefreshResult{}, err
	}

	if req.Action == ActionNoData {
		if err := e.Catalog.RecordRefreshEnd(ctx, historyID, 0, ""); err != nil {
			return RefreshResult{}, err
		}
		refreshDurations.WithLabelValues(string(req.Action), string(OutcomeOK)).Observe(time.Since(start).Seconds())
		return RefreshResult{Outcome: OutcomeOK}, nil
	}

	if err := TryLock(ctx, storageTx, st.ID); err != nil {
		if errors.Is(err, ErrSkipped) {
			_, schema, table := st.Storage.Parts()
			refreshSkipped.WithLabelValues(schema, table).Inc()
			_ = e.Catalog.RecordRefreshEnd(ctx, historyID, 0, "skipped: advisory lock held by another session")
			return RefreshResult{Outcome: OutcomeSkipped}, nil
		}
		return RefreshResult{}, err
	}

	rows, applyErr := e.apply(ctx, storageTx, req)

	_, schema, table := st.Storage.Parts()
	if applyErr != nil {
		if IsRowIDCollision(applyErr) {
			_ = e.Catalog.RecordRefreshEnd(ctx, historyID, 0, applyErr.Error())
			if err := QuarantineOnInvariantViolation(ctx, e.Catalog, st.ID, applyErr); err != nil {
				return RefreshResult{}, err
			}
			refreshSuspended.WithLabelValues(schema, table).Inc()
			refreshDurations.WithLabelValues(string(req.Action), string(OutcomeSuspended)).Observe(time.Since(start).Seconds())
			return RefreshResult{Outcome: OutcomeSuspended}, nil
		}

		_ = e.Catalog.RecordRefreshEnd(ctx, historyID, 0, applyErr.Error())
		count, suspended, countErr := e.Catalog.RecordFailure(ctx, st.ID, e.ErrorThreshold)
		if countErr != nil {
			return RefreshResult{}, countErr
		}
		if suspended {
			refreshSuspended.WithLabelValues(schema, table).Inc()
			if e.Alerts != nil {
				_ = e.Alerts.Publish(ctx, alerts.Event{
					Kind: alerts.KindSuspended, StreamTableID: st.ID,
					Message: applyErr.Error(), At: time.Now(),
				})
			}
			log.WithFields(log.Fields{"streamTableID": st.ID, "consecutiveErrors": count}).
				Warn("stream table suspended after repeated refresh failures")
			refreshDurations.WithLabelValues(string(req.Action), string(OutcomeSuspended)).Observe(time.Since(start).Seconds())
			return RefreshResult{Outcome: OutcomeSuspended}, nil
		}
		refreshDurations.WithLabelValues(string(req.Action), string(OutcomeFailed)).Observe(time.Since(start).Seconds())
		return RefreshResult{Outcome: OutcomeFailed}, applyErr
	}

	for _, src := range req.Sources {
		marker, ok := req.SourceMarkers[src.Raw()]
		if !ok {
			continue
		}
		if err := e.Catalog.AdvanceFrontier(ctx, st.ID, src, marker); err != nil {
			return RefreshResult{}, err
		}
	}
	if err := e.Catalog.ClearErrors(ctx, st.ID); err != nil {
		return RefreshResult{}, err
	}
	if req.Action == ActionReinitialize {
		if err := e.Catalog.SetReinitFlag(ctx, st.ID, false); err != nil {
			return RefreshResult{}, err
		}
	}
	if err := e.Catalog.SetStatus(ctx, st.ID, catalog.StatusActive); err != nil {
		return RefreshResult{}, err
	}
	if err := e.Catalog.RecordRefreshEnd(ctx, historyID, rows, ""); err != nil {
		return RefreshResult{}, err
	}

	refreshRowsApplied.WithLabelValues(schema, table, string(st.RefreshMode)).Add(float64(rows))
	refreshDurations.WithLabelValues(string(req.Action), string(OutcomeOK)).Observe(time.Since(start).Seconds())
	return RefreshResult{Outcome: OutcomeOK, RowsAffected: rows}, nil
}

// apply dispatches to the FULL/REINITIALIZE truncate-and-recompute path
// or the DIFFERENTIAL delta-program path.
func (e *Executor) apply(ctx context.Context, storageTx types.TargetTx, req RefreshRequest) (int64, error) {
	switch req.Action {
	case ActionFull, ActionReinitialize:
		return e.applyFull(ctx, storageTx, req)
	case ActionDifferential:
		return e.applyDifferential(ctx, storageTx, req)
	default:
		return 0, errors.Errorf("executor: %s is not an applyable action", req.Action)
	}
}

// applyFull truncates the storage table and re-executes the defining
// query (spec.md §4.3, FULL refresh). REINITIALIZE takes this same
// path unchanged: the caller builds req.Op the same way for both
// actions, and no separate auxiliary-column rebuild is performed.
func (e *Executor) applyFull(ctx context.Context, storageTx types.TargetTx, req RefreshRequest) (int64, error) {
	storage := req.StreamTable.Storage
	if _, err := storageTx.ExecContext(ctx, "TRUNCATE TABLE "+storage.String()); err != nil {
		return 0, errors.Wrapf(err, "truncating %s for full refresh", storage.Raw())
	}
	insertSQL := "INSERT INTO " + storage.String() + " " + operator.RenderFull(req.Op)
	res, err := storageTx.ExecContext(ctx, insertSQL)
	if err != nil {
		return 0, errors.Wrapf(err, "recomputing %s", storage.Raw())
	}
	n, err := res.RowsAffected()
	return n, errors.WithStack(err)
}

// applyDifferential materializes the delta program into a temporary
// relation, then applies it via the MERGE or explicit-DML path
// (spec.md §4.3, DIFFERENTIAL refresh).
func (e *Executor) applyDifferential(ctx context.Context, storageTx types.TargetTx, req RefreshRequest) (int64, error) {
	program, err := dvm.New(req.Deltas).Differentiate(req.Op)
	if err != nil {
		return 0, errors.Wrap(err, "building delta program")
	}

	const deltaRelation = "stream_tables_delta"
	createSQL := "CREATE TEMP TABLE " + deltaRelation + " ON COMMIT DROP AS " + program.Render()
	if _, err := storageTx.ExecContext(ctx, createSQL); err != nil {
		return 0, errors.Wrap(err, "materializing delta program")
	}

	cols := req.Op.Schema()
	storage := req.StreamTable.Storage

	useDML, err := UseExplicitDML(ctx, storageTx, storage, e.Policy)
	if err != nil {
		return 0, err
	}
	if useDML {
		return ApplyExplicitDML(ctx, storageTx, storage, cols, deltaRelation)
	}
	return ApplyMerge(ctx, storageTx, storage, cols, deltaRelation)
}
