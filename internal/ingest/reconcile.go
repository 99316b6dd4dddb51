package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/PratikDhanave/record-ingestion-service/internal/ledger"
	"github.com/PratikDhanave/record-ingestion-service/internal/models"
	"github.com/PratikDhanave/record-ingestion-service/internal/publish"
)

// Reconciler republishes committed artifacts that never got a publish
// marker, and returns stale reservations to the pool.
type Reconciler struct {
	ledger    ledger.Ledger
	publisher publish.Publisher
	log       *slog.Logger
	batch     int
	timeout   time.Duration
}

// ReconcileReport counts one reconciliation pass.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
	Reclaimed int `json:"reclaimed"`
}

// NewReconciler builds a Reconciler that handles up to batch entries per pass.
func NewReconciler(l ledger.Ledger, p publish.Publisher, log *slog.Logger, batch int, timeout time.Duration) *Reconciler {
	if batch <= 0 {
		batch = 500
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{ledger: l, publisher: p, log: log, batch: batch, timeout: timeout}
}

// Run performs one pass. Publish failures are counted, not returned; an
// error means the ledger itself could not be read.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport

	reclaimed, err := r.ledger.ReclaimStale(ctx)
	if err != nil {
		return rep, err
	}
	rep.Reclaimed = reclaimed

	entries, err := r.ledger.ListUnpublished(ctx, r.batch)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(entries)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ev := models.AcceptanceEvent{
			EventType:   models.EventTypeRecordAccepted,
			Fingerprint: e.Fingerprint,
			Location:    e.Location,
			RecordKind:  e.RecordKind,
			SourceTag:   e.SourceTag,
			RecordID:    e.RecordID,
			StoredAt:    e.CommittedAt,
		}
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		_, err := r.publisher.Publish(pctx, ev)
		cancel()
		if err != nil {
			rep.Failed++
			r.log.WarnContext(ctx, "republish failed", "fingerprint", e.Fingerprint, "error", err)
			continue
		}
		if err := r.ledger.MarkPublished(ctx, e.Fingerprint); err != nil {
			rep.Failed++
			r.log.WarnContext(ctx, "publish marker not recorded", "fingerprint", e.Fingerprint, "error", err)
			continue
		}
		rep.Published++
	}

	r.log.InfoContext(ctx, "reconciliation pass",
		"scanned", rep.Scanned, "published", rep.Published, "failed", rep.Failed, "reclaimed", rep.Reclaimed)
	return rep, nil
}

// Loop runs a pass every interval until ctx is done.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
				r.log.ErrorContext(ctx, "reconciliation pass failed", "error", err)
			}
		}
	}
}
