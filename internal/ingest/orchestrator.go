// Package ingest runs a batch through validation, fingerprinting, the dedup
// ledger, the durable store and the event publisher, and accounts for every
// record in the response.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PratikDhanave/record-ingestion-service/internal/fingerprint"
	"github.com/PratikDhanave/record-ingestion-service/internal/ledger"
	"github.com/PratikDhanave/record-ingestion-service/internal/models"
	"github.com/PratikDhanave/record-ingestion-service/internal/publish"
	"github.com/PratikDhanave/record-ingestion-service/internal/store"
	"github.com/PratikDhanave/record-ingestion-service/internal/validate"
)

const contentTypeJSON = "application/json"

// Batch is one submission as received from a caller.
type Batch struct {
	Kind    models.Kind
	Source  string
	BatchID string
	Caller  string
	Records []json.RawMessage
}

// Options tunes an Orchestrator. Zero values select defaults.
type Options struct {
	Workers        int
	PublishTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Orchestrator holds only long-lived handles; it keeps no state between
// batches.
type Orchestrator struct {
	validator      *validate.Validator
	ledger         ledger.Ledger
	store          store.Store
	publisher      publish.Publisher
	log            *slog.Logger
	workers        int
	publishTimeout time.Duration
	now            func() time.Time
}

// New wires an orchestrator from its collaborators.
func New(v *validate.Validator, l ledger.Ledger, s store.Store, p publish.Publisher, opts Options) *Orchestrator {
	o := &Orchestrator{
		validator:      v,
		ledger:         l,
		store:          s,
		publisher:      p,
		log:            opts.Logger,
		workers:        opts.Workers,
		publishTimeout: opts.PublishTimeout,
		now:            opts.Now,
	}
	if o.workers <= 0 {
		o.workers = 8
	}
	if o.publishTimeout <= 0 {
		o.publishTimeout = 10 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// prepared is a record after the side-effect-free phase.
type prepared struct {
	index       int
	recordID    string
	fingerprint string
	body        []byte
	result      *models.RecordResult // set when the record terminates early
}

// Ingest processes one batch. The only error it returns is a
// *MalformedRequestError; every record-level failure is reported in the
// response instead.
func (o *Orchestrator) Ingest(ctx context.Context, b Batch) (*models.BatchResponse, error) {
	if err := o.validator.Batch(b.Kind, b.Source, len(b.Records)); err != nil {
		return nil, malformed(err)
	}
	if b.BatchID == "" {
		b.BatchID = uuid.NewString()
	}
	log := o.log.With("batch_id", b.BatchID, "source", b.Source, "record_kind", b.Kind, "caller", b.Caller)
	started := o.now()

	recs, err := o.prepare(b)
	if err != nil {
		log.WarnContext(ctx, "batch rejected", "error", err)
		return nil, malformed(err)
	}

	results := make([]models.RecordResult, len(recs))
	submitted := o.now().UTC()

	// Occurrences of one fingerprint run in order on one worker, so the first
	// occurrence in the batch is the one that reserves.
	var order []string
	groups := map[string][]int{}
	for i := range recs {
		if recs[i].result != nil {
			results[i] = *recs[i].result
			continue
		}
		fp := recs[i].fingerprint
		if _, seen := groups[fp]; !seen {
			order = append(order, fp)
		}
		groups[fp] = append(groups[fp], i)
	}

	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, fp := range order {
		idxs := groups[fp]
		g.Go(func() error {
			for _, i := range idxs {
				results[i] = o.commit(ctx, log, b, submitted, recs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := summarize(b, results)
	log.InfoContext(ctx, "batch processed",
		"records", len(results),
		"accepted", resp.Accepted,
		"duplicates", resp.Duplicates,
		"rejected", resp.Rejected,
		"storage_failures", resp.StorageFailures,
		"publish_failures", resp.PublishFailures,
		"dur_ms", o.now().Sub(started).Milliseconds(),
	)
	return resp, nil
}

// prepare validates and fingerprints every record in parallel. It has no
// side effects, so a kind mismatch found here still rejects the batch
// before anything is stored.
func (o *Orchestrator) prepare(b Batch) ([]prepared, error) {
	recs := make([]prepared, len(b.Records))
	mismatch := make([]bool, len(b.Records))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, raw := range b.Records {
		i, raw := i, raw
		g.Go(func() error {
			p := prepared{index: i}
			rec, err := o.validator.Record(b.Kind, raw)
			switch {
			case errors.Is(err, validate.ErrKindMismatch):
				mismatch[i] = true
			case err != nil:
				p.recordID = validate.PeekID(b.Kind, raw)
				p.result = rejected(i, p.recordID, err)
			default:
				p.recordID = rec.RecordID()
				if err := o.fingerprint(b.Source, rec, &p); err != nil {
					p.result = &models.RecordResult{
						Index: i, RecordID: p.recordID, Outcome: models.OutcomeRejected,
						Reason: "cannot canonicalize record: " + err.Error(),
					}
				}
			}
			recs[i] = p
			return nil
		})
	}
	_ = g.Wait()

	for i, bad := range mismatch {
		if bad {
			return nil, fmt.Errorf("%w: record %d", validate.ErrKindMismatch, i)
		}
	}
	return recs, nil
}

func (o *Orchestrator) fingerprint(source string, rec models.Record, p *prepared) error {
	fp, err := fingerprint.Of(source, rec)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	body, err := json.Marshal(models.Envelope{
		Fingerprint: fp.String(),
		RecordKind:  rec.RecordKind(),
		SourceTag:   source,
		RecordID:    rec.RecordID(),
		Record:      payload,
	})
	if err != nil {
		return err
	}
	p.fingerprint = fp.String()
	p.body = body
	return nil
}

func rejected(i int, id string, err error) *models.RecordResult {
	res := &models.RecordResult{Index: i, RecordID: id, Outcome: models.OutcomeRejected, Reason: err.Error()}
	var f *validate.Failure
	if errors.As(err, &f) {
		res.Reason = "validation failed"
		res.Fields = f.Fields
	}
	return res
}

// commit reserves, stores and publishes one record.
func (o *Orchestrator) commit(ctx context.Context, log *slog.Logger, b Batch, submitted time.Time, p prepared) models.RecordResult {
	res := models.RecordResult{Index: p.index, RecordID: p.recordID, Fingerprint: p.fingerprint}

	if err := ctx.Err(); err != nil {
		res.Outcome = models.OutcomeStorageFailed
		res.Reason = "request cancelled before storage: " + err.Error()
		return res
	}

	dec, err := o.ledger.Reserve(ctx, ledger.Reservation{
		Fingerprint: p.fingerprint,
		Key:         store.Key(b.Source, b.Kind, submitted, p.fingerprint),
		RecordKind:  b.Kind,
		SourceTag:   b.Source,
		RecordID:    p.recordID,
	})
	if err != nil {
		log.ErrorContext(ctx, "ledger reserve failed", "fingerprint", p.fingerprint, "error", err)
		res.Outcome = models.OutcomeStorageFailed
		res.Reason = "dedup ledger unavailable: " + err.Error()
		return res
	}
	if !dec.New {
		res.Outcome = models.OutcomeDuplicate
		res.Location = dec.Existing.Location
		res.Reason = "previously accepted"
		if dec.Existing.Status == ledger.StatusReserved {
			res.Reason = "being stored by a concurrent submission"
		}
		return res
	}

	// Once reserved, the record is finished even if the caller goes away.
	work := context.WithoutCancel(ctx)

	location, err := o.store.Put(work, store.Artifact{
		Key:         dec.Key,
		Body:        p.body,
		ContentType: contentTypeJSON,
		Metadata: map[string]string{
			"fingerprint": p.fingerprint,
			"record_kind": string(b.Kind),
			"source_tag":  b.Source,
			"batch_id":    b.BatchID,
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrContentMismatch) {
			log.ErrorContext(ctx, "fingerprint collision with different content", "fingerprint", p.fingerprint, "key", dec.Key)
		} else {
			log.WarnContext(ctx, "store write failed", "fingerprint", p.fingerprint, "key", dec.Key, "error", err)
		}
		if rerr := o.ledger.Release(work, p.fingerprint, dec.Token); rerr != nil {
			log.WarnContext(ctx, "ledger release failed", "fingerprint", p.fingerprint, "error", rerr)
		}
		res.Outcome = models.OutcomeStorageFailed
		res.Reason = "storage write failed: " + err.Error()
		return res
	}

	if err := o.ledger.Commit(work, p.fingerprint, dec.Token, location); err != nil {
		log.WarnContext(ctx, "ledger commit failed", "fingerprint", p.fingerprint, "location", location, "error", err)
		res.Outcome = models.OutcomeStorageFailed
		res.Location = location
		res.Reason = "dedup ledger commit failed: " + err.Error()
		return res
	}

	res.Outcome = models.OutcomeAccepted
	res.Location = location

	ev := models.AcceptanceEvent{
		EventType:   models.EventTypeRecordAccepted,
		Fingerprint: p.fingerprint,
		Location:    location,
		RecordKind:  b.Kind,
		SourceTag:   b.Source,
		RecordID:    p.recordID,
		StoredAt:    o.now().UTC(),
	}
	if err := o.announce(work, ev); err != nil {
		log.WarnContext(ctx, "publish failed; left for reconciliation", "fingerprint", p.fingerprint, "location", location, "error", err)
		res.PublishError = err.Error()
	}
	return res
}

// announce publishes ev and records the publish marker.
func (o *Orchestrator) announce(ctx context.Context, ev models.AcceptanceEvent) error {
	pctx, cancel := context.WithTimeout(ctx, o.publishTimeout)
	defer cancel()
	if _, err := o.publisher.Publish(pctx, ev); err != nil {
		return err
	}
	if err := o.ledger.MarkPublished(ctx, ev.Fingerprint); err != nil {
		// The event went out; a missing marker only means a redelivery later.
		o.log.WarnContext(ctx, "publish marker not recorded", "fingerprint", ev.Fingerprint, "error", err)
	}
	return nil
}

func summarize(b Batch, results []models.RecordResult) *models.BatchResponse {
	resp := &models.BatchResponse{
		BatchID:    b.BatchID,
		RecordKind: b.Kind,
		Source:     b.Source,
		Details:    results,
	}
	for _, r := range results {
		switch r.Outcome {
		case models.OutcomeAccepted:
			resp.Accepted++
		case models.OutcomeDuplicate:
			resp.Duplicates++
		case models.OutcomeRejected:
			resp.Rejected++
		case models.OutcomeStorageFailed:
			resp.StorageFailures++
		}
		if r.PublishError != "" {
			resp.PublishFailures++
		}
	}
	return resp
}
