// Package ledger records which fingerprints have been accepted.
//
// An entry moves reserved -> committed, or reserved -> failed when the
// store write fails. A failed entry, or a reserved entry older than the
// reservation TTL, may be reserved again; the new writer reuses the entry's
// original object key so a write that landed before the crash is found.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

var (
	ErrNotFound = errors.New("ledger: entry not found")
	// ErrNotReserved means the caller's reservation token no longer owns
	// the entry, usually because it was reclaimed as stale.
	ErrNotReserved = errors.New("ledger: reservation not held")
)

// DefaultReservationTTL bounds how long an unconfirmed reservation blocks
// other writers.
const DefaultReservationTTL = 2 * time.Minute

// Status tags a ledger entry.
type Status string

const (
	StatusReserved  Status = "reserved"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Entry is the acceptance metadata for one fingerprint.
type Entry struct {
	Fingerprint string      `json:"fingerprint"`
	Status      Status      `json:"status"`
	Key         string      `json:"key"`
	Location    string      `json:"location,omitempty"`
	RecordKind  models.Kind `json:"record_kind"`
	SourceTag   string      `json:"source_tag"`
	RecordID    string      `json:"record_id,omitempty"`
	Token       string      `json:"-"`
	ReservedAt  time.Time   `json:"reserved_at"`
	CommittedAt time.Time   `json:"committed_at"`
	PublishedAt time.Time   `json:"published_at"`
}

// Reservation is a request to become the writer of a fingerprint.
type Reservation struct {
	Fingerprint string
	Key         string
	RecordKind  models.Kind
	SourceTag   string
	RecordID    string
	Token       string
}

// Decision is the result of Reserve. When New is true the caller owns the
// entry under Token and must write Key, then Commit or Release. Otherwise
// Existing describes the entry that won.
type Decision struct {
	New      bool
	Token    string
	Key      string
	Existing Entry
}

// Ledger is the dedup ledger. Reserve must be atomic across processes.
type Ledger interface {
	Reserve(ctx context.Context, r Reservation) (Decision, error)
	Commit(ctx context.Context, fingerprint, token, location string) error
	Release(ctx context.Context, fingerprint, token string) error
	MarkPublished(ctx context.Context, fingerprint string) error
	Get(ctx context.Context, fingerprint string) (Entry, error)
	ListUnpublished(ctx context.Context, limit int) ([]Entry, error)
	ReclaimStale(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// prepare checks a reservation and assigns a fresh token when none is set.
func prepare(r Reservation) (Reservation, error) {
	if r.Fingerprint == "" || r.Key == "" {
		return r, errors.New("ledger: fingerprint and key required")
	}
	if r.Token == "" {
		r.Token = uuid.NewString()
	}
	return r, nil
}
