package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is a process-local Ledger. A single mutex makes Reserve
// atomic; it dedups across goroutines, not across processes.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
	failErr error
}

// NewMemoryLedger returns an empty ledger. ttl <= 0 uses the default.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &MemoryLedger{entries: map[string]*Entry{}, ttl: ttl, now: time.Now}
}

var _ Ledger = (*MemoryLedger)(nil)

// SetClock replaces time.Now.
func (l *MemoryLedger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Fail makes every call return err until cleared with nil.
func (l *MemoryLedger) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func (l *MemoryLedger) reclaimable(e *Entry, now time.Time) bool {
	switch e.Status {
	case StatusFailed:
		return true
	case StatusReserved:
		return e.ReservedAt.Before(now.Add(-l.ttl))
	default:
		return false
	}
}

func (l *MemoryLedger) Reserve(ctx context.Context, r Reservation) (Decision, error) {
	r, err := prepare(r)
	if err != nil {
		return Decision{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return Decision{}, l.failErr
	}

	now := l.now().UTC()
	e, ok := l.entries[r.Fingerprint]
	if !ok {
		l.entries[r.Fingerprint] = &Entry{
			Fingerprint: r.Fingerprint,
			Status:      StatusReserved,
			Key:         r.Key,
			RecordKind:  r.RecordKind,
			SourceTag:   r.SourceTag,
			RecordID:    r.RecordID,
			Token:       r.Token,
			ReservedAt:  now,
		}
		return Decision{New: true, Token: r.Token, Key: r.Key}, nil
	}
	if l.reclaimable(e, now) {
		e.Status = StatusReserved
		e.Token = r.Token
		e.ReservedAt = now
		return Decision{New: true, Token: r.Token, Key: e.Key}, nil
	}
	return Decision{Existing: *e}, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, fingerprint, token, location string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	e, ok := l.entries[fingerprint]
	if !ok || e.Status != StatusReserved || e.Token != token {
		return ErrNotReserved
	}
	e.Status = StatusCommitted
	e.Location = location
	e.CommittedAt = l.now().UTC()
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, fingerprint, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	e, ok := l.entries[fingerprint]
	if !ok || e.Status != StatusReserved || e.Token != token {
		return ErrNotReserved
	}
	e.Status = StatusFailed
	return nil
}

func (l *MemoryLedger) MarkPublished(ctx context.Context, fingerprint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return l.failErr
	}
	e, ok := l.entries[fingerprint]
	if !ok {
		return ErrNotFound
	}
	if e.Status == StatusCommitted && e.PublishedAt.IsZero() {
		e.PublishedAt = l.now().UTC()
	}
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, fingerprint string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return Entry{}, l.failErr
	}
	e, ok := l.entries[fingerprint]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

func (l *MemoryLedger) ListUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return nil, l.failErr
	}
	var out []Entry
	for _, e := range l.entries {
		if e.Status == StatusCommitted && e.PublishedAt.IsZero() {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt.Before(out[j].CommittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) ReclaimStale(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return 0, l.failErr
	}
	now := l.now().UTC()
	n := 0
	for _, e := range l.entries {
		if e.Status == StatusReserved && l.reclaimable(e, now) {
			e.Status = StatusFailed
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failErr
}

func (l *MemoryLedger) Close() error { return nil }
