package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

const testTTL = time.Minute

// clocked ledgers let tests move time past the reservation TTL.
type clocked interface {
	Ledger
	SetClock(func() time.Time)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newFingerprint returns a unique, well-formed fingerprint so runs against
// a shared database never collide.
func newFingerprint() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])
}

func reservation(fp, key string) Reservation {
	return Reservation{
		Fingerprint: fp,
		Key:         key,
		RecordKind:  models.KindTransaction,
		SourceTag:   "core-banking",
		RecordID:    "txn_1",
	}
}

type factory func(t *testing.T) clocked

func backends(t *testing.T) map[string]factory {
	t.Helper()
	out := map[string]factory{
		"memory": func(t *testing.T) clocked { return NewMemoryLedger(testTTL) },
		"sqlite": func(t *testing.T) clocked {
			l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), testTTL)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
	}
	if dbURL := os.Getenv("LEDGER_TEST_DB_URL"); dbURL != "" {
		out["postgres"] = func(t *testing.T) clocked {
			l, err := NewPostgresLedger(dbURL, testTTL)
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			if err := l.EnsureSchema(context.Background()); err != nil {
				t.Fatalf("schema: %v", err)
			}
			t.Cleanup(func() { _ = l.Close() })
			return l
		}
	}
	return out
}

func withClock(l clocked) *fakeClock {
	c := &fakeClock{now: time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)}
	l.SetClock(c.Now)
	return c
}

func TestLedger(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("ReserveThenDuplicate", func(t *testing.T) { testReserveThenDuplicate(t, open(t)) })
			t.Run("CommitRequiresToken", func(t *testing.T) { testCommitRequiresToken(t, open(t)) })
			t.Run("ReleaseAllowsRetryOnOriginalKey", func(t *testing.T) { testReleaseAllowsRetry(t, open(t)) })
			t.Run("StaleReservationIsTakenOver", func(t *testing.T) { testStaleTakeover(t, open(t)) })
			t.Run("ReclaimStale", func(t *testing.T) { testReclaimStale(t, open(t)) })
			t.Run("Unpublished", func(t *testing.T) { testUnpublished(t, open(t)) })
			t.Run("ConcurrentReserve", func(t *testing.T) { testConcurrentReserve(t, open(t)) })
			t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, open(t)) })
		})
	}
}

func testReserveThenDuplicate(t *testing.T, l clocked) {
	ctx := context.Background()
	withClock(l)
	fp := newFingerprint()

	d, err := l.Reserve(ctx, reservation(fp, "k1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !d.New || d.Token == "" || d.Key != "k1" {
		t.Fatalf("unexpected decision %+v", d)
	}

	dup, err := l.Reserve(ctx, reservation(fp, "k2"))
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if dup.New || dup.Existing.Status != StatusReserved || dup.Existing.Key != "k1" {
		t.Fatalf("in-flight reservation not reported: %+v", dup)
	}

	if err := l.Commit(ctx, fp, d.Token, "mem://k1"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	dup, err = l.Reserve(ctx, reservation(fp, "k3"))
	if err != nil {
		t.Fatalf("third reserve: %v", err)
	}
	if dup.New || dup.Existing.Status != StatusCommitted || dup.Existing.Location != "mem://k1" {
		t.Fatalf("committed entry not reported: %+v", dup)
	}
	if dup.Existing.RecordKind != models.KindTransaction || dup.Existing.SourceTag != "core-banking" || dup.Existing.RecordID != "txn_1" {
		t.Fatalf("entry metadata lost: %+v", dup.Existing)
	}
}

func testCommitRequiresToken(t *testing.T, l clocked) {
	ctx := context.Background()
	withClock(l)
	fp := newFingerprint()

	d, err := l.Reserve(ctx, reservation(fp, "k1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Commit(ctx, fp, "not-the-token", "loc"); !errors.Is(err, ErrNotReserved) {
		t.Fatalf("foreign token committed: %v", err)
	}
	if err := l.Commit(ctx, fp, d.Token, "loc"); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := l.Commit(ctx, fp, d.Token, "loc"); !errors.Is(err, ErrNotReserved) {
		t.Fatalf("double commit allowed: %v", err)
	}
	if err := l.Release(ctx, fp, d.Token); !errors.Is(err, ErrNotReserved) {
		t.Fatalf("committed entry released: %v", err)
	}
}

func testReleaseAllowsRetry(t *testing.T, l clocked) {
	ctx := context.Background()
	clock := withClock(l)
	fp := newFingerprint()

	d, err := l.Reserve(ctx, reservation(fp, "src/transaction/2025-01-02/"+fp))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Release(ctx, fp, d.Token); err != nil {
		t.Fatalf("release: %v", err)
	}
	e, err := l.Get(ctx, fp)
	if err != nil || e.Status != StatusFailed {
		t.Fatalf("entry after release = %+v, %v", e, err)
	}

	// The retry arrives a day later and would pick a new key.
	clock.Advance(24 * time.Hour)
	retry, err := l.Reserve(ctx, reservation(fp, "src/transaction/2025-01-03/"+fp))
	if err != nil {
		t.Fatalf("retry reserve: %v", err)
	}
	if !retry.New || retry.Token == d.Token {
		t.Fatalf("failed entry not reclaimed: %+v", retry)
	}
	if retry.Key != "src/transaction/2025-01-02/"+fp {
		t.Fatalf("retry did not reuse original key: %q", retry.Key)
	}
}

func testStaleTakeover(t *testing.T, l clocked) {
	ctx := context.Background()
	clock := withClock(l)
	fp := newFingerprint()

	first, err := l.Reserve(ctx, reservation(fp, "k1"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	clock.Advance(testTTL / 2)
	if d, _ := l.Reserve(ctx, reservation(fp, "k2")); d.New {
		t.Fatal("live reservation was taken over")
	}

	clock.Advance(testTTL)
	second, err := l.Reserve(ctx, reservation(fp, "k2"))
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if !second.New || second.Key != "k1" {
		t.Fatalf("stale reservation not taken over on original key: %+v", second)
	}

	if err := l.Commit(ctx, fp, first.Token, "loc"); !errors.Is(err, ErrNotReserved) {
		t.Fatalf("stale writer still committed: %v", err)
	}
	if err := l.Commit(ctx, fp, second.Token, "loc"); err != nil {
		t.Fatalf("new writer commit: %v", err)
	}
}

func testReclaimStale(t *testing.T, l clocked) {
	ctx := context.Background()
	clock := withClock(l)

	stale := newFingerprint()
	if _, err := l.Reserve(ctx, reservation(stale, "k-stale")); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	clock.Advance(2 * testTTL)

	fresh := newFingerprint()
	if _, err := l.Reserve(ctx, reservation(fresh, "k-fresh")); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	n, err := l.ReclaimStale(ctx)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n < 1 {
		t.Fatalf("reclaimed %d entries", n)
	}

	if e, _ := l.Get(ctx, stale); e.Status != StatusFailed {
		t.Fatalf("stale entry status = %s", e.Status)
	}
	if e, _ := l.Get(ctx, fresh); e.Status != StatusReserved {
		t.Fatalf("fresh entry status = %s", e.Status)
	}
}

func testUnpublished(t *testing.T, l clocked) {
	ctx := context.Background()
	clock := withClock(l)

	var fps []string
	for i := 0; i < 3; i++ {
		fp := newFingerprint()
		d, err := l.Reserve(ctx, reservation(fp, "k-"+fp))
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := l.Commit(ctx, fp, d.Token, "loc-"+fp); err != nil {
			t.Fatalf("commit: %v", err)
		}
		clock.Advance(time.Second)
		fps = append(fps, fp)
	}

	if err := l.MarkPublished(ctx, fps[1]); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	e, err := l.Get(ctx, fps[1])
	if err != nil || e.PublishedAt.IsZero() {
		t.Fatalf("published_at not set: %+v, %v", e, err)
	}

	pending, err := l.ListUnpublished(ctx, 1000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[string]bool{}
	for _, e := range pending {
		got[e.Fingerprint] = true
	}
	if !got[fps[0]] || got[fps[1]] || !got[fps[2]] {
		t.Fatalf("unexpected unpublished set %v", got)
	}
}

func testConcurrentReserve(t *testing.T, l clocked) {
	ctx := context.Background()
	withClock(l)
	fp := newFingerprint()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Reserve(ctx, reservation(fp, "k1"))
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if d.New {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func testGetMissing(t *testing.T, l clocked) {
	if _, err := l.Get(context.Background(), newFingerprint()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryLedger_Fail(t *testing.T) {
	l := NewMemoryLedger(0)
	boom := errors.New("ledger down")
	l.Fail(boom)

	if _, err := l.Reserve(context.Background(), reservation(newFingerprint(), "k")); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if err := l.Ping(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("ping = %v", err)
	}
	l.Fail(nil)
	if err := l.Ping(context.Background()); err != nil {
		t.Fatalf("ping after recovery = %v", err)
	}
}

func TestReserve_RequiresFingerprintAndKey(t *testing.T) {
	l := NewMemoryLedger(0)
	if _, err := l.Reserve(context.Background(), Reservation{Key: "k"}); err == nil {
		t.Fatal("reservation without fingerprint accepted")
	}
	if _, err := l.Reserve(context.Background(), Reservation{Fingerprint: newFingerprint()}); err == nil {
		t.Fatal("reservation without key accepted")
	}
}
