package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// SQLiteLedger is the single-node ledger. Timestamps are stored as Unix
// nanoseconds; 0 means unset.
type SQLiteLedger struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteLedger opens (creating if needed) the database at dbPath.
func NewSQLiteLedger(dbPath string, ttl time.Duration) (*SQLiteLedger, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; Reserve's upsert is then trivially atomic.
	db.SetMaxOpenConns(1)

	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	l := &SQLiteLedger{db: db, ttl: ttl, now: time.Now}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

var _ Ledger = (*SQLiteLedger)(nil)

func (l *SQLiteLedger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS dedup_ledger (
			fingerprint  TEXT PRIMARY KEY,
			status       TEXT NOT NULL CHECK (status IN ('reserved', 'committed', 'failed')),
			object_key   TEXT NOT NULL,
			location     TEXT NOT NULL DEFAULT '',
			record_kind  TEXT NOT NULL,
			source_tag   TEXT NOT NULL,
			record_id    TEXT NOT NULL DEFAULT '',
			token        TEXT NOT NULL,
			reserved_at  INTEGER NOT NULL,
			committed_at INTEGER NOT NULL DEFAULT 0,
			published_at INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_status ON dedup_ledger(status, published_at);
	`)
	return err
}

// SetClock replaces time.Now.
func (l *SQLiteLedger) SetClock(now func() time.Time) { l.now = now }

func (l *SQLiteLedger) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

func (l *SQLiteLedger) Close() error { return l.db.Close() }

func (l *SQLiteLedger) Reserve(ctx context.Context, r Reservation) (Decision, error) {
	r, err := prepare(r)
	if err != nil {
		return Decision{}, err
	}
	now := l.now().UTC()

	var key string
	err = l.db.QueryRowContext(ctx, `
		INSERT INTO dedup_ledger(fingerprint, status, object_key, record_kind, source_tag, record_id, token, reserved_at)
		VALUES (?, 'reserved', ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE
			SET status = 'reserved', token = excluded.token, reserved_at = excluded.reserved_at
			WHERE dedup_ledger.status = 'failed'
			   OR (dedup_ledger.status = 'reserved' AND dedup_ledger.reserved_at < ?)
		RETURNING object_key
	`, r.Fingerprint, r.Key, string(r.RecordKind), r.SourceTag, r.RecordID, r.Token, now.UnixNano(), now.Add(-l.ttl).UnixNano()).Scan(&key)

	if err == nil {
		return Decision{New: true, Token: r.Token, Key: key}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Decision{}, err
	}

	existing, err := l.Get(ctx, r.Fingerprint)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Existing: existing}, nil
}

func (l *SQLiteLedger) Commit(ctx context.Context, fingerprint, token, location string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE dedup_ledger SET status = 'committed', location = ?, committed_at = ?
		WHERE fingerprint = ? AND token = ? AND status = 'reserved'
	`, location, l.now().UTC().UnixNano(), fingerprint, token)
	return expectOne(res, err)
}

func (l *SQLiteLedger) Release(ctx context.Context, fingerprint, token string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE dedup_ledger SET status = 'failed'
		WHERE fingerprint = ? AND token = ? AND status = 'reserved'
	`, fingerprint, token)
	return expectOne(res, err)
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotReserved
	}
	return nil
}

func (l *SQLiteLedger) MarkPublished(ctx context.Context, fingerprint string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE dedup_ledger SET published_at = ?
		WHERE fingerprint = ? AND status = 'committed' AND published_at = 0
	`, l.now().UTC().UnixNano(), fingerprint)
	return err
}

const sqliteSelectEntry = `
	SELECT fingerprint, status, object_key, location, record_kind, source_tag, record_id, token,
	       reserved_at, committed_at, published_at
	FROM dedup_ledger`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		e                              Entry
		status, kind                   string
		reserved, committed, published int64
	)
	if err := row.Scan(&e.Fingerprint, &status, &e.Key, &e.Location, &kind, &e.SourceTag, &e.RecordID, &e.Token,
		&reserved, &committed, &published); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.RecordKind = models.Kind(kind)
	e.ReservedAt = fromNanos(reserved)
	e.CommittedAt = fromNanos(committed)
	e.PublishedAt = fromNanos(published)
	return e, nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (l *SQLiteLedger) Get(ctx context.Context, fingerprint string) (Entry, error) {
	e, err := scanSQLiteEntry(l.db.QueryRowContext(ctx, sqliteSelectEntry+` WHERE fingerprint = ?`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (l *SQLiteLedger) ListUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := l.db.QueryContext(ctx, sqliteSelectEntry+`
		WHERE status = 'committed' AND published_at = 0
		ORDER BY committed_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) ReclaimStale(ctx context.Context) (int, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE dedup_ledger SET status = 'failed'
		WHERE status = 'reserved' AND reserved_at < ?
	`, l.now().UTC().Add(-l.ttl).UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
