package ledger

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresLedger keeps the ledger in Postgres. Reserve is one upsert, so
// the primary key on fingerprint serialises concurrent writers across
// every replica.
type PostgresLedger struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewPostgresLedger creates a connection pool and fails fast if DB is unreachable.
func NewPostgresLedger(dbURL string, ttl time.Duration) (*PostgresLedger, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &PostgresLedger{pool: pool, ttl: ttl, now: time.Now}, nil
}

var _ Ledger = (*PostgresLedger)(nil)

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresLedger) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresLedger) Close() error {
	p.pool.Close()
	return nil
}

// SetClock replaces time.Now. Not safe to call while requests are in flight.
func (p *PostgresLedger) SetClock(now func() time.Time) { p.now = now }

// Reserve inserts a reserved row, or takes over a failed or stale one.
//
// RETURNING yields a row only when this call inserted or took over; a live
// conflicting row produces no rows and the caller sees a duplicate.
func (p *PostgresLedger) Reserve(ctx context.Context, r Reservation) (Decision, error) {
	r, err := prepare(r)
	if err != nil {
		return Decision{}, err
	}
	now := p.now().UTC()

	var key string
	err = p.pool.QueryRow(ctx, `
		INSERT INTO dedup_ledger(fingerprint, status, object_key, record_kind, source_tag, record_id, token, reserved_at)
		VALUES ($1,'reserved',$2,$3,$4,$5,$6,$7)
		ON CONFLICT (fingerprint) DO UPDATE
			SET status = 'reserved', token = EXCLUDED.token, reserved_at = EXCLUDED.reserved_at
			WHERE dedup_ledger.status = 'failed'
			   OR (dedup_ledger.status = 'reserved' AND dedup_ledger.reserved_at < $8)
		RETURNING object_key
	`, r.Fingerprint, r.Key, string(r.RecordKind), r.SourceTag, r.RecordID, r.Token, now, now.Add(-p.ttl)).Scan(&key)

	if err == nil {
		return Decision{New: true, Token: r.Token, Key: key}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, err
	}

	existing, err := p.Get(ctx, r.Fingerprint)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Existing: existing}, nil
}

// Commit confirms a reservation once the object is stored.
func (p *PostgresLedger) Commit(ctx context.Context, fingerprint, token, location string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE dedup_ledger
		SET status = 'committed', location = $3, committed_at = $4
		WHERE fingerprint = $1 AND token = $2 AND status = 'reserved'
	`, fingerprint, token, location, p.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotReserved
	}
	return nil
}

// Release marks a reservation failed so the fingerprint can be retried.
func (p *PostgresLedger) Release(ctx context.Context, fingerprint, token string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE dedup_ledger SET status = 'failed'
		WHERE fingerprint = $1 AND token = $2 AND status = 'reserved'
	`, fingerprint, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotReserved
	}
	return nil
}

// MarkPublished records the first successful publish. Repeats are no-ops.
func (p *PostgresLedger) MarkPublished(ctx context.Context, fingerprint string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE dedup_ledger SET published_at = $2
		WHERE fingerprint = $1 AND status = 'committed' AND published_at IS NULL
	`, fingerprint, p.now().UTC())
	return err
}

const selectEntry = `
	SELECT fingerprint, status, object_key, location, record_kind, source_tag, record_id, token,
	       reserved_at, committed_at, published_at
	FROM dedup_ledger`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e                    Entry
		status, kind         string
		committed, published *time.Time
	)
	if err := row.Scan(&e.Fingerprint, &status, &e.Key, &e.Location, &kind, &e.SourceTag, &e.RecordID, &e.Token,
		&e.ReservedAt, &committed, &published); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.RecordKind = models.Kind(kind)
	e.ReservedAt = e.ReservedAt.UTC()
	if committed != nil {
		e.CommittedAt = committed.UTC()
	}
	if published != nil {
		e.PublishedAt = published.UTC()
	}
	return e, nil
}

func (p *PostgresLedger) Get(ctx context.Context, fingerprint string) (Entry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, selectEntry+` WHERE fingerprint = $1`, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// ListUnpublished returns committed entries without a publish marker,
// oldest first. This is the reconciliation input.
func (p *PostgresLedger) ListUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, selectEntry+`
		WHERE status = 'committed' AND published_at IS NULL
		ORDER BY committed_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReclaimStale marks reservations older than the TTL failed.
func (p *PostgresLedger) ReclaimStale(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE dedup_ledger SET status = 'failed'
		WHERE status = 'reserved' AND reserved_at < $1
	`, p.now().UTC().Add(-p.ttl))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
