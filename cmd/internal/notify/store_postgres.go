package notify

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "herald/shared/contracts/notify/v1"
)

// PostgresStore is a HistoryStore backed by PostgreSQL, for deployments that
// already run Postgres and do not want a Redis dependency.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Schema (managed externally, not migrated here):
//   - <schema>.notifications(wallet, id PK, kind, data, created_at)
//   - <schema>.notification_counters(wallet PK, unread)
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "herald").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("notify: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("notify: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed HistoryStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "herald",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("notify: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append inserts one envelope. Duplicate ids are ignored so a retried
// producer call cannot double-store.
func (s *PostgresStore) Append(ctx context.Context, wallet string, n v1.Notification) error {
	if s == nil || s.pool == nil {
		return errors.New("notify: nil store")
	}
	if wallet == "" || n.ID == "" {
		return errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	notifications := pgIdent(s.schema, "notifications")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+notifications+` (wallet, id, kind, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		wallet, n.ID, n.Kind, []byte(n.Data), n.Timestamp.UTC(),
	)
	return err
}

// TrimToLast deletes everything but the wallet's n most recent envelopes.
func (s *PostgresStore) TrimToLast(ctx context.Context, wallet string, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}

	notifications := pgIdent(s.schema, "notifications")
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+notifications+`
		 WHERE wallet = $1 AND id NOT IN (
		   SELECT id FROM `+notifications+`
		   WHERE wallet = $1
		   ORDER BY created_at DESC, id DESC
		   LIMIT $2
		 )`,
		wallet, n,
	)
	return err
}

// IncrementUnread bumps the wallet's unread counter.
func (s *PostgresStore) IncrementUnread(ctx context.Context, wallet string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	counters := pgIdent(s.schema, "notification_counters")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+counters+` (wallet, unread) VALUES ($1, 1)
		 ON CONFLICT (wallet) DO UPDATE SET unread = `+counters+`.unread + 1`,
		wallet,
	)
	return err
}

// DecrementUnread lowers the unread counter, clamped at zero.
func (s *PostgresStore) DecrementUnread(ctx context.Context, wallet string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	counters := pgIdent(s.schema, "notification_counters")
	_, err := s.pool.Exec(ctx,
		`UPDATE `+counters+` SET unread = GREATEST(unread - 1, 0) WHERE wallet = $1`,
		wallet,
	)
	return err
}

// GetRecent returns a newest-first page plus the unread and total counts.
func (s *PostgresStore) GetRecent(ctx context.Context, wallet string, offset, limit int) (RecentPage, error) {
	if err := ctx.Err(); err != nil {
		return RecentPage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	notifications := pgIdent(s.schema, "notifications")
	counters := pgIdent(s.schema, "notification_counters")

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, data, created_at FROM `+notifications+`
		 WHERE wallet = $1
		 ORDER BY created_at DESC, id DESC
		 OFFSET $2 LIMIT $3`,
		wallet, offset, limit,
	)
	if err != nil {
		return RecentPage{}, err
	}
	defer rows.Close()

	var page RecentPage
	for rows.Next() {
		var n v1.Notification
		var data []byte
		if err := rows.Scan(&n.ID, &n.Kind, &data, &n.Timestamp); err != nil {
			return RecentPage{}, err
		}
		n.Data = data
		page.Items = append(page.Items, n)
	}
	if err := rows.Err(); err != nil {
		return RecentPage{}, err
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+notifications+` WHERE wallet = $1`, wallet,
	).Scan(&page.Total); err != nil {
		return RecentPage{}, err
	}

	err = s.pool.QueryRow(ctx,
		`SELECT unread FROM `+counters+` WHERE wallet = $1`, wallet,
	).Scan(&page.Unread)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	return page, err
}

// SetTTL purges envelopes older than ttl. Postgres has no per-key expiry, so
// retention is enforced at write time instead of by the server.
func (s *PostgresStore) SetTTL(ctx context.Context, wallet string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	notifications := pgIdent(s.schema, "notifications")
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+notifications+` WHERE wallet = $1 AND created_at < $2`,
		wallet, time.Now().UTC().Add(-ttl),
	)
	return err
}

// ---- identifier quoting ----

var pgIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent builds a quoted schema-qualified identifier from validated parts.
func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}
