package custody

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryKeyspace salts the per-event advisory lock keys so they cannot
// collide with locks taken by other subsystems on the same database.
const advisoryKeyspace = int64(0x45445243) // "EDRC"

// PostgresStore persists custody chains to PostgreSQL. It implements
// ChainStore; the custody_log table carries unique constraints on entry_id
// and entry_hash and a composite (event_id, ts) ordering index.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// advisoryLockKey derives a stable int64 lock key for an event's chain.
func advisoryLockKey(eventID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(eventID)) //nolint:errcheck
	return advisoryKeyspace ^ int64(h.Sum64())
}

const entryColumns = `entry_id, ts, event_id, action, actor, actor_type, actor_details,
	 location, details, previous_hash, entry_hash, hash_algorithm, verified, created_at`

// Insert implements ChainStore. The tail re-check and the write run inside a
// single transaction guarded by a per-event advisory lock, so concurrent
// appends against the same chain — even from separate server instances —
// serialize at the database. The lock releases when the transaction ends.
func (s *PostgresStore) Insert(ctx context.Context, e *Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin custody tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey(e.EventID)); err != nil {
		return fmt.Errorf("acquire chain lock: %w", err)
	}

	// Re-check the chain tail now that the lock is held. A moved tail means
	// another append won the race; the caller retries with fresh state.
	tail := Genesis
	err = tx.QueryRow(ctx,
		`SELECT entry_hash FROM custody_log WHERE event_id = $1 ORDER BY ts DESC LIMIT 1`,
		e.EventID,
	).Scan(&tail)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read chain tail: %w", err)
	}
	if e.PreviousHash != tail {
		return ErrTailConflict
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO custody_log (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.EntryID, e.Timestamp, e.EventID, e.Action, e.Actor, e.ActorType, e.ActorDetails,
		e.Location, e.Details, e.PreviousHash, e.EntryHash, e.HashAlgorithm, e.Verified, e.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateEntry, pgErr.ConstraintName)
		}
		return fmt.Errorf("insert custody entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit custody entry: %w", err)
	}

	s.logger.Debug("custody entry persisted",
		zap.String("entry_id", e.EntryID),
		zap.String("event_id", e.EventID),
		zap.String("action", string(e.Action)),
	)
	return nil
}

// FindMostRecent implements ChainStore.
func (s *PostgresStore) FindMostRecent(ctx context.Context, eventID string) (*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM custody_log WHERE event_id = $1 ORDER BY ts DESC LIMIT 1`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chain tail: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return e, rows.Err()
}

// FindAllOrdered implements ChainStore.
func (s *PostgresStore) FindAllOrdered(ctx context.Context, eventID string) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM custody_log WHERE event_id = $1 ORDER BY ts ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query custody chain: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows pgx.Rows) (*Entry, error) {
	e := &Entry{}
	if err := rows.Scan(
		&e.EntryID, &e.Timestamp, &e.EventID, &e.Action, &e.Actor, &e.ActorType, &e.ActorDetails,
		&e.Location, &e.Details, &e.PreviousHash, &e.EntryHash, &e.HashAlgorithm, &e.Verified, &e.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan custody entry: %w", err)
	}
	return e, nil
}
