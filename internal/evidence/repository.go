package evidence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an event lookup finds no matching record.
var ErrNotFound = errors.New("evidence: event not found")

// ErrDuplicateEvent is returned when an upload carries an event_id that is
// already stored.
var ErrDuplicateEvent = errors.New("evidence: event already exists")

// Repository provides crash-event persistence against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository backed by the given pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const eventColumns = `event_id, ts, crash_description, crash_type, severity,
	 latitude, longitude, address, calculated_values, metadata, created_at`

// InsertEvent stores a crash event and, when present, its raw telemetry
// buffer, in a single transaction.
func (r *Repository) InsertEvent(ctx context.Context, ev *CrashEvent) error {
	ev.CreatedAt = time.Now().UTC()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO crash_events (id, `+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New(), ev.EventID, ev.Timestamp, ev.CrashDescription, ev.CrashType, ev.Severity,
		ev.Location.Latitude, ev.Location.Longitude, ev.Location.Address,
		ev.CalculatedValues, ev.Metadata, ev.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert crash event: %w", err)
	}

	if len(ev.RawData) > 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO raw_telemetry (id, event_id, ts, telemetry, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), ev.EventID, ev.Timestamp, ev.RawData, ev.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert telemetry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit evidence: %w", err)
	}
	return nil
}

// GetByEventID retrieves a crash event without its telemetry buffer.
func (r *Repository) GetByEventID(ctx context.Context, eventID string) (*CrashEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM crash_events WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query crash event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanEvent(rows)
}

// GetTelemetry retrieves the raw telemetry buffer for an event, or nil when
// the upload carried none.
func (r *Repository) GetTelemetry(ctx context.Context, eventID string) ([]TelemetryRecord, error) {
	var records []TelemetryRecord
	err := r.db.QueryRow(ctx,
		`SELECT telemetry FROM raw_telemetry WHERE event_id = $1`, eventID,
	).Scan(&records)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	return records, nil
}

// List returns crash events matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*CrashEvent, error) {
	q := `SELECT ` + eventColumns + ` FROM crash_events WHERE 1=1`
	args := []any{}
	n := 0
	if f.Severity != "" {
		n++
		q += fmt.Sprintf(" AND severity = $%d", n)
		args = append(args, f.Severity)
	}
	if f.StartDate != nil {
		n++
		q += fmt.Sprintf(" AND ts >= $%d", n)
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		n++
		q += fmt.Sprintf(" AND ts <= $%d", n)
		args = append(args, *f.EndDate)
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q += fmt.Sprintf(" ORDER BY ts DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, limit, f.Skip)

	return r.queryEvents(ctx, q, args...)
}

// Nearby returns crash events within radiusKM of the given point, ordered by
// great-circle distance. The haversine runs in SQL over plain lat/lon
// columns; result sets are capped at 100 rows.
func (r *Repository) Nearby(ctx context.Context, lat, lon, radiusKM float64) ([]*CrashEvent, error) {
	q := `SELECT ` + eventColumns + `,
		6371 * acos(
			least(1.0, cos(radians($1)) * cos(radians(latitude)) *
			cos(radians(longitude) - radians($2)) +
			sin(radians($1)) * sin(radians(latitude)))
		) AS distance_km
	 FROM crash_events
	 WHERE 6371 * acos(
			least(1.0, cos(radians($1)) * cos(radians(latitude)) *
			cos(radians(longitude) - radians($2)) +
			sin(radians($1)) * sin(radians(latitude)))
		) <= $3
	 ORDER BY distance_km ASC
	 LIMIT 100`

	rows, err := r.db.Query(ctx, q, lat, lon, radiusKM)
	if err != nil {
		return nil, fmt.Errorf("nearby query: %w", err)
	}
	defer rows.Close()

	var events []*CrashEvent
	for rows.Next() {
		ev := &CrashEvent{}
		var distance float64
		if err := rows.Scan(
			&ev.EventID, &ev.Timestamp, &ev.CrashDescription, &ev.CrashType, &ev.Severity,
			&ev.Location.Latitude, &ev.Location.Longitude, &ev.Location.Address,
			&ev.CalculatedValues, &ev.Metadata, &ev.CreatedAt, &distance,
		); err != nil {
			return nil, fmt.Errorf("scan nearby event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *Repository) queryEvents(ctx context.Context, q string, args ...any) ([]*CrashEvent, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query crash events: %w", err)
	}
	defer rows.Close()

	var events []*CrashEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(rows pgx.Rows) (*CrashEvent, error) {
	ev := &CrashEvent{}
	if err := rows.Scan(
		&ev.EventID, &ev.Timestamp, &ev.CrashDescription, &ev.CrashType, &ev.Severity,
		&ev.Location.Latitude, &ev.Location.Longitude, &ev.Location.Address,
		&ev.CalculatedValues, &ev.Metadata, &ev.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan crash event: %w", err)
	}
	return ev, nil
}
