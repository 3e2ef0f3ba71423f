package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCache stores generated reports in the cached_reports table.
type PostgresCache struct {
	db *pgxpool.Pool
}

// NewPostgresCache creates a PostgresCache backed by the given pool.
func NewPostgresCache(db *pgxpool.Pool) *PostgresCache {
	return &PostgresCache{db: db}
}

// Put implements Cache.
func (c *PostgresCache) Put(ctx context.Context, r *Report) error {
	_, err := c.db.Exec(ctx,
		`INSERT INTO cached_reports (report_id, report_type, generated_at, data)
		 VALUES ($1, $2, $3, $4)`,
		r.ReportID, r.ReportType, r.GeneratedAt, r.Data,
	)
	if err != nil {
		return fmt.Errorf("cache report: %w", err)
	}
	return nil
}

// Get implements Cache.
func (c *PostgresCache) Get(ctx context.Context, reportID string) (*Report, error) {
	r := &Report{Cached: true}
	err := c.db.QueryRow(ctx,
		`SELECT report_id, report_type, generated_at, data
		 FROM cached_reports WHERE report_id = $1`, reportID,
	).Scan(&r.ReportID, &r.ReportType, &r.GeneratedAt, &r.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached report: %w", err)
	}
	return r, nil
}

// Recent implements Cache.
func (c *PostgresCache) Recent(ctx context.Context, limit int) ([]*Report, error) {
	rows, err := c.db.Query(ctx,
		`SELECT report_id, report_type, generated_at, data
		 FROM cached_reports ORDER BY generated_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list cached reports: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r := &Report{Cached: true}
		if err := rows.Scan(&r.ReportID, &r.ReportType, &r.GeneratedAt, &r.Data); err != nil {
			return nil, fmt.Errorf("scan cached report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// DeleteOlderThan implements Cache.
func (c *PostgresCache) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := c.db.Exec(ctx,
		`DELETE FROM cached_reports WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune cached reports: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
