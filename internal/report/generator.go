// Package report builds analytical summaries over stored crash events and
// caches them for dashboard retrieval.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/forensicedr/forensicedr/internal/evidence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type identifies a report flavor.
type Type string

const (
	TypeSeverity   Type = "severity"
	TypeTimeline   Type = "timeline"
	TypeGeographic Type = "geographic"
	TypeCrashType  Type = "crash_type"
	TypeImpact     Type = "impact"
)

// Valid reports whether t is a known report type.
func (t Type) Valid() bool {
	switch t {
	case TypeSeverity, TypeTimeline, TypeGeographic, TypeCrashType, TypeImpact:
		return true
	}
	return false
}

// ErrUnknownType is returned for report types outside the closed set.
var ErrUnknownType = errors.New("report: unknown report type")

// ErrNotFound is returned when a cached report lookup misses.
var ErrNotFound = errors.New("report: not found")

// Report is one generated analytical summary.
type Report struct {
	ReportID    string         `json:"report_id"`
	ReportType  Type           `json:"report_type"`
	GeneratedAt time.Time      `json:"generated_at"`
	Data        map[string]any `json:"data"`
	Cached      bool           `json:"cached"`
}

// Params narrows the event window a report covers.
type Params struct {
	StartDate *time.Time
	EndDate   *time.Time
}

// Source is the slice of the evidence store the generator reads.
type Source interface {
	List(ctx context.Context, f evidence.ListFilter) ([]*evidence.CrashEvent, error)
}

// Cache persists generated reports for later dashboard retrieval.
type Cache interface {
	Put(ctx context.Context, r *Report) error
	Get(ctx context.Context, reportID string) (*Report, error)
	Recent(ctx context.Context, limit int) ([]*Report, error)
	// DeleteOlderThan removes cached reports generated before the cutoff
	// and returns how many were dropped.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Generator computes reports from the evidence store.
type Generator struct {
	source Source
	cache  Cache // nil disables caching
	logger *zap.Logger
}

// NewGenerator creates a Generator. cache may be nil.
func NewGenerator(source Source, cache Cache, logger *zap.Logger) *Generator {
	return &Generator{source: source, cache: cache, logger: logger}
}

// Generate builds a report of the given type over the parameter window and,
// when save is set and a cache is configured, stores it.
func (g *Generator) Generate(ctx context.Context, t Type, p Params, save bool) (*Report, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	events, err := g.source.List(ctx, evidence.ListFilter{
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Limit:     1000,
	})
	if err != nil {
		return nil, fmt.Errorf("load events for %s report: %w", t, err)
	}

	var data map[string]any
	switch t {
	case TypeSeverity:
		data = severityData(events)
	case TypeTimeline:
		data = timelineData(events)
	case TypeGeographic:
		data = geographicData(events)
	case TypeCrashType:
		data = crashTypeData(events)
	case TypeImpact:
		data = impactData(events)
	}

	r := &Report{
		ReportID:    fmt.Sprintf("report_%s_%s", t, uuid.New().String()[:8]),
		ReportType:  t,
		GeneratedAt: time.Now().UTC(),
		Data:        data,
	}

	if save && g.cache != nil {
		if err := g.cache.Put(ctx, r); err != nil {
			// Caching is best-effort; the generated report is still good.
			g.logger.Warn("report cache write failed", zap.String("report_id", r.ReportID), zap.Error(err))
		} else {
			r.Cached = true
		}
	}
	return r, nil
}

// GetCached retrieves a previously generated report.
func (g *Generator) GetCached(ctx context.Context, reportID string) (*Report, error) {
	if g.cache == nil {
		return nil, ErrNotFound
	}
	return g.cache.Get(ctx, reportID)
}

// Recent returns the newest cached reports.
func (g *Generator) Recent(ctx context.Context, limit int) ([]*Report, error) {
	if g.cache == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return g.cache.Recent(ctx, limit)
}

func severityData(events []*evidence.CrashEvent) map[string]any {
	counts := map[string]int{}
	for _, ev := range events {
		counts[string(ev.Severity)]++
	}
	return map[string]any{"total": len(events), "by_severity": counts}
}

func timelineData(events []*evidence.CrashEvent) map[string]any {
	perDay := map[string]int{}
	for _, ev := range events {
		perDay[ev.Timestamp.UTC().Format("2006-01-02")]++
	}
	days := make([]string, 0, len(perDay))
	for d := range perDay {
		days = append(days, d)
	}
	sort.Strings(days)

	series := make([]map[string]any, 0, len(days))
	for _, d := range days {
		series = append(series, map[string]any{"date": d, "count": perDay[d]})
	}
	return map[string]any{"total": len(events), "series": series}
}

func geographicData(events []*evidence.CrashEvent) map[string]any {
	points := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		points = append(points, map[string]any{
			"event_id":  ev.EventID,
			"latitude":  ev.Location.Latitude,
			"longitude": ev.Location.Longitude,
			"severity":  string(ev.Severity),
		})
	}
	return map[string]any{"total": len(events), "points": points}
}

func crashTypeData(events []*evidence.CrashEvent) map[string]any {
	counts := map[string]int{}
	for _, ev := range events {
		counts[string(ev.CrashType)]++
	}
	return map[string]any{"total": len(events), "by_crash_type": counts}
}

func impactData(events []*evidence.CrashEvent) map[string]any {
	samples := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		if ev.CalculatedValues.ImpactForceG == nil {
			continue
		}
		samples = append(samples, map[string]any{
			"event_id":       ev.EventID,
			"impact_force_g": *ev.CalculatedValues.ImpactForceG,
			"severity":       string(ev.Severity),
		})
	}
	return map[string]any{"total": len(samples), "samples": samples}
}
