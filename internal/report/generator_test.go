package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forensicedr/forensicedr/internal/evidence"
	"github.com/forensicedr/forensicedr/internal/report"
	"go.uber.org/zap"
)

var ctx = context.Background()

type stubSource struct {
	events []*evidence.CrashEvent
}

func (s *stubSource) List(_ context.Context, _ evidence.ListFilter) ([]*evidence.CrashEvent, error) {
	return s.events, nil
}

type memCache struct {
	reports map[string]*report.Report
}

func newMemCache() *memCache {
	return &memCache{reports: map[string]*report.Report{}}
}

func (c *memCache) Put(_ context.Context, r *report.Report) error {
	cp := *r
	c.reports[r.ReportID] = &cp
	return nil
}

func (c *memCache) Get(_ context.Context, id string) (*report.Report, error) {
	r, ok := c.reports[id]
	if !ok {
		return nil, report.ErrNotFound
	}
	return r, nil
}

func (c *memCache) Recent(_ context.Context, limit int) ([]*report.Report, error) {
	var out []*report.Report
	for _, r := range c.reports {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *memCache) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for id, r := range c.reports {
		if r.GeneratedAt.Before(cutoff) {
			delete(c.reports, id)
			n++
		}
	}
	return n, nil
}

func g(impact float64) *float64 { return &impact }

func testEvents() []*evidence.CrashEvent {
	day1 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 4, 2, 11, 0, 0, 0, time.UTC)
	return []*evidence.CrashEvent{
		{EventID: "E1", Timestamp: day1, Severity: evidence.SeveritySevere,
			CrashType: evidence.CrashFrontalImpact,
			Location:  evidence.Location{Latitude: 47.6, Longitude: -122.3},
			CalculatedValues: evidence.CalculatedValues{ImpactForceG: g(6.1)}},
		{EventID: "E2", Timestamp: day1, Severity: evidence.SeverityMinor,
			CrashType: evidence.CrashRearEnd,
			Location:  evidence.Location{Latitude: 47.7, Longitude: -122.2}},
		{EventID: "E3", Timestamp: day2, Severity: evidence.SeveritySevere,
			CrashType: evidence.CrashFrontalImpact,
			Location:  evidence.Location{Latitude: 47.5, Longitude: -122.4},
			CalculatedValues: evidence.CalculatedValues{ImpactForceG: g(7.9)}},
	}
}

func newTestGenerator() (*report.Generator, *memCache) {
	cache := newMemCache()
	gen := report.NewGenerator(&stubSource{events: testEvents()}, cache, zap.NewNop())
	return gen, cache
}

func TestGenerate_severity(t *testing.T) {
	gen, _ := newTestGenerator()

	r, err := gen.Generate(ctx, report.TypeSeverity, report.Params{}, false)
	if err != nil {
		t.Fatal(err)
	}
	counts := r.Data["by_severity"].(map[string]int)
	if counts["severe"] != 2 || counts["minor"] != 1 {
		t.Errorf("severity counts: %+v", counts)
	}
	if r.Data["total"].(int) != 3 {
		t.Errorf("total: %v", r.Data["total"])
	}
}

func TestGenerate_timelineSortedByDay(t *testing.T) {
	gen, _ := newTestGenerator()

	r, err := gen.Generate(ctx, report.TypeTimeline, report.Params{}, false)
	if err != nil {
		t.Fatal(err)
	}
	series := r.Data["series"].([]map[string]any)
	if len(series) != 2 {
		t.Fatalf("expected 2 days, got %d", len(series))
	}
	if series[0]["date"] != "2026-04-01" || series[0]["count"] != 2 {
		t.Errorf("day 1: %+v", series[0])
	}
	if series[1]["date"] != "2026-04-02" || series[1]["count"] != 1 {
		t.Errorf("day 2: %+v", series[1])
	}
}

func TestGenerate_impactSkipsMissingForce(t *testing.T) {
	gen, _ := newTestGenerator()

	r, err := gen.Generate(ctx, report.TypeImpact, report.Params{}, false)
	if err != nil {
		t.Fatal(err)
	}
	samples := r.Data["samples"].([]map[string]any)
	if len(samples) != 2 {
		t.Errorf("expected 2 impact samples, got %d", len(samples))
	}
}

func TestGenerate_unknownType(t *testing.T) {
	gen, _ := newTestGenerator()
	if _, err := gen.Generate(ctx, report.Type("heatmap"), report.Params{}, false); !errors.Is(err, report.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestGenerate_cachesWhenRequested(t *testing.T) {
	gen, cache := newTestGenerator()

	r, err := gen.Generate(ctx, report.TypeCrashType, report.Params{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Cached {
		t.Error("report should be marked cached")
	}

	back, err := gen.GetCached(ctx, r.ReportID)
	if err != nil {
		t.Fatal(err)
	}
	if back.ReportType != report.TypeCrashType {
		t.Errorf("cached report type: %q", back.ReportType)
	}
	if _, ok := cache.reports[r.ReportID]; !ok {
		t.Error("report missing from cache")
	}
}

func TestGetCached_miss(t *testing.T) {
	gen, _ := newTestGenerator()
	if _, err := gen.GetCached(ctx, "report_none"); !errors.Is(err, report.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
