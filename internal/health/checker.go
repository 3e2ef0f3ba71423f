// Package health tracks the liveness of the evidence database and serves as
// the source of truth for the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is the database probe dependency; satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Status is the current view of backend health.
type Status struct {
	Healthy     bool      `json:"healthy"`
	Database    string    `json:"database"` // connected | degraded | unknown
	LastProbeAt time.Time `json:"last_probe_at"`
	FailCount   int       `json:"fail_count,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Checker periodically probes the database and caches the outcome so the
// /health endpoint never blocks a request on a live probe.
type Checker struct {
	db        Pinger
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.RWMutex
	status    Status
	failCount int
}

// New creates a Checker.
func New(db Pinger, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		db:     db,
		cfg:    cfg,
		logger: logger,
		status: Status{Database: "unknown"},
	}
}

// SetMetricsRecord configures the probe metrics callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the probe loop until stop is closed.
func (c *Checker) Start(stop <-chan struct{}) {
	c.Probe(context.Background())

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Probe(context.Background())
		case <-stop:
			return
		}
	}
}

// Probe pings the database once and updates the cached status.
func (c *Checker) Probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	err := c.db.Ping(ctx)
	now := time.Now().UTC()

	if c.onMetrics != nil {
		c.onMetrics(err == nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		if c.failCount >= c.cfg.FailThreshold {
			c.logger.Info("health: database recovered")
		}
		c.failCount = 0
		c.status = Status{Healthy: true, Database: "connected", LastProbeAt: now}
		return c.status
	}

	c.failCount++
	c.status = Status{
		Healthy:     c.failCount < c.cfg.FailThreshold,
		Database:    "degraded",
		LastProbeAt: now,
		FailCount:   c.failCount,
		LastError:   err.Error(),
	}
	if c.failCount == c.cfg.FailThreshold {
		c.logger.Warn("health: database degraded", zap.Int("fail_count", c.failCount), zap.Error(err))
	}
	return c.status
}

// Current returns the last probed status without touching the database.
func (c *Checker) Current() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
