package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/propertyescrow/internal/metrics"
)

// StatsCollector periodically recounts open escrows so the active gauge
// stays correct across restarts.
type StatsCollector struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewStatsCollector creates a collector that refreshes every 30 seconds.
func NewStatsCollector(store Store, logger *slog.Logger) *StatsCollector {
	return &StatsCollector{
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the refresh interval.
func (c *StatsCollector) WithInterval(d time.Duration) *StatsCollector {
	if d > 0 {
		c.interval = d
	}
	return c
}

// Running reports whether the loop is active.
func (c *StatsCollector) Running() bool {
	return c.running.Load()
}

// Start runs the refresh loop until ctx ends or Stop is called. Call in a
// goroutine.
func (c *StatsCollector) Start(ctx context.Context) {
	c.running.Store(true)
	defer c.running.Store(false)

	c.safeRefresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.safeRefresh(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (c *StatsCollector) Stop() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

func (c *StatsCollector) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in escrow stats collector", "panic", fmt.Sprint(r))
		}
	}()
	c.refresh(ctx)
}

func (c *StatsCollector) refresh(ctx context.Context) {
	n, err := c.store.CountActive(ctx)
	if err != nil {
		c.logger.Warn("failed to count active escrows", "error", err)
		return
	}
	metrics.ActiveEscrows.Set(float64(n))
}
