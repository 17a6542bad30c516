// Package maintenance runs periodic background tasks as Go tickers: the
// notification retention sweep, engagement-profile flushes, and idle-session
// eviction.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/mrktfy/prospector/internal/engine"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	RetentionInterval time.Duration // evict notifications past the age ceiling
	FlushInterval     time.Duration // persist engagement profiles
	EvictionInterval  time.Duration // close idle sessions
	SessionIdleAfter  time.Duration // idle threshold for eviction
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, manager *engine.Manager, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"retention", cfg.RetentionInterval,
		"flush", cfg.FlushInterval,
		"eviction", cfg.EvictionInterval)

	tickers := make([]*time.Ticker, 0, 3)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	// Retention: drop notifications past the 7-day ceiling in every live
	// session. Persisted logs of evicted sessions age out on next load.
	if cfg.RetentionInterval > 0 {
		t := time.NewTicker(cfg.RetentionInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { sweepRetention(ctx, manager, logger) })
	}

	// Flush: persist engagement profiles so interaction history survives a
	// crash between UI events.
	if cfg.FlushInterval > 0 {
		t := time.NewTicker(cfg.FlushInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { flushProfiles(ctx, manager) })
	}

	// Eviction: close sessions with no recent events, releasing their timers.
	if cfg.EvictionInterval > 0 && cfg.SessionIdleAfter > 0 {
		t := time.NewTicker(cfg.EvictionInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { manager.EvictIdle(ctx, cfg.SessionIdleAfter) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

func sweepRetention(ctx context.Context, manager *engine.Manager, logger *slog.Logger) {
	var evicted int
	manager.Range(func(s *engine.Session) {
		evicted += s.Store().SweepExpired(ctx)
	})
	if evicted > 0 {
		logger.Info("Retention sweep: evicted expired notifications", "count", evicted)
	}
}

func flushProfiles(ctx context.Context, manager *engine.Manager) {
	manager.Range(func(s *engine.Session) {
		s.FlushProfile(ctx)
	})
}
