package cache

import (
	"context"
	"log/slog"
	"time"
)

// CacheWarmer refills the lookup caches after the schedule changes.
type CacheWarmer struct {
	lookups *Lookups
	logger  *slog.Logger
}

func NewCacheWarmer(lookups *Lookups, logger *slog.Logger) *CacheWarmer {
	return &CacheWarmer{
		lookups: lookups,
		logger:  logger.With("component", "cache_warmer"),
	}
}

func (w *CacheWarmer) WarmAll(ctx context.Context) error {
	start := time.Now()
	w.logger.Info("starting cache warming")

	w.lookups.Invalidate(ctx)

	if err := w.warmStops(ctx); err != nil {
		w.logger.Error("failed to warm stops", "error", err)
		return err
	}

	w.logger.Info("cache warming completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *CacheWarmer) warmStops(ctx context.Context) error {
	start := time.Now()

	stops, err := w.lookups.AllStops(ctx)
	if err != nil {
		return err
	}

	w.lookups.primeStops(stops)

	w.logger.Info("warmed stops",
		"total_stops", len(stops),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
