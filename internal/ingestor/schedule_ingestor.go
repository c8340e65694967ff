package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"livedepartures/internal/schedule"
	"livedepartures/pkg/gtfs"
)

// ArchiveSource yields the current static feed archive.
type ArchiveSource interface {
	Download(ctx context.Context) (*gtfs.Archive, error)
}

// FeedSyncer receives every freshly imported schedule, e.g. a graph mirror.
type FeedSyncer interface {
	Sync(ctx context.Context, feed *gtfs.Feed) error
}

// ScheduleIngestor keeps the static schedule current. An archive whose
// fingerprint matches the last import is not parsed again.
type ScheduleIngestor struct {
	source         ArchiveSource
	parser         *gtfs.Parser
	importer       schedule.Importer
	syncers        []FeedSyncer
	updateInterval time.Duration
	logger         *slog.Logger
	onUpdate       func(context.Context)

	ready   bool
	readyMu sync.RWMutex
}

func NewScheduleIngestor(source ArchiveSource, importer schedule.Importer, updateInterval time.Duration, logger *slog.Logger) *ScheduleIngestor {
	return &ScheduleIngestor{
		source:         source,
		parser:         gtfs.NewParser(logger),
		importer:       importer,
		updateInterval: updateInterval,
		logger:         logger.With("component", "schedule_ingestor"),
	}
}

func (i *ScheduleIngestor) AddSyncer(s FeedSyncer) {
	i.syncers = append(i.syncers, s)
}

func (i *ScheduleIngestor) SetOnUpdate(fn func(context.Context)) {
	i.onUpdate = fn
}

func (i *ScheduleIngestor) Start(ctx context.Context) {
	if err := i.Update(ctx); err != nil {
		i.logger.Error("static schedule update failed", "error", err)
	}

	ticker := time.NewTicker(i.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.Update(ctx); err != nil {
				i.logger.Error("static schedule update failed", "error", err)
			}
		}
	}
}

// Update downloads the archive and imports it unless it is unchanged. When
// the update fails but an earlier import is still stored, the schedule
// counts as ready.
func (i *ScheduleIngestor) Update(ctx context.Context) error {
	err := i.update(ctx)
	if err != nil && !i.IsReady() {
		if fp, fpErr := i.importer.Fingerprint(ctx); fpErr == nil && fp != "" {
			i.logger.Warn("serving previously imported schedule", "sha256", fp)
			i.setReady(true)
		}
	}
	return err
}

func (i *ScheduleIngestor) update(ctx context.Context) error {
	i.logger.Info("starting static schedule update")
	start := time.Now()

	archive, err := i.source.Download(ctx)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	downloadDuration := time.Since(start)

	current, err := i.importer.Fingerprint(ctx)
	if err != nil {
		i.logger.Warn("failed to read stored fingerprint", "error", err)
	}
	if current != "" && current == archive.Fingerprint {
		i.logger.Info("static schedule unchanged, skipping import", "sha256", archive.Fingerprint)
		i.setReady(true)
		return nil
	}

	parseStart := time.Now()
	feed, err := i.parser.Parse(archive.Reader)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	parseDuration := time.Since(parseStart)

	if err := i.importer.Import(ctx, feed, archive.Fingerprint); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	for _, s := range i.syncers {
		if err := s.Sync(ctx, feed); err != nil {
			i.logger.Warn("failed to sync imported schedule", "error", err)
		}
	}

	i.setReady(true)

	if i.onUpdate != nil {
		i.onUpdate(ctx)
	}

	i.logger.Info("static schedule update completed",
		"download_duration", downloadDuration,
		"parse_duration", parseDuration,
		"total_duration", time.Since(start),
		"stops", len(feed.Stops),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
		"calendars", len(feed.Calendars),
	)
	return nil
}

func (i *ScheduleIngestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *ScheduleIngestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}
