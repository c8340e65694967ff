// Package board merges live departures into the static schedule to
// produce a stop's departure board.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"livedepartures/internal/domain"
	"livedepartures/internal/schedule"
)

const DefaultLimit = 10

type ScheduleSource interface {
	Departures(ctx context.Context, q schedule.DepartureQuery) ([]domain.ScheduledRow, error)
}

type LiveSource interface {
	GetDeparture(stopID, tripID int64) (domain.Departure, bool)
}

type Engine struct {
	schedule ScheduleSource
	live     LiveSource
	clock    *domain.Clock
	limit    int
	logger   *slog.Logger
}

func NewEngine(sched ScheduleSource, live LiveSource, clock *domain.Clock, limit int, logger *slog.Logger) *Engine {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Engine{
		schedule: sched,
		live:     live,
		clock:    clock,
		limit:    limit,
		logger:   logger.With("component", "board"),
	}
}

// Departures returns the board for stopID as of now.
func (e *Engine) Departures(ctx context.Context, stopID int64) ([]domain.BoardEntry, error) {
	return e.DeparturesAt(ctx, stopID, e.clock.Now())
}

// DeparturesDaysAgo shifts now back by whole days, for replaying a frozen
// snapshot of the feed. Static rows are placed on the shifted day while
// live records are overlaid as stored, so a frozen feed from that day lines
// up with its schedule; a current feed keeps its own epoch timestamps.
func (e *Engine) DeparturesDaysAgo(ctx context.Context, stopID int64, days int) ([]domain.BoardEntry, error) {
	return e.DeparturesAt(ctx, stopID, e.clock.Now().AddDate(0, 0, -days))
}

// DeparturesAt builds the board as of now. Only trips returned by the
// static query appear; live-only trips are not added.
func (e *Engine) DeparturesAt(ctx context.Context, stopID int64, now time.Time) ([]domain.BoardEntry, error) {
	now = now.In(e.clock.Location())
	start := e.clock.Now()

	rows, err := e.schedule.Departures(ctx, schedule.NewDepartureQuery(stopID, now, e.limit))
	if err != nil {
		return nil, fmt.Errorf("static departures for stop %d: %w", stopID, err)
	}

	entries := make([]domain.BoardEntry, 0, len(rows))
	live := 0
	for _, row := range rows {
		entry := domain.BoardEntry{
			TripID:             row.TripID,
			RouteID:            row.RouteID,
			ServiceID:          row.ServiceID,
			RouteShortName:     row.RouteShortName,
			DepartureTimestamp: StaticTimestamp(now, row.DepartureTime),
		}
		if d, ok := e.live.GetDeparture(stopID, row.TripID); ok {
			if !d.Departure.IsZero() {
				entry.DepartureTimestamp = d.Departure.Timestamp
			}
			entry.Delay = d.Departure.Delay
			entry.Live = true
			entry.Cancelled = d.Cancelled
			live++
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].DepartureTimestamp < entries[j].DepartureTimestamp
	})
	if len(entries) > e.limit {
		entries = entries[:e.limit]
	}

	e.logger.Debug("built departure board",
		"stop_id", stopID,
		"rows", len(rows),
		"live", live,
		"duration_ms", e.clock.Since(start).Milliseconds(),
	)
	return entries, nil
}

// StaticTimestamp places a GTFS "HH:MM:SS" time of day on the service date
// of day. Unparsable parts count as 0 and hours past 23 roll into the next
// day.
func StaticTimestamp(day time.Time, clock string) int64 {
	var hms [3]int
	for i, part := range strings.SplitN(clock, ":", 3) {
		if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			hms[i] = v
		}
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hms[0], hms[1], hms[2], 0, day.Location()).Unix()
}
