package ingestor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"livedepartures/internal/domain"
	"livedepartures/internal/store"
	"livedepartures/pkg/gtfsrt"
)

type Fetcher interface {
	Fetch(ctx context.Context) (*gtfsrt.Response, error)
}

// Broadcaster receives the delta of every successfully decoded cycle.
// Implementations must not block.
type Broadcaster interface {
	Broadcast(delta domain.FeedDelta)
}

type CycleMetrics interface {
	CycleObserve(outcome string, d time.Duration)
	EntitiesAdd(folded, skipped int)
	EvictedAdd(trips, departures int)
	StoreSizeSet(trips, stops, departures int)
}

const (
	OutcomeOK          = "ok"
	OutcomeFetchError  = "fetch_error"
	OutcomeHTTPError   = "http_error"
	OutcomeDecodeError = "decode_error"
)

// CycleResult summarizes one poll.
type CycleResult struct {
	ID       string
	Outcome  string
	Status   int
	Fold     FoldStats
	Evicted  store.EvictionStats
	Duration time.Duration
}

// FeedPoller is the only writer of the update store.
type FeedPoller struct {
	fetcher      Fetcher
	store        *store.UpdateStore
	clock        *domain.Clock
	interval     time.Duration
	broadcasters []Broadcaster
	metrics      CycleMetrics
	logger       *slog.Logger

	mu          sync.RWMutex
	ready       bool
	lastSuccess time.Time
	lastResult  CycleResult
}

func NewFeedPoller(fetcher Fetcher, s *store.UpdateStore, clock *domain.Clock, interval time.Duration, logger *slog.Logger) *FeedPoller {
	return &FeedPoller{
		fetcher:  fetcher,
		store:    s,
		clock:    clock,
		interval: interval,
		logger:   logger.With("component", "feed_poller"),
	}
}

func (p *FeedPoller) AddBroadcaster(b Broadcaster) {
	p.broadcasters = append(p.broadcasters, b)
}

func (p *FeedPoller) SetMetrics(m CycleMetrics) {
	p.metrics = m
}

// Run polls until ctx is cancelled. The delay comes before each fetch.
func (p *FeedPoller) Run(ctx context.Context) {
	p.logger.Info("feed poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("feed poller stopped")
			return
		case <-p.clock.After(p.interval):
			p.RunCycle(ctx)
		}
	}
}

// RunCycle fetches, decodes and folds one feed message. Failures are
// logged and leave the store untouched.
func (p *FeedPoller) RunCycle(ctx context.Context) CycleResult {
	start := p.clock.Now()
	res := CycleResult{ID: uuid.New().String()}
	logger := p.logger.With("cycle_id", res.ID)

	resp, err := p.fetcher.Fetch(ctx)
	if err != nil {
		logger.Warn("failed to fetch feed", "error", err)
		return p.finish(res, OutcomeFetchError, start)
	}
	res.Status = resp.StatusCode
	logger.Debug("feed fetched", "status", resp.StatusCode, "size_bytes", len(resp.Body), "etag", resp.ETag)

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Warn("feed returned error status, no update this cycle", "status", resp.StatusCode)
		return p.finish(res, OutcomeHTTPError, start)
	}

	feed, err := Decode(resp.Body)
	if err != nil {
		logger.Warn("failed to decode feed", "status", resp.StatusCode, "error", err)
		return p.finish(res, OutcomeDecodeError, start)
	}

	stats, trips, departures := Fold(feed, p.store)
	res.Fold = stats
	res.Evicted = p.store.EvictNow()

	now := p.clock.Now()
	p.mu.Lock()
	wasReady := p.ready
	p.ready = true
	p.lastSuccess = now
	p.mu.Unlock()
	if !wasReady {
		logger.Info("feed poller ready", "entities", stats.Entities)
	}

	if len(trips) > 0 {
		delta := domain.FeedDelta{
			CycleID:    res.ID,
			At:         now,
			Trips:      trips,
			Departures: departures,
		}
		for _, b := range p.broadcasters {
			b.Broadcast(delta)
		}
	}

	res = p.finish(res, OutcomeOK, start)

	size := p.store.Stats()
	if p.metrics != nil {
		p.metrics.EntitiesAdd(stats.Trips, stats.SkippedEntities)
		p.metrics.EvictedAdd(res.Evicted.Trips, res.Evicted.Departures)
		p.metrics.StoreSizeSet(size.Trips, size.Stops, size.Departures)
	}

	logger.Info("feed cycle completed",
		"status", resp.StatusCode,
		"entities", stats.Entities,
		"trips", stats.Trips,
		"departures", stats.Departures,
		"skipped_entities", stats.SkippedEntities,
		"skipped_stop_times", stats.SkippedStopTimes,
		"evicted_trips", res.Evicted.Trips,
		"evicted_departures", res.Evicted.Departures,
		"store_trips", size.Trips,
		"store_stops", size.Stops,
		"duration_ms", res.Duration.Milliseconds(),
	)

	return res
}

func (p *FeedPoller) finish(res CycleResult, outcome string, start time.Time) CycleResult {
	res.Outcome = outcome
	res.Duration = p.clock.Now().Sub(start)
	if p.metrics != nil {
		p.metrics.CycleObserve(outcome, res.Duration)
	}
	p.mu.Lock()
	p.lastResult = res
	p.mu.Unlock()
	return res
}

// IsReady reports whether at least one feed message has been decoded.
func (p *FeedPoller) IsReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}

func (p *FeedPoller) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

func (p *FeedPoller) LastResult() CycleResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResult
}
