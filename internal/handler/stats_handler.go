package handler

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"livedepartures/internal/cache"
	"livedepartures/internal/ingestor"
	"livedepartures/internal/middleware"
	"livedepartures/internal/store"
)

// Stats tracks server-wide counters
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	rateLimitBlocked atomic.Int64
}

// Global stats instance
var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()         { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections()    { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections()    { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()     { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut()    { s.wsMessagesOut.Add(1) }
func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

// CountRequests counts every request passing through.
func (s *Stats) CountRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.IncRequests()
		next.ServeHTTP(w, r)
	})
}

type StoreStats interface {
	Stats() store.Stats
}

type CycleReporter interface {
	LastResult() ingestor.CycleResult
	LastSuccess() time.Time
}

type ClientCounter interface {
	ClientCount() int
	SubscribedStops() int
}

type LocalCache interface {
	ItemCount() int
}

type SharedCache interface {
	Stats() cache.RedisStats
}

type StatsHandler struct {
	store   StoreStats
	feed    CycleReporter
	hub     ClientCounter
	limiter *middleware.RateLimiter
	local   LocalCache
	shared  SharedCache
}

func NewStatsHandler(s StoreStats, feed CycleReporter, hub ClientCounter, limiter *middleware.RateLimiter) *StatsHandler {
	return &StatsHandler{
		store:   s,
		feed:    feed,
		hub:     hub,
		limiter: limiter,
	}
}

// SetCache adds lookup cache counters; shared may be nil.
func (h *StatsHandler) SetCache(local LocalCache, shared SharedCache) {
	h.local = local
	h.shared = shared
}

type CacheStatsResponse struct {
	LocalItems int               `json:"local_items"`
	Redis      *cache.RedisStats `json:"redis,omitempty"`
}

type StatsResponse struct {
	Server    ServerStatsResponse          `json:"server"`
	Store     store.Stats                  `json:"store"`
	Feed      FeedStatsResponse            `json:"feed"`
	WebSocket WebSocketStatsResponse       `json:"websocket"`
	RateLimit *middleware.RateLimiterStats `json:"rate_limit,omitempty"`
	Cache     *CacheStatsResponse          `json:"cache,omitempty"`
	Go        GoStatsResponse              `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
	Version       string    `json:"version"`
}

type FeedStatsResponse struct {
	LastCycleID      string    `json:"last_cycle_id"`
	LastOutcome      string    `json:"last_outcome"`
	LastStatus       int       `json:"last_status"`
	LastEntities     int       `json:"last_entities"`
	LastTrips        int       `json:"last_trips"`
	LastSkipped      int       `json:"last_skipped_entities"`
	LastEvictedTrips int       `json:"last_evicted_trips"`
	LastDurationMS   int64     `json:"last_duration_ms"`
	LastSuccess      time.Time `json:"last_success"`
}

type WebSocketStatsResponse struct {
	Clients         int   `json:"clients"`
	SubscribedStops int   `json:"subscribed_stops"`
	Connections     int64 `json:"connections"`
	MessagesIn      int64 `json:"messages_in"`
	MessagesOut     int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	last := h.feed.LastResult()

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			RateLimited:   ServerStats.rateLimitBlocked.Load(),
			Version:       "1.0.0",
		},
		Store: h.store.Stats(),
		Feed: FeedStatsResponse{
			LastCycleID:      last.ID,
			LastOutcome:      last.Outcome,
			LastStatus:       last.Status,
			LastEntities:     last.Fold.Entities,
			LastTrips:        last.Fold.Trips,
			LastSkipped:      last.Fold.SkippedEntities,
			LastEvictedTrips: last.Evicted.Trips,
			LastDurationMS:   last.Duration.Milliseconds(),
			LastSuccess:      h.feed.LastSuccess(),
		},
		WebSocket: WebSocketStatsResponse{
			Clients:         h.hub.ClientCount(),
			SubscribedStops: h.hub.SubscribedStops(),
			Connections:     ServerStats.wsConnections.Load(),
			MessagesIn:      ServerStats.wsMessagesIn.Load(),
			MessagesOut:     ServerStats.wsMessagesOut.Load(),
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.limiter != nil {
		rl := h.limiter.Stats()
		response.RateLimit = &rl
	}
	if h.local != nil {
		response.Cache = &CacheStatsResponse{LocalItems: h.local.ItemCount()}
		if h.shared != nil {
			rs := h.shared.Stats()
			response.Cache.Redis = &rs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(response)
}
