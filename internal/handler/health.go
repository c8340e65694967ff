package handler

import (
	"context"
	"net/http"
	"time"

	"livedepartures/internal/domain"
)

type FeedStatus interface {
	IsReady() bool
	LastSuccess() time.Time
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ScheduleStatus reports whether a static schedule has been loaded.
type ScheduleStatus interface {
	IsReady() bool
}

type HealthHandler struct {
	feed     FeedStatus
	schedule Pinger
	loaded   ScheduleStatus
	cache    Pinger
	clock    *domain.Clock
}

func NewHealthHandler(feed FeedStatus, schedule Pinger, clock *domain.Clock) *HealthHandler {
	return &HealthHandler{
		feed:     feed,
		schedule: schedule,
		clock:    clock,
	}
}

// SetScheduleStatus makes readiness wait until the schedule is loaded.
func (h *HealthHandler) SetScheduleStatus(s ScheduleStatus) {
	h.loaded = s
}

// SetCache adds the shared cache to the readiness report. It never gates
// readiness, since lookups fall back to the schedule.
func (h *HealthHandler) SetCache(p Pinger) {
	h.cache = p
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready           bool      `json:"ready"`
	FeedReady       bool      `json:"feed_ready"`
	ScheduleOK      bool      `json:"schedule_ok"`
	ScheduleLoaded  bool      `json:"schedule_loaded"`
	CacheOK         *bool     `json:"cache_ok,omitempty"`
	LastFeedSuccess time.Time `json:"last_feed_success,omitempty"`
	ServerTime      time.Time `json:"server_time"`
}

// Readyz is ready once a feed cycle has decoded, the schedule database
// answers and, when tracked, the schedule has been loaded.
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := ReadyResponse{
		FeedReady:       h.feed.IsReady(),
		ScheduleOK:      h.schedule.Ping(ctx) == nil,
		ScheduleLoaded:  h.loaded == nil || h.loaded.IsReady(),
		LastFeedSuccess: h.feed.LastSuccess(),
		ServerTime:      h.clock.Now(),
	}
	if h.cache != nil {
		ok := h.cache.Ping(ctx) == nil
		resp.CacheOK = &ok
	}
	resp.Ready = resp.FeedReady && resp.ScheduleOK && resp.ScheduleLoaded

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
