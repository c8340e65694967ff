package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"livedepartures/internal/domain"
	"livedepartures/internal/schedule"
	"livedepartures/internal/topology"
)

type LiveStore interface {
	GetTrip(tripID int64) (domain.Update, bool)
	GetDepartures(stopID int64) (map[int64]domain.Departure, bool)
}

type Board interface {
	Departures(ctx context.Context, stopID int64) ([]domain.BoardEntry, error)
	DeparturesDaysAgo(ctx context.Context, stopID int64, days int) ([]domain.BoardEntry, error)
}

type Lookups interface {
	Agency(ctx context.Context, id int64) (*domain.Agency, error)
	Stop(ctx context.Context, id int64) (*domain.Stop, error)
	AllStops(ctx context.Context) ([]*domain.Stop, error)
}

// maxDaysAgo bounds how far back a board may be replayed.
const maxDaysAgo = 31

type HTTPHandler struct {
	live    LiveStore
	board   Board
	lookups Lookups
	clock   *domain.Clock
	logger  *slog.Logger
}

func NewHTTPHandler(live LiveStore, board Board, lookups Lookups, clock *domain.Clock, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		live:    live,
		board:   board,
		lookups: lookups,
		clock:   clock,
		logger:  logger.With("handler", "http"),
	}
}

func (h *HTTPHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	update, found := h.live.GetTrip(id)
	if !found {
		respondError(w, http.StatusNotFound, "trip not found")
		return
	}

	respondJSON(w, http.StatusOK, update)
}

type DeparturesResponse struct {
	StopID     int64               `json:"stop_id"`
	Departures []domain.BoardEntry `json:"departures"`
	Count      int                 `json:"count"`
	ServerTime time.Time           `json:"server_time"`
}

func (h *HTTPHandler) GetDepartures(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	stopID, ok := pathID(w, r, "stop_id")
	if !ok {
		return
	}

	daysAgo := 0
	if v := r.URL.Query().Get("days_ago"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxDaysAgo {
			respondError(w, http.StatusBadRequest, "invalid days_ago parameter: must be 0-31")
			return
		}
		daysAgo = n
	}

	var board []domain.BoardEntry
	var err error
	if daysAgo > 0 {
		board, err = h.board.DeparturesDaysAgo(r.Context(), stopID, daysAgo)
	} else {
		board, err = h.board.Departures(r.Context(), stopID)
	}
	if err != nil {
		h.logger.Error("failed to build departure board", "stop_id", stopID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load departures")
		return
	}
	if board == nil {
		board = []domain.BoardEntry{}
	}

	h.logger.Debug("departures served",
		"stop_id", stopID,
		"count", len(board),
		"days_ago", daysAgo,
		"duration_ms", h.clock.Since(start).Milliseconds(),
	)

	respondJSON(w, http.StatusOK, DeparturesResponse{
		StopID:     stopID,
		Departures: board,
		Count:      len(board),
		ServerTime: h.clock.Now(),
	})
}

type LiveStopResponse struct {
	StopID     int64              `json:"stop_id"`
	Departures []domain.Departure `json:"departures"`
	Count      int                `json:"count"`
}

func (h *HTTPHandler) GetStopLive(w http.ResponseWriter, r *http.Request) {
	stopID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	set, found := h.live.GetDepartures(stopID)
	if !found {
		respondError(w, http.StatusNotFound, "no live departures for stop")
		return
	}

	respondJSON(w, http.StatusOK, LiveStopResponse{
		StopID:     stopID,
		Departures: sortedDepartures(set),
		Count:      len(set),
	})
}

func sortedDepartures(set map[int64]domain.Departure) []domain.Departure {
	list := make([]domain.Departure, 0, len(set))
	for _, d := range set {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Departure.Timestamp != list[j].Departure.Timestamp {
			return list[i].Departure.Timestamp < list[j].Departure.Timestamp
		}
		return list[i].TripID < list[j].TripID
	})
	return list
}

func (h *HTTPHandler) GetAgency(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	agency, err := h.lookups.Agency(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, "agency", id, err)
		return
	}

	respondJSON(w, http.StatusOK, agency)
}

type StopsResponse struct {
	Stops []*domain.Stop `json:"stops"`
	Count int            `json:"count"`
}

func (h *HTTPHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.lookups.AllStops(r.Context())
	if err != nil {
		h.logger.Error("failed to list stops", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load stops")
		return
	}
	if stops == nil {
		stops = []*domain.Stop{}
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, http.StatusOK, StopsResponse{Stops: stops, Count: len(stops)})
}

func (h *HTTPHandler) GetStop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	stop, err := h.lookups.Stop(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, "stop", id, err)
		return
	}

	respondJSON(w, http.StatusOK, stop)
}

func (h *HTTPHandler) respondLookupError(w http.ResponseWriter, kind string, id int64, err error) {
	if errors.Is(err, schedule.ErrNotFound) || errors.Is(err, topology.ErrNotFound) {
		respondError(w, http.StatusNotFound, kind+" not found")
		return
	}
	h.logger.Error("lookup failed", "kind", kind, "id", id, "error", err)
	respondError(w, http.StatusInternalServerError, "failed to load "+kind)
}

// pathID parses a numeric path segment and answers 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name+": must be an integer")
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
