package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedepartures/internal/cache"
	"livedepartures/internal/domain"
	"livedepartures/internal/hub"
	"livedepartures/internal/ingestor"
	"livedepartures/internal/schedule"
	"livedepartures/internal/store"
	"livedepartures/internal/topology"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBoard struct {
	entries []domain.BoardEntry
	err     error
	daysAgo []int
}

func (f *fakeBoard) Departures(ctx context.Context, stopID int64) ([]domain.BoardEntry, error) {
	return f.entries, f.err
}

func (f *fakeBoard) DeparturesDaysAgo(ctx context.Context, stopID int64, days int) ([]domain.BoardEntry, error) {
	f.daysAgo = append(f.daysAgo, days)
	return f.entries, f.err
}

type fakeLookups struct{}

func (fakeLookups) Agency(ctx context.Context, id int64) (*domain.Agency, error) {
	switch id {
	case 1:
		return &domain.Agency{ID: 1, Name: "MVG"}, nil
	case 500:
		return nil, errors.New("connection reset")
	}
	return nil, schedule.ErrNotFound
}

func (fakeLookups) Stop(ctx context.Context, id int64) (*domain.Stop, error) {
	if id == 101 {
		return &domain.Stop{ID: 101, Name: "Marienplatz"}, nil
	}
	return nil, topology.ErrNotFound
}

func (fakeLookups) AllStops(ctx context.Context) ([]*domain.Stop, error) {
	return []*domain.Stop{{ID: 100, Name: "Marienplatz"}, {ID: 101, Name: "Marienplatz Gleis 1"}}, nil
}

type fakeFeed struct {
	ready bool
	last  ingestor.CycleResult
}

func (f fakeFeed) IsReady() bool                    { return f.ready }
func (f fakeFeed) LastSuccess() time.Time           { return time.Time{} }
func (f fakeFeed) LastResult() ingestor.CycleResult { return f.last }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeLoaded bool

func (f fakeLoaded) IsReady() bool { return bool(f) }

type fixture struct {
	mux    *http.ServeMux
	live   *store.UpdateStore
	board  *fakeBoard
	hub    *hub.Hub
	health *HealthHandler
	clock  *domain.Clock
}

func newFixture(t *testing.T, feed fakeFeed, ping error) *fixture {
	t.Helper()
	loc, err := time.LoadLocation(domain.ReferenceZone)
	require.NoError(t, err)
	clock := domain.NewClock(clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 7, 0, 0, 0, loc)), loc)

	live := store.New(clock)
	board := &fakeBoard{}
	h := hub.NewHub(discardLogger())

	health := NewHealthHandler(feed, fakePinger{err: ping}, clock)

	mux := http.NewServeMux()
	Handlers{
		HTTP:   NewHTTPHandler(live, board, fakeLookups{}, clock, discardLogger()),
		WS:     NewWSHandler(h, board, nil, discardLogger()),
		Health: health,
		Stats:  NewStatsHandler(live, feed, h, nil),
	}.Register(mux)

	return &fixture{mux: mux, live: live, board: board, hub: h, health: health, clock: clock}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetTrip(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)
	f.live.UpsertTrip(domain.Update{TripID: 42, StartDate: "20240506", Stops: []domain.ScheduledStop{{StopSequence: 1}}})

	rec := f.get(t, "/v1/trips/42")
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Update
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(42), got.TripID)
	assert.Len(t, got.Stops, 1)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/trips/43").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/trips/abc").Code)
}

func TestGetDepartures(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)
	f.board.entries = []domain.BoardEntry{{TripID: 1, DepartureTimestamp: 100}, {TripID: 2, DepartureTimestamp: 200, Live: true}}

	rec := f.get(t, "/v1/departures/101")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DeparturesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(101), resp.StopID)
	assert.Equal(t, 2, resp.Count)
	assert.True(t, resp.Departures[1].Live)
	assert.Empty(t, f.board.daysAgo)

	rec = f.get(t, "/v1/departures/101?days_ago=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{2}, f.board.daysAgo)
}

func TestGetDeparturesErrors(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"bad stop id", "/v1/departures/x", http.StatusBadRequest},
		{"negative days", "/v1/departures/1?days_ago=-1", http.StatusBadRequest},
		{"too many days", "/v1/departures/1?days_ago=32", http.StatusBadRequest},
		{"non numeric days", "/v1/departures/1?days_ago=two", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.get(t, tt.path).Code)
		})
	}

	f.board.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, f.get(t, "/v1/departures/1").Code)
}

func TestGetDeparturesEmptyBoardIsArray(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)

	rec := f.get(t, "/v1/departures/101")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"departures":[]`)
}

func TestGetStopLive(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)
	f.live.UpsertDeparture(101, domain.Departure{TripID: 2, Departure: domain.GTFSTime{Timestamp: 300}})
	f.live.UpsertDeparture(101, domain.Departure{TripID: 1, Departure: domain.GTFSTime{Timestamp: 200}})

	rec := f.get(t, "/v1/stops/101/live")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LiveStopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Departures, 2)
	assert.Equal(t, int64(1), resp.Departures[0].TripID)
	assert.Equal(t, int64(2), resp.Departures[1].TripID)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/stops/999/live").Code)
}

func TestLookupEndpoints(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/agency/1", http.StatusOK},
		{"/v1/agency/2", http.StatusNotFound},
		{"/v1/agency/500", http.StatusInternalServerError},
		{"/v1/stops/101", http.StatusOK},
		{"/v1/stops/102", http.StatusNotFound},
		{"/v1/stops/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.get(t, tt.path).Code)
		})
	}

	rec := f.get(t, "/v1/stops")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	var resp StopsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name string
		feed fakeFeed
		ping error
		want int
	}{
		{"ready", fakeFeed{ready: true}, nil, http.StatusOK},
		{"no feed yet", fakeFeed{}, nil, http.StatusServiceUnavailable},
		{"schedule down", fakeFeed{ready: true}, errors.New("closed"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.feed, tt.ping)
			assert.Equal(t, tt.want, f.get(t, "/readyz").Code)
		})
	}

	f := newFixture(t, fakeFeed{}, nil)
	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadinessWaitsForSchedule(t *testing.T) {
	f := newFixture(t, fakeFeed{ready: true}, nil)
	f.health.SetScheduleStatus(fakeLoaded(false))

	rec := f.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.FeedReady)
	assert.False(t, resp.ScheduleLoaded)
	assert.True(t, resp.ServerTime.Equal(f.clock.Now()))

	f.health.SetScheduleStatus(fakeLoaded(true))
	assert.Equal(t, http.StatusOK, f.get(t, "/readyz").Code)
}

func TestReadinessReportsCacheWithoutGating(t *testing.T) {
	f := newFixture(t, fakeFeed{ready: true}, nil)
	f.health.SetCache(fakePinger{err: errors.New("dial tcp: connection refused")})

	rec := f.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.CacheOK)
	assert.False(t, *resp.CacheOK)
}

func TestStats(t *testing.T) {
	f := newFixture(t, fakeFeed{last: ingestor.CycleResult{ID: "c-1", Outcome: ingestor.OutcomeOK, Status: 200}}, nil)
	f.live.UpsertTrip(domain.Update{TripID: 1})

	rec := f.get(t, "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c-1", resp.Feed.LastCycleID)
	assert.Equal(t, ingestor.OutcomeOK, resp.Feed.LastOutcome)
	assert.Nil(t, resp.RateLimit)
	assert.Nil(t, resp.Cache)
}

type fakeLocalCache int

func (f fakeLocalCache) ItemCount() int { return int(f) }

type fakeSharedCache struct{}

func (fakeSharedCache) Stats() cache.RedisStats { return cache.RedisStats{Hits: 4, Misses: 1} }

func TestStatsIncludesCache(t *testing.T) {
	live := store.New(domain.NewClock(clockwork.NewFakeClock(), time.UTC))
	h := NewStatsHandler(live, fakeFeed{}, hub.NewHub(discardLogger()), nil)
	h.SetCache(fakeLocalCache(12), fakeSharedCache{})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Cache)
	assert.Equal(t, 12, resp.Cache.LocalItems)
	require.NotNil(t, resp.Cache.Redis)
	assert.Equal(t, int64(4), resp.Cache.Redis.Hits)
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocketSubscribe(t *testing.T) {
	f := newFixture(t, fakeFeed{}, nil)
	f.board.entries = []domain.BoardEntry{{TripID: 7, RouteShortName: "U3"}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"subscribe","payload":{"stopIds":[101]}}`)))

	msg := readMessage(t, ctx, conn)
	assert.JSONEq(t, `"snapshot"`, string(msg["type"]))
	var snapshot SnapshotPayload
	require.NoError(t, json.Unmarshal(msg["payload"], &snapshot))
	require.Len(t, snapshot.Boards[101], 1)
	assert.Equal(t, int64(7), snapshot.Boards[101][0].TripID)

	f.hub.Broadcast(domain.FeedDelta{
		CycleID: "c-1",
		Departures: map[int64][]domain.Departure{
			101: {{TripID: 7}},
			102: {{TripID: 8}},
		},
	})

	msg = readMessage(t, ctx, conn)
	assert.JSONEq(t, `"departures"`, string(msg["type"]))
	var delta hub.DeltaPayload
	require.NoError(t, json.Unmarshal(msg["payload"], &delta))
	assert.Equal(t, "c-1", delta.CycleID)
	assert.Contains(t, delta.Departures, int64(101))
	assert.NotContains(t, delta.Departures, int64(102))

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	msg = readMessage(t, ctx, conn)
	assert.JSONEq(t, `"pong"`, string(msg["type"]))
}
