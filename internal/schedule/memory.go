package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"livedepartures/internal/domain"
	"livedepartures/pkg/gtfs"
)

// MemoryStore keeps the whole schedule in maps. It backs tests and runs
// without a database configured.
type MemoryStore struct {
	mu            sync.RWMutex
	agencies      map[int64]*domain.Agency
	stops         map[int64]*domain.Stop
	routes        map[int64]*domain.Route
	trips         map[int64]*domain.Trip
	stopTimes     map[int64][]domain.StopTime
	calendars     map[int64]*domain.Calendar
	calendarDates map[string]map[int64]int
	fingerprint   string

	lastUpdate time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agencies:      make(map[int64]*domain.Agency),
		stops:         make(map[int64]*domain.Stop),
		routes:        make(map[int64]*domain.Route),
		trips:         make(map[int64]*domain.Trip),
		stopTimes:     make(map[int64][]domain.StopTime),
		calendars:     make(map[int64]*domain.Calendar),
		calendarDates: make(map[string]map[int64]int),
	}
}

func (s *MemoryStore) Import(_ context.Context, feed *gtfs.Feed, fingerprint string) error {
	agencies := make(map[int64]*domain.Agency, len(feed.Agencies))
	for i := range feed.Agencies {
		agencies[feed.Agencies[i].ID] = &feed.Agencies[i]
	}
	stops := make(map[int64]*domain.Stop, len(feed.Stops))
	for i := range feed.Stops {
		stops[feed.Stops[i].ID] = &feed.Stops[i]
	}
	routes := make(map[int64]*domain.Route, len(feed.Routes))
	for i := range feed.Routes {
		routes[feed.Routes[i].ID] = &feed.Routes[i]
	}
	trips := make(map[int64]*domain.Trip, len(feed.Trips))
	for i := range feed.Trips {
		trips[feed.Trips[i].ID] = &feed.Trips[i]
	}
	stopTimes := make(map[int64][]domain.StopTime)
	for _, st := range feed.StopTimes {
		stopTimes[st.StopID] = append(stopTimes[st.StopID], st)
	}
	for _, list := range stopTimes {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].DepartureTime < list[j].DepartureTime
		})
	}
	calendars := make(map[int64]*domain.Calendar, len(feed.Calendars))
	for i := range feed.Calendars {
		calendars[feed.Calendars[i].ServiceID] = &feed.Calendars[i]
	}
	calendarDates := make(map[string]map[int64]int)
	for _, cd := range feed.CalendarDates {
		if calendarDates[cd.Date] == nil {
			calendarDates[cd.Date] = make(map[int64]int)
		}
		calendarDates[cd.Date][cd.ServiceID] = cd.ExceptionType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.agencies = agencies
	s.stops = stops
	s.routes = routes
	s.trips = trips
	s.stopTimes = stopTimes
	s.calendars = calendars
	s.calendarDates = calendarDates
	s.fingerprint = fingerprint
	s.lastUpdate = time.Now()
	return nil
}

func (s *MemoryStore) Fingerprint(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint, nil
}

// serviceActive must be called with the read lock held.
func (s *MemoryStore) serviceActive(serviceID int64, date string, weekday time.Weekday) bool {
	switch s.calendarDates[date][serviceID] {
	case 1:
		return true
	case 2:
		return false
	}

	c, ok := s.calendars[serviceID]
	if !ok || c.StartDate > date || c.EndDate < date {
		return false
	}
	switch weekday {
	case time.Monday:
		return c.Monday
	case time.Tuesday:
		return c.Tuesday
	case time.Wednesday:
		return c.Wednesday
	case time.Thursday:
		return c.Thursday
	case time.Friday:
		return c.Friday
	case time.Saturday:
		return c.Saturday
	default:
		return c.Sunday
	}
}

func (s *MemoryStore) Departures(_ context.Context, q DepartureQuery) ([]domain.ScheduledRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.ScheduledRow
	for _, st := range s.stopTimes[q.StopID] {
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
		if st.DepartureTime < q.MinTime {
			continue
		}
		trip, ok := s.trips[st.TripID]
		if !ok {
			continue
		}
		route, ok := s.routes[trip.RouteID]
		if !ok {
			continue
		}
		if !s.serviceActive(trip.ServiceID, q.Date, q.Weekday) {
			continue
		}
		result = append(result, domain.ScheduledRow{
			TripID:         trip.ID,
			RouteID:        trip.RouteID,
			ServiceID:      trip.ServiceID,
			RouteShortName: route.ShortName,
			DepartureTime:  st.DepartureTime,
		})
	}
	return result, nil
}

func (s *MemoryStore) Agency(_ context.Context, id int64) (*domain.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) Stop(_ context.Context, id int64) (*domain.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stop, ok := s.stops[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *stop
	return &copy, nil
}

func (s *MemoryStore) Stops(context.Context) ([]*domain.Stop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Stop, 0, len(s.stops))
	for _, stop := range s.stops {
		copy := *stop
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// IsReady reports whether a schedule has been imported.
func (s *MemoryStore) IsReady() bool {
	return s.Stats().IsLoaded
}

type MemoryStats struct {
	StopsCount int       `json:"stops_count"`
	TripsCount int       `json:"trips_count"`
	LastUpdate time.Time `json:"last_update"`
	IsLoaded   bool      `json:"is_loaded"`
}

func (s *MemoryStore) Stats() MemoryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return MemoryStats{
		StopsCount: len(s.stops),
		TripsCount: len(s.trips),
		LastUpdate: s.lastUpdate,
		IsLoaded:   !s.lastUpdate.IsZero(),
	}
}
