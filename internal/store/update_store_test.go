package store

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livedepartures/internal/domain"
)

var testNow = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*UpdateStore, *clockwork.FakeClock) {
	t.Helper()
	loc, err := time.LoadLocation(domain.ReferenceZone)
	require.NoError(t, err)
	fake := clockwork.NewFakeClockAt(testNow)
	return New(domain.NewClock(fake, loc)), fake
}

func at(offset time.Duration) domain.GTFSTime {
	return domain.GTFSTime{Timestamp: testNow.Add(offset).Unix()}
}

func TestUpsertDepartureReplacesSameTrip(t *testing.T) {
	s, _ := newTestStore(t)

	s.UpsertDeparture(100, domain.Departure{TripID: 1, Departure: at(time.Minute)})
	s.UpsertDeparture(100, domain.Departure{TripID: 1, Departure: at(5 * time.Minute), Cancelled: true})

	deps, ok := s.GetDepartures(100)
	require.True(t, ok)
	assert.Len(t, deps, 1)
	assert.Equal(t, at(5*time.Minute), deps[1].Departure)
	assert.True(t, deps[1].Cancelled)

	s.UpsertDeparture(100, domain.Departure{TripID: 2, Departure: at(time.Minute)})
	deps, _ = s.GetDepartures(100)
	assert.Len(t, deps, 2)
}

func TestUpsertTripLastWriteWins(t *testing.T) {
	s, _ := newTestStore(t)

	s.UpsertTrip(domain.Update{TripID: 1, StartDate: "20240506", Stops: []domain.ScheduledStop{{StopSequence: 1}}})
	s.UpsertTrip(domain.Update{TripID: 1, StartDate: "20240507"})

	u, ok := s.GetTrip(1)
	require.True(t, ok)
	assert.Equal(t, "20240507", u.StartDate)
	assert.Empty(t, u.Stops)

	_, ok = s.GetTrip(2)
	assert.False(t, ok)
}

func TestReadsReturnCopies(t *testing.T) {
	s, _ := newTestStore(t)

	stops := []domain.ScheduledStop{{StopSequence: 1, Departure: at(time.Hour)}}
	s.UpsertTrip(domain.Update{TripID: 1, Stops: stops})
	stops[0].StopSequence = 42

	u, _ := s.GetTrip(1)
	assert.Equal(t, uint32(1), u.Stops[0].StopSequence)
	u.Stops[0].StopSequence = 7

	again, _ := s.GetTrip(1)
	assert.Equal(t, uint32(1), again.Stops[0].StopSequence)

	s.UpsertDeparture(5, domain.Departure{TripID: 1, Departure: at(time.Hour)})
	deps, _ := s.GetDepartures(5)
	delete(deps, 1)
	_, ok := s.GetDeparture(5, 1)
	assert.True(t, ok)
}

func TestEvictNowTrips(t *testing.T) {
	tests := []struct {
		name    string
		stops   []domain.ScheduledStop
		evicted bool
	}{
		{
			name:    "no stops",
			stops:   nil,
			evicted: true,
		},
		{
			name:    "last stop departed",
			stops:   []domain.ScheduledStop{{Departure: at(time.Hour)}, {Departure: at(-time.Second)}},
			evicted: true,
		},
		{
			name:    "last stop in future",
			stops:   []domain.ScheduledStop{{Departure: at(-time.Hour)}, {Departure: at(time.Minute)}},
			evicted: false,
		},
		{
			name:    "last stop departs now",
			stops:   []domain.ScheduledStop{{Departure: at(0)}},
			evicted: false,
		},
		{
			name:    "last stop without departure data",
			stops:   []domain.ScheduledStop{{Arrival: at(time.Hour)}},
			evicted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			s.UpsertTrip(domain.Update{TripID: 9, Stops: tt.stops})

			stats := s.EvictNow()

			_, ok := s.GetTrip(9)
			assert.Equal(t, !tt.evicted, ok)
			if tt.evicted {
				assert.Equal(t, 1, stats.Trips)
			}
		})
	}
}

func TestEvictNowRemovesEmptyStops(t *testing.T) {
	s, clock := newTestStore(t)

	s.UpsertDeparture(1, domain.Departure{TripID: 10, Departure: at(-time.Minute)})
	s.UpsertDeparture(2, domain.Departure{TripID: 10, Departure: at(-time.Minute)})
	s.UpsertDeparture(2, domain.Departure{TripID: 11, Departure: at(10 * time.Minute)})

	stats := s.EvictNow()
	assert.Equal(t, EvictionStats{Departures: 2, Stops: 1}, stats)

	_, ok := s.GetDepartures(1)
	assert.False(t, ok, "stop key must be gone, not left empty")

	deps, ok := s.GetDepartures(2)
	require.True(t, ok)
	assert.Len(t, deps, 1)

	clock.Advance(11 * time.Minute)
	s.EvictNow()

	snap := s.Snapshot()
	assert.Empty(t, snap.Departures)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t)

	s.UpsertTrip(domain.Update{TripID: 1})
	s.UpsertTrip(domain.Update{TripID: 2})
	s.UpsertDeparture(1, domain.Departure{TripID: 1})
	s.UpsertDeparture(1, domain.Departure{TripID: 2})
	s.UpsertDeparture(65, domain.Departure{TripID: 1})

	assert.Equal(t, Stats{Trips: 2, Stops: 2, Departures: 3}, s.Stats())
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 2000; i++ {
			stops := []domain.ScheduledStop{{StopSequence: 1, Departure: at(time.Hour)}, {StopSequence: 2, Departure: at(2 * time.Hour)}}
			s.UpsertTrip(domain.Update{TripID: i % 50, Stops: stops})
			s.UpsertDeparture(i%20, domain.Departure{TripID: i % 50, Departure: at(time.Hour)})
			if i%100 == 0 {
				s.EvictNow()
			}
		}
		close(done)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for id := int64(0); id < 50; id++ {
					if u, ok := s.GetTrip(id); ok {
						assert.Len(t, u.Stops, 2)
					}
					s.GetDeparture(id%20, id)
				}
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, s.Stats().Trips)
	assert.Equal(t, 20, s.Stats().Stops)
}
