package store

import (
	"time"

	"livedepartures/internal/domain"
)

// UpdateStore indexes the live feed by trip and by stop. It is written by
// the feed poller and read concurrently by request handlers. Every value
// handed out is a copy.
type UpdateStore struct {
	clock *domain.Clock

	trips *shardedMap[*domain.Update]
	// stop_id -> trip_id -> departure
	stops *shardedMap[map[int64]domain.Departure]
}

func New(clock *domain.Clock) *UpdateStore {
	return &UpdateStore{
		clock: clock,
		trips: newShardedMap[*domain.Update](),
		stops: newShardedMap[map[int64]domain.Departure](),
	}
}

// UpsertTrip replaces whatever is stored for u.TripID.
func (s *UpdateStore) UpsertTrip(u domain.Update) {
	c := u.Clone()
	sh := s.trips.shardFor(u.TripID)
	sh.mu.Lock()
	sh.m[u.TripID] = &c
	sh.mu.Unlock()
}

// UpsertDeparture stores d for the stop, replacing any entry with the same
// trip id.
func (s *UpdateStore) UpsertDeparture(stopID int64, d domain.Departure) {
	sh := s.stops.shardFor(stopID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	set, ok := sh.m[stopID]
	if !ok {
		set = make(map[int64]domain.Departure, 1)
		sh.m[stopID] = set
	}
	set[d.TripID] = d
}

func (s *UpdateStore) GetTrip(tripID int64) (domain.Update, bool) {
	sh := s.trips.shardFor(tripID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	u, ok := sh.m[tripID]
	if !ok {
		return domain.Update{}, false
	}
	return u.Clone(), true
}

// GetDepartures returns the live departures at a stop keyed by trip id.
func (s *UpdateStore) GetDepartures(stopID int64) (map[int64]domain.Departure, bool) {
	sh := s.stops.shardFor(stopID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	set, ok := sh.m[stopID]
	if !ok {
		return nil, false
	}
	result := make(map[int64]domain.Departure, len(set))
	for k, v := range set {
		result[k] = v
	}
	return result, true
}

func (s *UpdateStore) GetDeparture(stopID, tripID int64) (domain.Departure, bool) {
	sh := s.stops.shardFor(stopID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	d, ok := sh.m[stopID][tripID]
	return d, ok
}

type EvictionStats struct {
	Trips      int `json:"trips"`
	Departures int `json:"departures"`
	Stops      int `json:"stops"`
}

// EvictNow drops trips whose last stop has departed (or that have no stops),
// departures that are in the past, and stops left without departures.
// Keys are snapshotted per shard and each key is re-checked under its own
// short write lock.
func (s *UpdateStore) EvictNow() EvictionStats {
	now := s.clock.Now()
	var stats EvictionStats

	for _, sh := range s.trips.shards {
		for _, id := range sh.keys() {
			sh.mu.Lock()
			if u, ok := sh.m[id]; ok && tripExpired(u, now) {
				delete(sh.m, id)
				stats.Trips++
			}
			sh.mu.Unlock()
		}
	}

	for _, sh := range s.stops.shards {
		for _, id := range sh.keys() {
			sh.mu.Lock()
			if set, ok := sh.m[id]; ok {
				for tripID, d := range set {
					if d.Departure.IsInPast(now) {
						delete(set, tripID)
						stats.Departures++
					}
				}
				if len(set) == 0 {
					delete(sh.m, id)
					stats.Stops++
				}
			}
			sh.mu.Unlock()
		}
	}

	return stats
}

func tripExpired(u *domain.Update, now time.Time) bool {
	last, ok := u.LastStop()
	if !ok {
		return true
	}
	return last.Departure.IsInPast(now)
}

type Stats struct {
	Trips      int `json:"trips"`
	Stops      int `json:"stops"`
	Departures int `json:"departures"`
}

func (s *UpdateStore) Stats() Stats {
	st := Stats{
		Trips: s.trips.len(),
	}
	for _, sh := range s.stops.shards {
		sh.mu.RLock()
		st.Stops += len(sh.m)
		for _, set := range sh.m {
			st.Departures += len(set)
		}
		sh.mu.RUnlock()
	}
	return st
}

// Snapshot is a deep copy of both indices.
type Snapshot struct {
	Trips      map[int64]domain.Update
	Departures map[int64]map[int64]domain.Departure
}

func (s *UpdateStore) Snapshot() Snapshot {
	snap := Snapshot{
		Trips:      make(map[int64]domain.Update),
		Departures: make(map[int64]map[int64]domain.Departure),
	}
	for _, sh := range s.trips.shards {
		sh.mu.RLock()
		for id, u := range sh.m {
			snap.Trips[id] = u.Clone()
		}
		sh.mu.RUnlock()
	}
	for _, sh := range s.stops.shards {
		sh.mu.RLock()
		for id, set := range sh.m {
			cp := make(map[int64]domain.Departure, len(set))
			for k, v := range set {
				cp[k] = v
			}
			snap.Departures[id] = cp
		}
		sh.mu.RUnlock()
	}
	return snap
}
