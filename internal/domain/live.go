package domain

import "time"

// GTFSTime is a live event time with its delay against the schedule.
// A zero Timestamp means the feed carried no time for the event.
type GTFSTime struct {
	Delay     int32 `json:"delay"`
	Timestamp int64 `json:"timestamp"`
}

func (t GTFSTime) IsInPast(now time.Time) bool {
	return t.Timestamp < now.Unix()
}

func (t GTFSTime) IsInFuture(now time.Time) bool {
	return !t.IsInPast(now)
}

func (t GTFSTime) IsZero() bool {
	return t.Timestamp == 0
}

// Clock renders the instant as HH:MM:SS in loc.
func (t GTFSTime) Clock(loc *time.Location) string {
	return time.Unix(t.Timestamp, 0).In(loc).Format("15:04:05")
}

// ScheduledStop is one stop visit within a trip update.
type ScheduledStop struct {
	StopSequence uint32   `json:"stop_sequence"`
	Arrival      GTFSTime `json:"arrival"`
	Departure    GTFSTime `json:"departure"`
	Canceled     bool     `json:"canceled"`
}

// Update is the latest known state of a trip. NextStopIndex is carried for
// clients but never computed and stays 0.
type Update struct {
	TripID        int64           `json:"trip_id"`
	StartDate     string          `json:"start_date"`
	NextStopIndex int64           `json:"next_stop_index"`
	Stops         []ScheduledStop `json:"stops"`
	Canceled      bool            `json:"canceled"`
}

// LastStop returns the final stop of the trip, if any.
func (u *Update) LastStop() (ScheduledStop, bool) {
	if len(u.Stops) == 0 {
		return ScheduledStop{}, false
	}
	return u.Stops[len(u.Stops)-1], true
}

// Clone returns a copy that shares no memory with u.
func (u *Update) Clone() Update {
	c := *u
	if u.Stops != nil {
		c.Stops = make([]ScheduledStop, len(u.Stops))
		copy(c.Stops, u.Stops)
	}
	return c
}

// Departure is the live record of one trip at one stop.
type Departure struct {
	TripID    int64    `json:"trip_id"`
	StartDate string   `json:"start_date"`
	Arrival   GTFSTime `json:"arrival"`
	Departure GTFSTime `json:"departure"`
	Cancelled bool     `json:"cancelled"`
}

// BoardEntry is one row of a departure board after merging live data.
type BoardEntry struct {
	TripID             int64  `json:"trip_id"`
	RouteID            int64  `json:"route_id"`
	ServiceID          int64  `json:"service_id"`
	RouteShortName     string `json:"route_short_name"`
	DepartureTimestamp int64  `json:"departure_timestamp"`
	Delay              int32  `json:"delay"`
	Live               bool   `json:"live"`
	Cancelled          bool   `json:"cancelled"`
}

// FeedDelta is what one successful feed cycle changed, grouped for fan-out.
type FeedDelta struct {
	CycleID    string                `json:"cycle_id"`
	At         time.Time             `json:"at"`
	Trips      []Update              `json:"trips"`
	Departures map[int64][]Departure `json:"departures"`
}

// StopIDs lists the stops touched by the delta.
func (d *FeedDelta) StopIDs() []int64 {
	ids := make([]int64, 0, len(d.Departures))
	for id := range d.Departures {
		ids = append(ids, id)
	}
	return ids
}
