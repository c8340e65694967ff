package ingestor

import (
	"fmt"
	"strconv"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"livedepartures/internal/domain"
)

// Writer is the mutation side of the update store.
type Writer interface {
	UpsertTrip(u domain.Update)
	UpsertDeparture(stopID int64, d domain.Departure)
}

// Decode parses a binary feed message. Nothing is written anywhere until
// the whole body has decoded. Missing required fields are tolerated, so an
// empty body (304 Not Modified) decodes as a message without entities.
func Decode(body []byte) (*gtfs.FeedMessage, error) {
	feed := &gtfs.FeedMessage{}
	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("unmarshal feed message: %w", err)
	}
	return feed, nil
}

type FoldStats struct {
	Entities         int `json:"entities"`
	Trips            int `json:"trips"`
	Departures       int `json:"departures"`
	SkippedEntities  int `json:"skipped_entities"`
	SkippedStopTimes int `json:"skipped_stop_times"`
}

// Fold writes every trip update in feed into w, in feed order, and returns
// what was written grouped by trip and by stop.
func Fold(feed *gtfs.FeedMessage, w Writer) (FoldStats, []domain.Update, map[int64][]domain.Departure) {
	stats := FoldStats{Entities: len(feed.GetEntity())}
	var trips []domain.Update
	byStop := make(map[int64]map[int64]domain.Departure)

	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		tripID, err := strconv.ParseInt(tu.GetTrip().GetTripId(), 10, 64)
		if err != nil {
			stats.SkippedEntities++
			continue
		}
		startDate := tu.GetTrip().GetStartDate()

		stops := make([]domain.ScheduledStop, 0, len(tu.GetStopTimeUpdate()))
		for _, stu := range tu.GetStopTimeUpdate() {
			arrival := eventTime(stu.GetArrival())
			departure := eventTime(stu.GetDeparture())
			canceled := isSkipped(stu)

			stopID, err := strconv.ParseInt(stu.GetStopId(), 10, 64)
			if err != nil {
				stats.SkippedStopTimes++
				continue
			}

			dep := domain.Departure{
				TripID:    tripID,
				StartDate: startDate,
				Arrival:   arrival,
				Departure: departure,
				Cancelled: canceled,
			}
			w.UpsertDeparture(stopID, dep)
			if byStop[stopID] == nil {
				byStop[stopID] = make(map[int64]domain.Departure)
			}
			byStop[stopID][tripID] = dep
			stats.Departures++

			stops = append(stops, domain.ScheduledStop{
				StopSequence: stu.GetStopSequence(),
				Arrival:      arrival,
				Departure:    departure,
				Canceled:     canceled,
			})
		}

		u := domain.Update{
			TripID:        tripID,
			StartDate:     startDate,
			NextStopIndex: 0,
			Stops:         stops,
			Canceled:      allCanceled(stops),
		}
		w.UpsertTrip(u)
		trips = append(trips, u)
		stats.Trips++
	}

	departures := make(map[int64][]domain.Departure, len(byStop))
	for stopID, set := range byStop {
		list := make([]domain.Departure, 0, len(set))
		for _, d := range set {
			list = append(list, d)
		}
		departures[stopID] = list
	}

	return stats, trips, departures
}

func eventTime(ev *gtfs.TripUpdate_StopTimeEvent) domain.GTFSTime {
	if ev == nil {
		return domain.GTFSTime{}
	}
	return domain.GTFSTime{
		Delay:     ev.GetDelay(),
		Timestamp: ev.GetTime(),
	}
}

// isSkipped treats a missing relationship as SKIPPED. The proto default
// would be SCHEDULED, so the raw field is inspected instead of the getter.
func isSkipped(stu *gtfs.TripUpdate_StopTimeUpdate) bool {
	rel := stu.ScheduleRelationship
	return rel == nil || *rel == gtfs.TripUpdate_StopTimeUpdate_SKIPPED
}

func allCanceled(stops []domain.ScheduledStop) bool {
	for _, s := range stops {
		if !s.Canceled {
			return false
		}
	}
	return true
}
