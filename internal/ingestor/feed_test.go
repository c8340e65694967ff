package ingestor

import (
	"testing"
	"time"

	p "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"
)

// Helpers for building gtfs-realtime feeds
type stopUpdate struct {
	StopID         string
	StopSequence   uint32
	ArrivalSet     bool
	ArrivalDelay   int32
	ArrivalTime    time.Time
	DepartureSet   bool
	DepartureDelay int32
	DepartureTime  time.Time
	// "" leaves the relationship unset
	SchedRel string
}

type tripUpdate struct {
	TripID      string
	StartDate   string
	StopUpdates []stopUpdate
}

func buildFeed(t *testing.T, tripUpdates []tripUpdate) []byte {
	t.Helper()
	entity := make([]*p.FeedEntity, 0, len(tripUpdates))

	for i, tu := range tripUpdates {
		stus := make([]*p.TripUpdate_StopTimeUpdate, 0, len(tu.StopUpdates))
		for _, su := range tu.StopUpdates {
			stu := &p.TripUpdate_StopTimeUpdate{
				StopSequence: proto.Uint32(su.StopSequence),
			}
			if su.StopID != "" {
				stu.StopId = proto.String(su.StopID)
			}
			switch su.SchedRel {
			case "SKIPPED":
				stu.ScheduleRelationship = p.TripUpdate_StopTimeUpdate_SKIPPED.Enum()
			case "SCHEDULED":
				stu.ScheduleRelationship = p.TripUpdate_StopTimeUpdate_SCHEDULED.Enum()
			case "NO_DATA":
				stu.ScheduleRelationship = p.TripUpdate_StopTimeUpdate_NO_DATA.Enum()
			case "":
			default:
				t.Fatalf("bad SchedRel: %s", su.SchedRel)
			}
			if su.ArrivalSet {
				stu.Arrival = &p.TripUpdate_StopTimeEvent{
					Delay: proto.Int32(su.ArrivalDelay),
					Time:  proto.Int64(su.ArrivalTime.Unix()),
				}
			}
			if su.DepartureSet {
				stu.Departure = &p.TripUpdate_StopTimeEvent{
					Delay: proto.Int32(su.DepartureDelay),
					Time:  proto.Int64(su.DepartureTime.Unix()),
				}
			}
			stus = append(stus, stu)
		}

		trip := &p.TripDescriptor{TripId: proto.String(tu.TripID)}
		if tu.StartDate != "" {
			trip.StartDate = proto.String(tu.StartDate)
		}
		entity = append(entity, &p.FeedEntity{
			Id: proto.String(string(rune('a' + i))),
			TripUpdate: &p.TripUpdate{
				Trip:           trip,
				StopTimeUpdate: stus,
			},
		})
	}

	incrementality := p.FeedHeader_FULL_DATASET
	feed := &p.FeedMessage{
		Header: &p.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      &incrementality,
			Timestamp:           proto.Uint64(uint64(testNow.Unix())),
		},
		Entity: entity,
	}

	data, err := proto.Marshal(feed)
	require.NoError(t, err)
	return data
}
