package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGTFSTimePastFuture(t *testing.T) {
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		ts     int64
		past   bool
		future bool
	}{
		{"one second ago", now.Unix() - 1, true, false},
		{"exactly now", now.Unix(), false, true},
		{"one second ahead", now.Unix() + 1, false, true},
		{"zero timestamp", 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GTFSTime{Timestamp: tt.ts}
			assert.Equal(t, tt.past, g.IsInPast(now))
			assert.Equal(t, tt.future, g.IsInFuture(now))
		})
	}
}

func TestGTFSTimeClock(t *testing.T) {
	loc, err := time.LoadLocation(ReferenceZone)
	require.NoError(t, err)

	ts := time.Date(2024, 7, 1, 8, 15, 30, 0, loc).Unix()
	assert.Equal(t, "08:15:30", GTFSTime{Timestamp: ts}.Clock(loc))
	assert.True(t, GTFSTime{Delay: 60}.IsZero())
}

func TestUpdateClone(t *testing.T) {
	u := Update{
		TripID: 7,
		Stops:  []ScheduledStop{{StopSequence: 1}, {StopSequence: 2}},
	}

	c := u.Clone()
	c.Stops[0].StopSequence = 99

	assert.Equal(t, uint32(1), u.Stops[0].StopSequence)
	last, ok := u.LastStop()
	require.True(t, ok)
	assert.Equal(t, uint32(2), last.StopSequence)

	_, ok = (&Update{}).LastStop()
	assert.False(t, ok)
}

func TestClockUsesReferenceZone(t *testing.T) {
	loc, err := time.LoadLocation(ReferenceZone)
	require.NoError(t, err)

	fake := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC))
	c := NewClock(fake, loc)

	now := c.Now()
	assert.Equal(t, loc, now.Location())
	assert.Equal(t, 2, now.Day())
	assert.Equal(t, 0, now.Hour())

	fake.Advance(time.Hour)
	assert.Equal(t, 1, c.Now().Hour())
}
