package domain

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
)

// ReferenceZone is the zone in which static time-of-day strings are read.
const ReferenceZone = "Europe/Berlin"

// Clock pairs a time source with the reference zone so every "now" in the
// service is taken from one place.
type Clock struct {
	source clockwork.Clock
	loc    *time.Location
}

func NewClock(source clockwork.Clock, loc *time.Location) *Clock {
	return &Clock{source: source, loc: loc}
}

// NewRealClock returns a wall clock in the named zone.
func NewRealClock(zone string) (*Clock, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return NewClock(clockwork.NewRealClock(), loc), nil
}

func (c *Clock) Now() time.Time {
	return c.source.Now().In(c.loc)
}

func (c *Clock) Location() *time.Location {
	return c.loc
}

func (c *Clock) After(d time.Duration) <-chan time.Time {
	return c.source.After(d)
}

func (c *Clock) Since(t time.Time) time.Duration {
	return c.source.Since(t)
}
