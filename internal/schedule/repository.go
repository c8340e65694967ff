package schedule

import (
	"context"
	"errors"
	"time"

	"livedepartures/internal/domain"
	"livedepartures/pkg/gtfs"
)

var ErrNotFound = errors.New("not found")

// DepartureQuery selects scheduled departures at one stop.
type DepartureQuery struct {
	StopID int64
	// MinTime is the earliest time of day, "HH:MM:SS".
	MinTime string
	Weekday time.Weekday
	// Date is the service day, YYYYMMDD.
	Date  string
	Limit int
}

// NewDepartureQuery builds the query for departures at stopID from now on,
// where now is already in the reference zone.
func NewDepartureQuery(stopID int64, now time.Time, limit int) DepartureQuery {
	return DepartureQuery{
		StopID:  stopID,
		MinTime: now.Format("15:04:05"),
		Weekday: now.Weekday(),
		Date:    now.Format("20060102"),
		Limit:   limit,
	}
}

// Repository is the read side of the static schedule.
type Repository interface {
	// Departures returns up to q.Limit rows ordered by departure time,
	// restricted to services active on q.Date.
	Departures(ctx context.Context, q DepartureQuery) ([]domain.ScheduledRow, error)
	Agency(ctx context.Context, id int64) (*domain.Agency, error)
	Stop(ctx context.Context, id int64) (*domain.Stop, error)
	Stops(ctx context.Context) ([]*domain.Stop, error)
	Ping(ctx context.Context) error
	Close() error
}

// Importer replaces the whole static schedule with feed.
type Importer interface {
	Import(ctx context.Context, feed *gtfs.Feed, fingerprint string) error
	// Fingerprint returns the hash of the last imported archive, or "".
	Fingerprint(ctx context.Context) (string, error)
}

// Store is a repository that can also be loaded.
type Store interface {
	Repository
	Importer
}
