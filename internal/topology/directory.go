// Package topology serves the network's stops from the graph store, or from
// the static schedule when no graph is configured.
package topology

import (
	"context"
	"errors"

	"livedepartures/internal/domain"
	"livedepartures/internal/schedule"
)

var ErrNotFound = errors.New("stop not found")

type Directory interface {
	AllStops(ctx context.Context) ([]*domain.Stop, error)
	Stop(ctx context.Context, id int64) (*domain.Stop, error)
}

// ScheduleDirectory answers from the static schedule's Stops table.
type ScheduleDirectory struct {
	repo schedule.Repository
}

func NewScheduleDirectory(repo schedule.Repository) *ScheduleDirectory {
	return &ScheduleDirectory{repo: repo}
}

func (d *ScheduleDirectory) AllStops(ctx context.Context) ([]*domain.Stop, error) {
	return d.repo.Stops(ctx)
}

func (d *ScheduleDirectory) Stop(ctx context.Context, id int64) (*domain.Stop, error) {
	stop, err := d.repo.Stop(ctx, id)
	if errors.Is(err, schedule.ErrNotFound) {
		return nil, ErrNotFound
	}
	return stop, err
}
