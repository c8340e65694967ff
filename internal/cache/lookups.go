package cache

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"livedepartures/internal/domain"
	"livedepartures/internal/schedule"
	"livedepartures/internal/topology"
)

// L2 is a shared cache behind the in-process one, in practice Redis.
type L2 interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSONCompressed(ctx context.Context, key string, dest any) (bool, error)
	SetJSONCompressed(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

// Lookups serves agency and stop point lookups through an in-process cache
// and an optional L2. Not-found results are never cached.
type Lookups struct {
	repo   schedule.Repository
	dir    topology.Directory
	l1     *gocache.Cache
	l2     L2
	ttl    time.Duration
	logger *slog.Logger
}

func NewLookups(repo schedule.Repository, dir topology.Directory, l2 L2, ttl time.Duration, logger *slog.Logger) *Lookups {
	return &Lookups{
		repo:   repo,
		dir:    dir,
		l1:     gocache.New(ttl, 2*ttl),
		l2:     l2,
		ttl:    ttl,
		logger: logger.With("component", "lookups"),
	}
}

func cached[T any](ctx context.Context, l *Lookups, key string, compressed bool, load func() (T, error)) (T, error) {
	if v, ok := l.l1.Get(key); ok {
		return v.(T), nil
	}

	var value T
	if l.l2 != nil {
		var found bool
		var err error
		if compressed {
			found, err = l.l2.GetJSONCompressed(ctx, key, &value)
		} else {
			found, err = l.l2.GetJSON(ctx, key, &value)
		}
		if err != nil {
			l.logger.Warn("l2 cache read failed", "key", key, "error", err)
		} else if found {
			l.l1.Set(key, value, gocache.DefaultExpiration)
			return value, nil
		}
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	l.l1.Set(key, value, gocache.DefaultExpiration)
	if l.l2 != nil {
		var setErr error
		if compressed {
			setErr = l.l2.SetJSONCompressed(ctx, key, value, l.ttl)
		} else {
			setErr = l.l2.SetJSON(ctx, key, value, l.ttl)
		}
		if setErr != nil {
			l.logger.Warn("l2 cache write failed", "key", key, "error", setErr)
		}
	}
	return value, nil
}

func (l *Lookups) Agency(ctx context.Context, id int64) (*domain.Agency, error) {
	return cached(ctx, l, KeyAgency(id), false, func() (*domain.Agency, error) {
		return l.repo.Agency(ctx, id)
	})
}

func (l *Lookups) Stop(ctx context.Context, id int64) (*domain.Stop, error) {
	return cached(ctx, l, KeyStop(id), false, func() (*domain.Stop, error) {
		return l.dir.Stop(ctx, id)
	})
}

func (l *Lookups) AllStops(ctx context.Context) ([]*domain.Stop, error) {
	return cached(ctx, l, KeyStops, true, func() ([]*domain.Stop, error) {
		return l.dir.AllStops(ctx)
	})
}

// primeStops fills the in-process cache with single-stop entries.
func (l *Lookups) primeStops(stops []*domain.Stop) {
	for _, stop := range stops {
		l.l1.Set(KeyStop(stop.ID), stop, gocache.DefaultExpiration)
	}
}

// Invalidate drops every cached lookup, e.g. after a schedule import.
func (l *Lookups) Invalidate(ctx context.Context) {
	l.l1.Flush()
	if l.l2 != nil {
		if err := l.l2.DeletePattern(ctx, "*"); err != nil {
			l.logger.Warn("failed to clear l2 cache", "error", err)
		}
	}
}

func (l *Lookups) ItemCount() int {
	return l.l1.ItemCount()
}
