package schedule

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livedepartures/internal/domain"
	"livedepartures/pkg/gtfs"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresStore serves the static schedule from PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func OpenPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	logger = logger.With("component", "postgres_schedule")
	logger.Info("connected to PostgreSQL")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Departures(ctx context.Context, q DepartureQuery) ([]domain.ScheduledRow, error) {
	rows, err := s.pool.Query(ctx, postgresDeparturesQuery, postgresDeparturesArgs(q)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query departures: %w", err)
	}
	defer rows.Close()

	var result []domain.ScheduledRow
	for rows.Next() {
		var r domain.ScheduledRow
		if err := rows.Scan(&r.TripID, &r.RouteID, &r.ServiceID, &r.RouteShortName, &r.DepartureTime); err != nil {
			return nil, fmt.Errorf("failed to scan departure: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Agency(ctx context.Context, id int64) (*domain.Agency, error) {
	var a domain.Agency
	err := s.pool.QueryRow(ctx,
		`SELECT `+agencyColumns+` FROM agency WHERE agency_id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.URL, &a.Timezone, &a.Lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agency: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) Stop(ctx context.Context, id int64) (*domain.Stop, error) {
	st, err := scanPostgresStop(s.pool.QueryRow(ctx, `SELECT `+stopColumns+` FROM stops WHERE stop_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stop: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) Stops(ctx context.Context) ([]*domain.Stop, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stopColumns+` FROM stops ORDER BY stop_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var result []*domain.Stop
	for rows.Next() {
		st, err := scanPostgresStop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.pool.QueryRow(ctx, `SELECT fingerprint FROM importmeta WHERE id = 1`).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read import fingerprint: %w", err)
	}
	return fp, nil
}

// Import truncates and bulk-loads every table with COPY inside one
// transaction.
func (s *PostgresStore) Import(ctx context.Context, feed *gtfs.Feed, fingerprint string) error {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE stoptimes, trips, routes, stops, agency, calendar, calendardates`); err != nil {
		return fmt.Errorf("failed to truncate schedule: %w", err)
	}

	copies := []struct {
		table   string
		columns []string
		n       int
		row     func(i int) ([]any, error)
	}{
		{"agency", []string{"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang"}, len(feed.Agencies),
			func(i int) ([]any, error) {
				a := feed.Agencies[i]
				return []any{a.ID, a.Name, a.URL, a.Timezone, a.Lang}, nil
			}},
		{"stops", []string{"stop_id", "stop_name", "stop_lat", "stop_lon", "parent_station", "platform_code"}, len(feed.Stops),
			func(i int) ([]any, error) {
				st := feed.Stops[i]
				return []any{st.ID, st.Name, st.Lat, st.Lon, st.ParentStation, nullIfEmpty(st.PlatformCode)}, nil
			}},
		{"routes", []string{"route_id", "route_short_name", "route_long_name", "agency_id", "route_type", "route_color", "route_text_color"}, len(feed.Routes),
			func(i int) ([]any, error) {
				r := feed.Routes[i]
				return []any{r.ID, r.ShortName, r.LongName, r.AgencyID, int32(r.Type), r.Color, r.TextColor}, nil
			}},
		{"trips", []string{"route_id", "service_id", "trip_id"}, len(feed.Trips),
			func(i int) ([]any, error) {
				t := feed.Trips[i]
				return []any{t.RouteID, t.ServiceID, t.ID}, nil
			}},
		{"stoptimes", []string{"trip_id", "arrival_time", "departure_time", "stop_id", "stop_sequence", "pickup_type", "drop_off_type"}, len(feed.StopTimes),
			func(i int) ([]any, error) {
				st := feed.StopTimes[i]
				return []any{st.TripID, st.ArrivalTime, st.DepartureTime, st.StopID, int32(st.StopSequence), optionalInt32(st.PickupType), optionalInt32(st.DropOffType)}, nil
			}},
		{"calendar", []string{"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "start_date", "end_date"}, len(feed.Calendars),
			func(i int) ([]any, error) {
				c := feed.Calendars[i]
				return []any{c.ServiceID, int16(b2i(c.Monday)), int16(b2i(c.Tuesday)), int16(b2i(c.Wednesday)), int16(b2i(c.Thursday)),
					int16(b2i(c.Friday)), int16(b2i(c.Saturday)), int16(b2i(c.Sunday)), c.StartDate, c.EndDate}, nil
			}},
		{"calendardates", []string{"service_id", "date", "exception_type"}, len(feed.CalendarDates),
			func(i int) ([]any, error) {
				cd := feed.CalendarDates[i]
				return []any{cd.ServiceID, cd.Date, int32(cd.ExceptionType)}, nil
			}},
	}

	for _, c := range copies {
		if c.n == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromSlice(c.n, c.row)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", c.table, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO importmeta (id, fingerprint, imported_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET fingerprint = EXCLUDED.fingerprint, imported_at = EXCLUDED.imported_at
	`, fingerprint); err != nil {
		return fmt.Errorf("failed to record import: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}

	s.logger.Info("imported static schedule",
		"stops", len(feed.Stops),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func scanPostgresStop(row pgx.Row) (*domain.Stop, error) {
	var st domain.Stop
	var platform *string
	if err := row.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &st.ParentStation, &platform); err != nil {
		return nil, err
	}
	if platform != nil {
		st.PlatformCode = *platform
	}
	return &st, nil
}

func optionalInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}
