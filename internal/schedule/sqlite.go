package schedule

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"livedepartures/internal/domain"
	"livedepartures/pkg/gtfs"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore serves the static schedule from a SQLite file.
type SQLiteStore struct {
	conn    *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{conn: conn, logger: logger.With("component", "sqlite_schedule")}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			s.logger.Warn("failed to set pragma", "pragma", pragma, "error", err)
		}
	}

	if err := s.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	s.logger.Info("connected to SQLite database", "path", path)
	return s, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLiteStore) Departures(ctx context.Context, q DepartureQuery) ([]domain.ScheduledRow, error) {
	rows, err := s.conn.QueryContext(ctx, sqliteDeparturesQuery, sqliteDeparturesArgs(q)...)
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

func (s *SQLiteStore) Agency(ctx context.Context, id int64) (*domain.Agency, error) {
	var a domain.Agency
	var lang sql.NullString
	err := s.conn.QueryRowContext(ctx,
		`SELECT `+agencyColumns+` FROM Agency WHERE agency_id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.URL, &a.Timezone, &lang)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agency: %w", err)
	}
	if lang.Valid {
		a.Lang = &lang.String
	}
	return &a, nil
}

func (s *SQLiteStore) Stop(ctx context.Context, id int64) (*domain.Stop, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+stopColumns+` FROM Stops WHERE stop_id = ?`, id)
	stop, err := scanStop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stop: %w", err)
	}
	return stop, nil
}

func (s *SQLiteStore) Stops(ctx context.Context) ([]*domain.Stop, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+stopColumns+` FROM Stops ORDER BY stop_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	defer rows.Close()

	var result []*domain.Stop
	for rows.Next() {
		stop, err := scanStop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop: %w", err)
		}
		result = append(result, stop)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStop(row scanner) (*domain.Stop, error) {
	var st domain.Stop
	var parent sql.NullInt64
	var platform sql.NullString
	if err := row.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &parent, &platform); err != nil {
		return nil, err
	}
	if parent.Valid {
		st.ParentStation = &parent.Int64
	}
	st.PlatformCode = platform.String
	return &st, nil
}

func (s *SQLiteStore) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.conn.QueryRowContext(ctx, `SELECT fingerprint FROM ImportMeta WHERE id = 1`).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read import fingerprint: %w", err)
	}
	return fp, nil
}

// Import replaces every table in one transaction, so readers see either
// the old or the new schedule.
func (s *SQLiteStore) Import(ctx context.Context, feed *gtfs.Feed, fingerprint string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"StopTimes", "Trips", "Routes", "Stops", "Agency", "Calendar", "CalendarDates"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := insertAll(ctx, tx, `INSERT OR REPLACE INTO Agency (`+agencyColumns+`) VALUES (?, ?, ?, ?, ?)`,
		len(feed.Agencies), func(i int) []any {
			a := feed.Agencies[i]
			return []any{a.ID, a.Name, a.URL, a.Timezone, a.Lang}
		}); err != nil {
		return fmt.Errorf("failed to import agencies: %w", err)
	}

	if err := insertAll(ctx, tx, `INSERT OR REPLACE INTO Stops (stop_id, stop_name, stop_lat, stop_lon, parent_station, platform_code) VALUES (?, ?, ?, ?, ?, ?)`,
		len(feed.Stops), func(i int) []any {
			st := feed.Stops[i]
			return []any{st.ID, st.Name, st.Lat, st.Lon, st.ParentStation, nullIfEmpty(st.PlatformCode)}
		}); err != nil {
		return fmt.Errorf("failed to import stops: %w", err)
	}

	if err := insertAll(ctx, tx, `INSERT OR REPLACE INTO Routes (route_id, route_short_name, route_long_name, agency_id, route_type, route_color, route_text_color) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(feed.Routes), func(i int) []any {
			r := feed.Routes[i]
			return []any{r.ID, r.ShortName, r.LongName, r.AgencyID, int(r.Type), r.Color, r.TextColor}
		}); err != nil {
		return fmt.Errorf("failed to import routes: %w", err)
	}

	if err := insertAll(ctx, tx, `INSERT OR REPLACE INTO Trips (route_id, service_id, trip_id) VALUES (?, ?, ?)`,
		len(feed.Trips), func(i int) []any {
			t := feed.Trips[i]
			return []any{t.RouteID, t.ServiceID, t.ID}
		}); err != nil {
		return fmt.Errorf("failed to import trips: %w", err)
	}

	if err := insertAll(ctx, tx, `INSERT INTO StopTimes (trip_id, arrival_time, departure_time, stop_id, stop_sequence, pickup_type, drop_off_type) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(feed.StopTimes), func(i int) []any {
			st := feed.StopTimes[i]
			return []any{st.TripID, st.ArrivalTime, st.DepartureTime, st.StopID, st.StopSequence, st.PickupType, st.DropOffType}
		}); err != nil {
		return fmt.Errorf("failed to import stop times: %w", err)
	}

	if err := insertAll(ctx, tx, `INSERT OR REPLACE INTO Calendar (service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(feed.Calendars), func(i int) []any {
			c := feed.Calendars[i]
			return []any{c.ServiceID, b2i(c.Monday), b2i(c.Tuesday), b2i(c.Wednesday), b2i(c.Thursday), b2i(c.Friday), b2i(c.Saturday), b2i(c.Sunday), c.StartDate, c.EndDate}
		}); err != nil {
		return fmt.Errorf("failed to import calendars: %w", err)
	}

	if err := insertAll(ctx, tx, `INSERT OR REPLACE INTO CalendarDates (service_id, date, exception_type) VALUES (?, ?, ?)`,
		len(feed.CalendarDates), func(i int) []any {
			cd := feed.CalendarDates[i]
			return []any{cd.ServiceID, cd.Date, cd.ExceptionType}
		}); err != nil {
		return fmt.Errorf("failed to import calendar dates: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO ImportMeta (id, fingerprint, imported_at) VALUES (1, ?, ?)`,
		fingerprint, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record import: %w", err)
	}

	if err := tx.Commit(); err != nil {
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

func insertAll(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return err
		}
	}
	return nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
