package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"livedepartures/internal/domain"
)

// Feed is the static schedule as rows ready for import.
type Feed struct {
	Agencies      []domain.Agency
	Stops         []domain.Stop
	Routes        []domain.Route
	Trips         []domain.Trip
	StopTimes     []domain.StopTime
	Calendars     []domain.Calendar
	CalendarDates []domain.CalendarDate

	// rows dropped because an id was not numeric, per file
	Skipped map[string]int
}

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		logger: logger.With("component", "gtfs_parser"),
	}
}

type fileParser struct {
	name     string
	required bool
	parse    func(p *Parser, rc io.Reader, feed *Feed) error
}

// Files are parsed in this order. Only stops, routes, trips and
// stop_times are required.
var fileParsers = []fileParser{
	{"agency.txt", false, (*Parser).parseAgencies},
	{"stops.txt", true, (*Parser).parseStops},
	{"routes.txt", true, (*Parser).parseRoutes},
	{"trips.txt", true, (*Parser).parseTrips},
	{"stop_times.txt", true, (*Parser).parseStopTimes},
	{"calendar.txt", false, (*Parser).parseCalendars},
	{"calendar_dates.txt", false, (*Parser).parseCalendarDates},
}

func (p *Parser) Parse(reader *zip.Reader) (*Feed, error) {
	totalStart := time.Now()
	p.logger.Info("starting GTFS parsing")

	feed := &Feed{Skipped: make(map[string]int)}

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
	}

	for _, fp := range fileParsers {
		file, ok := fileMap[fp.name]
		if !ok {
			if fp.required {
				return nil, fmt.Errorf("missing required file %s", fp.name)
			}
			p.logger.Debug("optional file not in archive", "name", fp.name)
			continue
		}

		start := time.Now()
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fp.name, err)
		}
		err = fp.parse(p, rc, feed)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", fp.name, err)
		}
		p.logger.Info("parsed file",
			"name", fp.name,
			"skipped_rows", feed.Skipped[fp.name],
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	p.logger.Info("GTFS parsing completed",
		"total_duration_ms", time.Since(totalStart).Milliseconds(),
		"agencies", len(feed.Agencies),
		"stops", len(feed.Stops),
		"routes", len(feed.Routes),
		"trips", len(feed.Trips),
		"stop_times", len(feed.StopTimes),
		"calendars", len(feed.Calendars),
		"calendar_dates", len(feed.CalendarDates),
	)

	return feed, nil
}

// eachRecord calls fn for every data row of a CSV file.
func eachRecord(rc io.Reader, fn func(row row) error) error {
	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return err
	}
	idx := makeIndex(header)

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row{record: record, idx: idx}); err != nil {
			return err
		}
	}
}

type row struct {
	record []string
	idx    map[string]int
}

func (r row) get(field string) string {
	if i, ok := r.idx[field]; ok && i < len(r.record) {
		return strings.TrimSpace(r.record[i])
	}
	return ""
}

func (r row) id(field string) (int64, bool) {
	v, err := strconv.ParseInt(r.get(field), 10, 64)
	return v, err == nil
}

func (r row) optionalID(field string) *int64 {
	if v, ok := r.id(field); ok {
		return &v
	}
	return nil
}

func (r row) optionalInt(field string) *int {
	if v, err := strconv.Atoi(r.get(field)); err == nil {
		return &v
	}
	return nil
}

func (r row) flag(field string) bool {
	return r.get(field) == "1"
}

func (p *Parser) parseAgencies(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		id, ok := r.id("agency_id")
		if !ok {
			feed.Skipped["agency.txt"]++
			return nil
		}
		a := domain.Agency{
			ID:       id,
			Name:     r.get("agency_name"),
			URL:      r.get("agency_url"),
			Timezone: r.get("agency_timezone"),
		}
		if lang := r.get("agency_lang"); lang != "" {
			a.Lang = &lang
		}
		feed.Agencies = append(feed.Agencies, a)
		return nil
	})
}

func (p *Parser) parseStops(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		id, ok := r.id("stop_id")
		if !ok {
			feed.Skipped["stops.txt"]++
			return nil
		}
		lat, _ := strconv.ParseFloat(r.get("stop_lat"), 64)
		lon, _ := strconv.ParseFloat(r.get("stop_lon"), 64)
		feed.Stops = append(feed.Stops, domain.Stop{
			ID:            id,
			Name:          r.get("stop_name"),
			Lat:           lat,
			Lon:           lon,
			ParentStation: r.optionalID("parent_station"),
			PlatformCode:  r.get("platform_code"),
		})
		return nil
	})
}

func (p *Parser) parseRoutes(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		id, ok := r.id("route_id")
		if !ok {
			feed.Skipped["routes.txt"]++
			return nil
		}
		routeType := 3
		if v, err := strconv.Atoi(r.get("route_type")); err == nil {
			routeType = v
		}
		feed.Routes = append(feed.Routes, domain.Route{
			ID:        id,
			AgencyID:  r.optionalID("agency_id"),
			ShortName: r.get("route_short_name"),
			LongName:  r.get("route_long_name"),
			Type:      domain.RouteType(routeType),
			Color:     r.get("route_color"),
			TextColor: r.get("route_text_color"),
		})
		return nil
	})
}

func (p *Parser) parseTrips(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		tripID, ok1 := r.id("trip_id")
		routeID, ok2 := r.id("route_id")
		serviceID, ok3 := r.id("service_id")
		if !ok1 || !ok2 || !ok3 {
			feed.Skipped["trips.txt"]++
			return nil
		}
		feed.Trips = append(feed.Trips, domain.Trip{
			ID:        tripID,
			RouteID:   routeID,
			ServiceID: serviceID,
		})
		return nil
	})
}

func (p *Parser) parseStopTimes(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		tripID, ok1 := r.id("trip_id")
		stopID, ok2 := r.id("stop_id")
		if !ok1 || !ok2 {
			feed.Skipped["stop_times.txt"]++
			return nil
		}
		seq, _ := strconv.Atoi(r.get("stop_sequence"))
		feed.StopTimes = append(feed.StopTimes, domain.StopTime{
			TripID:        tripID,
			StopID:        stopID,
			ArrivalTime:   NormalizeTime(r.get("arrival_time")),
			DepartureTime: NormalizeTime(r.get("departure_time")),
			StopSequence:  seq,
			PickupType:    r.optionalInt("pickup_type"),
			DropOffType:   r.optionalInt("drop_off_type"),
		})
		return nil
	})
}

func (p *Parser) parseCalendars(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		id, ok := r.id("service_id")
		if !ok {
			feed.Skipped["calendar.txt"]++
			return nil
		}
		feed.Calendars = append(feed.Calendars, domain.Calendar{
			ServiceID: id,
			Monday:    r.flag("monday"),
			Tuesday:   r.flag("tuesday"),
			Wednesday: r.flag("wednesday"),
			Thursday:  r.flag("thursday"),
			Friday:    r.flag("friday"),
			Saturday:  r.flag("saturday"),
			Sunday:    r.flag("sunday"),
			StartDate: r.get("start_date"),
			EndDate:   r.get("end_date"),
		})
		return nil
	})
}

func (p *Parser) parseCalendarDates(rc io.Reader, feed *Feed) error {
	return eachRecord(rc, func(r row) error {
		id, ok := r.id("service_id")
		if !ok {
			feed.Skipped["calendar_dates.txt"]++
			return nil
		}
		exception, _ := strconv.Atoi(r.get("exception_type"))
		feed.CalendarDates = append(feed.CalendarDates, domain.CalendarDate{
			ServiceID:     id,
			Date:          r.get("date"),
			ExceptionType: exception,
		})
		return nil
	})
}

// NormalizeTime zero-pads a GTFS time so that "8:05:00" sorts as "08:05:00".
func NormalizeTime(s string) string {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return s
	}
	for i, part := range parts {
		if len(part) == 1 {
			parts[i] = "0" + part
		}
	}
	return strings.Join(parts, ":")
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		// some exporters prepend a UTF-8 BOM to the first column
		idx[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	return idx
}
