package domain

// RouteType distinguishes transport types in GTFS
type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCableTram  RouteType = 5
	RouteTypeAerialLift RouteType = 6
	RouteTypeFunicular  RouteType = 7
)

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeSubway:
		return "subway"
	case RouteTypeRail:
		return "rail"
	case RouteTypeBus:
		return "bus"
	case RouteTypeFerry:
		return "ferry"
	case RouteTypeCableTram:
		return "cable_tram"
	case RouteTypeAerialLift:
		return "aerial_lift"
	case RouteTypeFunicular:
		return "funicular"
	default:
		return "unknown"
	}
}

// Agency is an operator row from the static schedule
type Agency struct {
	ID       int64   `json:"agency_id"`
	Name     string  `json:"agency_name"`
	URL      string  `json:"agency_url"`
	Timezone string  `json:"agency_timezone"`
	Lang     *string `json:"agency_lang"`
}

// Stop is a boarding location. ParentStation links platforms to their station.
type Stop struct {
	ID            int64   `json:"stop_id"`
	Name          string  `json:"name"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	ParentStation *int64  `json:"parent_station,omitempty"`
	PlatformCode  string  `json:"platform_code,omitempty"`
}

type Route struct {
	ID        int64     `json:"route_id"`
	AgencyID  *int64    `json:"agency_id,omitempty"`
	ShortName string    `json:"route_short_name"`
	LongName  string    `json:"route_long_name"`
	Type      RouteType `json:"route_type"`
	Color     string    `json:"route_color"`
	TextColor string    `json:"route_text_color"`
}

type Trip struct {
	ID        int64 `json:"trip_id"`
	RouteID   int64 `json:"route_id"`
	ServiceID int64 `json:"service_id"`
}

// StopTime is a scheduled visit. Times are GTFS "HH:MM:SS" strings and
// may exceed 24:00:00 for trips running past midnight.
type StopTime struct {
	TripID        int64  `json:"trip_id"`
	StopID        int64  `json:"stop_id"`
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
	StopSequence  int    `json:"stop_sequence"`
	PickupType    *int   `json:"pickup_type,omitempty"`
	DropOffType   *int   `json:"drop_off_type,omitempty"`
}

// Calendar represents service availability by day of week
type Calendar struct {
	ServiceID int64
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate string // YYYYMMDD
	EndDate   string // YYYYMMDD
}

// CalendarDate represents service exceptions
type CalendarDate struct {
	ServiceID     int64
	Date          string // YYYYMMDD
	ExceptionType int    // 1 = added, 2 = removed
}

// ScheduledRow is one statically scheduled departure at a stop.
type ScheduledRow struct {
	TripID         int64  `json:"trip_id"`
	RouteID        int64  `json:"route_id"`
	ServiceID      int64  `json:"service_id"`
	RouteShortName string `json:"route_short_name"`
	DepartureTime  string `json:"departure_time"`
}
