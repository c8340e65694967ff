package schedule

// Both backends share one schema; only placeholders differ. SQLite binds
// positionally so its arguments repeat, Postgres reuses numbered ones.

const sqliteDeparturesQuery = `
	WITH active_services AS (
		SELECT c.service_id
		FROM Calendar c
		WHERE c.start_date <= ?
		  AND c.end_date >= ?
		  AND (
			(? = 0 AND c.sunday = 1) OR
			(? = 1 AND c.monday = 1) OR
			(? = 2 AND c.tuesday = 1) OR
			(? = 3 AND c.wednesday = 1) OR
			(? = 4 AND c.thursday = 1) OR
			(? = 5 AND c.friday = 1) OR
			(? = 6 AND c.saturday = 1)
		  )
		  AND c.service_id NOT IN (
			SELECT cd.service_id FROM CalendarDates cd
			WHERE cd.date = ? AND cd.exception_type = 2
		  )
		UNION
		SELECT cd.service_id
		FROM CalendarDates cd
		WHERE cd.date = ? AND cd.exception_type = 1
	)
	SELECT Trips.trip_id, Trips.route_id, Trips.service_id,
	       COALESCE(Routes.route_short_name, ''), StopTimes.departure_time
	FROM StopTimes
	JOIN Trips ON StopTimes.trip_id = Trips.trip_id
	JOIN Routes ON Trips.route_id = Routes.route_id
	JOIN active_services a ON Trips.service_id = a.service_id
	WHERE StopTimes.stop_id = ? AND StopTimes.departure_time >= ?
	ORDER BY StopTimes.departure_time
	LIMIT ?
`

func sqliteDeparturesArgs(q DepartureQuery) []any {
	day := int(q.Weekday)
	return []any{
		q.Date, q.Date,
		day, day, day, day, day, day, day,
		q.Date,
		q.Date,
		q.StopID, q.MinTime,
		q.Limit,
	}
}

const postgresDeparturesQuery = `
	WITH active_services AS (
		SELECT c.service_id
		FROM calendar c
		WHERE c.start_date <= $1
		  AND c.end_date >= $1
		  AND (
			($2 = 0 AND c.sunday = 1) OR
			($2 = 1 AND c.monday = 1) OR
			($2 = 2 AND c.tuesday = 1) OR
			($2 = 3 AND c.wednesday = 1) OR
			($2 = 4 AND c.thursday = 1) OR
			($2 = 5 AND c.friday = 1) OR
			($2 = 6 AND c.saturday = 1)
		  )
		  AND c.service_id NOT IN (
			SELECT cd.service_id FROM calendardates cd
			WHERE cd.date = $1 AND cd.exception_type = 2
		  )
		UNION
		SELECT cd.service_id
		FROM calendardates cd
		WHERE cd.date = $1 AND cd.exception_type = 1
	)
	SELECT trips.trip_id, trips.route_id, trips.service_id,
	       COALESCE(routes.route_short_name, ''), stoptimes.departure_time
	FROM stoptimes
	JOIN trips ON stoptimes.trip_id = trips.trip_id
	JOIN routes ON trips.route_id = routes.route_id
	JOIN active_services a ON trips.service_id = a.service_id
	WHERE stoptimes.stop_id = $3 AND stoptimes.departure_time >= $4
	ORDER BY stoptimes.departure_time
	LIMIT $5
`

func postgresDeparturesArgs(q DepartureQuery) []any {
	return []any{q.Date, int(q.Weekday), q.StopID, q.MinTime, q.Limit}
}

const agencyColumns = `agency_id, agency_name, agency_url, agency_timezone, agency_lang`

const stopColumns = `stop_id, stop_name, stop_lat, stop_lon, parent_station, COALESCE(platform_code, '')`
