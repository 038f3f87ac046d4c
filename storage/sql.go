package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tidbyt.dev/transitrt/model"
)

const StopTimeBatchSize = 5000

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var feedTables = []string{
	"feed",
	"agency",
	"stops",
	"routes",
	"trips",
	"stop_times",
	"calendar",
	"calendar_dates",
}

// Both sqlite and postgres accept this schema. All feeds share the
// same tables, keyed by hash.
const feedSchema = `
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT NOT NULL,
    PRIMARY KEY(hash)
);
CREATE TABLE IF NOT EXISTS agency (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    timezone TEXT NOT NULL,
    PRIMARY KEY(hash, id)
);
CREATE TABLE IF NOT EXISTS stops (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    code TEXT,
    name TEXT NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    location_type INTEGER NOT NULL,
    parent_station TEXT,
    PRIMARY KEY(hash, id)
);
CREATE TABLE IF NOT EXISTS routes (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    agency_id TEXT,
    short_name TEXT,
    long_name TEXT,
    type INTEGER NOT NULL,
    color TEXT,
    PRIMARY KEY(hash, id)
);
CREATE TABLE IF NOT EXISTS trips (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    direction_id INTEGER,
    PRIMARY KEY(hash, id)
);
CREATE TABLE IF NOT EXISTS stop_times (
    hash TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time INTEGER NOT NULL,
    departure_time INTEGER NOT NULL,
    PRIMARY KEY(hash, trip_id, stop_sequence)
);
CREATE TABLE IF NOT EXISTS calendar (
    hash TEXT NOT NULL,
    service_id TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday INTEGER NOT NULL,
    tuesday INTEGER NOT NULL,
    wednesday INTEGER NOT NULL,
    thursday INTEGER NOT NULL,
    friday INTEGER NOT NULL,
    saturday INTEGER NOT NULL,
    sunday INTEGER NOT NULL,
    PRIMARY KEY(hash, service_id)
);
CREATE TABLE IF NOT EXISTS calendar_dates (
    hash TEXT NOT NULL,
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL,
    PRIMARY KEY(hash, service_id, date)
);`

// Static feed storage on top of database/sql. Use NewSQLiteStorage()
// or NewPSQLStorage() to construct.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
}

func newSQLStorage(db *sql.DB, d dialect) (*SQLStorage, error) {
	for _, stmt := range strings.Split(feedSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Exec(stmt)
		if err != nil {
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}
	return &SQLStorage{db: db, dialect: d}, nil
}

func (s *SQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("closing db: %w", err)
	}
	return nil
}

func (s *SQLStorage) GetReader(hash string) (FeedReader, error) {
	var n int
	err := s.db.QueryRow(s.dialect.rebind(`SELECT COUNT(*) FROM feed WHERE hash = ?`), hash).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("looking up feed: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("feed '%s' not found", hash)
	}
	return &SQLFeedReader{hash: hash, db: s.db, dialect: s.dialect}, nil
}

func (s *SQLStorage) GetWriter(hash string) (FeedWriter, error) {
	// In case feed already exists, delete all records
	for _, name := range feedTables {
		_, err := s.db.Exec(s.dialect.rebind(`DELETE FROM `+name+` WHERE hash = ?`), hash)
		if err != nil {
			return nil, fmt.Errorf("deleting %s records: %w", name, err)
		}
	}

	_, err := s.db.Exec(s.dialect.rebind(`INSERT INTO feed (hash) VALUES (?)`), hash)
	if err != nil {
		return nil, fmt.Errorf("inserting feed: %w", err)
	}

	return &SQLFeedWriter{hash: hash, db: s.db, dialect: s.dialect}, nil
}

type SQLFeedWriter struct {
	hash        string
	db          *sql.DB
	dialect     dialect
	stopTimeBuf []*model.StopTime
}

func (w *SQLFeedWriter) exec(query string, args ...interface{}) error {
	_, err := w.db.Exec(w.dialect.rebind(query), append([]interface{}{w.hash}, args...)...)
	return err
}

func (w *SQLFeedWriter) WriteAgency(a *model.Agency) error {
	err := w.exec(`
INSERT INTO agency (hash, id, name, url, timezone)
VALUES (?, ?, ?, ?, ?)`,
		a.ID,
		a.Name,
		a.URL,
		a.Timezone,
	)
	if err != nil {
		return fmt.Errorf("inserting agency: %w", err)
	}
	return nil
}

func (w *SQLFeedWriter) WriteStop(stop *model.Stop) error {
	err := w.exec(`
INSERT INTO stops (hash, id, code, name, lat, lon, location_type, parent_station)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stop.ID,
		stop.Code,
		stop.Name,
		stop.Lat,
		stop.Lon,
		stop.LocationType,
		stop.ParentStation,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (w *SQLFeedWriter) WriteRoute(route *model.Route) error {
	err := w.exec(`
INSERT INTO routes (hash, id, agency_id, short_name, long_name, type, color)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		route.ID,
		route.AgencyID,
		route.ShortName,
		route.LongName,
		route.Type,
		route.Color,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (w *SQLFeedWriter) WriteTrip(trip *model.Trip) error {
	err := w.exec(`
INSERT INTO trips (hash, id, route_id, service_id, headsign, direction_id)
VALUES (?, ?, ?, ?, ?, ?)`,
		trip.ID,
		trip.RouteID,
		trip.ServiceID,
		trip.Headsign,
		trip.DirectionID,
	)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (w *SQLFeedWriter) WriteCalendar(cal *model.Calendar) error {
	days := [7]int{}
	for i, d := range []time.Weekday{
		time.Monday,
		time.Tuesday,
		time.Wednesday,
		time.Thursday,
		time.Friday,
		time.Saturday,
		time.Sunday,
	} {
		if cal.Weekday&(1<<d) != 0 {
			days[i] = 1
		}
	}

	err := w.exec(`
INSERT INTO calendar (hash, service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ServiceID,
		cal.StartDate,
		cal.EndDate,
		days[0], days[1], days[2], days[3], days[4], days[5], days[6],
	)
	if err != nil {
		return fmt.Errorf("inserting calendar: %w", err)
	}
	return nil
}

func (w *SQLFeedWriter) WriteCalendarDate(cd *model.CalendarDate) error {
	err := w.exec(`
INSERT INTO calendar_dates (hash, service_id, date, exception_type)
VALUES (?, ?, ?, ?)`,
		cd.ServiceID,
		cd.Date,
		cd.ExceptionType,
	)
	if err != nil {
		return fmt.Errorf("inserting calendar date: %w", err)
	}
	return nil
}

func (w *SQLFeedWriter) BeginStopTimes() error {
	w.stopTimeBuf = nil
	return nil
}

func (w *SQLFeedWriter) WriteStopTime(stopTime *model.StopTime) error {
	w.stopTimeBuf = append(w.stopTimeBuf, stopTime)

	if len(w.stopTimeBuf) >= StopTimeBatchSize {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}

	return nil
}

func (w *SQLFeedWriter) EndStopTimes() error {
	if len(w.stopTimeBuf) > 0 {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}
	return nil
}

func (w *SQLFeedWriter) flushStopTimes() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	switch w.dialect {
	case dialectPostgres:
		err = copyStopTimes(tx, w.hash, w.stopTimeBuf)
	default:
		err = insertStopTimes(tx, w.hash, w.stopTimeBuf)
	}
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.stopTimeBuf = nil

	return nil
}

func (w *SQLFeedWriter) Close() error {
	_, err := w.db.Exec(`ANALYZE`)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	return nil
}

type SQLFeedReader struct {
	hash    string
	db      *sql.DB
	dialect dialect
}

func (r *SQLFeedReader) query(query string) (*sql.Rows, error) {
	return r.db.Query(r.dialect.rebind(query), r.hash)
}

func (r *SQLFeedReader) Agencies() ([]*model.Agency, error) {
	rows, err := r.query(`
SELECT id, name, url, timezone
FROM agency
WHERE hash = ?
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying agencies: %w", err)
	}
	defer rows.Close()

	agencies := []*model.Agency{}
	for rows.Next() {
		a := &model.Agency{}
		err := rows.Scan(&a.ID, &a.Name, &a.URL, &a.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scanning agency: %w", err)
		}
		agencies = append(agencies, a)
	}

	return agencies, rows.Err()
}

func (r *SQLFeedReader) Stops() ([]*model.Stop, error) {
	rows, err := r.query(`
SELECT id, code, name, lat, lon, location_type, parent_station
FROM stops
WHERE hash = ?
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []*model.Stop{}
	for rows.Next() {
		s := &model.Stop{}
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Lat,
			&s.Lon,
			&s.LocationType,
			&s.ParentStation,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}

	return stops, rows.Err()
}

func (r *SQLFeedReader) Routes() ([]*model.Route, error) {
	rows, err := r.query(`
SELECT id, agency_id, short_name, long_name, type, color
FROM routes
WHERE hash = ?
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []*model.Route{}
	for rows.Next() {
		route := &model.Route{}
		err := rows.Scan(
			&route.ID,
			&route.AgencyID,
			&route.ShortName,
			&route.LongName,
			&route.Type,
			&route.Color,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, route)
	}

	return routes, rows.Err()
}

func (r *SQLFeedReader) Trips() ([]*model.Trip, error) {
	rows, err := r.query(`
SELECT id, route_id, service_id, headsign, direction_id
FROM trips
WHERE hash = ?
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []*model.Trip{}
	for rows.Next() {
		t := &model.Trip{}
		err := rows.Scan(
			&t.ID,
			&t.RouteID,
			&t.ServiceID,
			&t.Headsign,
			&t.DirectionID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}

func (r *SQLFeedReader) StopTimes() ([]*model.StopTime, error) {
	rows, err := r.query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE hash = ?
ORDER BY trip_id, stop_sequence`)
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	defer rows.Close()

	stopTimes := []*model.StopTime{}
	for rows.Next() {
		st := &model.StopTime{}
		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		stopTimes = append(stopTimes, st)
	}

	return stopTimes, rows.Err()
}

func (r *SQLFeedReader) Calendars() ([]*model.Calendar, error) {
	rows, err := r.query(`
SELECT service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday
FROM calendar
WHERE hash = ?
ORDER BY service_id`)
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}
	defer rows.Close()

	calendars := []*model.Calendar{}
	for rows.Next() {
		var serviceID, startDate, endDate string
		var days [7]int
		err := rows.Scan(
			&serviceID,
			&startDate,
			&endDate,
			&days[0],
			&days[1],
			&days[2],
			&days[3],
			&days[4],
			&days[5],
			&days[6],
		)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}

		weekday := int8(0)
		for i, d := range []time.Weekday{
			time.Monday,
			time.Tuesday,
			time.Wednesday,
			time.Thursday,
			time.Friday,
			time.Saturday,
			time.Sunday,
		} {
			if days[i] != 0 {
				weekday |= 1 << d
			}
		}

		calendars = append(calendars, &model.Calendar{
			ServiceID: serviceID,
			StartDate: startDate,
			EndDate:   endDate,
			Weekday:   weekday,
		})
	}

	return calendars, rows.Err()
}

func (r *SQLFeedReader) CalendarDates() ([]*model.CalendarDate, error) {
	rows, err := r.query(`
SELECT service_id, date, exception_type
FROM calendar_dates
WHERE hash = ?
ORDER BY service_id, date`)
	if err != nil {
		return nil, fmt.Errorf("querying calendar dates: %w", err)
	}
	defer rows.Close()

	calendarDates := []*model.CalendarDate{}
	for rows.Next() {
		cd := &model.CalendarDate{}
		err := rows.Scan(
			&cd.ServiceID,
			&cd.Date,
			&cd.ExceptionType,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar date: %w", err)
		}
		calendarDates = append(calendarDates, cd)
	}

	return calendarDates, rows.Err()
}
