package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/transitrt/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLStorage, error) {
	sourceName := ":memory:"
	if len(cfg) > 0 && cfg[0].OnDisk {
		sourceName = filepath.Join(cfg[0].Directory, "gtfs.db")
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: gets a database of its own
	if sourceName == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s, err := newSQLStorage(db, dialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func insertStopTimes(tx *sql.Tx, hash string, stopTimes []*model.StopTime) error {
	stmt, err := tx.Prepare(`
INSERT INTO stop_times (hash, trip_id, stop_id, stop_sequence, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stopTimes {
		_, err = stmt.Exec(
			hash,
			st.TripID,
			st.StopID,
			st.StopSequence,
			st.Arrival,
			st.Departure,
		)
		if err != nil {
			return fmt.Errorf("inserting stop_time: %w", err)
		}
	}

	return nil
}
