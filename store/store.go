package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Global debug function for store package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS crossings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	direction TEXT NOT NULL,
	track_id INTEGER
);
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	current_count INTEGER,
	threshold INTEGER
);
`

// Stats are the lifetime totals from the crossings log. Unlike the live
// counters these survive restarts and resets.
type Stats struct {
	TotalIn  int64 `json:"total_in"`
	TotalOut int64 `json:"total_out"`
}

// Store persists crossing events and threshold alerts to SQLite
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY on concurrent inserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not create schema")
	}

	debugMsg("STORE", "Database ready at "+path)
	return &Store{db: db}, nil
}

// LogCrossing appends one crossing event to the log
func (s *Store) LogCrossing(direction string, trackID int, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO crossings (timestamp, direction, track_id) VALUES (?, ?, ?)`,
		at.UTC().Format("2006-01-02 15:04:05"), direction, trackID,
	)
	return errors.Wrap(err, "could not log crossing")
}

// LogAlert records that the occupancy threshold was breached
func (s *Store) LogAlert(currentCount, threshold int) error {
	_, err := s.db.Exec(
		`INSERT INTO alerts (current_count, threshold) VALUES (?, ?)`,
		currentCount, threshold,
	)
	return errors.Wrap(err, "could not log alert")
}

// Stats returns lifetime in/out totals from the crossings log
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	row := s.db.QueryRow(`SELECT COUNT(*) FROM crossings WHERE direction = 'in'`)
	if err := row.Scan(&stats.TotalIn); err != nil {
		return Stats{}, errors.Wrap(err, "could not count in crossings")
	}
	row = s.db.QueryRow(`SELECT COUNT(*) FROM crossings WHERE direction = 'out'`)
	if err := row.Scan(&stats.TotalOut); err != nil {
		return Stats{}, errors.Wrap(err, "could not count out crossings")
	}
	return stats, nil
}

// RecentCrossings returns up to limit crossing rows, newest first
func (s *Store) RecentCrossings(limit int) ([]Crossing, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, direction, track_id FROM crossings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not query crossings")
	}
	defer rows.Close()

	var out []Crossing
	for rows.Next() {
		var c Crossing
		if err := rows.Scan(&c.ID, &c.Timestamp, &c.Direction, &c.TrackID); err != nil {
			return nil, errors.Wrap(err, "could not scan crossing row")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Crossing is one persisted crossing event
type Crossing struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
	TrackID   int    `json:"track_id"`
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
