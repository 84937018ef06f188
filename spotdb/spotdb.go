// Package spotdb persists every CQ sighting the controller hears in a
// single SQLite file. One row exists per callsign and band; reworking a
// station on a new band is a new row, hearing it again on the same band
// refreshes the old one.
package spotdb

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const (
	driverName    = "sqlite3_ft8ctrl"
	busyTimeoutMs = 15000
)

// Sighting status values. A row moves 0 -> 1 when the station is picked
// for calling and 1 -> 2 when the contact is logged. Status 2 rows are
// frozen: no later update or purge touches them.
const (
	StatusNew    = 0
	StatusCalled = 1
	StatusWorked = 2
)

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

var (
	regexpMu    sync.Mutex
	regexpCache = make(map[string]*regexp.Regexp)
)

// regexpMatch backs the SQL REGEXP operator. Patterns repeat across a
// query, so compiled forms are kept for the life of the process.
func regexpMatch(pattern, value string) (bool, error) {
	regexpMu.Lock()
	re, ok := regexpCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			regexpMu.Unlock()
			return false, err
		}
		regexpCache[pattern] = re
	}
	regexpMu.Unlock()
	return re.MatchString(value), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS cqcalls (
	call      TEXT    NOT NULL,
	extra     TEXT    NOT NULL DEFAULT '',
	time      INTEGER NOT NULL,
	status    INTEGER NOT NULL DEFAULT 0,
	snr       INTEGER NOT NULL DEFAULT 0,
	grid      TEXT    NOT NULL DEFAULT '',
	lat       REAL    NOT NULL DEFAULT 0,
	lon       REAL    NOT NULL DEFAULT 0,
	distance  REAL    NOT NULL DEFAULT 0,
	azimuth   INTEGER NOT NULL DEFAULT 0,
	country   TEXT    NOT NULL DEFAULT '',
	continent TEXT    NOT NULL DEFAULT '',
	cqzone    INTEGER NOT NULL DEFAULT 0,
	ituzone   INTEGER NOT NULL DEFAULT 0,
	frequency INTEGER NOT NULL DEFAULT 0,
	band      INTEGER NOT NULL DEFAULT 0,
	packet    TEXT    NOT NULL DEFAULT '{}',
	UNIQUE (call, band)
);
CREATE INDEX IF NOT EXISTS idx_cqcalls_time ON cqcalls (time DESC);
CREATE INDEX IF NOT EXISTS idx_cqcalls_grid ON cqcalls (grid);
`

// Sighting is one row of the cqcalls table.
type Sighting struct {
	Call      string   `db:"call"`
	Extra     string   `db:"extra"`
	Time      int64    `db:"time"`
	Status    int      `db:"status"`
	SNR       int      `db:"snr"`
	Grid      string   `db:"grid"`
	Lat       float64  `db:"lat"`
	Lon       float64  `db:"lon"`
	Distance  float64  `db:"distance"`
	Azimuth   int      `db:"azimuth"`
	Country   string   `db:"country"`
	Continent string   `db:"continent"`
	CQZone    int      `db:"cqzone"`
	ITUZone   int      `db:"ituzone"`
	Frequency uint64   `db:"frequency"`
	Band      int      `db:"band"`
	Packet    Envelope `db:"packet"`
}

// Store wraps the SQLite database holding the cqcalls table. A single
// goroutine owns writes; any number of goroutines may read.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the database at path and installs the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("spotdb open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("spotdb schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts a sighting, or refreshes the SNR and stored envelope of
// the existing row for the same call and band. Worked rows keep their
// original data.
func (s *Store) Upsert(g *Sighting) error {
	const query = `
INSERT INTO cqcalls (call, extra, time, status, snr, grid, lat, lon,
	distance, azimuth, country, continent, cqzone, ituzone, frequency,
	band, packet)
VALUES (:call, :extra, :time, :status, :snr, :grid, :lat, :lon,
	:distance, :azimuth, :country, :continent, :cqzone, :ituzone,
	:frequency, :band, :packet)
ON CONFLICT (call, band) DO UPDATE
	SET snr = excluded.snr, packet = excluded.packet
	WHERE status <> 2`
	if _, err := s.db.NamedExec(query, g); err != nil {
		return fmt.Errorf("spotdb upsert %s: %w", g.Call, err)
	}
	return nil
}

// SetStatus moves the row for call on band to status. Worked rows are
// never demoted.
func (s *Store) SetStatus(call string, band, status int) error {
	const query = `UPDATE cqcalls SET status = ? WHERE call = ? AND band = ? AND status <> 2`
	if _, err := s.db.Exec(query, status, call, band); err != nil {
		return fmt.Errorf("spotdb status %s: %w", call, err)
	}
	return nil
}

// Delete removes the row for call on band, but only while the station is
// being called. New and worked rows stay.
func (s *Store) Delete(call string, band int) error {
	const query = `DELETE FROM cqcalls WHERE status = 1 AND call = ? AND band = ?`
	if _, err := s.db.Exec(query, call, band); err != nil {
		return fmt.Errorf("spotdb delete %s: %w", call, err)
	}
	return nil
}

// DeleteCall removes every row for call regardless of band or status.
func (s *Store) DeleteCall(call string) error {
	const query = `DELETE FROM cqcalls WHERE call = ?`
	if _, err := s.db.Exec(query, call); err != nil {
		return fmt.Errorf("spotdb delete %s: %w", call, err)
	}
	return nil
}

// PurgeOlder drops unworked rows whose sighting time fell out of the
// window. It reports how many rows went away.
func (s *Store) PurgeOlder(window time.Duration) (int64, error) {
	const query = `DELETE FROM cqcalls WHERE status < 2 AND time < ?`
	cutoff := time.Now().Add(-window).Unix()
	res, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("spotdb purge: %w", err)
	}
	return res.RowsAffected()
}

// Get returns the row for call on band, or nil when none exists.
func (s *Store) Get(call string, band int) (*Sighting, error) {
	var row Sighting
	const query = `SELECT * FROM cqcalls WHERE call = ? AND band = ?`
	err := s.db.Get(&row, query, call, band)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spotdb get %s: %w", call, err)
	}
	return &row, nil
}

// Candidates returns the unworked, uncalled sightings heard on band since
// the cutoff, oldest first.
func (s *Store) Candidates(band int, since time.Time) ([]Sighting, error) {
	return s.query("status = 0 AND band = ? AND time > ?", band, since.Unix())
}

// ByCall returns the rows for call on every band it was heard.
func (s *Store) ByCall(call string) ([]Sighting, error) {
	return s.query("call = ?", call)
}

// ByCallRegexp returns the sightings whose callsign matches the pattern.
// A band of 0 searches every band.
func (s *Store) ByCallRegexp(pattern string, band int) ([]Sighting, error) {
	if band > 0 {
		return s.query("call REGEXP ? AND band = ?", pattern, band)
	}
	return s.query("call REGEXP ?", pattern)
}

// ByCountry returns the sightings from the named DXCC country.
func (s *Store) ByCountry(country string, band int) ([]Sighting, error) {
	if band > 0 {
		return s.query("country = ? AND band = ?", country, band)
	}
	return s.query("country = ?", country)
}

// ByStatus returns the sightings in the given status.
func (s *Store) ByStatus(status, band int) ([]Sighting, error) {
	if band > 0 {
		return s.query("status = ? AND band = ?", status, band)
	}
	return s.query("status = ?", status)
}

// WorkedCount reports how many stations from country were logged on band.
func (s *Store) WorkedCount(country string, band int) (int, error) {
	var n int
	const query = `SELECT COUNT(*) FROM cqcalls WHERE country = ? AND band = ? AND status = 2`
	if err := s.db.Get(&n, query, country, band); err != nil {
		return 0, fmt.Errorf("spotdb worked count %s: %w", country, err)
	}
	return n, nil
}

func (s *Store) query(where string, args ...any) ([]Sighting, error) {
	rows := []Sighting{}
	query := `SELECT * FROM cqcalls WHERE ` + where + ` ORDER BY time ASC`
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("spotdb query: %w", err)
	}
	return rows, nil
}
