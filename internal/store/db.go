// internal/store/db.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed record does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite connection holding conversations, the cached monitoring
// mirror and the job table
type DB struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL,
	reply_text TEXT NOT NULL DEFAULT '',
	is_user_turn INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_user_created ON turns(user_id, created_at);

CREATE TABLE IF NOT EXISTS server_configs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	endpoint_url TEXT NOT NULL,
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS hosts (
	user_id TEXT NOT NULL,
	external_host_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	last_update INTEGER NOT NULL,
	UNIQUE(user_id, external_host_id)
);

CREATE TABLE IF NOT EXISTS alerts (
	user_id TEXT NOT NULL,
	external_alert_id TEXT NOT NULL,
	host_name TEXT NOT NULL,
	trigger_name TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	UNIQUE(user_id, external_alert_id)
);
CREATE INDEX IF NOT EXISTS idx_alerts_user_observed ON alerts(user_id, observed_at);

CREATE TABLE IF NOT EXISTS jobs (
	turn_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
`

// NewDB opens or creates the SQLite database
func NewDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single connection serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
