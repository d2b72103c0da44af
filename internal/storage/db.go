package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DB handles database operations
type DB struct {
	conn   *sql.DB
	driver string
}

// Open connects to the database selected by driver and initializes the
// schema. For sqlite3 source is a file path, for postgres a DSN.
func Open(driver, source string) (*DB, error) {
	switch driver {
	case "", DriverSQLite:
		return New(source)
	case DriverPostgres:
		conn, err := sql.Open(DriverPostgres, source)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		return initialize(conn, DriverPostgres)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// New creates a new sqlite database connection and initializes schema
func New(dbPath string) (*DB, error) {
	// _busy_timeout=5000: Wait up to 5 seconds for locks
	// _journal_mode=WAL: Enable Write-Ahead Logging for better concurrency
	// _foreign_keys=on: applied to every pooled connection
	dsn := dbPath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	conn, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode allows multiple readers + 1 writer
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	return initialize(conn, DriverSQLite)
}

func initialize(conn *sql.DB, driver string) (*DB, error) {
	db := &DB{conn: conn, driver: driver}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the name of the database driver in use.
func (db *DB) Driver() string {
	return db.driver
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// initSchema creates the database tables
func (db *DB) initSchema() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			component TEXT NOT NULL,
			component_key TEXT NOT NULL,
			message TEXT NOT NULL,
			attributes TEXT,
			extras TEXT,
			created_at TIMESTAMP NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_component ON events(component, component_key)`,

		// Only the latest system state is kept; it is the "previous" state
		// of the next evaluation cycle after a restart.
		`CREATE TABLE IF NOT EXISTS system_state (
			name TEXT PRIMARY KEY,
			collected_at TIMESTAMP,
			state TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS component_states (
			component TEXT NOT NULL,
			component_key TEXT NOT NULL,
			state TEXT NOT NULL,
			is_missing BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (component, component_key)
		)`,

		`CREATE TABLE IF NOT EXISTS notification_channels (
			id ` + serial + `,
			name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			config TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS delivery_log (
			id ` + serial + `,
			event_id TEXT NOT NULL,
			channel_id BIGINT NOT NULL REFERENCES notification_channels(id) ON DELETE CASCADE,
			sent_at TIMESTAMP NOT NULL,
			success BOOLEAN NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_log_sent_at ON delivery_log(sent_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the $n form postgres expects.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
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

func (db *DB) exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(db.rebind(query), args...)
}

func (db *DB) query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(db.rebind(query), args...)
}

func (db *DB) queryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(db.rebind(query), args...)
}
