// Package store is the single source of truth for users, drivers, groups,
// orders, offers and acceptances. At most one acceptance may exist per
// order; the acceptances primary key enforces it, never read-then-write
// logic in callers.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyTaken is returned when an order already has a committed
	// acceptance. Losers of the acceptance race always see this error,
	// never a silent overwrite.
	ErrAlreadyTaken = errors.New("store: order already taken")

	// ErrConflict is returned on uniqueness violations other than the
	// acceptance race, e.g. a duplicate group name.
	ErrConflict = errors.New("store: conflict")
)

type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dbPath and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		phone TEXT,
		role TEXT NOT NULL DEFAULT 'guest',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS groups (
		group_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS drivers (
		user_id INTEGER PRIMARY KEY,
		full_name TEXT NOT NULL,
		phone TEXT NOT NULL,
		group_id INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		order_id INTEGER PRIMARY KEY AUTOINCREMENT,
		admin_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		group_id INTEGER,
		photos TEXT,
		topic_name TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS offers (
		offer_id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL,
		driver_id INTEGER NOT NULL,
		price REAL NOT NULL,
		comment TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS acceptances (
		order_id INTEGER PRIMARY KEY,
		driver_id INTEGER NOT NULL,
		accepted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_drivers_group ON drivers(group_id);
	CREATE INDEX IF NOT EXISTS idx_offers_order ON offers(order_id);
	CREATE INDEX IF NOT EXISTS idx_offers_driver ON offers(driver_id);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// mapUnique converts a SQLite unique-constraint violation into
// ErrConflict; other errors pass through unchanged.
func mapUnique(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrConflict
	}
	return err
}
