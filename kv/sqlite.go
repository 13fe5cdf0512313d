package kv

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqlCreateKvTable = `CREATE TABLE IF NOT EXISTS kv(
                        key varchar(500) NOT NULL PRIMARY KEY,
                        value text NOT NULL,
                        updated_at timestamp default current_timestamp
                        )`

// Sqlite is a file-backed Store for operators who want bookkeeping to
// survive restarts. Nothing in the engine requires it; Memory is the
// default.
type Sqlite struct {
	db *sql.DB
}

func OpenSqlite(path string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database: %w", err)
	}

	if _, err := db.Exec(sqlCreateKvTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &Sqlite{db: db}, nil
}

func (s *Sqlite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Sqlite) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv(key, value) VALUES (?, ?)
         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = current_timestamp`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

func (s *Sqlite) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}
