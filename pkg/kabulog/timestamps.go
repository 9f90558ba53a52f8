package kabulog

import (
	"database/sql"
	"errors"
	"time"
)

// TimestampStore keeps last successful fetch times in the fetch_timestamps
// table so cooldowns survive restarts. It implements cooldown.Store.
type TimestampStore struct {
	db *sql.DB
}

// NewTimestampStore wraps an open database that has the kabulog schema.
func NewTimestampStore(db *sql.DB) *TimestampStore {
	return &TimestampStore{db: db}
}

// Get returns the stored time for key.
func (s *TimestampStore) Get(key string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRow("SELECT fetched_at FROM fetch_timestamps WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, WrapError(ErrCodeDatabase, "read fetch timestamp", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, WrapError(ErrCodeDatabase, "parse fetch timestamp", err)
	}
	return t, true, nil
}

// Set stores t for key.
func (s *TimestampStore) Set(key string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO fetch_timestamps (key, fetched_at) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET fetched_at = excluded.fetched_at
	`, key, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return WrapError(ErrCodeDatabase, "write fetch timestamp", err)
	}
	return nil
}

// Delete removes key so the next fetch is allowed immediately.
func (s *TimestampStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM fetch_timestamps WHERE key = ?", key); err != nil {
		return WrapError(ErrCodeDatabase, "delete fetch timestamp", err)
	}
	return nil
}
