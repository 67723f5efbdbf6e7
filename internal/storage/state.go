package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetState returns the raw value stored under key, or ErrNotFound.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetState stores value under key, replacing any previous value.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	return err
}

// DeleteState removes the given keys. Missing keys are ignored.
func (s *Store) DeleteState(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	query := `DELETE FROM app_state WHERE key IN (?` + strings.Repeat(", ?", len(keys)-1) + `)`
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("deleting state %v: %w", keys, err)
	}
	return nil
}

// ListState returns every stored entry ordered by key.
func (s *Store) ListState() ([]StateEntry, error) {
	rows, err := s.db.Query(`SELECT key, value, updated_at FROM app_state ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StateEntry
	for rows.Next() {
		var e StateEntry
		var updated string
		if err := rows.Scan(&e.Key, &e.Value, &updated); err != nil {
			return nil, err
		}
		if e.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("state %q: %w", e.Key, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
