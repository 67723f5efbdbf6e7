package storage

import (
	"database/sql"
	"errors"
	"time"
)

// SaveBlob stores the raw bytes of an uploaded document until extraction.
func (s *Store) SaveBlob(id string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO document_blobs (id, data, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		id, data, formatTime(time.Now()),
	)
	return err
}

// GetBlob returns the raw bytes stored under id, or ErrNotFound.
func (s *Store) GetBlob(id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM document_blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

// DeleteBlob removes the blob stored under id. A missing blob is not an error.
func (s *Store) DeleteBlob(id string) error {
	_, err := s.db.Exec(`DELETE FROM document_blobs WHERE id = ?`, id)
	return err
}
