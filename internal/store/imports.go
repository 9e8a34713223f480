package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetImportByHash returns the exam created from a paper with the given
// content hash. Returns empty string and nil error if the hash is unknown.
func (s *Store) GetImportByHash(ctx context.Context, hash string) (string, error) {
	var examID string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT exam_id FROM paper_imports WHERE content_hash = ?`), hash).Scan(&examID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return examID, err
}
