package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/mathpath/mathexam/internal/model"
)

// UpsertNote creates or replaces the user's note on a course.
func (s *Store) UpsertNote(ctx context.Context, userID, courseID, content string) (model.Note, error) {
	n := model.Note{UserID: userID, CourseID: courseID, Content: content, UpdatedAt: now()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT 1 FROM courses WHERE id = ?`), courseID).Scan(&exists); err != nil {
			return notFound(err)
		}
		_, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO notes (id, user_id, course_id, content, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, course_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`),
			uuid.NewString(), userID, courseID, content, n.UpdatedAt)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, s.q(
			`SELECT id FROM notes WHERE user_id = ? AND course_id = ?`), userID, courseID).Scan(&n.ID)
	})
	if err != nil {
		return model.Note{}, err
	}
	return n, nil
}

// ListNotes returns the user's notes, optionally for one course.
func (s *Store) ListNotes(ctx context.Context, userID, courseID string) ([]model.Note, error) {
	query := `SELECT id, user_id, course_id, content, updated_at FROM notes WHERE user_id = ?`
	args := []any{userID}
	if courseID != "" {
		query += ` AND course_id = ?`
		args = append(args, courseID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	notes := []model.Note{}
	for rows.Next() {
		var n model.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.CourseID, &n.Content, &n.UpdatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
