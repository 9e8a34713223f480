package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/mathpath/mathexam/internal/model"
)

const courseColumns = `id, title, description, grade, video_url, cover_url, sort_order, status, created_at`

func scanCourse(row interface{ Scan(...any) error }) (model.Course, error) {
	var c model.Course
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Grade, &c.VideoURL, &c.CoverURL, &c.SortOrder,
		&c.Status, &c.CreatedAt)
	return c, err
}

// CreateCourse inserts a course.
func (s *Store) CreateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	c.ID = uuid.NewString()
	c.CreatedAt = now()
	if c.Status == "" {
		c.Status = model.StatusActive
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO courses (`+courseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Title, c.Description, c.Grade, c.VideoURL, c.CoverURL, c.SortOrder, c.Status, c.CreatedAt,
	)
	if err != nil {
		return model.Course{}, err
	}
	return c, nil
}

// GetCourse returns a course by ID.
func (s *Store) GetCourse(ctx context.Context, id string) (model.Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, s.q(`SELECT `+courseColumns+` FROM courses WHERE id = ?`), id))
	return c, notFound(err)
}

// ListCourses returns courses ordered by sort order. Disabled courses are
// only included when includeDisabled is set.
func (s *Store) ListCourses(ctx context.Context, includeDisabled bool) ([]model.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses`
	var args []any
	if !includeDisabled {
		query += ` WHERE status = ?`
		args = append(args, model.StatusActive)
	}
	query += ` ORDER BY sort_order, created_at`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	courses := []model.Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// UpdateCourse replaces the editable fields of a course.
func (s *Store) UpdateCourse(ctx context.Context, c model.Course) (model.Course, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE courses SET title = ?, description = ?, grade = ?, video_url = ?, cover_url = ?,
			sort_order = ?, status = ? WHERE id = ?`),
		c.Title, c.Description, c.Grade, c.VideoURL, c.CoverURL, c.SortOrder, c.Status, c.ID,
	)
	if err := affectedOrNotFound(res, err); err != nil {
		return model.Course{}, err
	}
	return s.GetCourse(ctx, c.ID)
}

// DeleteCourse removes a course and the notes taken on it.
func (s *Store) DeleteCourse(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM notes WHERE course_id = ?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM courses WHERE id = ?`), id)
		return affectedOrNotFound(res, err)
	})
}
