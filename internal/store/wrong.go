package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mathpath/mathexam/internal/model"
)

const wrongColumns = `id, user_id, question_id, content, user_answer, correct_answer, score, source,
	knowledge_points, note, mastered, practice_count, last_practiced_at, created_at`

func scanWrongQuestion(row interface{ Scan(...any) error }) (model.WrongQuestion, error) {
	var (
		w   model.WrongQuestion
		kps string
	)
	err := row.Scan(&w.ID, &w.UserID, &w.QuestionID, &w.Content, &w.UserAnswer, &w.CorrectAnswer, &w.Score,
		&w.Source, &kps, &w.Note, &w.Mastered, &w.PracticeCount, &w.LastPracticedAt, &w.CreatedAt)
	if err != nil {
		return w, err
	}
	w.KnowledgePoints = []string{}
	if err := decodeJSON(kps, &w.KnowledgePoints); err != nil {
		return w, fmt.Errorf("wrong question %s knowledge points: %w", w.ID, err)
	}
	return w, nil
}

// upsertWrongQuestion inserts the row, or bumps practice_count and
// last_practiced_at when (user_id, question_id) already exists. The stored
// content is left as first recorded.
func upsertWrongQuestion(ctx context.Context, q querier, driver string, w model.WrongQuestion) (model.WrongQuestion, error) {
	kps := w.KnowledgePoints
	if kps == nil {
		kps = []string{}
	}
	kpJSON, err := encodeJSON(kps)
	if err != nil {
		return model.WrongQuestion{}, err
	}
	ts := now()
	_, err = q.ExecContext(ctx, rebind(driver,
		`INSERT INTO wrong_questions (`+wrongColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (user_id, question_id) DO UPDATE SET
			practice_count = wrong_questions.practice_count + 1,
			last_practiced_at = excluded.last_practiced_at`),
		uuid.NewString(), w.UserID, w.QuestionID, w.Content, w.UserAnswer, w.CorrectAnswer, w.Score, w.Source,
		kpJSON, w.Note, false, ts, ts,
	)
	if err != nil {
		return model.WrongQuestion{}, err
	}
	got, err := scanWrongQuestion(q.QueryRowContext(ctx, rebind(driver,
		`SELECT `+wrongColumns+` FROM wrong_questions WHERE user_id = ? AND question_id = ?`), w.UserID, w.QuestionID))
	return got, notFound(err)
}

// RecordWrongQuestion upserts a missed question for a user.
func (s *Store) RecordWrongQuestion(ctx context.Context, w model.WrongQuestion) (model.WrongQuestion, error) {
	return upsertWrongQuestion(ctx, s.db, s.driver, w)
}

// ListWrongQuestions returns a user's wrong questions, most recently
// practiced first. mastered filters when non-nil.
func (s *Store) ListWrongQuestions(ctx context.Context, userID string, mastered *bool) ([]model.WrongQuestion, error) {
	query := `SELECT ` + wrongColumns + ` FROM wrong_questions WHERE user_id = ?`
	args := []any{userID}
	if mastered != nil {
		query += ` AND mastered = ?`
		args = append(args, *mastered)
	}
	query += ` ORDER BY last_practiced_at DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []model.WrongQuestion{}
	for rows.Next() {
		w, err := scanWrongQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

// WrongQuestionPatch holds optional changes to a wrong question.
type WrongQuestionPatch struct {
	Mastered *bool
	Note     *string
}

// UpdateWrongQuestion applies a patch to a row owned by userID.
func (s *Store) UpdateWrongQuestion(ctx context.Context, userID, id string, p WrongQuestionPatch) (model.WrongQuestion, error) {
	var (
		sets []string
		args []any
	)
	if p.Mastered != nil {
		sets = append(sets, "mastered = ?")
		args = append(args, *p.Mastered)
	}
	if p.Note != nil {
		sets = append(sets, "note = ?")
		args = append(args, *p.Note)
	}
	if len(sets) > 0 {
		args = append(args, id, userID)
		res, err := s.db.ExecContext(ctx, s.q(
			`UPDATE wrong_questions SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`), args...)
		if err := affectedOrNotFound(res, err); err != nil {
			return model.WrongQuestion{}, err
		}
	}
	w, err := scanWrongQuestion(s.db.QueryRowContext(ctx, s.q(
		`SELECT `+wrongColumns+` FROM wrong_questions WHERE id = ? AND user_id = ?`), id, userID))
	return w, notFound(err)
}

// DeleteWrongQuestion removes a row owned by userID.
func (s *Store) DeleteWrongQuestion(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM wrong_questions WHERE id = ? AND user_id = ?`), id, userID)
	return affectedOrNotFound(res, err)
}
