package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/model"
)

const recordColumns = `id, user_id, exam_id, answers, status, started_at, completed_at, score,
	total_score, analysis, results`

func scanRecord(row interface{ Scan(...any) error }) (model.ExamRecord, error) {
	var (
		r                          model.ExamRecord
		answers, analysis, results string
		completedAt                sql.NullTime
		score                      sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ExamID, &answers, &r.Status, &r.StartedAt, &completedAt, &score,
		&r.TotalScore, &analysis, &results)
	if err != nil {
		return r, err
	}
	r.Answers = map[string]string{}
	if err := decodeJSON(answers, &r.Answers); err != nil {
		return r, fmt.Errorf("record %s answers: %w", r.ID, err)
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CompletedAt = &t
	}
	if score.Valid {
		v := score.Float64
		r.Score = &v
	}
	if analysis != "" {
		r.Analysis = &model.Analysis{}
		if err := decodeJSON(analysis, r.Analysis); err != nil {
			return r, fmt.Errorf("record %s analysis: %w", r.ID, err)
		}
	}
	if err := decodeJSON(results, &r.Results); err != nil {
		return r, fmt.Errorf("record %s results: %w", r.ID, err)
	}
	return r, nil
}

var errLostStartRace = errors.New("concurrent start")

// StartRecord opens an attempt for (userID, examID), debiting cost points.
// An existing in-progress attempt is returned unchanged with debited=false.
// The debit and the insert share one transaction, so a failed insert never
// loses points.
func (s *Store) StartRecord(ctx context.Context, userID, examID string, cost int) (rec model.ExamRecord, debited bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanRecord(tx.QueryRowContext(ctx, s.q(
			`SELECT `+recordColumns+` FROM exam_records WHERE user_id = ? AND exam_id = ? AND status = ?`),
			userID, examID, model.RecordInProgress))
		if err == nil {
			rec = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var (
			status model.AccountStatus
			total  float64
		)
		err = tx.QueryRowContext(ctx, s.q(`SELECT status, total_score FROM exams WHERE id = ?`), examID).Scan(&status, &total)
		if err != nil {
			return notFound(err)
		}
		if status != model.StatusActive {
			return fmt.Errorf("exam %s is disabled: %w", examID, apperr.ErrNotFound)
		}

		if cost > 0 {
			res, err := tx.ExecContext(ctx, s.q(
				`UPDATE users SET points = points - ? WHERE id = ? AND points >= ?`), cost, userID, cost)
			if err != nil {
				return fmt.Errorf("debit points: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return apperr.ErrInsufficientPoints
			}
		}

		rec = model.ExamRecord{
			ID:         uuid.NewString(),
			UserID:     userID,
			ExamID:     examID,
			Answers:    map[string]string{},
			Status:     model.RecordInProgress,
			StartedAt:  now(),
			TotalScore: total,
		}
		_, err = tx.ExecContext(ctx, s.q(
			`INSERT INTO exam_records (id, user_id, exam_id, answers, status, started_at, total_score)
			 VALUES (?, ?, ?, '{}', ?, ?, ?)`),
			rec.ID, rec.UserID, rec.ExamID, rec.Status, rec.StartedAt, rec.TotalScore)
		if err != nil {
			if isUniqueViolation(err) {
				return errLostStartRace
			}
			return fmt.Errorf("insert record: %w", err)
		}
		debited = cost > 0
		return nil
	})

	if errors.Is(err, errLostStartRace) {
		// Another request opened the attempt first; its transaction did the debit.
		slog.Warn("concurrent exam start, returning existing attempt", "user_id", userID, "exam_id", examID)
		rec, err = scanRecord(s.db.QueryRowContext(ctx, s.q(
			`SELECT `+recordColumns+` FROM exam_records WHERE user_id = ? AND exam_id = ? AND status = ?`),
			userID, examID, model.RecordInProgress))
		return rec, false, notFound(err)
	}
	if err != nil {
		return model.ExamRecord{}, false, err
	}
	return rec, debited, nil
}

// GetRecord returns an attempt by ID.
func (s *Store) GetRecord(ctx context.Context, id string) (model.ExamRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, s.q(`SELECT `+recordColumns+` FROM exam_records WHERE id = ?`), id))
	return r, notFound(err)
}

// ListRecords returns a user's attempts, newest first. examID is optional.
func (s *Store) ListRecords(ctx context.Context, userID, examID string) ([]model.ExamRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM exam_records WHERE user_id = ?`
	args := []any{userID}
	if examID != "" {
		query += ` AND exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY started_at DESC`
	return s.queryRecords(ctx, query, args...)
}

// ListExamRecords returns every attempt on an exam, or on all exams when
// examID is empty, oldest first.
func (s *Store) ListExamRecords(ctx context.Context, examID string) ([]model.ExamRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM exam_records`
	var args []any
	if examID != "" {
		query += ` WHERE exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY started_at`
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]model.ExamRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []model.ExamRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveAnswers merges answers into the caller's in-progress attempt.
// A record owned by someone else is reported as not found; a completed one
// as a conflict.
func (s *Store) SaveAnswers(ctx context.Context, recordID, userID string, answers map[string]string) (model.ExamRecord, error) {
	var rec model.ExamRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRowContext(ctx, s.q(`SELECT `+recordColumns+` FROM exam_records WHERE id = ?`), recordID))
		if err != nil {
			return notFound(err)
		}
		if rec.UserID != userID {
			return apperr.ErrNotFound
		}
		if rec.Status != model.RecordInProgress {
			return fmt.Errorf("record %s is %s: %w", recordID, rec.Status, apperr.ErrConflict)
		}
		for k, v := range answers {
			rec.Answers[k] = v
		}
		raw, err := encodeJSON(rec.Answers)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(
			`UPDATE exam_records SET answers = ? WHERE id = ? AND status = ?`), raw, recordID, model.RecordInProgress)
		if err := affectedOrNotFound(res, err); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.ExamRecord{}, err
	}
	return rec, nil
}

// CompleteRecord stores the graded outcome and flips the attempt to
// completed. Missed questions are recorded as wrong questions in the same
// transaction. The update only applies to in-progress attempts; otherwise
// apperr.ErrAlreadyCompleted is returned.
func (s *Store) CompleteRecord(ctx context.Context, rec model.ExamRecord, wrongs []model.WrongQuestion) (model.ExamRecord, error) {
	answers, err := encodeJSON(rec.Answers)
	if err != nil {
		return model.ExamRecord{}, err
	}
	analysis := ""
	if rec.Analysis != nil {
		if analysis, err = encodeJSON(rec.Analysis); err != nil {
			return model.ExamRecord{}, err
		}
	}
	results, err := encodeJSON(rec.Results)
	if err != nil {
		return model.ExamRecord{}, err
	}
	var score float64
	if rec.Score != nil {
		score = *rec.Score
	}
	completed := now()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(
			`UPDATE exam_records SET answers = ?, status = ?, completed_at = ?, score = ?, analysis = ?, results = ?
			 WHERE id = ? AND status = ?`),
			answers, model.RecordCompleted, completed, score, analysis, results, rec.ID, model.RecordInProgress)
		if err != nil {
			return fmt.Errorf("complete record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.ErrAlreadyCompleted
		}
		for _, w := range wrongs {
			w.UserID = rec.UserID
			if _, err := upsertWrongQuestion(ctx, tx, s.driver, w); err != nil {
				return fmt.Errorf("record wrong question %s: %w", w.QuestionID, err)
			}
		}
		return nil
	})
	if err != nil {
		return model.ExamRecord{}, err
	}
	rec.Status = model.RecordCompleted
	rec.CompletedAt = &completed
	return rec, nil
}

// HasCompletedRecord reports whether the user finished the exam at least once.
func (s *Store) HasCompletedRecord(ctx context.Context, userID, examID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM exam_records WHERE user_id = ? AND exam_id = ? AND status = ?`),
		userID, examID, model.RecordCompleted).Scan(&n)
	return n > 0, err
}
