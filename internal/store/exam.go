package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/model"
)

const examColumns = `id, title, grade, region, semester, exam_type, year, duration,
	total_score, question_count, status, source_file, created_at`

func scanExam(row interface{ Scan(...any) error }) (model.Exam, error) {
	var e model.Exam
	err := row.Scan(&e.ID, &e.Title, &e.Grade, &e.Region, &e.Semester, &e.ExamType, &e.Year, &e.Duration,
		&e.TotalScore, &e.QuestionCount, &e.Status, &e.SourceFile, &e.CreatedAt)
	return e, err
}

// CreateExam stores an exam and its questions in one transaction. When
// contentHash is set, the paper import is recorded under it; a hash that was
// already imported yields apperr.ErrConflict and nothing is written.
func (s *Store) CreateExam(ctx context.Context, e model.Exam, questions []model.Question, contentHash string) (model.Exam, error) {
	e.ID = uuid.NewString()
	e.CreatedAt = now()
	e.QuestionCount = len(questions)
	if e.Status == "" {
		e.Status = model.StatusActive
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO exams (`+examColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ID, e.Title, e.Grade, e.Region, e.Semester, e.ExamType, e.Year, e.Duration,
			e.TotalScore, e.QuestionCount, e.Status, e.SourceFile, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}

		for i := range questions {
			q := &questions[i]
			q.ID = uuid.NewString()
			q.ExamID = e.ID
			if err := insertQuestion(ctx, tx, s.driver, *q); err != nil {
				return fmt.Errorf("insert question %d: %w", q.Number, err)
			}
		}

		if contentHash != "" {
			_, err := tx.ExecContext(ctx, s.q(
				`INSERT INTO paper_imports (content_hash, exam_id, created_at) VALUES (?, ?, ?)`),
				contentHash, e.ID, e.CreatedAt)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("paper already imported: %w", apperr.ErrConflict)
				}
				return fmt.Errorf("record import: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Exam{}, err
	}
	return e, nil
}

func insertQuestion(ctx context.Context, tx querier, driver string, q model.Question) error {
	options := ""
	if len(q.Options) > 0 {
		var err error
		if options, err = encodeJSON(q.Options); err != nil {
			return err
		}
	}
	kps := q.KnowledgePoints
	if kps == nil {
		kps = []string{}
	}
	kpJSON, err := encodeJSON(kps)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, rebind(driver,
		`INSERT INTO questions (id, exam_id, number, type, content, options, answer, score, difficulty, knowledge_points)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		q.ID, q.ExamID, q.Number, q.Type, q.Content, options, q.AnswerText(), q.Score, q.Difficulty, kpJSON,
	)
	return err
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(ctx context.Context, id string) (model.Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, s.q(`SELECT `+examColumns+` FROM exams WHERE id = ?`), id))
	return e, notFound(err)
}

// ListExams returns exams matching the filter, newest first.
func (s *Store) ListExams(ctx context.Context, f model.ExamFilter) ([]model.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM exams WHERE 1=1`
	var args []any
	if !f.IncludeDisabled {
		query += ` AND status = ?`
		args = append(args, model.StatusActive)
	}
	for _, c := range []struct{ col, val string }{
		{"grade", f.Grade},
		{"region", f.Region},
		{"semester", f.Semester},
		{"exam_type", f.ExamType},
	} {
		if c.val != "" {
			query += ` AND ` + c.col + ` = ?`
			args = append(args, c.val)
		}
	}
	if f.Year > 0 {
		query += ` AND year = ?`
		args = append(args, f.Year)
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		query += ` AND title LIKE ?`
		args = append(args, "%"+kw+"%")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListAdminExams returns every exam with its attempt count.
func (s *Store) ListAdminExams(ctx context.Context) ([]model.AdminExam, error) {
	exams, err := s.ListExams(ctx, model.ExamFilter{IncludeDisabled: true})
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	rows, err := s.db.QueryContext(ctx, `SELECT exam_id, COUNT(*) FROM exam_records GROUP BY exam_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.AdminExam, 0, len(exams))
	for _, e := range exams {
		out = append(out, model.AdminExam{Exam: e, RecordCount: counts[e.ID]})
	}
	return out, nil
}

// SetExamStatus enables or disables an exam.
func (s *Store) SetExamStatus(ctx context.Context, id string, status model.AccountStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE exams SET status = ? WHERE id = ?`), status, id)
	return affectedOrNotFound(res, err)
}

// DeleteExam removes an exam's records, then its questions, then the exam
// itself. It returns the exam's source file so callers can clean up storage.
func (s *Store) DeleteExam(ctx context.Context, id string) (string, error) {
	var source string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.q(`SELECT source_file FROM exams WHERE id = ?`), id).Scan(&source); err != nil {
			return notFound(err)
		}
		for _, stmt := range []string{
			`DELETE FROM exam_records WHERE exam_id = ?`,
			`DELETE FROM questions WHERE exam_id = ?`,
			`DELETE FROM paper_imports WHERE exam_id = ?`,
			`DELETE FROM exams WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, s.q(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
	return source, err
}

// ListQuestions returns an exam's questions ordered by number, answers included.
func (s *Store) ListQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, exam_id, number, type, content, options, answer, score, difficulty, knowledge_points
		 FROM questions WHERE exam_id = ? ORDER BY number, id`), examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	questions := []model.Question{}
	for rows.Next() {
		var (
			q                    model.Question
			options, answer, kps string
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Number, &q.Type, &q.Content, &options, &answer,
			&q.Score, &q.Difficulty, &kps); err != nil {
			return nil, err
		}
		if err := decodeJSON(options, &q.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", q.ID, err)
		}
		q.KnowledgePoints = []string{}
		if err := decodeJSON(kps, &q.KnowledgePoints); err != nil {
			return nil, fmt.Errorf("question %s knowledge points: %w", q.ID, err)
		}
		q.Answer = &answer
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
