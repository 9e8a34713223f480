// Package exam implements the exam lifecycle: paper import, attempts,
// submission with LLM grading, and answer visibility.
package exam

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/llm"
	"github.com/mathpath/mathexam/internal/metrics"
	"github.com/mathpath/mathexam/internal/model"
	"github.com/mathpath/mathexam/internal/pdftext"
	"github.com/mathpath/mathexam/internal/storage"
	"github.com/mathpath/mathexam/internal/store"
)

// DefaultCost is the point price of starting an attempt.
const DefaultCost = 50

// Grader scores a submission.
type Grader interface {
	GradeExam(ctx context.Context, questions []model.Question, answers map[string]string) (llm.GradeOutcome, error)
}

// Extractor structures a paper's text into questions.
type Extractor interface {
	ExtractPaper(ctx context.Context, title, text string) (llm.Paper, error)
}

// Service coordinates the store, the LLM pipelines and file storage.
type Service struct {
	store     *store.Store
	grader    Grader
	extractor Extractor
	files     storage.Provider
	cost      int
}

// Config wires a Service.
type Config struct {
	Store     *store.Store
	Grader    Grader
	Extractor Extractor
	Files     storage.Provider
	// Cost is debited on a new attempt; negative means free.
	Cost int
}

// NewService creates a Service. A zero Cost uses DefaultCost.
func NewService(cfg Config) *Service {
	cost := cfg.Cost
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < 0 {
		cost = 0
	}
	return &Service{
		store:     cfg.Store,
		grader:    cfg.Grader,
		extractor: cfg.Extractor,
		files:     cfg.Files,
		cost:      cost,
	}
}

// Cost returns the point price of an attempt.
func (s *Service) Cost() int { return s.cost }

// Start opens an attempt or resumes the caller's in-progress one.
func (s *Service) Start(ctx context.Context, examID, userID string) (model.ExamRecord, error) {
	rec, debited, err := s.store.StartRecord(ctx, userID, examID, s.cost)
	if err != nil {
		return model.ExamRecord{}, err
	}
	if debited {
		metrics.AttemptsStarted.Inc()
		metrics.PointsDebited.Add(float64(s.cost))
		slog.Info("exam attempt started", "record_id", rec.ID, "exam_id", examID, "user_id", userID, "cost", s.cost)
	}
	return rec, nil
}

// SaveAnswers merges answers into the caller's in-progress attempt.
func (s *Service) SaveAnswers(ctx context.Context, recordID, userID string, answers map[string]string) (model.ExamRecord, error) {
	return s.store.SaveAnswers(ctx, recordID, userID, answers)
}

// Submit grades the caller's attempt and completes it. When grading fails
// the merged answers are kept and the attempt stays in progress.
func (s *Service) Submit(ctx context.Context, examID, recordID, userID string, answers map[string]string) (model.ExamRecord, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return model.ExamRecord{}, err
	}
	if rec.UserID != userID || (examID != "" && rec.ExamID != examID) {
		return model.ExamRecord{}, apperr.ErrNotFound
	}
	if rec.Status != model.RecordInProgress {
		return model.ExamRecord{}, apperr.ErrAlreadyCompleted
	}
	for k, v := range answers {
		rec.Answers[k] = v
	}

	exam, err := s.store.GetExam(ctx, rec.ExamID)
	if err != nil {
		return model.ExamRecord{}, fmt.Errorf("load exam: %w", err)
	}
	questions, err := s.store.ListQuestions(ctx, rec.ExamID)
	if err != nil {
		return model.ExamRecord{}, fmt.Errorf("load questions: %w", err)
	}

	outcome, err := s.grader.GradeExam(ctx, questions, rec.Answers)
	if err != nil {
		slog.Error("grading failed", "record_id", rec.ID, "error", err)
		if _, saveErr := s.store.SaveAnswers(ctx, rec.ID, userID, answers); saveErr != nil {
			slog.Warn("could not keep answers after grading failure", "record_id", rec.ID, "error", saveErr)
		}
		if !errors.Is(err, apperr.ErrGradingFailed) {
			err = fmt.Errorf("%w: %v", apperr.ErrGradingFailed, err)
		}
		return model.ExamRecord{}, err
	}

	results, total := ScoreResults(questions, outcome.Results)
	analysis := outcome.Analysis
	rec.Score = &total
	rec.Analysis = &analysis
	rec.Results = results

	done, err := s.store.CompleteRecord(ctx, rec, wrongQuestions(exam, questions, results, rec.Answers))
	if err != nil {
		return model.ExamRecord{}, err
	}
	slog.Info("exam attempt graded", "record_id", rec.ID, "score", total, "total", rec.TotalScore)
	return done, nil
}

// ScoreResults aligns model results with the questions, clamps each score
// to [0, question score] and sums them. Questions the model skipped score
// zero and count as incorrect. The model's own totals are never used.
func ScoreResults(questions []model.Question, graded []model.QuestionResult) ([]model.QuestionResult, float64) {
	byID := make(map[string]model.QuestionResult, len(graded))
	for _, r := range graded {
		if _, dup := byID[r.QuestionID]; !dup {
			byID[r.QuestionID] = r
		}
	}

	results := make([]model.QuestionResult, 0, len(questions))
	var total float64
	for _, q := range questions {
		r, ok := byID[q.ID]
		if !ok {
			r = model.QuestionResult{QuestionID: q.ID}
		}
		r.MaxScore = q.Score
		if r.Score < 0 {
			r.Score = 0
		}
		if r.Score > q.Score {
			r.Score = q.Score
		}
		total += r.Score
		results = append(results, r)
	}
	return results, total
}

func wrongQuestions(exam model.Exam, questions []model.Question, results []model.QuestionResult, answers map[string]string) []model.WrongQuestion {
	correct := make(map[string]bool, len(results))
	for _, r := range results {
		correct[r.QuestionID] = r.IsCorrect
	}
	var out []model.WrongQuestion
	for _, q := range questions {
		if correct[q.ID] {
			continue
		}
		out = append(out, model.WrongQuestion{
			QuestionID:      q.ID,
			Content:         q.Content,
			UserAnswer:      answers[q.ID],
			CorrectAnswer:   q.AnswerText(),
			Score:           q.Score,
			Source:          "exam:" + exam.Title,
			KnowledgePoints: q.KnowledgePoints,
		})
	}
	return out
}

// Detail returns an exam with its questions. Disabled exams are only visible
// to admins; answers only to admins and viewers with a completed attempt.
func (s *Service) Detail(ctx context.Context, examID string, viewer *model.Identity) (model.ExamDetail, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return model.ExamDetail{}, err
	}
	if exam.Status != model.StatusActive && !viewer.IsAdmin() {
		return model.ExamDetail{}, apperr.ErrNotFound
	}
	questions, visible, err := s.questions(ctx, examID, viewer)
	if err != nil {
		return model.ExamDetail{}, err
	}
	return model.ExamDetail{Exam: exam, Questions: questions, AnswersVisible: visible}, nil
}

// Questions returns an exam's questions under the same visibility rules as Detail.
func (s *Service) Questions(ctx context.Context, examID string, viewer *model.Identity) ([]model.Question, bool, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, false, err
	}
	if exam.Status != model.StatusActive && !viewer.IsAdmin() {
		return nil, false, apperr.ErrNotFound
	}
	return s.questions(ctx, examID, viewer)
}

func (s *Service) questions(ctx context.Context, examID string, viewer *model.Identity) ([]model.Question, bool, error) {
	questions, err := s.store.ListQuestions(ctx, examID)
	if err != nil {
		return nil, false, err
	}
	visible, err := s.answersVisible(ctx, examID, viewer)
	if err != nil {
		return nil, false, err
	}
	if !visible {
		for i := range questions {
			questions[i].Answer = nil
		}
	}
	return questions, visible, nil
}

func (s *Service) answersVisible(ctx context.Context, examID string, viewer *model.Identity) (bool, error) {
	if viewer == nil {
		return false, nil
	}
	if viewer.IsAdmin() {
		return true, nil
	}
	return s.store.HasCompletedRecord(ctx, viewer.UserID, examID)
}

// Records lists the caller's attempts, optionally for one exam.
func (s *Service) Records(ctx context.Context, userID, examID string) ([]model.ExamRecord, error) {
	return s.store.ListRecords(ctx, userID, examID)
}

// DeleteExam removes an exam with its records and questions, then the
// stored source file. File removal failures are only logged.
func (s *Service) DeleteExam(ctx context.Context, examID string) error {
	source, err := s.store.DeleteExam(ctx, examID)
	if err != nil {
		return err
	}
	slog.Info("exam deleted", "exam_id", examID)
	if source != "" && !strings.HasPrefix(source, ocrSourcePrefix) && s.files != nil {
		if err := s.files.Delete(ctx, source); err != nil {
			slog.Warn("could not remove exam source file", "exam_id", examID, "key", source, "error", err)
		}
	}
	return nil
}

const ocrSourcePrefix = "ocr:"

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ImportOCR builds an exam from client-side OCR text. The text's SHA-256 is
// recorded as the exam source; a text imported before is a conflict.
func (s *Service) ImportOCR(ctx context.Context, title, text string, meta llm.PaperMeta) (model.Exam, error) {
	title, text = strings.TrimSpace(title), strings.TrimSpace(text)
	if title == "" || text == "" {
		return model.Exam{}, fmt.Errorf("%w: title and text are required", apperr.ErrValidation)
	}
	hash := contentHash([]byte(text))
	if err := s.checkNotImported(ctx, hash); err != nil {
		return model.Exam{}, err
	}

	paper, err := s.extractor.ExtractPaper(ctx, title, text)
	if err != nil {
		return model.Exam{}, err
	}
	return s.persist(ctx, title, ocrSourcePrefix+hash, hash, paper, meta)
}

// ImportPDF extracts a PDF's text layer, structures it with the LLM, stores
// the file and persists the exam. A PDF without text is a bad request.
func (s *Service) ImportPDF(ctx context.Context, title string, data []byte, meta llm.PaperMeta) (model.Exam, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(data) == 0 {
		return model.Exam{}, fmt.Errorf("%w: title and file are required", apperr.ErrValidation)
	}
	hash := contentHash(data)
	if err := s.checkNotImported(ctx, hash); err != nil {
		return model.Exam{}, err
	}

	text, err := pdftext.Extract(data)
	if err != nil {
		return model.Exam{}, fmt.Errorf("%w: %w", apperr.ErrBadRequest, err)
	}
	paper, err := s.extractor.ExtractPaper(ctx, title, text)
	if err != nil {
		return model.Exam{}, err
	}

	key := storage.PaperKey(title)
	if err := s.files.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return model.Exam{}, fmt.Errorf("store paper: %w", err)
	}
	exam, err := s.persist(ctx, title, key, hash, paper, meta)
	if err != nil {
		if delErr := s.files.Delete(ctx, key); delErr != nil {
			slog.Warn("could not remove paper after failed import", "key", key, "error", delErr)
		}
		return model.Exam{}, err
	}
	return exam, nil
}

func (s *Service) checkNotImported(ctx context.Context, hash string) error {
	existing, err := s.store.GetImportByHash(ctx, hash)
	if err != nil {
		return err
	}
	if existing != "" {
		return fmt.Errorf("paper already imported as exam %s: %w", existing, apperr.ErrConflict)
	}
	return nil
}

func (s *Service) persist(ctx context.Context, title, source, hash string, paper llm.Paper, override llm.PaperMeta) (model.Exam, error) {
	meta := paper.Meta.Merge(override)
	// Scores are clamped per question, so the total must cover their sum.
	var sum float64
	for _, q := range paper.Questions {
		sum += q.Score
	}
	meta.TotalScore = max(meta.TotalScore, sum)
	exam, err := s.store.CreateExam(ctx, model.Exam{
		Title:      title,
		Grade:      meta.Grade,
		Region:     meta.Region,
		Semester:   meta.Semester,
		ExamType:   meta.ExamType,
		Year:       meta.Year,
		Duration:   meta.Duration,
		TotalScore: meta.TotalScore,
		SourceFile: source,
	}, paper.Questions, hash)
	if err != nil {
		return model.Exam{}, err
	}
	slog.Info("exam imported", "exam_id", exam.ID, "title", title, "questions", exam.QuestionCount, "total", exam.TotalScore)
	return exam, nil
}
