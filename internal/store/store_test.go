package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, email string, points int) model.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), model.User{Email: email, PasswordHash: "hash", Points: points})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func strPtr(s string) *string { return &s }

func createTestExam(t *testing.T, s *Store, title string) (model.Exam, []model.Question) {
	t.Helper()
	questions := []model.Question{
		{Number: 1, Type: model.QuestionChoice, Content: "1+1=?", Options: map[string]string{"A": "1", "B": "2"},
			Answer: strPtr("B"), Score: 10, Difficulty: model.DifficultyEasy, KnowledgePoints: []string{"加法"}},
		{Number: 2, Type: model.QuestionFill, Content: "2*3=__", Answer: strPtr("6"), Score: 5,
			Difficulty: model.DifficultyMedium},
	}
	e, err := s.CreateExam(context.Background(), model.Exam{
		Title: title, Grade: "初一", Region: "海淀区", Semester: "上学期", ExamType: "期中",
		Year: 2024, Duration: 90, TotalScore: 15,
	}, questions, "")
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	qs, err := s.ListQuestions(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	return e, qs
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.UserCount(ctx)
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	u := createTestUser(t, s, "Student@Example.com", 100)
	if u.Email != "student@example.com" {
		t.Errorf("expected lowercased email, got %q", u.Email)
	}
	if u.Role != model.UserRoleUser || u.Status != model.StatusActive {
		t.Errorf("unexpected defaults: role=%q status=%q", u.Role, u.Status)
	}

	got, err := s.GetUserByEmail(ctx, "STUDENT@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID || got.Points != 100 {
		t.Errorf("unexpected user: %+v", got)
	}

	_, err = s.CreateUser(ctx, model.User{Email: "student@example.com", PasswordHash: "x"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate email, got %v", err)
	}

	_, err = s.GetUserByID(ctx, "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	admin := model.UserRoleAdmin
	points := 7
	updated, err := s.UpdateUser(ctx, u.ID, UserPatch{Role: &admin, Points: &points})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.Role != model.UserRoleAdmin || updated.Points != 7 {
		t.Errorf("patch not applied: %+v", updated)
	}

	if err := s.UpdatePassword(ctx, u.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if got.PasswordHash != "new-hash" {
		t.Errorf("expected new hash, got %q", got.PasswordHash)
	}

	if err := s.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := s.DeleteUser(ctx, u.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestExamCreateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, qs := createTestExam(t, s, "2024 海淀 初一 期中")
	if e.QuestionCount != 2 {
		t.Errorf("expected question count 2, got %d", e.QuestionCount)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if qs[0].Number != 1 || qs[0].AnswerText() != "B" || qs[0].Options["B"] != "2" {
		t.Errorf("unexpected first question: %+v", qs[0])
	}
	if len(qs[0].KnowledgePoints) != 1 || qs[0].KnowledgePoints[0] != "加法" {
		t.Errorf("unexpected knowledge points: %v", qs[0].KnowledgePoints)
	}
	if qs[1].Options != nil {
		t.Errorf("fill question should have no options, got %v", qs[1].Options)
	}

	createTestExam(t, s, "2023 朝阳 初二 期末")
	other, _ := createTestExam(t, s, "disabled paper")
	if err := s.SetExamStatus(ctx, other.ID, model.StatusDisabled); err != nil {
		t.Fatalf("SetExamStatus: %v", err)
	}

	tests := []struct {
		name   string
		filter model.ExamFilter
		want   int
	}{
		{"active only", model.ExamFilter{}, 2},
		{"include disabled", model.ExamFilter{IncludeDisabled: true}, 3},
		{"by region", model.ExamFilter{Region: "海淀区"}, 2},
		{"by year", model.ExamFilter{Year: 2023}, 0},
		{"by keyword", model.ExamFilter{Keyword: "朝阳"}, 1},
		{"no match", model.ExamFilter{Grade: "初三"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exams, err := s.ListExams(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListExams: %v", err)
			}
			if len(exams) != tt.want {
				t.Errorf("expected %d exams, got %d", tt.want, len(exams))
			}
		})
	}
}

func TestCreateExamDuplicateHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := []model.Question{{Number: 1, Type: model.QuestionEssay, Content: "prove it", Score: 10}}

	first, err := s.CreateExam(ctx, model.Exam{Title: "a", SourceFile: "ocr:abc"}, q, "abc")
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	_, err = s.CreateExam(ctx, model.Exam{Title: "b", SourceFile: "ocr:abc"}, q, "abc")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	exams, err := s.ListExams(ctx, model.ExamFilter{IncludeDisabled: true})
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 1 {
		t.Fatalf("rolled back import left %d exams", len(exams))
	}

	id, err := s.GetImportByHash(ctx, "abc")
	if err != nil {
		t.Fatalf("GetImportByHash: %v", err)
	}
	if id != first.ID {
		t.Errorf("expected import to point at %s, got %s", first.ID, id)
	}
	if id, _ := s.GetImportByHash(ctx, "unknown"); id != "" {
		t.Errorf("expected empty id for unknown hash, got %q", id)
	}
}

func TestStartRecordIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 100)
	e, _ := createTestExam(t, s, "paper")

	first, debited, err := s.StartRecord(ctx, u.ID, e.ID, 50)
	if err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	if !debited {
		t.Error("expected first start to debit")
	}
	if first.TotalScore != 15 || first.Status != model.RecordInProgress {
		t.Errorf("unexpected record: %+v", first)
	}

	second, debited, err := s.StartRecord(ctx, u.ID, e.ID, 50)
	if err != nil {
		t.Fatalf("StartRecord (resume): %v", err)
	}
	if debited {
		t.Error("resume must not debit")
	}
	if second.ID != first.ID {
		t.Errorf("expected same record id, got %s and %s", first.ID, second.ID)
	}

	got, _ := s.GetUserByID(ctx, u.ID)
	if got.Points != 50 {
		t.Errorf("expected balance 50 after one debit, got %d", got.Points)
	}
}

func TestStartRecordFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	poor := createTestUser(t, s, "poor@example.com", 49)
	rich := createTestUser(t, s, "rich@example.com", 500)
	e, _ := createTestExam(t, s, "paper")
	disabled, _ := createTestExam(t, s, "old paper")
	if err := s.SetExamStatus(ctx, disabled.ID, model.StatusDisabled); err != nil {
		t.Fatalf("SetExamStatus: %v", err)
	}

	tests := []struct {
		name    string
		userID  string
		examID  string
		wantErr error
	}{
		{"insufficient points", poor.ID, e.ID, apperr.ErrInsufficientPoints},
		{"unknown exam", rich.ID, "missing", apperr.ErrNotFound},
		{"disabled exam", rich.ID, disabled.ID, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.StartRecord(ctx, tt.userID, tt.examID, 50)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	got, _ := s.GetUserByID(ctx, poor.ID)
	if got.Points != 49 {
		t.Errorf("failed start changed balance to %d", got.Points)
	}
	got, _ = s.GetUserByID(ctx, rich.ID)
	if got.Points != 500 {
		t.Errorf("failed start changed balance to %d", got.Points)
	}
}

func TestSaveAndCompleteRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 100)
	other := createTestUser(t, s, "b@example.com", 100)
	e, qs := createTestExam(t, s, "paper")

	rec, _, err := s.StartRecord(ctx, u.ID, e.ID, 0)
	if err != nil {
		t.Fatalf("StartRecord: %v", err)
	}

	if _, err := s.SaveAnswers(ctx, rec.ID, other.ID, map[string]string{qs[0].ID: "A"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign record, got %v", err)
	}
	if _, err := s.SaveAnswers(ctx, rec.ID, u.ID, map[string]string{qs[0].ID: "A"}); err != nil {
		t.Fatalf("SaveAnswers: %v", err)
	}
	saved, err := s.SaveAnswers(ctx, rec.ID, u.ID, map[string]string{qs[1].ID: "6"})
	if err != nil {
		t.Fatalf("SaveAnswers: %v", err)
	}
	if len(saved.Answers) != 2 || saved.Answers[qs[0].ID] != "A" {
		t.Errorf("answers not merged: %v", saved.Answers)
	}

	score := 5.0
	saved.Score = &score
	saved.Analysis = &model.Analysis{Summary: "ok"}
	saved.Results = []model.QuestionResult{
		{QuestionID: qs[0].ID, IsCorrect: false, Score: 0, MaxScore: 10},
		{QuestionID: qs[1].ID, IsCorrect: true, Score: 5, MaxScore: 5},
	}
	wrong := []model.WrongQuestion{{QuestionID: qs[0].ID, Content: qs[0].Content, UserAnswer: "A",
		CorrectAnswer: "B", Score: 10, Source: "exam:paper"}}
	if _, err := s.CompleteRecord(ctx, saved, wrong); err != nil {
		t.Fatalf("CompleteRecord: %v", err)
	}
	if _, err := s.CompleteRecord(ctx, saved, nil); !errors.Is(err, apperr.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
	if _, err := s.SaveAnswers(ctx, rec.ID, u.ID, map[string]string{}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict saving into completed record, got %v", err)
	}

	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Status != model.RecordCompleted || got.CompletedAt == nil {
		t.Errorf("record not completed: %+v", got)
	}
	if got.Score == nil || *got.Score != 5 {
		t.Errorf("unexpected score: %v", got.Score)
	}
	if got.Analysis == nil || got.Analysis.Summary != "ok" || len(got.Results) != 2 {
		t.Errorf("analysis/results not stored: %+v", got)
	}

	done, err := s.HasCompletedRecord(ctx, u.ID, e.ID)
	if err != nil || !done {
		t.Errorf("HasCompletedRecord = %v, %v", done, err)
	}
	done, _ = s.HasCompletedRecord(ctx, other.ID, e.ID)
	if done {
		t.Error("other user has no completed record")
	}

	wqs, err := s.ListWrongQuestions(ctx, u.ID, nil)
	if err != nil {
		t.Fatalf("ListWrongQuestions: %v", err)
	}
	if len(wqs) != 1 || wqs[0].Source != "exam:paper" {
		t.Errorf("expected one wrong question from the exam, got %+v", wqs)
	}
}

func TestDeleteExamCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 100)
	e, _ := createTestExam(t, s, "paper")
	if _, _, err := s.StartRecord(ctx, u.ID, e.ID, 0); err != nil {
		t.Fatalf("StartRecord: %v", err)
	}

	if _, err := s.DeleteExam(ctx, e.ID); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}

	qs, err := s.ListQuestions(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(qs) != 0 {
		t.Errorf("expected no questions, got %d", len(qs))
	}
	recs, err := s.ListRecords(ctx, u.ID, e.ID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
	if _, err := s.GetExam(ctx, e.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.DeleteExam(ctx, e.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestWrongQuestionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 0)
	other := createTestUser(t, s, "b@example.com", 0)

	w := model.WrongQuestion{UserID: u.ID, QuestionID: "q1", Content: "1+1=?", UserAnswer: "A",
		CorrectAnswer: "B", Score: 10, Source: "manual", KnowledgePoints: []string{"加法"}}
	first, err := s.RecordWrongQuestion(ctx, w)
	if err != nil {
		t.Fatalf("RecordWrongQuestion: %v", err)
	}
	if first.PracticeCount != 1 {
		t.Errorf("expected practice count 1, got %d", first.PracticeCount)
	}

	w.Content = "changed"
	second, err := s.RecordWrongQuestion(ctx, w)
	if err != nil {
		t.Fatalf("RecordWrongQuestion: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same row, got %s and %s", first.ID, second.ID)
	}
	if second.PracticeCount != 2 {
		t.Errorf("expected practice count 2, got %d", second.PracticeCount)
	}
	if second.Content != "1+1=?" {
		t.Errorf("upsert must not touch content, got %q", second.Content)
	}

	list, err := s.ListWrongQuestions(ctx, u.ID, nil)
	if err != nil {
		t.Fatalf("ListWrongQuestions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 row, got %d", len(list))
	}

	mastered := true
	note := "carry the one"
	if _, err := s.UpdateWrongQuestion(ctx, other.ID, first.ID, WrongQuestionPatch{Mastered: &mastered}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign update, got %v", err)
	}
	updated, err := s.UpdateWrongQuestion(ctx, u.ID, first.ID, WrongQuestionPatch{Mastered: &mastered, Note: &note})
	if err != nil {
		t.Fatalf("UpdateWrongQuestion: %v", err)
	}
	if !updated.Mastered || updated.Note != note {
		t.Errorf("patch not applied: %+v", updated)
	}

	notMastered := false
	list, _ = s.ListWrongQuestions(ctx, u.ID, &notMastered)
	if len(list) != 0 {
		t.Errorf("expected no unmastered rows, got %d", len(list))
	}

	if err := s.DeleteWrongQuestion(ctx, other.ID, first.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign delete, got %v", err)
	}
	if err := s.DeleteWrongQuestion(ctx, u.ID, first.ID); err != nil {
		t.Fatalf("DeleteWrongQuestion: %v", err)
	}
}

func TestCoursesAndNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 0)

	c, err := s.CreateCourse(ctx, model.Course{Title: "有理数", Grade: "初一", SortOrder: 2})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	hidden, err := s.CreateCourse(ctx, model.Course{Title: "draft", SortOrder: 1, Status: model.StatusDisabled})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}

	public, _ := s.ListCourses(ctx, false)
	if len(public) != 1 || public[0].ID != c.ID {
		t.Errorf("expected only the active course, got %+v", public)
	}
	all, _ := s.ListCourses(ctx, true)
	if len(all) != 2 || all[0].ID != hidden.ID {
		t.Errorf("expected courses ordered by sort order, got %+v", all)
	}

	c.Title = "有理数（一）"
	if _, err := s.UpdateCourse(ctx, c); err != nil {
		t.Fatalf("UpdateCourse: %v", err)
	}

	if _, err := s.UpsertNote(ctx, u.ID, "missing", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown course, got %v", err)
	}
	n1, err := s.UpsertNote(ctx, u.ID, c.ID, "first")
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	n2, err := s.UpsertNote(ctx, u.ID, c.ID, "second")
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	if n1.ID != n2.ID {
		t.Errorf("expected one note per course, got %s and %s", n1.ID, n2.ID)
	}
	notes, _ := s.ListNotes(ctx, u.ID, c.ID)
	if len(notes) != 1 || notes[0].Content != "second" {
		t.Errorf("unexpected notes: %+v", notes)
	}

	if err := s.DeleteCourse(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCourse: %v", err)
	}
	notes, _ = s.ListNotes(ctx, u.ID, "")
	if len(notes) != 0 {
		t.Errorf("course delete left %d notes", len(notes))
	}
}

func TestStatistics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 100)
	e1, _ := createTestExam(t, s, "one")
	e2, _ := createTestExam(t, s, "two")

	rec, _, err := s.StartRecord(ctx, u.ID, e1.ID, 0)
	if err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	score := 12.0
	rec.Score = &score
	if _, err := s.CompleteRecord(ctx, rec, nil); err != nil {
		t.Fatalf("CompleteRecord: %v", err)
	}
	if _, _, err := s.StartRecord(ctx, u.ID, e2.ID, 0); err != nil {
		t.Fatalf("StartRecord: %v", err)
	}

	st, err := s.Statistics(ctx, u.ID, time.Now())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.TotalAttempts != 2 || st.CompletedAttempts != 1 || st.InProgressAttempts != 1 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.AverageRate != 80 || st.BestRate != 80 {
		t.Errorf("expected rate 80, got avg=%v best=%v", st.AverageRate, st.BestRate)
	}
	if st.Points != 100 {
		t.Errorf("expected points 100, got %d", st.Points)
	}
	if len(st.Daily) != StatsDays {
		t.Fatalf("expected %d days, got %d", StatsDays, len(st.Daily))
	}
	last := st.Daily[len(st.Daily)-1]
	if last.Completed != 1 || last.AvgRate != 80 {
		t.Errorf("unexpected last day: %+v", last)
	}
}

func TestExportRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com", 0)
	e, _ := createTestExam(t, s, "paper")
	if _, _, err := s.StartRecord(ctx, u.ID, e.ID, 0); err != nil {
		t.Fatalf("StartRecord: %v", err)
	}

	exp, err := s.ExportRecords(ctx, e.ID)
	if err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}
	if len(exp.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(exp.Results))
	}
	r := exp.Results[0]
	if r.Email != "a@example.com" || r.ExamTitle != "paper" || r.Status != model.RecordInProgress {
		t.Errorf("unexpected result: %+v", r)
	}

	admins, err := s.ListAdminExams(ctx)
	if err != nil {
		t.Fatalf("ListAdminExams: %v", err)
	}
	if len(admins) != 1 || admins[0].RecordCount != 1 {
		t.Errorf("unexpected admin exams: %+v", admins)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver, in, want string
	}{
		{DriverSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{DriverPostgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{DriverPostgres, "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := rebind(tt.driver, tt.in); got != tt.want {
			t.Errorf("rebind(%q, %q) = %q, want %q", tt.driver, tt.in, got, tt.want)
		}
	}
}
