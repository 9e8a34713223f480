package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleUser is a regular student account.
	UserRoleUser UserRole = "user"
	// UserRoleAdmin can manage courses, exam papers and users.
	UserRoleAdmin UserRole = "admin"
)

// AccountStatus is shared by users, exams and courses.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusDisabled AccountStatus = "disabled"
)

// User represents a platform account.
type User struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Role         UserRole      `json:"role"`
	Points       int           `json:"points"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Identity is the decoded content of a bearer credential.
type Identity struct {
	UserID string   `json:"userId"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == UserRoleAdmin
}

type identityCtxKey struct{}

// ContextWithIdentity stores the authenticated identity in the request context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity from context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

// QuestionType is the kind of an exam question.
type QuestionType string

const (
	QuestionChoice QuestionType = "choice"
	QuestionFill   QuestionType = "fill"
	QuestionEssay  QuestionType = "essay"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Exam is an ingested exam paper.
type Exam struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Grade         string        `json:"grade"`
	Region        string        `json:"region"`
	Semester      string        `json:"semester"`
	ExamType      string        `json:"examType"`
	Year          int           `json:"year"`
	Duration      int           `json:"duration"`
	TotalScore    float64       `json:"totalScore"`
	QuestionCount int           `json:"questionCount"`
	Status        AccountStatus `json:"status"`
	SourceFile    string        `json:"sourceFile,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Question belongs to an Exam. Answer is nil when hidden from the viewer.
type Question struct {
	ID              string            `json:"id"`
	ExamID          string            `json:"examId"`
	Number          int               `json:"number"`
	Type            QuestionType      `json:"type"`
	Content         string            `json:"content"`
	Options         map[string]string `json:"options,omitempty"`
	Answer          *string           `json:"answer,omitempty"`
	Score           float64           `json:"score"`
	Difficulty      Difficulty        `json:"difficulty"`
	KnowledgePoints []string          `json:"knowledgePoints"`
}

// AnswerText returns the stored answer or an empty string.
func (q Question) AnswerText() string {
	if q.Answer == nil {
		return ""
	}
	return *q.Answer
}

// RecordStatus represents the state of an exam attempt.
type RecordStatus string

const (
	RecordInProgress RecordStatus = "in_progress"
	RecordCompleted  RecordStatus = "completed"
)

// Analysis is the narrative feedback produced by grading.
type Analysis struct {
	Summary     string   `json:"summary"`
	WeakPoints  []string `json:"weakPoints"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
}

// QuestionResult is the graded outcome for one question.
type QuestionResult struct {
	QuestionID string  `json:"questionId"`
	IsCorrect  bool    `json:"isCorrect"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"maxScore"`
	Feedback   string  `json:"feedback"`
}

// ExamRecord is one user's attempt at an exam.
type ExamRecord struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	ExamID      string            `json:"examId"`
	Answers     map[string]string `json:"answers"`
	Status      RecordStatus      `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Score       *float64          `json:"score,omitempty"`
	TotalScore  float64           `json:"totalScore"`
	Analysis    *Analysis         `json:"analysis,omitempty"`
	Results     []QuestionResult  `json:"results,omitempty"`
}

// WrongQuestion tracks a question the user missed.
type WrongQuestion struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	QuestionID      string    `json:"questionId"`
	Content         string    `json:"content"`
	UserAnswer      string    `json:"userAnswer"`
	CorrectAnswer   string    `json:"correctAnswer"`
	Score           float64   `json:"score"`
	Source          string    `json:"source"`
	KnowledgePoints []string  `json:"knowledgePoints"`
	Note            string    `json:"note,omitempty"`
	Mastered        bool      `json:"mastered"`
	PracticeCount   int       `json:"practiceCount"`
	LastPracticedAt time.Time `json:"lastPracticedAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Note is a user's notes on a course, one per (user, course).
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CourseID  string    `json:"courseId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Course is a video lesson in the catalog.
type Course struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Grade       string        `json:"grade"`
	VideoURL    string        `json:"videoUrl"`
	CoverURL    string        `json:"coverUrl"`
	SortOrder   int           `json:"sortOrder"`
	Status      AccountStatus `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// ExamFilter narrows exam listings. Empty fields mean no filtering.
type ExamFilter struct {
	Grade    string
	Region   string
	Semester string
	ExamType string
	Year     int
	Keyword  string
	// IncludeDisabled lists disabled exams too (admin views).
	IncludeDisabled bool
}

// ExamDetail is an exam together with its questions.
type ExamDetail struct {
	Exam      Exam       `json:"exam"`
	Questions []Question `json:"questions"`
	// AnswersVisible is true when the questions carry their answers.
	AnswersVisible bool `json:"answersVisible"`
}

// AdminExam is an exam row with usage counters for the admin list.
type AdminExam struct {
	Exam
	RecordCount int    `json:"recordCount"`
	SourceURL   string `json:"sourceUrl,omitempty"`
}

// ServiceConfig holds runtime parameters set via CLI flags.
type ServiceConfig struct {
	ExamCost      int    // points debited when an attempt starts
	InitialPoints int    // balance granted at registration
	BasePath      string // URL prefix for sub-path deployments
	RateLimit     int    // AI route requests per minute per client
	CORSOrigins   []string
}
