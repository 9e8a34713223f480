package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/llm/prompts"
	"github.com/mathpath/mathexam/internal/model"
)

// GenerateQuestionsRequest asks for a batch of practice questions.
type GenerateQuestionsRequest struct {
	Topic      string `json:"topic" validate:"required,max=200"`
	Grade      string `json:"grade" validate:"required,max=20"`
	Count      int    `json:"count" validate:"required,min=1,max=20"`
	Difficulty string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Type       string `json:"type" validate:"omitempty,oneof=choice fill essay"`
}

// GeneratedQuestion is a question produced for practice, never persisted.
type GeneratedQuestion struct {
	Number          int                `json:"number"`
	Type            model.QuestionType `json:"type"`
	Content         string             `json:"content"`
	Options         map[string]string  `json:"options,omitempty"`
	Answer          string             `json:"answer"`
	Explanation     string             `json:"explanation,omitempty"`
	Score           float64            `json:"score"`
	Difficulty      model.Difficulty   `json:"difficulty"`
	KnowledgePoints []string           `json:"knowledgePoints"`
}

type rawGenerated struct {
	rawQuestion
	Explanation string `json:"explanation"`
}

// GenerateQuestions produces practice questions on a topic.
func (c *Client) GenerateQuestions(ctx context.Context, req GenerateQuestionsRequest) ([]GeneratedQuestion, error) {
	if req.Difficulty == "" {
		req.Difficulty = string(model.DifficultyMedium)
	}
	prompt, err := prompts.BuildGenerateQuestionsPrompt(prompts.GenerateQuestionsData{
		Topic:      req.Topic,
		Grade:      req.Grade,
		Count:      req.Count,
		Difficulty: req.Difficulty,
		Type:       req.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("build generation prompt: %w", err)
	}
	raw, err := c.complete(ctx, "generate_questions", prompt, "", 0.7)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}
	var out struct {
		Questions []rawGenerated `json:"questions"`
	}
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}
	return convertGenerated(out.Questions), nil
}

// GenerateExamRequest asks for a whole mock exam.
type GenerateExamRequest struct {
	Title         string   `json:"title" validate:"max=200"`
	Grade         string   `json:"grade" validate:"required,max=20"`
	Semester      string   `json:"semester" validate:"max=20"`
	Topics        []string `json:"topics" validate:"required,min=1,dive,required"`
	QuestionCount int      `json:"questionCount" validate:"required,min=1,max=30"`
	Duration      int      `json:"duration" validate:"omitempty,min=10,max=300"`
}

// GeneratedExam is a mock exam shape returned to the client only.
type GeneratedExam struct {
	Title      string              `json:"title"`
	Grade      string              `json:"grade"`
	Duration   int                 `json:"duration"`
	TotalScore float64             `json:"totalScore"`
	Questions  []GeneratedQuestion `json:"questions"`
}

// GenerateExam produces a mock exam. Its total score is the sum of the
// generated question scores.
func (c *Client) GenerateExam(ctx context.Context, req GenerateExamRequest) (GeneratedExam, error) {
	if req.Duration <= 0 {
		req.Duration = DefaultDuration
	}
	if req.Semester == "" {
		req.Semester = DefaultSemester
	}
	prompt, err := prompts.BuildGenerateExamPrompt(prompts.GenerateExamData{
		Title:         req.Title,
		Grade:         req.Grade,
		Semester:      req.Semester,
		Topics:        req.Topics,
		QuestionCount: req.QuestionCount,
		Duration:      req.Duration,
	})
	if err != nil {
		return GeneratedExam{}, fmt.Errorf("build exam prompt: %w", err)
	}
	raw, err := c.complete(ctx, "generate_exam", prompt, "", 0.7)
	if err != nil {
		return GeneratedExam{}, fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}
	var out struct {
		Title     string         `json:"title"`
		Questions []rawGenerated `json:"questions"`
	}
	if err := DecodeJSON(raw, &out); err != nil {
		return GeneratedExam{}, fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}

	exam := GeneratedExam{
		Title:     orDefault(req.Title, orDefault(out.Title, req.Grade+"数学模拟卷")),
		Grade:     req.Grade,
		Duration:  req.Duration,
		Questions: convertGenerated(out.Questions),
	}
	for _, q := range exam.Questions {
		exam.TotalScore += q.Score
	}
	return exam, nil
}

// AnalyzeRequest carries a graded attempt for narrative analysis.
type AnalyzeRequest struct {
	ExamTitle  string          `json:"examTitle" validate:"max=200"`
	Score      float64         `json:"score" validate:"min=0"`
	TotalScore float64         `json:"totalScore" validate:"gtefield=Score"`
	Results    []AnalyzeResult `json:"results" validate:"required,min=1,max=100,dive"`
}

// AnalyzeResult is one graded question in an AnalyzeRequest.
type AnalyzeResult struct {
	Content         string   `json:"content" validate:"required"`
	UserAnswer      string   `json:"userAnswer"`
	CorrectAnswer   string   `json:"correctAnswer"`
	IsCorrect       bool     `json:"isCorrect"`
	KnowledgePoints []string `json:"knowledgePoints"`
}

// AnalyzeResults produces narrative feedback on a graded attempt.
func (c *Client) AnalyzeResults(ctx context.Context, req AnalyzeRequest) (model.Analysis, error) {
	data := prompts.AnalyzeData{ExamTitle: req.ExamTitle, Score: req.Score, TotalScore: req.TotalScore}
	for _, r := range req.Results {
		data.Results = append(data.Results, prompts.AnalyzeItem{
			Content:         r.Content,
			UserAnswer:      r.UserAnswer,
			CorrectAnswer:   r.CorrectAnswer,
			IsCorrect:       r.IsCorrect,
			KnowledgePoints: r.KnowledgePoints,
		})
	}
	prompt, err := prompts.BuildAnalyzePrompt(data)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("build analysis prompt: %w", err)
	}
	raw, err := c.complete(ctx, "analyze", prompt, "", 0.3)
	if err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %v", apperr.ErrGradingFailed, err)
	}
	var a model.Analysis
	if err := DecodeJSON(raw, &a); err != nil {
		return model.Analysis{}, fmt.Errorf("%w: %v", apperr.ErrGradingFailed, err)
	}
	return normalizeAnalysis(a), nil
}

func convertGenerated(raw []rawGenerated) []GeneratedQuestion {
	out := make([]GeneratedQuestion, 0, len(raw))
	for i, rq := range raw {
		content := strings.TrimSpace(rq.Content)
		if content == "" {
			continue
		}
		number := int(rq.Number)
		if number <= 0 {
			number = i + 1
		}
		kps := rq.KnowledgePoints
		if kps == nil {
			kps = []string{}
		}
		score := float64(rq.Score)
		if score < 0 {
			score = 0
		}
		q := GeneratedQuestion{
			Number:          number,
			Type:            NormalizeType(rq.Type),
			Content:         content,
			Answer:          strings.TrimSpace(string(rq.Answer)),
			Explanation:     strings.TrimSpace(rq.Explanation),
			Score:           score,
			Difficulty:      NormalizeDifficulty(rq.Difficulty),
			KnowledgePoints: kps,
		}
		if len(rq.Options) > 0 {
			q.Options = map[string]string(rq.Options)
		}
		out = append(out, q)
	}
	return out
}
