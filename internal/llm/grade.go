package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/llm/prompts"
	"github.com/mathpath/mathexam/internal/model"
)

// GradeOutcome is the model's unclamped verdict on a submission.
type GradeOutcome struct {
	Results  []model.QuestionResult
	Analysis model.Analysis
}

type rawGradeResult struct {
	QuestionID flexText   `json:"question_id"`
	IsCorrect  bool       `json:"is_correct"`
	Score      flexNumber `json:"score"`
	Feedback   string     `json:"feedback"`
}

type rawGrade struct {
	Results  []rawGradeResult `json:"results"`
	Analysis model.Analysis   `json:"analysis"`
}

// GradeExam asks the model to score every answer and analyze the attempt.
// Any failure is reported as apperr.ErrGradingFailed.
func (c *Client) GradeExam(ctx context.Context, questions []model.Question, answers map[string]string) (GradeOutcome, error) {
	prompt, err := prompts.BuildGradePrompt(questions, answers)
	if err != nil {
		return GradeOutcome{}, fmt.Errorf("build grading prompt: %w", err)
	}
	raw, err := c.complete(ctx, "grade", prompt, "", 0.1)
	if err != nil {
		return GradeOutcome{}, fmt.Errorf("%w: %v", apperr.ErrGradingFailed, err)
	}
	return ParseGrade(raw)
}

// ParseGrade decodes a grading response. Scores are passed through as the
// model reported them.
func ParseGrade(raw string) (GradeOutcome, error) {
	var rg rawGrade
	if err := DecodeJSON(raw, &rg); err != nil {
		return GradeOutcome{}, fmt.Errorf("%w: %v", apperr.ErrGradingFailed, err)
	}
	out := GradeOutcome{
		Results:  make([]model.QuestionResult, 0, len(rg.Results)),
		Analysis: normalizeAnalysis(rg.Analysis),
	}
	for _, r := range rg.Results {
		id := strings.TrimSpace(string(r.QuestionID))
		if id == "" {
			continue
		}
		out.Results = append(out.Results, model.QuestionResult{
			QuestionID: id,
			IsCorrect:  r.IsCorrect,
			Score:      float64(r.Score),
			Feedback:   strings.TrimSpace(r.Feedback),
		})
	}
	return out, nil
}

func normalizeAnalysis(a model.Analysis) model.Analysis {
	if a.WeakPoints == nil {
		a.WeakPoints = []string{}
	}
	if a.Strengths == nil {
		a.Strengths = []string{}
	}
	if a.Suggestions == nil {
		a.Suggestions = []string{}
	}
	a.Summary = strings.TrimSpace(a.Summary)
	return a
}
