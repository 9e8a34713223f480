package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mathpath/mathexam/internal/apperr"
	"github.com/mathpath/mathexam/internal/llm/prompts"
	"github.com/mathpath/mathexam/internal/model"
)

// Defaults for paper metadata the model could not determine.
const (
	DefaultGrade    = "初一"
	DefaultRegion   = "未知"
	DefaultSemester = "上学期"
	DefaultExamType = "期中"
	DefaultDuration = 90
)

// PaperMeta is the exam metadata of an extracted paper. Admin-supplied
// metadata uses the same shape.
type PaperMeta struct {
	Grade      string  `json:"grade"`
	Region     string  `json:"region"`
	Semester   string  `json:"semester"`
	ExamType   string  `json:"examType"`
	Year       int     `json:"year"`
	Duration   int     `json:"duration"`
	TotalScore float64 `json:"totalScore"`
}

// Merge returns m with every non-zero field of override applied.
func (m PaperMeta) Merge(override PaperMeta) PaperMeta {
	m.Grade = orDefault(override.Grade, m.Grade)
	m.Region = orDefault(override.Region, m.Region)
	m.Semester = orDefault(override.Semester, m.Semester)
	m.ExamType = orDefault(override.ExamType, m.ExamType)
	if override.Year > 0 {
		m.Year = override.Year
	}
	if override.Duration > 0 {
		m.Duration = override.Duration
	}
	if override.TotalScore > 0 {
		m.TotalScore = override.TotalScore
	}
	return m
}

// Paper is a validated extraction result.
type Paper struct {
	Meta      PaperMeta
	Questions []model.Question
}

// flexNumber accepts a JSON number or a finite numeric string.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "分"))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("not a number: %q", s)
		}
		*n = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = flexNumber(v)
	return nil
}

// flexText accepts a JSON string, number or bool as text.
type flexText string

func (t *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = flexText(s)
		return nil
	}
	*t = flexText(b)
	return nil
}

// flexOptions accepts {"A": "..."} or ["...", "..."]; arrays get letters.
type flexOptions map[string]string

func (o *flexOptions) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '[' {
		var list []flexText
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		m := make(map[string]string, len(list))
		for i, v := range list {
			m[string(rune('A'+i))] = string(v)
		}
		*o = m
		return nil
	}
	var m map[string]flexText
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.TrimSpace(k)] = string(v)
	}
	*o = out
	return nil
}

type rawQuestion struct {
	Number          flexNumber  `json:"question_number"`
	Type            string      `json:"question_type"`
	Content         string      `json:"content"`
	Options         flexOptions `json:"options"`
	Answer          flexText    `json:"answer"`
	Score           flexNumber  `json:"score"`
	Difficulty      string      `json:"difficulty"`
	KnowledgePoints []string    `json:"knowledge_points"`
}

type rawPaper struct {
	Grade      string        `json:"grade"`
	Region     string        `json:"region"`
	Semester   string        `json:"semester"`
	ExamType   string        `json:"examType"`
	Year       flexNumber    `json:"year"`
	Duration   flexNumber    `json:"duration"`
	TotalScore flexNumber    `json:"totalScore"`
	Questions  []rawQuestion `json:"questions"`
}

// ExtractPaper asks the model to structure a paper's text into questions.
// Any failure is reported as apperr.ErrExtractionFailed.
func (c *Client) ExtractPaper(ctx context.Context, title, text string) (Paper, error) {
	prompt, err := prompts.BuildExtractPrompt(title, text)
	if err != nil {
		return Paper{}, fmt.Errorf("build extraction prompt: %w", err)
	}
	raw, err := c.complete(ctx, "extract", prompt, "", 0.1)
	if err != nil {
		return Paper{}, fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}
	return ParsePaper(raw, time.Now())
}

// ParsePaper decodes and validates an extraction response. Missing metadata
// gets the documented defaults (year defaults to the year of now) and a zero
// total score is replaced by the sum of question scores.
func ParsePaper(raw string, now time.Time) (Paper, error) {
	var rp rawPaper
	if err := DecodeJSON(raw, &rp); err != nil {
		return Paper{}, fmt.Errorf("%w: %v", apperr.ErrExtractionFailed, err)
	}
	if len(rp.Questions) == 0 {
		return Paper{}, fmt.Errorf("%w: no questions in model output", apperr.ErrExtractionFailed)
	}

	p := Paper{
		Meta: PaperMeta{
			Grade:      orDefault(rp.Grade, DefaultGrade),
			Region:     orDefault(rp.Region, DefaultRegion),
			Semester:   orDefault(rp.Semester, DefaultSemester),
			ExamType:   orDefault(rp.ExamType, DefaultExamType),
			Year:       int(rp.Year),
			Duration:   int(rp.Duration),
			TotalScore: float64(rp.TotalScore),
		},
		Questions: make([]model.Question, 0, len(rp.Questions)),
	}
	if p.Meta.Year <= 0 {
		p.Meta.Year = now.Year()
	}
	if p.Meta.Duration <= 0 {
		p.Meta.Duration = DefaultDuration
	}

	var sum float64
	for i, rq := range rp.Questions {
		content := strings.TrimSpace(rq.Content)
		if content == "" {
			return Paper{}, fmt.Errorf("%w: question %d has no content", apperr.ErrExtractionFailed, i+1)
		}
		if rq.Score < 0 {
			return Paper{}, fmt.Errorf("%w: question %d has negative score", apperr.ErrExtractionFailed, i+1)
		}
		number := int(rq.Number)
		if number <= 0 {
			number = i + 1
		}
		kps := make([]string, 0, len(rq.KnowledgePoints))
		for _, kp := range rq.KnowledgePoints {
			if kp = strings.TrimSpace(kp); kp != "" {
				kps = append(kps, kp)
			}
		}
		answer := strings.TrimSpace(string(rq.Answer))
		q := model.Question{
			Number:          number,
			Type:            NormalizeType(rq.Type),
			Content:         content,
			Answer:          &answer,
			Score:           float64(rq.Score),
			Difficulty:      NormalizeDifficulty(rq.Difficulty),
			KnowledgePoints: kps,
		}
		if len(rq.Options) > 0 {
			q.Options = map[string]string(rq.Options)
		}
		sum += q.Score
		p.Questions = append(p.Questions, q)
	}
	sort.SliceStable(p.Questions, func(i, j int) bool { return p.Questions[i].Number < p.Questions[j].Number })

	if p.Meta.TotalScore <= 0 {
		p.Meta.TotalScore = sum
	}
	return p, nil
}

// NormalizeType maps model question types onto choice, fill or essay.
func NormalizeType(s string) model.QuestionType {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "选择"), strings.Contains(s, "choice"), s == "single", s == "multiple":
		return model.QuestionChoice
	case strings.Contains(s, "填空"), strings.Contains(s, "fill"), strings.Contains(s, "blank"):
		return model.QuestionFill
	default:
		return model.QuestionEssay
	}
}

// NormalizeDifficulty maps model difficulty labels onto easy, medium or hard.
func NormalizeDifficulty(s string) model.Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "简单", "容易", "基础":
		return model.DifficultyEasy
	case "hard", "difficult", "困难", "难", "较难":
		return model.DifficultyHard
	default:
		return model.DifficultyMedium
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
