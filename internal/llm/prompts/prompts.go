package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/mathpath/mathexam/internal/model"
)

//go:embed templates/*.txt
var files embed.FS

const (
	// MaxPaperRunes bounds the paper text sent for extraction.
	MaxPaperRunes = 60000
	// MaxAnswerRunes bounds a single student answer sent for grading.
	MaxAnswerRunes = 2000
	// NoAnswer replaces an empty student answer.
	NoAnswer = "[未作答]"
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	paperTextRegex          = regexp.MustCompile(`(?i)</?\s*paper-text\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Template names, one file per prompt under templates/.
const (
	Extract           = "extract"
	Grade             = "grade"
	GenerateQuestions = "generate_questions"
	GenerateExam      = "generate_exam"
	Analyze           = "analyze"
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

var funcs = template.FuncMap{
	"join": strings.Join,
	"inc":  func(i int) int { return i + 1 },
}

// Load parses the prompt templates from fsys. It runs once; later calls
// return the first result. A nil fsys loads the embedded templates.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		if fsys == nil {
			fsys = files
		}
		templates = make(map[string]*template.Template)
		for _, name := range []string{Extract, Grade, GenerateQuestions, GenerateExam, Analyze} {
			file := "templates/" + name + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func render(name string, data any) (string, error) {
	if err := Load(nil); err != nil {
		return "", err
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ExtractData holds template data for paper extraction.
type ExtractData struct {
	Title string
	Text  string
}

// BuildExtractPrompt builds the extraction prompt for a paper's text.
func BuildExtractPrompt(title, text string) (string, error) {
	text = paperTextRegex.ReplaceAllString(text, "")
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	return render(Extract, ExtractData{
		Title: strings.TrimSpace(title),
		Text:  truncate(strings.TrimSpace(text), MaxPaperRunes, "\n\n[文本过长，已截断]"),
	})
}

// GradeItem is one question as shown to the grader.
type GradeItem struct {
	ID            string
	Number        int
	Type          model.QuestionType
	Content       string
	Options       []string
	Answer        string
	MaxScore      float64
	StudentAnswer string
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	Questions []GradeItem
}

// BuildGradePrompt lists every question with its correct answer and the
// student's sanitized answer.
func BuildGradePrompt(questions []model.Question, answers map[string]string) (string, error) {
	data := GradeData{Questions: make([]GradeItem, 0, len(questions))}
	for _, q := range questions {
		data.Questions = append(data.Questions, GradeItem{
			ID:            q.ID,
			Number:        q.Number,
			Type:          q.Type,
			Content:       q.Content,
			Options:       FormatOptions(q.Options),
			Answer:        q.AnswerText(),
			MaxScore:      q.Score,
			StudentAnswer: SanitizeAnswer(answers[q.ID]),
		})
	}
	return render(Grade, data)
}

// GenerateQuestionsData holds template data for practice question generation.
type GenerateQuestionsData struct {
	Topic      string
	Grade      string
	Count      int
	Difficulty string
	Type       string
}

// BuildGenerateQuestionsPrompt builds the practice question prompt.
func BuildGenerateQuestionsPrompt(d GenerateQuestionsData) (string, error) {
	return render(GenerateQuestions, d)
}

// GenerateExamData holds template data for whole-exam generation.
type GenerateExamData struct {
	Title         string
	Grade         string
	Semester      string
	Topics        []string
	QuestionCount int
	Duration      int
}

// BuildGenerateExamPrompt builds the exam generation prompt.
func BuildGenerateExamPrompt(d GenerateExamData) (string, error) {
	return render(GenerateExam, d)
}

// AnalyzeItem is one graded question fed to result analysis.
type AnalyzeItem struct {
	Content         string
	UserAnswer      string
	CorrectAnswer   string
	IsCorrect       bool
	KnowledgePoints []string
}

// AnalyzeData holds template data for result analysis.
type AnalyzeData struct {
	ExamTitle  string
	Score      float64
	TotalScore float64
	Results    []AnalyzeItem
}

// BuildAnalyzePrompt builds the result analysis prompt.
func BuildAnalyzePrompt(d AnalyzeData) (string, error) {
	items := make([]AnalyzeItem, len(d.Results))
	for i, r := range d.Results {
		r.UserAnswer = SanitizeAnswer(r.UserAnswer)
		items[i] = r
	}
	d.Results = items
	return render(Analyze, d)
}

// FormatOptions renders choice options as "A. text" lines in letter order.
func FormatOptions(options map[string]string) []string {
	if len(options) == 0 {
		return nil
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+". "+options[k])
	}
	return out
}

// SanitizeAnswer strips prompt delimiter tags, replaces an empty answer with
// NoAnswer and truncates long answers.
func SanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return NoAnswer
	}
	return truncate(answer, MaxAnswerRunes, "\n\n[作答过长，已截断]")
}

func truncate(s string, max int, marker string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + marker
}
