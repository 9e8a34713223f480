package store

import (
	"context"
	"fmt"

	"github.com/mathpath/mathexam/internal/model"
)

// ExportRecords builds export-ready results for every attempt on an exam,
// or on all exams when examID is empty.
func (s *Store) ExportRecords(ctx context.Context, examID string) (model.RecordExport, error) {
	records, err := s.ListExamRecords(ctx, examID)
	if err != nil {
		return model.RecordExport{}, fmt.Errorf("list records: %w", err)
	}

	emails := map[string]string{}
	titles := map[string]string{}

	results := []model.RecordResult{}
	for _, r := range records {
		email, ok := emails[r.UserID]
		if !ok {
			u, err := s.GetUserByID(ctx, r.UserID)
			if err != nil {
				return model.RecordExport{}, fmt.Errorf("get user %s: %w", r.UserID, err)
			}
			email = u.Email
			emails[r.UserID] = email
		}
		title, ok := titles[r.ExamID]
		if !ok {
			e, err := s.GetExam(ctx, r.ExamID)
			if err != nil {
				return model.RecordExport{}, fmt.Errorf("get exam %s: %w", r.ExamID, err)
			}
			title = e.Title
			titles[r.ExamID] = title
		}

		var score float64
		if r.Score != nil {
			score = *r.Score
		}
		questions := r.Results
		if questions == nil {
			questions = []model.QuestionResult{}
		}
		results = append(results, model.RecordResult{
			RecordID:    r.ID,
			Email:       email,
			ExamTitle:   title,
			Status:      r.Status,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Score:       score,
			TotalScore:  r.TotalScore,
			Questions:   questions,
			Analysis:    r.Analysis,
		})
	}

	return model.RecordExport{ExportedAt: now(), ExamID: examID, Results: results}, nil
}
