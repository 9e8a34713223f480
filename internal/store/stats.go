package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mathpath/mathexam/internal/model"
)

// StatsDays is the length of the daily series returned by Statistics.
const StatsDays = 30

// Statistics aggregates a user's attempts, wrong questions and balance.
// Rates are percentages of the attempt's total score. The daily series
// covers the StatsDays days ending on at (UTC), oldest first.
func (s *Store) Statistics(ctx context.Context, userID string, at time.Time) (model.Statistics, error) {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return model.Statistics{}, err
	}
	records, err := s.ListRecords(ctx, userID, "")
	if err != nil {
		return model.Statistics{}, fmt.Errorf("list records: %w", err)
	}

	st := model.Statistics{Points: user.Points, TotalAttempts: len(records)}
	err = s.db.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN mastered THEN 1 ELSE 0 END), 0)
		 FROM wrong_questions WHERE user_id = ?`), userID).Scan(&st.WrongTotal, &st.WrongMastered)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("count wrong questions: %w", err)
	}

	type bucket struct {
		n   int
		sum float64
	}
	today := at.UTC().Truncate(24 * time.Hour)
	first := today.AddDate(0, 0, -(StatsDays - 1))
	days := map[string]*bucket{}

	var rateSum float64
	for _, r := range records {
		if r.Status != model.RecordCompleted {
			st.InProgressAttempts++
			continue
		}
		st.CompletedAttempts++
		rate := scoreRate(r)
		rateSum += rate
		if rate > st.BestRate {
			st.BestRate = rate
		}
		if r.CompletedAt == nil || r.CompletedAt.Before(first) {
			continue
		}
		key := r.CompletedAt.UTC().Format(time.DateOnly)
		b := days[key]
		if b == nil {
			b = &bucket{}
			days[key] = b
		}
		b.n++
		b.sum += rate
	}
	if st.CompletedAttempts > 0 {
		st.AverageRate = round2(rateSum / float64(st.CompletedAttempts))
	}

	st.Daily = make([]model.DailyStat, 0, StatsDays)
	for d := first; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		ds := model.DailyStat{Date: key}
		if b := days[key]; b != nil {
			ds.Completed = b.n
			ds.AvgRate = round2(b.sum / float64(b.n))
		}
		st.Daily = append(st.Daily, ds)
	}
	return st, nil
}

func scoreRate(r model.ExamRecord) float64 {
	if r.Score == nil || r.TotalScore <= 0 {
		return 0
	}
	return round2(*r.Score / r.TotalScore * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
