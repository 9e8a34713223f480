package model

import "time"

// RecordExport is the top-level JSON structure for exam result export.
type RecordExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	ExamID     string         `json:"exam_id,omitempty"`
	Results    []RecordResult `json:"results"`
}

// RecordResult holds one completed attempt for export.
type RecordResult struct {
	RecordID    string           `json:"record_id"`
	Email       string           `json:"email"`
	ExamTitle   string           `json:"exam_title"`
	Status      RecordStatus     `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Score       float64          `json:"score"`
	TotalScore  float64          `json:"total_score"`
	Questions   []QuestionResult `json:"questions"`
	Analysis    *Analysis        `json:"analysis,omitempty"`
}

// DailyStat is one point of the statistics time series.
type DailyStat struct {
	Date      string  `json:"date"`
	Completed int     `json:"completed"`
	AvgRate   float64 `json:"avgRate"`
}

// Statistics aggregates a user's activity.
type Statistics struct {
	TotalAttempts      int         `json:"totalAttempts"`
	CompletedAttempts  int         `json:"completedAttempts"`
	InProgressAttempts int         `json:"inProgressAttempts"`
	AverageRate        float64     `json:"averageRate"`
	BestRate           float64     `json:"bestRate"`
	WrongTotal         int         `json:"wrongTotal"`
	WrongMastered      int         `json:"wrongMastered"`
	Points             int         `json:"points"`
	Daily              []DailyStat `json:"daily"`
}
