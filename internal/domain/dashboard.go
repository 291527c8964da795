package domain

import "time"

// Progress is a current/total pair shown on a dashboard card.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// DashboardStats summarises a learner's progress.
type DashboardStats struct {
	Vocabulary struct {
		Learned int `json:"learned"`
		Total   int `json:"total"`
	} `json:"vocabulary"`
	Conversations struct {
		Completed int `json:"completed"`
		Total     int `json:"total"`
	} `json:"conversations"`
	GrammarScore   Progress `json:"grammarScore"`
	WeeklyProgress struct {
		DaysActive int `json:"daysActive"`
		DaysTotal  int `json:"daysTotal"`
	} `json:"weeklyProgress"`
}

// InsightType classifies an AI-generated insight.
type InsightType string

const (
	InsightImprovement InsightType = "improvement"
	InsightSuggestion  InsightType = "suggestion"
	InsightWarning     InsightType = "warning"
)

// Insight is an AI-generated observation about the learner.
type Insight struct {
	ID      string      `json:"id"`
	Type    InsightType `json:"type"`
	Content string      `json:"content"`
}

// Badge is an achievement the learner earned.
type Badge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earnedAt"`
	Icon        string    `json:"icon"`
}

// LearningError is a recorded mistake with its correction.
type LearningError struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Category   string    `json:"category"`
	Detail     string    `json:"detail"`
	Correction string    `json:"correction"`
}

// Dashboard aggregates everything the dashboard page shows.
type Dashboard struct {
	Stats    DashboardStats  `json:"stats"`
	Insights []Insight       `json:"insights"`
	Badges   []Badge         `json:"badges"`
	Errors   []LearningError `json:"errors"`
}
