package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationMinutes int        `json:"duration_minutes"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	Status          ExamStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExamPayload is the Redis-cached question set sent to candidates (no correct answers).
type ExamPayload struct {
	ExamID    uuid.UUID  `json:"exam_id"`
	Title     string     `json:"title"`
	Duration  int        `json:"duration_minutes"`
	Questions []Question `json:"questions"`
}

// AnswerKeyEntry is the cached grading data for one question.
type AnswerKeyEntry struct {
	Correct       string  `json:"correct"`
	Marks         float64 `json:"marks"`
	NegativeMarks float64 `json:"negative_marks"`
}
