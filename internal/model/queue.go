package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerBatch is one autosave queued for persistence.
type AnswerBatch struct {
	AttemptID uuid.UUID     `json:"attempt_id"`
	Entries   []AnswerEntry `json:"entries"`
	SavedAt   time.Time     `json:"saved_at"`
}

// ScoreRecord is a graded attempt queued for persistence.
type ScoreRecord struct {
	AttemptID      uuid.UUID      `json:"attempt_id"`
	Score          float64        `json:"score"`
	MaxScore       float64        `json:"max_score"`
	Correct        int            `json:"correct"`
	Wrong          int            `json:"wrong"`
	Unanswered     int            `json:"unanswered"`
	ViolationCount int            `json:"violation_count"`
	Reason         FinalizeReason `json:"reason"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Result renders the record as the candidate-facing breakdown.
func (r *ScoreRecord) Result() *AttemptResult {
	finished := r.FinishedAt
	return &AttemptResult{
		AttemptID:      r.AttemptID,
		Score:          r.Score,
		MaxScore:       r.MaxScore,
		Correct:        r.Correct,
		Wrong:          r.Wrong,
		Unanswered:     r.Unanswered,
		ViolationCount: r.ViolationCount,
		FinishReason:   r.Reason,
		FinishedAt:     &finished,
	}
}

// MonitorEventType names what happened on a live attempt.
type MonitorEventType string

const (
	MonitorAttemptStarted MonitorEventType = "attempt_started"
	MonitorViolation      MonitorEventType = "violation"
	MonitorSubmitted      MonitorEventType = "submitted"
)

// MonitorEvent is published on the exam's monitor channel for proctors.
type MonitorEvent struct {
	Type           MonitorEventType `json:"type"`
	ExamID         uuid.UUID        `json:"exam_id"`
	AttemptID      uuid.UUID        `json:"attempt_id"`
	StudentID      int              `json:"student_id"`
	ViolationType  ViolationType    `json:"violation_type,omitempty"`
	ViolationCount int              `json:"violation_count,omitempty"`
	Terminated     bool             `json:"terminated,omitempty"`
	Reason         FinalizeReason   `json:"reason,omitempty"`
	Score          *float64         `json:"score,omitempty"`
	At             time.Time        `json:"at"`
}
