package model

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle is the client-side state of an attempt.
type Lifecycle string

const (
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleFinalizing Lifecycle = "finalizing"
	LifecycleFinalized  Lifecycle = "finalized"
)

// FinalizeReason names the trigger that ended an attempt.
type FinalizeReason string

const (
	ReasonTimeout   FinalizeReason = "timeout"
	ReasonManual    FinalizeReason = "manual"
	ReasonViolation FinalizeReason = "violation"
)

// Valid reports whether r is one of the known reasons.
func (r FinalizeReason) Valid() bool {
	switch r {
	case ReasonTimeout, ReasonManual, ReasonViolation:
		return true
	}
	return false
}

// AttemptStatus enumerates server-side attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
)

// Attempt is one candidate's timed run through an exam.
type Attempt struct {
	ID             uuid.UUID      `json:"id"`
	ExamID         uuid.UUID      `json:"exam_id"`
	StudentID      int            `json:"student_id"`
	StartedAt      time.Time      `json:"started_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	Status         AttemptStatus  `json:"status"`
	FinishReason   FinalizeReason `json:"finish_reason,omitempty"`
	FinalScore     *float64       `json:"final_score,omitempty"`
	ViolationCount int            `json:"violation_count"`
}

// AnswerEntry is one autosaved row. A nil SelectedOption means "no answer".
type AnswerEntry struct {
	QuestionID      uuid.UUID `json:"question_id" binding:"required"`
	SelectedOption  *string   `json:"selected_option" binding:"omitempty,option_key"`
	MarkedForReview bool      `json:"marked_for_review"`
}

// ExamPaper is the Start/Resume payload: everything the runtime needs to run an attempt.
type ExamPaper struct {
	AttemptID       uuid.UUID     `json:"attempt_id"`
	ExamID          uuid.UUID     `json:"exam_id"`
	Title           string        `json:"title"`
	DurationMinutes int           `json:"duration_minutes"`
	ExpiresAt       time.Time     `json:"expires_at"`
	Questions       []Question    `json:"questions"`
	Autosaved       []AnswerEntry `json:"autosaved"`
}

// AutosaveRequest is the payload of the autosave endpoint.
type AutosaveRequest struct {
	Answers []AnswerEntry `json:"answers" binding:"required,max=500,dive"`
}

// SubmitRequest is the payload of the submit endpoint.
type SubmitRequest struct {
	Reason FinalizeReason `json:"reason" binding:"required,oneof=timeout manual violation"`
}

// SubmitAck acknowledges a submission. AlreadySubmitted is set on repeat calls.
type SubmitAck struct {
	AttemptID        uuid.UUID `json:"attempt_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
	AlreadySubmitted bool      `json:"already_submitted"`
}

// AttemptResult is the graded breakdown shown after finalize.
type AttemptResult struct {
	AttemptID      uuid.UUID      `json:"attempt_id"`
	Score          float64        `json:"score"`
	MaxScore       float64        `json:"max_score"`
	Correct        int            `json:"correct"`
	Wrong          int            `json:"wrong"`
	Unanswered     int            `json:"unanswered"`
	ViolationCount int            `json:"violation_count"`
	FinishReason   FinalizeReason `json:"finish_reason"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

// StartAttemptResponse is returned when a candidate begins an exam.
type StartAttemptResponse struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
