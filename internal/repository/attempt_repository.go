package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// AttemptRepository handles attempt and answer data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, started_at, expires_at, finished_at, status,
	COALESCE(finish_reason, ''), final_score, violation_count`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var reason string
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.StartedAt, &a.ExpiresAt, &a.FinishedAt,
		&a.Status, &reason, &a.FinalScore, &a.ViolationCount)
	if err != nil {
		return nil, err
	}
	a.FinishReason = model.FinalizeReason(reason)
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the single attempt a student has on an exam.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// Create inserts a new IN_PROGRESS attempt. When the student already has an
// attempt on the exam, the existing row is returned unchanged and created is false.
func (r *AttemptRepository) Create(ctx context.Context, examID uuid.UUID, studentID int, startedAt, expiresAt time.Time) (a *model.Attempt, created bool, err error) {
	a, err = scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_id, started_at, expires_at, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING `+attemptColumns,
		examID, studentID, startedAt, expiresAt, model.AttemptStatusInProgress))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	a, err = r.GetByExamAndStudent(ctx, examID, studentID)
	return a, false, err
}

// ListAnswers returns the persisted answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, selected_option, marked_for_review
		 FROM attempt_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AnswerEntry
	for rows.Next() {
		var e model.AnswerEntry
		if err := rows.Scan(&e.QuestionID, &e.SelectedOption, &e.MarkedForReview); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetResult returns the graded breakdown of a COMPLETED attempt.
// Attempts not yet graded yield pgx.ErrNoRows.
func (r *AttemptRepository) GetResult(ctx context.Context, attemptID uuid.UUID) (*model.AttemptResult, error) {
	res := &model.AttemptResult{AttemptID: attemptID}
	var reason string
	err := r.pool.QueryRow(ctx,
		`SELECT final_score, max_score, correct_count, wrong_count, unanswered_count,
		        violation_count, COALESCE(finish_reason, ''), finished_at
		 FROM attempts
		 WHERE id = $1 AND status = $2 AND final_score IS NOT NULL`,
		attemptID, model.AttemptStatusCompleted,
	).Scan(&res.Score, &res.MaxScore, &res.Correct, &res.Wrong, &res.Unanswered,
		&res.ViolationCount, &reason, &res.FinishedAt)
	if err != nil {
		return nil, err
	}
	res.FinishReason = model.FinalizeReason(reason)
	return res, nil
}
