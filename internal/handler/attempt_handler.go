package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/validator"
)

// AttemptService is the attempt lifecycle seen by the HTTP layer.
type AttemptService interface {
	Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.StartAttemptResponse, error)
	Paper(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamPaper, error)
	Autosave(ctx context.Context, attemptID uuid.UUID, studentID int, entries []model.AnswerEntry) (int, error)
	Submit(ctx context.Context, attemptID uuid.UUID, studentID int, reason model.FinalizeReason) (*model.SubmitAck, error)
	Result(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptResult, error)
}

// ViolationReporter rules on integrity violations.
type ViolationReporter interface {
	Report(ctx context.Context, attemptID uuid.UUID, studentID int, report model.ViolationReport) (*model.Verdict, error)
}

// AttemptHandler handles the candidate's attempt endpoints.
type AttemptHandler struct {
	attempts   AttemptService
	violations ViolationReporter
	log        zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptService, violations ViolationReporter, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts:   attempts,
		violations: violations,
		log:        log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Creates the candidate's attempt (idempotent) and returns its id and expiry.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.attempts.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.fail(c, err, "start attempt")
		return
	}

	response.Success(c, http.StatusOK, res)
}

// GetPaper godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns questions, expiry, and autosaved answers. Used on start and after a reload.
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	studentID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	paper, err := h.attempts.Paper(c.Request.Context(), attemptID, studentID)
	if err != nil {
		h.fail(c, err, "get paper")
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// SaveAnswers godoc
// PUT /api/v1/student/attempts/:attempt_id/answers
// Autosaves a batch of answer entries. Resending a batch is harmless.
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	studentID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved, err := h.attempts.Autosave(c.Request.Context(), attemptID, studentID, req.Answers)
	if err != nil {
		h.fail(c, err, "autosave")
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved", "saved": saved})
}

// ReportViolation godoc
// POST /api/v1/student/attempts/:attempt_id/violations
// Counts one integrity violation and returns the verdict.
func (h *AttemptHandler) ReportViolation(c *gin.Context) {
	studentID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.ViolationReport
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	verdict, err := h.violations.Report(c.Request.Context(), attemptID, studentID, req)
	if err != nil {
		h.fail(c, err, "report violation")
		return
	}

	response.Success(c, http.StatusOK, verdict)
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes the attempt. Repeat calls are acknowledged without re-grading.
func (h *AttemptHandler) Submit(c *gin.Context) {
	studentID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ack, err := h.attempts.Submit(c.Request.Context(), attemptID, studentID, req.Reason)
	if err != nil {
		h.fail(c, err, "submit")
		return
	}

	response.Success(c, http.StatusOK, ack)
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id/result
// Returns the graded breakdown after the attempt is finalized.
func (h *AttemptHandler) GetResult(c *gin.Context) {
	studentID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	res, err := h.attempts.Result(c.Request.Context(), attemptID, studentID)
	if err != nil {
		h.fail(c, err, "get result")
		return
	}

	response.Success(c, http.StatusOK, res)
}

func (h *AttemptHandler) attemptParams(c *gin.Context) (int, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, uuid.Nil, false
	}
	return claims.UserID, attemptID, true
}

func (h *AttemptHandler) fail(c *gin.Context, err error, op string) {
	if !failService(c, err) {
		h.log.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("Request failed")
	}
}
