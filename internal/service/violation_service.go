package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
)

var ErrUnknownViolation = errors.New("unknown violation type")

// ViolationService counts violations per attempt and rules on termination.
type ViolationService struct {
	attempts *AttemptService
	limit    int
	log      zerolog.Logger
}

// NewViolationService creates a new ViolationService.
func NewViolationService(attempts *AttemptService, cfg *config.Config, log zerolog.Logger) *ViolationService {
	return &ViolationService{
		attempts: attempts,
		limit:    cfg.ViolationLimit,
		log:      log.With().Str("component", "violation_service").Logger(),
	}
}

// Report records one violation and returns the verdict. Every report counts;
// there is no debounce.
func (s *ViolationService) Report(ctx context.Context, attemptID uuid.UUID, studentID int, report model.ViolationReport) (*model.Verdict, error) {
	if !report.Type.Known() {
		return nil, ErrUnknownViolation
	}

	meta, err := s.attempts.authorize(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if closed, err := s.attempts.closed(ctx, meta); err != nil {
		return nil, err
	} else if closed {
		return nil, ErrAttemptClosed
	}

	rdb := s.attempts.rdb
	counterKey := config.CacheKey.AttemptViolationsKey(attemptID)
	count, err := rdb.Incr(ctx, counterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("count violation: %w", err)
	}
	if count == 1 {
		rdb.ExpireAt(ctx, counterKey, meta.ExpiresAt.Add(metaTTLMargin))
	}

	verdict := Decide(report.Type, int(count), s.limit)
	now := s.attempts.now()

	event, err := json.Marshal(model.ViolationEvent{
		AttemptID:  attemptID,
		StudentID:  studentID,
		Type:       report.Type,
		Detail:     report.Detail,
		Count:      int(count),
		RecordedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal violation: %w", err)
	}
	if err := rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, event).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to queue violation")
	}

	s.attempts.publish(ctx, model.MonitorEvent{
		Type:           model.MonitorViolation,
		ExamID:         meta.ExamID,
		AttemptID:      attemptID,
		StudentID:      studentID,
		ViolationType:  report.Type,
		ViolationCount: int(count),
		Terminated:     verdict.ShouldTerminate,
		At:             now,
	})

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("violation_type", string(report.Type)).
		Int64("count", count).
		Int("client_count", report.ClientCount).
		Bool("terminate", verdict.ShouldTerminate).
		Msg("Violation recorded")

	return &verdict, nil
}
