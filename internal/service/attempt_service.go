package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

// Attempt errors.
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptClosed    = errors.New("attempt already submitted")
	ErrAttemptExpired   = errors.New("attempt time is over")
	ErrAttemptNotGraded = errors.New("attempt not graded yet")
	ErrUnknownQuestion  = errors.New("question does not belong to this exam")
)

const (
	latchTTL      = 24 * time.Hour
	metaTTLMargin = 24 * time.Hour
)

// attemptMeta is the cached identity of an attempt.
type attemptMeta struct {
	ID        uuid.UUID
	ExamID    uuid.UUID
	StudentID int
	ExpiresAt time.Time
	Status    model.AttemptStatus
	Result    *model.ScoreRecord
}

func metaFromAttempt(a *model.Attempt) *attemptMeta {
	return &attemptMeta{
		ID:        a.ID,
		ExamID:    a.ExamID,
		StudentID: a.StudentID,
		ExpiresAt: a.ExpiresAt,
		Status:    a.Status,
	}
}

func (m *attemptMeta) fields() map[string]interface{} {
	return map[string]interface{}{
		"exam_id":    m.ExamID.String(),
		"student_id": m.StudentID,
		"expires_at": m.ExpiresAt.Unix(),
		"status":     string(m.Status),
	}
}

func parseMeta(id uuid.UUID, raw map[string]string) (*attemptMeta, error) {
	examID, err := uuid.Parse(raw["exam_id"])
	if err != nil {
		return nil, fmt.Errorf("meta exam_id: %w", err)
	}
	studentID, err := strconv.Atoi(raw["student_id"])
	if err != nil {
		return nil, fmt.Errorf("meta student_id: %w", err)
	}
	expires, err := strconv.ParseInt(raw["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("meta expires_at: %w", err)
	}

	m := &attemptMeta{
		ID:        id,
		ExamID:    examID,
		StudentID: studentID,
		ExpiresAt: time.Unix(expires, 0),
		Status:    model.AttemptStatus(raw["status"]),
	}
	if res, ok := raw["result"]; ok && res != "" {
		var rec model.ScoreRecord
		if err := json.Unmarshal([]byte(res), &rec); err == nil {
			m.Result = &rec
		}
	}
	return m, nil
}

// AttemptService runs the server side of an attempt: start, resume, autosave,
// submit, and result. Hot state lives in Redis; PostgreSQL is written by workers.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	examService *ExamService
	rdb         *redis.Client
	cfg         *config.Config
	log         zerolog.Logger
	now         func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	examService *ExamService,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		examService: examService,
		rdb:         rdb,
		cfg:         cfg,
		log:         log.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

// Start creates the student's attempt on an exam, or returns the existing one.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.StartAttemptResponse, error) {
	existing, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		s.cacheMeta(ctx, metaFromAttempt(existing))
		return &model.StartAttemptResponse{AttemptID: existing.ID, ExpiresAt: existing.ExpiresAt}, nil
	}

	exam, err := s.examService.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !Available(exam, now) {
		return nil, ErrExamNotAvailable
	}
	if _, err := s.examService.GetExamPayload(ctx, examID); err != nil {
		return nil, err
	}

	startedAt := now.Truncate(time.Second)
	expiresAt := AttemptDeadline(exam, startedAt)

	attempt, created, err := s.attemptRepo.Create(ctx, examID, studentID, startedAt, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	s.cacheMeta(ctx, metaFromAttempt(attempt))

	if created {
		s.publish(ctx, model.MonitorEvent{
			Type:      model.MonitorAttemptStarted,
			ExamID:    examID,
			AttemptID: attempt.ID,
			StudentID: studentID,
			At:        startedAt,
		})
		s.log.Info().
			Str("attempt_id", attempt.ID.String()).
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Time("expires_at", expiresAt).
			Msg("Attempt started")
	}

	return &model.StartAttemptResponse{AttemptID: attempt.ID, ExpiresAt: attempt.ExpiresAt}, nil
}

// AttemptDeadline is start + duration, cut short by the exam's scheduled end.
func AttemptDeadline(exam *model.Exam, startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(exam.DurationMinutes) * time.Minute)
	if exam.ScheduledEnd != nil && exam.ScheduledEnd.Before(deadline) {
		deadline = *exam.ScheduledEnd
	}
	return deadline
}

// Paper returns everything the runtime needs to run or resume an attempt.
func (s *AttemptService) Paper(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamPaper, error) {
	meta, err := s.authorize(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if closed, err := s.closed(ctx, meta); err != nil {
		return nil, err
	} else if closed {
		return nil, ErrAttemptClosed
	}

	payload, err := s.examService.GetExamPayload(ctx, meta.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	return &model.ExamPaper{
		AttemptID:       attemptID,
		ExamID:          meta.ExamID,
		Title:           payload.Title,
		DurationMinutes: payload.Duration,
		ExpiresAt:       meta.ExpiresAt,
		Questions:       payload.Questions,
		Autosaved:       answers,
	}, nil
}

// Autosave stores a batch in the fast lane and queues it for PostgreSQL.
// Entries with no option and no review mark are removed. Returns the number
// of entries applied.
func (s *AttemptService) Autosave(ctx context.Context, attemptID uuid.UUID, studentID int, entries []model.AnswerEntry) (int, error) {
	meta, err := s.authorize(ctx, attemptID, studentID)
	if err != nil {
		return 0, err
	}
	if closed, err := s.closed(ctx, meta); err != nil {
		return 0, err
	} else if closed {
		return 0, ErrAttemptClosed
	}
	now := s.now()
	if now.After(meta.ExpiresAt.Add(s.cfg.LateSaveGrace)) {
		return 0, ErrAttemptExpired
	}
	if len(entries) == 0 {
		return 0, nil
	}

	key, err := s.examService.GetAnswerKey(ctx, meta.ExamID)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if _, ok := key[e.QuestionID]; !ok {
			return 0, ErrUnknownQuestion
		}
	}

	batch, err := json.Marshal(model.AnswerBatch{AttemptID: attemptID, Entries: entries, SavedAt: now})
	if err != nil {
		return 0, fmt.Errorf("marshal batch: %w", err)
	}

	answersKey := config.CacheKey.AttemptAnswersKey(attemptID)
	pipe := s.rdb.TxPipeline()
	for _, e := range entries {
		field := e.QuestionID.String()
		if (e.SelectedOption == nil || *e.SelectedOption == "") && !e.MarkedForReview {
			pipe.HDel(ctx, answersKey, field)
			continue
		}
		value, err := encodeAnswer(e)
		if err != nil {
			return 0, fmt.Errorf("encode answer: %w", err)
		}
		pipe.HSet(ctx, answersKey, field, value)
	}
	pipe.ExpireAt(ctx, answersKey, meta.ExpiresAt.Add(metaTTLMargin))
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, batch)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("autosave: %w", err)
	}

	s.log.Debug().
		Str("attempt_id", attemptID.String()).
		Int("entries", len(entries)).
		Msg("Autosaved")
	return len(entries), nil
}

// Submit finalizes an attempt exactly once. Late submissions are accepted;
// repeats are acknowledged with AlreadySubmitted and never re-graded.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int, reason model.FinalizeReason) (*model.SubmitAck, error) {
	meta, err := s.authorize(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	if meta.Status == model.AttemptStatusCompleted {
		return s.repeatAck(ctx, meta)
	}

	now := s.now()
	latchKey := config.CacheKey.AttemptSubmitLatchKey(attemptID)
	won, err := s.rdb.SetNX(ctx, latchKey, now.Unix(), latchTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("submit latch: %w", err)
	}
	if !won {
		return s.repeatAck(ctx, meta)
	}

	record, err := s.grade(ctx, meta, reason, now)
	if err != nil {
		// Release the latch so the runtime's retry can grade again.
		s.rdb.Del(ctx, latchKey)
		return nil, err
	}

	raw, err := json.Marshal(record)
	if err != nil {
		s.rdb.Del(ctx, latchKey)
		return nil, fmt.Errorf("marshal score: %w", err)
	}

	metaKey := config.CacheKey.AttemptMetaKey(attemptID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, metaKey, "status", string(model.AttemptStatusCompleted), "result", raw)
	pipe.RPush(ctx, config.WorkerKey.PersistScoresQueue, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		s.rdb.Del(ctx, latchKey)
		return nil, fmt.Errorf("queue score: %w", err)
	}

	score := record.Score
	s.publish(ctx, model.MonitorEvent{
		Type:           model.MonitorSubmitted,
		ExamID:         meta.ExamID,
		AttemptID:      attemptID,
		StudentID:      studentID,
		ViolationCount: record.ViolationCount,
		Reason:         reason,
		Score:          &score,
		At:             now,
	})

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("reason", string(reason)).
		Float64("score", record.Score).
		Int("correct", record.Correct).
		Int("wrong", record.Wrong).
		Int("unanswered", record.Unanswered).
		Msg("Attempt submitted and graded")

	return &model.SubmitAck{AttemptID: attemptID, SubmittedAt: now}, nil
}

func (s *AttemptService) grade(ctx context.Context, meta *attemptMeta, reason model.FinalizeReason, now time.Time) (*model.ScoreRecord, error) {
	key, err := s.examService.GetAnswerKey(ctx, meta.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answers(ctx, meta.ID)
	if err != nil {
		return nil, err
	}
	violations, err := s.rdb.Get(ctx, config.CacheKey.AttemptViolationsKey(meta.ID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get violations: %w", err)
	}

	g := Grade(answers, key)
	return &model.ScoreRecord{
		AttemptID:      meta.ID,
		Score:          g.Score,
		MaxScore:       g.MaxScore,
		Correct:        g.Correct,
		Wrong:          g.Wrong,
		Unanswered:     g.Unanswered,
		ViolationCount: violations,
		Reason:         reason,
		FinishedAt:     now,
	}, nil
}

func (s *AttemptService) repeatAck(ctx context.Context, meta *attemptMeta) (*model.SubmitAck, error) {
	ack := &model.SubmitAck{AttemptID: meta.ID, AlreadySubmitted: true}
	if meta.Result != nil {
		ack.SubmittedAt = meta.Result.FinishedAt
		return ack, nil
	}
	ts, err := s.rdb.Get(ctx, config.CacheKey.AttemptSubmitLatchKey(meta.ID)).Int64()
	if err == nil {
		ack.SubmittedAt = time.Unix(ts, 0)
		return ack, nil
	}
	a, err := s.attemptRepo.GetByID(ctx, meta.ID)
	if err == nil && a.FinishedAt != nil {
		ack.SubmittedAt = *a.FinishedAt
	}
	return ack, nil
}

// Result returns the graded breakdown of a submitted attempt.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptResult, error) {
	meta, err := s.authorize(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if meta.Result != nil {
		return meta.Result.Result(), nil
	}

	res, err := s.attemptRepo.GetResult(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotGraded
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return res, nil
}

// authorize loads the attempt and hides attempts owned by other students.
func (s *AttemptService) authorize(ctx context.Context, attemptID uuid.UUID, studentID int) (*attemptMeta, error) {
	meta, err := s.loadMeta(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if meta.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	return meta, nil
}

func (s *AttemptService) loadMeta(ctx context.Context, attemptID uuid.UUID) (*attemptMeta, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptMetaKey(attemptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get attempt meta: %w", err)
	}
	if len(raw) > 0 {
		if meta, err := parseMeta(attemptID, raw); err == nil {
			return meta, nil
		}
		s.log.Warn().Str("attempt_id", attemptID.String()).Msg("Corrupt attempt meta, reloading")
	}

	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	meta := metaFromAttempt(a)
	s.cacheMeta(ctx, meta)
	return meta, nil
}

func (s *AttemptService) cacheMeta(ctx context.Context, meta *attemptMeta) {
	key := config.CacheKey.AttemptMetaKey(meta.ID)
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, meta.fields())
	pipe.ExpireAt(ctx, key, meta.ExpiresAt.Add(metaTTLMargin))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", meta.ID.String()).Msg("Failed to cache attempt meta")
	}
}

// closed reports whether the attempt has been submitted.
func (s *AttemptService) closed(ctx context.Context, meta *attemptMeta) (bool, error) {
	if meta.Status == model.AttemptStatusCompleted {
		return true, nil
	}
	n, err := s.rdb.Exists(ctx, config.CacheKey.AttemptSubmitLatchKey(meta.ID)).Result()
	if err != nil {
		return false, fmt.Errorf("check submit latch: %w", err)
	}
	return n > 0, nil
}

// answers reads the fast lane, falling back to PostgreSQL when it is empty.
func (s *AttemptService) answers(ctx context.Context, attemptID uuid.UUID) ([]model.AnswerEntry, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	if len(raw) > 0 {
		return decodeAnswers(raw), nil
	}
	entries, err := s.attemptRepo.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	if entries == nil {
		entries = []model.AnswerEntry{}
	}
	return entries, nil
}

func (s *AttemptService) publish(ctx context.Context, ev model.MonitorEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID), raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Monitor publish failed")
	}
}
