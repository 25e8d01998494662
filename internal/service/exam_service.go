package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish/start")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotAvailable = errors.New("exam is not available")
)

// ExamService handles exam lookups and the Redis fast lane for papers and answer keys.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return exam, err
}

// Available reports whether an exam may be started at now.
func Available(exam *model.Exam, now time.Time) bool {
	if exam.Status != model.ExamStatusPublished {
		return false
	}
	if exam.ScheduledStart != nil && now.Before(*exam.ScheduledStart) {
		return false
	}
	if exam.ScheduledEnd != nil && !now.Before(*exam.ScheduledEnd) {
		return false
	}
	return true
}

// Publish changes exam status to PUBLISHED and caches the payload + answer key in Redis.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}
	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// WarmExamCache loads an exam's payload and answer key from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	payload, answerKey, err := buildExamCache(exam, questions)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID), payload, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(exam.ID))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(exam.ID), answerKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// buildExamCache renders the candidate payload and the answer key hash fields.
func buildExamCache(exam *model.Exam, questions []model.StoredQuestion) ([]byte, map[string]interface{}, error) {
	candidate := make([]model.Question, len(questions))
	answerKey := make(map[string]interface{}, len(questions))
	for i := range questions {
		q := &questions[i]
		candidate[i] = q.ForCandidate()

		entry, err := json.Marshal(model.AnswerKeyEntry{
			Correct:       q.CorrectOption,
			Marks:         q.Marks,
			NegativeMarks: q.NegativeMarks,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("marshal answer key: %w", err)
		}
		answerKey[q.ID.String()] = string(entry)
	}

	payload, err := json.Marshal(model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Questions: candidate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	return payload, answerKey, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload retrieves the cached candidate payload, rebuilding it from
// PostgreSQL on a cache miss.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	if errors.Is(err, redis.Nil) {
		if err := s.rewarm(ctx, examID); err != nil {
			return nil, err
		}
		data, err = s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// GetAnswerKey retrieves the answer key from Redis for instant grading.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]model.AnswerKeyEntry, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(raw) == 0 {
		if err := s.rewarm(ctx, examID); err != nil {
			return nil, err
		}
		if raw, err = s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID)).Result(); err != nil {
			return nil, fmt.Errorf("get answer key: %w", err)
		}
	}
	return parseAnswerKey(raw)
}

func parseAnswerKey(raw map[string]string) (map[uuid.UUID]model.AnswerKeyEntry, error) {
	key := make(map[uuid.UUID]model.AnswerKeyEntry, len(raw))
	for field, value := range raw {
		qid, err := uuid.Parse(field)
		if err != nil {
			return nil, fmt.Errorf("answer key field %q: %w", field, err)
		}
		var entry model.AnswerKeyEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("answer key entry %s: %w", qid, err)
		}
		key[qid] = entry
	}
	return key, nil
}

// rewarm self-heals an evicted cache entry for a published exam.
func (s *ExamService) rewarm(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotAvailable
	}
	s.log.Warn().Str("exam_id", examID.String()).Msg("Exam cache miss, rewarming")
	return s.WarmExamCache(ctx, exam)
}
