package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// ScoringWorker consumes persist_scores_queue and completes attempts in bulk.
type ScoringWorker struct {
	pool *pgxpool.Pool
	consumer[model.ScoreRecord]
}

// NewScoringWorker creates a new ScoringWorker.
func NewScoringWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ScoringWorker {
	w := &ScoringWorker{pool: pool}
	w.consumer = consumer[model.ScoreRecord]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistScoresQueue,
		log:   log.With().Str("component", "scoring_worker").Logger(),
		flush: w.persist,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *ScoringWorker) Start(ctx context.Context) {
	w.run(ctx)
}

// scoreColumns is the column-major form of a batch for UNNEST.
type scoreColumns struct {
	IDs        []uuid.UUID
	Scores     []float64
	MaxScores  []float64
	Correct    []int32
	Wrong      []int32
	Unanswered []int32
	Violations []int32
	Reasons    []string
	FinishedAt []time.Time
}

// columns keeps the first record per attempt; a latch guarantees there is
// only one, this guards against a requeued duplicate.
func columns(batch []model.ScoreRecord) scoreColumns {
	var c scoreColumns
	seen := make(map[uuid.UUID]bool, len(batch))
	for _, r := range batch {
		if seen[r.AttemptID] {
			continue
		}
		seen[r.AttemptID] = true
		c.IDs = append(c.IDs, r.AttemptID)
		c.Scores = append(c.Scores, r.Score)
		c.MaxScores = append(c.MaxScores, r.MaxScore)
		c.Correct = append(c.Correct, int32(r.Correct))
		c.Wrong = append(c.Wrong, int32(r.Wrong))
		c.Unanswered = append(c.Unanswered, int32(r.Unanswered))
		c.Violations = append(c.Violations, int32(r.ViolationCount))
		c.Reasons = append(c.Reasons, string(r.Reason))
		c.FinishedAt = append(c.FinishedAt, r.FinishedAt)
	}
	return c
}

func (w *ScoringWorker) persist(ctx context.Context, batch []model.ScoreRecord) []model.ScoreRecord {
	c := columns(batch)
	_, err := w.pool.Exec(ctx, `
		UPDATE attempts AS a
		SET status = 'COMPLETED',
		    final_score = t.score,
		    max_score = t.max_score,
		    correct_count = t.correct,
		    wrong_count = t.wrong,
		    unanswered_count = t.unanswered,
		    violation_count = t.violations,
		    finish_reason = t.reason,
		    finished_at = t.finished_at
		FROM UNNEST(
			$1::uuid[], $2::float8[], $3::float8[], $4::int[], $5::int[],
			$6::int[], $7::int[], $8::text[], $9::timestamptz[]
		) AS t (id, score, max_score, correct, wrong, unanswered, violations, reason, finished_at)
		WHERE a.id = t.id AND a.status <> 'COMPLETED'`,
		c.IDs, c.Scores, c.MaxScores, c.Correct, c.Wrong, c.Unanswered, c.Violations, c.Reasons, c.FinishedAt,
	)
	if err == nil {
		w.clearFastLane(ctx, c.IDs)
		w.log.Debug().Int("count", len(c.IDs)).Msg("Scores persisted")
		return nil
	}
	w.log.Warn().Err(err).Msg("Bulk score update failed, using fallback")

	var failed []model.ScoreRecord
	for _, r := range batch {
		if err := w.persistSingle(ctx, r); err != nil {
			w.log.Error().Err(err).Str("attempt_id", r.AttemptID.String()).Msg("persistSingle failed, requeueing")
			failed = append(failed, r)
			continue
		}
		w.clearFastLane(ctx, []uuid.UUID{r.AttemptID})
	}
	return failed
}

func (w *ScoringWorker) persistSingle(ctx context.Context, r model.ScoreRecord) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = 'COMPLETED', final_score = $1, max_score = $2, correct_count = $3,
		     wrong_count = $4, unanswered_count = $5, violation_count = $6,
		     finish_reason = $7, finished_at = $8
		 WHERE id = $9 AND status <> 'COMPLETED'`,
		r.Score, r.MaxScore, r.Correct, r.Wrong, r.Unanswered, r.ViolationCount,
		string(r.Reason), r.FinishedAt, r.AttemptID,
	)
	return err
}

// clearFastLane drops autosave buffers once the graded attempt is durable.
// The meta hash stays until its TTL so results keep being served from Redis.
func (w *ScoringWorker) clearFastLane(ctx context.Context, ids []uuid.UUID) {
	pipe := w.rdb.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(id))
	}
	_, _ = pipe.Exec(ctx)
}
