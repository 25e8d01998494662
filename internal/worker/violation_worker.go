package worker

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
)

var violationColumns = []string{"attempt_id", "student_id", "type", "detail", "count", "recorded_at"}

// ViolationWorker consumes persist_violations_queue and bulk inserts the
// integrity log with COPY.
type ViolationWorker struct {
	pool *pgxpool.Pool
	consumer[model.ViolationEvent]
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{pool: pool}
	w.consumer = consumer[model.ViolationEvent]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistViolationsQueue,
		log:   log.With().Str("component", "violation_worker").Logger(),
		flush: w.persist,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.run(ctx)
}

func violationRow(e model.ViolationEvent) []interface{} {
	return []interface{}{e.AttemptID, e.StudentID, string(e.Type), e.Detail, e.Count, e.RecordedAt}
}

// persist tries COPY first, then row-by-row so one bad event cannot hold back the rest.
func (w *ViolationWorker) persist(ctx context.Context, batch []model.ViolationEvent) []model.ViolationEvent {
	rows := make([][]interface{}, len(batch))
	for i, e := range batch {
		rows[i] = violationRow(e)
	}

	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"attempt_violations"}, violationColumns, pgx.CopyFromRows(rows))
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ViolationEvent
	for _, e := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO attempt_violations (attempt_id, student_id, type, detail, count, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			violationRow(e)...,
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, e)
		}
	}
	return failed
}
