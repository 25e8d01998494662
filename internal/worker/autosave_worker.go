package worker

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// AutosaveWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	consumer[model.AnswerBatch]
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	w := &AutosaveWorker{pool: pool}
	w.consumer = consumer[model.AnswerBatch]{
		rdb:   rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   log.With().Str("component", "autosave_worker").Logger(),
		flush: w.persist,
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.run(ctx)
}

// answerRow is the latest state of one (attempt, question) pair.
type answerRow struct {
	AttemptID  uuid.UUID
	QuestionID uuid.UUID
	Option     *string
	Marked     bool
	SavedAt    time.Time
}

// cleared rows carry neither an option nor a review mark.
func (r answerRow) cleared() bool {
	return (r.Option == nil || *r.Option == "") && !r.Marked
}

// latestRows collapses batches so each pair is written once, newest wins.
func latestRows(batches []model.AnswerBatch) []answerRow {
	type pair struct{ attempt, question uuid.UUID }
	latest := make(map[pair]answerRow)
	for _, b := range batches {
		for _, e := range b.Entries {
			k := pair{b.AttemptID, e.QuestionID}
			if cur, ok := latest[k]; ok && cur.SavedAt.After(b.SavedAt) {
				continue
			}
			latest[k] = answerRow{
				AttemptID:  b.AttemptID,
				QuestionID: e.QuestionID,
				Option:     e.SelectedOption,
				Marked:     e.MarkedForReview,
				SavedAt:    b.SavedAt,
			}
		}
	}

	rows := make([]answerRow, 0, len(latest))
	for _, r := range latest {
		rows = append(rows, r)
	}
	// Stable lock order across concurrent flushes.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AttemptID != rows[j].AttemptID {
			return rows[i].AttemptID.String() < rows[j].AttemptID.String()
		}
		return rows[i].QuestionID.String() < rows[j].QuestionID.String()
	})
	return rows
}

func (w *AutosaveWorker) persist(ctx context.Context, batches []model.AnswerBatch) []model.AnswerBatch {
	rows := latestRows(batches)
	if len(rows) == 0 {
		return nil
	}
	err := w.write(ctx, rows)
	if err == nil {
		w.log.Debug().Int("batches", len(batches)).Int("rows", len(rows)).Msg("Answers persisted")
		return nil
	}
	w.log.Warn().Err(err).Int("rows", len(rows)).Msg("Bulk persist failed, attempting batch-by-batch recovery")

	var failed []model.AnswerBatch
	for _, b := range batches {
		if err := w.write(ctx, latestRows([]model.AnswerBatch{b})); err != nil {
			w.log.Error().Err(err).Str("attempt_id", b.AttemptID.String()).Msg("Persist failed, requeueing")
			failed = append(failed, b)
		}
	}
	return failed
}

func (w *AutosaveWorker) write(ctx context.Context, rows []answerRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.cleared() {
			batch.Queue(
				`DELETE FROM attempt_answers WHERE attempt_id = $1 AND question_id = $2 AND updated_at <= $3`,
				r.AttemptID, r.QuestionID, r.SavedAt,
			)
			continue
		}
		// An older batch never overwrites a newer one.
		batch.Queue(
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_option, marked_for_review, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_option = EXCLUDED.selected_option,
			     marked_for_review = EXCLUDED.marked_for_review,
			     updated_at = EXCLUDED.updated_at
			 WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`,
			r.AttemptID, r.QuestionID, r.Option, r.Marked, r.SavedAt,
		)
	}
	return w.pool.SendBatch(ctx, batch).Close()
}
