package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// flushFunc persists a batch and returns the items that must be retried.
type flushFunc[T any] func(ctx context.Context, batch []T) []T

// consumer drains a Redis list queue into batches. Items are flushed when the
// batch is full or BatchTimeout has passed; failed items go back to the queue.
type consumer[T any] struct {
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
	flush flushFunc[T]
}

func (q *consumer[T]) run(ctx context.Context) {
	q.log.Info().Str("queue", q.queue).Msg("Worker started")

	buffer := make([]T, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			q.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			q.shutdown(buffer)
			return
		default:
		}

		// BLPop blocks for PollTimeout and returns immediately if data exists.
		result, err := q.rdb.BLPop(ctx, PollTimeout, q.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			q.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (q *consumer[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	if failed := q.flush(ctx, batch); len(failed) > 0 {
		q.requeue(ctx, failed)
	}
}

func (q *consumer[T]) requeue(ctx context.Context, items []T) {
	pipe := q.rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, q.queue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	q.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a database outage does not spin the loop.
	sleep(ctx, 2*time.Second)
}

func (q *consumer[T]) shutdown(buffer []T) {
	q.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q.flushSafe(shutdownCtx, buffer)
	q.log.Info().Msg("Worker stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
