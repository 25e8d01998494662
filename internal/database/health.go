package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Status is the dependency report served by the health endpoint.
type Status struct {
	Postgres string `json:"postgres"`
	Redis    string `json:"redis"`
}

// Healthy reports whether every dependency answered.
func (s Status) Healthy() bool {
	return s.Postgres == "ok" && s.Redis == "ok"
}

// Check pings PostgreSQL and Redis with a short timeout each.
func Check(ctx context.Context, pool *pgxpool.Pool, rdb *redis.Client) Status {
	st := Status{Postgres: "ok", Redis: "ok"}

	pgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pgCtx); err != nil {
		st.Postgres = err.Error()
	}

	rCtx, rCancel := context.WithTimeout(ctx, 2*time.Second)
	defer rCancel()
	if err := rdb.Ping(rCtx).Err(); err != nil {
		st.Redis = err.Error()
	}
	return st
}
