package attempt

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// errNothingToSave marks a skipped autosave tick; it is never logged.
var errNothingToSave = errors.New("nothing to save")

// autosaver pushes the answer batch on a fixed interval. Failures are logged and dropped.
type autosaver struct {
	interval time.Duration
	timeout  time.Duration
	save     func(ctx context.Context) error
	log      zerolog.Logger
}

func (a *autosaver) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *autosaver) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.save(saveCtx)
	switch {
	case err == nil:
		a.log.Debug().Msg("Autosaved")
	case errors.Is(err, errNothingToSave), errors.Is(err, ErrAttemptClosed):
	case ctx.Err() != nil:
		// Cancelled by finalize; the final flush covers this batch.
	default:
		a.log.Warn().Err(err).Msg("Autosave failed")
	}
}
