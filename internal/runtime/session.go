// Package runtime composes the attempt controller and the integrity monitor
// into one running exam session.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/attempt"
	"github.com/stemsi/exstem-runtime/internal/integrity"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// ErrNotFinalized is returned when results are requested too early.
var ErrNotFinalized = errors.New("attempt is not finalized yet")

// Gateway is every collaborator call a session makes.
type Gateway interface {
	attempt.Gateway
	integrity.Reporter
	Resume(ctx context.Context, attemptID uuid.UUID) (*model.ExamPaper, error)
	Result(ctx context.Context, attemptID uuid.UUID) (*model.AttemptResult, error)
}

// UI renders controller events and policy notices.
type UI interface {
	attempt.Observer
	integrity.Presenter
}

// Config bundles the tunables of both halves.
type Config struct {
	Attempt      attempt.Options
	Integrity    integrity.Options
	SignalBuffer int
}

// Session is one live attempt: controller, monitor and the signal bus the host feeds.
type Session struct {
	Controller *attempt.Controller
	Monitor    *integrity.Monitor
	Bus        *integrity.Bus

	gw  Gateway
	log zerolog.Logger
}

// Launch loads the attempt from the collaborator and wires a session. Nothing runs until Run.
func Launch(
	ctx context.Context,
	gw Gateway,
	attemptID uuid.UUID,
	host integrity.Host,
	ui UI,
	cfg Config,
	log zerolog.Logger,
) (*Session, error) {
	paper, err := gw.Resume(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("resume attempt: %w", err)
	}
	if paper.AttemptID == uuid.Nil {
		paper.AttemptID = attemptID
	}

	opts := cfg.Attempt
	opts.Observer = ui
	ctrl, err := attempt.New(paper, gw, opts, log)
	if err != nil {
		return nil, fmt.Errorf("build controller: %w", err)
	}

	buffer := cfg.SignalBuffer
	if buffer <= 0 {
		buffer = 64
	}

	return &Session{
		Controller: ctrl,
		Monitor:    integrity.NewMonitor(attemptID, gw, ctrl, host, ui, cfg.Integrity, log),
		Bus:        integrity.NewBus(buffer),
		gw:         gw,
		log:        log.With().Str("component", "session").Str("attempt_id", attemptID.String()).Logger(),
	}, nil
}

// Run drives the attempt until it is finalized or ctx is cancelled.
// The monitor is stopped and the bus closed before Run returns.
func (s *Session) Run(ctx context.Context) error {
	monCtx, cancel := context.WithCancel(ctx)
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		_ = s.Monitor.Run(monCtx, s.Bus.Signals())
	}()

	err := s.Controller.Run(ctx)

	s.Bus.Close()
	cancel()
	<-monDone

	if err != nil {
		return err
	}
	s.log.Info().
		Str("reason", string(s.Controller.Outcome().Reason)).
		Int("violations", s.Monitor.State().Count).
		Msg("Session ended")
	return nil
}

// Result fetches the graded breakdown once the attempt is finalized.
func (s *Session) Result(ctx context.Context) (*model.AttemptResult, error) {
	if s.Controller.Lifecycle() != model.LifecycleFinalized {
		return nil, ErrNotFinalized
	}
	return s.gw.Result(ctx, s.Controller.AttemptID())
}
