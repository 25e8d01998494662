package integrity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// DefaultTerminationMessage is shown when the verdict carries no text.
const DefaultTerminationMessage = "Your exam has been terminated because the violation limit was reached."

// Reporter sends a violation to the policy collaborator, which decides the verdict.
type Reporter interface {
	ReportViolation(ctx context.Context, attemptID uuid.UUID, report model.ViolationReport) (*model.Verdict, error)
}

// Finalizer is the attempt's single exit. SubmissionAllowed turns reporting off.
type Finalizer interface {
	Finalize(ctx context.Context, reason model.FinalizeReason) error
	SubmissionAllowed() bool
}

// Host performs compliance nudges on the candidate's environment.
type Host interface {
	RequestFullscreen() error
}

// Presenter renders policy notices.
type Presenter interface {
	ShowWarning(message string, count int)
	DismissWarning()
	ShowTermination(message string, count int)
}

// Options holds the display and grace timings.
type Options struct {
	ReportTimeout  time.Duration
	WarningDisplay time.Duration
	GracePeriod    time.Duration
	RestrictedKeys []string
}

func (o Options) withDefaults() Options {
	if o.ReportTimeout <= 0 {
		o.ReportTimeout = 5 * time.Second
	}
	if o.WarningDisplay <= 0 {
		o.WarningDisplay = 5 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 3 * time.Second
	}
	return o
}

// State is the violation view as last confirmed by the server.
type State struct {
	Count    int                 `json:"count"`
	LastType model.ViolationType `json:"last_type"`
	Observed int                 `json:"observed"`
}

// Monitor turns host signals into violation reports and enforces the server's verdicts.
// After a termination verdict every further signal is dropped.
type Monitor struct {
	attemptID uuid.UUID
	reporter  Reporter
	finalizer Finalizer
	host      Host
	presenter Presenter
	keys      *Blocklist
	opts      Options
	log       zerolog.Logger

	terminated atomic.Bool

	mu        sync.Mutex
	state     State
	warnTimer *time.Timer

	wg sync.WaitGroup
}

// NewMonitor wires a monitor for one attempt.
func NewMonitor(
	attemptID uuid.UUID,
	reporter Reporter,
	finalizer Finalizer,
	host Host,
	presenter Presenter,
	opts Options,
	log zerolog.Logger,
) *Monitor {
	opts = opts.withDefaults()
	return &Monitor{
		attemptID: attemptID,
		reporter:  reporter,
		finalizer: finalizer,
		host:      host,
		presenter: presenter,
		keys:      NewBlocklist(opts.RestrictedKeys),
		opts:      opts,
		log: log.With().
			Str("component", "integrity_monitor").
			Str("attempt_id", attemptID.String()).
			Logger(),
	}
}

// Blocked reports whether a key combo is on the blocklist, so hosts can swallow it.
func (m *Monitor) Blocked(combo string) bool {
	_, ok := m.keys.Match(combo)
	return ok
}

// Terminated reports whether a termination verdict was received.
func (m *Monitor) Terminated() bool {
	return m.terminated.Load()
}

// State returns the current violation state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run consumes signals in arrival order until ctx is done or the channel closes,
// then waits for a pending termination hand-off.
func (m *Monitor) Run(ctx context.Context, signals <-chan Signal) error {
	m.log.Info().Msg("Integrity monitor started")
	defer m.wg.Wait()
	defer m.stopWarning()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			m.Handle(ctx, sig)
		}
	}
}

// Handle processes one signal synchronously.
func (m *Monitor) Handle(ctx context.Context, sig Signal) {
	if m.terminated.Load() || m.finalizer.SubmissionAllowed() {
		m.log.Debug().Str("signal", string(sig.Kind)).Msg("Signal ignored after finalize")
		return
	}

	vt, detail, ok := Classify(sig, m.keys)
	if !ok {
		return
	}

	m.mu.Lock()
	m.state.Observed++
	m.state.LastType = vt
	report := model.ViolationReport{Type: vt, Detail: detail, ClientCount: m.state.Observed}
	m.mu.Unlock()

	m.log.Warn().
		Str("violation_type", string(vt)).
		Int("observed", report.ClientCount).
		Msg("Violation detected")

	verdict := m.report(ctx, report)

	if vt == model.ViolationFullscreenExit && !m.terminated.Load() {
		if err := m.host.RequestFullscreen(); err != nil {
			m.log.Warn().Err(err).Msg("Re-entering fullscreen failed")
		}
	}

	if verdict != nil {
		m.apply(ctx, verdict)
	}
}

// report returns nil when the collaborator could not be reached: no verdict, no action.
func (m *Monitor) report(ctx context.Context, report model.ViolationReport) *model.Verdict {
	reportCtx, cancel := context.WithTimeout(ctx, m.opts.ReportTimeout)
	defer cancel()

	verdict, err := m.reporter.ReportViolation(reportCtx, m.attemptID, report)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.log.Warn().Err(err).Str("violation_type", string(report.Type)).Msg("Violation report failed")
		}
		return nil
	}
	return verdict
}

func (m *Monitor) apply(ctx context.Context, v *model.Verdict) {
	m.mu.Lock()
	if v.ViolationCount > m.state.Count {
		m.state.Count = v.ViolationCount
	}
	count := m.state.Count
	m.mu.Unlock()

	if v.ShouldTerminate {
		m.terminate(ctx, v.Warning, count)
		return
	}
	if v.Warning != "" {
		m.warn(v.Warning, count)
	}
}

func (m *Monitor) warn(message string, count int) {
	m.stopWarning()
	m.presenter.ShowWarning(message, count)

	m.mu.Lock()
	m.warnTimer = time.AfterFunc(m.opts.WarningDisplay, m.presenter.DismissWarning)
	m.mu.Unlock()
}

func (m *Monitor) stopWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
}

// terminate latches, shows the notice, and finalizes after the grace period.
// The wait runs off the signal loop so the host is never blocked.
func (m *Monitor) terminate(ctx context.Context, message string, count int) {
	if !m.terminated.CompareAndSwap(false, true) {
		return
	}
	if message == "" {
		message = DefaultTerminationMessage
	}

	m.stopWarning()
	m.presenter.ShowTermination(message, count)
	m.log.Warn().Int("violation_count", count).Msg("Termination verdict received")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		timer := time.NewTimer(m.opts.GracePeriod)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			m.log.Warn().Msg("Grace period interrupted, skipping violation finalize")
			return
		case <-timer.C:
		}

		err := m.finalizer.Finalize(context.WithoutCancel(ctx), model.ReasonViolation)
		if err != nil {
			m.log.Warn().Err(err).Msg("Violation finalize did not complete")
		}
	}()
}
