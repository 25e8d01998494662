package attempt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
	"golang.org/x/sync/errgroup"
)

// Controller errors.
var (
	ErrAttemptClosed     = errors.New("attempt is no longer in progress")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrUnknownOption     = errors.New("unknown option for question")
	ErrNoQuestions       = errors.New("exam paper has no questions")
	ErrAlreadyFinalizing = errors.New("finalize already requested")
	ErrNotFinalizing     = errors.New("attempt is not awaiting submission")
	ErrSubmitFailed      = errors.New("submit failed")
)

// Gateway is the slice of the collaborator API the controller needs.
type Gateway interface {
	Autosave(ctx context.Context, attemptID uuid.UUID, entries []model.AnswerEntry) error
	Submit(ctx context.Context, attemptID uuid.UUID, reason model.FinalizeReason) (*model.SubmitAck, error)
}

// Observer receives controller events. Callbacks run on the goroutine that caused them.
type Observer interface {
	OnTick(remaining int)
	OnFinalizing(reason model.FinalizeReason)
	OnFinalized(outcome Outcome)
	OnSubmitFailed(err error)
}

// NopObserver ignores every event. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) OnTick(int) {}

func (NopObserver) OnFinalizing(model.FinalizeReason) {}

func (NopObserver) OnFinalized(Outcome) {}

func (NopObserver) OnSubmitFailed(error) {}

// Options tunes timers and retries. Zero values take the defaults below.
type Options struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	AutosaveTimeout  time.Duration
	FlushTimeout     time.Duration
	SubmitAttempts   int
	SubmitBackoff    time.Duration
	SubmitMaxBackoff time.Duration
	SubmitTimeout    time.Duration
	Now              func() time.Time
	Observer         Observer
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = 30 * time.Second
	}
	if o.AutosaveTimeout <= 0 {
		o.AutosaveTimeout = 10 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 3 * time.Second
	}
	if o.SubmitAttempts <= 0 {
		o.SubmitAttempts = 5
	}
	if o.SubmitBackoff <= 0 {
		o.SubmitBackoff = time.Second
	}
	if o.SubmitMaxBackoff <= 0 {
		o.SubmitMaxBackoff = 16 * time.Second
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 15 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	return o
}

// Outcome describes a completed finalize.
type Outcome struct {
	Reason model.FinalizeReason
	Ack    model.SubmitAck
}

// View is a read-only snapshot of what the candidate is looking at.
type View struct {
	Index     int                  `json:"index"`
	Total     int                  `json:"total"`
	Question  model.Question       `json:"question"`
	Selected  string               `json:"selected,omitempty"`
	Marked    bool                 `json:"marked"`
	Status    model.QuestionStatus `json:"status"`
	Remaining int                  `json:"remaining_seconds"`
	Lifecycle model.Lifecycle      `json:"lifecycle"`
}

// Controller owns one attempt's state machine: in_progress -> finalizing -> finalized.
// Every termination path goes through Finalize, which runs at most once.
type Controller struct {
	attemptID uuid.UUID
	examID    uuid.UUID
	title     string
	questions []model.Question
	index     map[uuid.UUID]int

	gw   Gateway
	opts Options
	obs  Observer
	log  zerolog.Logger

	mu         sync.Mutex
	store      *answerStore
	current    int
	lifecycle  model.Lifecycle
	reason     model.FinalizeReason
	memo       []model.QuestionStatus
	memoVer    uint64
	memoValid  bool
	loopCancel context.CancelFunc

	finalizing atomic.Bool
	submitMu   sync.Mutex
	outcome    Outcome
	done       chan struct{}

	clock *clock
	saver *autosaver
}

// New builds a controller from a Start/Resume payload. Autosaved entries for
// questions that are not on the paper are dropped.
func New(paper *model.ExamPaper, gw Gateway, opts Options, log zerolog.Logger) (*Controller, error) {
	if len(paper.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	opts = opts.withDefaults()

	c := &Controller{
		attemptID: paper.AttemptID,
		examID:    paper.ExamID,
		title:     paper.Title,
		questions: paper.Questions,
		index:     make(map[uuid.UUID]int, len(paper.Questions)),
		gw:        gw,
		opts:      opts,
		obs:       opts.Observer,
		log: log.With().
			Str("component", "attempt_controller").
			Str("attempt_id", paper.AttemptID.String()).
			Logger(),
		store:     newAnswerStore(),
		lifecycle: model.LifecycleInProgress,
		done:      make(chan struct{}),
	}
	for i, q := range paper.Questions {
		c.index[q.ID] = i
	}

	restored := make([]model.AnswerEntry, 0, len(paper.Autosaved))
	for _, e := range paper.Autosaved {
		if _, ok := c.index[e.QuestionID]; !ok {
			c.log.Debug().Str("question_id", e.QuestionID.String()).Msg("Dropping autosaved entry for unknown question")
			continue
		}
		restored = append(restored, e)
	}
	c.store.restore(restored)

	c.clock = newClock(paper.ExpiresAt, opts.Now, opts.TickInterval)
	c.clock.onTick = c.obs.OnTick

	c.saver = &autosaver{
		interval: opts.AutosaveInterval,
		timeout:  opts.AutosaveTimeout,
		save:     c.autosave,
		log:      c.log.With().Str("component", "autosave").Logger(),
	}

	return c, nil
}

// AttemptID returns the attempt identity.
func (c *Controller) AttemptID() uuid.UUID { return c.attemptID }

// ExamID returns the exam the attempt belongs to.
func (c *Controller) ExamID() uuid.UUID { return c.examID }

// Title returns the exam title.
func (c *Controller) Title() string { return c.title }

// Questions returns the ordered question list. Callers must not modify it.
func (c *Controller) Questions() []model.Question { return c.questions }

// Remaining returns the seconds left on the countdown.
func (c *Controller) Remaining() int { return c.clock.seconds() }

// Done is closed once the attempt reaches finalized.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Outcome returns the finalize outcome. It is only meaningful after Done is closed.
func (c *Controller) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Lifecycle returns the current lifecycle state.
func (c *Controller) Lifecycle() model.Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// SubmissionAllowed reports whether finalize has begun. Unload and close
// attempts after this point are part of the hand-off, not violations.
func (c *Controller) SubmissionAllowed() bool {
	return c.finalizing.Load()
}

// Run starts the countdown and the autosave loop and blocks until the attempt
// is finalized or ctx is cancelled. Timeout-triggered finalize uses ctx.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.lifecycle != model.LifecycleInProgress || c.loopCancel != nil {
		c.mu.Unlock()
		return ErrAttemptClosed
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.loopCancel = cancel
	c.mu.Unlock()

	c.clock.onExpire = func() {
		c.finalizeFrom(ctx, model.ReasonTimeout)
	}

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		c.clock.run(gctx)
		return nil
	})
	g.Go(func() error {
		c.saver.run(gctx)
		return nil
	})

	c.log.Info().
		Int("questions", len(c.questions)).
		Int("remaining_seconds", c.clock.seconds()).
		Msg("Attempt running")

	var err error
	select {
	case <-c.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	_ = g.Wait()
	return err
}

// ─── Answer & navigation operations ───────────────────────────────────

// SelectAnswer toggles key on the question: selecting the current answer clears it.
func (c *Controller) SelectAnswer(qid uuid.UUID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, err := c.lookup(qid)
	if err != nil {
		return err
	}
	if !c.questions[i].HasOption(key) {
		return fmt.Errorf("%w: %q", ErrUnknownOption, key)
	}
	c.store.toggle(qid, key)
	return nil
}

// ClearAnswer removes the answer and the review mark.
func (c *Controller) ClearAnswer(qid uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lookup(qid); err != nil {
		return err
	}
	c.store.clear(qid)
	return nil
}

// MarkForReview flags the question without touching its answer.
func (c *Controller) MarkForReview(qid uuid.UUID) error {
	return c.setMarked(qid, true)
}

// UnmarkForReview removes the review flag.
func (c *Controller) UnmarkForReview(qid uuid.UUID) error {
	return c.setMarked(qid, false)
}

// ToggleReview flips the review flag of the current question.
func (c *Controller) ToggleReview() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lifecycle != model.LifecycleInProgress {
		return ErrAttemptClosed
	}
	qid := c.questions[c.current].ID
	c.store.setMarked(qid, !c.store.isMarked(qid))
	return nil
}

func (c *Controller) setMarked(qid uuid.UUID, marked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.lookup(qid); err != nil {
		return err
	}
	c.store.setMarked(qid, marked)
	return nil
}

// GoToQuestion moves to index i, clamped to the paper. The question being left
// is marked visited.
func (c *Controller) GoToQuestion(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(i)
}

// Next moves forward one question, staying put on the last one.
func (c *Controller) Next() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(c.current + 1)
}

// Previous moves back one question, staying put on the first one.
func (c *Controller) Previous() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(c.current - 1)
}

func (c *Controller) moveLocked(i int) error {
	if c.lifecycle != model.LifecycleInProgress {
		return ErrAttemptClosed
	}
	if i < 0 {
		i = 0
	}
	if last := len(c.questions) - 1; i > last {
		i = last
	}
	if i == c.current {
		return nil
	}
	c.store.visit(c.questions[c.current].ID)
	c.current = i
	return nil
}

// lookup validates lifecycle and question id. Callers hold c.mu.
func (c *Controller) lookup(qid uuid.UUID) (int, error) {
	if c.lifecycle != model.LifecycleInProgress {
		return 0, ErrAttemptClosed
	}
	i, ok := c.index[qid]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
	}
	return i, nil
}

// ─── Read side ─────────────────────────────────────────────────────────

// Statuses returns the per-question palette, recomputed only after a mutation.
func (c *Controller) Statuses() []model.QuestionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.statusesLocked()
	out := make([]model.QuestionStatus, len(st))
	copy(out, st)
	return out
}

func (c *Controller) statusesLocked() []model.QuestionStatus {
	if c.memoValid && c.memoVer == c.store.version {
		return c.memo
	}
	c.memo = Project(c.questions, c.store.answers, c.store.marked, c.store.visited)
	c.memoVer = c.store.version
	c.memoValid = true
	return c.memo
}

// Summary returns the status counts.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summarize(c.statusesLocked())
}

// View returns the current question and its state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.questions[c.current]
	return View{
		Index:     c.current,
		Total:     len(c.questions),
		Question:  q,
		Selected:  c.store.answer(q.ID),
		Marked:    c.store.isMarked(q.ID),
		Status:    c.statusesLocked()[c.current],
		Remaining: c.clock.seconds(),
		Lifecycle: c.lifecycle,
	}
}

// ─── Submission ────────────────────────────────────────────────────────

// RequestManualSubmit returns the summary the candidate confirms before a manual submit.
func (c *Controller) RequestManualSubmit() (Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle != model.LifecycleInProgress {
		return Summary{}, ErrAttemptClosed
	}
	return Summarize(c.statusesLocked()), nil
}

// ConfirmManualSubmit finalizes with reason manual.
func (c *Controller) ConfirmManualSubmit(ctx context.Context) error {
	return c.Finalize(ctx, model.ReasonManual)
}

// Finalize is the single exit from in_progress. The first caller wins; every
// later call returns ErrAlreadyFinalizing without side effects. On submit
// exhaustion the attempt stays in finalizing and RetrySubmit may be used.
func (c *Controller) Finalize(ctx context.Context, reason model.FinalizeReason) error {
	if !c.finalizing.CompareAndSwap(false, true) {
		return ErrAlreadyFinalizing
	}

	c.mu.Lock()
	c.lifecycle = model.LifecycleFinalizing
	c.reason = reason
	cancel := c.loopCancel
	c.mu.Unlock()

	c.clock.stop()
	if cancel != nil {
		cancel()
	}

	c.log.Info().
		Str("reason", string(reason)).
		Int("remaining_seconds", c.clock.seconds()).
		Msg("Finalizing attempt")
	c.obs.OnFinalizing(reason)

	c.flush(ctx)
	return c.submit(ctx)
}

// RetrySubmit repeats the submit step for an attempt stuck in finalizing.
func (c *Controller) RetrySubmit(ctx context.Context) error {
	if c.Lifecycle() != model.LifecycleFinalizing {
		return ErrNotFinalizing
	}
	return c.submit(ctx)
}

// finalizeFrom is used by background triggers, which have nobody to return an error to.
func (c *Controller) finalizeFrom(ctx context.Context, reason model.FinalizeReason) {
	err := c.Finalize(ctx, reason)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyFinalizing):
		c.log.Debug().Str("reason", string(reason)).Msg("Finalize trigger ignored")
	default:
		c.log.Error().Err(err).Str("reason", string(reason)).Msg("Finalize failed")
	}
}

// flush pushes the final batch, bounded by FlushTimeout. Failure never blocks submit.
func (c *Controller) flush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, c.opts.FlushTimeout)
	defer cancel()

	if err := c.push(flushCtx); err != nil && !errors.Is(err, errNothingToSave) {
		c.log.Warn().Err(err).Msg("Final autosave flush failed")
	}
}

// autosave is the periodic tick body.
func (c *Controller) autosave(ctx context.Context) error {
	if c.Lifecycle() != model.LifecycleInProgress {
		return ErrAttemptClosed
	}
	return c.push(ctx)
}

func (c *Controller) push(ctx context.Context) error {
	c.mu.Lock()
	batch := c.store.batch(c.questions)
	c.mu.Unlock()

	if len(batch) == 0 {
		return errNothingToSave
	}
	return c.gw.Autosave(ctx, c.attemptID, batch)
}

// permanent is implemented by gateway errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

// submit calls the collaborator with bounded exponential backoff. Calls are
// serialized so a manual retry never overlaps an in-flight submit.
func (c *Controller) submit(ctx context.Context) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	if c.lifecycle == model.LifecycleFinalized {
		c.mu.Unlock()
		return nil
	}
	reason := c.reason
	c.mu.Unlock()

	backoff := c.opts.SubmitBackoff
	var lastErr error

retry:
	for try := 1; try <= c.opts.SubmitAttempts; try++ {
		submitCtx, cancel := context.WithTimeout(ctx, c.opts.SubmitTimeout)
		ack, err := c.gw.Submit(submitCtx, c.attemptID, reason)
		cancel()

		if err == nil {
			c.complete(reason, ack)
			return nil
		}
		lastErr = err

		c.log.Warn().Err(err).
			Int("try", try).
			Int("max_tries", c.opts.SubmitAttempts).
			Msg("Submit failed")

		if isPermanent(err) || try == c.opts.SubmitAttempts {
			break retry
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			break retry
		case <-timer.C:
		}

		backoff *= 2
		if backoff > c.opts.SubmitMaxBackoff {
			backoff = c.opts.SubmitMaxBackoff
		}
	}

	err := fmt.Errorf("%w: %w", ErrSubmitFailed, lastErr)
	c.obs.OnSubmitFailed(err)
	return err
}

func (c *Controller) complete(reason model.FinalizeReason, ack *model.SubmitAck) {
	out := Outcome{Reason: reason}
	if ack != nil {
		out.Ack = *ack
	}

	c.mu.Lock()
	c.lifecycle = model.LifecycleFinalized
	c.outcome = out
	c.mu.Unlock()

	close(c.done)

	c.log.Info().
		Str("reason", string(reason)).
		Bool("already_submitted", out.Ack.AlreadySubmitted).
		Msg("Attempt finalized")
	c.obs.OnFinalized(out)
}
