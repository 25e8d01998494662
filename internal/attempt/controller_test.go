package attempt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyPaper(t *testing.T) {
	paper := testPaper(0, time.Minute)
	_, err := New(paper, &fakeGateway{}, Options{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestSelectAnswerToggles(t *testing.T) {
	paper := testPaper(2, time.Minute)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())
	q := paper.Questions[0].ID

	require.NoError(t, c.SelectAnswer(q, "A"))
	assert.Equal(t, "A", c.View().Selected)

	require.NoError(t, c.SelectAnswer(q, "A"))
	assert.Empty(t, c.View().Selected)
	assert.Equal(t, model.StatusNotAnswered, c.Statuses()[0])

	require.NoError(t, c.SelectAnswer(q, "B"))
	require.NoError(t, c.SelectAnswer(q, "C"))
	assert.Equal(t, "C", c.View().Selected)
}

func TestSelectAnswerValidatesInput(t *testing.T) {
	paper := testPaper(1, time.Minute)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())

	assert.ErrorIs(t, c.SelectAnswer(uuid.New(), "A"), ErrUnknownQuestion)
	assert.ErrorIs(t, c.SelectAnswer(paper.Questions[0].ID, "E"), ErrUnknownOption)
	assert.Equal(t, model.StatusNotVisited, c.Statuses()[0])
}

func TestNavigationMarksDepartedQuestionVisited(t *testing.T) {
	paper := testPaper(3, time.Minute)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())

	assert.Equal(t, model.StatusNotVisited, c.Statuses()[0])

	require.NoError(t, c.Next())
	assert.Equal(t, 1, c.View().Index)
	assert.Equal(t, model.StatusNotAnswered, c.Statuses()[0])
	assert.Equal(t, model.StatusNotVisited, c.Statuses()[1])

	require.NoError(t, c.GoToQuestion(2))
	require.NoError(t, c.Previous())
	assert.Equal(t, []model.QuestionStatus{
		model.StatusNotAnswered,
		model.StatusNotAnswered,
		model.StatusNotAnswered,
	}, c.Statuses())
}

func TestNavigationClampsAtEdges(t *testing.T) {
	paper := testPaper(3, time.Minute)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())

	require.NoError(t, c.Previous())
	assert.Equal(t, 0, c.View().Index)
	assert.Equal(t, model.StatusNotVisited, c.Statuses()[0], "staying put is not leaving")

	require.NoError(t, c.GoToQuestion(99))
	assert.Equal(t, 2, c.View().Index)

	require.NoError(t, c.Next())
	assert.Equal(t, 2, c.View().Index)

	require.NoError(t, c.GoToQuestion(-5))
	assert.Equal(t, 0, c.View().Index)
}

func TestClearAnswerReturnsToNotAnswered(t *testing.T) {
	paper := testPaper(1, time.Minute)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())
	q := paper.Questions[0].ID

	require.NoError(t, c.SelectAnswer(q, "D"))
	require.NoError(t, c.MarkForReview(q))
	assert.Equal(t, model.StatusAnsweredMarked, c.Statuses()[0])

	require.NoError(t, c.ClearAnswer(q))
	assert.Equal(t, model.StatusNotAnswered, c.Statuses()[0])
	assert.False(t, c.View().Marked)
}

func TestMarkForReviewKeepsAnswer(t *testing.T) {
	paper := testPaper(1, time.Minute)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())
	q := paper.Questions[0].ID

	require.NoError(t, c.SelectAnswer(q, "B"))
	require.NoError(t, c.MarkForReview(q))
	require.NoError(t, c.UnmarkForReview(q))

	assert.Equal(t, "B", c.View().Selected)
	assert.Equal(t, model.StatusAnswered, c.Statuses()[0])

	require.NoError(t, c.ToggleReview())
	assert.True(t, c.View().Marked)
}

func TestFiveQuestionScenario(t *testing.T) {
	paper := testPaper(5, 60*time.Second)
	c := newTestController(t, paper, &fakeGateway{}, fastOptions())
	q := paper.Questions

	require.NoError(t, c.SelectAnswer(q[0].ID, "A"))
	require.NoError(t, c.Next())
	require.NoError(t, c.MarkForReview(q[1].ID))
	require.NoError(t, c.Next())
	require.NoError(t, c.SelectAnswer(q[2].ID, "C"))
	require.NoError(t, c.Next())
	require.NoError(t, c.Next())

	assert.Equal(t, []model.QuestionStatus{
		model.StatusAnswered,
		model.StatusMarked,
		model.StatusAnswered,
		model.StatusNotAnswered,
		model.StatusNotVisited,
	}, c.Statuses())

	summary, err := c.RequestManualSubmit()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Answered)
	assert.Equal(t, 1, summary.Marked)
	assert.Equal(t, 1, summary.NotAnswered)
	assert.Equal(t, 1, summary.NotVisited)
	assert.Equal(t, 0, summary.AnsweredMarked)
}

func TestRestoreFromAutosave(t *testing.T) {
	paper := testPaper(3, time.Minute)
	q := paper.Questions
	paper.Autosaved = []model.AnswerEntry{
		{QuestionID: q[0].ID, SelectedOption: strPtr("B")},
		{QuestionID: q[1].ID, SelectedOption: strPtr("Z"), MarkedForReview: true},
		{QuestionID: uuid.New(), SelectedOption: strPtr("A")},
	}

	c := newTestController(t, paper, &fakeGateway{}, fastOptions())

	assert.Equal(t, []model.QuestionStatus{
		model.StatusAnswered,
		model.StatusMarked,
		model.StatusNotVisited,
	}, c.Statuses())
}

func TestMutationsAfterFinalizeAreRejected(t *testing.T) {
	paper := testPaper(2, time.Minute)
	gw := &fakeGateway{}
	c := newTestController(t, paper, gw, fastOptions())
	q := paper.Questions[0].ID

	require.NoError(t, c.SelectAnswer(q, "A"))
	require.NoError(t, c.Finalize(context.Background(), model.ReasonManual))
	before := c.Statuses()

	assert.ErrorIs(t, c.SelectAnswer(q, "B"), ErrAttemptClosed)
	assert.ErrorIs(t, c.ClearAnswer(q), ErrAttemptClosed)
	assert.ErrorIs(t, c.MarkForReview(q), ErrAttemptClosed)
	assert.ErrorIs(t, c.Next(), ErrAttemptClosed)
	assert.ErrorIs(t, c.autosave(context.Background()), ErrAttemptClosed)
	_, err := c.RequestManualSubmit()
	assert.ErrorIs(t, err, ErrAttemptClosed)

	assert.Equal(t, before, c.Statuses())
	assert.Equal(t, "A", c.View().Selected)
	assert.Equal(t, model.LifecycleFinalized, c.Lifecycle())
	assert.Equal(t, 1, gw.submitCount())
}

func TestFinalizeExactlyOnceInEveryOrder(t *testing.T) {
	orders := [][]model.FinalizeReason{
		{model.ReasonTimeout, model.ReasonManual, model.ReasonViolation},
		{model.ReasonTimeout, model.ReasonViolation, model.ReasonManual},
		{model.ReasonManual, model.ReasonTimeout, model.ReasonViolation},
		{model.ReasonManual, model.ReasonViolation, model.ReasonTimeout},
		{model.ReasonViolation, model.ReasonTimeout, model.ReasonManual},
		{model.ReasonViolation, model.ReasonManual, model.ReasonTimeout},
	}

	for _, order := range orders {
		t.Run(string(order[0])+"_first", func(t *testing.T) {
			gw := &fakeGateway{}
			c := newTestController(t, testPaper(2, time.Minute), gw, fastOptions())

			require.NoError(t, c.Finalize(context.Background(), order[0]))
			for _, r := range order[1:] {
				assert.ErrorIs(t, c.Finalize(context.Background(), r), ErrAlreadyFinalizing)
			}

			assert.Equal(t, 1, gw.submitCount())
			assert.Equal(t, model.LifecycleFinalized, c.Lifecycle())
			assert.Equal(t, order[0], c.Outcome().Reason)
			assert.Equal(t, []model.FinalizeReason{order[0]}, gw.reasons)
		})
	}
}

func TestFinalizeConcurrentTriggersSubmitOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		gw := &fakeGateway{}
		c := newTestController(t, testPaper(2, time.Minute), gw, fastOptions())

		reasons := []model.FinalizeReason{model.ReasonTimeout, model.ReasonManual, model.ReasonViolation}
		start := make(chan struct{})
		errs := make([]error, len(reasons))
		var wg sync.WaitGroup
		for j, r := range reasons {
			wg.Add(1)
			go func(j int, r model.FinalizeReason) {
				defer wg.Done()
				<-start
				errs[j] = c.Finalize(context.Background(), r)
			}(j, r)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				require.ErrorIs(t, err, ErrAlreadyFinalizing)
			}
		}
		require.Equal(t, 1, wins)
		require.Equal(t, 1, gw.submitCount())
	}
}

func TestTimeoutAndManualSubmitSameInstant(t *testing.T) {
	paper := testPaper(2, time.Minute)
	gw := &fakeGateway{}
	c := newTestController(t, paper, gw, fastOptions())

	now := paper.ExpiresAt
	c.clock.now = func() time.Time { return now }
	c.clock.remaining.Store(1)
	c.clock.onExpire = func() { c.finalizeFrom(context.Background(), model.ReasonTimeout) }

	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		c.clock.tick()
	}()
	go func() {
		defer wg.Done()
		<-start
		_ = c.ConfirmManualSubmit(context.Background())
	}()
	close(start)
	wg.Wait()

	assert.Equal(t, 1, gw.submitCount())
	assert.Equal(t, model.LifecycleFinalized, c.Lifecycle())
	assert.True(t, c.clock.tick(), "clock stays stopped")
	assert.Equal(t, 1, gw.submitCount())
}

func TestFinalizeFlushesBeforeSubmit(t *testing.T) {
	paper := testPaper(3, time.Minute)
	gw := &fakeGateway{}
	c := newTestController(t, paper, gw, fastOptions())
	q := paper.Questions

	require.NoError(t, c.SelectAnswer(q[1].ID, "D"))
	require.NoError(t, c.MarkForReview(q[2].ID))
	require.NoError(t, c.SelectAnswer(q[0].ID, "A"))
	require.NoError(t, c.SelectAnswer(q[0].ID, "A"))

	require.NoError(t, c.Finalize(context.Background(), model.ReasonManual))

	assert.Equal(t, []string{"autosave", "submit"}, gw.kinds())
	assert.Equal(t, []model.AnswerEntry{
		{QuestionID: q[0].ID},
		{QuestionID: q[1].ID, SelectedOption: strPtr("D")},
		{QuestionID: q[2].ID, MarkedForReview: true},
	}, gw.lastBatch())
}

func TestFlushFailureDoesNotBlockSubmit(t *testing.T) {
	paper := testPaper(1, time.Minute)
	gw := &fakeGateway{autosaveErr: errNetwork}
	c := newTestController(t, paper, gw, fastOptions())

	require.NoError(t, c.SelectAnswer(paper.Questions[0].ID, "A"))
	require.NoError(t, c.Finalize(context.Background(), model.ReasonTimeout))
	assert.Equal(t, model.LifecycleFinalized, c.Lifecycle())
}

func TestSubmitRetriesWithBackoff(t *testing.T) {
	gw := &fakeGateway{submitErrs: []error{errNetwork, errNetwork, nil}}
	c := newTestController(t, testPaper(1, time.Minute), gw, fastOptions())

	require.NoError(t, c.Finalize(context.Background(), model.ReasonManual))
	assert.Equal(t, 3, gw.submitCount())
	assert.Equal(t, model.LifecycleFinalized, c.Lifecycle())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "forbidden" }
func (permanentErr) Permanent() bool { return true }

func TestSubmitStopsOnPermanentError(t *testing.T) {
	gw := &fakeGateway{submitErrs: []error{permanentErr{}}}
	c := newTestController(t, testPaper(1, time.Minute), gw, fastOptions())

	err := c.Finalize(context.Background(), model.ReasonManual)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Equal(t, 1, gw.submitCount())
}

type failureObserver struct {
	NopObserver
	mu       sync.Mutex
	failures []error
}

func (o *failureObserver) OnSubmitFailed(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, err)
}

func TestSubmitExhaustionStaysFinalizing(t *testing.T) {
	paper := testPaper(1, time.Minute)
	gw := &fakeGateway{submitErrs: []error{errNetwork, errNetwork, errNetwork}}
	obs := &failureObserver{}
	opts := fastOptions()
	opts.Observer = obs
	c := newTestController(t, paper, gw, opts)

	err := c.Finalize(context.Background(), model.ReasonViolation)
	require.ErrorIs(t, err, ErrSubmitFailed)
	assert.True(t, errors.Is(err, errNetwork))
	assert.Equal(t, 3, gw.submitCount())
	assert.Equal(t, model.LifecycleFinalizing, c.Lifecycle())
	assert.Len(t, obs.failures, 1)

	assert.ErrorIs(t, c.SelectAnswer(paper.Questions[0].ID, "A"), ErrAttemptClosed)
	assert.ErrorIs(t, c.Finalize(context.Background(), model.ReasonManual), ErrAlreadyFinalizing)

	require.NoError(t, c.RetrySubmit(context.Background()))
	assert.Equal(t, model.LifecycleFinalized, c.Lifecycle())
	assert.Equal(t, model.ReasonViolation, c.Outcome().Reason)
	assert.ErrorIs(t, c.RetrySubmit(context.Background()), ErrNotFinalizing)
}

func TestRetrySubmitRequiresFinalizing(t *testing.T) {
	c := newTestController(t, testPaper(1, time.Minute), &fakeGateway{}, fastOptions())
	assert.ErrorIs(t, c.RetrySubmit(context.Background()), ErrNotFinalizing)
}

func TestSubmissionAllowedFlipsOnFinalize(t *testing.T) {
	c := newTestController(t, testPaper(1, time.Minute), &fakeGateway{}, fastOptions())
	assert.False(t, c.SubmissionAllowed())
	require.NoError(t, c.Finalize(context.Background(), model.ReasonManual))
	assert.True(t, c.SubmissionAllowed())
}

func TestRunFinalizesOnTimeout(t *testing.T) {
	paper := testPaper(2, 30*time.Millisecond)
	gw := &fakeGateway{}
	c := newTestController(t, paper, gw, fastOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, model.ReasonTimeout, c.Outcome().Reason)
	assert.Equal(t, 1, gw.submitCount())
	assert.Equal(t, 0, c.Remaining())
}

func TestRunWithExpiredPaperFinalizesImmediately(t *testing.T) {
	paper := testPaper(1, -time.Minute)
	gw := &fakeGateway{}
	c := newTestController(t, paper, gw, fastOptions())
	assert.Equal(t, 0, c.Remaining())

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, model.ReasonTimeout, c.Outcome().Reason)
}

func TestRunAutosavesPeriodically(t *testing.T) {
	paper := testPaper(2, time.Minute)
	gw := &fakeGateway{}
	opts := fastOptions()
	opts.AutosaveInterval = 10 * time.Millisecond
	c := newTestController(t, paper, gw, opts)
	require.NoError(t, c.SelectAnswer(paper.Questions[0].ID, "B"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return gw.lastBatch() != nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.Equal(t, 0, gw.submitCount())
}

type tickObserver struct {
	NopObserver
	ticks atomic.Int32
}

func (o *tickObserver) OnTick(int) { o.ticks.Add(1) }

func (g *fakeGateway) autosaveCount() int {
	n := 0
	for _, k := range g.kinds() {
		if k == "autosave" {
			n++
		}
	}
	return n
}

func TestFinalizeStopsRunningLoops(t *testing.T) {
	paper := testPaper(2, time.Minute)
	gw := &fakeGateway{}
	obs := &tickObserver{}
	opts := fastOptions()
	opts.AutosaveInterval = 10 * time.Millisecond
	opts.Observer = obs
	c := newTestController(t, paper, gw, opts)
	require.NoError(t, c.SelectAnswer(paper.Questions[0].ID, "A"))

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return gw.autosaveCount() >= 2 && obs.ticks.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Finalize(context.Background(), model.ReasonManual))

	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run kept going after finalize")
	}
	saves, ticks := gw.autosaveCount(), obs.ticks.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, saves, gw.autosaveCount())
	assert.Equal(t, ticks, obs.ticks.Load())
	assert.Equal(t, 1, gw.submitCount())
}

func TestRunAfterFinalizeIsRejected(t *testing.T) {
	c := newTestController(t, testPaper(1, time.Minute), &fakeGateway{}, fastOptions())
	require.NoError(t, c.Finalize(context.Background(), model.ReasonManual))
	assert.ErrorIs(t, c.Run(context.Background()), ErrAttemptClosed)
}
