package terminal

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/attempt"
	"github.com/stemsi/exstem-runtime/internal/integrity"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stretchr/testify/assert"
)

type recordedSignals struct {
	mu  sync.Mutex
	got []string
}

func (r *recordedSignals) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func (r *recordedSignals) OnFocusLoss()                    { r.add("focus_loss") }
func (r *recordedSignals) OnRestrictedKey(combo string)    { r.add("key:" + combo) }
func (r *recordedSignals) OnClipboardUse(k integrity.Kind) { r.add(string(k)) }

type fakeAttempt struct {
	view      attempt.View
	lifecycle model.Lifecycle
	calls     []string
}

func (f *fakeAttempt) View() attempt.View         { return f.view }
func (f *fakeAttempt) Lifecycle() model.Lifecycle { return f.lifecycle }
func (f *fakeAttempt) SelectAnswer(_ uuid.UUID, key string) error {
	f.calls = append(f.calls, "select:"+key)
	return nil
}
func (f *fakeAttempt) ClearAnswer(uuid.UUID) error { f.calls = append(f.calls, "clear"); return nil }
func (f *fakeAttempt) ToggleReview() error         { f.calls = append(f.calls, "mark"); return nil }
func (f *fakeAttempt) GoToQuestion(i int) error {
	f.calls = append(f.calls, "goto:"+string(rune('0'+i)))
	return nil
}
func (f *fakeAttempt) Next() error     { f.calls = append(f.calls, "next"); return nil }
func (f *fakeAttempt) Previous() error { f.calls = append(f.calls, "prev"); return nil }
func (f *fakeAttempt) RequestManualSubmit() (attempt.Summary, error) {
	f.calls = append(f.calls, "request_submit")
	return attempt.Summary{Total: f.view.Total}, nil
}
func (f *fakeAttempt) ConfirmManualSubmit(context.Context) error {
	f.calls = append(f.calls, "confirm_submit")
	return nil
}
func (f *fakeAttempt) RetrySubmit(context.Context) error {
	f.calls = append(f.calls, "retry")
	return nil
}

type fakeFeedback struct {
	confirming bool
	notices    []string
}

func (f *fakeFeedback) Confirm(attempt.Summary) { f.confirming = true }
func (f *fakeFeedback) CancelConfirm()          { f.confirming = false }
func (f *fakeFeedback) Confirming() bool        { return f.confirming }
func (f *fakeFeedback) Notice(msg string)       { f.notices = append(f.notices, msg) }

func newTestInput() (*Input, *recordedSignals, *fakeAttempt, *fakeFeedback, *bool) {
	sig := &recordedSignals{}
	a := &fakeAttempt{
		lifecycle: model.LifecycleInProgress,
		view: attempt.View{
			Total: 5,
			Question: model.Question{
				ID:      uuid.New(),
				Options: []model.Option{{Key: "A"}, {Key: "B"}, {Key: "C"}},
			},
		},
	}
	fb := &fakeFeedback{}
	quit := false
	blocklist := integrity.NewBlocklist(nil)
	blocked := func(combo string) bool { _, ok := blocklist.Match(combo); return ok }
	in := NewInput(sig, a, fb, blocked, func() { quit = true }, zerolog.Nop())
	in.async = func(fn func()) { fn() }
	return in, sig, a, fb, &quit
}

func TestInputRoutesIntegrityEvents(t *testing.T) {
	in, sig, a, _, _ := newTestInput()
	ctx := context.Background()

	in.Handle(ctx, Event{Kind: EventFocusOut})
	in.Handle(ctx, Event{Kind: EventFocusIn})
	in.Handle(ctx, Event{Kind: EventPaste, Text: "answer key"})
	in.Handle(ctx, Event{Kind: EventKey, Key: "Ctrl+C"})
	in.Handle(ctx, Event{Kind: EventKey, Key: "Ctrl+X"})
	in.Handle(ctx, Event{Kind: EventKey, Key: "F5"})
	in.Handle(ctx, Event{Kind: EventKey, Key: "Alt+Left"})

	assert.Equal(t, []string{"focus_loss", "paste", "copy", "cut", "key:F5", "key:Alt+Left"}, sig.got)
	assert.Empty(t, a.calls, "restricted keys never reach the controller")
}

func TestInputDrivesController(t *testing.T) {
	in, sig, a, fb, _ := newTestInput()
	ctx := context.Background()

	for _, ev := range []Event{
		{Kind: EventKey, Key: "Right"},
		{Kind: EventKey, Key: "Left"},
		{Kind: EventRune, Rune: 'b'},
		{Kind: EventRune, Rune: 'z'},
		{Kind: EventRune, Rune: ' '},
		{Kind: EventKey, Key: "Backspace"},
		{Kind: EventKey, Key: "Home"},
		{Kind: EventKey, Key: "End"},
	} {
		in.Handle(ctx, ev)
	}

	assert.Equal(t, []string{"next", "prev", "select:B", "mark", "clear", "goto:0", "goto:4"}, a.calls)
	assert.Empty(t, sig.got)
	assert.False(t, fb.confirming)
}

func TestInputSubmitNeedsConfirmation(t *testing.T) {
	in, _, a, fb, _ := newTestInput()
	ctx := context.Background()

	in.Handle(ctx, Event{Kind: EventKey, Key: "Enter"})
	assert.True(t, fb.confirming)

	in.Handle(ctx, Event{Kind: EventKey, Key: "Esc"})
	assert.False(t, fb.confirming)

	in.Handle(ctx, Event{Kind: EventKey, Key: "Enter"})
	in.Handle(ctx, Event{Kind: EventKey, Key: "Right"})
	in.Handle(ctx, Event{Kind: EventRune, Rune: 'y'})

	assert.Equal(t, []string{"request_submit", "request_submit", "confirm_submit"}, a.calls)
}

func TestInputAfterFinalize(t *testing.T) {
	in, sig, a, _, quit := newTestInput()
	ctx := context.Background()

	a.lifecycle = model.LifecycleFinalizing
	in.Handle(ctx, Event{Kind: EventKey, Key: "Right"})
	in.Handle(ctx, Event{Kind: EventRune, Rune: 'a'})
	in.Handle(ctx, Event{Kind: EventRune, Rune: 'r'})
	assert.Equal(t, []string{"retry"}, a.calls)

	a.lifecycle = model.LifecycleFinalized
	in.Handle(ctx, Event{Kind: EventRune, Rune: 'q'})
	assert.True(t, *quit)

	// Integrity events still go to the bus; the monitor drops them after finalize.
	in.Handle(ctx, Event{Kind: EventFocusOut})
	assert.Equal(t, []string{"focus_loss"}, sig.got)
}
