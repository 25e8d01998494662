package terminal

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/attempt"
	"github.com/stemsi/exstem-runtime/internal/integrity"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// Signals is the part of integrity.Bus the input loop feeds.
type Signals interface {
	OnFocusLoss()
	OnRestrictedKey(combo string)
	OnClipboardUse(kind integrity.Kind)
}

// Attempt is the part of attempt.Controller driven by keys.
type Attempt interface {
	View() attempt.View
	Lifecycle() model.Lifecycle
	SelectAnswer(qid uuid.UUID, key string) error
	ClearAnswer(qid uuid.UUID) error
	ToggleReview() error
	GoToQuestion(i int) error
	Next() error
	Previous() error
	RequestManualSubmit() (attempt.Summary, error)
	ConfirmManualSubmit(ctx context.Context) error
	RetrySubmit(ctx context.Context) error
}

// Feedback is the part of Screen the input loop updates.
type Feedback interface {
	Confirm(sum attempt.Summary)
	CancelConfirm()
	Confirming() bool
	Notice(msg string)
}

// clipboardKeys are the terminal spellings of copy, cut and paste.
var clipboardKeys = map[string]integrity.Kind{
	"Ctrl+C": integrity.KindCopy,
	"Ctrl+X": integrity.KindCut,
	"Ctrl+V": integrity.KindPaste,
}

// Input routes decoded events: integrity-relevant ones go to the signal bus,
// the rest drive the controller.
type Input struct {
	signals Signals
	attempt Attempt
	screen  Feedback
	blocked func(combo string) bool
	quit    func()
	log     zerolog.Logger

	// async runs blocking submit calls off the input goroutine.
	async func(fn func())
}

// NewInput wires an input router. blocked reports restricted combos; quit is
// called when the candidate leaves the finished attempt.
func NewInput(signals Signals, a Attempt, screen Feedback, blocked func(string) bool, quit func(), log zerolog.Logger) *Input {
	return &Input{
		signals: signals,
		attempt: a,
		screen:  screen,
		blocked: blocked,
		quit:    quit,
		log:     log.With().Str("component", "terminal_input").Logger(),
		async:   func(fn func()) { go fn() },
	}
}

// Handle processes one event.
func (in *Input) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventFocusOut:
		in.signals.OnFocusLoss()
	case EventPaste:
		// Pasted text is discarded.
		in.signals.OnClipboardUse(integrity.KindPaste)
	case EventKey:
		in.key(ctx, ev.Key)
	case EventRune:
		in.char(ctx, ev.Rune)
	}
}

func (in *Input) key(ctx context.Context, combo string) {
	if kind, ok := clipboardKeys[combo]; ok {
		in.signals.OnClipboardUse(kind)
		return
	}
	if in.blocked(combo) {
		in.signals.OnRestrictedKey(combo)
		return
	}

	switch in.attempt.Lifecycle() {
	case model.LifecycleFinalizing, model.LifecycleFinalized:
		return
	}

	if in.screen.Confirming() {
		if combo == "Esc" || combo == "Backspace" {
			in.screen.CancelConfirm()
		}
		return
	}

	var err error
	switch combo {
	case "Right", "Down", "PageDown", "Tab":
		err = in.attempt.Next()
	case "Left", "Up", "PageUp", "Shift+Tab":
		err = in.attempt.Previous()
	case "Home":
		err = in.attempt.GoToQuestion(0)
	case "End":
		err = in.attempt.GoToQuestion(in.attempt.View().Total - 1)
	case "Backspace", "Delete":
		err = in.attempt.ClearAnswer(in.attempt.View().Question.ID)
	case "Enter":
		sum, serr := in.attempt.RequestManualSubmit()
		if serr == nil {
			in.screen.Confirm(sum)
			return
		}
		err = serr
	default:
		return
	}
	in.after(err)
}

func (in *Input) char(ctx context.Context, r rune) {
	switch in.attempt.Lifecycle() {
	case model.LifecycleFinalizing:
		if r == 'r' || r == 'R' {
			in.async(func() {
				if err := in.attempt.RetrySubmit(ctx); err != nil && !errors.Is(err, attempt.ErrNotFinalizing) {
					in.log.Warn().Err(err).Msg("Retry submit failed")
				}
			})
		}
		return
	case model.LifecycleFinalized:
		if r == 'q' || r == 'Q' {
			in.quit()
		}
		return
	}

	if in.screen.Confirming() {
		if r == 'y' || r == 'Y' {
			in.async(func() {
				if err := in.attempt.ConfirmManualSubmit(ctx); err != nil && !errors.Is(err, attempt.ErrAlreadyFinalizing) {
					in.log.Warn().Err(err).Msg("Manual submit failed")
				}
			})
			return
		}
		in.screen.CancelConfirm()
		return
	}

	if r == ' ' {
		in.after(in.attempt.ToggleReview())
		return
	}

	view := in.attempt.View()
	key := string(unicode.ToUpper(r))
	for _, o := range view.Question.Options {
		if strings.EqualFold(o.Key, key) {
			in.after(in.attempt.SelectAnswer(view.Question.ID, o.Key))
			return
		}
	}
}

func (in *Input) after(err error) {
	switch {
	case err == nil:
		in.screen.Notice("")
	case errors.Is(err, attempt.ErrAttemptClosed):
		return
	default:
		in.screen.Notice(err.Error())
	}
}
