package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stemsi/exstem-runtime/internal/attempt"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// Source is the read side of a controller the screen renders from.
type Source interface {
	Title() string
	View() attempt.View
	Statuses() []model.QuestionStatus
}

const (
	clearScreen = "\x1b[H\x1b[2J"
	reset       = "\x1b[0m"
	bold        = "\x1b[1m"
	inverse     = "\x1b[7m"
)

var statusColors = map[model.QuestionStatus]string{
	model.StatusNotVisited:     "\x1b[37m",
	model.StatusNotAnswered:    "\x1b[31m",
	model.StatusAnswered:       "\x1b[32m",
	model.StatusMarked:         "\x1b[35m",
	model.StatusAnsweredMarked: "\x1b[1;35m",
}

var statusLabels = []struct {
	status model.QuestionStatus
	label  string
}{
	{model.StatusAnswered, "answered"},
	{model.StatusNotAnswered, "not answered"},
	{model.StatusNotVisited, "not visited"},
	{model.StatusMarked, "marked"},
	{model.StatusAnsweredMarked, "answered & marked"},
}

// Screen renders the attempt and every policy notice. It implements
// attempt.Observer and integrity.Presenter; callbacks arrive from several goroutines.
type Screen struct {
	mu  sync.Mutex
	out io.Writer
	src Source

	warning     string
	warnCount   int
	termination string
	notice      string
	confirm     *attempt.Summary
	finalizing  model.FinalizeReason
	submitErr   error
	result      *model.AttemptResult
	done        bool
}

// NewScreen creates a screen writing ANSI frames to out.
func NewScreen(out io.Writer) *Screen {
	return &Screen{out: out}
}

// Attach sets the controller to render and draws the first frame.
func (s *Screen) Attach(src Source) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
	s.Refresh()
}

// Refresh redraws the current frame.
func (s *Screen) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawLocked()
}

// ─── attempt.Observer ─────────────────────────────────────────────────

func (s *Screen) OnTick(int) { s.Refresh() }

func (s *Screen) OnFinalizing(reason model.FinalizeReason) {
	s.update(func() {
		s.finalizing = reason
		s.confirm = nil
	})
}

func (s *Screen) OnFinalized(attempt.Outcome) {
	s.update(func() {
		s.done = true
		s.submitErr = nil
	})
}

func (s *Screen) OnSubmitFailed(err error) {
	s.update(func() { s.submitErr = err })
}

// ─── integrity.Presenter ──────────────────────────────────────────────

func (s *Screen) ShowWarning(message string, count int) {
	s.update(func() {
		s.warning = message
		s.warnCount = count
	})
}

func (s *Screen) DismissWarning() {
	s.update(func() { s.warning = "" })
}

func (s *Screen) ShowTermination(message string, count int) {
	s.update(func() {
		s.warning = ""
		s.termination = message
		s.warnCount = count
	})
}

// ─── Input feedback ───────────────────────────────────────────────────

// Confirm shows the submit confirmation with the status counts.
func (s *Screen) Confirm(sum attempt.Summary) {
	s.update(func() { s.confirm = &sum })
}

// CancelConfirm hides the submit confirmation.
func (s *Screen) CancelConfirm() {
	s.update(func() { s.confirm = nil })
}

// Confirming reports whether the submit confirmation is showing.
func (s *Screen) Confirming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirm != nil
}

// Notice shows a one-line message until the next notice.
func (s *Screen) Notice(msg string) {
	s.update(func() { s.notice = msg })
}

// ShowResult renders the graded breakdown.
func (s *Screen) ShowResult(res *model.AttemptResult) {
	s.update(func() { s.result = res })
}

func (s *Screen) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.drawLocked()
}

func (s *Screen) drawLocked() {
	if s.src == nil {
		return
	}
	f := frame{
		Title:       s.src.Title(),
		View:        s.src.View(),
		Statuses:    s.src.Statuses(),
		Warning:     s.warning,
		WarnCount:   s.warnCount,
		Termination: s.termination,
		Notice:      s.notice,
		Confirm:     s.confirm,
		Finalizing:  s.finalizing,
		SubmitErr:   s.submitErr,
		Result:      s.result,
		Done:        s.done,
	}
	var b strings.Builder
	render(&b, f)
	_, _ = io.WriteString(s.out, b.String())
}

// frame is everything one redraw needs.
type frame struct {
	Title       string
	View        attempt.View
	Statuses    []model.QuestionStatus
	Warning     string
	WarnCount   int
	Termination string
	Notice      string
	Confirm     *attempt.Summary
	Finalizing  model.FinalizeReason
	SubmitErr   error
	Result      *model.AttemptResult
	Done        bool
}

// render writes a full frame. Raw mode needs explicit carriage returns.
func render(w *strings.Builder, f frame) {
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(w, format, args...)
		w.WriteString("\r\n")
	}

	w.WriteString(clearScreen)
	line("%s%s%s    time left %s%s%s", bold, f.Title, reset, bold, FormatClock(f.View.Remaining), reset)
	line("")

	switch {
	case f.Termination != "":
		line("%s %s %s", inverse, f.Termination, reset)
		line("violations recorded: %d", f.WarnCount)
		line("")
	case f.Warning != "":
		line("%s WARNING %s %s", inverse, reset, f.Warning)
		line("")
	}

	if f.Finalizing != "" || f.Done {
		renderFinal(line, f)
		return
	}

	q := f.View.Question
	line("Question %d of %d  [%s]", f.View.Index+1, f.View.Total, f.View.Status)
	line("")
	line("%s", q.Statement)
	line("")
	for _, o := range q.Options {
		marker := "( )"
		if o.Key == f.View.Selected {
			marker = "(*)"
		}
		line("  %s %s. %s", marker, o.Key, o.Text)
	}
	if f.View.Marked {
		line("")
		line("  marked for review")
	}
	line("")
	renderPalette(w, f.View.Index, f.Statuses)
	line("")

	if f.Confirm != nil {
		line("Submit now? %d answered, %d not answered, %d not visited, %d marked.",
			f.Confirm.Answered+f.Confirm.AnsweredMarked, f.Confirm.NotAnswered, f.Confirm.NotVisited,
			f.Confirm.Marked+f.Confirm.AnsweredMarked)
		line("Press y to submit, Esc to go back.")
		return
	}
	if f.Notice != "" {
		line("%s", f.Notice)
	}
	line("option key select   space mark   backspace clear   ←/→ move   enter submit")
}

func renderFinal(line func(string, ...interface{}), f frame) {
	switch {
	case f.Result != nil:
		r := f.Result
		line("Exam finished (%s).", r.FinishReason)
		line("Score %.2f of %.2f", r.Score, r.MaxScore)
		line("Correct %d   wrong %d   unanswered %d   violations %d", r.Correct, r.Wrong, r.Unanswered, r.ViolationCount)
		line("")
		line("Press q to leave.")
	case f.Done:
		line("Exam submitted (%s). Waiting for the result...", f.Finalizing)
		if f.Notice != "" {
			line("%s", f.Notice)
			line("Press q to leave.")
		}
	case f.SubmitErr != nil:
		line("Submitting failed: %v", f.SubmitErr)
		line("Your answers are kept. Press r to retry.")
	default:
		line("Submitting your exam (%s)...", f.Finalizing)
	}
}

func renderPalette(w *strings.Builder, current int, statuses []model.QuestionStatus) {
	for i, st := range statuses {
		cell := fmt.Sprintf("%s%3d%s", statusColors[st], i+1, reset)
		if i == current {
			cell = fmt.Sprintf("%s%s%3d%s", inverse, statusColors[st], i+1, reset)
		}
		w.WriteString(cell)
		if (i+1)%10 == 0 {
			w.WriteString("\r\n")
		}
	}
	if len(statuses)%10 != 0 {
		w.WriteString("\r\n")
	}
	for _, l := range statusLabels {
		fmt.Fprintf(w, "%s■%s %s  ", statusColors[l.status], reset, l.label)
	}
	w.WriteString("\r\n")
}

// FormatClock renders seconds as MM:SS, or H:MM:SS from one hour up.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, sec := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
