package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	enterAltScreen = "\x1b[?1049h"
	leaveAltScreen = "\x1b[?1049l"
	focusOn        = "\x1b[?1004h"
	focusOff       = "\x1b[?1004l"
	pasteOn        = "\x1b[?2004h"
	pasteOff       = "\x1b[?2004l"
	hideCursor     = "\x1b[?25l"
	showCursor     = "\x1b[?25h"
)

// ErrNotTerminal is returned when stdin is not an interactive terminal.
var ErrNotTerminal = errors.New("input is not a terminal")

// MinSize is the smallest window the exam is rendered in. Shrinking below it
// is the terminal's equivalent of leaving fullscreen.
type MinSize struct {
	Cols int
	Rows int
}

// Host owns the terminal for the duration of an attempt. It implements integrity.Host.
type Host struct {
	in  *os.File
	out io.Writer
	min MinSize

	mu        sync.Mutex
	state     *term.State
	compliant bool
	closed    bool
}

// Open puts in into raw mode and enables focus reporting, bracketed paste and
// the alternate screen.
func Open(in *os.File, out io.Writer, size MinSize) (*Host, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("enter raw mode: %w", err)
	}

	h := &Host{in: in, out: out, min: size, state: state}
	h.enable()
	h.compliant = h.fits()
	return h, nil
}

// RequestFullscreen re-enters the alternate screen and re-arms input modes.
// It fails while the window is still smaller than MinSize.
func (h *Host) RequestFullscreen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.enable()
	h.compliant = h.fits()
	if !h.compliant {
		return fmt.Errorf("terminal must be at least %dx%d", h.min.Cols, h.min.Rows)
	}
	return nil
}

// Resized re-checks the window size and reports whether it just dropped below MinSize.
func (h *Host) Resized() (left bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fits := h.fits()
	left = h.compliant && !fits
	h.compliant = fits
	return left
}

// Close restores the terminal. It is safe to call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	_, _ = io.WriteString(h.out, pasteOff+focusOff+showCursor+leaveAltScreen)
	return term.Restore(int(h.in.Fd()), h.state)
}

// escWait is how long a lone ESC may wait for the rest of a sequence.
const escWait = 50 * time.Millisecond

// ReadEvents decodes input until ctx is done or the read fails. The blocking
// read cannot be interrupted, so the reader may outlive ctx by one keypress.
func (h *Host) ReadEvents(ctx context.Context) <-chan Event {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, 256)
		for {
			n, err := h.in.Read(buf)
			if n > 0 {
				select {
				case chunks <- append([]byte(nil), buf[:n]...):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	events := make(chan Event, 16)
	go decodeLoop(ctx, chunks, events, escWait)
	return events
}

// decodeLoop decodes chunks into events and closes events when done.
func decodeLoop(ctx context.Context, chunks <-chan []byte, events chan<- Event, wait time.Duration) {
	defer close(events)
	var dec Decoder
	escTimer := time.NewTimer(wait)
	escTimer.Stop()
	defer escTimer.Stop()

	emit := func(evs []Event) bool {
		for _, ev := range evs {
			select {
			case events <- ev:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				emit(dec.Flush())
				return
			}
			if !emit(dec.Feed(chunk)) {
				return
			}
			if dec.Pending() {
				escTimer.Reset(wait)
			}
		case <-escTimer.C:
			if !emit(dec.Flush()) {
				return
			}
		}
	}
}

func (h *Host) enable() {
	_, _ = io.WriteString(h.out, enterAltScreen+hideCursor+focusOn+pasteOn)
}

func (h *Host) fits() bool {
	cols, rows, err := term.GetSize(int(h.in.Fd()))
	if err != nil {
		return true
	}
	return cols >= h.min.Cols && rows >= h.min.Rows
}
