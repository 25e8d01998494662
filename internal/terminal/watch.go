package terminal

import (
	"context"
	"os"
	"os/signal"

	"github.com/stemsi/exstem-runtime/internal/integrity"
)

// Window is the part of integrity.Bus fed by OS signals.
type Window interface {
	OnFullscreenExit()
	OnNavigation(kind integrity.Kind)
}

// Resizer reports whether a resize left the required window size.
type Resizer interface {
	Resized() bool
}

// Watch turns OS signals into integrity signals until ctx is done. Every
// hangup or terminate is reported as a close attempt; the second one calls abandon.
func Watch(ctx context.Context, host Resizer, win Window, abandon func()) {
	resize := make(chan os.Signal, 1)
	if len(resizeSignals) > 0 {
		signal.Notify(resize, resizeSignals...)
		defer signal.Stop(resize)
	}
	closing := make(chan os.Signal, 2)
	signal.Notify(closing, closeSignals...)
	defer signal.Stop(closing)

	closes := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-resize:
			if host.Resized() {
				win.OnFullscreenExit()
			}
		case <-closing:
			closes++
			win.OnNavigation(integrity.KindClose)
			if closes > 1 {
				abandon()
				return
			}
		}
	}
}
