//go:build !windows

package terminal

import (
	"os"
	"syscall"
)

// resizeSignals are delivered when the window changes size.
var resizeSignals = []os.Signal{syscall.SIGWINCH}

// closeSignals mean the terminal or session is going away.
var closeSignals = []os.Signal{syscall.SIGHUP, syscall.SIGTERM}
