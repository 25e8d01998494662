//go:build windows

package terminal

import (
	"os"
	"syscall"
)

var resizeSignals []os.Signal

var closeSignals = []os.Signal{syscall.SIGTERM}
