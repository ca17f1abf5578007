//go:build !windows

package transport

import (
	"os"
	"syscall"
)

var interruptSignal os.Signal = syscall.SIGTERM
