//go:build windows

package transport

import "os"

var interruptSignal os.Signal = os.Kill
