//go:build !linux

package hardware

import (
	"fmt"
	"runtime"
)

// PinThread is advisory only on platforms without an affinity syscall; the
// error lets callers log a warning and continue unpinned.
func PinThread(cpuIndex int) error {
	return fmt.Errorf("thread affinity is not supported on %s", runtime.GOOS)
}
