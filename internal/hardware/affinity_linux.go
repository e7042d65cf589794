//go:build linux

package hardware

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinThread binds the calling OS thread to one logical CPU. The caller must
// already hold runtime.LockOSThread.
func PinThread(cpuIndex int) error {
	if cpuIndex < 0 || cpuIndex >= runtime.NumCPU() {
		return fmt.Errorf("cpu index %d out of range [0,%d)", cpuIndex, runtime.NumCPU())
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(cpuIndex)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity: %w", err)
	}
	return nil
}
