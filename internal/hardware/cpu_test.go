package hardware

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	caps := Detect()

	if caps.Threads != runtime.NumCPU() {
		t.Errorf("Threads = %d, want %d", caps.Threads, runtime.NumCPU())
	}
	if caps.PhysicalCores < 0 {
		t.Errorf("PhysicalCores = %d, want >= 0", caps.PhysicalCores)
	}
}

func TestPinThreadRejectsBadIndex(t *testing.T) {
	if err := PinThread(-1); err == nil && runtime.GOOS == "linux" {
		t.Error("expected error for negative cpu index")
	}
	if err := PinThread(1 << 20); err == nil {
		t.Error("expected error for out-of-range cpu index")
	}
}
