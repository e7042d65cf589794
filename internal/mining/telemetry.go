package mining

import (
	"sync"
	"time"
)

const (
	// bucketSize must be a power of two. At the 500 ms sampling cadence the
	// ring holds roughly 34 minutes of history, comfortably covering the
	// longest reporting window.
	bucketSize = 4096
	bucketMask = bucketSize - 1
)

// sample pairs a cumulative hash count with the millisecond timestamp it was
// taken at. A zero timestamp marks a slot that was never written.
type sample struct {
	hashes  uint64
	stampMs uint64
}

// Telemetry keeps one bounded trailing window of hash counter samples per
// thread. Wraparound overwrites the oldest sample; the ring is a window, not
// a log.
type Telemetry struct {
	mu    sync.Mutex
	rings [][]sample
	top   []uint32
}

// NewTelemetry allocates rings for the given thread count.
func NewTelemetry(threads int) *Telemetry {
	t := &Telemetry{
		rings: make([][]sample, threads),
		top:   make([]uint32, threads),
	}
	for i := range t.rings {
		t.rings[i] = make([]sample, bucketSize)
	}
	return t
}

// Record appends one sample for the given thread at the current write
// cursor.
func (t *Telemetry) Record(thread int, hashes, stampMs uint64) {
	t.mu.Lock()
	top := t.top[thread]
	t.rings[thread][top] = sample{hashes: hashes, stampMs: stampMs}
	t.top[thread] = (top + 1) & bucketMask
	t.mu.Unlock()
}

// Rate reports the trailing hashrate of a thread over windowMs. The second
// return value is false when the ring does not yet span the requested
// window, or when the covered samples are too close in time to divide.
func (t *Telemetry) Rate(thread int, windowMs uint64) (float64, bool) {
	return t.rateAt(thread, windowMs, uint64(time.Now().UnixMilli()))
}

func (t *Telemetry) rateAt(thread int, windowMs, nowMs uint64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var earliest, latest sample
	haveFullSet := false

	// Start at 1: the cursor points at the next empty slot.
	for i := uint32(1); i < bucketSize; i++ {
		idx := (t.top[thread] - i) & bucketMask // unsigned wrap intended
		s := t.rings[thread][idx]

		if s.stampMs == 0 {
			break // no data that far back yet
		}
		if latest.stampMs == 0 {
			latest = s
		}
		if nowMs-s.stampMs > windowMs {
			haveFullSet = true
			break // walked out of the requested window
		}
		earliest = s
	}

	if !haveFullSet || earliest.stampMs == 0 || latest.stampMs == 0 {
		return 0, false
	}
	if latest.stampMs == earliest.stampMs {
		return 0, false
	}

	hashes := float64(latest.hashes - earliest.hashes)
	secs := float64(latest.stampMs-earliest.stampMs) / 1000.0
	return hashes / secs, true
}
