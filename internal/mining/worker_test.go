package mining

import (
	"math/bits"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

// waitUntil polls cond until it reports true or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlainNonceDisjoint(t *testing.T) {
	seen := map[uint32]bool{}
	for resume := uint32(0); resume < 3; resume++ {
		for thread := 0; thread < 4; thread++ {
			n := plainNonce(thread, 4, resume)
			if seen[n] {
				t.Fatalf("start nonce %#x reused by thread %d resume %d", n, thread, resume)
			}
			seen[n] = true
		}
	}
}

func TestPlainNonceBitReversed(t *testing.T) {
	if got, want := plainNonce(0, 4, 0), uint32(0); got != want {
		t.Errorf("plainNonce(0,4,0) = %#x, want %#x", got, want)
	}
	if got, want := plainNonce(1, 4, 0), bits.Reverse32(1); got != want {
		t.Errorf("plainNonce(1,4,0) = %#x, want %#x", got, want)
	}
	if got, want := plainNonce(1, 4, 2), bits.Reverse32(9); got != want {
		t.Errorf("plainNonce(1,4,2) = %#x, want %#x", got, want)
	}
}

func TestNiceHashNonceKeepsTopByte(t *testing.T) {
	cur := uint32(0xab123456)
	got := nicehashNonce(cur, 3, 4, 1)
	if got>>24 != 0xab {
		t.Fatalf("top byte = %#x, want 0xab", got>>24)
	}
	if want := plainNonce(3, 4, 1) >> 8; got&0x00ffffff != want {
		t.Errorf("spread bits = %#x, want %#x", got&0x00ffffff, want)
	}
}

func startSingleWorker(t *testing.T, initial MinerWork) (*Worker, *Broadcaster, *resultCollector, func()) {
	t.Helper()

	bc := NewBroadcaster(1, initial)
	results := make(chan JobResult, 64)
	collector := collectResults(results)

	opts := ThreadOptions{ThreadNo: 0, ThreadCount: 1, Affinity: -1}
	w := NewWorker(opts, cryptonight.NeverLock, bc, &fakeBackend{aes: true}, results, initial,
		zaptest.NewLogger(t))

	var wg sync.WaitGroup
	wg.Add(1)
	go w.run(&wg)

	stop := func() {
		w.requestStop()
		bc.kick()
		wg.Wait()
		collector.stop()
	}
	return w, bc, collector, stop
}

func TestWorkerEmitsVerifiedResults(t *testing.T) {
	job := taggedWork(0x11) // all-ones target, every digest qualifies
	_, _, collector, stop := startSingleWorker(t, job)

	waitUntil(t, "results", func() bool { return collector.len() >= 16 })
	stop()

	prev := plainNonce(0, 1, 0)
	for _, res := range collector.snapshot()[:16] {
		require.Equal(t, job.JobID, res.JobID)
		require.Equal(t, prev+1, res.Nonce, "nonces must advance by one")
		require.Equal(t, expectedDigest(job, res.Nonce), res.Digest)
		prev = res.Nonce
	}
}

func TestWorkerParksOnStallAndRecovers(t *testing.T) {
	_, bc, collector, stop := startSingleWorker(t, EmptyWork())
	defer stop()

	// Parked on the empty placeholder: no results may appear.
	time.Sleep(250 * time.Millisecond)
	require.Zero(t, collector.len(), "a stalled worker must not search")

	job := taggedWork(0x22)
	bc.Publish(job)

	waitUntil(t, "results after publish", func() bool { return collector.len() >= 4 })
	for _, res := range collector.snapshot()[:4] {
		require.Equal(t, job.JobID, res.JobID)
		require.Equal(t, expectedDigest(job, res.Nonce), res.Digest)
	}
}

func TestWorkerSwitchesToPublishedJob(t *testing.T) {
	first := taggedWork(0x33)
	_, bc, collector, stop := startSingleWorker(t, first)
	defer stop()

	waitUntil(t, "results on first job", func() bool { return collector.len() >= 4 })

	second := taggedWork(0x44)
	bc.Publish(second)

	waitUntil(t, "results on second job", func() bool {
		snap := collector.snapshot()
		return len(snap) > 0 && snap[len(snap)-1].JobID == second.JobID
	})

	// Every result after the switch belongs to the second job and verifies
	// against its blob.
	snap := collector.snapshot()
	switched := false
	for _, res := range snap {
		if res.JobID == second.JobID {
			switched = true
			require.Equal(t, expectedDigest(second, res.Nonce), res.Digest)
		} else {
			require.False(t, switched, "no first-job result may follow a second-job result")
			require.Equal(t, expectedDigest(first, res.Nonce), res.Digest)
		}
	}
}

func TestWorkerCountersAdvance(t *testing.T) {
	w, _, collector, stop := startSingleWorker(t, taggedWork(0x55))
	defer stop()

	waitUntil(t, "hash counter", func() bool {
		hashes, stamp := w.counters()
		return hashes > 8 && stamp > 0
	})
	_ = collector
	require.Equal(t, 1, w.lanes())
}
