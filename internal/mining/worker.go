package mining

import (
	"encoding/binary"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
	"github.com/shizukutanaka/Temari/internal/hardware"
)

// stallPoll bounds the parked wait while no job is available.
const stallPoll = 100 * time.Millisecond

// ThreadOptions configures one search thread.
type ThreadOptions struct {
	// ThreadNo and ThreadCount are filled in by StartThreads.
	ThreadNo    int
	ThreadCount int

	// DoubleMode runs the two-lane batched loop instead of the single loop.
	DoubleMode bool

	// NoPrefetch selects the hardware hash path without scratchpad
	// prefetching. Requires large-page backed memory.
	NoPrefetch bool

	// Affinity is the logical CPU to pin the thread to, -1 for none.
	Affinity int
}

// Worker runs one single-hash search thread. It owns its OS thread for the
// whole mining session, mutates only its private work copy and its own
// counters, and emits qualifying results on the shared channel.
type Worker struct {
	opts    ThreadOptions
	policy  cryptonight.MemoryPolicy
	backend cryptonight.Backend
	bc      *Broadcaster
	results chan<- JobResult
	logger  *zap.Logger

	work  MinerWork
	jobNo uint64

	// Exposed to the telemetry sampler; relaxed freshness is fine, staleness
	// is bounded by the 8-iteration store cadence.
	hashCount atomic.Uint64
	timestamp atomic.Uint64

	quit atomic.Bool
}

// NewWorker creates a single-hash worker seeded with the initial job.
func NewWorker(opts ThreadOptions, policy cryptonight.MemoryPolicy, bc *Broadcaster,
	backend cryptonight.Backend, results chan<- JobResult, initial MinerWork,
	logger *zap.Logger) *Worker {

	return &Worker{
		opts:    opts,
		policy:  policy,
		backend: backend,
		bc:      bc,
		results: results,
		work:    initial,
		logger:  logger.With(zap.Int("thread", opts.ThreadNo)),
	}
}

func (w *Worker) requestStop() {
	w.quit.Store(true)
}

func (w *Worker) counters() (hashes, stampMs uint64) {
	return w.hashCount.Load(), w.timestamp.Load()
}

func (w *Worker) lanes() int { return 1 }

func (w *Worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinThread(w.opts.Affinity, w.logger)

	ctx, err := cryptonight.Alloc(w.policy, w.logger)
	if err != nil {
		// Self-test already validated the allocator, so this is not an
		// expected runtime state. The thread terminates rather than mining
		// without scratch memory.
		w.logger.Error("Hash context allocation failed, thread exiting", zap.Error(err))
		w.bc.deregister()
		return
	}
	defer cryptonight.Free(ctx)

	digest := w.backend.DigestSoft
	if w.backend.HardwareAES() {
		if w.opts.NoPrefetch {
			digest = w.backend.DigestNoPrefetch
		} else {
			digest = w.backend.Digest
		}
	}

	var out [cryptonight.DigestSize]byte
	var count uint64

	w.bc.register()

	for !w.quit.Load() {
		if w.work.Stall {
			// The producer has no job for us yet, so park until the job
			// number advances instead of burning CPU.
			for w.bc.JobNo() == w.jobNo {
				if w.quit.Load() {
					return
				}
				time.Sleep(stallPoll)
			}
			w.jobNo = w.bc.consume(&w.work)
			continue
		}

		nonce := w.startNonce()
		res := JobResult{JobID: w.work.JobID, PoolID: w.work.PoolID}

		for w.bc.JobNo() == w.jobNo {
			if count&0x7 == 0 { // amortize the timestamp syscall over 8 hashes
				w.hashCount.Store(count)
				w.timestamp.Store(uint64(time.Now().UnixMilli()))
			}
			count++
			nonce++
			binary.LittleEndian.PutUint32(w.work.Blob[NonceOffset:], nonce)

			digest(w.work.Blob[:w.work.BlobLen], out[:], ctx)

			if binary.LittleEndian.Uint64(out[hashValOffset:]) < w.work.Target {
				res.Nonce = nonce
				res.Digest = out
				w.results <- res
			}

			runtime.Gosched()
		}

		w.jobNo = w.bc.consume(&w.work)
	}
}

// startNonce derives the first nonce for the current job.
func (w *Worker) startNonce() uint32 {
	if w.work.NiceHash {
		cur := binary.LittleEndian.Uint32(w.work.Blob[NonceOffset:])
		return nicehashNonce(cur, w.opts.ThreadNo, w.opts.ThreadCount, w.work.Resume)
	}
	return plainNonce(w.opts.ThreadNo, w.opts.ThreadCount, w.work.Resume)
}

// plainNonce spreads thread/resume pairs across the nonce space by bit
// reversal, keeping concurrent threads and reconnect resumes in disjoint
// regions without coordination.
func plainNonce(threadNo, threadCount int, resume uint32) uint32 {
	return bits.Reverse32(uint32(threadNo) + uint32(threadCount)*resume)
}

// nicehashNonce keeps the pool-reserved top byte of the current nonce and
// packs the bit-reversed spread into the remaining 24 bits.
func nicehashNonce(cur uint32, threadNo, threadCount int, resume uint32) uint32 {
	return (cur & 0xff000000) | (plainNonce(threadNo, threadCount, resume) >> 8)
}

// pinThread applies best-effort affinity; failure is advisory on some
// platforms and never stops the thread.
func pinThread(cpuIndex int, logger *zap.Logger) {
	if cpuIndex < 0 {
		return
	}
	if err := hardware.PinThread(cpuIndex); err != nil {
		logger.Warn("Thread affinity not applied",
			zap.Int("cpu", cpuIndex),
			zap.Error(err),
		)
	}
}
