// Package mining implements the CPU search threads: the shared-work handoff
// protocol, the single- and double-hash worker loops, the hashrate telemetry
// and the startup self-test.
package mining

import (
	"sync/atomic"
	"time"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

const (
	// MaxBlobSize is the largest work blob a pool may hand us.
	MaxBlobSize = 112

	// JobIDSize is the fixed size of the opaque pool job identifier.
	JobIDSize = 64

	// NonceOffset is the byte offset of the nonce field inside the work blob.
	NonceOffset = 39

	// hashValOffset is where the qualifying word starts inside a digest: the
	// high-order 8 bytes, read little-endian and compared against the target.
	hashValOffset = 24
)

// MinerWork is one unit of search work. Instances are value-copied, never
// shared by reference across threads; each worker owns a private copy it
// refreshes on handoff.
type MinerWork struct {
	JobID   [JobIDSize]byte
	Blob    [MaxBlobSize]byte
	BlobLen int

	// Target is the qualifying-digest upper bound.
	Target uint64

	PoolID int

	// NiceHash reserves the nonce's top byte for the pool.
	NiceHash bool

	// Stall marks that no job is currently available; workers park instead
	// of searching.
	Stall bool

	// Resume is the restart offset after a reconnect, keeping nonce ranges
	// disjoint across sessions.
	Resume uint32
}

// EmptyWork returns the stalled placeholder installed before the first real
// job arrives.
func EmptyWork() MinerWork {
	return MinerWork{Stall: true}
}

// JobResult is a nonce whose digest satisfied the target. Immutable once
// constructed; consumed by the submission side.
type JobResult struct {
	JobID  [JobIDSize]byte
	Nonce  uint32
	Digest [cryptonight.DigestSize]byte
	PoolID int
}

// publishPoll bounds the producer-side wait. A pool cannot physically send
// jobs faster than a network round trip, so a coarse wait here buys a
// branch-only check on the hash path.
const publishPoll = 100 * time.Millisecond

// Broadcaster owns the process-wide current job and the handoff protocol
// between the job producer and the search threads. The job snapshot is
// published as an immutable pointer swap; the consumed count guarantees the
// producer never overwrites work a thread has not yet copied.
type Broadcaster struct {
	work     atomic.Pointer[MinerWork]
	jobNo    atomic.Uint64
	consumed atomic.Uint64
	threads  atomic.Uint64

	pollEvery time.Duration
}

// NewBroadcaster creates the shared job cell for the given thread count,
// primed with initial (usually EmptyWork).
func NewBroadcaster(threads int, initial MinerWork) *Broadcaster {
	b := &Broadcaster{
		pollEvery: publishPoll,
	}
	b.threads.Store(uint64(threads))
	b.work.Store(&initial)
	return b
}

// Publish blocks until every thread has consumed the previous job, then
// installs w as the global job, resets the consumed count and advances the
// job number. Only one producer may call Publish.
func (b *Broadcaster) Publish(w MinerWork) {
	for b.consumed.Load() < b.threads.Load() {
		time.Sleep(b.pollEvery)
	}

	snap := w
	b.work.Store(&snap)
	b.consumed.Store(0)
	b.jobNo.Add(1)
}

// JobNo returns the global job number. Workers compare it against their
// local number on every hash iteration.
func (b *Broadcaster) JobNo() uint64 {
	return b.jobNo.Load()
}

// register marks one thread as having picked up the job it was seeded with,
// so the first Publish waits until every thread is up.
func (b *Broadcaster) register() {
	b.consumed.Add(1)
}

// deregister removes a thread that exited fatally from the handoff protocol
// so Publish does not wait on it forever.
func (b *Broadcaster) deregister() {
	b.threads.Add(^uint64(0))
}

// kick advances the job number without publishing new work, forcing every
// inner loop to a job boundary. Used only during shutdown.
func (b *Broadcaster) kick() {
	b.jobNo.Add(1)
}

// consume copies the current global job into the worker's private slot and
// returns the job number the copy belongs to. Reading the number before the
// snapshot means an interleaved Publish can only make the copy newer than
// the number, which the worker resolves by consuming again.
func (b *Broadcaster) consume(into *MinerWork) uint64 {
	no := b.jobNo.Load()
	*into = *b.work.Load()
	b.consumed.Add(1)
	return no
}
