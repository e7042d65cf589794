package mining

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

// doubleLanes is the lane count of the batched hash primitive.
const doubleLanes = 2

// DoubleWorker runs the two-lane batched search loop. It keeps one work-blob
// copy and one hash context per lane, advances a shared nonce cursor by the
// lane count each round, and checks every lane's digest independently.
type DoubleWorker struct {
	opts    ThreadOptions
	policy  cryptonight.MemoryPolicy
	backend cryptonight.Backend
	bc      *Broadcaster
	results chan<- JobResult
	logger  *zap.Logger

	work  MinerWork
	jobNo uint64

	blobs [doubleLanes][MaxBlobSize]byte
	views [doubleLanes][]byte

	hashCount atomic.Uint64
	timestamp atomic.Uint64

	quit atomic.Bool
}

// NewDoubleWorker creates a two-lane worker seeded with the initial job.
func NewDoubleWorker(opts ThreadOptions, policy cryptonight.MemoryPolicy, bc *Broadcaster,
	backend cryptonight.Backend, results chan<- JobResult, initial MinerWork,
	logger *zap.Logger) *DoubleWorker {

	return &DoubleWorker{
		opts:    opts,
		policy:  policy,
		backend: backend,
		bc:      bc,
		results: results,
		work:    initial,
		logger:  logger.With(zap.Int("thread", opts.ThreadNo)),
	}
}

func (w *DoubleWorker) requestStop() {
	w.quit.Store(true)
}

func (w *DoubleWorker) counters() (hashes, stampMs uint64) {
	return w.hashCount.Load(), w.timestamp.Load()
}

func (w *DoubleWorker) lanes() int { return doubleLanes }

// syncLanes refreshes every lane's blob copy from the private job. Must run
// after every consume so no lane keeps searching a stale buffer.
func (w *DoubleWorker) syncLanes() {
	for i := 0; i < doubleLanes; i++ {
		copy(w.blobs[i][:], w.work.Blob[:])
		w.views[i] = w.blobs[i][:w.work.BlobLen]
	}
}

func (w *DoubleWorker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pinThread(w.opts.Affinity, w.logger)

	var ctxs [doubleLanes]*cryptonight.Context
	for i := range ctxs {
		ctx, err := cryptonight.Alloc(w.policy, w.logger)
		if err != nil {
			w.logger.Error("Hash context allocation failed, thread exiting", zap.Error(err))
			for j := 0; j < i; j++ {
				cryptonight.Free(ctxs[j])
			}
			w.bc.deregister()
			return
		}
		ctxs[i] = ctx
	}
	defer func() {
		for _, ctx := range ctxs {
			cryptonight.Free(ctx)
		}
	}()

	var out [doubleLanes * cryptonight.DigestSize]byte
	var count uint64

	w.bc.register()
	w.syncLanes()

	for !w.quit.Load() {
		if w.work.Stall {
			for w.bc.JobNo() == w.jobNo {
				if w.quit.Load() {
					return
				}
				time.Sleep(stallPoll)
			}
			w.jobNo = w.bc.consume(&w.work)
			w.syncLanes()
			continue
		}

		nonce := w.startNonce()
		res := JobResult{JobID: w.work.JobID, PoolID: w.work.PoolID}

		for w.bc.JobNo() == w.jobNo {
			if count&0x7 == 0 {
				w.hashCount.Store(count)
				w.timestamp.Store(uint64(time.Now().UnixMilli()))
			}
			count += doubleLanes

			for i := 0; i < doubleLanes; i++ {
				nonce++
				binary.LittleEndian.PutUint32(w.blobs[i][NonceOffset:], nonce)
			}

			w.backend.DoubleDigest(w.views[:], out[:], ctxs[:])

			for i := 0; i < doubleLanes; i++ {
				lane := out[i*cryptonight.DigestSize : (i+1)*cryptonight.DigestSize]
				if binary.LittleEndian.Uint64(lane[hashValOffset:]) < w.work.Target {
					r := res
					r.Nonce = laneNonce(nonce, doubleLanes, i)
					copy(r.Digest[:], lane)
					w.results <- r
				}
			}

			runtime.Gosched()
		}

		w.jobNo = w.bc.consume(&w.work)
		w.syncLanes()
	}
}

// startNonce mirrors the single-hash derivation, reading the pool-reserved
// byte from lane 0's buffer in nicehash mode.
func (w *DoubleWorker) startNonce() uint32 {
	if w.work.NiceHash {
		cur := binary.LittleEndian.Uint32(w.blobs[0][NonceOffset:])
		return nicehashNonce(cur, w.opts.ThreadNo, w.opts.ThreadCount, w.work.Resume)
	}
	return plainNonce(w.opts.ThreadNo, w.opts.ThreadCount, w.work.Resume)
}

// laneNonce recovers the nonce a lane hashed from the shared cursor value
// after a round: lane i of L holds cursor-(L-i-1).
func laneNonce(cursor uint32, lanes, lane int) uint32 {
	return cursor - uint32(lanes-lane-1)
}
