package mining

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pbnjay/memory"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

// samplePeriod is the telemetry sampling cadence. The ring capacity at this
// cadence bounds the longest answerable window.
const samplePeriod = 500 * time.Millisecond

// threadRunner is one launched search thread.
type threadRunner interface {
	run(wg *sync.WaitGroup)
	requestStop()
	counters() (hashes, stampMs uint64)
	lanes() int
}

// Pool owns the search threads for one mining session. Thread lifetime
// equals session lifetime; there is no respawning.
type Pool struct {
	logger  *zap.Logger
	bc      *Broadcaster
	telem   *Telemetry
	threads []threadRunner

	wg          sync.WaitGroup
	samplerDone chan struct{}
}

// StartThreads launches the configured search threads seeded with initial
// work (usually EmptyWork, so threads park until the first Publish).
func StartThreads(opts []ThreadOptions, policy cryptonight.MemoryPolicy,
	backend cryptonight.Backend, initial MinerWork, results chan<- JobResult,
	logger *zap.Logger) *Pool {

	n := len(opts)
	p := &Pool{
		logger:      logger,
		bc:          NewBroadcaster(n, initial),
		telem:       NewTelemetry(n),
		samplerDone: make(chan struct{}),
	}

	checkMemoryBudget(opts, logger)

	for i, o := range opts {
		o.ThreadNo = i
		o.ThreadCount = n

		var t threadRunner
		if o.DoubleMode {
			t = NewDoubleWorker(o, policy, p.bc, backend, results, initial, logger)
		} else {
			t = NewWorker(o, policy, p.bc, backend, results, initial, logger)
		}
		p.threads = append(p.threads, t)

		p.wg.Add(1)
		go t.run(&p.wg)

		kind := "single"
		if o.DoubleMode {
			kind = "double"
		}
		if o.Affinity >= 0 {
			logger.Info("Starting thread",
				zap.Int("thread", i),
				zap.String("mode", kind),
				zap.Int("affinity", o.Affinity),
			)
		} else {
			logger.Info("Starting thread, no affinity",
				zap.Int("thread", i),
				zap.String("mode", kind),
			)
		}
	}

	go p.sampleLoop()
	return p
}

// Publish hands a new job to every thread, blocking until the previous job
// was fully consumed.
func (p *Pool) Publish(w MinerWork) {
	p.bc.Publish(w)
}

// ThreadCount returns the number of launched threads.
func (p *Pool) ThreadCount() int {
	return len(p.threads)
}

// ThreadRate reports one thread's trailing hashrate over windowMs.
func (p *Pool) ThreadRate(thread int, windowMs uint64) (float64, bool) {
	return p.telem.Rate(thread, windowMs)
}

// Hashrate sums the per-thread trailing rates. The second return value is
// false until at least one thread has enough history.
func (p *Pool) Hashrate(windowMs uint64) (float64, bool) {
	var total float64
	any := false
	for i := range p.threads {
		if rate, ok := p.telem.Rate(i, windowMs); ok {
			total += rate
			any = true
		}
	}
	return total, any
}

// Stop requests every thread to quit and waits for them to reach a job
// boundary. Cancellation is cooperative: a thread mid-job only notices the
// request once the job number advances, which Stop forces.
func (p *Pool) Stop() {
	for _, t := range p.threads {
		t.requestStop()
	}
	p.bc.kick()
	p.wg.Wait()
	close(p.samplerDone)
}

func (p *Pool) sampleLoop() {
	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for i, t := range p.threads {
				hashes, stamp := t.counters()
				if stamp != 0 {
					p.telem.Record(i, hashes, stamp)
				}
			}
		case <-p.samplerDone:
			return
		}
	}
}

// checkMemoryBudget warns when the configured threads need more scratchpad
// memory than the machine has; the allocator will surface the hard failure.
func checkMemoryBudget(opts []ThreadOptions, logger *zap.Logger) {
	var lanes uint64
	for _, o := range opts {
		if o.DoubleMode {
			lanes += doubleLanes
		} else {
			lanes++
		}
	}
	need := lanes * cryptonight.ScratchpadSize

	total := memory.TotalMemory()
	if total > 0 && need > total {
		logger.Warn("Configured threads need more scratchpad memory than the system has",
			zap.String("required", humanize.IBytes(need)),
			zap.String("total", humanize.IBytes(total)),
		)
	}
}
