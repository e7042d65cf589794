package mining

import (
	"crypto/sha256"
	"sync"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

// fakeBackend is a cheap deterministic stand-in for the CryptoNight digest,
// fast enough for stress tests. aes steers which paths the code under test
// exercises; broken makes every digest wrong for mismatch tests.
type fakeBackend struct {
	aes    bool
	broken bool
}

func (f *fakeBackend) sum(blob, out []byte) {
	digest := sha256.Sum256(blob)
	if f.broken {
		digest[0] ^= 0xff
	}
	copy(out, digest[:])
}

func (f *fakeBackend) Digest(blob, out []byte, _ *cryptonight.Context)           { f.sum(blob, out) }
func (f *fakeBackend) DigestNoPrefetch(blob, out []byte, _ *cryptonight.Context) { f.sum(blob, out) }
func (f *fakeBackend) DigestSoft(blob, out []byte, _ *cryptonight.Context)       { f.sum(blob, out) }

func (f *fakeBackend) DoubleDigest(blobs [][]byte, out []byte, _ []*cryptonight.Context) {
	for i, blob := range blobs {
		f.sum(blob, out[i*cryptonight.DigestSize:(i+1)*cryptonight.DigestSize])
	}
}

func (f *fakeBackend) HardwareAES() bool { return f.aes }

// expectedDigest recomputes what the fake backend hashed for a given job and
// nonce, letting tests verify lane attribution end to end.
func expectedDigest(w MinerWork, nonce uint32) [cryptonight.DigestSize]byte {
	blob := make([]byte, w.BlobLen)
	copy(blob, w.Blob[:w.BlobLen])
	blob[NonceOffset] = byte(nonce)
	blob[NonceOffset+1] = byte(nonce >> 8)
	blob[NonceOffset+2] = byte(nonce >> 16)
	blob[NonceOffset+3] = byte(nonce >> 24)
	return sha256.Sum256(blob)
}

// taggedWork builds a job whose identifier and blob carry one repeated tag
// byte, so a torn snapshot is detectable by inspection.
func taggedWork(tag byte) MinerWork {
	var w MinerWork
	for i := range w.JobID {
		w.JobID[i] = tag
	}
	w.BlobLen = 76
	for i := 0; i < w.BlobLen; i++ {
		w.Blob[i] = tag
	}
	w.Target = ^uint64(0)
	return w
}

// resultCollector drains a result channel so workers never block on send.
type resultCollector struct {
	mu      sync.Mutex
	results []JobResult
	done    chan struct{}
}

func collectResults(ch <-chan JobResult) *resultCollector {
	c := &resultCollector{done: make(chan struct{})}
	go func() {
		for {
			select {
			case r := <-ch:
				c.mu.Lock()
				c.results = append(c.results, r)
				c.mu.Unlock()
			case <-c.done:
				return
			}
		}
	}()
	return c
}

func (c *resultCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func (c *resultCollector) snapshot() []JobResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]JobResult, len(c.results))
	copy(out, c.results)
	return out
}

func (c *resultCollector) stop() {
	close(c.done)
}
