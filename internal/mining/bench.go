package mining

// NewBenchmarkWork builds a deterministic local job for the benchmark
// command and for smoke runs without a pool attached. The blob is a fixed
// 76-byte pattern; target tunes how often results fire.
func NewBenchmarkWork(target uint64) MinerWork {
	var w MinerWork
	copy(w.JobID[:], "temari-local-benchmark")
	w.BlobLen = 76
	for i := 0; i < w.BlobLen; i++ {
		w.Blob[i] = byte(i)
	}
	w.Target = target
	return w
}
