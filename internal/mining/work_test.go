package mining

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmptyWorkIsStalled(t *testing.T) {
	if !EmptyWork().Stall {
		t.Error("EmptyWork must be stalled")
	}
}

func TestPublishThenConsumeYieldsExactJob(t *testing.T) {
	bc := NewBroadcaster(1, EmptyWork())
	bc.pollEvery = time.Millisecond
	bc.register()

	want := taggedWork(0x5a)
	bc.Publish(want)

	var got MinerWork
	no := bc.consume(&got)

	require.Equal(t, uint64(1), no, "job number after first publish")
	require.Equal(t, want, got, "consume must yield exactly the published job")
}

// TestHandoffExclusivity stresses the protocol with several consumer
// threads: no consume may ever observe a snapshot mixing two published jobs,
// and every consumer must see every job exactly once, in order.
func TestHandoffExclusivity(t *testing.T) {
	const (
		consumers = 4
		jobs      = 30
	)

	bc := NewBroadcaster(consumers, EmptyWork())
	bc.pollEvery = time.Millisecond

	var wg sync.WaitGroup
	seen := make([][]byte, consumers)

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			var w MinerWork
			var local uint64
			bc.register()
			for local < jobs {
				if bc.JobNo() == local {
					runtime.Gosched()
					continue
				}
				local = bc.consume(&w)

				// Coherence: every byte of the snapshot carries one tag.
				tag := w.JobID[0]
				for _, b := range w.JobID {
					if b != tag {
						t.Errorf("consumer %d: torn job id", c)
						return
					}
				}
				for _, b := range w.Blob[:w.BlobLen] {
					if b != tag {
						t.Errorf("consumer %d: blob does not match job id", c)
						return
					}
				}
				seen[c] = append(seen[c], tag)
			}
		}(c)
	}

	for j := 1; j <= jobs; j++ {
		bc.Publish(taggedWork(byte(j)))
	}
	wg.Wait()

	for c := 0; c < consumers; c++ {
		require.Len(t, seen[c], jobs, "consumer %d must see every job", c)
		for j := 0; j < jobs; j++ {
			require.Equal(t, byte(j+1), seen[c][j],
				"consumer %d: job order at position %d", c, j)
		}
	}
}

func TestPublishWaitsForAllConsumers(t *testing.T) {
	bc := NewBroadcaster(2, EmptyWork())
	bc.pollEvery = time.Millisecond
	bc.register()
	// Second thread has not registered yet.

	published := make(chan struct{})
	go func() {
		bc.Publish(taggedWork(1))
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("Publish returned before every thread consumed the prior job")
	case <-time.After(50 * time.Millisecond):
	}

	bc.register()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish did not return after full consumption")
	}
}

func TestDeregisterUnblocksPublish(t *testing.T) {
	bc := NewBroadcaster(2, EmptyWork())
	bc.pollEvery = time.Millisecond
	bc.register()
	bc.deregister() // a thread died at startup

	done := make(chan struct{})
	go func() {
		bc.Publish(taggedWork(1))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a deregistered thread")
	}
}

func TestJobNumberStrictlyIncreases(t *testing.T) {
	bc := NewBroadcaster(1, EmptyWork())
	bc.pollEvery = time.Millisecond
	bc.register()

	var w MinerWork
	for j := 1; j <= 5; j++ {
		bc.Publish(taggedWork(byte(j)))
		no := bc.consume(&w)
		require.Equal(t, uint64(j), no)
	}
}
