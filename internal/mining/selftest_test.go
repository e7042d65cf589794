package mining

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

func TestSelfTestPassesWithRealBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)
	backend := cryptonight.NewV0()

	threads := []ThreadOptions{{ThreadNo: 0, ThreadCount: 1, Affinity: -1}}
	if err := SelfTest(threads, cryptonight.NeverLock, backend, logger); err != nil {
		t.Fatalf("self-test failed: %v", err)
	}
}

func TestSelfTestIsIdempotent(t *testing.T) {
	logger := zaptest.NewLogger(t)
	backend := cryptonight.NewV0()
	threads := []ThreadOptions{{ThreadNo: 0, ThreadCount: 1, Affinity: -1}}

	for i := 0; i < 3; i++ {
		if err := SelfTest(threads, cryptonight.NeverLock, backend, logger); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestSelfTestRejectsBrokenBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	err := SelfTest(nil, cryptonight.NeverLock, &fakeBackend{aes: true, broken: true}, logger)
	if !errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("err = %v, want ErrBackendMismatch", err)
	}

	err = SelfTest(nil, cryptonight.NeverLock, &fakeBackend{broken: true}, logger)
	if !errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("software path err = %v, want ErrBackendMismatch", err)
	}
}

func TestSelfTestRejectsNoPrefetchWithoutLargePages(t *testing.T) {
	logger := zaptest.NewLogger(t)
	backend := cryptonight.NewV0()

	// never_lock yields ordinary pages, so a no_prefetch thread is a
	// configuration error.
	threads := []ThreadOptions{
		{ThreadNo: 0, ThreadCount: 2, Affinity: -1},
		{ThreadNo: 1, ThreadCount: 2, NoPrefetch: true, Affinity: -1},
	}
	err := SelfTest(threads, cryptonight.NeverLock, backend, logger)
	if err == nil {
		t.Fatal("expected a configuration error")
	}
	if errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("got a backend mismatch, want a config error: %v", err)
	}
}
