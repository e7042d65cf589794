package mining

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Temari/internal/cryptonight"
)

// ErrBackendMismatch means the hash backend produced a digest that does not
// match the reference vector. Mining must not proceed: wrong digests mean
// wrong proof-of-work, silently rejected by the pool at best.
var ErrBackendMismatch = errors.New("hash backend produced wrong output")

// selfTestInput and selfTestDigest are the canonical CryptoNight v0 vector.
var (
	selfTestInput  = []byte("This is a test")
	selfTestDigest = [cryptonight.DigestSize]byte{
		0xa0, 0x84, 0xf0, 0x1d, 0x14, 0x37, 0xa0, 0x9c,
		0x69, 0x85, 0x40, 0x1b, 0x60, 0xd4, 0x35, 0x54,
		0xae, 0x10, 0x58, 0x02, 0xc5, 0xf5, 0xd8, 0xa9,
		0xb3, 0x25, 0x36, 0x49, 0xc0, 0xbe, 0x66, 0x05,
	}
)

// selfTestContexts is how many contexts the self-test provisions, exercising
// the allocator the way a running thread set would.
const selfTestContexts = 5

// SelfTest validates the hash backend and the memory policy once before any
// search thread starts. It is idempotent; any error is fatal to startup.
func SelfTest(threads []ThreadOptions, policy cryptonight.MemoryPolicy,
	backend cryptonight.Backend, logger *zap.Logger) error {

	ctxs := make([]*cryptonight.Context, 0, selfTestContexts)
	defer func() {
		for _, ctx := range ctxs {
			cryptonight.Free(ctx)
		}
	}()

	for i := 0; i < selfTestContexts; i++ {
		ctx, err := cryptonight.Alloc(policy, logger)
		if err != nil {
			return fmt.Errorf("hash context allocation failed: %w", err)
		}
		ctxs = append(ctxs, ctx)
	}

	largePages := ctxs[0].LargePages && ctxs[1].LargePages
	for _, tc := range threads {
		if tc.NoPrefetch && !largePages {
			return fmt.Errorf("invalid config: thread %d requests no_prefetch but memory policy %s yields no large pages",
				tc.ThreadNo, policy)
		}
	}

	var out [cryptonight.DigestSize]byte

	if backend.HardwareAES() {
		backend.Digest(selfTestInput, out[:], ctxs[0])
		if out != selfTestDigest {
			return fmt.Errorf("%w: hardware single path", ErrBackendMismatch)
		}

		backend.DigestNoPrefetch(selfTestInput, out[:], ctxs[0])
		if out != selfTestDigest {
			return fmt.Errorf("%w: hardware no-prefetch path", ErrBackendMismatch)
		}

		// The batched path must agree with the single-lane path over
		// distinct lane inputs.
		var ref [doubleLanes * cryptonight.DigestSize]byte
		backend.DigestNoPrefetch([]byte("nada"), ref[:cryptonight.DigestSize], ctxs[0])
		backend.DigestNoPrefetch([]byte("nado"), ref[cryptonight.DigestSize:], ctxs[0])

		var batched [doubleLanes * cryptonight.DigestSize]byte
		backend.DoubleDigest([][]byte{[]byte("nada"), []byte("nado")}, batched[:], ctxs[:doubleLanes])
		if !bytes.Equal(batched[:], ref[:]) {
			return fmt.Errorf("%w: batched double path", ErrBackendMismatch)
		}
	} else {
		backend.DigestSoft(selfTestInput, out[:], ctxs[0])
		if out != selfTestDigest {
			return fmt.Errorf("%w: software fallback path", ErrBackendMismatch)
		}
	}

	logger.Info("Hash backend self-test passed",
		zap.Bool("hardware_aes", backend.HardwareAES()),
		zap.Bool("large_pages", largePages),
		zap.String("memory_policy", policy.String()),
	)
	return nil
}
