// Package cryptonight exposes the CryptoNight digest capability and the
// per-thread scratchpad provisioner consumed by the mining loops.
package cryptonight

import (
	"github.com/klauspost/cpuid/v2"
	cn "ekyu.moe/cryptonight"
)

const (
	// DigestSize is the size of one CryptoNight digest.
	DigestSize = 32

	// ScratchpadSize is the CryptoNight v0 working-set size.
	ScratchpadSize = 2 * 1024 * 1024
)

// Backend computes CryptoNight digests. The worker loops treat it as an
// opaque capability: given a work blob and a per-thread Context, produce a
// fixed-size digest. Implementations must be safe for concurrent use as long
// as no Context is shared between threads.
type Backend interface {
	// Digest computes the hardware-accelerated digest of blob into out.
	Digest(blob, out []byte, ctx *Context)

	// DigestNoPrefetch is the hardware path without scratchpad prefetching.
	// Only meaningful on large-page backed contexts.
	DigestNoPrefetch(blob, out []byte, ctx *Context)

	// DigestSoft is the software fallback for CPUs without AES support.
	DigestSoft(blob, out []byte, ctx *Context)

	// DoubleDigest computes one digest per lane in a single batched call,
	// writing DigestSize bytes per lane into out.
	DoubleDigest(blobs [][]byte, out []byte, ctxs []*Context)

	// HardwareAES reports whether the hardware-accelerated paths are usable.
	HardwareAES() bool
}

// V0 is the default CryptoNight v0 backend. The digest core comes from
// ekyu.moe/cryptonight, which selects AES-NI assembly at runtime. The Context
// argument carries the scratchpad memory policy for the native paths and the
// large-page probe consumed by the startup self-test.
type V0 struct {
	hasAES bool
}

// NewV0 creates the default backend, probing CPU capabilities once.
func NewV0() *V0 {
	return &V0{hasAES: cpuid.CPU.Supports(cpuid.AESNI)}
}

func (b *V0) Digest(blob, out []byte, _ *Context) {
	copy(out, cn.Sum(blob, 0))
}

func (b *V0) DigestNoPrefetch(blob, out []byte, _ *Context) {
	copy(out, cn.Sum(blob, 0))
}

func (b *V0) DigestSoft(blob, out []byte, _ *Context) {
	copy(out, cn.Sum(blob, 0))
}

func (b *V0) DoubleDigest(blobs [][]byte, out []byte, _ []*Context) {
	for i, blob := range blobs {
		copy(out[i*DigestSize:(i+1)*DigestSize], cn.Sum(blob, 0))
	}
}

func (b *V0) HardwareAES() bool {
	return b.hasAES
}
