package cryptonight

import (
	"fmt"

	"go.uber.org/zap"
)

// MemoryPolicy controls how scratchpad memory is provisioned.
type MemoryPolicy int

const (
	// NeverLock provisions ordinary pageable memory.
	NeverLock MemoryPolicy = iota

	// NoLockIfUnavailable provisions large-page memory without locking it.
	// Allocation failure is fatal to the caller.
	NoLockIfUnavailable

	// WarnOnLockFailure tries locked large-page memory and degrades to an
	// ordinary allocation with a warning when the lock attempt fails.
	WarnOnLockFailure

	// AlwaysLock requires locked memory. Allocation failure is fatal to the
	// caller.
	AlwaysLock
)

// ParseMemoryPolicy maps the config string to a MemoryPolicy.
func ParseMemoryPolicy(s string) (MemoryPolicy, error) {
	switch s {
	case "never_lock":
		return NeverLock, nil
	case "no_lock_if_unavailable":
		return NoLockIfUnavailable, nil
	case "warn_on_lock_failure":
		return WarnOnLockFailure, nil
	case "always_lock":
		return AlwaysLock, nil
	default:
		return 0, fmt.Errorf("unknown memory policy %q", s)
	}
}

func (p MemoryPolicy) String() string {
	switch p {
	case NeverLock:
		return "never_lock"
	case NoLockIfUnavailable:
		return "no_lock_if_unavailable"
	case WarnOnLockFailure:
		return "warn_on_lock_failure"
	case AlwaysLock:
		return "always_lock"
	default:
		return fmt.Sprintf("memory_policy(%d)", int(p))
	}
}

// Context is one thread's opaque scratch state. A context is allocated once
// at thread start, freed at thread exit, and never shared across threads.
type Context struct {
	// Scratchpad is the 2 MiB working set backing the native hash paths.
	Scratchpad []byte

	// LargePages reports whether the scratchpad is backed by huge pages.
	// The startup self-test uses this to reject no_prefetch configurations
	// on slow memory.
	LargePages bool

	// Locked reports whether the scratchpad is pinned in physical memory.
	Locked bool

	mapped  bool
	warning string
}

// Alloc provisions one hash context under the configured memory policy.
// Failure is fatal to the caller except under WarnOnLockFailure, which
// degrades to an unlocked allocation.
func Alloc(policy MemoryPolicy, logger *zap.Logger) (*Context, error) {
	switch policy {
	case NeverLock:
		return allocCtx(false, false)

	case NoLockIfUnavailable:
		ctx, err := allocCtx(true, false)
		if err != nil {
			return nil, fmt.Errorf("memory alloc failed: %w", err)
		}
		logWarning(logger, ctx)
		return ctx, nil

	case WarnOnLockFailure:
		ctx, err := allocCtx(true, true)
		if err != nil {
			logger.Warn("Locked memory allocation failed, falling back to unlocked memory",
				zap.Error(err))
			return allocCtx(false, false)
		}
		logWarning(logger, ctx)
		return ctx, nil

	case AlwaysLock:
		ctx, err := allocCtx(true, true)
		if err != nil {
			return nil, fmt.Errorf("memory alloc failed: %w", err)
		}
		logWarning(logger, ctx)
		return ctx, nil
	}

	return nil, fmt.Errorf("unknown memory policy %d", int(policy))
}

// Free releases a context's scratchpad. The context must not be used again.
func Free(ctx *Context) {
	if ctx == nil || ctx.Scratchpad == nil {
		return
	}
	freeCtx(ctx)
}

func logWarning(logger *zap.Logger, ctx *Context) {
	if ctx.warning != "" {
		logger.Warn("Scratchpad allocation degraded", zap.String("reason", ctx.warning))
	}
}
