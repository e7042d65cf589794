//go:build linux

package cryptonight

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocCtx maps one scratchpad. fastMem asks for huge pages, quietly falling
// back to ordinary pages with a recorded warning; lock pins the mapping and
// fails hard when the kernel refuses, leaving the degrade decision to the
// policy layer.
func allocCtx(fastMem, lock bool) (*Context, error) {
	if !fastMem && !lock {
		return &Context{Scratchpad: make([]byte, ScratchpadSize)}, nil
	}

	const prot = unix.PROT_READ | unix.PROT_WRITE
	const flags = unix.MAP_PRIVATE | unix.MAP_ANON

	ctx := &Context{mapped: true}

	if fastMem {
		mem, err := unix.Mmap(-1, 0, ScratchpadSize, prot, flags|unix.MAP_HUGETLB|unix.MAP_POPULATE)
		if err == nil {
			ctx.Scratchpad = mem
			ctx.LargePages = true
		} else {
			ctx.warning = "huge pages unavailable, using ordinary pages"
		}
	}

	if ctx.Scratchpad == nil {
		mem, err := unix.Mmap(-1, 0, ScratchpadSize, prot, flags)
		if err != nil {
			return nil, fmt.Errorf("mmap: %w", err)
		}
		ctx.Scratchpad = mem
	}

	if lock {
		if err := unix.Mlock(ctx.Scratchpad); err != nil {
			unix.Munmap(ctx.Scratchpad)
			return nil, fmt.Errorf("mlock: %w", err)
		}
		ctx.Locked = true
	}

	return ctx, nil
}

func freeCtx(ctx *Context) {
	if !ctx.mapped {
		ctx.Scratchpad = nil
		return
	}
	if ctx.Locked {
		unix.Munlock(ctx.Scratchpad)
	}
	unix.Munmap(ctx.Scratchpad)
	ctx.Scratchpad = nil
}
