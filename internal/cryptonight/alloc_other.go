//go:build !linux

package cryptonight

import (
	"fmt"
	"runtime"
)

// allocCtx on platforms without the huge-page/mlock shim provisions ordinary
// memory. Lock requests fail so the policy layer can degrade or abort.
func allocCtx(fastMem, lock bool) (*Context, error) {
	if lock {
		return nil, fmt.Errorf("memory locking is not supported on %s", runtime.GOOS)
	}
	ctx := &Context{Scratchpad: make([]byte, ScratchpadSize)}
	if fastMem {
		ctx.warning = "huge pages are not supported on " + runtime.GOOS
	}
	return ctx, nil
}

func freeCtx(ctx *Context) {
	ctx.Scratchpad = nil
}
