// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"sync"

	"github.com/gogpu/vecrot/kernel"
)

type kernelKey struct {
	source     string
	entryPoint string
}

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[kernelKey]kernel.Invocation)
)

// RegisterKernel registers the host implementation of entryPoint in the
// WGSL module source. Pipelines created from any other module or entry
// point fail with ErrUnsupportedKernel.
func RegisterKernel(source, entryPoint string, fn kernel.Invocation) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[kernelKey{source, entryPoint}] = fn
}

func lookupKernel(source, entryPoint string) kernel.Invocation {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	return kernels[kernelKey{source, entryPoint}]
}
