// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import (
	"fmt"

	"github.com/gogpu/vecrot/gpucore"
)

// ResultBuffer is a host-mappable device buffer that receives a copy of
// the storage array. It is transient: create one per readback and
// Release it afterwards, or let ReadBack manage it.
type ResultBuffer struct {
	adapter  gpucore.GPUAdapter
	id       gpucore.BufferID
	size     uint64
	released bool
}

// NewResultBuffer creates a result buffer large enough for elementCount
// entries.
func (e *Engine) NewResultBuffer(elementCount uint32) (*ResultBuffer, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if elementCount == 0 {
		return nil, fmt.Errorf("%w: result buffer of 0 entries", ErrInvalidCapacity)
	}
	size := uint64(elementCount) * StorageEntrySize
	id, err := e.adapter.CreateBuffer(&gpucore.BufferDesc{
		Label: e.label + " result",
		Size:  size,
		Usage: resultUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: result buffer: %w", ErrDeviceResource, err)
	}
	return &ResultBuffer{adapter: e.adapter, id: id, size: size}, nil
}

// Size returns the buffer size in bytes.
func (b *ResultBuffer) Size() uint64 { return b.size }

// Len returns the number of entries the buffer holds.
func (b *ResultBuffer) Len() uint32 { return uint32(b.size / StorageEntrySize) } //nolint:gosec // size derives from a uint32 count

// Release destroys the device buffer. It is safe to call more than once.
func (b *ResultBuffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	b.adapter.DestroyBuffer(b.id)
}
