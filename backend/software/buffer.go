// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vecrot/gpucore"
)

// Alignment rules shared with WebGPU.
const (
	copyAlignment     uint64 = 4
	mapOffsetAlign    uint64 = 8
	mapSizeAlignment  uint64 = 4
	mapReadCompatible        = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

// buffer is host memory standing in for a device buffer.
//
// Lifecycle:
//  1. Created Unmapped
//  2. MapAsync moves it to Pending and queues a map operation
//  3. The map operation, executed by Poll, moves it to Mapped
//  4. Unmap returns it to Unmapped
//  5. Destroy marks it destroyed; a pending map resolves as
//     DestroyedBeforeCallback
type buffer struct {
	label string
	size  uint64
	usage gputypes.BufferUsage
	data  []byte

	mapState  gpucore.MapState
	mapOffset uint64
	mapSize   uint64

	// mapGen advances on every Unmap so a queued map operation can tell
	// that its request was canceled.
	mapGen uint64

	destroyed bool
}

// CreateBuffer allocates a zeroed buffer.
func (a *Adapter) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	if desc.Usage == 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: %q has no usage", ErrInvalidUsage, desc.Label)
	}
	if desc.Usage.Contains(gputypes.BufferUsageMapRead) && desc.Usage&^mapReadCompatible != 0 {
		return gpucore.InvalidID, fmt.Errorf("%w: %q: MapRead may only be combined with CopyDst", ErrInvalidUsage, desc.Label)
	}
	if desc.Size > a.limits.MaxBufferSize {
		return gpucore.InvalidID, fmt.Errorf("%w: %q is %d bytes, limit %d", ErrBufferTooLarge, desc.Label, desc.Size, a.limits.MaxBufferSize)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = &buffer{
		label: desc.Label,
		size:  desc.Size,
		usage: desc.Usage,
		data:  make([]byte, desc.Size),
	}
	a.log().Debug("software: buffer created", "label", desc.Label, "size", desc.Size)
	return id, nil
}

// DestroyBuffer releases a buffer.
func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[id]
	if !ok {
		return
	}
	b.destroyed = true
	b.data = nil
	delete(a.buffers, id)
	a.released()
}

// BufferSize returns the buffer size, or 0 if id is unknown.
func (a *Adapter) BufferSize(id gpucore.BufferID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buffers[id]; ok {
		return b.size
	}
	return 0
}

// WriteBuffer validates the write and queues it. The bytes are copied
// immediately, so data may be reused once WriteBuffer returns.
func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	b, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	if !b.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: %q lacks CopyDst", ErrUsageMismatch, b.label)
	}
	if b.mapState != gpucore.MapStateUnmapped {
		return fmt.Errorf("%w: %q", ErrBufferBusy, b.label)
	}
	n := uint64(len(data))
	if offset%copyAlignment != 0 || n%copyAlignment != 0 {
		return fmt.Errorf("%w: write offset %d size %d", ErrUnaligned, offset, n)
	}
	if offset > b.size || n > b.size-offset {
		return fmt.Errorf("%w: write [%d, %d) into %q of %d bytes", ErrOutOfRange, offset, offset+n, b.label, b.size)
	}
	if n == 0 {
		return nil
	}
	a.queue = append(a.queue, op{
		kind:   opWrite,
		buf:    b,
		offset: offset,
		data:   append([]byte(nil), data...),
	})
	a.stats.Writes++
	return nil
}

// MapAsync validates the request, moves the buffer to Pending and queues
// the map operation behind all previously queued work.
func (a *Adapter) MapAsync(id gpucore.BufferID, mode gputypes.MapMode, offset, size uint64, callback func(gpucore.MapStatus)) error {
	if callback == nil {
		return ErrCallbackNil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	b, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	if b.mapState != gpucore.MapStateUnmapped {
		return fmt.Errorf("%w: %q is %s", ErrBufferAlreadyMapped, b.label, b.mapState)
	}
	switch mode {
	case gputypes.MapModeRead:
		if !b.usage.Contains(gputypes.BufferUsageMapRead) {
			return fmt.Errorf("%w: %q lacks MapRead", ErrUsageMismatch, b.label)
		}
	case gputypes.MapModeWrite:
		if !b.usage.Contains(gputypes.BufferUsageMapWrite) {
			return fmt.Errorf("%w: %q lacks MapWrite", ErrUsageMismatch, b.label)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMapMode, mode)
	}
	if offset%mapOffsetAlign != 0 || size%mapSizeAlignment != 0 {
		return fmt.Errorf("%w: map offset %d size %d", ErrUnaligned, offset, size)
	}
	if offset > b.size || size > b.size-offset {
		return fmt.Errorf("%w: map [%d, %d) of %q (%d bytes)", ErrOutOfRange, offset, offset+size, b.label, b.size)
	}
	if a.fault == FaultMapRejected {
		return fmt.Errorf("%w: map request for %q rejected", ErrInjected, b.label)
	}

	b.mapState = gpucore.MapStatePending
	b.mapOffset = offset
	b.mapSize = size
	a.queue = append(a.queue, op{
		kind:     opMap,
		buf:      b,
		mapGen:   b.mapGen,
		callback: callback,
	})
	a.stats.MapRequests++
	return nil
}

// MappedRange returns a copy of [offset, offset+size) of a mapped buffer.
// The range must lie within the mapped window.
func (a *Adapter) MappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	if b.mapState != gpucore.MapStateMapped {
		return nil, fmt.Errorf("%w: %q is %s", ErrBufferNotMapped, b.label, b.mapState)
	}
	if offset%mapOffsetAlign != 0 || size%mapSizeAlignment != 0 {
		return nil, fmt.Errorf("%w: range offset %d size %d", ErrUnaligned, offset, size)
	}
	if offset < b.mapOffset || offset+size > b.mapOffset+b.mapSize {
		return nil, fmt.Errorf("%w: range [%d, %d) outside mapping [%d, %d)",
			ErrOutOfRange, offset, offset+size, b.mapOffset, b.mapOffset+b.mapSize)
	}
	return append([]byte(nil), b.data[offset:offset+size]...), nil
}

// Unmap releases a mapping, or cancels a pending one.
func (a *Adapter) Unmap(id gpucore.BufferID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	if b.mapState == gpucore.MapStateUnmapped {
		return fmt.Errorf("%w: %q", ErrBufferNotMapped, b.label)
	}
	b.mapState = gpucore.MapStateUnmapped
	b.mapOffset, b.mapSize = 0, 0
	b.mapGen++
	return nil
}

// MapState reports the mapping state of a buffer, or MapStateUnmapped if
// id is unknown.
func (a *Adapter) MapState(id gpucore.BufferID) gpucore.MapState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buffers[id]; ok {
		return b.mapState
	}
	return gpucore.MapStateUnmapped
}
