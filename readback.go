// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/vecrot/gpucore"
)

// errCallbackLost is returned by the poller when the device went idle
// without resolving the map request.
var errCallbackLost = errors.New("map callback never arrived")

// readbackChannel carries the single map callback of one readback from
// the polling goroutine to the caller. The first deliver or disconnect
// wins; anything after it is dropped.
type readbackChannel struct {
	ch   chan gpucore.MapStatus
	once sync.Once
}

func newReadbackChannel() *readbackChannel {
	return &readbackChannel{ch: make(chan gpucore.MapStatus, 1)}
}

// deliver is the MapAsync callback.
func (c *readbackChannel) deliver(s gpucore.MapStatus) {
	c.once.Do(func() {
		c.ch <- s
		close(c.ch)
	})
}

// disconnect closes the channel without a status. It reports whether the
// channel was still open.
func (c *readbackChannel) disconnect() (closed bool) {
	c.once.Do(func() {
		close(c.ch)
		closed = true
	})
	return closed
}

// wait blocks until the channel is delivered or disconnected. ok is false
// when it was disconnected.
func (c *readbackChannel) wait() (status gpucore.MapStatus, ok bool) {
	status, ok = <-c.ch
	return status, ok
}

// CopyOut copies the first elementCount storage entries into dst, maps
// dst and returns its decoded contents. dst is unmapped again before
// CopyOut returns.
//
// CopyOut is the one blocking operation of the engine: it waits, without
// timeout, until the device has executed every previously submitted write
// and dispatch and the mapping has resolved. A map request that fails or
// whose callback never arrives yields ErrReadbackFailed.
func (e *Engine) CopyOut(dst *ResultBuffer, elementCount uint32) ([]StorageEntry, error) {
	if e.closed {
		return nil, ErrClosed
	}
	start := time.Now()
	out, err := e.copyOut(dst, elementCount)
	elapsed := time.Since(start)
	if err != nil {
		e.log.Warn("vecrot: readback failed", "elements", elementCount, "err", err)
	} else {
		e.log.Debug("vecrot: readback done", "elements", elementCount, "elapsed", elapsed)
	}
	e.obs.ReadBack(elementCount, elapsed, err)
	return out, err
}

func (e *Engine) copyOut(dst *ResultBuffer, elementCount uint32) ([]StorageEntry, error) {
	// Validate before any device work.
	if uint64(elementCount) > e.capacity {
		return nil, fmt.Errorf("%w: copy of %d entries, capacity %d", ErrCapacityExceeded, elementCount, e.capacity)
	}
	n := uint64(elementCount) * StorageEntrySize
	switch {
	case dst == nil || dst.released:
		return nil, fmt.Errorf("%w: no result buffer", ErrSizeMismatch)
	case dst.adapter != e.adapter:
		return nil, fmt.Errorf("%w: result buffer belongs to another adapter", ErrDeviceResource)
	case dst.size < n:
		return nil, fmt.Errorf("%w: %d bytes requested, result buffer holds %d", ErrSizeMismatch, n, dst.size)
	}
	if elementCount == 0 {
		return []StorageEntry{}, nil
	}

	// Copy storage into dst behind all previously submitted work.
	enc, err := e.adapter.CreateCommandEncoder(e.label + " copy out")
	if err != nil {
		return nil, fmt.Errorf("%w: copy out: %w", ErrDeviceResource, err)
	}
	enc.CopyBufferToBuffer(e.storage, 0, dst.id, 0, n)
	cmd, err := enc.Finish()
	if err != nil {
		return nil, fmt.Errorf("%w: copy out: %w", ErrDeviceResource, err)
	}
	if err := e.adapter.Submit(cmd); err != nil {
		return nil, fmt.Errorf("%w: copy out: %w", ErrDeviceResource, err)
	}
	e.log.Debug("vecrot: copy submitted", "bytes", n)

	// Request the mapping.
	rc := newReadbackChannel()
	if err := e.adapter.MapAsync(dst.id, gputypes.MapModeRead, 0, n, rc.deliver); err != nil {
		return nil, fmt.Errorf("%w: map request: %w", ErrReadbackFailed, err)
	}

	// Wait for the callback while the device is polled.
	status, err := e.await(rc)
	if err != nil {
		e.unmap(dst)
		return nil, fmt.Errorf("%w: %w", ErrReadbackFailed, err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadbackFailed, err)
	}

	data, err := e.adapter.MappedRange(dst.id, 0, n)
	e.unmap(dst)
	if err != nil {
		return nil, fmt.Errorf("%w: mapped range: %w", ErrReadbackFailed, err)
	}
	return DecodeStorage(data), nil
}

// await polls the device on a separate goroutine until rc resolves. If the
// device reports no outstanding work while rc is still open, the callback
// was lost: rc is disconnected and errCallbackLost returned. The poller has
// exited when await returns.
func (e *Engine) await(rc *readbackChannel) (gpucore.MapStatus, error) {
	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			default:
			}
			// Callbacks fire inside Poll, so once the device is idle
			// the outcome is final.
			if e.adapter.Poll(true) {
				if rc.disconnect() {
					return errCallbackLost
				}
				return nil
			}
		}
	})

	status, ok := rc.wait()
	close(done)
	if err := g.Wait(); err != nil {
		return status, err
	}
	if !ok {
		return status, errCallbackLost
	}
	return status, nil
}

func (e *Engine) unmap(dst *ResultBuffer) {
	if err := e.adapter.Unmap(dst.id); err != nil {
		e.log.Debug("vecrot: unmap result buffer", "err", err)
	}
}

// ReadBack copies out the first elementCount entries through a transient
// result buffer that is released before ReadBack returns.
func (e *Engine) ReadBack(elementCount uint32) ([]StorageEntry, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if uint64(elementCount) > e.capacity {
		return nil, fmt.Errorf("%w: copy of %d entries, capacity %d", ErrCapacityExceeded, elementCount, e.capacity)
	}
	if elementCount == 0 {
		return []StorageEntry{}, nil
	}
	dst, err := e.NewResultBuffer(elementCount)
	if err != nil {
		return nil, err
	}
	defer dst.Release()
	return e.CopyOut(dst, elementCount)
}
