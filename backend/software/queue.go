// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"

	"github.com/gogpu/vecrot/gpucore"
	"github.com/gogpu/vecrot/kernel"
)

type opKind int

const (
	opWrite opKind = iota
	opSubmit
	opMap
)

// op is one unit of queued device work. Ops execute strictly in the
// order they were queued.
type op struct {
	kind opKind

	// opWrite
	buf    *buffer
	offset uint64
	data   []byte

	// opSubmit
	cmds *commandBuffer

	// opMap
	mapGen   uint64
	callback func(gpucore.MapStatus)
}

// pendingCallback is a map callback collected under the lock and fired
// after it is released.
type pendingCallback struct {
	fn     func(gpucore.MapStatus)
	status gpucore.MapStatus
}

// Submit validates and queues command buffers. Nothing executes until Poll.
func (a *Adapter) Submit(cmds ...gpucore.CommandBuffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	bufs := make([]*commandBuffer, 0, len(cmds))
	for i, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb == nil || cb.owner != a {
			return fmt.Errorf("submit: command buffer %d: %w", i, ErrForeignCommandBuffer)
		}
		if cb.submitted {
			return fmt.Errorf("submit: command buffer %d %q: %w", i, cb.label, ErrCommandBufferConsumed)
		}
		if err := a.validateSubmitLocked(cb); err != nil {
			return fmt.Errorf("submit: command buffer %d %q: %w", i, cb.label, err)
		}
		bufs = append(bufs, cb)
	}
	for _, cb := range bufs {
		cb.submitted = true
		a.queue = append(a.queue, op{kind: opSubmit, cmds: cb})
		a.stats.Submissions++
	}
	return nil
}

// validateSubmitLocked rejects command buffers that reference destroyed or
// mapped buffers.
func (a *Adapter) validateSubmitLocked(cb *commandBuffer) error {
	check := func(id gpucore.BufferID) error {
		b, ok := a.buffers[id]
		if !ok {
			return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
		}
		if b.mapState != gpucore.MapStateUnmapped {
			return fmt.Errorf("%w: %q", ErrBufferBusy, b.label)
		}
		return nil
	}
	for _, c := range cb.commands {
		if c.copy {
			if err := check(c.src); err != nil {
				return err
			}
			if err := check(c.dst); err != nil {
				return err
			}
			continue
		}
		for _, g := range c.bindGroups {
			bg, ok := a.bindGroups[g]
			if !ok {
				return fmt.Errorf("%w: bind group %d", ErrResourceNotFound, g)
			}
			for _, e := range bg.entries {
				if err := check(e.Buffer); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Poll executes queued work. Without wait a single operation is executed,
// with wait the whole queue is drained. Map callbacks fire before Poll
// returns, on the calling goroutine.
func (a *Adapter) Poll(wait bool) bool {
	a.mu.Lock()
	n := len(a.queue)
	if !wait && n > 1 {
		n = 1
	}
	batch := a.queue[:n:n]
	a.queue = a.queue[n:]

	var callbacks []pendingCallback
	for i := range batch {
		if cb, ok := a.executeLocked(&batch[i]); ok {
			callbacks = append(callbacks, cb)
		}
	}
	idle := len(a.queue) == 0
	a.mu.Unlock()

	// Call callbacks outside lock to avoid deadlock
	for _, cb := range callbacks {
		cb.fn(cb.status)
	}
	return idle
}

// executeLocked runs one op. It returns the map callback to fire, if any.
func (a *Adapter) executeLocked(o *op) (pendingCallback, bool) {
	switch o.kind {
	case opWrite:
		if o.buf.destroyed {
			a.raiseLocked(fmt.Errorf("software: write into destroyed buffer %q", o.buf.label))
			return pendingCallback{}, false
		}
		copy(o.buf.data[o.offset:], o.data)
	case opSubmit:
		if err := a.runLocked(o.cmds); err != nil {
			a.raiseLocked(fmt.Errorf("software: command buffer %q: %w", o.cmds.label, err))
		}
	case opMap:
		return a.resolveMapLocked(o)
	}
	return pendingCallback{}, false
}

func (a *Adapter) resolveMapLocked(o *op) (pendingCallback, bool) {
	b := o.buf
	switch {
	case b.destroyed:
		return pendingCallback{o.callback, gpucore.MapStatusDestroyedBeforeCallback}, true
	case b.mapGen != o.mapGen || b.mapState != gpucore.MapStatePending:
		return pendingCallback{o.callback, gpucore.MapStatusUnmappedBeforeCallback}, true
	}
	switch a.fault {
	case FaultDeviceLost:
		b.mapState = gpucore.MapStateUnmapped
		return pendingCallback{o.callback, gpucore.MapStatusDeviceLost}, true
	case FaultLostCallback:
		b.mapState = gpucore.MapStateUnmapped
		a.log().Debug("software: dropping map callback", "buffer", b.label)
		return pendingCallback{}, false
	}
	b.mapState = gpucore.MapStateMapped
	return pendingCallback{o.callback, gpucore.MapStatusSuccess}, true
}

func (a *Adapter) raiseLocked(err error) {
	a.log().Warn("software: device error", "err", err)
	if a.deviceErr == nil {
		a.deviceErr = err
	}
}

// runLocked executes the commands of a submitted command buffer.
func (a *Adapter) runLocked(cb *commandBuffer) error {
	for i := range cb.commands {
		c := &cb.commands[i]
		if c.copy {
			if err := a.copyLocked(c); err != nil {
				return err
			}
			continue
		}
		if err := a.dispatchLocked(c); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) copyLocked(c *command) error {
	src, ok := a.buffers[c.src]
	if !ok {
		return fmt.Errorf("%w: copy source %d", ErrResourceNotFound, c.src)
	}
	dst, ok := a.buffers[c.dst]
	if !ok {
		return fmt.Errorf("%w: copy destination %d", ErrResourceNotFound, c.dst)
	}
	copy(dst.data[c.dstOffset:c.dstOffset+c.size], src.data[c.srcOffset:c.srcOffset+c.size])
	return nil
}

func (a *Adapter) dispatchLocked(c *command) error {
	p, ok := a.pipelines[c.pipeline]
	if !ok {
		return fmt.Errorf("%w: pipeline %d", ErrResourceNotFound, c.pipeline)
	}
	bindings := make(kernel.Bindings)
	for _, g := range c.bindGroups {
		bg, ok := a.bindGroups[g]
		if !ok {
			return fmt.Errorf("%w: bind group %d", ErrResourceNotFound, g)
		}
		for _, e := range bg.entries {
			b, ok := a.buffers[e.Buffer]
			if !ok {
				return fmt.Errorf("%w: bound buffer %d", ErrResourceNotFound, e.Buffer)
			}
			size := e.Size
			if size == 0 {
				size = b.size - e.Offset
			}
			bindings[e.Binding] = b.data[e.Offset : e.Offset+size]
		}
	}

	wg := p.workgroup
	for gz := uint32(0); gz < c.groups[2]; gz++ {
		for gy := uint32(0); gy < c.groups[1]; gy++ {
			for gx := uint32(0); gx < c.groups[0]; gx++ {
				for lz := uint32(0); lz < wg[2]; lz++ {
					for ly := uint32(0); ly < wg[1]; ly++ {
						for lx := uint32(0); lx < wg[0]; lx++ {
							p.invoke(bindings, [3]uint32{gx*wg[0] + lx, gy*wg[1] + ly, gz*wg[2] + lz})
						}
					}
				}
			}
		}
	}
	a.log().Debug("software: dispatch", "pipeline", p.label, "groups", c.groups, "workgroup", wg)
	return nil
}
