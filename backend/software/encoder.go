// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vecrot/gpucore"
)

// command is one recorded device command.
type command struct {
	// Copy
	copy      bool
	src, dst  gpucore.BufferID
	srcOffset uint64
	dstOffset uint64
	size      uint64

	// Dispatch
	pipeline   gpucore.ComputePipelineID
	bindGroups map[uint32]gpucore.BindGroupID
	groups     [3]uint32
}

// commandBuffer is the finished output of a commandEncoder.
type commandBuffer struct {
	owner     *Adapter
	label     string
	commands  []command
	submitted bool
}

// commandEncoder records commands for later submission.
//
// State machine:
//
//	Recording -> (BeginComputePass) -> Locked
//	Locked    -> (End)              -> Recording
//	Recording -> Finish()           -> Finished
//
// The first recording error is kept and returned by Finish.
// commandEncoder is NOT safe for concurrent use.
type commandEncoder struct {
	adapter  *Adapter
	label    string
	commands []command
	active   *computePass
	finished bool
	err      error
}

// CreateCommandEncoder starts recording a command buffer.
func (a *Adapter) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return nil, err
	}
	return &commandEncoder{adapter: a, label: label}, nil
}

func (e *commandEncoder) checkRecording() error {
	switch {
	case e.finished:
		return ErrEncoderFinished
	case e.active != nil:
		return ErrEncoderLocked
	}
	return nil
}

func (e *commandEncoder) setErr(err error) {
	if e.err == nil {
		e.err = err
	}
}

// BeginComputePass opens a compute pass. The encoder is locked until the
// pass ends.
func (e *commandEncoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	if err := e.checkRecording(); err != nil {
		return nil, fmt.Errorf("begin compute pass: %w", err)
	}
	p := &computePass{encoder: e, label: label, bindGroups: make(map[uint32]gpucore.BindGroupID)}
	e.active = p
	return p, nil
}

// CopyBufferToBuffer records a buffer copy. Errors surface from Finish.
func (e *commandEncoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) {
	if err := e.checkRecording(); err != nil {
		e.setErr(fmt.Errorf("copy buffer to buffer: %w", err))
		return
	}
	if err := e.adapter.validateCopy(src, srcOffset, dst, dstOffset, size); err != nil {
		e.setErr(fmt.Errorf("copy buffer to buffer: %w", err))
		return
	}
	e.commands = append(e.commands, command{
		copy: true, src: src, dst: dst,
		srcOffset: srcOffset, dstOffset: dstOffset, size: size,
	})
}

// Finish ends recording.
func (e *commandEncoder) Finish() (gpucore.CommandBuffer, error) {
	if err := e.checkRecording(); err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	e.finished = true
	if e.err != nil {
		return nil, e.err
	}
	return &commandBuffer{owner: e.adapter, label: e.label, commands: e.commands}, nil
}

// computePass records dispatches into its parent encoder.
type computePass struct {
	encoder    *commandEncoder
	label      string
	pipeline   gpucore.ComputePipelineID
	bindGroups map[uint32]gpucore.BindGroupID
	ended      bool
	dispatches int
}

// SetPipeline sets the active compute pipeline.
func (p *computePass) SetPipeline(pipeline gpucore.ComputePipelineID) {
	if p.ended {
		p.encoder.setErr(fmt.Errorf("set pipeline: %w", ErrComputePassEnded))
		return
	}
	p.pipeline = pipeline
}

// SetBindGroup sets a bind group at the specified index.
func (p *computePass) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	if p.ended {
		p.encoder.setErr(fmt.Errorf("set bind group: %w", ErrComputePassEnded))
		return
	}
	p.bindGroups[index] = group
}

// Dispatch records a dispatch with the current pipeline and bind groups.
func (p *computePass) Dispatch(x, y, z uint32) {
	if p.ended {
		p.encoder.setErr(fmt.Errorf("dispatch: %w", ErrComputePassEnded))
		return
	}
	if err := p.encoder.adapter.validateDispatch(p.pipeline, p.bindGroups, x, y, z); err != nil {
		p.encoder.setErr(fmt.Errorf("dispatch: %w", err))
		return
	}
	groups := make(map[uint32]gpucore.BindGroupID, len(p.bindGroups))
	for k, v := range p.bindGroups {
		groups[k] = v
	}
	p.encoder.commands = append(p.encoder.commands, command{
		pipeline:   p.pipeline,
		bindGroups: groups,
		groups:     [3]uint32{x, y, z},
	})
	p.dispatches++
}

// End closes the pass and unlocks the encoder.
func (p *computePass) End() error {
	if p.ended {
		return fmt.Errorf("end compute pass: %w", ErrComputePassEnded)
	}
	p.ended = true
	p.encoder.active = nil
	return p.encoder.err
}

func (a *Adapter) validateCopy(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.buffers[src]
	if !ok {
		return fmt.Errorf("%w: source buffer %d", ErrResourceNotFound, src)
	}
	d, ok := a.buffers[dst]
	if !ok {
		return fmt.Errorf("%w: destination buffer %d", ErrResourceNotFound, dst)
	}
	if !s.usage.Contains(gputypes.BufferUsageCopySrc) {
		return fmt.Errorf("%w: %q lacks CopySrc", ErrUsageMismatch, s.label)
	}
	if !d.usage.Contains(gputypes.BufferUsageCopyDst) {
		return fmt.Errorf("%w: %q lacks CopyDst", ErrUsageMismatch, d.label)
	}
	if srcOffset%copyAlignment != 0 || dstOffset%copyAlignment != 0 || size%copyAlignment != 0 {
		return fmt.Errorf("%w: copy offsets %d/%d size %d", ErrUnaligned, srcOffset, dstOffset, size)
	}
	if srcOffset > s.size || size > s.size-srcOffset {
		return fmt.Errorf("%w: copy source [%d, %d) of %d", ErrOutOfRange, srcOffset, srcOffset+size, s.size)
	}
	if dstOffset > d.size || size > d.size-dstOffset {
		return fmt.Errorf("%w: copy destination [%d, %d) of %d", ErrOutOfRange, dstOffset, dstOffset+size, d.size)
	}
	return nil
}

func (a *Adapter) validateDispatch(pipeline gpucore.ComputePipelineID, groups map[uint32]gpucore.BindGroupID, x, y, z uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pipelines[pipeline]
	if !ok {
		return ErrDispatchMissingPipeline
	}
	for i := range p.layout.layouts {
		if _, ok := groups[uint32(i)]; !ok { //nolint:gosec // bind group count is tiny
			return fmt.Errorf("%w: index %d", ErrDispatchMissingBindGroup, i)
		}
	}
	limit := a.limits.MaxComputeWorkgroupsPerDimension
	if x > limit || y > limit || z > limit {
		return fmt.Errorf("%w: (%d, %d, %d) > %d", ErrWorkgroupCountExceedsLimit, x, y, z, limit)
	}
	return nil
}
