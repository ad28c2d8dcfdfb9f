//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu"

	"github.com/gogpu/vecrot/gpucore"
)

// Command encoder errors.
var (
	// ErrEncoderLocked is returned when operations are called on an encoder
	// that is locked (a pass is in progress).
	ErrEncoderLocked = errors.New("native: encoder is locked (pass in progress)")

	// ErrEncoderFinished is returned when operations are called on an encoder
	// that has already been finished.
	ErrEncoderFinished = errors.New("native: encoder already finished")
)

// commandBuffer is a finished wgpu command buffer tagged with its adapter.
type commandBuffer struct {
	owner *Adapter
	raw   *wgpu.CommandBuffer
}

// commandEncoder translates gpucore IDs to wgpu handles while recording.
// wgpu defers its own validation errors to Finish; lookup failures of
// unknown IDs are deferred the same way.
//
// commandEncoder is NOT safe for concurrent use.
type commandEncoder struct {
	adapter  *Adapter
	raw      *wgpu.CommandEncoder
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
	raw, err := a.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: command encoder %q: %w", label, err)
	}
	return &commandEncoder{adapter: a, raw: raw}, nil
}

func (e *commandEncoder) setErr(err error) {
	if e.err == nil {
		e.err = err
	}
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

// BeginComputePass opens a compute pass.
func (e *commandEncoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	if err := e.checkRecording(); err != nil {
		return nil, fmt.Errorf("begin compute pass: %w", err)
	}
	raw, err := e.raw.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("begin compute pass: %w", err)
	}
	p := &computePass{encoder: e, raw: raw}
	e.active = p
	return p, nil
}

// CopyBufferToBuffer records a buffer copy.
func (e *commandEncoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) {
	if err := e.checkRecording(); err != nil {
		e.setErr(fmt.Errorf("copy buffer to buffer: %w", err))
		return
	}
	a := e.adapter
	a.mu.Lock()
	s, okSrc := a.buffers[src]
	d, okDst := a.buffers[dst]
	a.mu.Unlock()
	if !okSrc || !okDst {
		e.setErr(fmt.Errorf("copy buffer to buffer: %w: %d -> %d", ErrResourceNotFound, src, dst))
		return
	}
	e.raw.CopyBufferToBuffer(s, srcOffset, d, dstOffset, size)
}

// Finish ends recording.
func (e *commandEncoder) Finish() (gpucore.CommandBuffer, error) {
	if err := e.checkRecording(); err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	e.finished = true
	if e.err != nil {
		e.raw.DiscardEncoding()
		return nil, e.err
	}
	raw, err := e.raw.Finish()
	if err != nil {
		return nil, fmt.Errorf("finish: %w", err)
	}
	return &commandBuffer{owner: e.adapter, raw: raw}, nil
}

// computePass wraps a wgpu compute pass.
type computePass struct {
	encoder *commandEncoder
	raw     *wgpu.ComputePassEncoder
	ended   bool
}

// SetPipeline sets the active compute pipeline.
func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) {
	a := p.encoder.adapter
	a.mu.Lock()
	pl, ok := a.pipelines[id]
	a.mu.Unlock()
	if !ok {
		p.encoder.setErr(fmt.Errorf("set pipeline: %w: pipeline %d", ErrResourceNotFound, id))
		return
	}
	p.raw.SetPipeline(pl)
}

// SetBindGroup sets a bind group at the specified index.
func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	a := p.encoder.adapter
	a.mu.Lock()
	bg, ok := a.bindGroups[id]
	a.mu.Unlock()
	if !ok {
		p.encoder.setErr(fmt.Errorf("set bind group: %w: bind group %d", ErrResourceNotFound, id))
		return
	}
	p.raw.SetBindGroup(index, bg, nil)
}

// Dispatch dispatches compute work.
func (p *computePass) Dispatch(x, y, z uint32) {
	p.raw.Dispatch(x, y, z)
}

// End closes the pass.
func (p *computePass) End() error {
	if p.ended {
		return nil
	}
	p.ended = true
	p.encoder.active = nil
	if err := p.raw.End(); err != nil {
		p.encoder.setErr(err)
	}
	return p.encoder.err
}
