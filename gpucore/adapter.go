// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// ErrMapFailed is wrapped by MapStatus.Err for every non-success status.
var ErrMapFailed = errors.New("gpucore: buffer mapping failed")

// GPUAdapter abstracts over the device and queue the compute engine runs on.
//
// Implementations must be safe for concurrent use: the readback poller
// calls Poll from its own goroutine while the caller waits.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
type GPUAdapter interface {
	// === Capabilities ===

	// Name returns the backend identifier (e.g. "native", "software").
	Name() string

	// Info returns adapter metadata.
	Info() gpucontext.AdapterInfo

	// Limits returns the device limits. MaxBufferSize is the largest
	// buffer the device accepts.
	Limits() gputypes.Limits

	// === Shader and pipeline management ===

	// CreateShaderModule compiles WGSL source into a shader module.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout from bind group layouts.
	CreatePipelineLayout(desc *PipelineLayoutDesc) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup binds buffers to a bind group layout.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Buffer management ===

	// CreateBuffer creates a device buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a device buffer. A pending map resolves
	// with MapStatusDestroyedBeforeCallback.
	DestroyBuffer(id BufferID)

	// BufferSize returns the size of a buffer in bytes, or 0 if the ID
	// is unknown.
	BufferSize(id BufferID) uint64

	// WriteBuffer queues a host-to-device write. The write is ordered
	// before any command buffer submitted after it.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// MapAsync requests a host mapping of [offset, offset+size).
	// Synchronous validation failures are returned directly and the
	// callback is not invoked. Otherwise the callback fires exactly once,
	// from inside a later Poll call.
	MapAsync(id BufferID, mode gputypes.MapMode, offset, size uint64, callback func(MapStatus)) error

	// MappedRange returns a copy of the mapped bytes. The buffer must be
	// in MapStateMapped.
	MappedRange(id BufferID, offset, size uint64) ([]byte, error)

	// Unmap releases the host mapping. A pending map is canceled and its
	// callback receives MapStatusUnmappedBeforeCallback.
	Unmap(id BufferID) error

	// === Command recording and execution ===

	// CreateCommandEncoder starts recording a command buffer.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit enqueues finished command buffers. It returns once the
	// commands are queued, not once they have executed.
	Submit(cmds ...CommandBuffer) error

	// Poll drives device progress and fires completed map callbacks.
	// With wait set it blocks until all submitted work has finished.
	// It reports whether no map request remains outstanding.
	Poll(wait bool) (idle bool)

	// Close releases the device. Resources must be destroyed first.
	Close()
}

// CommandEncoder records commands into a CommandBuffer.
// The encoder is single-use and cannot be reused after Finish.
type CommandEncoder interface {
	// BeginComputePass begins a compute pass. The pass must be ended
	// before any other command is recorded on this encoder.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// CopyBufferToBuffer records a device-side copy. Validation errors
	// are deferred to Finish.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64)

	// Finish ends recording and returns the command buffer.
	Finish() (CommandBuffer, error)
}

// ComputePassEncoder records compute commands.
//
// Usage:
//  1. Obtain encoder from CommandEncoder.BeginComputePass()
//  2. Set pipeline and bind groups
//  3. Dispatch compute workgroups
//  4. Call End() to finish recording
//
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches compute workgroups.
	// x, y, z are the number of workgroups in each dimension.
	Dispatch(x, y, z uint32)

	// End finishes the compute pass and reports any recording error.
	End() error
}

// CommandBuffer is a type token for a finished command buffer.
// Each adapter accepts only the command buffers its own encoders produced.
type CommandBuffer interface{}
