// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent device resources. Each adapter implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []gputypes.BindGroupLayoutEntry
}

// PipelineLayoutDesc describes a pipeline layout.
type PipelineLayoutDesc struct {
	Label            string
	BindGroupLayouts []BindGroupLayoutID
}

// ShaderModuleDesc describes a shader module compiled from WGSL source.
type ShaderModuleDesc struct {
	Label string
	WGSL  string
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// ShaderModule contains the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind.
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the bind group layout.
	Layout BindGroupLayoutID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}

// MapState represents the mapping state of a buffer.
type MapState int

const (
	// MapStateUnmapped means the buffer is not mapped.
	MapStateUnmapped MapState = iota
	// MapStatePending means a map operation is pending.
	MapStatePending
	// MapStateMapped means the buffer is mapped.
	MapStateMapped
)

// String returns the string representation of MapState.
func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// MapStatus is the result delivered to a MapAsync callback.
type MapStatus int

const (
	// MapStatusSuccess indicates mapping completed successfully.
	MapStatusSuccess MapStatus = iota
	// MapStatusValidationError indicates a validation error.
	MapStatusValidationError
	// MapStatusUnknown indicates an unknown error.
	MapStatusUnknown
	// MapStatusDeviceLost indicates the device was lost.
	MapStatusDeviceLost
	// MapStatusDestroyedBeforeCallback indicates buffer was destroyed.
	MapStatusDestroyedBeforeCallback
	// MapStatusUnmappedBeforeCallback indicates buffer was unmapped.
	MapStatusUnmappedBeforeCallback
)

// String returns the string representation of MapStatus.
func (s MapStatus) String() string {
	switch s {
	case MapStatusSuccess:
		return "Success"
	case MapStatusValidationError:
		return "ValidationError"
	case MapStatusUnknown:
		return "Unknown"
	case MapStatusDeviceLost:
		return "DeviceLost"
	case MapStatusDestroyedBeforeCallback:
		return "DestroyedBeforeCallback"
	case MapStatusUnmappedBeforeCallback:
		return "UnmappedBeforeCallback"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Err converts a non-success status into an error. Success yields nil.
func (s MapStatus) Err() error {
	if s == MapStatusSuccess {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMapFailed, s)
}
