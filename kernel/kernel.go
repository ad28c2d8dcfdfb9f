// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package kernel holds the rotation compute kernel and its binding contract.
//
// The kernel rewrites the first count elements of a storage array of 2D
// vectors in place, rotating each by the angle (in degrees) held in a
// uniform block together with count:
//
//	@group(0) @binding(0) var<storage, read_write> entries: array<StorageEntry>;
//	@group(0) @binding(1) var<uniform> params: Params;
//
// The host never interprets the WGSL itself. [Reflect] checks the compiled
// module against the contract the engine relies on and reports the
// workgroup size, which determines how element counts map to dispatched
// workgroups. [Invoke] is the host reference of one kernel invocation,
// used by the software backend and as a test oracle.
package kernel

import (
	_ "embed"
)

// Source is the WGSL source of the rotation kernel.
//
//go:embed shaders/rotate.wgsl
var Source string

// EntryPoint is the compute entry point name in Source.
const EntryPoint = "main"

// Binding indices within bind group 0.
const (
	BindingStorage uint32 = 0
	BindingUniform uint32 = 1
)

const (
	// EntrySize is the byte size of one storage element: two f32.
	EntrySize = 8

	// ParamsSize is the byte size of the uniform block: rotate_deg, the
	// active element count and 8 bytes of zero padding.
	ParamsSize = 16

	// ParamsCountOffset is the byte offset of the u32 count in the
	// uniform block. Invocations at or past count leave storage alone.
	ParamsCountOffset = 4
)
