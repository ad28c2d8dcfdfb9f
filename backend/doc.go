// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package backend provides a registry of device backends for vecrot.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// Import the implementations you want available:
//
//	import (
//	    _ "github.com/gogpu/vecrot/backend/native"
//	    _ "github.com/gogpu/vecrot/backend/software"
//	)
//
// # Backend Selection
//
// Use Default() to open the best available backend, or Get() to request
// a specific backend by name:
//
//	// Open the default (best available) backend
//	a, err := backend.Default()
//
//	// Or request a specific backend
//	a, err := backend.Get("software")
//
// The returned [gpucore.GPUAdapter] is passed to vecrot.New.
//
// # Available Backends
//
//   - "native": gogpu/wgpu on Vulkan, Metal, DX12 or GLES
//   - "software": CPU reference device, always available
package backend
