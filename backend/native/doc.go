// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package native provides the Pure Go GPU backend for vecrot using
// gogpu/wgpu.
//
// Importing the package registers it under backend.BackendNative, with the
// highest selection priority:
//
//	import _ "github.com/gogpu/vecrot/backend/native"
//
// Open creates a private instance, adapter and device. FromProvider
// borrows the device of a host application instead, so a gogpu window and
// the compute engine can share one GPU device.
//
// Build with -tags nogpu to exclude the backend and its HAL dependencies.
package native
