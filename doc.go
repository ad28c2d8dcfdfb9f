// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package vecrot is a minimal GPU compute engine that rotates an array of
// 2D vectors in place.
//
// # Overview
//
// An [Engine] owns a fixed-capacity storage buffer of [StorageEntry]
// values, a uniform block holding the rotation angle, and the compute
// pipeline and bind group that connect them to the rotation kernel. The
// host seeds the buffers, dispatches the kernel once per logical tick and
// optionally copies the result back.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/vecrot"
//	    "github.com/gogpu/vecrot/backend"
//	    _ "github.com/gogpu/vecrot/backend/native"
//	    _ "github.com/gogpu/vecrot/backend/software"
//	)
//
//	adapter, err := backend.Default()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e, err := vecrot.New(adapter, vecrot.WithCapacity(144))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	e.WriteStorage(0, entries)
//	e.WriteUniform(vecrot.UniformParams{RotateDeg: 2})
//	e.Dispatch(144)
//	out, err := e.ReadBack(144)
//
// # Backends
//
// The engine talks to the device through [gpucore.GPUAdapter]. Two
// implementations register themselves with the backend package on import:
//
//   - native: a hardware device through gogpu/wgpu; CPU adapters are refused
//   - software: a CPU device that executes the kernel on the host
//
// [backend.Default] prefers native and falls back to software.
//
// # Readback
//
// [Engine.CopyOut] is the only blocking call. It copies the storage
// buffer into a host-mappable [ResultBuffer], requests a mapping and then
// waits on a one-shot channel while a goroutine polls the device. All
// previously issued writes and dispatches complete before the copy.
//
// # Errors
//
// Every error wraps one of the sentinels in errors.go; match them with
// errors.Is. Nothing is retried internally.
//
// # Logging
//
// vecrot logs through log/slog and is silent by default. See [SetLogger]
// and [WithLogger].
package vecrot
