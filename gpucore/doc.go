// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package gpucore defines the device contract the vecrot compute engine
// runs against.
//
// The [GPUAdapter] interface abstracts over concrete backends so the
// engine's resource lifecycle and readback protocol are written once:
//   - backend/native drives a real device through gogpu/wgpu
//   - backend/software executes the same commands on the CPU
//
// # Architecture
//
//	               +-----------------+
//	               |     vecrot      |
//	               |    (Engine)     |
//	               +--------+--------+
//	                        |
//	                   GPUAdapter
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  native adapter |          | software adapter|
//	|  (gogpu/wgpu)   |          |   (host CPU)    |
//	+-----------------+          +-----------------+
//
// # Resource IDs
//
// All resources are addressed by opaque uint64 IDs. Zero is never a valid
// ID. Adapters own the mapping from IDs to backend objects.
//
// # Asynchronous mapping
//
// Buffer mapping follows the WebGPU model: MapAsync records the request
// and returns immediately, the callback fires from inside a later Poll
// call once every previously submitted command has completed.
package gpucore
