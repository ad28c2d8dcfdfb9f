// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package software

import "errors"

// Device errors.
var (
	// ErrClosed is returned when the adapter has been closed.
	ErrClosed = errors.New("software: adapter closed")

	// ErrResourceNotFound is returned when an ID does not name a live resource.
	ErrResourceNotFound = errors.New("software: resource not found")

	// ErrInvalidDescriptor is returned when a descriptor is nil or malformed.
	ErrInvalidDescriptor = errors.New("software: invalid descriptor")

	// ErrUnsupportedKernel is returned when a pipeline names an entry point
	// with no registered host implementation.
	ErrUnsupportedKernel = errors.New("software: no host kernel for entry point")
)

// Buffer errors.
var (
	// ErrBufferTooLarge is returned when a buffer exceeds MaxBufferSize.
	ErrBufferTooLarge = errors.New("software: buffer size exceeds device limit")

	// ErrInvalidUsage is returned for empty or illegal usage combinations.
	ErrInvalidUsage = errors.New("software: invalid buffer usage")

	// ErrUsageMismatch is returned when an operation needs a usage flag
	// the buffer was not created with.
	ErrUsageMismatch = errors.New("software: operation does not match buffer usage flags")

	// ErrOutOfRange is returned when a write, copy or map exceeds the buffer.
	ErrOutOfRange = errors.New("software: range out of bounds")

	// ErrUnaligned is returned when an offset or size breaks alignment rules.
	ErrUnaligned = errors.New("software: offset or size not aligned")

	// ErrBufferAlreadyMapped is returned when mapping an already mapped buffer.
	ErrBufferAlreadyMapped = errors.New("software: buffer is already mapped or mapping is pending")

	// ErrBufferNotMapped is returned when reading or unmapping an unmapped buffer.
	ErrBufferNotMapped = errors.New("software: buffer is not mapped")

	// ErrBufferBusy is returned when a mapped buffer is written or submitted.
	ErrBufferBusy = errors.New("software: buffer is mapped")

	// ErrInvalidMapMode is returned when mapping with an invalid mode.
	ErrInvalidMapMode = errors.New("software: invalid map mode")

	// ErrCallbackNil is returned when MapAsync is called with nil callback.
	ErrCallbackNil = errors.New("software: map callback is nil")

	// ErrInjected is returned by operations failed through InjectFault.
	ErrInjected = errors.New("software: injected fault")
)

// Command encoder errors.
var (
	// ErrEncoderLocked is returned when recording while a pass is open.
	ErrEncoderLocked = errors.New("software: encoder is locked (pass in progress)")

	// ErrEncoderFinished is returned when recording on a finished encoder.
	ErrEncoderFinished = errors.New("software: encoder already finished")

	// ErrComputePassEnded is returned when using an ended compute pass.
	ErrComputePassEnded = errors.New("software: compute pass has already ended")

	// ErrDispatchMissingPipeline is returned when Dispatch precedes SetPipeline.
	ErrDispatchMissingPipeline = errors.New("software: dispatch called without SetPipeline")

	// ErrDispatchMissingBindGroup is returned when a pipeline's bind group is unset.
	ErrDispatchMissingBindGroup = errors.New("software: dispatch called with missing bind group")

	// ErrWorkgroupCountExceedsLimit is returned when a dispatch exceeds device limits.
	ErrWorkgroupCountExceedsLimit = errors.New("software: workgroup count exceeds device limit")

	// ErrCommandBufferConsumed is returned when a command buffer is submitted twice.
	ErrCommandBufferConsumed = errors.New("software: command buffer already submitted")

	// ErrForeignCommandBuffer is returned when a command buffer from
	// another adapter is submitted.
	ErrForeignCommandBuffer = errors.New("software: command buffer not created by this adapter")
)
