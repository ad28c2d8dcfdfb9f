package native

import "errors"

// Package errors for the native backend.
var (
	// ErrNoGPU is returned when no GPU adapter is available.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrDeviceCreationFailed is returned when GPU device creation fails.
	ErrDeviceCreationFailed = errors.New("native: device creation failed")

	// ErrUnsupportedProvider is returned when a gpucontext.DeviceProvider
	// does not hand out a *wgpu.Device.
	ErrUnsupportedProvider = errors.New("native: device provider is not backed by gogpu/wgpu")

	// ErrClosed is returned when the adapter has been closed.
	ErrClosed = errors.New("native: adapter closed")

	// ErrResourceNotFound is returned when an ID does not name a live resource.
	ErrResourceNotFound = errors.New("native: resource not found")

	// ErrInvalidDescriptor is returned for nil descriptors.
	ErrInvalidDescriptor = errors.New("native: invalid descriptor")

	// ErrForeignCommandBuffer is returned when submitting a command buffer
	// recorded by another adapter.
	ErrForeignCommandBuffer = errors.New("native: command buffer belongs to another adapter")

	// ErrCallbackNil is returned when MapAsync is called with nil callback.
	ErrCallbackNil = errors.New("native: map callback is nil")
)
