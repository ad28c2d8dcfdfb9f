// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import "errors"

// Engine errors. Match them with errors.Is; every returned error wraps
// exactly one of these.
var (
	// ErrSizeOverflow is returned when the storage size computation
	// overflows or exceeds the device's maximum buffer size. Nothing is
	// allocated on the device.
	ErrSizeOverflow = errors.New("vecrot: storage size overflow")

	// ErrDeviceResource is returned when the device refuses to create a
	// resource or to accept a write or submission.
	ErrDeviceResource = errors.New("vecrot: device resource error")

	// ErrSizeMismatch is returned when a result buffer is smaller than the
	// requested readback. No device work is issued.
	ErrSizeMismatch = errors.New("vecrot: result buffer too small")

	// ErrReadbackFailed is returned when a result buffer could not be
	// mapped, or the map callback never arrived.
	ErrReadbackFailed = errors.New("vecrot: readback failed")

	// ErrCapacityExceeded is returned when an element count is larger
	// than the engine's capacity.
	ErrCapacityExceeded = errors.New("vecrot: element count exceeds capacity")

	// ErrInvalidCapacity is returned for a zero capacity.
	ErrInvalidCapacity = errors.New("vecrot: capacity must be positive")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("vecrot: engine closed")

	// ErrNilAdapter is returned by New when adapter is nil.
	ErrNilAdapter = errors.New("vecrot: nil adapter")
)
