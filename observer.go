// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import "time"

// Observer receives engine activity. Implementations must be cheap and
// must not call back into the Engine.
type Observer interface {
	// Written reports bytes queued into the storage or uniform buffer.
	Written(buffer string, bytes int)

	// Dispatched reports a submitted rotation over elements entries in
	// workgroups workgroups.
	Dispatched(elements, workgroups uint32)

	// ReadBack reports a finished CopyOut. err is nil on success.
	ReadBack(elements uint32, elapsed time.Duration, err error)
}

// Buffer names passed to Observer.Written.
const (
	BufferStorage = "storage"
	BufferUniform = "uniform"
)

type nopObserver struct{}

func (nopObserver) Written(string, int)                   {}
func (nopObserver) Dispatched(uint32, uint32)             {}
func (nopObserver) ReadBack(uint32, time.Duration, error) {}
