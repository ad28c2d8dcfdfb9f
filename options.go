// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import "log/slog"

// Option configures an Engine during creation.
//
// Example:
//
//	e, err := vecrot.New(adapter,
//	    vecrot.WithCapacity(144),
//	    vecrot.WithLabel("arrows"),
//	)
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	capacity uint64
	logger   *slog.Logger
	observer Observer
	label    string
}

// defaultOptions returns the default engine options.
func defaultOptions() engineOptions {
	return engineOptions{
		capacity: MaxCapacity,
		logger:   nil, // Falls back to Logger()
		observer: nopObserver{},
		label:    "vecrot",
	}
}

// WithCapacity sets the number of storage entries. It is fixed for the
// lifetime of the engine. The default is MaxCapacity.
//
// The byte size capacity*StorageEntrySize is checked for overflow and
// against the device's buffer size limit before anything is allocated.
func WithCapacity(n uint64) Option {
	return func(o *engineOptions) {
		o.capacity = n
	}
}

// WithLogger sets a logger for this engine only, overriding Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithObserver installs an Observer that is notified of engine activity.
// See the metrics package for a Prometheus implementation.
func WithObserver(obs Observer) Option {
	return func(o *engineOptions) {
		if obs == nil {
			obs = nopObserver{}
		}
		o.observer = obs
	}
}

// WithLabel sets the prefix of the debug labels of all device resources.
func WithLabel(label string) Option {
	return func(o *engineOptions) {
		o.label = label
	}
}
