// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/vecrot/gpucore"
)

// Factory opens a new device adapter.
type Factory func() (gpucore.GPUAdapter, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first that opens wins).
	// Native > Software (Software is the fallback).
	backendPriority = []string{BackendNative, BackendSoftware}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get opens the backend registered under name.
func Get(name string) (gpucore.GPUAdapter, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	a, err := factory()
	if err != nil {
		return nil, fmt.Errorf("backend %q: %w", name, err)
	}
	return a, nil
}

// Default opens the best available backend based on priority.
// Priority order: native > software, then any other registered backend
// in name order. The errors of every backend that failed to open are
// joined into the returned error.
func Default() (gpucore.GPUAdapter, error) {
	registryMu.RLock()
	order := make([]string, 0, len(backends))
	seen := make(map[string]bool, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			order = append(order, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range backends {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	registryMu.RUnlock()
	sort.Strings(rest)
	order = append(order, rest...)

	if len(order) == 0 {
		return nil, ErrBackendNotAvailable
	}

	var errs []error
	for _, name := range order {
		a, err := Get(name)
		if err == nil {
			return a, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}

// Open returns Get(name), or Default() when name is empty.
func Open(name string) (gpucore.GPUAdapter, error) {
	if name == "" {
		return Default()
	}
	return Get(name)
}
