// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package software provides a CPU reference device for vecrot.
//
// The adapter implements gpucore.GPUAdapter entirely in host memory while
// keeping the ordering rules of a real queue: writes, submissions and map
// requests are queued and only execute inside Poll, in submission order.
// Map callbacks therefore fire only while something drives Poll, exactly
// as on a GPU.
//
// WGSL modules are compiled and reflected with naga. Compute pipelines
// execute a registered host implementation of their entry point (see
// RegisterKernel); the rotation kernel is registered on import.
package software

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/vecrot/backend"
	"github.com/gogpu/vecrot/gpucore"
	"github.com/gogpu/vecrot/kernel"
)

// AdapterName is reported by Info.
const AdapterName = "vecrot software device"

// init registers the software backend on package import.
func init() {
	RegisterKernel(kernel.Source, kernel.EntryPoint, kernel.Invoke)
	backend.Register(backend.BackendSoftware, func() (gpucore.GPUAdapter, error) {
		return New(), nil
	})
}

// Fault selects a failure the adapter injects into map requests.
type Fault int

const (
	// FaultNone disables fault injection.
	FaultNone Fault = iota
	// FaultMapRejected makes MapAsync fail synchronously.
	FaultMapRejected
	// FaultDeviceLost resolves map requests with MapStatusDeviceLost.
	FaultDeviceLost
	// FaultLostCallback drops map requests without ever invoking the callback.
	FaultLostCallback
)

// Stats counts queue activity and resource allocation.
type Stats struct {
	// Writes is the number of accepted WriteBuffer calls.
	Writes uint64
	// Submissions is the number of accepted command buffers.
	Submissions uint64
	// MapRequests is the number of accepted MapAsync calls.
	MapRequests uint64
	// Created is the number of resources ever created.
	Created uint64
	// Live is the number of resources not yet destroyed.
	Live int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLimits replaces the default device limits.
func WithLimits(l gputypes.Limits) Option {
	return func(a *Adapter) { a.limits = l }
}

// WithMaxBufferSize lowers or raises the largest buffer the device accepts.
func WithMaxBufferSize(n uint64) Option {
	return func(a *Adapter) { a.limits.MaxBufferSize = n }
}

// Adapter is a CPU implementation of gpucore.GPUAdapter.
//
// Thread Safety: Adapter is safe for concurrent use. Map callbacks are
// invoked from the goroutine calling Poll, without internal locks held.
type Adapter struct {
	mu     sync.Mutex
	limits gputypes.Limits
	logger atomic.Pointer[slog.Logger]

	// ID generation
	nextID atomic.Uint64

	buffers    map[gpucore.BufferID]*buffer
	modules    map[gpucore.ShaderModuleID]*shaderModule
	bgLayouts  map[gpucore.BindGroupLayoutID]*bindGroupLayout
	plLayouts  map[gpucore.PipelineLayoutID]*pipelineLayout
	pipelines  map[gpucore.ComputePipelineID]*pipeline
	bindGroups map[gpucore.BindGroupID]*bindGroup

	queue     []op
	stats     Stats
	fault     Fault
	deviceErr error
	closed    bool
}

var _ gpucore.GPUAdapter = (*Adapter)(nil)

// New creates a software adapter with gputypes.DefaultLimits.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		limits:     gputypes.DefaultLimits(),
		buffers:    make(map[gpucore.BufferID]*buffer),
		modules:    make(map[gpucore.ShaderModuleID]*shaderModule),
		bgLayouts:  make(map[gpucore.BindGroupLayoutID]*bindGroupLayout),
		plLayouts:  make(map[gpucore.PipelineLayoutID]*pipelineLayout),
		pipelines:  make(map[gpucore.ComputePipelineID]*pipeline),
		bindGroups: make(map[gpucore.BindGroupID]*bindGroup),
	}
	for _, opt := range opts {
		opt(a)
	}
	// Start ID generation at 1 (0 is invalid)
	a.nextID.Store(1)
	a.logger.Store(slog.New(nopHandler{}))
	return a
}

// SetLogger sets the logger used for device diagnostics.
func (a *Adapter) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	a.logger.Store(l)
}

func (a *Adapter) log() *slog.Logger { return a.logger.Load() }

// Name returns backend.BackendSoftware.
func (a *Adapter) Name() string { return backend.BackendSoftware }

// Info reports a software adapter.
func (a *Adapter) Info() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: AdapterName, Type: gpucontext.AdapterTypeSoftware}
}

// Limits returns the device limits.
func (a *Adapter) Limits() gputypes.Limits { return a.limits }

// Stats returns a snapshot of the activity counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// InjectFault makes subsequent map requests fail as f describes, until
// InjectFault(FaultNone) is called.
func (a *Adapter) InjectFault(f Fault) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fault = f
}

// DeviceError returns the first error raised while executing queued work,
// the software analogue of an uncaptured device error.
func (a *Adapter) DeviceError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deviceErr
}

// Close drops every resource and pending operation. Pending map callbacks
// are not invoked.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if a.stats.Live > 0 {
		a.log().Warn("software: closing adapter with live resources", "live", a.stats.Live)
	}
	for _, b := range a.buffers {
		b.destroyed = true
	}
	a.queue = nil
	a.closed = true
}

func (a *Adapter) newID() uint64 {
	a.stats.Created++
	a.stats.Live++
	return a.nextID.Add(1) - 1
}

func (a *Adapter) released() {
	a.stats.Live--
}

func (a *Adapter) checkOpenLocked() error {
	if a.closed {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// Shader modules and pipelines
// =============================================================================

type shaderModule struct {
	label   string
	source  string
	entries map[string]ir.EntryPoint
}

type bindGroupLayout struct {
	label   string
	entries map[uint32]gputypes.BindGroupLayoutEntry
}

type pipelineLayout struct {
	label   string
	layouts []gpucore.BindGroupLayoutID
}

type pipeline struct {
	label     string
	layout    *pipelineLayout
	workgroup [3]uint32
	invoke    kernel.Invocation
}

type bindGroup struct {
	label   string
	layout  gpucore.BindGroupLayoutID
	entries []gpucore.BindGroupEntry
}

// CreateShaderModule compiles WGSL with naga and records its entry points.
func (a *Adapter) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	mod, err := kernel.Compile(desc.WGSL)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("software: shader module %q: %w", desc.Label, err)
	}
	sm := &shaderModule{
		label:   desc.Label,
		source:  desc.WGSL,
		entries: make(map[string]ir.EntryPoint, len(mod.EntryPoints)),
	}
	for _, ep := range mod.EntryPoints {
		sm.entries[ep.Name] = ep
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.ShaderModuleID(a.newID())
	a.modules[id] = sm
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *Adapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.modules[id]; ok {
		delete(a.modules, id)
		a.released()
	}
}

// CreateBindGroupLayout creates a bind group layout. Only buffer bindings
// are supported.
func (a *Adapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	l := &bindGroupLayout{
		label:   desc.Label,
		entries: make(map[uint32]gputypes.BindGroupLayoutEntry, len(desc.Entries)),
	}
	for _, e := range desc.Entries {
		if e.Buffer == nil {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d is not a buffer binding", ErrInvalidDescriptor, e.Binding)
		}
		if _, dup := l.entries[e.Binding]; dup {
			return gpucore.InvalidID, fmt.Errorf("%w: duplicate binding %d", ErrInvalidDescriptor, e.Binding)
		}
		l.entries[e.Binding] = e
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BindGroupLayoutID(a.newID())
	a.bgLayouts[id] = l
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *Adapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bgLayouts[id]; ok {
		delete(a.bgLayouts, id)
		a.released()
	}
}

// CreatePipelineLayout creates a pipeline layout.
func (a *Adapter) CreatePipelineLayout(desc *gpucore.PipelineLayoutDesc) (gpucore.PipelineLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	for _, l := range desc.BindGroupLayouts {
		if _, ok := a.bgLayouts[l]; !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", ErrResourceNotFound, l)
		}
	}
	id := gpucore.PipelineLayoutID(a.newID())
	a.plLayouts[id] = &pipelineLayout{
		label:   desc.Label,
		layouts: append([]gpucore.BindGroupLayoutID(nil), desc.BindGroupLayouts...),
	}
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *Adapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.plLayouts[id]; ok {
		delete(a.plLayouts, id)
		a.released()
	}
}

// CreateComputePipeline binds a compute entry point of a module to its
// registered host implementation.
func (a *Adapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	sm, ok := a.modules[desc.ShaderModule]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", ErrResourceNotFound, desc.ShaderModule)
	}
	pl, ok := a.plLayouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline layout %d", ErrResourceNotFound, desc.Layout)
	}
	ep, ok := sm.entries[desc.EntryPoint]
	if !ok || ep.Stage != ir.StageCompute {
		return gpucore.InvalidID, fmt.Errorf("%w: no compute entry point %q in %q", ErrInvalidDescriptor, desc.EntryPoint, sm.label)
	}
	invoke := lookupKernel(sm.source, desc.EntryPoint)
	if invoke == nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %q", ErrUnsupportedKernel, desc.EntryPoint)
	}
	wg := ep.Workgroup
	for d := range wg {
		if wg[d] == 0 {
			wg[d] = 1
		}
	}
	id := gpucore.ComputePipelineID(a.newID())
	a.pipelines[id] = &pipeline{label: desc.Label, layout: pl, workgroup: wg, invoke: invoke}
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *Adapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pipelines[id]; ok {
		delete(a.pipelines, id)
		a.released()
	}
}

// CreateBindGroup binds buffers to every binding of a layout.
func (a *Adapter) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	layout, ok := a.bgLayouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", ErrResourceNotFound, desc.Layout)
	}
	if len(desc.Entries) != len(layout.entries) {
		return gpucore.InvalidID, fmt.Errorf("%w: %d entries for a layout of %d", ErrInvalidDescriptor, len(desc.Entries), len(layout.entries))
	}
	for _, e := range desc.Entries {
		le, ok := layout.entries[e.Binding]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d not in layout", ErrInvalidDescriptor, e.Binding)
		}
		buf, ok := a.buffers[e.Buffer]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", ErrResourceNotFound, e.Buffer)
		}
		var need gputypes.BufferUsage
		switch le.Buffer.Type {
		case gputypes.BufferBindingTypeUniform:
			need = gputypes.BufferUsageUniform
		default:
			need = gputypes.BufferUsageStorage
		}
		if !buf.usage.Contains(need) {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d", ErrUsageMismatch, e.Binding)
		}
		size := e.Size
		if size == 0 {
			if e.Offset > buf.size {
				return gpucore.InvalidID, fmt.Errorf("%w: binding %d offset %d", ErrOutOfRange, e.Binding, e.Offset)
			}
			size = buf.size - e.Offset
		}
		if e.Offset+size > buf.size {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d [%d, %d) of %d", ErrOutOfRange, e.Binding, e.Offset, e.Offset+size, buf.size)
		}
		if size < le.Buffer.MinBindingSize {
			return gpucore.InvalidID, fmt.Errorf("%w: binding %d is %d bytes, layout needs %d", ErrOutOfRange, e.Binding, size, le.Buffer.MinBindingSize)
		}
	}
	id := gpucore.BindGroupID(a.newID())
	a.bindGroups[id] = &bindGroup{
		label:   desc.Label,
		layout:  desc.Layout,
		entries: append([]gpucore.BindGroupEntry(nil), desc.Entries...),
	}
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (a *Adapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bindGroups[id]; ok {
		delete(a.bindGroups, id)
		a.released()
	}
}

// nopHandler discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
