// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vecrot/gpucore"
	"github.com/gogpu/vecrot/kernel"
)

// Buffer usages of the engine's device buffers.
const (
	storageUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	uniformUsage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	resultUsage  = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

// Engine owns the device resources of the rotation kernel: a fixed-size
// storage array of vectors, the uniform block, and the pipeline and bind
// group that tie them to the kernel.
//
// Typical per-tick use:
//
//	e.WriteUniform(vecrot.UniformParams{RotateDeg: 2})
//	e.Dispatch(n)
//	out, err := e.ReadBack(n)
//
// Thread Safety: Engine is NOT safe for concurrent use. Callers must
// serialize all calls. Writes, dispatches and copies are executed by the
// device in the order they were issued.
type Engine struct {
	adapter gpucore.GPUAdapter
	log     *slog.Logger
	obs     Observer
	label   string

	capacity    uint64
	storageSize uint64
	kernel      *kernel.Reflection

	// active is the element count last written to the uniform block.
	active uint32

	module    gpucore.ShaderModuleID
	bgLayout  gpucore.BindGroupLayoutID
	plLayout  gpucore.PipelineLayoutID
	pipeline  gpucore.ComputePipelineID
	storage   gpucore.BufferID
	uniform   gpucore.BufferID
	bindGroup gpucore.BindGroupID

	closed bool
}

// storageBytes returns entries*StorageEntrySize, or ErrSizeOverflow if the
// product does not fit in 64 bits or exceeds limit.
func storageBytes(entries, limit uint64) (uint64, error) {
	hi, lo := bits.Mul64(entries, StorageEntrySize)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d entries of %d bytes", ErrSizeOverflow, entries, StorageEntrySize)
	}
	if lo > limit {
		return 0, fmt.Errorf("%w: %d bytes exceeds the device limit of %d", ErrSizeOverflow, lo, limit)
	}
	return lo, nil
}

// dispatchGroups returns the workgroups needed to cover entries, or
// ErrSizeOverflow if that exceeds limit.
func dispatchGroups(entries uint64, wg uint32, limit uint32) (uint64, error) {
	w := uint64(max(wg, 1))
	groups := entries/w + min(entries%w, 1)
	if groups > uint64(limit) {
		return 0, fmt.Errorf("%w: %d entries need %d workgroups, device limit %d", ErrSizeOverflow, entries, groups, limit)
	}
	return groups, nil
}

// New creates an engine on adapter.
//
// The storage size and the workgroup count of a full-capacity dispatch are
// validated before any device resource is created.
// If the device refuses any resource, everything created so far is
// released and an error wrapping ErrDeviceResource is returned.
func New(adapter gpucore.GPUAdapter, opts ...Option) (*Engine, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.capacity == 0 {
		return nil, ErrInvalidCapacity
	}
	size, err := storageBytes(o.capacity, adapter.Limits().MaxBufferSize)
	if err != nil {
		return nil, err
	}
	refl, err := kernel.Builtin()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceResource, err)
	}
	if _, err := dispatchGroups(o.capacity, refl.Workgroup[0], adapter.Limits().MaxComputeWorkgroupsPerDimension); err != nil {
		return nil, err
	}

	log := o.logger
	if log == nil {
		log = Logger()
	}
	propagateLogger(adapter, log)

	e := &Engine{
		adapter:     adapter,
		log:         log,
		obs:         o.observer,
		label:       o.label,
		capacity:    o.capacity,
		storageSize: size,
		kernel:      refl,
	}
	if err := e.createResources(); err != nil {
		e.release()
		return nil, fmt.Errorf("%w: %w", ErrDeviceResource, err)
	}

	info := adapter.Info()
	log.Info("vecrot: engine created",
		"backend", adapter.Name(),
		"adapter", info.Name,
		"type", info.Type,
		"capacity", o.capacity,
		"storage_bytes", size,
		"workgroup", refl.Workgroup[0])
	return e, nil
}

// createResources creates all device resources in dependency order.
// On error the IDs created so far are left set for release.
func (e *Engine) createResources() error {
	a := e.adapter
	var err error

	e.module, err = a.CreateShaderModule(&gpucore.ShaderModuleDesc{
		Label: e.label + " kernel",
		WGSL:  kernel.Source,
	})
	if err != nil {
		return fmt.Errorf("shader module: %w", err)
	}

	e.bgLayout, err = a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: e.label + " bind group layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    kernel.BindingStorage,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type:           gputypes.BufferBindingTypeStorage,
					MinBindingSize: uint64(e.kernel.StorageStride),
				},
			},
			{
				Binding:    kernel.BindingUniform,
				Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{
					Type:           gputypes.BufferBindingTypeUniform,
					MinBindingSize: UniformParamsSize,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("bind group layout: %w", err)
	}

	e.plLayout, err = a.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{
		Label:            e.label + " pipeline layout",
		BindGroupLayouts: []gpucore.BindGroupLayoutID{e.bgLayout},
	})
	if err != nil {
		return fmt.Errorf("pipeline layout: %w", err)
	}

	e.pipeline, err = a.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:        e.label + " pipeline",
		Layout:       e.plLayout,
		ShaderModule: e.module,
		EntryPoint:   e.kernel.EntryPoint,
	})
	if err != nil {
		return fmt.Errorf("compute pipeline: %w", err)
	}

	e.storage, err = a.CreateBuffer(&gpucore.BufferDesc{
		Label: e.label + " storage",
		Size:  e.storageSize,
		Usage: storageUsage,
	})
	if err != nil {
		return fmt.Errorf("storage buffer: %w", err)
	}

	e.uniform, err = a.CreateBuffer(&gpucore.BufferDesc{
		Label: e.label + " uniform",
		Size:  UniformParamsSize,
		Usage: uniformUsage,
	})
	if err != nil {
		return fmt.Errorf("uniform buffer: %w", err)
	}

	e.bindGroup, err = a.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:  e.label + " bind group",
		Layout: e.bgLayout,
		Entries: []gpucore.BindGroupEntry{
			{Binding: kernel.BindingStorage, Buffer: e.storage, Size: e.storageSize},
			{Binding: kernel.BindingUniform, Buffer: e.uniform, Size: UniformParamsSize},
		},
	})
	if err != nil {
		return fmt.Errorf("bind group: %w", err)
	}

	e.log.Debug("vecrot: resources created",
		"storage_bytes", e.storageSize,
		"uniform_bytes", UniformParamsSize)
	return nil
}

// release destroys every created resource in reverse creation order.
func (e *Engine) release() {
	a := e.adapter
	if e.bindGroup != gpucore.InvalidID {
		a.DestroyBindGroup(e.bindGroup)
		e.bindGroup = gpucore.InvalidID
	}
	if e.uniform != gpucore.InvalidID {
		a.DestroyBuffer(e.uniform)
		e.uniform = gpucore.InvalidID
	}
	if e.storage != gpucore.InvalidID {
		a.DestroyBuffer(e.storage)
		e.storage = gpucore.InvalidID
	}
	if e.pipeline != gpucore.InvalidID {
		a.DestroyComputePipeline(e.pipeline)
		e.pipeline = gpucore.InvalidID
	}
	if e.plLayout != gpucore.InvalidID {
		a.DestroyPipelineLayout(e.plLayout)
		e.plLayout = gpucore.InvalidID
	}
	if e.bgLayout != gpucore.InvalidID {
		a.DestroyBindGroupLayout(e.bgLayout)
		e.bgLayout = gpucore.InvalidID
	}
	if e.module != gpucore.InvalidID {
		a.DestroyShaderModule(e.module)
		e.module = gpucore.InvalidID
	}
}

// Capacity returns the number of storage entries.
func (e *Engine) Capacity() uint64 { return e.capacity }

// Adapter returns the device adapter the engine runs on.
func (e *Engine) Adapter() gpucore.GPUAdapter { return e.adapter }

// Kernel returns the reflected kernel description.
func (e *Engine) Kernel() kernel.Reflection { return *e.kernel }

// WriteStorage queues a write of entries starting at entry index offset.
// The range is checked by the device, not by the engine.
func (e *Engine) WriteStorage(offset uint32, entries []StorageEntry) error {
	if e.closed {
		return ErrClosed
	}
	data := EncodeStorage(make([]byte, 0, len(entries)*StorageEntrySize), entries)
	if err := e.adapter.WriteBuffer(e.storage, uint64(offset)*StorageEntrySize, data); err != nil {
		return fmt.Errorf("%w: write storage at entry %d: %w", ErrDeviceResource, offset, err)
	}
	e.obs.Written(BufferStorage, len(data))
	return nil
}

// WriteUniform queues a write of the uniform block.
func (e *Engine) WriteUniform(p UniformParams) error {
	if e.closed {
		return ErrClosed
	}
	data := p.Encode()
	binary.LittleEndian.PutUint32(data[kernel.ParamsCountOffset:], e.active)
	if err := e.adapter.WriteBuffer(e.uniform, 0, data); err != nil {
		return fmt.Errorf("%w: write uniform: %w", ErrDeviceResource, err)
	}
	e.obs.Written(BufferUniform, len(data))
	return nil
}

// Dispatch submits one compute pass rotating the first elementCount
// entries by the current uniform angle. It does not wait for the device.
// A zero elementCount submits nothing. When elementCount differs from the
// previous dispatch, the new count is queued into the uniform block first.
func (e *Engine) Dispatch(elementCount uint32) error {
	if e.closed {
		return ErrClosed
	}
	if uint64(elementCount) > e.capacity {
		return fmt.Errorf("%w: dispatch of %d entries, capacity %d", ErrCapacityExceeded, elementCount, e.capacity)
	}
	if elementCount == 0 {
		return nil
	}

	if elementCount != e.active {
		count := binary.LittleEndian.AppendUint32(nil, elementCount)
		if err := e.adapter.WriteBuffer(e.uniform, kernel.ParamsCountOffset, count); err != nil {
			return fmt.Errorf("%w: dispatch count: %w", ErrDeviceResource, err)
		}
		e.active = elementCount
	}

	groups := e.kernel.Workgroups(elementCount)
	enc, err := e.adapter.CreateCommandEncoder(e.label + " dispatch")
	if err != nil {
		return fmt.Errorf("%w: dispatch: %w", ErrDeviceResource, err)
	}
	pass, err := enc.BeginComputePass(e.label + " rotate")
	if err != nil {
		return fmt.Errorf("%w: dispatch: %w", ErrDeviceResource, err)
	}
	pass.SetPipeline(e.pipeline)
	pass.SetBindGroup(0, e.bindGroup)
	pass.Dispatch(groups, 1, 1)
	if err := pass.End(); err != nil {
		return fmt.Errorf("%w: dispatch: %w", ErrDeviceResource, err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("%w: dispatch: %w", ErrDeviceResource, err)
	}
	if err := e.adapter.Submit(cmd); err != nil {
		return fmt.Errorf("%w: dispatch: %w", ErrDeviceResource, err)
	}

	e.log.Debug("vecrot: dispatched", "elements", elementCount, "workgroups", groups)
	e.obs.Dispatched(elementCount, groups)
	return nil
}

// Close releases all device resources. It does not close the adapter.
// Close is idempotent; every other method returns ErrClosed afterwards.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.release()
	e.log.Debug("vecrot: engine closed")
	return nil
}
