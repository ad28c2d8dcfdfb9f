//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/vecrot/backend"
	"github.com/gogpu/vecrot/gpucore"
)

// init registers the native backend on package import.
//
//	import _ "github.com/gogpu/vecrot/backend/native"
func init() {
	backend.Register(backend.BackendNative, func() (gpucore.GPUAdapter, error) {
		return Open()
	})
}

// openConfig collects the options of Open.
type openConfig struct {
	request  wgpu.RequestAdapterOptions
	allowCPU bool
}

// Option configures adapter selection in Open.
type Option func(*openConfig)

// WithPowerPreference selects between low-power and high-performance GPUs.
func WithPowerPreference(p gputypes.PowerPreference) Option {
	return func(c *openConfig) { c.request.PowerPreference = p }
}

// WithFallbackAdapter forces the gogpu/wgpu software fallback adapter and
// lets Open accept CPU adapters. Kernels run on such adapters only as far
// as its shader interpreter supports them.
func WithFallbackAdapter() Option {
	return func(c *openConfig) {
		c.request.ForceFallbackAdapter = true
		c.allowCPU = true
	}
}

// checkDeviceType rejects CPU adapters unless allowCPU is set. Without a
// GPU, wgpu still offers its software renderer, which does not execute
// compute kernels.
func checkDeviceType(info wgpu.AdapterInfo, allowCPU bool) error {
	if info.DeviceType == gputypes.DeviceTypeCPU && !allowCPU {
		return fmt.Errorf("%w: %q is a CPU adapter", ErrNoGPU, info.Name)
	}
	return nil
}

// pendingMap is an in-flight MapAsync request.
type pendingMap struct {
	pending  *wgpu.MapPending
	callback func(gpucore.MapStatus)
}

type pendingCallback struct {
	fn     func(gpucore.MapStatus)
	status gpucore.MapStatus
}

// Adapter implements gpucore.GPUAdapter on top of gogpu/wgpu.
// It provides a bridge between the gpucore ID-based abstraction and
// wgpu's object handles.
//
// Thread Safety: Adapter is safe for concurrent use from multiple
// goroutines. All resource maps are protected by a mutex. Map callbacks
// run on the goroutine calling Poll, with no internal lock held.
type Adapter struct {
	mu sync.Mutex

	// Owned handles are nil when the device was borrowed via FromProvider.
	instance *wgpu.Instance
	adapter  *wgpu.Adapter

	device *wgpu.Device
	queue  *wgpu.Queue
	info   gpucontext.AdapterInfo
	limits gputypes.Limits

	// ID generation
	nextID atomic.Uint64

	// Resource tracking maps gpucore IDs to wgpu objects
	buffers    map[gpucore.BufferID]*wgpu.Buffer
	modules    map[gpucore.ShaderModuleID]*wgpu.ShaderModule
	bgLayouts  map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout
	plLayouts  map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout
	pipelines  map[gpucore.ComputePipelineID]*wgpu.ComputePipeline
	bindGroups map[gpucore.BindGroupID]*wgpu.BindGroup

	pending  map[gpucore.BufferID]*pendingMap
	orphaned []pendingCallback

	closed bool
}

var _ gpucore.GPUAdapter = (*Adapter)(nil)

// Open requests a GPU adapter and device from gogpu/wgpu. CPU adapters
// are refused with ErrNoGPU unless WithFallbackAdapter is given, so that
// backend.Default moves on to the software backend.
func Open(opts ...Option) (*Adapter, error) {
	var cfg openConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoGPU, err)
	}
	adapter, err := instance.RequestAdapter(&cfg.request)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrNoGPU, err)
	}
	ai := adapter.Info()
	if err := checkDeviceType(ai, cfg.allowCPU); err != nil {
		adapter.Release()
		instance.Release()
		return nil, err
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: %w", ErrDeviceCreationFailed, err)
	}

	a := newAdapter(device, gpucontext.AdapterInfo{Name: ai.Name, Type: adapterType(ai.DeviceType)})
	a.instance = instance
	a.adapter = adapter
	return a, nil
}

// FromProvider wraps the device of a host application, such as a gogpu
// window. The device stays owned by the provider; Close releases only the
// resources created through the adapter.
func FromProvider(p gpucontext.DeviceProvider) (*Adapter, error) {
	if p == nil {
		return nil, ErrUnsupportedProvider
	}
	device, ok := p.Device().(*wgpu.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedProvider, p.Device())
	}
	return newAdapter(device, p.AdapterInfo()), nil
}

func newAdapter(device *wgpu.Device, info gpucontext.AdapterInfo) *Adapter {
	a := &Adapter{
		device:     device,
		queue:      device.Queue(),
		info:       info,
		limits:     device.Limits(),
		buffers:    make(map[gpucore.BufferID]*wgpu.Buffer),
		modules:    make(map[gpucore.ShaderModuleID]*wgpu.ShaderModule),
		bgLayouts:  make(map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout),
		plLayouts:  make(map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout),
		pipelines:  make(map[gpucore.ComputePipelineID]*wgpu.ComputePipeline),
		bindGroups: make(map[gpucore.BindGroupID]*wgpu.BindGroup),
		pending:    make(map[gpucore.BufferID]*pendingMap),
	}
	// Start ID generation at 1 (0 is invalid)
	a.nextID.Store(1)
	return a
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// newID generates a unique resource ID.
func (a *Adapter) newID() uint64 {
	return a.nextID.Add(1) - 1
}

// SetLogger forwards l to gogpu/wgpu, which owns all diagnostics of this
// backend.
func (a *Adapter) SetLogger(l *slog.Logger) {
	wgpu.SetLogger(l)
}

// Name returns backend.BackendNative.
func (a *Adapter) Name() string { return backend.BackendNative }

// Info returns the adapter name and type.
func (a *Adapter) Info() gpucontext.AdapterInfo { return a.info }

// Limits returns the device limits.
func (a *Adapter) Limits() gputypes.Limits { return a.limits }

// Device returns the underlying wgpu device.
func (a *Adapter) Device() *wgpu.Device { return a.device }

// Close releases every resource created through the adapter, then the
// device if the adapter opened it. Pending map callbacks are not invoked.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true

	for id, pm := range a.pending {
		pm.pending.Release()
		delete(a.pending, id)
	}
	a.orphaned = nil
	for id, bg := range a.bindGroups {
		bg.Release()
		delete(a.bindGroups, id)
	}
	for id, p := range a.pipelines {
		p.Release()
		delete(a.pipelines, id)
	}
	for id, l := range a.plLayouts {
		l.Release()
		delete(a.plLayouts, id)
	}
	for id, l := range a.bgLayouts {
		l.Release()
		delete(a.bgLayouts, id)
	}
	for id, m := range a.modules {
		m.Release()
		delete(a.modules, id)
	}
	for id, b := range a.buffers {
		b.Release()
		delete(a.buffers, id)
	}

	if a.adapter != nil {
		a.device.Release()
		a.adapter.Release()
		a.instance.Release()
	}
}

func (a *Adapter) checkOpenLocked() error {
	if a.closed {
		return ErrClosed
	}
	return nil
}

// === Shader modules and pipelines ===

// CreateShaderModule compiles a WGSL module.
func (a *Adapter) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	m, err := a.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{Label: desc.Label, WGSL: desc.WGSL})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: shader module %q: %w", desc.Label, err)
	}
	id := gpucore.ShaderModuleID(a.newID())
	a.modules[id] = m
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (a *Adapter) DestroyShaderModule(id gpucore.ShaderModuleID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.modules[id]; ok {
		delete(a.modules, id)
		m.Release()
	}
}

// CreateBindGroupLayout creates a bind group layout.
func (a *Adapter) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	l, err := a.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{Label: desc.Label, Entries: desc.Entries})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: bind group layout %q: %w", desc.Label, err)
	}
	id := gpucore.BindGroupLayoutID(a.newID())
	a.bgLayouts[id] = l
	return id, nil
}

// DestroyBindGroupLayout releases a bind group layout.
func (a *Adapter) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.bgLayouts[id]; ok {
		delete(a.bgLayouts, id)
		l.Release()
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
	layouts := make([]*wgpu.BindGroupLayout, 0, len(desc.BindGroupLayouts))
	for _, lid := range desc.BindGroupLayouts {
		l, ok := a.bgLayouts[lid]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", ErrResourceNotFound, lid)
		}
		layouts = append(layouts, l)
	}
	pl, err := a.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{Label: desc.Label, BindGroupLayouts: layouts})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline layout %q: %w", desc.Label, err)
	}
	id := gpucore.PipelineLayoutID(a.newID())
	a.plLayouts[id] = pl
	return id, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (a *Adapter) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.plLayouts[id]; ok {
		delete(a.plLayouts, id)
		l.Release()
	}
}

// CreateComputePipeline creates a compute pipeline.
func (a *Adapter) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	m, ok := a.modules[desc.ShaderModule]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: shader module %d", ErrResourceNotFound, desc.ShaderModule)
	}
	l, ok := a.plLayouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: pipeline layout %d", ErrResourceNotFound, desc.Layout)
	}
	p, err := a.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      desc.Label,
		Layout:     l,
		Module:     m,
		EntryPoint: desc.EntryPoint,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: compute pipeline %q: %w", desc.Label, err)
	}
	id := gpucore.ComputePipelineID(a.newID())
	a.pipelines[id] = p
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (a *Adapter) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pipelines[id]; ok {
		delete(a.pipelines, id)
		p.Release()
	}
}

// CreateBindGroup creates a bind group of buffer bindings.
func (a *Adapter) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	l, ok := a.bgLayouts[desc.Layout]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: bind group layout %d", ErrResourceNotFound, desc.Layout)
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		buf, ok := a.buffers[e.Buffer]
		if !ok {
			return gpucore.InvalidID, fmt.Errorf("%w: buffer %d", ErrResourceNotFound, e.Buffer)
		}
		entries = append(entries, wgpu.BindGroupEntry{Binding: e.Binding, Buffer: buf, Offset: e.Offset, Size: e.Size})
	}
	bg, err := a.device.CreateBindGroup(&wgpu.BindGroupDescriptor{Label: desc.Label, Layout: l, Entries: entries})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: bind group %q: %w", desc.Label, err)
	}
	id := gpucore.BindGroupID(a.newID())
	a.bindGroups[id] = bg
	return id, nil
}

// DestroyBindGroup releases a bind group.
func (a *Adapter) DestroyBindGroup(id gpucore.BindGroupID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bg, ok := a.bindGroups[id]; ok {
		delete(a.bindGroups, id)
		bg.Release()
	}
}

// === Buffers ===

// CreateBuffer creates a GPU buffer.
func (a *Adapter) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil {
		return gpucore.InvalidID, ErrInvalidDescriptor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return gpucore.InvalidID, err
	}
	buf, err := a.device.CreateBuffer(&wgpu.BufferDescriptor{Label: desc.Label, Size: desc.Size, Usage: desc.Usage})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q: %w", desc.Label, err)
	}
	id := gpucore.BufferID(a.newID())
	a.buffers[id] = buf
	return id, nil
}

// DestroyBuffer releases a buffer. A pending map on it resolves as
// MapStatusDestroyedBeforeCallback on the next Poll.
func (a *Adapter) DestroyBuffer(id gpucore.BufferID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return
	}
	if pm, ok := a.pending[id]; ok {
		delete(a.pending, id)
		pm.pending.Release()
		a.orphaned = append(a.orphaned, pendingCallback{pm.callback, gpucore.MapStatusDestroyedBeforeCallback})
	}
	delete(a.buffers, id)
	buf.Release()
}

// BufferSize returns the buffer size, or 0 if id is unknown.
func (a *Adapter) BufferSize(id gpucore.BufferID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[id]; ok {
		return buf.Size()
	}
	return 0
}

// WriteBuffer queues a write into a buffer.
func (a *Adapter) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	buf, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	return a.queue.WriteBuffer(buf, offset, data)
}

// MapAsync requests a mapping. The callback fires from a later Poll.
func (a *Adapter) MapAsync(id gpucore.BufferID, mode gputypes.MapMode, offset, size uint64, callback func(gpucore.MapStatus)) error {
	if callback == nil {
		return ErrCallbackNil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	buf, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	p, err := buf.MapAsync(wgpu.MapMode(mode), offset, size)
	if err != nil {
		return err
	}
	a.pending[id] = &pendingMap{pending: p, callback: callback}
	return nil
}

// MappedRange copies [offset, offset+size) out of a mapped buffer.
func (a *Adapter) MappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	r, err := buf.MappedRange(offset, size)
	if err != nil {
		return nil, err
	}
	defer r.Release()
	return append([]byte(nil), r.Bytes()...), nil
}

// Unmap releases a mapping, or cancels a pending one.
func (a *Adapter) Unmap(id gpucore.BufferID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[id]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrResourceNotFound, id)
	}
	return buf.Unmap()
}

// === Queue ===

// Submit submits command buffers to the device queue.
func (a *Adapter) Submit(cmds ...gpucore.CommandBuffer) error {
	bufs := make([]*wgpu.CommandBuffer, 0, len(cmds))
	for i, c := range cmds {
		cb, ok := c.(*commandBuffer)
		if !ok || cb == nil || cb.owner != a {
			return fmt.Errorf("submit: command buffer %d: %w", i, ErrForeignCommandBuffer)
		}
		bufs = append(bufs, cb.raw)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	if _, err := a.queue.Submit(bufs...); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	return nil
}

// Poll drives the device and fires the callbacks of resolved map requests.
// With wait it blocks until all submitted work has completed.
func (a *Adapter) Poll(wait bool) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return true
	}
	device := a.device
	a.mu.Unlock()

	pt := wgpu.PollPoll
	if wait {
		pt = wgpu.PollWait
	}
	device.Poll(pt)

	a.mu.Lock()
	callbacks := a.orphaned
	a.orphaned = nil
	for id, pm := range a.pending {
		ready, err := pm.pending.Status()
		if !ready {
			continue
		}
		delete(a.pending, id)
		pm.pending.Release()
		callbacks = append(callbacks, pendingCallback{pm.callback, mapStatus(err)})
	}
	idle := len(a.pending) == 0
	a.mu.Unlock()

	// Call callbacks outside lock to avoid deadlock
	for _, cb := range callbacks {
		cb.fn(cb.status)
	}
	return idle
}

// mapStatus translates a resolved wgpu mapping error.
func mapStatus(err error) gpucore.MapStatus {
	switch {
	case err == nil:
		return gpucore.MapStatusSuccess
	case errors.Is(err, wgpu.ErrMapCanceled):
		return gpucore.MapStatusUnmappedBeforeCallback
	case errors.Is(err, wgpu.ErrBufferDestroyed), errors.Is(err, wgpu.ErrReleased):
		return gpucore.MapStatusDestroyedBeforeCallback
	case errors.Is(err, wgpu.ErrMapDeviceLost), errors.Is(err, wgpu.ErrDeviceLost):
		return gpucore.MapStatusDeviceLost
	case errors.Is(err, wgpu.ErrMapAlignment), errors.Is(err, wgpu.ErrMapInvalidMode),
		errors.Is(err, wgpu.ErrMapRangeOverflow):
		return gpucore.MapStatusValidationError
	default:
		return gpucore.MapStatusUnknown
	}
}
