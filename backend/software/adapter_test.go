package software

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/vecrot/backend"
	"github.com/gogpu/vecrot/gpucore"
	"github.com/gogpu/vecrot/kernel"
)

const (
	storageUsage  = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	uniformUsage  = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	readbackUsage = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

func newBuffer(t *testing.T, a *Adapter, label string, size uint64, usage gputypes.BufferUsage) gpucore.BufferID {
	t.Helper()
	id, err := a.CreateBuffer(&gpucore.BufferDesc{Label: label, Size: size, Usage: usage})
	if err != nil {
		t.Fatalf("CreateBuffer(%q) error = %v", label, err)
	}
	return id
}

func encodeVectors(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math32.Float32bits(f))
	}
	return out
}

// encodeParams encodes the rotation uniform block.
func encodeParams(deg float32, count uint32) []byte {
	b := make([]byte, kernel.ParamsSize)
	binary.LittleEndian.PutUint32(b, math32.Float32bits(deg))
	binary.LittleEndian.PutUint32(b[kernel.ParamsCountOffset:], count)
	return b
}

func decodeVectors(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math32.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func approx(a, b float32) bool { return math32.Abs(a-b) < 1e-5 }

// mapAndRead maps a readback buffer, drains the queue and returns its bytes.
func mapAndRead(t *testing.T, a *Adapter, id gpucore.BufferID, size uint64) []byte {
	t.Helper()
	var status gpucore.MapStatus = -1
	if err := a.MapAsync(id, gputypes.MapModeRead, 0, size, func(s gpucore.MapStatus) { status = s }); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	a.Poll(true)
	if status != gpucore.MapStatusSuccess {
		t.Fatalf("map status = %v, want %v", status, gpucore.MapStatusSuccess)
	}
	data, err := a.MappedRange(id, 0, size)
	if err != nil {
		t.Fatalf("MappedRange() error = %v", err)
	}
	if err := a.Unmap(id); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	return data
}

type rotationPipeline struct {
	storage, uniform gpucore.BufferID
	pipeline         gpucore.ComputePipelineID
	group            gpucore.BindGroupID
}

func newRotationPipeline(t *testing.T, a *Adapter, elements uint64) rotationPipeline {
	t.Helper()
	return newPipelineFromSource(t, a, kernel.Source, elements)
}

func newPipelineFromSource(t *testing.T, a *Adapter, source string, elements uint64) rotationPipeline {
	t.Helper()
	var rp rotationPipeline
	rp.storage = newBuffer(t, a, "storage", elements*kernel.EntrySize, storageUsage)
	rp.uniform = newBuffer(t, a, "uniform", kernel.ParamsSize, uniformUsage)

	mod, err := a.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "rotate", WGSL: source})
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	bgl, err := a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "rotate",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: kernel.BindingStorage, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage, MinBindingSize: kernel.EntrySize}},
			{Binding: kernel.BindingUniform, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, MinBindingSize: kernel.ParamsSize}},
		},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}
	pl, err := a.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{Label: "rotate", BindGroupLayouts: []gpucore.BindGroupLayoutID{bgl}})
	if err != nil {
		t.Fatalf("CreatePipelineLayout() error = %v", err)
	}
	rp.pipeline, err = a.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label: "rotate", Layout: pl, ShaderModule: mod, EntryPoint: kernel.EntryPoint,
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() error = %v", err)
	}
	rp.group, err = a.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:  "rotate",
		Layout: bgl,
		Entries: []gpucore.BindGroupEntry{
			{Binding: kernel.BindingStorage, Buffer: rp.storage},
			{Binding: kernel.BindingUniform, Buffer: rp.uniform},
		},
	})
	if err != nil {
		t.Fatalf("CreateBindGroup() error = %v", err)
	}
	return rp
}

func (rp rotationPipeline) encodeDispatch(t *testing.T, a *Adapter, groups uint32) gpucore.CommandBuffer {
	t.Helper()
	enc, err := a.CreateCommandEncoder("rotate")
	if err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	pass, err := enc.BeginComputePass("rotate")
	if err != nil {
		t.Fatalf("BeginComputePass() error = %v", err)
	}
	pass.SetPipeline(rp.pipeline)
	pass.SetBindGroup(0, rp.group)
	pass.Dispatch(groups, 1, 1)
	if err := pass.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return cmd
}

func TestAdapterIdentity(t *testing.T) {
	a := New()
	defer a.Close()

	if a.Name() != backend.BackendSoftware {
		t.Errorf("Name() = %q, want %q", a.Name(), backend.BackendSoftware)
	}
	info := a.Info()
	if info.Type != gpucontext.AdapterTypeSoftware {
		t.Errorf("Info().Type = %v, want %v", info.Type, gpucontext.AdapterTypeSoftware)
	}
	if a.Limits().MaxBufferSize != gputypes.DefaultLimits().MaxBufferSize {
		t.Errorf("Limits().MaxBufferSize = %d, want default", a.Limits().MaxBufferSize)
	}
}

func TestRegisteredOnImport(t *testing.T) {
	if !backend.IsRegistered(backend.BackendSoftware) {
		t.Fatal("software backend not registered")
	}
	a, err := backend.Get(backend.BackendSoftware)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer a.Close()
	if _, ok := a.(*Adapter); !ok {
		t.Errorf("Get() returned %T, want *Adapter", a)
	}
}

func TestCreateBufferValidation(t *testing.T) {
	a := New(WithMaxBufferSize(64))
	defer a.Close()

	tests := []struct {
		name    string
		desc    *gpucore.BufferDesc
		wantErr error
	}{
		{"nil descriptor", nil, ErrInvalidDescriptor},
		{"no usage", &gpucore.BufferDesc{Size: 8}, ErrInvalidUsage},
		{"map read with storage", &gpucore.BufferDesc{Size: 8, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageStorage}, ErrInvalidUsage},
		{"too large", &gpucore.BufferDesc{Size: 65, Usage: storageUsage}, ErrBufferTooLarge},
		{"at limit", &gpucore.BufferDesc{Size: 64, Usage: storageUsage}, nil},
		{"readback", &gpucore.BufferDesc{Size: 8, Usage: readbackUsage}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.CreateBuffer(tt.desc)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateBuffer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteBufferExecutesOnPoll(t *testing.T) {
	a := New()
	defer a.Close()
	src := newBuffer(t, a, "src", 8, storageUsage)
	dst := newBuffer(t, a, "dst", 8, readbackUsage)

	if err := a.WriteBuffer(src, 0, encodeVectors(1, 2)); err != nil {
		t.Fatalf("WriteBuffer() error = %v", err)
	}
	if got := a.Stats().Writes; got != 1 {
		t.Errorf("Stats().Writes = %d, want 1", got)
	}

	enc, _ := a.CreateCommandEncoder("copy")
	enc.CopyBufferToBuffer(src, 0, dst, 0, 8)
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := a.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got := decodeVectors(mapAndRead(t, a, dst, 8))
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("readback = %v, want [1 2]", got)
	}
}

func TestWriteBufferValidation(t *testing.T) {
	a := New()
	defer a.Close()
	buf := newBuffer(t, a, "buf", 16, storageUsage)
	noDst := newBuffer(t, a, "nodst", 16, gputypes.BufferUsageStorage)

	tests := []struct {
		name    string
		id      gpucore.BufferID
		offset  uint64
		data    []byte
		wantErr error
	}{
		{"unknown", 999, 0, make([]byte, 4), ErrResourceNotFound},
		{"no copy dst", noDst, 0, make([]byte, 4), ErrUsageMismatch},
		{"unaligned offset", buf, 2, make([]byte, 4), ErrUnaligned},
		{"unaligned size", buf, 0, make([]byte, 3), ErrUnaligned},
		{"past end", buf, 12, make([]byte, 8), ErrOutOfRange},
		{"offset past end", buf, 20, make([]byte, 4), ErrOutOfRange},
		{"empty", buf, 16, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.WriteBuffer(tt.id, tt.offset, tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("WriteBuffer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if got := a.Stats().Writes; got != 0 {
		t.Errorf("Stats().Writes = %d, want 0", got)
	}
}

func TestMapLifecycle(t *testing.T) {
	a := New()
	defer a.Close()
	id := newBuffer(t, a, "readback", 16, readbackUsage)

	var calls int
	var status gpucore.MapStatus
	err := a.MapAsync(id, gputypes.MapModeRead, 0, 16, func(s gpucore.MapStatus) {
		calls++
		status = s
	})
	if err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if got := a.MapState(id); got != gpucore.MapStatePending {
		t.Errorf("MapState() = %v, want %v", got, gpucore.MapStatePending)
	}
	if calls != 0 {
		t.Error("callback fired before Poll")
	}
	if _, err := a.MappedRange(id, 0, 16); !errors.Is(err, ErrBufferNotMapped) {
		t.Errorf("MappedRange() while pending error = %v, want %v", err, ErrBufferNotMapped)
	}

	if idle := a.Poll(false); !idle {
		t.Error("Poll() = false, want idle after the only request")
	}
	if calls != 1 || status != gpucore.MapStatusSuccess {
		t.Errorf("callback calls = %d status = %v, want 1 %v", calls, status, gpucore.MapStatusSuccess)
	}
	if got := a.MapState(id); got != gpucore.MapStateMapped {
		t.Errorf("MapState() = %v, want %v", got, gpucore.MapStateMapped)
	}
	if _, err := a.MappedRange(id, 8, 8); err != nil {
		t.Errorf("MappedRange(8, 8) error = %v", err)
	}
	if _, err := a.MappedRange(id, 8, 16); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("MappedRange(8, 16) error = %v, want %v", err, ErrOutOfRange)
	}

	if err := a.Unmap(id); err != nil {
		t.Fatalf("Unmap() error = %v", err)
	}
	if err := a.Unmap(id); !errors.Is(err, ErrBufferNotMapped) {
		t.Errorf("second Unmap() error = %v, want %v", err, ErrBufferNotMapped)
	}
	a.Poll(true)
	if calls != 1 {
		t.Errorf("callback calls = %d, want exactly 1", calls)
	}
}

func TestMapAsyncValidation(t *testing.T) {
	a := New()
	defer a.Close()
	rb := newBuffer(t, a, "readback", 16, readbackUsage)
	st := newBuffer(t, a, "storage", 16, storageUsage)
	cb := func(gpucore.MapStatus) {}

	tests := []struct {
		name    string
		id      gpucore.BufferID
		mode    gputypes.MapMode
		offset  uint64
		size    uint64
		cb      func(gpucore.MapStatus)
		wantErr error
	}{
		{"nil callback", rb, gputypes.MapModeRead, 0, 16, nil, ErrCallbackNil},
		{"unknown", 999, gputypes.MapModeRead, 0, 16, cb, ErrResourceNotFound},
		{"no map read", st, gputypes.MapModeRead, 0, 16, cb, ErrUsageMismatch},
		{"no map write", rb, gputypes.MapModeWrite, 0, 16, cb, ErrUsageMismatch},
		{"bad mode", rb, 0, 0, 16, cb, ErrInvalidMapMode},
		{"unaligned offset", rb, gputypes.MapModeRead, 4, 8, cb, ErrUnaligned},
		{"too long", rb, gputypes.MapModeRead, 8, 16, cb, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.MapAsync(tt.id, tt.mode, tt.offset, tt.size, tt.cb); !errors.Is(err, tt.wantErr) {
				t.Errorf("MapAsync() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := a.MapAsync(rb, gputypes.MapModeRead, 0, 16, cb); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if err := a.MapAsync(rb, gputypes.MapModeRead, 0, 16, cb); !errors.Is(err, ErrBufferAlreadyMapped) {
		t.Errorf("MapAsync() while pending error = %v, want %v", err, ErrBufferAlreadyMapped)
	}
	if got := a.Stats().MapRequests; got != 1 {
		t.Errorf("Stats().MapRequests = %d, want 1", got)
	}
}

func TestMapCanceledStatuses(t *testing.T) {
	tests := []struct {
		name   string
		cancel func(a *Adapter, id gpucore.BufferID)
		want   gpucore.MapStatus
	}{
		{
			name:   "unmap before callback",
			cancel: func(a *Adapter, id gpucore.BufferID) { _ = a.Unmap(id) },
			want:   gpucore.MapStatusUnmappedBeforeCallback,
		},
		{
			name:   "destroy before callback",
			cancel: func(a *Adapter, id gpucore.BufferID) { a.DestroyBuffer(id) },
			want:   gpucore.MapStatusDestroyedBeforeCallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			defer a.Close()
			id := newBuffer(t, a, "readback", 8, readbackUsage)

			var got gpucore.MapStatus = -1
			if err := a.MapAsync(id, gputypes.MapModeRead, 0, 8, func(s gpucore.MapStatus) { got = s }); err != nil {
				t.Fatalf("MapAsync() error = %v", err)
			}
			tt.cancel(a, id)
			a.Poll(true)
			if got != tt.want {
				t.Errorf("status = %v, want %v", got, tt.want)
			}
			if got.Err() == nil {
				t.Error("Err() = nil for a failed mapping")
			}
		})
	}
}

func TestInjectedFaults(t *testing.T) {
	t.Run("map rejected", func(t *testing.T) {
		a := New()
		defer a.Close()
		id := newBuffer(t, a, "readback", 8, readbackUsage)
		a.InjectFault(FaultMapRejected)

		called := false
		err := a.MapAsync(id, gputypes.MapModeRead, 0, 8, func(gpucore.MapStatus) { called = true })
		if !errors.Is(err, ErrInjected) {
			t.Errorf("MapAsync() error = %v, want %v", err, ErrInjected)
		}
		a.Poll(true)
		if called {
			t.Error("callback invoked for a synchronously rejected request")
		}
		if got := a.MapState(id); got != gpucore.MapStateUnmapped {
			t.Errorf("MapState() = %v, want %v", got, gpucore.MapStateUnmapped)
		}
	})

	t.Run("device lost", func(t *testing.T) {
		a := New()
		defer a.Close()
		id := newBuffer(t, a, "readback", 8, readbackUsage)
		a.InjectFault(FaultDeviceLost)

		var got gpucore.MapStatus = -1
		if err := a.MapAsync(id, gputypes.MapModeRead, 0, 8, func(s gpucore.MapStatus) { got = s }); err != nil {
			t.Fatalf("MapAsync() error = %v", err)
		}
		a.Poll(true)
		if got != gpucore.MapStatusDeviceLost {
			t.Errorf("status = %v, want %v", got, gpucore.MapStatusDeviceLost)
		}
		if st := a.MapState(id); st != gpucore.MapStateUnmapped {
			t.Errorf("MapState() = %v, want %v", st, gpucore.MapStateUnmapped)
		}
	})

	t.Run("lost callback", func(t *testing.T) {
		a := New()
		defer a.Close()
		id := newBuffer(t, a, "readback", 8, readbackUsage)
		a.InjectFault(FaultLostCallback)

		called := false
		if err := a.MapAsync(id, gputypes.MapModeRead, 0, 8, func(gpucore.MapStatus) { called = true }); err != nil {
			t.Fatalf("MapAsync() error = %v", err)
		}
		if idle := a.Poll(true); !idle {
			t.Error("Poll(true) = false, want idle")
		}
		if called {
			t.Error("callback invoked under FaultLostCallback")
		}

		a.InjectFault(FaultNone)
		mapAndRead(t, a, id, 8)
	})
}

func TestPollStepsOneOperation(t *testing.T) {
	a := New()
	defer a.Close()
	buf := newBuffer(t, a, "buf", 8, storageUsage)
	for range 3 {
		if err := a.WriteBuffer(buf, 0, encodeVectors(1, 1)); err != nil {
			t.Fatalf("WriteBuffer() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if a.Poll(false) {
			t.Fatalf("Poll(false) #%d = idle, want busy", i+1)
		}
	}
	if !a.Poll(false) {
		t.Error("Poll(false) #3 = busy, want idle")
	}
	if !a.Poll(true) {
		t.Error("Poll(true) on empty queue = busy")
	}
}

func TestDispatchRotates(t *testing.T) {
	a := New()
	defer a.Close()
	rp := newRotationPipeline(t, a, 4)
	out := newBuffer(t, a, "readback", 4*kernel.EntrySize, readbackUsage)

	if err := a.WriteBuffer(rp.storage, 0, encodeVectors(1, 0, 0, 1, -1, 0, 2, 2)); err != nil {
		t.Fatalf("WriteBuffer(storage) error = %v", err)
	}
	if err := a.WriteBuffer(rp.uniform, 0, encodeParams(90, 3)); err != nil {
		t.Fatalf("WriteBuffer(uniform) error = %v", err)
	}
	// Rotate only the first three elements.
	if err := a.Submit(rp.encodeDispatch(t, a, 3)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	enc, _ := a.CreateCommandEncoder("copy")
	enc.CopyBufferToBuffer(rp.storage, 0, out, 0, 4*kernel.EntrySize)
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := a.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got := decodeVectors(mapAndRead(t, a, out, 4*kernel.EntrySize))
	want := []float32{0, 1, -1, 0, 0, -1, 2, 2}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("component %d = %v, want %v", i, got[i], want[i])
		}
	}
	if err := a.DeviceError(); err != nil {
		t.Errorf("DeviceError() = %v", err)
	}
}

func TestDispatchBeyondArrayIsIgnored(t *testing.T) {
	a := New()
	defer a.Close()
	rp := newRotationPipeline(t, a, 1)
	out := newBuffer(t, a, "readback", kernel.EntrySize, readbackUsage)
	_ = a.WriteBuffer(rp.storage, 0, encodeVectors(1, 0))
	_ = a.WriteBuffer(rp.uniform, 0, encodeParams(180, 8))

	if err := a.Submit(rp.encodeDispatch(t, a, 8)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	enc, _ := a.CreateCommandEncoder("copy")
	enc.CopyBufferToBuffer(rp.storage, 0, out, 0, kernel.EntrySize)
	cmd, _ := enc.Finish()
	if err := a.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got := decodeVectors(mapAndRead(t, a, out, kernel.EntrySize))
	if !approx(got[0], -1) || !approx(got[1], 0) {
		t.Errorf("rotated = %v, want [-1 0]", got)
	}
}

// readStorage copies n entries of rp.storage out and returns their components.
func (rp rotationPipeline) readStorage(t *testing.T, a *Adapter, n uint64) []float32 {
	t.Helper()
	out := newBuffer(t, a, "readback", n*kernel.EntrySize, readbackUsage)
	enc, _ := a.CreateCommandEncoder("copy")
	enc.CopyBufferToBuffer(rp.storage, 0, out, 0, n*kernel.EntrySize)
	cmd, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := a.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return decodeVectors(mapAndRead(t, a, out, n*kernel.EntrySize))
}

func TestDispatchHonorsActiveCount(t *testing.T) {
	a := New()
	defer a.Close()
	rp := newRotationPipeline(t, a, 4)
	_ = a.WriteBuffer(rp.storage, 0, encodeVectors(1, 0, 1, 0, 1, 0, 1, 0))
	_ = a.WriteBuffer(rp.uniform, 0, encodeParams(90, 2))

	// Four invocations, two active.
	if err := a.Submit(rp.encodeDispatch(t, a, 4)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	got := rp.readStorage(t, a, 4)
	want := []float32{0, 1, 0, 1, 1, 0, 1, 0}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("component %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDispatchWideWorkgroup(t *testing.T) {
	wide := strings.Replace(kernel.Source, "@workgroup_size(1)", "@workgroup_size(64)", 1)
	RegisterKernel(wide, kernel.EntryPoint, kernel.Invoke)

	a := New()
	defer a.Close()
	rp := newPipelineFromSource(t, a, wide, 64)
	in := make([]float32, 0, 128)
	for range 64 {
		in = append(in, 1, 0)
	}
	_ = a.WriteBuffer(rp.storage, 0, encodeVectors(in...))
	_ = a.WriteBuffer(rp.uniform, 0, encodeParams(90, 3))

	// One workgroup of 64 invocations covers three elements.
	if err := a.Submit(rp.encodeDispatch(t, a, 1)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	got := rp.readStorage(t, a, 64)
	for i := range 64 {
		wantX, wantY := float32(1), float32(0)
		if i < 3 {
			wantX, wantY = 0, 1
		}
		if !approx(got[2*i], wantX) || !approx(got[2*i+1], wantY) {
			t.Errorf("entry %d = (%v, %v), want (%v, %v)", i, got[2*i], got[2*i+1], wantX, wantY)
		}
	}
}

func TestCreateComputePipelineUnknownKernel(t *testing.T) {
	a := New()
	defer a.Close()

	const src = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2.0;
}
`
	mod, err := a.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "double", WGSL: src})
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	pl, err := a.CreatePipelineLayout(&gpucore.PipelineLayoutDesc{})
	if err != nil {
		t.Fatalf("CreatePipelineLayout() error = %v", err)
	}
	_, err = a.CreateComputePipeline(&gpucore.ComputePipelineDesc{Layout: pl, ShaderModule: mod, EntryPoint: "main"})
	if !errors.Is(err, ErrUnsupportedKernel) {
		t.Errorf("CreateComputePipeline() error = %v, want %v", err, ErrUnsupportedKernel)
	}
	_, err = a.CreateComputePipeline(&gpucore.ComputePipelineDesc{Layout: pl, ShaderModule: mod, EntryPoint: "missing"})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("CreateComputePipeline(missing) error = %v, want %v", err, ErrInvalidDescriptor)
	}
}

func TestCreateShaderModuleCompileError(t *testing.T) {
	a := New()
	defer a.Close()
	_, err := a.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "broken", WGSL: "fn main( {"})
	if !errors.Is(err, kernel.ErrCompile) {
		t.Errorf("CreateShaderModule() error = %v, want %v", err, kernel.ErrCompile)
	}
}

func TestSubmitValidation(t *testing.T) {
	a := New()
	defer a.Close()
	src := newBuffer(t, a, "src", 8, storageUsage)
	dst := newBuffer(t, a, "dst", 8, readbackUsage)

	finish := func() gpucore.CommandBuffer {
		enc, _ := a.CreateCommandEncoder("copy")
		enc.CopyBufferToBuffer(src, 0, dst, 0, 8)
		cmd, err := enc.Finish()
		if err != nil {
			t.Fatalf("Finish() error = %v", err)
		}
		return cmd
	}

	cmd := finish()
	if err := a.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := a.Submit(cmd); !errors.Is(err, ErrCommandBufferConsumed) {
		t.Errorf("resubmit error = %v, want %v", err, ErrCommandBufferConsumed)
	}

	other := New()
	defer other.Close()
	if err := other.Submit(finish()); !errors.Is(err, ErrForeignCommandBuffer) {
		t.Errorf("foreign Submit() error = %v, want %v", err, ErrForeignCommandBuffer)
	}

	if err := a.MapAsync(dst, gputypes.MapModeRead, 0, 8, func(gpucore.MapStatus) {}); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}
	if err := a.Submit(finish()); !errors.Is(err, ErrBufferBusy) {
		t.Errorf("Submit() with mapped destination error = %v, want %v", err, ErrBufferBusy)
	}
	if got := a.Stats().Submissions; got != 1 {
		t.Errorf("Stats().Submissions = %d, want 1", got)
	}
}

func TestEncoderStateMachine(t *testing.T) {
	a := New()
	defer a.Close()
	rp := newRotationPipeline(t, a, 2)
	dst := newBuffer(t, a, "dst", 16, readbackUsage)

	t.Run("locked during pass", func(t *testing.T) {
		enc, _ := a.CreateCommandEncoder("locked")
		if _, err := enc.BeginComputePass("p"); err != nil {
			t.Fatalf("BeginComputePass() error = %v", err)
		}
		if _, err := enc.BeginComputePass("q"); !errors.Is(err, ErrEncoderLocked) {
			t.Errorf("nested BeginComputePass() error = %v, want %v", err, ErrEncoderLocked)
		}
		if _, err := enc.Finish(); !errors.Is(err, ErrEncoderLocked) {
			t.Errorf("Finish() during pass error = %v, want %v", err, ErrEncoderLocked)
		}
	})

	t.Run("finished", func(t *testing.T) {
		enc, _ := a.CreateCommandEncoder("finished")
		if _, err := enc.Finish(); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}
		if _, err := enc.Finish(); !errors.Is(err, ErrEncoderFinished) {
			t.Errorf("second Finish() error = %v, want %v", err, ErrEncoderFinished)
		}
	})

	t.Run("dispatch without pipeline", func(t *testing.T) {
		enc, _ := a.CreateCommandEncoder("nopipe")
		pass, _ := enc.BeginComputePass("p")
		pass.Dispatch(1, 1, 1)
		if err := pass.End(); !errors.Is(err, ErrDispatchMissingPipeline) {
			t.Errorf("End() error = %v, want %v", err, ErrDispatchMissingPipeline)
		}
		if _, err := enc.Finish(); !errors.Is(err, ErrDispatchMissingPipeline) {
			t.Errorf("Finish() error = %v, want %v", err, ErrDispatchMissingPipeline)
		}
	})

	t.Run("dispatch without bind group", func(t *testing.T) {
		enc, _ := a.CreateCommandEncoder("nogroup")
		pass, _ := enc.BeginComputePass("p")
		pass.SetPipeline(rp.pipeline)
		pass.Dispatch(1, 1, 1)
		if err := pass.End(); !errors.Is(err, ErrDispatchMissingBindGroup) {
			t.Errorf("End() error = %v, want %v", err, ErrDispatchMissingBindGroup)
		}
	})

	t.Run("workgroup limit", func(t *testing.T) {
		enc, _ := a.CreateCommandEncoder("limit")
		pass, _ := enc.BeginComputePass("p")
		pass.SetPipeline(rp.pipeline)
		pass.SetBindGroup(0, rp.group)
		pass.Dispatch(a.Limits().MaxComputeWorkgroupsPerDimension+1, 1, 1)
		if err := pass.End(); !errors.Is(err, ErrWorkgroupCountExceedsLimit) {
			t.Errorf("End() error = %v, want %v", err, ErrWorkgroupCountExceedsLimit)
		}
	})

	t.Run("ended pass", func(t *testing.T) {
		enc, _ := a.CreateCommandEncoder("ended")
		pass, _ := enc.BeginComputePass("p")
		_ = pass.End()
		if err := pass.End(); !errors.Is(err, ErrComputePassEnded) {
			t.Errorf("second End() error = %v, want %v", err, ErrComputePassEnded)
		}
	})

	t.Run("copy validation", func(t *testing.T) {
		tests := []struct {
			name    string
			src     gpucore.BufferID
			dst     gpucore.BufferID
			size    uint64
			wantErr error
		}{
			{"missing source", 999, dst, 8, ErrResourceNotFound},
			{"source lacks copy src", rp.uniform, dst, 8, ErrUsageMismatch},
			{"unaligned", rp.storage, dst, 6, ErrUnaligned},
			{"too long", rp.storage, dst, 24, ErrOutOfRange},
		}
		for _, tt := range tests {
			enc, _ := a.CreateCommandEncoder(tt.name)
			enc.CopyBufferToBuffer(tt.src, 0, tt.dst, 0, tt.size)
			if _, err := enc.Finish(); !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: Finish() error = %v, want %v", tt.name, err, tt.wantErr)
			}
		}
	})
}

func TestCreateBindGroupValidation(t *testing.T) {
	a := New()
	defer a.Close()
	small := newBuffer(t, a, "small", 4, storageUsage)
	uni := newBuffer(t, a, "uniform", kernel.ParamsSize, uniformUsage)
	storage := newBuffer(t, a, "storage", 16, storageUsage)

	bgl, err := a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage, MinBindingSize: kernel.EntrySize}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}

	tests := []struct {
		name    string
		entries []gpucore.BindGroupEntry
		wantErr error
	}{
		{"missing entry", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage}}, ErrInvalidDescriptor},
		{"wrong binding", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage}, {Binding: 5, Buffer: uni}}, ErrInvalidDescriptor},
		{"usage mismatch", []gpucore.BindGroupEntry{{Binding: 0, Buffer: uni}, {Binding: 1, Buffer: uni}}, ErrUsageMismatch},
		{"below min size", []gpucore.BindGroupEntry{{Binding: 0, Buffer: small}, {Binding: 1, Buffer: uni}}, ErrOutOfRange},
		{"range past end", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage, Offset: 8, Size: 16}, {Binding: 1, Buffer: uni}}, ErrOutOfRange},
		{"valid", []gpucore.BindGroupEntry{{Binding: 0, Buffer: storage}, {Binding: 1, Buffer: uni}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.CreateBindGroup(&gpucore.BindGroupDesc{Layout: bgl, Entries: tt.entries})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateBindGroup() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	_, err = a.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Entries: []gputypes.BindGroupLayoutEntry{{Binding: 0}},
	})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("CreateBindGroupLayout(non-buffer) error = %v, want %v", err, ErrInvalidDescriptor)
	}
}

func TestStatsTrackResources(t *testing.T) {
	a := New()
	defer a.Close()

	rp := newRotationPipeline(t, a, 2)
	st := a.Stats()
	// storage, uniform, module, bind group layout, pipeline layout, pipeline, bind group
	if st.Created != 7 || st.Live != 7 {
		t.Errorf("Stats() = %+v, want Created=7 Live=7", st)
	}
	a.DestroyBindGroup(rp.group)
	a.DestroyComputePipeline(rp.pipeline)
	a.DestroyBuffer(rp.storage)
	a.DestroyBuffer(rp.storage)
	if got := a.Stats().Live; got != 4 {
		t.Errorf("Stats().Live = %d, want 4", got)
	}
	if got := a.BufferSize(rp.storage); got != 0 {
		t.Errorf("BufferSize(destroyed) = %d, want 0", got)
	}
	if got := a.BufferSize(rp.uniform); got != kernel.ParamsSize {
		t.Errorf("BufferSize(uniform) = %d, want %d", got, kernel.ParamsSize)
	}
}

func TestClose(t *testing.T) {
	a := New()
	id := newBuffer(t, a, "readback", 8, readbackUsage)
	called := false
	if err := a.MapAsync(id, gputypes.MapModeRead, 0, 8, func(gpucore.MapStatus) { called = true }); err != nil {
		t.Fatalf("MapAsync() error = %v", err)
	}

	a.Close()
	a.Close()

	if !a.Poll(true) {
		t.Error("Poll() after Close = busy, want idle")
	}
	if called {
		t.Error("pending callback invoked after Close")
	}
	if _, err := a.CreateBuffer(&gpucore.BufferDesc{Size: 8, Usage: storageUsage}); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateBuffer() after Close error = %v, want %v", err, ErrClosed)
	}
	if _, err := a.CreateCommandEncoder("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateCommandEncoder() after Close error = %v, want %v", err, ErrClosed)
	}
}
