// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package kernel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/vecrot/internal/cache"
)

// Reflection errors.
var (
	// ErrCompile is returned when the WGSL source fails to parse, lower,
	// or validate.
	ErrCompile = errors.New("kernel: compile failed")

	// ErrKernelContract is returned when a module does not declare the
	// bindings or entry point the engine relies on.
	ErrKernelContract = errors.New("kernel: binding contract violated")
)

// Reflection describes what the host needs to know about a compiled kernel.
type Reflection struct {
	// EntryPoint is the compute entry point name.
	EntryPoint string

	// Workgroup is the @workgroup_size of the entry point.
	Workgroup [3]uint32

	// StorageStride is the array stride of the storage binding.
	StorageStride uint32

	// UniformSize is the byte size of the uniform block type.
	UniformSize uint32
}

// Workgroups returns the number of workgroups along X needed to cover
// elements invocations. It is ceil(elements / Workgroup[0]).
func (r *Reflection) Workgroups(elements uint32) uint32 {
	wg := r.Workgroup[0]
	if wg <= 1 {
		return elements
	}
	return elements/wg + boolToUint32(elements%wg != 0)
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

type compiled struct {
	mod *ir.Module
	err error
}

// modules memoizes Compile by source text.
var modules = cache.New[string, compiled](0)

// Compile parses, lowers and validates WGSL source into naga IR.
// Results are cached by source; the returned module is shared and must
// not be modified.
func Compile(source string) (*ir.Module, error) {
	c := modules.GetOrCreate(source, func() compiled {
		mod, err := compile(source)
		return compiled{mod, err}
	})
	return c.mod, c.err
}

func compile(source string) (*ir.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	verrs, err := naga.Validate(mod)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("%w: %w (%d validation errors)", ErrCompile, verrs[0], len(verrs))
	}
	return mod, nil
}

// Reflect compiles source and checks it against the rotation binding
// contract: binding 0 a read-write storage array with an EntrySize
// stride, binding 1 a uniform block no larger than ParamsSize, and a
// compute entry point named entryPoint.
func Reflect(source, entryPoint string) (*Reflection, error) {
	mod, err := Compile(source)
	if err != nil {
		return nil, err
	}
	return reflectModule(mod, entryPoint)
}

func reflectModule(mod *ir.Module, entryPoint string) (*Reflection, error) {
	r := &Reflection{EntryPoint: entryPoint}

	var haveStorage, haveUniform bool
	for i := range mod.GlobalVariables {
		gv := &mod.GlobalVariables[i]
		if gv.Binding == nil || gv.Binding.Group != 0 {
			continue
		}
		switch gv.Binding.Binding {
		case BindingStorage:
			stride, err := storageStride(mod, gv)
			if err != nil {
				return nil, err
			}
			r.StorageStride = stride
			haveStorage = true
		case BindingUniform:
			if gv.Space != ir.SpaceUniform {
				return nil, fmt.Errorf("%w: binding %d %q is not a uniform", ErrKernelContract, BindingUniform, gv.Name)
			}
			r.UniformSize = ir.TypeSize(mod, gv.Type)
			if r.UniformSize == 0 || r.UniformSize > ParamsSize {
				return nil, fmt.Errorf("%w: uniform %q is %d bytes, want 1..%d", ErrKernelContract, gv.Name, r.UniformSize, ParamsSize)
			}
			haveUniform = true
		}
	}
	if !haveStorage {
		return nil, fmt.Errorf("%w: missing storage binding %d", ErrKernelContract, BindingStorage)
	}
	if !haveUniform {
		return nil, fmt.Errorf("%w: missing uniform binding %d", ErrKernelContract, BindingUniform)
	}

	for i := range mod.EntryPoints {
		ep := &mod.EntryPoints[i]
		if ep.Name != entryPoint {
			continue
		}
		if ep.Stage != ir.StageCompute {
			return nil, fmt.Errorf("%w: entry point %q is not a compute stage", ErrKernelContract, entryPoint)
		}
		r.Workgroup = ep.Workgroup
		for d := range r.Workgroup {
			if r.Workgroup[d] == 0 {
				r.Workgroup[d] = 1
			}
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: no entry point %q", ErrKernelContract, entryPoint)
}

func storageStride(mod *ir.Module, gv *ir.GlobalVariable) (uint32, error) {
	if gv.Space != ir.SpaceStorage || gv.Access != ir.StorageReadWrite {
		return 0, fmt.Errorf("%w: binding %d %q is not read_write storage", ErrKernelContract, BindingStorage, gv.Name)
	}
	if int(gv.Type) >= len(mod.Types) {
		return 0, fmt.Errorf("%w: binding %d has unknown type", ErrKernelContract, BindingStorage)
	}
	arr, ok := mod.Types[gv.Type].Inner.(ir.ArrayType)
	if !ok {
		return 0, fmt.Errorf("%w: binding %d %q is not an array", ErrKernelContract, BindingStorage, gv.Name)
	}
	if arr.Stride != EntrySize {
		return 0, fmt.Errorf("%w: storage stride %d, want %d", ErrKernelContract, arr.Stride, EntrySize)
	}
	return arr.Stride, nil
}

var (
	builtinOnce sync.Once
	builtinRefl *Reflection
	builtinErr  error
)

// Builtin returns the reflection of the embedded rotation kernel.
// The result is computed once and shared.
func Builtin() (*Reflection, error) {
	builtinOnce.Do(func() {
		builtinRefl, builtinErr = Reflect(Source, EntryPoint)
	})
	if builtinErr != nil {
		return nil, builtinErr
	}
	r := *builtinRefl
	return &r, nil
}
