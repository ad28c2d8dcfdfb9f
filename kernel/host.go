// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package kernel

import (
	"encoding/binary"

	"github.com/chewxy/math32"
)

// Bindings maps binding indices of bind group 0 to the byte ranges bound
// there. Storage ranges alias device memory and are written in place.
type Bindings map[uint32][]byte

// Invocation executes one kernel invocation on the host.
type Invocation func(b Bindings, globalID [3]uint32)

// Rotate returns (x, y) rotated counter-clockwise by deg degrees.
func Rotate(x, y, deg float32) (float32, float32) {
	a := deg * (math32.Pi / 180)
	s, c := math32.Sincos(a)
	return x*c - y*s, x*s + y*c
}

// Invoke is the host rendition of one rotate.wgsl invocation: it rotates
// the element at globalID.x. IDs at or past the uniform count are ignored,
// as are IDs outside the bound storage range.
func Invoke(b Bindings, globalID [3]uint32) {
	storage := b[BindingStorage]
	uniform := b[BindingUniform]
	if len(uniform) < ParamsCountOffset+4 {
		return
	}
	if globalID[0] >= binary.LittleEndian.Uint32(uniform[ParamsCountOffset:]) {
		return
	}
	off := uint64(globalID[0]) * EntrySize
	if off+EntrySize > uint64(len(storage)) {
		return
	}
	deg := math32.Float32frombits(binary.LittleEndian.Uint32(uniform[0:4]))
	e := storage[off : off+EntrySize]
	x := math32.Float32frombits(binary.LittleEndian.Uint32(e[0:4]))
	y := math32.Float32frombits(binary.LittleEndian.Uint32(e[4:8]))
	x, y = Rotate(x, y, deg)
	binary.LittleEndian.PutUint32(e[0:4], math32.Float32bits(x))
	binary.LittleEndian.PutUint32(e[4:8], math32.Float32bits(y))
}
