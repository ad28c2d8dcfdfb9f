// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package vecrot

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/vecrot/kernel"
)

const (
	// MaxCapacity is the default number of storage entries of an Engine.
	MaxCapacity = 1024

	// StorageEntrySize is the device size of one StorageEntry in bytes.
	StorageEntrySize = kernel.EntrySize

	// UniformParamsSize is the device size of the uniform block in bytes.
	// UniformParams occupies the first 4 bytes. The engine keeps the
	// active element count in the next 4; the rest pads the block to the
	// 16-byte minimum binding size.
	UniformParamsSize = kernel.ParamsSize
)

// Vector2 is a 2D vector of float32 components.
type Vector2 struct {
	X, Y float32
}

// String implements fmt.Stringer.
func (v Vector2) String() string {
	return fmt.Sprintf("(%g, %g)", v.X, v.Y)
}

// StorageEntry is one element of the device storage array.
// Layout: X at bytes 0-3, Y at bytes 4-7, little-endian, no padding.
type StorageEntry struct {
	V Vector2
}

// UniformParams is the kernel's uniform block.
type UniformParams struct {
	// RotateDeg is the counter-clockwise rotation applied per dispatch,
	// in degrees.
	RotateDeg float32
}

// EncodeStorage appends the device encoding of entries to dst.
func EncodeStorage(dst []byte, entries []StorageEntry) []byte {
	for _, e := range entries {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(e.V.X))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(e.V.Y))
	}
	return dst
}

// DecodeStorage decodes whole entries from b. A trailing partial entry is
// ignored.
func DecodeStorage(b []byte) []StorageEntry {
	out := make([]StorageEntry, len(b)/StorageEntrySize)
	for i := range out {
		e := b[i*StorageEntrySize:]
		out[i].V.X = math.Float32frombits(binary.LittleEndian.Uint32(e[0:4]))
		out[i].V.Y = math.Float32frombits(binary.LittleEndian.Uint32(e[4:8]))
	}
	return out
}

// Encode returns the 16-byte device encoding of p with a zero count.
func (p UniformParams) Encode() []byte {
	b := make([]byte, UniformParamsSize)
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(p.RotateDeg))
	return b
}
