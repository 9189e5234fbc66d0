// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package zc provides helpers for working with zero-copy ranges: slices of
// a decoder's input buffer that a decoded message can point at directly
// instead of copying.
package zc

import (
	"fmt"
	"math"
	"unsafe"

	"buf.build/go/minipb/internal/dbg"
	"buf.build/go/minipb/internal/debug"
)

// Range is a []byte represented as an offset and length relative to some
// larger byte array, such as a decoder's input buffer.
//
// This is a packed representation of a value with the layout
//
//	struct { offset, len uint32 }
//
// The zero value faithfully represents an empty slice starting at offset 0.
type Range uint64

// New creates a Range over src spanning [start, start+len).
func New(src, start *byte, length int) Range {
	offset := int(uintptr(unsafe.Pointer(start)) - uintptr(unsafe.Pointer(src)))
	return NewRaw(offset, length)
}

// NewRaw builds a Range directly from an offset and length.
func NewRaw(offset, length int) Range {
	debug.Assert(offset >= 0 && offset <= math.MaxUint32 && length <= math.MaxUint32,
		"offset too large for zc: [%d:%d]", offset, length)
	return Range(uint32(offset)) | Range(uint32(length))<<32
}

// Start returns the start offset of this range within its source.
func (r Range) Start() int { return int(uint32(r)) }

// End returns the end offset of this range within its source.
func (r Range) End() int { return r.Start() + r.Len() }

// Len returns the length of this range.
func (r Range) Len() int { return int(r >> 32) }

// Bytes converts this range into a byte slice aliasing src. The returned
// slice is only valid as long as src is valid; mutating src through another
// reference invalidates it without any notice.
func (r Range) Bytes(src *byte) []byte {
	if r.Len() == 0 {
		return nil
	}
	p := (*byte)(unsafe.Add(unsafe.Pointer(src), r.Start()))
	return unsafe.Slice(p, r.Len())
}

// String is like Bytes, but returns a string aliasing src.
func (r Range) String(src *byte) string {
	if r.Len() == 0 {
		return ""
	}
	p := (*byte)(unsafe.Add(unsafe.Pointer(src), r.Start()))
	return unsafe.String(p, r.Len())
}

// Format implements [fmt.Formatter].
func (r Range) Format(s fmt.State, verb rune) {
	dbg.Fprintf("[%d:%d]", r.Start(), r.End()).Format(s, verb)
}
