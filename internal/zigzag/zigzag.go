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

// Package zigzag implements Protobuf's zig-zag integer encoding, which maps
// signed values of small magnitude to small unsigned varints: -1->1, 1->2,
// -2->3, and so on.
package zigzag

import (
	"unsafe"

	"google.golang.org/protobuf/encoding/protowire"
)

// Number is any signed or unsigned integer width Protobuf's zig-zag
// encoding applies to.
type Number interface {
	~int32 | ~int64 | ~uint32 | ~uint64
}

// Decode decodes a zig-zag-encoded value of any width.
func Decode[T Number](raw T) T {
	n := uint64(raw)
	n &= (1 << (unsafe.Sizeof(raw) * 8)) - 1

	return T(protowire.DecodeZigZag(n))
}

// Decode64 is Decode for callers that only have a raw 64-bit register's
// worth of bits, such as a decoder that has already read a varint without
// knowing its field's declared width.
func Decode64[T Number](raw uint64) T {
	return Decode(T(raw))
}

// Signed is the subset of [Number] that zig-zag encoding is actually meant
// for: Encode on an unsigned type would reinterpret its bit pattern as
// negative for the upper half of its range, which is never what a sint32 or
// sint64 field means.
type Signed interface{ ~int32 | ~int64 }

// Encode zig-zag-encodes a signed value of any width.
func Encode[T Signed](v T) uint64 {
	return protowire.EncodeZigZag(int64(v))
}
