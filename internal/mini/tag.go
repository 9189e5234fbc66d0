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

// Package mini implements the compact binary layout description of a
// message type: fields, sub-layout indirections, and the fast-path
// dispatch tables the decoder jumps through.
package mini

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"google.golang.org/protobuf/encoding/protowire"

	"buf.build/go/minipb/internal/dbg"
)

// signBits masks off the continuation bit of every byte in a uint64, used to
// turn an encoded tag into the packed, sign-bit-free form [Tag] stores.
const signBits = 0x80_80_80_80_80_80_80_80

// Tag is a field tag (field number and wire type), stored in the same byte
// layout it would have on the wire, but with the continuation bit of every
// byte cleared. This lets the fast-path decoder compare a handful of raw
// input bytes against a Tag directly, without first decoding either side.
type Tag uint64

// EncodeTag packs a field number and wire type into a [Tag].
func EncodeTag(n protowire.Number, t protowire.Type) Tag {
	var buf [binary.MaxVarintLen64]byte
	encoded := protowire.AppendTag(buf[:0], n, t)

	var tag Tag
	for i, b := range encoded {
		tag |= Tag(b) << (8 * i)
	}
	return tag &^ signBits
}

// Decode unpacks this tag back into a plain varint-encoded uint64, i.e. one
// with the continuation bits restored.
func (t Tag) Decode() uint64 {
	var tag uint64
	for i := 0; i < 8; i++ {
		b := (uint64(t) >> (8 * i)) & 0x7f
		tag |= b << (7 * i)
	}
	return tag
}

// Number returns the field number this tag addresses.
func (t Tag) Number() protowire.Number {
	n, _ := protowire.DecodeTag(t.Decode())
	return n
}

// Type returns the wire type this tag carries.
func (t Tag) Type() protowire.Type {
	_, ty := protowire.DecodeTag(t.Decode())
	return ty
}

// Overflows reports whether this tag, once decoded, would not fit in 32
// bits -- i.e. whether it encodes a field number larger than Protobuf
// permits.
func (t Tag) Overflows() bool {
	return bits.LeadingZeros64(t.Decode()) < (64 - 32)
}

// Format implements [fmt.Formatter].
func (t Tag) Format(s fmt.State, verb rune) {
	if t == ^Tag(0) {
		fmt.Fprint(s, "<invalid>")
		return
	}
	dbg.Fprintf("%#x:%d:%d", uint64(t), t.Number(), t.Type()).Format(s, verb)
}
