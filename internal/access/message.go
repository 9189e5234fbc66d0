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

// Package access implements the typed accessor layer over a decoded
// message's raw byte buffer: get/set/has/clear operations keyed by a
// [mini.Field], plus the repeated-field array and unknown-field storage
// that sit alongside it.
package access

import (
	"fmt"
	"unsafe"

	"google.golang.org/protobuf/encoding/protowire"

	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/debug"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/unsafe2"
	"buf.build/go/minipb/internal/zc"
)

// Message is a decoded message: an arena-backed byte buffer whose shape is
// described by Table, plus the out-of-band storage (unknown fields) that
// doesn't fit the fixed per-type layout.
//
// Unlike a generated Go struct, a Message carries its type alongside the
// buffer rather than inside it -- there is no vtable-pointer word to keep
// in sync, since nothing here ever needs to recover a *Message from a bare
// pointer to its buffer.
type Message struct {
	_ unsafe2.NoCopy

	Table *mini.Table
	Arena *arena.Arena
	Data  *byte

	// Src is the byte buffer every [zc.Range] stored in this message (and
	// every message reachable from it) is relative to. A decode -- wire
	// or JSON -- allocates exactly one such buffer for an entire parse
	// and shares it across the whole message tree, the way upb's decoded
	// messages all alias the same input arena.
	Src *byte

	// Unknown holds raw (tag, value) byte ranges for fields the mini-table
	// didn't recognize, in encounter order, so re-serialization can
	// reproduce them.
	Unknown []zc.Range

	// OwnedStrings holds singular string/bytes field values installed
	// through the mutation API rather than decoded off the wire: a value
	// set this way has no position within Src for a zc.Range to describe,
	// so it lives here instead, keyed by field. Nil until the first such
	// set on this message.
	OwnedStrings map[*mini.Field][]byte
}

// New allocates a zeroed message of the given type on a.
func New(a *arena.Arena, t *mini.Table) *Message {
	var data *byte
	if t.Size > 0 {
		data = (*byte)(a.Malloc(int(t.Size)))
	}
	return &Message{Table: t, Arena: a, Data: data}
}

// Format implements [fmt.Formatter].
func (m *Message) Format(s fmt.State, verb rune) {
	fmt.Fprintf(s, "%v@%p", m.Table.Descriptor.FullName(), m.Data)
}

// field returns a pointer to f's data slot within m.
func (m *Message) field(f *mini.Field) *byte {
	return unsafe2.ByteAdd(m.Data, f.Data)
}

// HasBit reports whether hasbit index n is set.
func (m *Message) HasBit(n uint32) bool {
	byteIdx, mask := n/8, byte(1)<<(n%8)
	b := unsafe2.ByteLoad[byte](m.Data, int(byteIdx))
	return b&mask != 0
}

// SetHasBit sets hasbit index n.
func (m *Message) SetHasBit(n uint32) {
	byteIdx, mask := n/8, byte(1)<<(n%8)
	b := unsafe2.ByteLoad[byte](m.Data, int(byteIdx))
	unsafe2.ByteStore(m.Data, int(byteIdx), b|mask)
}

// ClearHasBit clears hasbit index n.
func (m *Message) ClearHasBit(n uint32) {
	byteIdx, mask := n/8, byte(1)<<(n%8)
	b := unsafe2.ByteLoad[byte](m.Data, int(byteIdx))
	unsafe2.ByteStore(m.Data, int(byteIdx), b&^mask)
}

// OneofCase returns the field number currently set in the oneof that f
// belongs to, or 0 if none is set.
func (m *Message) OneofCase(f *mini.Field) protowire.Number {
	off, ok := f.Presence.OneofCase()
	debug.Assert(ok, "OneofCase called on non-oneof field %v", f)
	return protowire.Number(unsafe2.ByteLoad[uint32](m.Data, int(off)))
}

// SetOneofCase marks f's oneof as currently holding f.
func (m *Message) SetOneofCase(f *mini.Field) {
	off, ok := f.Presence.OneofCase()
	debug.Assert(ok, "SetOneofCase called on non-oneof field %v", f)
	unsafe2.ByteStore(m.Data, int(off), uint32(f.Number))
}

// dataPtr returns m.Data as an unsafe.Pointer, for callers (e.g. the
// array and sub-message accessors) that need to do their own pointer
// arithmetic or store pointer-typed slots.
func (m *Message) dataPtr() unsafe.Pointer {
	return unsafe.Pointer(m.Data)
}
