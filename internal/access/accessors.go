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

package access

import (
	"unsafe"

	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/debug"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/unsafe2"
	"buf.build/go/minipb/internal/zc"
)

// SetPresence marks f as populated: it sets f's hasbit, if it has one, or
// writes the oneof case word, if f belongs to a oneof. Fields with neither
// (proto3 scalars without explicit presence) do nothing.
func SetPresence(m *Message, f *mini.Field) {
	if bit, ok := f.Presence.HasBit(); ok {
		m.SetHasBit(bit)
		return
	}
	if _, ok := f.Presence.OneofCase(); ok {
		m.SetOneofCase(f)
	}
}

// Has reports whether f is populated in m.
func Has(m *Message, f *mini.Field) bool {
	if bit, ok := f.Presence.HasBit(); ok {
		return m.HasBit(bit)
	}
	if _, ok := f.Presence.OneofCase(); ok {
		return m.OneofCase(f) == f.Number
	}
	if f.DescriptorType == protoreflect.StringKind || f.DescriptorType == protoreflect.BytesKind {
		// A mutated value lives in OwnedStrings with the data slot left
		// zeroed, so isZero alone can't see it.
		return len(StringBytes(m, f)) > 0
	}
	// No presence tracking (proto3 scalar): populated iff non-default.
	return !isZero(m, f)
}

// Clear unsets f in m, zeroing its storage.
func Clear(m *Message, f *mini.Field) {
	if bit, ok := f.Presence.HasBit(); ok {
		m.ClearHasBit(bit)
	}
	if off, ok := f.Presence.OneofCase(); ok && m.OneofCase(f) == f.Number {
		unsafe2.ByteStore(m.Data, int(off), uint32(0))
	}
	if m.OwnedStrings != nil {
		delete(m.OwnedStrings, f)
	}
	p := m.field(f)
	unsafe2.ByteStore(p, 0, uint64(0))
}

func isZero(m *Message, f *mini.Field) bool {
	return unsafe2.ByteLoad[uint64](m.field(f), 0) == 0
}

// GetBool reads f (which must be a bool field) out of m.
func GetBool(m *Message, f *mini.Field) bool {
	debug.Assert(f.DescriptorType == protoreflect.BoolKind, "GetBool on %v", f)
	return unsafe2.ByteLoad[bool](m.field(f), 0)
}

// SetBool writes v into f (which must be a bool field) in m.
func SetBool(m *Message, f *mini.Field, v bool) {
	debug.Assert(f.DescriptorType == protoreflect.BoolKind, "SetBool on %v", f)
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetInt32 reads an int32/sint32/sfixed32 field.
func GetInt32(m *Message, f *mini.Field) int32 {
	return unsafe2.ByteLoad[int32](m.field(f), 0)
}

// SetInt32 writes an int32/sint32/sfixed32 field.
func SetInt32(m *Message, f *mini.Field, v int32) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetUInt32 reads a uint32/fixed32 field.
func GetUInt32(m *Message, f *mini.Field) uint32 {
	return unsafe2.ByteLoad[uint32](m.field(f), 0)
}

// SetUInt32 writes a uint32/fixed32 field.
func SetUInt32(m *Message, f *mini.Field, v uint32) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetInt64 reads an int64/sint64/sfixed64 field.
func GetInt64(m *Message, f *mini.Field) int64 {
	return unsafe2.ByteLoad[int64](m.field(f), 0)
}

// SetInt64 writes an int64/sint64/sfixed64 field.
func SetInt64(m *Message, f *mini.Field, v int64) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetUInt64 reads a uint64/fixed64 field.
func GetUInt64(m *Message, f *mini.Field) uint64 {
	return unsafe2.ByteLoad[uint64](m.field(f), 0)
}

// SetUInt64 writes a uint64/fixed64 field.
func SetUInt64(m *Message, f *mini.Field, v uint64) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetFloat reads a float field.
func GetFloat(m *Message, f *mini.Field) float32 {
	return unsafe2.ByteLoad[float32](m.field(f), 0)
}

// SetFloat writes a float field.
func SetFloat(m *Message, f *mini.Field, v float32) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetDouble reads a double field.
func GetDouble(m *Message, f *mini.Field) float64 {
	return unsafe2.ByteLoad[float64](m.field(f), 0)
}

// SetDouble writes a double field.
func SetDouble(m *Message, f *mini.Field, v float64) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetEnum reads an enum field's raw numeric value.
func GetEnum(m *Message, f *mini.Field) int32 {
	return unsafe2.ByteLoad[int32](m.field(f), 0)
}

// SetEnum writes an enum field's raw numeric value.
func SetEnum(m *Message, f *mini.Field, v int32) {
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// GetString reads a string/bytes field as a zero-copy range into src. It
// is meaningless for a field set through [SetOwnedString]; use
// [StringBytes] for a representation that handles both cases.
func GetString(m *Message, f *mini.Field) zc.Range {
	return unsafe2.ByteLoad[zc.Range](m.field(f), 0)
}

// SetString writes a zero-copy string/bytes range into f, used by the
// decoder to install a value aliasing its input buffer.
func SetString(m *Message, f *mini.Field, v zc.Range) {
	if m.OwnedStrings != nil {
		delete(m.OwnedStrings, f)
	}
	unsafe2.ByteStore(m.field(f), 0, v)
	SetPresence(m, f)
}

// StringBytes reads f's current value regardless of whether it was
// decoded off the wire (a [zc.Range] into m.Src) or installed through
// [SetOwnedString] (an arena-owned copy with no position in Src).
func StringBytes(m *Message, f *mini.Field) []byte {
	if m.OwnedStrings != nil {
		if v, ok := m.OwnedStrings[f]; ok {
			return v
		}
	}
	return GetString(m, f).Bytes(m.Src)
}

// SetOwnedString installs v as f's value by copying it into m.OwnedStrings,
// for the mutation API: unlike a decoded value, v has no byte position
// within m.Src for a [zc.Range] to describe, so it is kept alive by the
// ordinary Go heap/GC instead of the arena.
func SetOwnedString(m *Message, f *mini.Field, v []byte) {
	owned := make([]byte, len(v))
	copy(owned, v)
	if m.OwnedStrings == nil {
		m.OwnedStrings = make(map[*mini.Field][]byte, 1)
	}
	m.OwnedStrings[f] = owned
	// The data slot itself is left zeroed; StringBytes consults
	// OwnedStrings first, and a zero zc.Range decodes as an empty string
	// if something ever reads the slot directly, which is a safe default.
	unsafe2.ByteStore(m.field(f), 0, zc.Range(0))
	SetPresence(m, f)
}

// GetMessage reads a singular sub-message pointer, or nil if unset.
func GetMessage(m *Message, f *mini.Field) *Message {
	p := unsafe2.ByteLoad[unsafe.Pointer](m.field(f), 0)
	return (*Message)(p)
}

// SetMessage installs sub as f's sub-message value.
func SetMessage(m *Message, f *mini.Field, sub *Message) {
	unsafe2.ByteStore(m.field(f), 0, unsafe.Pointer(sub))
	SetPresence(m, f)
}

// GetMutableMessage returns f's existing sub-message, allocating a fresh
// one of the declared sub-type (and installing it) if none exists yet.
func GetMutableMessage(m *Message, f *mini.Field) *Message {
	if sub := GetMessage(m, f); sub != nil {
		return sub
	}
	subTable := m.Table.Subs[f.SubmsgIndex].Submsg
	sub := New(m.Arena, subTable)
	sub.Src = m.Src
	SetMessage(m, f, sub)
	return sub
}
