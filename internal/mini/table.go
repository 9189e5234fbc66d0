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

package mini

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/dbg"
	"buf.build/go/minipb/internal/unsafe2"
)

// dispatchSlots is the number of entries in a [Table]'s fast-path dispatch
// arrays. The slot for a tag's first byte is (tag[0]&0xf8)>>3, i.e. the
// low 3 bits of the field number and the wire type are ignored, leaving 5
// bits of selectivity.
const dispatchSlots = 32

// ExtensionPolicy describes how a message type handles field numbers it
// does not recognize that fall in the extension range.
type ExtensionPolicy uint8

// The extension policies a [Table] may declare.
const (
	// NoExtensions means the message type has no extension range at all;
	// any unrecognized field number is simply unknown.
	NoExtensions ExtensionPolicy = iota
	// MessageSetExtensions enables the legacy MessageSet wire encoding.
	MessageSetExtensions
)

// Table is the compact binary layout description of a single message
// type: field metadata, sub-layout indirections, and the dispatch slots
// the fast-path decoder uses to jump directly to a matching field without
// a full table lookup.
type Table struct {
	_ unsafe2.NoCopy

	// Descriptor is the full reflective descriptor this table was compiled
	// from, kept around for JSON field-name resolution and for building
	// protoreflect.Message views over decoded messages.
	Descriptor protoreflect.MessageDescriptor

	// Fields holds every field in this message type, sorted by Number.
	Fields []Field

	// Subs is the indirection table referenced by Field.SubmsgIndex.
	Subs []Sub

	// dispatch[i] is the field, if any, that the fast-path decoder should
	// try first when a tag's first byte hashes to slot i.
	dispatch [dispatchSlots]*Field

	// dispatchData[i] is dispatch[i]'s expected tag packed into the low
	// bits and its storage offset packed into the high bits. A fast-path
	// parser XORs it with the incoming tag: the low 32 bits of the result
	// are zero exactly when the tag matches.
	dispatchData [dispatchSlots]uint64

	// DenseBelow is the number of fields with Number in [1, DenseBelow]
	// forming a dense prefix, letting FindFieldByNumber index directly
	// instead of binary-searching.
	DenseBelow uint32

	// Size is the number of bytes to allocate for a message of this type.
	Size uint32

	// FieldCount and RequiredCount mirror len(Fields) and the number of
	// fields declared `required` (proto2 only), respectively.
	FieldCount, RequiredCount uint32

	// HasbitCount is the number of hasbits this message's prefix reserves.
	HasbitCount uint32

	// OneofCount is the number of oneof case words this message's prefix
	// reserves, each one a uint32 holding the currently-set field number
	// (or 0 for "none set").
	OneofCount uint32

	// Ext is this message's extension-handling policy.
	Ext ExtensionPolicy
}

// NewTable builds an empty table for descriptor d. Callers finish
// construction by appending to Fields and
// Subs and then calling Compile.
func NewTable(d protoreflect.MessageDescriptor) *Table {
	return &Table{Descriptor: d}
}

// FindFieldByNumber looks up a field by its declared number, returning nil
// if there is no such field.
//
// Fields numbered 1..DenseBelow are looked up in constant time by direct
// indexing; everything else falls back to a binary search, since sparse
// extension-heavy messages would otherwise waste memory on a fully dense
// table.
func (t *Table) FindFieldByNumber(n protowire.Number) *Field {
	if n >= 1 && uint32(n) <= t.DenseBelow {
		return &t.Fields[n-1]
	}

	fields := t.Fields[t.DenseBelow:]
	i := sort.Search(len(fields), func(i int) bool {
		return fields[i].Number >= n
	})
	if i < len(fields) && fields[i].Number == n {
		return &fields[i]
	}
	return nil
}

// DispatchSlot computes the fast-path dispatch slot for a raw tag byte.
func DispatchSlot(tagByte byte) int {
	return int(tagByte&0xf8) >> 3
}

// FastDispatch returns the field and packed expected-tag/offset word for
// the dispatch slot addressed by tagByte, per [DispatchSlot]. Per spec, the
// fast-path decoder computes `data := dispatchData[slot] ^ tag` and falls
// back to the generic decoder whenever the low bits of data are nonzero.
func (t *Table) FastDispatch(tagByte byte) (*Field, uint64) {
	slot := DispatchSlot(tagByte)
	return t.dispatch[slot], t.dispatchData[slot]
}

// Compile finalizes a table after its Fields and Subs have been populated:
// it sorts fields by number, computes DenseBelow, assigns hasbits/oneof
// case words is the caller's responsibility (done by the caller that lays
// out the message, since that depends on mode), and fills in the 32-slot
// fast dispatch table.
//
// allowFastRepeatedVarint controls whether a repeated, unpacked varint
// field may claim a dispatch slot. Such a field's fast-path guess can be
// re-tried once per wire occurrence, so a message with many repeated
// unpacked varint fields gives an adversary a way to make the fast path
// repeatedly mispredict; leaving this off by default trades a little
// throughput on that (uncommon -- most encoders emit packed scalars)
// shape for removing the lever entirely.
func (t *Table) Compile(allowFastRepeatedVarint bool) {
	sort.Slice(t.Fields, func(i, j int) bool {
		return t.Fields[i].Number < t.Fields[j].Number
	})
	t.FieldCount = uint32(len(t.Fields))

	dense := uint32(0)
	for i := range t.Fields {
		if t.Fields[i].Number == protowire.Number(i+1) {
			dense = uint32(i + 1)
			continue
		}
		break
	}
	t.DenseBelow = dense

	for i := range t.Fields {
		f := &t.Fields[i]
		if f.Mode == Repeated && f.WireType == protowire.VarintType && !allowFastRepeatedVarint {
			continue
		}
		tag := EncodeTag(f.Number, f.WireType)
		slot := DispatchSlot(byte(tag))
		if t.dispatch[slot] != nil {
			// Slot collision: the fast path only has room for one guess per
			// slot, so later-registered fields in a colliding slot fall back
			// to the generic decoder. This never affects correctness, only
			// how often the fast path is taken.
			continue
		}
		t.dispatch[slot] = f
		t.dispatchData[slot] = uint64(tag) | uint64(f.Data)<<32
	}
}

// ForceGenericOnly zeros this table's dispatch slots so every field falls
// back to the generic decoder. Exported for internal/decode's tests to
// verify the fast and generic paths produce identical results; production
// code has no use for it.
func (t *Table) ForceGenericOnly() {
	for i := range t.dispatch {
		t.dispatch[i] = nil
		t.dispatchData[i] = 0
	}
}

// Format implements [fmt.Formatter].
func (t *Table) Format(s fmt.State, verb rune) {
	dbg.Dict(t.Descriptor.FullName(),
		"size", t.Size,
		"fields", len(t.Fields),
		"dense_below", t.DenseBelow,
	).Format(s, verb)
}
