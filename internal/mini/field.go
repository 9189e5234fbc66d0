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

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/dbg"
	"buf.build/go/minipb/internal/unsafe2"
)

// Mode describes the cardinality and storage strategy for a field.
type Mode uint8

// The field modes a [Field] may be in.
const (
	Singular Mode = iota
	Oneof
	Repeated
	Packed
	Map
)

// Field is the compact descriptor for a single message field: everything
// the decoder and accessor layer need to read or write its value, without
// consulting a full descriptor.
type Field struct {
	_ unsafe2.NoCopy

	Offset

	// Number is this field's declared field number.
	Number protowire.Number

	// DescriptorType is this field's kind, as declared in the .proto file
	// (distinguishing e.g. sint32 from int32, even though both decode to a
	// Go int32).
	DescriptorType protoreflect.Kind

	// Mode is this field's cardinality/storage strategy.
	Mode Mode

	// SubmsgIndex indexes into the owning [Table]'s Subs slice for message-,
	// group- and map-typed fields and for closed-enum fields. It is out of
	// range (all ones) for open-enum fields, and meaningless (and zero) for
	// other scalar fields.
	SubmsgIndex uint32

	// WireType is the wire type this field is expected to arrive as, used to
	// detect packed/unpacked mismatches during generic decode.
	WireType protowire.Type

	// Required marks a proto2 `required` field. AllowPartial unmarshaling
	// skips the check that every Required field in the message tree was
	// populated.
	Required bool
}

// IsValid reports whether this is a real field, as opposed to the sentinel
// zero [Field] used to pad dispatch-table slots with no matching field.
func (f *Field) IsValid() bool {
	return f != nil && f.Number != 0
}

// IsPacked reports whether this field is a repeated scalar field using the
// packed (length-delimited) wire encoding.
func (f *Field) IsPacked() bool {
	return f.Mode == Packed
}

// Format implements [fmt.Formatter].
func (f *Field) Format(s fmt.State, verb rune) {
	if f == nil {
		fmt.Fprint(s, "<nil>")
		return
	}
	dbg.Dict("",
		"number", f.Number,
		"type", f.DescriptorType,
		"mode", f.Mode,
		"offset", f.Offset,
	).Format(s, verb)
}

// Sub is an entry in a [Table]'s sub-layout indirection table: either a
// message mini-table (for message/group fields) or an enum's valid-value
// set (for closed enum fields, which must validate on decode).
type Sub struct {
	Submsg *Table
	Enum   *Enum
}

// Enum is the compact descriptor of a closed enum type: the set of values
// it is legal for the wire to carry. Open enums (proto3, edition 2023+
// default) do not need one, since any int32 is a legal value.
type Enum struct {
	Name   protoreflect.FullName
	Values map[int32]protoreflect.EnumValueDescriptor

	// ValueByName resolves a JSON/text name (including aliases) to a value.
	ValueByName map[string]protoreflect.EnumValueDescriptor
}

// IsValid reports whether n is a legal value for this enum.
func (e *Enum) IsValid(n int32) bool {
	if e == nil {
		return true // Open enum: everything is legal.
	}
	_, ok := e.Values[n]
	return ok
}
