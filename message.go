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

package minipb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/encode"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/zc"
)

// Message is a decoded message. Every Message returned from unmarshaling,
// and every submessage or map-entry reachable from it, lives on the
// [Arena] the unmarshal was performed against.
//
// Message intentionally does not implement [protoreflect.Message]: that
// interface also requires generic construction and mutation driven by
// arbitrary descriptors, which is out of scope for a runtime compiled
// against one fixed mini-table layout. Instead, fields are read and
// written directly by [protoreflect.FieldDescriptor] through the methods
// below, split by cardinality the way the underlying mini-table storage
// is split: singular scalars through Get/Set, singular submessages
// through GetMessage/SetMessage/Mutable, and repeated/map fields through
// Len, an indexed getter, and (for scalar and message elements) an
// Append method. [Message.Marshal] re-serializes the result.
type Message struct {
	msg *access.Message
}

func wrapMessage(m *access.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{msg: m}
}

// Type returns this message's compiled type.
func (m *Message) Type() *Type {
	return &Type{table: m.msg.Table}
}

// Format implements [fmt.Formatter].
func (m *Message) Format(f fmt.State, verb rune) {
	fmt.Fprintf(f, fmt.FormatString(f, verb), m.msg)
}

func (m *Message) field(fd protoreflect.FieldDescriptor) *mini.Field {
	f := m.msg.Table.FindFieldByNumber(protowire.Number(fd.Number()))
	if f == nil || !f.IsValid() {
		return nil
	}
	return f
}

// mustField is field, but panics if fd doesn't name a field of this
// message's type: unlike the Get* accessors, which return zero values for
// a field they can't find, the Set* accessors have nothing sensible to do
// with a descriptor their mini-table doesn't recognize.
func (m *Message) mustField(fd protoreflect.FieldDescriptor) *mini.Field {
	f := m.field(fd)
	if f == nil {
		panic(fmt.Sprintf("minipb: %v is not a field of %v", fd.FullName(), m.msg.Table.Descriptor.FullName()))
	}
	return f
}

// Clear unsets fd in this message.
func (m *Message) Clear(fd protoreflect.FieldDescriptor) {
	access.Clear(m.msg, m.mustField(fd))
}

// SetBool writes a bool field's value. It is the mutating dual of
// [Message.Get] for [protoreflect.BoolKind] fields.
func (m *Message) SetBool(fd protoreflect.FieldDescriptor, v bool) {
	access.SetBool(m.msg, m.mustField(fd), v)
}

// SetInt32 writes an int32/sint32/sfixed32 field's value.
func (m *Message) SetInt32(fd protoreflect.FieldDescriptor, v int32) {
	access.SetInt32(m.msg, m.mustField(fd), v)
}

// SetInt64 writes an int64/sint64/sfixed64 field's value.
func (m *Message) SetInt64(fd protoreflect.FieldDescriptor, v int64) {
	access.SetInt64(m.msg, m.mustField(fd), v)
}

// SetUInt32 writes a uint32/fixed32 field's value.
func (m *Message) SetUInt32(fd protoreflect.FieldDescriptor, v uint32) {
	access.SetUInt32(m.msg, m.mustField(fd), v)
}

// SetUInt64 writes a uint64/fixed64 field's value.
func (m *Message) SetUInt64(fd protoreflect.FieldDescriptor, v uint64) {
	access.SetUInt64(m.msg, m.mustField(fd), v)
}

// SetFloat writes a float field's value.
func (m *Message) SetFloat(fd protoreflect.FieldDescriptor, v float32) {
	access.SetFloat(m.msg, m.mustField(fd), v)
}

// SetDouble writes a double field's value.
func (m *Message) SetDouble(fd protoreflect.FieldDescriptor, v float64) {
	access.SetDouble(m.msg, m.mustField(fd), v)
}

// SetEnum writes an enum field's raw numeric value. It does not validate v
// against the enum's declared value set -- the same as an application
// setting an enum field through generated code, the value is only checked
// for closedness on its way back off the wire, not on the way in.
func (m *Message) SetEnum(fd protoreflect.FieldDescriptor, v protoreflect.EnumNumber) {
	access.SetEnum(m.msg, m.mustField(fd), int32(v))
}

// SetString writes a string field's value. The bytes of v are copied;
// m retains no reference to the string's backing array.
func (m *Message) SetString(fd protoreflect.FieldDescriptor, v string) {
	access.SetOwnedString(m.msg, m.mustField(fd), []byte(v))
}

// SetBytes writes a bytes field's value. The contents of v are copied;
// m retains no reference to v's backing array.
func (m *Message) SetBytes(fd protoreflect.FieldDescriptor, v []byte) {
	access.SetOwnedString(m.msg, m.mustField(fd), v)
}

// SetMessage installs sub as fd's singular message or group value. sub
// must have been allocated on the same [Arena] as m (e.g. via
// [Type.New]); a nil sub clears the field the same way [Message.Clear]
// does.
func (m *Message) SetMessage(fd protoreflect.FieldDescriptor, sub *Message) {
	f := m.mustField(fd)
	if sub == nil {
		access.Clear(m.msg, f)
		return
	}
	access.SetMessage(m.msg, f, sub.msg)
}

// Mutable returns fd's existing sub-message, allocating and installing a
// fresh one of the field's declared type if it is not yet set.
func (m *Message) Mutable(fd protoreflect.FieldDescriptor) *Message {
	return wrapMessage(access.GetMutableMessage(m.msg, m.mustField(fd)))
}

// AppendBool appends v to a repeated bool field.
func (m *Message) AppendBool(fd protoreflect.FieldDescriptor, v bool) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 1)
	*(*bool)(p) = v
}

// AppendInt32 appends v to a repeated int32/sint32/sfixed32 or enum
// field.
func (m *Message) AppendInt32(fd protoreflect.FieldDescriptor, v int32) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 4)
	*(*int32)(p) = v
}

// AppendUInt32 appends v to a repeated uint32/fixed32 field.
func (m *Message) AppendUInt32(fd protoreflect.FieldDescriptor, v uint32) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 4)
	*(*uint32)(p) = v
}

// AppendInt64 appends v to a repeated int64/sint64/sfixed64 field.
func (m *Message) AppendInt64(fd protoreflect.FieldDescriptor, v int64) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 8)
	*(*int64)(p) = v
}

// AppendUInt64 appends v to a repeated uint64/fixed64 field.
func (m *Message) AppendUInt64(fd protoreflect.FieldDescriptor, v uint64) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 8)
	*(*uint64)(p) = v
}

// AppendFloat appends v to a repeated float field.
func (m *Message) AppendFloat(fd protoreflect.FieldDescriptor, v float32) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 4)
	*(*float32)(p) = v
}

// AppendDouble appends v to a repeated double field.
func (m *Message) AppendDouble(fd protoreflect.FieldDescriptor, v float64) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 8)
	*(*float64)(p) = v
}

// AppendMessage appends sub to a repeated message or group field. sub
// must have been allocated on the same [Arena] as m.
func (m *Message) AppendMessage(fd protoreflect.FieldDescriptor, sub *Message) {
	f := m.mustField(fd)
	p := access.AppendArrayValue(m.msg, f, 8)
	*(**access.Message)(p) = sub.msg
}

// Has reports whether fd is populated in this message.
//
// For a field with explicit presence (proto2, proto3 optional, oneof
// members, and message-typed fields), this distinguishes "present with
// the default value" from "absent". For a proto3 scalar without
// presence, it reports whether the field's value differs from the
// type's zero value, per proto3 semantics.
func (m *Message) Has(fd protoreflect.FieldDescriptor) bool {
	f := m.field(fd)
	if f == nil {
		return false
	}
	if f.Mode == mini.Repeated || f.Mode == mini.Packed || f.Mode == mini.Map {
		return m.Len(fd) > 0
	}
	return access.Has(m.msg, f)
}

// WhichOneof returns the field descriptor for whichever member of od is
// currently set, or nil if none is.
func (m *Message) WhichOneof(od protoreflect.OneofDescriptor) protoreflect.FieldDescriptor {
	fds := od.Fields()
	for i := range fds.Len() {
		fd := fds.Get(i)
		if f := m.field(fd); f != nil {
			if _, ok := f.Presence.OneofCase(); ok && m.msg.OneofCase(f) == f.Number {
				return fd
			}
		}
	}
	return nil
}

// Get reads a singular scalar or enum field's value, returning fd's
// default if the field is unset. Message, group, repeated, and map fields
// are not supported; use [Message.GetMessage] or [Message.Len] for those.
// Get panics if fd names a message or group field that is set.
func (m *Message) Get(fd protoreflect.FieldDescriptor) protoreflect.Value {
	f := m.field(fd)
	if f == nil || !access.Has(m.msg, f) {
		return fd.Default()
	}
	return scalarValue(m.msg, f)
}

// GetMessage reads a singular message or group field's value, or nil if
// unset.
func (m *Message) GetMessage(fd protoreflect.FieldDescriptor) *Message {
	f := m.field(fd)
	if f == nil {
		return nil
	}
	return wrapMessage(access.GetMessage(m.msg, f))
}

// Len returns the number of elements in a repeated or map field.
func (m *Message) Len(fd protoreflect.FieldDescriptor) int {
	f := m.field(fd)
	if f == nil {
		return 0
	}
	return access.GetArray(m.msg, f).Len()
}

// GetRepeated reads the ith element of a repeated scalar or enum field.
func (m *Message) GetRepeated(fd protoreflect.FieldDescriptor, i int) protoreflect.Value {
	f := m.field(fd)
	a := access.GetArray(m.msg, f)
	return repeatedScalarValue(m.msg, f.DescriptorType, a, i)
}

// GetRepeatedMessage reads the ith element of a repeated message or
// group field.
func (m *Message) GetRepeatedMessage(fd protoreflect.FieldDescriptor, i int) *Message {
	f := m.field(fd)
	a := access.GetArray(m.msg, f)
	return wrapMessage(access.GetArrayValue[*access.Message](a, i))
}

// MapKey reads the key of the ith entry of a map field.
func (m *Message) MapKey(fd protoreflect.FieldDescriptor, i int) protoreflect.Value {
	entry := m.mapEntry(fd, i)
	keyField := entry.msg.Table.FindFieldByNumber(1)
	return scalarValue(entry.msg, keyField)
}

// MapValue reads the value of the ith entry of a map field whose values
// are a scalar or enum type.
func (m *Message) MapValue(fd protoreflect.FieldDescriptor, i int) protoreflect.Value {
	entry := m.mapEntry(fd, i)
	valField := entry.msg.Table.FindFieldByNumber(2)
	return scalarValue(entry.msg, valField)
}

// MapValueMessage reads the value of the ith entry of a map field whose
// values are message-typed.
func (m *Message) MapValueMessage(fd protoreflect.FieldDescriptor, i int) *Message {
	entry := m.mapEntry(fd, i)
	valField := entry.msg.Table.FindFieldByNumber(2)
	return wrapMessage(access.GetMessage(entry.msg, valField))
}

func (m *Message) mapEntry(fd protoreflect.FieldDescriptor, i int) *Message {
	f := m.field(fd)
	a := access.GetArray(m.msg, f)
	return wrapMessage(access.GetArrayValue[*access.Message](a, i))
}

// GetUnrecognized returns the raw, concatenated (tag, value) bytes of
// every field this message's type didn't recognize while decoding, in
// encounter order. Empty unless the message was decoded from the wire
// format without [WithDiscardUnknown].
func (m *Message) GetUnrecognized() []byte {
	if len(m.msg.Unknown) == 0 {
		return nil
	}
	out := make([]byte, 0, 16*len(m.msg.Unknown))
	for _, r := range m.msg.Unknown {
		out = append(out, r.Bytes(m.msg.Src)...)
	}
	return out
}

// Marshal appends this message's wire-format encoding to dst and returns
// the extended slice, the mutating-API dual of unmarshaling: declared
// fields are re-serialized from their current (possibly mutated) values
// in table order, and any bytes [Message.GetUnrecognized] would return
// are replayed verbatim afterward so round-tripping an undecoded field
// doesn't lose it.
func (m *Message) Marshal(dst []byte) ([]byte, error) {
	return encode.AppendMessage(dst, m.msg), nil
}

// scalarValue reads f (a non-repeated scalar, enum, string, or bytes
// field) out of msg as a protoreflect.Value.
func scalarValue(msg *access.Message, f *mini.Field) protoreflect.Value {
	switch f.DescriptorType {
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(access.GetBool(msg, f))
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(access.GetInt32(msg, f))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return protoreflect.ValueOfInt64(access.GetInt64(msg, f))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(access.GetUInt32(msg, f))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(access.GetUInt64(msg, f))
	case protoreflect.FloatKind:
		return protoreflect.ValueOfFloat32(access.GetFloat(msg, f))
	case protoreflect.DoubleKind:
		return protoreflect.ValueOfFloat64(access.GetDouble(msg, f))
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(access.GetEnum(msg, f)))
	case protoreflect.StringKind:
		return protoreflect.ValueOfString(string(access.StringBytes(msg, f)))
	case protoreflect.BytesKind:
		return protoreflect.ValueOfBytes(access.StringBytes(msg, f))
	default:
		panic(fmt.Sprintf("minipb: Get called on non-scalar field %v", f))
	}
}

// repeatedScalarValue reads the ith element of a repeated scalar/enum
// field's backing [access.Array].
func repeatedScalarValue(msg *access.Message, kind protoreflect.Kind, a *access.Array, i int) protoreflect.Value {
	switch kind {
	case protoreflect.BoolKind:
		return protoreflect.ValueOfBool(access.GetArrayValue[bool](a, i))
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return protoreflect.ValueOfInt32(access.GetArrayValue[int32](a, i))
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return protoreflect.ValueOfInt64(access.GetArrayValue[int64](a, i))
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return protoreflect.ValueOfUint32(access.GetArrayValue[uint32](a, i))
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return protoreflect.ValueOfUint64(access.GetArrayValue[uint64](a, i))
	case protoreflect.FloatKind:
		return protoreflect.ValueOfFloat32(access.GetArrayValue[float32](a, i))
	case protoreflect.DoubleKind:
		return protoreflect.ValueOfFloat64(access.GetArrayValue[float64](a, i))
	case protoreflect.EnumKind:
		return protoreflect.ValueOfEnum(protoreflect.EnumNumber(access.GetArrayValue[int32](a, i)))
	case protoreflect.StringKind:
		r := access.GetArrayValue[zc.Range](a, i)
		return protoreflect.ValueOfString(r.String(msg.Src))
	case protoreflect.BytesKind:
		r := access.GetArrayValue[zc.Range](a, i)
		return protoreflect.ValueOfBytes(r.Bytes(msg.Src))
	default:
		panic(fmt.Sprintf("minipb: unsupported repeated scalar kind %v", kind))
	}
}
