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

// Package encode implements internal/decode's inverse: appending a
// decoded (or mutated) message's wire-format bytes to a buffer, walking
// the same [mini.Table] layout the decoder reads, and replaying captured
// unknown fields verbatim so re-serialization round-trips them.
package encode

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/zc"
	"buf.build/go/minipb/internal/zigzag"
)

// AppendMessage appends msg's wire-format encoding to dst: every declared
// field in table order, followed by msg's captured unknown-field bytes.
func AppendMessage(dst []byte, msg *access.Message) []byte {
	table := msg.Table
	for i := range table.Fields {
		dst = appendField(dst, msg, &table.Fields[i])
	}
	for _, r := range msg.Unknown {
		dst = append(dst, r.Bytes(msg.Src)...)
	}
	return dst
}

// appendField appends f's wire encoding to dst if it is populated in msg,
// or returns dst unchanged otherwise.
func appendField(dst []byte, msg *access.Message, f *mini.Field) []byte {
	if f.Mode == mini.Repeated || f.Mode == mini.Packed || f.Mode == mini.Map {
		a := access.GetArray(msg, f)
		n := a.Len()
		if n == 0 {
			return dst
		}
		if f.Mode == mini.Packed {
			return appendPacked(dst, f, a, n)
		}
		for i := 0; i < n; i++ {
			dst = appendRepeatedElement(dst, msg, f, a, i)
		}
		return dst
	}

	if !access.Has(msg, f) {
		return dst
	}
	return appendSingular(dst, msg, f)
}

// appendSingular appends one singular or oneof-member field occurrence.
func appendSingular(dst []byte, msg *access.Message, f *mini.Field) []byte {
	switch f.DescriptorType {
	case protoreflect.MessageKind:
		return appendLengthPrefixedMessage(dst, f.Number, access.GetMessage(msg, f))
	case protoreflect.GroupKind:
		return appendGroup(dst, f.Number, access.GetMessage(msg, f))
	case protoreflect.StringKind, protoreflect.BytesKind:
		dst = protowire.AppendTag(dst, f.Number, protowire.BytesType)
		return protowire.AppendBytes(dst, access.StringBytes(msg, f))
	default:
		return appendScalar(dst, f.Number, f.DescriptorType, msg, f)
	}
}

// appendLengthPrefixedMessage appends a length-delimited submessage field,
// used for both ordinary message fields and map entries (which are
// themselves compiled as a two-field message, key then value).
func appendLengthPrefixedMessage(dst []byte, num protowire.Number, sub *access.Message) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, AppendMessage(nil, sub))
}

// appendGroup appends a legacy group field: a start tag, the member
// fields, and a matching end tag, with no length prefix.
func appendGroup(dst []byte, num protowire.Number, sub *access.Message) []byte {
	dst = protowire.AppendTag(dst, num, protowire.StartGroupType)
	dst = AppendMessage(dst, sub)
	return protowire.AppendTag(dst, num, protowire.EndGroupType)
}

// appendRepeatedElement appends the ith element of an unpacked repeated
// (or map) field's array, with its own tag.
func appendRepeatedElement(dst []byte, msg *access.Message, f *mini.Field, a *access.Array, i int) []byte {
	switch f.DescriptorType {
	case protoreflect.MessageKind:
		sub := access.GetArrayValue[*access.Message](a, i)
		return appendLengthPrefixedMessage(dst, f.Number, sub)
	case protoreflect.GroupKind:
		sub := access.GetArrayValue[*access.Message](a, i)
		return appendGroup(dst, f.Number, sub)
	case protoreflect.StringKind, protoreflect.BytesKind:
		r := access.GetArrayValue[zc.Range](a, i)
		dst = protowire.AppendTag(dst, f.Number, protowire.BytesType)
		return protowire.AppendBytes(dst, r.Bytes(msg.Src))
	default:
		dst = protowire.AppendTag(dst, f.Number, wireTypeFor(f.DescriptorType))
		return appendArrayScalar(dst, f.DescriptorType, a, i)
	}
}

// appendPacked appends a Packed-mode field's entire array as a single
// length-delimited run with no per-element tags.
func appendPacked(dst []byte, f *mini.Field, a *access.Array, n int) []byte {
	dst = protowire.AppendTag(dst, f.Number, protowire.BytesType)
	var body []byte
	for i := 0; i < n; i++ {
		body = appendArrayScalar(body, f.DescriptorType, a, i)
	}
	return protowire.AppendBytes(dst, body)
}

// appendScalar appends a singular scalar or enum field's tag and value,
// reading the value out of msg via f.
func appendScalar(dst []byte, num protowire.Number, k protoreflect.Kind, msg *access.Message, f *mini.Field) []byte {
	dst = protowire.AppendTag(dst, num, wireTypeFor(k))
	switch k {
	case protoreflect.BoolKind:
		return protowire.AppendVarint(dst, boolVarint(access.GetBool(msg, f)))
	case protoreflect.Int32Kind:
		return protowire.AppendVarint(dst, uint64(int64(access.GetInt32(msg, f))))
	case protoreflect.Int64Kind:
		return protowire.AppendVarint(dst, uint64(access.GetInt64(msg, f)))
	case protoreflect.Uint32Kind:
		return protowire.AppendVarint(dst, uint64(access.GetUInt32(msg, f)))
	case protoreflect.Uint64Kind:
		return protowire.AppendVarint(dst, access.GetUInt64(msg, f))
	case protoreflect.Sint32Kind:
		return protowire.AppendVarint(dst, zigzag.Encode(access.GetInt32(msg, f)))
	case protoreflect.Sint64Kind:
		return protowire.AppendVarint(dst, zigzag.Encode(access.GetInt64(msg, f)))
	case protoreflect.Fixed32Kind:
		return protowire.AppendFixed32(dst, access.GetUInt32(msg, f))
	case protoreflect.Fixed64Kind:
		return protowire.AppendFixed64(dst, access.GetUInt64(msg, f))
	case protoreflect.Sfixed32Kind:
		return protowire.AppendFixed32(dst, uint32(access.GetInt32(msg, f)))
	case protoreflect.Sfixed64Kind:
		return protowire.AppendFixed64(dst, uint64(access.GetInt64(msg, f)))
	case protoreflect.FloatKind:
		return protowire.AppendFixed32(dst, math.Float32bits(access.GetFloat(msg, f)))
	case protoreflect.DoubleKind:
		return protowire.AppendFixed64(dst, math.Float64bits(access.GetDouble(msg, f)))
	case protoreflect.EnumKind:
		return protowire.AppendVarint(dst, uint64(uint32(access.GetEnum(msg, f))))
	default:
		return dst
	}
}

// appendArrayScalar appends the ith element of a's backing array, with no
// tag of its own; used both for each unpacked element's value (after its
// caller has already appended a tag) and for every element of a packed
// run.
func appendArrayScalar(dst []byte, k protoreflect.Kind, a *access.Array, i int) []byte {
	switch k {
	case protoreflect.BoolKind:
		return protowire.AppendVarint(dst, boolVarint(access.GetArrayValue[bool](a, i)))
	case protoreflect.Int32Kind:
		return protowire.AppendVarint(dst, uint64(int64(access.GetArrayValue[int32](a, i))))
	case protoreflect.Int64Kind:
		return protowire.AppendVarint(dst, uint64(access.GetArrayValue[int64](a, i)))
	case protoreflect.Uint32Kind:
		return protowire.AppendVarint(dst, uint64(access.GetArrayValue[uint32](a, i)))
	case protoreflect.Uint64Kind:
		return protowire.AppendVarint(dst, access.GetArrayValue[uint64](a, i))
	case protoreflect.Sint32Kind:
		return protowire.AppendVarint(dst, zigzag.Encode(access.GetArrayValue[int32](a, i)))
	case protoreflect.Sint64Kind:
		return protowire.AppendVarint(dst, zigzag.Encode(access.GetArrayValue[int64](a, i)))
	case protoreflect.Fixed32Kind:
		return protowire.AppendFixed32(dst, access.GetArrayValue[uint32](a, i))
	case protoreflect.Fixed64Kind:
		return protowire.AppendFixed64(dst, access.GetArrayValue[uint64](a, i))
	case protoreflect.Sfixed32Kind:
		return protowire.AppendFixed32(dst, uint32(access.GetArrayValue[int32](a, i)))
	case protoreflect.Sfixed64Kind:
		return protowire.AppendFixed64(dst, uint64(access.GetArrayValue[int64](a, i)))
	case protoreflect.FloatKind:
		return protowire.AppendFixed32(dst, math.Float32bits(access.GetArrayValue[float32](a, i)))
	case protoreflect.DoubleKind:
		return protowire.AppendFixed64(dst, math.Float64bits(access.GetArrayValue[float64](a, i)))
	case protoreflect.EnumKind:
		return protowire.AppendVarint(dst, uint64(uint32(access.GetArrayValue[int32](a, i))))
	default:
		return dst
	}
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// wireTypeFor returns the wire type a scalar field of kind k is encoded
// as when it appears unpacked (the packed case always uses BytesType and
// is handled separately by appendPacked).
func wireTypeFor(k protoreflect.Kind) protowire.Type {
	switch k {
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type
	default:
		return protowire.VarintType
	}
}
