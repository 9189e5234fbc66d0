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

package decode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/decode"
	"buf.build/go/minipb/internal/mini"
)

// mixDescriptor builds a proto2 message descriptor exercising the fast
// path, the generic path, and the packed/unpacked wire-compatibility
// rule, entirely in-process: a singular int32 and double and bool (fast
// path candidates), an unpacked repeated int32 (fast path only with
// AllowFastRepeatedVarint), an explicitly packed repeated int32, and a
// closed enum field plus its unpacked repeated counterpart.
func mixDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()

	syntax := "proto2"
	packed := true
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("decode_test/mix.proto"),
		Package: proto.String("decode.test.mix"),
		Syntax:  &syntax,
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Status"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("UNKNOWN"), Number: proto.Int32(0)},
				{Name: proto.String("OK"), Number: proto.Int32(1)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Mix"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{
					Name:   proto.String("singular_int32"),
					Number: proto.Int32(1),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("d"),
					Number: proto.Int32(2),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_DOUBLE.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("b"),
					Number: proto.Int32(3),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("rep_int32"),
					Number: proto.Int32(4),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
				},
				{
					Name:     proto.String("packed_int32"),
					Number:   proto.Int32(5),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
					Options:  &descriptorpb.FieldOptions{Packed: &packed},
				},
				{
					Name:     proto.String("status"),
					Number:   proto.Int32(6),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum(),
					Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					TypeName: proto.String(".decode.test.mix.Status"),
				},
				{
					Name:     proto.String("rep_status"),
					Number:   proto.Int32(7),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum(),
					Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
					TypeName: proto.String(".decode.test.mix.Status"),
				},
			},
		}},
	}

	file, err := protodesc.NewFile(fd, nil)
	require.NoError(t, err)
	return file.Messages().Get(0)
}

func unmarshal(t *testing.T, table *mini.Table, data []byte, opts decode.Options) *access.Message {
	t.Helper()
	a := arena.New(nil, nil)
	t.Cleanup(func() { arena.Free(a) })
	msg, err := decode.Unmarshal(data, a, table, opts)
	require.NoError(t, err)
	return msg
}

// padForFastPath appends a packed_int32 (field 5) run of 16 zero bytes, so
// that at least the decoder's 16-byte fast-path slack follows every field
// under test and each of them is eligible for the fast path.
func padForFastPath(data []byte) []byte {
	data = protowire.AppendTag(data, 5, protowire.BytesType)
	return protowire.AppendBytes(data, make([]byte, 16))
}

func TestFastPathSingularScalars(t *testing.T) {
	md := mixDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{}).Root

	var data []byte
	data = protowire.AppendTag(data, 1, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(int32(-7))&0xffffffff)
	data = protowire.AppendTag(data, 2, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 0x3ff0000000000000) // 1.0
	data = protowire.AppendTag(data, 3, protowire.VarintType)
	data = protowire.AppendVarint(data, 1)
	data = padForFastPath(data)

	msg := unmarshal(t, table, data, decode.DefaultOptions())

	f1 := table.FindFieldByNumber(1)
	f2 := table.FindFieldByNumber(2)
	f3 := table.FindFieldByNumber(3)
	assert.Equal(t, int32(-7), access.GetInt32(msg, f1))
	assert.Equal(t, 1.0, access.GetDouble(msg, f2))
	assert.True(t, access.GetBool(msg, f3))
}

func TestFastAndGenericPathsAgree(t *testing.T) {
	md := mixDescriptor(t)
	fast := mini.Compile(md, mini.CompileOptions{}).Root
	generic := mini.Compile(md, mini.CompileOptions{}).Root
	generic.ForceGenericOnly()

	var data []byte
	data = protowire.AppendTag(data, 1, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(int32(42)))
	data = protowire.AppendTag(data, 2, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 0x4000000000000000) // 2.0
	data = protowire.AppendTag(data, 3, protowire.VarintType)
	data = protowire.AppendVarint(data, 0)
	data = padForFastPath(data)

	viaFast := unmarshal(t, fast, data, decode.DefaultOptions())
	viaGeneric := unmarshal(t, generic, data, decode.DefaultOptions())

	f1, f2, f3 := fast.FindFieldByNumber(1), fast.FindFieldByNumber(2), fast.FindFieldByNumber(3)
	assert.Equal(t, access.GetInt32(viaFast, f1), access.GetInt32(viaGeneric, f1))
	assert.Equal(t, access.GetDouble(viaFast, f2), access.GetDouble(viaGeneric, f2))
	assert.Equal(t, access.GetBool(viaFast, f3), access.GetBool(viaGeneric, f3))
}

func TestRepeatedVarintFastPathRequiresOption(t *testing.T) {
	md := mixDescriptor(t)

	var data []byte
	data = protowire.AppendTag(data, 4, protowire.VarintType)
	data = protowire.AppendVarint(data, 1)
	data = protowire.AppendTag(data, 4, protowire.VarintType)
	data = protowire.AppendVarint(data, 2)
	data = padForFastPath(data)

	withoutFast := mini.Compile(md, mini.CompileOptions{AllowFastRepeatedVarint: false}).Root
	withFast := mini.Compile(md, mini.CompileOptions{AllowFastRepeatedVarint: true}).Root

	for _, table := range []*mini.Table{withoutFast, withFast} {
		msg := unmarshal(t, table, data, decode.DefaultOptions())
		f := table.FindFieldByNumber(4)
		a := access.GetArray(msg, f)
		require.Equal(t, 2, a.Len())
		assert.Equal(t, int32(1), access.GetArrayValue[int32](a, 0))
		assert.Equal(t, int32(2), access.GetArrayValue[int32](a, 1))
	}
}

func TestRepeatedScalarArrivingPacked(t *testing.T) {
	md := mixDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{}).Root

	// rep_int32 (field 4) is declared Repeated (unpacked, proto2 default),
	// but protobuf lets a sender emit it as a single length-delimited
	// packed run regardless -- the decoder must still read it correctly.
	var body []byte
	body = protowire.AppendVarint(body, 10)
	body = protowire.AppendVarint(body, 20)
	body = protowire.AppendVarint(body, 30)

	var data []byte
	data = protowire.AppendTag(data, 4, protowire.BytesType)
	data = protowire.AppendBytes(data, body)

	msg := unmarshal(t, table, data, decode.DefaultOptions())
	f := table.FindFieldByNumber(4)
	require.Equal(t, mini.Repeated, f.Mode)

	a := access.GetArray(msg, f)
	require.Equal(t, 3, a.Len())
	assert.Equal(t, int32(10), access.GetArrayValue[int32](a, 0))
	assert.Equal(t, int32(20), access.GetArrayValue[int32](a, 1))
	assert.Equal(t, int32(30), access.GetArrayValue[int32](a, 2))
}

func TestPackedFieldArrivingUnpacked(t *testing.T) {
	md := mixDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{}).Root

	// packed_int32 (field 5) is declared Packed, but an old encoder may
	// still emit individual unpacked occurrences.
	var data []byte
	data = protowire.AppendTag(data, 5, protowire.VarintType)
	data = protowire.AppendVarint(data, 100)
	data = protowire.AppendTag(data, 5, protowire.VarintType)
	data = protowire.AppendVarint(data, 200)

	msg := unmarshal(t, table, data, decode.DefaultOptions())
	f := table.FindFieldByNumber(5)
	require.Equal(t, mini.Packed, f.Mode)

	a := access.GetArray(msg, f)
	require.Equal(t, 2, a.Len())
	assert.Equal(t, int32(100), access.GetArrayValue[int32](a, 0))
	assert.Equal(t, int32(200), access.GetArrayValue[int32](a, 1))
}

func TestClosedEnumInvalidValuePreservedAsUnknown(t *testing.T) {
	md := mixDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{}).Root

	var data []byte
	data = protowire.AppendTag(data, 6, protowire.VarintType)
	data = protowire.AppendVarint(data, 99) // not a declared Status value

	msg := unmarshal(t, table, data, decode.DefaultOptions())
	f := table.FindFieldByNumber(6)
	assert.False(t, access.Has(msg, f))
	require.Len(t, msg.Unknown, 1)
	assert.Equal(t, data, msg.Unknown[0].Bytes(msg.Src))
}

func TestClosedEnumValidValueFastPath(t *testing.T) {
	md := mixDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{}).Root

	var data []byte
	data = protowire.AppendTag(data, 6, protowire.VarintType)
	data = protowire.AppendVarint(data, 1) // OK
	data = padForFastPath(data)

	msg := unmarshal(t, table, data, decode.DefaultOptions())
	f := table.FindFieldByNumber(6)
	require.True(t, access.Has(msg, f))
	assert.Equal(t, int32(1), access.GetEnum(msg, f))
}

func TestRepeatedClosedEnumDropsInvalidValues(t *testing.T) {
	md := mixDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{AllowFastRepeatedVarint: true}).Root

	var data []byte
	data = protowire.AppendTag(data, 7, protowire.VarintType)
	data = protowire.AppendVarint(data, 1) // OK, valid
	data = protowire.AppendTag(data, 7, protowire.VarintType)
	data = protowire.AppendVarint(data, 7) // invalid, dropped
	data = protowire.AppendTag(data, 7, protowire.VarintType)
	data = protowire.AppendVarint(data, 0) // UNKNOWN, valid
	data = padForFastPath(data)

	msg := unmarshal(t, table, data, decode.DefaultOptions())
	f := table.FindFieldByNumber(7)
	a := access.GetArray(msg, f)
	require.Equal(t, 2, a.Len())
	assert.Equal(t, int32(1), access.GetArrayValue[int32](a, 0))
	assert.Equal(t, int32(0), access.GetArrayValue[int32](a, 1))
	assert.Empty(t, msg.Unknown)
}

func TestRecursionDepthLimit(t *testing.T) {
	syntax := "proto3"
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("decode_test/recur.proto"),
		Package: proto.String("decode.test.recur"),
		Syntax:  &syntax,
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Node"),
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:     proto.String("child"),
				Number:   proto.Int32(1),
				Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
				Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				TypeName: proto.String(".decode.test.recur.Node"),
			}},
		}},
	}
	file, err := protodesc.NewFile(fd, nil)
	require.NoError(t, err)
	table := mini.Compile(file.Messages().Get(0), mini.CompileOptions{}).Root

	// Build a chain of nested "child" submessages deeper than the default
	// limit.
	var data []byte
	for i := 0; i < 200; i++ {
		var next []byte
		next = protowire.AppendTag(next, 1, protowire.BytesType)
		next = protowire.AppendBytes(next, data)
		data = next
	}

	a := arena.New(nil, nil)
	defer arena.Free(a)
	_, err = decode.Unmarshal(data, a, table, decode.DefaultOptions())
	require.Error(t, err)
	var de *decode.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, decode.ErrRecursionDepth, de.Code)
}

func TestAliasSafetyNumericVsString(t *testing.T) {
	syntax := "proto2"
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("decode_test/alias.proto"),
		Package: proto.String("decode.test.alias"),
		Syntax:  &syntax,
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Alias"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{
					Name:   proto.String("n"),
					Number: proto.Int32(1),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("s"),
					Number: proto.Int32(2),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
			},
		}},
	}
	file, err := protodesc.NewFile(fd, nil)
	require.NoError(t, err)
	table := mini.Compile(file.Messages().Get(0), mini.CompileOptions{}).Root

	var data []byte
	data = protowire.AppendTag(data, 1, protowire.VarintType)
	data = protowire.AppendVarint(data, 5)
	data = protowire.AppendTag(data, 2, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("hello"))

	a := arena.New(nil, nil)
	defer arena.Free(a)
	msg, err := decode.Unmarshal(data, a, table, decode.DefaultOptions())
	require.NoError(t, err)

	nField := table.FindFieldByNumber(1)
	sField := table.FindFieldByNumber(2)
	n := access.GetInt32(msg, nField)
	s := access.GetString(msg, sField).String(msg.Src)
	require.Equal(t, int32(5), n)
	require.Equal(t, "hello", s)

	// Numeric fields were copied into the message buffer at decode time;
	// corrupting the input afterward must not affect them. String fields
	// alias the input buffer, so corrupting it does change what they read.
	copy(data[len(data)-5:], "HELLO")
	assert.Equal(t, int32(5), access.GetInt32(msg, nField))
	assert.Equal(t, "HELLO", access.GetString(msg, sField).String(msg.Src))
}
