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

package json_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/json"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/zc"
)

// docDescriptor builds a proto3 "Doc" message exercising every field
// shape the JSON parser handles differently: scalars (including a
// 64-bit field, to exercise proto3 JSON's numeric-string convention),
// bytes, an enum, a nested message, a repeated scalar field, and a
// string-keyed map field.
func docDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()

	syntax := "proto3"
	mapEntry := true
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("json_test/doc.proto"),
		Package: proto.String("json.test.doc"),
		Syntax:  &syntax,
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Status"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("UNKNOWN"), Number: proto.Int32(0)},
				{Name: proto.String("ACTIVE"), Number: proto.Int32(1)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Sub"),
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:   proto.String("id"),
					Number: proto.Int32(1),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				}},
			},
			{
				Name:    proto.String("AttrsEntry"),
				Options: &descriptorpb.MessageOptions{MapEntry: &mapEntry},
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("key"),
						Number: proto.Int32(1),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
					{
						Name:   proto.String("value"),
						Number: proto.Int32(2),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
				},
			},
			{
				Name: proto.String("Doc"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("display_name"),
						Number: proto.Int32(1),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
					{
						Name:   proto.String("big"),
						Number: proto.Int32(2),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
					{
						Name:   proto.String("payload"),
						Number: proto.Int32(3),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_BYTES.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
					{
						Name:     proto.String("status"),
						Number:   proto.Int32(4),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum(),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						TypeName: proto.String(".json.test.doc.Status"),
					},
					{
						Name:     proto.String("child"),
						Number:   proto.Int32(5),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						TypeName: proto.String(".json.test.doc.Sub"),
					},
					{
						Name:   proto.String("tags"),
						Number: proto.Int32(6),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
					},
					{
						Name:     proto.String("attrs"),
						Number:   proto.Int32(7),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
						TypeName: proto.String(".json.test.doc.AttrsEntry"),
					},
				},
			},
		},
	}

	file, err := protodesc.NewFile(fd, nil)
	require.NoError(t, err)
	return file.Messages().Get(2) // Sub, AttrsEntry, Doc
}

func compileDoc(t *testing.T) *mini.Table {
	t.Helper()
	return mini.Compile(docDescriptor(t), mini.CompileOptions{}).Root
}

func unmarshalDoc(t *testing.T, table *mini.Table, text string, opts json.Options) *access.Message {
	t.Helper()
	a := arena.New(nil, nil)
	t.Cleanup(func() { arena.Free(a) })
	msg, err := json.Unmarshal([]byte(text), a, table, opts)
	require.NoError(t, err)
	return msg
}

func TestScalarFieldsByProtoName(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{
		"display_name": "widget",
		"big": "9223372036854775807",
		"status": "ACTIVE"
	}`, json.Options{})

	nameF := table.FindFieldByNumber(1)
	bigF := table.FindFieldByNumber(2)
	statusF := table.FindFieldByNumber(4)

	assert.Equal(t, "widget", access.GetString(msg, nameF).String(msg.Src))
	assert.Equal(t, int64(9223372036854775807), access.GetInt64(msg, bigF))
	assert.Equal(t, int32(1), access.GetEnum(msg, statusF))
}

func TestScalarFieldsByJSONName(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{"displayName": "camel", "big": 5, "status": 1}`, json.Options{})

	nameF := table.FindFieldByNumber(1)
	bigF := table.FindFieldByNumber(2)
	statusF := table.FindFieldByNumber(4)

	assert.Equal(t, "camel", access.GetString(msg, nameF).String(msg.Src))
	assert.Equal(t, int64(5), access.GetInt64(msg, bigF))
	// status is a proto3 field with no explicit presence, so only a
	// non-default value registers as "has" -- this also exercises
	// resolveEnum's numeric-token path.
	assert.True(t, access.Has(msg, statusF))
	assert.Equal(t, int32(1), access.GetEnum(msg, statusF))
}

func TestBytesFieldBase64(t *testing.T) {
	table := compileDoc(t)
	// "hi" base64-encodes to "aGk=".
	msg := unmarshalDoc(t, table, `{"payload": "aGk="}`, json.Options{})
	payloadF := table.FindFieldByNumber(3)
	assert.Equal(t, "hi", access.GetString(msg, payloadF).String(msg.Src))
}

func TestNestedMessageField(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{"child": {"id": 7}}`, json.Options{})
	childF := table.FindFieldByNumber(5)
	require.True(t, access.Has(msg, childF))

	sub := access.GetMessage(msg, childF)
	idF := sub.Table.FindFieldByNumber(1)
	assert.Equal(t, int32(7), access.GetInt32(sub, idF))
}

func TestRepeatedStringField(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{"tags": ["a", "b", "c"]}`, json.Options{})
	tagsF := table.FindFieldByNumber(6)

	a := access.GetArray(msg, tagsF)
	require.Equal(t, 3, a.Len())
	for i, want := range []string{"a", "b", "c"} {
		got := access.GetArrayValue[zc.Range](a, i)
		assert.Equal(t, want, got.String(msg.Src))
	}
}

func TestMapField(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{"attrs": {"color": "red", "size": "large"}}`, json.Options{})
	attrsF := table.FindFieldByNumber(7)

	a := access.GetArray(msg, attrsF)
	require.Equal(t, 2, a.Len())

	entryTable := table.Subs[attrsF.SubmsgIndex].Submsg
	keyF := entryTable.FindFieldByNumber(1)
	valF := entryTable.FindFieldByNumber(2)

	got := map[string]string{}
	for i := 0; i < a.Len(); i++ {
		entry := access.GetArrayValue[*access.Message](a, i)
		got[access.GetString(entry, keyF).String(entry.Src)] = access.GetString(entry, valF).String(entry.Src)
	}
	assert.Equal(t, map[string]string{"color": "red", "size": "large"}, got)
}

func TestUnknownFieldRejectedByDefault(t *testing.T) {
	table := compileDoc(t)
	a := arena.New(nil, nil)
	defer arena.Free(a)
	_, err := json.Unmarshal([]byte(`{"bogus": 1}`), a, table, json.Options{})
	require.Error(t, err)
}

func TestUnknownFieldDiscarded(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{"bogus": {"nested": [1, 2, 3]}, "display_name": "ok"}`, json.Options{DiscardUnknown: true})
	nameF := table.FindFieldByNumber(1)
	assert.Equal(t, "ok", access.GetString(msg, nameF).String(msg.Src))
}

func TestHighSurrogatePairDecodesCorrectly(t *testing.T) {
	table := compileDoc(t)
	// U+1F600 (grinning face) written as a \uD83D\uDE00 UTF-16 surrogate
	// pair escape, the encoding a JSON producer uses for any character
	// outside the Basic Multilingual Plane.
	msg := unmarshalDoc(t, table, `{"display_name": "\uD83D\uDE00"}`, json.Options{})
	nameF := table.FindFieldByNumber(1)
	assert.Equal(t, "\U0001F600", access.GetString(msg, nameF).String(msg.Src))
}

func TestNullLeavesFieldUnset(t *testing.T) {
	table := compileDoc(t)
	msg := unmarshalDoc(t, table, `{"display_name": null, "big": 1}`, json.Options{})
	nameF := table.FindFieldByNumber(1)
	bigF := table.FindFieldByNumber(2)
	assert.False(t, access.Has(msg, nameF))
	assert.True(t, access.Has(msg, bigF))
}
