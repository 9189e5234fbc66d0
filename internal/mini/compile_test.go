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

package mini_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"buf.build/go/minipb/internal/mini"
)

// proto2TestDescriptor builds a small proto2 message descriptor with one
// required, one optional, and one repeated field, entirely in-process (no
// protoc invocation), so Compile can be exercised against required-field
// semantics that descriptor.proto's own generated types don't carry.
func proto2TestDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()

	syntax := "proto2"
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("mini_test/required.proto"),
		Package: proto.String("mini.test"),
		Syntax:  &syntax,
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Required"),
			Field: []*descriptorpb.FieldDescriptorProto{
				{
					Name:   proto.String("id"),
					Number: proto.Int32(1),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_REQUIRED.Enum(),
				},
				{
					Name:   proto.String("name"),
					Number: proto.Int32(2),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
				},
				{
					Name:   proto.String("tags"),
					Number: proto.Int32(3),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
				},
				{
					Name:   proto.String("counts"),
					Number: proto.Int32(4),
					Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					Label:  descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
				},
			},
		}},
	}

	file, err := protodesc.NewFile(fd, nil)
	require.NoError(t, err)
	return file.Messages().Get(0)
}

func TestCompileRequiredFields(t *testing.T) {
	md := proto2TestDescriptor(t)
	lib := mini.Compile(md, mini.CompileOptions{})
	table := lib.Root

	require.Equal(t, uint32(1), table.RequiredCount)

	id := table.FindFieldByNumber(1)
	require.NotNil(t, id)
	assert.True(t, id.Required)

	name := table.FindFieldByNumber(2)
	require.NotNil(t, name)
	assert.False(t, name.Required)

	tags := table.FindFieldByNumber(3)
	require.NotNil(t, tags)
	assert.False(t, tags.Required)
	assert.Equal(t, mini.Repeated, tags.Mode)
}

func TestCompileDenseFieldLookup(t *testing.T) {
	md := proto2TestDescriptor(t)
	table := mini.Compile(md, mini.CompileOptions{}).Root

	// Fields 1-4 are declared contiguously, so they should form a dense
	// prefix looked up by direct indexing rather than binary search.
	assert.Equal(t, uint32(4), table.DenseBelow)
	assert.Nil(t, table.FindFieldByNumber(5))
}

func TestCompileFastRepeatedVarintGate(t *testing.T) {
	md := proto2TestDescriptor(t)

	withoutFast := mini.Compile(md, mini.CompileOptions{AllowFastRepeatedVarint: false}).Root
	withFast := mini.Compile(md, mini.CompileOptions{AllowFastRepeatedVarint: true}).Root

	counts := withoutFast.FindFieldByNumber(4)
	require.NotNil(t, counts)
	require.Equal(t, mini.Repeated, counts.Mode)
	tag := mini.EncodeTag(counts.Number, counts.WireType)

	gotWithout, _ := withoutFast.FastDispatch(byte(tag))
	gotWith, _ := withFast.FastDispatch(byte(tag))

	// A repeated unpacked varint field may only claim a dispatch slot when
	// the gate is enabled.
	assert.Nil(t, gotWithout)
	assert.NotNil(t, gotWith)
}
