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

package minipb_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"buf.build/go/minipb"
)

// fdType compiles (once) and returns the [minipb.Type] for
// [descriptorpb.FileDescriptorProto]. It stands in for generated test
// fixtures: it is a real, already-available proto2 message with singular,
// repeated, and nested-message fields, without needing to run protoc as
// part of these tests.
var fdType = sync.OnceValue(func() *minipb.Type {
	md := (&descriptorpb.FileDescriptorProto{}).ProtoReflect().Descriptor()
	return minipb.Compile(md).Root()
})

// sampleFD is a small but non-trivial FileDescriptorProto value used across
// tests: a named, packaged file with one dependency and one message
// containing one field.
func sampleFD() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("test/sample.proto"),
		Package:    proto.String("test.sample"),
		Dependency: []string{"test/other.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Sample"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("value"),
						Number: proto.Int32(1),
						Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
						Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					},
				},
			},
		},
	}
}

func marshalSampleFD(t *testing.T) []byte {
	t.Helper()
	data, err := proto.Marshal(sampleFD())
	require.NoError(t, err)
	return data
}

// proto2RequiredDescriptor builds, in-process, a one-field proto2 message
// descriptor whose sole field is `required`, for exercising AllowPartial
// without needing a protoc-generated fixture.
func proto2RequiredDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()

	syntax := "proto2"
	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("minipb_test/required.proto"),
		Package: proto.String("minipb.test"),
		Syntax:  &syntax,
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("Required"),
			Field: []*descriptorpb.FieldDescriptorProto{{
				Name:   proto.String("id"),
				Number: proto.Int32(1),
				Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
				Label:  descriptorpb.FieldDescriptorProto_LABEL_REQUIRED.Enum(),
			}},
		}},
	}

	file, err := protodesc.NewFile(fd, nil)
	require.NoError(t, err)
	return file.Messages().Get(0)
}
