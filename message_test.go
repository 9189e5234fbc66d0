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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buf.build/go/minipb"
)

func TestMessageScalarFields(t *testing.T) {
	a := minipb.NewArena()
	defer a.Free()

	msg, err := fdType().Unmarshal(marshalSampleFD(t), a)
	require.NoError(t, err)

	md := fdType().Descriptor()
	nameFD := md.Fields().ByName("name")
	pkgFD := md.Fields().ByName("package")

	assert.True(t, msg.Has(nameFD))
	assert.Equal(t, "test/sample.proto", msg.Get(nameFD).String())
	assert.Equal(t, "test.sample", msg.Get(pkgFD).String())
}

func TestMessageRepeatedScalarField(t *testing.T) {
	a := minipb.NewArena()
	defer a.Free()

	msg, err := fdType().Unmarshal(marshalSampleFD(t), a)
	require.NoError(t, err)

	dep := fdType().Descriptor().Fields().ByName("dependency")
	require.Equal(t, 1, msg.Len(dep))
	assert.Equal(t, "test/other.proto", msg.GetRepeated(dep, 0).String())
}

func TestMessageRepeatedMessageField(t *testing.T) {
	a := minipb.NewArena()
	defer a.Free()

	msg, err := fdType().Unmarshal(marshalSampleFD(t), a)
	require.NoError(t, err)

	md := fdType().Descriptor()
	mt := md.Fields().ByName("message_type")
	require.Equal(t, 1, msg.Len(mt))

	sub := msg.GetRepeatedMessage(mt, 0)
	require.NotNil(t, sub)

	subName := sub.Type().Descriptor().Fields().ByName("name")
	assert.Equal(t, "Sample", sub.Get(subName).String())

	fieldsFD := sub.Type().Descriptor().Fields().ByName("field")
	require.Equal(t, 1, sub.Len(fieldsFD))

	field := sub.GetRepeatedMessage(fieldsFD, 0)
	fieldNameFD := field.Type().Descriptor().Fields().ByName("name")
	assert.Equal(t, "value", field.Get(fieldNameFD).String())
}

func TestMessageUnsetFieldReturnsDefault(t *testing.T) {
	a := minipb.NewArena()
	defer a.Free()

	msg, err := fdType().Unmarshal(marshalSampleFD(t), a)
	require.NoError(t, err)

	md := fdType().Descriptor()
	syntaxFD := md.Fields().ByName("syntax")

	assert.False(t, msg.Has(syntaxFD))
	assert.Equal(t, "", msg.Get(syntaxFD).String())
}
