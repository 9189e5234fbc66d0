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

	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/mini"
)

// Type is a compiled message type: the mini-table layout the decoder and
// accessor layer use to parse and read messages of one particular shape.
//
// A Type is obtained from a [Library], not constructed directly.
type Type struct {
	table *mini.Table
}

// Descriptor returns the message descriptor this Type was compiled from.
func (t *Type) Descriptor() protoreflect.MessageDescriptor {
	return t.table.Descriptor
}

// New allocates a fresh, empty message of this type on a, for building
// up a message through the mutation API (e.g. [Message.SetMessage],
// [Message.AppendMessage]) rather than unmarshaling one.
func (t *Type) New(a *Arena) *Message {
	return wrapMessage(access.New(a.impl, t.table))
}

// Format implements [fmt.Formatter].
func (t *Type) Format(f fmt.State, verb rune) {
	if f.Flag('#') {
		fmt.Fprintf(f, fmt.FormatString(f, verb), t.Descriptor())
		return
	}
	fmt.Fprint(f, t.Descriptor().FullName())
}
