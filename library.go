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
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/mini"
)

// CompileOption configures [Compile].
type CompileOption struct{ apply func(*mini.CompileOptions) }

// WithFastRepeatedVarint enables the fast-path dispatch slot for repeated
// unpacked varint fields. It is off by default: a message with many
// repeated varint fields sent unpacked lets an adversary force the
// decoder to repeatedly reconsider the same dispatch slot, and most
// real-world encoders emit packed repeated scalars anyway.
func WithFastRepeatedVarint(allow bool) CompileOption {
	return CompileOption{func(o *mini.CompileOptions) { o.AllowFastRepeatedVarint = allow }}
}

// Library is a set of compiled [Type]s for a message descriptor and every
// message type reachable from it through field references, compiled
// together so that a submessage field's type never needs recompiling.
type Library struct {
	lib *mini.Library
}

// Compile compiles md, and every message type reachable from it, into a
// [Library]. This is a one-time cost meant to be paid once per message
// descriptor and reused across every subsequent unmarshal.
func Compile(md protoreflect.MessageDescriptor, opts ...CompileOption) *Library {
	var o mini.CompileOptions
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &Library{lib: mini.Compile(md, o)}
}

// Root returns the [Type] for the descriptor this Library was compiled
// from.
func (l *Library) Root() *Type {
	return &Type{table: l.lib.Root}
}

// Type returns the compiled [Type] for md, if md was compiled as part of
// this Library (either as its root or as a submessage type reachable from
// it).
func (l *Library) Type(md protoreflect.MessageDescriptor) (*Type, bool) {
	t, ok := l.lib.Table(md)
	if !ok {
		return nil, false
	}
	return &Type{table: t}, true
}
