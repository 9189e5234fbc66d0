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
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// wordSize is the alignment and granularity of message field storage. Every
// field is stored at a wordSize-aligned offset, trading a little padding for
// a layout that never needs sub-word atomics.
const wordSize = 8

// Compile builds a [Library] containing a [Table] for md and for every
// message type reachable from md through field references (including
// cycles, which are handled by memoizing on descriptor identity rather
// than by a strongly-connected-component sort).
//
// A compiled message buffer is laid out as: a bitset region (one bit per
// hasbit-tracked field, rounded up to a word), then one word per oneof,
// then one word per field's own data, in field-declaration order. A
// message's *Table, rather than living in the buffer itself the way a
// generated struct's vtable pointer would, is carried alongside the
// buffer by its Go-level wrapper (see internal/access.Message) -- so,
// unlike upb or hyperpb, no header word is reserved for it here.
func Compile(md protoreflect.MessageDescriptor, opts CompileOptions) *Library {
	c := &compiler{
		lib:  &Library{Types: map[protoreflect.MessageDescriptor]*Table{}},
		opts: opts,
	}
	c.lib.Root = c.compile(md)
	return c.lib
}

// CompileOptions configures a single call to [Compile].
type CompileOptions struct {
	// AllowFastRepeatedVarint is passed through to every [Table.Compile]
	// call this compile performs; see its doc comment.
	AllowFastRepeatedVarint bool
}

type compiler struct {
	lib  *Library
	opts CompileOptions
}

func (c *compiler) compile(md protoreflect.MessageDescriptor) *Table {
	if t, ok := c.lib.Types[md]; ok {
		return t
	}

	t := &Table{Descriptor: md}
	// Install the table before laying out fields, so that a field whose
	// submessage type is md itself (direct recursion) resolves to this same
	// *Table instead of recursing forever.
	c.lib.Types[md] = t

	fds := md.Fields()
	t.Fields = make([]Field, fds.Len())

	// Pass 1: classify each field and assign hasbits/oneof-case words, since
	// the size of the bitset region (and hence where field data starts)
	// isn't known until every field has been classified.
	hasbits := uint32(0)
	oneofWords := map[protoreflect.OneofDescriptor]uint32{}
	for i := range fds.Len() {
		fd := fds.Get(i)
		f := &t.Fields[i]
		f.Number = fd.Number()
		f.DescriptorType = fd.Kind()
		f.WireType = wireTypeOf(fd)
		f.Presence = -1 // No presence tracking unless set below.
		if fd.Cardinality() == protoreflect.Required {
			f.Required = true
			t.RequiredCount++
		}

		switch {
		case fd.IsMap():
			f.Mode = Map
		case fd.IsList():
			if isPackable(fd) && fd.IsPacked() {
				f.Mode = Packed
			} else {
				f.Mode = Repeated
			}
		case fd.ContainingOneof() != nil && !fd.ContainingOneof().IsSynthetic():
			f.Mode = Oneof
			od := fd.ContainingOneof()
			w, ok := oneofWords[od]
			if !ok {
				w = uint32(len(oneofWords))
				oneofWords[od] = w
			}
			f.Presence = Presence(-int32(w) - 1)
		default:
			f.Mode = Singular
			if fd.HasPresence() {
				f.Presence = Presence(hasbits)
				hasbits++
			}
		}
	}
	t.HasbitCount = hasbits
	t.OneofCount = uint32(len(oneofWords))

	bitsetBytes := alignUp((int(hasbits)+7)/8, wordSize)
	oneofBase := uint32(bitsetBytes)
	dataBase := oneofBase + uint32(len(oneofWords))*wordSize

	// Fix up oneof case-word offsets now that oneofBase is known: Presence
	// stored -(word_index)-1 in pass 1; rewrite it to -(byte_offset)-1.
	for i := range t.Fields {
		f := &t.Fields[i]
		if wordIdx, ok := f.Presence.OneofCase(); ok {
			f.Presence = Presence(-int32(oneofBase+wordIdx*wordSize) - 1)
		}
	}

	// Pass 2: assign data offsets and resolve sub-message/enum indirections.
	offset := dataBase
	for i := range fds.Len() {
		fd := fds.Get(i)
		f := &t.Fields[i]
		f.Data = offset
		offset += wordSize

		switch {
		case fd.IsMap(), fd.Kind() == protoreflect.MessageKind, fd.Kind() == protoreflect.GroupKind:
			f.SubmsgIndex = c.addSub(t, fd.Message())
		case fd.Kind() == protoreflect.EnumKind && fd.Enum().IsClosed():
			f.SubmsgIndex = c.addEnum(t, fd.Enum())
		case fd.Kind() == protoreflect.EnumKind:
			// Open enum: out of range, so enumFor finds no Enum to check.
			f.SubmsgIndex = ^uint32(0)
		}
	}

	t.Size = offset
	t.Compile(c.opts.AllowFastRepeatedVarint)
	return t
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func (c *compiler) addSub(t *Table, md protoreflect.MessageDescriptor) uint32 {
	idx := uint32(len(t.Subs))
	t.Subs = append(t.Subs, Sub{}) // Reserve the slot before recursing (cycles).
	sub := c.compile(md)
	t.Subs[idx] = Sub{Submsg: sub}
	return idx
}

func (c *compiler) addEnum(t *Table, ed protoreflect.EnumDescriptor) uint32 {
	idx := uint32(len(t.Subs))
	e := &Enum{
		Name:        ed.FullName(),
		Values:      map[int32]protoreflect.EnumValueDescriptor{},
		ValueByName: map[string]protoreflect.EnumValueDescriptor{},
	}
	values := ed.Values()
	for i := range values.Len() {
		v := values.Get(i)
		e.Values[int32(v.Number())] = v
		e.ValueByName[string(v.Name())] = v
	}
	t.Subs = append(t.Subs, Sub{Enum: e})
	return idx
}

func wireTypeOf(fd protoreflect.FieldDescriptor) protowire.Type {
	if fd.IsList() && isPackable(fd) && fd.IsPacked() {
		return protowire.BytesType
	}
	switch fd.Kind() {
	case protoreflect.BoolKind,
		protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Uint32Kind, protoreflect.Uint64Kind,
		protoreflect.Sint32Kind, protoreflect.Sint64Kind,
		protoreflect.EnumKind:
		return protowire.VarintType
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type
	case protoreflect.StringKind, protoreflect.BytesKind,
		protoreflect.MessageKind:
		return protowire.BytesType
	case protoreflect.GroupKind:
		return protowire.StartGroupType
	default:
		return protowire.VarintType
	}
}

func isPackable(fd protoreflect.FieldDescriptor) bool {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind,
		protoreflect.StringKind, protoreflect.BytesKind:
		return false
	default:
		return true
	}
}
