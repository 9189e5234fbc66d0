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

package decode

import (
	"unsafe"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"buf.build/go/minipb/internal/access"
	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/zc"
	"buf.build/go/minipb/internal/zigzag"
)

// Unmarshal decodes data according to table, allocating the resulting
// message (and everything it points to) on a.
func Unmarshal(data []byte, a *arena.Arena, table *mini.Table, opts Options) (msg *access.Message, err error) {
	if opts.MaxDepth == 0 {
		opts.MaxDepth = defaultMaxDepth
	}

	var src *byte
	if len(data) > 0 {
		src = &data[0]
	}
	s := &State{
		src:      src,
		ptr:      src,
		maxDepth: opts.MaxDepth,
		arena:    a,
		opts:     opts,
	}
	s.limit = (*byte)(unsafe.Add(unsafe.Pointer(src), len(data)))

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*Error); ok {
				err = e
				msg = nil
				return
			}
			panic(r)
		}
	}()

	msg = access.New(a, table)
	msg.Src = s.src
	parseMessage(s, msg, table)
	return msg, nil
}

// parseMessage parses a message body -- the field sequence between the
// current cursor and s.limit -- into msg, whose fields are laid out per
// table.
func parseMessage(s *State, msg *access.Message, table *mini.Table) {
	for !s.done() {
		if tryFastPath(s, msg, table) {
			continue
		}

		num, wt := s.tag()

		if wt == protowire.EndGroupType {
			if s.endGroup != 0 && uint64(num) == s.endGroup {
				return
			}
			s.fail(ErrMalformed)
		}

		f := table.FindFieldByNumber(num)
		if f == nil || !f.IsValid() {
			captureUnknown(s, msg, num, wt)
			continue
		}

		parseField(s, msg, table, f, wt)
	}
	if s.endGroup != 0 {
		// The frame ran out before the group's end-group tag arrived.
		s.fail(ErrTruncated)
	}
}

// tryFastPath attempts to handle the field occurrence at s's cursor using
// the dispatch-slot machinery [mini.Table] builds at Compile time: a
// direct XOR-compare of the raw tag against the slot's expected tag word,
// skipping both FindFieldByNumber's search and setScalar's generic kind
// switch for the common case of a fixed-shape scalar landing in its
// predicted slot. It reports whether it consumed the field; any false
// return leaves the cursor untouched and the caller must fall back to the
// generic per-tag path.
//
// The fast path fires for singular and oneof scalar fields of a fixed
// on-wire width (varint or fixed32/fixed64), and -- only when
// [mini.Table.Compile] was built with allowFastRepeatedVarint -- for
// repeated unpacked varint-kind scalars, appending to the array instead of
// overwriting a single slot. Message, group, string, and bytes fields need
// a real bounds check against the frame limit to read their
// length-prefixed payload, not just the trailing slack fastLimit
// guarantees, so they always fall through to the generic path, as do
// packed and map fields.
func tryFastPath(s *State, msg *access.Message, table *mini.Table) bool {
	if uintptr(unsafe.Pointer(s.ptr)) > uintptr(unsafe.Pointer(s.fastLimit())) {
		return false
	}

	f, dispatchData := table.FastDispatch(s.peek())
	if f == nil {
		return false
	}
	switch f.Mode {
	case mini.Singular, mini.Oneof, mini.Repeated:
	default:
		return false
	}
	switch f.DescriptorType {
	case protoreflect.MessageKind, protoreflect.GroupKind,
		protoreflect.StringKind, protoreflect.BytesKind:
		return false
	}

	tag, n := readTagUnchecked(s.ptr)
	if n == 0 {
		return false
	}
	if uint32(dispatchData^uint64(tag)) != 0 {
		// Low bits (the tag) disagree: either a different field hashed to
		// this slot, or this occurrence has an unexpected wire type.
		return false
	}

	s.advance(n)
	if f.Mode == mini.Repeated {
		appendFastScalar(s, msg, table, f)
	} else {
		storeFastScalar(s, msg, table, f)
	}
	return true
}

// appendFastScalar is tryFastPath's counterpart to storeFastScalar for a
// repeated unpacked varint-kind field occurrence: [mini.Table.Compile]
// only ever assigns such a field a dispatch slot when its declared
// [mini.Field.WireType] is VarintType, so this only needs to cover the
// varint-shaped kinds, unlike storeFastScalar's full switch.
func appendFastScalar(s *State, msg *access.Message, table *mini.Table, f *mini.Field) {
	switch f.DescriptorType {
	case protoreflect.BoolKind:
		p := access.AppendArrayValue(msg, f, 1)
		*(*bool)(p) = s.varint() != 0
	case protoreflect.Int32Kind:
		p := access.AppendArrayValue(msg, f, 4)
		*(*int32)(p) = int32(s.varint())
	case protoreflect.Uint32Kind:
		p := access.AppendArrayValue(msg, f, 4)
		*(*uint32)(p) = uint32(s.varint())
	case protoreflect.Sint32Kind:
		p := access.AppendArrayValue(msg, f, 4)
		*(*int32)(p) = zigzag.Decode64[int32](s.varint())
	case protoreflect.Int64Kind:
		p := access.AppendArrayValue(msg, f, 8)
		*(*int64)(p) = int64(s.varint())
	case protoreflect.Uint64Kind:
		p := access.AppendArrayValue(msg, f, 8)
		*(*uint64)(p) = s.varint()
	case protoreflect.Sint64Kind:
		p := access.AppendArrayValue(msg, f, 8)
		*(*int64)(p) = zigzag.Decode64[int64](s.varint())
	case protoreflect.EnumKind:
		v := int32(s.varint())
		if !enumFor(table, f).IsValid(v) {
			// Matches parseRepeatedElement's enum branch: an invalid value
			// in a repeated field is dropped silently, not preserved as
			// unknown, so the fast and generic paths agree.
			return
		}
		p := access.AppendArrayValue(msg, f, 4)
		*(*int32)(p) = v
	default:
		s.fail(ErrMalformed)
	}
}

// parseField dispatches a single field occurrence to the right storage
// operation based on the field's mode and kind.
func parseField(s *State, msg *access.Message, table *mini.Table, f *mini.Field, wt protowire.Type) {
	switch f.Mode {
	case mini.Packed:
		if wt != protowire.BytesType {
			// Not actually packed on the wire (an old encoder emitted
			// individual tags); fall through to the unpacked path.
			parseRepeatedElement(s, msg, table, f, wt)
			return
		}
		parsePacked(s, msg, table, f)

	case mini.Repeated:
		// Protobuf's wire format lets a receiver accept a scalar repeated
		// field encoded either packed or unpacked regardless of how the
		// field was declared, so a Repeated-mode field arriving as a
		// length-delimited blob is read as a packed run rather than
		// misinterpreted as one oversized scalar.
		if wt == protowire.BytesType && isPackableScalar(f.DescriptorType) {
			parsePacked(s, msg, table, f)
			return
		}
		parseRepeatedElement(s, msg, table, f, wt)

	case mini.Map:
		parseRepeatedElement(s, msg, table, f, wt)

	case mini.Oneof:
		if f.DescriptorType == protoreflect.MessageKind || f.DescriptorType == protoreflect.GroupKind {
			sub := access.GetMutableMessage(msg, f)
			parseSubmessage(s, sub, f, wt)
			return
		}
		setScalar(s, msg, table, f, wt)

	default: // Singular.
		if f.DescriptorType == protoreflect.MessageKind || f.DescriptorType == protoreflect.GroupKind {
			sub := access.GetMutableMessage(msg, f)
			parseSubmessage(s, sub, f, wt)
			return
		}
		setScalar(s, msg, table, f, wt)
	}
}

// isPackableScalar reports whether k is a scalar kind that may legally
// appear packed (length-delimited) on the wire; message, group, string,
// and bytes fields use BytesType for unrelated reasons and are never
// packed.
func isPackableScalar(k protoreflect.Kind) bool {
	switch k {
	case protoreflect.MessageKind, protoreflect.GroupKind,
		protoreflect.StringKind, protoreflect.BytesKind:
		return false
	default:
		return true
	}
}

func parseSubmessage(s *State, sub *access.Message, f *mini.Field, wt protowire.Type) {
	s.depth++
	if s.depth > s.maxDepth {
		s.fail(ErrRecursionDepth)
	}

	switch wt {
	case protowire.BytesType:
		r := s.lengthPrefixed()
		child := &State{
			src: s.src, ptr: addOffset(s.src, r.Start()), limit: addOffset(s.src, r.End()),
			depth: s.depth, maxDepth: s.maxDepth, arena: s.arena, opts: s.opts,
		}
		parseMessage(child, sub, sub.Table)
	case protowire.StartGroupType:
		child := &State{
			src: s.src, ptr: s.ptr, limit: s.limit,
			depth: s.depth, maxDepth: s.maxDepth, arena: s.arena, opts: s.opts,
			endGroup: uint64(f.Number),
		}
		parseMessage(child, sub, sub.Table)
		// parseMessage returns having already consumed the matching
		// end-group tag, so the parent cursor simply picks up there.
		s.ptr = child.ptr
	default:
		s.fail(ErrMalformed)
	}
	s.depth--
}

func addOffset(src *byte, n int) *byte {
	return (*byte)(unsafe.Add(unsafe.Pointer(src), n))
}

// setScalar reads one scalar value of the wire type wt off the cursor and
// stores it into f, per f's declared kind.
func setScalar(s *State, msg *access.Message, table *mini.Table, f *mini.Field, wt protowire.Type) {
	switch f.DescriptorType {
	case protoreflect.BoolKind:
		access.SetBool(msg, f, s.varint() != 0)
	case protoreflect.Int32Kind:
		access.SetInt32(msg, f, int32(s.varint()))
	case protoreflect.Int64Kind:
		access.SetInt64(msg, f, int64(s.varint()))
	case protoreflect.Uint32Kind:
		access.SetUInt32(msg, f, uint32(s.varint()))
	case protoreflect.Uint64Kind:
		access.SetUInt64(msg, f, s.varint())
	case protoreflect.Sint32Kind:
		access.SetInt32(msg, f, zigzag.Decode64[int32](s.varint()))
	case protoreflect.Sint64Kind:
		access.SetInt64(msg, f, zigzag.Decode64[int64](s.varint()))
	case protoreflect.Fixed32Kind:
		access.SetUInt32(msg, f, s.fixed32())
	case protoreflect.Fixed64Kind:
		access.SetUInt64(msg, f, s.fixed64())
	case protoreflect.Sfixed32Kind:
		access.SetInt32(msg, f, int32(s.fixed32()))
	case protoreflect.Sfixed64Kind:
		access.SetInt64(msg, f, int64(s.fixed64()))
	case protoreflect.FloatKind:
		access.SetFloat(msg, f, unsafeFloat32(s.fixed32()))
	case protoreflect.DoubleKind:
		access.SetDouble(msg, f, unsafeFloat64(s.fixed64()))
	case protoreflect.EnumKind:
		valueStart := s.offset()
		v := int32(s.varint())
		if enumFor(table, f).IsValid(v) {
			access.SetEnum(msg, f, v)
		} else {
			recordUnknownRange(s, msg, f.Number, valueStart)
		}
	case protoreflect.StringKind, protoreflect.BytesKind:
		if wt != protowire.BytesType {
			s.fail(ErrMalformed)
		}
		access.SetString(msg, f, s.lengthPrefixed())
	default:
		s.fail(ErrMalformed)
	}
}

// storeFastScalar is setScalar's fast-path counterpart: it assumes the
// tag has already been matched and consumed by tryFastPath, and uses
// unchecked fixed-width reads (safe within fastLimit's trailing slack)
// for the Fixed32/Fixed64-shaped kinds. Varint kinds still go through
// State.varint, which is already cheap and self-terminating.
func storeFastScalar(s *State, msg *access.Message, table *mini.Table, f *mini.Field) {
	switch f.DescriptorType {
	case protoreflect.BoolKind:
		access.SetBool(msg, f, s.varint() != 0)
	case protoreflect.Int32Kind:
		access.SetInt32(msg, f, int32(s.varint()))
	case protoreflect.Int64Kind:
		access.SetInt64(msg, f, int64(s.varint()))
	case protoreflect.Uint32Kind:
		access.SetUInt32(msg, f, uint32(s.varint()))
	case protoreflect.Uint64Kind:
		access.SetUInt64(msg, f, s.varint())
	case protoreflect.Sint32Kind:
		access.SetInt32(msg, f, zigzag.Decode64[int32](s.varint()))
	case protoreflect.Sint64Kind:
		access.SetInt64(msg, f, zigzag.Decode64[int64](s.varint()))
	case protoreflect.Fixed32Kind:
		access.SetUInt32(msg, f, fixed32Unchecked(s.ptr))
		s.advance(4)
	case protoreflect.Fixed64Kind:
		access.SetUInt64(msg, f, fixed64Unchecked(s.ptr))
		s.advance(8)
	case protoreflect.Sfixed32Kind:
		access.SetInt32(msg, f, int32(fixed32Unchecked(s.ptr)))
		s.advance(4)
	case protoreflect.Sfixed64Kind:
		access.SetInt64(msg, f, int64(fixed64Unchecked(s.ptr)))
		s.advance(8)
	case protoreflect.FloatKind:
		access.SetFloat(msg, f, unsafeFloat32(fixed32Unchecked(s.ptr)))
		s.advance(4)
	case protoreflect.DoubleKind:
		access.SetDouble(msg, f, unsafeFloat64(fixed64Unchecked(s.ptr)))
		s.advance(8)
	case protoreflect.EnumKind:
		valueStart := s.offset()
		v := int32(s.varint())
		if enumFor(table, f).IsValid(v) {
			access.SetEnum(msg, f, v)
		} else {
			recordUnknownRange(s, msg, f.Number, valueStart)
		}
	default:
		s.fail(ErrMalformed)
	}
}

// enumFor returns the closed-enum value set governing f, or nil if f's
// enum is open (or f is not enum-typed at all), in which case
// [mini.Enum.IsValid] treats every value as legal.
func enumFor(table *mini.Table, f *mini.Field) *mini.Enum {
	if int(f.SubmsgIndex) >= len(table.Subs) {
		return nil
	}
	return table.Subs[f.SubmsgIndex].Enum
}

func unsafeFloat32(bits uint32) float32 { return *(*float32)(unsafe.Pointer(&bits)) }
func unsafeFloat64(bits uint64) float64 { return *(*float64)(unsafe.Pointer(&bits)) }

// elemSize is the width, in bytes, of one array slot for a field of the
// given kind.
func elemSize(k protoreflect.Kind) int {
	switch k {
	case protoreflect.BoolKind:
		return 1
	case protoreflect.Int32Kind, protoreflect.Uint32Kind, protoreflect.Sint32Kind,
		protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind,
		protoreflect.EnumKind:
		return 4
	default:
		return 8
	}
}

// parseRepeatedElement appends one unpacked element (scalar, string, or
// message) to f's array.
func parseRepeatedElement(s *State, msg *access.Message, table *mini.Table, f *mini.Field, wt protowire.Type) {
	if f.DescriptorType == protoreflect.MessageKind || f.DescriptorType == protoreflect.GroupKind {
		subTable := table.Subs[f.SubmsgIndex].Submsg
		sub := access.New(s.arena, subTable)
		sub.Src = msg.Src
		p := access.AppendArrayValue(msg, f, 8)
		*(*unsafe.Pointer)(p) = unsafe.Pointer(sub)
		parseSubmessage(s, sub, f, wt)
		return
	}

	if f.DescriptorType == protoreflect.EnumKind {
		v := int32(s.varint())
		if !enumFor(table, f).IsValid(v) {
			return
		}
		p := access.AppendArrayValue(msg, f, 4)
		*(*int32)(p) = v
		return
	}

	size := elemSize(f.DescriptorType)
	p := access.AppendArrayValue(msg, f, size)
	storeScalarAt(s, f.DescriptorType, wt, p)
}

// parsePacked consumes a length-delimited run of packed scalar values.
func parsePacked(s *State, msg *access.Message, table *mini.Table, f *mini.Field) {
	r := s.lengthPrefixed()
	sub := &State{
		src: s.src, ptr: addOffset(s.src, r.Start()), limit: addOffset(s.src, r.End()),
		arena: s.arena, opts: s.opts,
	}

	if f.DescriptorType == protoreflect.EnumKind {
		enum := enumFor(table, f)
		for !sub.done() {
			v := int32(sub.varint())
			if !enum.IsValid(v) {
				// A closed enum rejects the value; dropping the element
				// silently (rather than preserving it as unknown) is a
				// known simplification for packed runs.
				continue
			}
			p := access.AppendArrayValue(msg, f, 4)
			*(*int32)(p) = v
		}
		s.ptr = sub.ptr
		return
	}

	size := elemSize(f.DescriptorType)
	for !sub.done() {
		p := access.AppendArrayValue(msg, f, size)
		storeScalarAt(sub, f.DescriptorType, wireTypeFor(f.DescriptorType), p)
	}
	s.ptr = sub.ptr
}

func wireTypeFor(k protoreflect.Kind) protowire.Type {
	switch k {
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type
	case protoreflect.StringKind, protoreflect.BytesKind:
		return protowire.BytesType
	default:
		return protowire.VarintType
	}
}

// storeScalarAt decodes one value of kind k off s and writes it directly
// into the elemSize(k)-byte slot at p, used for both repeated and packed
// storage, which bypass the per-message hasbit/oneof bookkeeping that
// [setScalar] performs for singular fields.
func storeScalarAt(s *State, k protoreflect.Kind, wt protowire.Type, p unsafe.Pointer) {
	switch k {
	case protoreflect.BoolKind:
		*(*bool)(p) = s.varint() != 0
	case protoreflect.Int32Kind:
		*(*int32)(p) = int32(s.varint())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if wt == protowire.Fixed32Type || k == protoreflect.Fixed32Kind {
			*(*uint32)(p) = s.fixed32()
		} else {
			*(*uint32)(p) = uint32(s.varint())
		}
	case protoreflect.Sint32Kind:
		*(*int32)(p) = zigzag.Decode64[int32](s.varint())
	case protoreflect.Sfixed32Kind:
		*(*int32)(p) = int32(s.fixed32())
	case protoreflect.FloatKind:
		*(*float32)(p) = unsafeFloat32(s.fixed32())
	case protoreflect.Int64Kind:
		*(*int64)(p) = int64(s.varint())
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if wt == protowire.Fixed64Type || k == protoreflect.Fixed64Kind {
			*(*uint64)(p) = s.fixed64()
		} else {
			*(*uint64)(p) = s.varint()
		}
	case protoreflect.Sint64Kind:
		*(*int64)(p) = zigzag.Decode64[int64](s.varint())
	case protoreflect.Sfixed64Kind:
		*(*int64)(p) = int64(s.fixed64())
	case protoreflect.DoubleKind:
		*(*float64)(p) = unsafeFloat64(s.fixed64())
	case protoreflect.StringKind, protoreflect.BytesKind:
		*(*zc.Range)(p) = s.lengthPrefixed()
	default:
		s.fail(ErrMalformed)
	}
}

// captureUnknown appends the raw tag+value bytes for an unrecognized
// field to msg's unknown-field list, so re-serialization can round-trip
// it, unless the caller has asked to discard unknowns entirely.
func captureUnknown(s *State, msg *access.Message, num protowire.Number, wt protowire.Type) {
	valueStart := s.offset()
	s.skipValue(wt)
	recordUnknownRange(s, msg, num, valueStart)
}

// recordUnknownRange appends the span covering a field's tag (sized from
// num, since it was already consumed by the caller) and the value bytes
// already read between valueStart and the current cursor to msg's
// unknown-field list, unless the caller has asked to discard unknowns
// entirely. Shared by captureUnknown (generic unrecognized fields) and the
// scalar decoders' rejected-enum-value path, which has already consumed
// the value by the time it discovers the value is illegal.
func recordUnknownRange(s *State, msg *access.Message, num protowire.Number, valueStart int) {
	if s.opts.DiscardUnknown {
		return
	}

	tagSize := protowire.SizeTag(num)
	msg.Unknown = append(msg.Unknown, zc.NewRaw(valueStart-tagSize, s.offset()-valueStart+tagSize))
}
