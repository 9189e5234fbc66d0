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

	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/zc"
)

// safeSlack is the number of trailing bytes the fast path refuses to
// touch: a field tag plus the largest fixed-width value (8 bytes) that a
// fast-path parser reads without an explicit bounds check first.
const safeSlack = 16

// defaultMaxDepth is the default recursion depth limit for nested
// messages and groups.
const defaultMaxDepth = 100

// Options configures a single decode.
type Options struct {
	MaxDepth        int
	AllowPartial    bool
	DiscardUnknown  bool
}

// DefaultOptions returns the options used when the caller supplies none.
func DefaultOptions() Options {
	return Options{MaxDepth: defaultMaxDepth}
}

// State is the transient state of a single top-level decode: the input
// cursor, the recursion depth counter, and a handle to the arena new
// messages and their backing storage are allocated from.
//
// A State is stack-allocated by [Unmarshal] and torn down (by simply
// going out of scope) at the end of the parse; decoded messages outlive
// it because they, and their fields, live on the arena instead.
type State struct {
	src   *byte // Start of the input, for zc.Range offset computation.
	ptr   *byte
	limit *byte // One past the last byte available to the current frame.

	depth, maxDepth int
	endGroup        uint64 // 0 means "not inside a group".

	arena *arena.Arena
	opts  Options

	err *Error
}

// fastLimit is the point past which the fast path refuses to run,
// guaranteeing a fast-path parser that has passed its slot/tag check can
// safely read a tag and up to 8 bytes of fixed-width data without an
// explicit bounds check on every byte.
func (s *State) fastLimit() *byte {
	if s.len() < safeSlack {
		// A frame shorter than safeSlack has no fast region at all: every
		// cursor lies past nil, so tryFastPath always declines.
		return nil
	}
	return (*byte)(unsafe.Add(unsafe.Pointer(s.limit), -safeSlack))
}

func (s *State) len() int {
	return int(uintptr(unsafe.Pointer(s.limit)) - uintptr(unsafe.Pointer(s.ptr)))
}

func (s *State) done() bool {
	return s.ptr == s.limit
}

func (s *State) offset() int {
	return int(uintptr(unsafe.Pointer(s.ptr)) - uintptr(unsafe.Pointer(s.src)))
}

func (s *State) fail(code ErrCode) {
	if s.err == nil {
		s.err = &Error{Code: code, Offset: s.offset()}
	}
	panic(s.err)
}

func (s *State) failed() bool {
	return s.err != nil
}

// atLeast fails the parse unless at least n bytes remain in this frame.
func (s *State) atLeast(n int) {
	if s.len() < n {
		s.fail(ErrTruncated)
	}
}

func (s *State) advance(n int) {
	s.ptr = (*byte)(unsafe.Add(unsafe.Pointer(s.ptr), n))
}

// peek returns the next byte without consuming it; callers must have
// already checked there is at least one byte left.
func (s *State) peek() byte {
	return *s.ptr
}

// varint reads a base-128 varint of up to 10 bytes.
func (s *State) varint() uint64 {
	var result uint64
	for shift := uint(0); shift < 64; shift += 7 {
		s.atLeast(1)
		b := s.peek()
		s.advance(1)
		result |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return result
		}
	}
	s.fail(ErrOverflow)
	return 0
}

// tag reads a field tag, returning the field number and wire type.
func (s *State) tag() (protowire.Number, protowire.Type) {
	v := s.varint()
	return protowire.DecodeTag(v)
}

// fixed32 reads a little-endian 32-bit value.
func (s *State) fixed32() uint32 {
	s.atLeast(4)
	b := unsafe.Slice(s.ptr, 4)
	v := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	s.advance(4)
	return v
}

// fixed64 reads a little-endian 64-bit value.
func (s *State) fixed64() uint64 {
	s.atLeast(8)
	b := unsafe.Slice(s.ptr, 8)
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	s.advance(8)
	return v
}

// lengthPrefixed reads a varint length and returns a zero-copy range over
// the following bytes, advancing past them.
func (s *State) lengthPrefixed() zc.Range {
	n := s.varint()
	if n > uint64(s.len()) {
		s.fail(ErrTruncated)
	}
	r := zc.New(s.src, s.ptr, int(n))
	s.advance(int(n))
	return r
}

// skipValue skips over a single field value of the given wire type,
// without interpreting it, used for both generic unknown-field handling
// and validating group nesting.
func (s *State) skipValue(wt protowire.Type) {
	switch wt {
	case protowire.VarintType:
		s.varint()
	case protowire.Fixed32Type:
		s.fixed32()
	case protowire.Fixed64Type:
		s.fixed64()
	case protowire.BytesType:
		s.lengthPrefixed()
	case protowire.StartGroupType:
		s.skipGroup()
	default:
		s.fail(ErrMalformed)
	}
}

// skipGroup skips a legacy group field entirely, including any messages
// nested within it.
func (s *State) skipGroup() {
	for {
		if s.done() {
			s.fail(ErrTruncated)
		}
		n, wt := s.tag()
		if wt == protowire.EndGroupType {
			_ = n
			return
		}
		s.skipValue(wt)
	}
}

// readTagUnchecked decodes a tag from p without any bounds checks, into the
// packed, continuation-bit-free form [mini.Tag] uses, so the fast-path
// decoder can compare it against a dispatch slot's expected tag with a
// single XOR. Callers must only invoke this when at least safeSlack bytes
// are known to be available starting at p (see fastLimit); it reads no
// more than safeSlack bytes regardless of how the varint is terminated. It
// reports a zero length if the tag does not terminate within that window
// or decodes to field number zero.
func readTagUnchecked(p *byte) (mini.Tag, int) {
	var result uint64
	for n := 0; n < safeSlack; n++ {
		b := *(*byte)(unsafe.Add(unsafe.Pointer(p), n))
		result |= uint64(b&0x7f) << (7 * n)
		if b < 0x80 {
			num, typ := protowire.DecodeTag(result)
			if num == 0 {
				return 0, 0
			}
			return mini.EncodeTag(num, typ), n + 1
		}
	}
	return 0, 0
}

// fixed32Unchecked reads a little-endian 32-bit value from p without a
// bounds check; callers must have already established p has at least 4
// bytes available.
func fixed32Unchecked(p *byte) uint32 {
	b := unsafe.Slice(p, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// fixed64Unchecked reads a little-endian 64-bit value from p without a
// bounds check; callers must have already established p has at least 8
// bytes available.
func fixed64Unchecked(p *byte) uint64 {
	b := unsafe.Slice(p, 8)
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
