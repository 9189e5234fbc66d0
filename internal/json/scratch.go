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

package json

import (
	"unsafe"

	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/zc"
)

// scratch is a bump allocator for the decoded bytes of string/bytes
// field values encountered during one JSON parse.
//
// Unlike the wire decoder, which can alias field values directly into
// the input buffer, a JSON tokenizer hands back already-unescaped Go
// strings with no relation to the source bytes. To keep the same
// offset-based [zc.Range] storage the rest of this runtime uses, every
// decoded string is copied once into this single buffer, shared by
// every message in the parse the way a wire decode's messages all
// share the original input.
//
// Unmarshal rejects input that is not valid UTF-8, so a JSON string's
// decoded byte length can never exceed the length of its
// quoted-and-escaped source text (every escape sequence is at least as
// long as the bytes it decodes to), and the total decoded
// string content across an entire document is bounded by the
// document's own byte length, making one upfront allocation sufficient.
type scratch struct {
	buf  *byte
	used int
}

func newScratch(a *arena.Arena, capacity int) *scratch {
	if capacity == 0 {
		capacity = 1
	}
	return &scratch{buf: (*byte)(a.Malloc(capacity))}
}

// put copies s into the scratch buffer and returns a range describing
// where it landed.
func (sc *scratch) put(s string) zc.Range {
	dst := unsafe.Slice((*byte)(unsafe.Add(unsafe.Pointer(sc.buf), sc.used)), len(s))
	copy(dst, s)
	r := zc.NewRaw(sc.used, len(s))
	sc.used += len(s)
	return r
}
