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
	"fmt"

	"buf.build/go/minipb/internal/dbg"
)

// Presence describes how a field tracks whether it has been set.
type Presence int32

// HasBit returns the hasbit index this presence value names, and whether it
// names one at all (as opposed to a oneof case offset).
func (p Presence) HasBit() (bit uint32, ok bool) {
	if p < 0 {
		return 0, false
	}
	return uint32(p), true
}

// OneofCase returns the byte offset of the oneof case word this presence
// value names, and whether it names one at all.
func (p Presence) OneofCase() (offset uint32, ok bool) {
	if p >= 0 {
		return 0, false
	}
	return uint32(-p) - 1, true
}

// Offset is the location of a field's storage within a message buffer.
type Offset struct {
	// Byte offset within the message buffer where this field's data lives.
	Data uint32

	// Presence tracking for this field: a hasbit index, a oneof case offset,
	// or neither (for proto3 scalars without explicit presence).
	Presence Presence
}

// Format implements [fmt.Formatter].
func (o Offset) Format(s fmt.State, verb rune) {
	dbg.Fprintf("data=%#x presence=%d", o.Data, o.Presence).Format(s, verb)
}
