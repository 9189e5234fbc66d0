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

import "buf.build/go/minipb/internal/arena"

// Arena is a bump-allocation region that every [Message] decoded onto it,
// and every value reachable from that message, is allocated from. Freeing
// an Arena invalidates every such Message; minipb does no reference
// counting or finalization to protect against use-after-free.
//
// The zero Arena is not ready to use; construct one with [NewArena].
type Arena struct {
	impl *arena.Arena
}

// NewArena creates an empty Arena.
func NewArena() *Arena {
	return &Arena{impl: arena.New(nil, nil)}
}

// NewArenaWithBuffer creates an Arena whose first allocations are carved
// out of buf instead of the Go heap. buf must outlive every Message
// decoded onto this Arena. A buf of at least 64 bytes makes this Arena
// impossible to fuse (see [Arena.Fuse]); a shorter buf is ignored, and
// the Arena then behaves like one from [NewArena].
func NewArenaWithBuffer(buf []byte) *Arena {
	return &Arena{impl: arena.New(buf, nil)}
}

// Fuse joins a and other so that they share one lifetime: the underlying
// storage for both is only released once Free has been called once per
// handle across the whole fused group. It returns false, without changing
// either Arena, if either was constructed with [NewArenaWithBuffer] over
// a buffer of at least 64 bytes.
func (a *Arena) Fuse(other *Arena) bool {
	return arena.Fuse(a.impl, other.impl)
}

// Free releases this Arena's reference to its fuse-group's storage. Once
// every fused handle has called Free, the storage is returned for reuse
// and every Message ever decoded onto the group becomes invalid.
func (a *Arena) Free() {
	arena.Free(a.impl)
}

// SpaceAllocated returns the total number of bytes currently allocated
// across every arena in this Arena's fuse-group.
func (a *Arena) SpaceAllocated() int {
	return arena.SpaceAllocated(a.impl)
}

// DebugRefcount returns the current reference count of this Arena's
// fuse-group root. Intended for tests and diagnostics; the exact value is
// not part of this package's compatibility guarantees.
func (a *Arena) DebugRefcount() uint32 {
	return arena.DebugRefcount(a.impl)
}
