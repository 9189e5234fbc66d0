// Copyright 2020-2025 Buf Technologies, Inc.
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

// Package arena provides a thread-safe, fusable bump allocator.
//
// # Design
//
// An Arena hands out memory by bumping a cursor through a chain of blocks;
// nothing is freed until the whole arena is freed, at which point every
// registered cleanup runs and every block is returned to its allocator.
//
// Arenas can be irreversibly fused: after Fuse(a, b), a and b (and anything
// later fused to either of them) share one lifetime and one refcount, and
// are only actually freed once every reference across the whole fused group
// has called Free.
//
// Unlike the upb_Arena this package is modeled on, which packs a parent
// pointer and a refcount into a single tagged word so that the fuse
// algorithm can exchange both atomically, this package keeps the parent
// pointer and the refcount in separate atomic fields. A tagged uintptr
// would require treating a live *Arena as a bare integer outside of the
// reach of Go's garbage collector, which is unsound here (an arena fused
// into a root can easily end up collector-unreachable except through that
// integer). The fuse algorithm below recovers the same correctness
// property — no lost updates when Fuse and Free race — using an extra
// compare-and-swap on the refcount at fuse time instead of relying on a
// single atomic exchange; see Fuse for the details.
package arena

import (
	"sync/atomic"
	"unsafe"

	"buf.build/go/minipb/internal/debug"
	"buf.build/go/minipb/internal/unsafe2"
)

// align is the alignment of every allocation handed out by an Arena.
const align = int(unsafe.Sizeof(uintptr(0)))

// minBlockSize is the smallest block this package will allocate on its own;
// below this, a caller-supplied seed buffer isn't worth keeping as an
// initial block (see New).
const minBlockSize = 64

// BlockAllocator is the pluggable allocator an Arena uses to obtain new
// blocks. The zero value of Arena uses Default.
type BlockAllocator interface {
	// Alloc returns a new block of at least size bytes.
	Alloc(size int) []byte
	// Free releases a block previously returned by Alloc. Implementations
	// backed by the Go heap may treat this as a no-op, since the garbage
	// collector will reclaim the memory once nothing references it.
	Free(block []byte)
}

// Default is the BlockAllocator used when an Arena is constructed with a
// nil allocator: it allocates from the Go heap and relies on the garbage
// collector to reclaim freed blocks.
var Default BlockAllocator = heapAllocator{}

type heapAllocator struct{}

func (heapAllocator) Alloc(size int) []byte { return make([]byte, size) }
func (heapAllocator) Free([]byte)           {}

// cleanupFunc is a registered (function, userdata) pair run when the owning
// arena is freed.
type cleanupFunc struct {
	fn func(any)
	ud any
}

// blockNode is one link in an Arena's memory chain, carrying an atomic
// next-pointer so the chain is safely walkable from SpaceAllocated while
// other arenas' Malloc calls proceed concurrently.
type blockNode struct {
	next     atomic.Pointer[blockNode]
	mem      []byte
	used     int
	cleanups []cleanupFunc
}

// Arena is a bump-allocation region whose contents are all freed together.
//
// The zero Arena is not ready to use; construct one with New.
type Arena struct {
	_ unsafe2.NoCopy

	// parent is nil if this Arena is the root of its fuse-group, in which
	// case refcount is authoritative. Otherwise it points (possibly several
	// hops short of the true root — see findRoot) toward the root.
	parent atomic.Pointer[Arena]

	// refcount is only meaningful while parent == nil. It starts at 1 and is
	// incremented only by Fuse and decremented only by Free.
	refcount atomic.Uint32

	// next threads this arena into its root's fuse-group chain, so that
	// arenaDoFree can walk every arena that was ever fused together.
	next atomic.Pointer[Arena]
	// tail caches the last arena in the chain starting at next; valid only
	// at the root, and may be stale (see Fuse).
	tail atomic.Pointer[Arena]

	blocks   atomic.Pointer[blockNode]
	curBlock *blockNode

	blockAlloc      BlockAllocator
	hasInitialBlock bool
}

// New creates an Arena. If seed is large enough to be worth keeping, it is
// used as the arena's first block and the arena may never be fused (its
// lifetime cannot be extended past the lifetime of the caller-owned seed
// memory). If alloc is nil, Default is used.
func New(seed []byte, alloc BlockAllocator) *Arena {
	if alloc == nil {
		alloc = Default
	}

	a := &Arena{blockAlloc: alloc}
	a.refcount.Store(1)
	a.tail.Store(a)

	if len(seed) >= minBlockSize {
		a.hasInitialBlock = true
		a.pushBlock(seed)
	}

	return a
}

func (a *Arena) pushBlock(mem []byte) *blockNode {
	n := &blockNode{mem: mem}
	n.next.Store(a.blocks.Load())
	a.blocks.Store(n)
	a.curBlock = n
	return n
}

func alignUp(n int) int {
	return (n + align - 1) &^ (align - 1)
}

// Malloc allocates n bytes from the arena, returning nil if allocation
// fails. Concurrent Malloc calls against the same Arena are not safe and
// must be serialized by the caller; Malloc calls against different arenas,
// fused or not, never race with each other.
func (a *Arena) Malloc(n int) unsafe.Pointer {
	n = alignUp(n)

	if b := a.curBlock; b != nil && b.used+n <= len(b.mem) {
		p := unsafe.Pointer(&b.mem[b.used])
		b.used += n
		return p
	}

	return a.slowMalloc(n)
}

func (a *Arena) slowMalloc(n int) unsafe.Pointer {
	last := 128
	if a.curBlock != nil {
		last = len(a.curBlock.mem)
	}

	size := max(n, last*2)
	mem := a.blockAlloc.Alloc(size)
	if mem == nil {
		return nil
	}

	b := a.pushBlock(mem)
	p := unsafe.Pointer(&b.mem[0])
	b.used = n
	return p
}

// AddCleanup registers fn to be called with ud when this arena's fuse-group
// is finally freed. Cleanups run in reverse registration order within each
// arena, most-recent first, matching the order a stack of deferred
// teardowns would run in.
//
// Returns false if a new block was needed and allocation failed.
func (a *Arena) AddCleanup(ud any, fn func(any)) bool {
	if a.curBlock == nil {
		if a.slowMalloc(0) == nil {
			return false
		}
	}
	a.curBlock.cleanups = append(a.curBlock.cleanups, cleanupFunc{fn, ud})
	return true
}

// findRoot returns the root of a's fuse-group, splitting the path from a to
// the root as it goes so that future lookups from a (and anything between a
// and the root) are cheaper. This is safe without locking because a node's
// resolved root can only ever move closer to the true root, never farther,
// and because refcounts cannot reach zero while the calling thread holds a
// live reference anywhere in the group.
func findRoot(a *Arena) *Arena {
	for {
		p := a.parent.Load()
		if p == nil {
			return a
		}

		if gp := p.parent.Load(); gp != nil {
			// Path splitting: point a directly at its grandparent. The
			// ordering here only needs to establish that *some* valid path
			// to the root exists afterward, not a globally consistent
			// snapshot, so a relaxed store following the acquire loads
			// above is sufficient.
			a.parent.CompareAndSwap(p, gp)
		}

		a = p
	}
}

// FindRoot returns the representative arena for a's fuse-group. Two arenas
// are fused (possibly transitively) iff FindRoot returns the same arena for
// both.
func FindRoot(a *Arena) *Arena { return findRoot(a) }

// Fuse irreversibly joins a and b so that they share one lifetime: the
// underlying storage is only freed once Free has been called once for every
// handle across the whole group.
//
// Fuse returns false, without modifying either arena, if either arena was
// constructed over caller-supplied memory (New with a seed buffer), or if
// they were constructed with different block allocators.
//
// Fuse may run concurrently with Free calls anywhere in either fuse-group.
// It must not run concurrently with another Fuse call that touches an
// overlapping pair of arenas; serializing fuses is the caller's
// responsibility.
func Fuse(a, b *Arena) bool {
	r1 := findRoot(a)
	r2 := findRoot(b)
	if r1 == r2 {
		return true
	}

	if r1.hasInitialBlock || r2.hasInitialBlock {
		return false
	}
	if r1.blockAlloc != r2.blockAlloc {
		return false
	}

	// Join the smaller tree into the larger one to keep find-root chains
	// short in the common case of repeatedly fusing into one accumulator.
	if r1.refcount.Load() < r2.refcount.Load() {
		r1, r2 = r2, r1
	}

	// The moment r2 is reachable as r1's child, racing Frees resolving to r1
	// may start decrementing r1's count on r2's behalf, so every refcount we
	// know r2 is carrying must be installed on r1 first.
	r2Count := r2.refcount.Load()
	r1.refcount.Add(r2Count)

	if !r2.parent.CompareAndSwap(nil, r1) {
		// Only Fuse ever transitions parent away from nil, and concurrent
		// Fuse/Fuse races on the same arena are documented as unsupported.
		debug.Assert(false, "arena: concurrent fuse detected on %p", r2)
	}

	// Between reading r2Count above and installing r1 as r2's parent, a
	// racing Free resolving its root to r2 may have decremented r2's
	// refcount directly (it has no reason yet to believe r2 isn't the
	// root). Swap r2's counter to zero to both learn its true final value
	// and to make any such Free's eventual compare-and-swap fail (forcing
	// it to re-resolve its root, which will now walk through r1).
	r2Final := r2.refcount.Swap(0)
	if delta := r2Count - r2Final; delta != 0 {
		r1.refcount.Add(-delta)
	}

	// Append r2's fuse-chain onto r1's, re-walking if r1's cached tail
	// turns out to be stale (another fuse landed on r1 concurrently).
	r2Tail := r2.tail.Load()
	r1Tail := r1.tail.Load()
	for {
		next := r1Tail.next.Load()
		if next == nil {
			break
		}
		r1Tail = next
	}
	r1Tail.next.Store(r2)
	r1.tail.Store(r2Tail)

	return true
}

// Free releases a's reference to its fuse-group. Once every reference
// across the whole group has called Free, every cleanup registered anywhere
// in the group runs (most recent first within each arena), and every block
// is returned to its allocator.
//
// Free is safe to call concurrently with Free (on any arena, fused or not),
// FindRoot, SpaceAllocated, DebugRefcount, and Fuse (between disjoint arena
// pairs).
func Free(a *Arena) {
	for {
		root := findRoot(a)
		rc := root.refcount.Load()
		if rc == 0 && root.parent.Load() != nil {
			// Fuse swapped this root's count to zero after making it a
			// child; re-resolve the root through its new parent.
			continue
		}

		if rc == 1 {
			if root.refcount.CompareAndSwap(1, 0) {
				arenaDoFree(root)
				return
			}
			continue
		}

		if root.refcount.CompareAndSwap(rc, rc-1) {
			return
		}
	}
}

func arenaDoFree(root *Arena) {
	for cur := root; cur != nil; {
		next := cur.next.Load()

		for b := cur.blocks.Load(); b != nil; {
			nb := b.next.Load()
			for i := len(b.cleanups) - 1; i >= 0; i-- {
				c := b.cleanups[i]
				c.fn(c.ud)
			}
			cur.blockAlloc.Free(b.mem)
			b = nb
		}

		cur = next
	}
}

// SpaceAllocated returns the total number of bytes currently held by a's
// whole fuse-group, across every block in every arena fused together.
// Intended for diagnostics.
func SpaceAllocated(a *Arena) int {
	root := findRoot(a)

	total := 0
	for cur := root; cur != nil; cur = cur.next.Load() {
		for b := cur.blocks.Load(); b != nil; b = b.next.Load() {
			total += len(b.mem)
		}
	}
	return total
}

// DebugRefcount returns the number of live handles into a's fuse-group.
// Intended for diagnostics and tests; not meaningful as a synchronization
// primitive since it may be stale the instant it is read.
func DebugRefcount(a *Arena) uint32 {
	return findRoot(a).refcount.Load()
}
