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

package arena_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buf.build/go/minipb/internal/arena"
)

func TestMallocWithinBlock(t *testing.T) {
	a := arena.New(make([]byte, 256), nil)
	p1 := a.Malloc(16)
	p2 := a.Malloc(16)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	// Allocations out of the same block must not overlap, and since Malloc
	// bumps a cursor forward, p2 must land after p1.
	assert.Greater(t, uintptr(p2), uintptr(p1))
	assert.GreaterOrEqual(t, uintptr(p2)-uintptr(p1), uintptr(16))
}

func TestMallocGrowsPastInitialBlock(t *testing.T) {
	a := arena.New(nil, nil)
	before := arena.SpaceAllocated(a)

	a.Malloc(4096)
	after := arena.SpaceAllocated(a)

	assert.Greater(t, after, before)
}

func TestCleanupRunsOnFree(t *testing.T) {
	a := arena.New(nil, nil)

	var order []int
	require.True(t, a.AddCleanup(1, func(v any) { order = append(order, v.(int)) }))
	require.True(t, a.AddCleanup(2, func(v any) { order = append(order, v.(int)) }))
	require.True(t, a.AddCleanup(3, func(v any) { order = append(order, v.(int)) }))

	arena.Free(a)

	// Cleanups run most-recently-registered first.
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestFuseSharesLifetime(t *testing.T) {
	a := arena.New(nil, nil)
	b := arena.New(nil, nil)

	freed := false
	b.AddCleanup(nil, func(any) { freed = true })

	require.True(t, arena.Fuse(a, b))
	assert.Equal(t, arena.FindRoot(a), arena.FindRoot(b))
	assert.Equal(t, uint32(2), arena.DebugRefcount(a))

	arena.Free(a)
	assert.False(t, freed, "fused group must survive until every handle frees")

	arena.Free(b)
	assert.True(t, freed)
}

func TestFuseRejectsSeededArenas(t *testing.T) {
	a := arena.New(make([]byte, 128), nil)
	b := arena.New(nil, nil)

	assert.False(t, arena.Fuse(a, b))
}

func TestDebugRefcountStartsAtOne(t *testing.T) {
	a := arena.New(nil, nil)
	assert.Equal(t, uint32(1), arena.DebugRefcount(a))
}

func TestSpaceAllocatedSumsFusedGroup(t *testing.T) {
	a := arena.New(nil, nil)
	b := arena.New(nil, nil)
	a.Malloc(1) // each first allocation adds one 256-byte block
	b.Malloc(1)

	require.True(t, arena.Fuse(a, b))
	assert.Equal(t, 512, arena.SpaceAllocated(a))
	assert.Equal(t, 512, arena.SpaceAllocated(b))

	arena.Free(a)
	arena.Free(b)
}

func TestMallocAlignment(t *testing.T) {
	a := arena.New(nil, nil)
	a.Malloc(1)
	p := a.Malloc(1)
	assert.Zero(t, uintptr(unsafe.Pointer(p))%unsafe.Sizeof(uintptr(0)))
}
