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

package access

import (
	"unsafe"

	"buf.build/go/minipb/internal/arena"
	"buf.build/go/minipb/internal/mini"
	"buf.build/go/minipb/internal/unsafe2"
)

// minArrayCap is the number of elements preallocated the first time a
// repeated field is touched, matching spec's "lazily allocates a
// 4-capacity array" description of the fast path.
const minArrayCap = 4

// Array is the backing store for a repeated field: a flat, arena-owned
// buffer of fixed-width elements. It never shrinks once grown, matching
// the append-only access pattern of decoding.
type Array struct {
	_ unsafe2.NoCopy

	data     unsafe.Pointer
	len, cap uint32
	elemSize uint32
}

// Len returns the number of elements currently stored.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return int(a.len)
}

// elemPtr returns a pointer to the ith element's storage.
func (a *Array) elemPtr(i int) unsafe.Pointer {
	return unsafe.Add(a.data, i*int(a.elemSize))
}

// GetArrayValue reads the ith element as a T. The caller must pass the
// correct T for the array's element kind.
func GetArrayValue[T any](a *Array, i int) T {
	return unsafe2.ByteLoad[T]((*byte)(a.data), i*int(unsafe.Sizeof(*new(T))))
}

// SetArrayValue writes the ith element as a T. i must be < a.Len().
func SetArrayValue[T any](a *Array, i int, v T) {
	unsafe2.ByteStore((*byte)(a.data), i*int(unsafe.Sizeof(*new(T))), v)
}

// ResizeArray ensures an array exists at f's field slot within m with
// room for at least n elements, growing geometrically and never
// shrinking the existing allocation, and returns it. elemSize is the
// width in bytes of one element (e.g. 8 for a zc.Range or pointer-sized
// field, 4 for int32/float, 1 for bool).
func ResizeArray(m *Message, f *mini.Field, n, elemSize int) *Array {
	slot := (*unsafe.Pointer)(unsafe.Pointer(m.field(f)))
	a := (*Array)(*slot)
	if a == nil {
		a = (*Array)(m.Arena.Malloc(int(unsafe.Sizeof(Array{}))))
		cap := n
		if cap < minArrayCap {
			cap = minArrayCap
		}
		a.data = m.Arena.Malloc(cap * elemSize)
		a.cap = uint32(cap)
		a.elemSize = uint32(elemSize)
		*slot = unsafe.Pointer(a)
	}
	if n <= int(a.cap) {
		if n > int(a.len) {
			a.len = uint32(n)
		}
		return a
	}

	newCap := int(a.cap) * 2
	if newCap < n {
		newCap = n
	}
	newData := m.Arena.Malloc(newCap * elemSize)
	if a.len > 0 {
		old := unsafe.Slice((*byte)(a.data), int(a.len)*elemSize)
		neu := unsafe.Slice((*byte)(newData), int(a.len)*elemSize)
		copy(neu, old)
	}
	a.data = newData
	a.cap = uint32(newCap)
	a.len = uint32(n)
	return a
}

// GetArray returns the array currently installed at f's slot, or nil if
// none has been allocated yet.
func GetArray(m *Message, f *mini.Field) *Array {
	slot := (*unsafe.Pointer)(unsafe.Pointer(m.field(f)))
	return (*Array)(*slot)
}

// AppendArrayValue grows the array at f by one element and returns a
// pointer to its storage, ready to be written through SetArrayValue or a
// raw store.
func AppendArrayValue(m *Message, f *mini.Field, elemSize int) unsafe.Pointer {
	a := ResizeArray(m, f, GetArray(m, f).Len()+1, elemSize)
	return a.elemPtr(int(a.len) - 1)
}
