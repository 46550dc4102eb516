// Copyright 2026 The xenguest Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gnttab

import (
	"unsafe"

	"xenguest.dev/xenguest/pkg/xenabi"
)

// entrySlice reinterprets the mapped backing store as grant entries.
func entrySlice(backing []byte, n int) []xenabi.GrantEntryV1 {
	return unsafe.Slice((*xenabi.GrantEntryV1)(unsafe.Pointer(unsafe.SliceData(backing))), n)
}

// entryWord returns the first 32-bit word of e, covering Flags in its low
// half and DomID in its high half on the little-endian targets Xen guests
// run on. Storing it atomically publishes flags and domid together, after
// every prior plain store to the entry; CASing it reclaims the flags while
// proving no liveness bit was set at that instant.
func entryWord(e *xenabi.GrantEntryV1) *uint32 {
	return (*uint32)(unsafe.Pointer(e))
}

// sliceAddr returns the address of the first byte of b.
func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// addrOfGFN returns the address of g, for use as a reservation's extent
// array. The caller must keep g alive across the hypercall.
func addrOfGFN(g *xenabi.GFN) uintptr {
	return uintptr(unsafe.Pointer(g))
}
