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

//go:build linux
// +build linux

// Package memutil provides page-granularity memory mappings. It backs the
// grant-page allocator and the grant-table backing store, both of which
// need page-aligned memory whose address is stable for the lifetime of the
// mapping (the frames behind it are exchanged with the hypervisor).
package memutil

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MapFile returns the address of the given mmap operation.
func MapFile(addr, size, prot, flags, fd, offset uintptr) (uintptr, error) {
	r, _, e := unix.RawSyscall6(unix.SYS_MMAP, addr, size, prot, flags, fd, offset)
	if e != 0 {
		return 0, e
	}
	return r, nil
}

// MapSlice is like MapFile, but returns a slice instead of a uintptr.
func MapSlice(addr, size, prot, flags, fd, offset uintptr) ([]byte, error) {
	addr, err := MapFile(addr, size, prot, flags, fd, offset)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

// UnmapSlice unmaps a mapping returned by MapSlice.
func UnmapSlice(slice []byte) error {
	ptr := unsafe.SliceData(slice)
	_, _, err := unix.RawSyscall6(unix.SYS_MUNMAP, uintptr(unsafe.Pointer(ptr)), uintptr(cap(slice)), 0, 0, 0, 0)
	if err != 0 {
		return err
	}
	return nil
}

// AllocPages returns size bytes of zeroed, page-aligned anonymous memory.
// The mapping is never moved by the runtime, so its frames may be handed to
// the hypervisor.
func AllocPages(size uintptr) ([]byte, error) {
	return MapSlice(
		0, // Suggested address.
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_LOCKED,
		^uintptr(0),
		0)
}

// FreePages releases a mapping returned by AllocPages.
func FreePages(slice []byte) error {
	return UnmapSlice(slice)
}
