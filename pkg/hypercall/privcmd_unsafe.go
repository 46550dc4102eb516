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

package hypercall

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"xenguest.dev/xenguest/pkg/xenabi"
)

const (
	// Hypercall numbers, from xen/include/public/xen.h.
	hypercallMemoryOp     = 12
	hypercallGrantTableOp = 20

	// ioctlPrivcmdHypercall is IOCTL_PRIVCMD_HYPERCALL: _IOC(_IOC_NONE,
	// 'P', 0, sizeof(privcmd_hypercall_t)).
	ioctlPrivcmdHypercall = (48 << 16) | ('P' << 8)
)

// privcmdHypercall matches privcmd_hypercall_t.
type privcmdHypercall struct {
	op  uint64
	arg [5]uint64
}

// Privcmd is a Gateway backed by the /dev/xen/privcmd device.
type Privcmd struct {
	fd int
}

// OpenPrivcmd returns a Gateway issuing hypercalls through
// /dev/xen/privcmd.
func OpenPrivcmd() (*Privcmd, error) {
	fd, err := unix.Open("/dev/xen/privcmd", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/xen/privcmd: %w", err)
	}
	return &Privcmd{fd: fd}, nil
}

// Close releases the privcmd device.
func (p *Privcmd) Close() error {
	return unix.Close(p.fd)
}

// hypercall issues one hypercall and returns its raw return value. The
// argument buffers referenced by args must be kept alive by the caller.
func (p *Privcmd) hypercall(op uint64, args ...uint64) (int, error) {
	call := privcmdHypercall{op: op}
	copy(call.arg[:], args)
	r, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(p.fd),
		ioctlPrivcmdHypercall,
		uintptr(unsafe.Pointer(&call)))
	if errno != 0 {
		return 0, fmt.Errorf("hypercall %d: %w", op, errno)
	}
	return int(r), nil
}

// grantTableOp issues GNTTABOP cmd over count records at uop.
func (p *Privcmd) grantTableOp(cmd uint32, uop unsafe.Pointer, count int) error {
	r, err := p.hypercall(hypercallGrantTableOp,
		uint64(cmd), uint64(uintptr(uop)), uint64(count))
	if err != nil {
		return err
	}
	if r != 0 {
		return fmt.Errorf("grant table op %d: status %d", cmd, r)
	}
	return nil
}

// memoryOp issues XENMEM cmd with the argument at arg.
func (p *Privcmd) memoryOp(cmd uint32, arg unsafe.Pointer) (int, error) {
	return p.hypercall(hypercallMemoryOp, uint64(cmd), uint64(uintptr(arg)))
}

// MapGrantRefs implements Gateway.MapGrantRefs.
func (p *Privcmd) MapGrantRefs(ops []xenabi.MapGrantRef) error {
	if len(ops) == 0 {
		return nil
	}
	return p.grantTableOp(xenabi.OpMapGrantRef, unsafe.Pointer(&ops[0]), len(ops))
}

// UnmapGrantRefs implements Gateway.UnmapGrantRefs.
func (p *Privcmd) UnmapGrantRefs(ops []xenabi.UnmapGrantRef) error {
	if len(ops) == 0 {
		return nil
	}
	return p.grantTableOp(xenabi.OpUnmapGrantRef, unsafe.Pointer(&ops[0]), len(ops))
}

// QuerySize implements Gateway.QuerySize.
func (p *Privcmd) QuerySize(q *xenabi.QuerySize) error {
	return p.grantTableOp(xenabi.OpQuerySize, unsafe.Pointer(q), 1)
}

// AddToPhysmap implements Gateway.AddToPhysmap.
func (p *Privcmd) AddToPhysmap(x *xenabi.AddToPhysmap) error {
	r, err := p.memoryOp(xenabi.MemOpAddToPhysmap, unsafe.Pointer(x))
	if err != nil {
		return err
	}
	if r != 0 {
		return fmt.Errorf("add_to_physmap idx %d: status %d", x.Idx, r)
	}
	return nil
}

// RemoveFromPhysmap implements Gateway.RemoveFromPhysmap.
func (p *Privcmd) RemoveFromPhysmap(rm *xenabi.RemoveFromPhysmap) error {
	r, err := p.memoryOp(xenabi.MemOpRemoveFromPhysmap, unsafe.Pointer(rm))
	if err != nil {
		return err
	}
	if r != 0 {
		return fmt.Errorf("remove_from_physmap gfn %#x: status %d", rm.GFN, r)
	}
	return nil
}

// PopulatePhysmap implements Gateway.PopulatePhysmap.
func (p *Privcmd) PopulatePhysmap(res *xenabi.MemoryReservation) (int, error) {
	return p.memoryOp(xenabi.MemOpPopulatePhysmap, unsafe.Pointer(res))
}
