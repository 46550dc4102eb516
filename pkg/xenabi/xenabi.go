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

// Package xenabi defines the subset of the public Xen ABI used by the guest
// grant-table machinery: grant entry layout, grant-table operation records,
// memory operation records, and their status codes. All structures match the
// corresponding C definitions in xen/include/public bit-for-bit; they are
// passed to the hypervisor unmodified.
package xenabi

// GrantRef identifies one entry of the grant table.
type GrantRef uint32

// DomID identifies a domain.
type DomID uint16

// GFN is a guest frame number.
type GFN uint64

// DomIDSelf refers to the calling domain in memory operations.
const DomIDSelf DomID = 0x7ff0

// Domain0 is the hardware domain.
const Domain0 DomID = 0

const (
	// PageSize is the Xen page granularity. Grants always cover exactly
	// one page.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// EntriesPerFrame is the number of v1 grant entries in one grant
	// frame.
	EntriesPerFrame = PageSize / 8

	// ReservedEntries is the number of leading grant references reserved
	// for hypervisor use. They are never handed out to callers.
	ReservedEntries = 8
)

// GrantEntryV1 is one slot of the version 1 grant table, shared with the
// hypervisor and peer domains. Flags is the synchronization point: the other
// fields must be visible before GTFPermitAccess is raised in Flags.
type GrantEntryV1 struct {
	// Flags is a combination of GTF* bits.
	Flags uint16

	// DomID is the domain being granted access.
	DomID DomID

	// Frame is the guest frame number being shared.
	Frame uint32
}

// Grant entry flag bits.
const (
	// GTFPermitAccess is set by the granting domain once the entry is
	// ready for the grantee to map.
	GTFPermitAccess uint16 = 1 << 0

	// GTFReadonly restricts the grantee to read-only mappings.
	GTFReadonly uint16 = 1 << 2

	// GTFReading is set by the hypervisor while the grantee holds a
	// read mapping of the frame.
	GTFReading uint16 = 1 << 3

	// GTFWriting is set by the hypervisor while the grantee holds a
	// writable mapping of the frame.
	GTFWriting uint16 = 1 << 4
)

// Grant-table operation opcodes.
const (
	OpMapGrantRef   uint32 = 0
	OpUnmapGrantRef uint32 = 1
	OpQuerySize     uint32 = 6
)

// Map flags for MapGrantRef.Flags.
const (
	MapDeviceMap uint32 = 1 << 0
	MapHostMap   uint32 = 1 << 1
	MapReadonly  uint32 = 1 << 2
)

// Status is the per-record status code filled in by the hypervisor.
type Status int16

// Grant-table operation statuses (GNTST_*).
const (
	StatusOkay             Status = 0
	StatusGeneralError     Status = -1
	StatusBadDomain        Status = -2
	StatusBadGntRef        Status = -3
	StatusBadHandle        Status = -4
	StatusBadVirtAddr      Status = -5
	StatusBadDevAddr       Status = -6
	StatusNoDeviceSpace    Status = -7
	StatusPermissionDenied Status = -8
	StatusBadPage          Status = -9
	StatusBadCopyArg       Status = -10
	StatusAddressTooBig    Status = -11
	StatusEagain           Status = -12
)

var statusMessages = []string{
	"okay",
	"undefined error",
	"unrecognised domain id",
	"invalid grant reference",
	"invalid mapping handle",
	"bad virtual address",
	"bad device address",
	"no spare translation slot in the I/O MMU",
	"permission denied",
	"bad page",
	"copy arguments cross page boundary",
	"page address size too large",
	"operation not done; try again",
}

// String implements fmt.Stringer.String.
func (s Status) String() string {
	i := int(-s)
	if i < 0 || i >= len(statusMessages) {
		return "bad status"
	}
	return statusMessages[i]
}

// MapGrantRef is one record of a batched map-grant-reference operation,
// matching struct gnttab_map_grant_ref.
type MapGrantRef struct {
	// HostAddr is the address at which to map the granted frame.
	HostAddr uint64

	// Flags is a combination of Map* bits.
	Flags uint32

	// Ref is the grant reference to map.
	Ref GrantRef

	// Dom is the domain that issued the grant.
	Dom DomID

	// Status is filled in by the hypervisor.
	Status Status

	// Handle identifies the mapping in a later unmap.
	Handle uint32

	// DevBusAddr is the device bus address, for MapDeviceMap mappings.
	DevBusAddr uint64
}

// UnmapGrantRef is one record of a batched unmap operation, matching
// struct gnttab_unmap_grant_ref.
type UnmapGrantRef struct {
	// HostAddr is the address of the mapping to destroy.
	HostAddr uint64

	// DevBusAddr matches the address returned by the map operation, if
	// the mapping was a device mapping.
	DevBusAddr uint64

	// Handle is the mapping handle returned by the map operation.
	Handle uint32

	// Status is filled in by the hypervisor.
	Status Status
}

// QuerySize matches struct gnttab_query_size.
type QuerySize struct {
	// Dom is the domain being queried.
	Dom DomID

	_ uint16

	// NrFrames is the current number of frames, filled in by the
	// hypervisor.
	NrFrames uint32

	// MaxNrFrames is the maximum number of frames, filled in by the
	// hypervisor.
	MaxNrFrames uint32

	// Status is filled in by the hypervisor.
	Status Status
}

// Memory operation commands (XENMEM_*).
const (
	MemOpPopulatePhysmap   uint32 = 6
	MemOpAddToPhysmap      uint32 = 7
	MemOpRemoveFromPhysmap uint32 = 15
)

// Physmap spaces for AddToPhysmap.Space.
const (
	// MapSpaceGrantTable maps a frame of the domain's grant table.
	MapSpaceGrantTable uint32 = 1
)

// AddToPhysmap matches struct xen_add_to_physmap.
type AddToPhysmap struct {
	// DomID is the domain whose physmap is modified.
	DomID DomID

	// Size is the number of frames for range operations; zero for a
	// single frame.
	Size uint16

	// Space is the MapSpace* source of the mapping.
	Space uint32

	// Idx is the index into the source space.
	Idx uint64

	// GFN is the guest frame number where the mapping appears.
	GFN GFN
}

// RemoveFromPhysmap matches struct xen_remove_from_physmap.
type RemoveFromPhysmap struct {
	// DomID is the domain whose physmap is modified.
	DomID DomID

	_ uint16
	_ uint32

	// GFN is the guest frame number to unmap.
	GFN GFN
}

// MemoryReservation matches struct xen_memory_reservation. ExtentStart is a
// guest handle in the C ABI; here it carries the virtual address of a GFN
// array of NrExtents elements.
type MemoryReservation struct {
	// ExtentStart is the address of the GFN array.
	ExtentStart uint64

	// NrExtents is the number of extents in the array.
	NrExtents uint64

	// ExtentOrder is log2 of the pages per extent.
	ExtentOrder uint32

	// MemFlags carries address and populate-on-demand hints.
	MemFlags uint32

	// DomID is the domain the reservation applies to.
	DomID DomID
}
