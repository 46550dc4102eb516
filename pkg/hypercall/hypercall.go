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

// Package hypercall provides access to the Xen hypercall interface.
//
// The Gateway interface carries the batched grant-table and memory
// operations consumed by the grant-table machinery. Each batched call
// returns a transport-level error only; per-record outcomes are written by
// the hypervisor into the Status field of the individual operation records
// and must be inspected by the caller.
//
// Privcmd is the production Gateway, issuing real hypercalls through the
// /dev/xen/privcmd device.
package hypercall

import (
	"xenguest.dev/xenguest/pkg/xenabi"
)

// Gateway issues hypercalls on behalf of the guest.
type Gateway interface {
	// MapGrantRefs issues a batched GNTTABOP_map_grant_ref. A nil error
	// means only that the batch was submitted; each record's Status
	// holds its individual outcome.
	MapGrantRefs(ops []xenabi.MapGrantRef) error

	// UnmapGrantRefs issues a batched GNTTABOP_unmap_grant_ref.
	UnmapGrantRefs(ops []xenabi.UnmapGrantRef) error

	// QuerySize issues GNTTABOP_query_size, filling in the frame counts
	// and status of q.
	QuerySize(q *xenabi.QuerySize) error

	// AddToPhysmap issues XENMEM_add_to_physmap.
	AddToPhysmap(x *xenabi.AddToPhysmap) error

	// RemoveFromPhysmap issues XENMEM_remove_from_physmap.
	RemoveFromPhysmap(r *xenabi.RemoveFromPhysmap) error

	// PopulatePhysmap issues XENMEM_populate_physmap and returns the
	// number of extents actually populated.
	PopulatePhysmap(res *xenabi.MemoryReservation) (int, error)
}
