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
	"context"
	"fmt"
	"runtime"

	"xenguest.dev/xenguest/pkg/xenabi"
)

// AllocAndGrant allocates a fresh page and grants domain 0 access to it.
// The returned page belongs to the caller until the grant is withdrawn with
// EndAccess and the page handed back to the allocator.
func (t *Table) AllocAndGrant(ctx context.Context, readonly bool) ([]byte, xenabi.GrantRef, error) {
	page, err := t.pages.Get()
	if err != nil {
		return nil, 0, fmt.Errorf("allocating grant page: %w", err)
	}

	gfn := t.vtg.VirtToGFN(sliceAddr(page))
	gref, err := t.GrantAccess(ctx, xenabi.Domain0, gfn, readonly)
	if err != nil {
		t.pages.Put(page)
		return nil, 0, err
	}
	return page, gref, nil
}

// FreePage returns a page obtained from AllocAndGrant to the allocator.
// The grant covering it must have been withdrawn with EndAccess first.
func (t *Table) FreePage(page []byte) {
	t.pages.Put(page)
}

// GetPage allocates a page and removes its frame from the guest physmap,
// leaving the virtual range ready to receive a foreign frame.
func (t *Table) GetPage() ([]byte, error) {
	page, err := t.pages.Get()
	if err != nil {
		return nil, fmt.Errorf("allocating page for foreign mapping: %w", err)
	}

	// A later map_grant_ref will simply replace the entry in the P2M and
	// not release the RAM currently backing the page, so give that RAM
	// back to the hypervisor before mapping.
	rfpm := xenabi.RemoveFromPhysmap{
		DomID: xenabi.DomIDSelf,
		GFN:   t.vtg.VirtToGFN(sliceAddr(page)),
	}
	if err := t.gw.RemoveFromPhysmap(&rfpm); err != nil {
		t.pages.Put(page)
		return nil, fmt.Errorf("removing page from physmap: %w", err)
	}
	return page, nil
}

// PutPage repopulates the physmap hole left at page's position after the
// foreign mapping was torn down, then returns the page to the allocator. If
// the hypervisor refuses to repopulate, the page is leaked rather than
// handed to the allocator with nothing backing it.
func (t *Table) PutPage(page []byte) {
	gfn := t.vtg.VirtToGFN(sliceAddr(page))
	res := xenabi.MemoryReservation{
		ExtentStart: uint64(addrOfGFN(&gfn)),
		NrExtents:   1,
		DomID:       xenabi.DomIDSelf,
	}
	n, err := t.gw.PopulatePhysmap(&res)
	runtime.KeepAlive(&gfn)
	if err != nil || n != 1 {
		t.log.Warnf("failed to populate physmap on gfn = %#x, ret = %d, err = %v", gfn, n, err)
		return
	}

	t.pages.Put(page)
}
