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

// Package gnttab implements the guest side of Xen grant tables: a
// fixed-capacity table of shareable-page descriptors through which a domain
// exposes individual pages to the hypervisor or to peer domains.
//
// A Table is created once at startup by New, which negotiates the number of
// grant frames with the hypervisor, installs them in the guest physmap and
// maps them as the table backing store. Callers then obtain grant
// references with GrantAccess (or AllocAndGrant), hand them to a peer, and
// reclaim them with EndAccess once the peer is done.
package gnttab

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"xenguest.dev/xenguest/pkg/hypercall"
	"xenguest.dev/xenguest/pkg/xenabi"
)

const (
	// DefaultFrames is the number of grant frames mapped when
	// Options.Frames is zero.
	DefaultFrames = 1

	// legacyMaxFrames is assumed when the hypervisor cannot answer a
	// size query. Picked from the Linux implementation.
	legacyMaxFrames = 4
)

// ErrStillInUse is returned by EndAccess while the peer still holds a
// mapping of the granted frame.
var ErrStillInUse = errors.New("grant entry still in use")

// PageAllocator supplies the page-aligned, page-sized buffers whose frames
// are shared or exchanged with the hypervisor.
type PageAllocator interface {
	// Get returns one zeroed page.
	Get() ([]byte, error)

	// Put releases a page returned by Get.
	Put(page []byte)
}

// Translator converts local virtual addresses to guest frame numbers. The
// platform's address translation is not this package's business; the owner
// of the address space provides it.
type Translator interface {
	VirtToGFN(addr uintptr) xenabi.GFN
}

// Options configures New.
type Options struct {
	// Gateway issues the hypercalls. Required.
	Gateway hypercall.Gateway

	// Frames is the number of grant frames to map. Zero means
	// DefaultFrames. The hypervisor must offer at least this many.
	Frames uint32

	// Pages supplies pages for the page-exchange operations. Defaults to
	// an anonymous-mapping allocator on Linux.
	Pages PageAllocator

	// Translate is the virtual-to-frame translator. Required.
	Translate Translator

	// MapTable maps size bytes of page-aligned memory to back the grant
	// table. Defaults to an anonymous mapping on Linux.
	MapTable func(size uintptr) ([]byte, error)

	// Logger overrides the standard logger.
	Logger *logrus.Logger

	// Sleep overrides time.Sleep in retry loops. Tests inject a fake.
	Sleep func(time.Duration)
}

// Table is a domain's grant table. All methods are safe for concurrent use.
type Table struct {
	entries []xenabi.GrantEntryV1
	backing []byte
	pool    *refPool

	gw    hypercall.Gateway
	pages PageAllocator
	vtg   Translator
	log   logrus.FieldLogger
	sleep func(time.Duration)
}

// New maps the grant table and seeds the reference pool. It fails, leaving
// no table behind, if the hypervisor offers fewer grant frames than
// requested; a domain with a partially usable grant table would corrupt
// cross-domain memory semantics, so there is no degraded mode.
func New(opts Options) (*Table, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gnttab: Options.Gateway is required")
	}
	if opts.Translate == nil {
		return nil, errors.New("gnttab: Options.Translate is required")
	}
	frames := opts.Frames
	if frames == 0 {
		frames = DefaultFrames
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("subsystem", "gnttab")
	pages := opts.Pages
	if pages == nil {
		pages = defaultPageAllocator
	}
	mapTable := opts.MapTable
	if mapTable == nil {
		mapTable = defaultMapTable
	}
	if pages == nil || mapTable == nil {
		return nil, errors.New("gnttab: no page allocator available on this platform")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	if max := maxFrames(opts.Gateway); uint64(frames) > max {
		return nil, fmt.Errorf("gnttab: hypervisor offers %d grant frames, %d required", max, frames)
	}

	backing, err := mapTable(uintptr(frames) * xenabi.PageSize)
	if err != nil {
		return nil, fmt.Errorf("gnttab: mapping grant table store: %w", err)
	}

	// Install the grant frames in the guest physmap, at the frames
	// backing the store we just mapped.
	base := opts.Translate.VirtToGFN(sliceAddr(backing))
	for i := int(frames) - 1; i >= 0; i-- {
		xatp := xenabi.AddToPhysmap{
			DomID: xenabi.DomIDSelf,
			Space: xenabi.MapSpaceGrantTable,
			Idx:   uint64(i),
			GFN:   base + xenabi.GFN(i),
		}
		if err := opts.Gateway.AddToPhysmap(&xatp); err != nil {
			panic(fmt.Sprintf("add_to_physmap failed for grant frame %d: %v", i, err))
		}
	}

	n := int(frames) * xenabi.EntriesPerFrame
	t := &Table{
		entries: entrySlice(backing, n),
		backing: backing,
		pool:    newRefPool(n, log),
		gw:      opts.Gateway,
		pages:   pages,
		vtg:     opts.Translate,
		log:     log,
		sleep:   sleep,
	}
	log.Debugf("grant table mapped: %d frames, %d entries", frames, n)
	return t, nil
}

// maxFrames asks the hypervisor how many grant frames it supports.
func maxFrames(gw hypercall.Gateway) uint64 {
	q := xenabi.QuerySize{Dom: xenabi.DomIDSelf}
	if err := gw.QuerySize(&q); err != nil || q.Status != xenabi.StatusOkay {
		return legacyMaxFrames
	}
	return uint64(q.MaxNrFrames)
}

// Entries returns the table capacity, including reserved entries.
func (t *Table) Entries() int {
	return len(t.entries)
}

// GrantAccess allocates a grant reference and publishes an entry granting
// dom access to the frame gfn. It blocks while all references are
// outstanding and fails only if ctx is canceled during the wait.
func (t *Table) GrantAccess(ctx context.Context, dom xenabi.DomID, gfn xenabi.GFN, readonly bool) (xenabi.GrantRef, error) {
	gref, err := t.pool.alloc(ctx)
	if err != nil {
		return 0, err
	}
	t.permitAccess(gref, dom, gfn, readonly)
	return gref, nil
}

// permitAccess fills in the entry for gref and publishes it. The frame must
// be visible to the peer before the flags word is; the atomic release store
// of the flags word provides that ordering.
func (t *Table) permitAccess(gref xenabi.GrantRef, dom xenabi.DomID, gfn xenabi.GFN, readonly bool) {
	flags := xenabi.GTFPermitAccess
	if readonly {
		flags |= xenabi.GTFReadonly
	}

	atomic.StoreUint32(&t.entries[gref].Frame, uint32(gfn))
	atomic.StoreUint32(entryWord(&t.entries[gref]), uint32(dom)<<16|uint32(flags))
}

// EndAccess withdraws the grant gref and returns it to the pool. If the
// peer still holds a mapping (a liveness bit is set in the entry), it
// returns ErrStillInUse without touching the entry; the caller decides
// whether and when to retry. Reclaiming anyway would let the peer keep
// reading or writing a frame logically owned by someone else.
func (t *Table) EndAccess(gref xenabi.GrantRef) error {
	if gref < xenabi.ReservedEntries || int(gref) >= len(t.entries) {
		panic(fmt.Sprintf("invalid gref = %d", gref))
	}

	word := entryWord(&t.entries[gref])
	for {
		old := atomic.LoadUint32(word)
		if uint16(old)&(xenabi.GTFReading|xenabi.GTFWriting) != 0 {
			t.log.Warnf("gref = %d still in use! (%#x)", gref, uint16(old))
			return ErrStillInUse
		}
		// Clear the flags half of the word, keeping the domid half.
		if atomic.CompareAndSwapUint32(word, old, old&^0xffff) {
			break
		}
	}

	t.pool.free(gref)
	return nil
}
