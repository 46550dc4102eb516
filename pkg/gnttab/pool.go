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
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"xenguest.dev/xenguest/pkg/xenabi"
)

// grefUsed marks a list cell whose reference is currently allocated.
const grefUsed = ^xenabi.GrantRef(1)

// refPool hands out free grant references in O(1).
//
// The free list is embedded in the list slice itself: list[0] holds the head
// index, each free reference's cell holds the index of the next free
// reference, and the chain terminates at the cell holding 0. An allocated
// reference's cell holds grefUsed. The semaphore counts free references and
// is what alloc blocks on; the mutex only covers the short list splice.
type refPool struct {
	sem *semaphore.Weighted
	log logrus.FieldLogger

	mu   sync.Mutex
	list []xenabi.GrantRef
}

func newRefPool(n int, log logrus.FieldLogger) *refPool {
	p := &refPool{
		sem:  semaphore.NewWeighted(int64(n - xenabi.ReservedEntries)),
		log:  log,
		list: make([]xenabi.GrantRef, n),
	}

	// list[0] always shows the first free entry.
	p.list[0] = xenabi.ReservedEntries
	p.list[n-1] = 0
	for gref := xenabi.GrantRef(xenabi.ReservedEntries); int(gref) < n-1; gref++ {
		p.list[gref] = gref + 1
	}
	return p
}

// alloc returns a free grant reference, waiting until one is available. It
// fails only if ctx is canceled while waiting.
func (p *refPool) alloc(ctx context.Context) (xenabi.GrantRef, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}

	p.mu.Lock()
	gref := p.list[0]
	if gref < xenabi.ReservedEntries || int(gref) >= len(p.list) {
		panic(fmt.Sprintf("corrupted grant free list: head = %d", gref))
	}
	p.list[0] = p.list[gref]
	p.list[gref] = grefUsed
	p.mu.Unlock()

	return gref, nil
}

// free returns gref to the pool. Freeing a reference that is not allocated
// is logged and ignored; corrupting the free list would be worse than
// leaking a slot.
func (p *refPool) free(gref xenabi.GrantRef) {
	p.mu.Lock()
	if p.list[gref] != grefUsed {
		p.mu.Unlock()
		p.log.Warnf("Trying to put already free gref = %d", gref)
		return
	}
	p.list[gref] = p.list[0]
	p.list[0] = gref
	p.mu.Unlock()

	p.sem.Release(1)
}
