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

package gnttab

import (
	"xenguest.dev/xenguest/pkg/memutil"
	"xenguest.dev/xenguest/pkg/xenabi"
)

// mmapPageAllocator hands out single pages as individual anonymous
// mappings, so every page is aligned and its frame can be exchanged with
// the hypervisor independently of any other allocation.
type mmapPageAllocator struct{}

// Get implements PageAllocator.Get.
func (mmapPageAllocator) Get() ([]byte, error) {
	return memutil.AllocPages(xenabi.PageSize)
}

// Put implements PageAllocator.Put.
func (mmapPageAllocator) Put(page []byte) {
	// The page is unmapped, not pooled; an munmap failure here means the
	// mapping was already gone.
	_ = memutil.FreePages(page)
}

var defaultPageAllocator PageAllocator = mmapPageAllocator{}

var defaultMapTable = func(size uintptr) ([]byte, error) {
	return memutil.AllocPages(size)
}
