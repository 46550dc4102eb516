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

package xenabi

import (
	"testing"
	"unsafe"
)

// The hypervisor reads these structures out of guest memory; any size or
// offset drift from the C definitions corrupts the call.
func TestWireLayout(t *testing.T) {
	for _, tc := range []struct {
		name string
		size uintptr
		want uintptr
	}{
		{"GrantEntryV1", unsafe.Sizeof(GrantEntryV1{}), 8},
		{"MapGrantRef", unsafe.Sizeof(MapGrantRef{}), 32},
		{"UnmapGrantRef", unsafe.Sizeof(UnmapGrantRef{}), 24},
		{"QuerySize", unsafe.Sizeof(QuerySize{}), 16},
		{"AddToPhysmap", unsafe.Sizeof(AddToPhysmap{}), 24},
		{"RemoveFromPhysmap", unsafe.Sizeof(RemoveFromPhysmap{}), 16},
		{"MemoryReservation", unsafe.Sizeof(MemoryReservation{}), 32},
	} {
		if tc.size != tc.want {
			t.Errorf("sizeof(%s): got %d, want %d", tc.name, tc.size, tc.want)
		}
	}

	var m MapGrantRef
	if off := unsafe.Offsetof(m.Status); off != 18 {
		t.Errorf("offsetof(MapGrantRef.Status): got %d, want 18", off)
	}
	if off := unsafe.Offsetof(m.DevBusAddr); off != 24 {
		t.Errorf("offsetof(MapGrantRef.DevBusAddr): got %d, want 24", off)
	}

	var u UnmapGrantRef
	if off := unsafe.Offsetof(u.Status); off != 20 {
		t.Errorf("offsetof(UnmapGrantRef.Status): got %d, want 20", off)
	}

	var e GrantEntryV1
	if off := unsafe.Offsetof(e.DomID); off != 2 {
		t.Errorf("offsetof(GrantEntryV1.DomID): got %d, want 2", off)
	}
	if off := unsafe.Offsetof(e.Frame); off != 4 {
		t.Errorf("offsetof(GrantEntryV1.Frame): got %d, want 4", off)
	}

	var r RemoveFromPhysmap
	if off := unsafe.Offsetof(r.GFN); off != 8 {
		t.Errorf("offsetof(RemoveFromPhysmap.GFN): got %d, want 8", off)
	}
}

func TestStatusString(t *testing.T) {
	for _, tc := range []struct {
		status Status
		want   string
	}{
		{StatusOkay, "okay"},
		{StatusEagain, "operation not done; try again"},
		{StatusNoDeviceSpace, "no spare translation slot in the I/O MMU"},
		{StatusBadPage, "bad page"},
		{Status(-100), "bad status"},
		{Status(1), "bad status"},
	} {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String(): got %q, want %q", tc.status, got, tc.want)
		}
	}
}
