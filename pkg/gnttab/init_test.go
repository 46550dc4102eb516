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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"

	"xenguest.dev/xenguest/pkg/xenabi"
)

func testOptions(gw *fakeGateway, frames uint32) Options {
	logger, _ := test.NewNullLogger()
	return Options{
		Gateway:   gw,
		Frames:    frames,
		Pages:     &fakePages{},
		Translate: shiftTranslator{},
		MapTable: func(size uintptr) ([]byte, error) {
			return make([]byte, size), nil
		},
		Logger: logger,
	}
}

func TestNewNegotiatesGrantFrames(t *testing.T) {
	var added []xenabi.AddToPhysmap
	gw := &fakeGateway{
		onAddToPhysmap: func(x *xenabi.AddToPhysmap) error {
			added = append(added, *x)
			return nil
		},
	}

	tbl, err := New(testOptions(gw, 2))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if got, want := tbl.Entries(), 2*xenabi.EntriesPerFrame; got != want {
		t.Errorf("Entries(): got %d, want %d", got, want)
	}

	// Frames are negotiated one hypercall each, descending.
	base := shiftTranslator{}.VirtToGFN(sliceAddr(tbl.backing))
	want := []xenabi.AddToPhysmap{
		{DomID: xenabi.DomIDSelf, Space: xenabi.MapSpaceGrantTable, Idx: 1, GFN: base + 1},
		{DomID: xenabi.DomIDSelf, Space: xenabi.MapSpaceGrantTable, Idx: 0, GFN: base},
	}
	if diff := cmp.Diff(want, added); diff != "" {
		t.Errorf("add_to_physmap calls mismatch (-want +got):\n%s", diff)
	}
}

func TestNewFirstAllocIsFirstNonReservedRef(t *testing.T) {
	tbl := newTestTable(t, &fakeGateway{})

	gref, err := tbl.GrantAccess(context.Background(), 1, 1, false)
	if err != nil {
		t.Fatalf("GrantAccess() failed: %v", err)
	}
	if gref != xenabi.ReservedEntries {
		t.Errorf("first gref: got %d, want %d", gref, xenabi.ReservedEntries)
	}
}

func TestNewRejectsInsufficientHypervisorFrames(t *testing.T) {
	gw := &fakeGateway{
		onQuerySize: func(q *xenabi.QuerySize) error {
			q.MaxNrFrames = 2
			q.Status = xenabi.StatusOkay
			return nil
		},
	}

	tbl, err := New(testOptions(gw, 4))
	if err == nil {
		t.Fatal("New() succeeded with hypervisor offering fewer frames than required")
	}
	if tbl != nil {
		t.Fatal("New() returned a table alongside an error")
	}
}

func TestNewQuerySizeFallback(t *testing.T) {
	// A failing size query falls back to the legacy four-frame limit:
	// four frames must work, five must not.
	for _, tc := range []struct {
		frames uint32
		wantOK bool
	}{
		{frames: 4, wantOK: true},
		{frames: 5, wantOK: false},
	} {
		gw := &fakeGateway{
			onQuerySize: func(q *xenabi.QuerySize) error {
				return errors.New("query not supported")
			},
		}
		_, err := New(testOptions(gw, tc.frames))
		if ok := err == nil; ok != tc.wantOK {
			t.Errorf("New() with %d frames: got err %v, want ok=%t", tc.frames, err, tc.wantOK)
		}
	}
}

func TestNewQueryBadStatusFallback(t *testing.T) {
	gw := &fakeGateway{
		onQuerySize: func(q *xenabi.QuerySize) error {
			q.MaxNrFrames = 64
			q.Status = xenabi.StatusGeneralError
			return nil
		},
	}
	// The reported 64 frames must be ignored: the status says the query
	// failed, so the legacy limit applies.
	if _, err := New(testOptions(gw, 8)); err == nil {
		t.Fatal("New() trusted the frame count of a failed query")
	}
}

func TestNewPhysmapNegotiationFailurePanics(t *testing.T) {
	gw := &fakeGateway{
		onAddToPhysmap: func(x *xenabi.AddToPhysmap) error {
			return errors.New("no space in physmap")
		},
	}

	defer func() {
		if recover() == nil {
			t.Error("New() did not panic on add_to_physmap failure")
		}
	}()
	New(testOptions(gw, 1))
}

func TestNewRequiresGatewayAndTranslator(t *testing.T) {
	if _, err := New(Options{Translate: shiftTranslator{}}); err == nil {
		t.Error("New() succeeded without a gateway")
	}
	if _, err := New(Options{Gateway: &fakeGateway{}}); err == nil {
		t.Error("New() succeeded without a translator")
	}
}
