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

package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"xenguest.dev/xenguest/pkg/gnttab"
	"xenguest.dev/xenguest/pkg/xenabi"
)

// selftest implements subcommands.Command for the "selftest" command.
type selftest struct {
	rounds int
}

// Name implements subcommands.Command.Name.
func (*selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*selftest) Synopsis() string {
	return "exercise the grant-table machinery against an in-process fake hypervisor"
}

// Usage implements subcommands.Command.Usage.
func (*selftest) Usage() string {
	return `selftest - run grant/end-access round trips without touching a real hypervisor.

OPTIONS:
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *selftest) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.rounds, "rounds", 1000, "number of grant/end-access round trips")
}

// Execute implements subcommands.Command.Execute.
func (s *selftest) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	tbl, err := gnttab.New(gnttab.Options{
		Gateway:   &loopbackGateway{},
		Translate: pageShiftTranslator{},
	})
	if err != nil {
		logrus.Errorf("creating grant table: %v", err)
		return subcommands.ExitFailure
	}

	for i := 0; i < s.rounds; i++ {
		page, gref, err := tbl.AllocAndGrant(ctx, i%2 == 0)
		if err != nil {
			logrus.Errorf("round %d: AllocAndGrant: %v", i, err)
			return subcommands.ExitFailure
		}
		if err := tbl.EndAccess(gref); err != nil {
			logrus.Errorf("round %d: EndAccess(%d): %v", i, gref, err)
			return subcommands.ExitFailure
		}
		tbl.FreePage(page)
	}

	// One batched map with a transient failure, to exercise the retry
	// path end to end.
	ops := []xenabi.MapGrantRef{{Ref: xenabi.ReservedEntries, Flags: xenabi.MapHostMap}}
	if err := tbl.MapRefs(ops); err != nil {
		logrus.Errorf("MapRefs: %v", err)
		return subcommands.ExitFailure
	}
	if ops[0].Status != xenabi.StatusOkay {
		logrus.Errorf("MapRefs record status: %v", ops[0].Status)
		return subcommands.ExitFailure
	}

	logrus.Infof("selftest passed: %d grant/end-access round trips", s.rounds)
	return subcommands.ExitSuccess
}

// pageShiftTranslator derives frame numbers from virtual addresses, which
// is all the loopback gateway needs.
type pageShiftTranslator struct{}

// VirtToGFN implements gnttab.Translator.VirtToGFN.
func (pageShiftTranslator) VirtToGFN(addr uintptr) xenabi.GFN {
	return xenabi.GFN(addr >> xenabi.PageShift)
}

// loopbackGateway acknowledges every operation without a hypervisor. The
// first map of each run reports a transient busy so the retry executor has
// something to do.
type loopbackGateway struct {
	maps int
}

// QuerySize implements hypercall.Gateway.QuerySize.
func (*loopbackGateway) QuerySize(q *xenabi.QuerySize) error {
	q.NrFrames = gnttab.DefaultFrames
	q.MaxNrFrames = 32
	q.Status = xenabi.StatusOkay
	return nil
}

// MapGrantRefs implements hypercall.Gateway.MapGrantRefs.
func (g *loopbackGateway) MapGrantRefs(ops []xenabi.MapGrantRef) error {
	g.maps++
	for i := range ops {
		if g.maps == 1 {
			ops[i].Status = xenabi.StatusEagain
			continue
		}
		ops[i].Status = xenabi.StatusOkay
	}
	return nil
}

// UnmapGrantRefs implements hypercall.Gateway.UnmapGrantRefs.
func (*loopbackGateway) UnmapGrantRefs(ops []xenabi.UnmapGrantRef) error {
	for i := range ops {
		ops[i].Status = xenabi.StatusOkay
	}
	return nil
}

// AddToPhysmap implements hypercall.Gateway.AddToPhysmap.
func (*loopbackGateway) AddToPhysmap(*xenabi.AddToPhysmap) error {
	return nil
}

// RemoveFromPhysmap implements hypercall.Gateway.RemoveFromPhysmap.
func (*loopbackGateway) RemoveFromPhysmap(*xenabi.RemoveFromPhysmap) error {
	return nil
}

// PopulatePhysmap implements hypercall.Gateway.PopulatePhysmap.
func (*loopbackGateway) PopulatePhysmap(res *xenabi.MemoryReservation) (int, error) {
	return int(res.NrExtents), nil
}
