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
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"xenguest.dev/xenguest/pkg/hypercall"
	"xenguest.dev/xenguest/pkg/xenabi"
)

// querySize implements subcommands.Command for the "query-size" command.
type querySize struct{}

// Name implements subcommands.Command.Name.
func (*querySize) Name() string {
	return "query-size"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*querySize) Synopsis() string {
	return "print the hypervisor's grant-table frame limits for this domain"
}

// Usage implements subcommands.Command.Usage.
func (*querySize) Usage() string {
	return `query-size - print current and maximum grant-table frame counts.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*querySize) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*querySize) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	gw, err := hypercall.OpenPrivcmd()
	if err != nil {
		logrus.Errorf("opening hypercall gateway: %v", err)
		return subcommands.ExitFailure
	}
	defer gw.Close()

	q := xenabi.QuerySize{Dom: xenabi.DomIDSelf}
	if err := gw.QuerySize(&q); err != nil {
		logrus.Errorf("query_size: %v", err)
		return subcommands.ExitFailure
	}
	if q.Status != xenabi.StatusOkay {
		logrus.Errorf("query_size: %v", q.Status)
		return subcommands.ExitFailure
	}

	fmt.Printf("frames:     %d\nmax frames: %d\n", q.NrFrames, q.MaxNrFrames)
	return subcommands.ExitSuccess
}
