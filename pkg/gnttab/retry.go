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
	"time"

	"github.com/cenkalti/backoff"

	"xenguest.dev/xenguest/pkg/xenabi"
)

const (
	// eagainStep is how much each retry delay grows over the previous
	// one.
	eagainStep = 10 * time.Millisecond

	// eagainCeiling bounds the total retry budget for one record.
	eagainCeiling = 200 * time.Millisecond
)

// linearBackOff is a backoff.BackOff whose delay grows by a constant step
// per attempt and stops once the next delay would reach the ceiling.
type linearBackOff struct {
	step    time.Duration
	ceiling time.Duration
	next    time.Duration
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func newLinearBackOff(step, ceiling time.Duration) *linearBackOff {
	return &linearBackOff{step: step, ceiling: ceiling, next: step}
}

// NextBackOff implements backoff.BackOff.NextBackOff.
func (b *linearBackOff) NextBackOff() time.Duration {
	if b.next >= b.ceiling {
		return backoff.Stop
	}
	d := b.next
	b.next += b.step
	return d
}

// Reset implements backoff.BackOff.Reset.
func (b *linearBackOff) Reset() {
	b.next = b.step
}

// exhausted reports whether the retry budget is spent.
func (b *linearBackOff) exhausted() bool {
	return b.next >= b.ceiling
}

// MapRefs issues a batched map-grant-reference operation. The returned
// error reflects the transport only; per-record outcomes are left in each
// record's Status and must be checked by the caller. Records the
// hypervisor reports as transiently busy are resubmitted alone with growing
// delays; a record still busy when the retry budget runs out has its status
// overwritten with StatusBadPage. No-device-space records are logged and
// left as failed, there is no remediation for those.
func (t *Table) MapRefs(ops []xenabi.MapGrantRef) error {
	if err := t.gw.MapGrantRefs(ops); err != nil {
		return err
	}

	for i := range ops {
		switch ops[i].Status {
		case xenabi.StatusNoDeviceSpace:
			t.log.Warnf("map_grant_ref failed, no device space for record #%d", i)

		case xenabi.StatusEagain:
			t.retryEagain(ops[i : i+1])
		}
	}
	return nil
}

// retryEagain resubmits a single transiently-busy record until it stops
// reporting eagain or the delay budget is exhausted.
func (t *Table) retryEagain(op []xenabi.MapGrantRef) {
	b := newLinearBackOff(eagainStep, eagainCeiling)
	for {
		if err := t.gw.MapGrantRefs(op); err != nil {
			t.log.Warnf("resubmitting map_grant_ref for gref %d: %v", op[0].Ref, err)
			return
		}
		if op[0].Status != xenabi.StatusEagain {
			return
		}
		if d := b.NextBackOff(); d != backoff.Stop {
			t.sleep(d)
		}
		if b.exhausted() {
			t.log.Errorf("failed to map gref %d, timeout reached", op[0].Ref)
			op[0].Status = xenabi.StatusBadPage
			return
		}
	}
}

// UnmapRefs issues a batched unmap-grant-reference operation. As with
// MapRefs, per-record statuses are the caller's to inspect.
func (t *Table) UnmapRefs(ops []xenabi.UnmapGrantRef) error {
	return t.gw.UnmapGrantRefs(ops)
}
