// Copyright 2024 The mtcp-restore Authors.
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

package restore

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestRangeOverlapsAny(t *testing.T) {
	ranges := []uintptr{0x1000, 0x2000, 0x5000, 0x6000}
	cases := []struct {
		start, end uintptr
		want       bool
	}{
		{0x1500, 0x1800, true},
		{0x0500, 0x1500, true},
		{0x5500, 0x7000, true},
		{0x2000, 0x5000, false},
		{0x6000, 0x7000, false},
		{0x0000, 0x1000, false},
	}
	for _, c := range cases {
		if got := rangeOverlapsAny(c.start, c.end, ranges); got != c.want {
			t.Errorf("rangeOverlapsAny(%#x,%#x) = %v, want %v", c.start, c.end, got, c.want)
		}
	}
}

func TestClaimStagingAreaReturnsDisjointMiddleThird(t *testing.T) {
	const payload = uintptr(4096)

	// Pick an exclusion range far from anything the allocator is likely to
	// hand back, so the first candidate should already satisfy step 1.
	excludeStart := uintptr(0x10)
	excludeEnd := uintptr(0x20)

	staging, err := claimStagingArea(payload, excludeStart, excludeEnd)
	if err != nil {
		t.Fatalf("claimStagingArea: %v", err)
	}
	defer unix.Munmap(unsafeSlice(staging, payload))

	if staging == 0 {
		t.Fatalf("staging address is zero")
	}
	if rangeOverlapsAny(staging, staging+payload, []uintptr{excludeStart, excludeEnd}) {
		t.Errorf("staging region %#x-%#x overlaps excluded range", staging, staging+payload)
	}
}

func TestVDSOSizeMismatchIsFatal(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	ri.VDSOStart, ri.VDSOEnd = 0x700000, 0x702000
	ri.VVarStart, ri.VVarEnd = 0x702000, 0x703000
	ri.CurrentVDSOStart, ri.CurrentVDSOEnd = 0x800000, 0x803000 // 3 pages vs. 2
	ri.CurrentVVarStart, ri.CurrentVVarEnd = 0x803000, 0x804000

	if err := ReconcileVDSO(ri); err == nil {
		t.Fatalf("expected a vdso size mismatch error")
	}
}

func TestVDSOOrderingMismatchIsFatal(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	// Checkpoint-time: vdso below vvar.
	ri.VDSOStart, ri.VDSOEnd = 0x700000, 0x701000
	ri.VVarStart, ri.VVarEnd = 0x701000, 0x702000
	// Current kernel: vvar below vdso (flipped order), same sizes.
	ri.CurrentVVarStart, ri.CurrentVVarEnd = 0x800000, 0x801000
	ri.CurrentVDSOStart, ri.CurrentVDSOEnd = 0x801000, 0x802000

	if err := ReconcileVDSO(ri); err == nil {
		t.Fatalf("expected an ordering mismatch error")
	}
}
