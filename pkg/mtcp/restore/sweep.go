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
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/sysraw"
)

// Sweep implements spec.md §4.5: every region not on the whitelist (the
// relocated self range, vDSO, vvar, vsyscall, ARM vectors, and
// plugin-reserved regions) is unmapped. It also records the current vDSO
// and vvar bounds into ri for ReconcileVDSO.
//
// selfBinaryName is the original (non-relocated) restorer binary's name,
// distinguished from the relocated copy by address: anything inside
// [ri.RestoreAddr, ri.RestoreEnd) is kept regardless of name.
func Sweep(ri *Info, selfBinaryName string) error {
	fd, err := unix.Open("/proc/self/maps", unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("opening /proc/self/maps: %w", err)
	}
	defer unix.Close(fd)

	sc := area.NewScanner(fd)
	var a area.Area
	for {
		ok, err := sc.Next(&a)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		switch classifySweep(ri, &a, selfBinaryName) {
		case sweepKeep:
			if a.HasNamePrefix(area.NameVDSO) {
				ri.CurrentVDSOStart, ri.CurrentVDSOEnd = a.Addr, a.EndAddr
			}
			if a.HasNamePrefix(area.NameVVAR) {
				ri.CurrentVVarStart, ri.CurrentVVarEnd = a.Addr, a.EndAddr
			}
			continue
		case sweepUnmap:
			if a.Size() == 0 {
				continue
			}
			if err := unix.Munmap(unsafeSlice(a.Addr, a.Size())); err != nil {
				// Best-effort cleanup per spec.md §7.4: an occasional
				// munmap may fail (e.g. vsyscall-adjacent artifacts);
				// log and move on rather than aborting the whole sweep.
				sysraw.Printf("sweep: munmap %x-%x (%s) failed\n", a.Addr, a.EndAddr, a.NameString())
				continue
			}
			// Rewind: the map listing shifts on every unmap (spec.md §4.5).
			if err := sc.Rewind(); err != nil {
				return fmt.Errorf("rewinding /proc/self/maps: %w", err)
			}
		}
	}
}

type sweepAction int

const (
	sweepKeep sweepAction = iota
	sweepUnmap
)

func classifySweep(ri *Info, a *area.Area, selfBinaryName string) sweepAction {
	if ri.Overlaps(a.Addr, a.Size()) {
		return sweepKeep
	}
	if a.HasNamePrefix(area.NameVDSO) || a.HasNamePrefix(area.NameVVAR) {
		return sweepKeep
	}
	if a.NameString() == area.NameVsyscall || a.NameString() == area.NameVectors {
		return sweepKeep
	}
	if ri.Hooks.SkipRegion(a, ri) {
		return sweepKeep
	}
	if a.HasNameSuffix(selfBinaryName) {
		return sweepUnmap
	}
	if a.NameString() == area.NameHeap {
		return sweepUnmap
	}
	return sweepUnmap
}
