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

	"github.com/talismancer/mtcp-restore/pkg/mtcp/image"
)

// Run drives the full dataflow of spec.md §2 "Dataflow": restore the
// program break, self-relocate, then (in Relocate's continuation) sweep,
// reconcile vDSO/vvar, restore regions, and jump to the continuation.
// The continuation runs on the original stack, and only when ri.SkipMremap
// or ri.Simulate is set; otherwise Relocate returns
// ErrStackPivotUnimplemented and Run returns that error.
//
// selfName is the restorer binary's own name, used by Relocate (to find
// its own mappings) and Sweep (to recognize, and unmap, the pre-relocation
// copy). r must already be positioned past the header (image.Open/OpenFD
// does this). readTimeUsec is stamped by the caller before this call.
func Run(ri *Info, r *image.Reader, selfName string, post PostRestart, readTimeUsec int64) error {
	if err := RestoreBreakEarly(ri); err != nil {
		return fmt.Errorf("restoring program break: %w", err)
	}

	PauseEarly(ri)

	var stackLocal int
	return Relocate(ri, selfName, localAddr(&stackLocal), func(ri *Info) error {
		if err := RestoreBreakLate(ri); err != nil {
			return err
		}
		if ri.Simulate {
			// Idempotence (spec.md §8): simulate mode is a pure read and
			// must not reach sweeping/region restoration at all.
			return nil
		}
		PauseLate(ri, PauseBeforeSweep, "before address-space sweep")
		if err := Sweep(ri, selfName); err != nil {
			return fmt.Errorf("sweeping address space: %w", err)
		}
		PauseLate(ri, PauseBeforeVDSO, "before vdso/vvar reconciliation")
		if err := ReconcileVDSO(ri); err != nil {
			return fmt.Errorf("reconciling vdso/vvar: %w", err)
		}
		PauseLate(ri, PauseBeforeRegions, "before mmap of restored regions")
		if err := RestoreRegions(ri, r, post, readTimeUsec); err != nil {
			return fmt.Errorf("restoring regions: %w", err)
		}
		return nil
	})
}

// localAddr returns the address of a stack-allocated int, used by
// Relocate to identify the current stack's mapping in /proc/self/maps
// (spec.md §4.4 step 1). Kept as its own tiny function so the call site in
// Run reads as "the address of a local", matching the spec's wording,
// rather than an inline unsafe expression.
func localAddr(p *int) uintptr {
	return addrOf(p)
}
