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

	"github.com/talismancer/mtcp-restore/pkg/mtcp/sysraw"
)

// currentBreak returns the process's current program break by calling
// brk(0), the conventional no-op query form.
func currentBreak() (uintptr, error) {
	addr, _, errno := unix.RawSyscall(unix.SYS_BRK, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}

// setBreak calls brk(addr) and verifies the kernel honored it.
func setBreak(addr uintptr) error {
	got, _, errno := unix.RawSyscall(unix.SYS_BRK, addr, 0, 0)
	if errno != 0 {
		return errno
	}
	if got != addr {
		return fmt.Errorf("brk(%#x) landed at %#x", addr, got)
	}
	return nil
}

// RestoreBreakEarly implements the first half of spec.md §4.8: performed
// before self-relocation, while rinfo's fields are still only reachable
// from the original stack.
//
// If the current break is at or below the saved break, brk is called
// immediately and any anonymous memory the kernel mapped above the old
// break is unmapped, since it could collide with the snapshot layout. If
// the current break is above the saved break, the call is deferred: the
// kernel would munmap memory that still holds ri itself. The deferred case
// is completed by RestoreBreakLate, once ri has been copied onto the new
// stack.
func RestoreBreakEarly(ri *Info) error {
	cur, err := currentBreak()
	if err != nil {
		return fmt.Errorf("querying program break: %w", err)
	}

	if cur > ri.RestoreAddr && ri.SavedBrk < ri.RestoreAddr {
		return fmt.Errorf("current break %#x is above the reserved range but saved break %#x is below it: reserved range would be bracketed", cur, ri.SavedBrk)
	}

	if cur <= ri.SavedBrk {
		if err := setBreak(ri.SavedBrk); err != nil {
			return fmt.Errorf("brk(saved_brk): %w", err)
		}
		if ri.SavedBrk > cur {
			if err := unix.Munmap(sliceAt(cur, ri.SavedBrk-cur)); err != nil {
				// Best-effort cleanup per spec.md §7.4: the kernel may not
				// have actually backed this range with anything unmappable
				// separately. Log and continue rather than abort.
				sysraw.Printf("brk: munmap %x-%x failed\n", cur, ri.SavedBrk)
			}
		}
		ri.SavedBrk = 0 // nothing left to do in RestoreBreakLate
		return nil
	}

	// Deferred: leave ri.SavedBrk set, RestoreBreakLate finishes this once
	// it is safe to do so.
	return nil
}

// RestoreBreakLate completes a brk deferred by RestoreBreakEarly, called
// from the relocated restore routine where ri has already been copied onto
// the new stack (spec.md §4.8).
func RestoreBreakLate(ri *Info) error {
	if ri.SavedBrk == 0 {
		return nil
	}
	if err := setBreak(ri.SavedBrk); err != nil {
		return fmt.Errorf("deferred brk(saved_brk): %w", err)
	}
	return nil
}

// sliceAt builds a zero-copy []byte view over [addr, addr+size) for use
// with unix.Munmap, which takes a []byte purely for its address and
// length. This never dereferences the memory through Go's own access
// path; it is handed straight back to the kernel.
func sliceAt(addr, size uintptr) []byte {
	return unsafeSlice(addr, size)
}
