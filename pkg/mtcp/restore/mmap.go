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
)

// rawMmap issues mmap(2) directly via unix.Syscall6, since the stdlib
// unix.Mmap helper has no way to request a specific address. Used by every
// fixed-address mapping C4/C6/C7 create.
func rawMmap(addr, length uintptr, prot, flags, fd int, offset int64) (uintptr, error) {
	got, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return got, nil
}

// mmapFixedNoReplace implements the "fixed, no-replace" primitive of
// spec.md §4.7: on kernels new enough to support MAP_FIXED_NOREPLACE, that
// flag is passed directly so the kernel itself rejects a collision; on
// older kernels it emulates the check by comparing the returned address to
// the requested one and unmapping on mismatch. Per spec.md, this emulation
// is approximate and can race — callers must ensure the target range is
// already unmapped (the sweeper, §4.5, is what provides that guarantee in
// production use).
func mmapFixedNoReplace(addr, length uintptr, prot, flags int, fd int, offset int64) (uintptr, error) {
	tryFlags := flags | unix.MAP_FIXED_NOREPLACE
	got, err := rawMmap(addr, length, prot, tryFlags, fd, offset)
	if err == nil {
		if got != addr {
			// A kernel that ignores MAP_FIXED_NOREPLACE treats addr as a
			// hint only; undo a mapping that landed elsewhere.
			unix.Munmap(unsafeSlice(got, length))
			return 0, fmt.Errorf("mmap landed at %#x instead of requested %#x", got, addr)
		}
		return got, nil
	}
	if errno, ok := err.(unix.Errno); !ok || errno != unix.EINVAL {
		return 0, err
	}

	// MAP_FIXED_NOREPLACE unrecognized by this kernel: fall back to plain
	// MAP_FIXED and verify after the fact.
	got, err = rawMmap(addr, length, prot, flags|unix.MAP_FIXED, fd, offset)
	if err != nil {
		return 0, err
	}
	if got != addr {
		unix.Munmap(unsafeSlice(got, length))
		return 0, fmt.Errorf("mmap landed at %#x instead of requested %#x", got, addr)
	}
	return got, nil
}

// emitCodeBarrier issues the architecture-dependent barrier spec.md §4.4
// step 8 and §5 require after writing the relocated restorer code and
// before branching into it. On amd64, ordinary stores are already
// observable to the same core's instruction fetch path after a
// serializing event at the syscall boundary the mmap above just crossed,
// so no further instruction is needed; on ARM/AArch64 a real
// implementation must additionally flush the data cache to the point of
// unification and invalidate the instruction cache line-by-line (DSB/ISB).
// This is an architecture gate, not a polymorphism opportunity (spec.md
// §9): Go provides no portable intrinsic for DC CVAU/IC IVAU, and the arm64
// barrierArch has an empty body that issues none of these instructions
// (see barrier_arm64.go).
func emitCodeBarrier() {
	barrierArch()
}
