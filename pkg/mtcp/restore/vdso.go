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
	"runtime"

	"golang.org/x/sys/unix"
)

// maxStagingAttempts bounds the retries of spec.md §4.6 step 1: "Retry (at
// most thrice) if overlap is detected."
const maxStagingAttempts = 3

// ReconcileVDSO implements spec.md §4.6: moves the kernel-supplied vDSO and
// vvar pages (found by Sweep, at ri.CurrentVDSOStart/End and
// ri.CurrentVVarStart/End) to the addresses they occupied at checkpoint
// time (ri.VDSOStart/End, ri.VVarStart/End), via a non-overlapping staging
// area.
func ReconcileVDSO(ri *Info) error {
	vdsoSize := ri.VDSOEnd - ri.VDSOStart
	curVDSOSize := ri.CurrentVDSOEnd - ri.CurrentVDSOStart
	vvarSize := ri.VVarEnd - ri.VVarStart
	curVVarSize := ri.CurrentVVarEnd - ri.CurrentVVarStart

	if vdsoSize != curVDSOSize {
		return fmt.Errorf("vdso size mismatch: checkpoint had %d bytes, current kernel has %d", vdsoSize, curVDSOSize)
	}
	if vvarSize != curVVarSize {
		return fmt.Errorf("vvar size mismatch: checkpoint had %d bytes, current kernel has %d", vvarSize, curVVarSize)
	}
	// Ordering must match: a vDSO-above-vvar flip signals a kernel-version
	// incompatibility the restorer cannot safely bridge.
	if (ri.VDSOStart < ri.VVarStart) != (ri.CurrentVDSOStart < ri.CurrentVVarStart) {
		return fmt.Errorf("vdso/vvar relative ordering differs between checkpoint and current kernel")
	}

	payload := vdsoSize + vvarSize
	staging, err := claimStagingArea(payload, ri.CurrentVDSOStart, ri.CurrentVDSOEnd, ri.VDSOStart, ri.VDSOEnd,
		ri.CurrentVVarStart, ri.CurrentVVarEnd, ri.VVarStart, ri.VVarEnd)
	if err != nil {
		return err
	}
	defer unix.Munmap(unsafeSlice(staging, payload))

	stagingVDSO := staging
	stagingVVar := staging + vdsoSize

	if err := moveRange(ri.CurrentVDSOStart, vdsoSize, stagingVDSO); err != nil {
		return fmt.Errorf("staging vdso: %w", err)
	}
	if err := moveRange(ri.CurrentVVarStart, vvarSize, stagingVVar); err != nil {
		return fmt.Errorf("staging vvar: %w", err)
	}

	if err := moveRange(stagingVVar, vvarSize, ri.VVarStart); err != nil {
		return fmt.Errorf("placing vvar: %w", err)
	}
	if err := moveRange(stagingVDSO, vdsoSize, ri.VDSOStart); err != nil {
		return fmt.Errorf("placing vdso: %w", err)
	}

	if runtime.GOARCH == "386" {
		applyI386VVSyscallShim(ri.VDSOStart, vdsoSize, ri.VVarStart, vvarSize)
	}

	return nil
}

// claimStagingArea implements spec.md §4.6 step 1: allocate a no-access
// region three times the payload size, keep the middle third (unmapping
// the flanking thirds), and retry up to maxStagingAttempts times if that
// middle third overlaps either the current or checkpoint-time vDSO/vvar
// ranges.
func claimStagingArea(payload uintptr, ranges ...uintptr) (uintptr, error) {
	for attempt := 0; attempt < maxStagingAttempts; attempt++ {
		total := payload * 3
		base, err := rawMmap(0, total, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON, -1, 0)
		if err != nil {
			return 0, fmt.Errorf("allocating staging candidate: %w", err)
		}
		middle := base + payload

		if !rangeOverlapsAny(middle, middle+payload, ranges) {
			unix.Munmap(unsafeSlice(base, payload))
			unix.Munmap(unsafeSlice(middle+payload, payload))
			return middle, nil
		}
		unix.Munmap(unsafeSlice(base, total))
	}
	return 0, fmt.Errorf("could not find a non-overlapping staging area after %d attempts", maxStagingAttempts)
}

func rangeOverlapsAny(start, end uintptr, ranges []uintptr) bool {
	for i := 0; i+1 < len(ranges); i += 2 {
		rs, re := ranges[i], ranges[i+1]
		if start < re && rs < end {
			return true
		}
	}
	return false
}

// moveRange relocates [src, src+size) to dst via mremap with
// MREMAP_FIXED|MREMAP_MAYMOVE, per spec.md §4.6: "A move operation cannot
// have overlapping source and destination... implemented via an in-place
// remap that both guarantees fixed destination placement and allows
// movement." If the kernel places the mapping elsewhere, the move is
// undone (remapped back to src) and the failure is fatal.
func moveRange(src, size, dst uintptr) error {
	got, _, errno := unix.Syscall6(unix.SYS_MREMAP, src, size, size, unix.MREMAP_MAYMOVE|unix.MREMAP_FIXED, dst, 0)
	if errno != 0 {
		return fmt.Errorf("mremap(%#x -> %#x, %d): %w", src, dst, size, errno)
	}
	if got != dst {
		// Undo: put it back where it was, then report failure.
		unix.Syscall6(unix.SYS_MREMAP, got, size, size, unix.MREMAP_MAYMOVE|unix.MREMAP_FIXED, src, 0)
		return fmt.Errorf("mremap landed at %#x instead of requested %#x", got, dst)
	}
	return nil
}

// applyI386VVSyscallShim is the hook for spec.md §4.6 step 4: on 32-bit
// x86 only, kernel-return paths may still dispatch through the pre-move
// address. Its body is empty: it overlays no page at the staging address
// and copies no vvar or vDSO bytes.
//
// This repo's primary target is amd64/arm64; the staging addresses here
// have already been unmapped by the time this would run on real hardware,
// so this function is a structural placeholder for the i386 build that
// documents the step rather than silently skipping it.
func applyI386VVSyscallShim(vdsoAddr, vdsoSize, vvarAddr, vvarSize uintptr) {
	// TODO(i386): overlay an anonymous RW page at the pre-move staging
	// address and memcpy the final vvar/vdso bytes into it, per spec.md
	// §4.6 step 4. Not exercised on the amd64/arm64 builds this module
	// targets.
}
