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
	"github.com/talismancer/mtcp-restore/pkg/mtcp/image"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/sysraw"
)

// PostRestart is the continuation signature: the recorded function pointer
// spec.md §3/§6 calls once restoration completes. readTimeUsec and
// restartPause mirror the original's post_restart(read_time, restart_pause)
// arguments.
type PostRestart func(readTimeUsec int64, restartPause int) error

// RestoreRegions implements spec.md §4.7: streams Area records from r
// until the terminator, recreating each at its original address, then
// finalizes per §4.7 "Finalization" and calls post.
//
// readTimeUsec is supplied by the caller (Go's time package is not
// available to the freestanding-primitive discipline of C1; the CLI layer
// stamps this before/after the call using ordinary wall-clock time, since
// that measurement happens before sweeping begins).
func RestoreRegions(ri *Info, r *image.Reader, post PostRestart, readTimeUsec int64) error {
	var a area.Area
	for {
		ok, err := r.NextArea(&a)
		if err != nil {
			return fmt.Errorf("reading area record: %w", err)
		}
		if !ok {
			break
		}
		if err := restoreOneRegion(ri, r, &a); err != nil {
			return fmt.Errorf("restoring region %#x-%#x (%s): %w", a.Addr, a.EndAddr, a.NameString(), err)
		}
	}

	if err := r.Close(); err != nil {
		sysraw.Printf("warning: closing image fd failed\n")
	}

	PauseLate(ri, PauseBeforeJump, "before continuation jump")

	// The restorer's own text is about to become unreachable from the
	// restored program's perspective; flush any residual fetch-cache
	// entries before the jump (spec.md §4.7 Finalization, §5).
	emitCodeBarrier()

	return post(readTimeUsec, ri.RestartPause)
}

// restoreOneRegion implements the per-Area dispatch of spec.md §4.7 steps 1-5.
func restoreOneRegion(ri *Info, r *image.Reader, a *area.Area) error {
	if a.NameContains(area.NameHeap) {
		if cur, err := currentBreak(); err == nil && cur != a.Addr+a.Size() {
			sysraw.Printf("warning: current break %x disagrees with heap area end %x\n", cur, a.Addr+a.Size())
		}
	}

	if (a.NameContains("stack") && a.NameLen > 0 && a.Name[0] != '/') || a.EndAddr == ri.EndOfStack {
		a.Flags |= area.FlagGrowsDown
	}

	if a.Flags.Shared() {
		a.Flags = a.Flags.AsPrivateAnonymous()
	}

	lackedWrite := !a.Prot.Writable()

	switch {
	case a.Properties.Has(area.ZeroPage):
		if lackedWrite {
			if err := unix.Mprotect(unsafeSlice(a.Addr, a.Size()), mmapProt(a.Prot)); err != nil {
				return fmt.Errorf("re-protecting zero page: %w", err)
			}
		}
		return nil

	case a.Properties.Has(area.ZeroPageChildHeader):
		// The ancestor mapping is shared; no mmap step, no payload.
		return nil

	case a.Properties.Has(area.ZeroPageParentHeader):
		if err := mmapRegionAnonymous(a); err != nil {
			return err
		}
		return finishProtection(a, lackedWrite)

	case a.Flags.Anonymous():
		if err := mmapRegionAnonymous(a); err != nil {
			return err
		}
		n := image.PayloadLen(a)
		if n > 0 {
			if err := r.ReadPayload(unsafeSlice(a.Addr, uintptr(n)), n); err != nil {
				return fmt.Errorf("reading anonymous payload: %w", err)
			}
		}
		return finishProtection(a, lackedWrite)

	default:
		if err := restoreFileBacked(a, r); err != nil {
			return err
		}
		return finishProtection(a, lackedWrite)
	}
}

func finishProtection(a *area.Area, lackedWrite bool) error {
	if !lackedWrite {
		return nil
	}
	return unix.Mprotect(unsafeSlice(a.Addr, a.Size()), mmapProt(a.Prot))
}

// mmapRegionAnonymous maps a anonymously at a.Addr with write added to the
// protection (spec.md §4.7 step 4, "plain anonymous").
func mmapRegionAnonymous(a *area.Area) error {
	prot := mmapProt(a.Prot.WithWrite())
	got, err := mmapFixedNoReplace(a.Addr, a.Size(), prot, unix.MAP_PRIVATE|unix.MAP_ANON, -1, 0)
	if err != nil {
		return fmt.Errorf("mmap anonymous: %w", err)
	}
	if got != a.Addr {
		return fmt.Errorf("mmap anonymous landed at %#x, wanted %#x", got, a.Addr)
	}
	return nil
}

// restoreFileBacked implements spec.md §4.7 step 4, "file-backed": open the
// backing file read-only; if it is shorter than offset+size and the region
// is writable, fall back to anonymous with offset 0; otherwise mmap the
// file (read/write added) at offset, close the fd, then read
// mmap_file_size bytes of payload into addr.
func restoreFileBacked(a *area.Area, r *image.Reader) error {
	path := a.NameString()
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	tooShort := false
	if err != nil {
		tooShort = true
	} else {
		var st unix.Stat_t
		if statErr := unix.Fstat(fd, &st); statErr != nil || uint64(st.Size) < a.Offset+uint64(a.Size()) {
			tooShort = a.Prot.Writable()
		}
	}

	if tooShort {
		if fd >= 0 {
			unix.Close(fd)
		}
		a.Offset = 0
		if err := mmapRegionAnonymous(a); err != nil {
			return err
		}
		n := image.PayloadLen(a)
		if n > 0 {
			return r.ReadPayload(unsafeSlice(a.Addr, uintptr(n)), n)
		}
		return nil
	}
	defer unix.Close(fd)

	prot := mmapProt(a.Prot.WithWrite())
	got, err := mmapFixedNoReplace(a.Addr, a.Size(), prot, unix.MAP_PRIVATE, fd, int64(a.Offset))
	if err != nil {
		return fmt.Errorf("mmap file-backed: %w", err)
	}
	if got != a.Addr {
		return fmt.Errorf("mmap file-backed landed at %#x, wanted %#x", got, a.Addr)
	}

	n := image.PayloadLen(a)
	if n > 0 {
		return r.ReadPayload(unsafeSlice(a.Addr, uintptr(n)), n)
	}
	return nil
}
