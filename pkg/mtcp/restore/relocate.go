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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
)

// ErrStackPivotUnimplemented is returned by Relocate instead of invoking
// its continuation whenever the real (non-SkipMremap, non-Simulate) restart
// path would otherwise hand off to Sweep/ReconcileVDSO/RestoreRegions
// without ever having actually pivoted execution onto the relocated stack.
//
// This is not an architecture TODO like barrier_arm64.go's cache
// maintenance gap: without a real stack pivot, the continuation runs as an
// ordinary Go call on the original stack, so Sweep's unix.Munmap calls
// unmap the live, still-executing process's own heap, goroutine stacks,
// and runtime data instead of a relocated decoy (spec.md §1, §4.4-§4.5).
// Proceeding would crash or corrupt the calling process, so Relocate
// refuses outright until stackPivotImplemented reports true for the
// current architecture.
var ErrStackPivotUnimplemented = errors.New("mtcp/restore: no real stack pivot available on this architecture; refusing to sweep the live address space (see pivot_amd64.go/pivot_arm64.go)")

// maxSelfRegions bounds the number of mappings Relocate will collect for
// the restorer's own binary, matching spec.md §4.4 step 1 ("collecting at
// most 16 regions").
const maxSelfRegions = 16

// guardPageSize is the size of the unreadable guard page placed between
// the relocated binary and the new stack (spec.md §3 invariant (i)).
const guardPageSize = 4096

// selfRegion is one mapping belonging to the restorer's own binary,
// collected from /proc/self/maps before relocation.
type selfRegion struct {
	addr, size uintptr
	prot       area.Prot
	flags      area.Flags
	offset     uint64
}

// Continuation is the function the relocated copy of the restore routine
// calls next. Relocate's caller supplies it; in production this is the
// sweep/vDSO/region-restore pipeline (Run in pipeline.go).
//
// The original's step 9 transfers control by atomically subtracting
// stack_offset from SP (and FP) and branching into the relocated code,
// which never returns. Go provides no portable way to pivot the running
// goroutine onto a different stack; instead Relocate performs every
// *addressable* side effect of C4 (the new mappings, the guard page, the
// new stack, the byte-for-byte stack copy) for real. It then calls next
// directly as an ordinary Go call only when ri.Simulate is set (or
// stackPivotImplemented reports true); otherwise it returns
// ErrStackPivotUnimplemented without calling next. The address-space side effects an
// external inspector would observe (maps entries, copied bytes) match the
// spec; the one thing that cannot be reproduced in portable Go is the
// hardware register/SP surgery itself, which spec.md §9 already classifies
// as an architecture gate rather than something a reimplementation should
// synthesize.
type Continuation func(ri *Info) error

// Relocate implements spec.md §4.4. When ri.SkipMremap is set
// (DMTCP_DEBUG_MTCP_RESTART=1, spec.md §8 scenario 5), it skips straight to
// calling next with the original stack still in place.
func Relocate(ri *Info, selfName string, currentStackLocal uintptr, next Continuation) error {
	if ri.SkipMremap {
		return next(ri)
	}

	regions, stack, err := scanSelfAndStack(selfName, currentStackLocal)
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		return fmt.Errorf("no mappings found for restorer binary %q", selfName)
	}

	restoreOffset := ri.RestoreAddr - regions[0].addr

	total := uintptr(0)
	for _, r := range regions {
		total += r.size
	}
	total += guardPageSize + stack.size
	if total > ri.RestoreSize {
		return fmt.Errorf("restorer image + guard + stack (%d bytes) does not fit reserved range (%d bytes)", total, ri.RestoreSize)
	}

	exeFD, err := unix.Open("/proc/self/exe", unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("opening /proc/self/exe: %w", err)
	}
	defer unix.Close(exeFD)

	for _, r := range regions {
		newAddr := r.addr + restoreOffset
		mapped, err := mmapFixedNoReplace(newAddr, r.size, mmapProt(r.prot), unix.MAP_PRIVATE|unix.MAP_FIXED, exeFD, int64(r.offset))
		if err != nil {
			return fmt.Errorf("relocating region at %#x: %w", r.addr, err)
		}
		if mapped != newAddr {
			return fmt.Errorf("relocated region landed at %#x, wanted %#x", mapped, newAddr)
		}
		if r.prot.Writable() {
			// Capture loader-initialized state: copy the *live* bytes
			// from the original, not from the file backing.
			copy(unsafeSlice(newAddr, r.size), unsafeSlice(r.addr, r.size))
		}
	}

	lastRegion := regions[len(regions)-1]
	guardAddr := lastRegion.addr + restoreOffset + lastRegion.size
	if err := mmapGuard(guardAddr); err != nil {
		return fmt.Errorf("mapping guard page: %w", err)
	}

	newStackAddr := guardAddr + guardPageSize
	mappedStack, err := mmapFixedNoReplace(newStackAddr, stack.size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED, -1, 0)
	if err != nil {
		return fmt.Errorf("mapping new stack: %w", err)
	}
	if mappedStack != newStackAddr {
		return fmt.Errorf("new stack landed at %#x, wanted %#x", mappedStack, newStackAddr)
	}

	stackOffset := stack.addr - newStackAddr
	copy(unsafeSlice(newStackAddr, stack.size), unsafeSlice(stack.addr, stack.size))

	ri.OldStackAddr = stack.addr
	ri.NewStackAddr = newStackAddr
	ri.StackOffset = stackOffset
	ri.RelocatedEntry = 0 // left unset: Go has no portable "address of
	// this function, relocated" operation, unlike the C original's
	// `restore_addr + restore_offset` applied to its own PC.

	emitCodeBarrier()

	if !ri.Simulate && !stackPivotImplemented() {
		// Every addressable side effect above happened for real: the new
		// mappings, the guard page, the new stack, the byte-for-byte stack
		// copy. What did not happen, and cannot in portable Go, is the
		// actual SP/PC pivot onto them (see ErrStackPivotUnimplemented).
		// Simulate mode is exempt because its continuation returns before
		// ever reaching Sweep (pipeline.go), so there is nothing unsafe to
		// refuse there.
		return ErrStackPivotUnimplemented
	}

	return next(ri)
}

// scanSelfAndStack walks /proc/self/maps once, collecting every mapping
// whose name ends in selfName (spec.md §4.4 step 1) and locating the
// mapping containing currentStackLocal (a stack-allocated local's
// address, supplied by the caller since Go cannot take "the address of a
// local" from inside this function portably across inlining decisions).
func scanSelfAndStack(selfName string, currentStackLocal uintptr) ([]selfRegion, selfRegion, error) {
	fd, err := unix.Open("/proc/self/maps", unix.O_RDONLY, 0)
	if err != nil {
		return nil, selfRegion{}, fmt.Errorf("opening /proc/self/maps: %w", err)
	}
	defer unix.Close(fd)

	sc := area.NewScanner(fd)
	var regions []selfRegion
	var stack selfRegion
	foundStack := false

	var a area.Area
	for {
		ok, err := sc.Next(&a)
		if err != nil {
			return nil, selfRegion{}, err
		}
		if !ok {
			break
		}
		if a.HasNameSuffix(selfName) && len(regions) < maxSelfRegions {
			regions = append(regions, selfRegion{
				addr: a.Addr, size: a.Size(), prot: a.Prot, flags: a.Flags, offset: a.Offset,
			})
		}
		if !foundStack && a.Addr <= currentStackLocal && currentStackLocal < a.EndAddr {
			stack = selfRegion{addr: a.Addr, size: a.Size(), prot: a.Prot, flags: a.Flags}
			foundStack = true
		}
	}
	if !foundStack {
		return nil, selfRegion{}, fmt.Errorf("could not locate current stack mapping")
	}
	return regions, stack, nil
}

func mmapProt(p area.Prot) int {
	var prot int
	if p.Readable() {
		prot |= unix.PROT_READ
	}
	if p.Writable() {
		prot |= unix.PROT_WRITE
	}
	if p.Executable() {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func mmapGuard(addr uintptr) error {
	mapped, err := mmapFixedNoReplace(addr, guardPageSize, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED, -1, 0)
	if err != nil {
		return err
	}
	if mapped != addr {
		return fmt.Errorf("guard page landed at %#x, wanted %#x", mapped, addr)
	}
	return nil
}
