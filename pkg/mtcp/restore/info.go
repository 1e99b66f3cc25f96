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

// Package restore implements the address-space bootstrap of spec.md §4:
// self-relocation (C4), the address-space sweeper (C5), vDSO/vvar
// reconciliation (C6), and region restoration (C7), plus program-break
// timing (§4.8). Everything in this package after Relocate runs is
// expected to touch only the stack, registers, the image file descriptor,
// and syscalls — see pkg/mtcp/sysraw for the primitives it is built on.
package restore

import (
	"github.com/talismancer/mtcp-restore/pkg/mtcp/image"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/plugin"
)

// Info is the process-wide restoration state, initialized once from the
// image header and mutated by each later phase. It must be reachable at a
// single, fixed address because the stack switch in Relocate abandons
// every local frame that existed before it (spec.md §3, §9): any argument
// to the post-relocation code must live somewhere both the old and new
// stack can see.
//
// Go cannot place a value at a caller-chosen fixed virtual address the way
// the original static global is placed in the restorer's data segment;
// instead this package keeps exactly one instance reachable through the
// package-level Global, which is never reassigned, only mutated through
// its pointer — the same "one mutable global, accessed by a stable
// address" contract spec.md §9 requires, expressed the way Go idiomatically
// enforces single-owner mutable state.
type Info struct {
	image.Header

	// CurrentVDSOStart/End, CurrentVVarStart/End are the bounds discovered
	// by the maps scanner during sweeping (C5), distinct from the
	// checkpoint-time Header.VDSOStart/End this struct embeds.
	CurrentVDSOStart uintptr
	CurrentVDSOEnd   uintptr
	CurrentVVarStart uintptr
	CurrentVVarEnd   uintptr

	// ImageFD is the descriptor RestoreRegions streams area+payload
	// records from.
	ImageFD int

	// OldStackAddr/NewStackAddr/StackOffset are populated by Relocate
	// (C4 step 7): the stack pivot distance used once execution is
	// running on the copied stack.
	OldStackAddr uintptr
	NewStackAddr uintptr
	StackOffset  uintptr

	// RelocatedEntry is the slot for the address of the restore routine's
	// relocated copy (C4 step 7). Relocate sets it to 0 and no other code
	// fills it in.
	RelocatedEntry uintptr

	// RestoreEnd is RestoreAddr+RestoreSize, cached for overlap checks.
	RestoreEnd uintptr

	// SkipMremap mirrors DMTCP_DEBUG_MTCP_RESTART=1 (spec.md §6, §8
	// scenario 5): self-relocation is skipped entirely and every later
	// phase runs on the original stack.
	SkipMremap bool

	// RestartPause is the --mtcp-restart-pause / DMTCP_RESTART_PAUSE
	// level, 0 meaning "don't pause" (SPEC_FULL.md §C.2).
	RestartPause int

	// UseGDB mirrors --use-gdb (spec.md §6): emit attach hints and, on
	// x86, a software breakpoint from the restore routine.
	UseGDB bool

	// Simulate mirrors --simulate: parse and print only, never mutate the
	// address space (spec.md §6, §8 Idempotence).
	Simulate bool

	Hooks plugin.Hooks
}

// Global is the single RestoreInfo instance every phase operates on, the
// Go-idiomatic stand-in for the original's fixed-address static global
// (see Info's doc comment). Never reassigned wholesale after New; only
// mutated through its fields.
var Global = &Info{}

// New resets Global from a freshly parsed header and returns it, ready for
// RestoreBreakEarly/Relocate to begin operating on.
func New(h *image.Header, fd int, hooks plugin.Hooks) *Info {
	if hooks == nil {
		hooks = plugin.None{}
	}
	*Global = Info{
		Header:  *h,
		ImageFD: fd,
		Hooks:   hooks,
	}
	Global.RestoreEnd = h.RestoreAddr + h.RestoreSize
	return Global
}

// Overlaps reports whether [addr, addr+size) intersects the reserved
// restore range.
func (ri *Info) Overlaps(addr, size uintptr) bool {
	if size == 0 {
		return false
	}
	end := addr + size
	return addr < ri.RestoreEnd && ri.RestoreAddr < end
}
