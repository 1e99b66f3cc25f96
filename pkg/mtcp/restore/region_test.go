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

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
)

// TestRestoreOneRegionZeroPageChildHeaderIsNoOp exercises spec.md §4.7
// step 4's ZERO_PAGE_CHILD_HEADER dispatch: the mmap step is skipped
// entirely because the ancestor mapping is shared, so this never touches
// real memory and is safe to run against an arbitrary address.
func TestRestoreOneRegionZeroPageChildHeaderIsNoOp(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	var a area.Area
	a.Addr, a.EndAddr = 0xdeadbeef000, 0xdeadbeef000+0x1000
	a.Properties = area.ZeroPageChildHeader

	if err := restoreOneRegion(ri, nil, &a); err != nil {
		t.Fatalf("restoreOneRegion(ZeroPageChildHeader) = %v, want nil", err)
	}
}

// TestRestoreOneRegionZeroPageSkipsMprotectWhenWritable exercises the
// ZERO_PAGE branch's "only re-apply write-protection if the original
// protection lacked write" rule: a writable original protection means no
// mprotect call happens, so this too is safe without a real mapping.
func TestRestoreOneRegionZeroPageSkipsMprotectWhenWritable(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	var a area.Area
	a.Addr, a.EndAddr = 0xdeadbeef000, 0xdeadbeef000+0x1000
	a.Prot = area.ProtRead | area.ProtWrite
	a.Properties = area.ZeroPage

	if err := restoreOneRegion(ri, nil, &a); err != nil {
		t.Fatalf("restoreOneRegion(ZeroPage, writable) = %v, want nil", err)
	}
}

// TestRestoreOneRegionTagsStackGrowsDown exercises spec.md §4.7 step 2:
// a bracketed "[stack]" name (not a pathname) gets FlagGrowsDown set. Using
// ZeroPageChildHeader keeps the call free of real mmap/mprotect syscalls so
// only the pre-dispatch mutation of a is under test.
func TestRestoreOneRegionTagsStackGrowsDown(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	var a area.Area
	a.Addr, a.EndAddr = 0x7ffff0000, 0x7ffff0000+0x1000
	a.SetName(area.NameStack)
	a.Properties = area.ZeroPageChildHeader

	if err := restoreOneRegion(ri, nil, &a); err != nil {
		t.Fatalf("restoreOneRegion: %v", err)
	}
	if !a.Flags.GrowsDown() {
		t.Errorf("expected FlagGrowsDown to be set for a [stack] area")
	}
}

// TestRestoreOneRegionTagsEndOfStackGrowsDown covers the other half of the
// same rule: an area whose end matches the checkpoint-time end-of-stack is
// tagged grows-down even without a "stack" name (e.g. a split VMA).
func TestRestoreOneRegionTagsEndOfStackGrowsDown(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	ri.EndOfStack = 0x7ffff1000

	var a area.Area
	a.Addr, a.EndAddr = 0x7ffff0000, 0x7ffff1000
	a.Properties = area.ZeroPageChildHeader

	if err := restoreOneRegion(ri, nil, &a); err != nil {
		t.Fatalf("restoreOneRegion: %v", err)
	}
	if !a.Flags.GrowsDown() {
		t.Errorf("expected FlagGrowsDown to be set when EndAddr == EndOfStack")
	}
}

// TestRestoreOneRegionRewritesSharedToPrivate covers spec.md §4.7 step 3.
func TestRestoreOneRegionRewritesSharedToPrivate(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	var a area.Area
	a.Addr, a.EndAddr = 0x900000, 0x901000
	a.SetName("/tmp/shmfile")
	a.Flags = area.FlagShared
	a.Properties = area.ZeroPageChildHeader

	if err := restoreOneRegion(ri, nil, &a); err != nil {
		t.Fatalf("restoreOneRegion: %v", err)
	}
	if a.Flags.Shared() {
		t.Errorf("expected shared flag to be cleared")
	}
	if a.Flags&area.FlagPrivate == 0 || !a.Flags.Anonymous() {
		t.Errorf("expected private|anonymous, got %v", a.Flags)
	}
}
