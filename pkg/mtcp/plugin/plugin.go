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

// Package plugin defines the small callback seam spec.md §6 grants to
// external collaborators (e.g. an MPI coordination layer) without the
// restorer core depending on them.
package plugin

import "github.com/talismancer/mtcp-restore/pkg/mtcp/area"

// Hooks is consulted at the two points spec.md §6 names. A nil Hooks is
// equivalent to a Hooks whose methods are no-ops / always return false.
type Hooks interface {
	// Hook is called once after the header is parsed and before
	// self-relocation begins, giving a plugin the opportunity to modify
	// RestoreInfo-visible state (represented here as the opaque rinfo) or
	// pre-configure the address space. extraImages carries any trailing
	// positional arguments collected under --mpi (spec.md §9 Open
	// Questions: "the plugin is expected to consume the remaining
	// argument list; no internal semantics are observable to the core").
	Hook(rinfo any, extraImages []string) error

	// SkipRegion is consulted for each map entry during sweeping (C5). A
	// true return preserves the region instead of unmapping it.
	SkipRegion(a *area.Area, rinfo any) bool
}

// None is the zero-value Hooks: Hook is a no-op, SkipRegion always false.
type None struct{}

// Hook implements Hooks.
func (None) Hook(any, []string) error { return nil }

// SkipRegion implements Hooks.
func (None) SkipRegion(*area.Area, any) bool { return false }
