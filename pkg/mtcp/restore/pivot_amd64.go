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

//go:build amd64

package restore

// stackPivotImplemented reports whether this build can actually transfer
// execution onto the relocated stack (spec.md §4.4 step 9: subtract
// stack_offset from SP/FP and branch into the relocated code, never
// returning). Doing that from Go requires a small assembly stub that
// reloads SP from a relocated value and jumps into the relocated PC,
// bypassing the Go scheduler's own idea of where this goroutine's stack
// lives; that stub has not been written, so amd64 reports false here too,
// on equal footing with the documented arm64 gap in barrier_arm64.go.
//
// TODO: once a TEXT stub does the SP/PC pivot for real, flip this to true
// and let Relocate's continuation run against the relocated address space
// instead of the live one.
func stackPivotImplemented() bool { return false }
