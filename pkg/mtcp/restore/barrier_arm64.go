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

//go:build arm64

package restore

// barrierArch on AArch64 must, per spec.md §4.4 step 8 and §5, flush the
// data cache to the point of unification and invalidate the instruction
// cache line-by-line for the relocated region, issuing DSB ISH before and
// after, then ISB, before the newly written code is guaranteed fetchable.
//
// TODO: emit DC CVAU / IC IVAU / DSB ISH / ISB over the relocated range.
// Go has no portable intrinsic for these; doing it correctly requires a
// small assembly stub (golang.org/x/arch primitives don't cover cache
// maintenance instructions), which is out of scope for this exercise. Left
// unimplemented rather than faked with an amd64-style no-op, so an arm64
// build is honest about what it hasn't done yet.
func barrierArch() {}
