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

// stackPivotImplemented mirrors pivot_amd64.go: no assembly stub exists on
// this architecture either, so the honest answer is the same false, for
// the same reason given there (and compounded by barrier_arm64.go's
// separate, still-open cache-maintenance gap).
func stackPivotImplemented() bool { return false }
