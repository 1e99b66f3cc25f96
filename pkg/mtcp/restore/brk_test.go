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

import "testing"

// TestRestoreBreakEarlyRejectsBracketedReserveRange covers spec.md §4.8's
// fatal condition: the current break is above the reserved restore range
// and the saved break is below it, so the reserved range would be
// bracketed and corrupted by a brk() call. RestoreAddr is pinned at 1 so
// the real (positive) current break is guaranteed to be above it without
// this test ever issuing a mutating brk(2) call itself.
func TestRestoreBreakEarlyRejectsBracketedReserveRange(t *testing.T) {
	ri := newTestInfo(1, 0x1000)
	ri.SavedBrk = 0

	if err := RestoreBreakEarly(ri); err == nil {
		t.Fatalf("expected the bracketed-reserve-range condition to be fatal")
	}
}
