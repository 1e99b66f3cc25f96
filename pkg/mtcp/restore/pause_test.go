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

// TestPauseBelowThresholdDoesNotStop exercises the only branch of pauseAt
// that is safe to hit from a test binary: RestartPause below the
// requested level must return without signaling the process at all. The
// triggering branch (unix.Kill(pid, SIGSTOP)) is exercised manually under
// a debugger per spec.md §6's --use-gdb / DMTCP_RESTART_PAUSE workflow,
// not here.
func TestPauseBelowThresholdDoesNotStop(t *testing.T) {
	ri := newTestInfo(0x500000, 0x1000)
	ri.RestartPause = 0

	for level := PauseBeforeRelocate; level <= PauseBeforeJump; level++ {
		pauseAt(ri, level, "test checkpoint", true)
		pauseAt(ri, level, "test checkpoint", false)
	}
}

func TestPauseLevelsAreOrdered(t *testing.T) {
	if !(PauseBeforeRelocate < PauseBeforeSweep &&
		PauseBeforeSweep < PauseBeforeVDSO &&
		PauseBeforeVDSO < PauseBeforeRegions &&
		PauseBeforeRegions < PauseBeforeJump) {
		t.Fatalf("pause levels must be strictly increasing in dataflow order")
	}
}
