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
	"os"

	"golang.org/x/sys/unix"

	"github.com/talismancer/mtcp-restore/internal/rlog"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/sysraw"
)

// Pause levels implementing SPEC_FULL.md §C.2: DMTCP_RESTART_PAUSE / the
// --mtcp-restart-pause flag gate five cumulative checkpoints along the
// dataflow of spec.md §2. A configured level N pauses (SIGSTOPs the
// process, so an attached debugger or operator can SIGCONT it) at every
// point whose level is <= N, mirroring the original's cumulative pause
// levels rather than a single exact-match breakpoint.
const (
	PauseBeforeRelocate = 1
	PauseBeforeSweep    = 2
	PauseBeforeVDSO     = 3
	PauseBeforeRegions  = 4
	PauseBeforeJump     = 5
)

// PauseEarly checks the one pause point reachable before self-relocation,
// while rlog's ordinary logrus-backed output is still usable.
func PauseEarly(ri *Info) {
	pauseAt(ri, PauseBeforeRelocate, "before self-relocation", true)
}

// PauseLate checks a pause point reached after self-relocation, where only
// the freestanding sysraw.Printf is safe to call.
func PauseLate(ri *Info, level int, label string) {
	pauseAt(ri, level, label, false)
}

func pauseAt(ri *Info, level int, label string, early bool) {
	if ri.RestartPause < level {
		return
	}
	pid := os.Getpid()
	if early {
		rlog.Infof("restart pause %d: %s (pid %d; SIGCONT to continue)", level, label, pid)
	} else {
		sysraw.Printf("restart pause %d: %s (pid %d)\n", level, label, pid)
	}
	unix.Kill(pid, unix.SIGSTOP)
}
