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

// Package cmd implements the restorer's one subcommand, following the
// teacher's runsc/cmd/checkpoint.go and runsc/cmd/state.go shape: a
// subcommands.Command whose Execute does the real work and calls Fatalf
// on unrecoverable setup errors.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/subcommands"
	"github.com/mohae/deepcopy"
	"golang.org/x/sys/unix"

	"github.com/talismancer/mtcp-restore/internal/rlog"
	mtcparea "github.com/talismancer/mtcp-restore/pkg/mtcp/area"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/image"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/plugin"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/restore"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/sysraw"
	"github.com/talismancer/mtcp-restore/restorer/config"
)

// Restart implements subcommands.Command for the "restart" command: the
// entire CLI surface of spec.md §6.
type Restart struct {
	fd             int
	stderrFD       int
	restartPause   string
	simulate       bool
	useGDB         bool
	mpi            bool
	configPath     string

	cfg *config.Config
}

// Name implements subcommands.Command.
func (*Restart) Name() string { return "restart" }

// Synopsis implements subcommands.Command.
func (*Restart) Synopsis() string {
	return "restore a process's address space from a checkpoint image"
}

// Usage implements subcommands.Command.
func (*Restart) Usage() string {
	return `restart [flags] <image-path> - restore a checkpointed process
restart --fd N [flags]         - restore from an already-open descriptor
restart --mpi [flags] <image-path> [image-path...] - restore under MPI coordination
`
}

// SetFlags implements subcommands.Command.
func (r *Restart) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.fd, "fd", -1, "read the image from an already-open file descriptor")
	f.IntVar(&r.stderrFD, "stderr-fd", -1, "redirect diagnostics to this file descriptor")
	f.StringVar(&r.restartPause, "mtcp-restart-pause", "", "single digit 0-9 controlling pause level")
	f.BoolVar(&r.simulate, "simulate", false, "parse and print the image layout only; do not restore")
	f.BoolVar(&r.useGDB, "use-gdb", false, "emit attach hints; issue a software breakpoint on x86")
	f.BoolVar(&r.mpi, "mpi", false, "subsequent positional arguments are a list of images for the plugin hook")
	f.StringVar(&r.configPath, "config", "", "optional TOML file of restart defaults")
}

// Execute implements subcommands.Command.
func (r *Restart) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if r.stderrFD >= 0 {
		rlog.SetStderrFD(r.stderrFD)
	}

	cfg, err := config.Load(r.configPath)
	if err != nil {
		rlog.Fatalf("loading config %q: %v", r.configPath, err)
	}
	r.cfg = cfg

	usingFD := r.fd >= 0
	hasPositional := f.NArg() >= 1
	if !r.mpi {
		if usingFD == hasPositional {
			rlog.Fatalf("exactly one of --fd or a positional image path must be given")
		}
	} else if !usingFD && !hasPositional {
		rlog.Fatalf("--mpi requires at least one positional image path")
	}

	pauseLevel := r.resolvePauseLevel()
	skipRelocation := r.resolveSkipRelocation()

	var extraImages []string
	if r.mpi && f.NArg() > 0 {
		extraImages = f.Args()
	}

	var rd *image.Reader
	var hdr *image.Header
	if usingFD {
		rd, hdr, err = image.OpenFD(r.fd)
	} else {
		rd, hdr, err = image.Open(f.Arg(0))
	}
	if err != nil {
		rlog.Fatalf("opening checkpoint image: %v", err)
		return subcommands.ExitFailure
	}
	if !hdr.HasValidSignature() {
		rlog.Warningf("checkpoint image signature mismatch")
		return subcommands.ExitFailure
	}

	ri := restore.New(hdr, rd.FD(), plugin.None{})
	ri.SkipMremap = skipRelocation
	ri.RestartPause = pauseLevel
	ri.UseGDB = r.useGDB
	ri.Simulate = r.simulate

	if err := ri.Hooks.Hook(ri, extraImages); err != nil {
		rlog.Fatalf("plugin hook: %v", err)
	}

	if r.simulate {
		r.runSimulate(rd, hdr)
		return subcommands.ExitSuccess
	}

	readStart := time.Now()
	selfName := selfBinaryName()
	readTimeUsec := time.Since(readStart).Microseconds()

	post := func(readTimeUsec int64, pause int) error {
		daemon.SdNotify(false, daemon.SdNotifyReady)
		sysraw.Printf("restoration complete, jumping to continuation\n")
		return nil
	}

	if err := restore.Run(ri, rd, selfName, post, readTimeUsec); err != nil {
		rlog.Fatalf("restore failed: %v", err)
		abort()
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

// runSimulate implements --simulate (spec.md §6, §8 Idempotence): parse and
// print only. The parsed area list is deep-copied before printing so the
// listing can never alias, and therefore never mutate, the scanner's
// backing state — the idempotence property enforced structurally rather
// than by convention.
func (r *Restart) runSimulate(rd *image.Reader, hdr *image.Header) {
	fmt.Printf("restore_addr=%#x restore_size=%#x saved_brk=%#x\n", hdr.RestoreAddr, hdr.RestoreSize, hdr.SavedBrk)
	fmt.Printf("vdso=[%#x,%#x) vvar=[%#x,%#x)\n", hdr.VDSOStart, hdr.VDSOEnd, hdr.VVarStart, hdr.VVarEnd)

	var areas []mtcparea.Area
	var a mtcparea.Area
	for {
		ok, err := rd.NextArea(&a)
		if err != nil {
			rlog.Fatalf("reading area record: %v", err)
		}
		if !ok {
			break
		}
		n := image.PayloadLen(&a)
		if err := rd.SkipPayload(n); err != nil {
			rlog.Fatalf("skipping payload: %v", err)
		}
		areas = append(areas, a)
	}

	snapshot := deepcopy.Copy(areas).([]mtcparea.Area)
	for _, sa := range snapshot {
		fmt.Printf("%#x-%#x %s\n", sa.Addr, sa.EndAddr, sa.NameString())
	}
}

func (r *Restart) resolvePauseLevel() int {
	if r.restartPause != "" {
		return int(r.restartPause[0] - '0')
	}
	if v, ok := os.LookupEnv("DMTCP_RESTART_PAUSE"); ok && len(v) > 0 {
		return int(v[0] - '0')
	}
	return r.cfg.DefaultPauseLevel
}

func (r *Restart) resolveSkipRelocation() bool {
	if v, ok := os.LookupEnv("DMTCP_DEBUG_MTCP_RESTART"); ok && v != "" && v != "0" {
		return true
	}
	return r.cfg.SkipRelocation
}

func selfBinaryName() string {
	exe, err := os.Executable()
	if err != nil {
		return "mtcp_restart"
	}
	return exe
}

// abort implements spec.md §7's "propagation policy": once sweeping has
// begun there is no stable address space to unwind to, so a fatal
// condition calls the process-abort syscall rather than returning an
// error up through normal control flow.
func abort() {
	unix.Kill(os.Getpid(), unix.SIGABRT)
}
