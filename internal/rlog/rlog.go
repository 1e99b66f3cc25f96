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

// Package rlog is the pre-relocation diagnostic logger. It exists only
// for the window before pkg/mtcp/restore.Relocate runs: once self-
// relocation begins, every diagnostic goes through
// pkg/mtcp/sysraw.Printf instead, because this package's backing
// *logrus.Logger (and the runtime machinery it depends on) does not
// survive the address-space sweep (spec.md §4.1, §7).
package rlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetStderrFD redirects diagnostics to an arbitrary already-open file
// descriptor, implementing the --stderr-fd flag of spec.md §6.
func SetStderrFD(fd int) {
	std.SetOutput(os.NewFile(uintptr(fd), "stderr-fd"))
}

// SetDebug toggles debug-level output, used when
// DMTCP_DEBUG_MTCP_RESTART is set (spec.md §6).
func SetDebug(debug bool) {
	if debug {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// Infof logs at info level.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Warningf logs at warning level, matching spec.md §7.4 best-effort
// cleanups encountered before self-relocation.
func Warningf(format string, args ...any) { std.Warningf(format, args...) }

// Fatalf logs at error level and terminates the process, matching
// spec.md §7's "the restorer does not return errors; it either proceeds
// or calls the process-abort syscall" for the ambient CLI layer (the core
// restore packages never call this; only restorer/cmd does, on behalf of
// an external caller that has no address space left to unwind to).
func Fatalf(format string, args ...any) {
	std.Errorf(format, args...)
	os.Exit(1)
}
