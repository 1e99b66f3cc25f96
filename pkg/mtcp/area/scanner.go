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

package area

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Scanner reads /proc/self/maps one line at a time from the current file
// position, without buffering across calls (spec.md §4.2). Callers that
// mutate the address space between calls must Rewind, because the kernel's
// listing contents and length may change arbitrarily under them.
type Scanner struct {
	fd int
}

// NewScanner wraps an already-open /proc/self/maps file descriptor.
func NewScanner(fd int) *Scanner {
	return &Scanner{fd: fd}
}

// Rewind seeks the underlying descriptor back to offset 0. Required after
// every mutation to the address space performed while iterating (spec.md
// §4.2, §4.5).
func (s *Scanner) Rewind() error {
	_, err := unix.Seek(s.fd, 0, 0)
	return err
}

// Next parses one line into area. It returns (true, nil) on success,
// (false, nil) at EOF, and a non-nil error on a malformed line — per
// spec.md §4.2, the kernel format is contractual, so any deviation is
// fatal to the caller, not recoverable here.
func (s *Scanner) Next(out *Area) (bool, error) {
	line, ok, err := s.readLine()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := parseLine(line, out); err != nil {
		return false, fmt.Errorf("malformed /proc/self/maps line %q: %w", line, err)
	}
	return true, nil
}

// readLine reads one '\n'-terminated line byte-by-byte, as spec.md §4.2
// requires ("must not buffer across calls"). Returns ok=false at EOF with
// no bytes read.
func (s *Scanner) readLine() (string, bool, error) {
	var buf [4096]byte
	n := 0
	for n < len(buf) {
		var b [1]byte
		rn, err := unix.Read(s.fd, b[:])
		if err != nil {
			return "", false, err
		}
		if rn == 0 {
			if n == 0 {
				return "", false, nil
			}
			break
		}
		if b[0] == '\n' {
			break
		}
		buf[n] = b[0]
		n++
	}
	return string(buf[:n]), true, nil
}

// parseLine parses one maps line of the form:
//
//	<hex_start>-<hex_end> rwxp <hex_offset> <hex_maj>:<hex_min> <dec_inode>[ +<name>]
func parseLine(line string, out *Area) error {
	*out = Area{}

	rest := line
	addr, rest, err := parseHexUntil(rest, '-')
	if err != nil {
		return err
	}
	end, rest, err := parseHexUntil(rest, ' ')
	if err != nil {
		return err
	}
	if len(rest) < 4 {
		return fmt.Errorf("truncated permission field")
	}
	perm, rest := rest[:4], rest[4:]
	rest, err = expectSpace(rest)
	if err != nil {
		return err
	}
	off, rest, err := parseHexUntil(rest, ' ')
	if err != nil {
		return err
	}
	major, rest, err := parseHexUntil(rest, ':')
	if err != nil {
		return err
	}
	minor, rest, err := parseHexUntil(rest, ' ')
	if err != nil {
		return err
	}
	inode, rest, err := parseDecUntilSpaceOrEnd(rest)
	if err != nil {
		return err
	}

	out.Addr = uintptr(addr)
	out.EndAddr = uintptr(end)
	out.Prot = permToProt(perm)
	out.Flags = permToFlags(perm)
	out.Offset = off
	out.DevMajor = uint32(major)
	out.DevMinor = uint32(minor)
	out.Inode = inode

	name := trimLeadingSpaces(rest)
	out.SetName(name)
	if name == "" {
		out.Flags |= FlagAnonymous
	}
	return nil
}

func permToProt(perm string) Prot {
	var p Prot
	if perm[0] == 'r' {
		p |= ProtRead
	}
	if perm[1] == 'w' {
		p |= ProtWrite
	}
	if perm[2] == 'x' {
		p |= ProtExec
	}
	return p
}

func permToFlags(perm string) Flags {
	if perm[3] == 's' {
		return FlagShared
	}
	return FlagPrivate
}

func trimLeadingSpaces(s string) string {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	return s[i:]
}

func expectSpace(s string) (string, error) {
	if len(s) == 0 || s[0] != ' ' {
		return "", fmt.Errorf("expected space")
	}
	return s[1:], nil
}

func parseHexUntil(s string, sep byte) (uint64, string, error) {
	i := 0
	for i < len(s) && s[i] != sep {
		i++
	}
	if i == len(s) {
		return 0, "", fmt.Errorf("missing separator %q", sep)
	}
	v, err := parseHex(s[:i])
	if err != nil {
		return 0, "", err
	}
	return v, s[i+1:], nil
}

func parseDecUntilSpaceOrEnd(s string) (uint64, string, error) {
	i := 0
	for i < len(s) && s[i] != ' ' {
		i++
	}
	v, err := parseDec(s[:i])
	if err != nil {
		return 0, "", err
	}
	if i == len(s) {
		return v, "", nil
	}
	return v, s[i:], nil
}

func parseHex(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty hex field")
	}
	var v uint64
	for _, c := range []byte(s) {
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
		v = v<<4 | d
	}
	return v, nil
}

func parseDec(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty decimal field")
	}
	var v uint64
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid decimal digit %q", c)
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}
