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

// Package sysraw provides the freestanding primitives of spec.md §4.1:
// routines safe to call after the restorer has unmapped its own standard
// library and data segment. None of them may allocate, and none keep state
// across calls except the package-level LastErrno, which stands in for the
// original DMTCP implementation's static `mtcp_sys_errno` (SPEC_FULL.md
// §C.3) — safe only because spec.md §5 guarantees a single goroutine is
// alive in this code from self-relocation onward.
package sysraw

import (
	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// LastErrno holds the errno of the most recent failed read or write issued
// by ReadAll or WriteAll (and so by ReadFile's reads). ReadFile's open and
// Printf's write do not set it. Callers read it immediately after a call
// that reported failure; it is not goroutine-safe, by design (see package
// doc).
var LastErrno unix.Errno

// MaxIORetries bounds the EINTR/EAGAIN retry loop of ReadAll/WriteAll, per
// spec.md §5 and §7.5: "Interrupted read/write retries internally up to
// ten times; further failure is fatal."
const MaxIORetries = 10

// Memcpy copies min(len(dst), len(src)) bytes from src to dst and returns
// the number of bytes copied. Pure byte-wise copy, no allocation.
func Memcpy(dst, src []byte) int {
	return copy(dst, src)
}

// Memset fills buf with b.
func Memset(buf []byte, b byte) {
	for i := range buf {
		buf[i] = b
	}
}

// Strlen returns the length of the NUL-terminated string starting at s,
// not counting the terminator. s must be at least as long as the string it
// holds plus one byte.
func Strlen(s []byte) int {
	for i, c := range s {
		if c == 0 {
			return i
		}
	}
	return len(s)
}

// StrEqual reports whether the NUL-terminated strings in a and b are equal.
func StrEqual(a, b []byte) bool {
	la, lb := Strlen(a), Strlen(b)
	if la != lb {
		return false
	}
	for i := 0; i < la; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// StrStartsWith reports whether s (NUL-terminated) begins with prefix.
func StrStartsWith(s []byte, prefix string) bool {
	ls := Strlen(s)
	if len(prefix) > ls {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// StrEndsWith reports whether s (NUL-terminated) ends with suffix.
func StrEndsWith(s []byte, suffix string) bool {
	ls := Strlen(s)
	if len(suffix) > ls {
		return false
	}
	off := ls - len(suffix)
	for i := 0; i < len(suffix); i++ {
		if s[off+i] != suffix[i] {
			return false
		}
	}
	return true
}

// StrIndex returns the index of the first occurrence of sub in the
// NUL-terminated string s, or -1 if not present.
func StrIndex(s []byte, sub string) int {
	ls := Strlen(s)
	if len(sub) == 0 {
		return 0
	}
	for i := 0; i+len(sub) <= ls; i++ {
		match := true
		for j := 0; j < len(sub); j++ {
			if s[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ParseDec parses an unsigned decimal integer from s, stopping at the
// first non-digit. Returns the value and the number of bytes consumed.
func ParseDec(s []byte) (uint64, int) {
	var v uint64
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v = v*10 + uint64(s[i]-'0')
		i++
	}
	return v, i
}

// ParseHex parses an unsigned hexadecimal integer from s (no "0x" prefix),
// stopping at the first non-hex-digit. Returns the value and bytes consumed.
func ParseHex(s []byte) (uint64, int) {
	var v uint64
	i := 0
	for i < len(s) {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return v, i
		}
		v = v<<4 | d
		i++
	}
	return v, i
}

// Getenv walks an explicitly supplied environment array (envp, in the
// "KEY=VALUE" shape the kernel hands a fresh process) looking for key. The
// restorer cannot rely on the language runtime's environment facility once
// its own segments are unmapped, so the caller captures envp before
// self-relocation and passes it in explicitly (spec.md §4.1).
func Getenv(envp []string, key string) (string, bool) {
	for _, kv := range envp {
		if len(kv) <= len(key) || kv[len(key)] != '=' {
			continue
		}
		if kv[:len(key)] == key {
			return kv[len(key)+1:], true
		}
	}
	return "", false
}

// retryable reports whether errno should be retried by ReadAll/WriteAll.
func retryable(errno unix.Errno) bool {
	return errno == unix.EINTR || errno == unix.EAGAIN
}

// withRetry bounds a syscall loop to MaxIORetries retries after the first
// attempt on EINTR/EAGAIN, using backoff's retry primitive with no
// inter-attempt delay: the spec
// requires bounding the *count* of retries (§5, §7.5), not pacing them, so
// a zero-interval backoff.ConstantBackOff plus backoff.WithMaxRetries gives
// the exact "retry up to ten times" policy without a hand-rolled counter.
func withRetry(op func() (int, error)) (int, error) {
	var n int
	var opErr error
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), MaxIORetries)
	err := backoff.Retry(func() error {
		var errnoRetry error
		n, opErr = op()
		if opErr == nil {
			return nil
		}
		errno, ok := opErr.(unix.Errno)
		if ok {
			LastErrno = errno
		}
		if !ok || !retryable(errno) {
			// Non-retryable: stop immediately via backoff.Permanent.
			return backoff.Permanent(opErr)
		}
		errnoRetry = opErr
		return errnoRetry
	}, b)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return n, perm.Err
		}
		return n, err
	}
	return n, nil
}

// ReadAll reads exactly len(buf) bytes from fd, retrying interrupted or
// would-block reads up to MaxIORetries times (spec.md §4.1, §7.5). Short
// reads are continued until buf is full. A read error other than
// EINTR/EAGAIN is returned as is; hitting EOF before buf is full is a
// distinct terminal result that callers detect with IsUnexpectedEOF.
func ReadAll(fd int, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := withRetry(func() (int, error) {
			nn, e := unix.Read(fd, buf[total:])
			if e != nil {
				return 0, e
			}
			return nn, nil
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return errUnexpectedEOF
		}
		total += n
	}
	return nil
}

// errUnexpectedEOF is returned by ReadAll when the descriptor reaches EOF
// before the requested number of bytes has been read.
var errUnexpectedEOF = unexpectedEOFError{}

type unexpectedEOFError struct{}

func (unexpectedEOFError) Error() string { return "unexpected EOF reading image" }

// IsUnexpectedEOF reports whether err is the terminal short-read condition
// ReadAll reports when the descriptor is exhausted early.
func IsUnexpectedEOF(err error) bool {
	_, ok := err.(unexpectedEOFError)
	return ok
}

// WriteAll writes exactly len(buf) bytes to fd, retrying interrupted or
// would-block writes up to MaxIORetries times (spec.md §4.1, §7.5).
func WriteAll(fd int, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := withRetry(func() (int, error) {
			nn, e := unix.Write(fd, buf[total:])
			if e != nil {
				return 0, e
			}
			return nn, nil
		})
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// ReadFile reads the entire contents of the file at path into a buffer of
// exactly size bytes. A short read is an error; a file shorter than size is
// reported distinctly via IsUnexpectedEOF so callers can tell "file
// partially unreadable" apart from "syscall failed" (spec.md §4.1).
func ReadFile(path string, size int) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	buf := make([]byte, size)
	if err := ReadAll(fd, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Printf writes a formatted diagnostic directly to fd 2 (stderr) via write,
// with no buffering and no allocation-bearing fmt.Sprintf call. Supported
// verbs: %c %d %o %p %s %u %x %X, per spec.md §4.1.
func Printf(format string, args ...any) {
	var buf [512]byte
	n := formatInto(buf[:0], format, args...)
	unix.Write(2, buf[:n])
}

func formatInto(buf []byte, format string, args ...any) int {
	argi := 0
	nextArg := func() any {
		if argi < len(args) {
			a := args[argi]
			argi++
			return a
		}
		return nil
	}
	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			buf = append(buf, c)
			i++
			continue
		}
		verb := format[i+1]
		i += 2
		switch verb {
		case 'c':
			switch a := nextArg().(type) {
			case byte:
				buf = append(buf, a)
			case rune:
				buf = append(buf, byte(a))
			}
		case 's':
			if s, ok := nextArg().(string); ok {
				buf = append(buf, s...)
			}
		case 'd':
			buf = appendDec(buf, toInt64(nextArg()), true)
		case 'u':
			buf = appendDec(buf, toInt64(nextArg()), false)
		case 'x':
			buf = appendHex(buf, toUint64(nextArg()), false)
		case 'X':
			buf = appendHex(buf, toUint64(nextArg()), true)
		case 'o':
			buf = appendOct(buf, toUint64(nextArg()))
		case 'p':
			buf = append(buf, "0x"...)
			buf = appendHex(buf, toUint64(nextArg()), false)
		case '%':
			buf = append(buf, '%')
		default:
			buf = append(buf, '%', verb)
		}
	}
	return len(buf)
}

func toInt64(a any) int64 {
	switch v := a.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uintptr:
		return int64(v)
	case uint64:
		return int64(v)
	}
	return 0
}

func toUint64(a any) uint64 {
	switch v := a.(type) {
	case int:
		return uint64(v)
	case int32:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case uintptr:
		return uint64(v)
	}
	return 0
}

func appendDec(buf []byte, v int64, signed bool) []byte {
	if signed && v < 0 {
		buf = append(buf, '-')
		v = -v
	}
	return appendUintDec(buf, uint64(v))
}

func appendUintDec(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [20]byte
	n := len(tmp)
	for v > 0 {
		n--
		tmp[n] = byte('0' + v%10)
		v /= 10
	}
	return append(buf, tmp[n:]...)
}

func appendHex(buf []byte, v uint64, upper bool) []byte {
	const lower = "0123456789abcdef"
	const up = "0123456789ABCDEF"
	digits := lower
	if upper {
		digits = up
	}
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [16]byte
	n := len(tmp)
	for v > 0 {
		n--
		tmp[n] = digits[v%16]
		v /= 16
	}
	return append(buf, tmp[n:]...)
}

func appendOct(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	var tmp [22]byte
	n := len(tmp)
	for v > 0 {
		n--
		tmp[n] = byte('0' + v%8)
		v /= 8
	}
	return append(buf, tmp[n:]...)
}
