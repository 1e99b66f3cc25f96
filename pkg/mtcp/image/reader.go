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

package image

import (
	"fmt"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
	"github.com/talismancer/mtcp-restore/pkg/mtcp/sysraw"
)

// Reader streams a checkpoint image: header, then alternating Area+payload
// records, ending at a terminator Area (spec.md §4.3, §6).
type Reader struct {
	fd   int
	lock *flock.Flock // advisory lock on the underlying path, nil for --fd mode
}

// Open locates and opens a checkpoint image by path, searching for the
// magic header at HeaderSize-byte strides starting at offset 0 (spec.md
// §4.3: "the checkpoint may be preceded by an outer format's header whose
// size is a multiple of the MTCP header size; searching at that stride
// suffices"). The file is advisory-locked for the duration of the read
// (SPEC_FULL.md §B) so a concurrent checkpoint-writer cannot mutate it
// mid-stream.
func Open(path string) (*Reader, *Header, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening image %q: %w", path, err)
	}

	fl := flock.New(path)
	if ok, err := fl.TryRLock(); err != nil || !ok {
		unix.Close(fd)
		if err == nil {
			err = fmt.Errorf("image %q is locked by another process", path)
		}
		return nil, nil, err
	}

	r := &Reader{fd: fd, lock: fl}
	h, err := r.findHeader()
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return r, h, nil
}

// OpenFD wraps an already-open checkpoint image file descriptor (the --fd
// CLI mode of spec.md §6). No advisory lock is taken: the caller owns fd's
// lifecycle and may not have a stable path to lock.
func OpenFD(fd int) (*Reader, *Header, error) {
	r := &Reader{fd: fd}
	h, err := r.findHeader()
	if err != nil {
		return nil, nil, err
	}
	return r, h, nil
}

// findHeader implements the search of spec.md §4.3 / §8 scenario 1.
func (r *Reader) findHeader() (*Header, error) {
	buf := make([]byte, HeaderSize)
	for {
		if err := sysraw.ReadAll(r.fd, buf); err != nil {
			if sysraw.IsUnexpectedEOF(err) {
				return nil, fmt.Errorf("no MTCP header found before EOF")
			}
			return nil, err
		}
		var h Header
		UnmarshalHeader(buf, &h)
		if h.HasValidSignature() {
			return &h, nil
		}
		// Not a match: this HeaderSize-byte chunk was part of an outer
		// format's own header. Advance by another stride and retry.
	}
}

// NextArea reads the next Area record. If the area is the terminator
// (addr == 0), ok is false and out is left as the zero Area.
func (r *Reader) NextArea(out *area.Area) (ok bool, err error) {
	buf := make([]byte, AreaRecordSize)
	if err := sysraw.ReadAll(r.fd, buf); err != nil {
		return false, err
	}
	UnmarshalArea(buf, out)
	if out.IsTerminator() {
		*out = area.Area{}
		return false, nil
	}
	return true, nil
}

// PayloadLen returns the number of payload bytes that follow a's record,
// per the dispatch table of spec.md §4.3 / §6 point 3.
func PayloadLen(a *area.Area) uint64 {
	switch {
	case a.Properties.Has(area.ZeroPage), a.Properties.Has(area.ZeroPageChildHeader):
		return 0
	case a.Properties.Has(area.ZeroPageParentHeader):
		return 0
	case a.Flags.Anonymous():
		return uint64(a.Size())
	default:
		return a.MmapFileSize
	}
}

// ReadPayload reads exactly n bytes of the current record's payload into
// dst[:n]. Callers size dst by PayloadLen(a) beforehand.
func (r *Reader) ReadPayload(dst []byte, n uint64) error {
	return sysraw.ReadAll(r.fd, dst[:n])
}

// SkipPayload discards n bytes of payload without copying them anywhere
// useful, used when a region's payload is not needed (e.g. simulate mode).
func (r *Reader) SkipPayload(n uint64) error {
	var buf [4096]byte
	var remaining = n
	for remaining > 0 {
		chunk := uint64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}
		if err := sysraw.ReadAll(r.fd, buf[:chunk]); err != nil {
			return err
		}
		remaining -= chunk
	}
	return nil
}

// FD returns the reader's underlying file descriptor; the restart command
// records it in restore.Info.ImageFD.
func (r *Reader) FD() int { return r.fd }

// Close releases the advisory lock (if any) and closes the descriptor.
func (r *Reader) Close() error {
	if r.lock != nil {
		r.lock.Unlock()
	}
	return unix.Close(r.fd)
}
