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
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
)

func writeTempImage(t *testing.T, chunks ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ckpt.img")
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		t.Fatalf("open temp image: %v", err)
	}
	defer unix.Close(fd)
	for _, c := range chunks {
		if _, err := unix.Write(fd, c); err != nil {
			t.Fatalf("write temp image: %v", err)
		}
	}
	return path
}

func TestOpenFindsHeaderAtOffsetZero(t *testing.T) {
	var h Header
	h.SetSignature()
	h.RestoreAddr = 0x500000

	path := writeTempImage(t, MarshalHeader(&h), terminatorRecord())

	r, got, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if got.RestoreAddr != 0x500000 {
		t.Errorf("restore addr = %#x, want 0x500000", got.RestoreAddr)
	}
}

func TestOpenSkipsOuterHeaderByStride(t *testing.T) {
	var h Header
	h.SetSignature()
	h.RestoreAddr = 0xdeadbeef

	outer := make([]byte, HeaderSize) // an outer format's own header, same stride
	path := writeTempImage(t, outer, MarshalHeader(&h), terminatorRecord())

	r, got, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if got.RestoreAddr != 0xdeadbeef {
		t.Errorf("restore addr = %#x, want 0xdeadbeef", got.RestoreAddr)
	}
}

func TestOpenNoHeaderIsError(t *testing.T) {
	path := writeTempImage(t, make([]byte, HeaderSize))
	if _, _, err := Open(path); err == nil {
		t.Fatalf("expected error when no valid header is present")
	}
}

func TestNextAreaAndTerminator(t *testing.T) {
	var h Header
	h.SetSignature()

	var a area.Area
	a.Addr = 0x1000
	a.EndAddr = 0x2000
	a.Flags = area.FlagAnonymous | area.FlagPrivate
	a.SetName("")

	payload := make([]byte, int(a.Size())) // anonymous areas carry size bytes of contents
	path := writeTempImage(t, MarshalHeader(&h), MarshalArea(&a), payload, terminatorRecord())

	r, _, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var got area.Area
	ok, err := r.NextArea(&got)
	if err != nil {
		t.Fatalf("NextArea: %v", err)
	}
	if !ok {
		t.Fatalf("expected a record, got terminator")
	}
	if got.Addr != a.Addr || got.EndAddr != a.EndAddr {
		t.Errorf("area = [%#x,%#x), want [%#x,%#x)", got.Addr, got.EndAddr, a.Addr, a.EndAddr)
	}

	n := PayloadLen(&got)
	if n != uint64(got.Size()) {
		t.Fatalf("payload len = %d, want %d (anonymous region)", n, got.Size())
	}
	if err := r.SkipPayload(n); err != nil {
		t.Fatalf("SkipPayload: %v", err)
	}

	ok, err = r.NextArea(&got)
	if err != nil {
		t.Fatalf("NextArea at terminator: %v", err)
	}
	if ok {
		t.Fatalf("expected terminator, got another record")
	}
}

func TestOpenFDDoesNotLock(t *testing.T) {
	var h Header
	h.SetSignature()
	path := writeTempImage(t, MarshalHeader(&h), terminatorRecord())

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer unix.Close(fd)

	r, got, err := OpenFD(fd)
	if err != nil {
		t.Fatalf("OpenFD: %v", err)
	}
	if !got.HasValidSignature() {
		t.Errorf("expected valid signature via OpenFD")
	}
	if r.FD() != fd {
		t.Errorf("FD() = %d, want %d", r.FD(), fd)
	}
	if r.lock != nil {
		t.Errorf("OpenFD took an advisory lock, want none")
	}
}

func terminatorRecord() []byte {
	var zero area.Area
	return MarshalArea(&zero)
}

func TestMain_NoStrayFiles(t *testing.T) {
	// sanity: confirm tests above clean up via t.TempDir without leaking
	// descriptors into the working directory.
	if _, err := os.Stat("ckpt.img"); err == nil {
		t.Fatalf("test image leaked into the package directory")
	}
}
