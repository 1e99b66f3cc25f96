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
	"testing"

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
)

func TestHeaderRoundTrip(t *testing.T) {
	var h Header
	h.SetSignature()
	h.RestoreAddr = 0x7f0000000000
	h.RestoreSize = 0x200000
	h.SavedBrk = 0x602000
	h.VDSOStart = 0x7ffff7ffa000
	h.VDSOEnd = 0x7ffff7ffc000
	h.VVarStart = 0x7ffff7ff8000
	h.VVarEnd = 0x7ffff7ffa000
	h.EndOfStack = 0x7ffffffff000
	h.PostRestart = 0x401000

	buf := MarshalHeader(&h)
	if len(buf) != HeaderSize {
		t.Fatalf("marshaled header len = %d, want %d", len(buf), HeaderSize)
	}

	var got Header
	UnmarshalHeader(buf, &got)
	if !got.HasValidSignature() {
		t.Fatalf("round-tripped header lost its signature")
	}
	if got.RestoreAddr != h.RestoreAddr || got.RestoreSize != h.RestoreSize {
		t.Errorf("restore addr/size = %#x/%#x, want %#x/%#x", got.RestoreAddr, got.RestoreSize, h.RestoreAddr, h.RestoreSize)
	}
	if got.SavedBrk != h.SavedBrk {
		t.Errorf("saved brk = %#x, want %#x", got.SavedBrk, h.SavedBrk)
	}
	if got.VDSOStart != h.VDSOStart || got.VDSOEnd != h.VDSOEnd {
		t.Errorf("vdso = [%#x,%#x), want [%#x,%#x)", got.VDSOStart, got.VDSOEnd, h.VDSOStart, h.VDSOEnd)
	}
	if got.VVarStart != h.VVarStart || got.VVarEnd != h.VVarEnd {
		t.Errorf("vvar = [%#x,%#x), want [%#x,%#x)", got.VVarStart, got.VVarEnd, h.VVarStart, h.VVarEnd)
	}
	if got.EndOfStack != h.EndOfStack {
		t.Errorf("end of stack = %#x, want %#x", got.EndOfStack, h.EndOfStack)
	}
	if got.PostRestart != h.PostRestart {
		t.Errorf("post restart = %#x, want %#x", got.PostRestart, h.PostRestart)
	}
}

func TestHeaderInvalidSignatureRejected(t *testing.T) {
	var h Header
	copy(h.Signature[:], "not-the-right-signature")
	if h.HasValidSignature() {
		t.Fatalf("garbage signature should not validate")
	}
}

func TestAreaRoundTrip(t *testing.T) {
	var a area.Area
	a.Addr = 0x400000
	a.EndAddr = 0x452000
	a.Prot = area.ProtRead | area.ProtExec
	a.Flags = area.FlagPrivate
	a.Offset = 0
	a.DevMajor = 8
	a.DevMinor = 2
	a.Inode = 173521
	a.Properties = area.ZeroPageParentHeader
	a.MmapFileSize = 0x52000
	a.SetName("/usr/bin/cat")

	buf := MarshalArea(&a)
	if len(buf) != AreaRecordSize {
		t.Fatalf("marshaled area len = %d, want %d", len(buf), AreaRecordSize)
	}

	var got area.Area
	UnmarshalArea(buf, &got)
	if got.Addr != a.Addr || got.EndAddr != a.EndAddr {
		t.Errorf("addr/end = %#x/%#x, want %#x/%#x", got.Addr, got.EndAddr, a.Addr, a.EndAddr)
	}
	if got.Prot != a.Prot || got.Flags != a.Flags {
		t.Errorf("prot/flags = %v/%v, want %v/%v", got.Prot, got.Flags, a.Prot, a.Flags)
	}
	if got.DevMajor != a.DevMajor || got.DevMinor != a.DevMinor || got.Inode != a.Inode {
		t.Errorf("dev/inode mismatch: got %d:%d/%d want %d:%d/%d", got.DevMajor, got.DevMinor, got.Inode, a.DevMajor, a.DevMinor, a.Inode)
	}
	if !got.Properties.Has(area.ZeroPageParentHeader) {
		t.Errorf("properties lost ZeroPageParentHeader bit")
	}
	if got.MmapFileSize != a.MmapFileSize {
		t.Errorf("mmap file size = %#x, want %#x", got.MmapFileSize, a.MmapFileSize)
	}
	if got.NameString() != "/usr/bin/cat" {
		t.Errorf("name = %q, want /usr/bin/cat", got.NameString())
	}
}

func TestAreaRoundTripTerminator(t *testing.T) {
	var a area.Area // zero value is the terminator
	buf := MarshalArea(&a)
	var got area.Area
	UnmarshalArea(buf, &got)
	if !got.IsTerminator() {
		t.Errorf("expected round-tripped zero area to remain a terminator")
	}
}

func TestPayloadLenDispatch(t *testing.T) {
	cases := []struct {
		name string
		a    area.Area
		want uint64
	}{
		{
			name: "zero page",
			a:    area.Area{Properties: area.ZeroPage},
			want: 0,
		},
		{
			name: "zero page child header",
			a:    area.Area{Properties: area.ZeroPageChildHeader},
			want: 0,
		},
		{
			name: "zero page parent header",
			a:    area.Area{Properties: area.ZeroPageParentHeader},
			want: 0,
		},
		{
			name: "anonymous",
			a:    area.Area{Addr: 0x1000, EndAddr: 0x4000, Flags: area.FlagAnonymous},
			want: 0x3000,
		},
		{
			name: "file backed",
			a:    area.Area{Addr: 0x1000, EndAddr: 0x4000, MmapFileSize: 0x2000},
			want: 0x2000,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := PayloadLen(&c.a); got != c.want {
				t.Errorf("PayloadLen() = %#x, want %#x", got, c.want)
			}
		})
	}
}
