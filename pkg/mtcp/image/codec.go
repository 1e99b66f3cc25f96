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
	"encoding/binary"

	"github.com/talismancer/mtcp-restore/pkg/mtcp/area"
)

// AreaRecordSize is the fixed on-disk size of one Area record (native byte
// order, §6): 12 uint64 slots (the last two reserved and written as zero),
// a 4-byte name length, and the 256-byte name buffer.
const AreaRecordSize = 8*12 + 4 + 256

// MarshalHeader encodes h into a HeaderSize-byte native-order record.
func MarshalHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, h.Signature[:])
	off := len(h.Signature)
	putAll(buf[off:], uint64(h.RestoreAddr), uint64(h.RestoreSize), uint64(h.SavedBrk),
		uint64(h.VDSOStart), uint64(h.VDSOEnd), uint64(h.VVarStart), uint64(h.VVarEnd),
		uint64(h.EndOfStack), uint64(h.PostRestart))
	return buf
}

// UnmarshalHeader decodes a HeaderSize-byte record into h.
func UnmarshalHeader(buf []byte, h *Header) {
	*h = Header{}
	copy(h.Signature[:], buf[:len(h.Signature)])
	off := len(h.Signature)
	vals := getAll(buf[off:], 9)
	h.RestoreAddr = uintptr(vals[0])
	h.RestoreSize = uintptr(vals[1])
	h.SavedBrk = uintptr(vals[2])
	h.VDSOStart = uintptr(vals[3])
	h.VDSOEnd = uintptr(vals[4])
	h.VVarStart = uintptr(vals[5])
	h.VVarEnd = uintptr(vals[6])
	h.EndOfStack = uintptr(vals[7])
	h.PostRestart = uintptr(vals[8])
}

// MarshalArea encodes a into an AreaRecordSize-byte native-order record.
func MarshalArea(a *area.Area) []byte {
	buf := make([]byte, AreaRecordSize)
	putAll(buf, uint64(a.Addr), uint64(a.EndAddr), uint64(a.Prot), uint64(a.Flags),
		a.Offset, uint64(a.DevMajor), uint64(a.DevMinor), a.Inode,
		uint64(a.Properties), a.MmapFileSize, 0, 0)
	off := 8 * 12
	binary.LittleEndian.PutUint32(buf[off:], uint32(a.NameLen))
	copy(buf[off+4:], a.Name[:])
	return buf
}

// UnmarshalArea decodes an AreaRecordSize-byte record into a.
func UnmarshalArea(buf []byte, a *area.Area) {
	*a = area.Area{}
	vals := getAll(buf, 12)
	a.Addr = uintptr(vals[0])
	a.EndAddr = uintptr(vals[1])
	a.Prot = area.Prot(vals[2])
	a.Flags = area.Flags(vals[3])
	a.Offset = vals[4]
	a.DevMajor = uint32(vals[5])
	a.DevMinor = uint32(vals[6])
	a.Inode = vals[7]
	a.Properties = area.Properties(vals[8])
	a.MmapFileSize = vals[9]
	off := 8 * 12
	a.NameLen = int(binary.LittleEndian.Uint32(buf[off:]))
	if a.NameLen > len(a.Name) {
		a.NameLen = len(a.Name)
	}
	copy(a.Name[:], buf[off+4:])
}

func putAll(buf []byte, vals ...uint64) {
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
}

func getAll(buf []byte, n int) []uint64 {
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out
}
