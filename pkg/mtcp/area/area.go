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

// Package area describes a single memory-region descriptor as found in
// /proc/self/maps and as serialized into the checkpoint image.
package area

// Prot is a read/write/execute protection bitset, matching PROT_* from
// <sys/mman.h>.
type Prot uint32

// Protection bits.
const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// Readable reports whether the read bit is set.
func (p Prot) Readable() bool { return p&ProtRead != 0 }

// Writable reports whether the write bit is set.
func (p Prot) Writable() bool { return p&ProtWrite != 0 }

// Executable reports whether the exec bit is set.
func (p Prot) Executable() bool { return p&ProtExec != 0 }

// WithWrite returns p with the write bit set.
func (p Prot) WithWrite() Prot { return p | ProtWrite }

// WithoutWrite returns p with the write bit cleared.
func (p Prot) WithoutWrite() Prot { return p &^ ProtWrite }

// Flags mirrors MAP_* from <sys/mman.h>, restricted to the subset the
// restorer distinguishes between.
type Flags uint32

// Mapping flag bits.
const (
	FlagShared Flags = 1 << iota
	FlagPrivate
	FlagAnonymous
	FlagFixed
	FlagGrowsDown
)

// Shared reports whether the region was mapped MAP_SHARED at checkpoint time.
func (f Flags) Shared() bool { return f&FlagShared != 0 }

// Anonymous reports whether the region has no file backing.
func (f Flags) Anonymous() bool { return f&FlagAnonymous != 0 }

// GrowsDown reports whether the region is a downward-growing stack.
func (f Flags) GrowsDown() bool { return f&FlagGrowsDown != 0 }

// AsPrivateAnonymous rewrites f to drop MAP_SHARED in favor of
// MAP_PRIVATE|MAP_ANONYMOUS, per spec.md §4.7 step 3: shared memory is
// restored as a private copy, never as shared.
func (f Flags) AsPrivateAnonymous() Flags {
	f &^= FlagShared
	return f | FlagPrivate | FlagAnonymous
}

// Properties is a bitset of checkpoint-specific markers carried alongside
// an Area record in the image, distinct from the kernel-level Prot/Flags.
type Properties uint32

// Property bits, matching the checkpoint record dispatch of spec.md §4.7.4.
const (
	// ZeroPage marks a region already mapped by an ancestor header;
	// only its write-protection may need re-applying.
	ZeroPage Properties = 1 << iota
	// ZeroPageParentHeader marks the mmap-but-no-payload half of a
	// zero-page record: no payload follows this record itself.
	ZeroPageParentHeader
	// ZeroPageChildHeader marks a record whose mmap step is skipped
	// because the ancestor mapping is shared; no payload follows it.
	ZeroPageChildHeader
)

// Has reports whether all bits of want are set in p.
func (p Properties) Has(want Properties) bool { return p&want == want }

// Area is the descriptor of one memory region, both as scanned from
// /proc/self/maps and as serialized in the checkpoint image. See spec.md §3.
type Area struct {
	Addr    uintptr
	EndAddr uintptr
	Prot    Prot
	Flags   Flags

	Offset    uint64
	DevMajor  uint32
	DevMinor  uint32
	Inode     uint64
	Name      [256]byte
	NameLen   int

	Properties Properties

	// MmapFileSize is the number of payload bytes to consume from the
	// image when the region's file backing is larger than its on-disk
	// portion (spec.md §3, §6 point 3).
	MmapFileSize uint64
}

// Size returns end_addr - addr.
func (a *Area) Size() uintptr { return a.EndAddr - a.Addr }

// IsTerminator reports whether a is the sentinel area (addr == 0) that ends
// an image's area stream (spec.md §3).
func (a *Area) IsTerminator() bool { return a.Addr == 0 }

// NameString returns the area's name as a Go string, bounded by NameLen.
// This is the one place a []byte-backed field is converted to string; it is
// never used on the no-allocation path of C4-C7 (see pkg/mtcp/sysraw), only
// by the maps scanner (C2) and by CLI-facing diagnostics.
func (a *Area) NameString() string {
	return string(a.Name[:a.NameLen])
}

// SetName copies name into the fixed Name buffer, truncating if necessary.
func (a *Area) SetName(name string) {
	n := copy(a.Name[:], name)
	a.NameLen = n
}

// HasNamePrefix reports whether the area's name starts with prefix.
func (a *Area) HasNamePrefix(prefix string) bool {
	if len(prefix) > a.NameLen {
		return false
	}
	return string(a.Name[:len(prefix)]) == prefix
}

// HasNameSuffix reports whether the area's name ends with suffix.
func (a *Area) HasNameSuffix(suffix string) bool {
	if len(suffix) > a.NameLen {
		return false
	}
	return string(a.Name[a.NameLen-len(suffix):a.NameLen]) == suffix
}

// NameContains reports whether substr occurs anywhere in the area's name.
func (a *Area) NameContains(substr string) bool {
	name := a.NameString()
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(name); i++ {
		if name[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// Well-known bracketed names, per spec.md §3.
const (
	NameHeap     = "[heap]"
	NameStack    = "[stack]"
	NameVDSO     = "[vdso]"
	NameVVAR     = "[vvar]"
	NameVsyscall = "[vsyscall]"
	NameVectors  = "[vectors]"
)
