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

import "unsafe"

// unsafeSlice builds a []byte view over the raw virtual address range
// [addr, addr+size). Every syscall in this package that needs to pass a
// byte range by address (munmap, mremap source/dest, raw memcpy of mapped
// regions) goes through this helper rather than repeating the unsafe
// conversion inline, so the handful of genuinely unsafe operations in the
// restorer are grep-able from one place.
func unsafeSlice(addr, size uintptr) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}

// addrOf returns the virtual address of p as a uintptr.
func addrOf(p *int) uintptr {
	return uintptr(unsafe.Pointer(p))
}
