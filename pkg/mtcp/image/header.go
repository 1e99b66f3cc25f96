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

// Package image implements the checkpoint image format of spec.md §6: a
// sequence of fixed-size binary records in native byte order.
package image

// Signature is the fixed magic string searched for at header-sized file
// offsets. Value taken from original_source/src/mtcp/mtcp_restart.c
// (SPEC_FULL.md §C.1) — the distilled spec.md leaves the exact bytes
// unspecified, calling it only "a fixed signature string".
const Signature = "MTCP_SIGNATURE_VERIFICATION_00001"

// HeaderSize is sizeof(MtcpHeader) in the on-disk format: the stride the
// reader searches at when skipping an outer format's own header
// (spec.md §4.3, §8 scenario 1).
const HeaderSize = 256

// Header is the per-image metadata record (spec.md §3 MtcpHeader).
type Header struct {
	Signature [64]byte

	RestoreAddr uintptr
	RestoreSize uintptr

	SavedBrk uintptr

	VDSOStart uintptr
	VDSOEnd   uintptr
	VVarStart uintptr
	VVarEnd   uintptr

	EndOfStack uintptr

	// PostRestart is the raw address of the continuation function. It is
	// decoded here and never dereferenced (image is a pure decoder). No code
	// in this module calls through it: restore.RestoreRegions calls the
	// restore.PostRestart func value its caller passes in instead.
	PostRestart uintptr
}

// HasValidSignature reports whether h's signature field matches Signature.
func (h *Header) HasValidSignature() bool {
	n := len(Signature)
	if n > len(h.Signature) {
		return false
	}
	for i := 0; i < n; i++ {
		if h.Signature[i] != Signature[i] {
			return false
		}
	}
	return true
}

// SetSignature writes Signature into h's fixed buffer (used by the writer
// side, e.g. by tests constructing synthetic images).
func (h *Header) SetSignature() {
	copy(h.Signature[:], Signature)
}
