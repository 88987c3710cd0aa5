/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package patchbay

// Flags is the port flag bitmask. IsInput and IsOutput are mutually
// exclusive and at least one must be set.
type Flags uint32

const (
	IsInput    Flags = 0x1
	IsOutput   Flags = 0x2
	IsPhysical Flags = 0x4
	CanMonitor Flags = 0x8
	IsTerminal Flags = 0x10
)

// Has reports whether all bits in mask are set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// BuiltinAudioType is the single required type token: nframes contiguous
// IEEE-754 32-bit floats in native byte order.
const BuiltinAudioType = "32 bit float mono audio"

// BuiltinSampleSize is the per-sample size in bytes of BuiltinAudioType.
const BuiltinSampleSize = 4
