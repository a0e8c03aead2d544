// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ffa

// Service identifiers carried in x3 of direct requests addressed to the
// Management Mode Secure Partition.
const (
	MM_INTERFACE_ID_AARCH32          = 0x84000041
	MM_INTERFACE_ID_AARCH64          = 0xc4000041
	SP_MEMORY_ATTRIBUTES_GET_AARCH64 = 0xc4000064
	SP_MEMORY_ATTRIBUTES_SET_AARCH64 = 0xc4000065
)

// Management Mode status codes returned by the partition.
const (
	MM_SUCCESS           = 0
	MM_NOT_SUPPORTED     = -1
	MM_INVALID_PARAMETER = -2
	MM_DENIED            = -3
	MM_NO_MEMORY         = -5
)

// MMError converts a partition status into the FF-A error reported to the
// Normal world.
func MMError(rc int64) ErrorCode {
	switch rc {
	case MM_NOT_SUPPORTED:
		return NOT_SUPPORTED
	case MM_INVALID_PARAMETER:
		return INVALID_PARAMETER
	case MM_DENIED:
		return DENIED
	case MM_NO_MEMORY:
		return NO_MEMORY
	default:
		return ABORTED
	}
}

// Secure Partition memory attributes (SP_MEMORY_ATTRIBUTES_*).
const (
	MemAttrAccessShift = 0
	MemAttrAccessMask  = 3
	MemAttrAccessNone  = 0
	MemAttrAccessRW    = 1
	MemAttrAccessRO    = 3
	MemAttrNonExec     = 1 << 2
	MemAttrExec        = 0
)
