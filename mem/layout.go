// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mem describes the USB armory Mk II memory layout of the Secure
// Partition Manager, the Secure Partition and the Normal world.
package mem

import (
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

const (
	// Secure Monitor (EL3 runtime and SPM Core)
	SecureStart = 0x98000000
	SecureSize  = 0x03f00000 // 63MB

	// Secure Monitor DMA (relocated to avoid conflicts with Normal world)
	SecureDMAStart = 0x9bf00000
	SecureDMASize  = 0x00100000 // 1MB

	// Secure Partition
	PartitionStart = 0x9c000000
	PartitionSize  = 0x02000000 // 32MB

	// Secure Partition image, loaded at the start of its memory
	PartitionImageSize = 0x01000000 // 16MB

	// Secure shared buffer, holding the partition boot information
	SharedBufStart = PartitionStart + PartitionImageSize
	SharedBufSize  = 0x00001000

	// Secure Partition heap
	HeapStart = SharedBufStart + 0x00100000
	HeapSize  = PartitionStart + PartitionSize - HeapStart

	// Normal world OS
	NonSecureStart = 0x80000000
	NonSecureSize  = 0x10000000 // 256MB

	// Normal world MM communication buffer, at the end of its memory
	NSCommBufSize  = 0x00010000
	NSCommBufStart = NonSecureStart + NonSecureSize - NSCommBufSize

	// Secure Partition translation tables
	XlatStart = SecureDMAStart - 0x00100000
)

// PartitionVASpace is the Secure Partition virtual address space size.
const PartitionVASpace = 1 << 32

// PartitionLayout returns the Secure Partition memory layout reported at
// boot.
func PartitionLayout() spmc.Layout {
	return spmc.Layout{
		MemBase:       PartitionStart,
		MemLimit:      PartitionStart + PartitionSize,
		ImageBase:     PartitionStart,
		ImageSize:     PartitionImageSize,
		SharedBufBase: SharedBufStart,
		SharedBufSize: SharedBufSize,
		HeapBase:      HeapStart,
		HeapSize:      HeapSize,
		NSCommBufBase: NSCommBufStart,
		NSCommBufSize: NSCommBufSize,
		StackBase:     HeapStart + HeapSize,
	}
}

// PartitionRegions returns the Secure Partition memory map, identity
// mapped.
func PartitionRegions() []xlat.Region {
	return []xlat.Region{
		{
			PA:          PartitionStart,
			VA:          PartitionStart,
			Size:        PartitionImageSize,
			Attr:        xlat.Code | xlat.User,
			Granularity: xlat.BlockSize,
		},
		{
			PA:   SharedBufStart,
			VA:   SharedBufStart,
			Size: SharedBufSize,
			Attr: xlat.ROData | xlat.User,
		},
		{
			PA:   HeapStart,
			VA:   HeapStart,
			Size: HeapSize,
			Attr: xlat.RWData | xlat.User,
		},
		{
			PA:   NSCommBufStart,
			VA:   NSCommBufStart,
			Size: NSCommBufSize,
			Attr: xlat.RWData | xlat.NS | xlat.User,
		},
	}
}

// PartitionConfig returns the SPM Core configuration of the Secure
// Partition, sharedBuf backs the secure shared buffer.
func PartitionConfig(entry uint64, sharedBuf []byte) spmc.Config {
	return spmc.Config{
		Entrypoint:   entry,
		XlatBase:     XlatStart,
		VASpace:      PartitionVASpace,
		Regions:      PartitionRegions(),
		Layout:       PartitionLayout(),
		SharedBuffer: sharedBuf,
	}
}
