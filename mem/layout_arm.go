// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package mem

import (
	"unsafe"

	"github.com/usbarmory/tamago/dma"
)

var (
	PartitionRegion *dma.Region
	NonSecureRegion *dma.Region
)

// Init reserves the Secure Partition and Normal world memory regions.
func Init() {
	PartitionRegion = &dma.Region{
		Start: PartitionStart,
		Size:  PartitionImageSize,
	}

	PartitionRegion.Init()
	PartitionRegion.Reserve(PartitionImageSize, 0)

	NonSecureRegion = &dma.Region{
		Start: NonSecureStart,
		Size:  NonSecureSize - NSCommBufSize,
	}

	NonSecureRegion.Init()
	NonSecureRegion.Reserve(NonSecureSize-NSCommBufSize, 0)
}

// SharedBuffer returns the secure shared buffer memory.
func SharedBuffer() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(SharedBufStart))), SharedBufSize)
}
