// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package mem

import (
	"log"
	"sync/atomic"
	"unsafe"
)

// TestAccess attempts to read one 32-bit word from the Secure Partition
// heap, the read is expected to fault when the TrustZone configuration is
// in place.
func TestAccess(tag string) {
	addr := uint32(HeapStart)
	mem := (*uint32)(unsafe.Pointer(uintptr(addr)))

	log.Printf("%s is about to read Secure Partition memory at %#x", tag, addr)
	val := atomic.LoadUint32(mem)

	log.Printf("%s read Secure Partition memory %#x: %#x (*insecure configuration*)", tag, addr, val)
}
