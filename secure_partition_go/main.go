// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"bytes"
	"log"
	"os"
	"runtime"
	"runtime/goos"
	"unsafe"

	"github.com/usbarmory/GoTEE/applet"

	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/mm"
	"github.com/usbarmory/GoTEE-spm/spmc"
)

var endpoints = uint32(ffa.Endpoints(spmc.DefaultPartitionID, spmc.DefaultSPMCID))

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	// yield to monitor (w/ err != nil) on runtime panic
	goos.Exit = applet.Crash
}

// memAttr issues a memory attributes request, available only during
// initialization.
func memAttr(service uint32, args ...uint32) int32 {
	regs := call(uint32(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32), append([]uint32{endpoints, 0, service}, args...)...)

	if ffa.FunctionID(regs[0]) != ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32 {
		return ffa.MM_NOT_SUPPORTED
	}

	return int32(regs[3])
}

func testMemAttributes(l spmc.Layout) {
	va := uint32(l.HeapBase)

	log.Printf("partition heap va:%#x attributes:%#x", va, memAttr(ffa.SP_MEMORY_ATTRIBUTES_GET_AARCH64, va))

	rc := memAttr(ffa.SP_MEMORY_ATTRIBUTES_SET_AARCH64, va, 1, ffa.MemAttrAccessRO|ffa.MemAttrNonExec)
	log.Printf("partition heap va:%#x set read-only rc:%d attributes:%#x", va, rc, memAttr(ffa.SP_MEMORY_ATTRIBUTES_GET_AARCH64, va))

	rc = memAttr(ffa.SP_MEMORY_ATTRIBUTES_SET_AARCH64, va, 1, ffa.MemAttrAccessRW|ffa.MemAttrNonExec)
	log.Printf("partition heap va:%#x restored rc:%d", va, rc)

	// code is never writable
	log.Printf("partition image va:%#x attributes:%#x", l.ImageBase, memAttr(ffa.SP_MEMORY_ATTRIBUTES_GET_AARCH64, uint32(l.ImageBase)))
}

// serve handles an MM request from the Normal world communication buffer.
func serve(l spmc.Layout, addr uint32, size uint32) int32 {
	if uint64(addr) < l.NSCommBufBase || uint64(addr)+uint64(size) > l.NSCommBufBase+uint64(l.NSCommBufSize) {
		log.Printf("partition MM buffer %#x-%#x outside communication buffer", addr, addr+size)
		return ffa.MM_INVALID_PARAMETER
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	g, msg, err := mm.Decode(buf)

	if err != nil {
		log.Printf("partition invalid MM request, %v", err)
		return ffa.MM_INVALID_PARAMETER
	}

	switch g {
	case mm.EchoService:
		copy(msg, bytes.ToUpper(msg))
	default:
		log.Printf("partition unknown MM service %s", g)
		return ffa.MM_NOT_SUPPORTED
	}

	return ffa.MM_SUCCESS
}

func main() {
	log.Printf("%s/%s (%s) • FF-A Secure Partition", runtime.GOOS, runtime.GOARCH, runtime.Version())

	info, mp, err := spmc.ReadBootInfo(mem.SharedBuffer())

	if err != nil {
		log.Printf("partition initialization failed, %v", err)

		aborted := int32(ffa.ABORTED)
		call(uint32(ffa.FFA_ERROR), 0, uint32(aborted))

		applet.Exit()
	}

	l := info.Layout

	log.Printf("partition cores:%d regions:%d heap:%#x-%#x comm buffer:%#x-%#x", len(mp), info.NumMemRegions,
		l.HeapBase, l.HeapBase+uint64(l.HeapSize), l.NSCommBufBase, l.NSCommBufBase+uint64(l.NSCommBufSize))

	testMemAttributes(l)

	// initialization completed, wait for requests
	regs := call(uint32(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32), endpoints, 0, 0, ffa.MM_SUCCESS)

	for {
		if fid := ffa.FunctionID(regs[0]); fid != ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32 && fid != ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64 {
			log.Printf("partition unexpected request %s", ffa.FunctionID(regs[0]))
			applet.Exit()
		}

		rc := serve(l, regs[3], regs[4])
		log.Printf("partition served MM request core:%d buf:%#x size:%#x rc:%d", regs[6], regs[3], regs[4], rc)

		regs = call(uint32(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32), uint32(ffa.SwapEndpoints(uint64(regs[1]))), 0, 0, uint32(rc))
	}
}
