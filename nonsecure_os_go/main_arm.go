// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"log"
	"os"
	"runtime"
	"unsafe"

	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/mm"
	"github.com/usbarmory/GoTEE-spm/spmc"
)

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = mem.NonSecureStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = mem.NonSecureSize - mem.NSCommBufSize

//go:linkname hwinit runtime.hwinit
func hwinit() {
	imx6ul.Init()
}

//go:linkname printk runtime.printk
func printk(c byte) {
	printSecure(c)
}

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	imx6ul.SetARMFreq(900)
}

func result(name string, regs [8]uint32) (ok bool) {
	fid := ffa.FunctionID(regs[0])

	if fid == ffa.FFA_ERROR {
		log.Printf("supervisor %s failed, %s", name, ffa.ErrorCode(int32(regs[2])))
		return false
	}

	log.Printf("supervisor %s %s w2:%#x w3:%#x", name, fid, regs[2], regs[3])

	return true
}

func communicate(msg string) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(mem.NSCommBufStart))), mem.NSCommBufSize)
	n, err := mm.Encode(buf, mm.EchoService, []byte(msg))

	if err != nil {
		log.Printf("supervisor could not encode MM request, %v", err)
		return
	}

	ep := uint32(ffa.Endpoints(ffa.NSEndpointID, spmc.DefaultPartitionID))
	regs := call(uint32(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32), ep, 0, ffa.MM_INTERFACE_ID_AARCH32, 0, mem.NSCommBufStart, uint32(n))

	if !result("MM communicate", regs) {
		return
	}

	_, res, err := mm.Decode(buf)

	if err != nil {
		log.Printf("supervisor received invalid MM response, %v", err)
		return
	}

	log.Printf("supervisor MM %s request:%q response:%q", mm.EchoService, msg, res)
}

func main() {
	log.Printf("%s/%s (%s) • system/supervisor (Non-secure)", runtime.GOOS, runtime.GOARCH, runtime.Version())

	result("FFA_VERSION", call(uint32(ffa.FFA_VERSION), uint32(ffa.CompiledVersion)))
	result("FFA_ID_GET", call(uint32(ffa.FFA_ID_GET)))
	result("FFA_FEATURES", call(uint32(ffa.FFA_FEATURES), uint32(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32)))

	// calls reserved to the Secure world are refused
	result("FFA_MSG_WAIT", call(uint32(ffa.FFA_MSG_WAIT)))

	communicate("hello from the Normal world")

	// test memory protection, the read aborts under TrustZone restrictions
	mem.TestAccess("Non-secure OS")

	// yield back to secure monitor
	log.Printf("supervisor is about to yield back")
	exit()

	// this should be unreachable
	log.Printf("supervisor says goodbye")
}
