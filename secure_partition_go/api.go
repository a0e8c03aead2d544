// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

// defined in api_arm.s
func svc(regs *[8]uint32)

// call issues an FF-A call to the SPM Core and returns the w0-w7 result
// registers, after initialization these hold the next request.
func call(fid uint32, args ...uint32) (regs [8]uint32) {
	regs[0] = fid
	copy(regs[1:], args)

	svc(&regs)

	return
}
