// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"github.com/usbarmory/GoTEE/syscall"
)

const (
	SYS_WRITE = syscall.SYS_WRITE
	SYS_EXIT  = syscall.SYS_EXIT
)

// defined in api_arm.s
func printSecure(byte)
func exit()
func smc(regs *[8]uint32)

// call issues an FF-A call and returns the w0-w7 result registers.
func call(fid uint32, args ...uint32) (regs [8]uint32) {
	regs[0] = fid
	copy(regs[1:], args)

	smc(&regs)

	return
}
