// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ffa"
)

// SPMC represents an S-EL1 SPM Core image for a single core.
//
// On its first entry it completes the boot handshake with FFA_MSG_WAIT, or
// FFA_ERROR when BootError is set. Afterwards every forwarded direct request
// is answered with a direct response echoing its service ID in x3 and any
// other forwarded call is acknowledged with FFA_SUCCESS_SMC32.
type SPMC struct {
	// ID is the endpoint ID used in direct responses
	ID uint16
	// BootError, when set, fails the boot handshake
	BootError ffa.ErrorCode
	// Received holds the calls forwarded by the dispatcher
	Received []Call
	// Marker is the value stamped in TPIDR_EL1
	Marker uint64
	// Clobbered counts entries with a different TPIDR_EL1
	Clobbered int

	booted bool
}

// Step implements world.Image.
func (s *SPMC) Step(ctx *cpu.Context, regs *cpu.Sysregs) error {
	if !s.booted {
		s.booted = true
		regs.EL1.TPIDR = s.Marker

		if s.BootError != 0 {
			ffa.Error(ctx, s.BootError)
		} else {
			ctx.Ret(uint64(ffa.FFA_MSG_WAIT), 0, 0, 0, 0, 0, 0, 0)
		}

		return nil
	}

	if regs.EL1.TPIDR != s.Marker {
		s.Clobbered++
	}

	call := Call(ctx.Args())
	s.Received = append(s.Received, call)

	switch fid := ffa.FunctionID(call[0]); fid {
	case ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32:
		ctx.Ret(uint64(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32), ffa.SwapEndpoints(call[1]), 0, call[3], 0, 0, 0, 0)
	case ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64:
		ctx.Ret(uint64(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64), ffa.SwapEndpoints(call[1]), 0, call[3], 0, 0, 0, 0)
	default:
		ctx.Ret(uint64(ffa.FFA_SUCCESS_SMC32), uint64(s.ID), 0, 0, 0, 0, 0, 0)
	}

	return nil
}
