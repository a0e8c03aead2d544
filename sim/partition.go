// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ffa"
)

// MMHandler serves a Management Mode request on the given core, returning
// an MM status code.
type MMHandler func(buf uint64, size uint64, core uint64) int64

// Partition represents an S-EL0 Management Mode Secure Partition, shared by
// all cores.
//
// On its first entry it records the boot information arguments and issues
// each of BootRequests, recording the results, before reporting BootRC with
// a direct response. Every later entry is an MM request served by Handler.
type Partition struct {
	// BootRequests holds the calls issued during initialization
	BootRequests []Call
	// BootResults holds the return registers of each boot request
	BootResults []Call
	// BootArgs holds the x0 and x1 values of the first entry
	BootArgs [2]uint64
	// BootRC is the initialization status
	BootRC int64
	// Handler serves MM requests, a nil handler succeeds
	Handler MMHandler
	// ELR and SPSR are reported as the S-EL0 return state of every trap
	ELR  uint64
	SPSR uint64
	// Requests holds the function ID of every MM request entry
	Requests []ffa.FunctionID

	step   int
	booted bool
}

// Booted reports whether initialization completed.
func (p *Partition) Booted() bool {
	return p.booted
}

// Step implements world.Image.
func (p *Partition) Step(ctx *cpu.Context, regs *cpu.Sysregs) error {
	regs.EL1.ELR = p.ELR
	regs.EL1.SPSR = p.SPSR

	if p.booted {
		resp := ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64
		fid := ffa.FunctionID(ctx.GP[0])

		switch fid {
		case ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64:
		case ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32:
			resp = ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32
		default:
			return fmt.Errorf("partition entered with %s", fid)
		}

		p.Requests = append(p.Requests, fid)

		var rc int64

		if p.Handler != nil {
			rc = p.Handler(ctx.GP[3], ctx.GP[4], ctx.GP[6])
		}

		v := uint64(rc)

		if resp == ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32 {
			v = uint64(uint32(rc))
		}

		ctx.Ret(uint64(resp), ffa.SwapEndpoints(ctx.GP[1]), 0, 0, v, 0, 0, 0)

		return nil
	}

	if p.step == 0 {
		p.BootArgs = [2]uint64{ctx.GP[0], ctx.GP[1]}
	} else {
		p.BootResults = append(p.BootResults, Call(ctx.Args()))
	}

	if p.step < len(p.BootRequests) {
		copy(ctx.GP[:8], p.BootRequests[p.step][:])
		p.step++

		return nil
	}

	p.booted = true
	ctx.Ret(uint64(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64), 0, 0, 0, uint64(p.BootRC), 0, 0, 0)

	return nil
}
