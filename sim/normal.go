// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim implements reference lower exception level images, driving
// the EL3 runtime in place of real Normal world and secure software.
package sim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/world"
)

// Call represents the x0-x7 registers of an SMC.
type Call [8]uint64

// NewCall returns an FF-A call with the given arguments in x1 onwards.
func NewCall(fid ffa.FunctionID, args ...uint64) (c Call) {
	if len(args) > len(c)-1 {
		panic("sim: too many call arguments")
	}

	c[0] = uint64(fid)
	copy(c[1:], args)

	return
}

// ParseCall parses a call in the form `FID [ARG...]`, where FID is an FF-A
// function name or value.
func ParseCall(s string) (c Call, err error) {
	f := strings.Fields(s)

	if len(f) == 0 || len(f) > len(c) {
		return c, fmt.Errorf("invalid call %q", s)
	}

	fid, err := ffa.ParseFunctionID(f[0])

	if err != nil {
		return
	}

	c[0] = uint64(fid)

	for i, arg := range f[1:] {
		if c[i+1], err = strconv.ParseUint(arg, 0, 64); err != nil {
			return c, fmt.Errorf("invalid argument %q, %v", arg, err)
		}
	}

	return
}

func (c Call) String() string {
	return fmt.Sprintf("%s x1:%#x x2:%#x x3:%#x x4:%#x x5:%#x x6:%#x x7:%#x",
		ffa.FunctionID(c[0]), c[1], c[2], c[3], c[4], c[5], c[6], c[7])
}

// NormalWorld represents a scripted Normal world, issuing each call in turn
// and recording its return registers.
//
// The EL1 thread ID register is stamped with Marker before every call and
// verified after it, any mismatch means Normal world system registers were
// not preserved across the secure world execution.
type NormalWorld struct {
	// Calls holds the calls still to be issued
	Calls []Call
	// Results holds the return registers of each issued call
	Results []Call
	// Marker is the value stamped in TPIDR_EL1
	Marker uint64
	// Clobbered counts calls returning with a different TPIDR_EL1
	Clobbered int

	pending bool
}

// Step implements world.Image.
func (nw *NormalWorld) Step(ctx *cpu.Context, regs *cpu.Sysregs) error {
	if nw.pending {
		nw.Results = append(nw.Results, Call(ctx.Args()))

		if regs.EL1.TPIDR != nw.Marker {
			nw.Clobbered++
		}

		nw.pending = false
	}

	if len(nw.Calls) == 0 {
		return world.ErrHalt
	}

	copy(ctx.GP[:8], nw.Calls[0][:])
	nw.Calls = nw.Calls[1:]

	regs.EL1.TPIDR = nw.Marker
	nw.pending = true

	return nil
}
