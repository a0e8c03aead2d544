// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/world"
)

func TestParseCall(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Call
		err  bool
	}{
		{"FFA_VERSION 0x10000", NewCall(ffa.FFA_VERSION, 0x10000), false},
		{"0x84000063", NewCall(ffa.FFA_VERSION), false},
		{"FFA_MSG_SEND_DIRECT_REQ_SMC64 0x8001 0 0xc4000041 0 0x1000 16", NewCall(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64, 0x8001, 0, 0xc4000041, 0, 0x1000, 16), false},
		{"", Call{}, true},
		{"FFA_BOGUS", Call{}, true},
		{"FFA_VERSION x", Call{}, true},
		{"FFA_VERSION 1 2 3 4 5 6 7 8", Call{}, true},
	} {
		got, err := ParseCall(tt.in)

		if (err != nil) != tt.err {
			t.Errorf("ParseCall(%q) error: %v", tt.in, err)
			continue
		}

		if !tt.err && got != tt.want {
			t.Errorf("ParseCall(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNormalWorld(t *testing.T) {
	nw := &NormalWorld{
		Calls:  []Call{NewCall(ffa.FFA_VERSION, 0x10000), NewCall(ffa.FFA_ID_GET)},
		Marker: 0xcafe,
	}

	ctx := &cpu.Context{}
	regs := &cpu.Sysregs{}

	for i := 0; i < 2; i++ {
		if err := nw.Step(ctx, regs); err != nil {
			t.Fatalf("Step: %v", err)
		}

		if regs.EL1.TPIDR != nw.Marker {
			t.Fatalf("marker not stamped")
		}

		ctx.Ret(uint64(ffa.FFA_SUCCESS_SMC32), 0, uint64(i))

		if i == 1 {
			regs.EL1.TPIDR = 0
		}
	}

	if err := nw.Step(ctx, regs); !errors.Is(err, world.ErrHalt) {
		t.Fatalf("Step after last call: %v", err)
	}

	want := []Call{
		NewCall(ffa.FFA_SUCCESS_SMC32),
		NewCall(ffa.FFA_SUCCESS_SMC32, 0, 1),
	}

	if diff := cmp.Diff(want, nw.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	if nw.Clobbered != 1 {
		t.Errorf("clobbered calls: %d", nw.Clobbered)
	}
}

func TestSPMC(t *testing.T) {
	s := &SPMC{ID: 0x8000, Marker: 0xbeef}
	ctx := &cpu.Context{}
	regs := &cpu.Sysregs{}

	s.Step(ctx, regs)

	if ffa.FunctionID(ctx.GP[0]) != ffa.FFA_MSG_WAIT {
		t.Fatalf("boot handshake: %s", ffa.FunctionID(ctx.GP[0]))
	}

	req := NewCall(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32, ffa.Endpoints(0, 0x8000), 0, 0x1234)
	copy(ctx.GP[:8], req[:])
	s.Step(ctx, regs)

	if ffa.FunctionID(ctx.GP[0]) != ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32 || ctx.GP[1] != ffa.Endpoints(0x8000, 0) || ctx.GP[3] != 0x1234 {
		t.Errorf("direct response: %s", Call(ctx.Args()))
	}

	share := NewCall(ffa.FFA_MEM_SHARE_SMC32)
	copy(ctx.GP[:8], share[:])
	regs.EL1.TPIDR = 0
	s.Step(ctx, regs)

	if ffa.FunctionID(ctx.GP[0]) != ffa.FFA_SUCCESS_SMC32 || ctx.GP[1] != 0x8000 {
		t.Errorf("acknowledgement: %s", Call(ctx.Args()))
	}

	if len(s.Received) != 2 || s.Clobbered != 1 {
		t.Errorf("received:%d clobbered:%d", len(s.Received), s.Clobbered)
	}

	failing := &SPMC{BootError: ffa.DENIED}
	failing.Step(ctx, regs)

	if ffa.FunctionID(ctx.GP[0]) != ffa.FFA_ERROR || ffa.ErrorCodeOf(ctx.GP[2]) != ffa.DENIED {
		t.Errorf("failed boot handshake: %s", Call(ctx.Args()))
	}
}

func TestPartition(t *testing.T) {
	get := NewCall(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64, ffa.Endpoints(0x8001, 0x8000), 0, ffa.SP_MEMORY_ATTRIBUTES_GET_AARCH64, 0x1000)

	p := &Partition{
		BootRequests: []Call{get},
		ELR:          0x4000,
		Handler: func(buf, size, core uint64) int64 {
			if buf != 0x80000000 || size != 0x100 || core != 3 {
				return ffa.MM_INVALID_PARAMETER
			}

			return ffa.MM_SUCCESS
		},
	}

	ctx := &cpu.Context{}
	regs := &cpu.Sysregs{}
	ctx.Ret(0x1000, 0x40)

	if p.Step(ctx, regs); Call(ctx.Args()) != get {
		t.Fatalf("boot request: %s", Call(ctx.Args()))
	}

	if regs.EL1.ELR != p.ELR {
		t.Errorf("ELR not reported")
	}

	ctx.Ret(uint64(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64), ffa.Endpoints(0x8000, 0x8001), 0, 3, 0, 0, 0, 0)
	p.Step(ctx, regs)

	if !p.Booted() || ffa.FunctionID(ctx.GP[0]) != ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64 || ctx.GP[4] != 0 {
		t.Fatalf("boot completion: %s", Call(ctx.Args()))
	}

	if p.BootArgs != [2]uint64{0x1000, 0x40} || len(p.BootResults) != 1 || p.BootResults[0][3] != 3 {
		t.Errorf("boot args:%x results:%v", p.BootArgs, p.BootResults)
	}

	ctx.Ret(uint64(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64), 0, 0, 0x80000000, 0x100, 0, 3)
	p.Step(ctx, regs)

	if ctx.GP[4] != ffa.MM_SUCCESS {
		t.Errorf("MM request rc: %d", int64(ctx.GP[4]))
	}

	ctx.Ret(uint64(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32), 0, 0, 0x80000000, 0x100, 0, 3)
	p.Step(ctx, regs)

	if ffa.FunctionID(ctx.GP[0]) != ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32 || ctx.GP[4] != ffa.MM_SUCCESS {
		t.Errorf("SMC32 MM request: %s", Call(ctx.Args()))
	}

	if len(p.Requests) != 2 || p.Requests[1] != ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32 {
		t.Errorf("MM request function IDs: %v", p.Requests)
	}

	ctx.Ret(uint64(ffa.FFA_VERSION))

	if err := p.Step(ctx, regs); err == nil {
		t.Errorf("unexpected entry accepted")
	}
}
