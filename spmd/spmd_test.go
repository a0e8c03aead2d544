// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spmd

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/manifest"
	"github.com/usbarmory/GoTEE-spm/sim"
)

const (
	spmcEntry = 0x0e100000
	nsEntry   = 0x60000000
	spmcID    = 0x8001
)

func testManifest() *manifest.Attributes {
	return &manifest.Attributes{
		MajorVersion: 1,
		MinorVersion: 0,
		SPMCID:       spmcID,
		ExecState:    manifest.AArch64,
	}
}

func testHandoff(attrs *manifest.Attributes) el3.Handoff {
	h := el3.Handoff{
		Secure:    &cpu.EntryPointInfo{PC: spmcEntry},
		NonSecure: &cpu.EntryPointInfo{PC: nsEntry, SPSR: cpu.SPSR64(cpu.EL1, cpu.SPELx, cpu.DisableAllExceptions)},
	}

	if attrs != nil {
		h.SPMCManifest = manifest.Encode(attrs)
	}

	return h
}

type testPlatform struct {
	*el3.Platform

	d     *Dispatcher
	spmcs []*sim.SPMC
}

// newPlatform boots a platform with an S-EL1 SPM Core image on each core.
func newPlatform(t *testing.T, cores int, cfg Config, h el3.Handoff, bootError ffa.ErrorCode) *testPlatform {
	t.Helper()

	p, err := el3.NewPlatform(cores, h)

	if err != nil {
		t.Fatal(err)
	}

	tp := &testPlatform{
		Platform: p,
		d:        New(cfg, nil),
	}

	if err = p.Register(tp.d.Service()); err != nil {
		t.Fatal(err)
	}

	for _, c := range p.Cores() {
		s := &sim.SPMC{
			ID:        spmcID,
			BootError: bootError,
			Marker:    0xa5a50000 + uint64(c.Pos()),
		}

		tp.spmcs = append(tp.spmcs, s)
		c.SetImage(cpu.Secure, s)
	}

	if err = p.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	return tp
}

func run(t *testing.T, c *el3.Core, calls ...sim.Call) *sim.NormalWorld {
	t.Helper()

	nw := &sim.NormalWorld{Calls: calls, Marker: 0x5a5a0000 + uint64(c.Pos())}
	c.SetImage(cpu.NonSecure, nw)

	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if nw.Clobbered != 0 {
		t.Errorf("core %d Normal world EL1 state clobbered on %d calls", c.Pos(), nw.Clobbered)
	}

	return nw
}

func errorCall(code ffa.ErrorCode) sim.Call {
	return sim.NewCall(ffa.FFA_ERROR, 0, uint64(int64(code)))
}

func success(x2 uint64) sim.Call {
	return sim.NewCall(ffa.FFA_SUCCESS_SMC32, 0, x2)
}

func TestVersion(t *testing.T) {
	tp := newPlatform(t, 1, Config{}, testHandoff(testManifest()), 0)

	nw := run(t, tp.Core(0),
		sim.NewCall(ffa.FFA_VERSION, 0),
		sim.NewCall(ffa.FFA_VERSION, uint64(ffa.MakeVersion(1, 2))),
		sim.NewCall(ffa.FFA_VERSION, 1<<31),
	)

	want := []sim.Call{
		success(0x10000),
		success(0x10000),
		errorCall(ffa.NOT_SUPPORTED),
	}

	if diff := cmp.Diff(want, nw.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	if len(tp.spmcs[0].Received) != 0 {
		t.Errorf("version call forwarded to the SPM Core")
	}
}

func TestBoot(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  Config
		spsr uint64
	}{
		{"S-EL1", Config{}, 0x3c5},
		{"S-EL2", Config{SEL2: true, SEL2Present: true}, 0x3c9},
	} {
		t.Run(tt.name, func(t *testing.T) {
			tp := newPlatform(t, 3, tt.cfg, testHandoff(testManifest()), 0)

			for _, c := range tp.Cores() {
				if tp.d.State(c.Pos()) != Idle {
					t.Errorf("core %d state %s", c.Pos(), tp.d.State(c.Pos()))
				}

				ctx := tp.d.Context(c.Pos())

				if ctx.Outstanding() {
					t.Errorf("core %d outstanding SPM Core entry", c.Pos())
				}

				if c.CM().Context(cpu.Secure) != &ctx.CPU {
					t.Errorf("core %d SPM Core context not bound", c.Pos())
				}

				if ctx.CPU.EL3.SPSR != tt.spsr || ctx.CPU.EL3.SCR&cpu.SCR_NS != 0 {
					t.Errorf("core %d SPM Core entry state: %s", c.Pos(), &ctx.CPU)
				}

				if c.CM().NextEret() != cpu.NonSecure {
					t.Errorf("core %d next exception return to %s", c.Pos(), c.CM().NextEret())
				}
			}

			if tp.d.SPMCID() != spmcID || tp.d.Manifest().ExecState != manifest.AArch64 {
				t.Errorf("manifest: %s", tp.d.Manifest())
			}
		})
	}
}

func TestBootEntrypoint(t *testing.T) {
	attrs := testManifest()
	attrs.Entrypoint = 0x0e200000
	attrs.ExecState = manifest.AArch32

	tp := newPlatform(t, 1, Config{}, testHandoff(attrs), 0)
	ctx := tp.d.Context(0)

	if ctx.CPU.EL3.ELR != attrs.Entrypoint {
		t.Errorf("entry point %#x, want %#x", ctx.CPU.EL3.ELR, attrs.Entrypoint)
	}

	if ctx.CPU.EL3.SPSR != 0x1d3 || ctx.CPU.EL3.SCR&cpu.SCR_RW != 0 {
		t.Errorf("AArch32 entry state: %s", &ctx.CPU)
	}
}

func TestBootFailure(t *testing.T) {
	tp := newPlatform(t, 2, Config{}, testHandoff(testManifest()), ffa.ABORTED)

	for _, c := range tp.Cores() {
		if tp.d.State(c.Pos()) != Reset {
			t.Errorf("core %d state %s after failed initialisation", c.Pos(), tp.d.State(c.Pos()))
		}
	}

	// the Normal world still boots
	nw := run(t, tp.Core(1), sim.NewCall(ffa.FFA_ID_GET))

	if diff := cmp.Diff([]sim.Call{success(0)}, nw.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupErrors(t *testing.T) {
	attrs := func(fn func(a *manifest.Attributes)) *manifest.Attributes {
		a := testManifest()
		fn(a)
		return a
	}

	for _, tt := range []struct {
		name string
		cfg  Config
		h    el3.Handoff
		err  error
	}{
		{"no image", Config{}, el3.Handoff{SPMCManifest: manifest.Encode(testManifest())}, ErrNoSPMCImage},
		{"no manifest", Config{}, testHandoff(nil), ErrNoManifest},
		{"major version", Config{}, testHandoff(attrs(func(a *manifest.Attributes) { a.MajorVersion = 2 })), ErrUnsupportedVersion},
		{"minor version", Config{}, testHandoff(attrs(func(a *manifest.Attributes) { a.MinorVersion = 1 })), ErrUnsupportedVersion},
		{"non-secure ID", Config{}, testHandoff(attrs(func(a *manifest.Attributes) { a.SPMCID = 0x0001 })), manifest.ErrInvalidSPMCID},
		{"exec state", Config{}, testHandoff(attrs(func(a *manifest.Attributes) { a.ExecState = 2 })), manifest.ErrInvalidExecState},
		{"S-EL2 AArch32", Config{SEL2: true, SEL2Present: true}, testHandoff(attrs(func(a *manifest.Attributes) { a.ExecState = manifest.AArch32 })), ErrSEL2},
		{"S-EL2 missing", Config{SEL2: true}, testHandoff(testManifest()), ErrSEL2},
		{"EL3 without SPM Core", Config{SPMCAtEL3: true}, testHandoff(nil), ErrNoSPMC},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := el3.NewPlatform(2, tt.h)
			d := New(tt.cfg, nil)

			if err := d.Setup(p); !errors.Is(err, tt.err) {
				t.Fatalf("Setup: %v, want %v", err, tt.err)
			}

			for i := range d.ctx {
				if d.ctx[i].State != Reset || d.ctx[i].CPU != (cpu.Context{}) {
					t.Errorf("core %d context built", i)
				}
			}
		})
	}

	blob := testHandoff(nil)
	blob.SPMCManifest = []byte("maj_ver: [")

	p, _ := el3.NewPlatform(1, blob)

	if err := New(Config{}, nil).Setup(p); err == nil {
		t.Errorf("invalid manifest accepted")
	}
}

func TestSetupDisablesService(t *testing.T) {
	attrs := testManifest()
	attrs.SPMCID = 0x0001

	p, _ := el3.NewPlatform(1, testHandoff(attrs))
	d := New(Config{}, nil)
	p.Register(d.Service())

	if err := p.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	nw := run(t, p.Core(0), sim.NewCall(ffa.FFA_VERSION))

	if nw.Results[0][0] != ffa.SMC_UNK {
		t.Errorf("disabled dispatcher answered: %s", nw.Results[0])
	}

	if d.State(0) != Reset {
		t.Errorf("state %s", d.State(0))
	}
}


func TestForward(t *testing.T) {
	tp := newPlatform(t, 2, Config{SEL2: true, SEL2Present: true}, testHandoff(testManifest()), 0)
	c := tp.Core(1)
	s := tp.spmcs[1]

	calls := []sim.Call{
		sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64, ffa.Endpoints(ffa.NSEndpointID, spmcID), 0, 0xabcd, 4, 5, 6, 7),
		sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32, ffa.Endpoints(ffa.NSEndpointID, spmcID), 0, 0x1234),
		sim.NewCall(ffa.FFA_MEM_SHARE_SMC64, 0x100, 0x100, 0x1000, 1),
		sim.NewCall(ffa.FFA_RXTX_MAP_SMC64, 0x80000000, 0x80001000, 1),
		sim.NewCall(ffa.FFA_FEATURES, uint64(ffa.FFA_MEM_SHARE_SMC64)),
	}

	c.CM().Live.EL2.HCR = 0x11

	nw := run(t, c, calls...)

	ack := sim.NewCall(ffa.FFA_SUCCESS_SMC32, spmcID)

	want := []sim.Call{
		sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64, ffa.Endpoints(spmcID, ffa.NSEndpointID), 0, 0xabcd),
		sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32, ffa.Endpoints(spmcID, ffa.NSEndpointID), 0, 0x1234),
		ack,
		ack,
		ack,
	}

	if diff := cmp.Diff(want, nw.Results); diff != "" {
		t.Errorf("Normal world results mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(calls, s.Received); diff != "" {
		t.Errorf("forwarded calls mismatch (-want +got):\n%s", diff)
	}

	if s.Clobbered != 0 {
		t.Errorf("SPM Core EL1 state clobbered on %d calls", s.Clobbered)
	}

	if c.CM().Live.EL2.HCR != 0x11 || tp.d.Context(1).CPU.EL2.HCR != 0 {
		t.Errorf("EL2 state not switched, live:%#x secure:%#x", c.CM().Live.EL2.HCR, tp.d.Context(1).CPU.EL2.HCR)
	}

	if len(tp.spmcs[0].Received) != 0 {
		t.Errorf("calls forwarded to another core")
	}
}

// handle issues a call from the given world directly to the dispatcher
func handle(d *Dispatcher, c *el3.Core, origin cpu.SecurityState, call sim.Call) sim.Call {
	ctx := c.CM().Context(origin)
	copy(ctx.GP[:8], call[:])

	d.Handle(c, uint32(call[0]), call[1], call[2], call[3], call[4], ctx, origin)

	return sim.Call(ctx.Args())
}

func TestOriginGating(t *testing.T) {
	tp := newPlatform(t, 1, Config{}, testHandoff(testManifest()), 0)
	c := tp.Core(0)
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 256; i++ {
		call := sim.NewCall(ffa.FFA_RXTX_MAP_SMC64, r.Uint64(), r.Uint64(), r.Uint64(), r.Uint64(), r.Uint64(), r.Uint64(), r.Uint64())
		ns := *c.CM().Context(cpu.NonSecure)

		if got := handle(tp.d, c, cpu.Secure, call); got != errorCall(ffa.NOT_SUPPORTED) {
			t.Fatalf("%s: got %s", call, got)
		}

		if *c.CM().Context(cpu.NonSecure) != ns || c.CM().NextEret() != cpu.NonSecure {
			t.Fatalf("%s: call forwarded", call)
		}
	}
}

func TestCallClassification(t *testing.T) {
	ns, sec := cpu.NonSecure, cpu.Secure

	for _, tt := range []struct {
		origin  cpu.SecurityState
		call    sim.Call
		want    sim.Call
		forward bool
	}{
		{ns, sim.NewCall(ffa.FFA_ID_GET), success(ffa.NSEndpointID), false},
		{sec, sim.NewCall(ffa.FFA_ID_GET), success(spmcID), false},
		{ns, sim.NewCall(ffa.FFA_FEATURES, 0x84000001), errorCall(ffa.NOT_SUPPORTED), false},
		{sec, sim.NewCall(ffa.FFA_FEATURES, 0xc4000001), errorCall(ffa.NOT_SUPPORTED), false},
		{sec, sim.NewCall(ffa.FFA_FEATURES, uint64(ffa.FFA_MSG_WAIT)), success(0), false},
		{ns, sim.NewCall(ffa.FFA_FEATURES, uint64(ffa.FFA_MSG_WAIT)), sim.Call{}, true},
		{sec, sim.NewCall(ffa.FFA_VERSION), success(0x10000), false},
		{sec, sim.NewCall(ffa.FFA_RX_RELEASE), errorCall(ffa.NOT_SUPPORTED), false},
		{sec, sim.NewCall(ffa.FFA_RXTX_MAP_SMC32), errorCall(ffa.NOT_SUPPORTED), false},
		{sec, sim.NewCall(ffa.FFA_RXTX_UNMAP), errorCall(ffa.NOT_SUPPORTED), false},
		{sec, sim.NewCall(ffa.FFA_MSG_RUN), errorCall(ffa.NOT_SUPPORTED), false},
		{ns, sim.NewCall(ffa.FFA_MSG_RUN), sim.Call{}, true},
		{ns, sim.NewCall(ffa.FFA_MSG_YIELD), errorCall(ffa.NOT_SUPPORTED), false},
		{ns, sim.NewCall(ffa.FFA_MSG_WAIT), errorCall(ffa.NOT_SUPPORTED), false},
		{sec, sim.NewCall(ffa.FFA_MSG_YIELD), sim.Call{}, true},
		{sec, sim.NewCall(ffa.FFA_MSG_WAIT), sim.Call{}, true},
		{sec, errorCall(ffa.DENIED), sim.Call{}, true},
		{ns, errorCall(ffa.DENIED), sim.Call{}, true},
		{sec, sim.NewCall(ffa.FFA_SUCCESS_SMC64, 1, 2), sim.Call{}, true},
		{ns, sim.NewCall(ffa.FFA_PARTITION_INFO_GET, 1, 2, 3, 4), sim.Call{}, true},
		{ns, sim.NewCall(ffa.FFA_MEM_RECLAIM, 1, 2, 3), sim.Call{}, true},
		{ns, sim.NewCall(ffa.FFA_MSG_POLL), errorCall(ffa.NOT_SUPPORTED), false},
		{ns, sim.NewCall(ffa.FFA_INTERRUPT), errorCall(ffa.NOT_SUPPORTED), false},
	} {
		tp := newPlatform(t, 1, Config{}, testHandoff(testManifest()), 0)
		c := tp.Core(0)
		cm := c.CM()

		cm.SetNextEretContext(tt.origin)

		got := handle(tp.d, c, tt.origin, tt.call)

		if !tt.forward {
			if got != tt.want || cm.NextEret() != tt.origin {
				t.Errorf("%s from %s: got %s", tt.call, tt.origin, got)
			}

			continue
		}

		// forwarded calls reach the other world unchanged
		if cm.NextEret() != tt.origin.Other() {
			t.Errorf("%s from %s: not forwarded", tt.call, tt.origin)
		}

		if target := sim.Call(cm.Context(tt.origin.Other()).Args()); target != tt.call {
			t.Errorf("%s from %s: forwarded as %s", tt.call, tt.origin, target)
		}

		if tp.d.State(0) != Idle {
			t.Errorf("%s from %s: state %s", tt.call, tt.origin, tp.d.State(0))
		}
	}
}

func TestSyncExitWithoutEntry(t *testing.T) {
	tp := newPlatform(t, 1, Config{}, testHandoff(testManifest()), 0)
	c := tp.Core(0)

	// an SPM Core reporting initialisation twice desynchronizes the
	// dispatcher
	tp.d.Context(0).State = Reset

	defer func() {
		if recover() == nil {
			t.Errorf("synchronous exit without entry did not panic")
		}
	}()

	handle(tp.d, c, cpu.Secure, sim.NewCall(ffa.FFA_MSG_WAIT))
}
