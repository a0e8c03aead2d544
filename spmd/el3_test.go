// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spmd

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ehf"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/sim"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

const (
	spBase  = 0x40000000
	commBuf = 0x88000000
)

func newEL3Platform(t *testing.T, cores int, sp *sim.Partition) (*el3.Platform, *Dispatcher, *spmc.Core) {
	t.Helper()

	f, err := ehf.New(spmc.PriorityLevel)

	if err != nil {
		t.Fatal(err)
	}

	s := spmc.New(spmc.Config{
		Entrypoint: spBase,
		XlatBase:   0x7f000000,
		VASpace:    1 << 32,
		Regions: []xlat.Region{
			{PA: spBase, VA: spBase, Size: 0x10000, Attr: xlat.Code | xlat.User},
			{PA: spBase + 0x10000, VA: spBase + 0x10000, Size: 0x1000, Attr: xlat.RWData | xlat.User},
		},
		Layout: spmc.Layout{
			SharedBufBase: spBase + 0x10000,
			SharedBufSize: 0x1000,
		},
		SharedBuffer: make([]byte, 0x1000),
	}, f)

	d := New(Config{SPMCAtEL3: true}, s)

	p, err := el3.NewPlatform(cores, testHandoff(nil))

	if err != nil {
		t.Fatal(err)
	}

	if err = p.Register(d.Service()); err != nil {
		t.Fatal(err)
	}

	for _, c := range p.Cores() {
		c.SetImage(cpu.Secure, sp)
	}

	if err = p.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	return p, d, s
}

func mmRequest(buf uint64, size uint64) sim.Call {
	return sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64, ffa.Endpoints(ffa.NSEndpointID, spmc.DefaultPartitionID), 0, ffa.MM_INTERFACE_ID_AARCH64, 0, buf, size)
}

func TestSPMCAtEL3(t *testing.T) {
	var served []uint64

	sp := &sim.Partition{
		BootRequests: []sim.Call{
			sim.NewCall(ffa.FFA_ID_GET),
			sim.NewCall(ffa.FFA_RXTX_MAP_SMC64, 1, 2, 3),
		},
		Handler: func(buf, size, core uint64) int64 {
			served = append(served, buf)
			return ffa.MM_SUCCESS
		},
	}

	p, d, s := newEL3Platform(t, 2, sp)

	if s.State() != spmc.Idle {
		t.Fatalf("partition state %s", s.State())
	}

	// secure calls are served by the EL3 SPM Core
	wantBoot := []sim.Call{
		success(spmc.DefaultPartitionID),
		errorCall(ffa.NOT_SUPPORTED),
	}

	if diff := cmp.Diff(wantBoot, sp.BootResults); diff != "" {
		t.Errorf("boot results mismatch (-want +got):\n%s", diff)
	}

	nw := run(t, p.Core(1),
		sim.NewCall(ffa.FFA_VERSION),
		sim.NewCall(ffa.FFA_ID_GET),
		mmRequest(commBuf, 0x100),
		mmRequest(0, 0x100),
		sim.NewCall(ffa.FFA_MEM_SHARE_SMC64),
		sim.NewCall(ffa.FFA_FEATURES, uint64(ffa.FFA_VERSION)),
		sim.NewCall(ffa.FFA_FEATURES, uint64(ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64)),
		sim.NewCall(ffa.FFA_FEATURES, uint64(ffa.FFA_MEM_SHARE_SMC64)),
	)

	want := []sim.Call{
		success(uint64(ffa.CompiledVersion)),
		success(ffa.NSEndpointID),
		sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64, ffa.Endpoints(spmc.DefaultPartitionID, ffa.NSEndpointID)),
		errorCall(ffa.INVALID_PARAMETER),
		errorCall(ffa.NOT_SUPPORTED),
		success(0),
		success(0),
		errorCall(ffa.NOT_SUPPORTED),
	}

	if diff := cmp.Diff(want, nw.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	if len(served) != 1 || served[0] != commBuf {
		t.Errorf("partition requests: %#x", served)
	}

	if d.SPMCID() != spmc.DefaultSPMCID || d.Version() != ffa.CompiledVersion {
		t.Errorf("SPM Core id:%#x version:%s", d.SPMCID(), d.Version())
	}
}

// Overlapping MM requests from different cores enter the partition one at a
// time.
func TestSPMCAtEL3Concurrent(t *testing.T) {
	const (
		cores    = 2
		requests = 32
	)

	var (
		mu      sync.Mutex
		inside  bool
		overlap int
		order   []uint64
	)

	sp := &sim.Partition{
		Handler: func(buf, size, core uint64) int64 {
			mu.Lock()

			if inside {
				overlap++
			}

			inside = true
			order = append(order, core)
			mu.Unlock()

			time.Sleep(50 * time.Microsecond)

			mu.Lock()
			inside = false
			mu.Unlock()

			return ffa.MM_SUCCESS
		},
	}

	p, _, s := newEL3Platform(t, cores, sp)

	var g errgroup.Group
	nws := make([]*sim.NormalWorld, cores)

	for i, c := range p.Cores() {
		var calls []sim.Call

		for j := 0; j < requests; j++ {
			calls = append(calls, mmRequest(commBuf, uint64(j+1)))
		}

		nws[i] = &sim.NormalWorld{Calls: calls, Marker: uint64(i) + 1}
		c.SetImage(cpu.NonSecure, nws[i])

		g.Go(c.Run)
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if overlap != 0 {
		t.Errorf("%d overlapping partition entries", overlap)
	}

	if len(order) != cores*requests {
		t.Errorf("served %d requests, want %d", len(order), cores*requests)
	}

	for i, nw := range nws {
		if len(nw.Results) != requests || nw.Clobbered != 0 {
			t.Errorf("core %d results:%d clobbered:%d", i, len(nw.Results), nw.Clobbered)
		}
	}

	if s.Partition().Outstanding() {
		t.Errorf("outstanding partition entry")
	}
}
