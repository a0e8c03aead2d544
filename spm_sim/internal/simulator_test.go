// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package simulator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/manifest"
	"github.com/usbarmory/GoTEE-spm/sim"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/spmd"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

const lowerELConfig = `
cores: 2
spmc:
  entrypoint: 0x0e100000
  id: 0x8001
  manifest: |
    maj_ver: 1
    min_ver: 0
    spmc_id: 0x8001
    exec_state: 0
scripts:
  0:
    - FFA_VERSION 0x10000
    - FFA_ID_GET
    - FFA_MSG_SEND_DIRECT_REQ_SMC64 0x8001 0 0x42
  1:
    - FFA_RXTX_MAP_SMC64 1 2 3
`

const el3Config = `
cores: 2
spmc_at_el3: true
partition:
  entrypoint: 0x40000000
  xlat_base: 0x7f000000
  va_space: 0x100000000
  regions:
    - {pa: 0x40000000, va: 0x40000000, size: 0x10000, attr: [code, user]}
    - {pa: 0x40010000, va: 0x40010000, size: 0x1000, attr: [rwdata, user]}
  layout:
    shared_buf_base: 0x40010000
    shared_buf_size: 0x1000
  boot:
    - FFA_MSG_SEND_DIRECT_REQ_SMC64 0x80018000 0 0xc4000064 0x40000000
scripts:
  0:
    - FFA_MSG_SEND_DIRECT_REQ_SMC64 0x8001 0 0xc4000041 0 0x88000000 0x100
    - FFA_MSG_SEND_DIRECT_REQ_SMC64 0x8001 0 0xc4000041 0 0 0x100
  1:
    - FFA_MSG_SEND_DIRECT_REQ_SMC32 0x8001 0 0x84000041 0 0x88001000 0x80
    - FFA_VERSION 0x10000
`

func newSimulation(t *testing.T, conf string) (*Simulation, *bytes.Buffer) {
	t.Helper()

	cfg, err := Parse([]byte(conf), t.TempDir())

	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer

	s, err := New(cfg, &out)

	if err != nil {
		t.Fatal(err)
	}

	if err = s.Boot(); err != nil {
		t.Fatal(err)
	}

	return s, &out
}

func results(nws []*sim.NormalWorld) (res [][]sim.Call) {
	for _, nw := range nws {
		if nw == nil {
			res = append(res, nil)
			continue
		}

		res = append(res, nw.Results)
	}

	return
}

func TestLowerELSPMC(t *testing.T) {
	s, out := newSimulation(t, lowerELConfig)

	for _, c := range s.Platform.Cores() {
		if state := s.Dispatcher.State(c.Pos()); state != spmd.Idle {
			t.Errorf("core %d SPM Core state %s", c.Pos(), state)
		}
	}

	nws, err := s.Run(context.Background())

	if err != nil {
		t.Fatal(err)
	}

	want := [][]sim.Call{
		{
			sim.NewCall(ffa.FFA_SUCCESS_SMC32, 0, 0x10000),
			sim.NewCall(ffa.FFA_SUCCESS_SMC32, 0, 0),
			sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64, ffa.Endpoints(0x8001, ffa.NSEndpointID), 0, 0x42),
		},
		{
			sim.NewCall(ffa.FFA_SUCCESS_SMC32, 0x8001),
		},
	}

	if diff := cmp.Diff(want, results(nws)); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	for i, img := range s.SPMCImages {
		if len(img.Received) != 1 || img.Clobbered != 0 {
			t.Errorf("core %d SPM Core received:%d clobbered:%d", i, len(img.Received), img.Clobbered)
		}
	}

	if !strings.Contains(out.String(), "core:1 FFA_RXTX_MAP_SMC64 -> FFA_SUCCESS_SMC32") {
		t.Errorf("missing result trace in %q", out.String())
	}
}

func TestEL3SPMC(t *testing.T) {
	s, out := newSimulation(t, el3Config)

	if s.SPMC.State() != spmc.Idle {
		t.Fatalf("partition state %s", s.SPMC.State())
	}

	wantBoot := []sim.Call{
		sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64, 0x80008001, 0, ffa.MemAttrAccessRO),
	}

	if diff := cmp.Diff(wantBoot, s.Partition.BootResults); diff != "" {
		t.Errorf("boot results mismatch (-want +got):\n%s", diff)
	}

	nws, err := s.Run(context.Background())

	if err != nil {
		t.Fatal(err)
	}

	invalid := ffa.INVALID_PARAMETER

	want := [][]sim.Call{
		{
			sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64, 0x80010000, 0, ffa.MM_SUCCESS),
			sim.NewCall(ffa.FFA_ERROR, 0, uint64(int64(invalid))),
		},
		{
			sim.NewCall(ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32, 0x80010000, 0, ffa.MM_SUCCESS),
			sim.NewCall(ffa.FFA_SUCCESS_SMC32, 0, 0x10000),
		},
	}

	if diff := cmp.Diff(want, results(nws)); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]int{1, 1}, s.MMRequests()); diff != "" {
		t.Errorf("MM requests mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(out.String(), "MM core:1 buf:0x88001000 size:0x80") {
		t.Errorf("missing partition output in %q", out.String())
	}

	target, err := s.Target()

	if err != nil {
		t.Fatal(err)
	}

	res, err := target.Call(s.Platform.Core(1), sim.NewCall(ffa.FFA_ID_GET))

	if err != nil {
		t.Fatal(err)
	}

	if res != sim.NewCall(ffa.FFA_SUCCESS_SMC32, 0, 0) {
		t.Errorf("console call returned %s", res)
	}
}

func TestManifestFile(t *testing.T) {
	dir := t.TempDir()

	dtb := manifest.Encode(&manifest.Attributes{
		MajorVersion: 1,
		SPMCID:       0x8001,
		ExecState:    manifest.AArch32,
	})

	if err := os.WriteFile(filepath.Join(dir, "spmc.dtb"), dtb, 0600); err != nil {
		t.Fatal(err)
	}

	conf := []byte("spmc:\n  entrypoint: 0x0e100000\n  manifest_file: spmc.dtb\n")
	path := filepath.Join(dir, "platform.yaml")

	if err := os.WriteFile(path, conf, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)

	if err != nil {
		t.Fatal(err)
	}

	s, err := New(cfg, &bytes.Buffer{})

	if err != nil {
		t.Fatal(err)
	}

	if err = s.Boot(); err != nil {
		t.Fatal(err)
	}

	if attrs := s.Dispatcher.Manifest(); attrs == nil || attrs.ExecState != manifest.AArch32 {
		t.Errorf("manifest not loaded from DTB: %v", attrs)
	}
}

func TestConfigErrors(t *testing.T) {
	for _, conf := range []string{
		"cores: [",
		"cores: 1\nscripts:\n  1: [FFA_VERSION]\n",
	} {
		if _, err := Parse([]byte(conf), ""); err == nil {
			t.Errorf("accepted invalid configuration %q", conf)
		}
	}

	cfg, err := Parse([]byte("cores: 1\nscripts:\n  0: [FFA_BOGUS]\n"), "")

	if err != nil {
		t.Fatal(err)
	}

	s, err := New(cfg, &bytes.Buffer{})

	if err != nil {
		t.Fatal(err)
	}

	if _, err = s.Run(context.Background()); err == nil {
		t.Errorf("invalid script accepted")
	}

	cfg, err = Parse([]byte("cores: 9\n"), "")

	if err != nil {
		t.Fatal(err)
	}

	if _, err = New(cfg, nil); err == nil {
		t.Errorf("invalid core count accepted")
	}
}

func TestParseAttr(t *testing.T) {
	attr, err := ParseAttr([]string{"RWData", "user"})

	if err != nil {
		t.Fatal(err)
	}

	if want := xlat.RWData | xlat.User; attr != want {
		t.Errorf("got %s, want %s", attr, want)
	}

	if _, err = ParseAttr([]string{"bogus"}); err == nil {
		t.Errorf("invalid attribute accepted")
	}

	r, err := RegionConfig{PA: 0x200000, VA: 0x200000, Size: 0x200000, Attr: []string{"code"}, Block: true}.Region()

	if err != nil {
		t.Fatal(err)
	}

	if r.Granularity != xlat.BlockSize || r.Attr != xlat.Code {
		t.Errorf("unexpected region %+v", r)
	}
}

func TestCancel(t *testing.T) {
	s, _ := newSimulation(t, lowerELConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx); err == nil {
		t.Errorf("cancelled run succeeded")
	}
}

func TestExampleConfigs(t *testing.T) {
	for _, name := range []string{"spmc_el1.yaml", "spmc_el3.yaml"} {
		cfg, err := Load(filepath.Join("..", name))

		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		s, err := New(cfg, &bytes.Buffer{})

		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		if err = s.Boot(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}

		if _, err = s.Run(context.Background()); err != nil {
			t.Errorf("%s: %v", name, err)
		}

		if s.SPMC == nil {
			continue
		}

		if s.SPMC.State() != spmc.Idle {
			t.Errorf("%s: partition state %s", name, s.SPMC.State())
		}

		invalid := int64(ffa.MM_INVALID_PARAMETER)

		for i, res := range s.Partition.BootResults {
			if res[3] == uint64(invalid) {
				t.Errorf("%s: boot request %d failed", name, i)
			}
		}
	}
}
