// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package simulator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ehf"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/sim"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/spmd"
	"github.com/usbarmory/GoTEE-spm/util"
	"github.com/usbarmory/GoTEE-spm/world"
)

// Simulation represents a simulated platform.
type Simulation struct {
	Config *Config

	Platform   *el3.Platform
	Dispatcher *spmd.Dispatcher
	// SPMC is the EL3 SPM Core, nil with a lower EL one
	SPMC *spmc.Core
	EHF  *ehf.Framework

	// SPMCImages holds the per-core lower EL SPM Core images
	SPMCImages []*sim.SPMC
	// Partition is the Secure Partition image of the EL3 SPM Core
	Partition *sim.Partition

	// Log holds the output of lower EL images
	Log *util.BufferedLog

	mu sync.Mutex
	mm []int
}

// MMRequests returns the number of MM requests served on each core.
func (s *Simulation) MMRequests() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.mm...)
}

func (s *Simulation) serve(buf uint64, size uint64, core uint64) int64 {
	s.mu.Lock()
	s.mm[core]++
	s.mu.Unlock()

	fmt.Fprintf(s.Log.Writer(cpu.Secure), "MM core:%d buf:%#x size:%#x\n", core, buf, size)

	return s.Config.Partition.MMStatus
}

// New builds a platform from its description, cores are not booted.
func New(cfg *Config, out io.Writer) (s *Simulation, err error) {
	if out == nil {
		out = os.Stdout
	}

	s = &Simulation{
		Config: cfg,
		Log:    &util.BufferedLog{Output: out},
		mm:     make([]int, cfg.Cores),
	}

	h := el3.Handoff{
		NonSecure: &cpu.EntryPointInfo{
			PC:   cfg.NSEntry,
			SPSR: cpu.SPSR64(cpu.EL1, cpu.SPELx, cpu.DisableAllExceptions),
		},
	}

	if cfg.SPMCAtEL3 {
		if err = s.newSPMC(); err != nil {
			return
		}
	} else {
		if h.SPMCManifest, err = cfg.Manifest(); err != nil {
			return nil, fmt.Errorf("could not read manifest, %v", err)
		}

		if cfg.SPMC.Entrypoint != 0 {
			h.Secure = &cpu.EntryPointInfo{PC: cfg.SPMC.Entrypoint}
		}
	}

	s.Dispatcher = spmd.New(spmd.Config{
		SEL2:        cfg.SEL2,
		SEL2Present: cfg.SEL2Present,
		SPMCAtEL3:   cfg.SPMCAtEL3,
		Debug:       cfg.Debug,
	}, s.SPMC)

	if s.Platform, err = el3.NewPlatform(cfg.Cores, h); err != nil {
		return
	}

	if err = s.Platform.Register(s.Dispatcher.Service()); err != nil {
		return
	}

	for _, c := range s.Platform.Cores() {
		c.Debug = cfg.Debug

		if cfg.SPMCAtEL3 {
			c.SetImage(cpu.Secure, s.Partition)
			continue
		}

		img := &sim.SPMC{
			ID:        cfg.SPMC.ID,
			BootError: ffa.ErrorCode(cfg.SPMC.BootError),
			Marker:    0x5ec00000 + uint64(c.Pos()),
		}

		s.SPMCImages = append(s.SPMCImages, img)
		c.SetImage(cpu.Secure, img)
	}

	return
}

func (s *Simulation) newSPMC() (err error) {
	pc := s.Config.Partition

	if s.EHF, err = ehf.New(spmc.PriorityLevel); err != nil {
		return
	}

	boot, err := parseCalls(pc.Boot)

	if err != nil {
		return fmt.Errorf("invalid partition boot request, %v", err)
	}

	s.Partition = &sim.Partition{
		BootRequests: boot,
		BootRC:       pc.BootStatus,
		Handler:      s.serve,
		ELR:          pc.Entrypoint,
	}

	cfg := spmc.Config{
		Entrypoint: pc.Entrypoint,
		XlatBase:   pc.XlatBase,
		VASpace:    pc.VASpace,
		Layout:     pc.Layout,
		Debug:      s.Config.Debug,
	}

	if size := pc.Layout.SharedBufSize; size > 0 {
		cfg.SharedBuffer = make([]byte, size)
	}

	for _, r := range pc.Regions {
		region, err := r.Region()

		if err != nil {
			return err
		}

		cfg.Regions = append(cfg.Regions, region)
	}

	s.SPMC = spmc.New(cfg, s.EHF)

	return
}

// Boot performs the platform cold boot.
func (s *Simulation) Boot() error {
	defer s.Log.Flush()
	return s.Platform.Boot()
}

// Target returns the console view of the simulation, Normal world calls are
// issued by the console.
func (s *Simulation) Target() (t *console.Target, err error) {
	t = &console.Target{
		Platform:   s.Platform,
		Dispatcher: s.Dispatcher,
		SPMC:       s.SPMC,
		EHF:        s.EHF,
		Call:       sim.Issue,
	}

	for name, path := range s.Config.Images {
		buf, err := os.ReadFile(s.Config.path(path))

		if err != nil {
			return nil, err
		}

		img, err := util.NewImage(name, buf)

		if err != nil {
			return nil, err
		}

		t.Images = append(t.Images, img)
	}

	return
}

// cancellable stops a Normal world image once its context is done
type cancellable struct {
	world.Image
	ctx context.Context
}

func (c cancellable) Step(ctx *cpu.Context, regs *cpu.Sysregs) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}

	return c.Image.Step(ctx, regs)
}

// Run executes the Normal world scripts of all cores concurrently, the
// returned Normal worlds hold each core results.
func (s *Simulation) Run(ctx context.Context) (nws []*sim.NormalWorld, err error) {
	cores := s.Platform.Cores()
	scripts := make([][]sim.Call, len(cores))

	for i := range cores {
		if scripts[i], err = parseCalls(s.Config.Scripts[i]); err != nil {
			return nil, fmt.Errorf("core %d script, %v", i, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	nws = make([]*sim.NormalWorld, len(cores))

	for i, c := range cores {
		if len(scripts[i]) == 0 {
			continue
		}

		nws[i] = &sim.NormalWorld{
			Calls:  scripts[i],
			Marker: 0x4e530000 + uint64(i),
		}

		c.SetImage(cpu.NonSecure, cancellable{nws[i], ctx})
		g.Go(c.Run)
	}

	err = g.Wait()

	w := s.Log.Writer(cpu.NonSecure)

	for i, nw := range nws {
		if nw == nil {
			continue
		}

		for j, res := range nw.Results {
			fmt.Fprintf(w, "core:%d %s -> %s\n", i, ffa.FunctionID(scripts[i][j][0]), res)
		}

		if nw.Clobbered != 0 {
			log.Printf("SM core:%d Normal world state clobbered on %d calls", i, nw.Clobbered)
		}
	}

	s.Log.Flush()

	return
}
