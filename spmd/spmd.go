// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spmd implements the Secure Partition Manager Dispatcher, the EL3
// runtime service routing FF-A calls between the Normal world and the SPM
// Core.
//
// The SPM Core runs either at a lower secure exception level, as a separate
// image described by its manifest, or in EL3 itself (see package spmc).
package spmd

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/manifest"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/world"
)

// State represents the SPM Core lifecycle on a core.
type State int

const (
	Reset State = iota
	Idle
)

func (s State) String() string {
	switch s {
	case Reset:
		return "reset"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrNoSPMCImage        = errors.New("SPM Core image not found")
	ErrNoManifest         = errors.New("SPM Core manifest not found")
	ErrUnsupportedVersion = errors.New("unsupported FF-A version")
	ErrSEL2               = errors.New("S-EL2 SPM Core configuration not supported")
	ErrNoSPMC             = errors.New("EL3 SPM Core not configured")
)

// Config represents the dispatcher build options.
type Config struct {
	// SEL2 runs the SPM Core at S-EL2, EL2 system registers are switched
	// along with EL1 ones
	SEL2 bool
	// SEL2Present reports S-EL2 support in the platform
	SEL2Present bool
	// SPMCAtEL3 selects the EL3 resident SPM Core
	SPMCAtEL3 bool
	// Debug enables logging of every handled call
	Debug bool
}

// SPMCContext represents the per-core SPM Core context.
type SPMCContext struct {
	world.Context

	// State is the SPM Core lifecycle state on the core
	State State
}

// Dispatcher represents the SPM Dispatcher.
type Dispatcher struct {
	cfg  Config
	spmc *spmc.Core

	attrs *manifest.Attributes
	ep    cpu.EntryPointInfo

	ctx [cpu.PlatformCoreCount]SPMCContext
}

// New returns a dispatcher, the EL3 SPM Core is only required when
// cfg.SPMCAtEL3 is set.
func New(cfg Config, s *spmc.Core) *Dispatcher {
	return &Dispatcher{
		cfg:  cfg,
		spmc: s,
	}
}

// Service returns the dispatcher runtime service, serving standard fast
// calls.
func (d *Dispatcher) Service() *el3.Service {
	return &el3.Service{
		Name:     "spmd",
		StartOEN: el3.OEN_STD_START,
		EndOEN:   el3.OEN_STD_END,
		Type:     el3.SMC_TYPE_FAST,
		Setup:    d.Setup,
		Handler:  d.Handle,
	}
}

// Context returns the SPM Core context of a core.
func (d *Dispatcher) Context(core cpu.CoreIndex) *SPMCContext {
	return &d.ctx[core]
}

// State returns the SPM Core lifecycle state of a core.
func (d *Dispatcher) State(core cpu.CoreIndex) State {
	return d.ctx[core].State
}

// Manifest returns the SPM Core manifest attributes, nil until a successful
// setup of a lower EL SPM Core.
func (d *Dispatcher) Manifest() *manifest.Attributes {
	return d.attrs
}

// SPMCID returns the SPM Core endpoint ID.
func (d *Dispatcher) SPMCID() uint16 {
	if d.cfg.SPMCAtEL3 {
		return d.spmc.ID()
	}

	if d.attrs == nil {
		return 0
	}

	return d.attrs.SPMCID
}

// Version returns the FF-A version advertised to callers.
func (d *Dispatcher) Version() ffa.Version {
	if d.cfg.SPMCAtEL3 || d.attrs == nil {
		return ffa.CompiledVersion
	}

	return d.attrs.Version()
}

// Setup validates the SPM Core manifest, prepares the SPM Core entry on the
// primary core and defers the first entry to the BL32 initialization hook.
func (d *Dispatcher) Setup(p *el3.Platform) (err error) {
	if d.cfg.SPMCAtEL3 {
		if d.spmc == nil {
			return ErrNoSPMC
		}

		log.Printf("SPMD SPM Core at EL3")

		return d.spmc.Setup(p)
	}

	h := p.Handoff

	if h.Secure == nil {
		return ErrNoSPMCImage
	}

	if len(h.SPMCManifest) == 0 {
		return ErrNoManifest
	}

	attrs, err := manifest.Load(h.SPMCManifest)

	if err != nil {
		return fmt.Errorf("invalid SPM Core manifest, %w", err)
	}

	if attrs.MajorVersion != ffa.VersionMajor || attrs.MinorVersion > ffa.VersionMinor {
		return fmt.Errorf("%w %s (supported %s)", ErrUnsupportedVersion, attrs.Version(), ffa.CompiledVersion)
	}

	if err = attrs.Validate(); err != nil {
		return
	}

	if d.cfg.SEL2 && attrs.ExecState == manifest.AArch32 {
		return fmt.Errorf("%w, AArch32 execution state", ErrSEL2)
	}

	if d.cfg.SEL2 && !d.cfg.SEL2Present {
		return fmt.Errorf("%w, S-EL2 not implemented", ErrSEL2)
	}

	ep := *h.Secure
	ep.Security = cpu.Secure

	if attrs.Entrypoint != 0 {
		ep.PC = attrs.Entrypoint
	}

	if attrs.ExecState == manifest.AArch64 {
		el := uint32(cpu.EL1)

		if d.cfg.SEL2 {
			el = cpu.EL2
		}

		ep.SPSR = cpu.SPSR64(el, cpu.SPELx, cpu.DisableAllExceptions)
	} else {
		ep.SPSR = cpu.SPSRMode32(cpu.MODE32_svc, cpu.SPSR_T_ARM, cpu.SPSR_E_LITTLE, cpu.SPSR_FIQ|cpu.SPSR_IRQ|cpu.SPSR_ABT)
	}

	d.attrs = attrs
	d.ep = ep

	primary := p.Core(0).Pos()

	cpu.SetupContext(&d.ctx[primary].CPU, &d.ep)
	d.ctx[primary].State = Reset

	log.Printf("SPMD SPM Core %s entry:%#x", attrs, ep.PC)

	p.RegisterBL32Init(d.init)
	p.RegisterPowerOn(d.cpuOn)

	return
}

// syncEntry enters the SPM Core on core c until it exits.
func (d *Dispatcher) syncEntry(c *el3.Core) (rc int64, err error) {
	cm := c.CM()
	ctx := &d.ctx[c.Pos()]

	cm.SetContext(&ctx.CPU, cpu.Secure)
	cm.EL1SysregsRestore(cpu.Secure)

	if d.cfg.SEL2 {
		cm.EL2SysregsRestore(cpu.Secure)
	}

	cm.SetNextEretContext(cpu.Secure)

	rc, err = world.SyncEntry(c, &ctx.Context)

	cm.EL1SysregsSave(cpu.Secure)

	if d.cfg.SEL2 {
		cm.EL2SysregsSave(cpu.Secure)
	}

	return
}

// init performs the first SPM Core entry on a core.
func (d *Dispatcher) init(c *el3.Core) bool {
	ctx := &d.ctx[c.Pos()]

	rc, err := d.syncEntry(c)

	if err != nil || rc != 0 {
		log.Printf("SPMD SPM Core initialisation failed on core %d, rc:%d err:%v", c.Pos(), rc, err)
		return false
	}

	ctx.State = Idle

	if d.cfg.Debug {
		log.Printf("SPMD SPM Core initialised on core %d", c.Pos())
	}

	return true
}

// cpuOn prepares and initializes the SPM Core on a secondary core.
func (d *Dispatcher) cpuOn(c *el3.Core) error {
	ctx := &d.ctx[c.Pos()]

	cpu.SetupContext(&ctx.CPU, &d.ep)
	ctx.State = Reset

	if !d.init(c) {
		return fmt.Errorf("SPM Core initialisation failed on core %d", c.Pos())
	}

	return nil
}
