// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spmc implements an EL3 resident Secure Partition Manager Core
// hosting a single Management Mode Secure Partition at S-EL0.
package spmc

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ehf"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/world"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

// State represents the Secure Partition lifecycle.
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

// PriorityLevel is the exclusive EHF level held while a core runs the
// Secure Partition.
var PriorityLevel = ehf.Level{
	Name:      "secure partition",
	Priority:  0x10,
	Exclusive: true,
}

// Default endpoint IDs
const (
	DefaultSPMCID      = 0x8000
	DefaultPartitionID = 0x8001
)

// CPACR_EL1 FP/SIMD access from EL0 and EL1
const cpacrFPEN = 3 << 20

var (
	ErrNoEntryPoint = errors.New("no Secure Partition entry point")
	ErrNoPriority   = errors.New("Secure Partition priority level not registered")
)

// Config represents the Secure Partition configuration.
type Config struct {
	// SPMCID is the endpoint ID of the SPM Core
	SPMCID uint16
	// PartitionID is the endpoint ID of the Secure Partition
	PartitionID uint16
	// Entrypoint is the Secure Partition entry point, the secure image
	// handoff is used when zero
	Entrypoint uint64
	// XlatBase is the physical address of the partition translation tables
	XlatBase uint64
	// VASpace is the partition virtual address space size
	VASpace uint64
	// Regions holds the partition memory map
	Regions []xlat.Region
	// Layout describes the partition memory layout reported at boot
	Layout Layout
	// SharedBuffer is the memory backing the secure shared buffer
	// (Layout.SharedBufBase), holding boot information
	SharedBuffer []byte
	// Debug enables verbose logging
	Debug bool
}

// Partition represents the Secure Partition context.
type Partition struct {
	world.Context

	// State is the partition lifecycle state
	State State
	// Xlat is the partition translation context
	Xlat *xlat.Context
}

// Core represents the SPM Core.
type Core struct {
	cfg Config
	ehf *ehf.Framework
	sp  Partition

	// serializes memory attribute changes
	attrMu sync.Mutex
}

// New returns an SPM Core, the partition priority level must be registered
// in the given framework.
func New(cfg Config, f *ehf.Framework) *Core {
	if cfg.SPMCID == 0 {
		cfg.SPMCID = DefaultSPMCID
	}

	if cfg.PartitionID == 0 {
		cfg.PartitionID = DefaultPartitionID
	}

	return &Core{
		cfg: cfg,
		ehf: f,
	}
}

// ID returns the SPM Core endpoint ID.
func (s *Core) ID() uint16 {
	return s.cfg.SPMCID
}

// PartitionID returns the Secure Partition endpoint ID.
func (s *Core) PartitionID() uint16 {
	return s.cfg.PartitionID
}

// Partition returns the Secure Partition context.
func (s *Core) Partition() *Partition {
	return &s.sp
}

// State returns the Secure Partition lifecycle state.
func (s *Core) State() State {
	return s.sp.State
}

// Setup prepares the Secure Partition context and defers its first entry to
// the BL32 initialization hook.
func (s *Core) Setup(p *el3.Platform) (err error) {
	registered := false

	for _, l := range s.ehf.Levels() {
		if l.Priority == PriorityLevel.Priority && l.Exclusive {
			registered = true
		}
	}

	if !registered {
		return ErrNoPriority
	}

	ep := cpu.EntryPointInfo{
		PC:       s.cfg.Entrypoint,
		SPSR:     cpu.SPSR64(cpu.EL0, cpu.SPEL0, cpu.DisableAllExceptions),
		Security: cpu.Secure,
	}

	if ep.PC == 0 && p.Handoff.Secure != nil {
		ep.PC = p.Handoff.Secure.PC
	}

	if ep.PC == 0 {
		return ErrNoEntryPoint
	}

	s.sp.Xlat = xlat.NewContext(s.cfg.XlatBase, s.cfg.VASpace)

	for _, r := range s.cfg.Regions {
		if err = s.sp.Xlat.MapRegion(r); err != nil {
			return fmt.Errorf("could not map partition region %#x, %w", r.VA, err)
		}
	}

	size, err := s.writeBootInfo(p)

	if err != nil {
		return
	}

	ep.Args[0] = s.cfg.Layout.SharedBufBase
	ep.Args[1] = uint64(size)

	cpu.SetupContext(&s.sp.CPU, &ep)

	ttbr0, mair, tcr := s.sp.Xlat.Registers()

	s.sp.CPU.EL1.TTBR0 = ttbr0
	s.sp.CPU.EL1.MAIR = mair
	s.sp.CPU.EL1.TCR = tcr
	s.sp.CPU.EL1.SCTLR |= cpu.SCTLR_M
	s.sp.CPU.EL1.CPACR = cpacrFPEN

	s.sp.State = Reset

	log.Printf("SPMC Secure Partition %#x entry:%#x regions:%d", s.cfg.PartitionID, ep.PC, len(s.cfg.Regions))

	p.RegisterBL32Init(s.init)

	return
}

// syncEntry enters the Secure Partition on core c until it exits
func (s *Core) syncEntry(c *el3.Core) (rc int64, err error) {
	cm := c.CM()

	cm.SetContext(&s.sp.CPU, cpu.Secure)
	cm.EL1SysregsRestore(cpu.Secure)
	cm.SetNextEretContext(cpu.Secure)

	rc, err = world.SyncEntry(c, &s.sp.Context)

	cm.EL1SysregsSave(cpu.Secure)

	return
}

// init performs the first Secure Partition entry
func (s *Core) init(c *el3.Core) bool {
	log.Printf("SPMC initializing Secure Partition on core %d", c.Pos())

	rc, err := s.syncEntry(c)

	if err != nil || rc != 0 {
		log.Printf("SPMC Secure Partition initialization failed, rc:%d err:%v", rc, err)
		return false
	}

	s.sp.State = Idle
	log.Printf("SPMC Secure Partition initialized")

	return true
}
