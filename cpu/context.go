// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cpu models the per-core architectural state saved and restored by
// the EL3 runtime on every world switch.
package cpu

import (
	"fmt"
)

// SecurityState identifies one of the mutually distrusting worlds.
type SecurityState int

const (
	NonSecure SecurityState = iota
	Secure
)

// number of security states with a saved context
const securityStates = 2

func (s SecurityState) String() string {
	switch s {
	case NonSecure:
		return "non-secure"
	case Secure:
		return "secure"
	default:
		return fmt.Sprintf("SecurityState(%d)", int(s))
	}
}

// Other returns the opposite world.
func (s SecurityState) Other() SecurityState {
	if s == Secure {
		return NonSecure
	}

	return Secure
}

// CoreIndex is the linear index of a physical core.
type CoreIndex int

// PlatformCoreCount is the upper bound of any per-core array.
const PlatformCoreCount = 8

// Valid reports whether the index addresses a core slot.
func (i CoreIndex) Valid() bool {
	return i >= 0 && i < PlatformCoreCount
}

// EL3State holds the exception return state of a world.
type EL3State struct {
	SCR  uint64
	ELR  uint64
	SPSR uint64
}

// EL1Sysregs holds the EL1 (and EL0 banked) system registers of a world.
type EL1Sysregs struct {
	SCTLR      uint64
	ACTLR      uint64
	CPACR      uint64
	CSSELR     uint64
	SP         uint64
	ESR        uint64
	TTBR0      uint64
	TTBR1      uint64
	MAIR       uint64
	AMAIR      uint64
	TCR        uint64
	TPIDR      uint64
	TPIDRRO    uint64
	PAR        uint64
	FAR        uint64
	AFSR0      uint64
	AFSR1      uint64
	CONTEXTIDR uint64
	VBAR       uint64
	ELR        uint64
	SPSR       uint64
	SPEL0      uint64
	TPIDREL0   uint64
	CNTKCTL    uint64
}

// EL2Sysregs holds the EL2 system registers of a world, only saved when the
// Secure world runs an S-EL2 hypervisor.
type EL2Sysregs struct {
	HCR   uint64
	VTTBR uint64
	VTCR  uint64
	VBAR  uint64
	SCTLR uint64
	TTBR0 uint64
	TCR   uint64
	MAIR  uint64
	ELR   uint64
	SPSR  uint64
	SP    uint64
	ESR   uint64
	TPIDR uint64
}

// Sysregs represents the live system register banks of a core.
type Sysregs struct {
	EL1 EL1Sysregs
	EL2 EL2Sysregs
}

// Context represents the saved state of one world on one core.
type Context struct {
	// GP holds general purpose registers x0-x30
	GP [31]uint64
	// EL3 holds the exception return state
	EL3 EL3State
	// EL1 holds the saved EL1 system registers
	EL1 EL1Sysregs
	// EL2 holds the saved EL2 system registers
	EL2 EL2Sysregs
}

// X returns general purpose register n.
func (c *Context) X(n int) uint64 {
	return c.GP[n]
}

// Ret writes up to eight return values in x0-x7, registers beyond the
// given values are left untouched.
func (c *Context) Ret(x ...uint64) {
	if len(x) > 8 {
		panic("cpu: more than eight return registers")
	}

	copy(c.GP[:], x)
}

// Args returns the x0-x7 call registers.
func (c *Context) Args() (x [8]uint64) {
	copy(x[:], c.GP[:8])
	return
}

func (c *Context) String() string {
	return fmt.Sprintf("x0:%#.16x x1:%#.16x x2:%#.16x x3:%#.16x x4:%#.16x elr:%#.16x spsr:%#.8x scr:%#.8x",
		c.GP[0], c.GP[1], c.GP[2], c.GP[3], c.GP[4], c.EL3.ELR, c.EL3.SPSR, c.EL3.SCR)
}
