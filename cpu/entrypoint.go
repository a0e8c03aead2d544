// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cpu

// Exception levels
const (
	EL0 = 0
	EL1 = 1
	EL2 = 2
	EL3 = 3
)

// Stack pointer selection
const (
	SPEL0 = 0
	SPELx = 1
)

// AArch64 DAIF mask bits
const (
	DAIF_FIQ = 1 << 0
	DAIF_IRQ = 1 << 1
	DAIF_ABT = 1 << 2
	DAIF_DBG = 1 << 3

	DisableAllExceptions = DAIF_FIQ | DAIF_IRQ | DAIF_ABT | DAIF_DBG
)

// AArch32 processor modes and mask bits
const (
	MODE32_usr = 0x0
	MODE32_svc = 0x3

	SPSR_T_ARM    = 0
	SPSR_E_LITTLE = 0

	SPSR_FIQ = 1 << 0
	SPSR_IRQ = 1 << 1
	SPSR_ABT = 1 << 2
)

const (
	modeRWShift = 4
	modeRW32    = 1

	spsrDAIFShift = 6
	spsrAIFShift  = 6
	spsrTShift    = 5
	spsrEShift    = 9
)

// SCR_EL3 bits
const (
	SCR_NS = 1 << 0
	SCR_RW = 1 << 10
)

// SCTLR_EL1 reset value (RES1 bits) and MMU enable bit
const (
	SCTLR_EL1_RES1 = 0x30d00800
	SCTLR_M        = 1 << 0
)

// SPSR64 encodes an AArch64 SPSR_EL3 value.
func SPSR64(el uint32, sp uint32, daif uint32) uint64 {
	return uint64((el&3)<<2 | (sp & 1) | (daif&0xf)<<spsrDAIFShift)
}

// SPSRMode32 encodes an AArch32 SPSR_EL3 value.
func SPSRMode32(mode uint32, isa uint32, endian uint32, aif uint32) uint64 {
	return uint64(modeRW32<<modeRWShift | (mode & 0xf) | (isa&1)<<spsrTShift | (endian&1)<<spsrEShift | (aif&7)<<spsrAIFShift)
}

// SPSRIsAArch32 reports whether an SPSR value targets AArch32.
func SPSRIsAArch32(spsr uint64) bool {
	return (spsr>>modeRWShift)&1 == modeRW32
}

// SPSRTargetEL returns the exception level targeted by an AArch64 SPSR value.
func SPSRTargetEL(spsr uint64) uint32 {
	return uint32(spsr>>2) & 3
}

// EntryPointInfo describes the initial state of an image.
type EntryPointInfo struct {
	// PC is the entry point address
	PC uint64
	// SPSR is the initial saved program status
	SPSR uint64
	// Args holds the initial x0-x7 values
	Args [8]uint64
	// Security is the world the image runs in
	Security SecurityState
}

// SetupContext initializes a context from an entry point, all previous
// register state is discarded.
func SetupContext(ctx *Context, ep *EntryPointInfo) {
	*ctx = Context{}

	scr := uint64(0)

	if ep.Security == NonSecure {
		scr |= SCR_NS
	}

	if !SPSRIsAArch32(ep.SPSR) {
		scr |= SCR_RW
	}

	ctx.EL3 = EL3State{
		SCR:  scr,
		ELR:  ep.PC,
		SPSR: ep.SPSR,
	}

	ctx.EL1.SCTLR = SCTLR_EL1_RES1
	copy(ctx.GP[:], ep.Args[:])
}
