// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package el3

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

// SMC function identifier fields (SMC Calling Convention)
const (
	FuncIDTypeShift  = 31
	FuncIDCCShift    = 30
	FuncIDOENShift   = 24
	FuncIDOENMask    = 0x3f
	FuncIDNumMask    = 0xffff
	SMC_TYPE_FAST    = 1
	SMC_TYPE_YIELD   = 0
	SMC_64           = 1
	SMC_32           = 0
	SMC_UNK          = 0xffffffff
	SMC_OK           = 0
	SMC_PREEMPTED    = 0xfffffffe
	fidReservedShift = 16
	fidReservedMask  = 0xff
)

// Owning entity numbers
const (
	OEN_ARM_START = 0
	OEN_CPU_START = 1
	OEN_SIP_START = 2
	OEN_OEM_START = 3
	OEN_STD_START = 4
	OEN_STD_END   = 4
	OEN_STD_HYP   = 5
	OEN_TAP_START = 48
	OEN_TAP_END   = 49
	OEN_TOS_START = 50
	OEN_TOS_END   = 63
	OEN_LIMIT     = 64
)

// FuncType returns the call type (fast or yielding).
func FuncType(fid uint32) uint32 {
	return fid >> FuncIDTypeShift
}

// FuncCC returns the calling convention (SMC32 or SMC64).
func FuncCC(fid uint32) uint32 {
	return (fid >> FuncIDCCShift) & 1
}

// FuncOEN returns the owning entity number.
func FuncOEN(fid uint32) uint32 {
	return (fid >> FuncIDOENShift) & FuncIDOENMask
}

// FuncNum returns the function number.
func FuncNum(fid uint32) uint32 {
	return fid & FuncIDNumMask
}

// Handler represents a runtime service call handler. It is invoked on the
// core which trapped the call, with the arguments of the calling world and
// its saved context as handle, and writes return values into the context
// of the world entered next.
type Handler func(c *Core, fid uint32, x1, x2, x3, x4 uint64, handle *cpu.Context, origin cpu.SecurityState)

// Service represents an EL3 runtime service.
type Service struct {
	// Name is the service name
	Name string
	// StartOEN is the first owning entity number served
	StartOEN uint32
	// EndOEN is the last owning entity number served
	EndOEN uint32
	// Type is the served call type (fast or yielding)
	Type uint32
	// Setup is invoked once on the primary core at boot, a service
	// failing setup is disabled
	Setup func(p *Platform) error
	// Handler is the call handler
	Handler Handler
}

func (s *Service) serves(fid uint32) bool {
	oen := FuncOEN(fid)
	return FuncType(fid) == s.Type && oen >= s.StartOEN && oen <= s.EndOEN
}

func (s *Service) overlaps(o *Service) bool {
	return s.Type == o.Type && s.StartOEN <= o.EndOEN && o.StartOEN <= s.EndOEN
}

func (s *Service) String() string {
	return fmt.Sprintf("%s (oen:%d-%d type:%d)", s.Name, s.StartOEN, s.EndOEN, s.Type)
}
