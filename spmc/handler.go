// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spmc

import (
	"log"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/world"
)

// Handle services an FF-A call addressed to the SPM Core.
func (s *Core) Handle(c *el3.Core, fid uint32, x1, x2, x3, x4 uint64, handle *cpu.Context, origin cpu.SecurityState) {
	if s.cfg.Debug {
		log.Printf("SPMC core:%d %s %s x1:%#x x3:%#x x4:%#x", c.Pos(), origin, ffa.FunctionID(fid), x1, x3, x4)
	}

	if origin == cpu.Secure {
		s.handleSecure(c, fid, x1, x2, x3, x4, handle)
	} else {
		s.handleNonSecure(c, fid, x1, x3, x4, handle)
	}
}

func (s *Core) handleSecure(c *el3.Core, fid uint32, x1, x2, x3, x4 uint64, handle *cpu.Context) {
	cm := c.CM()

	// the partition traps through its S-EL1 shim, resume it at S-EL0
	cm.SetELRSPSR(cpu.Secure, cm.Live.EL1.ELR, cm.Live.EL1.SPSR)

	switch ffa.FunctionID(fid) {
	case ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32, ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64:
		var rc int64

		switch x3 {
		case ffa.SP_MEMORY_ATTRIBUTES_GET_AARCH64:
			if s.sp.State != Reset {
				log.Printf("SPMC memory attributes are only available at boot")
				ffa.Error(handle, ffa.NOT_SUPPORTED)
				return
			}

			rc = s.memAttributesGet(x4)
		case ffa.SP_MEMORY_ATTRIBUTES_SET_AARCH64:
			if s.sp.State != Reset {
				log.Printf("SPMC memory attributes are only available at boot")
				ffa.Error(handle, ffa.NOT_SUPPORTED)
				return
			}

			rc = s.memAttributesSet(x4, handle.GP[5], handle.GP[6])
		default:
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		resp := ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64
		v := uint64(rc)

		if !ffa.FunctionID(fid).Is64() {
			resp = ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32
			v = uint64(uint32(rc))
		}

		handle.Ret(uint64(resp), ffa.SwapEndpoints(x1), 0, v, 0, 0, 0, 0)
	case ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32, ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64:
		if !s.sp.Outstanding() {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		rc := int64(x4)

		// SMC32 status is held in w4
		if !ffa.FunctionID(fid).Is64() {
			rc = int64(int32(x4))
		}

		world.SyncExit(&s.sp.Context, rc)
	case ffa.FFA_MSG_WAIT:
		if s.sp.State != Reset || !s.sp.Outstanding() {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		world.SyncExit(&s.sp.Context, 0)
	case ffa.FFA_ERROR:
		if s.sp.State != Reset || !s.sp.Outstanding() {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		world.SyncExit(&s.sp.Context, int64(ffa.ErrorCodeOf(x2)))
	case ffa.FFA_VERSION:
		if !ffa.Version(x1).Valid() {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, uint64(ffa.CompiledVersion), 0, 0, 0, 0, 0)
	case ffa.FFA_ID_GET:
		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, uint64(s.cfg.PartitionID), 0, 0, 0, 0, 0)
	case ffa.FFA_FEATURES:
		if !partitionFeatures[ffa.FunctionID(x1)] {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, 0, 0, 0, 0, 0, 0)
	default:
		ffa.Error(handle, ffa.NOT_SUPPORTED)
	}
}

// calls served to the Secure Partition
var partitionFeatures = map[ffa.FunctionID]bool{
	ffa.FFA_ERROR:                      true,
	ffa.FFA_VERSION:                    true,
	ffa.FFA_FEATURES:                   true,
	ffa.FFA_ID_GET:                     true,
	ffa.FFA_MSG_WAIT:                   true,
	ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32:  true,
	ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64:  true,
	ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32: true,
	ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64: true,
}

// calls served to the Normal world
var nonSecureFeatures = map[ffa.FunctionID]bool{
	ffa.FFA_ERROR:                     true,
	ffa.FFA_VERSION:                   true,
	ffa.FFA_FEATURES:                  true,
	ffa.FFA_ID_GET:                    true,
	ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32: true,
	ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64: true,
}

func (s *Core) handleNonSecure(c *el3.Core, fid uint32, x1, x3, x4 uint64, handle *cpu.Context) {
	switch ffa.FunctionID(fid) {
	case ffa.FFA_FEATURES:
		if !nonSecureFeatures[ffa.FunctionID(x1)] {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, 0, 0, 0, 0, 0, 0)
	case ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32, ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64:
		switch x3 {
		case ffa.MM_INTERFACE_ID_AARCH32, ffa.MM_INTERFACE_ID_AARCH64:
			s.mmCommunicate(c, fid, x1, x4, handle.GP[5], handle.GP[6], handle)
		default:
			// memory attribute services are reserved to the partition
			ffa.Error(handle, ffa.NOT_SUPPORTED)
		}
	default:
		ffa.Error(handle, ffa.NOT_SUPPORTED)
	}
}

// mmCommunicate performs a Management Mode request on behalf of the Normal
// world.
func (s *Core) mmCommunicate(c *el3.Core, fid uint32, x1, cookie, buf, size uint64, handle *cpu.Context) {
	if cookie != 0 {
		log.Printf("SPMC MM interface cookie is not zero")
		ffa.Error(handle, ffa.INVALID_PARAMETER)
		return
	}

	if buf == 0 {
		log.Printf("SPMC MM interface buffer address is zero")
		ffa.Error(handle, ffa.INVALID_PARAMETER)
		return
	}

	cm := c.CM()
	pos := c.Pos()

	s.ehf.Activate(pos, PriorityLevel.Priority)
	cm.EL1SysregsSave(cpu.NonSecure)

	s.sp.CPU.Ret(uint64(fid), 0, 0, buf, size, 0, uint64(pos))
	rc, err := s.syncEntry(c)

	cm.EL1SysregsRestore(cpu.NonSecure)
	cm.SetNextEretContext(cpu.NonSecure)
	s.ehf.Deactivate(pos, PriorityLevel.Priority)

	switch {
	case err != nil:
		log.Printf("SPMC Secure Partition error on core %d, %v", pos, err)
		ffa.Error(handle, ffa.ABORTED)
	case rc != ffa.MM_SUCCESS:
		ffa.Error(handle, ffa.MMError(rc))
	default:
		resp := ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64

		if !ffa.FunctionID(fid).Is64() {
			resp = ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32
		}

		handle.Ret(uint64(resp), ffa.SwapEndpoints(x1), 0, ffa.MM_SUCCESS, 0, 0, 0, 0)
	}
}
