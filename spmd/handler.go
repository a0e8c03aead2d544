// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spmd

import (
	"log"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/world"
)

// Handle services an FF-A call trapped from either world.
func (d *Dispatcher) Handle(c *el3.Core, fid uint32, x1, x2, x3, x4 uint64, handle *cpu.Context, origin cpu.SecurityState) {
	ctx := &d.ctx[c.Pos()]
	secure := origin == cpu.Secure

	if d.cfg.Debug {
		log.Printf("SPMD core:%d %s %s x1:%#x x2:%#x x3:%#x x4:%#x", c.Pos(), origin, ffa.FunctionID(fid), x1, x2, x3, x4)
	}

	if d.cfg.SPMCAtEL3 && secure {
		d.spmc.Handle(c, fid, x1, x2, x3, x4, handle, origin)
		return
	}

	switch ffa.FunctionID(fid) {
	case ffa.FFA_ERROR:
		// initialization failure reported by the SPM Core
		if secure && ctx.State == Reset {
			world.SyncExit(&ctx.Context, int64(ffa.ErrorCodeOf(x2)))
			return
		}

		d.forward(c, fid, x1, x2, x3, x4, handle, origin)
	case ffa.FFA_VERSION:
		if !ffa.Version(x1).Valid() {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, uint64(d.Version()), ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ)
	case ffa.FFA_FEATURES:
		if !ffa.IsFFA(uint32(x1)) {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		if !secure {
			d.forward(c, fid, x1, x2, x3, x4, handle, origin)
			return
		}

		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ)
	case ffa.FFA_ID_GET:
		id := uint64(ffa.NSEndpointID)

		if secure {
			id = uint64(d.SPMCID())
		}

		handle.Ret(uint64(ffa.FFA_SUCCESS_SMC32), ffa.TargetInfoMBZ, id, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ, ffa.ParamMBZ)
	case ffa.FFA_RX_RELEASE,
		ffa.FFA_RXTX_MAP_SMC32,
		ffa.FFA_RXTX_MAP_SMC64,
		ffa.FFA_RXTX_UNMAP,
		ffa.FFA_MSG_RUN:
		// Normal world only
		if secure {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		d.forward(c, fid, x1, x2, x3, x4, handle, origin)
	case ffa.FFA_PARTITION_INFO_GET,
		ffa.FFA_MSG_SEND,
		ffa.FFA_MSG_SEND_DIRECT_REQ_SMC32,
		ffa.FFA_MSG_SEND_DIRECT_REQ_SMC64,
		ffa.FFA_MSG_SEND_DIRECT_RESP_SMC32,
		ffa.FFA_MSG_SEND_DIRECT_RESP_SMC64,
		ffa.FFA_MEM_DONATE_SMC32,
		ffa.FFA_MEM_DONATE_SMC64,
		ffa.FFA_MEM_LEND_SMC32,
		ffa.FFA_MEM_LEND_SMC64,
		ffa.FFA_MEM_SHARE_SMC32,
		ffa.FFA_MEM_SHARE_SMC64,
		ffa.FFA_MEM_RETRIEVE_REQ_SMC32,
		ffa.FFA_MEM_RETRIEVE_REQ_SMC64,
		ffa.FFA_MEM_RETRIEVE_RESP,
		ffa.FFA_MEM_RELINQUISH,
		ffa.FFA_MEM_RECLAIM,
		ffa.FFA_SUCCESS_SMC32,
		ffa.FFA_SUCCESS_SMC64:
		d.forward(c, fid, x1, x2, x3, x4, handle, origin)
	case ffa.FFA_MSG_WAIT:
		// initialization completed by the SPM Core
		if secure && ctx.State == Reset {
			world.SyncExit(&ctx.Context, 0)
			return
		}

		fallthrough
	case ffa.FFA_MSG_YIELD:
		// Secure world only
		if !secure {
			ffa.Error(handle, ffa.NOT_SUPPORTED)
			return
		}

		d.forward(c, fid, x1, x2, x3, x4, handle, origin)
	default:
		ffa.Error(handle, ffa.NOT_SUPPORTED)
	}
}

// forward relays a call to the other world, the caller
// system registers are saved and the target ones restored before its x0-x7
// are loaded with the call arguments.
func (d *Dispatcher) forward(c *el3.Core, fid uint32, x1, x2, x3, x4 uint64, handle *cpu.Context, origin cpu.SecurityState) {
	if d.cfg.SPMCAtEL3 {
		d.spmc.Handle(c, fid, x1, x2, x3, x4, handle, origin)
		return
	}

	cm := c.CM()
	target := origin.Other()

	cm.EL1SysregsSave(origin)
	cm.EL1SysregsRestore(target)

	if d.cfg.SEL2 {
		cm.EL2SysregsSave(origin)
		cm.EL2SysregsRestore(target)
	}

	cm.SetNextEretContext(target)

	cm.Context(target).Ret(uint64(fid), x1, x2, x3, x4, handle.GP[5], handle.GP[6], handle.GP[7])
}
