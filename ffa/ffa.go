// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ffa implements the Firmware Framework for Arm (FF-A) register
// calling convention.
package ffa

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

// FunctionID represents an FF-A function identifier.
type FunctionID uint32

// FF-A v1.0 function identifiers
const (
	FFA_ERROR                      FunctionID = 0x84000060
	FFA_SUCCESS_SMC32              FunctionID = 0x84000061
	FFA_INTERRUPT                  FunctionID = 0x84000062
	FFA_VERSION                    FunctionID = 0x84000063
	FFA_FEATURES                   FunctionID = 0x84000064
	FFA_RX_RELEASE                 FunctionID = 0x84000065
	FFA_RXTX_MAP_SMC32             FunctionID = 0x84000066
	FFA_RXTX_UNMAP                 FunctionID = 0x84000067
	FFA_PARTITION_INFO_GET         FunctionID = 0x84000068
	FFA_ID_GET                     FunctionID = 0x84000069
	FFA_MSG_POLL                   FunctionID = 0x8400006a
	FFA_MSG_WAIT                   FunctionID = 0x8400006b
	FFA_MSG_YIELD                  FunctionID = 0x8400006c
	FFA_MSG_RUN                    FunctionID = 0x8400006d
	FFA_MSG_SEND                   FunctionID = 0x8400006e
	FFA_MSG_SEND_DIRECT_REQ_SMC32  FunctionID = 0x8400006f
	FFA_MSG_SEND_DIRECT_RESP_SMC32 FunctionID = 0x84000070
	FFA_MEM_DONATE_SMC32           FunctionID = 0x84000071
	FFA_MEM_LEND_SMC32             FunctionID = 0x84000072
	FFA_MEM_SHARE_SMC32            FunctionID = 0x84000073
	FFA_MEM_RETRIEVE_REQ_SMC32     FunctionID = 0x84000074
	FFA_MEM_RETRIEVE_RESP          FunctionID = 0x84000075
	FFA_MEM_RELINQUISH             FunctionID = 0x84000076
	FFA_MEM_RECLAIM                FunctionID = 0x84000077

	FFA_SUCCESS_SMC64              FunctionID = 0xc4000061
	FFA_RXTX_MAP_SMC64             FunctionID = 0xc4000066
	FFA_MSG_SEND_DIRECT_REQ_SMC64  FunctionID = 0xc400006f
	FFA_MSG_SEND_DIRECT_RESP_SMC64 FunctionID = 0xc4000070
	FFA_MEM_DONATE_SMC64           FunctionID = 0xc4000071
	FFA_MEM_LEND_SMC64             FunctionID = 0xc4000072
	FFA_MEM_SHARE_SMC64            FunctionID = 0xc4000073
	FFA_MEM_RETRIEVE_REQ_SMC64     FunctionID = 0xc4000074
)

// SMC_UNK is returned in x0 for calls without a registered service.
const SMC_UNK = 0xffffffff

// function identifier fields
const (
	fidFastShift   = 31
	fidSMC64Shift  = 30
	fidOENShift    = 24
	fidOENMask     = 0x3f
	fidNumMask     = 0xffff
	fidSMC64       = 1 << fidSMC64Shift
	oenStandard    = 4
	ffaFnNumMin    = 0x60
	ffaFnNumMax    = 0x7f
	fidReservedMsk = 0xff << 16
)

// IsFFA reports whether a function identifier falls in the FF-A range of
// the standard secure service calls.
func IsFFA(fid uint32) bool {
	num := fid & fidNumMask
	oen := (fid >> fidOENShift) & fidOENMask

	return fid>>fidFastShift == 1 && oen == oenStandard && fid&fidReservedMsk == 0 &&
		num >= ffaFnNumMin && num <= ffaFnNumMax
}

// Is64 reports whether the function identifier uses the SMC64 convention.
func (f FunctionID) Is64() bool {
	return f&fidSMC64 != 0
}

func (f FunctionID) String() string {
	switch f {
	case FFA_ERROR:
		return "FFA_ERROR"
	case FFA_SUCCESS_SMC32:
		return "FFA_SUCCESS_SMC32"
	case FFA_SUCCESS_SMC64:
		return "FFA_SUCCESS_SMC64"
	case FFA_INTERRUPT:
		return "FFA_INTERRUPT"
	case FFA_VERSION:
		return "FFA_VERSION"
	case FFA_FEATURES:
		return "FFA_FEATURES"
	case FFA_RX_RELEASE:
		return "FFA_RX_RELEASE"
	case FFA_RXTX_MAP_SMC32:
		return "FFA_RXTX_MAP_SMC32"
	case FFA_RXTX_MAP_SMC64:
		return "FFA_RXTX_MAP_SMC64"
	case FFA_RXTX_UNMAP:
		return "FFA_RXTX_UNMAP"
	case FFA_PARTITION_INFO_GET:
		return "FFA_PARTITION_INFO_GET"
	case FFA_ID_GET:
		return "FFA_ID_GET"
	case FFA_MSG_POLL:
		return "FFA_MSG_POLL"
	case FFA_MSG_WAIT:
		return "FFA_MSG_WAIT"
	case FFA_MSG_YIELD:
		return "FFA_MSG_YIELD"
	case FFA_MSG_RUN:
		return "FFA_MSG_RUN"
	case FFA_MSG_SEND:
		return "FFA_MSG_SEND"
	case FFA_MSG_SEND_DIRECT_REQ_SMC32:
		return "FFA_MSG_SEND_DIRECT_REQ_SMC32"
	case FFA_MSG_SEND_DIRECT_REQ_SMC64:
		return "FFA_MSG_SEND_DIRECT_REQ_SMC64"
	case FFA_MSG_SEND_DIRECT_RESP_SMC32:
		return "FFA_MSG_SEND_DIRECT_RESP_SMC32"
	case FFA_MSG_SEND_DIRECT_RESP_SMC64:
		return "FFA_MSG_SEND_DIRECT_RESP_SMC64"
	case FFA_MEM_DONATE_SMC32:
		return "FFA_MEM_DONATE_SMC32"
	case FFA_MEM_DONATE_SMC64:
		return "FFA_MEM_DONATE_SMC64"
	case FFA_MEM_LEND_SMC32:
		return "FFA_MEM_LEND_SMC32"
	case FFA_MEM_LEND_SMC64:
		return "FFA_MEM_LEND_SMC64"
	case FFA_MEM_SHARE_SMC32:
		return "FFA_MEM_SHARE_SMC32"
	case FFA_MEM_SHARE_SMC64:
		return "FFA_MEM_SHARE_SMC64"
	case FFA_MEM_RETRIEVE_REQ_SMC32:
		return "FFA_MEM_RETRIEVE_REQ_SMC32"
	case FFA_MEM_RETRIEVE_REQ_SMC64:
		return "FFA_MEM_RETRIEVE_REQ_SMC64"
	case FFA_MEM_RETRIEVE_RESP:
		return "FFA_MEM_RETRIEVE_RESP"
	case FFA_MEM_RELINQUISH:
		return "FFA_MEM_RELINQUISH"
	case FFA_MEM_RECLAIM:
		return "FFA_MEM_RECLAIM"
	default:
		return fmt.Sprintf("FunctionID(%#x)", uint32(f))
	}
}

// ParseFunctionID resolves a function name, as returned by String, or a
// numeric identifier.
func ParseFunctionID(s string) (FunctionID, error) {
	for _, f := range functionIDs {
		if f.String() == s {
			return f, nil
		}
	}

	var n uint32

	if _, err := fmt.Sscanf(s, "0x%x", &n); err != nil {
		return 0, fmt.Errorf("invalid function identifier %q", s)
	}

	return FunctionID(n), nil
}

var functionIDs = []FunctionID{
	FFA_ERROR, FFA_SUCCESS_SMC32, FFA_SUCCESS_SMC64, FFA_INTERRUPT,
	FFA_VERSION, FFA_FEATURES, FFA_RX_RELEASE, FFA_RXTX_MAP_SMC32,
	FFA_RXTX_MAP_SMC64, FFA_RXTX_UNMAP, FFA_PARTITION_INFO_GET, FFA_ID_GET,
	FFA_MSG_POLL, FFA_MSG_WAIT, FFA_MSG_YIELD, FFA_MSG_RUN, FFA_MSG_SEND,
	FFA_MSG_SEND_DIRECT_REQ_SMC32, FFA_MSG_SEND_DIRECT_REQ_SMC64,
	FFA_MSG_SEND_DIRECT_RESP_SMC32, FFA_MSG_SEND_DIRECT_RESP_SMC64,
	FFA_MEM_DONATE_SMC32, FFA_MEM_DONATE_SMC64, FFA_MEM_LEND_SMC32,
	FFA_MEM_LEND_SMC64, FFA_MEM_SHARE_SMC32, FFA_MEM_SHARE_SMC64,
	FFA_MEM_RETRIEVE_REQ_SMC32, FFA_MEM_RETRIEVE_REQ_SMC64,
	FFA_MEM_RETRIEVE_RESP, FFA_MEM_RELINQUISH, FFA_MEM_RECLAIM,
}

// ErrorCode represents an FF-A error status returned in x2 of FFA_ERROR.
type ErrorCode int32

const (
	NOT_SUPPORTED     ErrorCode = -1
	INVALID_PARAMETER ErrorCode = -2
	NO_MEMORY         ErrorCode = -3
	BUSY              ErrorCode = -4
	INTERRUPTED       ErrorCode = -5
	DENIED            ErrorCode = -6
	RETRY             ErrorCode = -7
	ABORTED           ErrorCode = -8
)

func (e ErrorCode) String() string {
	switch e {
	case NOT_SUPPORTED:
		return "NOT_SUPPORTED"
	case INVALID_PARAMETER:
		return "INVALID_PARAMETER"
	case NO_MEMORY:
		return "NO_MEMORY"
	case BUSY:
		return "BUSY"
	case INTERRUPTED:
		return "INTERRUPTED"
	case DENIED:
		return "DENIED"
	case RETRY:
		return "RETRY"
	case ABORTED:
		return "ABORTED"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int32(e))
	}
}

// Error implements the error interface so that status codes can be
// returned by host side helpers.
func (e ErrorCode) Error() string {
	return "ffa: " + e.String()
}

// Error writes an FFA_ERROR return in ctx.
func Error(ctx *cpu.Context, code ErrorCode) {
	ctx.Ret(uint64(FFA_ERROR), TargetInfoMBZ, uint64(int64(code)), ParamMBZ, ParamMBZ, ParamMBZ, ParamMBZ, ParamMBZ)
}

// ErrorCodeOf extracts the status from an x2 register value.
func ErrorCodeOf(x2 uint64) ErrorCode {
	return ErrorCode(int32(x2))
}

// Must be zero fields
const (
	TargetInfoMBZ = 0
	ParamMBZ      = 0
)
