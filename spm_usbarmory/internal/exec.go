// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

// Package spm runs GoTEE execution contexts as the Normal world and Secure
// Partition images of the FF-A dispatcher.
package spm

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/tamago/arm"

	"github.com/usbarmory/GoTEE/monitor"
	"github.com/usbarmory/GoTEE/syscall"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ffa"
	"github.com/usbarmory/GoTEE-spm/util"
	"github.com/usbarmory/GoTEE-spm/world"
)

// returned by the monitor handler to yield an FF-A call to EL3
var errCall = errors.New("FF-A call")

// Image adapts a GoTEE execution context to world.Image, FF-A calls issued
// by the context (smc in the Normal world, svc in the Secure Partition) are
// returned to the dispatcher with r0-r7 as x0-x7.
type Image struct {
	// Ctx is the execution context
	Ctx *monitor.ExecCtx
	// Log receives the context console output
	Log *util.BufferedLog
	// Debug is the ELF image used to resolve the context program counter
	Debug *util.Image

	state cpu.SecurityState
}

// NewImage returns the image of an execution context, its monitor handler is
// replaced to trap FF-A calls.
func NewImage(ctx *monitor.ExecCtx, out *util.BufferedLog) *Image {
	img := &Image{
		Ctx: ctx,
		Log: out,
	}

	if !ctx.NonSecure() {
		img.state = cpu.Secure
	}

	ctx.Handler = img.handle

	return img
}

func (img *Image) handle(ctx *monitor.ExecCtx) (err error) {
	if ctx.ExceptionVector == arm.DATA_ABORT {
		log.Printf("SPM trapped %s data abort pc:%#.8x %s", img.state, ctx.R15-8, img.line(ctx.R15-8))
		return errors.New("data abort")
	}

	if ctx.ExceptionVector != arm.SUPERVISOR {
		return fmt.Errorf("exception %x", ctx.ExceptionVector)
	}

	switch {
	case ffa.IsFFA(ctx.R0):
		return errCall
	case ctx.R0 == syscall.SYS_WRITE:
		// override write syscall to avoid interleaved logs
		img.Log.Print(img.state, byte(ctx.R1))
	case ctx.R0 == syscall.SYS_EXIT:
		ctx.Stop()
	case ctx.NonSecure():
		log.Print(ctx)
		return errors.New("unexpected monitor call")
	default:
		return monitor.SecureHandler(ctx)
	}

	return
}

func (img *Image) line(pc uint32) string {
	if img.Debug == nil {
		return ""
	}

	l, _ := img.Debug.PCToLine(uint64(pc))

	return l
}

// Step implements world.Image, the context is resumed with r0-r7 loaded from
// x0-x7 until its next FF-A call.
func (img *Image) Step(c *cpu.Context, regs *cpu.Sysregs) (err error) {
	ctx := img.Ctx
	r := []*uint32{&ctx.R0, &ctx.R1, &ctx.R2, &ctx.R3, &ctx.R4, &ctx.R5, &ctx.R6, &ctx.R7}

	for i, p := range r {
		*p = uint32(c.GP[i])
	}

	err = ctx.Run()

	switch {
	case errors.Is(err, errCall):
		for i, p := range r {
			c.GP[i] = uint64(*p)
		}

		regs.EL1.ELR = uint64(ctx.R15)
		regs.EL1.SPSR = uint64(ctx.SPSR)

		return nil
	case err != nil:
		log.Printf("SPM %s stopped pc:%#.8x lr:%#.8x err:%v", img.state, ctx.R15, ctx.R14, err)

		if l := img.line(ctx.R15); l != "" {
			log.Printf("stack trace:\n  %s\n  %s", l, img.line(ctx.R14))
		}

		return err
	}

	img.Log.Flush()
	log.Printf("SPM %s exited", img.state)

	return world.ErrHalt
}
