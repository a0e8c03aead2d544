// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package world implements the synchronous world switch primitive used by
// EL3 services to call into a lower secure exception level and be resumed
// with a result.
//
// A synchronous entry installs a single-shot continuation in the target
// context and drives the core execution loop until a handler, reacting to a
// call issued by the target world, consumes the continuation with a
// synchronous exit.
package world

import (
	"errors"
	"sync/atomic"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

// ErrHalt is returned by an Image to stop the execution loop of its core.
var ErrHalt = errors.New("halted")

// Image represents software running in a lower exception level.
//
// Step resumes execution from the saved context, with the live system
// registers loaded, until the image traps to EL3 with a call in x0-x7.
type Image interface {
	Step(ctx *cpu.Context, regs *cpu.Sysregs) error
}

// Executor represents a core able to perform one lower EL execution and
// dispatch the resulting call.
type Executor interface {
	Step() error
}

// ReturnPoint represents a saved caller continuation, it can be resumed
// exactly once.
type ReturnPoint struct {
	resumed bool
	rc      int64
}

func (rp *ReturnPoint) resume(rc int64) {
	if rp.resumed {
		panic("world: return point resumed twice")
	}

	rp.resumed = true
	rp.rc = rc
}

// Context represents a world entered synchronously.
type Context struct {
	// CPU holds the saved register state
	CPU cpu.Context

	rp atomic.Pointer[ReturnPoint]
}

// Outstanding reports whether a synchronous entry into the context is
// pending.
func (c *Context) Outstanding() bool {
	return c.rp.Load() != nil
}

// SyncEntry captures the caller continuation in c and executes x until the
// continuation is resumed by SyncExit, returning its result.
//
// The caller is responsible for binding c.CPU to the core and selecting it
// as the next exception return target before entry.
//
// Entering a context which already holds a continuation panics. Errors
// returned by the executor abandon the continuation.
func SyncEntry(x Executor, c *Context) (rc int64, err error) {
	rp := &ReturnPoint{}

	if !c.rp.CompareAndSwap(nil, rp) {
		panic("world: synchronous entry with outstanding continuation")
	}

	for !rp.resumed {
		if err = x.Step(); err != nil {
			c.rp.CompareAndSwap(rp, nil)
			return
		}
	}

	return rp.rc, nil
}

// SyncExit consumes the continuation held by c and resumes its
// SyncEntry with rc. Callers must not touch c after exiting.
//
// Exiting a context without an outstanding continuation panics.
func SyncExit(c *Context, rc int64) {
	rp := c.rp.Swap(nil)

	if rp == nil {
		panic("world: synchronous exit without outstanding continuation")
	}

	rp.resume(rc)
}
