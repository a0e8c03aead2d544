// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package el3

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/world"
)

// Core represents a physical core running the EL3 runtime.
type Core struct {
	// MPIDR is the core affinity value
	MPIDR uint64
	// Debug enables logging of every dispatched call
	Debug bool

	plat   *Platform
	pos    cpu.CoreIndex
	cm     *cpu.Manager
	images [2]world.Image
}

// Pos returns the core linear index.
func (c *Core) Pos() cpu.CoreIndex {
	return c.pos
}

// Primary reports whether the core is the boot core.
func (c *Core) Primary() bool {
	return c.pos == 0
}

// CM returns the core context manager.
func (c *Core) CM() *cpu.Manager {
	return c.cm
}

// Platform returns the platform the core belongs to.
func (c *Core) Platform() *Platform {
	return c.plat
}

// SetImage sets the software executed when entering a world.
func (c *Core) SetImage(s cpu.SecurityState, img world.Image) {
	c.images[s] = img
}

// Image returns the software executed when entering a world.
func (c *Core) Image(s cpu.SecurityState) world.Image {
	return c.images[s]
}

// Step performs an exception return into the next world, executes it until
// it traps with a call and dispatches the call to its runtime service.
func (c *Core) Step() (err error) {
	s := c.cm.NextEret()
	img := c.images[s]

	if img == nil {
		return fmt.Errorf("core %d has no %s image", c.pos, s)
	}

	ctx := c.cm.Context(s)

	if err = img.Step(ctx, &c.cm.Live); err != nil {
		return
	}

	c.dispatch(ctx, s)

	return
}

// Run executes the core until its images halt.
func (c *Core) Run() (err error) {
	for {
		if err = c.Step(); err != nil {
			break
		}
	}

	if errors.Is(err, world.ErrHalt) {
		return nil
	}

	return fmt.Errorf("core %d stopped, %w", c.pos, err)
}

func (c *Core) dispatch(handle *cpu.Context, origin cpu.SecurityState) {
	fid := uint32(handle.GP[0])

	if c.Debug {
		log.Printf("EL3 core:%d %s call %#.8x x1:%#x x2:%#x x3:%#x x4:%#x", c.pos, origin, fid, handle.GP[1], handle.GP[2], handle.GP[3], handle.GP[4])
	}

	svc := c.plat.lookup(fid)

	if svc == nil {
		handle.Ret(SMC_UNK)
		return
	}

	svc.Handler(c, fid, handle.GP[1], handle.GP[2], handle.GP[3], handle.GP[4], handle, origin)
}
