// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package el3 implements the EL3 runtime of a platform: the per-core
// execution loop, the runtime service dispatch table and the cold boot
// sequence.
package el3

import (
	"errors"
	"fmt"
	"log"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

// cores per cluster in MPIDR affinity encoding
const clusterCores = 4

const mpidrU = 1 << 31

// Handoff represents the information passed by the previous boot stage.
type Handoff struct {
	// Secure is the entry point of the secure payload (BL32)
	Secure *cpu.EntryPointInfo
	// NonSecure is the entry point of the Normal world (BL33)
	NonSecure *cpu.EntryPointInfo
	// SPMCManifest is the SPM Core manifest blob
	SPMCManifest []byte
}

// Platform represents the EL3 runtime of a multi-core platform.
type Platform struct {
	// Handoff holds the previous boot stage information
	Handoff Handoff

	cores    []*Core
	services []*Service
	disabled map[*Service]error

	bl32Init func(c *Core) bool
	powerOn  []func(c *Core) error
}

// NewPlatform returns a platform with the given number of cores.
func NewPlatform(cores int, h Handoff) (p *Platform, err error) {
	if cores < 1 || cores > cpu.PlatformCoreCount {
		return nil, fmt.Errorf("invalid core count %d (max %d)", cores, cpu.PlatformCoreCount)
	}

	p = &Platform{
		Handoff:  h,
		disabled: make(map[*Service]error),
	}

	for i := 0; i < cores; i++ {
		p.cores = append(p.cores, &Core{
			MPIDR: mpidrU | uint64(i/clusterCores)<<8 | uint64(i%clusterCores),
			plat:  p,
			pos:   cpu.CoreIndex(i),
			cm:    cpu.NewManager(),
		})
	}

	return
}

// Core returns the core with the given linear index.
func (p *Platform) Core(i cpu.CoreIndex) *Core {
	if !i.Valid() || int(i) >= len(p.cores) {
		panic(fmt.Sprintf("el3: invalid core index %d", i))
	}

	return p.cores[i]
}

// Cores returns all platform cores.
func (p *Platform) Cores() []*Core {
	return p.cores
}

// Register adds a runtime service to the dispatch table.
func (p *Platform) Register(s *Service) error {
	if s.Handler == nil {
		return fmt.Errorf("service %s has no handler", s.Name)
	}

	if s.StartOEN > s.EndOEN || s.EndOEN >= OEN_LIMIT {
		return fmt.Errorf("service %s has invalid OEN range", s)
	}

	for _, o := range p.services {
		if s.overlaps(o) {
			return fmt.Errorf("service %s overlaps %s", s, o)
		}
	}

	p.services = append(p.services, s)

	return nil
}

// Services returns the registered runtime services and, for the ones
// disabled at boot, their setup error.
func (p *Platform) Services() (services []*Service, errs []error) {
	for _, s := range p.services {
		services = append(services, s)
		errs = append(errs, p.disabled[s])
	}

	return
}

func (p *Platform) lookup(fid uint32) *Service {
	if (fid>>fidReservedShift)&fidReservedMask != 0 && FuncType(fid) == SMC_TYPE_FAST {
		return nil
	}

	for _, s := range p.services {
		if s.serves(fid) {
			if p.disabled[s] != nil {
				return nil
			}

			return s
		}
	}

	return nil
}

// RegisterBL32Init registers the deferred initialization of the secure
// payload, executed on the primary core once runtime services are set up.
func (p *Platform) RegisterBL32Init(fn func(c *Core) bool) {
	p.bl32Init = fn
}

// RegisterPowerOn registers a hook executed on each secondary core when it
// is powered on, before it enters the Normal world.
func (p *Platform) RegisterPowerOn(fn func(c *Core) error) {
	p.powerOn = append(p.powerOn, fn)
}

// Boot performs the cold boot of all cores, leaving each of them ready to
// enter the Normal world.
func (p *Platform) Boot() (err error) {
	if p.Handoff.NonSecure == nil {
		return errors.New("missing non-secure entry point")
	}

	for _, s := range p.services {
		if s.Setup == nil {
			continue
		}

		if err := s.Setup(p); err != nil {
			log.Printf("EL3 %s setup failed, service disabled (%v)", s.Name, err)
			p.disabled[s] = err
		}
	}

	primary := p.cores[0]

	if p.bl32Init != nil && !p.bl32Init(primary) {
		log.Printf("EL3 BL32 initialization failed")
	}

	for _, c := range p.cores {
		if !c.Primary() {
			for _, fn := range p.powerOn {
				if err := fn(c); err != nil {
					log.Printf("EL3 core:%d power on hook failed (%v)", c.pos, err)
				}
			}
		}

		ep := *p.Handoff.NonSecure
		ep.Security = cpu.NonSecure

		cpu.SetupContext(c.cm.Context(cpu.NonSecure), &ep)

		c.cm.EL1SysregsRestore(cpu.NonSecure)
		c.cm.SetNextEretContext(cpu.NonSecure)
	}

	return
}
