// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ehf implements the EL3 exception handling framework running
// priority bookkeeping.
//
// Each core tracks a stack of active priority levels, a level can only be
// activated when it is strictly higher (numerically lower) than the running
// one and only the running level can be deactivated. Exclusive levels are
// additionally held by at most one core platform wide, activation of an
// exclusive level blocks until the holding core deactivates it.
package ehf

import (
	"fmt"
	"sort"
	"sync"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

// Priority represents a running priority, lower values preempt higher ones.
type Priority uint8

// Idle is the running priority of a core without active levels.
const Idle Priority = 0xff

// Level describes a registered priority level.
type Level struct {
	// Name identifies the level in logs
	Name string
	// Priority is the level running priority
	Priority Priority
	// Exclusive restricts the level to one core at a time
	Exclusive bool
}

type level struct {
	Level
	mu sync.Mutex
}

// Framework represents the exception handling framework of a platform.
type Framework struct {
	levels map[Priority]*level
	cores  [cpu.PlatformCoreCount]struct {
		active []Priority
	}
}

// New returns a framework with the given priority levels registered.
func New(levels ...Level) (*Framework, error) {
	f := &Framework{
		levels: make(map[Priority]*level),
	}

	for _, l := range levels {
		if l.Priority == Idle {
			return nil, fmt.Errorf("ehf: level %s uses the idle priority", l.Name)
		}

		if _, ok := f.levels[l.Priority]; ok {
			return nil, fmt.Errorf("ehf: duplicate priority %#x", l.Priority)
		}

		f.levels[l.Priority] = &level{Level: l}
	}

	return f, nil
}

// Levels returns the registered levels in priority order.
func (f *Framework) Levels() (levels []Level) {
	for _, l := range f.levels {
		levels = append(levels, l.Level)
	}

	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Priority < levels[j].Priority
	})

	return
}

// Running returns the running priority of a core.
func (f *Framework) Running(core cpu.CoreIndex) Priority {
	active := f.cores[core].active

	if len(active) == 0 {
		return Idle
	}

	return active[len(active)-1]
}

// Activate raises the running priority of a core.
func (f *Framework) Activate(core cpu.CoreIndex, p Priority) {
	l, ok := f.levels[p]

	if !ok {
		panic(fmt.Sprintf("ehf: activating unregistered priority %#x", p))
	}

	if p >= f.Running(core) {
		panic(fmt.Sprintf("ehf: core %d activating priority %#x not higher than running %#x", core, p, f.Running(core)))
	}

	if l.Exclusive {
		l.mu.Lock()
	}

	f.cores[core].active = append(f.cores[core].active, p)
}

// Deactivate restores the running priority preceding the activation of p.
func (f *Framework) Deactivate(core cpu.CoreIndex, p Priority) {
	if running := f.Running(core); running != p {
		panic(fmt.Sprintf("ehf: core %d deactivating priority %#x while running %#x", core, p, running))
	}

	active := f.cores[core].active
	f.cores[core].active = active[:len(active)-1]

	if l := f.levels[p]; l.Exclusive {
		l.mu.Unlock()
	}
}
