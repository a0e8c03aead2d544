// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cpu

// Manager is the context management collaborator of a single core, it owns
// the mapping between security states and saved contexts and is the only
// code copying registers between saved contexts and the live banks.
type Manager struct {
	// Live represents the system registers currently loaded on the core
	Live Sysregs

	ctx     [securityStates]*Context
	storage [securityStates]Context
	next    SecurityState
}

// NewManager returns a context manager with a default context for each
// security state.
func NewManager() *Manager {
	m := &Manager{}

	for i := range m.ctx {
		m.ctx[i] = &m.storage[i]
	}

	return m
}

// Context returns the context currently bound to a security state.
func (m *Manager) Context(s SecurityState) *Context {
	return m.ctx[s]
}

// SetContext binds a context to a security state.
func (m *Manager) SetContext(ctx *Context, s SecurityState) {
	if ctx == nil {
		panic("cpu: nil context")
	}

	m.ctx[s] = ctx
}

// EL1SysregsSave copies the live EL1 registers into the context of the given
// world.
func (m *Manager) EL1SysregsSave(s SecurityState) {
	m.ctx[s].EL1 = m.Live.EL1
}

// EL1SysregsRestore loads the EL1 registers of the given world.
func (m *Manager) EL1SysregsRestore(s SecurityState) {
	m.Live.EL1 = m.ctx[s].EL1
}

// EL2SysregsSave copies the live EL2 registers into the context of the given
// world.
func (m *Manager) EL2SysregsSave(s SecurityState) {
	m.ctx[s].EL2 = m.Live.EL2
}

// EL2SysregsRestore loads the EL2 registers of the given world.
func (m *Manager) EL2SysregsRestore(s SecurityState) {
	m.Live.EL2 = m.ctx[s].EL2
}

// SetNextEretContext selects the world entered on the next exception return.
func (m *Manager) SetNextEretContext(s SecurityState) {
	m.next = s
}

// NextEret returns the world entered on the next exception return.
func (m *Manager) NextEret() SecurityState {
	return m.next
}

// SetELRSPSR overrides the exception return address and state of a world.
func (m *Manager) SetELRSPSR(s SecurityState, elr uint64, spsr uint64) {
	m.ctx[s].EL3.ELR = elr
	m.ctx[s].EL3.SPSR = spsr
}
