// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package xlat implements the translation context of a Secure Partition, an
// ordered set of page and block mappings with their memory attributes.
package xlat

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/google/btree"
)

// Granule sizes
const (
	PageSize  = 0x1000
	BlockSize = 0x200000
)

// Attr represents memory region attributes (MT_*).
type Attr uint32

// Memory types
const (
	Device       Attr = 0
	NonCacheable Attr = 1
	Memory       Attr = 2
	typeMask     Attr = 7
)

// Attribute flags
const (
	RO           Attr = 0
	RW           Attr = 1 << 3
	Secure       Attr = 0
	NS           Attr = 1 << 4
	Execute      Attr = 0
	ExecuteNever Attr = 1 << 5
	Privileged   Attr = 0
	User         Attr = 1 << 6
)

// Common attribute sets
const (
	Code   = Memory | RO | Execute
	ROData = Memory | RO | ExecuteNever
	RWData = Memory | RW | ExecuteNever
)

func (a Attr) String() string {
	var s string

	switch a & typeMask {
	case Device:
		s = "DEVICE"
	case NonCacheable:
		s = "NON_CACHEABLE"
	case Memory:
		s = "MEMORY"
	default:
		s = fmt.Sprintf("TYPE(%d)", a&typeMask)
	}

	if a&RW != 0 {
		s += "|RW"
	} else {
		s += "|RO"
	}

	if a&NS != 0 {
		s += "|NS"
	}

	if a&ExecuteNever != 0 {
		s += "|XN"
	}

	if a&User != 0 {
		s += "|USER"
	}

	return s
}

var (
	ErrUnaligned   = errors.New("xlat: address or size not aligned")
	ErrOverlap     = errors.New("xlat: region overlaps existing mapping")
	ErrNotMapped   = errors.New("xlat: address not mapped")
	ErrGranularity = errors.New("xlat: region not mapped with page granularity")
	ErrWriteExec   = errors.New("xlat: writable and executable attributes")
	ErrOutOfRange  = errors.New("xlat: address outside of the virtual address space")
)

// Region describes a memory mapping request.
type Region struct {
	// PA is the physical base address
	PA uint64
	// VA is the virtual base address
	VA uint64
	// Size is the region size in bytes
	Size uint64
	// Attr holds the region attributes
	Attr Attr
	// Granularity is the mapping granule (PageSize or BlockSize)
	Granularity uint64
}

// entry represents a single translation table descriptor
type entry struct {
	va   uint64
	pa   uint64
	size uint64
	attr Attr
}

func less(a, b entry) bool {
	return a.va < b.va
}

// Context represents a translation regime, it is safe for concurrent use.
type Context struct {
	mu sync.Mutex

	// VASpace is the size of the virtual address space
	VASpace uint64
	// Base is the physical address of the base translation table
	Base uint64

	entries *btree.BTreeG[entry]
}

// NewContext returns an empty translation context.
func NewContext(base uint64, vaSpace uint64) *Context {
	return &Context{
		Base:    base,
		VASpace: vaSpace,
		entries: btree.NewG(8, less),
	}
}

func (c *Context) lookup(va uint64) (e entry, ok bool) {
	c.entries.DescendLessOrEqual(entry{va: va}, func(item entry) bool {
		if va < item.va+item.size {
			e, ok = item, true
		}

		return false
	})

	return
}

func (c *Context) overlaps(va uint64, size uint64) (found bool) {
	if _, ok := c.lookup(va); ok {
		return true
	}

	c.entries.AscendRange(entry{va: va}, entry{va: va + size}, func(entry) bool {
		found = true
		return false
	})

	return
}

// MapRegion adds a region to the context.
func (c *Context) MapRegion(r Region) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := r.Granularity

	if g == 0 {
		g = PageSize
	}

	if g != PageSize && g != BlockSize {
		return fmt.Errorf("xlat: invalid granularity %#x", g)
	}

	if r.Size == 0 || r.VA%g != 0 || r.PA%g != 0 || r.Size%g != 0 {
		return ErrUnaligned
	}

	if r.VA+r.Size > c.VASpace || r.VA+r.Size < r.VA {
		return ErrOutOfRange
	}

	if r.Attr&RW != 0 && r.Attr&ExecuteNever == 0 {
		return ErrWriteExec
	}

	if c.overlaps(r.VA, r.Size) {
		return ErrOverlap
	}

	for off := uint64(0); off < r.Size; off += g {
		c.entries.ReplaceOrInsert(entry{
			va:   r.VA + off,
			pa:   r.PA + off,
			size: g,
			attr: r.Attr,
		})
	}

	return nil
}

// Attributes returns the attributes of the mapping containing va.
func (c *Context) Attributes(va uint64) (Attr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(va)

	if !ok {
		return 0, ErrNotMapped
	}

	return e.attr, nil
}

// Translate returns the physical address mapped at va.
func (c *Context) Translate(va uint64) (pa uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(va)

	if !ok {
		return 0, ErrNotMapped
	}

	return e.pa + va - e.va, nil
}

// Change updates the attributes of a page granular range, the memory type
// and security state of existing mappings are preserved. No page is changed unless the whole range
// can be.
func (c *Context) Change(va uint64, size uint64, attr Attr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if size == 0 || va%PageSize != 0 || size%PageSize != 0 {
		return ErrUnaligned
	}

	if va+size > c.VASpace || va+size < va {
		return ErrOutOfRange
	}

	if attr&RW != 0 && attr&ExecuteNever == 0 {
		return ErrWriteExec
	}

	var pages []entry

	for addr := va; addr < va+size; addr += PageSize {
		e, ok := c.lookup(addr)

		if !ok {
			return fmt.Errorf("%w (%#x)", ErrNotMapped, addr)
		}

		if e.size != PageSize {
			return fmt.Errorf("%w (%#x)", ErrGranularity, addr)
		}

		pages = append(pages, e)
	}

	const mutable = RW | ExecuteNever | User

	for _, e := range pages {
		e.attr = e.attr&^mutable | attr&mutable
		c.entries.ReplaceOrInsert(e)
	}

	return nil
}

// Len returns the number of descriptors in the context.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries.Len()
}

// Translation control values for a 4KB granule, inner shareable, write-back
// cacheable regime.
const (
	mairNormal  = 0xff
	mairDevice  = 0x04
	tcrIRGN0WB  = 1 << 8
	tcrORGN0WB  = 1 << 10
	tcrSH0Inner = 3 << 12
)

// Registers returns the TTBR0, MAIR and TCR values programming the context
// in EL1.
func (c *Context) Registers() (ttbr0 uint64, mair uint64, tcr uint64) {
	t0sz := uint64(64 - bits.Len64(c.VASpace-1))

	ttbr0 = c.Base
	mair = mairDevice<<8 | mairNormal
	tcr = t0sz | tcrIRGN0WB | tcrORGN0WB | tcrSH0Inner

	return
}
