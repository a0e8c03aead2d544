// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
	"sync"
)

// ErrSymbolNotFound is returned when an ELF symbol lookup fails.
var ErrSymbolNotFound = errors.New("symbol not found")

// Image represents an ELF executable of a world, used to resolve symbols
// and program counters of lower EL software.
type Image struct {
	// Name is the image name
	Name string

	exe *elf.File

	once  sync.Once
	table *gosym.Table
	err   error
}

// NewImage parses an ELF executable.
func NewImage(name string, buf []byte) (img *Image, err error) {
	exe, err := elf.NewFile(bytes.NewReader(buf))

	if err != nil {
		return nil, fmt.Errorf("invalid %s image, %v", name, err)
	}

	return &Image{
		Name: name,
		exe:  exe,
	}, nil
}

// Entry returns the image entry point.
func (img *Image) Entry() uint64 {
	return img.exe.Entry
}

// LookupSym returns the symbol with the given name.
func (img *Image) LookupSym(name string) (*elf.Symbol, error) {
	syms, err := img.exe.Symbols()

	if err != nil {
		return nil, err
	}

	for _, sym := range syms {
		if sym.Name == name {
			return &sym, nil
		}
	}

	return nil, fmt.Errorf("%w, %s", ErrSymbolNotFound, name)
}

func (img *Image) goSymTable() (*gosym.Table, error) {
	img.once.Do(func() {
		text := img.exe.Section(".text")
		pclntab := img.exe.Section(".gopclntab")

		if text == nil || pclntab == nil {
			img.err = errors.New("missing Go line table")
			return
		}

		lineTableData, err := pclntab.Data()

		if err != nil {
			img.err = err
			return
		}

		var symTableData []byte

		if s := img.exe.Section(".gosymtab"); s != nil {
			symTableData, _ = s.Data()
		}

		img.table, img.err = gosym.NewTable(symTableData, gosym.NewLineTable(lineTableData, text.Addr))
	})

	return img.table, img.err
}

// PCToLine resolves a program counter to its source file and line.
func (img *Image) PCToLine(pc uint64) (s string, err error) {
	symTable, err := img.goSymTable()

	if err != nil {
		return
	}

	file, line, fn := symTable.PCToLine(pc)

	if fn == nil {
		return "", fmt.Errorf("invalid pc %#x", pc)
	}

	return fmt.Sprintf("%s:%d (%s)", file, line, fn.Name), nil
}
