// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"errors"
	"os"
	"runtime"
	"strings"
	"testing"
)

func testImage(t *testing.T) *Image {
	t.Helper()

	if runtime.GOOS != "linux" {
		t.Skip("ELF executable required")
	}

	path, err := os.Executable()

	if err != nil {
		t.Skip(err)
	}

	buf, err := os.ReadFile(path)

	if err != nil {
		t.Skip(err)
	}

	img, err := NewImage("test", buf)

	if err != nil {
		t.Fatal(err)
	}

	return img
}

func TestLookupSym(t *testing.T) {
	img := testImage(t)

	if img.Entry() == 0 {
		t.Errorf("null entry point")
	}

	sym, err := img.LookupSym("runtime.main")

	if err != nil {
		t.Skipf("stripped executable (%v)", err)
	}

	if sym.Value == 0 {
		t.Errorf("runtime.main at null address")
	}

	if _, err = img.LookupSym("not.a.symbol"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("got %v, want ErrSymbolNotFound", err)
	}

	line, err := img.PCToLine(sym.Value)

	if err != nil {
		t.Skipf("no line table (%v)", err)
	}

	if !strings.Contains(line, "runtime.main") {
		t.Errorf("runtime.main resolved to %s", line)
	}
}

func TestNewImageInvalid(t *testing.T) {
	if _, err := NewImage("garbage", []byte("not an executable")); err == nil {
		t.Errorf("NewImage accepted invalid data")
	}
}
