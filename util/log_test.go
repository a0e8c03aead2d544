// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

func TestBufferedLog(t *testing.T) {
	var out bytes.Buffer

	l := &BufferedLog{Output: &out}

	fmt.Fprint(l.Writer(cpu.NonSecure), "normal ")
	fmt.Fprint(l.Writer(cpu.Secure), "secure\n")

	if got := out.String(); got != "secure\n" {
		t.Errorf("got %q after secure newline", got)
	}

	fmt.Fprint(l.Writer(cpu.NonSecure), "world\n")

	if got := out.String(); got != "secure\nnormal world\n" {
		t.Errorf("got %q after non-secure newline", got)
	}

	out.Reset()

	long := strings.Repeat("x", outputLimit+1)
	fmt.Fprint(l.Writer(cpu.Secure), long)

	if got := out.String(); got != long {
		t.Errorf("buffer not flushed past its limit, got %d bytes", len(got))
	}

	out.Reset()

	l.Print(cpu.NonSecure, '!')
	l.Flush()

	if got := out.String(); got != "!" {
		t.Errorf("got %q after Flush", got)
	}
}

func TestBufferedLogTerminal(t *testing.T) {
	var out bytes.Buffer

	tt := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{strings.NewReader(""), &out}, "")

	l := &BufferedLog{}
	l.SetTerminal(tt)

	fmt.Fprint(l.Writer(cpu.Secure), "secure\n")
	fmt.Fprint(l.Writer(cpu.NonSecure), "normal\n")

	got := out.String()
	green := string(tt.Escape.Green) + "secure"
	red := string(tt.Escape.Red) + "normal"

	if !strings.Contains(got, green) || !strings.Contains(got, red) {
		t.Errorf("missing colored output in %q", got)
	}

	l.SetTerminal(nil)
	out.Reset()

	fmt.Fprint(l.Writer(cpu.Secure), "dropped\n")

	if out.Len() != 0 {
		t.Errorf("detached terminal received %q", out.String())
	}
}
