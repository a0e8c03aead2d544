// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package util provides the SSH console, world output buffering and ELF
// symbol helpers shared by the monitor binaries.
package util

import (
	"bytes"
	"io"
	"sync"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-spm/cpu"
)

const outputLimit = 1024
const flushChr = 0x0a // \n

// BufferedLog represents the line buffered output of lower EL software,
// kept separate for each security state.
type BufferedLog struct {
	// Output receives flushed lines when no terminal is attached
	Output io.Writer

	mu  sync.Mutex
	buf [2]bytes.Buffer
	t   *term.Terminal
}

// SetTerminal redirects flushed lines to a terminal, colored by security
// state, or back to Output when t is nil.
func (l *BufferedLog) SetTerminal(t *term.Terminal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.t = t
}

func (l *BufferedLog) flush(s cpu.SecurityState) {
	buf := &l.buf[s]

	if t := l.t; t != nil {
		color := t.Escape.Red

		if s == cpu.Secure {
			color = t.Escape.Green
		}

		t.Write(color)
		t.Write(buf.Bytes())
		t.Write(t.Escape.Reset)
	} else if l.Output != nil {
		l.Output.Write(buf.Bytes())
	}

	buf.Reset()
}

// Print buffers a character printed by a world, the buffer is flushed
// on newline or when its limit is exceeded.
func (l *BufferedLog) Print(s cpu.SecurityState, c byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := &l.buf[s]
	buf.WriteByte(c)

	if c == flushChr || buf.Len() > outputLimit {
		l.flush(s)
	}
}

// Flush writes out any partial line of both worlds.
func (l *BufferedLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for s := range l.buf {
		if l.buf[s].Len() > 0 {
			l.flush(cpu.SecurityState(s))
		}
	}
}

// Writer returns an io.Writer buffering output for a security state.
func (l *BufferedLog) Writer(s cpu.SecurityState) io.Writer {
	return worldWriter{l, s}
}

type worldWriter struct {
	l *BufferedLog
	s cpu.SecurityState
}

func (w worldWriter) Write(p []byte) (int, error) {
	for _, c := range p {
		w.l.Print(w.s, c)
	}

	return len(p), nil
}
