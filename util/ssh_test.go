// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package util

import (
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

func TestConsole(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")

	if err != nil {
		t.Skipf("no loopback networking (%v)", err)
	}

	defer listener.Close()

	lines := make(chan string, 4)

	c := &Console{
		Banner: "test console",
		Help: func(_ *term.Terminal) string {
			return "help"
		},
		Handler: func(_ *term.Terminal, line string) error {
			lines <- line

			if line == "exit" {
				return io.EOF
			}

			return nil
		},
		Listener: listener,
	}

	fingerprint, err := c.Start()

	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(fingerprint, "SHA256:") {
		t.Errorf("unexpected fingerprint %s", fingerprint)
	}

	client, err := ssh.Dial("tcp", listener.Addr().String(), &ssh.ClientConfig{
		User:            "test",
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})

	if err != nil {
		t.Fatal(err)
	}

	defer client.Close()

	session, err := client.NewSession()

	if err != nil {
		t.Fatal(err)
	}

	defer session.Close()

	session.Stdout = io.Discard
	stdin, err := session.StdinPipe()

	if err != nil {
		t.Fatal(err)
	}

	if err = session.Shell(); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []string{"spm", "exit"} {
		if _, err = io.WriteString(stdin, cmd+"\r"); err != nil {
			t.Fatal(err)
		}

		select {
		case line := <-lines:
			if line != cmd {
				t.Errorf("handler got %q, want %q", line, cmd)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for %q", cmd)
		}
	}
}

func TestConsoleStartErrors(t *testing.T) {
	c := &Console{}

	if _, err := c.Start(); err == nil {
		t.Errorf("Start without listener succeeded")
	}
}
