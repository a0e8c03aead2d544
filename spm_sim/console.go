// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/google/subcommands"

	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/util"
)

const banner = "Secure Partition Manager simulator"

// consoleCmd serves the monitor console over SSH on a booted simulated
// platform.
type consoleCmd struct {
	config string
	addr   string
}

// Name implements subcommands.Command.Name.
func (*consoleCmd) Name() string {
	return "console"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*consoleCmd) Synopsis() string {
	return "boot a simulated platform and serve its SSH console"
}

// Usage implements subcommands.Command.Usage.
func (*consoleCmd) Usage() string {
	return "console [-addr <host:port>] -config <platform.yaml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *consoleCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "platform description")
	fs.StringVar(&c.addr, "addr", "127.0.0.1:2222", "SSH listen address")
}

// Execute implements subcommands.Command.Execute.
func (c *consoleCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (c *consoleCmd) execute(ctx context.Context) (err error) {
	s, err := load(c.config)

	if err != nil {
		return
	}

	target, err := s.Target()

	if err != nil {
		return
	}

	console.Attach(target)

	listener, err := net.Listen("tcp", c.addr)

	if err != nil {
		return
	}

	defer listener.Close()

	ssh := &util.Console{
		Banner:   banner,
		Help:     console.Help,
		Handler:  console.Handle,
		Listener: listener,
		Log:      s.Log,
	}

	if _, err = ssh.Start(); err != nil {
		return
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	<-ctx.Done()

	return
}
