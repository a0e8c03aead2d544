// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/usbarmory/GoTEE-spm/spm_sim/internal"
)

func load(path string) (s *simulator.Simulation, err error) {
	if len(path) == 0 {
		return nil, errors.New("missing -config")
	}

	cfg, err := simulator.Load(path)

	if err != nil {
		return
	}

	if s, err = simulator.New(cfg, os.Stdout); err != nil {
		return
	}

	return s, s.Boot()
}

func printState(s *simulator.Simulation) {
	t := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer t.Flush()

	services, errs := s.Platform.Services()

	for i, svc := range services {
		if errs[i] != nil {
			fmt.Fprintf(t, "service %s\tdisabled\t%v\n", svc.Name, errs[i])
		}
	}

	for _, c := range s.Platform.Cores() {
		state := s.Dispatcher.State(c.Pos()).String()

		if s.SPMC != nil {
			state = "partition " + s.SPMC.State().String()
		}

		fmt.Fprintf(t, "core %d\t%#x\t%s\n", c.Pos(), c.MPIDR, state)
	}
}

// bootCmd boots a simulated platform and reports its state.
type bootCmd struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*bootCmd) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*bootCmd) Synopsis() string {
	return "boot a simulated platform and report the SPM state of each core"
}

// Usage implements subcommands.Command.Usage.
func (*bootCmd) Usage() string {
	return "boot -config <platform.yaml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *bootCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&b.config, "config", "", "platform description")
}

// Execute implements subcommands.Command.Execute.
func (b *bootCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := load(b.config)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}

	printState(s)

	return subcommands.ExitSuccess
}

// runCmd boots a simulated platform and executes the Normal world scripts.
type runCmd struct {
	config  string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*runCmd) Synopsis() string {
	return "boot a simulated platform and run the Normal world call scripts"
}

// Usage implements subcommands.Command.Usage.
func (*runCmd) Usage() string {
	return "run [-timeout <duration>] -config <platform.yaml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *runCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&r.config, "config", "", "platform description")
	fs.DurationVar(&r.timeout, "timeout", 10*time.Second, "run timeout")
}

// Execute implements subcommands.Command.Execute.
func (r *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := load(r.config)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err = s.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}

	printState(s)

	if s.SPMC != nil {
		for i, n := range s.MMRequests() {
			fmt.Printf("core %d served %d MM requests\n", i, n)
		}
	}

	return subcommands.ExitSuccess
}
