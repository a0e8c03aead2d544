// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"

	"github.com/usbarmory/GoTEE-spm/manifest"
)

// manifestCmd converts SPM Core manifests between YAML and DTB formats.
type manifestCmd struct {
	output string
	dump   bool
}

// Name implements subcommands.Command.Name.
func (*manifestCmd) Name() string {
	return "manifest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*manifestCmd) Synopsis() string {
	return "compile a YAML SPM Core manifest to DTB, or dump a manifest"
}

// Usage implements subcommands.Command.Usage.
func (*manifestCmd) Usage() string {
	return "manifest -o <spmc.dtb> <spmc.yaml>\nmanifest -dump <spmc.dtb|spmc.yaml>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *manifestCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&m.output, "o", "", "output DTB path")
	fs.BoolVar(&m.dump, "dump", false, "print manifest attributes as YAML")
}

// Execute implements subcommands.Command.Execute.
func (m *manifestCmd) Execute(_ context.Context, fs *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if fs.NArg() != 1 || (len(m.output) == 0) == !m.dump {
		fs.Usage()
		return subcommands.ExitUsageError
	}

	if err := m.execute(fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func (m *manifestCmd) execute(path string) (err error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return
	}

	attrs, err := manifest.Load(buf)

	if err != nil {
		return
	}

	if err = attrs.Validate(); err != nil {
		return
	}

	if m.dump {
		out, err := yaml.Marshal(attrs)

		if err != nil {
			return err
		}

		_, err = os.Stdout.Write(out)

		return err
	}

	return os.WriteFile(m.output, manifest.Encode(attrs), 0644)
}
