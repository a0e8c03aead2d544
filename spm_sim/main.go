// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The spm_sim tool runs the Secure Partition Manager on a simulated
// platform, with scripted Normal world and secure images.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/google/subcommands"
)

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stderr)
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(bootCmd), "")
	subcommands.Register(new(runCmd), "")
	subcommands.Register(new(manifestCmd), "")
	subcommands.Register(new(consoleCmd), "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
