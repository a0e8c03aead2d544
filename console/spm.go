// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package console

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ehf"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/sim"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/spmd"
	"github.com/usbarmory/GoTEE-spm/util"
)

// Target represents the monitor inspected by console commands.
type Target struct {
	// Platform is the EL3 runtime
	Platform *el3.Platform
	// Dispatcher is the SPM Dispatcher
	Dispatcher *spmd.Dispatcher
	// SPMC is the EL3 SPM Core, nil with a lower EL SPM Core
	SPMC *spmc.Core
	// EHF is the exception handling framework, when present
	EHF *ehf.Framework
	// Images holds ELF images available for symbol resolution
	Images []*util.Image
	// Call issues a Normal world call on a core, nil when the Normal
	// world is not driven by the monitor
	Call func(c *el3.Core, call sim.Call) (sim.Call, error)

	// serializes commands driving cores
	mu sync.Mutex
}

var target *Target

// Attach sets the monitor inspected by console commands.
func Attach(t *Target) {
	target = t
}

var errNoTarget = errors.New("no monitor attached")

func init() {
	Add(Cmd{
		Name: "spm",
		Help: "per-core SPM state",
		Fn:   spmCmd,
	})

	Add(Cmd{
		Name: "services",
		Help: "EL3 runtime services",
		Fn:   servicesCmd,
	})

	Add(Cmd{
		Name: "manifest",
		Help: "SPM Core manifest",
		Fn:   manifestCmd,
	})

	Add(Cmd{
		Name:    "ffa",
		Args:    2,
		Pattern: regexp.MustCompile(`^ffa (\d+) (.+)$`),
		Syntax:  "<core> <fid> (x1..x7)?",
		Help:    "issue Normal world FF-A call",
		Fn:      ffaCmd,
	})

	Add(Cmd{
		Name:    "memattr",
		Args:    1,
		Pattern: regexp.MustCompile(`^memattr (\S+)$`),
		Syntax:  "<va>",
		Help:    "Secure Partition memory attributes",
		Fn:      memattrCmd,
	})

	Add(Cmd{
		Name:    "sym",
		Args:    2,
		Pattern: regexp.MustCompile(`^sym (\S+) (\S+)$`),
		Syntax:  "<image> <symbol>",
		Help:    "ELF symbol lookup",
		Fn:      symCmd,
	})

	Add(Cmd{
		Name:    "pc",
		Args:    2,
		Pattern: regexp.MustCompile(`^pc (\S+) (\S+)$`),
		Syntax:  "<image> <pc>",
		Help:    "program counter to source line",
		Fn:      pcCmd,
	})
}

func spmCmd(_ *term.Terminal, _ []string) (string, error) {
	if target == nil {
		return "", errNoTarget
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	var buf bytes.Buffer
	t := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)

	fmt.Fprintf(t, "core\tMPIDR\tnext\tSPMC\tpartition\tpriority\n")

	for _, c := range target.Platform.Cores() {
		pos := c.Pos()
		state := "-"
		partition := "-"
		prio := "-"

		if target.Dispatcher != nil {
			state = target.Dispatcher.State(pos).String()
		}

		if target.SPMC != nil {
			state = "EL3"
			partition = target.SPMC.State().String()

			if target.SPMC.Partition().Outstanding() {
				partition += " (running)"
			}
		}

		if target.EHF != nil {
			prio = fmt.Sprintf("%#x", target.EHF.Running(pos))
		}

		fmt.Fprintf(t, "%d\t%#x\t%s\t%s\t%s\t%s\n", pos, c.MPIDR, c.CM().NextEret(), state, partition, prio)
	}

	_ = t.Flush()

	return buf.String(), nil
}

func servicesCmd(_ *term.Terminal, _ []string) (string, error) {
	if target == nil {
		return "", errNoTarget
	}

	var buf bytes.Buffer
	t := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)

	fmt.Fprintf(t, "name\tOEN\ttype\tstatus\n")

	services, errs := target.Platform.Services()

	for i, s := range services {
		status := "enabled"

		if errs[i] != nil {
			status = fmt.Sprintf("disabled (%v)", errs[i])
		}

		kind := "yield"

		if s.Type == el3.SMC_TYPE_FAST {
			kind = "fast"
		}

		fmt.Fprintf(t, "%s\t%d-%d\t%s\t%s\n", s.Name, s.StartOEN, s.EndOEN, kind, status)
	}

	_ = t.Flush()

	return buf.String(), nil
}

func manifestCmd(_ *term.Terminal, _ []string) (string, error) {
	if target == nil || target.Dispatcher == nil {
		return "", errNoTarget
	}

	if target.SPMC != nil {
		return fmt.Sprintf("EL3 SPM Core id:%#x version:%s", target.SPMC.ID(), target.Dispatcher.Version()), nil
	}

	attrs := target.Dispatcher.Manifest()

	if attrs == nil {
		return "", errors.New("no valid SPM Core manifest")
	}

	return attrs.String(), nil
}

func ffaCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if target == nil {
		return "", errNoTarget
	}

	if target.Call == nil {
		return "", errors.New("Normal world not driven by the monitor")
	}

	n, err := strconv.Atoi(arg[0])

	if err != nil {
		return
	}

	pos := cpu.CoreIndex(n)

	if !pos.Valid() || n >= len(target.Platform.Cores()) {
		return "", fmt.Errorf("invalid core %d", n)
	}

	call, err := sim.ParseCall(arg[1])

	if err != nil {
		return
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	ret, err := target.Call(target.Platform.Core(pos), call)

	if err != nil {
		return
	}

	return ret.String(), nil
}

func memattrCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if target == nil || target.SPMC == nil {
		return "", errors.New("no EL3 SPM Core")
	}

	va, err := strconv.ParseUint(arg[0], 0, 64)

	if err != nil {
		return
	}

	xc := target.SPMC.Partition().Xlat

	if xc == nil {
		return "", errors.New("Secure Partition not set up")
	}

	attr, err := xc.Attributes(va)

	if err != nil {
		return
	}

	pa, err := xc.Translate(va)

	if err != nil {
		return
	}

	return fmt.Sprintf("va:%#x pa:%#x %s (%#x)", va, pa, attr, spmc.MemAttributes(attr)), nil
}

func image(name string) (*util.Image, error) {
	if target == nil {
		return nil, errNoTarget
	}

	for _, img := range target.Images {
		if img.Name == name {
			return img, nil
		}
	}

	return nil, fmt.Errorf("unknown image %s", name)
}

func symCmd(_ *term.Terminal, arg []string) (res string, err error) {
	img, err := image(arg[0])

	if err != nil {
		return
	}

	sym, err := img.LookupSym(arg[1])

	if err != nil {
		return
	}

	return fmt.Sprintf("%s %#x (%d bytes)", sym.Name, sym.Value, sym.Size), nil
}

func pcCmd(_ *term.Terminal, arg []string) (res string, err error) {
	img, err := image(arg[0])

	if err != nil {
		return
	}

	pc, err := strconv.ParseUint(arg[1], 0, 64)

	if err != nil {
		return
	}

	return img.PCToLine(pc)
}
