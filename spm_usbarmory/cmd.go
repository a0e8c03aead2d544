// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/usbarmory/tamago/bits"
	"github.com/usbarmory/tamago/soc/nxp/csu"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE-spm/console"
)

var errEmulated = errors.New("unsupported under emulation")

func init() {
	console.Add(console.Cmd{
		Name: "csl",
		Help: "show config security levels (CSL)",
		Fn:   cslCmd,
	})

	console.Add(console.Cmd{
		Name:    "csl ",
		Args:    3,
		Pattern: regexp.MustCompile(`^csl (\d+) (\d+) ([[:xdigit:]]+)$`),
		Syntax:  "<periph> <slave> <hex csl>",
		Help:    "set config security level (CSL)",
		Fn:      cslCmd,
	})

	console.Add(console.Cmd{
		Name: "sa",
		Help: "show security access (SA)",
		Fn:   saCmd,
	})

	console.Add(console.Cmd{
		Name: "dbg",
		Help: "show ARM debug permissions",
		Fn:   dbgCmd,
	})
}

func cslCmd(_ *term.Terminal, arg []string) (res string, err error) {
	if len(arg) == 0 {
		var buf bytes.Buffer

		for i := csu.CSL_MIN; i <= csu.CSL_MAX; i++ {
			csl0, _, _ := imx6ul.CSU.GetSecurityLevel(i, 0)
			csl1, _, _ := imx6ul.CSU.GetSecurityLevel(i, 1)

			fmt.Fprintf(&buf, "CSL%.2d 0:%#.2x 1:%#.2x\n", i, csl0, csl1)
		}

		return buf.String(), nil
	}

	if !imx6ul.Native {
		return "", errEmulated
	}

	periph, err := strconv.ParseUint(arg[0], 10, 8)

	if err != nil {
		return "", fmt.Errorf("invalid peripheral index, %v", err)
	}

	slave, err := strconv.ParseUint(arg[1], 10, 8)

	if err != nil {
		return "", fmt.Errorf("invalid slave index, %v", err)
	}

	csl, err := strconv.ParseUint(arg[2], 16, 8)

	if err != nil {
		return "", fmt.Errorf("invalid csl, %v", err)
	}

	err = imx6ul.CSU.SetSecurityLevel(int(periph), int(slave), uint8(csl), false)

	return
}

func saCmd(_ *term.Terminal, _ []string) (string, error) {
	var buf bytes.Buffer

	for i := csu.SA_MIN; i <= csu.SA_MAX; i++ {
		state := "nonsecure"

		if sa, _, _ := imx6ul.CSU.GetAccess(i); sa {
			state = "secure"
		}

		fmt.Fprintf(&buf, "SA%.2d: %s\n", i, state)
	}

	return buf.String(), nil
}

func dbgCmd(_ *term.Terminal, _ []string) (string, error) {
	var buf bytes.Buffer

	if !imx6ul.Native {
		return "", errEmulated
	}

	status := imx6ul.ARM.DebugStatus()
	t := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', 0)

	fmt.Fprintf(t, "type\timplemented\tenabled\n")

	for i, name := range []string{"Secure non-invasive", "Secure invasive", "Non-secure non-invasive", "Non-secure invasive"} {
		pos := 7 - 2*i
		fmt.Fprintf(t, "%s\t%d\t%d\n", name, bits.GetN(&status, pos, 1), bits.GetN(&status, pos-1, 1))
	}

	t.Flush()

	return buf.String(), nil
}
