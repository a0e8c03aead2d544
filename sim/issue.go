// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"fmt"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/el3"
)

// Issue performs a single Normal world call on a booted core and returns
// its result, the core Normal world image is restored afterwards.
func Issue(c *el3.Core, call Call) (res Call, err error) {
	prev := c.Image(cpu.NonSecure)
	defer c.SetImage(cpu.NonSecure, prev)

	nw := &NormalWorld{Calls: []Call{call}}
	c.SetImage(cpu.NonSecure, nw)

	if err = c.Run(); err != nil {
		return
	}

	if len(nw.Results) != 1 {
		return res, fmt.Errorf("core %d returned %d results", c.Pos(), len(nw.Results))
	}

	return nw.Results[0], nil
}
