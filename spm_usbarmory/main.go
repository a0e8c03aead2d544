// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"
	_ "unsafe"

	usbarmory "github.com/usbarmory/tamago/board/usbarmory/mk2"
	"github.com/usbarmory/tamago/dma"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/imx-usbnet"

	"github.com/usbarmory/GoTEE-spm/console"
	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/ehf"
	"github.com/usbarmory/GoTEE-spm/el3"
	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/spm_usbarmory/internal"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/spmd"
	"github.com/usbarmory/GoTEE-spm/util"
)

const (
	sshPort = 22
	IP      = "10.0.0.1"
	MAC     = "1a:55:89:a2:69:41"
	hostMAC = "1a:55:89:a2:69:42"
)

// The Secure Partition and Normal world ELF binaries are embedded within
// the monitor executable.

//go:embed assets/secure_partition_go.elf
var partitionELF []byte

//go:embed assets/nonsecure_os_go.elf
var nonsecureELF []byte

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = mem.SecureStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = mem.SecureSize

var banner = fmt.Sprintf("%s/%s (%s) • FF-A Secure Partition Manager", runtime.GOOS, runtime.GOARCH, runtime.Version())

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)

	// Move DMA region to prevent NonSecure access.
	dma.Init(mem.SecureDMAStart, mem.SecureDMASize)

	if imx6ul.Native {
		imx6ul.SetARMFreq(900)

		debugConsole, _ := usbarmory.DetectDebugAccessory(250 * time.Millisecond)
		<-debugConsole
	}

	log.Print(banner)
}

// newSPM builds the EL3 runtime with the SPM Core resident in the monitor,
// the Secure Partition and Normal world run as GoTEE execution contexts on
// a single core.
func newSPM(out *util.BufferedLog) (t *console.Target, err error) {
	mem.Init()

	sp, err := spm.LoadPartition(partitionELF, out)

	if err != nil {
		return
	}

	ns, err := spm.LoadNormalWorld(nonsecureELF, out)

	if err != nil {
		return
	}

	if err = spm.ConfigureTrustZone(imx6ul.Native); err != nil {
		return nil, fmt.Errorf("SPM could not configure TrustZone, %v", err)
	}

	f, err := ehf.New(spmc.PriorityLevel)

	if err != nil {
		return
	}

	s := spmc.New(mem.PartitionConfig(uint64(sp.Ctx.R15), mem.SharedBuffer()), f)
	d := spmd.New(spmd.Config{SPMCAtEL3: true}, s)

	p, err := el3.NewPlatform(1, el3.Handoff{
		NonSecure: &cpu.EntryPointInfo{PC: uint64(ns.Ctx.R15)},
	})

	if err != nil {
		return
	}

	if err = p.Register(d.Service()); err != nil {
		return
	}

	c := p.Core(0)
	c.SetImage(cpu.Secure, sp)
	c.SetImage(cpu.NonSecure, ns)

	if err = p.Boot(); err != nil {
		return
	}

	if s.State() != spmc.Idle {
		return nil, fmt.Errorf("SPM Secure Partition initialization failed (%s)", s.State())
	}

	t = &console.Target{
		Platform:   p,
		Dispatcher: d,
		SPMC:       s,
		EHF:        f,
	}

	for _, img := range []*spm.Image{sp, ns} {
		if img.Debug != nil {
			t.Images = append(t.Images, img.Debug)
		}
	}

	return
}

func main() {
	defer log.Printf("SPM says goodbye")

	out := &util.BufferedLog{Output: os.Stdout}
	t, err := newSPM(out)

	if err != nil {
		log.Fatal(err)
	}

	console.Attach(t)

	if !imx6ul.Native {
		if err := t.Platform.Core(0).Run(); err != nil {
			log.Fatal(err)
		}

		return
	}

	iface, err := usbnet.Init(IP, MAC, hostMAC, 1)

	if err != nil {
		log.Fatalf("SPM could not initialize USB networking, %v", err)
	}

	iface.EnableICMP()

	listener, err := iface.ListenerTCP4(sshPort)

	if err != nil {
		log.Fatalf("SPM could not initialize SSH listener, %v", err)
	}

	ssh := &util.Console{
		Banner:   banner,
		Help:     console.Help,
		Handler:  console.Handle,
		Listener: listener,
		Log:      out,
	}

	fingerprint, err := ssh.Start()

	if err != nil {
		log.Fatalf("SPM could not initialize SSH server, %v", err)
	}

	log.Printf("SPM SSH console started, fingerprint %s", fingerprint)

	go func() {
		c := t.Platform.Core(0)

		log.Printf("SPM starting Normal world %s", spm.Describe(c.Image(cpu.NonSecure).(*spm.Image)))

		if err := c.Run(); err != nil {
			log.Printf("SPM %v", err)
		}

		usbarmory.LED("blue", false)
	}()

	usbarmory.LED("blue", true)

	usbarmory.USB1.Init()
	usbarmory.USB1.DeviceMode()
	usbarmory.USB1.Reset()

	// never returns
	usbarmory.USB1.Start(iface.NIC.Device)
}
