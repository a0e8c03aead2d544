// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package spm

import (
	"fmt"
	"log"

	"github.com/usbarmory/tamago/arm"
	"github.com/usbarmory/tamago/soc/nxp/imx6ul"

	"github.com/usbarmory/GoTEE/monitor"

	"github.com/usbarmory/armory-boot/exec"

	"github.com/usbarmory/GoTEE-spm/mem"
	"github.com/usbarmory/GoTEE-spm/util"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

// short descriptor access permissions, AP[1:0]
const (
	apPrivileged = 0b01
	apUserRO     = 0b10
	apUserRW     = 0b11
)

// mapRegions applies the Secure Partition data regions to the MMU, the
// executable image is mapped by monitor.Load.
func mapRegions(regions []xlat.Region) {
	for _, r := range regions {
		if r.Attr&xlat.ExecuteNever == 0 {
			continue
		}

		ap := uint32(apPrivileged)

		switch {
		case r.Attr&xlat.User == 0:
		case r.Attr&xlat.RW != 0:
			ap = apUserRW
		default:
			ap = apUserRO
		}

		start := uint32(r.VA)
		end := uint32(r.VA + r.Size)

		imx6ul.ARM.ConfigureMMU(start, end, uint32(r.PA), arm.MemoryRegion|ap<<10)
	}
}

// LoadPartition loads a TamaGo unikernel as Secure Partition, executed in
// Secure World user mode.
func LoadPartition(elf []byte, out *util.BufferedLog) (img *Image, err error) {
	image := &exec.ELFImage{
		Region: mem.PartitionRegion,
		ELF:    elf,
	}

	if err = image.Load(); err != nil {
		return
	}

	ctx, err := monitor.Load(image.Entry(), image.Region, true)

	if err != nil {
		return nil, fmt.Errorf("SPM could not load Secure Partition, %v", err)
	}

	log.Printf("SPM loaded Secure Partition addr:%#x size:%d entry:%#x", ctx.Memory.Start, len(elf), ctx.R15)

	mapRegions(mem.PartitionRegions())

	// the partition stack grows down from the end of its memory
	ctx.R13 = mem.PartitionStart + mem.PartitionSize

	img = NewImage(ctx, out)

	if img.Debug, err = util.NewImage("partition", elf); err != nil {
		log.Printf("SPM Secure Partition symbols unavailable, %v", err)
	}

	return img, nil
}

// LoadNormalWorld loads a TamaGo unikernel as Normal world OS.
func LoadNormalWorld(elf []byte, out *util.BufferedLog) (img *Image, err error) {
	image := &exec.ELFImage{
		Region: mem.NonSecureRegion,
		ELF:    elf,
	}

	if err = image.Load(); err != nil {
		return
	}

	ctx, err := monitor.Load(image.Entry(), image.Region, false)

	if err != nil {
		return nil, fmt.Errorf("SPM could not load kernel, %v", err)
	}

	log.Printf("SPM loaded kernel addr:%#x size:%d entry:%#x", ctx.Memory.Start, len(elf), ctx.R15)

	img = NewImage(ctx, out)

	if img.Debug, err = util.NewImage("nonsecure", elf); err != nil {
		log.Printf("SPM kernel symbols unavailable, %v", err)
	}

	return img, nil
}

// Describe returns the execution state of an image.
func Describe(img *Image) string {
	ctx := img.Ctx
	mode := arm.ModeName(int(ctx.SPSR) & 0x1f)

	return fmt.Sprintf("mode:%s ns:%v sp:%#.8x lr:%#.8x pc:%#.8x", mode, ctx.NonSecure(), ctx.R13, ctx.R14, ctx.R15)
}
