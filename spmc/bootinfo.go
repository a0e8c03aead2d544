// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spmc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/usbarmory/GoTEE-spm/cpu"
	"github.com/usbarmory/GoTEE-spm/el3"
)

// Boot information header values
const (
	BootInfoType    = 0x1
	BootInfoVersion = 0x1
)

// MPInfoPrimary flags the boot core.
const MPInfoPrimary = 1 << 0

// Layout represents the Secure Partition memory layout.
type Layout struct {
	MemBase       uint64 `yaml:"mem_base"`
	MemLimit      uint64 `yaml:"mem_limit"`
	ImageBase     uint64 `yaml:"image_base"`
	StackBase     uint64 `yaml:"stack_base"`
	HeapBase      uint64 `yaml:"heap_base"`
	NSCommBufBase uint64 `yaml:"ns_comm_buf_base"`
	SharedBufBase uint64 `yaml:"shared_buf_base"`
	ImageSize     uint32 `yaml:"image_size"`
	PcpuStackSize uint32 `yaml:"pcpu_stack_size"`
	HeapSize      uint32 `yaml:"heap_size"`
	NSCommBufSize uint32 `yaml:"ns_comm_buf_size"`
	SharedBufSize uint32 `yaml:"shared_buf_size"`
}

// BootInfoHeader represents the boot information parameter header.
type BootInfoHeader struct {
	Type    uint8
	Version uint8
	Size    uint16
	Attr    uint32
}

// BootInfo represents the boot information passed to the Secure Partition
// in the secure shared buffer.
type BootInfo struct {
	Header BootInfoHeader
	Layout Layout

	NumMemRegions uint32
	NumCPUs       uint32
	MPInfo        uint64
}

// MPInfo represents the per-core boot information.
type MPInfo struct {
	MPIDR    uint64
	LinearID uint32
	Flags    uint32
}

// writeBootInfo serializes the boot information in the shared buffer
func (s *Core) writeBootInfo(p *el3.Platform) (n int, err error) {
	cores := p.Cores()
	l := s.cfg.Layout

	info := BootInfo{
		Header: BootInfoHeader{
			Type:    BootInfoType,
			Version: BootInfoVersion,
			Size:    uint16(binary.Size(BootInfo{})),
		},
		Layout:        l,
		NumMemRegions: uint32(len(s.cfg.Regions)),
		NumCPUs:       uint32(len(cores)),
		MPInfo:        l.SharedBufBase + uint64(binary.Size(BootInfo{})),
	}

	buf := new(bytes.Buffer)

	if err = binary.Write(buf, binary.LittleEndian, &info); err != nil {
		return
	}

	for _, c := range cores {
		mp := MPInfo{
			MPIDR:    c.MPIDR,
			LinearID: uint32(c.Pos()),
		}

		if c.Primary() {
			mp.Flags |= MPInfoPrimary
		}

		if err = binary.Write(buf, binary.LittleEndian, &mp); err != nil {
			return
		}
	}

	if buf.Len() > len(s.cfg.SharedBuffer) || (l.SharedBufSize != 0 && buf.Len() > int(l.SharedBufSize)) {
		return 0, fmt.Errorf("boot information (%d bytes) exceeds shared buffer", buf.Len())
	}

	return copy(s.cfg.SharedBuffer, buf.Bytes()), nil
}

// ReadBootInfo parses the boot information from the shared buffer.
func ReadBootInfo(buf []byte) (info *BootInfo, mp []MPInfo, err error) {
	info = &BootInfo{}
	r := bytes.NewReader(buf)

	if err = binary.Read(r, binary.LittleEndian, info); err != nil {
		return nil, nil, fmt.Errorf("invalid boot information, %v", err)
	}

	if info.Header.Type != BootInfoType || info.Header.Version != BootInfoVersion {
		return nil, nil, fmt.Errorf("invalid boot information header %+v", info.Header)
	}

	if info.NumCPUs > cpu.PlatformCoreCount {
		return nil, nil, fmt.Errorf("invalid boot information core count %d", info.NumCPUs)
	}

	mp = make([]MPInfo, info.NumCPUs)

	if err = binary.Read(r, binary.LittleEndian, mp); err != nil {
		return nil, nil, fmt.Errorf("invalid boot information, %v", err)
	}

	return
}
