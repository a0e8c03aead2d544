// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package manifest loads the SPM Core manifest from the boot time blob
// provided by the previous boot stage.
//
// The firmware format is a flattened device tree holding a node compatible
// with "arm,ffa-core-manifest-1.0" with an "attribute" subnode, a YAML
// rendition of the same attributes is accepted for tooling.
package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/usbarmory/GoTEE-spm/ffa"
)

// Compatible is the compatible string of the SPM Core manifest node.
const Compatible = "arm,ffa-core-manifest-1.0"

// ExecState represents the execution state requested for the SPM Core.
type ExecState uint32

const (
	AArch64 ExecState = 0
	AArch32 ExecState = 1
)

func (e ExecState) String() string {
	switch e {
	case AArch64:
		return "AArch64"
	case AArch32:
		return "AArch32"
	default:
		return fmt.Sprintf("ExecState(%d)", uint32(e))
	}
}

// Attributes represents the SPM Core manifest attributes.
type Attributes struct {
	// MajorVersion is the FF-A major version implemented by the SPMC
	MajorVersion uint16 `yaml:"maj_ver"`
	// MinorVersion is the FF-A minor version implemented by the SPMC
	MinorVersion uint16 `yaml:"min_ver"`
	// SPMCID is the SPMC endpoint ID, must have the secure ID bit set
	SPMCID uint16 `yaml:"spmc_id"`
	// ExecState is the SPMC execution state
	ExecState ExecState `yaml:"exec_state"`
	// BinarySize is the optional SPMC image size
	BinarySize uint32 `yaml:"binary_size,omitempty"`
	// LoadAddress is the optional SPMC load address
	LoadAddress uint64 `yaml:"load_address,omitempty"`
	// Entrypoint is the optional SPMC entry point, overriding the one
	// handed off by the previous boot stage when not zero
	Entrypoint uint64 `yaml:"entrypoint,omitempty"`
}

var (
	ErrInvalidBlob      = errors.New("invalid manifest blob")
	ErrNoManifestNode   = errors.New("manifest node not found")
	ErrMissingProperty  = errors.New("missing mandatory manifest property")
	ErrInvalidSPMCID    = errors.New("invalid SPMC ID")
	ErrInvalidExecState = errors.New("invalid execution state")
)

// Version returns the packed FF-A version declared by the manifest.
func (a *Attributes) Version() ffa.Version {
	return ffa.MakeVersion(a.MajorVersion, a.MinorVersion)
}

// Validate performs structural checks on the attributes, version
// compatibility is left to the consumer.
func (a *Attributes) Validate() error {
	if !ffa.IsSecureID(a.SPMCID) {
		return fmt.Errorf("%w %#x", ErrInvalidSPMCID, a.SPMCID)
	}

	if a.ExecState != AArch64 && a.ExecState != AArch32 {
		return fmt.Errorf("%w %d", ErrInvalidExecState, a.ExecState)
	}

	return nil
}

func (a *Attributes) String() string {
	return fmt.Sprintf("version:%d.%d spmc_id:%#x exec_state:%s binary_size:%#x load_address:%#x entrypoint:%#x",
		a.MajorVersion, a.MinorVersion, a.SPMCID, a.ExecState, a.BinarySize, a.LoadAddress, a.Entrypoint)
}

// Load parses manifest attributes from an FDT or YAML blob.
func Load(blob []byte) (a *Attributes, err error) {
	if len(blob) >= 4 && binary.BigEndian.Uint32(blob) == fdtMagic {
		return LoadFDT(blob)
	}

	return LoadYAML(blob)
}

// yamlAttributes tracks mandatory properties presence
type yamlAttributes struct {
	MajorVersion *uint16    `yaml:"maj_ver"`
	MinorVersion *uint16    `yaml:"min_ver"`
	SPMCID       *uint16    `yaml:"spmc_id"`
	ExecState    *ExecState `yaml:"exec_state"`
	BinarySize   uint32     `yaml:"binary_size"`
	LoadAddress  uint64     `yaml:"load_address"`
	Entrypoint   uint64     `yaml:"entrypoint"`
}

// LoadYAML parses manifest attributes from a YAML document.
func LoadYAML(buf []byte) (a *Attributes, err error) {
	var y yamlAttributes

	if err = yaml.Unmarshal(buf, &y); err != nil {
		return nil, fmt.Errorf("%w, %v", ErrInvalidBlob, err)
	}

	switch {
	case y.MajorVersion == nil:
		return nil, fmt.Errorf("%w maj_ver", ErrMissingProperty)
	case y.MinorVersion == nil:
		return nil, fmt.Errorf("%w min_ver", ErrMissingProperty)
	case y.SPMCID == nil:
		return nil, fmt.Errorf("%w spmc_id", ErrMissingProperty)
	case y.ExecState == nil:
		return nil, fmt.Errorf("%w exec_state", ErrMissingProperty)
	}

	a = &Attributes{
		MajorVersion: *y.MajorVersion,
		MinorVersion: *y.MinorVersion,
		SPMCID:       *y.SPMCID,
		ExecState:    *y.ExecState,
		BinarySize:   y.BinarySize,
		LoadAddress:  y.LoadAddress,
		Entrypoint:   y.Entrypoint,
	}

	return
}
