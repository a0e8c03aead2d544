// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package simulator builds and runs a simulated platform, with scripted
// lower EL images, from a YAML description.
package simulator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/usbarmory/GoTEE-spm/sim"
	"github.com/usbarmory/GoTEE-spm/spmc"
	"github.com/usbarmory/GoTEE-spm/xlat"
)

// DefaultNSEntry is the Normal world entry point used when none is
// configured.
const DefaultNSEntry = 0x60000000

// Config represents a simulated platform.
type Config struct {
	// Cores is the number of platform cores
	Cores int `yaml:"cores"`
	// SEL2 runs the SPM Core at S-EL2
	SEL2 bool `yaml:"sel2"`
	// SEL2Present reports S-EL2 support
	SEL2Present bool `yaml:"sel2_present"`
	// SPMCAtEL3 selects the EL3 resident SPM Core
	SPMCAtEL3 bool `yaml:"spmc_at_el3"`
	// Debug enables call tracing
	Debug bool `yaml:"debug"`
	// NSEntry is the Normal world entry point
	NSEntry uint64 `yaml:"ns_entrypoint"`

	// SPMC describes the lower EL SPM Core
	SPMC SPMCConfig `yaml:"spmc"`
	// Partition describes the Secure Partition of the EL3 SPM Core
	Partition PartitionConfig `yaml:"partition"`

	// Scripts holds the Normal world calls issued by each core
	Scripts map[int][]string `yaml:"scripts"`
	// Images holds ELF executables, by name, for console symbol lookups
	Images map[string]string `yaml:"images"`

	dir string
}

// SPMCConfig represents a lower EL SPM Core image.
type SPMCConfig struct {
	// Entrypoint is the image entry point passed by the previous stage
	Entrypoint uint64 `yaml:"entrypoint"`
	// ID is the endpoint ID reported by the image
	ID uint16 `yaml:"id"`
	// Manifest is an inline YAML manifest
	Manifest string `yaml:"manifest"`
	// ManifestFile is the path of a DTB or YAML manifest
	ManifestFile string `yaml:"manifest_file"`
	// BootError is the FF-A error reported at initialization, zero for
	// success
	BootError int32 `yaml:"boot_error"`
}

// RegionConfig represents a Secure Partition memory region.
type RegionConfig struct {
	PA   uint64   `yaml:"pa"`
	VA   uint64   `yaml:"va"`
	Size uint64   `yaml:"size"`
	Attr []string `yaml:"attr"`
	// Block maps the region with block descriptors
	Block bool `yaml:"block"`
}

// PartitionConfig represents the Secure Partition of the EL3 SPM Core.
type PartitionConfig struct {
	Entrypoint uint64         `yaml:"entrypoint"`
	XlatBase   uint64         `yaml:"xlat_base"`
	VASpace    uint64         `yaml:"va_space"`
	Regions    []RegionConfig `yaml:"regions"`
	Layout     spmc.Layout    `yaml:"layout"`
	// Boot holds the calls issued by the partition at initialization
	Boot []string `yaml:"boot"`
	// BootStatus is the initialization status
	BootStatus int64 `yaml:"boot_status"`
	// MMStatus is the status of every MM request
	MMStatus int64 `yaml:"mm_status"`
}

var attrNames = map[string]xlat.Attr{
	"device":   xlat.Device,
	"nc":       xlat.NonCacheable,
	"memory":   xlat.Memory,
	"code":     xlat.Code,
	"rodata":   xlat.ROData,
	"rwdata":   xlat.RWData,
	"rw":       xlat.RW,
	"ns":       xlat.NS,
	"xn":       xlat.ExecuteNever,
	"user":     xlat.User,
	"ro":       xlat.RO,
	"secure":   xlat.Secure,
	"execute":  xlat.Execute,
	"priv":     xlat.Privileged,
}

// ParseAttr combines attribute names (e.g. `rwdata`, `user`) into region
// attributes.
func ParseAttr(names []string) (attr xlat.Attr, err error) {
	for _, name := range names {
		a, ok := attrNames[strings.ToLower(name)]

		if !ok {
			return 0, fmt.Errorf("invalid attribute %q", name)
		}

		attr |= a
	}

	return
}

// Region returns the mapping request of a region.
func (r RegionConfig) Region() (region xlat.Region, err error) {
	attr, err := ParseAttr(r.Attr)

	if err != nil {
		return
	}

	region = xlat.Region{
		PA:   r.PA,
		VA:   r.VA,
		Size: r.Size,
		Attr: attr,
	}

	if r.Block {
		region.Granularity = xlat.BlockSize
	}

	return
}

func parseCalls(lines []string) (calls []sim.Call, err error) {
	for _, line := range lines {
		c, err := sim.ParseCall(line)

		if err != nil {
			return nil, err
		}

		calls = append(calls, c)
	}

	return
}

// Parse parses a platform description, relative paths are resolved
// against dir.
func Parse(buf []byte, dir string) (cfg *Config, err error) {
	cfg = &Config{
		Cores:   1,
		NSEntry: DefaultNSEntry,
		dir:     dir,
	}

	if err = yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("invalid platform configuration, %v", err)
	}

	for core := range cfg.Scripts {
		if core < 0 || core >= cfg.Cores {
			return nil, fmt.Errorf("script for invalid core %d", core)
		}
	}

	return
}

// Load reads a platform description file.
func Load(path string) (cfg *Config, err error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return
	}

	return Parse(buf, filepath.Dir(path))
}

func (cfg *Config) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(cfg.dir, name)
}

// Manifest returns the SPM Core manifest blob.
func (cfg *Config) Manifest() ([]byte, error) {
	if f := cfg.SPMC.ManifestFile; len(f) > 0 {
		return os.ReadFile(cfg.path(f))
	}

	return []byte(cfg.SPMC.Manifest), nil
}
