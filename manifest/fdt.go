// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

const (
	fdtHeaderSize  = 0x28
	fdtVersion     = 17
	fdtLastCompVer = 16
	fdtMagic       = 0xd00dfeed

	fdtBeginNodeToken = 0x1
	fdtEndNodeToken   = 0x2
	fdtPropToken      = 0x3
	fdtNopToken       = 0x4
	fdtEndToken       = 0x9
)

// attribute node name
const attributeNode = "attribute"

// node represents a device tree node
type node struct {
	name     string
	props    map[string][]byte
	children []*node
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		// ignore unit addresses
		if c.name == name || strings.HasPrefix(c.name, name+"@") {
			return c
		}
	}

	return nil
}

// compatible reports whether the node compatible string list holds s.
func (n *node) compatible(s string) bool {
	prop, ok := n.props["compatible"]

	if !ok {
		return false
	}

	for _, c := range strings.Split(strings.TrimRight(string(prop), "\x00"), "\x00") {
		if c == s {
			return true
		}
	}

	return false
}

func (n *node) find(compatible string) *node {
	if n.compatible(compatible) {
		return n
	}

	for _, c := range n.children {
		if m := c.find(compatible); m != nil {
			return m
		}
	}

	return nil
}

func (n *node) u32(name string) (v uint32, ok bool, err error) {
	prop, ok := n.props[name]

	if !ok {
		return
	}

	if len(prop) != 4 {
		return 0, true, fmt.Errorf("%w, property %s has length %d", ErrInvalidBlob, name, len(prop))
	}

	return binary.BigEndian.Uint32(prop), true, nil
}

func (n *node) u64(name string) (v uint64, ok bool, err error) {
	prop, ok := n.props[name]

	if !ok {
		return
	}

	switch len(prop) {
	case 4:
		v = uint64(binary.BigEndian.Uint32(prop))
	case 8:
		v = binary.BigEndian.Uint64(prop)
	default:
		return 0, true, fmt.Errorf("%w, property %s has length %d", ErrInvalidBlob, name, len(prop))
	}

	return
}

// parser walks the structure block of a flattened device tree
type parser struct {
	blob    []byte
	strings []byte
	off     int
	end     int
}

func (p *parser) token() (uint32, error) {
	if p.off+4 > p.end {
		return 0, fmt.Errorf("%w, truncated structure block", ErrInvalidBlob)
	}

	t := binary.BigEndian.Uint32(p.blob[p.off:])
	p.off += 4

	return t, nil
}

func (p *parser) align() {
	p.off = (p.off + 3) &^ 3
}

func (p *parser) cstring(buf []byte, off int) (string, int, error) {
	if off < 0 || off >= len(buf) {
		return "", 0, fmt.Errorf("%w, string offset %#x out of bounds", ErrInvalidBlob, off)
	}

	i := bytes.IndexByte(buf[off:], 0)

	if i < 0 {
		return "", 0, fmt.Errorf("%w, unterminated string", ErrInvalidBlob)
	}

	return string(buf[off : off+i]), off + i + 1, nil
}

func (p *parser) node() (n *node, err error) {
	var name string

	if name, p.off, err = p.cstring(p.blob[:p.end], p.off); err != nil {
		return
	}

	p.align()

	n = &node{
		name:  name,
		props: make(map[string][]byte),
	}

	for {
		t, err := p.token()

		if err != nil {
			return nil, err
		}

		switch t {
		case fdtPropToken:
			if p.off+8 > p.end {
				return nil, fmt.Errorf("%w, truncated property", ErrInvalidBlob)
			}

			size := int(binary.BigEndian.Uint32(p.blob[p.off:]))
			nameOff := int(binary.BigEndian.Uint32(p.blob[p.off+4:]))
			p.off += 8

			if size < 0 || p.off+size > p.end {
				return nil, fmt.Errorf("%w, truncated property value", ErrInvalidBlob)
			}

			propName, _, err := p.cstring(p.strings, nameOff)

			if err != nil {
				return nil, err
			}

			n.props[propName] = p.blob[p.off : p.off+size]
			p.off += size
			p.align()
		case fdtBeginNodeToken:
			child, err := p.node()

			if err != nil {
				return nil, err
			}

			n.children = append(n.children, child)
		case fdtEndNodeToken:
			return n, nil
		case fdtNopToken:
		default:
			return nil, fmt.Errorf("%w, unexpected token %#x", ErrInvalidBlob, t)
		}
	}
}

func parseFDT(blob []byte) (root *node, err error) {
	if len(blob) < fdtHeaderSize {
		return nil, fmt.Errorf("%w, short header", ErrInvalidBlob)
	}

	if magic := binary.BigEndian.Uint32(blob[0:4]); magic != fdtMagic {
		return nil, fmt.Errorf("%w, bad magic %#x", ErrInvalidBlob, magic)
	}

	totalSize := int(binary.BigEndian.Uint32(blob[4:8]))
	offStruct := int(binary.BigEndian.Uint32(blob[8:12]))
	offStrings := int(binary.BigEndian.Uint32(blob[12:16]))
	lastCompVer := binary.BigEndian.Uint32(blob[24:28])
	sizeStrings := int(binary.BigEndian.Uint32(blob[32:36]))
	sizeStruct := int(binary.BigEndian.Uint32(blob[36:40]))

	switch {
	case totalSize > len(blob):
		return nil, fmt.Errorf("%w, total size %d exceeds blob", ErrInvalidBlob, totalSize)
	case lastCompVer > fdtVersion:
		return nil, fmt.Errorf("%w, unsupported version %d", ErrInvalidBlob, lastCompVer)
	case offStruct+sizeStruct > totalSize || offStrings+sizeStrings > totalSize:
		return nil, fmt.Errorf("%w, blocks exceed total size", ErrInvalidBlob)
	}

	p := &parser{
		blob:    blob,
		strings: blob[offStrings : offStrings+sizeStrings],
		off:     offStruct,
		end:     offStruct + sizeStruct,
	}

	for {
		t, err := p.token()

		if err != nil {
			return nil, err
		}

		switch t {
		case fdtNopToken:
			continue
		case fdtBeginNodeToken:
			return p.node()
		default:
			return nil, fmt.Errorf("%w, unexpected token %#x", ErrInvalidBlob, t)
		}
	}
}

// LoadFDT parses manifest attributes from a flattened device tree blob.
func LoadFDT(blob []byte) (a *Attributes, err error) {
	root, err := parseFDT(blob)

	if err != nil {
		return
	}

	n := root.find(Compatible)

	if n == nil {
		return nil, fmt.Errorf("%w (%s)", ErrNoManifestNode, Compatible)
	}

	if n = n.child(attributeNode); n == nil {
		return nil, fmt.Errorf("%w (%s)", ErrNoManifestNode, attributeNode)
	}

	a = &Attributes{}

	for _, p := range []struct {
		name string
		set  func(uint32)
	}{
		{"maj_ver", func(v uint32) { a.MajorVersion = uint16(v) }},
		{"min_ver", func(v uint32) { a.MinorVersion = uint16(v) }},
		{"spmc_id", func(v uint32) { a.SPMCID = uint16(v) }},
		{"exec_state", func(v uint32) { a.ExecState = ExecState(v) }},
	} {
		v, ok, err := n.u32(p.name)

		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, fmt.Errorf("%w %s", ErrMissingProperty, p.name)
		}

		p.set(v)
	}

	if a.BinarySize, _, err = n.u32("binary_size"); err != nil {
		return nil, err
	}

	if a.LoadAddress, _, err = n.u64("load_address"); err != nil {
		return nil, err
	}

	if a.Entrypoint, _, err = n.u64("entrypoint"); err != nil {
		return nil, err
	}

	return
}

// Encode serializes manifest attributes into a flattened device tree blob.
func Encode(a *Attributes) []byte {
	b := &builder{stringsOff: make(map[string]uint32)}

	u32 := func(v uint32) []byte {
		return binary.BigEndian.AppendUint32(nil, v)
	}

	u64 := func(v uint64) []byte {
		return binary.BigEndian.AppendUint64(nil, v)
	}

	attrs := map[string][]byte{
		"maj_ver":    u32(uint32(a.MajorVersion)),
		"min_ver":    u32(uint32(a.MinorVersion)),
		"spmc_id":    u32(uint32(a.SPMCID)),
		"exec_state": u32(uint32(a.ExecState)),
	}

	if a.BinarySize != 0 {
		attrs["binary_size"] = u32(a.BinarySize)
	}

	if a.LoadAddress != 0 {
		attrs["load_address"] = u64(a.LoadAddress)
	}

	if a.Entrypoint != 0 {
		attrs["entrypoint"] = u64(a.Entrypoint)
	}

	b.beginNode("")
	b.property("compatible", append([]byte(Compatible), 0))
	b.beginNode(attributeNode)
	b.properties(attrs)
	b.endNode()
	b.endNode()

	return b.finish()
}

type builder struct {
	structBuf  bytes.Buffer
	strings    bytes.Buffer
	stringsOff map[string]uint32
}

func (b *builder) beginNode(name string) {
	b.writeToken(fdtBeginNodeToken)
	b.structBuf.WriteString(name)
	b.structBuf.WriteByte(0)
	b.padStruct()
}

func (b *builder) endNode() {
	b.writeToken(fdtEndNodeToken)
}

func (b *builder) properties(props map[string][]byte) {
	keys := make([]string, 0, len(props))

	for name := range props {
		keys = append(keys, name)
	}

	sort.Strings(keys)

	for _, name := range keys {
		b.property(name, props[name])
	}
}

func (b *builder) property(name string, value []byte) {
	b.writeToken(fdtPropToken)
	b.structBuf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(value))))
	b.structBuf.Write(binary.BigEndian.AppendUint32(nil, b.stringOffset(name)))
	b.structBuf.Write(value)
	b.padStruct()
}

func (b *builder) finish() []byte {
	b.writeToken(fdtEndToken)

	structBytes := b.structBuf.Bytes()
	stringsBytes := b.strings.Bytes()

	// empty memory reservation map
	memReserve := make([]byte, 16)

	offMemReserve := fdtHeaderSize
	offStruct := offMemReserve + len(memReserve)
	offStrings := offStruct + len(structBytes)
	totalSize := offStrings + len(stringsBytes)

	blob := make([]byte, totalSize)
	header := blob[:fdtHeaderSize]
	binary.BigEndian.PutUint32(header[0:4], fdtMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(totalSize))
	binary.BigEndian.PutUint32(header[8:12], uint32(offStruct))
	binary.BigEndian.PutUint32(header[12:16], uint32(offStrings))
	binary.BigEndian.PutUint32(header[16:20], uint32(offMemReserve))
	binary.BigEndian.PutUint32(header[20:24], fdtVersion)
	binary.BigEndian.PutUint32(header[24:28], fdtLastCompVer)
	binary.BigEndian.PutUint32(header[32:36], uint32(len(stringsBytes)))
	binary.BigEndian.PutUint32(header[36:40], uint32(len(structBytes)))

	copy(blob[offStruct:], structBytes)
	copy(blob[offStrings:], stringsBytes)

	return blob
}

func (b *builder) stringOffset(name string) uint32 {
	if off, ok := b.stringsOff[name]; ok {
		return off
	}

	off := uint32(b.strings.Len())
	b.strings.WriteString(name)
	b.strings.WriteByte(0)
	b.stringsOff[name] = off

	return off
}

func (b *builder) writeToken(token uint32) {
	b.structBuf.Write(binary.BigEndian.AppendUint32(nil, token))
}

func (b *builder) padStruct() {
	for b.structBuf.Len()%4 != 0 {
		b.structBuf.WriteByte(0)
	}
}
