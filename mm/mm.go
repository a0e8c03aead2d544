// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mm implements the Management Mode communication buffer format
// shared by the Normal world and the Secure Partition.
//
// A buffer starts with a header naming the target service, followed by the
// message data:
//
//	offset  size  field
//	0x00    16    service GUID
//	0x10    8     message length (little endian)
//	0x18    n     message
package mm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the communication buffer header.
const HeaderSize = 24

// GUID represents a Management Mode service identifier, stored in mixed
// endian form.
type GUID [16]byte

func (g GUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%x-%x",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8:10], g[10:16])
}

// EchoService answers a message with its upper case copy.
var EchoService = GUID{0x5e, 0xc0, 0xa5, 0x3c, 0x2b, 0x8f, 0x4e, 0x41, 0x9d, 0x12, 0x6f, 0x7a, 0x01, 0xe4, 0xb8, 0x93}

var (
	ErrShortBuffer = errors.New("mm: buffer too short")
	ErrLength      = errors.New("mm: invalid message length")
)

// Encode writes a request for service g with message msg into buf and
// returns the number of bytes used.
func Encode(buf []byte, g GUID, msg []byte) (n int, err error) {
	n = HeaderSize + len(msg)

	if len(buf) < n {
		return 0, ErrShortBuffer
	}

	copy(buf, g[:])
	binary.LittleEndian.PutUint64(buf[16:], uint64(len(msg)))
	copy(buf[HeaderSize:], msg)

	return
}

// Decode parses the header of buf and returns its service and message,
// the message aliases buf.
func Decode(buf []byte) (g GUID, msg []byte, err error) {
	if len(buf) < HeaderSize {
		return g, nil, ErrShortBuffer
	}

	copy(g[:], buf)
	size := binary.LittleEndian.Uint64(buf[16:])

	if size > uint64(len(buf)-HeaderSize) {
		return g, nil, fmt.Errorf("%w (%d)", ErrLength, size)
	}

	return g, buf[HeaderSize : HeaderSize+int(size)], nil
}
