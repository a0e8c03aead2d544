// Copyright (c) The GoTEE authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ffa

import (
	"fmt"
)

// Supported FF-A version
const (
	VersionMajor = 1
	VersionMinor = 0
)

const (
	versionMajorShift = 16
	versionMajorMask  = 0x7fff
	versionMinorMask  = 0xffff
	versionMBZ        = 1 << 31
)

// Version represents a packed FF-A version number.
type Version uint32

// CompiledVersion is the version implemented by this firmware.
const CompiledVersion = Version(VersionMajor<<versionMajorShift | VersionMinor)

// MakeVersion packs a major and minor version number.
func MakeVersion(major uint16, minor uint16) Version {
	return Version(uint32(major&versionMajorMask)<<versionMajorShift | uint32(minor))
}

// Major returns the major version number.
func (v Version) Major() uint16 {
	return uint16(uint32(v)>>versionMajorShift) & versionMajorMask
}

// Minor returns the minor version number.
func (v Version) Minor() uint16 {
	return uint16(uint32(v) & versionMinorMask)
}

// Valid reports whether the reserved bit 31 of a caller supplied version is
// clear.
func (v Version) Valid() bool {
	return v&versionMBZ == 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}

// Endpoint identifiers
const (
	// NSEndpointID is the ID reported to Normal world callers
	NSEndpointID = 0
	// SecureIDBit marks secure world endpoint IDs
	SecureIDBit = 1 << 15
)

// IsSecureID reports whether an endpoint ID belongs to the secure world.
func IsSecureID(id uint16) bool {
	return id&SecureIDBit != 0
}

const (
	senderShift  = 16
	endpointMask = 0xffff
)

// Endpoints packs sender and receiver IDs as carried in x1 of messaging
// calls.
func Endpoints(sender uint16, receiver uint16) uint64 {
	return uint64(sender)<<senderShift | uint64(receiver)
}

// Sender returns the sender ID carried in x1.
func Sender(x1 uint64) uint16 {
	return uint16(x1>>senderShift) & endpointMask
}

// Receiver returns the receiver ID carried in x1.
func Receiver(x1 uint64) uint16 {
	return uint16(x1) & endpointMask
}

// SwapEndpoints returns x1 for the response to a direct request.
func SwapEndpoints(x1 uint64) uint64 {
	return Endpoints(Receiver(x1), Sender(x1))
}
