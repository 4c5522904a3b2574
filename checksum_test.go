// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnesComplementSumKnownVector(t *testing.T) {
	// RFC 1071's own worked example: 0x0001, 0xf203, 0xf4f5, 0xf6f7 sums to
	// 0xddf2 before complementing.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	sum := onesComplementSum(data, 0)
	assert.Equal(t, uint16(0xddf2), sum)
	assert.Equal(t, uint16(0x220d), ^sum)
}

func TestIPv4ChecksumRoundTrips(t *testing.T) {
	frame := buildTCPFrame(0x0a000001, 0x0a000002, 1234, 80)
	ip := IPv4(frame[EthernetHeaderLen:])
	ip.SetChecksum(0)
	ip.SetChecksum(ip.ComputeChecksum())
	// Summing the header with its own correct checksum filled in folds to
	// all-ones, i.e. complements to zero.
	assert.Equal(t, uint16(0), ^onesComplementSum(ip[:IPv4HeaderLen], 0))
}

func TestIPv4FixupChecksumOnlyWhenZero(t *testing.T) {
	frame := buildTCPFrame(0x0a000001, 0x0a000002, 1234, 80)
	ip := IPv4(frame[EthernetHeaderLen:])
	ip.SetChecksum(0xabcd)
	ip.FixupChecksum()
	assert.Equal(t, uint16(0xabcd), ip.Checksum())

	ip.SetChecksum(0)
	ip.FixupChecksum()
	assert.NotEqual(t, uint16(0), ip.Checksum())
}
