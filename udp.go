// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "encoding/binary"

// UDPHeaderLen is the length of a UDP header.
const UDPHeaderLen = 8

// UDP is a zero-copy view over a UDP header.
type UDP []byte

// ParseUDP returns a [UDP] view over b, or false if b is shorter than
// [UDPHeaderLen].
func ParseUDP(b []byte) (UDP, bool) {
	if len(b) < UDPHeaderLen {
		return nil, false
	}
	return UDP(b), true
}

func (u UDP) SrcPort() uint16 { return binary.BigEndian.Uint16(u[0:2]) }
func (u UDP) DstPort() uint16 { return binary.BigEndian.Uint16(u[2:4]) }
func (u UDP) Len() uint16     { return binary.BigEndian.Uint16(u[4:6]) }

func (u UDP) Checksum() uint16     { return binary.BigEndian.Uint16(u[6:8]) }
func (u UDP) SetChecksum(c uint16) { binary.BigEndian.PutUint16(u[6:8], c) }

// FixupChecksum fills u's checksum iff it is zero (UDP's own "no
// checksum" sentinel) or the pseudo-header-only offload sentinel — both
// are acceptable to rewrite here because the kernel downstream accepts a
// valid checksum unconditionally (spec.md §9 Open Questions).
func (u UDP) FixupChecksum(ipv4Hdr IPv4, ulpLen uint16) {
	pseudo := ipv4Hdr.PseudoHeaderChecksum(ulpLen)
	if u.Checksum() != 0 && u.Checksum() != onesComplementSentinel(pseudo) {
		return
	}
	u.SetChecksum(0)
	sum := onesComplementSum(u[:ulpLen], pseudo)
	computed := ^sum
	if computed == 0 {
		computed = 0xffff // RFC 768: an all-zero computed checksum is sent as all-ones.
	}
	u.SetChecksum(computed)
}
