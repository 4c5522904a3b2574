// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"encoding/binary"
	"net"
)

// IPv4HeaderLen is the length of a minimal (no-options) IPv4 header. This
// engine does not parse IP options; packets whose IHL indicates options
// are treated as malformed for classification purposes (they fall
// through to the default flow).
const IPv4HeaderLen = 20

const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// IPv4 is a zero-copy view over an IPv4 header.
type IPv4 []byte

// ParseIPv4 returns an [IPv4] view over b, or false if b is shorter than
// [IPv4HeaderLen] or its IHL indicates IP options (IHL != 5), which this
// engine does not support.
func ParseIPv4(b []byte) (IPv4, bool) {
	if len(b) < IPv4HeaderLen {
		return nil, false
	}
	v := IPv4(b)
	if v.IHL() != 5 {
		return nil, false
	}
	return v, true
}

func (v IPv4) Version() uint8 { return v[0] >> 4 }
func (v IPv4) IHL() uint8     { return v[0] & 0x0f }
func (v IPv4) TOS() uint8     { return v[1] }

func (v IPv4) TotalLen() uint16    { return binary.BigEndian.Uint16(v[2:4]) }
func (v IPv4) SetTotalLen(n uint16) { binary.BigEndian.PutUint16(v[2:4], n) }

func (v IPv4) ID() uint16 { return binary.BigEndian.Uint16(v[4:6]) }

func (v IPv4) FlagsFragOffset() uint16 { return binary.BigEndian.Uint16(v[6:8]) }

func (v IPv4) TTL() uint8      { return v[8] }
func (v IPv4) Protocol() uint8 { return v[9] }

func (v IPv4) Checksum() uint16      { return binary.BigEndian.Uint16(v[10:12]) }
func (v IPv4) SetChecksum(c uint16)  { binary.BigEndian.PutUint16(v[10:12], c) }

func (v IPv4) SrcAddr() uint32 { return binary.BigEndian.Uint32(v[12:16]) }
func (v IPv4) DstAddr() uint32 { return binary.BigEndian.Uint32(v[16:20]) }

// Payload returns the bytes following the IPv4 header.
func (v IPv4) Payload() []byte { return v[IPv4HeaderLen:] }

// ComputeChecksum computes the IPv4 header checksum over v with the
// checksum field itself treated as zero, per RFC 791.
func (v IPv4) ComputeChecksum() uint16 {
	saved := v.Checksum()
	v.SetChecksum(0)
	sum := onesComplementSum(v[:IPv4HeaderLen], 0)
	v.SetChecksum(saved)
	return ^sum
}

// FixupChecksum fills the IPv4 header checksum iff it is currently zero,
// per spec.md §4.8.
func (v IPv4) FixupChecksum() {
	if v.Checksum() == 0 {
		v.SetChecksum(v.ComputeChecksum())
	}
}

// ntop renders ip, in the host byte order [IPv4.SrcAddr] and [Flow.IP]
// use, as a dotted-quad string, e.g. 0xc0a80001 -> "192.168.0.1".
func ntop(ip uint32) string {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).String()
}

// pton parses a dotted-quad IPv4 literal into the same uint32 form
// [ntop] renders, reporting false if s isn't a valid IPv4 literal. It is
// the inverse of ntop: ntop(pton(x)) == x for any x it accepts.
func pton(s string) (uint32, bool) {
	v4 := net.ParseIP(s)
	if v4 == nil {
		return 0, false
	}
	v4 = v4.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

// PseudoHeaderChecksum computes the partial ones'-complement sum of the
// IPv4 pseudo-header used to seed a TCP or UDP checksum: source address,
// destination address, zero byte, upper-layer protocol, and upper-layer
// length.
func (v IPv4) PseudoHeaderChecksum(ulpLen uint16) uint16 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], v.SrcAddr())
	binary.BigEndian.PutUint32(buf[4:8], v.DstAddr())
	buf[8] = 0
	buf[9] = v.Protocol()
	binary.BigEndian.PutUint16(buf[10:12], ulpLen)
	return onesComplementSum(buf[:], 0)
}
