// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "encoding/binary"

// TCPHeaderLen is the length of a minimal (no-options) TCP header, enough
// to read ports and the checksum field.
const TCPHeaderLen = 20

// TCP is a zero-copy view over a TCP header.
type TCP []byte

// ParseTCP returns a [TCP] view over b, or false if b is shorter than
// [TCPHeaderLen].
func ParseTCP(b []byte) (TCP, bool) {
	if len(b) < TCPHeaderLen {
		return nil, false
	}
	return TCP(b), true
}

func (t TCP) SrcPort() uint16 { return binary.BigEndian.Uint16(t[0:2]) }
func (t TCP) DstPort() uint16 { return binary.BigEndian.Uint16(t[2:4]) }

func (t TCP) Checksum() uint16     { return binary.BigEndian.Uint16(t[16:18]) }
func (t TCP) SetChecksum(c uint16) { binary.BigEndian.PutUint16(t[16:18], c) }

// onesComplementSentinel is the value a checksum field holds when the
// kernel has left checksum offload to the NIC: it stores the ones'
// complement of the correct pseudo-header checksum rather than zero, so
// hardware can finish the computation cheaply. offload.go treats this
// the same as zero: both mean "please fill this in".
func onesComplementSentinel(pseudo uint16) uint16 {
	return ^pseudo
}

// FixupChecksum fills t's checksum iff the current value is zero or the
// pseudo-header-only checksum sentinel left by checksum-offload-aware
// kernels; any other value is left as it is. ipv4Hdr is the
// enclosing IPv4 header, already length-accounted; ulpLen is the TCP
// segment length (header + payload).
func (t TCP) FixupChecksum(ipv4Hdr IPv4, ulpLen uint16) {
	pseudo := ipv4Hdr.PseudoHeaderChecksum(ulpLen)
	if t.Checksum() != onesComplementSentinel(pseudo) && t.Checksum() != 0 {
		return
	}
	t.SetChecksum(0)
	sum := onesComplementSum(t[:ulpLen], pseudo)
	t.SetChecksum(^sum)
}
