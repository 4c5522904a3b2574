// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "encoding/binary"

// EthernetHeaderLen is the length of an Ethernet II header (no VLAN tag).
const EthernetHeaderLen = 14

// EtherTypeIPv4 is the Ethernet ethertype value for an IPv4 payload.
const EtherTypeIPv4 = 0x0800

// Ethernet is a zero-copy view over an Ethernet II header at the start of
// a packet buffer. It does not copy; mutations through it mutate the
// underlying buffer.
type Ethernet []byte

// ParseEthernet returns an [Ethernet] view over b, or false if b is
// shorter than [EthernetHeaderLen].
func ParseEthernet(b []byte) (Ethernet, bool) {
	if len(b) < EthernetHeaderLen {
		return nil, false
	}
	return Ethernet(b[:EthernetHeaderLen]), true
}

// Dst returns the destination MAC address.
func (e Ethernet) Dst() []byte { return e[0:6] }

// Src returns the source MAC address.
func (e Ethernet) Src() []byte { return e[6:12] }

// EtherType returns the ethertype field.
func (e Ethernet) EtherType() uint16 { return binary.BigEndian.Uint16(e[12:14]) }

// Payload returns the bytes following the Ethernet header within the
// full frame, given the frame's own total length.
func (e Ethernet) Payload(frame []byte) []byte { return frame[EthernetHeaderLen:] }
