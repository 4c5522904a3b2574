// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "fmt"

// classified is the result of locating a packet's L3/L4 boundaries: the
// IPv4 view if any, its protocol, and the source/destination ports if
// the protocol carries any (0 for ICMP and anything else).
type classified struct {
	ip4     IPv4
	isIPv4  bool
	proto   uint8
	srcPort uint16
	dstPort uint16
}

// classify locates the IPv4 header (if the frame is Ethernet/IPv4) and,
// for TCP/UDP, the two port fields. A frame that is simply not IPv4 (a
// different EtherType) comes back with isIPv4 false and a nil error,
// which callers treat as "route to default" per spec.md §4.6. A frame
// that claims to be IPv4 (or TCP/UDP) but is too short to actually hold
// the header it claims returns an [ErrMalformedPacket]-wrapped error;
// callers still fall through to the default flow on this, per spec.md
// §7 category 5, but now have something to count and log.
func classify(frame []byte) (classified, error) {
	eth, ok := ParseEthernet(frame)
	if !ok {
		return classified{}, fmt.Errorf("%w: frame shorter than an Ethernet header", ErrMalformedPacket)
	}
	if eth.EtherType() != EtherTypeIPv4 {
		return classified{}, nil
	}
	ip4, ok := ParseIPv4(eth.Payload(frame))
	if !ok {
		return classified{}, fmt.Errorf("%w: payload shorter than its claimed IPv4 header", ErrMalformedPacket)
	}
	c := classified{ip4: ip4, isIPv4: true, proto: ip4.Protocol()}
	switch c.proto {
	case ProtoTCP:
		tcp, ok := ParseTCP(ip4.Payload())
		if !ok {
			return c, fmt.Errorf("%w: IPv4 payload shorter than its claimed TCP header", ErrMalformedPacket)
		}
		c.srcPort, c.dstPort = tcp.SrcPort(), tcp.DstPort()
	case ProtoUDP:
		udp, ok := ParseUDP(ip4.Payload())
		if !ok {
			return c, fmt.Errorf("%w: IPv4 payload shorter than its claimed UDP header", ErrMalformedPacket)
		}
		c.srcPort, c.dstPort = udp.SrcPort(), udp.DstPort()
	}
	return c, nil
}
