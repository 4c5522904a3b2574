// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "encoding/binary"

// buildTCPFrame assembles a minimal Ethernet/IPv4/TCP frame (no options,
// no payload) for use as test fixtures across packet-classification and
// checksum tests.
func buildTCPFrame(srcIP, dstIP uint32, srcPort, dstPort uint16) []byte {
	frame := make([]byte, EthernetHeaderLen+IPv4HeaderLen+TCPHeaderLen)
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeIPv4)

	ip := IPv4(frame[EthernetHeaderLen:])
	ip[0] = 0x45 // version 4, IHL 5
	ip.SetTotalLen(uint16(IPv4HeaderLen + TCPHeaderLen))
	frame[EthernetHeaderLen+9] = ProtoTCP
	binary.BigEndian.PutUint32(frame[EthernetHeaderLen+12:EthernetHeaderLen+16], srcIP)
	binary.BigEndian.PutUint32(frame[EthernetHeaderLen+16:EthernetHeaderLen+20], dstIP)

	tcp := TCP(frame[EthernetHeaderLen+IPv4HeaderLen:])
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	return frame
}

// buildUDPFrame assembles a minimal Ethernet/IPv4/UDP frame with a small
// payload, suitable for checksum round-trip tests.
func buildUDPFrame(srcIP, dstIP uint32, srcPort, dstPort uint16, payload []byte) []byte {
	frame := make([]byte, EthernetHeaderLen+IPv4HeaderLen+UDPHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[12:14], EtherTypeIPv4)

	ip := IPv4(frame[EthernetHeaderLen:])
	ip[0] = 0x45
	ip.SetTotalLen(uint16(IPv4HeaderLen + UDPHeaderLen + len(payload)))
	frame[EthernetHeaderLen+9] = ProtoUDP
	binary.BigEndian.PutUint32(frame[EthernetHeaderLen+12:EthernetHeaderLen+16], srcIP)
	binary.BigEndian.PutUint32(frame[EthernetHeaderLen+16:EthernetHeaderLen+20], dstIP)

	udp := UDP(frame[EthernetHeaderLen+IPv4HeaderLen:])
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(UDPHeaderLen+len(payload)))
	copy(udp[UDPHeaderLen:], payload)
	return frame
}
