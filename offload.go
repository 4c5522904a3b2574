// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ChecksumConfig configures a [Checksum] app.
type ChecksumConfig struct {
	Input, Output string
}

// NewApp implements [AppConfig].
func (c ChecksumConfig) NewApp() App {
	return &Checksum{conf: c}
}

// Checksum fills in the IPv4 header checksum and, for TCP/UDP payloads,
// the upper-layer checksum, whenever the kernel (or an upstream app) left
// them unfilled — either zero or the pseudo-header-only offload
// sentinel. Every packet is forwarded in order, whether or not it needed
// fixing up. Malformed packets (too short to carry the header they claim
// to) are counted and forwarded without their TCP/UDP checksum being
// touched; the IPv4 header checksum is still filled in whenever the IPv4
// header itself parses. See spec.md §4.8.
type Checksum struct {
	conf ChecksumConfig

	Malformed     uint64
	lastMalformed error
}

var _ Pusher = (*Checksum)(nil)
var _ Reporter = (*Checksum)(nil)

// Push implements [Pusher].
func (c *Checksum) Push(st *AppState) {
	in, out := st.In(c.conf.Input), st.Out(c.conf.Output)
	if in == nil || out == nil {
		return
	}
	for !in.Empty() {
		if out.Full() {
			return
		}
		pkt := in.Receive()
		c.fixup(pkt)
		out.Transmit(st.Pool, pkt)
	}
}

func (c *Checksum) fixup(pkt *Packet) {
	eth, ok := ParseEthernet(pkt.Bytes())
	if !ok {
		c.malformed(fmt.Errorf("%w: frame shorter than an Ethernet header", ErrMalformedPacket))
		return
	}
	if eth.EtherType() != EtherTypeIPv4 {
		return
	}
	ip4, ok := ParseIPv4(eth.Payload(pkt.Bytes()))
	if !ok {
		c.malformed(fmt.Errorf("%w: payload shorter than its claimed IPv4 header", ErrMalformedPacket))
		return
	}
	ip4.FixupChecksum()

	totalLen := int(ip4.TotalLen())
	if totalLen < IPv4HeaderLen || totalLen > len(ip4) {
		c.malformed(fmt.Errorf("%w: IPv4 total length %d inconsistent with frame", ErrMalformedPacket, totalLen))
		return
	}
	ulpLen := uint16(totalLen - IPv4HeaderLen)
	payload := ip4.Payload()[:ulpLen]

	switch ip4.Protocol() {
	case ProtoTCP:
		if tcp, ok := ParseTCP(payload); ok {
			tcp.FixupChecksum(ip4, ulpLen)
		} else {
			c.malformed(fmt.Errorf("%w: IPv4 payload shorter than its claimed TCP header", ErrMalformedPacket))
		}
	case ProtoUDP:
		if udp, ok := ParseUDP(payload); ok {
			udp.FixupChecksum(ip4, ulpLen)
		} else {
			c.malformed(fmt.Errorf("%w: IPv4 payload shorter than its claimed UDP header", ErrMalformedPacket))
		}
	}
}

func (c *Checksum) malformed(err error) {
	c.Malformed++
	c.lastMalformed = err
}

// Report implements [Reporter].
func (c *Checksum) Report(log zerolog.Logger) {
	log.Info().
		Uint64("malformed", c.Malformed).
		AnErr("last_malformed_err", c.lastMalformed).
		Msg("checksum report")
}
