// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"fmt"

	"github.com/bassosimone/runtimex"
)

// payloadSize is the capacity of a single packet buffer. It covers a
// full Ethernet jumbo frame with headroom to spare.
const payloadSize = 65536

// framingBits is the per-packet link-layer overhead (12 bytes inter-frame
// gap + 8 bytes preamble + 4 bytes CRC) added when accounting bits on the
// wire rather than bytes in the buffer.
const framingBits = 8 * (12 + 8 + 4)

// Packet is a fixed-capacity byte buffer with a length. Packets are owned
// by exactly one place at a time: a [Pool]'s freelist, a [Link] slot, or a
// transient local inside an app. There is no sharing.
type Packet struct {
	buf    [payloadSize]byte
	Length int
}

// Buffer returns the full-capacity backing array, for code that wants to
// fill the packet (e.g., a socket read) and then call [Packet.SetLength].
func (p *Packet) Buffer() []byte {
	return p.buf[:]
}

// Bytes returns the valid payload, buf[0:Length].
func (p *Packet) Bytes() []byte {
	return p.buf[:p.Length]
}

// SetLength sets the valid payload length. It panics if n is out of range.
func (p *Packet) SetLength(n int) {
	runtimex.Assert(n >= 0 && n <= payloadSize)
	p.Length = n
}

// Bits returns the on-wire bit count, including link-layer framing, used
// for bitrate accounting by the QoS apps and FlowTop.
func (p *Packet) Bits() uint64 {
	return uint64(8*p.Length) + framingBits
}

// Pool is a process-wide fixed-capacity freelist of [Packet] buffers.
// Allocation draws the most recently freed buffer (LIFO, for cache
// locality); freeing pushes it back. Exhaustion is fatal: callers must
// size the pool so that any in-flight population — all link slots, every
// per-app queue, and every jitter/latency reorder queue — fits.
type Pool struct {
	free []*Packet

	// Frees, FreeBits, and FreeBytes are cumulative counters updated by
	// every call to [Pool.Free], used by the engine's load report.
	Frees     uint64
	FreeBits  uint64
	FreeBytes uint64
}

// NewPool preallocates capacity packet buffers and returns a ready [Pool].
func NewPool(capacity int) *Pool {
	runtimex.Assert(capacity > 0)
	p := &Pool{free: make([]*Packet, 0, capacity)}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &Packet{})
	}
	return p
}

// Capacity returns the pool's fixed capacity.
func (p *Pool) Capacity() int {
	return cap(p.free)
}

// Available returns the number of buffers currently in the freelist.
func (p *Pool) Available() int {
	return len(p.free)
}

// Allocate pops a buffer off the freelist with Length reset to zero and
// otherwise-undefined contents. Exhaustion is an [ErrResource] condition
// and, per spec.md §7 category 4, fatal: the caller misconfigured the
// pool capacity too small for the in-flight population it needs to hold.
func (p *Pool) Allocate() *Packet {
	n := len(p.free)
	if n == 0 {
		panic(fmt.Errorf("%w: packet pool exhausted", ErrResource))
	}
	pkt := p.free[n-1]
	p.free = p.free[:n-1]
	pkt.Length = 0
	return pkt
}

// Free returns pkt to the freelist and updates the cumulative load
// counters. Callers must not use pkt after calling Free.
func (p *Pool) Free(pkt *Packet) {
	p.Frees++
	p.FreeBits += pkt.Bits()
	p.FreeBytes += uint64(pkt.Length)
	pkt.Length = 0
	p.free = append(p.free, pkt)
}
