// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import "fmt"

// linkRingSize is the link's ring buffer capacity, a power of two so the
// read/write cursors can be masked instead of divided.
const linkRingSize = 1024

// LinkMaxPackets is the maximum number of packets a [Link] can hold at
// once: one ring slot is always kept empty to distinguish full from empty.
const LinkMaxPackets = linkRingSize - 1

const linkRingMask = linkRingSize - 1

// Link is a bounded single-producer/single-consumer FIFO ring of packet
// ownership handles between exactly one producer app and one consumer
// app. Full links drop at transmit; empty links have nothing to receive.
type Link struct {
	ring  [linkRingSize]*Packet
	read  uint32
	write uint32

	TxPackets uint64
	TxBytes   uint64
	TxDrop    uint64
	RxPackets uint64
	RxBytes   uint64

	lastDropErr error
}

// NewLink returns an empty link.
func NewLink() *Link {
	return &Link{}
}

// Empty reports whether the link holds no packets.
func (l *Link) Empty() bool {
	return l.read == l.write
}

// Full reports whether the link is at capacity.
func (l *Link) Full() bool {
	return l.write-l.read == LinkMaxPackets
}

// Transmit pushes pkt onto the link's write end. If the link is full, the
// packet is dropped (freed back to pool and counted in TxDrop) instead of
// being transmitted.
func (l *Link) Transmit(pool *Pool, pkt *Packet) {
	if l.Full() {
		l.TxDrop++
		l.lastDropErr = fmt.Errorf("%w: link full, dropping packet of %d bytes", ErrResource, pkt.Length)
		pool.Free(pkt)
		return
	}
	l.ring[l.write&linkRingMask] = pkt
	l.write++
	l.TxPackets++
	l.TxBytes += uint64(pkt.Length)
}

// Peek returns the oldest packet without removing it, or nil if the link
// is empty. Used by apps (e.g. [RateLimiter]) that need to inspect the
// head of a queue before deciding whether they can afford to release it.
func (l *Link) Peek() *Packet {
	if l.Empty() {
		return nil
	}
	return l.ring[l.read&linkRingMask]
}

// Receive pops the oldest packet off the link's read end. It returns nil
// if the link is empty.
func (l *Link) Receive() *Packet {
	if l.Empty() {
		return nil
	}
	pkt := l.ring[l.read&linkRingMask]
	l.ring[l.read&linkRingMask] = nil
	l.read++
	l.RxPackets++
	l.RxBytes += uint64(pkt.Length)
	return pkt
}

// LossRatio returns 1 - rx/tx, the fraction of transmitted packets that
// never reached a receiver (drops plus whatever remains in flight).
func (l *Link) LossRatio() float64 {
	if l.TxPackets == 0 {
		return 0
	}
	return 1 - float64(l.RxPackets)/float64(l.TxPackets)
}
