// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkEmptyFull(t *testing.T) {
	pool := NewPool(LinkMaxPackets + 1)
	l := NewLink()
	assert.True(t, l.Empty())
	assert.False(t, l.Full())

	for i := 0; i < LinkMaxPackets; i++ {
		pkt := pool.Allocate()
		l.Transmit(pool, pkt)
	}
	assert.True(t, l.Full())
	assert.Equal(t, uint64(LinkMaxPackets), l.TxPackets)
	assert.Equal(t, uint64(0), l.TxDrop)
}

func TestLinkDropsWhenFull(t *testing.T) {
	pool := NewPool(LinkMaxPackets + 2)
	l := NewLink()
	for i := 0; i < LinkMaxPackets; i++ {
		l.Transmit(pool, pool.Allocate())
	}
	require.True(t, l.Full())
	before := pool.Available()
	l.Transmit(pool, pool.Allocate())
	assert.Equal(t, uint64(1), l.TxDrop)
	// the dropped packet was freed straight back to the pool.
	assert.Equal(t, before, pool.Available())
}

func TestLinkFIFO(t *testing.T) {
	pool := NewPool(8)
	l := NewLink()
	var sent []*Packet
	for i := 0; i < 4; i++ {
		pkt := pool.Allocate()
		pkt.SetLength(i + 1)
		sent = append(sent, pkt)
		l.Transmit(pool, pkt)
	}
	for _, want := range sent {
		got := l.Receive()
		assert.Same(t, want, got)
	}
	assert.True(t, l.Empty())
	assert.Nil(t, l.Receive())
}

func TestLinkPeekDoesNotRemove(t *testing.T) {
	pool := NewPool(2)
	l := NewLink()
	pkt := pool.Allocate()
	l.Transmit(pool, pkt)
	assert.Same(t, pkt, l.Peek())
	assert.False(t, l.Empty())
	assert.Same(t, pkt, l.Receive())
}

func TestLinkLossRatio(t *testing.T) {
	pool := NewPool(4)
	l := NewLink()
	for i := 0; i < 2; i++ {
		l.Transmit(pool, pool.Allocate())
	}
	l.Receive()
	assert.InDelta(t, 0.5, l.LossRatio(), 1e-9)
}
