// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcePullRespectsBudget(t *testing.T) {
	pool := NewPool(4)
	out := NewLink()
	src := SourceConfig{Template: []byte("hi"), Output: "out"}.NewApp().(*Source)
	st := &AppState{Output: map[string]*Link{"out": out}, Pool: pool}
	src.Pull(st, 2)
	assert.Equal(t, uint64(2), src.Packets)
	assert.Equal(t, uint64(4), src.Bytes)
}

func TestSinkFreesAndCounts(t *testing.T) {
	pool := NewPool(4)
	in := NewLink()
	fillLink(t, pool, in, 3, 10)
	snk := SinkConfig{Input: "in"}.NewApp().(*Sink)
	st := &AppState{Input: map[string]*Link{"in": in}, Pool: pool}
	snk.Push(st)
	assert.Equal(t, uint64(3), snk.Packets)
	assert.Equal(t, uint64(30), snk.Bytes)
	assert.Equal(t, pool.Capacity(), pool.Available())
}

func TestJoinForwardsInputsInConfiguredOrder(t *testing.T) {
	pool := NewPool(8)
	a, b, out := NewLink(), NewLink(), NewLink()
	pa := putPacket(pool, buildTCPFrame(1, 2, 1, 1))
	pb := putPacket(pool, buildTCPFrame(1, 2, 2, 2))
	a.Transmit(pool, pa)
	b.Transmit(pool, pb)

	join := JoinConfig{Inputs: []string{"a", "b"}, Output: "out"}.NewApp().(*Join)
	st := &AppState{Input: map[string]*Link{"a": a, "b": b}, Output: map[string]*Link{"out": out}, Pool: pool}
	join.Push(st)

	assert.Same(t, pa, out.Receive())
	assert.Same(t, pb, out.Receive())
	assert.True(t, out.Empty())
}

func TestTeeDuplicatesOntoEveryOutput(t *testing.T) {
	pool := NewPool(8)
	in, o1, o2 := NewLink(), NewLink(), NewLink()
	in.Transmit(pool, putPacket(pool, buildTCPFrame(1, 2, 1, 1)))

	tee := TeeConfig{Input: "in", Outputs: []string{"o1", "o2"}}.NewApp().(*Tee)
	st := &AppState{Input: map[string]*Link{"in": in}, Output: map[string]*Link{"o1": o1, "o2": o2}, Pool: pool}
	tee.Push(st)

	require.False(t, o1.Empty())
	require.False(t, o2.Empty())
	assert.NotSame(t, o1.Receive(), o2.Receive())
}
