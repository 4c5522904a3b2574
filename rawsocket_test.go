// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestHtons(t *testing.T) {
	assert.Equal(t, uint16(0x0304), htons(0x0403))
}

// rawSocketPair builds two [RawSocket] instances wired back-to-back over a
// real AF_UNIX/SOCK_DGRAM socketpair, bypassing RawSocketConfig.NewApp's
// AF_PACKET setup (which needs a real interface and elevated privileges) so
// Pull/Push can be exercised against a genuine file descriptor.
func rawSocketPair(t *testing.T) (*RawSocket, *RawSocket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	a := &RawSocket{conf: RawSocketConfig{Input: "in", Output: "out"}, fd: fds[0]}
	b := &RawSocket{conf: RawSocketConfig{Input: "in", Output: "out"}, fd: fds[1]}
	t.Cleanup(func() { a.Stop(); b.Stop() })
	return a, b
}

func TestRawSocketPushThenPullRoundTrips(t *testing.T) {
	a, b := rawSocketPair(t)
	pool := NewPool(4)
	in := NewLink()
	in.Transmit(pool, putPacket(pool, buildTCPFrame(1, 2, 3, 4)))

	stA := &AppState{Input: map[string]*Link{"in": in}, Pool: pool}
	a.Push(stA)
	assert.Equal(t, uint64(1), a.TxPackets)
	assert.Equal(t, uint64(0), a.TxDrop)

	out := NewLink()
	stB := &AppState{Output: map[string]*Link{"out": out}, Pool: pool}
	b.Pull(stB, rawSocketPullBudget)
	assert.Equal(t, uint64(1), b.RxPackets)
	assert.False(t, out.Empty())
}

func TestRawSocketPullStopsOnEAGAIN(t *testing.T) {
	_, b := rawSocketPair(t)
	pool := NewPool(4)
	out := NewLink()
	st := &AppState{Output: map[string]*Link{"out": out}, Pool: pool}
	b.Pull(st, rawSocketPullBudget)
	assert.Equal(t, uint64(0), b.RxPackets)
	assert.Equal(t, uint64(0), b.RxDrop)
	assert.True(t, out.Empty())
}

func TestRawSocketPushAfterCloseCountsDrop(t *testing.T) {
	a, _ := rawSocketPair(t)
	require.NoError(t, unix.Close(a.fd))
	pool := NewPool(4)
	in := NewLink()
	in.Transmit(pool, putPacket(pool, buildTCPFrame(1, 2, 3, 4)))
	st := &AppState{Input: map[string]*Link{"in": in}, Pool: pool}
	a.Push(st)
	assert.Equal(t, uint64(1), a.TxDrop)
	assert.Equal(t, pool.Capacity(), pool.Available())
	assert.ErrorIs(t, a.lastIOErr, ErrIO)
}
