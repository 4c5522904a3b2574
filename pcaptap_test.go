// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"testing"
	"time"

	"github.com/bassosimone/iotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNoopWriteCloser() *iotest.FuncWriteCloser {
	return &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) { return len(b), nil },
		CloseFunc: func() error { return nil },
	}
}

func TestPCAPTapForwardsAndDumps(t *testing.T) {
	wc := newNoopWriteCloser()
	tap := PCAPTapConfig{Input: "in", Output: "out", Writer: wc, SnapLen: 65535, Ingress: true}.NewApp().(*PCAPTap)
	defer tap.Stop()

	pool := NewPool(4)
	in, out := NewLink(), NewLink()
	pkt := putPacket(pool, buildTCPFrame(1, 2, 3, 4))
	in.Transmit(pool, pkt)

	st := &AppState{Input: map[string]*Link{"in": in}, Output: map[string]*Link{"out": out}, Pool: pool}
	tap.Push(st)

	assert.Same(t, pkt, out.Receive())
	assert.Equal(t, uint64(1), tap.Captured)
	counts := tap.FlowCounts()
	assert.Len(t, counts, 1)
	assert.Equal(t, uint64(1), counts[flowID(1, ProtoTCP, 3)])
}

func TestPCAPTapCountsMalformedWithoutDroppingCapture(t *testing.T) {
	wc := newNoopWriteCloser()
	tap := PCAPTapConfig{Input: "in", Writer: wc, SnapLen: 65535}.NewApp().(*PCAPTap)
	defer tap.Stop()

	tap.dump([]byte{0x01, 0x02})
	assert.Equal(t, uint64(1), tap.Malformed)
	assert.ErrorIs(t, tap.lastMalformed, ErrMalformedPacket)
	assert.Equal(t, uint64(1), tap.Captured, "a malformed frame is still captured to disk")
	assert.Empty(t, tap.FlowCounts(), "a malformed frame contributes no flow tally")
}

func TestPCAPTapDropsWhenWriterStalls(t *testing.T) {
	gate := make(chan struct{})
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func(b []byte) (int, error) {
			<-gate
			return len(b), nil
		},
		CloseFunc: func() error { return nil },
	}
	tap := PCAPTapConfig{Input: "in", Writer: wc, SnapLen: 65535}.NewApp().(*PCAPTap)

	// WriteFileHeader blocks the background writer on gate immediately, so
	// every dump past the snapshot channel's capacity must be dropped
	// rather than stall the caller.
	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 4096+10; i++ {
		tap.dump([]byte{byte(i)})
	}
	assert.Greater(t, tap.Dropped(), uint64(0))

	close(gate)
	tap.Stop()
}

func TestPCAPTapStopIsIdempotent(t *testing.T) {
	wc := newNoopWriteCloser()
	tap := PCAPTapConfig{Input: "in", Writer: wc, SnapLen: 65535}.NewApp().(*PCAPTap)
	tap.Stop()
	assert.NotPanics(t, func() { tap.Stop() })
}

func TestPCAPTapStopAfterHeaderWriteErrorDoesNotPanic(t *testing.T) {
	writeErr := assert.AnError
	wc := &iotest.FuncWriteCloser{
		WriteFunc: func([]byte) (int, error) { return 0, writeErr },
		CloseFunc: func() error { return nil },
	}
	tap := PCAPTapConfig{Input: "in", Writer: wc, SnapLen: 1500}.NewApp().(*PCAPTap)
	time.Sleep(10 * time.Millisecond)
	require.NotPanics(t, func() { tap.Stop() })
}
