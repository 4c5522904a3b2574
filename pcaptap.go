// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
)

// pcapTapSnapshot is a packet snapshot queued for the background writer,
// tagged with the flow it belongs to (when classifiable) so the
// snapshot that reaches disk and the in-memory per-flow tally it was
// counted under never disagree.
type pcapTapSnapshot struct {
	data    []byte
	length  int
	flowID  uint64
	hasFlow bool
}

// PCAPTapConfig configures a [PCAPTap]. Writer receives the capture
// file; SnapLen bounds how many bytes of each frame are kept. Ingress
// selects which side of a packet's address/port pair feeds the
// per-flow tally, the same convention [Split] and [FlowTop] use.
type PCAPTapConfig struct {
	Input, Output string
	Writer        io.WriteCloser
	SnapLen       uint16
	Ingress       bool
}

// NewApp implements [AppConfig]. It starts the background writer
// goroutine immediately; the app is stopped (and the writer flushed and
// closed) via [PCAPTap.Stop] when the graph is reconfigured without it.
func (c PCAPTapConfig) NewApp() App {
	ctx, cancel := context.WithCancel(context.Background())
	const manyPackets = 4096
	t := &PCAPTap{
		conf:       c,
		cancel:     cancel,
		errch:      make(chan error, 1),
		snaps:      make(chan pcapTapSnapshot, manyPackets),
		flowCounts: map[uint64]uint64{},
	}
	go t.saveLoop(ctx)
	return t
}

// PCAPTap is an optional diagnostic app with one input and one output
// port, wired transparently into a link: it forwards every packet
// unchanged and additionally appends a copy to a pcap capture file,
// asynchronously, so a slow disk never stalls the breathe loop. Every
// capture is also classified the way [Split] and [FlowTop] classify
// traffic, so a capture file's per-flow composition can be read back
// off the running app without re-parsing the trace. See SPEC_FULL.md
// §4.12.
type PCAPTap struct {
	conf    PCAPTapConfig
	cancel  context.CancelFunc
	dropped atomic.Uint64
	errch   chan error
	snaps   chan pcapTapSnapshot
	once    sync.Once

	Captured      uint64
	Malformed     uint64
	lastMalformed error
	flowCounts    map[uint64]uint64
}

var _ Pusher = (*PCAPTap)(nil)
var _ Stopper = (*PCAPTap)(nil)
var _ Reporter = (*PCAPTap)(nil)

// Push implements [Pusher].
func (t *PCAPTap) Push(st *AppState) {
	in, out := st.In(t.conf.Input), st.Out(t.conf.Output)
	if in == nil {
		return
	}
	for !in.Empty() {
		if out != nil && out.Full() {
			return
		}
		pkt := in.Receive()
		t.dump(pkt.Bytes())
		if out != nil {
			out.Transmit(st.Pool, pkt)
		} else {
			st.Pool.Free(pkt)
		}
	}
}

// dump classifies packet the way [Split.route] and [FlowTop.observe]
// do, then enqueues a copy for the background writer, dropping it (and
// counting the drop) if the buffer is full — capture must never apply
// backpressure to the data plane. Classification failure only affects
// the in-memory per-flow tally; the raw bytes are captured regardless.
func (t *PCAPTap) dump(packet []byte) {
	snapLen := min(len(packet), int(t.conf.SnapLen))
	snap := make([]byte, snapLen)
	copy(snap, packet)
	entry := pcapTapSnapshot{length: len(packet), data: snap}

	c, err := classify(packet)
	switch {
	case err != nil:
		t.Malformed++
		t.lastMalformed = err
	case c.isIPv4:
		ip, port := c.ip4.DstAddr(), c.dstPort
		if t.conf.Ingress {
			ip, port = c.ip4.SrcAddr(), c.srcPort
		}
		entry.flowID = flowID(ip, c.proto, port)
		entry.hasFlow = true
	}

	select {
	case t.snaps <- entry:
		t.Captured++
		if entry.hasFlow {
			t.flowCounts[entry.flowID]++
		}
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns the number of packets dropped from the capture buffer
// because disk I/O couldn't keep up. It does not affect the data plane.
func (t *PCAPTap) Dropped() uint64 {
	return t.dropped.Load()
}

// FlowCounts returns how many captured packets were attributed to each
// flow ID so far. The returned map is owned by the caller.
func (t *PCAPTap) FlowCounts() map[uint64]uint64 {
	out := make(map[uint64]uint64, len(t.flowCounts))
	for id, n := range t.flowCounts {
		out[id] = n
	}
	return out
}

// Report implements [Reporter].
func (t *PCAPTap) Report(log zerolog.Logger) {
	log.Info().
		Uint64("captured", t.Captured).
		Uint64("dropped", t.dropped.Load()).
		Uint64("malformed", t.Malformed).
		Int("flows", len(t.flowCounts)).
		AnErr("last_malformed_err", t.lastMalformed).
		Msg("pcap tap report")
}

// saveLoop drains snaps onto the pcap writer until canceled, then
// flushes whatever is still buffered before reporting back on errch.
func (t *PCAPTap) saveLoop(ctx context.Context) {
	w := pcapgo.NewWriter(t.conf.Writer)
	if err := w.WriteFileHeader(uint32(t.conf.SnapLen), layers.LinkTypeEthernet); err != nil {
		t.errch <- err
		return
	}
	drainRemaining := func() error {
		for {
			select {
			case snap := <-t.snaps:
				if err := t.savePacket(w, snap); err != nil {
					return err
				}
			default:
				return nil
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			t.errch <- drainRemaining()
			return
		case snap := <-t.snaps:
			if err := t.savePacket(w, snap); err != nil {
				t.errch <- err
				return
			}
		}
	}
}

func (t *PCAPTap) savePacket(w *pcapgo.Writer, snap pcapTapSnapshot) error {
	ci := gopacket.CaptureInfo{
		Timestamp:      time.Now(),
		CaptureLength:  len(snap.data),
		Length:         snap.length,
		InterfaceIndex: 0,
		AncillaryData:  []any{},
	}
	return w.WritePacket(ci, snap.data)
}

// Stop implements [Stopper]: stops the background writer and closes the
// capture file.
func (t *PCAPTap) Stop() {
	t.once.Do(func() {
		t.cancel()
		err1 := <-t.errch
		err2 := t.conf.Writer.Close()
		_ = errors.Join(err1, err2)
	})
}
