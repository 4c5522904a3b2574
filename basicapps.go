// SPDX-License-Identifier: GPL-3.0-or-later

package rush

// SourceConfig configures a [Source], a pull-only app that synthesizes
// packets from a byte template. Used in tests in place of a real
// [RawSocket].
type SourceConfig struct {
	Template []byte
	Output   string
}

// NewApp implements [AppConfig].
func (c SourceConfig) NewApp() App {
	return &Source{conf: c}
}

// Source is a pull-only app that emits copies of a fixed byte template,
// one per pull call per output budget slot, onto its single output port.
type Source struct {
	conf      SourceConfig
	Packets   uint64
	Bytes     uint64
}

var _ Puller = (*Source)(nil)

// Pull implements [Puller].
func (s *Source) Pull(st *AppState, budget int) {
	out := st.Out(s.conf.Output)
	if out == nil {
		return
	}
	for i := 0; i < budget && !out.Full(); i++ {
		pkt := st.Pool.Allocate()
		n := copy(pkt.Buffer(), s.conf.Template)
		pkt.SetLength(n)
		out.Transmit(st.Pool, pkt)
		s.Packets++
		s.Bytes += uint64(n)
	}
}

// SinkConfig configures a [Sink], a push-only app that frees everything
// it receives while counting packets and bytes.
type SinkConfig struct {
	Input string
}

// NewApp implements [AppConfig].
func (c SinkConfig) NewApp() App {
	return &Sink{conf: c}
}

// Sink is a push-only app used at the end of a test pipeline to assert
// throughput without a raw socket.
type Sink struct {
	conf    SinkConfig
	Packets uint64
	Bytes   uint64
}

var _ Pusher = (*Sink)(nil)

// Push implements [Pusher].
func (s *Sink) Push(st *AppState) {
	in := st.In(s.conf.Input)
	if in == nil {
		return
	}
	for {
		pkt := in.Receive()
		if pkt == nil {
			return
		}
		s.Packets++
		s.Bytes += uint64(pkt.Length)
		st.Pool.Free(pkt)
	}
}

// JoinConfig configures a [Join], an N-to-1 merge point: every named
// input is forwarded, in configured input order, to the single output.
type JoinConfig struct {
	Inputs []string
	Output string
}

// NewApp implements [AppConfig].
func (c JoinConfig) NewApp() App {
	return &Join{conf: c}
}

// Join merges several input links onto a single output link. It is the
// merge point the synthetic-network graph uses to bring a flow's QoS
// pipeline output back together with its siblings ahead of the checksum
// stage (spec.md §4.10).
type Join struct {
	conf JoinConfig
}

var _ Pusher = (*Join)(nil)

// Push implements [Pusher]. It visits inputs in configured order,
// draining each until empty or the output is full. There is no
// round-robin: an earlier input that fills the output is served first,
// and later inputs wait for a following breath.
func (j *Join) Push(st *AppState) {
	out := st.Out(j.conf.Output)
	if out == nil {
		return
	}
	for _, name := range j.conf.Inputs {
		in := st.In(name)
		if in == nil {
			continue
		}
		for !in.Empty() && !out.Full() {
			out.Transmit(st.Pool, in.Receive())
		}
	}
}

// TeeConfig configures a [Tee], a 1-to-N fan-out: every packet on the
// single input is duplicated onto every named output.
type TeeConfig struct {
	Input   string
	Outputs []string
}

// NewApp implements [AppConfig].
func (c TeeConfig) NewApp() App {
	return &Tee{conf: c}
}

// Tee duplicates each input packet onto every configured output. It is
// test/benchmark scaffolding; no synthetic-network graph wires it.
type Tee struct {
	conf TeeConfig
}

var _ Pusher = (*Tee)(nil)

// Push implements [Pusher].
func (t *Tee) Push(st *AppState) {
	in := st.In(t.conf.Input)
	if in == nil {
		return
	}
	outs := make([]*Link, 0, len(t.conf.Outputs))
	for _, name := range t.conf.Outputs {
		if l := st.Out(name); l != nil {
			outs = append(outs, l)
		}
	}
	for !in.Empty() {
		full := true
		for _, out := range outs {
			if !out.Full() {
				full = false
				break
			}
		}
		if full {
			return
		}
		pkt := in.Receive()
		for i, out := range outs {
			if i == len(outs)-1 {
				out.Transmit(st.Pool, pkt)
				continue
			}
			dup := st.Pool.Allocate()
			n := copy(dup.Buffer(), pkt.Bytes())
			dup.SetLength(n)
			out.Transmit(st.Pool, dup)
		}
		if len(outs) == 0 {
			st.Pool.Free(pkt)
		}
	}
}
