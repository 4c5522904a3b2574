// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bassosimone/runtimex"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// SplitConfig configures a [Split] classifier. Flows and FlowOutputs are
// parallel slices: FlowOutputs[i] is the output port name to use when
// Flows[i] matches. Ordering is part of the contract — the first match
// wins (spec.md §4.6).
type SplitConfig struct {
	Flows         []NamedFlow
	FlowOutputs   []string
	DefaultOutput string
	Input         string
	Ingress       bool
}

// NewApp implements [AppConfig].
func (c SplitConfig) NewApp() App {
	return &Split{conf: c}
}

// Split parses each input packet's Ethernet/IPv4/TCP/UDP headers and
// routes it to exactly one output: the first matching flow's output, or
// DefaultOutput if none match (including every non-IPv4 packet and every
// malformed one).
type Split struct {
	conf SplitConfig

	Malformed     uint64
	lastMalformed error
}

var _ Pusher = (*Split)(nil)
var _ Reporter = (*Split)(nil)

// Push implements [Pusher].
func (s *Split) Push(st *AppState) {
	in := st.In(s.conf.Input)
	if in == nil {
		return
	}
	for !in.Empty() {
		pkt := in.Receive()
		out := st.Out(s.route(pkt))
		if out == nil {
			st.Pool.Free(pkt)
			continue
		}
		out.Transmit(st.Pool, pkt)
	}
}

func (s *Split) route(pkt *Packet) string {
	c, err := classify(pkt.Bytes())
	if err != nil {
		s.Malformed++
		s.lastMalformed = err
		return s.conf.DefaultOutput
	}
	if !c.isIPv4 {
		return s.conf.DefaultOutput
	}
	var ip uint32
	var port uint16
	if s.conf.Ingress {
		ip, port = c.ip4.SrcAddr(), c.srcPort
	} else {
		ip, port = c.ip4.DstAddr(), c.dstPort
	}
	for i, nf := range s.conf.Flows {
		if nf.Flow.Matches(ip, c.proto, port) {
			return s.conf.FlowOutputs[i]
		}
	}
	return s.conf.DefaultOutput
}

// Report implements [Reporter].
func (s *Split) Report(log zerolog.Logger) {
	ev := log.Info().
		Uint64("malformed", s.Malformed).
		AnErr("last_malformed_err", s.lastMalformed)
	for _, nf := range s.conf.Flows {
		ev = ev.Str(nf.Label, flowString(nf.Flow))
	}
	ev.Msg("split report")
}

// flowString renders f as "ip/protocol/portMin-portMax", substituting
// "any" for a wildcard ip or protocol, e.g. "192.168.0.1/6/80-80" or
// "any/any/0-65535". It is the display counterpart to [parseFlow], used
// to log configured flows in human-readable form instead of their raw
// numeric fields.
func flowString(f Flow) string {
	ipStr := "any"
	if f.IP != 0 {
		ipStr = ntop(f.IP)
	}
	protoStr := "any"
	if f.Proto != 0 {
		protoStr = strconv.Itoa(int(f.Proto))
	}
	return fmt.Sprintf("%s/%s/%d-%d", ipStr, protoStr, f.PortMin, f.PortMax)
}

// parseFlow parses flowString's format back into a [Flow], the inverse
// of flowString: flowString(parseFlow(s)) == s for any normalized s it
// accepts (a dotted-quad or "any" ip, a decimal or "any" protocol, and a
// "min-max" decimal port range).
func parseFlow(s string) (Flow, bool) {
	fields := strings.Split(s, "/")
	if len(fields) != 3 {
		return Flow{}, false
	}
	var f Flow
	if fields[0] != "any" {
		ip, ok := pton(fields[0])
		if !ok {
			return Flow{}, false
		}
		f.IP = ip
	}
	if fields[1] != "any" {
		proto, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return Flow{}, false
		}
		f.Proto = uint8(proto)
	}
	lo, hi, ok := strings.Cut(fields[2], "-")
	if !ok {
		return Flow{}, false
	}
	portMin, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return Flow{}, false
	}
	portMax, err := strconv.ParseUint(hi, 10, 16)
	if err != nil {
		return Flow{}, false
	}
	f.PortMin, f.PortMax = uint16(portMin), uint16(portMax)
	return f, true
}

const (
	flowTopSlots     = 2048
	flowTopSlotBytes = 24
	// FlowTopFileBytes is the exact size of a FlowTop profile file.
	FlowTopFileBytes = flowTopSlots * flowTopSlotBytes
)

// fmix64 is the finalizer mix function from Murmur3 (MurmurHash3_x64_128),
// used here purely as a fast, well-distributed 64-to-64 bit hash for
// slot selection.
func fmix64(k uint64) uint64 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return k
}

// flowID packs (port, protocol, ip) into the 64-bit key FlowTop hashes
// and persists per slot.
func flowID(ip uint32, proto uint8, port uint16) uint64 {
	return uint64(port)<<48 | uint64(proto)<<32 | uint64(ip)
}

// FlowTopConfig configures a [FlowTop] tap.
type FlowTopConfig struct {
	Input, Output string
	Ingress       bool
	Path          string
}

// NewApp implements [AppConfig]. It creates (or truncates) and
// memory-maps Path; failure is an initialization error and fatal, per
// spec.md §7 category 2.
func (c FlowTopConfig) NewApp() App {
	f := runtimex.PanicOnError1(os.OpenFile(c.Path, os.O_RDWR|os.O_CREATE, 0o644))
	runtimex.PanicOnError0(f.Truncate(FlowTopFileBytes))
	region := runtimex.PanicOnError1(unix.Mmap(int(f.Fd()), 0, FlowTopFileBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED))
	return &FlowTop{conf: c, file: f, region: region}
}

// FlowTop is a pass-through tap that, for every IPv4 packet observed,
// hashes (port, protocol, address) into one of 2048 slots of a
// memory-mapped profile file and accumulates packet/bit counters there,
// overwriting the slot's id with whichever flow most recently touched
// it. See spec.md §4.9.
type FlowTop struct {
	conf   FlowTopConfig
	file   *os.File
	region []byte

	Malformed     uint64
	lastMalformed error
}

var _ Pusher = (*FlowTop)(nil)
var _ Stopper = (*FlowTop)(nil)
var _ Reporter = (*FlowTop)(nil)

// Push implements [Pusher].
func (t *FlowTop) Push(st *AppState) {
	in, out := st.In(t.conf.Input), st.Out(t.conf.Output)
	if in == nil {
		return
	}
	for !in.Empty() {
		if out != nil && out.Full() {
			return
		}
		pkt := in.Receive()
		t.observe(pkt)
		if out != nil {
			out.Transmit(st.Pool, pkt)
		} else {
			st.Pool.Free(pkt)
		}
	}
}

func (t *FlowTop) observe(pkt *Packet) {
	c, err := classify(pkt.Bytes())
	if err != nil {
		t.Malformed++
		t.lastMalformed = err
	}
	if !c.isIPv4 {
		return
	}
	var ip uint32
	var port uint16
	if t.conf.Ingress {
		ip, port = c.ip4.SrcAddr(), c.srcPort
	} else {
		ip, port = c.ip4.DstAddr(), c.dstPort
	}
	id := flowID(ip, c.proto, port)
	slot := fmix64(id) & (flowTopSlots - 1)
	off := int(slot) * flowTopSlotBytes
	packets := binary.LittleEndian.Uint64(t.region[off:off+8]) + 1
	bits := binary.LittleEndian.Uint64(t.region[off+8:off+16]) + pkt.Bits()
	binary.LittleEndian.PutUint64(t.region[off:off+8], packets)
	binary.LittleEndian.PutUint64(t.region[off+8:off+16], bits)
	binary.LittleEndian.PutUint64(t.region[off+16:off+24], id)
}

// Stop implements [Stopper]: unmaps and closes the profile file.
func (t *FlowTop) Stop() {
	_ = unix.Munmap(t.region)
	_ = t.file.Close()
}

// Report implements [Reporter].
func (t *FlowTop) Report(log zerolog.Logger) {
	log.Info().
		Uint64("malformed", t.Malformed).
		AnErr("last_malformed_err", t.lastMalformed).
		Msg("flowtop report")
}
