// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"time"
)

// newRNG returns a PRNG seeded from a non-deterministic source, per
// spec.md §9: each stochastic app owns its own RNG, never a shared
// global one.
func newRNG() *mrand.Rand {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		// crypto/rand failing is a platform emergency; fall back to the
		// current time rather than refusing to start.
		binary.LittleEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	}
	return mrand.New(mrand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
}

// delayEntry is one packet held in a [Latency] or [Jitter] queue, tagged
// with the time at which it becomes eligible for release.
type delayEntry struct {
	release time.Time
	pkt     *Packet
}

// delayRing is a strict-FIFO bounded queue: only the head entry is ever
// inspected or released. Used by [Latency] (always) and [Jitter] when
// ReorderPackets is false.
type delayRing struct {
	entries    []delayEntry
	head, tail int
	count      int
}

func newDelayRing(capacity int) *delayRing {
	return &delayRing{entries: make([]delayEntry, capacity)}
}

func (q *delayRing) Push(e delayEntry) bool {
	if q.count == len(q.entries) {
		return false
	}
	q.entries[q.tail] = e
	q.tail = (q.tail + 1) % len(q.entries)
	q.count++
	return true
}

func (q *delayRing) Front() (delayEntry, bool) {
	if q.count == 0 {
		return delayEntry{}, false
	}
	return q.entries[q.head], true
}

func (q *delayRing) Pop() delayEntry {
	e := q.entries[q.head]
	q.entries[q.head] = delayEntry{}
	q.head = (q.head + 1) % len(q.entries)
	q.count--
	return e
}

// delayScan is an order-agnostic bounded queue: any due entry may be
// released regardless of position, so a later arrival with less jitter
// can overtake an earlier one still waiting. Used by [Jitter] when
// ReorderPackets is true.
type delayScan struct {
	entries  []delayEntry
	capacity int
}

func newDelayScan(capacity int) *delayScan {
	return &delayScan{capacity: capacity}
}

func (q *delayScan) Push(e delayEntry) bool {
	if len(q.entries) >= q.capacity {
		return false
	}
	q.entries = append(q.entries, e)
	return true
}

// DrainDue emits every entry due at or before now, in whatever order
// they're stored, stopping as soon as emit reports it can't accept more.
func (q *delayScan) DrainDue(now time.Time, emit func(*Packet) bool) {
	i := 0
	for i < len(q.entries) {
		e := q.entries[i]
		if e.release.After(now) {
			i++
			continue
		}
		if !emit(e.pkt) {
			return
		}
		last := len(q.entries) - 1
		q.entries[i] = q.entries[last]
		q.entries = q.entries[:last]
	}
}

// delayQueueCapacity bounds the Latency/Jitter reorder buffers. Sized
// generously above the default pull budget so a few breaths' worth of
// delayed traffic can sit in flight without tail-dropping under normal
// load.
const delayQueueCapacity = 4096

// LossConfig configures a [Loss] app.
type LossConfig struct {
	Ratio  float64
	Input  string
	Output string
}

// NewApp implements [AppConfig].
func (c LossConfig) NewApp() App {
	return &Loss{conf: c, rng: newRNG()}
}

// Loss drops each input packet independently with probability Ratio.
type Loss struct {
	conf      LossConfig
	rng       *mrand.Rand
	Forwarded uint64
	Dropped   uint64
}

var _ Pusher = (*Loss)(nil)

// Push implements [Pusher].
func (l *Loss) Push(st *AppState) {
	in, out := st.In(l.conf.Input), st.Out(l.conf.Output)
	if in == nil || out == nil {
		return
	}
	for !in.Empty() {
		if out.Full() {
			return
		}
		pkt := in.Receive()
		if l.rng.Float64() >= l.conf.Ratio {
			out.Transmit(st.Pool, pkt)
			l.Forwarded++
		} else {
			st.Pool.Free(pkt)
			l.Dropped++
		}
	}
}

// LatencyConfig configures a [Latency] app.
type LatencyConfig struct {
	DelayMs uint32
	Input   string
	Output  string
}

// NewApp implements [AppConfig].
func (c LatencyConfig) NewApp() App {
	return &Latency{conf: c, queue: newDelayRing(delayQueueCapacity)}
}

// Latency adds a constant delay to every packet, preserving order (delay
// is constant and arrivals are monotone, so the FIFO queue never needs
// to reorder).
type Latency struct {
	conf    LatencyConfig
	queue   *delayRing
	Dropped uint64
}

var _ Pusher = (*Latency)(nil)

// Push implements [Pusher]: stamp and enqueue every new arrival, then
// release everything at the head of the queue whose release time has
// passed.
func (a *Latency) Push(st *AppState) {
	in, out := st.In(a.conf.Input), st.Out(a.conf.Output)
	if in == nil || out == nil {
		return
	}
	delay := time.Duration(a.conf.DelayMs) * time.Millisecond
	for !in.Empty() {
		pkt := in.Receive()
		entry := delayEntry{release: st.Now.Add(delay), pkt: pkt}
		if !a.queue.Push(entry) {
			// Tail drop: the newest arrival is the one discarded.
			st.Pool.Free(pkt)
			a.Dropped++
		}
	}
	for {
		front, ok := a.queue.Front()
		if !ok || front.release.After(st.Now) || out.Full() {
			return
		}
		out.Transmit(st.Pool, a.queue.Pop().pkt)
	}
}

// JitterConfig configures a [Jitter] app.
type JitterConfig struct {
	JitterMs       uint32
	Strength       float64
	ReorderPackets bool
	Input          string
	Output         string
}

// NewApp implements [AppConfig].
func (c JitterConfig) NewApp() App {
	j := &Jitter{conf: c, rng: newRNG()}
	if c.ReorderPackets {
		j.scan = newDelayScan(delayQueueCapacity)
	} else {
		j.ring = newDelayRing(delayQueueCapacity)
	}
	return j
}

// Jitter adds a random extra delay, drawn independently per packet, and
// either preserves strict arrival order (head-of-line, ReorderPackets
// false) or lets packets overtake one another once their own jitter has
// elapsed (ReorderPackets true). See spec.md §4.7.3.
type Jitter struct {
	conf    JitterConfig
	rng     *mrand.Rand
	ring    *delayRing
	scan    *delayScan
	Dropped uint64
}

var _ Pusher = (*Jitter)(nil)

func (j *Jitter) extraDelay() time.Duration {
	if j.rng.Float64() >= j.conf.Strength {
		return 0
	}
	ms := j.rng.Float64() * float64(j.conf.JitterMs)
	return time.Duration(ms * float64(time.Millisecond))
}

// Push implements [Pusher].
func (j *Jitter) Push(st *AppState) {
	in, out := st.In(j.conf.Input), st.Out(j.conf.Output)
	if in == nil || out == nil {
		return
	}
	for !in.Empty() {
		pkt := in.Receive()
		entry := delayEntry{release: st.Now.Add(j.extraDelay()), pkt: pkt}
		var pushed bool
		if j.conf.ReorderPackets {
			pushed = j.scan.Push(entry)
		} else {
			pushed = j.ring.Push(entry)
		}
		if !pushed {
			st.Pool.Free(pkt)
			j.Dropped++
		}
	}
	if j.conf.ReorderPackets {
		j.scan.DrainDue(st.Now, func(pkt *Packet) bool {
			if out.Full() {
				return false
			}
			out.Transmit(st.Pool, pkt)
			return true
		})
		return
	}
	for {
		front, ok := j.ring.Front()
		if !ok || front.release.After(st.Now) || out.Full() {
			return
		}
		out.Transmit(st.Pool, j.ring.Pop().pkt)
	}
}

// rateLimiterBurstAllowance is the fractional headroom above one
// breath's worth of tokens that the bucket starts with, per spec.md
// §4.7.4.
const rateLimiterBurstAllowance = 1.25

// nominalBreathPeriod is the assumed duration of one breath used only to
// size the token bucket's initial burst (spec.md §4.7.4's "one breath's
// worth of tokens"); actual refill is continuous and driven by the
// engine's real elapsed wall-clock time between pushes, not by this
// constant.
const nominalBreathPeriod = time.Millisecond

// rateLimiterCapacitySeconds sizes the bucket's ceiling as one second's
// worth of tokens at the configured rate, independently of
// nominalBreathPeriod's (much smaller) initial-burst sizing. The
// ceiling and the initial fill are different knobs: the ceiling must
// never starve a single packet, while the initial fill controls how
// much burst a freshly-started limiter grants before steady-state
// refill takes over.
const rateLimiterCapacitySeconds = 1.0

// rateLimiterMinCapacityBits floors the bucket's ceiling at one
// maximum-size standard Ethernet frame's worth of bits (a 1500-byte
// payload plus its 14-byte header, as a raw socket delivers it), so a low
// RateBps can never produce a capacity smaller than such a frame's cost —
// which would otherwise cap r.tokens below need forever and stall the
// limiter completely instead of merely throttling it.
const rateLimiterMinCapacityBits = 8*(1500+EthernetHeaderLen) + framingBits

// RateLimiterConfig configures a [RateLimiter] app.
type RateLimiterConfig struct {
	RateBps uint64
	Input   string
	Output  string
}

// NewApp implements [AppConfig].
func (c RateLimiterConfig) NewApp() App {
	capacity := max(float64(c.RateBps)*rateLimiterCapacitySeconds, rateLimiterMinCapacityBits)
	initialTokens := min(capacity, float64(c.RateBps)*nominalBreathPeriod.Seconds()*rateLimiterBurstAllowance)
	return &RateLimiter{conf: c, capacity: capacity, initialTokens: initialTokens, queue: NewLink()}
}

// RateLimiter is a token bucket over bits-per-second. Tokens refill
// continuously based on elapsed wall-clock time up to capacity;
// packets that can't afford the current balance wait in a small
// internal overflow queue (itself a [Link], reusing its
// tail-drop-on-full accounting) until enough tokens accumulate.
type RateLimiter struct {
	conf          RateLimiterConfig
	tokens        float64
	capacity      float64
	initialTokens float64
	lastRefill    time.Time
	queue         *Link
}

var _ Pusher = (*RateLimiter)(nil)

// Push implements [Pusher].
func (r *RateLimiter) Push(st *AppState) {
	in, out := st.In(r.conf.Input), st.Out(r.conf.Output)
	if in == nil || out == nil {
		return
	}

	if r.lastRefill.IsZero() {
		r.lastRefill = st.Now
		r.tokens = r.initialTokens
	} else if elapsed := st.Now.Sub(r.lastRefill).Seconds(); elapsed > 0 {
		r.tokens = min(r.capacity, r.tokens+elapsed*float64(r.conf.RateBps))
		r.lastRefill = st.Now
	}

	for {
		pkt := r.queue.Peek()
		if pkt == nil {
			break
		}
		need := float64(pkt.Bits())
		if r.tokens < need || out.Full() {
			break
		}
		r.queue.Receive()
		r.tokens -= need
		out.Transmit(st.Pool, pkt)
	}

	for !in.Empty() {
		pkt := in.Receive()
		need := float64(pkt.Bits())
		if r.queue.Empty() && r.tokens >= need && !out.Full() {
			r.tokens -= need
			out.Transmit(st.Pool, pkt)
			continue
		}
		r.queue.Transmit(st.Pool, pkt)
	}
}
