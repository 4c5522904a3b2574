// SPDX-License-Identifier: GPL-3.0-or-later

// Package rush is a userspace packet-forwarding engine that bridges two
// host network interfaces and applies configurable quality-of-service
// degradation — rate limiting, probabilistic loss, constant latency,
// jitter, and optional reordering — to the traffic crossing it.
//
// The engine is a statically-configured directed graph of [App] instances
// connected by single-producer/single-consumer [Link] queues. A single
// [Engine] drives the graph by repeatedly pulling packets into the graph
// and then pushing them through it, a cycle called a breath.
//
// [Packet] buffers are owned by a fixed-capacity [Pool] and move between
// the pool, link slots, and transient locals inside apps; there is no
// sharing. [Split] classifies IPv4 traffic into named flows so each flow
// gets its own QoS pipeline (see [Loss], [Latency], [Jitter],
// [RateLimiter]). [FlowTop] samples per-flow packet/bit counters into a
// memory-mapped snapshot file for an external observer to read.
//
// The cmd/rush binary wires a [RawSocket] pair and a [Config] loaded from
// a JSON spec file into a running [Engine], reloading the graph on
// SIGHUP and shutting down cleanly on SIGINT/SIGTERM.
package rush
