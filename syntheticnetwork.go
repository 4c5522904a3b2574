// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// wirePipeline instantiates one direction's Loss→Latency→Jitter→
// RateLimiter quad for pipeline id (a flow label, or "default") under
// dir ("ingress" or "egress"), and links it between fromApp.fromPort and
// toApp.toPort. The chain order is spec.md §2's stated order; note that
// this differs from the grounding source's actual wiring order, see
// DESIGN.md.
func wirePipeline(cfg *Config, id, dir string, qos QoS, fromApp, fromPort, toApp, toPort string) {
	loss := id + "_" + dir + "_loss"
	latency := id + "_" + dir + "_latency"
	jitter := id + "_" + dir + "_jitter"
	rate := id + "_" + dir + "_rate"

	cfg.App(loss, LossConfig{Ratio: qos.Loss, Input: "in", Output: "out"})
	cfg.App(latency, LatencyConfig{DelayMs: qos.LatencyMs, Input: "in", Output: "out"})
	cfg.App(jitter, JitterConfig{
		JitterMs:       qos.JitterMs,
		Strength:       qos.JitterStrength,
		ReorderPackets: qos.ReorderPackets,
		Input:          "in",
		Output:         "out",
	})
	cfg.App(rate, RateLimiterConfig{RateBps: qos.Rate, Input: "in", Output: "out"})

	cfg.Link(fmt.Sprintf("%s.%s -> %s.in", fromApp, fromPort, loss))
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", loss, latency))
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", latency, jitter))
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", jitter, rate))
	cfg.Link(fmt.Sprintf("%s.out -> %s.%s", rate, toApp, toPort))
}

// buildDirectionOptions parameterizes buildDirection over the two
// symmetric directions of the pipeline.
type buildDirectionOptions struct {
	dir         string // "ingress" or "egress"
	ingress     bool
	srcApp      string // rawsocket app to read from
	dstApp      string // rawsocket app to write to
	profilePath string
	pcapWriter  interface{ NewApp() App } // nil unless -pcap requested
	pcapAppName string
}

func buildDirection(cfg *Config, sn *SyntheticNetwork, opts buildDirectionOptions) {
	checksum := opts.dir + "_checksum"
	split := opts.dir + "_split"
	join := opts.dir + "_join"
	top := opts.dir + "_top"

	cfg.App(checksum, ChecksumConfig{Input: "in", Output: "out"})
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", opts.srcApp, checksum))

	flowOutputs := make([]string, len(sn.Flows))
	joinInputs := make([]string, 0, len(sn.Flows)+1)
	joinInputs = append(joinInputs, "default")
	for i, nf := range sn.Flows {
		flowOutputs[i] = "flow." + nf.Label
		joinInputs = append(joinInputs, nf.Label)
	}
	cfg.App(split, SplitConfig{
		Flows:         sn.Flows,
		FlowOutputs:   flowOutputs,
		DefaultOutput: "default",
		Input:         "in",
		Ingress:       opts.ingress,
	})
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", checksum, split))

	cfg.App(join, JoinConfig{Inputs: joinInputs, Output: "out"})

	wirePipeline(cfg, "default", opts.dir, directionQoS(sn.DefaultLink, opts.ingress), split, "default", join, "default")
	for _, nf := range sn.Flows {
		wirePipeline(cfg, nf.Label, opts.dir, directionQoS(nf.Link, opts.ingress), split, "flow."+nf.Label, join, nf.Label)
	}

	cfg.App(top, FlowTopConfig{Input: "in", Output: "out", Ingress: opts.ingress, Path: opts.profilePath})
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", join, top))

	finalSrc := top
	if opts.pcapWriter != nil {
		cfg.App(opts.pcapAppName, opts.pcapWriter)
		cfg.Link(fmt.Sprintf("%s.out -> %s.in", top, opts.pcapAppName))
		finalSrc = opts.pcapAppName
	}
	cfg.Link(fmt.Sprintf("%s.out -> %s.in", finalSrc, opts.dstApp))
}

func directionQoS(l QoSLink, ingress bool) QoS {
	if ingress {
		return l.Ingress
	}
	return l.Egress
}

// BuildConfig derives a complete [Config] from sn, wiring two RawSockets
// (outerIf, innerIf), a Checksum/Split/QoS-quad/Join/FlowTop chain per
// direction, and optionally a [PCAPTap] spliced into each direction's
// final link when pcapPrefix is non-empty (one capture file per
// direction, pcapPrefix+"-ingress.pcap" and pcapPrefix+"-egress.pcap").
// See spec.md §4.10 and SPEC_FULL.md §4.11-§4.13.
func BuildConfig(sn *SyntheticNetwork, outerIf, innerIf, ingressProfile, egressProfile, pcapPrefix string) (*Config, error) {
	cfg := NewConfig()
	cfg.App("outer", RawSocketConfig{Interface: outerIf, Input: "in", Output: "out"})
	cfg.App("inner", RawSocketConfig{Interface: innerIf, Input: "in", Output: "out"})

	var ingressTap, egressTap interface{ NewApp() App }
	if pcapPrefix != "" {
		fIn, err := os.OpenFile(pcapPrefix+"-ingress.pcap", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInit, err)
		}
		fOut, err := os.OpenFile(pcapPrefix+"-egress.pcap", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInit, err)
		}
		ingressTap = PCAPTapConfig{Input: "in", Output: "out", Writer: fIn, SnapLen: 65535, Ingress: true}
		egressTap = PCAPTapConfig{Input: "in", Output: "out", Writer: fOut, SnapLen: 65535, Ingress: false}
	}

	buildDirection(cfg, sn, buildDirectionOptions{
		dir: "ingress", ingress: true, srcApp: "outer", dstApp: "inner",
		profilePath: ingressProfile, pcapWriter: ingressTap, pcapAppName: "ingress_pcap",
	})
	buildDirection(cfg, sn, buildDirectionOptions{
		dir: "egress", ingress: false, srcApp: "inner", dstApp: "outer",
		profilePath: egressProfile, pcapWriter: egressTap, pcapAppName: "egress_pcap",
	})
	return cfg, nil
}

// Program is the top-level SyntheticNetwork wiring: it owns the engine,
// knows where the spec file lives, and can (re)build the graph from it.
// See spec.md §4.10.
type Program struct {
	Engine         *Engine
	OuterIf        string
	InnerIf        string
	SpecPath       string
	IngressProfile string
	EgressProfile  string
	PCAPPrefix     string
	Log            zerolog.Logger
}

// Load reads SpecPath, validates it, and applies it to Engine. On
// failure the engine's current configuration is left untouched, per
// spec.md §7's "reject the new spec, keep the prior one" contract.
func (p *Program) Load() error {
	data, err := os.ReadFile(p.SpecPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	sn, err := ParseSyntheticNetwork(data)
	if err != nil {
		return err
	}
	cfg, err := BuildConfig(sn, p.OuterIf, p.InnerIf, p.IngressProfile, p.EgressProfile, p.PCAPPrefix)
	if err != nil {
		return err
	}
	p.Engine.Configure(cfg)
	return nil
}

// Reload re-reads SpecPath and applies it, logging and keeping the
// previous configuration on any error instead of propagating it. This
// is the SIGHUP handler's body.
func (p *Program) Reload() {
	if err := p.Load(); err != nil {
		p.Log.Error().Err(err).Str("path", p.SpecPath).Msg("reload failed, keeping previous configuration")
	}
}
