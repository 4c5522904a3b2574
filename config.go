// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/bassosimone/runtimex"
)

// linkSyntax matches "app.port -> app.port". App names are plain words;
// the first dot ends the app name, so a port name may itself contain dots
// (e.g. [Split]'s "flow.<label>" outputs).
var linkSyntax = regexp.MustCompile(`^\s*(\w+)\.([\w.]+)\s*->\s*(\w+)\.([\w.]+)\s*$`)

type linkSpec struct {
	FromApp, FromPort string
	ToApp, ToPort     string
}

// parseLink parses "app.port -> app.port". It panics on malformed input
// since every call site constructs its own link specs internally; a
// malformed spec here is a programming error, not user input.
func parseLink(spec string) linkSpec {
	m := linkSyntax.FindStringSubmatch(spec)
	runtimex.Assert(m != nil)
	return linkSpec{FromApp: m[1], FromPort: m[2], ToApp: m[3], ToPort: m[4]}
}

// canonicalLink reformats spec into its canonical "app.port -> app.port"
// form, collapsing incidental whitespace so two specs naming the same
// link always compare equal as strings.
func canonicalLink(spec string) string {
	ls := parseLink(spec)
	return fmt.Sprintf("%s.%s -> %s.%s", ls.FromApp, ls.FromPort, ls.ToApp, ls.ToPort)
}

// labelSyntax is the allowed syntax for a flow label.
var labelSyntax = regexp.MustCompile(`^\w+$`)

// QoS is the quality-of-service configuration applied to one direction
// of one pipeline (the default pipeline, or a single flow's pipeline).
type QoS struct {
	Rate           uint64  `json:"rate"`
	Loss           float64 `json:"loss"`
	LatencyMs      uint32  `json:"latency"`
	JitterMs       uint32  `json:"jitter"`
	JitterStrength float64 `json:"jitter_strength"`
	ReorderPackets bool    `json:"reorder_packets"`
}

// Validate checks that the fields of a QoS value are in range.
func (q QoS) Validate() error {
	if q.Loss < 0 || q.Loss > 1 {
		return fmt.Errorf("%w: loss %v out of [0,1]", ErrConfig, q.Loss)
	}
	if q.JitterStrength < 0 || q.JitterStrength > 1 {
		return fmt.Errorf("%w: jitter_strength %v out of [0,1]", ErrConfig, q.JitterStrength)
	}
	return nil
}

// QoSLink is a pair of [QoS] configurations, one per direction.
type QoSLink struct {
	Ingress QoS `json:"ingress"`
	Egress  QoS `json:"egress"`
}

// Flow selects packets by (ip, protocol, port range). A zero ip or
// protocol, or a full [0,65535] port range, acts as a wildcard on that
// field.
type Flow struct {
	IP      uint32 `json:"ip"`
	Proto   uint8  `json:"protocol"`
	PortMin uint16 `json:"port_min"`
	PortMax uint16 `json:"port_max"`
}

// Validate checks that PortMin <= PortMax.
func (f Flow) Validate() error {
	if f.PortMin > f.PortMax {
		return fmt.Errorf("%w: flow %s: port_min %d > port_max %d", ErrConfig, flowString(f), f.PortMin, f.PortMax)
	}
	return nil
}

// Matches reports whether pkt's (ip, protocol, port) triple satisfies f.
func (f Flow) Matches(ip uint32, proto uint8, port uint16) bool {
	return (f.IP == 0 || f.IP == ip) &&
		(f.Proto == 0 || f.Proto == proto) &&
		f.PortMin <= port && port <= f.PortMax
}

// NamedFlow is a labeled flow with its own QoS link.
type NamedFlow struct {
	Label string  `json:"label"`
	Flow  Flow    `json:"flow"`
	Link  QoSLink `json:"link"`
}

// SyntheticNetwork is the top-level JSON configuration: a default
// pipeline's QoS and an ordered list of flow-specific pipelines. Flow
// order is user-visible: [Split] matches flows first-wins.
type SyntheticNetwork struct {
	DefaultLink QoSLink     `json:"default_link"`
	Flows       []NamedFlow `json:"flows"`
}

// ParseSyntheticNetwork decodes and validates a JSON configuration. A
// validation failure is a [ErrConfig]-wrapped error describing the
// problem; the caller is expected to keep the previous configuration on
// error, per the engine's reload contract.
func ParseSyntheticNetwork(data []byte) (*SyntheticNetwork, error) {
	var sn SyntheticNetwork
	if err := json.Unmarshal(data, &sn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := sn.Validate(); err != nil {
		return nil, err
	}
	return &sn, nil
}

// Validate checks label syntax, label uniqueness, the "default" label
// being reserved, and per-field ranges on every QoS and Flow value.
func (sn *SyntheticNetwork) Validate() error {
	if err := sn.DefaultLink.Ingress.Validate(); err != nil {
		return err
	}
	if err := sn.DefaultLink.Egress.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(sn.Flows))
	for _, nf := range sn.Flows {
		if !labelSyntax.MatchString(nf.Label) {
			return fmt.Errorf("%w: invalid flow label %q", ErrConfig, nf.Label)
		}
		if nf.Label == "default" {
			return fmt.Errorf("%w: %q is a reserved flow label", ErrConfig, nf.Label)
		}
		if seen[nf.Label] {
			return fmt.Errorf("%w: duplicate flow label %q", ErrConfig, nf.Label)
		}
		seen[nf.Label] = true
		if err := nf.Flow.Validate(); err != nil {
			return err
		}
		if err := nf.Link.Ingress.Validate(); err != nil {
			return err
		}
		if err := nf.Link.Egress.Validate(); err != nil {
			return err
		}
	}
	return nil
}
