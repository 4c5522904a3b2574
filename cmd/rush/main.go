// SPDX-License-Identifier: GPL-3.0-or-later

// Command rush bridges two host network interfaces, applying the QoS
// degradation and flow classification described by a JSON spec file to
// the traffic crossing between them. See spec.md §6.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/rush"
	"github.com/rs/zerolog"
)

const exampleSpec = `{
  "default_link": {
    "ingress": {"rate": 10000000, "loss": 0, "latency": 0, "jitter": 0, "jitter_strength": 0, "reorder_packets": false},
    "egress":  {"rate": 1000000,  "loss": 0, "latency": 0, "jitter": 0, "jitter_strength": 0, "reorder_packets": false}
  },
  "flows": [
    {
      "label": "http",
      "flow": {"ip": 0, "protocol": 6, "port_min": 80, "port_max": 80},
      "link": {
        "ingress": {"rate": 10000000, "loss": 0, "latency": 0, "jitter": 0, "jitter_strength": 0, "reorder_packets": false},
        "egress":  {"rate": 1000000,  "loss": 0, "latency": 0, "jitter": 0, "jitter_strength": 0, "reorder_packets": false}
      }
    }
  ]
}
`

func usage() {
	fmt.Fprintf(os.Stderr, "usage: rush [-pcap <prefix>] [-log-level <level>] <outer_if> <inner_if> <spec_path> [<ingress_profile> <egress_profile>]\n\n")
	fmt.Fprintf(os.Stderr, "example spec file:\n%s\n", exampleSpec)
}

func main() {
	pcapPrefix := flag.String("pcap", "", "capture file prefix; enables PCAPTap when non-empty")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 && len(args) != 5 {
		usage()
		os.Exit(1)
	}
	outerIf, innerIf, specPath := args[0], args[1], args[2]
	ingressProfile, egressProfile := "ingress.profile", "egress.profile"
	if len(args) == 5 {
		ingressProfile, egressProfile = args[3], args[4]
	}

	level := runtimex.PanicOnError1(zerolog.ParseLevel(*logLevel))
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	pool := rush.NewPool(1 << 20)
	engine := rush.NewEngine(pool, log)
	program := &rush.Program{
		Engine:         engine,
		OuterIf:        outerIf,
		InnerIf:        innerIf,
		SpecPath:       specPath,
		IngressProfile: ingressProfile,
		EgressProfile:  egressProfile,
		PCAPPrefix:     *pcapPrefix,
		Log:            log,
	}

	// The first load must succeed; without any valid configuration
	// there's nothing to run.
	runtimex.PanicOnError0(program.Load())

	var reloadRequested, shutdownRequested atomic.Bool
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range signals {
			switch sig {
			case syscall.SIGHUP:
				reloadRequested.Store(true)
			case syscall.SIGINT, syscall.SIGTERM:
				shutdownRequested.Store(true)
			}
		}
	}()

	log.Info().Str("outer", outerIf).Str("inner", innerIf).Msg("rush starting")
	for !shutdownRequested.Load() {
		engine.Main(rush.Options{
			Done: func() bool {
				return reloadRequested.Load() || shutdownRequested.Load()
			},
			NoReport: true,
		})
		if reloadRequested.Load() {
			reloadRequested.Store(false)
			program.Reload()
		}
	}
	log.Info().Msg("rush shutting down")
}
