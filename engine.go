// SPDX-License-Identifier: GPL-3.0-or-later

package rush

import (
	"reflect"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/rs/zerolog"
)

// App is a node in the processing graph. Concrete app types implement
// whichever of [Puller], [Pusher], [Reporter], and [Stopper] apply to
// them; the engine type-switches on the app value rather than dispatching
// through a single fat interface, which keeps apps that only push (most
// of them) free of empty pull methods.
type App interface{}

// Puller is implemented by apps with a pull method: sources that inject
// packets into the graph, such as [RawSocket] and [Source].
type Puller interface {
	// Pull injects up to budget packets per output link into the graph.
	Pull(st *AppState, budget int)
}

// Pusher is implemented by apps with a push method: everything that
// transforms or consumes packets already on an input link.
type Pusher interface {
	// Push drains the app's inputs until they are empty or its outputs
	// are full. Push is only called when at least one named input link
	// is non-empty.
	Push(st *AppState)
}

// Reporter is implemented by apps that contribute a line to the engine's
// per-app report (see Options.ReportApps).
type Reporter interface {
	Report(log zerolog.Logger)
}

// Stopper is implemented by apps that hold resources (file descriptors,
// memory-mapped files) needing explicit release when the app is removed
// from the graph by a configure swap.
type Stopper interface {
	Stop()
}

// AppConfig is an immutable app configuration. NewApp instantiates the
// app it describes. Two configuration values that compare equal under
// [reflect.DeepEqual] cause the engine to reuse the existing app instance
// across a configure swap instead of re-instantiating it.
type AppConfig interface {
	NewApp() App
}

// AppState is the per-instance handle an app uses to reach its named
// links, the shared packet pool, and the engine's cached breath
// timestamp. Apps must not retain it past the Pull/Push call it was
// passed to.
type AppState struct {
	Name   string
	Input  map[string]*Link
	Output map[string]*Link
	Pool   *Pool
	Now    time.Time
}

// In returns the named input link, or nil if the app has no such port
// wired in the current configuration.
func (st *AppState) In(port string) *Link {
	return st.Input[port]
}

// Out returns the named output link, or nil if the app has no such port
// wired in the current configuration.
func (st *AppState) Out(port string) *Link {
	return st.Output[port]
}

// DefaultPullBudget is the default number of packets a [Puller] may
// inject per output link in a single breath.
const DefaultPullBudget = 100

type appInstance struct {
	app    App
	conf   AppConfig
	input  map[string]*Link
	output map[string]*Link
}

// Config is a graph configuration: a deterministically ordered list of
// named apps and a set of links joining their ports. Apps are visited,
// for both pull and push, in the order they were added here — this is
// the engine's "configuration order" (see [Engine.Breathe]).
type Config struct {
	appNames []string
	apps     map[string]AppConfig
	links    []string
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{apps: map[string]AppConfig{}}
}

// App adds or replaces the named app's configuration. The first call for
// a given name fixes its position in configuration order.
func (c *Config) App(name string, conf AppConfig) {
	if _, exists := c.apps[name]; !exists {
		c.appNames = append(c.appNames, name)
	}
	c.apps[name] = conf
}

// Link adds a link between "srcApp.outPort" and "dstApp.inPort", in the
// syntax "srcApp.outPort -> dstApp.inPort". Duplicate specs are ignored.
func (c *Config) Link(spec string) {
	canon := canonicalLink(spec)
	for _, l := range c.links {
		if l == canon {
			return
		}
	}
	c.links = append(c.links, canon)
}

// Engine is a single-threaded, cooperative packet-processing loop over a
// statically-configured app graph. The pool, the app table, and the link
// table are only ever touched from the goroutine that calls
// [Engine.Configure] and [Engine.Breathe]; nothing here needs locking.
type Engine struct {
	pool *Pool
	log  zerolog.Logger

	apps     map[string]*appInstance
	appOrder []string
	links    map[string]*Link

	now     time.Time
	breaths uint64

	lastFrees uint64
	sleepUs   uint64
}

// NewEngine returns an Engine backed by pool, with no configuration
// applied yet. Call [Engine.Configure] before [Engine.Breathe] or
// [Engine.Main].
func NewEngine(pool *Pool, log zerolog.Logger) *Engine {
	return &Engine{
		pool:  pool,
		log:   log,
		apps:  map[string]*appInstance{},
		links: map[string]*Link{},
	}
}

// Pool returns the engine's packet pool.
func (e *Engine) Pool() *Pool {
	return e.pool
}

// App returns the live app instance registered under name, or nil.
func (e *Engine) App(name string) App {
	if inst, ok := e.apps[name]; ok {
		return inst.app
	}
	return nil
}

// Link returns the live link registered under its canonical name, or
// nil.
func (e *Engine) Link(spec string) *Link {
	return e.links[canonicalLink(spec)]
}

// Configure replaces the live app graph with one derived from cfg. It
// diffs against the previous configuration: an app instance is reused
// if its name is still present and its new [AppConfig] compares equal
// (via [reflect.DeepEqual]) to the old one; otherwise the old instance is
// stopped and a fresh one is instantiated. The link table is always
// rebuilt from scratch — any packets still queued on a discarded link are
// freed back to the pool so the packet-conservation invariant holds
// across the swap. Configure must only be called between breaths.
func (e *Engine) Configure(cfg *Config) {
	// Stop and drop apps that disappeared or whose configuration changed.
	for name, inst := range e.apps {
		newConf, ok := cfg.apps[name]
		if ok && reflect.DeepEqual(inst.conf, newConf) {
			continue
		}
		if stopper, ok := inst.app.(Stopper); ok {
			stopper.Stop()
		}
		delete(e.apps, name)
	}

	// Instantiate apps that are new or were just dropped above.
	for _, name := range cfg.appNames {
		if _, exists := e.apps[name]; exists {
			continue
		}
		conf := cfg.apps[name]
		e.apps[name] = &appInstance{
			app:    conf.NewApp(),
			conf:   conf,
			input:  map[string]*Link{},
			output: map[string]*Link{},
		}
	}

	// Rebuild the link table wholesale. Drain and free whatever is still
	// queued on the outgoing links first.
	for _, l := range e.links {
		for !l.Empty() {
			e.pool.Free(l.Receive())
		}
	}
	for _, inst := range e.apps {
		inst.input = map[string]*Link{}
		inst.output = map[string]*Link{}
	}
	newLinks := make(map[string]*Link, len(cfg.links))
	for _, spec := range cfg.links {
		ls := parseLink(spec)
		from, ok := e.apps[ls.FromApp]
		runtimex.Assert(ok)
		to, ok := e.apps[ls.ToApp]
		runtimex.Assert(ok)
		l := NewLink()
		newLinks[spec] = l
		from.output[ls.FromPort] = l
		to.input[ls.ToPort] = l
	}
	e.links = newLinks

	e.appOrder = append(e.appOrder[:0], cfg.appNames...)
}

func (e *Engine) stateFor(name string, inst *appInstance) *AppState {
	return &AppState{
		Name:   name,
		Input:  inst.input,
		Output: inst.output,
		Pool:   e.pool,
		Now:    e.now,
	}
}

func (e *Engine) hasInput(inst *appInstance) bool {
	for _, l := range inst.input {
		if !l.Empty() {
			return true
		}
	}
	return false
}

// Breathe performs one breath: refresh the cached timestamp, call Pull on
// every app that implements [Puller] in configuration order, then call
// Push on every app that implements [Pusher] and has a non-empty input
// in configuration order.
func (e *Engine) Breathe() {
	e.now = time.Now()
	for _, name := range e.appOrder {
		inst := e.apps[name]
		if puller, ok := inst.app.(Puller); ok {
			puller.Pull(e.stateFor(name, inst), DefaultPullBudget)
		}
	}
	for _, name := range e.appOrder {
		inst := e.apps[name]
		pusher, ok := inst.app.(Pusher)
		if !ok || !e.hasInput(inst) {
			continue
		}
		pusher.Push(e.stateFor(name, inst))
	}
	e.breaths++
}

// paceBreathing sleeps between breaths to avoid busy-spinning a CPU core
// while idle. Progress is measured by pool frees since the previous call:
// the sleep halves whenever frees were observed, and grows by 1us up to a
// 100us ceiling when none were. No sleep happens while it is zero.
func (e *Engine) paceBreathing() {
	frees := e.pool.Frees
	if frees != e.lastFrees {
		e.sleepUs /= 2
	} else if e.sleepUs < 100 {
		e.sleepUs++
	}
	e.lastFrees = frees
	if e.sleepUs > 0 {
		time.Sleep(time.Duration(e.sleepUs) * time.Microsecond)
	}
}

// Options configures an [Engine.Main] run.
type Options struct {
	// Done, if set, is polled once per breath; Main returns once it
	// reports true. Mutually exclusive with Duration.
	Done func() bool

	// Duration, if nonzero, bounds how long Main runs. Mutually
	// exclusive with Done.
	Duration time.Duration

	NoReport    bool
	ReportLoad  bool
	ReportLinks bool
	ReportApps  bool
}

// Main runs the breathe loop until Options.Done reports true or
// Options.Duration elapses, sleeping briefly between idle breaths. It is
// safe to call repeatedly (e.g., once per reload epoch).
func (e *Engine) Main(opts Options) {
	runtimex.Assert(!(opts.Done != nil && opts.Duration > 0))

	deadline := time.Time{}
	if opts.Duration > 0 {
		deadline = time.Now().Add(opts.Duration)
	}
	done := func() bool {
		if opts.Done != nil {
			return opts.Done()
		}
		if !deadline.IsZero() {
			return time.Now().After(deadline)
		}
		return false
	}

	e.Breathe()
	for !done() {
		e.paceBreathing()
		e.Breathe()
	}

	if !opts.NoReport {
		e.report(opts)
	}
}

func (e *Engine) report(opts Options) {
	if opts.ReportLoad {
		e.log.Info().
			Uint64("breaths", e.breaths).
			Uint64("frees", e.pool.Frees).
			Uint64("free_bits", e.pool.FreeBits).
			Msg("load report")
	}
	if opts.ReportLinks {
		for name, l := range e.links {
			e.log.Info().
				Str("link", name).
				Uint64("tx_packets", l.TxPackets).
				Uint64("rx_packets", l.RxPackets).
				Uint64("tx_drop", l.TxDrop).
				Float64("loss", l.LossRatio()).
				AnErr("drop_err", l.lastDropErr).
				Msg("link report")
		}
	}
	if opts.ReportApps {
		for _, name := range e.appOrder {
			inst := e.apps[name]
			if reporter, ok := inst.app.(Reporter); ok {
				reporter.Report(e.log)
			}
		}
	}
}
