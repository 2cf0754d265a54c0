// Package modules implements the synthesis modules a voice is built from.
// Each module wraps one or more engine nodes and exposes them by the names
// used in synth definitions: "out" for its output, "in" and the "...CV"
// names for its inputs, and the tweakable parameters.
package modules

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/engine"
)

// MiddleC is the initial frequency of every oscillator.
const MiddleC = 261.63

// TeardownDelay is how long after its stop time a module is disconnected.
const TeardownDelay = 100 * time.Millisecond

type (
	// Host is what a module needs from its surroundings.
	Host struct {
		Ctx     engine.Context
		Clock   clock.Clock
		Monitor *Monitor // optional
		Logger  *slog.Logger
	}

	// Module is an instance of a module type inside one voice.
	Module interface {
		Type() bleep.ModuleType
		// Output returns the node of an output port.
		Output(port string) (engine.Node, error)
		// Input returns the destination of an input port: either a node
		// (audio inputs) or a parameter (control voltage inputs). Exactly one
		// of the two is non-nil when the error is nil.
		Input(port string) (engine.Node, engine.Param, error)
		Set(param string, v float64) error
		Get(param string) (float64, error)
		Start(when float64)
		// Stop stops the module at the given audio time and disconnects it
		// shortly after. Calling Stop again with an earlier time moves the
		// stop forward; a later time has no effect.
		Stop(when float64)
	}

	// Envelope is a module that drives parameters of other modules instead
	// of producing audio.
	Envelope interface {
		Module
		// Apply schedules the envelope on target for a note that starts at
		// when and lasts duration seconds, release included.
		Apply(target engine.Param, when, duration float64)
		// Release is the length of the release stage, in seconds.
		Release() float64
		// ReleaseAt starts the release stage on every target at the given
		// time, from whatever value the target has reached.
		ReleaseAt(when float64)
	}

	// Bender is a module whose pitch can glide.
	Bender interface {
		BendTo(hz, from, to float64)
	}
)

// New creates a module of the given type. AUDIO creates the amplifier that
// every voice ends in.
func New(t bleep.ModuleType, host Host) (Module, error) {
	if host.Logger == nil {
		host.Logger = slog.Default()
	}
	if host.Clock == nil {
		host.Clock = clock.Real{}
	}
	switch t {
	case bleep.SawOsc:
		return newOscillator(t, host, "sawtooth"), nil
	case bleep.SinOsc:
		return newOscillator(t, host, "sine"), nil
	case bleep.SqrOsc:
		return newOscillator(t, host, "square"), nil
	case bleep.TriOsc:
		return newOscillator(t, host, "triangle"), nil
	case bleep.PulseOsc:
		return newPulseOsc(host), nil
	case bleep.RandOsc:
		return newRandOsc(host), nil
	case bleep.LFO:
		return newLFO(host), nil
	case bleep.Noise:
		return newNoise(host), nil
	case bleep.LPF:
		return newFilter(t, host, "lowpass", "lowpass"), nil
	case bleep.HPF:
		return newFilter(t, host, "highpass", "highpass"), nil
	case bleep.VCA:
		return newAmplifier(t, host, "amp"), nil
	case bleep.Audio:
		return newAmplifier(t, host, "audio"), nil
	case bleep.Shaper:
		return newShaper(host), nil
	case bleep.ADSR:
		return newADSR(host), nil
	case bleep.Decay:
		return newDecay(host), nil
	case bleep.Pan:
		return newPanner(host), nil
	case bleep.Delay:
		return newDelay(host), nil
	}
	return nil, fmt.Errorf("no module implements type %v", t)
}

// Connect patches an output port of one module to an input port of another.
func Connect(from Module, fromPort string, to Module, toPort string) error {
	src, err := from.Output(fromPort)
	if err != nil {
		return err
	}
	node, param, err := to.Input(toPort)
	if err != nil {
		return err
	}
	if node != nil {
		src.Connect(node)
	} else {
		src.ConnectParam(param)
	}
	return nil
}

// base implements Module from a set of nodes and named accessors. The module
// constructors fill it in.
type base struct {
	typ  bleep.ModuleType
	host Host
	// monitored is the field counted in the monitor, empty if not counted
	monitored string
	// nodes are disconnected on teardown; sources also need Start and Stop
	nodes    []engine.Node
	sources  []engine.Node
	out      engine.Node
	inputs   map[string]any // engine.Node or engine.Param
	setters  map[string]func(float64)
	getters  map[string]func() float64

	mu     sync.Mutex
	stopAt float64
	timer  clock.Timer
	torn   bool
}

func newBase(t bleep.ModuleType, host Host, monitored string) *base {
	b := &base{
		typ:       t,
		host:      host,
		monitored: monitored,
		inputs:    map[string]any{},
		setters:   map[string]func(float64){},
		getters:   map[string]func() float64{},
	}
	if monitored != "" && host.Monitor != nil {
		host.Monitor.Retain(monitored)
	}
	return b
}

func (b *base) Type() bleep.ModuleType { return b.typ }

// param registers a tweakable parameter backed by the value of an engine
// parameter.
func (b *base) param(name string, p engine.Param) {
	b.setters[name] = p.SetValue
	b.getters[name] = p.Value
}

func (b *base) Output(port string) (engine.Node, error) {
	if port != "out" || b.out == nil {
		return nil, fmt.Errorf("%v has no output %q", b.typ, port)
	}
	return b.out, nil
}

func (b *base) Input(port string) (engine.Node, engine.Param, error) {
	switch in := b.inputs[port].(type) {
	case engine.Node:
		return in, nil, nil
	case engine.Param:
		return nil, in, nil
	}
	return nil, nil, fmt.Errorf("%v has no input %q", b.typ, port)
}

func (b *base) Set(param string, v float64) error {
	set, ok := b.setters[param]
	if !ok {
		return fmt.Errorf("%v has no parameter %q", b.typ, param)
	}
	set(v)
	return nil
}

func (b *base) Get(param string) (float64, error) {
	get, ok := b.getters[param]
	if !ok {
		return 0, fmt.Errorf("%v has no parameter %q", b.typ, param)
	}
	return get(), nil
}

func (b *base) Start(when float64) {
	for _, n := range b.sources {
		n.Start(when)
	}
}

func (b *base) Stop(when float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.torn || (b.timer != nil && when >= b.stopAt) {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	for _, n := range b.sources {
		n.Stop(when)
	}
	b.stopAt = when
	wait := math.Max(when-b.host.Ctx.CurrentTime(), 0)
	b.timer = b.host.Clock.AfterFunc(clock.Duration(wait)+TeardownDelay, b.teardown)
}

func (b *base) teardown() {
	b.mu.Lock()
	if b.torn {
		b.mu.Unlock()
		return
	}
	b.torn = true
	b.mu.Unlock()
	b.host.Logger.Debug("disconnecting module", "type", b.typ)
	for _, n := range b.nodes {
		n.Disconnect()
	}
	if b.monitored != "" && b.host.Monitor != nil {
		b.host.Monitor.Release(b.monitored)
	}
}
