// Package effects implements the effects that voices and samples can be
// routed through, and the final mixes that every output ends in.
//
// Every effect has an input and an output gain. The input feeds a wet path,
// through the effect proper, and a dry path straight to the output; the
// levels of both paths are the "wetLevel" and "dryLevel" parameters.
package effects

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// Effect is a running effect instance.
type Effect interface {
	Name() string
	In() engine.Node
	Out() engine.Node
	// SetParams schedules new parameter values at the given audio time.
	// Unknown parameters are ignored.
	SetParams(params map[string]float64, when float64)
	// TimeToFadeOut is how long the effect keeps sounding after its input
	// goes silent.
	TimeToFadeOut() float64
	// Stop disconnects the effect. Calling Stop again has no effect.
	Stop()
}

var ErrUnknownEffect = errors.New("unknown effect")

// Options are what an effect needs besides its name.
type Options struct {
	// Impulses loads impulse responses by file name, for the reverbs.
	Impulses Loader
}

type constructor func(host modules.Host, opts Options) Effect

var registry = map[string]constructor{
	"auto_pan":     func(h modules.Host, _ Options) Effect { return NewAutoPan(h) },
	"compressor":   func(h modules.Host, _ Options) Effect { return NewCompressor(h) },
	"distortion":   func(h modules.Host, _ Options) Effect { return NewDistortion(h) },
	"overdrive":    func(h modules.Host, _ Options) Effect { return NewOverdrive(h) },
	"mono_delay":   func(h modules.Host, _ Options) Effect { return NewMonoDelay(h) },
	"stereo_delay": func(h modules.Host, _ Options) Effect { return NewStereoDelay(h) },
	"final_mix":    func(h modules.Host, _ Options) Effect { return NewFinalMix(h) },
}

func init() {
	for name, file := range ReverbImpulses {
		registry[name] = func(h modules.Host, o Options) Effect { return NewReverb(h, name, file, o.Impulses) }
	}
}

// New creates the effect with the given name, e.g. "mono_delay" or
// "reverb_large".
func New(name string, host modules.Host, opts Options) (Effect, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownEffect, name)
	}
	return c(host, opts), nil
}

// Names lists every effect that New can create, sorted.
func Names() []string {
	ret := make([]string, 0, len(registry))
	for name := range registry {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// holder is the wet/dry frame shared by all effects. The effects add their
// own nodes between wet and out.
type holder struct {
	name     string
	host     modules.Host
	in, out  engine.Node
	wet, dry engine.Node
	nodes    []engine.Node
	sources  []engine.Node
	params   map[string]func(v, when float64)
	mu       sync.Mutex
	stopped  bool
}

func newHolder(host modules.Host, name string, wetLevel, dryLevel float64) *holder {
	ctx := host.Ctx
	h := newBareHolder(host, name)
	h.in, h.out, h.wet, h.dry = ctx.NewGain(), ctx.NewGain(), ctx.NewGain(), ctx.NewGain()
	h.wet.Param("gain").SetValue(wetLevel)
	h.dry.Param("gain").SetValue(dryLevel)
	h.in.Connect(h.wet)
	h.in.Connect(h.dry)
	h.dry.Connect(h.out)
	h.add(h.in, h.out, h.wet, h.dry)
	h.setter("wetLevel", h.wet.Param("gain"), 0, 1)
	h.setter("dryLevel", h.dry.Param("gain"), 0, 1)
	return h
}

// newBareHolder has no wet/dry frame; the caller sets in and out.
func newBareHolder(host modules.Host, name string) *holder {
	if host.Clock == nil {
		host.Clock = clock.Real{}
	}
	if host.Monitor != nil {
		host.Monitor.Retain(name)
	}
	return &holder{name: name, host: host, params: map[string]func(v, when float64){}}
}

// setter registers a parameter that sets p, clamped to [min, max].
func (h *holder) setter(name string, p engine.Param, min, max float64) {
	h.params[name] = func(v, when float64) {
		p.SetValueAtTime(bleep.Clamp(v, min, max), when)
	}
}

func (h *holder) add(nodes ...engine.Node) {
	h.nodes = append(h.nodes, nodes...)
}

func (h *holder) Name() string           { return h.name }
func (h *holder) In() engine.Node        { return h.in }
func (h *holder) Out() engine.Node       { return h.out }
func (h *holder) TimeToFadeOut() float64 { return 0 }

func (h *holder) SetParams(params map[string]float64, when float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	for name, v := range params {
		if set, ok := h.params[name]; ok {
			set(v, when)
		}
	}
}

func (h *holder) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	now := h.host.Ctx.CurrentTime()
	for _, s := range h.sources {
		s.Stop(now)
	}
	for _, n := range h.nodes {
		n.Disconnect()
	}
	if h.host.Monitor != nil {
		h.host.Monitor.Release(h.name)
	}
}

func (h *holder) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}
