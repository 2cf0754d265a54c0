// Package player instantiates synth definitions as voices: one set of
// modules per note, wired, tweaked and scheduled on the audio engine.
package player

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// Voice is one note of a synth. It owns the modules of the note, the
// synthetic "audio" module included, and the parameter set its tweaks are
// evaluated against.
type Voice struct {
	host     modules.Host
	gen      *bleep.Generator
	rnd      *rand.Rand
	mu       sync.Mutex
	params   bleep.Params
	mods     map[string]modules.Module
	order    []string
	duration float64

	// the "note" monitor field is released with the modules
	stopAt float64
	timer  clock.Timer
	done   bool
}

// NewVoice builds the modules of a note, patches them and evaluates every
// tweak. The parameter set is made of the defaults of the generator, then
// opts, then pitchHz, level and duration, which always win.
func NewVoice(host modules.Host, gen *bleep.Generator, pitchHz, level, duration float64, opts map[string]float64) (*Voice, error) {
	if !gen.Valid() {
		return nil, fmt.Errorf("cannot play %q: %w", gen.ID(), gen.Err())
	}
	if host.Clock == nil {
		host.Clock = clock.Real{}
	}
	v := &Voice{
		host:     host,
		gen:      gen,
		params:   bleep.Params{},
		mods:     map[string]modules.Module{},
		duration: duration,
	}
	for k, d := range gen.Defaults {
		v.params[k] = d
	}
	for k, o := range opts {
		v.params[k] = o
	}
	v.params["pitch"] = pitchHz
	v.params["level"] = level
	v.params["duration"] = duration
	if err := v.createModules(); err != nil {
		return nil, err
	}
	if err := v.createPatches(); err != nil {
		return nil, err
	}
	if err := v.applyTweaks(func(bleep.Tweak) bool { return true }); err != nil {
		return nil, err
	}
	if host.Monitor != nil {
		host.Monitor.Retain("note")
	}
	return v, nil
}

// SetRand sets the source of random(); the default is the global source.
func (v *Voice) SetRand(r *rand.Rand) {
	v.mu.Lock()
	v.rnd = r
	v.mu.Unlock()
}

func (v *Voice) createModules() error {
	for _, m := range v.gen.Modules() {
		mod, err := modules.New(m.Type, v.host)
		if err != nil {
			return fmt.Errorf("module %s: %w", m.ID, err)
		}
		v.mods[m.ID] = mod
		v.order = append(v.order, m.ID)
	}
	out, err := modules.New(bleep.Audio, v.host)
	if err != nil {
		return err
	}
	v.mods[bleep.AudioID] = out
	v.order = append(v.order, bleep.AudioID)
	return nil
}

func (v *Voice) createPatches() error {
	for _, p := range v.gen.Patches() {
		from, to := v.mods[p.From.ID], v.mods[p.To.ID]
		if from == nil || to == nil {
			return fmt.Errorf("patch %v: module not found", p)
		}
		if err := modules.Connect(from, p.From.Param, to, p.To.Param); err != nil {
			return fmt.Errorf("patch %v: %w", p, err)
		}
	}
	return nil
}

func (v *Voice) applyTweaks(which func(bleep.Tweak) bool) error {
	for _, t := range v.gen.Tweaks() {
		if !which(t) {
			continue
		}
		m := v.mods[t.ID]
		if m == nil {
			return fmt.Errorf("tweak %s.%s: module not found", t.ID, t.Param)
		}
		val, err := t.Expression.Evaluate(v.params, v.rnd)
		if err != nil {
			return fmt.Errorf("tweak %s.%s: %w", t.ID, t.Param, err)
		}
		if err := m.Set(t.Param, val); err != nil {
			return fmt.Errorf("tweak %s.%s: %w", t.ID, t.Param, err)
		}
	}
	return nil
}

// ApplyTweakNow changes a control while the note plays and re-evaluates the
// tweaks that read it. Controls that are not mutable are left alone.
func (v *Voice) ApplyTweakNow(param string, value float64) error {
	if mutable, ok := v.gen.Mutable[param]; ok && !mutable {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params[param] = value
	return v.applyTweaks(func(t bleep.Tweak) bool { return t.Expression.References(param) })
}

// Param returns the current value of a control of the note.
func (v *Voice) Param(name string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.params[name]
	return p, ok
}

// Module returns the module with the given id, or nil.
func (v *Voice) Module(id string) modules.Module {
	return v.mods[id]
}

// Release is the longest release of the envelopes of the voice.
func (v *Voice) Release() float64 {
	var ret float64
	for _, id := range v.order {
		if e, ok := v.mods[id].(modules.Envelope); ok {
			ret = math.Max(ret, e.Release())
		}
	}
	return ret
}

// Play applies the envelopes, starts every module and stops them all when
// the note and the longest release are over. It returns the stop time.
func (v *Voice) Play(when float64) (float64, error) {
	for _, e := range v.gen.Envelopes() {
		env, ok := v.mods[e.From.ID].(modules.Envelope)
		if !ok {
			return 0, fmt.Errorf("envelope %v: %s is not an envelope", e, e.From.ID)
		}
		target, ok := v.mods[e.To.ID]
		if !ok {
			return 0, fmt.Errorf("envelope %v: module not found", e)
		}
		_, param, err := target.Input(e.To.Param)
		if err != nil {
			return 0, fmt.Errorf("envelope %v: %w", e, err)
		}
		if param == nil {
			return 0, fmt.Errorf("envelope %v: %s is not a parameter", e, e.To)
		}
		env.Apply(param, when, v.duration)
	}
	for _, id := range v.order {
		v.mods[id].Start(when)
	}
	stop := when + v.duration + v.Release()
	if bend, ok := v.Param("bend"); ok {
		hz := bleep.MIDINoteToHz(bend)
		for _, id := range v.order {
			if b, ok := v.mods[id].(modules.Bender); ok && v.mods[id].Type().CanBend() {
				b.BendTo(hz, when, stop)
			}
		}
	}
	v.stop(stop)
	return stop, nil
}

// StopImmediately stops every module at the current audio time.
func (v *Voice) StopImmediately() {
	v.stop(v.host.Ctx.CurrentTime())
}

// StopAfterRelease starts the release of every envelope at when and stops
// the voice once the longest release is over.
func (v *Voice) StopAfterRelease(when float64) {
	for _, id := range v.order {
		if e, ok := v.mods[id].(modules.Envelope); ok {
			e.ReleaseAt(when)
		}
	}
	v.stop(when + v.Release())
}

func (v *Voice) stop(when float64) {
	for _, id := range v.order {
		v.mods[id].Stop(when)
	}
	if v.host.Monitor == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.done || (v.timer != nil && when >= v.stopAt) {
		return
	}
	if v.timer != nil {
		v.timer.Stop()
	}
	v.stopAt = when
	wait := math.Max(when-v.host.Ctx.CurrentTime(), 0)
	v.timer = v.host.Clock.AfterFunc(clock.Duration(wait)+modules.TeardownDelay, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if !v.done {
			v.done = true
			v.host.Monitor.Release("note")
		}
	})
}

// Out is the output node of the voice.
func (v *Voice) Out() engine.Node {
	out, _ := v.mods[bleep.AudioID].Output("out")
	return out
}
