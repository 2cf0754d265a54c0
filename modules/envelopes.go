package modules

import (
	"sync"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/engine"
)

// decayFloor is the level an exponential decay ends at; exponential ramps
// cannot reach zero.
const decayFloor = 0.0001

// adsr is an attack-decay-sustain-release envelope. The sustain is an
// absolute level, not a fraction of the peak level.
type adsr struct {
	*base
	attack, decay, sustain, release, level float64

	mu      sync.Mutex
	targets []engine.Param
}

func newADSR(host Host) *adsr {
	e := &adsr{base: newBase(bleep.ADSR, host, ""), attack: 0.1, decay: 0.5, sustain: 0.5, release: 0.1, level: 1}
	for name, p := range map[string]*float64{"attack": &e.attack, "decay": &e.decay, "sustain": &e.sustain, "release": &e.release} {
		e.setters[name] = func(v float64) { *p = v }
		e.getters[name] = func() float64 { return *p }
	}
	e.setters["level"] = e.setLevel
	e.getters["level"] = func() float64 { return e.level }
	return e
}

// setLevel also jumps the level of targets that are already playing.
func (e *adsr) setLevel(v float64) {
	e.level = v
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.targets {
		t.SetValueAtTime(v, e.host.Ctx.CurrentTime())
	}
}

// Apply schedules the envelope for a note of length d. A note shorter than
// the attack ramps to the fraction of the level the attack reaches by then;
// a note that ends during the decay ramps to the level the decay reaches by
// then; a longer note holds the sustain level. The release ramp to zero
// starts at the end of the note in every case.
func (e *adsr) Apply(target engine.Param, when, d float64) {
	e.mu.Lock()
	e.targets = append(e.targets, target)
	e.mu.Unlock()
	a, dc, s, r, l := e.attack, e.decay, e.sustain, e.release, e.level
	target.SetValueAtTime(0, when)
	switch {
	case d < a:
		target.LinearRampToValueAtTime(l*d/a, when+d)
	case d < a+dc:
		target.LinearRampToValueAtTime(l, when+a)
		target.LinearRampToValueAtTime(l+(s-l)*(d-a)/dc, when+d)
	default:
		target.LinearRampToValueAtTime(l, when+a)
		target.LinearRampToValueAtTime(s, when+a+dc)
		target.LinearRampToValueAtTime(s, when+d)
	}
	target.LinearRampToValueAtTime(0, when+d+r)
}

func (e *adsr) Release() float64 { return e.release }

func (e *adsr) ReleaseAt(when float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.targets {
		v := t.Value()
		t.CancelScheduledValues(when)
		t.SetValueAtTime(v, when)
		t.LinearRampToValueAtTime(0, when+e.release)
	}
}

// decayEnv has a linear attack and an exponential decay, and no release.
type decayEnv struct {
	*base
	attack, decay, level float64
}

func newDecay(host Host) *decayEnv {
	e := &decayEnv{base: newBase(bleep.Decay, host, ""), attack: 0.1, decay: 0.5, level: 1}
	for name, p := range map[string]*float64{"attack": &e.attack, "decay": &e.decay, "level": &e.level} {
		e.setters[name] = func(v float64) { *p = v }
		e.getters[name] = func() float64 { return *p }
	}
	return e
}

func (e *decayEnv) Apply(target engine.Param, when, d float64) {
	target.SetValueAtTime(0, when)
	target.LinearRampToValueAtTime(e.level, when+e.attack)
	target.ExponentialRampToValueAtTime(decayFloor, when+e.attack+e.decay)
}

func (e *decayEnv) Release() float64 { return 0 }

func (e *decayEnv) ReleaseAt(float64) {}
