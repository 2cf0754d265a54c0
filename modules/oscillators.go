package modules

import (
	"math"
	"math/rand/v2"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/engine"
)

type oscillator struct {
	*base
	osc engine.Node
}

func newOscillator(t bleep.ModuleType, host Host, shape string) *oscillator {
	o := &oscillator{base: newBase(t, host, "osc"), osc: host.Ctx.NewOscillator()}
	o.osc.SetType(shape)
	freq := o.osc.Param("frequency")
	freq.SetValue(MiddleC)
	o.param("pitch", freq)
	o.param("detune", o.osc.Param("detune"))
	o.inputs["pitchCV"] = freq
	o.out = o.osc
	o.nodes = []engine.Node{o.osc}
	o.sources = []engine.Node{o.osc}
	return o
}

func (o *oscillator) BendTo(hz, from, to float64) {
	bend(o.osc.Param("frequency"), hz, from, to)
}

func bend(p engine.Param, hz, from, to float64) {
	p.SetValueAtTime(p.Value(), from)
	p.ExponentialRampToValueAtTime(hz, to)
}

// pulseOsc makes a pulse wave as the difference of two saws, the second one
// delayed by a fraction of the period given by the pulse width. Frequency and
// detune reach both saws through constant sources.
type pulseOsc struct {
	*base
	freqNode, detuneNode engine.Node
	pwm, delay           engine.Node
	freqHz, pulsewidth   float64
}

func newPulseOsc(host Host) *pulseOsc {
	ctx := host.Ctx
	p := &pulseOsc{base: newBase(bleep.PulseOsc, host, "osc"), freqHz: MiddleC, pulsewidth: 0.5}
	osc1, osc2 := ctx.NewOscillator(), ctx.NewOscillator()
	for _, o := range []engine.Node{osc1, osc2} {
		o.SetType("sawtooth")
		o.Param("frequency").SetValue(0)
	}
	inverter := ctx.NewGain()
	inverter.Param("gain").SetValue(-1)
	p.freqNode, p.detuneNode = ctx.NewConstantSource(), ctx.NewConstantSource()
	p.freqNode.Param("offset").SetValue(p.freqHz)
	p.detuneNode.Param("offset").SetValue(0)
	p.freqNode.ConnectParam(osc1.Param("frequency"))
	p.freqNode.ConnectParam(osc2.Param("frequency"))
	p.detuneNode.ConnectParam(osc1.Param("detune"))
	p.detuneNode.ConnectParam(osc2.Param("detune"))
	out := ctx.NewGain()
	out.Param("gain").SetValue(0.5)
	p.delay = ctx.NewDelay(1)
	p.delay.Param("delayTime").SetValue(p.pulsewidth / p.freqHz)
	p.pwm = ctx.NewGain()
	p.pwm.Param("gain").SetValue(1 / p.freqHz)
	p.pwm.ConnectParam(p.delay.Param("delayTime"))
	osc1.Connect(p.delay)
	p.delay.Connect(inverter)
	inverter.Connect(out)
	osc2.Connect(out)

	p.setters["pitch"] = p.setPitch
	p.getters["pitch"] = func() float64 { return p.freqHz }
	p.setters["pulsewidth"] = func(w float64) {
		p.pulsewidth = w
		p.delay.Param("delayTime").SetValue(w / p.freqHz)
	}
	p.getters["pulsewidth"] = func() float64 { return p.pulsewidth }
	p.param("detune", p.detuneNode.Param("offset"))
	p.inputs["pitchCV"] = p.freqNode.Param("offset")
	p.inputs["pulsewidthCV"] = p.pwm
	p.out = out
	p.nodes = []engine.Node{osc1, osc2, p.freqNode, p.detuneNode, out, p.delay, inverter, p.pwm}
	p.sources = []engine.Node{p.freqNode, p.detuneNode, osc1, osc2}
	return p
}

// setPitch also rescales the delay, which is pulsewidth/f, and the PWM
// input, which is scaled to one period.
func (p *pulseOsc) setPitch(f float64) {
	p.freqHz = f
	p.pwm.Param("gain").SetValue(1 / f)
	p.delay.Param("delayTime").SetValue(p.pulsewidth / f)
	p.freqNode.Param("offset").SetValue(f)
}

func (p *pulseOsc) BendTo(hz, from, to float64) {
	bend(p.freqNode.Param("offset"), hz, from, to)
}

// randSteps is the number of random levels in one period of RAND-OSC.
const randSteps = 16

// randOsc loops one period of random steps. The pitch sets the playback
// rate relative to middle C.
type randOsc struct {
	*base
	src    engine.Node
	freqHz float64
}

func newRandOsc(host Host) *randOsc {
	ctx := host.Ctx
	r := &randOsc{base: newBase(bleep.RandOsc, host, "osc"), src: ctx.NewBufferSource(), freqHz: MiddleC}
	length := int(math.Round(ctx.SampleRate() / MiddleC))
	length = max(length, randSteps)
	buf := ctx.NewBuffer(1, length, ctx.SampleRate())
	data := buf.ChannelData(0)
	step := length / randSteps
	var level float32
	for i := range data {
		if i%step == 0 {
			level = rand.Float32()*2 - 1
		}
		data[i] = level
	}
	r.src.SetBuffer(buf)
	r.src.SetLoop(true)
	rate := r.src.Param("playbackRate")
	rate.SetValue(1)
	cv := ctx.NewGain()
	cv.Param("gain").SetValue(1 / MiddleC)
	cv.ConnectParam(rate)
	r.setters["pitch"] = func(f float64) {
		r.freqHz = f
		rate.SetValue(f / MiddleC)
	}
	r.getters["pitch"] = func() float64 { return r.freqHz }
	r.param("detune", r.src.Param("detune"))
	r.inputs["pitchCV"] = cv
	r.out = r.src
	r.nodes = []engine.Node{r.src, cv}
	r.sources = []engine.Node{r.src}
	return r
}

func (r *randOsc) BendTo(hz, from, to float64) {
	bend(r.src.Param("playbackRate"), hz/MiddleC, from, to)
}

// lfo mixes two sine oscillators, weighted by the cosine and the sine of the
// phase.
type lfo struct {
	*base
	freqHz, phase float64
}

func newLFO(host Host) *lfo {
	ctx := host.Ctx
	l := &lfo{base: newBase(bleep.LFO, host, "lfo"), freqHz: 5}
	sinOsc, cosOsc := ctx.NewOscillator(), ctx.NewOscillator()
	sinGain, cosGain, mixer := ctx.NewGain(), ctx.NewGain(), ctx.NewGain()
	for _, o := range []engine.Node{sinOsc, cosOsc} {
		o.SetType("sine")
		o.Param("frequency").SetValue(l.freqHz)
	}
	sinOsc.Connect(sinGain)
	cosOsc.Connect(cosGain)
	sinGain.Connect(mixer)
	cosGain.Connect(mixer)
	l.setters["pitch"] = func(f float64) {
		l.freqHz = f
		sinOsc.Param("frequency").SetValue(f)
		cosOsc.Param("frequency").SetValue(f)
	}
	l.getters["pitch"] = func() float64 { return l.freqHz }
	l.setters["phase"] = func(p float64) {
		l.phase = p
		sinGain.Param("gain").SetValue(math.Cos(p))
		cosGain.Param("gain").SetValue(math.Sin(p))
	}
	l.getters["phase"] = func() float64 { return l.phase }
	l.out = mixer
	l.nodes = []engine.Node{sinOsc, cosOsc, sinGain, cosGain, mixer}
	l.sources = []engine.Node{sinOsc, cosOsc}
	return l
}

// noiseSeconds is the length of the looped noise buffer.
const noiseSeconds = 2

func newNoise(host Host) *base {
	ctx := host.Ctx
	b := newBase(bleep.Noise, host, "noise")
	size := int(noiseSeconds * ctx.SampleRate())
	buf := ctx.NewBuffer(1, size, ctx.SampleRate())
	data := buf.ChannelData(0)
	for i := range data {
		data[i] = rand.Float32()*2 - 1
	}
	src := ctx.NewBufferSource()
	src.SetBuffer(buf)
	src.SetLoop(true)
	b.out = src
	b.nodes = []engine.Node{src}
	b.sources = []engine.Node{src}
	return b
}
