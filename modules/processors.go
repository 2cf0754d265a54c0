package modules

import (
	"math"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/engine"
	"github.com/viterin/vek/vek32"
)

// ShaperCurveSamples is the resolution of the SHAPER transfer curve.
const ShaperCurveSamples = 44100

func newFilter(t bleep.ModuleType, host Host, filterType, monitored string) *base {
	b := newBase(t, host, monitored)
	f := host.Ctx.NewBiquadFilter()
	f.SetType(filterType)
	f.Param("frequency").SetValue(1000)
	f.Param("Q").SetValue(1)
	b.param("cutoff", f.Param("frequency"))
	b.param("resonance", f.Param("Q"))
	b.inputs["in"] = f
	b.inputs["cutoffCV"] = f.Param("frequency")
	b.out = f
	b.nodes = []engine.Node{f}
	return b
}

func newAmplifier(t bleep.ModuleType, host Host, monitored string) *base {
	b := newBase(t, host, monitored)
	g := host.Ctx.NewGain()
	g.Param("gain").SetValue(1)
	b.param("level", g.Param("gain"))
	b.inputs["in"] = g
	b.inputs["levelCV"] = g.Param("gain")
	b.out = g
	b.nodes = []engine.Node{g}
	return b
}

func newPanner(host Host) *base {
	b := newBase(bleep.Pan, host, "panner")
	p := host.Ctx.NewStereoPanner()
	b.param("angle", p.Param("pan"))
	b.inputs["in"] = p
	b.inputs["angleCV"] = p.Param("pan")
	b.out = p
	b.nodes = []engine.Node{p}
	return b
}

// maxLag is the longest delay a DELAY module can be set to, in seconds.
const maxLag = 10

func newDelay(host Host) *base {
	b := newBase(bleep.Delay, host, "delay")
	d := host.Ctx.NewDelay(maxLag)
	b.param("lag", d.Param("delayTime"))
	b.inputs["in"] = d
	b.inputs["lagCV"] = d.Param("delayTime")
	b.out = d
	b.nodes = []engine.Node{d}
	return b
}

func newShaper(host Host) *base {
	b := newBase(bleep.Shaper, host, "shaper")
	s := host.Ctx.NewWaveShaper()
	fuzz := 100.0
	s.SetCurve(ShaperCurve(fuzz, ShaperCurveSamples))
	b.setters["fuzz"] = func(v float64) {
		fuzz = v
		s.SetCurve(ShaperCurve(v, ShaperCurveSamples))
	}
	b.getters["fuzz"] = func() float64 { return fuzz }
	b.inputs["in"] = s
	b.out = s
	b.nodes = []engine.Node{s}
	return b
}

// ShaperCurve returns a sigmoid transfer curve over [-1, 1]. It is linear
// for amount 0 and always passes through (-1,-1), (0,0) and (1,1):
//
//	f(x) = (π+amount)·x / (π+amount·|x|)
func ShaperCurve(amount float64, samples int) []float32 {
	x := make([]float32, samples)
	for i := range x {
		x[i] = float32(2*i)/float32(samples) - 1
	}
	num := vek32.MulNumber(x, float32(math.Pi+amount))
	den := vek32.Abs(x)
	vek32.MulNumber_Inplace(den, float32(amount))
	vek32.AddNumber_Inplace(den, math.Pi)
	vek32.Div_Inplace(num, den)
	return num
}
