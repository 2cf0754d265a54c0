package effects

import (
	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// distortionCurveSamples is the resolution of the distortion transfer
// curves.
const distortionCurveSamples = 2048

// Distortion band-passes the signal and drives it through a hard sigmoid.
// The signal is fully wet.
type Distortion struct {
	*holder
	shaper engine.Node
}

func NewDistortion(host modules.Host) *Distortion {
	d := &Distortion{holder: newHolder(host, "distortion", 1, 0)}
	d.shaper = newDriveChain(d.holder, "bandpass", 1200, 100)
	setQ := d.params["q"]
	d.params["bandwidth"] = func(b, when float64) {
		setQ(1/bleep.Clamp(b, 0.1, 100), when)
	}
	d.params["bandwidth"](50, host.Ctx.CurrentTime())
	return d
}

// Overdrive low-passes the signal and drives it through a soft sigmoid; the
// drive parameter changes the shape of the curve.
type Overdrive struct {
	*holder
	shaper engine.Node
}

func NewOverdrive(host modules.Host) *Overdrive {
	o := &Overdrive{holder: newHolder(host, "overdrive", 1, 0)}
	o.shaper = newDriveChain(o.holder, "lowpass", 3000, 20)
	o.params["drive"] = func(amount, _ float64) {
		o.shaper.SetCurve(modules.ShaperCurve(bleep.Clamp(amount, 0, 1000), distortionCurveSamples))
	}
	return o
}

// newDriveChain connects wet -> pregain -> filter -> shaper -> postgain ->
// out and registers the preGain, postGain, frequency and q parameters. It
// returns the shaper.
func newDriveChain(h *holder, filterType string, frequency, amount float64) engine.Node {
	ctx := h.host.Ctx
	pre, post := ctx.NewGain(), ctx.NewGain()
	filter := ctx.NewBiquadFilter()
	filter.SetType(filterType)
	filter.Param("frequency").SetValue(frequency)
	shaper := ctx.NewWaveShaper()
	shaper.SetCurve(modules.ShaperCurve(amount, distortionCurveSamples))
	h.wet.Connect(pre)
	pre.Connect(filter)
	filter.Connect(shaper)
	shaper.Connect(post)
	post.Connect(h.out)
	h.add(pre, filter, shaper, post)
	h.setter("preGain", pre.Param("gain"), 0, 100)
	h.setter("postGain", post.Param("gain"), 0, 10)
	h.setter("frequency", filter.Param("frequency"), 20, 20000)
	h.setter("q", filter.Param("Q"), 0.0001, 1000)
	return shaper
}
