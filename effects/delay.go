package effects

import (
	"math"
	"sync"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

const (
	// lowestAmplitude is the level at which a delay tail counts as faded out.
	lowestAmplitude = 0.05
	maxDelayTime    = 5
	maxFeedback     = 0.99

	defaultDelay       = 0.25
	defaultLeftDelay   = 0.25
	defaultRightDelay  = 0.5
	defaultFeedback    = 0.4
	defaultDelaySpread = 0.95
)

// feedback tracks the largest feedback a delay has been set to, which
// bounds how long its tail lasts.
type feedback struct {
	mu    sync.Mutex
	most  float64
	gains []engine.Node
}

func (f *feedback) set(v, when float64) {
	v = bleep.Clamp(v, 0, maxFeedback)
	f.mu.Lock()
	f.most = math.Max(f.most, v)
	f.mu.Unlock()
	for _, g := range f.gains {
		g.Param("gain").SetValueAtTime(v, when)
	}
}

// fadeOut is how long a tail of the given delay time takes to decay below
// lowestAmplitude.
func (f *feedback) fadeOut(delay float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.most <= 0 {
		return delay
	}
	return delay * math.Log(lowestAmplitude) / math.Log(f.most)
}

// MonoDelay is a single delay line with feedback, panned.
type MonoDelay struct {
	*holder
	delay engine.Node
	fb    *feedback
}

func NewMonoDelay(host modules.Host) *MonoDelay {
	ctx := host.Ctx
	d := &MonoDelay{holder: newHolder(host, "mono_delay", 1, 1)}
	d.delay = ctx.NewDelay(maxDelayTime)
	d.delay.Param("delayTime").SetValue(defaultDelay)
	pan := ctx.NewStereoPanner()
	gain := ctx.NewGain()
	gain.Param("gain").SetValue(defaultFeedback)
	d.fb = &feedback{most: defaultFeedback, gains: []engine.Node{gain}}
	d.wet.Connect(d.delay)
	d.delay.Connect(gain)
	d.delay.Connect(pan)
	pan.Connect(d.out)
	gain.Connect(d.delay)
	d.add(d.delay, pan, gain)
	d.setter("delay", d.delay.Param("delayTime"), 0, maxDelayTime)
	d.setter("pan", pan.Param("pan"), -1, 1)
	d.params["feedback"] = d.fb.set
	return d
}

func (d *MonoDelay) TimeToFadeOut() float64 {
	return d.fb.fadeOut(d.delay.Param("delayTime").Value())
}

// StereoDelay has two delay lines with feedback, spread left and right.
type StereoDelay struct {
	*holder
	left, right engine.Node
	fb          *feedback
}

func NewStereoDelay(host modules.Host) *StereoDelay {
	ctx := host.Ctx
	d := &StereoDelay{holder: newHolder(host, "stereo_delay", 1, 1)}
	d.left, d.right = ctx.NewDelay(maxDelayTime), ctx.NewDelay(maxDelayTime)
	d.left.Param("delayTime").SetValue(defaultLeftDelay)
	d.right.Param("delayTime").SetValue(defaultRightDelay)
	leftPan, rightPan := ctx.NewStereoPanner(), ctx.NewStereoPanner()
	leftPan.Param("pan").SetValue(-defaultDelaySpread)
	rightPan.Param("pan").SetValue(defaultDelaySpread)
	leftGain, rightGain := ctx.NewGain(), ctx.NewGain()
	leftGain.Param("gain").SetValue(defaultFeedback)
	rightGain.Param("gain").SetValue(defaultFeedback)
	d.fb = &feedback{most: defaultFeedback, gains: []engine.Node{leftGain, rightGain}}
	for _, line := range []struct{ delay, gain, pan engine.Node }{{d.left, leftGain, leftPan}, {d.right, rightGain, rightPan}} {
		d.wet.Connect(line.delay)
		line.delay.Connect(line.gain)
		line.delay.Connect(line.pan)
		line.pan.Connect(d.out)
		line.gain.Connect(line.delay)
	}
	d.add(d.left, d.right, leftPan, rightPan, leftGain, rightGain)
	d.setter("leftDelay", d.left.Param("delayTime"), 0, maxDelayTime)
	d.setter("rightDelay", d.right.Param("delayTime"), 0, maxDelayTime)
	d.params["spread"] = func(s, when float64) {
		s = bleep.Clamp(s, -1, 1)
		leftPan.Param("pan").SetValueAtTime(-s, when)
		rightPan.Param("pan").SetValueAtTime(s, when)
	}
	d.params["feedback"] = d.fb.set
	return d
}

func (d *StereoDelay) TimeToFadeOut() float64 {
	longest := math.Max(d.left.Param("delayTime").Value(), d.right.Param("delayTime").Value())
	return d.fb.fadeOut(longest)
}
