package effects

import (
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// fadeTime is how long a graceful stop of a final mix takes, in seconds.
const fadeTime = 0.5

// FinalMix is the gain stage an output ends in, tapped by an analyser. Its
// input and output are the same node.
type FinalMix struct {
	*holder
	gain     engine.Node
	analyser engine.Node
}

func NewFinalMix(host modules.Host) *FinalMix {
	f := &FinalMix{holder: newBareHolder(host, "final_mix")}
	f.gain = host.Ctx.NewGain()
	f.analyser = host.Ctx.NewAnalyser()
	f.gain.Connect(f.analyser)
	f.in, f.out = f.gain, f.gain
	f.add(f.gain, f.analyser)
	f.setter("gain", f.gain.Param("gain"), 0, 10)
	return f
}

// Analyser is the node the output level and waveform can be read from.
func (f *FinalMix) Analyser() engine.Node { return f.analyser }

// GracefulStop ramps the gain to zero and stops the mix once the ramp is
// over. Parameters cannot be set any more.
func (f *FinalMix) GracefulStop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.params = map[string]func(v, when float64){}
	f.mu.Unlock()
	now := f.host.Ctx.CurrentTime()
	g := f.gain.Param("gain")
	g.SetValueAtTime(g.Value(), now)
	g.LinearRampToValueAtTime(0, now+fadeTime)
	f.host.Clock.AfterFunc(clock.Duration(fadeTime), f.Stop)
}
