package player

import (
	"math"
	"sync"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// Range is the allowed span and the default of a sample option.
type Range struct {
	Min, Max, Default float64
}

// SampleRanges are the options a sample can be played with. dur is in
// seconds; without it the whole sample plays.
var SampleRanges = map[string]Range{
	"amp":       {0, 1, 0.8},
	"cutoff":    {20, 20000, 20000},
	"detune":    {-2400, 2400, 0},
	"dur":       {0.02, 100, 1},
	"pan":       {-1, 1, 0},
	"rate":      {0.1, 10, 1},
	"resonance": {0, 25, 0},
}

// fadeTime is the ramp that silences a sample cut short by dur.
const fadeTime = 0.01

// Sample plays a decoded buffer once, through an optional filter and
// panner.
type Sample struct {
	host   modules.Host
	buf    engine.Buffer
	params map[string]float64
	cut    bool
	source engine.Node
	volume engine.Node
	nodes  []engine.Node
	mu     sync.Mutex
	timer  clock.Timer
	stopAt float64
	done   bool
}

// NewSample builds the graph for one playback of buf. Options are clamped
// to SampleRanges; a filter is only added when cutoff is below its maximum
// and a panner only when pan is not 0.
func NewSample(host modules.Host, buf engine.Buffer, opts map[string]float64) *Sample {
	if host.Clock == nil {
		host.Clock = clock.Real{}
	}
	s := &Sample{host: host, buf: buf, params: map[string]float64{}}
	for k, r := range SampleRanges {
		s.params[k] = r.Default
		if v, ok := opts[k]; ok {
			s.params[k] = bleep.Clamp(v, r.Min, r.Max)
		}
	}
	_, s.cut = opts["dur"]
	ctx := host.Ctx
	s.source = ctx.NewBufferSource()
	s.source.SetBuffer(buf)
	s.source.Param("playbackRate").SetValue(s.params["rate"])
	s.source.Param("detune").SetValue(s.params["detune"])
	s.volume = ctx.NewGain()
	s.volume.Param("gain").SetValue(s.params["amp"])
	s.nodes = append(s.nodes, s.source, s.volume)
	last := s.source
	if s.params["cutoff"] < SampleRanges["cutoff"].Max {
		f := ctx.NewBiquadFilter()
		f.SetType("lowpass")
		f.Param("frequency").SetValue(s.params["cutoff"])
		f.Param("Q").SetValue(s.params["resonance"])
		last.Connect(f)
		last = f
		s.nodes = append(s.nodes, f)
	}
	if s.params["pan"] != 0 {
		p := ctx.NewStereoPanner()
		p.Param("pan").SetValue(s.params["pan"])
		last.Connect(p)
		last = p
		s.nodes = append(s.nodes, p)
	}
	last.Connect(s.volume)
	if host.Monitor != nil {
		host.Monitor.Retain("sampler")
	}
	return s
}

// Params are the clamped options the sample plays with.
func (s *Sample) Params() map[string]float64 { return s.params }

func (s *Sample) Out() engine.Node { return s.volume }

// Length is how long the sample plays, in seconds.
func (s *Sample) Length() float64 {
	l := s.buf.Duration() / s.params["rate"]
	if s.cut {
		l = math.Min(l, s.params["dur"])
	}
	return l
}

// Play starts the sample at when and returns the time it ends. The nodes
// are disconnected once it has ended.
func (s *Sample) Play(when float64) float64 {
	end := when + s.Length()
	if s.cut && s.params["dur"] < s.buf.Duration()/s.params["rate"] {
		g := s.volume.Param("gain")
		g.SetValueAtTime(s.params["amp"], end-fadeTime)
		g.LinearRampToValueAtTime(0, end)
	}
	s.source.Start(when)
	s.Stop(end)
	return end
}

// Stop ends the sample at when. An earlier stop wins over a later one.
func (s *Sample) Stop(when float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || (s.timer != nil && when >= s.stopAt) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.source.Stop(when)
	s.stopAt = when
	wait := math.Max(when-s.host.Ctx.CurrentTime(), 0)
	s.timer = s.host.Clock.AfterFunc(clock.Duration(wait)+modules.TeardownDelay, s.release)
}

func (s *Sample) release() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.mu.Unlock()
	for _, n := range s.nodes {
		n.Disconnect()
	}
	if s.host.Monitor != nil {
		s.host.Monitor.Release("sampler")
	}
}
