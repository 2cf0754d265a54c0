package effects_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/effects"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

func newHost() (modules.Host, *engine.Recorder, *clock.Fake) {
	rec := engine.NewRecorder(44100)
	fake := clock.NewFake(time.Unix(1000, 0))
	return modules.Host{Ctx: rec, Clock: fake, Monitor: modules.NewMonitor()}, rec, fake
}

type loader map[string]engine.Buffer

func (l loader) Get(_ context.Context, name string) (engine.Buffer, error) {
	if b, ok := l[name]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

func nodesOfKind(rec *engine.Recorder, kind string) []*engine.RecordedNode {
	var ret []*engine.RecordedNode
	for _, n := range rec.Nodes() {
		if n.Kind == kind {
			ret = append(ret, n)
		}
	}
	return ret
}

func TestNew(t *testing.T) {
	host, _, _ := newHost()
	for _, name := range effects.Names() {
		fx, err := effects.New(name, host, effects.Options{})
		if err != nil {
			t.Errorf("New(%q) failed: %v", name, err)
			continue
		}
		if fx.Name() != name {
			t.Errorf("Name() = %q, want %q", fx.Name(), name)
		}
		if fx.In() == nil || fx.Out() == nil {
			t.Errorf("%s: missing input or output", name)
		}
	}
	for _, name := range []string{"reverb_large", "mono_delay", "stereo_delay", "auto_pan", "compressor", "distortion", "overdrive", "final_mix"} {
		if !slices.Contains(effects.Names(), name) {
			t.Errorf("Names() does not include %q", name)
		}
	}
	if _, err := effects.New("flanger", host, effects.Options{}); !errors.Is(err, effects.ErrUnknownEffect) {
		t.Errorf("expected ErrUnknownEffect, got %v", err)
	}
}

func TestMonoDelayFadeOut(t *testing.T) {
	host, _, _ := newHost()
	d := effects.NewMonoDelay(host)
	want := 0.25 * math.Log(0.05) / math.Log(0.4)
	if got := d.TimeToFadeOut(); math.Abs(got-want) > 1e-9 {
		t.Errorf("TimeToFadeOut() = %v, want %v", got, want)
	}
	d.SetParams(map[string]float64{"delay": 0.5, "feedback": 0.8}, 0)
	d.SetParams(map[string]float64{"feedback": 0.2}, 0)
	want = 0.5 * math.Log(0.05) / math.Log(0.8)
	if got := d.TimeToFadeOut(); math.Abs(got-want) > 1e-9 {
		t.Errorf("TimeToFadeOut() after feedback changes = %v, want %v", got, want)
	}
}

func TestStereoDelay(t *testing.T) {
	host, rec, _ := newHost()
	d := effects.NewStereoDelay(host)
	want := 0.5 * math.Log(0.05) / math.Log(0.4)
	if got := d.TimeToFadeOut(); math.Abs(got-want) > 1e-9 {
		t.Errorf("TimeToFadeOut() = %v, want %v", got, want)
	}
	d.SetParams(map[string]float64{"spread": 2}, 1)
	pans := nodesOfKind(rec, "panner")
	if len(pans) != 2 {
		t.Fatalf("expected 2 panners, got %d", len(pans))
	}
	if l, r := pans[0].RecordedParam("pan").ValueAt(1), pans[1].RecordedParam("pan").ValueAt(1); l != -1 || r != 1 {
		t.Errorf("spread 2 should clamp to -1/1, got %v/%v", l, r)
	}
}

func TestDistortion(t *testing.T) {
	host, rec, _ := newHost()
	d := effects.NewDistortion(host)
	shapers := nodesOfKind(rec, "waveshaper")
	if len(shapers) != 1 || len(shapers[0].Curve()) != 2048 {
		t.Fatalf("expected one shaper with a 2048 sample curve")
	}
	filters := nodesOfKind(rec, "biquad")
	if len(filters) != 1 || filters[0].Type() != "bandpass" {
		t.Fatalf("expected one band-pass filter")
	}
	if q := filters[0].RecordedParam("Q").ValueAt(0); math.Abs(q-0.02) > 1e-12 {
		t.Errorf("Q for the default bandwidth = %v, want 0.02", q)
	}
	d.SetParams(map[string]float64{"bandwidth": 1000}, 2)
	if q := filters[0].RecordedParam("Q").ValueAt(2); math.Abs(q-0.01) > 1e-12 {
		t.Errorf("Q for a clamped bandwidth = %v, want 0.01", q)
	}
}

func TestReverbLoad(t *testing.T) {
	host, rec, _ := newHost()
	impulse := engine.NewPCM(2, 88200, 44100)
	r := effects.NewReverb(host, "reverb_small", "hall-small.flac", loader{"hall-small.flac": impulse})
	if r.Valid() || r.TimeToFadeOut() != 0 {
		t.Fatal("the reverb should not be valid before loading")
	}
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !r.Valid() || r.TimeToFadeOut() != 2 {
		t.Errorf("TimeToFadeOut() = %v, want 2", r.TimeToFadeOut())
	}
	conv := nodesOfKind(rec, "convolver")
	if len(conv) != 1 || conv[0].Buffer() != engine.Buffer(impulse) {
		t.Error("the impulse response should be set on the convolver")
	}
}

func TestReverbLoadFailure(t *testing.T) {
	host, rec, _ := newHost()
	r := effects.NewReverb(host, "plate_small", "plate-small.flac", loader{})
	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected a load error")
	}
	if n := host.Monitor.Count("plate_small"); n != 0 {
		t.Errorf("a reverb that failed to load should release itself, count %d", n)
	}
	if live := rec.Live(); len(live) != 0 {
		t.Errorf("%d nodes still connected", len(live))
	}
}

func TestFinalMixGracefulStop(t *testing.T) {
	host, rec, fake := newHost()
	f := effects.NewFinalMix(host)
	if f.In() != f.Out() {
		t.Error("the final mix should use one node as input and output")
	}
	f.SetParams(map[string]float64{"gain": 0.5}, 0)
	rec.SetTime(1)
	f.GracefulStop()
	gain := f.Out().(*engine.RecordedNode).RecordedParam("gain")
	if g := gain.ValueAt(1.25); math.Abs(g-0.25) > 1e-9 {
		t.Errorf("gain half way through the fade = %v, want 0.25", g)
	}
	events := len(gain.Events())
	f.SetParams(map[string]float64{"gain": 1}, 1.1)
	if len(gain.Events()) != events {
		t.Error("parameters should not change during a graceful stop")
	}
	fake.Advance(400 * time.Millisecond)
	if f.Out().(*engine.RecordedNode).Disconnected() {
		t.Fatal("stopped before the fade was over")
	}
	fake.Advance(100 * time.Millisecond)
	if !f.Out().(*engine.RecordedNode).Disconnected() {
		t.Fatal("the final mix should stop after the fade")
	}
	if n := host.Monitor.Count("final_mix"); n != 0 {
		t.Errorf("final_mix count = %d, want 0", n)
	}
}

func TestStopReleasesEverything(t *testing.T) {
	host, rec, _ := newHost()
	a := effects.NewAutoPan(host)
	lfo := nodesOfKind(rec, "oscillator")[0]
	if ok, _ := lfo.Started(); !ok {
		t.Fatal("the auto pan LFO should be running")
	}
	a.Stop()
	a.Stop()
	if ok, _ := lfo.Stopped(); !ok {
		t.Error("the LFO should be stopped")
	}
	if live := rec.Live(); len(live) != 0 {
		t.Errorf("%d nodes still connected", len(live))
	}
	if n := host.Monitor.Count("auto_pan"); n != 0 {
		t.Errorf("auto_pan count = %d, want 0", n)
	}
}

func TestWetDry(t *testing.T) {
	host, rec, _ := newHost()
	c := effects.NewCompressor(host)
	c.SetParams(map[string]float64{"wetLevel": 0.3, "dryLevel": 5, "bogus": 1}, 0)
	in := c.In().(*engine.RecordedNode)
	var levels []float64
	for _, e := range rec.Edges() {
		if e.From == in {
			levels = append(levels, e.To.RecordedParam("gain").ValueAt(0))
		}
	}
	slices.Sort(levels)
	if !slices.Equal(levels, []float64{0.3, 1}) {
		t.Errorf("wet and dry levels = %v, want [0.3 1]", levels)
	}
}
