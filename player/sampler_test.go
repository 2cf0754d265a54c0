package player_test

import (
	"math"
	"testing"
	"time"

	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/player"
)

func kinds(rec *engine.Recorder) map[string]int {
	ret := map[string]int{}
	for _, n := range rec.Nodes() {
		ret[n.Kind]++
	}
	return ret
}

func TestSampleDefaults(t *testing.T) {
	host, rec, fake := newHost()
	buf := engine.NewPCM(2, 44100, 44100)
	s := player.NewSample(host, buf, nil)
	if k := kinds(rec); k["biquad"] != 0 || k["panner"] != 0 || k["buffersource"] != 1 {
		t.Errorf("default sample graph %v", k)
	}
	for name, r := range player.SampleRanges {
		if s.Params()[name] != r.Default {
			t.Errorf("%s = %v, want the default %v", name, s.Params()[name], r.Default)
		}
	}
	rec.SetTime(2)
	if end := s.Play(2); end != 3 {
		t.Errorf("Play returned %v, want 3", end)
	}
	if host.Monitor.Count("sampler") != 1 {
		t.Fatal("a playing sample should be counted")
	}
	fake.Advance(time.Second)
	if host.Monitor.Count("sampler") != 1 {
		t.Fatal("released before the teardown delay")
	}
	fake.Advance(100 * time.Millisecond)
	if host.Monitor.Count("sampler") != 0 || len(rec.Live()) != 0 {
		t.Error("the sample should release its nodes after it ends")
	}
}

func TestSampleOptions(t *testing.T) {
	host, rec, _ := newHost()
	buf := engine.NewPCM(1, 88200, 44100)
	s := player.NewSample(host, buf, map[string]float64{"rate": 20, "cutoff": 800, "pan": -0.5, "amp": 0.5, "dur": 0.05})
	if s.Params()["rate"] != 10 {
		t.Errorf("rate should clamp to 10, got %v", s.Params()["rate"])
	}
	k := kinds(rec)
	if k["biquad"] != 1 || k["panner"] != 1 {
		t.Fatalf("expected a filter and a panner, got %v", k)
	}
	// 2 s at rate 10 lasts 0.2 s; dur cuts it to 0.05 s
	if l := s.Length(); math.Abs(l-0.05) > 1e-12 {
		t.Errorf("Length() = %v, want 0.05", l)
	}
	s.Play(1)
	gain := s.Out().(*engine.RecordedNode).RecordedParam("gain")
	if g := gain.ValueAt(1.03); g != 0.5 {
		t.Errorf("gain before the fade = %v", g)
	}
	if g := gain.ValueAt(1.05); g != 0 {
		t.Errorf("gain at the end = %v", g)
	}
	var src *engine.RecordedNode
	for _, n := range rec.Nodes() {
		if n.Kind == "buffersource" {
			src = n
		}
	}
	if ok, at := src.Started(); !ok || at != 1 {
		t.Errorf("source started %v at %v", ok, at)
	}
	if ok, at := src.Stopped(); !ok || math.Abs(at-1.05) > 1e-12 {
		t.Errorf("source stopped %v at %v", ok, at)
	}
}

func TestSampleEarlierStop(t *testing.T) {
	host, rec, fake := newHost()
	s := player.NewSample(host, engine.NewPCM(1, 441000, 44100), nil)
	s.Play(0)
	s.Stop(1)
	fake.Advance(1100 * time.Millisecond)
	if len(rec.Live()) != 0 {
		t.Error("an earlier stop should release the sample early")
	}
}
