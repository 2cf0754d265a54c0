package modules_test

import (
	"math"
	"testing"
	"time"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

func newHost() (modules.Host, *engine.Recorder, *clock.Fake) {
	rec := engine.NewRecorder(44100)
	fake := clock.NewFake(time.Unix(1000, 0))
	return modules.Host{Ctx: rec, Clock: fake, Monitor: modules.NewMonitor()}, rec, fake
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestEveryModuleTypeHasItsPorts(t *testing.T) {
	host, _, _ := newHost()
	for _, typ := range append(bleep.ModuleTypes, bleep.Audio) {
		t.Run(typ.String(), func(t *testing.T) {
			m, err := modules.New(typ, host)
			if err != nil {
				t.Fatalf("New(%v) failed: %v", typ, err)
			}
			if m.Type() != typ {
				t.Errorf("Type() = %v, want %v", m.Type(), typ)
			}
			caps := bleep.Capabilities[typ]
			for _, p := range caps.Tweakable {
				if err := m.Set(p, 0.25); err != nil {
					t.Errorf("Set(%q) failed: %v", p, err)
					continue
				}
				if v, err := m.Get(p); err != nil || !almostEqual(v, 0.25) {
					t.Errorf("Get(%q) = %v, %v; want 0.25", p, v, err)
				}
			}
			for _, port := range caps.Inputs {
				node, param, err := m.Input(port)
				if err != nil {
					t.Errorf("Input(%q) failed: %v", port, err)
				}
				if (node == nil) == (param == nil) {
					t.Errorf("Input(%q) should return exactly one of node and param", port)
				}
			}
			if !typ.IsEnvelope() {
				for _, port := range caps.Outputs {
					if _, err := m.Output(port); err != nil {
						t.Errorf("Output(%q) failed: %v", port, err)
					}
				}
			}
			if _, _, err := m.Input("bogus"); err == nil {
				t.Error("Input(bogus) should fail")
			}
			if err := m.Set("bogus", 1); err == nil {
				t.Error("Set(bogus) should fail")
			}
		})
	}
}

func TestConnect(t *testing.T) {
	host, rec, _ := newHost()
	osc, _ := modules.New(bleep.SawOsc, host)
	lfo, _ := modules.New(bleep.LFO, host)
	vca, _ := modules.New(bleep.VCA, host)
	if err := modules.Connect(osc, "out", vca, "in"); err != nil {
		t.Fatalf("connecting osc to vca failed: %v", err)
	}
	if err := modules.Connect(lfo, "out", vca, "levelCV"); err != nil {
		t.Fatalf("connecting lfo to vca level failed: %v", err)
	}
	oscOut, _ := osc.Output("out")
	lfoOut, _ := lfo.Output("out")
	vcaOut, _ := vca.Output("out")
	if !rec.Connected(oscOut, vcaOut, "") {
		t.Error("expected an audio edge from the oscillator to the amplifier")
	}
	if !rec.Connected(lfoOut, vcaOut, "gain") {
		t.Error("expected an edge from the LFO to the gain of the amplifier")
	}
	if err := modules.Connect(vca, "out", osc, "in"); err == nil {
		t.Error("oscillators have no audio input, Connect should fail")
	}
}

func TestOscillatorDefaults(t *testing.T) {
	host, _, _ := newHost()
	for _, typ := range []bleep.ModuleType{bleep.SawOsc, bleep.SinOsc, bleep.SqrOsc, bleep.TriOsc, bleep.PulseOsc, bleep.RandOsc} {
		m, _ := modules.New(typ, host)
		if v, _ := m.Get("pitch"); v != modules.MiddleC {
			t.Errorf("%v pitch = %v, want %v", typ, v, modules.MiddleC)
		}
	}
}

func TestPulseOscPitch(t *testing.T) {
	host, _, _ := newHost()
	m, _ := modules.New(bleep.PulseOsc, host)
	if err := m.Set("pitch", 440); err != nil {
		t.Fatal(err)
	}
	_, cv, err := m.Input("pitchCV")
	if err != nil {
		t.Fatal(err)
	}
	if cv.Value() != 440 {
		t.Errorf("pitch CV offset = %v, want 440", cv.Value())
	}
}

func TestRandOscPlaybackRate(t *testing.T) {
	host, _, _ := newHost()
	m, _ := modules.New(bleep.RandOsc, host)
	m.Set("pitch", 2*modules.MiddleC)
	out, _ := m.Output("out")
	if v := out.Param("playbackRate").Value(); !almostEqual(v, 2) {
		t.Errorf("playback rate = %v, want 2", v)
	}
	buf := out.(*engine.RecordedNode).Buffer()
	if buf == nil || buf.Length() < 16 {
		t.Fatalf("expected a buffer of at least 16 samples, got %v", buf)
	}
	if !out.(*engine.RecordedNode).Loop() {
		t.Error("the random buffer should loop")
	}
}

func TestBend(t *testing.T) {
	host, _, _ := newHost()
	m, _ := modules.New(bleep.SinOsc, host)
	m.Set("pitch", 220)
	b, ok := m.(modules.Bender)
	if !ok {
		t.Fatal("oscillators should bend")
	}
	b.BendTo(440, 1, 2)
	out, _ := m.Output("out")
	p := out.(*engine.RecordedNode).RecordedParam("frequency")
	for _, c := range []struct{ t, want float64 }{{0.5, 220}, {1, 220}, {1.5, 220 * math.Sqrt2}, {2, 440}, {3, 440}} {
		if v := p.ValueAt(c.t); !almostEqual(v, c.want) {
			t.Errorf("frequency at %v = %v, want %v", c.t, v, c.want)
		}
	}
}

func TestADSRRegimes(t *testing.T) {
	type point struct{ t, want float64 }
	cases := []struct {
		name     string
		duration float64
		points   []point
	}{
		{"note ends during attack", 0.1, []point{{1, 0}, {1.05, 0.25}, {1.1, 0.5}, {1.15, 0.25}, {1.2, 0}}},
		{"note ends during decay", 0.35, []point{{1.1, 0.5}, {1.2, 1}, {1.35, 0.75}, {1.4, 0.375}, {1.45, 0}}},
		{"note reaches sustain", 1, []point{{1.2, 1}, {1.35, 0.75}, {1.5, 0.5}, {1.75, 0.5}, {2, 0.5}, {2.05, 0.25}, {2.1, 0}, {3, 0}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			host, rec, _ := newHost()
			m, _ := modules.New(bleep.ADSR, host)
			for p, v := range map[string]float64{"attack": 0.2, "decay": 0.3, "sustain": 0.5, "release": 0.1, "level": 1} {
				m.Set(p, v)
			}
			env := m.(modules.Envelope)
			target := rec.NewGain()
			env.Apply(target.Param("gain"), 1, c.duration)
			p := target.(*engine.RecordedNode).RecordedParam("gain")
			for _, pt := range c.points {
				if v := p.ValueAt(pt.t); !almostEqual(v, pt.want) {
					t.Errorf("value at %v = %v, want %v", pt.t, v, pt.want)
				}
			}
			if env.Release() != 0.1 {
				t.Errorf("Release() = %v, want 0.1", env.Release())
			}
		})
	}
}

func TestADSRReleaseAt(t *testing.T) {
	host, rec, _ := newHost()
	m, _ := modules.New(bleep.ADSR, host)
	for p, v := range map[string]float64{"attack": 0.2, "decay": 0.3, "sustain": 0.5, "release": 0.1} {
		m.Set(p, v)
	}
	env := m.(modules.Envelope)
	target := rec.NewGain()
	env.Apply(target.Param("gain"), 1, 1)
	rec.SetTime(1.5)
	env.ReleaseAt(1.5)
	p := target.(*engine.RecordedNode).RecordedParam("gain")
	for _, c := range []struct{ t, want float64 }{{1.5, 0.5}, {1.55, 0.25}, {1.6, 0}, {2, 0}} {
		if v := p.ValueAt(c.t); !almostEqual(v, c.want) {
			t.Errorf("value at %v = %v, want %v", c.t, v, c.want)
		}
	}
}

func TestDecayEnvelope(t *testing.T) {
	host, rec, _ := newHost()
	m, _ := modules.New(bleep.Decay, host)
	m.Set("attack", 0.1)
	m.Set("decay", 0.5)
	env := m.(modules.Envelope)
	target := rec.NewGain()
	env.Apply(target.Param("gain"), 0, 2)
	p := target.(*engine.RecordedNode).RecordedParam("gain")
	for _, c := range []struct{ t, want float64 }{{0, 0}, {0.05, 0.5}, {0.1, 1}, {0.35, 0.01}, {0.6, 0.0001}} {
		if v := p.ValueAt(c.t); !almostEqual(v, c.want) {
			t.Errorf("value at %v = %v, want %v", c.t, v, c.want)
		}
	}
	if env.Release() != 0 {
		t.Errorf("DECAY has no release, got %v", env.Release())
	}
}

func TestStopDefersTeardown(t *testing.T) {
	host, _, fake := newHost()
	m, _ := modules.New(bleep.VCA, host)
	if n := host.Monitor.Count("amp"); n != 1 {
		t.Fatalf("amp count = %d, want 1", n)
	}
	out, _ := m.Output("out")
	node := out.(*engine.RecordedNode)
	m.Stop(1)
	m.Stop(5)
	fake.Advance(time.Second)
	if node.Disconnected() {
		t.Fatal("the module was disconnected before its stop time")
	}
	fake.Advance(200 * time.Millisecond)
	if !node.Disconnected() {
		t.Fatal("the module should be disconnected 0.1 s after its stop time")
	}
	if n := host.Monitor.Count("amp"); n != 0 {
		t.Errorf("amp count after teardown = %d, want 0", n)
	}
	if fake.Pending() != 0 {
		t.Errorf("a second Stop should not schedule another teardown, %d pending", fake.Pending())
	}
}

func TestEarlierStopWins(t *testing.T) {
	host, _, fake := newHost()
	m, _ := modules.New(bleep.SinOsc, host)
	out, _ := m.Output("out")
	node := out.(*engine.RecordedNode)
	m.Stop(5)
	m.Stop(1)
	if _, when := node.Stopped(); when != 1 {
		t.Errorf("source stop time = %v, want 1", when)
	}
	fake.Advance(1200 * time.Millisecond)
	if !node.Disconnected() {
		t.Fatal("the earlier stop should have torn the module down")
	}
	if fake.Pending() != 0 {
		t.Errorf("the later teardown should have been cancelled, %d pending", fake.Pending())
	}
}

func TestStopStartsSources(t *testing.T) {
	host, _, _ := newHost()
	m, _ := modules.New(bleep.SawOsc, host)
	m.Start(2)
	m.Stop(3)
	out, _ := m.Output("out")
	node := out.(*engine.RecordedNode)
	if ok, when := node.Started(); !ok || when != 2 {
		t.Errorf("Started() = %v, %v; want true, 2", ok, when)
	}
	if ok, when := node.Stopped(); !ok || when != 3 {
		t.Errorf("Stopped() = %v, %v; want true, 3", ok, when)
	}
}

func TestMonitorInfo(t *testing.T) {
	host, _, _ := newHost()
	modules.New(bleep.LPF, host)
	modules.New(bleep.LPF, host)
	modules.New(bleep.Noise, host)
	if got, want := host.Monitor.Info(), "lowpass 2 : noise 1 : "; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}

func TestShaperCurve(t *testing.T) {
	curve := modules.ShaperCurve(100, modules.ShaperCurveSamples)
	if len(curve) != modules.ShaperCurveSamples {
		t.Fatalf("curve has %d samples, want %d", len(curve), modules.ShaperCurveSamples)
	}
	if math.Abs(float64(curve[0])+1) > 1e-5 {
		t.Errorf("curve[0] = %v, want -1", curve[0])
	}
	if math.Abs(float64(curve[len(curve)/2])) > 1e-5 {
		t.Errorf("curve at the middle = %v, want 0", curve[len(curve)/2])
	}
	for i := 1; i < len(curve); i++ {
		if curve[i] < curve[i-1] {
			t.Fatalf("curve is not monotonic at %d", i)
		}
	}
	linear := modules.ShaperCurve(0, 4)
	for i, want := range []float32{-1, -0.5, 0, 0.5} {
		if math.Abs(float64(linear[i]-want)) > 1e-6 {
			t.Errorf("linear curve[%d] = %v, want %v", i, linear[i], want)
		}
	}
}
