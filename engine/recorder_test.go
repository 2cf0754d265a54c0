package engine_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/bleepsynth/bleep/engine"
)

func TestRecorderGraph(t *testing.T) {
	r := engine.NewRecorder(48000)
	osc := r.NewOscillator()
	gain := r.NewGain()
	lfo := r.NewOscillator()
	osc.Connect(gain)
	lfo.ConnectParam(gain.Param("gain"))
	gain.Connect(r.Destination())
	if !r.Connected(osc, gain, "") || !r.Connected(lfo, gain, "gain") || !r.Connected(gain, r.Destination(), "") {
		t.Fatalf("connections not recorded: %v", r.Edges())
	}
	if osc.Param("nope") != nil {
		t.Fatal("unknown params should be nil")
	}
	osc.Disconnect()
	if r.Connected(osc, gain, "") {
		t.Fatal("Disconnect should drop the outgoing edges")
	}
	if got := len(r.Live()); got != 2 {
		t.Fatalf("expected 2 live nodes, got %d", got)
	}
}

func TestRecordedParamAutomation(t *testing.T) {
	r := engine.NewRecorder(48000)
	g := r.NewGain().(*engine.RecordedNode).RecordedParam("gain")
	g.SetValueAtTime(0, 1)
	g.LinearRampToValueAtTime(1, 2)
	g.ExponentialRampToValueAtTime(0.25, 4)
	cases := []struct{ t, want float64 }{
		{0.5, 1}, // plain value before the first event
		{1, 0},
		{1.5, 0.5},
		{2, 1},
		{3, 0.5},
		{5, 0.25},
	}
	for _, c := range cases {
		if got := g.ValueAt(c.t); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ValueAt(%v) = %v, want %v", c.t, got, c.want)
		}
	}
	g.CancelScheduledValues(2)
	if n := len(g.Events()); n != 2 {
		t.Fatalf("expected 2 events after cancel, got %d", n)
	}
}

func TestRecorderDecode(t *testing.T) {
	r := engine.NewRecorder(100)
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data, math.Float32bits(0.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-1))
	b, err := r.DecodeAudioData(data)
	if err != nil {
		t.Fatalf("DecodeAudioData error: %v", err)
	}
	if b.Length() != 2 || b.ChannelData(0)[1] != -1 || b.Duration() != 0.02 {
		t.Fatalf("unexpected buffer %+v", b)
	}
	if _, err := r.DecodeAudioData([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a truncated sample")
	}
}
