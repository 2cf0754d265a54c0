package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

type (
	// Recorder is a Context that renders nothing: it records the graph that
	// is built on it and every automation call, so that graphs can be
	// inspected in tests and in dry runs.
	Recorder struct {
		mu      sync.Mutex
		time    float64
		rate    float64
		latency float64
		nodes   []*RecordedNode
		edges   []Edge
		dest    *RecordedNode
	}

	// RecordedNode is a node created by a Recorder.
	RecordedNode struct {
		rec          *Recorder
		ID           int
		Kind         string
		typ          string
		curve        []float32
		buffer       Buffer
		loop         bool
		params       map[string]*RecordedParam
		started      bool
		startTime    float64
		stopped      bool
		stopTime     float64
		disconnected bool
	}

	// RecordedParam is an automatable parameter of a RecordedNode.
	RecordedParam struct {
		rec    *Recorder
		Name   string
		value  float64
		events []ParamEvent
	}

	// ParamEvent is one automation call on a parameter.
	ParamEvent struct {
		Kind  EventKind
		Value float64
		Time  float64
	}

	EventKind int

	// Edge is a connection from a node to another node, or to a parameter of
	// another node if Param is not empty.
	Edge struct {
		From  *RecordedNode
		To    *RecordedNode
		Param string
	}
)

const (
	EventSet EventKind = iota
	EventLinearRamp
	EventExponentialRamp
)

var kindParams = map[string]map[string]float64{
	"oscillator":   {"frequency": 440, "detune": 0},
	"gain":         {"gain": 1},
	"biquad":       {"frequency": 350, "Q": 1, "gain": 0},
	"panner":       {"pan": 0},
	"delay":        {"delayTime": 0},
	"waveshaper":   {},
	"constant":     {"offset": 1},
	"buffersource": {"playbackRate": 1, "detune": 0},
	"convolver":    {},
	"compressor":   {"threshold": -24, "knee": 30, "ratio": 12, "attack": 0.003, "release": 0.25},
	"analyser":     {},
	"destination":  {},
}

// NewRecorder returns a recorder at audio time 0.
func NewRecorder(sampleRate float64) *Recorder {
	r := &Recorder{rate: sampleRate}
	r.dest = r.newNode("destination")
	return r
}

// SetTime moves the audio clock of the recorder.
func (r *Recorder) SetTime(t float64) {
	r.mu.Lock()
	r.time = t
	r.mu.Unlock()
}

// SetBaseLatency sets the value reported by BaseLatency.
func (r *Recorder) SetBaseLatency(l float64) {
	r.mu.Lock()
	r.latency = l
	r.mu.Unlock()
}

func (r *Recorder) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.time
}

func (r *Recorder) BaseLatency() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latency
}

func (r *Recorder) SampleRate() float64 { return r.rate }
func (r *Recorder) Destination() Node   { return r.dest }

func (r *Recorder) newNode(kind string) *RecordedNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &RecordedNode{rec: r, ID: len(r.nodes), Kind: kind, params: map[string]*RecordedParam{}}
	for name, v := range kindParams[kind] {
		n.params[name] = &RecordedParam{rec: r, Name: name, value: v}
	}
	r.nodes = append(r.nodes, n)
	return n
}

func (r *Recorder) NewOscillator() Node {
	n := r.newNode("oscillator")
	n.typ = "sine"
	return n
}

func (r *Recorder) NewGain() Node           { return r.newNode("gain") }
func (r *Recorder) NewStereoPanner() Node   { return r.newNode("panner") }
func (r *Recorder) NewWaveShaper() Node     { return r.newNode("waveshaper") }
func (r *Recorder) NewConstantSource() Node { return r.newNode("constant") }
func (r *Recorder) NewBufferSource() Node   { return r.newNode("buffersource") }
func (r *Recorder) NewConvolver() Node      { return r.newNode("convolver") }
func (r *Recorder) NewCompressor() Node     { return r.newNode("compressor") }
func (r *Recorder) NewAnalyser() Node       { return r.newNode("analyser") }

func (r *Recorder) NewBiquadFilter() Node {
	n := r.newNode("biquad")
	n.typ = "lowpass"
	return n
}

func (r *Recorder) NewDelay(maxTime float64) Node {
	return r.newNode("delay")
}

func (r *Recorder) NewBuffer(channels, length int, sampleRate float64) Buffer {
	return NewPCM(channels, length, sampleRate)
}

// DecodeAudioData reads little-endian float32 mono samples at the sample rate
// of the recorder.
func (r *Recorder) DecodeAudioData(data []byte) (Buffer, error) {
	if len(data) == 0 {
		return nil, errors.New("no audio data")
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("audio data length %d is not a multiple of 4", len(data))
	}
	pcm := NewPCM(1, len(data)/4, r.rate)
	for i := range pcm.Channels[0] {
		pcm.Channels[0][i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return pcm, nil
}

// Nodes returns every node created so far, the destination included.
func (r *Recorder) Nodes() []*RecordedNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]*RecordedNode, len(r.nodes))
	copy(ret, r.nodes)
	return ret
}

// Edges returns the current connections.
func (r *Recorder) Edges() []Edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]Edge, len(r.edges))
	copy(ret, r.edges)
	return ret
}

// Connected reports whether there is a connection from a to b, or to the
// parameter param of b if param is not empty.
func (r *Recorder) Connected(a, b Node, param string) bool {
	for _, e := range r.Edges() {
		if Node(e.From) == a && Node(e.To) == b && e.Param == param {
			return true
		}
	}
	return false
}

// Live returns the nodes that have not been disconnected, the destination
// excluded.
func (r *Recorder) Live() []*RecordedNode {
	var ret []*RecordedNode
	for _, n := range r.Nodes() {
		if n != r.dest && !n.Disconnected() {
			ret = append(ret, n)
		}
	}
	return ret
}

func (n *RecordedNode) Connect(dst Node) {
	d, ok := dst.(*RecordedNode)
	if !ok {
		return
	}
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.rec.edges = append(n.rec.edges, Edge{From: n, To: d})
}

func (n *RecordedNode) ConnectParam(dst Param) {
	p, ok := dst.(*RecordedParam)
	if !ok {
		return
	}
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	for _, owner := range n.rec.nodes {
		if owner.params[p.Name] == p {
			n.rec.edges = append(n.rec.edges, Edge{From: n, To: owner, Param: p.Name})
			return
		}
	}
}

func (n *RecordedNode) Disconnect() {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	kept := n.rec.edges[:0]
	for _, e := range n.rec.edges {
		if e.From != n {
			kept = append(kept, e)
		}
	}
	n.rec.edges = kept
	n.disconnected = true
}

func (n *RecordedNode) Start(when float64) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.started, n.startTime = true, when
}

func (n *RecordedNode) Stop(when float64) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.stopped, n.stopTime = true, when
}

func (n *RecordedNode) Param(name string) Param {
	if p, ok := n.params[name]; ok {
		return p
	}
	return nil
}

func (n *RecordedNode) SetType(t string) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.typ = t
}

func (n *RecordedNode) SetCurve(curve []float32) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.curve = curve
}

func (n *RecordedNode) SetBuffer(b Buffer) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.buffer = b
}

func (n *RecordedNode) SetLoop(loop bool) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	n.loop = loop
}

// Type returns the waveform or filter type.
func (n *RecordedNode) Type() string {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.typ
}

func (n *RecordedNode) Curve() []float32 {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.curve
}

func (n *RecordedNode) Buffer() Buffer {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.buffer
}

func (n *RecordedNode) Loop() bool {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.loop
}

// Started reports whether Start was called, and when.
func (n *RecordedNode) Started() (bool, float64) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.started, n.startTime
}

// Stopped reports whether Stop was called, and when.
func (n *RecordedNode) Stopped() (bool, float64) {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.stopped, n.stopTime
}

func (n *RecordedNode) Disconnected() bool {
	n.rec.mu.Lock()
	defer n.rec.mu.Unlock()
	return n.disconnected
}

// RecordedParam returns the named parameter with its recording methods, or
// nil.
func (n *RecordedNode) RecordedParam(name string) *RecordedParam {
	return n.params[name]
}

// Value returns the value at the current time of the recorder, automation
// included.
func (p *RecordedParam) Value() float64 {
	return p.ValueAt(p.rec.CurrentTime())
}

func (p *RecordedParam) SetValue(v float64) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.value = v
}

func (p *RecordedParam) SetValueAtTime(v, t float64) {
	p.add(ParamEvent{Kind: EventSet, Value: v, Time: t})
}

func (p *RecordedParam) LinearRampToValueAtTime(v, t float64) {
	p.add(ParamEvent{Kind: EventLinearRamp, Value: v, Time: t})
}

func (p *RecordedParam) ExponentialRampToValueAtTime(v, t float64) {
	p.add(ParamEvent{Kind: EventExponentialRamp, Value: v, Time: t})
}

func (p *RecordedParam) CancelScheduledValues(t float64) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	kept := p.events[:0]
	for _, e := range p.events {
		if e.Time < t {
			kept = append(kept, e)
		}
	}
	p.events = kept
}

func (p *RecordedParam) add(e ParamEvent) {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	p.events = append(p.events, e)
	sort.SliceStable(p.events, func(i, j int) bool { return p.events[i].Time < p.events[j].Time })
}

// Events returns the automation events in time order.
func (p *RecordedParam) Events() []ParamEvent {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	ret := make([]ParamEvent, len(p.events))
	copy(ret, p.events)
	return ret
}

// ValueAt computes the value of the parameter at time t from its
// automation, interpolating ramps the way the Web Audio API does. A ramp
// starts from the previous event, or from the plain value at time 0.
func (p *RecordedParam) ValueAt(t float64) float64 {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	prevT, prevV := 0.0, p.value
	for _, e := range p.events {
		if t >= e.Time {
			prevT, prevV = e.Time, e.Value
			continue
		}
		switch e.Kind {
		case EventSet:
			return prevV
		case EventLinearRamp:
			if t < prevT {
				return prevV
			}
			return prevV + (e.Value-prevV)*(t-prevT)/(e.Time-prevT)
		case EventExponentialRamp:
			if t < prevT || prevV == 0 || prevV*e.Value <= 0 {
				return prevV
			}
			return prevV * math.Pow(e.Value/prevV, (t-prevT)/(e.Time-prevT))
		}
	}
	return prevV
}
