// Package engine is the boundary to the audio rendering engine. Voices and
// effects build graphs of engine nodes and schedule parameter automation on
// them; the engine renders the graph. The API follows the Web Audio model:
// nodes with named automatable parameters, connected output-to-input or
// output-to-parameter, started and stopped at audio-clock times.
package engine

type (
	// Context creates nodes and buffers and tells the audio-clock time.
	Context interface {
		CurrentTime() float64
		BaseLatency() float64
		SampleRate() float64
		Destination() Node

		NewOscillator() Node           // params: frequency, detune; types: sine, square, sawtooth, triangle
		NewGain() Node                 // params: gain
		NewBiquadFilter() Node         // params: frequency, Q, gain; types: lowpass, highpass, bandpass, ...
		NewStereoPanner() Node         // params: pan
		NewDelay(maxTime float64) Node // params: delayTime
		NewWaveShaper() Node           // curve set with SetCurve
		NewConstantSource() Node       // params: offset
		NewBufferSource() Node         // params: playbackRate, detune; buffer set with SetBuffer
		NewConvolver() Node            // impulse response set with SetBuffer
		NewCompressor() Node           // params: threshold, knee, ratio, attack, release
		NewAnalyser() Node

		NewBuffer(channels, length int, sampleRate float64) Buffer
		DecodeAudioData(data []byte) (Buffer, error)
	}

	// Node is a node of the audio graph. Methods that do not apply to a kind
	// of node are no-ops.
	Node interface {
		Connect(dst Node)
		ConnectParam(dst Param)
		Disconnect()
		Start(when float64)
		Stop(when float64)
		// Param returns the named automatable parameter, or nil if the node
		// has no such parameter.
		Param(name string) Param
		SetType(t string)
		SetCurve(curve []float32)
		SetBuffer(b Buffer)
		SetLoop(loop bool)
	}

	// Param is an automatable parameter of a node.
	Param interface {
		Value() float64
		SetValue(v float64)
		SetValueAtTime(v, t float64)
		LinearRampToValueAtTime(v, t float64)
		ExponentialRampToValueAtTime(v, t float64)
		CancelScheduledValues(t float64)
	}

	// Buffer is decoded audio held in memory.
	Buffer interface {
		Duration() float64
		NumberOfChannels() int
		Length() int
		SampleRate() float64
		ChannelData(ch int) []float32
	}

	// PCM is a Buffer of float32 samples, one slice per channel.
	PCM struct {
		Rate     float64
		Channels [][]float32
	}
)

func NewPCM(channels, length int, sampleRate float64) *PCM {
	ret := &PCM{Rate: sampleRate, Channels: make([][]float32, channels)}
	for i := range ret.Channels {
		ret.Channels[i] = make([]float32, length)
	}
	return ret
}

func (p *PCM) NumberOfChannels() int { return len(p.Channels) }
func (p *PCM) SampleRate() float64   { return p.Rate }

func (p *PCM) Length() int {
	if len(p.Channels) == 0 {
		return 0
	}
	return len(p.Channels[0])
}

func (p *PCM) Duration() float64 {
	if p.Rate == 0 {
		return 0
	}
	return float64(p.Length()) / p.Rate
}

func (p *PCM) ChannelData(ch int) []float32 {
	if ch < 0 || ch >= len(p.Channels) {
		return nil
	}
	return p.Channels[ch]
}
