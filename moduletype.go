package bleep

import (
	"fmt"
	"slices"
)

// ModuleType is one of the fixed kinds of synthesis module that can be
// declared in a synth definition.
type ModuleType int

const (
	SawOsc ModuleType = iota
	SinOsc
	SqrOsc
	TriOsc
	PulseOsc
	RandOsc
	LFO
	Noise
	LPF
	HPF
	VCA
	Shaper
	ADSR
	Decay
	Pan
	Delay
	Audio
)

var moduleTypeNames = [...]string{
	SawOsc:   "SAW-OSC",
	SinOsc:   "SIN-OSC",
	SqrOsc:   "SQR-OSC",
	TriOsc:   "TRI-OSC",
	PulseOsc: "PULSE-OSC",
	RandOsc:  "RAND-OSC",
	LFO:      "LFO",
	Noise:    "NOISE",
	LPF:      "LPF",
	HPF:      "HPF",
	VCA:      "VCA",
	Shaper:   "SHAPER",
	ADSR:     "ADSR",
	Decay:    "DECAY",
	Pan:      "PAN",
	Delay:    "DELAY",
	Audio:    "AUDIO",
}

// ModuleTypes lists every module type that can be declared in source text.
// AUDIO is implicit and never declared.
var ModuleTypes = []ModuleType{SawOsc, SinOsc, SqrOsc, TriOsc, PulseOsc, RandOsc, LFO, Noise, LPF, HPF, VCA, Shaper, ADSR, Decay, Pan, Delay}

// ModuleCapabilities documents which parameters of a module type can be
// tweaked with an expression, and which ports can be used as patch sources or
// destinations.
type ModuleCapabilities struct {
	Tweakable []string
	Inputs    []string
	Outputs   []string
}

var oscCapabilities = ModuleCapabilities{
	Tweakable: []string{"detune", "pitch"},
	Inputs:    []string{"pitchCV"},
	Outputs:   []string{"out"},
}

// Capabilities is the capability table of every module type. The compiler
// checks tweaks and patches against it.
var Capabilities = map[ModuleType]ModuleCapabilities{
	SawOsc: oscCapabilities,
	SinOsc: oscCapabilities,
	SqrOsc: oscCapabilities,
	TriOsc: oscCapabilities,
	PulseOsc: {
		Tweakable: []string{"detune", "pitch", "pulsewidth"},
		Inputs:    []string{"pitchCV", "pulsewidthCV"},
		Outputs:   []string{"out"}},
	RandOsc: oscCapabilities,
	LFO:     {Tweakable: []string{"pitch", "phase"}, Outputs: []string{"out"}},
	Noise:   {Outputs: []string{"out"}},
	LPF:     {Tweakable: []string{"cutoff", "resonance"}, Inputs: []string{"in", "cutoffCV"}, Outputs: []string{"out"}},
	HPF:     {Tweakable: []string{"cutoff", "resonance"}, Inputs: []string{"in", "cutoffCV"}, Outputs: []string{"out"}},
	VCA:     {Tweakable: []string{"level"}, Inputs: []string{"in", "levelCV"}, Outputs: []string{"out"}},
	Shaper:  {Tweakable: []string{"fuzz"}, Inputs: []string{"in"}, Outputs: []string{"out"}},
	ADSR:    {Tweakable: []string{"attack", "decay", "sustain", "release", "level"}, Outputs: []string{"out"}},
	Decay:   {Tweakable: []string{"attack", "decay", "level"}, Outputs: []string{"out"}},
	Pan:     {Tweakable: []string{"angle"}, Inputs: []string{"in", "angleCV"}, Outputs: []string{"out"}},
	Delay:   {Tweakable: []string{"lag"}, Inputs: []string{"in", "lagCV"}, Outputs: []string{"out"}},
	Audio:   {Inputs: []string{"in"}},
}

// ParseModuleType returns the module type with the given name, e.g. "SAW-OSC".
func ParseModuleType(s string) (ModuleType, error) {
	for i, n := range moduleTypeNames {
		if n == s {
			return ModuleType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown module type %q", s)
}

func (t ModuleType) String() string {
	if t < 0 || int(t) >= len(moduleTypeNames) {
		return fmt.Sprintf("ModuleType(%d)", int(t))
	}
	return moduleTypeNames[t]
}

func (t ModuleType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(moduleTypeNames) {
		return nil, fmt.Errorf("invalid module type %d", int(t))
	}
	return []byte(moduleTypeNames[t]), nil
}

func (t *ModuleType) UnmarshalText(b []byte) error {
	v, err := ParseModuleType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t ModuleType) CanTweak(param string) bool {
	return slices.Contains(Capabilities[t].Tweakable, param)
}

func (t ModuleType) HasInput(port string) bool {
	return slices.Contains(Capabilities[t].Inputs, port)
}

func (t ModuleType) HasOutput(port string) bool {
	return slices.Contains(Capabilities[t].Outputs, port)
}

// IsEnvelope is true for module types whose output is applied as parameter
// automation at note start rather than wired as an audio connection.
func (t ModuleType) IsEnvelope() bool {
	return t == ADSR || t == Decay
}

// CanBend is true for module types that can glide their pitch.
func (t ModuleType) CanBend() bool {
	switch t {
	case SawOsc, SinOsc, SqrOsc, TriOsc, PulseOsc, RandOsc:
		return true
	}
	return false
}
