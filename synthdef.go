package bleep

import (
	"encoding/json"
	"fmt"
)

type (
	// SynthDef is the compiled form of a synth definition. It is produced by
	// the compiler, or read from a serialized document, and is never modified
	// afterwards.
	SynthDef struct {
		Longname   string      `json:"longname" yaml:"longname"`
		Shortname  string      `json:"shortname" yaml:"shortname"`
		Version    string      `json:"version,omitempty" yaml:"version,omitempty"`
		Author     string      `json:"author,omitempty" yaml:"author,omitempty"`
		Doc        string      `json:"doc,omitempty" yaml:"doc,omitempty"`
		Kind       Kind        `json:"type,omitempty" yaml:"type,omitempty"`
		Modules    []Module    `json:"modules" yaml:"modules"`
		Patches    []Patch     `json:"patches" yaml:"patches"`
		Envelopes  []Patch     `json:"envelopes" yaml:"envelopes"`
		Parameters []Parameter `json:"parameters" yaml:"parameters"`
		Tweaks     []Tweak     `json:"tweaks" yaml:"tweaks"`
	}

	// Module is a declaration of a module instance, e.g. "SAW-OSC : osc".
	Module struct {
		ID   string     `json:"id" yaml:"id"`
		Type ModuleType `json:"type" yaml:"type"`
	}

	// Endpoint names a port or a parameter of a declared module. The ID may
	// also be AudioID for the implicit output module.
	Endpoint struct {
		ID    string `json:"id" yaml:"id"`
		Param string `json:"param" yaml:"param"`
	}

	// Patch is a directed connection from an output of one module to an
	// input of another.
	Patch struct {
		From Endpoint `json:"from" yaml:"from"`
		To   Endpoint `json:"to" yaml:"to"`
	}

	// Parameter is a control declared with an @param block. Its name can be
	// referenced as param.<name> in tweak expressions.
	Parameter struct {
		Name    string    `json:"name" yaml:"name"`
		Type    ParamType `json:"type" yaml:"type"`
		Mutable YesNo     `json:"mutable" yaml:"mutable"`
		Step    float64   `json:"step" yaml:"step"`
		Min     float64   `json:"min" yaml:"min"`
		Max     float64   `json:"max" yaml:"max"`
		Default float64   `json:"default" yaml:"default"`
		Doc     string    `json:"doc,omitempty" yaml:"doc,omitempty"`
	}

	// Tweak sets the parameter Param of module ID to the value of Expression.
	Tweak struct {
		ID         string     `json:"id" yaml:"id"`
		Param      string     `json:"param" yaml:"param"`
		Expression Expression `json:"expression" yaml:"expression,flow"`
	}

	// Kind tells if a synth definition is a playable synth or an effect.
	Kind string

	// ParamType is "float" or "int".
	ParamType string

	// YesNo is a bool that is written as "yes" or "no", but also accepts a
	// plain JSON bool when reading.
	YesNo bool
)

const (
	KindSynth  Kind = "synth"
	KindEffect Kind = "effect"

	ParamFloat ParamType = "float"
	ParamInt   ParamType = "int"
)

// AudioID is the id of the implicit output module every voice has. The only
// legal patch to it is audio.in.
const AudioID = "audio"

func (e Endpoint) String() string {
	return e.ID + "." + e.Param
}

func (p Patch) String() string {
	return p.From.String() + " -> " + p.To.String()
}

// FindModule returns the declaration of the module with the given id.
func (s *SynthDef) FindModule(id string) (Module, bool) {
	for _, m := range s.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}

// FindParameter returns the declared parameter with the given name.
func (s *SynthDef) FindParameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Copy makes a deep copy of the synth definition.
func (s *SynthDef) Copy() *SynthDef {
	ret := *s
	ret.Modules = append([]Module(nil), s.Modules...)
	ret.Patches = append([]Patch(nil), s.Patches...)
	ret.Envelopes = append([]Patch(nil), s.Envelopes...)
	ret.Parameters = append([]Parameter(nil), s.Parameters...)
	ret.Tweaks = make([]Tweak, len(s.Tweaks))
	for i, t := range s.Tweaks {
		ret.Tweaks[i] = Tweak{ID: t.ID, Param: t.Param, Expression: append(Expression(nil), t.Expression...)}
	}
	return &ret
}

func (y YesNo) MarshalText() ([]byte, error) {
	if y {
		return []byte("yes"), nil
	}
	return []byte("no"), nil
}

func (y *YesNo) UnmarshalText(b []byte) error {
	switch string(b) {
	case "yes", "true":
		*y = true
	case "no", "false", "":
		*y = false
	default:
		return fmt.Errorf("mutable should be yes or no, got %q", string(b))
	}
	return nil
}

func (y *YesNo) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*y = YesNo(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("mutable should be a string or a bool: %w", err)
	}
	return y.UnmarshalText([]byte(s))
}
