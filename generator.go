package bleep

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fixed bounds of the two controls every synth has.
const (
	MinPitch = 27.5 // A0
	MaxPitch = 4186 // C8
	MinLevel = 0
	MaxLevel = 1
)

var (
	ErrNothingPatched   = errors.New("nothing is patched")
	// ErrNoModules is only reported for a synth definition built outside
	// the compiler, which cannot produce patches without modules.
	ErrNoModules        = errors.New("no modules have been added")
	ErrNoPatchToAudioIn = errors.New("nothing is patched to audio.in")
)

// Generator wraps one synth definition and the metadata derived from it. A
// Generator is created once, when the synth definition is loaded, and only
// read afterwards; voices are instantiated from it.
//
// A Generator is always returned, even for a broken definition: Valid tells
// if it can be played and Err tells what is wrong with it.
type Generator struct {
	def      *SynthDef
	err      error
	warnings []string

	Minima   map[string]float64
	Maxima   map[string]float64
	Defaults map[string]float64
	Mutable  map[string]bool
}

// NewGenerator parses a serialized synth definition, either JSON or YAML,
// and builds a Generator from it. Only a document that cannot be parsed at
// all is an error; semantic problems are reported by Valid and Err.
func NewGenerator(data []byte) (*Generator, error) {
	var def SynthDef
	if errJSON := json.Unmarshal(data, &def); errJSON != nil {
		def = SynthDef{}
		if errYaml := yaml.Unmarshal(data, &def); errYaml != nil {
			return nil, fmt.Errorf("synth definition could not be unmarshaled as .json (%v) or .yml (%v)", errJSON, errYaml)
		}
	}
	return FromSynthDef(&def), nil
}

// FromSynthDef builds a Generator from an already parsed definition. The
// definition is copied, so the caller may keep using its own.
func FromSynthDef(def *SynthDef) *Generator {
	g := &Generator{
		def:      def.Copy(),
		Minima:   map[string]float64{"pitch": MinPitch, "level": MinLevel},
		Maxima:   map[string]float64{"pitch": MaxPitch, "level": MaxLevel},
		Defaults: map[string]float64{},
		Mutable:  map[string]bool{},
	}
	for _, p := range g.def.Parameters {
		g.Mutable[p.Name] = bool(p.Mutable)
		g.Minima[p.Name] = p.Min
		g.Maxima[p.Name] = p.Max
		g.Defaults[p.Name] = p.Default
	}
	g.err = g.checkErrors()
	if g.err == nil {
		g.err = g.bindTweaks()
	}
	g.checkWarnings()
	return g
}

func (g *Generator) checkErrors() error {
	if len(g.def.Patches) == 0 {
		return ErrNothingPatched
	}
	if len(g.def.Modules) == 0 {
		return ErrNoModules
	}
	if !g.HasPatchTo(AudioID, "in") {
		return ErrNoPatchToAudioIn
	}
	return nil
}

func (g *Generator) bindTweaks() error {
	bounds := func(name string) (float64, float64, bool) {
		min, ok := g.Minima[name]
		return min, g.Maxima[name], ok
	}
	for i, t := range g.def.Tweaks {
		e, err := t.Expression.Bind(bounds)
		if err != nil {
			return fmt.Errorf("tweak %s.%s: %w", t.ID, t.Param, err)
		}
		g.def.Tweaks[i].Expression = e
	}
	return nil
}

func (g *Generator) checkWarnings() {
	for _, c := range []string{"pitch", "level"} {
		if !g.HasTweakWithValue(c) {
			g.warnings = append(g.warnings, fmt.Sprintf("you haven't assigned %s%s to a control", ControlPrefix, c))
		}
	}
	for _, p := range g.def.Parameters {
		if p.Max < p.Min {
			g.warnings = append(g.warnings, fmt.Sprintf("max of parameter %s is less than min", p.Name))
		}
		if p.Default < p.Min {
			g.warnings = append(g.warnings, fmt.Sprintf("default of parameter %s is less than min", p.Name))
		}
		if p.Default > p.Max {
			g.warnings = append(g.warnings, fmt.Sprintf("default of parameter %s is greater than max", p.Name))
		}
	}
}

// HasPatchTo reports whether some patch ends at the given module and port.
func (g *Generator) HasPatchTo(id, param string) bool {
	for _, p := range g.def.Patches {
		if p.To.ID == id && p.To.Param == param {
			return true
		}
	}
	return false
}

// HasPatchFrom reports whether some patch starts at the given module and
// port.
func (g *Generator) HasPatchFrom(id, param string) bool {
	for _, p := range g.def.Patches {
		if p.From.ID == id && p.From.Param == param {
			return true
		}
	}
	return false
}

// HasTweakWithValue reports whether some tweak expression reads the given
// control.
func (g *Generator) HasTweakWithValue(control string) bool {
	for _, t := range g.def.Tweaks {
		if t.Expression.References(control) {
			return true
		}
	}
	return false
}

func (g *Generator) Valid() bool      { return g.err == nil }
func (g *Generator) Err() error       { return g.err }
func (g *Generator) HasWarning() bool { return len(g.warnings) > 0 }
func (g *Generator) Warnings() []string {
	return g.warnings
}

// ErrorString is the human readable diagnostic of a broken definition, or ""
// for a valid one.
func (g *Generator) ErrorString() string {
	if g.err == nil {
		return ""
	}
	return "Bleep Generator error: " + g.err.Error()
}

// WarningString has one line per warning.
func (g *Generator) WarningString() string {
	var b strings.Builder
	for _, w := range g.warnings {
		b.WriteString("Bleep Generator warning: ")
		b.WriteString(w)
		b.WriteByte('\n')
	}
	return b.String()
}

// ID is the long name of the synth; Shortname is used to trigger it.
func (g *Generator) ID() string             { return g.def.Longname }
func (g *Generator) Longname() string       { return g.def.Longname }
func (g *Generator) Shortname() string      { return g.def.Shortname }
func (g *Generator) Version() string        { return g.def.Version }
func (g *Generator) Author() string         { return g.def.Author }
func (g *Generator) Doc() string            { return g.def.Doc }
func (g *Generator) Kind() Kind             { return g.def.Kind }
func (g *Generator) Modules() []Module      { return g.def.Modules }
func (g *Generator) Patches() []Patch       { return g.def.Patches }
func (g *Generator) Envelopes() []Patch     { return g.def.Envelopes }
func (g *Generator) Tweaks() []Tweak        { return g.def.Tweaks }
func (g *Generator) Parameters() []Parameter { return g.def.Parameters }

// SynthDef returns a copy of the wrapped definition.
func (g *Generator) SynthDef() *SynthDef { return g.def.Copy() }
