package session

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type (
	Preferences struct {
		Scheduling SchedulingPreferences
		Notes      NotePreferences
		Resources  ResourcePreferences
		Mix        MixPreferences
		MIDI       MIDIPreferences `yaml:"midi"`
		YmlError   error           `yaml:"-"`
	}

	// SchedulingPreferences are in seconds. PingBurst is how long the
	// clock is pinged rapidly after start, PingPeriod how often after that.
	SchedulingPreferences struct {
		Latency    float64
		MinLead    float64
		GCInterval float64
		Staleness  float64
		PingBurst  float64
		PingPeriod float64
	}

	// NotePreferences are the defaults of triggerOneShotSynth.
	NotePreferences struct {
		Note     float64
		Level    float64
		Duration float64
	}

	// ResourcePreferences locate the samples and impulse responses: either
	// http(s) URLs or directories. Timeout is in seconds.
	ResourcePreferences struct {
		Samples  string
		Impulses string
		Timeout  float64
	}

	MIDIPreferences struct {
		Input string // prefix of the input port name; empty for none
	}

	MixPreferences struct {
		Gain float64 // of the main output
	}
)

//go:embed preferences.yml
var defaultPreferencesYaml []byte

func loadDefaultPreferences() Preferences {
	var preferences Preferences
	err := yaml.UnmarshalStrict(defaultPreferencesYaml, &preferences)
	if err != nil {
		panic(fmt.Errorf("failed to unmarshal preferences: %w", err))
	}
	return preferences
}

// ReadCustomConfigYml modifies the target argument, i.e. needs a pointer
func ReadCustomConfigYml(filename string, target interface{}) (exists bool, err error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return false, err
	}
	path := filepath.Join(configDir, "bleep", filename)
	bytes, err2 := os.ReadFile(path)
	if err2 != nil {
		return false, err2
	}
	err = yaml.UnmarshalStrict(bytes, target)
	return true, err
}

// MakePreferences returns the built-in preferences overridden by
// preferences.yml in the user config directory, if there is one. A broken
// user file is reported in YmlError.
func MakePreferences() Preferences {
	preferences := loadDefaultPreferences()
	exists, err := ReadCustomConfigYml("preferences.yml", &preferences)
	if exists {
		preferences.YmlError = err
	}
	return preferences
}

// DefaultPreferences are the built-in preferences.
func DefaultPreferences() Preferences { return loadDefaultPreferences() }
