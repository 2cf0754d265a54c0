package bleep

import (
	"encoding/json"
	"fmt"
)

// Names of the commands that can be dispatched to a session.
const (
	CmdTriggerOneShotSynth = "triggerOneShotSynth"
	CmdTriggerSample       = "triggerSample"
	CmdTriggerFX           = "triggerFX"
	CmdControlFX           = "controlFX"
	CmdReleaseFX           = "releaseFX"
)

type (
	// Command is a message that asks a session to play or control something.
	// Which fields are used depends on Cmd.
	Command struct {
		Cmd        string  `json:"cmd"`
		SynthDefID string  `json:"synthdef_id,omitempty"`
		SampleName string  `json:"sample_name,omitempty"`
		FXID       string  `json:"fx_id,omitempty"`
		UUID       string  `json:"uuid,omitempty"`
		OutputID   string  `json:"output_id,omitempty"`
		Opts       Options `json:"opts,omitempty"`
	}

	// SchedEvent is a command broadcast by the server to every member of a
	// jam session, together with the authoritative time at which it should
	// sound.
	SchedEvent struct {
		UserID      string  `json:"user_id"`
		EditorID    string  `json:"editor_id"`
		RunID       string  `json:"run_id"`
		ServerTimeS float64 `json:"server_time_s"`
		Command
	}

	// Options are the numeric options of a command, e.g. note, level or
	// duration. Booleans are read as 0 or 1; other non-numeric values are
	// dropped.
	Options map[string]float64
)

func (o *Options) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("options should be an object: %w", err)
	}
	ret := make(Options, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case float64:
			ret[k] = x
		case bool:
			if x {
				ret[k] = 1
			} else {
				ret[k] = 0
			}
		}
	}
	*o = ret
	return nil
}

// Get returns the option value, or def if the option is not present. An
// explicit zero is a value like any other.
func (o Options) Get(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		return v
	}
	return def
}
