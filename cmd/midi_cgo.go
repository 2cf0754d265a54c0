//go:build cgo

package cmd

import (
	"io"

	"github.com/bleepsynth/bleep/session/gomidi"
)

// OpenMIDI opens the first MIDI input whose name starts with namePrefix.
func OpenMIDI(namePrefix string, input *gomidi.Input) (io.Closer, error) {
	return gomidi.Open(namePrefix, input)
}
