//go:build !cgo

package cmd

import (
	"errors"
	"io"

	"github.com/bleepsynth/bleep/session/gomidi"
)

// OpenMIDI fails: with no cgo, there is no MIDI driver.
func OpenMIDI(namePrefix string, input *gomidi.Input) (io.Closer, error) {
	return nil, errors.New("MIDI input needs a build with cgo")
}
