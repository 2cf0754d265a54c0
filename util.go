package bleep

import "math"

// MIDINoteToHz converts a MIDI note number to a frequency, A4 = 69 = 440 Hz.
func MIDINoteToHz(note float64) float64 {
	return 440 * math.Pow(2, (note-69)/12)
}

func Clamp(v, min, max float64) float64 {
	return math.Min(math.Max(v, min), max)
}
