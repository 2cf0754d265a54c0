// Package gomidi plays the notes of a MIDI keyboard on a session.
package gomidi

import (
	"context"
	"log/slog"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/prescheduler"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Mapping decides what a note is played with.
	Mapping struct {
		SynthDefID string
		OutputID   string
		Duration   float64 // seconds; 0 leaves the default of the session
	}

	// Input turns incoming MIDI messages into triggerOneShotSynth commands
	// and dispatches them right away. Messages are queued by HandleMessage,
	// which is safe to call from a driver callback, and dispatched by Run.
	Input struct {
		mapping    Mapping
		dispatcher prescheduler.Dispatcher
		clock      clock.Clock
		logger     *slog.Logger
		events     chan midi.Message
	}
)

// Command returns the command a message plays. Only note-ons with a
// non-zero velocity play anything; the velocity sets the level.
func (m Mapping) Command(msg midi.Message) (bleep.Command, bool) {
	var channel, key, velocity uint8
	if !msg.GetNoteOn(&channel, &key, &velocity) || velocity == 0 {
		return bleep.Command{}, false
	}
	opts := bleep.Options{"note": float64(key), "level": float64(velocity) / 127}
	if m.Duration > 0 {
		opts["duration"] = m.Duration
	}
	return bleep.Command{
		Cmd:        bleep.CmdTriggerOneShotSynth,
		SynthDefID: m.SynthDefID,
		OutputID:   m.OutputID,
		Opts:       opts,
	}, true
}

func NewInput(mapping Mapping, d prescheduler.Dispatcher, clk clock.Clock, logger *slog.Logger) *Input {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Input{mapping: mapping, dispatcher: d, clock: clk, logger: logger, events: make(chan midi.Message, 1024)}
}

// HandleMessage queues a message. If the queue is full the message is
// dropped.
func (i *Input) HandleMessage(msg midi.Message, timestampms int32) {
	select {
	case i.events <- msg:
	default:
	}
}

// Run dispatches the queued messages until ctx is done.
func (i *Input) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-i.events:
			cmd, ok := i.mapping.Command(msg)
			if !ok {
				continue
			}
			if err := i.dispatcher.Dispatch(clock.Seconds(i.clock), cmd); err != nil {
				i.logger.Warn("MIDI note not played", "note", cmd.Opts["note"], "err", err)
			}
		}
	}
}
