package effects

import (
	"context"
	"fmt"
	"sync"

	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
)

// Loader fetches decoded audio by name. buffercache.Cache is the usual one.
type Loader interface {
	Get(ctx context.Context, name string) (engine.Buffer, error)
}

// ReverbImpulses maps every reverb effect to its impulse response file.
var ReverbImpulses = map[string]string{
	"reverb":          "hall-medium.flac",
	"reverb_massive":  "reactor-hall.flac",
	"reverb_large":    "hall-large-church.flac",
	"reverb_medium":   "hall-medium.flac",
	"reverb_small":    "hall-small.flac",
	"room_large":      "room-large.flac",
	"room_small":      "room-small-bright.flac",
	"plate_drums":     "plate-snare.flac",
	"plate_vocal":     "rich-plate-vocal-2.flac",
	"plate_large":     "plate-large.flac",
	"plate_small":     "plate-small.flac",
	"ambience_large":  "ambience-large.flac",
	"ambience_medium": "ambience-medium.flac",
	"ambience_small":  "ambience-small.flac",
	"mic_reslo":       "IR_ResloURA.flac",
	"mic_beyer":       "IR_BeyerM500Stock.flac",
	"mic_foster":      "IR_FosterDynamicDF1.flac",
	"mic_lomo":        "IR_Lomo52A5M.flac",
}

const reverbWetLevel = 0.1

// Reverb convolves the signal with an impulse response. It makes no sound
// until Load succeeds.
type Reverb struct {
	*holder
	file   string
	loader Loader
	conv   engine.Node

	mu      sync.Mutex
	impulse engine.Buffer
}

func NewReverb(host modules.Host, name, file string, loader Loader) *Reverb {
	r := &Reverb{holder: newHolder(host, name, reverbWetLevel, 1), file: file, loader: loader}
	r.conv = host.Ctx.NewConvolver()
	r.wet.Connect(r.conv)
	r.conv.Connect(r.out)
	r.add(r.conv)
	return r
}

// Load fetches the impulse response. If it cannot be loaded the reverb
// stops itself and the error is returned.
func (r *Reverb) Load(ctx context.Context) error {
	if r.loader == nil {
		r.Stop()
		return fmt.Errorf("%s: no impulse loader", r.name)
	}
	buf, err := r.loader.Get(ctx, r.file)
	if err != nil {
		r.Stop()
		return fmt.Errorf("%s: %w", r.name, err)
	}
	if r.isStopped() {
		return nil
	}
	r.mu.Lock()
	r.impulse = buf
	r.mu.Unlock()
	r.conv.SetBuffer(buf)
	return nil
}

// Valid reports whether the impulse response has been loaded.
func (r *Reverb) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.impulse != nil
}

// TimeToFadeOut is the length of the impulse response.
func (r *Reverb) TimeToFadeOut() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.impulse == nil {
		return 0
	}
	return r.impulse.Duration()
}
