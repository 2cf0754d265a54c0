// Package session ties the pieces of a live-coding session together. Core
// owns the loaded synth definitions, the running effects and the final
// mixes, and turns commands into sound; Comms joins jam sessions, keeps the
// clock in sync and feeds the commands of other players to Core through the
// prescheduler.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/compiler"
	"github.com/bleepsynth/bleep/effects"
	"github.com/bleepsynth/bleep/modules"
	"github.com/bleepsynth/bleep/player"
)

// MainOutTeardown is how long after a restart of the main output the old
// effects are stopped.
const MainOutTeardown = 500 * time.Millisecond

var (
	ErrUnknownSynthDef = errors.New("synth definition not found")
	ErrNotAFinalMix    = errors.New("not a final mix")
)

type (
	// Core turns commands into voices, samples and effects. Times given to
	// its methods are wall-clock seconds on the clock of the host, which
	// Core converts to audio time.
	Core struct {
		host     modules.Host
		logger   *slog.Logger
		notes    NotePreferences
		samples  effects.Loader
		impulses effects.Loader

		ctx    context.Context
		cancel context.CancelFunc
		loads  sync.WaitGroup

		mu      sync.Mutex
		gens    map[string]*bleep.Generator
		fx      map[string]effects.Effect
		mainOut *effects.FinalMix
	}

	CoreOptions struct {
		// Samples loads "<name>.flac" for triggerSample.
		Samples effects.Loader
		// Impulses loads the impulse responses of the reverbs.
		Impulses effects.Loader
		Notes    NotePreferences
	}
)

func NewCore(host modules.Host, opts CoreOptions) *Core {
	if host.Clock == nil {
		host.Clock = clock.Real{}
	}
	if host.Logger == nil {
		host.Logger = slog.Default()
	}
	if host.Monitor == nil {
		host.Monitor = modules.NewMonitor()
	}
	if opts.Notes == (NotePreferences{}) {
		opts.Notes = DefaultPreferences().Notes
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		host:     host,
		logger:   host.Logger,
		notes:    opts.Notes,
		samples:  opts.Samples,
		impulses: opts.Impulses,
		ctx:      ctx,
		cancel:   cancel,
		gens:     map[string]*bleep.Generator{},
		fx:       map[string]effects.Effect{},
	}
	c.mainOut = c.newMainOut()
	return c
}

func (c *Core) newMainOut() *effects.FinalMix {
	m := effects.NewFinalMix(c.host)
	m.Out().Connect(c.host.Ctx.Destination())
	return m
}

// Monitor counts the live engine resources of the session.
func (c *Core) Monitor() *modules.Monitor { return c.host.Monitor }

// LoadSynthDef compiles a synth definition and registers its generator
// under its short name, replacing any earlier one. Warnings are logged.
func (c *Core) LoadSynthDef(src string) (*bleep.Generator, error) {
	def, err := compiler.Compile(src)
	if err != nil {
		return nil, err
	}
	gen := bleep.FromSynthDef(def)
	if !gen.Valid() {
		return gen, fmt.Errorf("synth definition %s: %w", def.Shortname, gen.Err())
	}
	for _, w := range gen.Warnings() {
		c.logger.Warn("synth definition warning", "synthdef", def.Shortname, "warning", w)
	}
	c.mu.Lock()
	c.gens[def.Shortname] = gen
	c.mu.Unlock()
	return gen, nil
}

// LoadPresets loads every preset, logging and skipping the ones that do not
// compile. It returns the number of presets loaded.
func (c *Core) LoadPresets(presets []Preset) int {
	n := 0
	for _, p := range presets {
		if _, err := c.LoadSynthDef(p.Source); err != nil {
			c.logger.Error("could not load synth definition", "preset", p.Name, "user", p.User, "err", err)
			continue
		}
		n++
	}
	return n
}

// Generator returns the generator registered under a short name.
func (c *Core) Generator(id string) (*bleep.Generator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gens[id]
	return g, ok
}

// SynthDefs lists the short names of the loaded synth definitions.
func (c *Core) SynthDefs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]string, 0, len(c.gens))
	for id := range c.gens {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}

// Effect returns a running effect or final mix.
func (c *Core) Effect(id string) (effects.Effect, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fx, ok := c.fx[id]
	return fx, ok
}

// MainOut is the final mix connected to the destination.
func (c *Core) MainOut() *effects.FinalMix {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mainOut
}

// ClockTimeToAudioTime converts a wall-clock time to the audio clock.
func (c *Core) ClockTimeToAudioTime(wall float64) float64 {
	ctx := c.host.Ctx
	return ctx.CurrentTime() + (wall - clock.Seconds(c.host.Clock)) + ctx.BaseLatency()
}

// IdempotentStartFinalMix starts the final mix of an output unless it is
// already running.
func (c *Core) IdempotentStartFinalMix(outputID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.fx[outputID]; !ok {
		c.startFinalMix(outputID)
	}
}

// StartFinalMix starts a final mix for an output, feeding the main output.
func (c *Core) StartFinalMix(outputID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startFinalMix(outputID)
}

func (c *Core) startFinalMix(outputID string) {
	m := effects.NewFinalMix(c.host)
	c.fx[outputID] = m
	m.Out().Connect(c.mainOut.In())
}

// RestartFinalMix fades out the final mix of an output and starts a new
// one in its place. Nothing happens if the output has no final mix.
func (c *Core) RestartFinalMix(outputID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.fx[outputID]
	if !ok {
		return
	}
	delete(c.fx, outputID)
	c.gracefulStop(old)
	c.startFinalMix(outputID)
}

// StopFinalMix fades out the final mix of an output and forgets it.
func (c *Core) StopFinalMix(outputID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.fx[outputID]
	if !ok {
		return nil
	}
	if _, ok := old.(*effects.FinalMix); !ok {
		return fmt.Errorf("%s: %w", outputID, ErrNotAFinalMix)
	}
	delete(c.fx, outputID)
	c.gracefulStop(old)
	return nil
}

func (c *Core) gracefulStop(fx effects.Effect) {
	if m, ok := fx.(*effects.FinalMix); ok {
		m.GracefulStop()
		return
	}
	fx.Stop()
}

// RestartMainOut fades out the main output and starts a new one. Shortly
// after, every running effect and final mix is stopped.
func (c *Core) RestartMainOut() {
	c.mu.Lock()
	old := c.mainOut
	c.mainOut = c.newMainOut()
	c.mu.Unlock()
	old.GracefulStop()
	c.host.Clock.AfterFunc(MainOutTeardown, func() {
		c.mu.Lock()
		running := c.fx
		c.fx = map[string]effects.Effect{}
		c.mu.Unlock()
		for _, fx := range running {
			fx.Stop()
		}
	})
}

// SetVolume sets the gain of the main output now.
func (c *Core) SetVolume(gain float64) {
	c.MainOut().SetParams(map[string]float64{"gain": gain}, c.host.Ctx.CurrentTime())
}

// resolveOutput returns the input an output id refers to. An unknown or
// empty id refers to the main output.
func (c *Core) resolveOutput(outputID string) effects.Effect {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fx, ok := c.fx[outputID]; ok {
		return fx
	}
	if outputID != "" {
		c.logger.Warn("unknown output, using the main output", "output_id", outputID)
	}
	return c.mainOut
}

// TriggerOneShotSynth plays one note of a synth. The options note, level and
// duration default to the note preferences; all options are passed to the
// voice.
func (c *Core) TriggerOneShotSynth(wall float64, synthdefID, outputID string, opts bleep.Options) error {
	gen, ok := c.Generator(synthdefID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSynthDef, synthdefID)
	}
	note := opts.Get("note", c.notes.Note)
	level := opts.Get("level", c.notes.Level)
	duration := opts.Get("duration", c.notes.Duration)
	v, err := player.NewVoice(c.host, gen, bleep.MIDINoteToHz(note), level, duration, opts)
	if err != nil {
		return err
	}
	v.Out().Connect(c.resolveOutput(outputID).In())
	_, err = v.Play(c.ClockTimeToAudioTime(wall))
	return err
}

// TriggerSample loads "<name>.flac" and plays it when it has loaded. The
// load happens in the background; failures are logged.
func (c *Core) TriggerSample(wall float64, name, outputID string, opts bleep.Options) {
	if c.samples == nil {
		c.logger.Warn("no sample loader, sample skipped", "sample", name)
		return
	}
	out := c.resolveOutput(outputID)
	c.loads.Add(1)
	go func() {
		defer c.loads.Done()
		buf, err := c.samples.Get(c.ctx, name+".flac")
		if err != nil {
			c.logger.Warn("sample skipped", "sample", name, "err", err)
			return
		}
		s := player.NewSample(c.host, buf, opts)
		s.Out().Connect(out.In())
		s.Play(c.ClockTimeToAudioTime(wall))
	}()
}

// TriggerFX starts an effect under id, feeding the given output. Reverbs
// load their impulse response in the background.
func (c *Core) TriggerFX(wall float64, name, id, outputID string, opts bleep.Options) error {
	fx, err := effects.New(name, c.host, effects.Options{Impulses: c.impulses})
	if err != nil {
		return err
	}
	out := c.resolveOutput(outputID)
	c.mu.Lock()
	old, replaced := c.fx[id]
	c.fx[id] = fx
	c.mu.Unlock()
	if replaced {
		old.Stop()
	}
	fx.SetParams(opts, c.host.Ctx.CurrentTime())
	fx.Out().Connect(out.In())
	if r, ok := fx.(*effects.Reverb); ok {
		c.loads.Add(1)
		go func() {
			defer c.loads.Done()
			if err := r.Load(c.ctx); err != nil {
				c.logger.Warn("reverb not loaded", "fx", name, "id", id, "err", err)
			}
		}()
	}
	return nil
}

// ControlFX schedules new parameters on a running effect.
func (c *Core) ControlFX(wall float64, id string, params bleep.Options) {
	fx, ok := c.Effect(id)
	if !ok {
		c.logger.Debug("controlFX on an effect that is not running", "id", id)
		return
	}
	fx.SetParams(params, c.ClockTimeToAudioTime(wall))
}

// ReleaseFX forgets a running effect and stops it once the release time
// has passed and its tail has faded out.
func (c *Core) ReleaseFX(wall float64, id string) {
	c.mu.Lock()
	fx, ok := c.fx[id]
	delete(c.fx, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	wait := clock.Duration(math.Max(wall-clock.Seconds(c.host.Clock), 0) + fx.TimeToFadeOut())
	if wait <= 0 {
		fx.Stop()
		return
	}
	c.host.Clock.AfterFunc(wait, fx.Stop)
}

// Dispatch runs a command at the given wall-clock time. The payload is a
// bleep.Command, a bleep.SchedEvent or their JSON encoding. Unknown
// commands are logged and ignored.
func (c *Core) Dispatch(wall float64, payload any) error {
	var cmd bleep.Command
	switch p := payload.(type) {
	case bleep.Command:
		cmd = p
	case *bleep.Command:
		cmd = *p
	case bleep.SchedEvent:
		cmd = p.Command
	case *bleep.SchedEvent:
		cmd = p.Command
	case []byte:
		if err := json.Unmarshal(p, &cmd); err != nil {
			return fmt.Errorf("decoding command: %w", err)
		}
	case json.RawMessage:
		if err := json.Unmarshal(p, &cmd); err != nil {
			return fmt.Errorf("decoding command: %w", err)
		}
	default:
		return fmt.Errorf("cannot dispatch %T", payload)
	}
	switch cmd.Cmd {
	case bleep.CmdTriggerOneShotSynth:
		return c.TriggerOneShotSynth(wall, cmd.SynthDefID, cmd.OutputID, cmd.Opts)
	case bleep.CmdTriggerSample:
		c.TriggerSample(wall, cmd.SampleName, cmd.OutputID, cmd.Opts)
	case bleep.CmdTriggerFX:
		err := c.TriggerFX(wall, cmd.FXID, cmd.UUID, cmd.OutputID, cmd.Opts)
		if errors.Is(err, effects.ErrUnknownEffect) {
			c.logger.Warn("unknown effect", "fx_id", cmd.FXID)
			return nil
		}
		return err
	case bleep.CmdControlFX:
		c.ControlFX(wall, cmd.FXID, cmd.Opts)
	case bleep.CmdReleaseFX:
		c.ReleaseFX(wall, cmd.FXID)
	default:
		c.logger.Warn("unknown command", "cmd", cmd.Cmd)
	}
	return nil
}

// Wait blocks until the background loads have finished.
func (c *Core) Wait() { c.loads.Wait() }

// Close abandons the background loads and stops every effect.
func (c *Core) Close() {
	c.cancel()
	c.loads.Wait()
	c.mu.Lock()
	running := c.fx
	c.fx = map[string]effects.Effect{}
	main := c.mainOut
	c.mu.Unlock()
	for _, fx := range running {
		fx.Stop()
	}
	main.Stop()
}
