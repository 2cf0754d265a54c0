package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/cmd"
	"github.com/bleepsynth/bleep/engine"
	"github.com/bleepsynth/bleep/modules"
	"github.com/bleepsynth/bleep/rpc"
	"github.com/bleepsynth/bleep/session"
	"github.com/bleepsynth/bleep/session/gomidi"
	"github.com/bleepsynth/bleep/transport"
	"github.com/bleepsynth/bleep/version"
)

// publisher sends a scheduled event to the members of a jam session.
type publisher func(ctx context.Context, topic string, e bleep.SchedEvent) error

func main() {
	address := flag.String("a", "", "Address of the session server. By default, the session runs against an in-memory server.")
	user := flag.String("u", "local", "User id.")
	jams := flag.String("j", "local", "Comma separated ids of the jam sessions to join.")
	events := flag.String("e", "", "File of scheduled events to replay, one JSON object per line. server_time_s is seconds after the start of the replay.")
	midiIn := flag.String("midi", "", "Play the notes of the MIDI input whose name starts with this. Overrides the preferences.")
	midiSynth := flag.String("synth", "default", "Synth definition the MIDI notes are played with.")
	duration := flag.Duration("d", 0, "Stop after this long. By default, run until interrupted.")
	debug := flag.Bool("debug", false, "Log debug messages.")
	help := flag.Bool("h", false, "Show help.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
	logger := cmd.NewLogger(*debug)
	prefs := session.MakePreferences()
	if prefs.YmlError != nil {
		logger.Warn("preferences.yml could not be read, using the defaults", "err", prefs.YmlError)
		prefs = session.DefaultPreferences()
	}
	if *midiIn != "" {
		prefs.MIDI.Input = *midiIn
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}
	if err := run(ctx, *address, *user, strings.Split(*jams, ","), *events, *midiSynth, prefs, logger); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, address, user string, jams []string, events, midiSynth string, prefs session.Preferences, logger *slog.Logger) error {
	clk := clock.Real{}
	rec := engine.NewRecorder(44100)
	start := time.Now()
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rec.SetTime(time.Since(start).Seconds())
			}
		}
	}()
	host := modules.Host{Ctx: rec, Clock: clk, Monitor: modules.NewMonitor(), Logger: logger}
	timeout := clock.Duration(prefs.Resources.Timeout)
	core := session.NewCore(host, session.CoreOptions{
		Samples:  cmd.NewCache(prefs.Resources.Samples, timeout, rec, logger),
		Impulses: cmd.NewCache(prefs.Resources.Impulses, timeout, rec, logger),
		Notes:    prefs.Notes,
	})
	defer core.Close()
	core.SetVolume(prefs.Mix.Gain)
	if n := core.LoadPresets(session.LoadPresets()); n == 0 {
		logger.Warn("no synth definitions loaded")
	}
	var socket transport.Socket
	var publish publisher
	if address == "" {
		hub := transport.NewHub(logger)
		transport.ServeTime(hub, clk)
		socket = hub
		publish = func(_ context.Context, topic string, e bleep.SchedEvent) error {
			_, err := hub.Broadcast(topic, session.EventSchedAudio, e)
			return err
		}
	} else {
		client, err := rpc.Dial(address)
		if err != nil {
			return fmt.Errorf("could not connect to %v: %v", address, err)
		}
		defer client.Close()
		socket = rpc.NewSocket(client, clk, logger)
		// a socket does not see its own events, so the replay gets a
		// connection of its own
		relay, err := rpc.Dial(address)
		if err != nil {
			return fmt.Errorf("could not connect to %v: %v", address, err)
		}
		defer relay.Close()
		publish = func(ctx context.Context, topic string, e bleep.SchedEvent) error {
			_, err := relay.Publish(ctx, topic, session.EventSchedAudio, e)
			return err
		}
	}
	comms := session.NewComms(user, core, socket, session.CommsOptions{Clock: clk, Logger: logger, Scheduling: prefs.Scheduling})
	defer comms.Close()
	if err := comms.Start(ctx); err != nil {
		return err
	}
	for _, id := range jams {
		if err := comms.JoinJamSession(ctx, id); err != nil {
			return err
		}
	}
	if prefs.MIDI.Input != "" {
		input := gomidi.NewInput(gomidi.Mapping{SynthDefID: midiSynth}, core, clk, logger)
		port, err := cmd.OpenMIDI(prefs.MIDI.Input, input)
		if err != nil {
			logger.Warn("no MIDI input", "err", err)
		} else {
			defer port.Close()
			go input.Run(ctx)
		}
	}
	if events != "" {
		if err := replay(ctx, events, jams[0], comms, publish, logger); err != nil {
			return err
		}
	}
	<-ctx.Done()
	core.Wait()
	fmt.Println(core.Monitor().Info())
	return nil
}

// replay publishes the events of a file once the clock is synced. Event
// times are relative to the moment the replay starts.
func replay(ctx context.Context, filename, jam string, comms *session.Comms, publish publisher, logger *slog.Logger) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not read file %v: %v", filename, err)
	}
	defer f.Close()
	for !comms.Clock().Synced() {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
	base := clock.Seconds(clock.Real{}) + comms.Clock().Offset()
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var e bleep.SchedEvent
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return fmt.Errorf("%v:%d: %v", filename, line, err)
		}
		e.ServerTimeS += base
		if err := publish(ctx, session.JamTopic(jam), e); err != nil {
			logger.Warn("event not published", "line", line, "err", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not read file %v: %v", filename, err)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Bleep headless session. Joins jam sessions, keeps the clock in sync with the server and plays the scheduled events on a recording engine.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
