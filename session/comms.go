package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/bleepsynth/bleep"
	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/clocksync"
	"github.com/bleepsynth/bleep/prescheduler"
	"github.com/bleepsynth/bleep/transport"
	"github.com/pkg/errors"
)

// Events exchanged with the session server.
const (
	EventTimePing       = "time-ping"
	EventSchedAudio     = "sched-bleep-audio"
	EventStopEditorRuns = "stop-editor-runs"
	EventStopAll        = "stop-all"
)

type (
	// Comms connects a user to the session server: it keeps the local clock
	// in sync with the server through the time topic of the user, and
	// schedules the audio events of every joined jam session.
	Comms struct {
		userID string
		socket transport.Socket
		clock  clock.Clock
		logger *slog.Logger

		timeChannel transport.Channel
		sync        *clocksync.Sync
		sched       *prescheduler.Prescheduler

		mu   sync.Mutex
		jams map[string]transport.Channel
	}

	CommsOptions struct {
		Clock      clock.Clock
		Logger     *slog.Logger
		Scheduling SchedulingPreferences
	}

	stopEditorRuns struct {
		EditorID string `json:"editor_id"`
	}

	channelPinger struct {
		ch transport.Channel
	}
)

// TimeTopic is the topic a user syncs their clock on.
func TimeTopic(userID string) string { return "bleep-time-sync:" + userID }

// JamTopic is the topic the audio events of a jam session are broadcast on.
func JamTopic(jamSessionID string) string { return "bleep-audio:" + jamSessionID }

// NewComms creates the communication layer of a user. Scheduled events are
// dispatched to d, usually a *Core. Nothing is sent before Start.
func NewComms(userID string, d prescheduler.Dispatcher, socket transport.Socket, opts CommsOptions) *Comms {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Scheduling == (SchedulingPreferences{}) {
		opts.Scheduling = DefaultPreferences().Scheduling
	}
	logger := opts.Logger.With("user_id", userID)
	c := &Comms{
		userID: userID,
		socket: socket,
		clock:  opts.Clock,
		logger: logger,
		jams:   map[string]transport.Channel{},
	}
	c.timeChannel = socket.Channel(TimeTopic(userID))
	s := opts.Scheduling
	c.sync = clocksync.New(channelPinger{c.timeChannel}, opts.Clock, logger,
		clocksync.WithSchedule(clock.Duration(s.PingBurst), clock.Duration(s.PingPeriod)))
	c.sched = prescheduler.New(d, c.sync, opts.Clock,
		prescheduler.WithLatency(s.Latency),
		prescheduler.WithMinLead(s.MinLead),
		prescheduler.WithGC(clock.Duration(s.GCInterval), clock.Duration(s.Staleness)),
		prescheduler.WithLogger(logger),
	)
	return c
}

// Start joins the time topic and starts pinging the server. The pings stop
// when ctx is done or Close is called.
func (c *Comms) Start(ctx context.Context) error {
	if err := c.timeChannel.Join(ctx); err != nil {
		return errors.Wrap(err, "joining the time sync topic")
	}
	return c.sync.Start(ctx)
}

// Clock is the estimate of the server clock.
func (c *Comms) Clock() *clocksync.Sync { return c.sync }

func (c *Comms) Prescheduler() *prescheduler.Prescheduler { return c.sched }

// JoinJamSession subscribes to the audio events of a jam session. Joining a
// session twice does nothing.
func (c *Comms) JoinJamSession(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jams[id]; ok {
		return nil
	}
	ch := c.socket.Channel(JamTopic(id))
	ch.On(EventSchedAudio, c.handleSchedAudio)
	ch.On(EventStopEditorRuns, c.handleStopEditorRuns)
	ch.On(EventStopAll, func(json.RawMessage) { c.sched.CancelAll() })
	if err := ch.Join(ctx); err != nil {
		return errors.Wrapf(err, "joining jam session %s", id)
	}
	c.jams[id] = ch
	c.logger.Info("joined jam session", "jam_session_id", id)
	return nil
}

// LeaveJamSession unsubscribes from a jam session. Events of the session
// that are already scheduled still play.
func (c *Comms) LeaveJamSession(id string) error {
	c.mu.Lock()
	ch, ok := c.jams[id]
	delete(c.jams, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return ch.Leave()
}

// JamSessions lists the joined jam sessions, sorted.
func (c *Comms) JamSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]string, 0, len(c.jams))
	for id := range c.jams {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}

// ResetTimeDeltas forgets the clock offsets of every run, so that the next
// event of a run uses the current estimate.
func (c *Comms) ResetTimeDeltas() { c.sched.ResetOffsets() }

func (c *Comms) handleSchedAudio(payload json.RawMessage) {
	var e bleep.SchedEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		c.logger.Warn("incoming audio event error", "err", err)
		return
	}
	if err := c.sched.Schedule(e.RunID, e.EditorID, e.ServerTimeS, e.Command); err != nil {
		c.logger.Warn("incoming audio event error", "run_id", e.RunID, "err", err)
	}
}

func (c *Comms) handleStopEditorRuns(payload json.RawMessage) {
	var s stopEditorRuns
	if err := json.Unmarshal(payload, &s); err != nil {
		c.logger.Warn("bad stop-editor-runs event", "err", err)
		return
	}
	n := c.sched.CancelTag(s.EditorID)
	c.logger.Debug("stopped editor runs", "editor_id", s.EditorID, "cancelled", n)
}

// Close leaves every jam session, stops the clock sync and drops every
// pending event.
func (c *Comms) Close() {
	for _, id := range c.JamSessions() {
		if err := c.LeaveJamSession(id); err != nil {
			c.logger.Debug("leaving jam session", "jam_session_id", id, "err", err)
		}
	}
	c.sync.Stop()
	c.sched.Close()
	c.timeChannel.Leave()
}

func (p channelPinger) Ping(ctx context.Context, ping clocksync.Ping) (*clocksync.Reply, error) {
	data, err := p.ch.Push(ctx, EventTimePing, ping)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var r clocksync.Reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "decoding time ping reply")
	}
	return &r, nil
}
