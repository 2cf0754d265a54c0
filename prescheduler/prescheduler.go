// Package prescheduler holds events that carry a server time until shortly
// before they are due locally, and then hands them to a Dispatcher.
//
// The local time of an event is its server time plus the offset of its run
// plus a fixed latency margin. The offset of a run is taken from the
// OffsetSource when the first event of the run arrives and is reused for the
// rest of the run, so that the events of a run stay consistent with each
// other even if the clock estimate changes in the middle. Events are handed
// over MinLead seconds before their local time; at most one timer is armed
// at any moment.
package prescheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bleepsynth/bleep/clock"
)

type (
	// Dispatcher receives events when they are due. localTime is in the
	// seconds of the clock given to New.
	Dispatcher interface {
		Dispatch(localTime float64, payload any) error
	}

	DispatcherFunc func(localTime float64, payload any) error

	// OffsetSource tells how much to add to a server time to get a local
	// time. clocksync.Sync is one.
	OffsetSource interface {
		LocalOffset() float64
	}

	OffsetFunc func() float64

	Prescheduler struct {
		dispatcher Dispatcher
		offsets    OffsetSource
		clock      clock.Clock
		logger     *slog.Logger
		latency    float64
		minLead    float64
		gcInterval time.Duration
		staleness  float64

		// dispatchMu is held from popping due events until they have been
		// dispatched, so concurrent callers cannot reorder them.
		dispatchMu sync.Mutex

		mu      sync.Mutex
		queue   queue
		seq     uint64
		runs    map[string]*snapshot
		timer   clock.Timer
		timerAt float64
		gen     uint64
		gcTimer clock.Timer
		closed  bool
	}

	Option func(*Prescheduler)

	snapshot struct {
		offset   float64
		lastSeen float64
	}

	event struct {
		time    float64
		seq     uint64
		runID   string
		tag     string
		payload any
	}

	queue []*event
)

const (
	DefaultLatency    = 0.5
	DefaultMinLead    = 1.2
	DefaultGCInterval = 5 * time.Second
	DefaultStaleness  = 5 * time.Second

	// slack absorbs timers that fire a little early, so that an event whose
	// lead is exactly MinLead is not re-armed for a zero delay forever.
	slack = 1e-3
)

var ErrClosed = errors.New("prescheduler closed")

func (f DispatcherFunc) Dispatch(localTime float64, payload any) error { return f(localTime, payload) }

func (f OffsetFunc) LocalOffset() float64 { return f() }

// WithLatency sets the margin added to every local time, in seconds.
func WithLatency(seconds float64) Option { return func(p *Prescheduler) { p.latency = seconds } }

// WithMinLead sets how long before its local time an event is dispatched.
func WithMinLead(seconds float64) Option { return func(p *Prescheduler) { p.minLead = seconds } }

// WithGC sets how often run offsets are collected and how long a run must
// be unseen to be dropped.
func WithGC(interval, staleness time.Duration) Option {
	return func(p *Prescheduler) {
		p.gcInterval = interval
		p.staleness = staleness.Seconds()
	}
}

func WithLogger(logger *slog.Logger) Option { return func(p *Prescheduler) { p.logger = logger } }

func New(d Dispatcher, offsets OffsetSource, clk clock.Clock, opts ...Option) *Prescheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	p := &Prescheduler{
		dispatcher: d,
		offsets:    offsets,
		clock:      clk,
		logger:     slog.Default(),
		latency:    DefaultLatency,
		minLead:    DefaultMinLead,
		gcInterval: DefaultGCInterval,
		staleness:  DefaultStaleness.Seconds(),
		runs:       map[string]*snapshot{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.gcInterval > 0 {
		p.gcTimer = p.clock.AfterFunc(p.gcInterval, p.gc)
	}
	return p
}

// Schedule queues payload for the local time that corresponds to
// serverTimeS in the given run. Events that are already due, or late, are
// dispatched before Schedule returns. The Dispatcher must not call back into
// the Prescheduler.
func (p *Prescheduler) Schedule(runID, tag string, serverTimeS float64, payload any) error {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	now := clock.Seconds(p.clock)
	snap, ok := p.runs[runID]
	if !ok {
		snap = &snapshot{offset: p.offsets.LocalOffset()}
		p.runs[runID] = snap
	}
	snap.lastSeen = now
	p.seq++
	heap.Push(&p.queue, &event{time: serverTimeS + snap.offset + p.latency, seq: p.seq, runID: runID, tag: tag, payload: payload})
	due := p.rearm(now)
	p.mu.Unlock()
	p.dispatch(due)
	return nil
}

// CancelTag drops every pending event with the tag and returns how many
// were dropped. Events already dispatched are not affected.
func (p *Prescheduler) CancelTag(tag string) int {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	p.mu.Lock()
	kept := p.queue[:0]
	for _, e := range p.queue {
		if e.tag != tag {
			kept = append(kept, e)
		}
	}
	n := len(p.queue) - len(kept)
	clear(p.queue[len(kept):])
	p.queue = kept
	heap.Init(&p.queue)
	due := p.rearm(clock.Seconds(p.clock))
	p.mu.Unlock()
	p.dispatch(due)
	if n > 0 {
		p.logger.Debug("cancelled events", "tag", tag, "count", n)
	}
	return n
}

// CancelAll drops every pending event.
func (p *Prescheduler) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.disarm()
}

// ResetOffsets forgets the offsets of all runs, so the next event of any
// run takes the current offset.
func (p *Prescheduler) ResetOffsets() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.runs)
}

// Close stops all timers and drops pending events. Schedule fails after
// Close.
func (p *Prescheduler) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
	p.disarm()
	if p.gcTimer != nil {
		p.gcTimer.Stop()
		p.gcTimer = nil
	}
}

// Pending returns the number of queued events.
func (p *Prescheduler) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Armed reports whether a dispatch timer is outstanding.
func (p *Prescheduler) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Runs returns the number of runs whose offset is remembered.
func (p *Prescheduler) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runs)
}

// rearm pops the events that are due and makes sure a timer is armed for
// the earliest remaining one. Must be called with mu held.
func (p *Prescheduler) rearm(now float64) (due []*event) {
	for len(p.queue) > 0 {
		next := p.queue[0]
		lead := next.time - now
		if lead-p.minLead < slack {
			due = append(due, heap.Pop(&p.queue).(*event))
			continue
		}
		if p.timer != nil && p.timerAt <= next.time {
			return due
		}
		p.disarm()
		gen := p.gen
		p.timer = p.clock.AfterFunc(clock.Duration(lead-p.minLead), func() { p.fire(gen) })
		p.timerAt = next.time
		return due
	}
	p.disarm()
	return due
}

func (p *Prescheduler) disarm() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Prescheduler) fire(gen uint64) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()
	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	due := p.rearm(clock.Seconds(p.clock))
	p.mu.Unlock()
	p.dispatch(due)
}

func (p *Prescheduler) dispatch(events []*event) {
	for _, e := range events {
		if lead := e.time - clock.Seconds(p.clock); lead < 0 {
			p.logger.Warn("late audio event", "run", e.runID, "tag", e.tag, "late_s", -lead)
		}
		if err := p.call(e); err != nil {
			p.logger.Error("dispatch failed", "run", e.runID, "tag", e.tag, "err", err)
		}
	}
}

func (p *Prescheduler) call(e *event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return p.dispatcher.Dispatch(e.time, e.payload)
}

func (p *Prescheduler) gc() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	now := clock.Seconds(p.clock)
	for id, s := range p.runs {
		if s.lastSeen+p.staleness < now {
			delete(p.runs, id)
		}
	}
	p.gcTimer = p.clock.AfterFunc(p.gcInterval, p.gc)
}

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].time == q[j].time {
		return q[i].seq < q[j].seq
	}
	return q[i].time < q[j].time
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *queue) Pop() any {
	old := *q
	e := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	return e
}
