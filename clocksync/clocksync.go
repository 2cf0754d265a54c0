// Package clocksync estimates the offset between the local clock and a time
// authority by periodically pinging it.
//
// Pings are sent in a burst during the first fifteen seconds after Start, so
// that the estimate converges quickly, and every ten seconds after that.
// WithSchedule changes both.
// Half of each round trip is kept in a ring of the last 20 samples; the
// latency estimate is the mean of the samples once the 4 largest have been
// discarded.
package clocksync

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/bleepsynth/bleep/clock"
	"github.com/pkg/errors"
	"github.com/viterin/vek"
)

type (
	// Ping is what is sent to the time authority. TimeS is the local send
	// time and doubles as the token the reply must echo.
	Ping struct {
		TimeS    float64 `json:"time_s"`
		LatencyS float64 `json:"latency_s"`
	}

	// Reply is the answer of the time authority.
	Reply struct {
		ClientTimestamp float64 `json:"client_timestamp"`
		ServerTimestamp float64 `json:"server_timestamp"`
	}

	// Pinger delivers a ping to the time authority and returns its reply. A
	// transport that cannot wait for the reply returns nil and hands the
	// reply to Sync.HandleReply when it arrives.
	Pinger interface {
		Ping(ctx context.Context, p Ping) (*Reply, error)
	}

	Sync struct {
		pinger Pinger
		clock  clock.Clock
		logger *slog.Logger

		burst  time.Duration
		period time.Duration

		mu          sync.Mutex
		ctx         context.Context
		cancel      context.CancelFunc
		run         uint64
		timers      []clock.Timer
		outstanding map[float64]struct{}
		samples     ring
		latency     float64
		offset      float64
		synced      bool
		running     bool
	}

	Option func(*Sync)

	ring struct {
		buf  [ringSize]float64
		next int
		n    int
	}
)

const (
	ringSize    = 20
	trimLargest = 4

	DefaultBurstLength  = 15 * time.Second
	DefaultSteadyPeriod = 10 * time.Second

	// maxOutstanding bounds the pings remembered while waiting for replies.
	maxOutstanding = 64
)

// Burst holds the times after Start at which the startup pings are sent.
// Only the times within the burst length are used.
var Burst = []time.Duration{
	1000 * time.Millisecond,
	4000 * time.Millisecond, 4500 * time.Millisecond,
	5000 * time.Millisecond, 5500 * time.Millisecond,
	6000 * time.Millisecond, 6500 * time.Millisecond,
	7500 * time.Millisecond,
	8000 * time.Millisecond, 8500 * time.Millisecond,
	9000 * time.Millisecond, 9500 * time.Millisecond,
	10500 * time.Millisecond,
	11000 * time.Millisecond, 11500 * time.Millisecond,
	12000 * time.Millisecond, 12500 * time.Millisecond,
	13000 * time.Millisecond, 13500 * time.Millisecond,
	14000 * time.Millisecond, 14500 * time.Millisecond,
}

// WithSchedule sets how long the startup burst lasts and how often pings are
// sent after it. Zero keeps the default.
func WithSchedule(burst, period time.Duration) Option {
	return func(s *Sync) {
		if burst > 0 {
			s.burst = burst
		}
		if period > 0 {
			s.period = period
		}
	}
}

func New(pinger Pinger, clk clock.Clock, logger *slog.Logger, opts ...Option) *Sync {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sync{
		pinger:      pinger,
		clock:       clk,
		logger:      logger,
		burst:       DefaultBurstLength,
		period:      DefaultSteadyPeriod,
		outstanding: map[float64]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start arms the ping schedule. Pings stop when ctx is done or Stop is
// called. Starting a running Sync is an error.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("clock sync already started")
	}
	s.running = true
	s.run++
	run := s.run
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = runCtx, cancel
	for _, d := range Burst {
		if d < s.burst {
			s.timers = append(s.timers, s.clock.AfterFunc(d, func() { s.scheduledPing(run) }))
		}
	}
	s.timers = append(s.timers, s.clock.AfterFunc(s.burst, func() { s.steady(run) }))
	go func() {
		<-runCtx.Done()
		s.stop(run)
	}()
	return nil
}

// Stop cancels every pending ping. The estimates are kept.
func (s *Sync) Stop() {
	s.mu.Lock()
	run := s.run
	s.mu.Unlock()
	s.stop(run)
}

// stop ends the given run; a run that has already been replaced by a newer
// Start is left alone.
func (s *Sync) stop(run uint64) {
	s.mu.Lock()
	if run != s.run || !s.running {
		s.mu.Unlock()
		return
	}
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	cancel()
}

func (s *Sync) steady(run uint64) {
	s.mu.Lock()
	if !s.running || run != s.run {
		s.mu.Unlock()
		return
	}
	s.timers = append(s.timers[:0], s.clock.AfterFunc(s.period, func() { s.steady(run) }))
	s.mu.Unlock()
	s.ping()
}

func (s *Sync) scheduledPing(run uint64) {
	s.mu.Lock()
	current := s.running && run == s.run
	s.mu.Unlock()
	if current {
		s.ping()
	}
}

// PingNow sends one ping outside of the schedule.
func (s *Sync) PingNow() { s.ping() }

func (s *Sync) ping() {
	s.mu.Lock()
	ctx := s.ctx
	if !s.running {
		ctx = context.Background()
	}
	p := Ping{TimeS: clock.Seconds(s.clock), LatencyS: s.latency}
	if len(s.outstanding) >= maxOutstanding {
		s.outstanding = map[float64]struct{}{}
	}
	s.outstanding[p.TimeS] = struct{}{}
	s.mu.Unlock()
	reply, err := s.pinger.Ping(ctx, p)
	if err != nil {
		s.logger.Warn("clock sync ping failed", "err", err)
		s.mu.Lock()
		delete(s.outstanding, p.TimeS)
		s.mu.Unlock()
		return
	}
	if reply != nil {
		s.HandleReply(*reply)
	}
}

// HandleReply updates the estimates with the answer to a ping. A reply that
// does not echo an outstanding ping is logged and ignored.
func (s *Sync) HandleReply(r Reply) error {
	now := clock.Seconds(s.clock)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outstanding[r.ClientTimestamp]; !ok {
		s.logger.Warn("clock sync reply does not match a ping", "client_timestamp", r.ClientTimestamp)
		return errors.Errorf("no outstanding ping sent at %v", r.ClientTimestamp)
	}
	delete(s.outstanding, r.ClientTimestamp)
	rtt := now - r.ClientTimestamp
	if rtt < 0 || math.IsNaN(rtt) {
		return errors.Errorf("negative round trip %v", rtt)
	}
	s.samples.push(rtt / 2)
	s.latency = s.samples.trimmedMean()
	s.offset = r.ServerTimestamp - s.latency - r.ClientTimestamp
	s.synced = true
	s.logger.Debug("clock sync", "latency_s", s.latency, "offset_s", s.offset, "samples", s.samples.n)
	return nil
}

// Latency is the estimated one-way latency to the time authority, in
// seconds.
func (s *Sync) Latency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency
}

// Offset is the estimated server time minus the local time, in seconds. It
// is 0 until the first reply.
func (s *Sync) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// LocalOffset is the amount to add to a server time to get the local time.
func (s *Sync) LocalOffset() float64 { return -s.Offset() }

// Synced reports whether at least one reply has been handled.
func (s *Sync) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (r *ring) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % ringSize
	if r.n < ringSize {
		r.n++
	}
}

func (r *ring) trimmedMean() float64 {
	if r.n == 0 {
		return 0
	}
	s := slices.Clone(r.buf[:r.n])
	slices.Sort(s)
	if len(s) > trimLargest {
		s = s[:len(s)-trimLargest]
	}
	return vek.Mean(s)
}
