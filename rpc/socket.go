package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/clocksync"
	"github.com/bleepsynth/bleep/transport"
	"github.com/pkg/errors"
)

// DefaultPollInterval is how often a joined channel polls the relay.
const DefaultPollInterval = 100 * time.Millisecond

type (
	// Socket is a transport.Socket over a relay. Joined channels poll the
	// relay for new messages; "time-ping" pushes are answered by the time
	// server.
	Socket struct {
		client   *Client
		clock    clock.Clock
		logger   *slog.Logger
		interval time.Duration
	}

	channel struct {
		s     *Socket
		topic string

		mu       sync.Mutex
		handlers map[string]transport.Handler
		own      map[uint64]struct{}
		after    uint64
		timer    clock.Timer
		joined   bool
	}
)

func NewSocket(client *Client, clk clock.Clock, logger *slog.Logger) *Socket {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{client: client, clock: clk, logger: logger, interval: DefaultPollInterval}
}

func (s *Socket) Channel(topic string) transport.Channel {
	return &channel{s: s, topic: topic, handlers: map[string]transport.Handler{}, own: map[uint64]struct{}{}}
}

func (c *channel) Topic() string { return c.topic }

// Join skips the messages published before it and starts polling.
func (c *channel) Join(ctx context.Context) error {
	msgs, err := c.s.client.Poll(ctx, c.topic, 0)
	if err != nil {
		return errors.Wrapf(err, "joining %s", c.topic)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(msgs) > 0 {
		c.after = msgs[len(msgs)-1].Seq
	}
	c.joined = true
	c.timer = c.s.clock.AfterFunc(c.s.interval, c.poll)
	return nil
}

func (c *channel) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return errors.Wrapf(transport.ErrNotJoined, "leaving %s", c.topic)
	}
	c.joined = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return nil
}

func (c *channel) Push(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	if event == "time-ping" {
		p, ok := payload.(clocksync.Ping)
		if !ok {
			return nil, errors.Errorf("time-ping payload is %T", payload)
		}
		r, err := c.s.client.Ping(ctx, p)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(r)
		return data, errors.Wrap(err, "encoding time reply")
	}
	seq, err := c.s.client.Publish(ctx, c.topic, event, payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.own[seq] = struct{}{}
	c.mu.Unlock()
	return nil, nil
}

func (c *channel) On(event string, h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *channel) poll() {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	after := c.after
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), c.s.interval*10)
	msgs, err := c.s.client.Poll(ctx, c.topic, after)
	cancel()
	if err != nil {
		c.s.logger.Warn("polling relay failed", "topic", c.topic, "err", err)
	}
	type delivery struct {
		h    transport.Handler
		data json.RawMessage
	}
	var deliveries []delivery
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	for _, m := range msgs {
		if m.Seq <= c.after {
			continue
		}
		c.after = m.Seq
		if _, ok := c.own[m.Seq]; ok {
			delete(c.own, m.Seq)
			continue
		}
		if h, ok := c.handlers[m.Event]; ok {
			deliveries = append(deliveries, delivery{h, m.Payload})
		}
	}
	c.timer = c.s.clock.AfterFunc(c.s.interval, c.poll)
	c.mu.Unlock()
	for _, d := range deliveries {
		d.h(d.data)
	}
}
