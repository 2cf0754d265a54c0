package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/clocksync"
	"github.com/pkg/errors"
)

type (
	// Hub is an in-memory Socket. A pushed event goes to the request
	// handler registered for it, if any, which produces the reply;
	// otherwise it is broadcast to every other channel joined to the
	// topic.
	Hub struct {
		logger *slog.Logger

		mu       sync.Mutex
		members  map[string]map[*hubChannel]struct{}
		requests map[string]RequestHandler
	}

	// RequestHandler answers an event pushed on topic.
	RequestHandler func(topic string, payload json.RawMessage) (any, error)

	hubChannel struct {
		hub   *Hub
		topic string

		mu       sync.Mutex
		joined   bool
		handlers map[string]Handler
	}
)

var ErrNotJoined = errors.New("channel not joined")

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, members: map[string]map[*hubChannel]struct{}{}, requests: map[string]RequestHandler{}}
}

func (h *Hub) Channel(topic string) Channel {
	return &hubChannel{hub: h, topic: topic, handlers: map[string]Handler{}}
}

// Handle makes h answer every push of event, on any topic.
func (h *Hub) Handle(event string, handler RequestHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests[event] = handler
}

// Broadcast delivers an event to every channel joined to topic and returns
// how many received it.
func (h *Hub) Broadcast(topic, event string, payload any) (int, error) {
	return h.broadcast(nil, topic, event, payload)
}

// Members returns the number of channels joined to topic.
func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members[topic])
}

func (h *Hub) broadcast(from *hubChannel, topic, event string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrapf(err, "encoding %s", event)
	}
	h.mu.Lock()
	var to []*hubChannel
	for c := range h.members[topic] {
		if c != from {
			to = append(to, c)
		}
	}
	h.mu.Unlock()
	for _, c := range to {
		c.deliver(event, data)
	}
	return len(to), nil
}

// ServeTime makes the hub answer "time-ping" events with the time of clk,
// the way the time authority of a session server does.
func ServeTime(h *Hub, clk clock.Clock) {
	h.Handle("time-ping", func(_ string, payload json.RawMessage) (any, error) {
		var p clocksync.Ping
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrap(err, "decoding time ping")
		}
		return clocksync.Reply{ClientTimestamp: p.TimeS, ServerTimestamp: clock.Seconds(clk)}, nil
	})
}

func (c *hubChannel) Topic() string { return c.topic }

func (c *hubChannel) Join(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "joining %s", c.topic)
	}
	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	m, ok := c.hub.members[c.topic]
	if !ok {
		m = map[*hubChannel]struct{}{}
		c.hub.members[c.topic] = m
	}
	m[c] = struct{}{}
	c.hub.logger.Debug("joined topic", "topic", c.topic)
	return nil
}

func (c *hubChannel) Leave() error {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return errors.Wrapf(ErrNotJoined, "leaving %s", c.topic)
	}
	c.joined = false
	c.mu.Unlock()
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	delete(c.hub.members[c.topic], c)
	if len(c.hub.members[c.topic]) == 0 {
		delete(c.hub.members, c.topic)
	}
	return nil
}

func (c *hubChannel) Push(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "pushing %s", event)
	}
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined {
		return nil, errors.Wrapf(ErrNotJoined, "pushing %s to %s", event, c.topic)
	}
	c.hub.mu.Lock()
	handler, ok := c.hub.requests[event]
	c.hub.mu.Unlock()
	if !ok {
		_, err := c.hub.broadcast(c, c.topic, event, payload)
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", event)
	}
	reply, err := handler(c.topic, data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s on %s", event, c.topic)
	}
	if reply == nil {
		return nil, nil
	}
	ret, err := json.Marshal(reply)
	return ret, errors.Wrapf(err, "encoding reply to %s", event)
}

func (c *hubChannel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *hubChannel) deliver(event string, data json.RawMessage) {
	c.mu.Lock()
	h, ok := c.handlers[event]
	c.mu.Unlock()
	if !ok {
		c.hub.logger.Debug("no handler for event", "topic", c.topic, "event", event)
		return
	}
	h(data)
}
