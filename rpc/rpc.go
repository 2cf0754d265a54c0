// Package rpc serves a time authority and an event relay over net/rpc, and
// provides the client side of both.
package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/clocksync"
	"github.com/pkg/errors"
)

const DefaultAddress = ":31337"

// relayHistory is how many messages the relay keeps per topic.
const relayHistory = 1024

type (
	// TimeServer answers clock sync pings with its own time.
	TimeServer struct {
		clock clock.Clock
	}

	// Relay keeps the recent messages of each topic for clients to poll.
	Relay struct {
		mu     sync.Mutex
		seq    uint64
		topics map[string][]Message
	}

	Message struct {
		Seq     uint64
		Topic   string
		Event   string
		Payload json.RawMessage
	}

	PublishArgs struct {
		Topic   string
		Event   string
		Payload json.RawMessage
	}

	PollArgs struct {
		Topic string
		After uint64
	}

	Server struct {
		listener net.Listener
		logger   *slog.Logger
	}

	Client struct {
		c *rpc.Client
	}
)

func (s *TimeServer) Ping(p clocksync.Ping, reply *clocksync.Reply) error {
	*reply = clocksync.Reply{ClientTimestamp: p.TimeS, ServerTimestamp: clock.Seconds(s.clock)}
	return nil
}

// Publish stores a message and returns its sequence number.
func (r *Relay) Publish(args PublishArgs, seq *uint64) error {
	if args.Topic == "" {
		return errors.New("publish: empty topic")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics == nil {
		r.topics = map[string][]Message{}
	}
	r.seq++
	msgs := append(r.topics[args.Topic], Message{Seq: r.seq, Topic: args.Topic, Event: args.Event, Payload: args.Payload})
	if len(msgs) > relayHistory {
		msgs = msgs[len(msgs)-relayHistory:]
	}
	r.topics[args.Topic] = msgs
	*seq = r.seq
	return nil
}

// Poll returns the messages of a topic published after the given sequence
// number.
func (r *Relay) Poll(args PollArgs, msgs *[]Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*msgs = nil
	for _, m := range r.topics[args.Topic] {
		if m.Seq > args.After {
			*msgs = append(*msgs, m)
		}
	}
	return nil
}

// Listen starts serving the time authority and the relay on address.
func Listen(address string, clk clock.Clock, logger *slog.Logger) (*Server, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := rpc.NewServer()
	if err := srv.Register(&TimeServer{clock: clk}); err != nil {
		return nil, errors.Wrap(err, "registering time server")
	}
	if err := srv.Register(&Relay{}); err != nil {
		return nil, errors.Wrap(err, "registering relay")
	}
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "net.Listen failed")
	}
	go func() {
		if err := http.Serve(l, srv); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Error("rpc server stopped", "err", err)
		}
	}()
	logger.Info("rpc server listening", "address", l.Addr().String())
	return &Server{listener: l, logger: logger}, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) Close() error { return s.listener.Close() }

func Dial(address string) (*Client, error) {
	c, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "rpc.DialHTTP failed")
	}
	return &Client{c: c}, nil
}

func (c *Client) Close() error { return c.c.Close() }

// Ping makes the client a clocksync.Pinger.
func (c *Client) Ping(ctx context.Context, p clocksync.Ping) (*clocksync.Reply, error) {
	var reply clocksync.Reply
	if err := c.call(ctx, "TimeServer.Ping", p, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) Publish(ctx context.Context, topic, event string, payload any) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrapf(err, "encoding %s", event)
	}
	var seq uint64
	err = c.call(ctx, "Relay.Publish", PublishArgs{Topic: topic, Event: event, Payload: data}, &seq)
	return seq, err
}

func (c *Client) Poll(ctx context.Context, topic string, after uint64) ([]Message, error) {
	var msgs []Message
	err := c.call(ctx, "Relay.Poll", PollArgs{Topic: topic, After: after}, &msgs)
	return msgs, err
}

func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	call := c.c.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return errors.Wrapf(call.Error, "%s failed", method)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s", method)
	}
}
