package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bleepsynth/bleep/clock"
	"github.com/bleepsynth/bleep/clocksync"
	"github.com/bleepsynth/bleep/transport"
)

func TestBroadcast(t *testing.T) {
	hub := transport.NewHub(nil)
	ctx := context.Background()
	a, b := hub.Channel("bleep-audio:jam"), hub.Channel("bleep-audio:jam")
	other := hub.Channel("bleep-audio:elsewhere")
	var gotB, gotOther []string
	b.On("sched-bleep-audio", func(p json.RawMessage) { gotB = append(gotB, string(p)) })
	other.On("sched-bleep-audio", func(p json.RawMessage) { gotOther = append(gotOther, string(p)) })
	for _, c := range []transport.Channel{a, b, other} {
		if err := c.Join(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if hub.Members("bleep-audio:jam") != 2 {
		t.Fatalf("Members() = %d, want 2", hub.Members("bleep-audio:jam"))
	}
	reply, err := a.Push(ctx, "sched-bleep-audio", map[string]any{"cmd": "triggerFX"})
	if err != nil || reply != nil {
		t.Fatalf("Push returned %s, %v", reply, err)
	}
	if len(gotB) != 1 || gotB[0] != `{"cmd":"triggerFX"}` {
		t.Errorf("b received %v", gotB)
	}
	if len(gotOther) != 0 {
		t.Errorf("a channel of another topic received %v", gotOther)
	}
	n, err := hub.Broadcast("bleep-audio:jam", "sched-bleep-audio", 1)
	if err != nil || n != 2 {
		t.Errorf("Broadcast reached %d channels, err %v", n, err)
	}
	if err := b.Leave(); err != nil {
		t.Fatal(err)
	}
	if err := b.Leave(); !errors.Is(err, transport.ErrNotJoined) {
		t.Errorf("leaving twice returned %v", err)
	}
	if _, err := b.Push(ctx, "sched-bleep-audio", nil); !errors.Is(err, transport.ErrNotJoined) {
		t.Errorf("pushing on a left channel returned %v", err)
	}
	hub.Broadcast("bleep-audio:jam", "sched-bleep-audio", 2)
	if len(gotB) != 2 {
		t.Errorf("a left channel should not receive events, got %v", gotB)
	}
}

func TestRequestReply(t *testing.T) {
	hub := transport.NewHub(nil)
	fake := clock.NewFake(time.Unix(500, 0))
	transport.ServeTime(hub, fake)
	c := hub.Channel("bleep-time-sync:user")
	if err := c.Join(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := c.Push(context.Background(), "time-ping", clocksync.Ping{TimeS: 12.5, LatencyS: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	var r clocksync.Reply
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if r.ClientTimestamp != 12.5 || r.ServerTimestamp != 500 {
		t.Errorf("reply %+v", r)
	}
	if _, err := c.Push(context.Background(), "time-ping", "not a ping"); err == nil {
		t.Error("a malformed ping should be an error")
	}
}

func TestCancelledContext(t *testing.T) {
	hub := transport.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := hub.Channel("t").Join(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Join with a cancelled context returned %v", err)
	}
}
