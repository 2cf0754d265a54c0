// Package transport is the publish/subscribe boundary a session talks to
// other participants through. A Socket hands out Channels, one per topic;
// events pushed on a channel carry a JSON payload and may get a reply.
package transport

import (
	"context"
	"encoding/json"
)

type (
	// Handler receives the payload of an event.
	Handler func(payload json.RawMessage)

	Socket interface {
		Channel(topic string) Channel
	}

	Channel interface {
		Topic() string
		// Join subscribes to the topic. Events arrive at the handlers
		// registered with On.
		Join(ctx context.Context) error
		Leave() error
		// Push sends an event to the topic and returns the reply, if the
		// other side gives one.
		Push(ctx context.Context, event string, payload any) (json.RawMessage, error)
		// On registers h for event, replacing any earlier handler.
		On(event string, h Handler)
	}
)
