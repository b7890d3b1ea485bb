// Package realtime subscribes to Pusher channels over the Pusher websocket protocol (v7).
//
// Only public channels are supported: the backend authenticates the image channels
// implicitly by name, so there is no auth endpoint round trip.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrAppKeyRequired = errors.New("pusher app key is required")
	ErrSubscription   = errors.New("channel subscription failed")
	ErrClosed         = errors.New("realtime connection closed")
	ErrHandshake      = errors.New("pusher handshake failed")
)

// Events the protocol delivers to channel bindings.
const (
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
)

// Handler receives the decoded data of one event. Handlers of a connection run
// one at a time, in arrival order.
type Handler func(data json.RawMessage)

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Channel, error)
	Close() error
}

type Channel interface {
	Name() string
	Bind(event string, h Handler)
	Unsubscribe() error
}

type Config struct {
	AppKey  string
	Cluster string
	// Host overrides ws-<cluster>.pusher.com, e.g. for a self-hosted compatible broker.
	Host     string
	Insecure bool
}
