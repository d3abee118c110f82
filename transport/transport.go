// Package transport defines the messaging client contract the bridge runtime
// drives. Each implementation lives in its own sub-package and registers
// itself for the URL schemes it serves.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"
)

// Client is a connected messaging session. Implementations must be safe for
// concurrent use; the runtime shares one Client between every clone of a
// connection.
type Client interface {
	// Publish sends msg without waiting for delivery. Headers and Reply are
	// optional.
	Publish(msg *nats.Msg) error
	// Subscribe starts delivering messages on subject. buffer bounds the
	// number of pending messages held for the subscriber.
	Subscribe(subject string, buffer int) (Subscriber, error)
	// Request publishes msg with a fresh reply subject and waits for the
	// first reply or ctx expiry.
	Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	// NewInbox returns a unique reply subject.
	NewInbox() string
	// Flush waits until the server has processed everything sent so far.
	Flush(ctx context.Context) error
	// Close releases the session. Pending subscribers see their message
	// channel closed.
	Close() error
}

// Subscriber is an active subscription.
type Subscriber interface {
	Subject() string
	// Messages is closed once the subscription is gone.
	Messages() <-chan *nats.Msg
	Unsubscribe() error
}

// Builder creates a client for the given options.
type Builder func(ctx context.Context, opts Options, logger watermill.LoggerAdapter) (Client, error)

// Options carries everything a transport needs to open a session. Servers
// are already validated by the registry and share one scheme family.
type Options struct {
	Servers        []string
	Name           string
	User           string
	Password       string
	Token          string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	NoEcho         bool
}

// CapabilitiesProvider is implemented by clients that can report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
