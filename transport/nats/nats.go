// Package nats provides the NATS Core client used by the bridge runtime.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/asyncnats/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// DefaultFlushTimeout bounds Flush when the caller's context has no deadline.
const DefaultFlushTimeout = 10 * time.Second

// Dial opens the underlying connection. Tests override it.
var Dial = func(url string, opts ...nats.Option) (*nats.Conn, error) {
	return nats.Connect(url, opts...)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry for the
// nats, tls, ws and wss schemes.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

// Build connects to the servers in opts.
func Build(ctx context.Context, opts transport.Options, logger watermill.LoggerAdapter) (transport.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger = logger.With(watermill.LogFields{"transport": TransportName})

	nc, err := Dial(strings.Join(opts.Servers, ","), Options(opts, logger)...)
	if err != nil {
		return nil, fmt.Errorf("connect to %d server(s): %w", len(opts.Servers), err)
	}
	logger.Debug("Connected", watermill.LogFields{"server": nc.ConnectedUrlRedacted()})
	return &Client{nc: nc, logger: logger}, nil
}

// Options translates transport options into nats.go connect options.
func Options(opts transport.Options, logger watermill.LoggerAdapter) []nats.Option {
	out := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("Disconnected", err, nil)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected", watermill.LogFields{"server": nc.ConnectedUrlRedacted()})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := watermill.LogFields{}
			if sub != nil {
				fields["subject"] = sub.Subject
			}
			logger.Error("Asynchronous client error", err, fields)
		}),
	}
	if opts.ConnectTimeout > 0 {
		out = append(out, nats.Timeout(opts.ConnectTimeout))
	}
	if opts.ReconnectWait > 0 {
		out = append(out, nats.ReconnectWait(opts.ReconnectWait))
	}
	if opts.User != "" {
		out = append(out, nats.UserInfo(opts.User, opts.Password))
	}
	if opts.Token != "" {
		out = append(out, nats.Token(opts.Token))
	}
	if opts.NoEcho {
		out = append(out, nats.NoEcho())
	}
	return out
}

// Client wraps a *nats.Conn.
type Client struct {
	nc     *nats.Conn
	logger watermill.LoggerAdapter
}

// NewClient wraps an existing connection.
func NewClient(nc *nats.Conn, logger watermill.LoggerAdapter) *Client {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Client{nc: nc, logger: logger}
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) Publish(msg *nats.Msg) error {
	return c.nc.PublishMsg(msg)
}

func (c *Client) Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error) {
	return c.nc.RequestMsgWithContext(ctx, msg)
}

func (c *Client) NewInbox() string {
	return c.nc.NewInbox()
}

func (c *Client) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultFlushTimeout)
		defer cancel()
	}
	return c.nc.FlushWithContext(ctx)
}

func (c *Client) Close() error {
	c.nc.Close()
	return nil
}

// Capabilities reports the negotiated payload limit.
func (c *Client) Capabilities() transport.Capabilities {
	caps := transport.NATSCapabilities
	if max := c.nc.MaxPayload(); max > 0 {
		caps.MaxPayload = max
	}
	return caps
}

// Subscribe creates a synchronous subscription and pumps it into a channel
// so the caller can select on it. buffer sets the pending message limit.
func (c *Client) Subscribe(subject string, buffer int) (transport.Subscriber, error) {
	sub, err := c.nc.SubscribeSync(subject)
	if err != nil {
		return nil, err
	}
	if buffer > 0 {
		if err := sub.SetPendingLimits(buffer, -1); err != nil {
			_ = sub.Unsubscribe()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		sub:    sub,
		msgs:   make(chan *nats.Msg),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: c.logger.With(watermill.LogFields{"subject": subject}),
	}
	go s.pump(ctx)
	return s, nil
}

type subscriber struct {
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
	logger watermill.LoggerAdapter
}

func (s *subscriber) Subject() string            { return s.sub.Subject }
func (s *subscriber) Messages() <-chan *nats.Msg { return s.msgs }

// Unsubscribe stops delivery and waits for the pump to close Messages.
// Repeated calls return the first result.
func (s *subscriber) Unsubscribe() error {
	s.once.Do(func() {
		err := s.sub.Unsubscribe()
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			err = nil
		}
		s.err = err
		s.cancel()
		<-s.done
	})
	return s.err
}

func (s *subscriber) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.msgs)
	for {
		msg, err := s.sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, nats.ErrSlowConsumer) {
				s.logger.Error("Subscriber is too slow, messages were dropped", err, nil)
				continue
			}
			return
		}
		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}
