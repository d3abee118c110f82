// Package watermill exposes an asyncnats connection as a watermill
// message.Publisher and message.Subscriber, so watermill routers and
// middleware can run on top of the bridge runtime.
package watermill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/asyncnats/internal/runtime"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("asyncnats: watermill adapter closed")

// DefaultNackResendSleep is the pause before a nacked message is delivered
// again.
const DefaultNackResendSleep = 100 * time.Millisecond

// Marshaler converts watermill messages to and from NATS messages.
type Marshaler = wmnats.MarshalerUnmarshaler

// Config configures both the publisher and the subscriber.
type Config struct {
	// Marshaler defaults to the header-based wmnats.NATSMarshaler.
	Marshaler Marshaler
	// NackResendSleep defaults to DefaultNackResendSleep.
	NackResendSleep time.Duration
}

func (c Config) withDefaults() Config {
	if c.Marshaler == nil {
		c.Marshaler = &wmnats.NATSMarshaler{}
	}
	if c.NackResendSleep <= 0 {
		c.NackResendSleep = DefaultNackResendSleep
	}
	return c
}

func adapterLogger(conn *runtime.Connection, role string) watermill.LoggerAdapter {
	return loggingpkg.NewWatermillAdapter(conn.Handle().Runtime().Logger()).
		With(watermill.LogFields{"adapter": "watermill", "role": role})
}

// Publisher publishes watermill messages through a connection clone.
type Publisher struct {
	conn      *runtime.Connection
	marshaler Marshaler
	logger    watermill.LoggerAdapter
	closed    atomic.Bool
}

var _ message.Publisher = (*Publisher)(nil)

// NewPublisher returns a publisher holding its own clone of conn.
func NewPublisher(conn *runtime.Connection, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{
		conn:      conn.Clone(),
		marshaler: cfg.Marshaler,
		logger:    adapterLogger(conn, "publisher"),
	}
}

// Publish sends messages to topic in order and stops at the first failure.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.closed.Load() {
		return ErrClosed
	}
	for _, msg := range messages {
		natsMsg, err := p.marshaler.Marshal(topic, msg)
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", msg.UUID, err)
		}
		if err := p.conn.Publish(msg.Context(), natsMsg); err != nil {
			return fmt.Errorf("publish message %s: %w", msg.UUID, err)
		}
		p.logger.Trace("Message published", watermill.LogFields{"uuid": msg.UUID, "topic": topic})
	}
	return nil
}

// Close releases the connection clone.
func (p *Publisher) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.conn.Close()
	}
	return nil
}

// Subscriber delivers messages of connection subscriptions as watermill
// messages. Each delivered message must be acked before the next one on the
// same subscription is delivered. Nacked messages are delivered again.
type Subscriber struct {
	conn   *runtime.Connection
	cfg    Config
	logger watermill.LoggerAdapter

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	subs    []*runtime.Subscription
	wg      sync.WaitGroup
}

var _ message.Subscriber = (*Subscriber)(nil)

// NewSubscriber returns a subscriber holding its own clone of conn.
func NewSubscriber(conn *runtime.Connection, cfg Config) *Subscriber {
	return &Subscriber{
		conn:    conn.Clone(),
		cfg:     cfg.withDefaults(),
		logger:  adapterLogger(conn, "subscriber"),
		closing: make(chan struct{}),
	}
}

// Subscribe subscribes to topic. The returned channel is closed when ctx is
// done, the subscriber is closed or the runtime shuts down.
func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	sub, err := s.conn.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := make(chan *message.Message)
	logger := s.logger.With(watermill.LogFields{"topic": topic})

	s.wg.Add(1)
	err = s.conn.Handle().Spawn(func(rtCtx context.Context) {
		defer s.wg.Done()
		defer close(out)
		defer sub.Close()
		ctx, cancel := mergeDone(ctx, rtCtx, s.closing)
		defer cancel()
		s.consume(ctx, sub, out, logger)
	})
	if err != nil {
		s.wg.Done()
		sub.Close()
		return nil, err
	}
	s.subs = append(s.subs, sub)
	logger.Debug("Subscribed", nil)
	return out, nil
}

func (s *Subscriber) consume(ctx context.Context, sub *runtime.Subscription, out chan<- *message.Message, logger watermill.LoggerAdapter) {
	for {
		msg := sub.Pop(ctx)
		if msg == nil {
			return
		}
		wmMsg, err := s.cfg.Marshaler.Unmarshal(msg.NATS())
		msgCtx := runtime.ExtractTrace(ctx, msg)
		msg.Release()
		if err != nil {
			logger.Error("Cannot unmarshal message, skipping", err, nil)
			continue
		}
		if !s.deliver(ctx, msgCtx, wmMsg, out, logger) {
			return
		}
	}
}

// deliver hands msg to out until it is acked. It reports false when ctx
// ended first.
func (s *Subscriber) deliver(ctx, msgCtx context.Context, msg *message.Message, out chan<- *message.Message, logger watermill.LoggerAdapter) bool {
	for {
		attempt := msg.Copy()
		attempt.SetContext(msgCtx)
		select {
		case out <- attempt:
		case <-ctx.Done():
			return false
		}
		select {
		case <-attempt.Acked():
			logger.Trace("Message acked", watermill.LogFields{"uuid": msg.UUID})
			return true
		case <-attempt.Nacked():
			logger.Debug("Message nacked, resending", watermill.LogFields{"uuid": msg.UUID})
			select {
			case <-time.After(s.cfg.NackResendSleep):
			case <-ctx.Done():
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

// Close stops every subscription and waits for their goroutines. It
// releases the connection clone afterwards.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	for _, sub := range s.subs {
		sub.CancellationToken().Cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.conn.Close()
	return nil
}

// mergeDone returns a context cancelled when parent is done, other is done
// or stop is closed.
func mergeDone(parent, other context.Context, stop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopOther := context.AfterFunc(other, cancel)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		stopOther()
		cancel()
	}
}
