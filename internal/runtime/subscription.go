package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/internal/runtime/refcount"
	"github.com/drblury/asyncnats/transport"
)

const (
	kindSubscription = "subscription"
	kindMessage      = "message"
)

// SubscriptionState is the lifecycle phase of a Subscription.
type SubscriptionState int32

const (
	// SubscriptionActive: messages are being received.
	SubscriptionActive SubscriptionState = iota
	// SubscriptionUnsubscribing: shutdown was requested and the client is
	// tearing the subscription down.
	SubscriptionUnsubscribing
	// SubscriptionClosed: the stream ended; every pop returns nil.
	SubscriptionClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionActive:
		return "active"
	case SubscriptionUnsubscribing:
		return "unsubscribing"
	case SubscriptionClosed:
		return "closed"
	}
	return "unknown"
}

// shutdownSignal is closed at most once, by whichever token fires first.
type shutdownSignal struct {
	once sync.Once
	ch   chan struct{}
}

func (s *shutdownSignal) fire() {
	s.once.Do(func() { close(s.ch) })
}

// CancellationToken asks a subscription to shut down. Tokens obtained from
// the same subscription, and their clones, share one signal; cancelling more
// than once has no further effect.
type CancellationToken struct {
	sig *shutdownSignal
}

// Cancel signals the subscription.
func (t *CancellationToken) Cancel() { t.sig.fire() }

// Clone returns another token for the same signal.
func (t *CancellationToken) Clone() *CancellationToken {
	return &CancellationToken{sig: t.sig}
}

// Done is closed once the token was cancelled.
func (t *CancellationToken) Done() <-chan struct{} { return t.sig.ch }

// Cancelled reports whether Cancel was called on any token of the signal.
func (t *CancellationToken) Cancelled() bool {
	select {
	case <-t.sig.ch:
		return true
	default:
		return false
	}
}

// Subscription is an active message stream plus its shutdown signal.
type Subscription struct {
	conn    *Connection
	client  *refcount.Ref[transport.Client]
	sub     transport.Subscriber
	subject string
	sig     *shutdownSignal
	logger  loggingpkg.ServiceLogger

	state     atomic.Int32
	unsubOnce sync.Once
	closed    atomic.Bool
}

func newSubscription(conn *Connection, client *refcount.Ref[transport.Client], sub transport.Subscriber) *Subscription {
	s := &Subscription{
		conn:    conn,
		client:  client,
		sub:     sub,
		subject: sub.Subject(),
		sig:     &shutdownSignal{ch: make(chan struct{})},
		logger:  conn.logger.With(loggingpkg.LogFields{"subject": sub.Subject()}),
	}
	conn.h.rt.metrics.objectOpened(kindSubscription)
	s.logger.Debug("Subscribed", nil)
	return s
}

// Subject returns the subscribed subject.
func (s *Subscription) Subject() string { return s.subject }

// State returns the current lifecycle phase.
func (s *Subscription) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

// CancellationToken returns a token that shuts this subscription down.
func (s *Subscription) CancellationToken() *CancellationToken {
	return &CancellationToken{sig: s.sig}
}

// Pop waits for the next message or the shutdown signal. A message that is
// already waiting wins over a pending shutdown. It returns nil once the
// stream has ended, after shutdown, or when ctx is done.
func (s *Subscription) Pop(ctx context.Context) *Message {
	if s.State() == SubscriptionClosed {
		return nil
	}
	msgs := s.sub.Messages()

	select {
	case m, ok := <-msgs:
		return s.received(m, ok)
	default:
	}

	select {
	case m, ok := <-msgs:
		return s.received(m, ok)
	case <-s.sig.ch:
		s.unsubscribe()
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (s *Subscription) received(m *nats.Msg, ok bool) *Message {
	if !ok {
		s.state.Store(int32(SubscriptionClosed))
		return nil
	}
	return s.conn.h.rt.adopt(m)
}

// adopt wraps an inbound message and tracks it as a live object.
func (r *Runtime) adopt(m *nats.Msg) *Message {
	msg := MessageFromNATS(m)
	r.metrics.objectOpened(kindMessage)
	msg.OnRelease(func() { r.metrics.objectClosed(kindMessage) })
	return msg
}

// unsubscribe tears the client subscription down exactly once.
func (s *Subscription) unsubscribe() {
	s.unsubOnce.Do(func() {
		s.state.CompareAndSwap(int32(SubscriptionActive), int32(SubscriptionUnsubscribing))
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Error("Unsubscribe failed", err, nil)
		}
		s.state.Store(int32(SubscriptionClosed))
		s.logger.Debug("Unsubscribed", nil)
	})
}

// Recv blocks until the next message, end of stream, or ctx is done.
func (s *Subscription) Recv(ctx context.Context) *Message {
	msg, _ := BlockOn(s.conn.h, ctx, func(ctx context.Context) (*Message, error) {
		return s.Pop(ctx), nil
	})
	return msg
}

// ReceiveAsync pops one message on a task and hands it to done. done
// receives nil at end of stream.
func (s *Subscription) ReceiveAsync(done func(*Message)) {
	Complete(s.conn.h, func(ctx context.Context) (*Message, error) {
		return s.Pop(ctx), nil
	}, func(msg *Message, _ error) {
		done(msg)
	})
}

// Close signals shutdown and unsubscribes on a task, then releases the
// session. It returns without waiting for the unsubscribe.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.sig.fire()
	rt := s.conn.h.rt
	rt.metrics.objectClosed(kindSubscription)

	cleanup := func(context.Context) {
		s.unsubscribe()
		s.client.Release()
	}
	if err := s.conn.h.Spawn(cleanup); err != nil {
		cleanup(context.Background())
	}
}
