package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/internal/runtime/refcount"
)

const kindNamedReceiver = "named_receiver"

// receiverCore is shared by every clone of a NamedReceiver.
type receiverCore struct {
	refs     refcount.Counter
	sub      *Subscription
	queue    chan *Message
	capacity int
	logger   loggingpkg.ServiceLogger
	drops    *loggingpkg.Throttled
	released atomic.Bool
	done     chan struct{}
}

// NamedReceiver buffers a subscription into a bounded queue that can be
// polled without a runtime. Messages arriving while the queue is full are
// dropped. Clones compete for the same queue: each message is delivered to
// at most one of them.
type NamedReceiver struct {
	core   *receiverCore
	closed sync.Once
}

// NewNamedReceiver takes ownership of sub and starts feeding its messages
// into a queue of the given capacity. sub is closed when an error is
// returned.
func NewNamedReceiver(sub *Subscription, capacity int) (*NamedReceiver, error) {
	if capacity <= 0 {
		sub.Close()
		return nil, errpkg.ErrCapacityRequired
	}
	logger := sub.logger.With(loggingpkg.LogFields{"capacity": capacity})
	core := &receiverCore{
		sub:      sub,
		queue:    make(chan *Message, capacity),
		capacity: capacity,
		logger:   logger,
		drops:    loggingpkg.NewThrottled(logger, 1, 10*time.Second),
		done:     make(chan struct{}),
	}
	core.refs.Init()

	h := sub.conn.h
	if err := h.Spawn(core.run); err != nil {
		sub.Close()
		return nil, err
	}
	h.rt.metrics.objectOpened(kindNamedReceiver)
	return &NamedReceiver{core: core}, nil
}

func (c *receiverCore) run(ctx context.Context) {
	metrics := c.sub.conn.h.rt.metrics
	for {
		msg := c.sub.Pop(ctx)
		if msg == nil {
			break
		}
		select {
		case c.queue <- msg:
		default:
			msg.Release()
			metrics.receiverDropped()
			c.drops.Error("Named receiver queue full, message dropped", nil, nil)
		}
	}
	close(c.queue)
	close(c.done)
	if c.released.Load() {
		c.discard()
	}
	c.logger.Debug("Named receiver stopped", nil)
}

// discard releases messages nobody will read anymore.
func (c *receiverCore) discard() {
	for {
		select {
		case msg, ok := <-c.queue:
			if !ok {
				return
			}
			msg.Release()
		default:
			return
		}
	}
}

// Capacity returns the queue bound.
func (r *NamedReceiver) Capacity() int { return r.core.capacity }

// Len returns the number of queued messages.
func (r *NamedReceiver) Len() int { return len(r.core.queue) }

// TryRecv returns the next queued message, or nil when the queue is empty
// or closed.
func (r *NamedReceiver) TryRecv() *Message {
	select {
	case msg, ok := <-r.core.queue:
		if !ok {
			return nil
		}
		return msg
	default:
		return nil
	}
}

// Recv blocks until a message is queued. It returns nil once the
// subscription has ended and the queue is drained, or when ctx is done.
func (r *NamedReceiver) Recv(ctx context.Context) *Message {
	select {
	case msg, ok := <-r.core.queue:
		if !ok {
			return nil
		}
		return msg
	case <-ctx.Done():
		return nil
	}
}

// Clone returns another consumer of the same queue.
func (r *NamedReceiver) Clone() *NamedReceiver {
	r.core.refs.Acquire()
	return &NamedReceiver{core: r.core}
}

// Close releases this handle. The last Close cancels the subscription and
// releases any message still queued.
func (r *NamedReceiver) Close() {
	r.closed.Do(func() {
		c := r.core
		if !c.refs.Release() {
			return
		}
		c.released.Store(true)
		c.sub.Close()
		c.sub.conn.h.rt.metrics.objectClosed(kindNamedReceiver)
		select {
		case <-c.done:
			c.discard()
		default:
		}
	})
}

// Done is closed once the subscription has ended and no more messages will
// be queued.
func (r *NamedReceiver) Done() <-chan struct{} { return r.core.done }
