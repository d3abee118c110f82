package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/drblury/asyncnats/internal/runtime/buffer"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/internal/runtime/refcount"
)

const kindNamedSender = "named_sender"

// outgoing is one queued publish. permit is false for messages enqueued by
// Send after every permit was taken.
type outgoing struct {
	msg    *nats.Msg
	permit bool
}

// senderQueue is an unbounded FIFO with a single consumer.
type senderQueue struct {
	mu     sync.Mutex
	items  []outgoing
	closed bool
	wake   chan struct{}
}

func newSenderQueue() *senderQueue {
	return &senderQueue{wake: make(chan struct{}, 1)}
}

func (q *senderQueue) push(item outgoing) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.notify()
	return true
}

func (q *senderQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *senderQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop blocks for the next item. It reports false once the queue is closed
// and drained, or when ctx is done.
func (q *senderQueue) pop(ctx context.Context) (outgoing, bool) {
	for {
		if ctx.Err() != nil {
			return outgoing{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = outgoing{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return outgoing{}, false
		}
		select {
		case <-q.wake:
		case <-ctx.Done():
			return outgoing{}, false
		}
	}
}

// drain removes and returns whatever is still queued.
func (q *senderQueue) drain() []outgoing {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.closed = true
	return items
}

// senderCore is shared by every clone of a NamedSender.
type senderCore struct {
	refs     refcount.Counter
	conn     *Connection
	topic    string
	capacity int
	permits  *semaphore.Weighted
	queue    *senderQueue
	logger   loggingpkg.ServiceLogger
	overflow *loggingpkg.Throttled
	done     chan struct{}
}

// NamedSender publishes through one background task that drains a FIFO
// queue. At most capacity messages accepted by TrySend are unpublished at
// any time. Send never drops: when no permit is free the message is queued
// anyway and counted as overflow.
type NamedSender struct {
	core   *senderCore
	closed sync.Once
}

// NewNamedSender starts a sender publishing to topic by default. The sender
// holds its own clone of conn.
func NewNamedSender(conn *Connection, topic string, capacity int) (*NamedSender, error) {
	if topic == "" {
		return nil, errpkg.ErrTopicRequired
	}
	if capacity <= 0 {
		return nil, errpkg.ErrCapacityRequired
	}
	if conn.closed.Load() {
		return nil, errpkg.ErrConnectionClosed
	}

	logger := conn.logger.With(loggingpkg.LogFields{"topic": topic, "capacity": capacity})
	core := &senderCore{
		conn:     conn.Clone(),
		topic:    topic,
		capacity: capacity,
		permits:  semaphore.NewWeighted(int64(capacity)),
		queue:    newSenderQueue(),
		logger:   logger,
		overflow: loggingpkg.NewThrottled(logger, 1, 10*time.Second),
		done:     make(chan struct{}),
	}
	core.refs.Init()

	if err := conn.h.Spawn(core.run); err != nil {
		core.conn.Close()
		return nil, err
	}
	conn.h.rt.metrics.objectOpened(kindNamedSender)
	logger.Debug("Named sender started", nil)
	return &NamedSender{core: core}, nil
}

// run publishes queued messages in order until the queue is closed and
// drained or the runtime shuts down.
func (c *senderCore) run(ctx context.Context) {
	defer close(c.done)
	defer c.conn.Close()

	for {
		item, ok := c.queue.pop(ctx)
		if !ok {
			break
		}
		_ = c.conn.publish(ctx, c.conn.client.Value(), item.msg, pathSender)
		if item.permit {
			c.permits.Release(1)
		}
	}

	if left := c.queue.drain(); len(left) > 0 {
		c.logger.Error("Named sender stopped with unpublished messages", ctx.Err(), loggingpkg.LogFields{"dropped": len(left)})
		for _, item := range left {
			if item.permit {
				c.permits.Release(1)
			}
		}
	}
	c.logger.Debug("Named sender stopped", nil)
}

func (c *senderCore) message(topic string, data []byte) *nats.Msg {
	if topic == "" {
		topic = c.topic
	}
	return &nats.Msg{Subject: topic, Data: buffer.Borrow(data).Copy()}
}

// Topic returns the default topic.
func (s *NamedSender) Topic() string { return s.core.topic }

// Capacity returns the number of permits.
func (s *NamedSender) Capacity() int { return s.core.capacity }

// TrySend queues data for topic, or the default topic when topic is empty,
// if a permit is free. It reports false without queuing otherwise. data is
// copied.
func (s *NamedSender) TrySend(topic string, data []byte) bool {
	c := s.core
	if !c.permits.TryAcquire(1) {
		c.conn.h.rt.metrics.permitRejected()
		return false
	}
	if !c.queue.push(outgoing{msg: c.message(topic, data), permit: true}) {
		c.permits.Release(1)
		return false
	}
	return true
}

// Send queues data like TrySend but never refuses while the sender is open.
// Without a free permit the message bypasses the capacity bound.
func (s *NamedSender) Send(topic string, data []byte) error {
	c := s.core
	permit := c.permits.TryAcquire(1)
	if !permit {
		c.conn.h.rt.metrics.overflowSent()
		c.overflow.Info("Named sender over capacity, queuing without permit", nil)
	}
	if !c.queue.push(outgoing{msg: c.message(topic, data), permit: permit}) {
		if permit {
			c.permits.Release(1)
		}
		return errpkg.ErrSenderClosed
	}
	return nil
}

// Clone returns another handle on the same queue and background task.
func (s *NamedSender) Clone() *NamedSender {
	s.core.refs.Acquire()
	return &NamedSender{core: s.core}
}

// Close releases this handle. After the last Close the background task
// publishes what is queued and exits.
func (s *NamedSender) Close() {
	s.closed.Do(func() {
		if s.core.refs.Release() {
			s.core.queue.close()
			s.core.conn.h.rt.metrics.objectClosed(kindNamedSender)
		}
	})
}

// Done is closed once the background task has exited.
func (s *NamedSender) Done() <-chan struct{} { return s.core.done }
