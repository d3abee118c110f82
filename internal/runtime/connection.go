package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/asyncnats/internal/runtime/buffer"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	headerspkg "github.com/drblury/asyncnats/internal/runtime/headers"
	idspkg "github.com/drblury/asyncnats/internal/runtime/ids"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/internal/runtime/refcount"
	"github.com/drblury/asyncnats/transport"
)

const kindConnection = "connection"

// Connection is one handle on a client session. Clones share the session,
// which stays open until the last clone and every operation started from
// any clone have released it.
type Connection struct {
	h      Handle
	client *refcount.Ref[transport.Client]
	caps   transport.Capabilities
	params configpkg.ConnectParams
	logger loggingpkg.ServiceLogger
	closed atomic.Bool
}

// Connect dials asynchronously. done receives either a connection or a
// connect error, never both, from a callback slot of the runtime.
func Connect(h Handle, params *configpkg.ConnectParams, done func(*Connection, *errpkg.ConnectError)) {
	p := params.Clone()
	Complete(h, func(ctx context.Context) (*Connection, error) {
		return dial(ctx, h, p)
	}, func(conn *Connection, err error) {
		if err != nil {
			done(nil, errpkg.NewConnectError(err))
			return
		}
		done(conn, nil)
	})
}

// Dial connects and blocks until the session is established.
func Dial(ctx context.Context, h Handle, params *configpkg.ConnectParams) (*Connection, error) {
	p := params.Clone()
	return BlockOn(h, ctx, func(ctx context.Context) (*Connection, error) {
		return dial(ctx, h, p)
	})
}

func dial(ctx context.Context, h Handle, params *configpkg.ConnectParams) (*Connection, error) {
	rt := h.rt
	if err := params.Validate(); err != nil {
		return nil, errpkg.ConfigValidationError{Err: err}
	}
	p := params.WithDefaults()
	if p.Name == "" {
		p.Name = idspkg.ClientName(rt.conf.ThreadName)
	}
	logger := rt.logger.With(loggingpkg.LogFields{"client": p.Name})

	ctx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	defer cancel()
	ctx, span := rt.tracer.Start(ctx, "nats.connect", trace.WithSpanKind(trace.SpanKindClient))

	client, caps, err := rt.registry.Build(ctx, transport.Options{
		Servers:        p.Addrs,
		Name:           p.Name,
		User:           p.User,
		Password:       p.Password,
		Token:          p.Token,
		ConnectTimeout: p.ConnectTimeout,
		ReconnectWait:  p.ReconnectWait,
		MaxReconnects:  p.MaxReconnects,
		NoEcho:         p.NoEcho,
	}, loggingpkg.NewWatermillAdapter(logger))
	endSpan(span, err)
	if err != nil {
		logger.Error("Connect failed", err, loggingpkg.LogFields{"params": p.String()})
		return nil, err
	}
	logger.Info("Connected", loggingpkg.LogFields{"transport": caps.Name})

	conn := &Connection{
		h:      h,
		caps:   caps,
		params: p,
		logger: logger,
	}
	conn.client = refcount.New(client, func(c transport.Client) {
		conn.shutdown(c)
	})
	rt.metrics.objectOpened(kindConnection)
	return conn, nil
}

// shutdown runs once, after the final release of the session.
func (c *Connection) shutdown(client transport.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), c.params.ConnectTimeout)
	defer cancel()
	if err := client.Flush(ctx); err != nil {
		c.logger.Debug("Flush before close failed", loggingpkg.LogFields{"error": err.Error()})
	}
	if err := client.Close(); err != nil {
		c.logger.Error("Close failed", err, nil)
		return
	}
	c.logger.Debug("Connection closed", nil)
}

// Clone returns a new handle sharing the session.
func (c *Connection) Clone() *Connection {
	clone := &Connection{
		h:      c.h,
		client: c.client.Clone(),
		caps:   c.caps,
		params: c.params,
		logger: c.logger,
	}
	c.h.rt.metrics.objectOpened(kindConnection)
	return clone
}

// Close releases this handle. The session itself closes once nothing else
// references it. Closing twice is a no-op.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.h.rt.metrics.objectClosed(kindConnection)
	c.client.Release()
}

// Handle returns the runtime handle the connection schedules on.
func (c *Connection) Handle() Handle { return c.h }

// Params returns the effective connect parameters.
func (c *Connection) Params() configpkg.ConnectParams { return c.params }

// Capabilities describes the transport behind the connection.
func (c *Connection) Capabilities() transport.Capabilities { return c.caps }

// acquire pins the session for the duration of one operation.
func (c *Connection) acquire() (*refcount.Ref[transport.Client], error) {
	if c.closed.Load() {
		return nil, errpkg.ErrConnectionClosed
	}
	return c.client.Clone(), nil
}

// Mailbox returns a fresh inbox subject.
func (c *Connection) Mailbox() string {
	return c.client.Value().NewInbox()
}

// Flush blocks until the server acknowledged everything published so far.
func (c *Connection) Flush(ctx context.Context) error {
	ref, err := c.acquire()
	if err != nil {
		return err
	}
	defer ref.Release()
	_, err = BlockOn(c.h, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ref.Value().Flush(ctx)
	})
	return err
}

// FlushAsync flushes on a task and reports the outcome to done.
func (c *Connection) FlushAsync(done func(error)) {
	ref, err := c.acquire()
	if err != nil {
		done(err)
		return
	}
	started := false
	Complete(c.h, func(ctx context.Context) (struct{}, error) {
		started = true
		defer ref.Release()
		return struct{}{}, ref.Value().Flush(ctx)
	}, func(_ struct{}, err error) {
		if !started {
			ref.Release()
		}
		done(err)
	})
}

// PublishAsync publishes payload to topic. payload is copied before the call
// returns. done, which may be nil, runs once the client accepted or
// rejected the message; failures are logged and counted, not reported.
func (c *Connection) PublishAsync(topic string, payload []byte, done func()) {
	c.publishAsync(&nats.Msg{Subject: topic, Data: buffer.AsyncOf(payload).Stage()}, done)
}

// PublishWithReplyAsync is PublishAsync with a reply subject.
func (c *Connection) PublishWithReplyAsync(topic, reply string, payload []byte, done func()) {
	c.publishAsync(&nats.Msg{Subject: topic, Reply: reply, Data: buffer.AsyncOf(payload).Stage()}, done)
}

// PublishWithHeadersAsync is PublishAsync with headers. hdrs is copied.
func (c *Connection) PublishWithHeadersAsync(topic string, hdrs headerspkg.Headers, payload []byte, done func()) {
	c.publishAsync(&nats.Msg{
		Subject: topic,
		Data:    buffer.AsyncOf(payload).Stage(),
		Header:  hdrs.ToNATS(),
	}, done)
}

// PublishMessageAsync republishes msg. The message is retained until the
// publish finished.
func (c *Connection) PublishMessageAsync(msg *Message, done func()) {
	msg.Clone()
	c.publishAsync(msg.NATS(), func() {
		msg.Release()
		if done != nil {
			done()
		}
	})
}

// Publish blocks until the client accepted msg and returns its error. Unlike
// the async variants the failure reaches the caller.
func (c *Connection) Publish(ctx context.Context, msg *nats.Msg) error {
	if msg.Subject == "" {
		return errpkg.ErrTopicRequired
	}
	ref, err := c.acquire()
	if err != nil {
		return err
	}
	defer ref.Release()
	_, err = BlockOn(c.h, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.publish(ctx, ref.Value(), msg, pathSync)
	})
	return err
}

func (c *Connection) publishAsync(msg *nats.Msg, done func()) {
	ref, err := c.acquire()
	if err != nil {
		c.logger.Error("Publish on closed connection", err, loggingpkg.LogFields{"subject": msg.Subject})
		if done != nil {
			done()
		}
		return
	}
	started := false
	Complete(c.h, func(ctx context.Context) (struct{}, error) {
		started = true
		defer ref.Release()
		return struct{}{}, c.publish(ctx, ref.Value(), msg, pathAsync)
	}, func(_ struct{}, err error) {
		if !started {
			ref.Release()
			c.logger.Error("Publish after runtime close", err, loggingpkg.LogFields{"subject": msg.Subject})
		}
		if done != nil {
			done()
		}
	})
}

func (c *Connection) publish(ctx context.Context, client transport.Client, msg *nats.Msg, path string) error {
	ctx, span := c.h.rt.startSpan(ctx, "nats.publish", msg.Subject, trace.SpanKindProducer)
	injectTrace(ctx, msg)
	err := client.Publish(msg)
	endSpan(span, err)
	c.h.rt.metrics.published(path, err)
	if err != nil {
		c.logger.Error("Publish failed", err, loggingpkg.LogFields{"subject": msg.Subject, "path": path})
	}
	return err
}

// Subscribe blocks until the subscription on topic is established.
func (c *Connection) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return BlockOn(c.h, ctx, func(ctx context.Context) (*Subscription, error) {
		return c.subscribe(ctx, topic)
	})
}

// SubscribeAsync subscribes on a task. done receives either the
// subscription or the error.
func (c *Connection) SubscribeAsync(topic string, done func(*Subscription, error)) {
	Complete(c.h, func(ctx context.Context) (*Subscription, error) {
		return c.subscribe(ctx, topic)
	}, done)
}

func (c *Connection) subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if topic == "" {
		return nil, errpkg.ErrTopicRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref, err := c.acquire()
	if err != nil {
		return nil, err
	}
	sub, err := ref.Value().Subscribe(topic, c.params.SubscriptionBuffer)
	if err != nil {
		ref.Release()
		c.logger.Error("Subscribe failed", err, loggingpkg.LogFields{"subject": topic})
		return nil, err
	}
	return newSubscription(c, ref, sub), nil
}

// requestTimeout returns timeout, or the connection default when it is not
// positive.
func (c *Connection) requestTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return c.params.RequestTimeout
}
