package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/asyncnats/internal/runtime/buffer"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	headerspkg "github.com/drblury/asyncnats/internal/runtime/headers"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/transport"
)

const statusNoResponders = 503

// Request collects the optional parts of a request before it is sent.
type Request struct {
	inbox   string
	timeout time.Duration
	payload []byte
	headers headerspkg.Headers
}

// NewRequest returns an empty request: no payload, generated inbox and the
// connection's default timeout.
func NewRequest() *Request {
	return &Request{}
}

// SetInbox makes the reply arrive on inbox instead of a generated subject.
func (r *Request) SetInbox(inbox string) *Request {
	r.inbox = inbox
	return r
}

// SetTimeout bounds the wait for a reply. Zero means the connection default.
func (r *Request) SetTimeout(d time.Duration) *Request {
	r.timeout = d
	return r
}

// SetPayload copies payload into the request.
func (r *Request) SetPayload(payload []byte) *Request {
	r.payload = buffer.Borrow(payload).Copy()
	return r
}

// AddHeader appends a header value.
func (r *Request) AddHeader(name, value string) *Request {
	r.headers.Add(name, value)
	return r
}

func (r *Request) Inbox() string               { return r.inbox }
func (r *Request) Timeout() time.Duration      { return r.timeout }
func (r *Request) Payload() []byte             { return r.payload }
func (r *Request) Headers() headerspkg.Headers { return r.headers }

// RequestAsync sends payload to topic and waits for one reply. A
// non-positive timeout uses the connection default. done receives either
// the reply or a request error.
func (c *Connection) RequestAsync(topic string, payload []byte, timeout time.Duration, done func(*Message, *errpkg.RequestError)) {
	req := NewRequest().SetTimeout(timeout)
	req.payload = buffer.AsyncOf(payload).Stage()
	c.SendRequestAsync(topic, req, done)
}

// SendRequestAsync sends req to topic. The request must not be modified
// afterwards.
func (c *Connection) SendRequestAsync(topic string, req *Request, done func(*Message, *errpkg.RequestError)) {
	ref, err := c.acquire()
	if err != nil {
		done(nil, errpkg.NewRequestError(err))
		return
	}
	started := false
	Complete(c.h, func(ctx context.Context) (*Message, error) {
		started = true
		defer ref.Release()
		return c.request(ctx, ref.Value(), topic, req)
	}, func(msg *Message, err error) {
		if !started {
			ref.Release()
		}
		if err != nil {
			done(nil, errpkg.NewRequestError(err))
			return
		}
		done(msg, nil)
	})
}

// Request sends req to topic and blocks until a reply or failure. A nil req
// sends an empty payload.
func (c *Connection) Request(ctx context.Context, topic string, req *Request) (*Message, error) {
	if req == nil {
		req = NewRequest()
	}
	ref, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	return BlockOn(c.h, ctx, func(ctx context.Context) (*Message, error) {
		return c.request(ctx, ref.Value(), topic, req)
	})
}

func (c *Connection) request(ctx context.Context, client transport.Client, topic string, req *Request) (*Message, error) {
	if topic == "" {
		return nil, errpkg.ErrTopicRequired
	}
	rt := c.h.rt
	timeout := c.requestTimeout(req.timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := rt.startSpan(ctx, "nats.request", topic, trace.SpanKindClient)

	msg := &nats.Msg{Subject: topic, Data: req.payload, Header: req.headers.ToNATS()}
	injectTrace(ctx, msg)

	start := time.Now()
	var (
		reply *nats.Msg
		err   error
	)
	if req.inbox == "" {
		reply, err = client.Request(ctx, msg)
	} else {
		reply, err = requestWithInbox(ctx, client, msg, req.inbox)
	}
	if err == nil && isNoResponders(reply) {
		err = errpkg.ErrNoResponders
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
		err = fmt.Errorf("%w after %s: %w", errpkg.ErrRequestTimeout, timeout, err)
	}
	rt.metrics.requestDone(err, time.Since(start))
	endSpan(span, err)
	if err != nil {
		c.logger.Debug("Request failed", loggingpkg.LogFields{"subject": topic, "error": err.Error()})
		return nil, err
	}
	return rt.adopt(reply), nil
}

// requestWithInbox publishes msg with inbox as reply subject and waits for
// the first message on it.
func requestWithInbox(ctx context.Context, client transport.Client, msg *nats.Msg, inbox string) (*nats.Msg, error) {
	sub, err := client.Subscribe(inbox, 1)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg.Reply = inbox
	if err := client.Publish(msg); err != nil {
		return nil, err
	}
	select {
	case reply, ok := <-sub.Messages():
		if !ok {
			return nil, errpkg.ErrConnectionClosed
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// isNoResponders reports whether reply is the server's status message for a
// request nobody listened to.
func isNoResponders(reply *nats.Msg) bool {
	if reply == nil || len(reply.Data) != 0 {
		return false
	}
	return reply.Header.Get(headerspkg.Status) == strconv.Itoa(statusNoResponders)
}
