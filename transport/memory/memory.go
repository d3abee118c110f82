// Package memory provides an in-process transport. Clients that connect to
// the same memory://<name> address share one broker, so a test can run a
// publisher and a subscriber without a server.
package memory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/nats-io/nats.go"

	"github.com/drblury/asyncnats/internal/runtime/headers"
	"github.com/drblury/asyncnats/internal/runtime/ids"
	"github.com/drblury/asyncnats/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "memory"

// DefaultBuffer is used for subscriptions created with a zero buffer.
const DefaultBuffer = 1024

// StatusNoResponders is the status a request receives when nobody listens.
const StatusNoResponders = "503"

func init() {
	Register()
}

// Register registers the memory transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MemoryCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MemoryCapabilities
}

var (
	brokersMu sync.Mutex
	brokers   = make(map[string]*Broker)
)

// BrokerFor returns the broker named name, creating it on first use.
func BrokerFor(name string) *Broker {
	brokersMu.Lock()
	defer brokersMu.Unlock()
	b, ok := brokers[name]
	if !ok {
		b = NewBroker()
		brokers[name] = b
	}
	return b
}

// Build connects to the broker named by the host of the first server.
func Build(ctx context.Context, opts transport.Options, logger watermill.LoggerAdapter) (transport.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := transport.ParseAddr(opts.Servers[0])
	if err != nil {
		return nil, err
	}
	return BrokerFor(u.Hostname()).Connect(opts.NoEcho, logger), nil
}

// PublishHook runs before a message is routed. It may block to simulate a
// slow network, and a non-nil error fails the publish.
type PublishHook func(msg *nats.Msg) error

// Broker routes messages between the clients connected to it.
type Broker struct {
	mu   sync.RWMutex
	subs []*subscriber
	hook PublishHook

	dropped atomic.Int64
}

// NewBroker creates an empty, unregistered broker.
func NewBroker() *Broker {
	return &Broker{}
}

// SetPublishHook installs hook for every subsequent publish. nil removes it.
func (b *Broker) SetPublishHook(hook PublishHook) {
	b.mu.Lock()
	b.hook = hook
	b.mu.Unlock()
}

// Dropped returns how many messages were discarded because a subscriber's
// buffer was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Connect returns a new client session on the broker.
func (b *Broker) Connect(noEcho bool, logger watermill.LoggerAdapter) *Client {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Client{broker: b, noEcho: noEcho, logger: logger.With(watermill.LogFields{"transport": TransportName})}
}

func (b *Broker) publish(from *Client, msg *nats.Msg) error {
	b.mu.RLock()
	hook := b.hook
	b.mu.RUnlock()
	if hook != nil {
		if err := hook(msg); err != nil {
			return err
		}
	}

	delivered := b.route(from, copyMsg(msg))
	if delivered == 0 && msg.Reply != "" {
		status := nats.NewMsg(msg.Reply)
		status.Header.Set(headers.Status, StatusNoResponders)
		b.route(nil, status)
	}
	return nil
}

// route hands msg to every matching subscriber and returns how many
// matched. Delivery happens under the read lock so Unsubscribe, which takes
// the write lock before closing a channel, never races a send.
func (b *Broker) route(from *Client, msg *nats.Msg) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	matched := 0
	for _, s := range b.subs {
		if from != nil && from.noEcho && s.client == from {
			continue
		}
		if !Match(s.subject, msg.Subject) {
			continue
		}
		matched++
		m := msg
		if matched > 1 {
			m = copyMsg(msg)
		}
		m.Sub = nil
		select {
		case s.msgs <- m:
		default:
			s.client.logger.Error("Subscriber buffer full, message dropped", nil, watermill.LogFields{"subject": s.subject})
			b.dropped.Add(1)
		}
	}
	return matched
}

func (b *Broker) add(s *subscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

func (b *Broker) remove(target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(s.msgs)
			return
		}
	}
}

// Client is a session on a Broker.
type Client struct {
	broker *Broker
	noEcho bool
	logger watermill.LoggerAdapter

	mu     sync.Mutex
	closed bool
	subs   map[*subscriber]struct{}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Publish(msg *nats.Msg) error {
	if c.isClosed() {
		return nats.ErrConnectionClosed
	}
	if msg.Subject == "" {
		return nats.ErrBadSubject
	}
	return c.broker.publish(c, msg)
}

func (c *Client) Subscribe(subject string, buffer int) (transport.Subscriber, error) {
	if subject == "" {
		return nil, nats.ErrBadSubject
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nats.ErrConnectionClosed
	}
	s := &subscriber{client: c, subject: subject, msgs: make(chan *nats.Msg, buffer)}
	if c.subs == nil {
		c.subs = make(map[*subscriber]struct{})
	}
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	c.broker.add(s)
	return s, nil
}

// Request behaves like a server with no-responders support: a request
// nobody listens to fails with nats.ErrNoResponders, a request whose
// responders stay silent fails with the context error.
func (c *Client) Request(ctx context.Context, msg *nats.Msg) (*nats.Msg, error) {
	inbox := c.NewInbox()
	sub, err := c.Subscribe(inbox, 1)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	req := copyMsg(msg)
	req.Reply = inbox
	if err := c.Publish(req); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-sub.Messages():
		if !ok {
			return nil, nats.ErrConnectionClosed
		}
		if len(reply.Data) == 0 && reply.Header.Get(headers.Status) == StatusNoResponders {
			return nil, nats.ErrNoResponders
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) NewInbox() string {
	return nats.InboxPrefix + ids.New()
}

func (c *Client) Flush(ctx context.Context) error {
	if c.isClosed() {
		return nats.ErrConnectionClosed
	}
	return ctx.Err()
}

// Close ends every subscription opened by this client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for s := range subs {
		_ = s.unsubscribe()
	}
	return nil
}

func (c *Client) Capabilities() transport.Capabilities {
	return transport.MemoryCapabilities
}

type subscriber struct {
	client  *Client
	subject string
	msgs    chan *nats.Msg
	once    sync.Once
}

func (s *subscriber) Subject() string            { return s.subject }
func (s *subscriber) Messages() <-chan *nats.Msg { return s.msgs }

func (s *subscriber) Unsubscribe() error {
	s.client.mu.Lock()
	delete(s.client.subs, s)
	s.client.mu.Unlock()
	return s.unsubscribe()
}

func (s *subscriber) unsubscribe() error {
	s.once.Do(func() { s.client.broker.remove(s) })
	return nil
}

// Match reports whether subject matches pattern using NATS token rules:
// `*` matches exactly one token and a trailing `>` matches one or more.
func Match(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return i == len(pt)-1 && len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

func copyMsg(msg *nats.Msg) *nats.Msg {
	out := &nats.Msg{
		Subject: msg.Subject,
		Reply:   msg.Reply,
	}
	if msg.Data != nil {
		out.Data = append([]byte(nil), msg.Data...)
	}
	if len(msg.Header) > 0 {
		out.Header = make(nats.Header, len(msg.Header))
		for k, v := range msg.Header {
			out.Header[k] = append([]string(nil), v...)
		}
	}
	return out
}
