package runtime

import (
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"

	headerspkg "github.com/drblury/asyncnats/internal/runtime/headers"
	"github.com/drblury/asyncnats/internal/runtime/jsoncodec"
	"github.com/drblury/asyncnats/internal/runtime/refcount"
)

// Message is an immutable, reference counted inbound or outbound message.
// Views returned by its accessors stay valid until the final Release.
type Message struct {
	rc refcount.Counter

	subject     string
	reply       string
	payload     []byte
	headers     headerspkg.Headers
	status      int
	description string

	mu        sync.Mutex
	onRelease []func()
}

// NewMessage builds a message from Go values. payload is retained, not
// copied.
func NewMessage(subject, reply string, payload []byte, hdrs headerspkg.Headers) *Message {
	m := &Message{subject: subject, reply: reply, payload: payload, headers: hdrs}
	m.status, m.description = statusOf(hdrs)
	m.rc.Init()
	return m
}

// MessageFromNATS adopts a received nats.Msg.
func MessageFromNATS(msg *nats.Msg) *Message {
	return NewMessage(msg.Subject, msg.Reply, msg.Data, headerspkg.FromNATS(msg.Header))
}

func statusOf(h headerspkg.Headers) (int, string) {
	raw := h.Get(headerspkg.Status)
	if raw == "" {
		return 0, ""
	}
	code, err := strconv.Atoi(raw)
	if err != nil || code < 0 || code > 0xFFFF {
		return 0, ""
	}
	return code, h.Get(headerspkg.Description)
}

func (m *Message) Subject() string { return m.subject }
func (m *Message) Reply() string   { return m.reply }
func (m *Message) Payload() []byte { return m.payload }

// Status returns the server status code, or 0 when the message has none.
func (m *Message) Status() int { return m.status }

// Description returns the status description, if any.
func (m *Message) Description() string { return m.description }

// Length is the number of bytes the message occupies on the wire: subject,
// reply, payload and header block.
func (m *Message) Length() int {
	return len(m.subject) + len(m.reply) + len(m.payload) + m.headers.WireLen()
}

func (m *Message) HasHeaders() bool            { return m.headers.Len() > 0 }
func (m *Message) Headers() headerspkg.Headers { return m.headers }

// Header returns the first value of name.
func (m *Message) Header(name string) string { return m.headers.Get(name) }

// HeaderIterator iterates over every header of the message.
func (m *Message) HeaderIterator() *HeaderIterator {
	return newHeaderIterator(m, m.headers.Names())
}

// GetHeader returns an iterator over the single header name, or nil when
// the message does not carry it.
func (m *Message) GetHeader(name string) *HeaderIterator {
	if !m.headers.Has(name) {
		return nil
	}
	return newHeaderIterator(m, []string{name})
}

// NATS converts the message for publishing.
func (m *Message) NATS() *nats.Msg {
	return &nats.Msg{
		Subject: m.subject,
		Reply:   m.reply,
		Data:    m.payload,
		Header:  m.headers.ToNATS(),
	}
}

type messageView struct {
	Subject     string              `json:"subject"`
	Reply       string              `json:"reply,omitempty"`
	Payload     string              `json:"payload"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Status      int                 `json:"status,omitempty"`
	Description string              `json:"description,omitempty"`
	Length      int                 `json:"length"`
}

// String renders the message as JSON.
func (m *Message) String() string {
	view := messageView{
		Subject:     m.subject,
		Reply:       m.reply,
		Payload:     string(m.payload),
		Status:      m.status,
		Description: m.description,
		Length:      m.Length(),
	}
	if m.HasHeaders() {
		view.Headers = m.headers.Map()
	}
	out, err := jsoncodec.MarshalString(view)
	if err != nil {
		return strconv.Quote(m.subject)
	}
	return out
}

// Clone increments the reference count and returns m.
func (m *Message) Clone() *Message {
	m.rc.Acquire()
	return m
}

// Release decrements the reference count. The final release runs the
// registered release hooks and reports true.
func (m *Message) Release() bool {
	if !m.rc.Release() {
		return false
	}
	m.mu.Lock()
	hooks := m.onRelease
	m.onRelease = nil
	m.mu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	return true
}

// OnRelease registers fn to run after the final Release, in reverse
// registration order. Foreign views of the message are freed this way.
func (m *Message) OnRelease(fn func()) {
	m.mu.Lock()
	m.onRelease = append(m.onRelease, fn)
	m.mu.Unlock()
}

// HeaderIterator walks header names and their values. It starts before the
// first entry; call Next to advance. It keeps its message alive and is
// reference counted on its own.
type HeaderIterator struct {
	rc    refcount.Counter
	msg   *Message
	names []string
	pos   int
}

func newHeaderIterator(msg *Message, names []string) *HeaderIterator {
	it := &HeaderIterator{msg: msg.Clone(), names: names, pos: -1}
	it.rc.Init()
	return it
}

// Next advances to the next entry and reports whether there is one.
func (it *HeaderIterator) Next() bool {
	if it.pos < len(it.names) {
		it.pos++
	}
	return it.pos < len(it.names)
}

// Key returns the current header name, or "" when not positioned on one.
func (it *HeaderIterator) Key() string {
	if it.pos < 0 || it.pos >= len(it.names) {
		return ""
	}
	return it.names[it.pos]
}

// ValueCount returns the number of values of the current header.
func (it *HeaderIterator) ValueCount() int {
	return len(it.msg.headers.Values(it.Key()))
}

// ValueAt returns the i-th value of the current header, or "" when out of
// range.
func (it *HeaderIterator) ValueAt(i int) string {
	values := it.msg.headers.Values(it.Key())
	if i < 0 || i >= len(values) {
		return ""
	}
	return values[i]
}

// Message returns the message the iterator belongs to.
func (it *HeaderIterator) Message() *Message { return it.msg }

// Clone increments the reference count and returns it.
func (it *HeaderIterator) Clone() *HeaderIterator {
	it.rc.Acquire()
	return it
}

// Release decrements the reference count; the final release drops the
// iterator's reference on its message.
func (it *HeaderIterator) Release() bool {
	if !it.rc.Release() {
		return false
	}
	it.msg.Release()
	return true
}
