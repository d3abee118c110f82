// Package headers holds the ordered multi-value header map carried by
// messages. Names keep their insertion order, which makes iteration stable
// across the host boundary, and a name may carry several values.
package headers

import (
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
)

// Well-known headers set by the server on status messages.
const (
	Status      = "Status"
	Description = "Description"
)

// Headers represents the headers carried alongside a message.
type Headers struct {
	names  []string
	values map[string][]string
}

// New constructs headers from alternating name/value pairs. A repeated name
// appends a value.
func New(pairs ...string) Headers {
	var h Headers
	for i := 0; i < len(pairs)-1; i += 2 {
		h.Add(pairs[i], pairs[i+1])
	}
	return h
}

// FromNATS converts a nats.Header. Map iteration order is random, so names
// are sorted to keep the result deterministic.
func FromNATS(src nats.Header) Headers {
	if len(src) == 0 {
		return Headers{}
	}
	names := make([]string, 0, len(src))
	for name := range src {
		names = append(names, name)
	}
	sort.Strings(names)

	h := Headers{names: names, values: make(map[string][]string, len(src))}
	for _, name := range names {
		h.values[name] = append([]string(nil), src[name]...)
	}
	return h
}

// ToNATS converts the headers into a nats.Header. It returns nil for empty
// headers so messages without headers stay header-less on the wire.
func (h Headers) ToNATS() nats.Header {
	if h.Len() == 0 {
		return nil
	}
	out := make(nats.Header, len(h.names))
	for _, name := range h.names {
		out[name] = append([]string(nil), h.values[name]...)
	}
	return out
}

// Add appends value to name.
func (h *Headers) Add(name, value string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = append(h.values[name], value)
}

// Set replaces all values of name.
func (h *Headers) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = []string{value}
}

// Del removes name.
func (h *Headers) Del(name string) {
	if _, ok := h.values[name]; !ok {
		return
	}
	delete(h.values, name)
	for i, n := range h.names {
		if n == name {
			h.names = append(h.names[:i:i], h.names[i+1:]...)
			break
		}
	}
}

// Get returns the first value of name, or "".
func (h Headers) Get(name string) string {
	if v := h.values[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value of name. The slice must not be modified.
func (h Headers) Values(name string) []string {
	return h.values[name]
}

// Has reports whether name is present.
func (h Headers) Has(name string) bool {
	_, ok := h.values[name]
	return ok
}

// Names returns the header names in order. The slice must not be modified.
func (h Headers) Names() []string {
	return h.names
}

// Len returns the number of distinct names.
func (h Headers) Len() int {
	return len(h.names)
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	if h.Len() == 0 {
		return Headers{}
	}
	out := Headers{
		names:  append([]string(nil), h.names...),
		values: make(map[string][]string, len(h.values)),
	}
	for name, vals := range h.values {
		out.values[name] = append([]string(nil), vals...)
	}
	return out
}

// Map returns the headers as a plain map, for rendering.
func (h Headers) Map() map[string][]string {
	out := make(map[string][]string, len(h.names))
	for _, name := range h.names {
		out[name] = h.values[name]
	}
	return out
}

// WireLen returns the number of bytes the header block occupies in the NATS
// protocol: the version line, one "name: value\r\n" line per value and the
// terminating blank line.
func (h Headers) WireLen() int {
	if h.Len() == 0 {
		return 0
	}
	n := len("NATS/1.0\r\n")
	for _, name := range h.names {
		for _, v := range h.values[name] {
			n += len(name) + len(": ") + len(v) + len("\r\n")
		}
	}
	return n + len("\r\n")
}

// String renders the headers in wire order for debugging.
func (h Headers) String() string {
	var b strings.Builder
	for _, name := range h.names {
		for _, v := range h.values[name] {
			b.WriteString(name)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\n")
		}
	}
	return b.String()
}
