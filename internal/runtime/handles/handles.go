// Package handles maps opaque integer handles to Go values so that objects can
// be referenced from foreign code without handing out Go pointers.
package handles

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Handle is an opaque, never-reused identifier. Zero is never issued and
// stands for "no object".
type Handle uintptr

// Kind tags a handle with the type of object it refers to so a handle of the
// wrong kind is detected instead of misinterpreted.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRuntimeConfig
	KindRuntime
	KindConnectParams
	KindConnection
	KindSubscription
	KindCancellationToken
	KindNamedSender
	KindNamedReceiver
	KindMessage
	KindHeaderIterator
	KindConnectError
	KindRequestError
	KindRequest
)

var kindNames = [...]string{
	KindUnknown:           "unknown",
	KindRuntimeConfig:     "runtime_config",
	KindRuntime:           "runtime",
	KindConnectParams:     "connect_params",
	KindConnection:        "connection",
	KindSubscription:      "subscription",
	KindCancellationToken: "cancellation_token",
	KindNamedSender:       "named_sender",
	KindNamedReceiver:     "named_receiver",
	KindMessage:           "message",
	KindHeaderIterator:    "header_iterator",
	KindConnectError:      "connect_error",
	KindRequestError:      "request_error",
	KindRequest:           "request",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

type entry struct {
	kind  Kind
	value any
}

// Table stores live handles.
type Table struct {
	mu      sync.RWMutex
	next    atomic.Uintptr
	entries map[Handle]entry
}

// Default is the process-wide table used by the exported C surface.
var Default = NewTable()

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[Handle]entry)}
}

// Put registers value under a fresh handle.
func (t *Table) Put(kind Kind, value any) Handle {
	if value == nil {
		panic("handles: nil value")
	}
	h := Handle(t.next.Add(1))
	t.mu.Lock()
	t.entries[h] = entry{kind: kind, value: value}
	t.mu.Unlock()
	return h
}

// Lookup returns the value for h and whether it exists with the given kind.
func (t *Table) Lookup(kind Kind, h Handle) (any, bool) {
	t.mu.RLock()
	e, ok := t.entries[h]
	t.mu.RUnlock()
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// MustLookup is Lookup that panics on a missing handle or kind mismatch.
// Invalid handles are host contract violations the boundary cannot report.
func (t *Table) MustLookup(kind Kind, h Handle) any {
	v, ok := t.Lookup(kind, h)
	if !ok {
		panic(fmt.Sprintf("handles: invalid %s handle %d", kind, h))
	}
	return v
}

// Delete removes h and returns the value it referred to. Deleting an
// unknown handle panics.
func (t *Table) Delete(kind Kind, h Handle) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok || e.kind != kind {
		panic(fmt.Sprintf("handles: delete of invalid %s handle %d", kind, h))
	}
	delete(t.entries, h)
	return e.value
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Counts returns the number of live handles per kind.
func (t *Table) Counts() map[Kind]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Kind]int)
	for _, e := range t.entries {
		out[e.kind]++
	}
	return out
}

// Get is a typed MustLookup.
func Get[T any](t *Table, kind Kind, h Handle) T {
	v := t.MustLookup(kind, h)
	typed, ok := v.(T)
	if !ok {
		panic(fmt.Sprintf("handles: %s handle %d holds %T", kind, h, v))
	}
	return typed
}

// Take is a typed Delete.
func Take[T any](t *Table, kind Kind, h Handle) T {
	v := t.Delete(kind, h)
	typed, ok := v.(T)
	if !ok {
		panic(fmt.Sprintf("handles: %s handle %d holds %T", kind, h, v))
	}
	return typed
}
