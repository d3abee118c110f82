// Package buffer names the three lifetime classes of byte data that cross the
// host boundary.
//
//   - Borrowed: valid only for the duration of the call that received it. The
//     callee must copy anything it wants to keep.
//   - Owned: allocated by the bridge and handed to the host, which must release
//     it exactly once.
//   - Async: supplied by the host to an asynchronous operation. The contract
//     only promises validity until the completion callback, but the bridge
//     stages a private copy before the call returns so no task ever reads host
//     memory after the call frame is gone.
package buffer

import (
	"sync/atomic"
)

// PoisonByte is written over borrowed memory after a scope ends when
// poisoning is enabled.
const PoisonByte = 0xA5

var poison atomic.Bool

func init() {
	poison.Store(debugPoison)
}

// SetPoison toggles borrowed-buffer poisoning and returns the previous value.
// It is enabled by default in builds tagged asyncnats_debug.
func SetPoison(enabled bool) bool {
	return poison.Swap(enabled)
}

// Borrowed is a view that must not outlive the call it was passed to.
type Borrowed struct {
	b []byte
}

// Borrow wraps b as a borrowed view.
func Borrow(b []byte) Borrowed {
	return Borrowed{b: b}
}

// Bytes returns the underlying memory. The slice is only valid inside the
// current call.
func (v Borrowed) Bytes() []byte { return v.b }

// Len returns the view length.
func (v Borrowed) Len() int { return len(v.b) }

// IsNil reports whether the host passed no data at all, which is distinct
// from an empty buffer.
func (v Borrowed) IsNil() bool { return v.b == nil }

// String copies the view into a Go string.
func (v Borrowed) String() string { return string(v.b) }

// Copy returns a copy that may be retained.
func (v Borrowed) Copy() []byte {
	if v.b == nil {
		return nil
	}
	out := make([]byte, len(v.b))
	copy(out, v.b)
	return out
}

// Scope runs fn with b as a borrowed view. When poisoning is enabled the
// memory is overwritten after fn returns so code that kept a reference reads
// garbage deterministically instead of stale data.
func Scope(b []byte, fn func(Borrowed)) {
	ScopeAll([][]byte{b}, func(views []Borrowed) { fn(views[0]) })
}

// ScopeAll is Scope for the several borrowed arguments of one call. Every
// view is poisoned together once fn returns.
func ScopeAll(bs [][]byte, fn func([]Borrowed)) {
	views := make([]Borrowed, len(bs))
	for i, b := range bs {
		views[i] = Borrow(b)
	}
	fn(views)
	if !poison.Load() {
		return
	}
	for _, b := range bs {
		for i := range b {
			b[i] = PoisonByte
		}
	}
}

// Async is host memory handed to an asynchronous operation.
type Async struct {
	b []byte
}

// AsyncOf wraps b as an async buffer.
func AsyncOf(b []byte) Async {
	return Async{b: b}
}

// Stage copies the buffer into bridge-owned memory. It must be called before
// the operation that received the buffer returns to the host.
func (a Async) Stage() []byte {
	return Borrow(a.b).Copy()
}

// Len returns the buffer length.
func (a Async) Len() int { return len(a.b) }

// Owned is memory the bridge transferred to the host.
type Owned struct {
	data     []byte
	release  func([]byte)
	released atomic.Bool
}

// NewOwned wraps data. release runs once, on Release, and may be nil.
func NewOwned(data []byte, release func([]byte)) *Owned {
	return &Owned{data: data, release: release}
}

// OwnedString is a convenience for NewOwned([]byte(s), nil).
func OwnedString(s string) *Owned {
	return NewOwned([]byte(s), nil)
}

// Bytes returns the owned data. Using it after Release is undefined.
func (o *Owned) Bytes() []byte { return o.data }

// String returns the owned data as a string copy.
func (o *Owned) String() string { return string(o.data) }

// Len returns the owned data length.
func (o *Owned) Len() int { return len(o.data) }

// Release frees the buffer. A second release is a host contract violation
// and panics.
func (o *Owned) Release() {
	if !o.released.CompareAndSwap(false, true) {
		panic("buffer: owned buffer released twice")
	}
	if o.release != nil {
		o.release(o.data)
	}
	o.data = nil
}

// Released reports whether Release was called.
func (o *Owned) Released() bool {
	return o.released.Load()
}
