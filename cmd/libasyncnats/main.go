// Command libasyncnats builds the C shared library of the bridge:
//
//	CGO_ENABLED=1 go build -buildmode=c-shared -o libasyncnats.so ./cmd/libasyncnats
//
// The generated libasyncnats.h declares every async_nats_* function. Objects
// are passed to the host as opaque integer handles from handles.Default;
// byte views point into C memory owned by the object that produced them.
// Callbacks run on runtime goroutines, never on the calling thread.
//
// Builds tagged asyncnats_debug overwrite borrowed arguments with
// buffer.PoisonByte when the call returns, so hosts must pass writable
// memory to such builds.
package main

/*
#include "bridge.h"
*/
import "C"

import (
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/drblury/asyncnats/internal/runtime/buffer"
	"github.com/drblury/asyncnats/internal/runtime/handles"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	_ "github.com/drblury/asyncnats/transport/transports"
)

func main() {}

var (
	table = handles.Default

	// logger reports failures that have no error channel back to the host.
	logger = loggingpkg.NewTextLogger(os.Stderr, slog.LevelWarn).With(loggingpkg.LogFields{"component": "capi"})

	ownedStrings sync.Map // unsafe.Pointer -> *buffer.Owned
)

// handleType matches the C handle typedefs, whatever integer type cgo
// picks for uintptr_t.
type handleType interface {
	~uintptr | ~uint64 | ~uint32
}

func put[H handleType](kind handles.Kind, v any) H {
	return H(table.Put(kind, v))
}

func get[T any, H handleType](kind handles.Kind, h H) T {
	return handles.Get[T](table, kind, handles.Handle(h))
}

func take[T any, H handleType](kind handles.Kind, h H) T {
	return handles.Take[T](table, kind, handles.Handle(h))
}

func drop[H handleType](kind handles.Kind, h H) {
	table.Delete(kind, handles.Handle(h))
}

// ownedString copies s into C memory whose ownership passes to the host.
func ownedString(s string) C.AsyncNatsOwnedString {
	p := C.CString(s)
	o := buffer.NewOwned(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(s)+1), func([]byte) {
		C.free(unsafe.Pointer(p))
	})
	ownedStrings.Store(unsafe.Pointer(p), o)
	return p
}

func ownedError(err error) C.AsyncNatsOwnedString {
	if err == nil {
		return nil
	}
	return ownedString(err.Error())
}

//export async_nats_owned_string_delete
func async_nats_owned_string_delete(s C.AsyncNatsOwnedString) {
	if s == nil {
		return
	}
	v, ok := ownedStrings.LoadAndDelete(unsafe.Pointer(s))
	if !ok {
		panic("asyncnats: release of an unknown or already released owned string")
	}
	v.(*buffer.Owned).Release()
}

//export async_nats_owned_string_length
func async_nats_owned_string_length(s C.AsyncNatsOwnedString) C.uint64_t {
	if s == nil {
		return 0
	}
	v, ok := ownedStrings.Load(unsafe.Pointer(s))
	if !ok {
		panic("asyncnats: unknown owned string")
	}
	return C.uint64_t(v.(*buffer.Owned).Len() - 1)
}

// copyString copies a NUL terminated C string. NULL reads as "".
func copyString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// cStringView views a NUL terminated C string without copying. NULL gives a
// nil view.
func cStringView(s *C.char) []byte {
	if s == nil {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(s)), int(C.strlen(s)))
}

// borrowStrings passes copies of the borrowed C strings ss to fn inside one
// borrowed scope, so debug builds poison the host memory once fn returns.
func borrowStrings(fn func(vals ...string), ss ...*C.char) {
	bs := make([][]byte, len(ss))
	for i, s := range ss {
		bs[i] = cStringView(s)
	}
	buffer.ScopeAll(bs, func(views []buffer.Borrowed) {
		vals := make([]string, len(views))
		for i, v := range views {
			vals[i] = v.String()
		}
		fn(vals...)
	})
}

// cBytes views C memory without copying. The view is only valid while the
// host keeps the memory alive, so callees copy it before returning.
func cBytes(data unsafe.Pointer, size C.ulonglong) []byte {
	if data == nil || size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(data), int(size))
}

func borrowedBytes(m C.AsyncNatsBorrowedMessage) []byte {
	return cBytes(unsafe.Pointer(m.data), m.size)
}

func asyncMessage(m C.AsyncNatsAsyncMessage) buffer.Async {
	return buffer.AsyncOf(cBytes(unsafe.Pointer(m.data), m.size))
}

func sliceString(s C.AsyncNatsSlice) string {
	return string(cBytes(unsafe.Pointer(s.data), C.ulonglong(s.size)))
}

// cViews caches C copies of byte views handed out for one object. They
// are freed together when the object goes away.
type cViews struct {
	mu    sync.Mutex
	views map[string]C.AsyncNatsSlice
}

func (v *cViews) slice(key string, b []byte) C.AsyncNatsSlice {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.views[key]; ok {
		return s
	}
	s := C.AsyncNatsSlice{size: C.uint64_t(len(b))}
	if len(b) > 0 {
		s.data = (*C.uint8_t)(C.CBytes(b))
	}
	if v.views == nil {
		v.views = make(map[string]C.AsyncNatsSlice)
	}
	v.views[key] = s
	return s
}

func (v *cViews) free() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, s := range v.views {
		if s.data != nil {
			C.free(unsafe.Pointer(s.data))
		}
		delete(v.views, key)
	}
}
