package main

import (
	"context"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/drblury/asyncnats/internal/runtime"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	"github.com/drblury/asyncnats/internal/runtime/handles"
	idspkg "github.com/drblury/asyncnats/internal/runtime/ids"
)

// Test files cannot import "C". The C argument types are therefore taken
// from the signatures of the functions that accept them.

const waitFor = 2 * time.Second

// handleFor converts h to the handle type accepted by fn.
func handleFor[H, From handleType](fn func(H), h From) H {
	return H(h)
}

// cString returns a NUL terminated copy of s typed like the parameter of
// conv, plus the bytes of that copy without the terminator.
func cString[P any](conv func(P) string, s string) (P, []byte) {
	b := append([]byte(s), 0)
	p := unsafe.Pointer(&b[0])
	return *(*P)(unsafe.Pointer(&p)), b[:len(s)]
}

// borrowedMessageLayout mirrors AsyncNatsBorrowedMessage.
type borrowedMessageLayout struct {
	data unsafe.Pointer
	size uint64
}

// messageArg wraps data in the borrowed message struct accepted by conv.
func messageArg[M any](conv func(M) []byte, data []byte) M {
	l := borrowedMessageLayout{size: uint64(len(data))}
	if len(data) > 0 {
		l.data = unsafe.Pointer(&data[0])
	}
	return *(*M)(unsafe.Pointer(&l))
}

// noCallback returns the NULL callback for the last parameter of fn.
func noCallback[A, B, Z any](fn func(A, B, Z)) Z {
	var z Z
	return z
}

func liveHandles() int {
	return int(async_nats_live_handle_count())
}

type fixture struct {
	rt    *runtime.Runtime
	conn  *runtime.Connection
	connH handles.Handle
}

// newFixture creates a runtime through the exports and a connection to a
// fresh in-memory broker, both registered in the handle table.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := async_nats_tokio_runtime_config_new()
	async_nats_tokio_runtime_config_thread_count(cfg, 2)
	rtH := async_nats_tokio_runtime_new(cfg)
	async_nats_tokio_runtime_config_delete(cfg)
	require.NotZero(t, rtH)
	t.Cleanup(func() { async_nats_tokio_runtime_delete(rtH) })

	rt := get[*runtime.Runtime](handles.KindRuntime, rtH)
	params := configpkg.NewConnectParams()
	params.AddAddr("memory://capi-" + strings.ToLower(idspkg.New()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	conn, err := runtime.Dial(ctx, rt.Handle(), params)
	require.NoError(t, err)
	connH := table.Put(handles.KindConnection, conn)
	t.Cleanup(func() { async_nats_connection_delete(handleFor(async_nats_connection_delete, connH)) })

	return &fixture{rt: rt, conn: conn, connH: connH}
}
