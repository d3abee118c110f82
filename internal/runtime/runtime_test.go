package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	idspkg "github.com/drblury/asyncnats/internal/runtime/ids"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/transport"
	"github.com/drblury/asyncnats/transport/memory"
)

const waitFor = 2 * time.Second

func newTestRuntime(t *testing.T, conf *configpkg.RuntimeConfig) *Runtime {
	t.Helper()
	reg := transport.NewRegistry()
	reg.RegisterWithCapabilities(memory.TransportName, memory.Build, memory.Capabilities())
	rt, err := New(conf, Options{Logger: loggingpkg.Nop(), Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

// newBus returns the address of a fresh in-memory broker and the broker.
func newBus(t *testing.T) (string, *memory.Broker) {
	t.Helper()
	name := "bus-" + strings.ToLower(idspkg.New())
	return "memory://" + name, memory.BrokerFor(name)
}

func dialTest(t *testing.T, rt *Runtime, addr string) *Connection {
	t.Helper()
	params := configpkg.NewConnectParams()
	params.AddAddr(addr)
	conn, err := Dial(context.Background(), rt.Handle(), params)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return conn
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := configpkg.NewRuntimeConfig()
	conf.SetThreadCount(-1)
	conf.SetLogLevel("loud")

	_, err := New(conf, Options{})
	var cfgErr errpkg.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "thread count")
	assert.Contains(t, err.Error(), "log level")
}

func TestNewAppliesDefaults(t *testing.T) {
	rt := newTestRuntime(t, &configpkg.RuntimeConfig{})
	conf := rt.Config()
	assert.Positive(t, conf.ThreadCount)
	assert.Equal(t, configpkg.DefaultThreadName, conf.ThreadName)
	assert.Equal(t, configpkg.DefaultShutdownTimeout, conf.ShutdownTimeout)
	assert.Len(t, rt.ID(), 26)
}

func TestCompleteDeliversResultFromSlot(t *testing.T) {
	rt := newTestRuntime(t, nil)

	got := make(chan string, 1)
	Complete(rt.Handle(), func(ctx context.Context) (string, error) {
		return "done", nil
	}, func(v string, err error) {
		assert.NoError(t, err)
		got <- v
	})

	select {
	case v := <-got:
		assert.Equal(t, "done", v)
	case <-time.After(waitFor):
		t.Fatal("callback not invoked")
	}
}

func TestCallbacksRespectThreadCount(t *testing.T) {
	conf := configpkg.NewRuntimeConfig()
	conf.SetThreadCount(2)
	rt := newTestRuntime(t, conf)

	var running, peak atomic.Int32
	finished := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		Complete(rt.Handle(), func(context.Context) (int, error) { return i, nil }, func(int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			finished <- struct{}{}
		})
	}
	for i := 0; i < 8; i++ {
		<-finished
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestClosedRuntimeRejectsWork(t *testing.T) {
	rt := newTestRuntime(t, nil)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	assert.True(t, rt.Closed())

	assert.ErrorIs(t, rt.Handle().Spawn(func(context.Context) {}), errpkg.ErrRuntimeClosed)

	called := false
	Complete(rt.Handle(), func(context.Context) (int, error) {
		t.Fatal("op must not run")
		return 0, nil
	}, func(_ int, err error) {
		called = true
		assert.ErrorIs(t, err, errpkg.ErrRuntimeClosed)
	})
	assert.True(t, called, "done must run synchronously on a closed runtime")

	_, err := BlockOn(rt.Handle(), context.Background(), func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, errpkg.ErrRuntimeClosed)
}

func TestCloseCancelsOutstandingTasks(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	rt, err := New(nil, Options{Logger: loggingpkg.Nop()})
	require.NoError(t, err)

	got := make(chan error, 1)
	Complete(rt.Handle(), func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	}, func(_ struct{}, err error) {
		got <- err
	})

	blocked := make(chan error, 1)
	entered := make(chan struct{})
	go func() {
		_, err := BlockOn(rt.Handle(), context.Background(), func(ctx context.Context) (int, error) {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		blocked <- err
	}()
	<-entered

	require.NoError(t, rt.Close())
	assert.ErrorIs(t, <-got, context.Canceled)
	assert.ErrorIs(t, <-blocked, context.Canceled)
	goleak.VerifyNone(t, ignore)
}

func TestCloseTimesOutOnStuckTask(t *testing.T) {
	conf := configpkg.NewRuntimeConfig()
	conf.ShutdownTimeout = 20 * time.Millisecond
	rt, err := New(conf, Options{Logger: loggingpkg.Nop()})
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, rt.Handle().Spawn(func(context.Context) { <-release }))

	err = rt.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 task(s) still running")
}

func TestBlockOnHonoursCallerContext(t *testing.T) {
	rt := newTestRuntime(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BlockOn(rt.Handle(), ctx, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMetricsTextRendersLiveObjects(t *testing.T) {
	rt := newTestRuntime(t, nil)
	addr, _ := newBus(t)
	conn := dialTest(t, rt, addr)
	clone := conn.Clone()

	text, err := rt.MetricsText()
	require.NoError(t, err)
	assert.Contains(t, text, `asyncnats_live_objects{kind="connection"} 2`)

	clone.Close()
	clone.Close()
	text, err = rt.MetricsText()
	require.NoError(t, err)
	assert.Contains(t, text, `asyncnats_live_objects{kind="connection"} 1`)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	rt := newTestRuntime(t, nil)
	addr, _ := newBus(t)
	dialTest(t, rt, addr)

	rec := httptest.NewRecorder()
	rt.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `asyncnats_live_objects{kind="connection"} 1`)
}
