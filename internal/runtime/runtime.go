package runtime

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
	idspkg "github.com/drblury/asyncnats/internal/runtime/ids"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/transport"
)

const tracerName = "github.com/drblury/asyncnats"

// Options holds the optional collaborators of a Runtime. Leave fields nil to
// get the defaults.
type Options struct {
	// Logger replaces the slog text logger built from RuntimeConfig.LogLevel.
	Logger loggingpkg.ServiceLogger
	// Registry resolves server addresses to transports. Defaults to
	// transport.DefaultRegistry.
	Registry *transport.Registry
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Runtime owns the tasks of every component created from it. Tasks are
// goroutines tracked by a WaitGroup; host callbacks run in at most
// ThreadCount concurrent slots. Closing the runtime cancels every task.
type Runtime struct {
	id       string
	conf     configpkg.RuntimeConfig
	logger   loggingpkg.ServiceLogger
	registry *transport.Registry
	metrics  *Metrics
	tracer   trace.Tracer
	labels   pprof.LabelSet

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	tasks   sync.WaitGroup
	running atomic.Int64
	slots   *semaphore.Weighted
}

// New creates a runtime. A nil conf means defaults.
func New(conf *configpkg.RuntimeConfig, opts Options) (*Runtime, error) {
	if conf == nil {
		conf = configpkg.NewRuntimeConfig()
	}
	if err := conf.Validate(); err != nil {
		return nil, errpkg.ConfigValidationError{Err: err}
	}
	normalized := conf.WithDefaults()

	id := idspkg.New()
	logger := opts.Logger
	if logger == nil {
		level, _ := normalized.SlogLevel()
		logger = loggingpkg.NewTextLogger(nil, level)
	}
	logger = logger.With(loggingpkg.LogFields{"runtime": id, "pool": normalized.ThreadName})

	registry := opts.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	provider := opts.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		id:       id,
		conf:     normalized,
		logger:   logger,
		registry: registry,
		metrics:  NewMetrics(),
		tracer:   provider.Tracer(tracerName),
		labels:   pprof.Labels("pool", normalized.ThreadName, "runtime", id),
		ctx:      ctx,
		cancel:   cancel,
		slots:    semaphore.NewWeighted(int64(normalized.ThreadCount)),
	}
	logger.Debug("Runtime started", loggingpkg.LogFields{"threads": normalized.ThreadCount})
	return rt, nil
}

func (r *Runtime) ID() string                       { return r.id }
func (r *Runtime) Config() configpkg.RuntimeConfig  { return r.conf }
func (r *Runtime) Logger() loggingpkg.ServiceLogger { return r.logger }
func (r *Runtime) Metrics() *Metrics                { return r.metrics }
func (r *Runtime) Registry() *transport.Registry    { return r.registry }
func (r *Runtime) Handle() Handle                   { return Handle{rt: r} }

// MetricsText renders the runtime's metrics in the Prometheus text format.
func (r *Runtime) MetricsText() (string, error) {
	return r.metrics.Text()
}

// Closed reports whether Close was called.
func (r *Runtime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close cancels every outstanding task and waits up to the configured
// shutdown timeout for them to finish. Tasks complete their callbacks with
// cancellation errors. Calling Close again is a no-op.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.conf.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		r.logger.Debug("Runtime stopped", nil)
		return nil
	case <-timer.C:
		err := fmt.Errorf("runtime: %d task(s) still running after %s", r.running.Load(), r.conf.ShutdownTimeout)
		r.logger.Error("Runtime shutdown timed out", err, nil)
		return err
	}
}

// Handle is the scheduling reference components keep instead of the Runtime
// itself. The zero Handle is invalid.
type Handle struct {
	rt *Runtime
}

// Runtime returns the runtime behind the handle.
func (h Handle) Runtime() *Runtime { return h.rt }

// Context is cancelled when the runtime closes.
func (h Handle) Context() context.Context { return h.rt.ctx }

// Spawn runs fn on a new task. fn receives a context that is cancelled when
// the runtime closes. It returns ErrRuntimeClosed without running fn once
// the runtime is closed.
func (h Handle) Spawn(fn func(ctx context.Context)) error {
	r := h.rt
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errpkg.ErrRuntimeClosed
	}
	r.tasks.Add(1)
	r.mu.Unlock()

	r.running.Add(1)
	go func() {
		defer r.tasks.Done()
		defer r.running.Add(-1)
		pprof.Do(r.ctx, r.labels, fn)
	}()
	return nil
}

// Invoke runs a host callback inside one of the runtime's callback slots.
// Slots are acquired without the runtime context so completions of
// cancelled work are still delivered during shutdown.
func (h Handle) Invoke(callback func()) {
	_ = h.rt.slots.Acquire(context.Background(), 1)
	defer h.rt.slots.Release(1)
	callback()
}

// Complete runs op on a new task and hands its result to done from a
// callback slot. When the runtime is already closed, done receives the zero
// value and ErrRuntimeClosed on the calling goroutine.
func Complete[T any](h Handle, op func(ctx context.Context) (T, error), done func(T, error)) {
	err := h.Spawn(func(ctx context.Context) {
		v, err := op(ctx)
		h.Invoke(func() { done(v, err) })
	})
	if err != nil {
		var zero T
		done(zero, err)
	}
}

// BlockOn runs op on the calling goroutine with a context that is also
// cancelled when the runtime closes. This is the synchronous counterpart of
// Complete and must not be used from inside a callback slot.
func BlockOn[T any](h Handle, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if h.rt.Closed() {
		return zero, errpkg.ErrRuntimeClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.rt.ctx, cancel)
	defer stop()
	return op(ctx)
}
