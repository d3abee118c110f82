/*
Package runtime provides the core of the asyncnats bridge.

# Architecture Overview

Every object the host can hold is created from a Runtime. The runtime owns a
set of tasks (goroutines tracked by a WaitGroup) and a fixed number of
callback slots; callbacks handed in by the host always run inside a slot, so
at most ThreadCount of them execute concurrently. Components keep a Handle,
the scheduling reference, instead of the Runtime itself.

# Package Structure

## Runtime (runtime.go)

Runtime, Handle and the two execution helpers:
  - Complete: run an operation on a task and deliver its result to a callback
  - BlockOn: run an operation on the calling goroutine, cancelled when the
    runtime closes

## Connection (connection.go, request.go)

A cloneable handle on a client session. The session is shared through a
reference counted transport.Client and closed after the last release.
Publishes copy their payload before returning and never report failures to
the host; they are logged and counted instead. Requests report a
RequestError classified as TimedOut, NoResponders or Other.

## Subscription (subscription.go)

Active -> Unsubscribing -> Closed. Pop prefers a waiting message over a
pending shutdown signal. CancellationToken clones share one signal.

## Named sender and receiver (named_sender.go, named_receiver.go)

NamedSender drains an unbounded FIFO through one background task and bounds
TrySend with semaphore permits. NamedReceiver feeds a subscription into a
bounded queue that drops on overflow.

## Messages (message.go)

Reference counted, immutable messages with an ordered multi-value header map
and separately counted header iterators.

## Observability (metrics.go, tracing.go)

Prometheus collectors in a registry owned by the runtime, rendered as text or
served through Metrics.Handler, and OpenTelemetry client spans whose context
travels in message headers.

# Sub-packages

  - buffer/: borrowed, owned and async byte buffers
  - config/: runtime and connect configuration
  - errors/: sentinels, connect/request error objects, I/O error kinds
  - handles/: opaque handle table for the C surface
  - headers/: ordered multi-value headers
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and adapters
  - refcount/: atomic reference counting

# Usage Example

	rt, _ := runtime.New(nil, runtime.Options{})
	defer rt.Close()

	params := config.NewConnectParams()
	params.AddAddr("nats://localhost:4222")
	conn, err := runtime.Dial(ctx, rt.Handle(), params)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, _ := conn.Subscribe(ctx, "orders.created")
	conn.PublishAsync("orders.created", []byte("hello"), nil)
	msg := sub.Recv(ctx)
	defer msg.Release()
*/
package runtime
