// Package asyncnats exposes asynchronous NATS publish/subscribe messaging to
// hosts that cannot take part in Go's ownership or scheduling model. The same
// objects back the C shared library built from cmd/libasyncnats and can be
// used directly from Go.
//
// A Runtime owns every task the other components start. A Connection is a
// cloneable reference to one client session; the session stays open until
// every clone and every in-flight operation released it. From a connection
// you publish (fire-and-forget, or queued through a NamedSender with bounded
// permits), subscribe (a Subscription with a shared CancellationToken, or a
// NamedReceiver that buffers into a bounded queue you can poll) and issue
// requests (Request with optional inbox, timeout and headers).
//
// Asynchronous operations report through callbacks that run in at most
// RuntimeConfig.ThreadCount concurrent slots. Blocking variants take a
// context. Connect and request failures arrive as reference counted
// ConnectError and RequestError values with a stable Kind.
//
// # Transports
//
// Server addresses select the transport by URL scheme:
//   - nats, tls, ws, wss: NATS Core through github.com/nats-io/nats.go
//   - memory: an in-process broker for tests and examples
//
// Import github.com/drblury/asyncnats/transport/transports to register both.
//
// # Observability
//
// Every runtime has its own Prometheus registry (Runtime.MetricsText) and
// creates OpenTelemetry spans for connect, publish and request. Trace context
// is injected into outgoing headers through the global propagator.
//
// # Watermill
//
// The adapter/watermill package turns a Connection into a watermill
// message.Publisher and message.Subscriber.
package asyncnats
