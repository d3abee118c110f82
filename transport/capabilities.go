package transport

// Capabilities describes what a transport backend supports.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// Schemes lists the server address schemes the transport serves.
	Schemes []string

	// SupportsHeaders indicates messages may carry headers.
	SupportsHeaders bool

	// SupportsNoResponders indicates requests without listeners fail fast
	// with a 503 status reply instead of timing out.
	SupportsNoResponders bool

	// SupportsReconnect indicates the client reconnects transparently.
	SupportsReconnect bool

	// SupportsWildcards indicates subjects may use `*` and `>` tokens.
	SupportsWildcards bool

	// MaxPayload is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxPayload int64
}

// FailsFastWithoutResponders reports whether a request with no listener
// completes before its timeout.
func (c Capabilities) FailsFastWithoutResponders() bool {
	return c.SupportsNoResponders
}

// Predefined capability sets for the built-in transports.
var (
	// NATSCapabilities for NATS Core over TCP, TLS and websockets.
	NATSCapabilities = Capabilities{
		Name:                 "nats",
		Schemes:              []string{"nats", "tls", "ws", "wss"},
		SupportsHeaders:      true,
		SupportsNoResponders: true,
		SupportsReconnect:    true,
		SupportsWildcards:    true,
		MaxPayload:           1048576, // server default, negotiated per connection
	}

	// MemoryCapabilities for the in-process transport.
	MemoryCapabilities = Capabilities{
		Name:                 "memory",
		Schemes:              []string{"memory"},
		SupportsHeaders:      true,
		SupportsNoResponders: true,
		SupportsReconnect:    false,
		SupportsWildcards:    true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
