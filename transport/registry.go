package transport

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errpkg "github.com/drblury/asyncnats/internal/runtime/errors"
)

// DefaultScheme is assumed for addresses written as host:port.
const DefaultScheme = "nats"

// Registry maps transport names to builders and URL schemes to transport
// names. Transport packages register themselves from init.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
	schemes      map[string]string
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
		schemes:      make(map[string]string),
	}
}

// Register adds a builder that serves the scheme equal to its name.
func (r *Registry) Register(name string, builder Builder) {
	r.RegisterWithCapabilities(name, builder, Capabilities{Name: name})
}

// RegisterWithCapabilities adds a builder for every scheme in caps.Schemes,
// or for the scheme equal to name when caps lists none.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
	schemes := caps.Schemes
	if len(schemes) == 0 {
		schemes = []string{name}
	}
	for _, scheme := range schemes {
		r.schemes[strings.ToLower(scheme)] = name
	}
}

// GetCapabilities returns the capabilities for a registered transport.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Resolve parses addrs and returns the transport serving all of them along
// with the normalised server URLs.
func (r *Registry) Resolve(addrs []string) (string, []string, error) {
	if len(addrs) == 0 {
		return "", nil, errpkg.ErrNoServers
	}
	var name string
	servers := make([]string, 0, len(addrs))
	for _, raw := range addrs {
		u, err := ParseAddr(raw)
		if err != nil {
			return "", nil, err
		}
		r.mu.RLock()
		candidate, ok := r.schemes[u.Scheme]
		r.mu.RUnlock()
		if !ok {
			return "", nil, fmt.Errorf("%w: %q in %q (registered: %v)", errpkg.ErrUnknownScheme, u.Scheme, raw, r.Names())
		}
		if name != "" && candidate != name {
			return "", nil, fmt.Errorf("%w: %s and %s", errpkg.ErrMixedSchemes, name, candidate)
		}
		name = candidate
		servers = append(servers, u.String())
	}
	return name, servers, nil
}

// Build resolves opts.Servers and creates a client with the matching builder.
func (r *Registry) Build(ctx context.Context, opts Options, logger watermill.LoggerAdapter) (Client, Capabilities, error) {
	name, servers, err := r.Resolve(opts.Servers)
	if err != nil {
		return nil, Capabilities{}, err
	}

	r.mu.RLock()
	builder := r.builders[name]
	caps := r.capabilities[name]
	r.mu.RUnlock()

	if logger == nil {
		logger = watermill.NopLogger{}
	}
	opts.Servers = servers
	client, err := builder(ctx, opts, logger)
	if err != nil {
		return nil, caps, err
	}
	return client, caps, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Has returns true if a transport is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// ParseAddr parses a server address. Addresses without a scheme are taken
// as nats://host:port.
func ParseAddr(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty address", errpkg.ErrInvalidAddress)
	}
	if !strings.Contains(raw, "://") {
		raw = DefaultScheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", errpkg.ErrInvalidAddress, raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w %q: missing host", errpkg.ErrInvalidAddress, raw)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w %q: port out of range", errpkg.ErrInvalidAddress, raw)
		}
	}
	return u, nil
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a transport builder and its capabilities to
// the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a client using the default registry.
func Build(ctx context.Context, opts Options, logger watermill.LoggerAdapter) (Client, Capabilities, error) {
	return DefaultRegistry.Build(ctx, opts, logger)
}
