package asyncnats

import (
	"context"

	runtimepkg "github.com/drblury/asyncnats/internal/runtime"
	configpkg "github.com/drblury/asyncnats/internal/runtime/config"
	errspkg "github.com/drblury/asyncnats/internal/runtime/errors"
	headerspkg "github.com/drblury/asyncnats/internal/runtime/headers"
	idspkg "github.com/drblury/asyncnats/internal/runtime/ids"
	jsoncodec "github.com/drblury/asyncnats/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/asyncnats/internal/runtime/logging"
	"github.com/drblury/asyncnats/transport"
)

type (
	Runtime        = runtimepkg.Runtime
	RuntimeOptions = runtimepkg.Options
	Handle         = runtimepkg.Handle
	Metrics        = runtimepkg.Metrics

	RuntimeConfig = configpkg.RuntimeConfig
	ConnectParams = configpkg.ConnectParams

	Connection        = runtimepkg.Connection
	Request           = runtimepkg.Request
	Subscription      = runtimepkg.Subscription
	SubscriptionState = runtimepkg.SubscriptionState
	CancellationToken = runtimepkg.CancellationToken
	NamedSender       = runtimepkg.NamedSender
	NamedReceiver     = runtimepkg.NamedReceiver
	Message           = runtimepkg.Message
	HeaderIterator    = runtimepkg.HeaderIterator
	Headers           = headerspkg.Headers

	ConnectError          = errspkg.ConnectError
	ConnectErrorKind      = errspkg.ConnectErrorKind
	RequestError          = errspkg.RequestError
	RequestErrorKind      = errspkg.RequestErrorKind
	IOErrorKind           = errspkg.IOErrorKind
	ConfigValidationError = errspkg.ConfigValidationError

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Transport extension points
	TransportClient       = transport.Client
	TransportSubscriber   = transport.Subscriber
	TransportBuilder      = transport.Builder
	TransportOptions      = transport.Options
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewRuntime             = runtimepkg.New
	NewRuntimeConfig       = configpkg.NewRuntimeConfig
	NewConnectParams       = configpkg.NewConnectParams
	RuntimeConfigFromJSON  = configpkg.RuntimeConfigFromJSON
	ConnectParamsFromJSON  = configpkg.ConnectParamsFromJSON
	Connect                = runtimepkg.Connect
	Dial                   = runtimepkg.Dial
	NewRequest             = runtimepkg.NewRequest
	NewNamedSender         = runtimepkg.NewNamedSender
	NewNamedReceiver       = runtimepkg.NewNamedReceiver
	NewMessage             = runtimepkg.NewMessage
	NewHeaders             = headerspkg.New
	ExtractTrace           = runtimepkg.ExtractTrace
	NewSlogServiceLogger   = loggingpkg.NewSlogServiceLogger
	NewTextLogger          = loggingpkg.NewTextLogger
	ClassifyConnectError   = errspkg.ClassifyConnect
	ClassifyRequestError   = errspkg.ClassifyRequest
	IOKindOf               = errspkg.IOKindOf
	NewID                  = idspkg.New
	Marshal                = jsoncodec.Marshal
	Unmarshal              = jsoncodec.Unmarshal
	RegisterTransport      = transport.RegisterWithCapabilities
	DefaultTransports      = transport.DefaultRegistry
	NewTransportRegistry   = transport.NewRegistry
	GetTransportCapability = transport.GetCapabilities

	ErrRuntimeClosed    = errspkg.ErrRuntimeClosed
	ErrConnectionClosed = errspkg.ErrConnectionClosed
	ErrNoServers        = errspkg.ErrNoServers
	ErrInvalidAddress   = errspkg.ErrInvalidAddress
	ErrUnknownScheme    = errspkg.ErrUnknownScheme
	ErrMixedSchemes     = errspkg.ErrMixedSchemes
	ErrTopicRequired    = errspkg.ErrTopicRequired
	ErrCapacityRequired = errspkg.ErrCapacityRequired
	ErrSenderClosed     = errspkg.ErrSenderClosed
	ErrNoResponders     = errspkg.ErrNoResponders
	ErrRequestTimeout   = errspkg.ErrRequestTimeout
)

const (
	SubscriptionActive        = runtimepkg.SubscriptionActive
	SubscriptionUnsubscribing = runtimepkg.SubscriptionUnsubscribing
	SubscriptionClosed        = runtimepkg.SubscriptionClosed

	ConnectServerAddressParse     = errspkg.ConnectServerAddressParse
	ConnectDns                    = errspkg.ConnectDns
	ConnectAuthentication         = errspkg.ConnectAuthentication
	ConnectAuthorizationViolation = errspkg.ConnectAuthorizationViolation
	ConnectTimedOut               = errspkg.ConnectTimedOut
	ConnectTls                    = errspkg.ConnectTls
	ConnectIo                     = errspkg.ConnectIo

	RequestTimedOut     = errspkg.RequestTimedOut
	RequestNoResponders = errspkg.RequestNoResponders
	RequestOther        = errspkg.RequestOther
)

// Complete runs op on a runtime task and passes its result to done from a
// callback slot.
func Complete[T any](h Handle, op func(ctx context.Context) (T, error), done func(T, error)) {
	runtimepkg.Complete(h, op, done)
}

// BlockOn runs op on a runtime task and blocks until it returns or ctx is
// done.
func BlockOn[T any](h Handle, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	return runtimepkg.BlockOn(h, ctx, op)
}
