package errors

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	sterrors "errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/drblury/asyncnats/internal/runtime/refcount"
)

// ConnectErrorKind classifies why a connection attempt failed. The numeric
// values are part of the C ABI and must not be reordered.
type ConnectErrorKind int32

const (
	// ConnectServerAddressParse: a configured server address could not be parsed.
	ConnectServerAddressParse ConnectErrorKind = iota
	// ConnectDns: resolving a server host failed.
	ConnectDns
	// ConnectAuthentication: the authentication handshake failed.
	ConnectAuthentication
	// ConnectAuthorizationViolation: the server rejected the credentials.
	ConnectAuthorizationViolation
	// ConnectTimedOut: the attempt did not finish in time.
	ConnectTimedOut
	// ConnectTls: TLS setup or verification failed.
	ConnectTls
	// ConnectIo: any other I/O failure.
	ConnectIo
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectServerAddressParse:
		return "server_address_parse"
	case ConnectDns:
		return "dns"
	case ConnectAuthentication:
		return "authentication"
	case ConnectAuthorizationViolation:
		return "authorization_violation"
	case ConnectTimedOut:
		return "timed_out"
	case ConnectTls:
		return "tls"
	case ConnectIo:
		return "io"
	}
	return fmt.Sprintf("connect_error_kind(%d)", int32(k))
}

// RequestErrorKind classifies why a request failed. ABI stable.
type RequestErrorKind int32

const (
	// RequestTimedOut: responders exist but none answered in time.
	RequestTimedOut RequestErrorKind = iota
	// RequestNoResponders: nobody is listening on the request subject.
	RequestNoResponders
	// RequestOther: client or I/O related failures.
	RequestOther
)

func (k RequestErrorKind) String() string {
	switch k {
	case RequestTimedOut:
		return "timed_out"
	case RequestNoResponders:
		return "no_responders"
	case RequestOther:
		return "other"
	}
	return fmt.Sprintf("request_error_kind(%d)", int32(k))
}

// ClassifyConnect maps a connect failure onto a ConnectErrorKind.
func ClassifyConnect(err error) ConnectErrorKind {
	var (
		urlErr  *url.Error
		dnsErr  *net.DNSError
		netErr  net.Error
		hdrErr  tls.RecordHeaderError
		certErr *tls.CertificateVerificationError
		authErr x509.UnknownAuthorityError
		hostErr x509.HostnameError
		invErr  x509.CertificateInvalidError
	)
	var cfgErr ConfigValidationError
	switch {
	case sterrors.Is(err, ErrInvalidAddress), sterrors.Is(err, ErrUnknownScheme), sterrors.Is(err, ErrMixedSchemes),
		sterrors.Is(err, ErrNoServers), sterrors.As(err, &cfgErr):
		return ConnectServerAddressParse
	case sterrors.As(err, &urlErr) && urlErr.Op == "parse":
		return ConnectServerAddressParse
	case sterrors.As(err, &dnsErr):
		return ConnectDns
	case sterrors.Is(err, nats.ErrAuthorization):
		return ConnectAuthorizationViolation
	case sterrors.Is(err, nats.ErrAuthExpired), sterrors.Is(err, nats.ErrAuthRevoked):
		return ConnectAuthentication
	case sterrors.Is(err, nats.ErrSecureConnRequired), sterrors.Is(err, nats.ErrSecureConnWanted),
		sterrors.As(err, &hdrErr), sterrors.As(err, &certErr), sterrors.As(err, &authErr),
		sterrors.As(err, &hostErr), sterrors.As(err, &invErr):
		return ConnectTls
	case sterrors.Is(err, nats.ErrTimeout), sterrors.Is(err, context.DeadlineExceeded),
		sterrors.Is(err, os.ErrDeadlineExceeded):
		return ConnectTimedOut
	case sterrors.As(err, &netErr) && netErr.Timeout():
		return ConnectTimedOut
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "authentication") {
		return ConnectAuthentication
	}
	return ConnectIo
}

// ClassifyRequest maps a request failure onto a RequestErrorKind.
func ClassifyRequest(err error) RequestErrorKind {
	switch {
	case sterrors.Is(err, ErrNoResponders), sterrors.Is(err, nats.ErrNoResponders):
		return RequestNoResponders
	case sterrors.Is(err, ErrRequestTimeout), sterrors.Is(err, nats.ErrTimeout),
		sterrors.Is(err, context.DeadlineExceeded):
		return RequestTimedOut
	}
	return RequestOther
}

// ConnectError is the refcounted error object handed to the host when a
// connection attempt fails.
type ConnectError struct {
	rc   refcount.Counter
	kind ConnectErrorKind
	err  error
}

// NewConnectError classifies err and wraps it with a count of one.
func NewConnectError(err error) *ConnectError {
	e := &ConnectError{kind: ClassifyConnect(err), err: err}
	e.rc.Init()
	return e
}

func (e *ConnectError) Kind() ConnectErrorKind { return e.kind }
func (e *ConnectError) Error() string          { return e.err.Error() }
func (e *ConnectError) Unwrap() error          { return e.err }

// Description is the human-readable text shown to the host.
func (e *ConnectError) Description() string {
	return e.kind.String() + ": " + e.err.Error()
}

// Clone increments the reference count and returns e.
func (e *ConnectError) Clone() *ConnectError {
	e.rc.Acquire()
	return e
}

// Release decrements the reference count and reports whether it reached zero.
func (e *ConnectError) Release() bool {
	return e.rc.Release()
}

// IOKind returns the I/O kind of the cause when the error kind is Io.
func (e *ConnectError) IOKind() (IOErrorKind, bool) {
	if e.kind != ConnectIo {
		return IOOther, false
	}
	return IOKindOf(e.err), true
}

// OSCode returns the operating system error number behind an Io failure,
// when one exists.
func (e *ConnectError) OSCode() (int, bool) {
	if e.kind != ConnectIo {
		return 0, false
	}
	var errno syscall.Errno
	if sterrors.As(e.err, &errno) {
		return int(errno), true
	}
	if kind := IOKindOf(e.err); kind.Errno() != 0 {
		return int(kind.Errno()), true
	}
	return 0, false
}

// RequestError is the refcounted error object handed to the host when a
// request fails.
type RequestError struct {
	rc   refcount.Counter
	kind RequestErrorKind
	err  error
}

// NewRequestError classifies err and wraps it with a count of one.
func NewRequestError(err error) *RequestError {
	e := &RequestError{kind: ClassifyRequest(err), err: err}
	e.rc.Init()
	return e
}

func (e *RequestError) Kind() RequestErrorKind { return e.kind }
func (e *RequestError) Error() string          { return e.err.Error() }
func (e *RequestError) Unwrap() error          { return e.err }

// Description is the human-readable text shown to the host.
func (e *RequestError) Description() string {
	return e.kind.String() + ": " + e.err.Error()
}

// Clone increments the reference count and returns e.
func (e *RequestError) Clone() *RequestError {
	e.rc.Acquire()
	return e
}

// Release decrements the reference count and reports whether it reached zero.
func (e *RequestError) Release() bool {
	return e.rc.Release()
}

// IOErrorKind is a stable small-integer code for lower-level I/O failures,
// independent of the platform and of library upgrades.
type IOErrorKind int32

const (
	IONotFound IOErrorKind = iota
	IOPermissionDenied
	IOConnectionRefused
	IOConnectionReset
	IOConnectionAborted
	IONotConnected
	IOAddrInUse
	IOAddrNotAvailable
	IOBrokenPipe
	IOAlreadyExists
	IOWouldBlock
	IOInvalidInput
	IOInvalidData
	IOTimedOut
	IOWriteZero
	IOOther
)

var ioKindNames = [...]string{
	IONotFound:          "not_found",
	IOPermissionDenied:  "permission_denied",
	IOConnectionRefused: "connection_refused",
	IOConnectionReset:   "connection_reset",
	IOConnectionAborted: "connection_aborted",
	IONotConnected:      "not_connected",
	IOAddrInUse:         "addr_in_use",
	IOAddrNotAvailable:  "addr_not_available",
	IOBrokenPipe:        "broken_pipe",
	IOAlreadyExists:     "already_exists",
	IOWouldBlock:        "would_block",
	IOInvalidInput:      "invalid_input",
	IOInvalidData:       "invalid_data",
	IOTimedOut:          "timed_out",
	IOWriteZero:         "write_zero",
	IOOther:             "other",
}

func (k IOErrorKind) String() string {
	if k >= 0 && int(k) < len(ioKindNames) {
		return ioKindNames[k]
	}
	return fmt.Sprintf("io_error_kind(%d)", int32(k))
}

var ioErrnos = map[IOErrorKind]syscall.Errno{
	IONotFound:          syscall.ENOENT,
	IOPermissionDenied:  syscall.EACCES,
	IOConnectionRefused: syscall.ECONNREFUSED,
	IOConnectionReset:   syscall.ECONNRESET,
	IOConnectionAborted: syscall.ECONNABORTED,
	IONotConnected:      syscall.ENOTCONN,
	IOAddrInUse:         syscall.EADDRINUSE,
	IOAddrNotAvailable:  syscall.EADDRNOTAVAIL,
	IOBrokenPipe:        syscall.EPIPE,
	IOAlreadyExists:     syscall.EEXIST,
	IOWouldBlock:        syscall.EAGAIN,
	IOInvalidInput:      syscall.EINVAL,
	IOTimedOut:          syscall.ETIMEDOUT,
}

// Errno returns the representative OS error number for k, or zero when the
// kind has no OS counterpart.
func (k IOErrorKind) Errno() syscall.Errno {
	return ioErrnos[k]
}

// IOKindOf maps err onto an IOErrorKind.
func IOKindOf(err error) IOErrorKind {
	if err == nil {
		return IOOther
	}
	var errno syscall.Errno
	if sterrors.As(err, &errno) {
		switch errno {
		case syscall.EPERM:
			return IOPermissionDenied
		case syscall.EWOULDBLOCK:
			return IOWouldBlock
		}
		for kind, candidate := range ioErrnos {
			if candidate == errno {
				return kind
			}
		}
	}
	var netErr net.Error
	switch {
	case sterrors.Is(err, os.ErrNotExist):
		return IONotFound
	case sterrors.Is(err, os.ErrPermission):
		return IOPermissionDenied
	case sterrors.Is(err, os.ErrExist):
		return IOAlreadyExists
	case sterrors.Is(err, os.ErrDeadlineExceeded), sterrors.As(err, &netErr) && netErr.Timeout():
		return IOTimedOut
	case sterrors.Is(err, io.ErrShortWrite):
		return IOWriteZero
	case sterrors.Is(err, io.ErrUnexpectedEOF):
		return IOInvalidData
	case sterrors.Is(err, net.ErrClosed), sterrors.Is(err, nats.ErrConnectionClosed):
		return IONotConnected
	}
	return IOOther
}
