package errors

import sterrors "errors"

var (
	ErrRuntimeClosed    = sterrors.New("asyncnats: runtime is closed")
	ErrConnectionClosed = sterrors.New("asyncnats: connection is closed")
	ErrNoServers        = sterrors.New("asyncnats: no server addresses configured")
	ErrInvalidAddress   = sterrors.New("asyncnats: invalid server address")
	ErrUnknownScheme    = sterrors.New("asyncnats: no transport registered for address scheme")
	ErrMixedSchemes     = sterrors.New("asyncnats: server addresses use different transports")
	ErrTopicRequired    = sterrors.New("asyncnats: topic is required")
	ErrCapacityRequired = sterrors.New("asyncnats: capacity must be positive")
	ErrSenderClosed     = sterrors.New("asyncnats: named sender is closed")
	ErrNoResponders     = sterrors.New("asyncnats: no responders available for request")
	ErrRequestTimeout   = sterrors.New("asyncnats: request timed out")
)

// ConfigValidationError wraps configuration problems found by Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "asyncnats: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
