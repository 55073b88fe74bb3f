package device

import "errors"

// Sentinels for errors.Is. Validation failures wrap one of them with
// the offending value.
var (
	ErrInvalidDevice     = errors.New("device: invalid")
	ErrInvalidName       = errors.New("device: invalid name")
	ErrInvalidDeviceType = errors.New("device: invalid type")
	ErrInvalidDomain     = errors.New("device: invalid domain")
	ErrInvalidProtocol   = errors.New("device: invalid protocol")
	ErrInvalidState      = errors.New("device: invalid state")
	ErrUnknownAttribute  = errors.New("device: unknown attribute")

	// ErrInvalidTopic marks a state message on a topic outside
	// graylogic/state/{protocol}/{device_id}.
	ErrInvalidTopic = errors.New("device: invalid state topic")
)
