package bus

import "errors"

var (
	// ErrClosed is returned when operating on a stopped bus.
	ErrClosed = errors.New("bus is closed")

	// ErrPublishFailed is returned when a message cannot be queued.
	ErrPublishFailed = errors.New("failed to publish message")

	// ErrInvalidConfiguration is returned for unusable bus configuration.
	ErrInvalidConfiguration = errors.New("invalid bus configuration")

	// ErrNotConnected is returned when a distributed backend is not connected.
	ErrNotConnected = errors.New("not connected to backend")

	// ErrAlreadyConnected is returned on duplicate Connect calls.
	ErrAlreadyConnected = errors.New("already connected to backend")
)
