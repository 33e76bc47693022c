package sparkplug

import "errors"

// Domain-specific errors for protocol client operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a
	// disconnected client.
	ErrNotConnected = errors.New("sparkplug: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt
	// fails.
	ErrConnectionFailed = errors.New("sparkplug: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("sparkplug: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("sparkplug: subscribe failed")

	// ErrClosed is returned by Publish and Close once the client has
	// been closed.
	ErrClosed = errors.New("sparkplug: client closed")
)
