package influxdb

import "errors"

// Sentinel errors, matched with errors.Is. Asynchronous write failures
// are not wrapped in these; they reach the SetOnError callback as the
// client library reports them.
var (
	// ErrNotConnected is returned by HealthCheck after Close or when
	// the mirror never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps a failed startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the mirror is turned off in config.yaml.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
