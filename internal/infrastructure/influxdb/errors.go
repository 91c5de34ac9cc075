package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrUnhealthy        = errors.New("influxdb: server reports unhealthy")
	ErrWriteFailed      = errors.New("influxdb: write failed")
	ErrClosed           = errors.New("influxdb: client closed")
)
