package growcubeclient

import "errors"

// Domain-specific errors for Growcube client operations.
var (
	// ErrNotConnected is returned when sending without an open connection.
	ErrNotConnected = errors.New("growcube: client not connected")

	// ErrAlreadyConnected is returned by Connect on an open client.
	ErrAlreadyConnected = errors.New("growcube: client already connected")

	// ErrConnectionFailed is returned when the TCP connection cannot be opened.
	ErrConnectionFailed = errors.New("growcube: connection failed")

	// ErrInvalidChannel is returned for a channel outside A-D.
	ErrInvalidChannel = errors.New("growcube: invalid channel")

	// ErrMalformedFrame is returned when a frame cannot be parsed.
	ErrMalformedFrame = errors.New("growcube: malformed frame")

	// ErrWriteFailed is returned when a command cannot be written.
	ErrWriteFailed = errors.New("growcube: write failed")
)
