package relay

import "errors"

var (
	ErrAlreadyConnected   = errors.New("already connected")
	ErrTooManyConnections = errors.New("too many connections")
	ErrShuttingDown       = errors.New("relay shutting down")
	ErrMissingField       = errors.New("missing required field")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
)

// Texts of error events sent back to clients.
const (
	invalidMessageText     = "Invalid message format"
	internalErrorText      = "Internal server error"
	unknownMessageTypeText = "Unknown message type: "
)
