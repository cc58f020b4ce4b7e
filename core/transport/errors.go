package transport

import "errors"

var (
	// Transport errors. ErrConnect is retried up to the send's retry budget.
	ErrConnect         = errors.New("connect failed")
	ErrResponseTimeout = errors.New("response timeout")
	ErrClientClosed    = errors.New("client closed")
	ErrServerClosed    = errors.New("server closed")
	ErrServerStarted   = errors.New("server already started")

	// Async correlation
	ErrNoPendingRequest = errors.New("no pending request")

	// Handler errors
	ErrNotSupported = errors.New("capability not supported by node context")
)
