package studentsync

import "errors"

var (
	// ErrDecode is the error for a malformed envelope or payload.
	ErrDecode = errors.New("decode error")

	// ErrUnknownClient is the error for a pull request from a client
	// that has not reported its filenames.
	ErrUnknownClient = errors.New("unknown client")

	// ErrUnknownMode is the error for an envelope whose mode is not recognized.
	ErrUnknownMode = errors.New("unknown mode")

	// ErrTransport is the error for a failure to send on the network.
	ErrTransport = errors.New("transport error")

	// ErrNotFound is the error returned when a Pool has no file by a given name.
	ErrNotFound = errors.New("not found")
)
