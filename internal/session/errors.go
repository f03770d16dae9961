package session

import "errors"

// ErrBadMagic is returned from Run when the handshake response's magic
// does not match the expected literal. The session closes its socket.
var ErrBadMagic = errors.New("session: bad handshake magic")

// ErrUnknownRequestID is returned from Run when a response frame refers
// to a request_id not present in the active-requests table. The session
// is considered desynchronized and its socket is closed.
var ErrUnknownRequestID = errors.New("session: unknown request id in response")

// ErrNotStopped is returned by Continue, Step, Threads, StackTrace and
// GetVariables when issued while the device is running. No bytes are
// written to the wire.
var ErrNotStopped = errors.New("session: device is not stopped")

// ErrAlreadyStopped is returned by Pause when issued while the device is
// already stopped.
var ErrAlreadyStopped = errors.New("session: device is already stopped")

// ErrSessionClosed is returned by request methods once the session has
// been torn down (socket lost, bad magic, desync).
var ErrSessionClosed = errors.New("session: closed")

// ErrNoSuchRequest is returned by WaitForResponse when the request_id
// does not correspond to a currently pending request.
var ErrNoSuchRequest = errors.New("session: no such pending request")

// ErrInvalidStackFrame is returned by SetStackFrame when the index is out
// of range of the last StackTraceV3 response's frame count.
var ErrInvalidStackFrame = errors.New("session: stack frame index out of range")
