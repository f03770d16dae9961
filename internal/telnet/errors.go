package telnet

import "errors"

// ErrClosed is returned by Execute and Write once the telnet connection
// has been torn down.
var ErrClosed = errors.New("telnet: closed")
