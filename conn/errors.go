package conn

import (
	"errors"
	"fmt"
)

// AuthError reports a rejected authentication handshake. It is terminal
// for the process run: a bad token is a configuration problem that
// reconnecting cannot fix.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication rejected: %s", e.Reason)
}

// IsAuthError reports whether err is an authentication rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransportError reports an I/O failure on the transport. It is always
// recoverable: the manager reconnects with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
