package session

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/emersion/go-imap/client"
)

// ErrClosed is returned for commands issued on a session whose connection is gone.
var ErrClosed = errors.New("session closed")

// ConnectError is a network, DNS or timeout failure while reaching the server.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is a rejected login.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login as %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is a failed command on an open session. Disconnected is set
// when the underlying connection is known to be gone.
type ProtocolError struct {
	Op           string
	Err          error
	Disconnected bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsDisconnect reports whether err means the session can no longer be used.
func IsDisconnect(err error) bool {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Disconnected
	}
	return errors.Is(err, ErrClosed) || isNetworkError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, client.ErrAlreadyLoggedOut)
}
