package dialer

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectFailed wraps transport failures: DNS lookups, refused or
	// timed out connects, and write errors. Unknown hosts can be told apart
	// with errors.As and *net.DNSError.
	ErrConnectFailed = errors.New("connect failed")

	// ErrUnsupportedAuthMethod is returned when a proxy demands an
	// authentication scheme other than Basic.
	ErrUnsupportedAuthMethod = errors.New("unsupported proxy authentication method")

	// ErrAuthenticationFailed is returned when a proxy rejects Basic credentials.
	ErrAuthenticationFailed = errors.New("proxy authentication failed")

	// ErrProtocol is returned when a proxy answers CONNECT with something
	// other than 200 or 407.
	ErrProtocol = errors.New("proxy protocol error")
)

// UnsupportedAuthMethodError carries the scheme a proxy asked for.
type UnsupportedAuthMethodError struct {
	Scheme string
}

func (e *UnsupportedAuthMethodError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedAuthMethod, e.Scheme)
}

func (e *UnsupportedAuthMethodError) Unwrap() error { return ErrUnsupportedAuthMethod }

// AuthenticationFailedError carries the status line of the rejected
// authenticated attempt.
type AuthenticationFailedError struct {
	Line string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrAuthenticationFailed, e.Line)
}

func (e *AuthenticationFailedError) Unwrap() error { return ErrAuthenticationFailed }

// ProtocolError carries the unexpected status line.
type ProtocolError struct {
	Line string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v: proxy does not support CONNECT or returned %q", ErrProtocol, e.Line)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
