package rustplus

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for requests issued on, or pending when, a closed connection.
var ErrClosed = errors.New("rustplus: connection closed")

// TransportError is a connect or decode failure on a remote session.
type TransportError struct {
	Op      string // "connect", "write", "read" or "decode"
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rustplus: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsDecode reports whether err is a frame decode failure.
func IsDecode(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Op == "decode"
}
