package push

import (
	"errors"
	"fmt"
)

// ErrCredentialStale signals that a stored forwarding token was minted from
// a different device identity. It never leaves the Manager; it triggers a
// fresh mint.
var ErrCredentialStale = errors.New("push: forwarding token minted from another device identity")

// ErrNoDeviceIdentity is returned when the device identity has not been
// ensured yet.
var ErrNoDeviceIdentity = errors.New("push: device identity not initialised")

// HTTPError is a non-2xx answer from the push backbone.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err wraps an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// RegistrationError reports a rejected registration step. It is returned to
// the caller and retried only when the caller asks again.
type RegistrationError struct {
	Op     string // "register", "mint" or "forward"
	UserID string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("push %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("push %s for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }
