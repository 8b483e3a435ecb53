package reconcile

import (
	"errors"
	"fmt"
)

// ReconciliationError reports a pass aborted because the desired set could
// not be read. No sessions were created or removed.
type ReconciliationError struct {
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile: read desired set: %v", e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// ErrPassRunning is returned by RunOnce when a pass is already in progress.
var ErrPassRunning = errors.New("reconcile: pass already running")
